package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Load reads configuration from environment variables and an optional
// config file. Environment variables (prefix CRATE_, nested keys joined
// with underscores, e.g. CRATE_WORKER_COUNT) take precedence over values
// from the config file. Returns a populated Config struct or an error if
// loading or validation fails.
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("CRATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// The config file is optional; env vars alone are a valid setup.
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks structural constraints and the cross-field relations
// the worker protocol depends on.
func Validate(cfg *Config) error {
	validate := validator.New()
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	// A heartbeat slower than half the stale threshold would let a
	// healthy worker's lease look abandoned between beats.
	if cfg.Worker.HeartbeatInterval() >= cfg.Worker.StaleThreshold()/2 {
		return fmt.Errorf(
			"config validation failed: heartbeat interval (%s) must be less than half the stale threshold (%s)",
			cfg.Worker.HeartbeatInterval(),
			cfg.Worker.StaleThreshold(),
		)
	}

	if cfg.Worker.BackoffBase() > cfg.Worker.BackoffCap() {
		return fmt.Errorf(
			"config validation failed: backoff base (%s) exceeds backoff cap (%s)",
			cfg.Worker.BackoffBase(),
			cfg.Worker.BackoffCap(),
		)
	}

	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.log_level", "info")

	// Viper only consults the environment for keys it knows about, so
	// required values without a meaningful default are registered empty
	// and validation rejects them when still unset.
	v.SetDefault("database.url", "")

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.operator_username", "")
	v.SetDefault("auth.operator_password_hash", "")
	v.SetDefault("auth.token_lifetime_minutes", 60)

	v.SetDefault("provider.client_id", "")
	v.SetDefault("provider.client_secret", "")
	v.SetDefault("provider.library_path", "")
	v.SetDefault("provider.base_url", "")
	v.SetDefault("provider.token_url", "")

	v.SetDefault("worker.count", 4)
	v.SetDefault("worker.poll_interval_seconds", 5)
	v.SetDefault("worker.heartbeat_interval_seconds", 15)
	v.SetDefault("worker.stale_threshold_seconds", 120)
	v.SetDefault("worker.max_attempts", 3)
	v.SetDefault("worker.backoff_base_seconds", 3)
	v.SetDefault("worker.backoff_cap_seconds", 300)
	v.SetDefault("worker.reclaim_interval_seconds", 60)
	v.SetDefault("worker.shutdown_grace_seconds", 30)

	v.SetDefault("maintenance.retention_days", 30)
	v.SetDefault("maintenance.purge_schedule", "0 3 * * *")
	v.SetDefault("maintenance.stats_schedule", "@every 15m")
}
