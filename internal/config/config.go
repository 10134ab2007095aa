package config

import "time"

// Config holds all application configuration.
// It organizes settings into logical groups and is constructed once at
// startup and passed explicitly to every component that needs it.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"      validate:"required"`
	Database    DatabaseConfig    `mapstructure:"database"    validate:"required"`
	Auth        AuthConfig        `mapstructure:"auth"        validate:"required"`
	Worker      WorkerConfig      `mapstructure:"worker"      validate:"required"`
	Provider    ProviderConfig    `mapstructure:"provider"    validate:"required"`
	Maintenance MaintenanceConfig `mapstructure:"maintenance" validate:"required"`
}

// ServerConfig contains all HTTP server related configuration settings.
type ServerConfig struct {
	Port     int    `mapstructure:"port"      validate:"required,gt=0,lt=65536"`
	LogLevel string `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
}

// DatabaseConfig contains all database-related configuration settings.
type DatabaseConfig struct {
	URL string `mapstructure:"url" validate:"required"`
}

// AuthConfig contains the settings for the submission API's bearer auth.
// A single operator credential is configured directly; there is no user
// management in this service.
type AuthConfig struct {
	JWTSecret            string `mapstructure:"jwt_secret"             validate:"required,min=32"`
	TokenLifetimeMinutes int    `mapstructure:"token_lifetime_minutes" validate:"required,gt=0"`
	OperatorUsername     string `mapstructure:"operator_username"      validate:"required"`
	OperatorPasswordHash string `mapstructure:"operator_password_hash" validate:"required"`
}

// WorkerConfig contains the worker pool and lease protocol tunables.
type WorkerConfig struct {
	// Count is the number of download workers to run.
	Count int `mapstructure:"count" validate:"required,gt=0"`

	// PollIntervalSeconds is how long an idle worker sleeps between
	// lease attempts when the queue is empty.
	PollIntervalSeconds int `mapstructure:"poll_interval_seconds" validate:"required,gt=0"`

	// HeartbeatIntervalSeconds is how often a busy worker refreshes its
	// lease. Must be well under half the stale threshold so a healthy
	// worker can never look abandoned.
	HeartbeatIntervalSeconds int `mapstructure:"heartbeat_interval_seconds" validate:"required,gt=0"`

	// StaleThresholdSeconds is the maximum heartbeat silence before a
	// lease is considered abandoned.
	StaleThresholdSeconds int `mapstructure:"stale_threshold_seconds" validate:"required,gt=0"`

	// MaxAttempts bounds how many times a task may be leased before a
	// transient failure becomes terminal.
	MaxAttempts int `mapstructure:"max_attempts" validate:"required,gt=0"`

	// BackoffBaseSeconds and BackoffCapSeconds bound the exponential
	// retry delay for requeued tasks.
	BackoffBaseSeconds int `mapstructure:"backoff_base_seconds" validate:"required,gt=0"`
	BackoffCapSeconds  int `mapstructure:"backoff_cap_seconds"  validate:"required,gt=0"`

	// ReclaimIntervalSeconds is how often the manager sweeps for
	// orphaned leases.
	ReclaimIntervalSeconds int `mapstructure:"reclaim_interval_seconds" validate:"required,gt=0"`

	// ShutdownGraceSeconds is how long shutdown waits for in-flight
	// tasks to finish before forcing termination.
	ShutdownGraceSeconds int `mapstructure:"shutdown_grace_seconds" validate:"required,gt=0"`
}

// PollInterval returns the idle poll interval as a duration.
func (c WorkerConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

// HeartbeatInterval returns the heartbeat interval as a duration.
func (c WorkerConfig) HeartbeatInterval() time.Duration {
	return time.Duration(c.HeartbeatIntervalSeconds) * time.Second
}

// StaleThreshold returns the lease stale threshold as a duration.
func (c WorkerConfig) StaleThreshold() time.Duration {
	return time.Duration(c.StaleThresholdSeconds) * time.Second
}

// BackoffBase returns the retry backoff base as a duration.
func (c WorkerConfig) BackoffBase() time.Duration {
	return time.Duration(c.BackoffBaseSeconds) * time.Second
}

// BackoffCap returns the retry backoff cap as a duration.
func (c WorkerConfig) BackoffCap() time.Duration {
	return time.Duration(c.BackoffCapSeconds) * time.Second
}

// ReclaimInterval returns the reclaim sweep interval as a duration.
func (c WorkerConfig) ReclaimInterval() time.Duration {
	return time.Duration(c.ReclaimIntervalSeconds) * time.Second
}

// ShutdownGrace returns the shutdown grace window as a duration.
func (c WorkerConfig) ShutdownGrace() time.Duration {
	return time.Duration(c.ShutdownGraceSeconds) * time.Second
}

// ProviderConfig contains the music catalog provider settings and the
// library destination for downloaded audio.
type ProviderConfig struct {
	ClientID     string `mapstructure:"client_id"     validate:"required"`
	ClientSecret string `mapstructure:"client_secret" validate:"required"`
	LibraryPath  string `mapstructure:"library_path"  validate:"required"`

	// BaseURL and TokenURL override the provider endpoints, mainly for
	// tests. Empty values use the provider defaults.
	BaseURL  string `mapstructure:"base_url"`
	TokenURL string `mapstructure:"token_url"`
}

// MaintenanceConfig contains the scheduled maintenance settings.
type MaintenanceConfig struct {
	// RetentionDays is how long terminal tasks are kept for audit
	// before the purge job removes them.
	RetentionDays int `mapstructure:"retention_days" validate:"required,gt=0"`

	// PurgeSchedule and StatsSchedule are cron expressions for the
	// maintenance jobs.
	PurgeSchedule string `mapstructure:"purge_schedule" validate:"required"`
	StatsSchedule string `mapstructure:"stats_schedule" validate:"required"`
}
