package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/phrazzld/crate-api/internal/config"
	"github.com/phrazzld/crate-api/internal/fetcher"
	"github.com/phrazzld/crate-api/internal/platform/metrics"
	"github.com/phrazzld/crate-api/internal/platform/postgres"
	"github.com/phrazzld/crate-api/internal/platform/spotify"
	"github.com/phrazzld/crate-api/internal/service"
	"github.com/phrazzld/crate-api/internal/service/auth"
	"github.com/phrazzld/crate-api/internal/store"
	"github.com/phrazzld/crate-api/internal/worker"
)

// application holds all the shared application dependencies to simplify
// management and ensure proper cleanup on shutdown.
type application struct {
	config *config.Config
	logger *slog.Logger
	db     *sql.DB

	registry *prometheus.Registry
	metrics  *metrics.Metrics

	taskStore store.TaskStore

	jwtService       auth.JWTService
	passwordVerifier auth.PasswordVerifier
	downloadService  *service.DownloadService

	manager     *worker.Manager
	maintenance *worker.Maintenance
}

// newApplication creates a new application instance with all
// dependencies initialized. It accepts the core dependencies that must
// be established before application wiring.
func newApplication(cfg *config.Config, logger *slog.Logger, db *sql.DB) (*application, error) {
	app := &application{
		config:   cfg,
		logger:   logger,
		db:       db,
		registry: prometheus.NewRegistry(),
	}
	app.metrics = metrics.New(app.registry)

	var err error
	app.jwtService, err = auth.NewJWTService(cfg.Auth)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize JWT service: %w", err)
	}
	logger.Info("JWT authentication service initialized",
		"token_lifetime_minutes", cfg.Auth.TokenLifetimeMinutes)

	app.passwordVerifier = auth.NewBcryptVerifier()

	policy := store.LeasePolicy{
		StaleThreshold: cfg.Worker.StaleThreshold(),
		BackoffBase:    cfg.Worker.BackoffBase(),
		BackoffCap:     cfg.Worker.BackoffCap(),
	}
	app.taskStore = postgres.NewPostgresTaskStore(db, policy)

	downloader, err := spotify.NewDownloader(
		logger.With("component", "downloader"),
		cfg.Provider,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize downloader: %w", err)
	}

	app.downloadService = service.NewDownloadService(
		app.taskStore,
		cfg.Worker.MaxAttempts,
		app.metrics,
		logger,
	)

	// Quick in-process retries absorb short provider hiccups; anything
	// longer goes back through the queue's attempt budget and backoff.
	fetch := fetcher.WithRetry(downloader, 2, 5*time.Second)

	app.manager = worker.NewManager(
		app.taskStore,
		fetch,
		worker.ManagerConfig{
			WorkerCount: cfg.Worker.Count,
			Worker: worker.Config{
				PollInterval:      cfg.Worker.PollInterval(),
				HeartbeatInterval: cfg.Worker.HeartbeatInterval(),
			},
			ReclaimInterval: cfg.Worker.ReclaimInterval(),
			ShutdownGrace:   cfg.Worker.ShutdownGrace(),
		},
		worker.RealClock{},
		app.metrics,
		logger,
	)

	app.maintenance, err = worker.NewMaintenance(
		app.taskStore,
		worker.MaintenanceConfig{
			RetentionDays: cfg.Maintenance.RetentionDays,
			PurgeSchedule: cfg.Maintenance.PurgeSchedule,
			StatsSchedule: cfg.Maintenance.StatsSchedule,
		},
		worker.RealClock{},
		app.metrics,
		logger,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize maintenance scheduler: %w", err)
	}

	logger.Info("application initialized successfully")
	return app, nil
}

// Run starts the worker pool, the maintenance scheduler, and the HTTP
// server, then blocks until shutdown completes.
func (app *application) Run(ctx context.Context) error {
	app.manager.Start()
	app.maintenance.Start()

	router := app.setupRouter()
	if err := app.startHTTPServer(ctx, router); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// cleanup handles graceful shutdown of application resources. Workers
// are stopped before the database connection closes so in-flight tasks
// can still report their outcomes.
func (app *application) cleanup() {
	if app.maintenance != nil {
		app.maintenance.Stop()
	}
	if app.manager != nil {
		app.manager.Stop()
	}
	if app.db != nil {
		if err := app.db.Close(); err != nil {
			app.logger.Error("error closing database connection", "error", err)
		}
	}
	app.logger.Info("application shutdown completed")
}
