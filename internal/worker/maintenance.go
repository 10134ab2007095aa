package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/phrazzld/crate-api/internal/domain"
	"github.com/phrazzld/crate-api/internal/platform/metrics"
	"github.com/phrazzld/crate-api/internal/store"
)

// MaintenanceConfig holds the scheduled housekeeping settings.
type MaintenanceConfig struct {
	// RetentionDays is how long terminal tasks are kept before purge.
	RetentionDays int

	// PurgeSchedule is the cron expression for the terminal-task purge.
	PurgeSchedule string

	// StatsSchedule is the cron expression for the queue depth refresh.
	StatsSchedule string
}

// Maintenance runs the scheduled housekeeping jobs: purging old
// terminal tasks and refreshing the queue depth gauges.
type Maintenance struct {
	store   store.TaskStore
	cfg     MaintenanceConfig
	clock   Clock
	metrics *metrics.Metrics
	logger  *slog.Logger
	cron    *cron.Cron
}

// NewMaintenance creates the maintenance scheduler. Jobs are registered
// but do not run until Start is called.
func NewMaintenance(
	taskStore store.TaskStore,
	cfg MaintenanceConfig,
	clock Clock,
	m *metrics.Metrics,
	logger *slog.Logger,
) (*Maintenance, error) {
	mt := &Maintenance{
		store:   taskStore,
		cfg:     cfg,
		clock:   clock,
		metrics: m,
		logger:  logger.With("component", "maintenance"),
		cron:    cron.New(),
	}

	if _, err := mt.cron.AddFunc(cfg.PurgeSchedule, mt.purge); err != nil {
		return nil, err
	}
	if _, err := mt.cron.AddFunc(cfg.StatsSchedule, mt.refreshStats); err != nil {
		return nil, err
	}

	return mt, nil
}

// Start begins running the scheduled jobs and takes an immediate stats
// snapshot so the gauges are populated before the first tick.
func (mt *Maintenance) Start() {
	mt.refreshStats()
	mt.cron.Start()
	mt.logger.Info("maintenance scheduler started",
		"purge_schedule", mt.cfg.PurgeSchedule,
		"stats_schedule", mt.cfg.StatsSchedule,
		"retention_days", mt.cfg.RetentionDays)
}

// Stop halts the scheduler and waits for any running job to finish.
func (mt *Maintenance) Stop() {
	ctx := mt.cron.Stop()
	<-ctx.Done()
	mt.logger.Info("maintenance scheduler stopped")
}

func (mt *Maintenance) purge() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	cutoff := mt.clock.Now().AddDate(0, 0, -mt.cfg.RetentionDays)
	count, err := mt.store.DeleteTerminalBefore(ctx, cutoff)
	if err != nil {
		mt.logger.Error("terminal task purge failed", "error", err)
		return
	}
	if count > 0 {
		mt.logger.Info("purged terminal tasks", "count", count, "cutoff", cutoff)
	}
}

func (mt *Maintenance) refreshStats() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	counts, err := mt.store.CountByStatus(ctx)
	if err != nil {
		mt.logger.Error("queue depth refresh failed", "error", err)
		return
	}

	// Statuses absent from the result still get an explicit zero so
	// the gauge drops after the last task of a status is purged.
	for _, status := range domain.AllTaskStatuses() {
		mt.metrics.QueueDepth.WithLabelValues(string(status)).Set(float64(counts[status]))
	}
}
