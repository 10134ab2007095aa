package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/crate-api/internal/domain"
	"github.com/phrazzld/crate-api/internal/fetcher"
	"github.com/phrazzld/crate-api/internal/platform/metrics"
	"github.com/phrazzld/crate-api/internal/store"
)

// Config holds the per-worker loop tunables.
type Config struct {
	// PollInterval is how long the worker sleeps between lease attempts
	// when no task is available. It also paces retries after store
	// errors, which are infrastructure failures distinct from task
	// failures.
	PollInterval time.Duration

	// HeartbeatInterval is how often the worker refreshes its lease
	// while a fetch is in flight. Must be well under half the store's
	// stale threshold.
	HeartbeatInterval time.Duration
}

// Worker runs the lease loop: claim a task, execute the fetch while a
// concurrent heartbeat emitter keeps the lease alive, then report the
// outcome. The worker shares no task state with its siblings; every
// coordination point goes through the store's conditional updates.
type Worker struct {
	id      string
	store   store.TaskStore
	fetch   fetcher.Fetcher
	cfg     Config
	clock   Clock
	metrics *metrics.Metrics
	logger  *slog.Logger

	// hardCtx bounds in-flight fetches. The manager cancels it on
	// forced shutdown; a soft stop only cancels the Run context and
	// lets the current fetch finish.
	hardCtx context.Context

	lastActive atomic.Int64
}

// NewWorker creates a worker with the given identity. hardCtx bounds
// in-flight task execution independently of the Run context.
func NewWorker(
	id string,
	hardCtx context.Context,
	taskStore store.TaskStore,
	fetch fetcher.Fetcher,
	cfg Config,
	clock Clock,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Worker {
	w := &Worker{
		id:      id,
		store:   taskStore,
		fetch:   fetch,
		cfg:     cfg,
		clock:   clock,
		metrics: m,
		logger:  logger.With("worker_id", id),
		hardCtx: hardCtx,
	}
	w.touch()
	return w
}

// ID returns the worker's lease identity.
func (w *Worker) ID() string {
	return w.id
}

// LastActive returns the last instant the worker made loop progress
// (a lease attempt or a heartbeat tick). The manager uses it to detect
// wedged workers.
func (w *Worker) LastActive() time.Time {
	return time.Unix(0, w.lastActive.Load()).UTC()
}

func (w *Worker) touch() {
	w.lastActive.Store(w.clock.Now().UnixNano())
}

// Run processes tasks until ctx is cancelled. Cancelling ctx stops new
// leases but does not interrupt an in-flight fetch; only the hard
// context does that.
func (w *Worker) Run(ctx context.Context) {
	w.logger.Info("download worker started")

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("download worker stopped")
			return
		default:
		}

		w.touch()

		task, err := w.store.Lease(ctx, w.id, w.clock.Now())
		if err != nil {
			if errors.Is(err, store.ErrNoTaskAvailable) {
				w.sleep(ctx, w.cfg.PollInterval)
				continue
			}
			if ctx.Err() != nil {
				continue
			}
			// Store unavailability is loud but never loop-fatal.
			w.logger.Error("lease attempt failed", "error", err)
			w.sleep(ctx, w.cfg.PollInterval)
			continue
		}

		w.metrics.TasksLeased.Inc()
		w.processTask(task)
	}
}

// processTask executes one leased task: a heartbeat emitter runs
// concurrently with the fetch so a slow download never lets the lease
// go stale, and a heartbeat that no longer applies preempts the fetch.
func (w *Worker) processTask(task *domain.DownloadTask) {
	logger := w.logger.With(
		"task_id", task.ID,
		"task_type", task.Payload.TaskType,
		"entity_id", task.Payload.EntityID,
		"attempt", task.AttemptCount,
	)
	logger.Info("processing download task")

	execCtx, cancelExec := context.WithCancel(w.hardCtx)
	defer cancelExec()

	var preempted atomic.Bool
	var hbWG sync.WaitGroup
	hbWG.Add(1)
	go func() {
		defer hbWG.Done()
		w.emitHeartbeats(execCtx, cancelExec, task.ID, &preempted, logger)
	}()

	report := func(p domain.Progress) {
		if err := w.store.UpdateProgress(execCtx, task.ID, p, w.clock.Now()); err != nil {
			logger.Debug("progress update failed", "error", err)
		}
	}

	result, fetchErr := w.fetch.Fetch(execCtx, task.Payload, report)

	cancelExec()
	hbWG.Wait()

	if preempted.Load() {
		// The lease was reclaimed mid-execution; the task belongs to
		// someone else now. Discard whatever the fetch produced.
		w.metrics.LeasesLost.Inc()
		logger.Warn("lease reclaimed during execution, abandoning task")
		return
	}

	reportCtx, cancelReport := context.WithTimeout(w.hardCtx, 10*time.Second)
	defer cancelReport()

	if fetchErr == nil {
		applied, err := w.store.Complete(reportCtx, task.ID, w.id, result, w.clock.Now())
		if err != nil {
			logger.Error("failed to record task completion", "error", err)
			return
		}
		if !applied {
			w.metrics.LeasesLost.Inc()
			logger.Warn("lease lost before completion, result discarded")
			return
		}
		w.metrics.TasksCompleted.Inc()
		logger.Info("download task completed")
		return
	}

	permanent := fetcher.IsPermanent(fetchErr)
	kind := metrics.FailureKindTransient
	if permanent {
		kind = metrics.FailureKindPermanent
	}

	applied, err := w.store.Fail(reportCtx, task.ID, w.id, fetchErr.Error(), permanent, w.clock.Now())
	if err != nil {
		logger.Error("failed to record task failure", "error", err)
		return
	}
	if !applied {
		w.metrics.LeasesLost.Inc()
		logger.Warn("lease lost before failure report")
		return
	}

	w.metrics.TasksFailed.WithLabelValues(kind).Inc()
	logger.Error("download task attempt failed",
		"error", fetchErr,
		"permanent", permanent)
}

// emitHeartbeats refreshes the lease every HeartbeatInterval until
// execCtx is cancelled. A heartbeat that does not apply means the lease
// was reclaimed: the emitter flags the preemption and cancels the fetch.
func (w *Worker) emitHeartbeats(
	execCtx context.Context,
	cancelExec context.CancelFunc,
	taskID uuid.UUID,
	preempted *atomic.Bool,
	logger *slog.Logger,
) {
	ticker := time.NewTicker(w.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-execCtx.Done():
			return
		case <-ticker.C:
			w.touch()

			applied, err := w.store.Heartbeat(execCtx, taskID, w.id, w.clock.Now())
			if err != nil {
				if execCtx.Err() != nil {
					return
				}
				// A failed store call is not proof the lease is gone;
				// keep beating and let the next tick decide.
				logger.Warn("heartbeat failed", "error", err)
				continue
			}
			if !applied {
				preempted.Store(true)
				cancelExec()
				return
			}
		}
	}
}

// sleep waits for d or until ctx is cancelled.
func (w *Worker) sleep(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
