package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/crate-api/internal/fetcher"
	"github.com/phrazzld/crate-api/internal/platform/metrics"
	"github.com/phrazzld/crate-api/internal/store"
)

// ManagerConfig holds the supervision tunables for the worker pool.
type ManagerConfig struct {
	// WorkerCount is the number of download workers to run.
	WorkerCount int

	// Worker carries the per-worker loop tunables.
	Worker Config

	// ReclaimInterval is how often orphaned leases are swept back to
	// pending.
	ReclaimInterval time.Duration

	// SuperviseInterval is how often worker liveness is checked.
	SuperviseInterval time.Duration

	// LivenessGrace is how long a worker may go without loop progress
	// (beyond its poll and heartbeat cadence) before it is considered
	// wedged and replaced.
	LivenessGrace time.Duration

	// ShutdownGrace is how long Stop waits for in-flight tasks before
	// forcing termination.
	ShutdownGrace time.Duration
}

// supervised pairs a worker with the signal that its goroutine exited.
type supervised struct {
	worker *Worker
	done   chan struct{}
}

// Manager owns the pool of download workers: it spawns them, replaces
// dead or wedged ones, and periodically reclaims orphaned leases. All
// recovery actions go through the store, so a manager in one process
// heals after workers of another.
type Manager struct {
	store   store.TaskStore
	fetch   fetcher.Fetcher
	cfg     ManagerConfig
	clock   Clock
	metrics *metrics.Metrics
	logger  *slog.Logger

	mu      sync.Mutex
	workers map[string]*supervised
	started bool
	stopped bool

	// softCtx stops lease loops; hardCtx aborts in-flight fetches.
	softCtx    context.Context
	softCancel context.CancelFunc
	hardCtx    context.Context
	hardCancel context.CancelFunc

	workerWG sync.WaitGroup
	loopWG   sync.WaitGroup
}

// NewManager creates a Manager for the given store and fetcher.
func NewManager(
	taskStore store.TaskStore,
	fetch fetcher.Fetcher,
	cfg ManagerConfig,
	clock Clock,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Manager {
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 1
	}
	if cfg.SuperviseInterval <= 0 {
		cfg.SuperviseInterval = cfg.Worker.PollInterval
	}
	if cfg.LivenessGrace <= 0 {
		cfg.LivenessGrace = 2 * cfg.Worker.PollInterval
	}

	hardCtx, hardCancel := context.WithCancel(context.Background())
	softCtx, softCancel := context.WithCancel(hardCtx)

	return &Manager{
		store:      taskStore,
		fetch:      fetch,
		cfg:        cfg,
		clock:      clock,
		metrics:    m,
		logger:     logger.With("component", "worker_manager"),
		workers:    make(map[string]*supervised),
		softCtx:    softCtx,
		softCancel: softCancel,
		hardCtx:    hardCtx,
		hardCancel: hardCancel,
	}
}

// Start spawns the configured number of workers and the supervision and
// reclaim loops.
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return
	}
	m.started = true

	for i := 0; i < m.cfg.WorkerCount; i++ {
		m.spawnWorkerLocked()
	}

	m.loopWG.Add(2)
	go m.superviseLoop()
	go m.reclaimLoop()

	m.logger.Info("worker manager started", "worker_count", m.cfg.WorkerCount)
}

// spawnWorkerLocked creates and starts one worker with a fresh identity.
// Worker IDs are never reused: a dead worker's ID may still appear as
// leased_by on a task awaiting reclaim.
func (m *Manager) spawnWorkerLocked() *Worker {
	id := "worker-" + uuid.NewString()
	w := NewWorker(id, m.hardCtx, m.store, m.fetch, m.cfg.Worker, m.clock, m.metrics, m.logger)

	s := &supervised{worker: w, done: make(chan struct{})}
	m.workers[id] = s

	m.workerWG.Add(1)
	go func() {
		defer m.workerWG.Done()
		defer close(s.done)
		w.Run(m.softCtx)
	}()

	return w
}

// superviseLoop replaces workers that exited or stopped making loop
// progress. Replacement workers always get a fresh ID.
func (m *Manager) superviseLoop() {
	defer m.loopWG.Done()

	ticker := time.NewTicker(m.cfg.SuperviseInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.softCtx.Done():
			return
		case <-ticker.C:
			m.superviseOnce()
		}
	}
}

func (m *Manager) superviseOnce() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return
	}

	wedgedBefore := m.clock.Now().
		Add(-m.cfg.Worker.PollInterval - m.cfg.Worker.HeartbeatInterval - m.cfg.LivenessGrace)

	for id, s := range m.workers {
		select {
		case <-s.done:
			m.logger.Warn("worker exited unexpectedly, replacing", "worker_id", id)
			delete(m.workers, id)
			m.metrics.WorkerRestarts.Inc()
			m.spawnWorkerLocked()
			continue
		default:
		}

		if s.worker.LastActive().Before(wedgedBefore) {
			// The goroutine cannot be killed; it is abandoned and a
			// replacement takes over. If it ever resumes, its lease
			// guards make its writes harmless.
			m.logger.Error("worker wedged, abandoning and replacing",
				"worker_id", id,
				"last_active", s.worker.LastActive())
			delete(m.workers, id)
			m.metrics.WorkerRestarts.Inc()
			m.spawnWorkerLocked()
		}
	}
}

// reclaimLoop periodically returns orphaned leases to pending. This is
// the self-healing path for workers that crashed without reporting.
func (m *Manager) reclaimLoop() {
	defer m.loopWG.Done()

	ticker := time.NewTicker(m.cfg.ReclaimInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.softCtx.Done():
			return
		case <-ticker.C:
			count, err := m.store.ReclaimStuck(m.softCtx, m.clock.Now())
			if err != nil {
				if m.softCtx.Err() == nil {
					m.logger.Error("stuck task reclaim failed", "error", err)
				}
				continue
			}
			if count > 0 {
				m.metrics.TasksReclaimed.Add(float64(count))
				m.logger.Info("reclaimed stuck tasks", "count", count)
			}
		}
	}
}

// WorkerIDs returns the identities of the currently supervised workers.
func (m *Manager) WorkerIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]string, 0, len(m.workers))
	for id := range m.workers {
		ids = append(ids, id)
	}
	return ids
}

// Stop shuts the pool down: workers stop taking new leases, in-flight
// tasks get the grace window to finish and report normally, and
// whatever is still running afterwards is cut off. Tasks severed this
// way stay RUNNING in the store until a reclaim sweep returns them to
// pending.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.started || m.stopped {
		m.mu.Unlock()
		return
	}
	m.stopped = true
	m.mu.Unlock()

	m.logger.Info("worker manager stopping", "grace", m.cfg.ShutdownGrace)
	m.softCancel()

	drained := make(chan struct{})
	go func() {
		m.workerWG.Wait()
		close(drained)
	}()

	select {
	case <-drained:
		m.logger.Info("all workers drained")
	case <-time.After(m.cfg.ShutdownGrace):
		m.logger.Warn("shutdown grace elapsed, aborting in-flight tasks")
		m.hardCancel()
		// A fetch that ignores the abort must not wedge shutdown. Its
		// lease goes stale and a later reclaim sweep requeues the task.
		select {
		case <-drained:
		case <-time.After(m.cfg.ShutdownGrace):
			m.logger.Error("worker ignored abort, abandoning wait")
		}
	}

	m.hardCancel()
	m.loopWG.Wait()
	m.logger.Info("worker manager stopped")
}
