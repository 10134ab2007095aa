package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/crate-api/internal/domain"
)

// ListFilter narrows and pages List results.
type ListFilter struct {
	// Status limits results to tasks in this state when non-empty.
	Status domain.TaskStatus

	// EntityID limits results to tasks for this catalog entity when non-empty.
	EntityID string

	Offset int
	Limit  int
}

// TaskStore is the sole authority over download-task state transitions.
// Every conditional operation (Lease, Heartbeat, Complete, Fail, Cancel,
// Retry, ReclaimStuck) must be applied atomically against the backing
// store: implementations never read state, decide in process memory, and
// write back without a guard, since concurrent workers coordinate only
// through these calls.
//
// Callers pass in the current time so that tests can drive the protocol
// with a fake clock.
type TaskStore interface {
	// Enqueue persists a new pending task.
	Enqueue(ctx context.Context, task *domain.DownloadTask) error

	// Lease atomically claims the oldest eligible task for workerID:
	// either a pending task whose not_before has passed, or a running
	// task whose heartbeat is older than the stale threshold. The claim
	// sets the lease fields and increments the attempt counter, capped
	// at the attempt budget, in the same operation. Returns
	// ErrNoTaskAvailable when nothing is eligible.
	Lease(ctx context.Context, workerID string, now time.Time) (*domain.DownloadTask, error)

	// Heartbeat refreshes the lease liveness timestamp. It applies only
	// while workerID still holds the lease and the task is still
	// running; a false return means the lease was lost and the caller
	// must abandon the work.
	Heartbeat(ctx context.Context, taskID uuid.UUID, workerID string, now time.Time) (bool, error)

	// Complete transitions a running task held by workerID to done,
	// recording the result and clearing the lease fields. Returns false
	// without modifying anything if the lease is no longer held.
	Complete(ctx context.Context, taskID uuid.UUID, workerID string, result *domain.DownloadResult, now time.Time) (bool, error)

	// Fail records a failed attempt for a running task held by workerID.
	// Transient failures requeue the task as pending behind a backoff
	// window until the attempt budget is exhausted; permanent failures
	// and exhausted budgets transition it terminally to failed. Returns
	// false without modifying anything if the lease is no longer held.
	Fail(ctx context.Context, taskID uuid.UUID, workerID string, reason string, permanent bool, now time.Time) (bool, error)

	// ReclaimStuck returns every running task whose heartbeat is older
	// than the stale threshold to pending, clearing the lease fields but
	// leaving the attempt counter untouched. This is the recovery path
	// for workers that crashed without reporting. Returns the number of
	// tasks reclaimed.
	ReclaimStuck(ctx context.Context, now time.Time) (int64, error)

	// Cancel transitions a task to cancelled, allowed only while it is
	// still pending. Returns false if the task is in any other state.
	Cancel(ctx context.Context, taskID uuid.UUID, now time.Time) (bool, error)

	// Retry returns a terminally failed task to pending with a fresh
	// attempt budget. Returns false if the task is not failed.
	Retry(ctx context.Context, taskID uuid.UUID, now time.Time) (bool, error)

	// UpdateProgress records item-level progress for a multi-item task.
	// Progress is advisory and not part of the guarded state machine.
	UpdateProgress(ctx context.Context, taskID uuid.UUID, progress domain.Progress, now time.Time) error

	// GetByID returns a snapshot of a single task.
	GetByID(ctx context.Context, taskID uuid.UUID) (*domain.DownloadTask, error)

	// List returns task snapshots matching the filter, newest first.
	List(ctx context.Context, filter ListFilter) ([]*domain.DownloadTask, error)

	// CountByStatus returns the number of tasks in each state.
	CountByStatus(ctx context.Context) (map[domain.TaskStatus]int64, error)

	// DeleteTerminalBefore removes done, failed and cancelled tasks last
	// updated before the cutoff. Returns the number of tasks deleted.
	DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error)
}
