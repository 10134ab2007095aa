package store

import (
	"bytes"
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/crate-api/internal/domain"
)

// MemoryTaskStore implements TaskStore against an in-process map. A
// single mutex stands in for the database's atomicity: every guarded
// transition inspects and mutates task state under the lock, so it
// behaves exactly like the conditional-update protocol workers see
// against Postgres. It backs tests and local development.
type MemoryTaskStore struct {
	mu     sync.Mutex
	policy LeasePolicy
	tasks  map[uuid.UUID]*domain.DownloadTask
}

var _ TaskStore = (*MemoryTaskStore)(nil)

// NewMemoryTaskStore creates an empty MemoryTaskStore with the given
// lease policy.
func NewMemoryTaskStore(policy LeasePolicy) *MemoryTaskStore {
	return &MemoryTaskStore{
		policy: policy,
		tasks:  make(map[uuid.UUID]*domain.DownloadTask),
	}
}

// Enqueue persists a new pending task.
func (s *MemoryTaskStore) Enqueue(ctx context.Context, task *domain.DownloadTask) error {
	if err := task.Validate(); err != nil {
		return NewStoreError("enqueue", "task failed validation", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tasks[task.ID]; exists {
		return ErrDuplicate
	}

	s.tasks[task.ID] = cloneTask(task)
	return nil
}

// Lease claims the oldest eligible task for workerID.
func (s *MemoryTaskStore) Lease(ctx context.Context, workerID string, now time.Time) (*domain.DownloadTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	staleBefore := s.policy.StaleBefore(now)

	var eligible []*domain.DownloadTask
	for _, t := range s.tasks {
		if s.eligibleForLease(t, now, staleBefore) {
			eligible = append(eligible, t)
		}
	}
	if len(eligible) == 0 {
		return nil, ErrNoTaskAvailable
	}

	// FIFO by creation time, ties broken by ID.
	sort.Slice(eligible, func(i, j int) bool {
		if !eligible[i].CreatedAt.Equal(eligible[j].CreatedAt) {
			return eligible[i].CreatedAt.Before(eligible[j].CreatedAt)
		}
		return bytes.Compare(eligible[i].ID[:], eligible[j].ID[:]) < 0
	})

	t := eligible[0]
	leasedAt := now
	t.Status = domain.TaskStatusRunning
	t.LeasedBy = workerID
	t.LeasedAt = &leasedAt
	hb := now
	t.HeartbeatAt = &hb
	// A stale takeover of a task already on its final attempt must not
	// push the counter past the budget.
	if t.AttemptCount < t.MaxAttempts {
		t.AttemptCount++
	}
	t.NotBefore = nil
	t.UpdatedAt = now

	return cloneTask(t), nil
}

func (s *MemoryTaskStore) eligibleForLease(t *domain.DownloadTask, now, staleBefore time.Time) bool {
	switch t.Status {
	case domain.TaskStatusPending:
		return t.NotBefore == nil || !t.NotBefore.After(now)
	case domain.TaskStatusRunning:
		return t.HeartbeatAt != nil && t.HeartbeatAt.Before(staleBefore)
	}
	return false
}

// Heartbeat refreshes the lease liveness timestamp while the lease is
// still held.
func (s *MemoryTaskStore) Heartbeat(ctx context.Context, taskID uuid.UUID, workerID string, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, exists := s.tasks[taskID]
	if !exists || t.Status != domain.TaskStatusRunning || t.LeasedBy != workerID {
		return false, nil
	}

	hb := now
	t.HeartbeatAt = &hb
	t.UpdatedAt = now
	return true, nil
}

// Complete transitions a running task held by workerID to done.
func (s *MemoryTaskStore) Complete(ctx context.Context, taskID uuid.UUID, workerID string, result *domain.DownloadResult, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, exists := s.tasks[taskID]
	if !exists || t.Status != domain.TaskStatusRunning || t.LeasedBy != workerID {
		return false, nil
	}

	t.Status = domain.TaskStatusDone
	t.Result = cloneResult(result)
	clearLease(t)
	t.UpdatedAt = now
	return true, nil
}

// Fail records a failed attempt, requeueing or terminally failing the
// task depending on the error kind and the remaining attempt budget.
func (s *MemoryTaskStore) Fail(ctx context.Context, taskID uuid.UUID, workerID string, reason string, permanent bool, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, exists := s.tasks[taskID]
	if !exists || t.Status != domain.TaskStatusRunning || t.LeasedBy != workerID {
		return false, nil
	}

	t.LastError = reason
	clearLease(t)
	t.UpdatedAt = now

	if permanent || t.AttemptCount >= t.MaxAttempts {
		t.Status = domain.TaskStatusFailed
		t.NotBefore = nil
		return true, nil
	}

	t.Status = domain.TaskStatusPending
	nb := now.Add(s.policy.BackoffDelay(t.AttemptCount))
	t.NotBefore = &nb
	return true, nil
}

// ReclaimStuck returns abandoned running tasks to pending without
// charging the attempt budget.
func (s *MemoryTaskStore) ReclaimStuck(ctx context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	staleBefore := s.policy.StaleBefore(now)

	var count int64
	for _, t := range s.tasks {
		if t.Status != domain.TaskStatusRunning {
			continue
		}
		if t.HeartbeatAt == nil || !t.HeartbeatAt.Before(staleBefore) {
			continue
		}

		t.Status = domain.TaskStatusPending
		clearLease(t)
		t.NotBefore = nil
		t.UpdatedAt = now
		count++
	}

	return count, nil
}

// Cancel transitions a pending task to cancelled.
func (s *MemoryTaskStore) Cancel(ctx context.Context, taskID uuid.UUID, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, exists := s.tasks[taskID]
	if !exists {
		return false, ErrTaskNotFound
	}
	if t.Status != domain.TaskStatusPending {
		return false, nil
	}

	t.Status = domain.TaskStatusCancelled
	t.NotBefore = nil
	t.UpdatedAt = now
	return true, nil
}

// Retry returns a terminally failed task to pending with a fresh
// attempt budget. The last error is kept for audit.
func (s *MemoryTaskStore) Retry(ctx context.Context, taskID uuid.UUID, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, exists := s.tasks[taskID]
	if !exists {
		return false, ErrTaskNotFound
	}
	if t.Status != domain.TaskStatusFailed {
		return false, nil
	}

	t.Status = domain.TaskStatusPending
	t.AttemptCount = 0
	t.NotBefore = nil
	t.UpdatedAt = now
	return true, nil
}

// UpdateProgress records advisory item-level progress.
func (s *MemoryTaskStore) UpdateProgress(ctx context.Context, taskID uuid.UUID, progress domain.Progress, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, exists := s.tasks[taskID]
	if !exists {
		return ErrTaskNotFound
	}

	t.Progress = progress
	t.UpdatedAt = now
	return nil
}

// GetByID returns a snapshot of a single task.
func (s *MemoryTaskStore) GetByID(ctx context.Context, taskID uuid.UUID) (*domain.DownloadTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, exists := s.tasks[taskID]
	if !exists {
		return nil, ErrTaskNotFound
	}

	return cloneTask(t), nil
}

// List returns task snapshots matching the filter, newest first.
func (s *MemoryTaskStore) List(ctx context.Context, filter ListFilter) ([]*domain.DownloadTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var matched []*domain.DownloadTask
	for _, t := range s.tasks {
		if filter.Status != "" && t.Status != filter.Status {
			continue
		}
		if filter.EntityID != "" && t.Payload.EntityID != filter.EntityID {
			continue
		}
		matched = append(matched, t)
	}

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return bytes.Compare(matched[i].ID[:], matched[j].ID[:]) < 0
	})

	if filter.Offset > 0 {
		if filter.Offset >= len(matched) {
			return nil, nil
		}
		matched = matched[filter.Offset:]
	}
	if filter.Limit > 0 && filter.Limit < len(matched) {
		matched = matched[:filter.Limit]
	}

	out := make([]*domain.DownloadTask, len(matched))
	for i, t := range matched {
		out[i] = cloneTask(t)
	}
	return out, nil
}

// CountByStatus returns the number of tasks in each state.
func (s *MemoryTaskStore) CountByStatus(ctx context.Context) (map[domain.TaskStatus]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	counts := make(map[domain.TaskStatus]int64)
	for _, t := range s.tasks {
		counts[t.Status]++
	}
	return counts, nil
}

// DeleteTerminalBefore removes terminal tasks last updated before the cutoff.
func (s *MemoryTaskStore) DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var count int64
	for id, t := range s.tasks {
		if t.Status.Terminal() && t.UpdatedAt.Before(cutoff) {
			delete(s.tasks, id)
			count++
		}
	}
	return count, nil
}

func clearLease(t *domain.DownloadTask) {
	t.LeasedBy = ""
	t.LeasedAt = nil
	t.HeartbeatAt = nil
}

func cloneTask(t *domain.DownloadTask) *domain.DownloadTask {
	c := *t
	c.LeasedAt = cloneTime(t.LeasedAt)
	c.HeartbeatAt = cloneTime(t.HeartbeatAt)
	c.NotBefore = cloneTime(t.NotBefore)
	c.Result = cloneResult(t.Result)
	return &c
}

func cloneResult(r *domain.DownloadResult) *domain.DownloadResult {
	if r == nil {
		return nil
	}
	c := *r
	c.Files = append([]string(nil), r.Files...)
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
