package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/crate-api/internal/domain"
	"github.com/phrazzld/crate-api/internal/platform/metrics"
	"github.com/phrazzld/crate-api/internal/store"
)

// DownloadServiceError is a custom error type for download service errors.
type DownloadServiceError struct {
	Operation string
	Message   string
	Err       error
}

// Error implements the error interface for DownloadServiceError.
func (e *DownloadServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("download service %s failed: %s: %v", e.Operation, e.Message, e.Err)
	}
	return fmt.Sprintf("download service %s failed: %s", e.Operation, e.Message)
}

// Unwrap returns the wrapped error to support errors.Is/errors.As.
func (e *DownloadServiceError) Unwrap() error {
	return e.Err
}

// NewDownloadServiceError creates a new DownloadServiceError.
func NewDownloadServiceError(operation, message string, err error) *DownloadServiceError {
	return &DownloadServiceError{
		Operation: operation,
		Message:   message,
		Err:       err,
	}
}

// CreateDownloadRequest carries everything needed to enqueue a task.
type CreateDownloadRequest struct {
	TaskType   domain.TaskType
	EntityID   string
	EntityName string
	Options    domain.DownloadOptions
}

// Statistics summarizes the state of the queue.
type Statistics struct {
	ByStatus map[domain.TaskStatus]int64 `json:"by_status"`
	Total    int64                       `json:"total"`
}

// DownloadService exposes queue operations to the API layer. Workers do
// not go through it; they talk to the TaskStore directly.
type DownloadService struct {
	store       store.TaskStore
	maxAttempts int
	metrics     *metrics.Metrics
	logger      *slog.Logger
	now         func() time.Time // Injectable for testing
}

// NewDownloadService creates a DownloadService. maxAttempts is the
// attempt budget given to newly enqueued tasks.
func NewDownloadService(
	taskStore store.TaskStore,
	maxAttempts int,
	m *metrics.Metrics,
	logger *slog.Logger,
) *DownloadService {
	return &DownloadService{
		store:       taskStore,
		maxAttempts: maxAttempts,
		metrics:     m,
		logger:      logger.With("component", "download_service"),
		now:         time.Now,
	}
}

// Create validates the request and enqueues a new pending task.
func (s *DownloadService) Create(
	ctx context.Context,
	req CreateDownloadRequest,
) (*domain.DownloadTask, error) {
	payload := domain.DownloadPayload{
		TaskType:   req.TaskType,
		EntityID:   req.EntityID,
		EntityName: req.EntityName,
		Options:    req.Options,
	}

	task, err := domain.NewDownloadTask(payload, s.maxAttempts)
	if err != nil {
		return nil, err
	}

	if err := s.store.Enqueue(ctx, task); err != nil {
		return nil, NewDownloadServiceError("create", "failed to enqueue task", err)
	}

	s.metrics.TasksEnqueued.Inc()
	s.logger.Info("download task enqueued",
		"task_id", task.ID,
		"task_type", task.Payload.TaskType,
		"entity_id", task.Payload.EntityID)
	return task, nil
}

// Get returns a snapshot of a single task.
func (s *DownloadService) Get(ctx context.Context, taskID uuid.UUID) (*domain.DownloadTask, error) {
	task, err := s.store.GetByID(ctx, taskID)
	if err != nil {
		if errors.Is(err, store.ErrTaskNotFound) || errors.Is(err, store.ErrNotFound) {
			return nil, ErrTaskNotFound
		}
		return nil, NewDownloadServiceError("get", "failed to load task", err)
	}
	return task, nil
}

// List returns task snapshots matching the filter, newest first.
func (s *DownloadService) List(
	ctx context.Context,
	filter store.ListFilter,
) ([]*domain.DownloadTask, error) {
	tasks, err := s.store.List(ctx, filter)
	if err != nil {
		return nil, NewDownloadServiceError("list", "failed to list tasks", err)
	}
	return tasks, nil
}

// Cancel cancels a task that has not started running. A task that is
// already running keeps its lease; cancellation applies only to
// pending work.
func (s *DownloadService) Cancel(ctx context.Context, taskID uuid.UUID) (*domain.DownloadTask, error) {
	applied, err := s.store.Cancel(ctx, taskID, s.now())
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrTaskNotFound
		}
		return nil, NewDownloadServiceError("cancel", "failed to cancel task", err)
	}
	if !applied {
		// Distinguish a missing task from one in the wrong state.
		if _, err := s.Get(ctx, taskID); err != nil {
			return nil, err
		}
		return nil, ErrNotCancellable
	}

	s.logger.Info("download task cancelled", "task_id", taskID)
	return s.Get(ctx, taskID)
}

// Retry returns a terminally failed task to the queue with a fresh
// attempt budget. The previous failure reason is kept on the task for
// diagnosis.
func (s *DownloadService) Retry(ctx context.Context, taskID uuid.UUID) (*domain.DownloadTask, error) {
	applied, err := s.store.Retry(ctx, taskID, s.now())
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrTaskNotFound
		}
		return nil, NewDownloadServiceError("retry", "failed to retry task", err)
	}
	if !applied {
		if _, err := s.Get(ctx, taskID); err != nil {
			return nil, err
		}
		return nil, ErrNotRetryable
	}

	s.logger.Info("download task requeued for retry", "task_id", taskID)
	return s.Get(ctx, taskID)
}

// Statistics returns per-status task counts.
func (s *DownloadService) Statistics(ctx context.Context) (*Statistics, error) {
	counts, err := s.store.CountByStatus(ctx)
	if err != nil {
		return nil, NewDownloadServiceError("statistics", "failed to count tasks", err)
	}

	stats := &Statistics{ByStatus: make(map[domain.TaskStatus]int64, len(counts))}
	for _, status := range domain.AllTaskStatuses() {
		stats.ByStatus[status] = counts[status]
		stats.Total += counts[status]
	}
	return stats, nil
}
