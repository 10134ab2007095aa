package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/crate-api/internal/domain"
	"github.com/phrazzld/crate-api/internal/store"
)

// taskColumns is the canonical column list for scanning a task row.
const taskColumns = `id, task_type, entity_id, entity_name, options, status,
	attempt_count, max_attempts, leased_by, leased_at, heartbeat_at, not_before,
	progress, result, last_error, created_at, updated_at`

// PostgresTaskStore implements the store.TaskStore interface using PostgreSQL.
//
// The lease uses a FOR UPDATE SKIP LOCKED subselect so that concurrent
// workers racing for the same pending task get exactly one winner, and
// every other transition is a conditional UPDATE whose WHERE clause
// re-checks the expected previous state. RowsAffected tells the caller
// whether its guard still held.
type PostgresTaskStore struct {
	db     store.DBTX
	policy store.LeasePolicy
}

var _ store.TaskStore = (*PostgresTaskStore)(nil)

// NewPostgresTaskStore creates a new PostgresTaskStore with the given
// lease policy.
func NewPostgresTaskStore(db store.DBTX, policy store.LeasePolicy) *PostgresTaskStore {
	return &PostgresTaskStore{
		db:     db,
		policy: policy,
	}
}

// WithTx returns a new PostgresTaskStore that runs its statements inside
// the provided transaction.
func (s *PostgresTaskStore) WithTx(tx *sql.Tx) *PostgresTaskStore {
	return &PostgresTaskStore{
		db:     tx,
		policy: s.policy,
	}
}

// Enqueue persists a new pending task.
func (s *PostgresTaskStore) Enqueue(ctx context.Context, task *domain.DownloadTask) error {
	if err := task.Validate(); err != nil {
		return store.NewStoreError("enqueue", "task failed validation", err)
	}

	options, err := json.Marshal(task.Payload.Options)
	if err != nil {
		return fmt.Errorf("failed to marshal task options: %w", err)
	}
	progress, err := json.Marshal(task.Progress)
	if err != nil {
		return fmt.Errorf("failed to marshal task progress: %w", err)
	}

	query := `
		INSERT INTO download_tasks (
			id, task_type, entity_id, entity_name, options, status,
			attempt_count, max_attempts, progress, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	_, err = s.db.ExecContext(ctx, query,
		task.ID,
		task.Payload.TaskType,
		task.Payload.EntityID,
		task.Payload.EntityName,
		options,
		task.Status,
		task.AttemptCount,
		task.MaxAttempts,
		progress,
		task.CreatedAt,
		task.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to enqueue task: %w", MapError(err))
	}

	return nil
}

// Lease atomically claims the oldest eligible task for workerID. The
// subselect and the update run as one statement, so two workers can
// never claim the same row: SKIP LOCKED makes the loser pick the next
// candidate or none at all.
func (s *PostgresTaskStore) Lease(ctx context.Context, workerID string, now time.Time) (*domain.DownloadTask, error) {
	query := `
		UPDATE download_tasks SET
			status = 'running',
			leased_by = $1,
			leased_at = $2,
			heartbeat_at = $2,
			attempt_count = LEAST(attempt_count + 1, max_attempts),
			not_before = NULL,
			updated_at = $2
		WHERE id = (
			SELECT id FROM download_tasks
			WHERE (status = 'pending' AND (not_before IS NULL OR not_before <= $2))
			   OR (status = 'running' AND heartbeat_at < $3)
			ORDER BY created_at ASC, id ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + taskColumns

	row := s.db.QueryRowContext(ctx, query, workerID, now, s.policy.StaleBefore(now))

	task, err := scanTask(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNoTaskAvailable
		}
		return nil, fmt.Errorf("failed to lease task: %w", MapError(err))
	}

	return task, nil
}

// Heartbeat refreshes the lease liveness timestamp while workerID still
// holds the lease.
func (s *PostgresTaskStore) Heartbeat(ctx context.Context, taskID uuid.UUID, workerID string, now time.Time) (bool, error) {
	query := `
		UPDATE download_tasks
		SET heartbeat_at = $3, updated_at = $3
		WHERE id = $1 AND leased_by = $2 AND status = 'running'
	`

	result, err := s.db.ExecContext(ctx, query, taskID, workerID, now)
	if err != nil {
		return false, fmt.Errorf("failed to heartbeat task: %w", MapError(err))
	}

	return applied(result)
}

// Complete transitions a running task held by workerID to done.
func (s *PostgresTaskStore) Complete(ctx context.Context, taskID uuid.UUID, workerID string, result *domain.DownloadResult, now time.Time) (bool, error) {
	payload, err := json.Marshal(result)
	if err != nil {
		return false, fmt.Errorf("failed to marshal task result: %w", err)
	}

	query := `
		UPDATE download_tasks SET
			status = 'done',
			result = $3,
			leased_by = NULL,
			leased_at = NULL,
			heartbeat_at = NULL,
			updated_at = $4
		WHERE id = $1 AND leased_by = $2 AND status = 'running'
	`

	res, err := s.db.ExecContext(ctx, query, taskID, workerID, payload, now)
	if err != nil {
		return false, fmt.Errorf("failed to complete task: %w", MapError(err))
	}

	return applied(res)
}

// Fail records a failed attempt. The retry-vs-terminal decision and the
// backoff window are computed inside the statement from the row's own
// attempt counter, so the transition stays a single guarded update.
func (s *PostgresTaskStore) Fail(ctx context.Context, taskID uuid.UUID, workerID string, reason string, permanent bool, now time.Time) (bool, error) {
	query := `
		UPDATE download_tasks SET
			status = CASE
				WHEN $3::boolean OR attempt_count >= max_attempts THEN 'failed'
				ELSE 'pending'
			END,
			last_error = $4,
			not_before = CASE
				WHEN $3::boolean OR attempt_count >= max_attempts THEN NULL
				ELSE $5::timestamptz + make_interval(secs =>
					LEAST($7::float8, $6::float8 * power(2, attempt_count - 1) * (1 + random() * 0.25)))
			END,
			leased_by = NULL,
			leased_at = NULL,
			heartbeat_at = NULL,
			updated_at = $5
		WHERE id = $1 AND leased_by = $2 AND status = 'running'
	`

	res, err := s.db.ExecContext(ctx, query,
		taskID,
		workerID,
		permanent,
		reason,
		now,
		s.policy.BackoffBase.Seconds(),
		s.policy.BackoffCap.Seconds(),
	)
	if err != nil {
		return false, fmt.Errorf("failed to record task failure: %w", MapError(err))
	}

	return applied(res)
}

// ReclaimStuck returns abandoned running tasks to pending. The attempt
// counter is left untouched: a crashed worker is an infrastructure
// fault, not a task fault.
func (s *PostgresTaskStore) ReclaimStuck(ctx context.Context, now time.Time) (int64, error) {
	query := `
		UPDATE download_tasks SET
			status = 'pending',
			leased_by = NULL,
			leased_at = NULL,
			heartbeat_at = NULL,
			not_before = NULL,
			updated_at = $2
		WHERE status = 'running' AND heartbeat_at < $1
	`

	res, err := s.db.ExecContext(ctx, query, s.policy.StaleBefore(now), now)
	if err != nil {
		return 0, fmt.Errorf("failed to reclaim stuck tasks: %w", MapError(err))
	}

	count, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return count, nil
}

// Cancel transitions a pending task to cancelled.
func (s *PostgresTaskStore) Cancel(ctx context.Context, taskID uuid.UUID, now time.Time) (bool, error) {
	query := `
		UPDATE download_tasks
		SET status = 'cancelled', not_before = NULL, updated_at = $2
		WHERE id = $1 AND status = 'pending'
	`

	res, err := s.db.ExecContext(ctx, query, taskID, now)
	if err != nil {
		return false, fmt.Errorf("failed to cancel task: %w", MapError(err))
	}

	return applied(res)
}

// Retry returns a terminally failed task to pending with a fresh
// attempt budget.
func (s *PostgresTaskStore) Retry(ctx context.Context, taskID uuid.UUID, now time.Time) (bool, error) {
	query := `
		UPDATE download_tasks
		SET status = 'pending', attempt_count = 0, not_before = NULL, updated_at = $2
		WHERE id = $1 AND status = 'failed'
	`

	res, err := s.db.ExecContext(ctx, query, taskID, now)
	if err != nil {
		return false, fmt.Errorf("failed to retry task: %w", MapError(err))
	}

	return applied(res)
}

// UpdateProgress records advisory item-level progress.
func (s *PostgresTaskStore) UpdateProgress(ctx context.Context, taskID uuid.UUID, progress domain.Progress, now time.Time) error {
	payload, err := json.Marshal(progress)
	if err != nil {
		return fmt.Errorf("failed to marshal task progress: %w", err)
	}

	query := `
		UPDATE download_tasks
		SET progress = $2, updated_at = $3
		WHERE id = $1
	`

	res, err := s.db.ExecContext(ctx, query, taskID, payload, now)
	if err != nil {
		return fmt.Errorf("failed to update task progress: %w", MapError(err))
	}

	ok, err := applied(res)
	if err != nil {
		return err
	}
	if !ok {
		return store.ErrTaskNotFound
	}
	return nil
}

// GetByID returns a snapshot of a single task.
func (s *PostgresTaskStore) GetByID(ctx context.Context, taskID uuid.UUID) (*domain.DownloadTask, error) {
	query := `SELECT ` + taskColumns + ` FROM download_tasks WHERE id = $1`

	task, err := scanTask(s.db.QueryRowContext(ctx, query, taskID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrTaskNotFound
		}
		return nil, fmt.Errorf("failed to get task: %w", MapError(err))
	}

	return task, nil
}

// List returns task snapshots matching the filter, newest first.
func (s *PostgresTaskStore) List(ctx context.Context, filter store.ListFilter) ([]*domain.DownloadTask, error) {
	query := `SELECT ` + taskColumns + ` FROM download_tasks`
	var args []any
	var where []string

	if filter.Status != "" {
		args = append(args, filter.Status)
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.EntityID != "" {
		args = append(args, filter.EntityID)
		where = append(where, fmt.Sprintf("entity_id = $%d", len(args)))
	}
	for i, clause := range where {
		if i == 0 {
			query += " WHERE " + clause
		} else {
			query += " AND " + clause
		}
	}

	query += " ORDER BY created_at DESC, id ASC"

	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", MapError(err))
	}
	defer func() { _ = rows.Close() }()

	var tasks []*domain.DownloadTask
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task row: %w", err)
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating task rows: %w", err)
	}

	return tasks, nil
}

// CountByStatus returns the number of tasks in each state.
func (s *PostgresTaskStore) CountByStatus(ctx context.Context) (map[domain.TaskStatus]int64, error) {
	query := `SELECT status, COUNT(*) FROM download_tasks GROUP BY status`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to count tasks: %w", MapError(err))
	}
	defer func() { _ = rows.Close() }()

	counts := make(map[domain.TaskStatus]int64)
	for rows.Next() {
		var status domain.TaskStatus
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan count row: %w", err)
		}
		counts[status] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating count rows: %w", err)
	}

	return counts, nil
}

// DeleteTerminalBefore removes terminal tasks last updated before the cutoff.
func (s *PostgresTaskStore) DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `
		DELETE FROM download_tasks
		WHERE status IN ('done', 'failed', 'cancelled') AND updated_at < $1
	`

	res, err := s.db.ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete terminal tasks: %w", MapError(err))
	}

	count, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return count, nil
}

// applied reports whether a conditional update found its guarded row.
func applied(res sql.Result) (bool, error) {
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows > 0, nil
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanTask reads one task row in taskColumns order.
func scanTask(row rowScanner) (*domain.DownloadTask, error) {
	var (
		task        domain.DownloadTask
		options     []byte
		progress    []byte
		result      []byte
		entityName  sql.NullString
		leasedBy    sql.NullString
		leasedAt    sql.NullTime
		heartbeatAt sql.NullTime
		notBefore   sql.NullTime
		lastError   sql.NullString
	)

	err := row.Scan(
		&task.ID,
		&task.Payload.TaskType,
		&task.Payload.EntityID,
		&entityName,
		&options,
		&task.Status,
		&task.AttemptCount,
		&task.MaxAttempts,
		&leasedBy,
		&leasedAt,
		&heartbeatAt,
		&notBefore,
		&progress,
		&result,
		&lastError,
		&task.CreatedAt,
		&task.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	task.Payload.EntityName = entityName.String
	task.LeasedBy = leasedBy.String
	task.LastError = lastError.String
	if leasedAt.Valid {
		task.LeasedAt = &leasedAt.Time
	}
	if heartbeatAt.Valid {
		task.HeartbeatAt = &heartbeatAt.Time
	}
	if notBefore.Valid {
		task.NotBefore = &notBefore.Time
	}

	if len(options) > 0 {
		if err := json.Unmarshal(options, &task.Payload.Options); err != nil {
			return nil, fmt.Errorf("failed to unmarshal task options: %w", err)
		}
	}
	if len(progress) > 0 {
		if err := json.Unmarshal(progress, &task.Progress); err != nil {
			return nil, fmt.Errorf("failed to unmarshal task progress: %w", err)
		}
	}
	if len(result) > 0 && string(result) != "null" {
		var r domain.DownloadResult
		if err := json.Unmarshal(result, &r); err != nil {
			return nil, fmt.Errorf("failed to unmarshal task result: %w", err)
		}
		task.Result = &r
	}

	return &task, nil
}
