package store

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phrazzld/crate-api/internal/domain"
)

var testPolicy = LeasePolicy{
	StaleThreshold: 2 * time.Minute,
	BackoffBase:    3 * time.Second,
	BackoffCap:     5 * time.Minute,
}

func newTestTask(t *testing.T, createdAt time.Time) *domain.DownloadTask {
	t.Helper()

	task, err := domain.NewDownloadTask(domain.DownloadPayload{
		TaskType: domain.TaskTypeTrack,
		EntityID: "track-" + uuid.NewString()[:8],
	}, 3)
	require.NoError(t, err)

	task.CreatedAt = createdAt
	task.UpdatedAt = createdAt
	return task
}

func mustEnqueue(t *testing.T, s *MemoryTaskStore, task *domain.DownloadTask) {
	t.Helper()
	require.NoError(t, s.Enqueue(context.Background(), task))
}

func TestEnqueueAndGetByID(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewMemoryTaskStore(testPolicy)

	task := newTestTask(t, time.Now().UTC())
	mustEnqueue(t, s, task)

	got, err := s.GetByID(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, task.ID, got.ID)
	assert.Equal(t, domain.TaskStatusPending, got.Status)
	assert.Equal(t, 0, got.AttemptCount)

	_, err = s.GetByID(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrTaskNotFound)
}

func TestEnqueueDuplicate(t *testing.T) {
	t.Parallel()
	s := NewMemoryTaskStore(testPolicy)

	task := newTestTask(t, time.Now().UTC())
	mustEnqueue(t, s, task)

	err := s.Enqueue(context.Background(), task)
	assert.ErrorIs(t, err, ErrDuplicate)
}

func TestEnqueueRejectsInvalidTask(t *testing.T) {
	t.Parallel()
	s := NewMemoryTaskStore(testPolicy)

	task := newTestTask(t, time.Now().UTC())
	task.Payload.EntityID = ""

	err := s.Enqueue(context.Background(), task)
	require.Error(t, err)

	var storeErr *StoreError
	assert.ErrorAs(t, err, &storeErr)
}

func TestLeaseClaimsOldestFirst(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewMemoryTaskStore(testPolicy)
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	newer := newTestTask(t, base.Add(time.Minute))
	older := newTestTask(t, base)
	mustEnqueue(t, s, newer)
	mustEnqueue(t, s, older)

	leased, err := s.Lease(ctx, "worker-a", base.Add(2*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, older.ID, leased.ID)
}

func TestLeaseSetsLeaseStateAndChargesAttempt(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewMemoryTaskStore(testPolicy)
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	task := newTestTask(t, now)
	mustEnqueue(t, s, task)

	leased, err := s.Lease(ctx, "worker-a", now)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusRunning, leased.Status)
	assert.Equal(t, "worker-a", leased.LeasedBy)
	require.NotNil(t, leased.LeasedAt)
	require.NotNil(t, leased.HeartbeatAt)
	assert.Equal(t, 1, leased.AttemptCount)
	assert.Nil(t, leased.NotBefore)
}

func TestLeaseEmptyQueue(t *testing.T) {
	t.Parallel()
	s := NewMemoryTaskStore(testPolicy)

	_, err := s.Lease(context.Background(), "worker-a", time.Now().UTC())
	assert.ErrorIs(t, err, ErrNoTaskAvailable)
}

func TestLeaseHonorsBackoffWindow(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewMemoryTaskStore(testPolicy)
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	task := newTestTask(t, now)
	mustEnqueue(t, s, task)

	// First attempt fails transiently, pushing the task behind a
	// backoff window.
	_, err := s.Lease(ctx, "worker-a", now)
	require.NoError(t, err)
	applied, err := s.Fail(ctx, task.ID, "worker-a", "network blip", false, now)
	require.NoError(t, err)
	require.True(t, applied)

	requeued, err := s.GetByID(ctx, task.ID)
	require.NoError(t, err)
	require.NotNil(t, requeued.NotBefore)

	// Not leasable before the window passes.
	_, err = s.Lease(ctx, "worker-b", now)
	assert.ErrorIs(t, err, ErrNoTaskAvailable)

	// Leasable once it does.
	leased, err := s.Lease(ctx, "worker-b", requeued.NotBefore.Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, task.ID, leased.ID)
	assert.Equal(t, 2, leased.AttemptCount)
}

func TestLeaseMutualExclusion(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewMemoryTaskStore(testPolicy)
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	mustEnqueue(t, s, newTestTask(t, now))

	_, err := s.Lease(ctx, "worker-a", now)
	require.NoError(t, err)

	// A fresh lease attempt cannot claim the same task while its
	// heartbeat is current.
	_, err = s.Lease(ctx, "worker-b", now.Add(time.Second))
	assert.ErrorIs(t, err, ErrNoTaskAvailable)
}

func TestLeaseTakesOverStaleRunningTask(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewMemoryTaskStore(testPolicy)
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	task := newTestTask(t, now)
	mustEnqueue(t, s, task)

	_, err := s.Lease(ctx, "worker-a", now)
	require.NoError(t, err)

	// After the stale threshold passes with no heartbeat, another
	// worker may take over. The takeover charges a fresh attempt.
	later := now.Add(testPolicy.StaleThreshold + time.Second)
	leased, err := s.Lease(ctx, "worker-b", later)
	require.NoError(t, err)
	assert.Equal(t, task.ID, leased.ID)
	assert.Equal(t, "worker-b", leased.LeasedBy)
	assert.Equal(t, 2, leased.AttemptCount)

	// The original holder has lost the lease.
	ok, err := s.Heartbeat(ctx, task.ID, "worker-a", later.Add(time.Second))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLeaseTakeoverNeverExceedsAttemptBudget(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewMemoryTaskStore(testPolicy)
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	task, err := domain.NewDownloadTask(domain.DownloadPayload{
		TaskType: domain.TaskTypeTrack,
		EntityID: "track-last-attempt",
	}, 1)
	require.NoError(t, err)
	task.CreatedAt = now
	task.UpdatedAt = now
	mustEnqueue(t, s, task)

	_, err = s.Lease(ctx, "worker-a", now)
	require.NoError(t, err)

	// Taking over a stale task already on its final attempt keeps the
	// counter at the budget instead of charging past it.
	later := now.Add(testPolicy.StaleThreshold + time.Second)
	leased, err := s.Lease(ctx, "worker-b", later)
	require.NoError(t, err)
	assert.Equal(t, task.ID, leased.ID)
	assert.Equal(t, task.MaxAttempts, leased.AttemptCount)

	// A transient failure at the budget is terminal.
	mustFail(t, s, task.ID, "worker-b", false, later.Add(time.Second))
	got, err := s.GetByID(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusFailed, got.Status)
	assert.Equal(t, task.MaxAttempts, got.AttemptCount)
}

func TestHeartbeatKeepsLeaseFresh(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewMemoryTaskStore(testPolicy)
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	task := newTestTask(t, now)
	mustEnqueue(t, s, task)
	_, err := s.Lease(ctx, "worker-a", now)
	require.NoError(t, err)

	// Heartbeats every minute keep the task unleasable indefinitely.
	cursor := now
	for i := 0; i < 5; i++ {
		cursor = cursor.Add(time.Minute)
		ok, err := s.Heartbeat(ctx, task.ID, "worker-a", cursor)
		require.NoError(t, err)
		require.True(t, ok)

		_, err = s.Lease(ctx, "worker-b", cursor)
		assert.ErrorIs(t, err, ErrNoTaskAvailable)
	}
}

func TestHeartbeatAfterCompletionIsRejected(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewMemoryTaskStore(testPolicy)
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	task := newTestTask(t, now)
	mustEnqueue(t, s, task)
	_, err := s.Lease(ctx, "worker-a", now)
	require.NoError(t, err)

	applied, err := s.Complete(ctx, task.ID, "worker-a", &domain.DownloadResult{Completed: 1, Total: 1}, now)
	require.NoError(t, err)
	require.True(t, applied)

	ok, err := s.Heartbeat(ctx, task.ID, "worker-a", now.Add(time.Second))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCompleteRecordsResultAndClearsLease(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewMemoryTaskStore(testPolicy)
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	task := newTestTask(t, now)
	mustEnqueue(t, s, task)
	_, err := s.Lease(ctx, "worker-a", now)
	require.NoError(t, err)

	result := &domain.DownloadResult{
		ArtifactPath: "/library",
		Files:        []string{"Artist/Album/01 - Song.ogg"},
		Completed:    1,
		Total:        1,
	}
	applied, err := s.Complete(ctx, task.ID, "worker-a", result, now.Add(time.Minute))
	require.NoError(t, err)
	require.True(t, applied)

	got, err := s.GetByID(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusDone, got.Status)
	assert.Empty(t, got.LeasedBy)
	assert.Nil(t, got.LeasedAt)
	assert.Nil(t, got.HeartbeatAt)
	require.NotNil(t, got.Result)
	assert.Equal(t, result.Files, got.Result.Files)
}

func TestCompleteIsIdempotencyGuarded(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewMemoryTaskStore(testPolicy)
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	task := newTestTask(t, now)
	mustEnqueue(t, s, task)
	_, err := s.Lease(ctx, "worker-a", now)
	require.NoError(t, err)

	applied, err := s.Complete(ctx, task.ID, "worker-a", nil, now)
	require.NoError(t, err)
	require.True(t, applied)

	// A second completion attempt, from the same or another worker,
	// changes nothing.
	applied, err = s.Complete(ctx, task.ID, "worker-a", nil, now.Add(time.Second))
	require.NoError(t, err)
	assert.False(t, applied)

	got, err := s.GetByID(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusDone, got.Status)
}

func TestCompleteByNonHolderIsRejected(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewMemoryTaskStore(testPolicy)
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	task := newTestTask(t, now)
	mustEnqueue(t, s, task)
	_, err := s.Lease(ctx, "worker-a", now)
	require.NoError(t, err)

	applied, err := s.Complete(ctx, task.ID, "worker-b", nil, now)
	require.NoError(t, err)
	assert.False(t, applied)

	got, err := s.GetByID(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusRunning, got.Status)
	assert.Equal(t, "worker-a", got.LeasedBy)
}

func TestFailTransientRequeuesWithBackoff(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewMemoryTaskStore(testPolicy)
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	task := newTestTask(t, now)
	mustEnqueue(t, s, task)
	_, err := s.Lease(ctx, "worker-a", now)
	require.NoError(t, err)

	applied, err := s.Fail(ctx, task.ID, "worker-a", "rate limited", false, now)
	require.NoError(t, err)
	require.True(t, applied)

	got, err := s.GetByID(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusPending, got.Status)
	assert.Equal(t, "rate limited", got.LastError)
	assert.Equal(t, 1, got.AttemptCount)
	assert.Empty(t, got.LeasedBy)
	require.NotNil(t, got.NotBefore)
	assert.True(t, got.NotBefore.After(now))
	assert.False(t, got.NotBefore.After(now.Add(testPolicy.BackoffCap+testPolicy.BackoffCap/4)))
}

func TestFailPermanentIsTerminal(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewMemoryTaskStore(testPolicy)
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	task := newTestTask(t, now)
	mustEnqueue(t, s, task)
	_, err := s.Lease(ctx, "worker-a", now)
	require.NoError(t, err)

	applied, err := s.Fail(ctx, task.ID, "worker-a", "entity not found", true, now)
	require.NoError(t, err)
	require.True(t, applied)

	got, err := s.GetByID(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusFailed, got.Status)
	assert.Nil(t, got.NotBefore)

	// Terminal tasks never become leasable again.
	_, err = s.Lease(ctx, "worker-b", now.Add(24*time.Hour))
	assert.ErrorIs(t, err, ErrNoTaskAvailable)
}

func TestFailExhaustsAttemptBudget(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewMemoryTaskStore(testPolicy)
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	task := newTestTask(t, now)
	mustEnqueue(t, s, task)

	// Burn through the attempt budget with transient failures.
	cursor := now
	for attempt := 1; attempt <= task.MaxAttempts; attempt++ {
		cursor = cursor.Add(time.Hour)
		leased, err := s.Lease(ctx, "worker-a", cursor)
		require.NoError(t, err)
		assert.Equal(t, attempt, leased.AttemptCount)

		applied, err := s.Fail(ctx, task.ID, "worker-a", "still broken", false, cursor)
		require.NoError(t, err)
		require.True(t, applied)
	}

	got, err := s.GetByID(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusFailed, got.Status)
	assert.Equal(t, task.MaxAttempts, got.AttemptCount)
}

func TestFailByNonHolderIsRejected(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewMemoryTaskStore(testPolicy)
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	task := newTestTask(t, now)
	mustEnqueue(t, s, task)
	_, err := s.Lease(ctx, "worker-a", now)
	require.NoError(t, err)

	applied, err := s.Fail(ctx, task.ID, "worker-b", "not mine", false, now)
	require.NoError(t, err)
	assert.False(t, applied)
}

func mustFail(t *testing.T, s *MemoryTaskStore, taskID uuid.UUID, workerID string, permanent bool, now time.Time) {
	t.Helper()
	applied, err := s.Fail(context.Background(), taskID, workerID, "failed", permanent, now)
	require.NoError(t, err)
	require.True(t, applied)
}

func TestReclaimStuckLeavesAttemptCountAlone(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewMemoryTaskStore(testPolicy)
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	stale := newTestTask(t, now)
	fresh := newTestTask(t, now)
	mustEnqueue(t, s, stale)
	mustEnqueue(t, s, fresh)

	_, err := s.Lease(ctx, "worker-a", now)
	require.NoError(t, err)
	_, err = s.Lease(ctx, "worker-b", now)
	require.NoError(t, err)

	// Only worker-b keeps heartbeating.
	later := now.Add(testPolicy.StaleThreshold + time.Second)
	var freshID uuid.UUID
	for _, id := range []uuid.UUID{stale.ID, fresh.ID} {
		got, err := s.GetByID(ctx, id)
		require.NoError(t, err)
		if got.LeasedBy == "worker-b" {
			freshID = id
		}
	}
	ok, err := s.Heartbeat(ctx, freshID, "worker-b", later.Add(-time.Second))
	require.NoError(t, err)
	require.True(t, ok)

	count, err := s.ReclaimStuck(ctx, later)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	// The reclaimed task is pending again with its attempt count
	// untouched and immediately leasable.
	var reclaimedID uuid.UUID
	if freshID == stale.ID {
		reclaimedID = fresh.ID
	} else {
		reclaimedID = stale.ID
	}
	got, err := s.GetByID(ctx, reclaimedID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusPending, got.Status)
	assert.Equal(t, 1, got.AttemptCount)
	assert.Nil(t, got.NotBefore)
	assert.Empty(t, got.LeasedBy)
}

func TestCancelOnlyAppliesToPending(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewMemoryTaskStore(testPolicy)
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	pending := newTestTask(t, now)
	running := newTestTask(t, now.Add(time.Second))
	mustEnqueue(t, s, pending)
	mustEnqueue(t, s, running)

	// Claim the older task so the second stays pending.
	leased, err := s.Lease(ctx, "worker-a", now.Add(time.Minute))
	require.NoError(t, err)
	require.Equal(t, pending.ID, leased.ID)

	applied, err := s.Cancel(ctx, running.ID, now.Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, applied)

	applied, err = s.Cancel(ctx, pending.ID, now.Add(time.Minute))
	require.NoError(t, err)
	assert.False(t, applied)

	_, err = s.Cancel(ctx, uuid.New(), now)
	assert.ErrorIs(t, err, ErrTaskNotFound)
}

func TestRetryResetsAttemptBudgetAndKeepsLastError(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewMemoryTaskStore(testPolicy)
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	task := newTestTask(t, now)
	mustEnqueue(t, s, task)
	_, err := s.Lease(ctx, "worker-a", now)
	require.NoError(t, err)
	mustFail(t, s, task.ID, "worker-a", true, now)

	applied, err := s.Retry(ctx, task.ID, now.Add(time.Minute))
	require.NoError(t, err)
	require.True(t, applied)

	got, err := s.GetByID(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusPending, got.Status)
	assert.Equal(t, 0, got.AttemptCount)
	assert.Equal(t, "failed", got.LastError)
	assert.Nil(t, got.NotBefore)

	// Retry applies only to failed tasks.
	applied, err = s.Retry(ctx, task.ID, now.Add(2*time.Minute))
	require.NoError(t, err)
	assert.False(t, applied)
}

func TestUpdateProgress(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewMemoryTaskStore(testPolicy)
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	task := newTestTask(t, now)
	mustEnqueue(t, s, task)

	err := s.UpdateProgress(ctx, task.ID, domain.Progress{Completed: 3, Failed: 1, Total: 10}, now)
	require.NoError(t, err)

	got, err := s.GetByID(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.Progress{Completed: 3, Failed: 1, Total: 10}, got.Progress)

	err = s.UpdateProgress(ctx, uuid.New(), domain.Progress{}, now)
	assert.ErrorIs(t, err, ErrTaskNotFound)
}

func TestListFiltersAndPaginates(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewMemoryTaskStore(testPolicy)
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	var tasks []*domain.DownloadTask
	for i := 0; i < 5; i++ {
		task := newTestTask(t, base.Add(time.Duration(i)*time.Minute))
		mustEnqueue(t, s, task)
		tasks = append(tasks, task)
	}

	// Newest first.
	all, err := s.List(ctx, ListFilter{})
	require.NoError(t, err)
	require.Len(t, all, 5)
	assert.Equal(t, tasks[4].ID, all[0].ID)
	assert.Equal(t, tasks[0].ID, all[4].ID)

	// Status filter.
	_, err = s.Lease(ctx, "worker-a", base.Add(time.Hour))
	require.NoError(t, err)
	running, err := s.List(ctx, ListFilter{Status: domain.TaskStatusRunning})
	require.NoError(t, err)
	require.Len(t, running, 1)
	assert.Equal(t, tasks[0].ID, running[0].ID)

	// Entity filter.
	byEntity, err := s.List(ctx, ListFilter{EntityID: tasks[2].Payload.EntityID})
	require.NoError(t, err)
	require.Len(t, byEntity, 1)
	assert.Equal(t, tasks[2].ID, byEntity[0].ID)

	// Paging.
	page, err := s.List(ctx, ListFilter{Offset: 1, Limit: 2})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, tasks[3].ID, page[0].ID)
	assert.Equal(t, tasks[2].ID, page[1].ID)

	// Offset past the end.
	empty, err := s.List(ctx, ListFilter{Offset: 10})
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestCountByStatus(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewMemoryTaskStore(testPolicy)
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	first := newTestTask(t, now)
	second := newTestTask(t, now.Add(time.Second))
	mustEnqueue(t, s, first)
	mustEnqueue(t, s, second)

	_, err := s.Lease(ctx, "worker-a", now.Add(time.Minute))
	require.NoError(t, err)

	counts, err := s.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts[domain.TaskStatusPending])
	assert.Equal(t, int64(1), counts[domain.TaskStatusRunning])
}

func TestDeleteTerminalBefore(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewMemoryTaskStore(testPolicy)
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	oldDone := newTestTask(t, now)
	recentDone := newTestTask(t, now.Add(time.Second))
	stillPending := newTestTask(t, now.Add(2*time.Second))
	mustEnqueue(t, s, oldDone)
	mustEnqueue(t, s, recentDone)
	mustEnqueue(t, s, stillPending)

	leased, err := s.Lease(ctx, "worker-a", now.Add(time.Minute))
	require.NoError(t, err)
	require.Equal(t, oldDone.ID, leased.ID)
	applied, err := s.Complete(ctx, oldDone.ID, "worker-a", nil, now.Add(time.Minute))
	require.NoError(t, err)
	require.True(t, applied)

	leased, err = s.Lease(ctx, "worker-a", now.Add(2*time.Minute))
	require.NoError(t, err)
	require.Equal(t, recentDone.ID, leased.ID)
	applied, err = s.Complete(ctx, recentDone.ID, "worker-a", nil, now.Add(30*24*time.Hour))
	require.NoError(t, err)
	require.True(t, applied)

	count, err := s.DeleteTerminalBefore(ctx, now.Add(7*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	_, err = s.GetByID(ctx, oldDone.ID)
	assert.ErrorIs(t, err, ErrTaskNotFound)
	_, err = s.GetByID(ctx, recentDone.ID)
	assert.NoError(t, err)
	_, err = s.GetByID(ctx, stillPending.ID)
	assert.NoError(t, err)
}

func TestGetByIDReturnsSnapshot(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewMemoryTaskStore(testPolicy)
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	task := newTestTask(t, now)
	mustEnqueue(t, s, task)

	snap, err := s.GetByID(ctx, task.ID)
	require.NoError(t, err)
	snap.Status = domain.TaskStatusFailed

	got, err := s.GetByID(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusPending, got.Status)
}
