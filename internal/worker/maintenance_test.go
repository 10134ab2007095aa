package worker

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phrazzld/crate-api/internal/domain"
	"github.com/phrazzld/crate-api/internal/store"
)

func testMaintenanceConfig() MaintenanceConfig {
	return MaintenanceConfig{
		RetentionDays: 7,
		PurgeSchedule: "@daily",
		StatsSchedule: "@every 1m",
	}
}

// completeTask drives a task through lease and completion at the given
// instant.
func completeTask(t *testing.T, s store.TaskStore, task *domain.DownloadTask, at time.Time) {
	t.Helper()

	leased, err := s.Lease(context.Background(), "worker-test", at)
	require.NoError(t, err)
	require.Equal(t, task.ID, leased.ID)

	applied, err := s.Complete(context.Background(), task.ID, "worker-test",
		&domain.DownloadResult{Completed: 1, Total: 1}, at)
	require.NoError(t, err)
	require.True(t, applied)
}

func TestNewMaintenanceRejectsBadSchedule(t *testing.T) {
	t.Parallel()

	s := store.NewMemoryTaskStore(testLeasePolicy)
	cfg := testMaintenanceConfig()
	cfg.PurgeSchedule = "not a cron expression"

	_, err := NewMaintenance(s, cfg, RealClock{}, newTestMetrics(), discardLogger())
	assert.Error(t, err)
}

func TestMaintenancePurgeDeletesOldTerminalTasks(t *testing.T) {
	t.Parallel()

	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	clock := newFakeClock(start)
	s := store.NewMemoryTaskStore(testLeasePolicy)

	old, err := domain.NewDownloadTask(domain.DownloadPayload{
		TaskType: domain.TaskTypeTrack,
		EntityID: "old-done",
	}, 3)
	require.NoError(t, err)
	require.NoError(t, s.Enqueue(context.Background(), old))
	completeTask(t, s, old, start)

	pending, err := domain.NewDownloadTask(domain.DownloadPayload{
		TaskType: domain.TaskTypeTrack,
		EntityID: "still-pending",
	}, 3)
	require.NoError(t, err)
	require.NoError(t, s.Enqueue(context.Background(), pending))

	mt, err := NewMaintenance(s, testMaintenanceConfig(), clock, newTestMetrics(), discardLogger())
	require.NoError(t, err)

	// Inside the retention window nothing is deleted.
	clock.Advance(24 * time.Hour)
	mt.purge()
	_, err = s.GetByID(context.Background(), old.ID)
	require.NoError(t, err)

	// Past the window the terminal task goes, the pending one stays.
	clock.Advance(7 * 24 * time.Hour)
	mt.purge()

	_, err = s.GetByID(context.Background(), old.ID)
	assert.ErrorIs(t, err, store.ErrTaskNotFound)
	_, err = s.GetByID(context.Background(), pending.ID)
	assert.NoError(t, err)
}

func TestMaintenanceRefreshStatsSetsGauges(t *testing.T) {
	t.Parallel()

	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	s := store.NewMemoryTaskStore(testLeasePolicy)

	for _, entity := range []string{"p1", "p2"} {
		task, err := domain.NewDownloadTask(domain.DownloadPayload{
			TaskType: domain.TaskTypeTrack,
			EntityID: entity,
		}, 3)
		require.NoError(t, err)
		require.NoError(t, s.Enqueue(context.Background(), task))
	}

	done, err := domain.NewDownloadTask(domain.DownloadPayload{
		TaskType: domain.TaskTypeTrack,
		EntityID: "d1",
	}, 3)
	require.NoError(t, err)
	require.NoError(t, s.Enqueue(context.Background(), done))
	completeTask(t, s, done, start)

	m := newTestMetrics()
	mt, err := NewMaintenance(s, testMaintenanceConfig(), newFakeClock(start), m, discardLogger())
	require.NoError(t, err)

	mt.refreshStats()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.QueueDepth.WithLabelValues(string(domain.TaskStatusPending))))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.QueueDepth.WithLabelValues(string(domain.TaskStatusDone))))
	// Statuses with no tasks report an explicit zero.
	assert.Equal(t, 0.0, testutil.ToFloat64(m.QueueDepth.WithLabelValues(string(domain.TaskStatusFailed))))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.QueueDepth.WithLabelValues(string(domain.TaskStatusRunning))))
}

func TestMaintenanceStartTakesImmediateSnapshot(t *testing.T) {
	t.Parallel()

	s := store.NewMemoryTaskStore(testLeasePolicy)
	task, err := domain.NewDownloadTask(domain.DownloadPayload{
		TaskType: domain.TaskTypeTrack,
		EntityID: "snapshot",
	}, 3)
	require.NoError(t, err)
	require.NoError(t, s.Enqueue(context.Background(), task))

	m := newTestMetrics()
	mt, err := NewMaintenance(s, testMaintenanceConfig(), RealClock{}, m, discardLogger())
	require.NoError(t, err)

	mt.Start()
	defer mt.Stop()

	assert.Equal(t, 1.0, testutil.ToFloat64(m.QueueDepth.WithLabelValues(string(domain.TaskStatusPending))))
}
