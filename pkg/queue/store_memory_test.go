package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_ClaimNext_OrdersByPriorityThenAge(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	now := time.Now()

	old := &JobRow{Queue: "default", Task: "T", Status: StatusPending, Priority: 5, AvailableAt: now, CreatedAt: now.Add(-time.Minute)}
	urgent := &JobRow{Queue: "default", Task: "T", Status: StatusPending, Priority: 1, AvailableAt: now, CreatedAt: now}
	newer := &JobRow{Queue: "default", Task: "T", Status: StatusPending, Priority: 5, AvailableAt: now, CreatedAt: now}

	_, err := s.InsertJob(ctx, old)
	require.NoError(t, err)
	_, err = s.InsertJob(ctx, urgent)
	require.NoError(t, err)
	_, err = s.InsertJob(ctx, newer)
	require.NoError(t, err)

	claimed, err := s.ClaimNext(ctx, "", now)
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, urgent.ID, claimed.ID)
	assert.Equal(t, StatusProcessing, claimed.Status)
	assert.Equal(t, 1, claimed.Attempts)

	claimed, err = s.ClaimNext(ctx, "", now)
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, old.ID, claimed.ID, "equal priority breaks ties by oldest CreatedAt")
}

func TestMemoryStore_ClaimNext_RespectsQueueAndAvailability(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	now := time.Now()

	_, err := s.InsertJob(ctx, &JobRow{Queue: "emails", Task: "T", Status: StatusPending, AvailableAt: now, CreatedAt: now})
	require.NoError(t, err)
	_, err = s.InsertJob(ctx, &JobRow{Queue: "default", Task: "T", Status: StatusPending, AvailableAt: now.Add(time.Hour), CreatedAt: now})
	require.NoError(t, err)

	claimed, err := s.ClaimNext(ctx, "reports", now)
	require.NoError(t, err)
	assert.Nil(t, claimed, "no job queued on this queue")

	claimed, err = s.ClaimNext(ctx, "default", now)
	require.NoError(t, err)
	assert.Nil(t, claimed, "the only default-queue job isn't available yet")

	claimed, err = s.ClaimNext(ctx, "emails", now)
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, "emails", claimed.Queue)
}

func TestMemoryStore_ClaimNext_ScopedAndUnscopedNeverDoubleClaim(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	now := time.Now()

	const jobs = 50
	for i := 0; i < jobs; i++ {
		_, err := s.InsertJob(ctx, &JobRow{Queue: "reports", Task: "T", Status: StatusPending, Priority: 5, AvailableAt: now, CreatedAt: now})
		require.NoError(t, err)
	}

	var mu sync.Mutex
	claims := map[int64]int{}

	var wg sync.WaitGroup
	for _, queueName := range []string{"", "reports"} {
		for w := 0; w < 4; w++ {
			wg.Add(1)
			go func(queueName string) {
				defer wg.Done()
				for {
					row, err := s.ClaimNext(ctx, queueName, now)
					if err != nil || row == nil {
						return
					}
					mu.Lock()
					claims[row.ID]++
					mu.Unlock()
				}
			}(queueName)
		}
	}
	wg.Wait()

	assert.Len(t, claims, jobs, "every job claimed exactly once across both scopes")
	for id, n := range claims {
		assert.Equalf(t, 1, n, "job %d claimed %d times", id, n)
	}
}

func TestMemoryStore_ReleaseDelayed_IsIdempotent(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	now := time.Now()

	id, err := s.InsertJob(ctx, &JobRow{Queue: "default", Task: "T", Status: StatusDelayed, AvailableAt: now.Add(-time.Second)})
	require.NoError(t, err)

	touched, err := s.ReleaseDelayed(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, touched)

	touched, err = s.ReleaseDelayed(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 0, touched, "second call finds nothing left in delayed state")

	row, ok := s.jobs[id]
	require.True(t, ok)
	assert.Equal(t, StatusPending, row.Status)
}

func TestMemoryStore_RescheduleForRetry_PicksStatusFromAvailableAt(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	id, err := s.InsertJob(ctx, &JobRow{Queue: "default", Task: "T", Status: StatusProcessing})
	require.NoError(t, err)

	require.NoError(t, s.RescheduleForRetry(ctx, id, time.Now().Add(time.Hour), "boom"))
	row := s.jobs[id]
	assert.Equal(t, StatusDelayed, row.Status)
	assert.Equal(t, "boom", row.LastError)

	require.NoError(t, s.RescheduleForRetry(ctx, id, time.Now().Add(-time.Second), "boom again"))
	assert.Equal(t, StatusPending, s.jobs[id].Status)
}

func TestMemoryStore_MoveToFailed_AndRetryFailed(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	id, err := s.InsertJob(ctx, &JobRow{Queue: "default", Task: "T", Payload: `{"a":1}`, Priority: 4, MaxAttempts: 3, Status: StatusProcessing})
	require.NoError(t, err)
	row := s.jobs[id]

	require.NoError(t, s.MoveToFailed(ctx, row, FailedJobRow{
		Queue: row.Queue, Task: row.Task, Payload: row.Payload, Exception: "dead", TotalAttempts: 3, Priority: row.Priority,
	}))
	assert.Equal(t, StatusFailed, s.jobs[id].Status)

	failedRows, err := s.ListFailed(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, failedRows, 1)
	failedID := failedRows[0].ID

	require.NoError(t, s.RetryFailed(ctx, failedID))
	_, err = s.GetFailed(ctx, failedID)
	assert.ErrorIs(t, err, ErrFailedJobNotFound, "retried failure record is removed")

	var requeued *JobRow
	for _, r := range s.jobs {
		if r.ID != id {
			requeued = r
		}
	}
	require.NotNil(t, requeued)
	assert.Equal(t, StatusPending, requeued.Status)
	assert.Equal(t, 0, requeued.Attempts)
}

func TestMemoryStore_ReleaseStuck_UsesPerRowTimeout(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	now := time.Now()

	id, err := s.InsertJob(ctx, &JobRow{Queue: "default", Task: "T", Status: StatusProcessing, Timeout: time.Minute, UpdatedAt: now.Add(-2 * time.Minute)})
	require.NoError(t, err)

	touched, err := s.ReleaseStuck(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, touched)
	assert.Equal(t, StatusPending, s.jobs[id].Status)
}

func TestMemoryStore_Stats_OnlyAveragesActiveRows(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	now := time.Now()

	_, _ = s.InsertJob(ctx, &JobRow{Queue: "default", Task: "T", Status: StatusPending, Priority: 2, AvailableAt: now, CreatedAt: now})
	_, _ = s.InsertJob(ctx, &JobRow{Queue: "default", Task: "T", Status: StatusCompleted, Priority: 1, AvailableAt: now, CreatedAt: now})

	claimed, err := s.ClaimNext(ctx, "", now)
	require.NoError(t, err)
	require.NotNil(t, claimed)

	stats, err := s.Stats(ctx, "default")
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Completed)
	assert.Equal(t, int64(1), stats.Processing)
	assert.Equal(t, int64(1), stats.HighPriority)
	assert.Equal(t, 1.0, stats.AvgAttempts)
}

func TestMemoryStore_PurgeCompletedOrFailedOlderThan(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	cutoff := time.Now()

	oldID, err := s.InsertJob(ctx, &JobRow{Queue: "default", Task: "T", Status: StatusCompleted, UpdatedAt: cutoff.Add(-time.Hour)})
	require.NoError(t, err)
	_, err = s.InsertJob(ctx, &JobRow{Queue: "default", Task: "T", Status: StatusCompleted, UpdatedAt: cutoff.Add(time.Hour)})
	require.NoError(t, err)

	purged, err := s.PurgeCompletedOrFailedOlderThan(ctx, cutoff)
	require.NoError(t, err)
	assert.Equal(t, 1, purged)
	_, stillThere := s.jobs[oldID]
	assert.False(t, stillThere)
}

func TestMemoryStore_AppendLogAndLogs(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.AppendLog(ctx, LogRow{JobID: 1, Message: "started"}))
	require.NoError(t, s.AppendLog(ctx, LogRow{JobID: 1, Message: "finished"}))

	logs := s.Logs()
	require.Len(t, logs, 2)
	assert.Equal(t, "started", logs[0].Message)
}
