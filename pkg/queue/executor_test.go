package queue

import (
	"context"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeJob struct {
	Value string
	fail  bool
	panic bool
}

func (j *fakeJob) Handle() error {
	if j.panic {
		panic("kaboom")
	}
	if j.fail {
		return assert.AnError
	}
	return nil
}

func newExecutorFixture() (*JobExecutor, *MemoryStore) {
	store := NewMemoryStore()
	resolve := func(task string) (Job, error) {
		switch task {
		case "ok":
			return &fakeJob{}, nil
		case "fail":
			return &fakeJob{fail: true}, nil
		case "panic":
			return &fakeJob{panic: true}, nil
		default:
			return nil, ErrJobNotRegistered
		}
	}
	return NewJobExecutor(store, resolve), store
}

func TestExecutor_Execute_NilRowIsNoop(t *testing.T) {
	executor, _ := newExecutorFixture()
	processed, err := executor.Execute(context.Background(), nil)
	assert.False(t, processed)
	assert.NoError(t, err)
}

func TestExecutor_Execute_Success(t *testing.T) {
	executor, store := newExecutorFixture()
	id, err := store.InsertJob(context.Background(), &JobRow{Status: StatusPending, Task: "ok", Payload: `{"value":"x"}`, MaxAttempts: 3})
	require.NoError(t, err)
	row, err := store.ClaimNext(context.Background(), "", time.Now())
	require.NoError(t, err)
	require.NotNil(t, row)

	processed, err := executor.Execute(context.Background(), row)
	assert.True(t, processed)
	assert.NoError(t, err)
	assert.Equal(t, StatusCompleted, store.jobs[id].Status)
}

func TestExecutor_Execute_UnregisteredTaskDeadLetters(t *testing.T) {
	executor, store := newExecutorFixture()
	id, err := store.InsertJob(context.Background(), &JobRow{Status: StatusPending, Task: "unknown", MaxAttempts: 3})
	require.NoError(t, err)
	row, err := store.ClaimNext(context.Background(), "", time.Now())
	require.NoError(t, err)

	processed, err := executor.Execute(context.Background(), row)
	assert.True(t, processed)
	assert.ErrorIs(t, err, ErrJobNotRegistered)
	assert.Equal(t, StatusFailed, store.jobs[id].Status)

	failed, err := store.ListFailed(context.Background(), 10, 0)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, id, failed[0].OriginalJobID)
}

func TestExecutor_Execute_UnmarshalErrorDeadLetters(t *testing.T) {
	executor, store := newExecutorFixture()
	id, err := store.InsertJob(context.Background(), &JobRow{Status: StatusPending, Task: "ok", Payload: `not json`, MaxAttempts: 3})
	require.NoError(t, err)
	row, err := store.ClaimNext(context.Background(), "", time.Now())
	require.NoError(t, err)

	processed, err := executor.Execute(context.Background(), row)
	assert.True(t, processed)
	assert.Error(t, err)
	assert.Equal(t, StatusFailed, store.jobs[id].Status)
}

func TestExecutor_Execute_FailureUnderMaxAttemptsReschedules(t *testing.T) {
	executor, store := newExecutorFixture()
	id, err := store.InsertJob(context.Background(), &JobRow{
		Status: StatusPending, Task: "fail", MaxAttempts: 3, BackoffStrategy: BackoffFixed, RetryDelay: time.Minute,
	})
	require.NoError(t, err)
	row, err := store.ClaimNext(context.Background(), "", time.Now())
	require.NoError(t, err)

	processed, err := executor.Execute(context.Background(), row)
	assert.True(t, processed)
	assert.Error(t, err)

	updated := store.jobs[id]
	assert.Equal(t, StatusDelayed, updated.Status)
	assert.Equal(t, assert.AnError.Error(), updated.LastError)
}

func TestExecutor_Execute_FailureAtMaxAttemptsDeadLetters(t *testing.T) {
	executor, store := newExecutorFixture()
	id, err := store.InsertJob(context.Background(), &JobRow{Status: StatusPending, Task: "fail", MaxAttempts: 1})
	require.NoError(t, err)
	row, err := store.ClaimNext(context.Background(), "", time.Now())
	require.NoError(t, err)

	processed, err := executor.Execute(context.Background(), row)
	assert.True(t, processed)
	assert.Error(t, err)
	assert.Equal(t, StatusFailed, store.jobs[id].Status)
}

func TestExecutor_Execute_PanicIsRecoveredAsError(t *testing.T) {
	executor, store := newExecutorFixture()
	id, err := store.InsertJob(context.Background(), &JobRow{Status: StatusPending, Task: "panic", MaxAttempts: 1})
	require.NoError(t, err)
	row, err := store.ClaimNext(context.Background(), "", time.Now())
	require.NoError(t, err)

	processed, err := executor.Execute(context.Background(), row)
	assert.True(t, processed)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kaboom")
	assert.Equal(t, StatusFailed, store.jobs[id].Status)
}

func TestMemDelta_ClampsNegativeToZero(t *testing.T) {
	before := runtime.MemStats{TotalAlloc: 100}
	after := runtime.MemStats{TotalAlloc: 50}
	assert.Equal(t, uint64(0), memDelta(before, after))

	before = runtime.MemStats{TotalAlloc: 50}
	after = runtime.MemStats{TotalAlloc: 100}
	assert.Equal(t, uint64(50), memDelta(before, after))
}

func TestExecutor_DeadLetterHookFires(t *testing.T) {
	executor, store := newExecutorFixture()

	var hooked []FailedJobRow
	executor.SetDeadLetterHook(func(row FailedJobRow) { hooked = append(hooked, row) })

	id, err := store.InsertJob(context.Background(), &JobRow{Status: StatusPending, Task: "fail", Queue: "reports", MaxAttempts: 1})
	require.NoError(t, err)
	row, err := store.ClaimNext(context.Background(), "", time.Now())
	require.NoError(t, err)

	_, err = executor.Execute(context.Background(), row)
	require.Error(t, err)

	require.Len(t, hooked, 1)
	assert.Equal(t, id, hooked[0].OriginalJobID)
	assert.Equal(t, "reports", hooked[0].Queue)
}

func TestExecutor_DeadLetterHookSkippedOnRetry(t *testing.T) {
	executor, store := newExecutorFixture()

	fired := false
	executor.SetDeadLetterHook(func(FailedJobRow) { fired = true })

	_, err := store.InsertJob(context.Background(), &JobRow{Status: StatusPending, Task: "fail", MaxAttempts: 3})
	require.NoError(t, err)
	row, err := store.ClaimNext(context.Background(), "", time.Now())
	require.NoError(t, err)

	_, err = executor.Execute(context.Background(), row)
	require.Error(t, err)
	assert.False(t, fired, "a rescheduled attempt is not a dead letter")
}
