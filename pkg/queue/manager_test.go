package queue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type greetJob struct {
	Name string
	Err  error `json:"-"`
}

func (j *greetJob) Handle() error { return j.Err }

type tunableJob struct {
	greetJob
}

func (j *tunableJob) JobQueue() string                    { return "reports" }
func (j *tunableJob) JobPriority() int                    { return 2 }
func (j *tunableJob) JobMaxAttempts() int                 { return 7 }
func (j *tunableJob) JobTimeout() time.Duration           { return 90 * time.Second }
func (j *tunableJob) JobBackoffStrategy() BackoffStrategy { return BackoffLinear }
func (j *tunableJob) JobRetryDelay() time.Duration        { return 5 * time.Second }

func newTestManager() *Manager {
	m := NewManager(NewMemoryStore())
	m.RegisterJob("*queue.greetJob", func() Job { return &greetJob{} })
	m.RegisterJob("*queue.tunableJob", func() Job { return &tunableJob{} })
	return m
}

func TestManager_Add_PersistsRowWithDefaults(t *testing.T) {
	m := newTestManager()

	id, err := m.Add(&greetJob{Name: "ada"})
	require.NoError(t, err)
	assert.NotZero(t, id)

	store := m.Store().(*MemoryStore)
	row := store.jobs[id]
	require.NotNil(t, row)
	assert.Equal(t, "default", row.Queue)
	assert.Equal(t, 5, row.Priority)
	assert.Equal(t, 3, row.MaxAttempts)
	assert.Equal(t, StatusPending, row.Status)
	assert.Contains(t, row.Payload, "ada")
}

func TestManager_Add_TunableJobOverridesDefaults(t *testing.T) {
	m := newTestManager()

	id, err := m.Add(&tunableJob{greetJob: greetJob{Name: "grace"}})
	require.NoError(t, err)

	row := m.Store().(*MemoryStore).jobs[id]
	require.NotNil(t, row)
	assert.Equal(t, "reports", row.Queue)
	assert.Equal(t, 2, row.Priority)
	assert.Equal(t, 7, row.MaxAttempts)
	assert.Equal(t, BackoffLinear, row.BackoffStrategy)
}

func TestManager_Add_AddOptionOverridesTunableJob(t *testing.T) {
	m := newTestManager()

	id, err := m.Add(&tunableJob{greetJob: greetJob{Name: "grace"}}, WithPriority(9), WithQueue("urgent"))
	require.NoError(t, err)

	row := m.Store().(*MemoryStore).jobs[id]
	require.NotNil(t, row)
	assert.Equal(t, "urgent", row.Queue)
	assert.Equal(t, 9, row.Priority)
}

func TestManager_Add_DisabledRunsSynchronously(t *testing.T) {
	m := NewManager(NewMemoryStore(), WithEnabled(false))

	id, err := m.Add(&greetJob{Name: "sync"})
	require.NoError(t, err)
	assert.Zero(t, id)

	stats, err := m.Stats("")
	require.NoError(t, err)
	assert.Zero(t, stats.Pending, "disabled manager never writes a row")
}

func TestManager_Add_DisabledPropagatesHandleError(t *testing.T) {
	m := NewManager(NewMemoryStore(), WithEnabled(false))

	boom := assert.AnError
	_, err := m.Add(&greetJob{Err: boom})
	assert.ErrorIs(t, err, boom)
}

func TestManager_Process_ExecutesOneJob(t *testing.T) {
	m := newTestManager()
	_, err := m.Add(&greetJob{Name: "ada"})
	require.NoError(t, err)

	processed, err := m.Process("")
	require.NoError(t, err)
	assert.True(t, processed)

	stats, err := m.Stats("")
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Completed)
}

func TestManager_Process_NothingToDo(t *testing.T) {
	m := newTestManager()

	processed, err := m.Process("")
	require.NoError(t, err)
	assert.False(t, processed)
}

func TestManager_ProcessBatch_DrainsUpToSize(t *testing.T) {
	m := newTestManager()
	for i := 0; i < 5; i++ {
		_, err := m.Add(&greetJob{Name: "job"})
		require.NoError(t, err)
	}

	result := m.ProcessBatch(3, "", time.Second)
	assert.Equal(t, 3, result.Processed)
	assert.Equal(t, 3, result.Successful)
	assert.Equal(t, 0, result.Failed)

	stats, err := m.Stats("")
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.Pending)
}

func TestManager_ProcessBatch_CountsFailuresSeparately(t *testing.T) {
	m := newTestManager()
	boom := assert.AnError
	_, err := m.Add(&greetJob{Err: boom}, WithMaxAttempts(1))
	require.NoError(t, err)

	result := m.ProcessBatch(1, "", time.Second)
	assert.Equal(t, 1, result.Processed)
	assert.Equal(t, 0, result.Successful)
	assert.Equal(t, 1, result.Failed)

	failed, err := m.ListFailed(10, 0)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, boom.Error(), failed[0].Exception)
}

func TestManager_RetryFailed_RequeuesRow(t *testing.T) {
	m := newTestManager()
	boom := assert.AnError
	_, err := m.Add(&greetJob{Err: boom}, WithMaxAttempts(1))
	require.NoError(t, err)
	m.ProcessBatch(1, "", time.Second)

	failed, err := m.ListFailed(10, 0)
	require.NoError(t, err)
	require.Len(t, failed, 1)

	require.NoError(t, m.RetryFailed(failed[0].ID))

	stats, err := m.Stats("")
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Pending)
	assert.Equal(t, int64(0), stats.Failed)
}

func TestManager_ReleaseStuckAndPurgeOld(t *testing.T) {
	m := newTestManager()
	n, err := m.ReleaseStuck()
	require.NoError(t, err)
	assert.Zero(t, n)

	purged, err := m.PurgeOld(30)
	require.NoError(t, err)
	assert.Zero(t, purged)
}

func TestDispatch_UsesDefaultManager(t *testing.T) {
	prior := currentDefaultManager()
	t.Cleanup(func() { SetDefaultManager(prior) })

	m := newTestManager()
	SetDefaultManager(m)

	id, err := Dispatch(&greetJob{Name: "via default"})
	require.NoError(t, err)
	assert.NotZero(t, id)
}

func TestDispatchAfter_DelaysAvailability(t *testing.T) {
	prior := currentDefaultManager()
	t.Cleanup(func() { SetDefaultManager(prior) })

	m := newTestManager()
	SetDefaultManager(m)

	id, err := DispatchAfter(&greetJob{Name: "later"}, time.Hour)
	require.NoError(t, err)

	row := m.Store().(*MemoryStore).jobs[id]
	require.NotNil(t, row)
	assert.True(t, row.AvailableAt.After(time.Now().Add(50*time.Minute)))
	assert.Equal(t, StatusDelayed, row.Status)
}
