package queue

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lalaz-foundation/forge/pkg/event"
)

func TestQueueEventDriver_Publish_EnqueuesEventJobWithDefaults(t *testing.T) {
	m := NewManager(NewMemoryStore())
	m.RegisterJob("*queue.EventJob", func() Job { return &EventJob{} })
	driver := NewQueueEventDriver(m, "events", 9)

	require.NoError(t, driver.Publish("user.created", map[string]any{"id": float64(1)}, event.Options{}))

	store := m.Store().(*MemoryStore)
	require.Len(t, store.jobs, 1)
	var row *JobRow
	for _, r := range store.jobs {
		row = r
	}
	assert.Equal(t, "events", row.Queue)
	assert.Equal(t, 9, row.Priority)
	assert.Equal(t, "*queue.EventJob", row.Task)
	assert.Contains(t, row.Payload, "user.created")
}

func TestQueueEventDriver_Publish_WireFormat(t *testing.T) {
	m := NewManager(NewMemoryStore())
	m.RegisterJob("*queue.EventJob", func() Job { return &EventJob{} })
	driver := NewQueueEventDriver(m, "events", 9)

	require.NoError(t, driver.Publish("user.created", map[string]any{"id": 1, "name": "John"}, event.Options{}))

	store := m.Store().(*MemoryStore)
	var row *JobRow
	for _, r := range store.jobs {
		row = r
	}
	require.NotNil(t, row)

	var wire map[string]any
	require.NoError(t, json.Unmarshal([]byte(row.Payload), &wire))
	assert.Equal(t, "user.created", wire["event_name"])
	assert.Equal(t, `{"id":1,"name":"John"}`, wire["event_data"])
	publishedAt, ok := wire["published_at"].(string)
	require.True(t, ok)
	assert.Regexp(t, `^\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2}$`, publishedAt)
}

func TestBridge_RoundTrip_EnqueueThenDrainRepublishes(t *testing.T) {
	m := NewManager(NewMemoryStore())
	m.RegisterJob("*queue.EventJob", func() Job { return &EventJob{} })

	dispatcher := event.New(event.NewDirectResolver())
	dispatcher.SetAsyncDriver(NewQueueEventDriver(m, "events", 9))
	SetDispatcherResolver(func() *event.Dispatcher { return dispatcher })
	t.Cleanup(func() { SetDispatcherResolver(nil) })

	var seen []any
	require.NoError(t, dispatcher.Register("user.created", event.Closure(func(payload any) error {
		seen = append(seen, payload)
		return nil
	}), 0))

	require.NoError(t, dispatcher.Trigger("user.created", map[string]any{"id": 1}))
	assert.Empty(t, seen, "listener must not run on the publish side")

	result := m.ProcessBatch(10, "", time.Second)
	assert.Equal(t, 1, result.Processed)
	assert.Equal(t, 1, result.Successful)

	require.Len(t, seen, 1, "draining the queue re-publishes the event exactly once")
	decoded, ok := seen[0].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(1), decoded["id"])
}

func TestQueueEventDriver_Publish_OptionsOverrideDriverDefaults(t *testing.T) {
	m := NewManager(NewMemoryStore())
	m.RegisterJob("*queue.EventJob", func() Job { return &EventJob{} })
	driver := NewQueueEventDriver(m, "events", 9).WithDefaultDelay(time.Hour)

	priority := 2
	delay := time.Minute
	require.NoError(t, driver.Publish("user.created", nil, event.Options{
		Queue: "urgent", Priority: &priority, Delay: &delay,
	}))

	store := m.Store().(*MemoryStore)
	var row *JobRow
	for _, r := range store.jobs {
		row = r
	}
	assert.Equal(t, "urgent", row.Queue)
	assert.Equal(t, 2, row.Priority)
	assert.True(t, row.AvailableAt.After(time.Now().Add(50*time.Second)))
	assert.True(t, row.AvailableAt.Before(time.Now().Add(90*time.Second)))
}

func TestQueueEventDriver_IsAvailable(t *testing.T) {
	driver := NewQueueEventDriver(NewManager(NewMemoryStore()), "events", 9)
	assert.True(t, driver.IsAvailable())

	driver = NewQueueEventDriver(nil, "events", 9)
	assert.False(t, driver.IsAvailable())
}

func TestEventJob_TunableDefaults(t *testing.T) {
	job := &EventJob{}
	assert.Equal(t, "events", job.JobQueue())
	assert.Equal(t, 9, job.JobPriority())
	assert.Equal(t, 5, job.JobMaxAttempts())
	assert.Equal(t, 60*time.Second, job.JobTimeout())
	assert.Equal(t, BackoffExponential, job.JobBackoffStrategy())
	assert.Equal(t, 30*time.Second, job.JobRetryDelay())
}

func TestEventJob_Handle_EmptyEventNameIsNoop(t *testing.T) {
	job := &EventJob{}
	assert.NoError(t, job.Handle())
}

func TestEventJob_Handle_NoResolverIsNoop(t *testing.T) {
	SetDispatcherResolver(nil)
	job := &EventJob{EventName: "user.created", EventData: `{"id":1}`}
	assert.NoError(t, job.Handle())
}

func TestEventJob_Handle_RepublishesThroughResolvedDispatcher(t *testing.T) {
	dispatcher := event.New(event.NewDirectResolver())
	var seen any
	require.NoError(t, dispatcher.Register("user.created", event.Closure(func(payload any) error {
		seen = payload
		return nil
	}), 0))

	SetDispatcherResolver(func() *event.Dispatcher { return dispatcher })
	t.Cleanup(func() { SetDispatcherResolver(nil) })

	job := &EventJob{EventName: "user.created", EventData: `{"id":1}`}
	require.NoError(t, job.Handle())

	decoded, ok := seen.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(1), decoded["id"])
}

func TestEventJob_UnmarshalJSON_ToleratesMissingEventData(t *testing.T) {
	var job EventJob
	require.NoError(t, json.Unmarshal([]byte(`{"event_name":"user.created"}`), &job))
	assert.Equal(t, "user.created", job.EventName)
	assert.Equal(t, "", job.EventData)
}

func TestEventJob_UnmarshalJSON_ToleratesNonStringEventData(t *testing.T) {
	var job EventJob
	require.NoError(t, json.Unmarshal([]byte(`{"event_name":"user.created","event_data":{"id":1}}`), &job))
	assert.Equal(t, "", job.EventData, "non-string event_data degrades to empty rather than failing the job")
}

func TestEventJob_UnmarshalJSON_AcceptsStringEventData(t *testing.T) {
	var job EventJob
	require.NoError(t, json.Unmarshal([]byte(`{"event_name":"x","event_data":"{\"id\":1}"}`), &job))
	assert.Equal(t, `{"id":1}`, job.EventData)
}

func TestDecodeEventData(t *testing.T) {
	assert.Equal(t, map[string]any{}, decodeEventData(""))
	assert.Equal(t, map[string]any{}, decodeEventData("not json"))
	assert.Equal(t, map[string]any{}, decodeEventData("null"))
	assert.Equal(t, map[string]any{"id": float64(1)}, decodeEventData(`{"id":1}`))
}
