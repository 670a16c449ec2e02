package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/lalaz-foundation/forge/pkg/event"
)

// QueueEventDriver is the publish-side half of the event/queue bridge: it
// satisfies event.Driver by serializing a publication into an EventJob and
// enqueuing it on a Manager, instead of running listeners inline.
type QueueEventDriver struct {
	manager  *Manager
	queue    string
	priority int
	delay    time.Duration
}

// NewQueueEventDriver builds a QueueEventDriver that enqueues onto manager,
// defaulting to queue and priority for publications that don't override
// them via Options.
func NewQueueEventDriver(manager *Manager, queue string, priority int) *QueueEventDriver {
	return &QueueEventDriver{manager: manager, queue: queue, priority: priority}
}

// WithDefaultDelay sets the delay applied when a publication's Options
// does not specify one.
func (d *QueueEventDriver) WithDefaultDelay(delay time.Duration) *QueueEventDriver {
	d.delay = delay
	return d
}

// IsAvailable reports whether a manager is installed and enabled. The
// reachability of the manager's store is not checked.
func (d *QueueEventDriver) IsAvailable() bool {
	if d.manager == nil {
		return false
	}
	d.manager.mu.RLock()
	defer d.manager.mu.RUnlock()
	return d.manager.enabled
}

// Publish serializes (event, payload) into the bridge's wire format and
// enqueues an EventJob carrying it.
func (d *QueueEventDriver) Publish(name string, payload any, opts event.Options) error {
	eventData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("queue: marshal event payload: %w", err)
	}

	job := &EventJob{
		EventName: name,
		EventData: string(eventData),
		// PublishedAt uses the "YYYY-MM-DD HH:MM:SS" wire format, not
		// RFC3339: rows are read by non-Go tooling too.
		PublishedAt: time.Now().Format("2006-01-02 15:04:05"),
	}

	queueName := d.queue
	if opts.Queue != "" {
		queueName = opts.Queue
	}
	priority := d.priority
	if opts.Priority != nil {
		priority = *opts.Priority
	}
	delay := d.delay
	if opts.Delay != nil {
		delay = *opts.Delay
	}

	addOpts := []AddOption{WithQueue(queueName), WithPriority(priority)}
	if delay > 0 {
		addOpts = append(addOpts, WithDelay(delay))
	}

	_, err = d.manager.Add(job, addOpts...)
	return err
}

// dispatcherSlot is the pluggable source EventJob consults to find the
// dispatcher it should re-publish through. Tests may override it with
// SetDispatcherResolver; production wiring installs the application's
// singleton dispatcher at boot.
var dispatcherSlot func() *event.Dispatcher

// SetDispatcherResolver installs the function EventJob uses to locate the
// dispatcher it re-publishes through. Pass nil to make EventJob a no-op
// (every event_name is silently dropped).
func SetDispatcherResolver(resolve func() *event.Dispatcher) {
	dispatcherSlot = resolve
}

// EventJob is the worker-side half of the bridge: deserializing the wire
// payload and re-publishing it synchronously, so listeners run on the
// worker's goroutine rather than the original publisher's.
type EventJob struct {
	EventName   string `json:"event_name"`
	EventData   string `json:"event_data"`
	PublishedAt string `json:"published_at"`
}

// UnmarshalJSON tolerates a missing event_name/event_data, and an
// event_data that isn't a JSON string at all — the wire contract (§6)
// requires decoders to degrade to an empty payload rather than fail the
// whole job for any of those shapes.
func (j *EventJob) UnmarshalJSON(data []byte) error {
	var raw struct {
		EventName   string          `json:"event_name"`
		EventData   json.RawMessage `json:"event_data"`
		PublishedAt string          `json:"published_at"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	j.EventName = raw.EventName
	j.PublishedAt = raw.PublishedAt

	var asString string
	if len(raw.EventData) > 0 && json.Unmarshal(raw.EventData, &asString) == nil {
		j.EventData = asString
	} else {
		j.EventData = ""
	}
	return nil
}

// JobQueue, JobPriority, JobMaxAttempts, JobTimeout, JobBackoffStrategy,
// and JobRetryDelay implement TunableJob with the bridge's default tuning.
func (j *EventJob) JobQueue() string                    { return "events" }
func (j *EventJob) JobPriority() int                    { return 9 }
func (j *EventJob) JobMaxAttempts() int                 { return 5 }
func (j *EventJob) JobTimeout() time.Duration           { return 60 * time.Second }
func (j *EventJob) JobBackoffStrategy() BackoffStrategy { return BackoffExponential }
func (j *EventJob) JobRetryDelay() time.Duration        { return 30 * time.Second }

// Handle decodes the nested event_data and re-publishes event_name
// synchronously through the resolved dispatcher.
func (j *EventJob) Handle() error {
	if j.EventName == "" {
		return nil
	}

	payload := decodeEventData(j.EventData)

	if dispatcherSlot == nil {
		return nil
	}
	dispatcher := dispatcherSlot()
	if dispatcher == nil {
		return nil
	}

	return dispatcher.TriggerSync(j.EventName, payload)
}

func decodeEventData(raw string) any {
	if raw == "" {
		return map[string]any{}
	}

	var decoded any
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		return map[string]any{}
	}
	if decoded == nil {
		return map[string]any{}
	}
	return decoded
}
