package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/lalaz-foundation/forge/pkg/logger"
)

// AddOption overrides one field of a job row when it is enqueued; a
// TunableJob's own declarations are applied first, then AddOptions.
type AddOption func(*JobRow)

func WithQueue(name string) AddOption     { return func(r *JobRow) { r.Queue = name } }
func WithPriority(priority int) AddOption { return func(r *JobRow) { r.Priority = priority } }

// WithDelay sets AvailableAt to now+d and, when d is positive, marks the
// row delayed rather than pending, so the delayed/pending ZSET split in
// RedisStore stays truthful. A zero or negative d leaves the row pending.
func WithDelay(d time.Duration) AddOption {
	return func(r *JobRow) {
		r.AvailableAt = time.Now().Add(d)
		if d > 0 {
			r.Status = StatusDelayed
		} else {
			r.Status = StatusPending
		}
	}
}
func WithMaxAttempts(n int) AddOption       { return func(r *JobRow) { r.MaxAttempts = n } }
func WithTimeout(d time.Duration) AddOption { return func(r *JobRow) { r.Timeout = d } }
func WithRetryDelay(d time.Duration) AddOption {
	return func(r *JobRow) { r.RetryDelay = d }
}
func WithBackoffStrategy(s BackoffStrategy) AddOption {
	return func(r *JobRow) { r.BackoffStrategy = s }
}
func WithTags(tags ...string) AddOption { return func(r *JobRow) { r.Tags = tags } }

// Manager is the enqueue/drain/maintenance façade over a Store: the
// queue analogue of event.Dispatcher.
type Manager struct {
	mu sync.RWMutex

	store    Store
	registry map[string]func() Job
	executor *JobExecutor

	enabled bool

	defaultQueue       string
	defaultPriority    int
	defaultMaxAttempts int
	defaultTimeout     time.Duration
	defaultBackoff     BackoffStrategy
	defaultRetryDelay  time.Duration
}

// ManagerOption configures a Manager at construction.
type ManagerOption func(*Manager)

func WithEnabled(enabled bool) ManagerOption { return func(m *Manager) { m.enabled = enabled } }
func WithDefaultQueue(name string) ManagerOption {
	return func(m *Manager) { m.defaultQueue = name }
}
func WithDefaultPriority(p int) ManagerOption { return func(m *Manager) { m.defaultPriority = p } }
func WithDefaultTimeout(d time.Duration) ManagerOption {
	return func(m *Manager) { m.defaultTimeout = d }
}

// NewManager builds a Manager over store with sensible defaults: queue
// "default", priority 5, 3 attempts, a 60s timeout, exponential backoff
// with a 10s base delay.
func NewManager(store Store, opts ...ManagerOption) *Manager {
	m := &Manager{
		store:              store,
		registry:           map[string]func() Job{},
		enabled:            true,
		defaultQueue:       "default",
		defaultPriority:    5,
		defaultMaxAttempts: 3,
		defaultTimeout:     60 * time.Second,
		defaultBackoff:     BackoffExponential,
		defaultRetryDelay:  10 * time.Second,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.executor = NewJobExecutor(store, m.resolve)
	return m
}

// RegisterJob makes a job type available for deserialization by name. Call
// this once at boot for every job type that can be enqueued.
func (m *Manager) RegisterJob(name string, factory func() Job) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.registry[name] = factory
}

func (m *Manager) resolve(task string) (Job, error) {
	m.mu.RLock()
	factory, ok := m.registry[task]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrJobNotRegistered, task)
	}
	return factory(), nil
}

func taskName(job Job) string { return fmt.Sprintf("%T", job) }

// Add enqueues job. When the manager is disabled (queue.enabled = false)
// it does not write a row at all: it invokes job.Handle() synchronously
// on the caller's goroutine and returns whatever error that produced, with
// id 0.
func (m *Manager) Add(job Job, opts ...AddOption) (int64, error) {
	m.mu.RLock()
	enabled := m.enabled
	m.mu.RUnlock()

	if !enabled {
		return 0, runSync(job)
	}

	row := m.buildRow(job)
	for _, opt := range opts {
		opt(row)
	}

	payload, err := json.Marshal(job)
	if err != nil {
		return 0, fmt.Errorf("queue: marshal job %s: %w", row.Task, err)
	}
	row.Payload = string(payload)

	return m.store.InsertJob(context.Background(), row)
}

func runSync(job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()
	return job.Handle()
}

func (m *Manager) buildRow(job Job) *JobRow {
	now := time.Now()
	row := &JobRow{
		Task:            taskName(job),
		Queue:           m.defaultQueue,
		Priority:        m.defaultPriority,
		Status:          StatusPending,
		MaxAttempts:     m.defaultMaxAttempts,
		Timeout:         m.defaultTimeout,
		BackoffStrategy: m.defaultBackoff,
		RetryDelay:      m.defaultRetryDelay,
		AvailableAt:     now,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if tunable, ok := job.(TunableJob); ok {
		if q := tunable.JobQueue(); q != "" {
			row.Queue = q
		}
		row.Priority = tunable.JobPriority()
		if n := tunable.JobMaxAttempts(); n > 0 {
			row.MaxAttempts = n
		}
		if t := tunable.JobTimeout(); t > 0 {
			row.Timeout = t
		}
		if s := tunable.JobBackoffStrategy(); s != "" {
			row.BackoffStrategy = s
		}
		row.RetryDelay = tunable.JobRetryDelay()
	}

	return row
}

// Process performs one release-claim-execute cycle against queue (""
// means any queue), reporting whether a row was available.
func (m *Manager) Process(queue string) (bool, error) {
	ctx := context.Background()
	now := time.Now()

	if _, err := m.store.ReleaseDelayed(ctx, now); err != nil {
		return false, fmt.Errorf("queue: release delayed: %w", err)
	}

	row, err := m.store.ClaimNext(ctx, queue, now)
	if err != nil {
		return false, fmt.Errorf("queue: claim next: %w", err)
	}
	if row == nil {
		return false, nil
	}

	processed, _ := m.executor.Execute(ctx, row)
	return processed, nil
}

// BatchResult is returned by ProcessBatch.
type BatchResult struct {
	Processed     int
	Successful    int
	Failed        int
	ExecutionTime time.Duration
}

// ProcessBatch drains up to size jobs from queue, stopping early when the
// wall-clock budget maxDuration is exceeded or a drain finds nothing
// claimable.
func (m *Manager) ProcessBatch(size int, queue string, maxDuration time.Duration) BatchResult {
	start := time.Now()
	var result BatchResult

	ctx := context.Background()
	for i := 0; i < size; i++ {
		if maxDuration > 0 && time.Since(start) > maxDuration {
			break
		}

		now := time.Now()
		if _, err := m.store.ReleaseDelayed(ctx, now); err != nil {
			logger.Error("queue: release delayed failed", "error", err)
		}

		row, err := m.store.ClaimNext(ctx, queue, now)
		if err != nil {
			logger.Error("queue: claim next failed", "error", err)
			break
		}
		if row == nil {
			break
		}

		processed, execErr := m.executor.Execute(ctx, row)
		if !processed {
			break
		}
		result.Processed++
		if execErr == nil {
			result.Successful++
		} else {
			result.Failed++
		}
	}

	result.ExecutionTime = time.Since(start)
	return result
}

// Stats returns row counts for queue (empty string means all queues).
func (m *Manager) Stats(queue string) (Stats, error) {
	return m.store.Stats(context.Background(), queue)
}

// PurgeOld deletes completed/failed rows older than days.
func (m *Manager) PurgeOld(days int) (int, error) {
	threshold := time.Now().AddDate(0, 0, -days)
	return m.store.PurgeCompletedOrFailedOlderThan(context.Background(), threshold)
}

// PurgeFailed deletes failed-job rows for queue (empty means all queues).
func (m *Manager) PurgeFailed(queue string) (int, error) {
	return m.store.PurgeFailed(context.Background(), queue)
}

// RetryFailed copies a failed-job row back into the job table.
func (m *Manager) RetryFailed(id int64) error {
	return m.store.RetryFailed(context.Background(), id)
}

// RetryAllFailed copies every failed-job row for queue back into the job
// table (empty queue means all queues).
func (m *Manager) RetryAllFailed(queue string) (int, error) {
	return m.store.RetryAllFailed(context.Background(), queue)
}

// ReleaseStuck reclaims rows stuck in processing past their timeout.
func (m *Manager) ReleaseStuck() (int, error) {
	return m.store.ReleaseStuck(context.Background(), time.Now())
}

// ListFailed returns a page of failed-job rows.
func (m *Manager) ListFailed(limit, offset int) ([]FailedJobRow, error) {
	return m.store.ListFailed(context.Background(), limit, offset)
}

// GetFailed returns one failed-job row by id.
func (m *Manager) GetFailed(id int64) (*FailedJobRow, error) {
	return m.store.GetFailed(context.Background(), id)
}

// Store exposes the manager's backing Store, e.g. for wiring into the
// bridge driver or admin tooling.
func (m *Manager) Store() Store { return m.store }

// SetDeadLetterHook installs a callback invoked whenever one of this
// manager's workers dead-letters a job. See JobExecutor.SetDeadLetterHook.
func (m *Manager) SetDeadLetterHook(fn func(FailedJobRow)) {
	m.executor.SetDeadLetterHook(fn)
}

// ── package-level default manager ───────────────────────────────────────────

var (
	defaultMu      sync.RWMutex
	defaultManager = NewManager(NewMemoryStore())
)

// SetDefaultManager installs m as the package-level default manager used by
// Dispatch/DispatchAfter/RegisterDefaultJob.
func SetDefaultManager(m *Manager) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultManager = m
}

func currentDefaultManager() *Manager {
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	return defaultManager
}

// RegisterDefaultJob registers name on the default manager.
func RegisterDefaultJob(name string, factory func() Job) {
	currentDefaultManager().RegisterJob(name, factory)
}

// Dispatch enqueues job on the default manager.
func Dispatch(job Job, opts ...AddOption) (int64, error) {
	return currentDefaultManager().Add(job, opts...)
}

// DispatchAfter enqueues job on the default manager, available after delay.
func DispatchAfter(job Job, delay time.Duration, opts ...AddOption) (int64, error) {
	return currentDefaultManager().Add(job, append(opts, WithDelay(delay))...)
}
