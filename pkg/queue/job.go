// Package queue provides a persistent, priority-ordered background job
// system for Forge: jobs are enqueued as rows in a Store, claimed
// exclusively by one worker at a time, retried with a configurable
// backoff, and dead-lettered once their attempts are exhausted.
//
// Usage:
//
//	type WelcomeEmailJob struct { UserID uint }
//	func (j *WelcomeEmailJob) Handle() error {
//	    log.Println("sending welcome email to", j.UserID)
//	    return nil
//	}
//
//	manager := queue.NewManager(queue.NewMemoryStore())
//	manager.RegisterJob("*main.WelcomeEmailJob", func() queue.Job { return &WelcomeEmailJob{} })
//	manager.Add(&WelcomeEmailJob{UserID: 1}, queue.WithPriority(3))
//	manager.ProcessBatch(10, "", 5*time.Second)
package queue

import "time"

// Job is the interface every queued job payload must satisfy. Handle runs
// the unit of work; a non-nil error (or a panic) marks the attempt
// failed and is subject to retry/dead-letter per RetryPolicy.
type Job interface {
	Handle() error
}

// TunableJob lets a job declare its own execution parameters, overriding
// the manager's defaults when it is first enqueued with Add.
type TunableJob interface {
	Job
	JobQueue() string
	JobPriority() int
	JobMaxAttempts() int
	JobTimeout() time.Duration
	JobBackoffStrategy() BackoffStrategy
	JobRetryDelay() time.Duration
}

// Status is a job row's lifecycle state.
type Status string

const (
	StatusPending    Status = "pending"
	StatusDelayed    Status = "delayed"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// BackoffStrategy names a RetryPolicy schedule.
type BackoffStrategy string

const (
	BackoffExponential BackoffStrategy = "exponential"
	BackoffLinear      BackoffStrategy = "linear"
	BackoffFixed       BackoffStrategy = "fixed"
)

// JobRow is the persistent representation of one queued job. It is the
// unit every Store implementation reads and writes.
type JobRow struct {
	ID              int64
	Queue           string
	Task            string // fully-qualified job type identifier
	Payload         string // JSON-encoded dispatch arguments
	Priority        int    // 0..10, lower is more urgent
	Status          Status
	Attempts        int
	MaxAttempts     int
	Timeout         time.Duration
	BackoffStrategy BackoffStrategy
	RetryDelay      time.Duration
	Tags            []string
	LastError       string
	AvailableAt     time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// FailedJobRow is an immutable record of a job that exhausted its
// retries or could not be resolved.
type FailedJobRow struct {
	ID            int64
	OriginalJobID int64
	Queue         string
	Task          string
	Payload       string
	Exception     string
	StackTrace    string
	FailedAt      time.Time
	TotalAttempts int
	RetryHistory  []RetryAttempt
	Priority      int
	Tags          []string
}

// RetryAttempt is one entry in a failed job's retry history.
type RetryAttempt struct {
	Attempt int
	Error   string
	At      time.Time
}

// LogLevel matches the severity written to a LogRow by the executor.
type LogLevel string

const (
	LogInfo    LogLevel = "info"
	LogWarning LogLevel = "warning"
	LogError   LogLevel = "error"
)

// LogRow is one execution-log entry written by the JobExecutor.
type LogRow struct {
	ID            int64
	JobID         int64
	Queue         string
	Task          string
	Level         LogLevel
	Message       string
	Context       string
	ExecutionTime time.Duration
	MemoryUsage   uint64
	CreatedAt     time.Time
}

// ExecutionMetrics carries the measurements markCompleted records.
type ExecutionMetrics struct {
	ExecutionTime time.Duration
	MemoryUsage   uint64
}

// Stats aggregates row counts for Manager.Stats.
type Stats struct {
	Pending      int64
	Delayed      int64
	Processing   int64
	Completed    int64
	Failed       int64
	AvgAttempts  float64
	HighPriority int64 // priority <= 3
}
