package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime"
	"time"

	"github.com/lalaz-foundation/forge/pkg/logger"
	"github.com/lalaz-foundation/forge/pkg/metrics"
)

// JobResolver looks up the constructor registered for a job row's Task
// identifier and returns a fresh, zero-valued instance ready to be
// unmarshaled into.
type JobResolver func(task string) (Job, error)

// JobExecutor runs one claimed JobRow to completion: it resolves the job
// class, invokes Handle, measures the attempt, and applies the retry or
// dead-letter transition per the claimed row's own tuning.
type JobExecutor struct {
	store        Store
	resolve      JobResolver
	onDeadLetter func(FailedJobRow)
}

// SetDeadLetterHook installs a callback invoked after a job is moved to the
// dead-letter store, e.g. to alert operators. It runs on the worker
// goroutine; it must not block.
func (e *JobExecutor) SetDeadLetterHook(fn func(FailedJobRow)) { e.onDeadLetter = fn }

// NewJobExecutor builds a JobExecutor backed by store, resolving job
// classes through resolve.
func NewJobExecutor(store Store, resolve JobResolver) *JobExecutor {
	return &JobExecutor{store: store, resolve: resolve}
}

// Execute runs one previously claimed row. The row is ignored if the
// store returned nil, nil from ClaimNext. processed reports whether a row
// was available to execute; err is the attempt's failure, if any
// (including a dead-lettered terminal failure) — both are nil together
// only when no row was available.
func (e *JobExecutor) Execute(ctx context.Context, row *JobRow) (processed bool, err error) {
	if row == nil {
		return false, nil
	}

	job, resolveErr := e.resolve(row.Task)
	if resolveErr != nil {
		failure := fmt.Errorf("%w: %s", ErrJobNotRegistered, row.Task)
		e.deadLetter(ctx, row, failure, nil)
		return true, failure
	}

	if row.Payload != "" {
		if err := json.Unmarshal([]byte(row.Payload), job); err != nil {
			failure := fmt.Errorf("unmarshal payload: %w", err)
			e.deadLetter(ctx, row, failure, nil)
			return true, failure
		}
	}

	start := time.Now()
	var memBefore runtime.MemStats
	runtime.ReadMemStats(&memBefore)

	runErr := e.invoke(job)

	elapsed := time.Since(start)
	var memAfter runtime.MemStats
	runtime.ReadMemStats(&memAfter)
	attemptMetrics := ExecutionMetrics{ExecutionTime: elapsed, MemoryUsage: memDelta(memBefore, memAfter)}

	if runErr == nil {
		if err := e.store.MarkCompleted(ctx, row.ID, attemptMetrics); err != nil {
			logger.Error("queue: mark completed failed", "job_id", row.ID, "error", err)
		}
		e.log(ctx, row, LogInfo, "job completed", attemptMetrics)
		logger.Info("queue: job completed", "job_id", row.ID, "task", row.Task, "queue", row.Queue, "duration", elapsed)
		metrics.RecordQueueJob(row.Task, "success", start)
		return true, nil
	}

	if row.Attempts < row.MaxAttempts {
		base := int(row.RetryDelay.Seconds())
		delaySeconds := Delay(row.BackoffStrategy, base, row.Attempts)
		availableAt := time.Now().Add(time.Duration(delaySeconds) * time.Second)
		if err := e.store.RescheduleForRetry(ctx, row.ID, availableAt, runErr.Error()); err != nil {
			logger.Error("queue: reschedule failed", "job_id", row.ID, "error", err)
		}
		e.log(ctx, row, LogWarning, "job failed, scheduled for retry: "+runErr.Error(), attemptMetrics)
		logger.Warn("queue: job failed, retry scheduled", "job_id", row.ID, "task", row.Task, "queue", row.Queue,
			"attempt", row.Attempts, "max_attempts", row.MaxAttempts, "delay_seconds", delaySeconds, "error", runErr)
		metrics.RecordQueueJob(row.Task, "failed", start)
		return true, runErr
	}

	e.deadLetter(ctx, row, runErr, &attemptMetrics)
	metrics.RecordQueueJob(row.Task, "failed", start)
	return true, runErr
}

func (e *JobExecutor) invoke(job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()
	return job.Handle()
}

func (e *JobExecutor) deadLetter(ctx context.Context, row *JobRow, cause error, attemptMetrics *ExecutionMetrics) {
	failure := FailedJobRow{
		Queue:         row.Queue,
		Task:          row.Task,
		Payload:       row.Payload,
		Exception:     cause.Error(),
		FailedAt:      time.Now(),
		TotalAttempts: row.Attempts,
		Priority:      row.Priority,
		Tags:          row.Tags,
		RetryHistory:  []RetryAttempt{{Attempt: row.Attempts, Error: cause.Error(), At: time.Now()}},
	}
	if err := e.store.MoveToFailed(ctx, row, failure); err != nil {
		logger.Error("queue: move to failed failed", "job_id", row.ID, "error", err)
	} else if e.onDeadLetter != nil {
		failure.OriginalJobID = row.ID
		e.onDeadLetter(failure)
	}
	m := ExecutionMetrics{}
	if attemptMetrics != nil {
		m = *attemptMetrics
	}
	e.log(ctx, row, LogError, "job dead-lettered: "+cause.Error(), m)
	logger.Error("queue: job dead-lettered", "job_id", row.ID, "task", row.Task, "queue", row.Queue,
		"attempts", row.Attempts, "error", cause)
}

func (e *JobExecutor) log(ctx context.Context, row *JobRow, level LogLevel, message string, attemptMetrics ExecutionMetrics) {
	_ = e.store.AppendLog(ctx, LogRow{
		JobID:         row.ID,
		Queue:         row.Queue,
		Task:          row.Task,
		Level:         level,
		Message:       message,
		ExecutionTime: attemptMetrics.ExecutionTime,
		MemoryUsage:   attemptMetrics.MemoryUsage,
		CreatedAt:     time.Now(),
	})
}

func memDelta(before, after runtime.MemStats) uint64 {
	if after.TotalAlloc < before.TotalAlloc {
		return 0
	}
	return after.TotalAlloc - before.TotalAlloc
}
