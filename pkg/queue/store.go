package queue

import (
	"context"
	"time"
)

// Store is the logical storage contract any backend — in-memory, a
// relational database, or Redis — must satisfy. claimNext must be
// atomic: concurrent callers racing for the same queue must never both
// receive the same row (relational backends implement this with
// SELECT ... FOR UPDATE SKIP LOCKED or an equivalent conditional UPDATE).
type Store interface {
	InsertJob(ctx context.Context, row *JobRow) (int64, error)

	// ReleaseDelayed transitions delayed rows whose AvailableAt has
	// arrived into pending, and reports how many rows it touched. It is
	// idempotent: calling it twice with no time progress returns 0 the
	// second time.
	ReleaseDelayed(ctx context.Context, now time.Time) (int, error)

	// ClaimNext atomically selects the eligible row with the lowest
	// Priority value, breaking ties by oldest CreatedAt, transitions it
	// pending -> processing, increments Attempts, and returns it. Returns
	// (nil, nil) when no row is claimable.
	ClaimNext(ctx context.Context, queue string, now time.Time) (*JobRow, error)

	MarkCompleted(ctx context.Context, id int64, metrics ExecutionMetrics) error
	RescheduleForRetry(ctx context.Context, id int64, availableAt time.Time, errMsg string) error
	MoveToFailed(ctx context.Context, row *JobRow, failure FailedJobRow) error

	// ReleaseStuck reclaims rows stuck in processing past their Timeout
	// back to pending, preserving Attempts, and reports how many it
	// touched.
	ReleaseStuck(ctx context.Context, now time.Time) (int, error)

	Stats(ctx context.Context, queue string) (Stats, error)

	ListFailed(ctx context.Context, limit, offset int) ([]FailedJobRow, error)
	GetFailed(ctx context.Context, id int64) (*FailedJobRow, error)
	RetryFailed(ctx context.Context, id int64) error
	RetryAllFailed(ctx context.Context, queue string) (int, error)

	PurgeCompletedOrFailedOlderThan(ctx context.Context, before time.Time) (int, error)
	PurgeFailed(ctx context.Context, queue string) (int, error)

	// AppendLog records one execution-log row. Implementations may make
	// this a no-op if they don't carry a log table (e.g. Redis).
	AppendLog(ctx context.Context, row LogRow) error
}
