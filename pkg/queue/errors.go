package queue

import "errors"

var (
	// ErrJobNotFound is returned when a store operation targets a job row
	// that does not exist (or was purged).
	ErrJobNotFound = errors.New("queue: job not found")

	// ErrFailedJobNotFound is returned by GetFailed/RetryFailed when the id
	// does not name a dead-lettered row.
	ErrFailedJobNotFound = errors.New("queue: failed job not found")

	// ErrJobNotRegistered is returned by the executor when a job row names a
	// task type that was never registered with RegisterJob.
	ErrJobNotRegistered = errors.New("queue: job type not registered")
)
