package queue

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process, mutex-serialized Store. It is not durable
// across restarts; it exists for development, testing, and the sync
// fallback path.
type MemoryStore struct {
	mu         sync.Mutex
	nextID     int64
	nextFailed int64
	jobs       map[int64]*JobRow
	failed     map[int64]*FailedJobRow
	logs       []LogRow
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs:   map[int64]*JobRow{},
		failed: map[int64]*FailedJobRow{},
	}
}

func (s *MemoryStore) InsertJob(ctx context.Context, row *JobRow) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	row.ID = s.nextID
	cp := *row
	s.jobs[row.ID] = &cp
	return row.ID, nil
}

func (s *MemoryStore) ReleaseDelayed(ctx context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	touched := 0
	for _, row := range s.jobs {
		if row.Status == StatusDelayed && !row.AvailableAt.After(now) {
			row.Status = StatusPending
			row.UpdatedAt = now
			touched++
		}
	}
	return touched, nil
}

func (s *MemoryStore) ClaimNext(ctx context.Context, queue string, now time.Time) (*JobRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var best *JobRow
	for _, row := range s.jobs {
		if row.Status != StatusPending {
			continue
		}
		if queue != "" && row.Queue != queue {
			continue
		}
		if row.AvailableAt.After(now) {
			continue
		}
		if best == nil || row.Priority < best.Priority ||
			(row.Priority == best.Priority && row.CreatedAt.Before(best.CreatedAt)) {
			best = row
		}
	}
	if best == nil {
		return nil, nil
	}

	best.Status = StatusProcessing
	best.Attempts++
	best.UpdatedAt = now

	cp := *best
	return &cp, nil
}

func (s *MemoryStore) MarkCompleted(ctx context.Context, id int64, metrics ExecutionMetrics) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	row.Status = StatusCompleted
	row.LastError = ""
	row.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) RescheduleForRetry(ctx context.Context, id int64, availableAt time.Time, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	row.LastError = errMsg
	row.AvailableAt = availableAt
	if availableAt.After(time.Now()) {
		row.Status = StatusDelayed
	} else {
		row.Status = StatusPending
	}
	row.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) MoveToFailed(ctx context.Context, row *JobRow, failure FailedJobRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	jobRow, ok := s.jobs[row.ID]
	if !ok {
		return ErrJobNotFound
	}
	jobRow.Status = StatusFailed
	jobRow.LastError = failure.Exception
	jobRow.UpdatedAt = time.Now()

	s.nextFailed++
	failure.ID = s.nextFailed
	failure.OriginalJobID = row.ID
	s.failed[failure.ID] = &failure
	return nil
}

func (s *MemoryStore) ReleaseStuck(ctx context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	touched := 0
	for _, row := range s.jobs {
		if row.Status != StatusProcessing {
			continue
		}
		timeout := row.Timeout
		if timeout <= 0 {
			continue
		}
		if now.Sub(row.UpdatedAt) > timeout {
			row.Status = StatusPending
			row.UpdatedAt = now
			touched++
		}
	}
	return touched, nil
}

func (s *MemoryStore) Stats(ctx context.Context, queue string) (Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out Stats
	var attemptsSum, attemptsCount int64
	for _, row := range s.jobs {
		if queue != "" && row.Queue != queue {
			continue
		}
		switch row.Status {
		case StatusPending:
			out.Pending++
		case StatusDelayed:
			out.Delayed++
		case StatusProcessing:
			out.Processing++
		case StatusCompleted:
			out.Completed++
		case StatusFailed:
			out.Failed++
		}
		if row.Status == StatusPending || row.Status == StatusDelayed || row.Status == StatusProcessing {
			attemptsSum += int64(row.Attempts)
			attemptsCount++
			if row.Priority <= 3 {
				out.HighPriority++
			}
		}
	}
	if attemptsCount > 0 {
		out.AvgAttempts = float64(attemptsSum) / float64(attemptsCount)
	}
	return out, nil
}

func (s *MemoryStore) ListFailed(ctx context.Context, limit, offset int) ([]FailedJobRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]FailedJobRow, 0, len(s.failed))
	for _, f := range s.failed {
		out = append(out, *f)
	}
	sortFailedByIDDesc(out)

	if offset >= len(out) {
		return []FailedJobRow{}, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) GetFailed(ctx context.Context, id int64) (*FailedJobRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.failed[id]
	if !ok {
		return nil, ErrFailedJobNotFound
	}
	cp := *f
	return &cp, nil
}

func (s *MemoryStore) RetryFailed(ctx context.Context, id int64) error {
	s.mu.Lock()
	f, ok := s.failed[id]
	if !ok {
		s.mu.Unlock()
		return ErrFailedJobNotFound
	}
	cp := *f
	delete(s.failed, id)
	s.mu.Unlock()

	_, err := s.InsertJob(ctx, &JobRow{
		Queue:       cp.Queue,
		Task:        cp.Task,
		Payload:     cp.Payload,
		Priority:    cp.Priority,
		Status:      StatusPending,
		Attempts:    0,
		MaxAttempts: maxInt(1, cp.TotalAttempts),
		Tags:        cp.Tags,
		AvailableAt: time.Now(),
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	})
	return err
}

func (s *MemoryStore) RetryAllFailed(ctx context.Context, queue string) (int, error) {
	s.mu.Lock()
	var ids []int64
	for id, f := range s.failed {
		if queue == "" || f.Queue == queue {
			ids = append(ids, id)
		}
	}
	s.mu.Unlock()

	count := 0
	for _, id := range ids {
		if err := s.RetryFailed(ctx, id); err != nil {
			continue
		}
		count++
	}
	return count, nil
}

func (s *MemoryStore) PurgeCompletedOrFailedOlderThan(ctx context.Context, before time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for id, row := range s.jobs {
		if (row.Status == StatusCompleted || row.Status == StatusFailed) && row.UpdatedAt.Before(before) {
			delete(s.jobs, id)
			count++
		}
	}
	return count, nil
}

func (s *MemoryStore) PurgeFailed(ctx context.Context, queue string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for id, f := range s.failed {
		if queue == "" || f.Queue == queue {
			delete(s.failed, id)
			count++
		}
	}
	return count, nil
}

func (s *MemoryStore) AppendLog(ctx context.Context, row LogRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs = append(s.logs, row)
	return nil
}

// Logs returns a snapshot of every recorded log row, for tests.
func (s *MemoryStore) Logs() []LogRow {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]LogRow, len(s.logs))
	copy(out, s.logs)
	return out
}

func sortFailedByIDDesc(rows []FailedJobRow) {
	for i := 1; i < len(rows); i++ {
		for j := i; j > 0 && rows[j].ID > rows[j-1].ID; j-- {
			rows[j], rows[j-1] = rows[j-1], rows[j]
		}
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
