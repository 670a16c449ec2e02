package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// jobRecord is the GORM model backing a JobRow. Tags are stored as a
// comma-joined string; everything else maps one-to-one.
type jobRecord struct {
	ID              int64  `gorm:"primaryKey;autoIncrement"`
	Queue           string `gorm:"size:255;not null;index"`
	Task            string `gorm:"size:255;not null"`
	Payload         string `gorm:"type:text;not null"`
	Priority        int    `gorm:"not null;default:5;index"`
	Status          string `gorm:"size:32;not null;index"`
	Attempts        int    `gorm:"not null;default:0"`
	MaxAttempts     int    `gorm:"not null;default:3"`
	TimeoutSeconds  int    `gorm:"not null;default:60"`
	BackoffStrategy string `gorm:"size:32;not null;default:exponential"`
	RetryDelaySec   int    `gorm:"not null;default:10"`
	Tags            string    `gorm:"type:text"`
	LastError       string    `gorm:"type:text"`
	AvailableAt     time.Time `gorm:"index"`
	CreatedAt       time.Time
	UpdatedAt       time.Time `gorm:"index"`
}

func (r *jobRecord) toRow() *JobRow {
	return &JobRow{
		ID:              r.ID,
		Queue:           r.Queue,
		Task:            r.Task,
		Payload:         r.Payload,
		Priority:        r.Priority,
		Status:          Status(r.Status),
		Attempts:        r.Attempts,
		MaxAttempts:     r.MaxAttempts,
		Timeout:         time.Duration(r.TimeoutSeconds) * time.Second,
		BackoffStrategy: BackoffStrategy(r.BackoffStrategy),
		RetryDelay:      time.Duration(r.RetryDelaySec) * time.Second,
		Tags:            splitTags(r.Tags),
		LastError:       r.LastError,
		AvailableAt:     r.AvailableAt,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
	}
}

func fromRow(row *JobRow) *jobRecord {
	return &jobRecord{
		ID:              row.ID,
		Queue:           row.Queue,
		Task:            row.Task,
		Payload:         row.Payload,
		Priority:        row.Priority,
		Status:          string(row.Status),
		Attempts:        row.Attempts,
		MaxAttempts:     row.MaxAttempts,
		TimeoutSeconds:  int(row.Timeout.Seconds()),
		BackoffStrategy: string(row.BackoffStrategy),
		RetryDelaySec:   int(row.RetryDelay.Seconds()),
		Tags:            joinTags(row.Tags),
		LastError:       row.LastError,
		AvailableAt:     row.AvailableAt,
		CreatedAt:       row.CreatedAt,
		UpdatedAt:       row.UpdatedAt,
	}
}

// failedJobRecord is the GORM model backing a FailedJobRow.
type failedJobRecord struct {
	ID            int64     `gorm:"primaryKey;autoIncrement"`
	OriginalJobID int64     `gorm:"index"`
	Queue         string    `gorm:"size:255;not null;index"`
	Task          string    `gorm:"size:255;not null"`
	Payload       string    `gorm:"type:text;not null"`
	Exception     string    `gorm:"type:text"`
	StackTrace    string    `gorm:"type:text"`
	FailedAt      time.Time `gorm:"index"`
	TotalAttempts int
	RetryHistory  string `gorm:"type:text"`
	Priority      int
	Tags          string `gorm:"type:text"`
}

func (r *failedJobRecord) toRow() FailedJobRow {
	var history []RetryAttempt
	_ = json.Unmarshal([]byte(r.RetryHistory), &history)
	return FailedJobRow{
		ID:            r.ID,
		OriginalJobID: r.OriginalJobID,
		Queue:         r.Queue,
		Task:          r.Task,
		Payload:       r.Payload,
		Exception:     r.Exception,
		StackTrace:    r.StackTrace,
		FailedAt:      r.FailedAt,
		TotalAttempts: r.TotalAttempts,
		RetryHistory:  history,
		Priority:      r.Priority,
		Tags:          splitTags(r.Tags),
	}
}

// jobLogRecord is the GORM model backing a LogRow.
type jobLogRecord struct {
	ID               int64  `gorm:"primaryKey;autoIncrement"`
	JobID            int64  `gorm:"index"`
	Queue            string `gorm:"size:255"`
	Task             string `gorm:"size:255"`
	Level            string `gorm:"size:16"`
	Message          string `gorm:"type:text"`
	Context          string `gorm:"type:text"`
	ExecutionTimeMs  int64
	MemoryUsageBytes uint64
	CreatedAt        time.Time `gorm:"index"`
}

func splitTags(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}

func joinTags(tags []string) string { return strings.Join(tags, ",") }

// SQLStore persists job/failed/log rows through GORM, against whichever
// dialect (postgres/mysql/sqlite/sqlserver) db was opened with. ClaimNext
// uses SELECT ... FOR UPDATE SKIP LOCKED on dialects that support it
// (postgres, mysql). On every dialect the claiming UPDATE is conditional on
// status = pending, so a row another worker already claimed is never
// returned twice; a worker that loses that race gets no row for that call.
type SQLStore struct {
	db               *gorm.DB
	jobsTable        string
	failedTable      string
	logsTable        string
	skipLockedCapable bool
}

// NewSQLStore opens the three job tables (named per tables) against db and
// auto-migrates them.
func NewSQLStore(db *gorm.DB, tablesJobs, tablesFailed, tablesLogs string) (*SQLStore, error) {
	s := &SQLStore{
		db:                db,
		jobsTable:         tablesJobs,
		failedTable:       tablesFailed,
		logsTable:         tablesLogs,
		skipLockedCapable: supportsSkipLocked(db),
	}

	if err := db.Table(s.jobsTable).AutoMigrate(&jobRecord{}); err != nil {
		return nil, fmt.Errorf("queue: migrate %s: %w", s.jobsTable, err)
	}
	if err := db.Table(s.failedTable).AutoMigrate(&failedJobRecord{}); err != nil {
		return nil, fmt.Errorf("queue: migrate %s: %w", s.failedTable, err)
	}
	if err := db.Table(s.logsTable).AutoMigrate(&jobLogRecord{}); err != nil {
		return nil, fmt.Errorf("queue: migrate %s: %w", s.logsTable, err)
	}
	return s, nil
}

func supportsSkipLocked(db *gorm.DB) bool {
	switch db.Dialector.Name() {
	case "postgres", "mysql":
		return true
	default:
		return false
	}
}

func (s *SQLStore) jobs() *gorm.DB   { return s.db.Table(s.jobsTable) }
func (s *SQLStore) failed() *gorm.DB { return s.db.Table(s.failedTable) }
func (s *SQLStore) logs() *gorm.DB   { return s.db.Table(s.logsTable) }

func (s *SQLStore) InsertJob(ctx context.Context, row *JobRow) (int64, error) {
	rec := fromRow(row)
	if err := s.jobs().WithContext(ctx).Create(rec).Error; err != nil {
		return 0, fmt.Errorf("queue: insert job: %w", err)
	}
	return rec.ID, nil
}

func (s *SQLStore) ReleaseDelayed(ctx context.Context, now time.Time) (int, error) {
	tx := s.jobs().WithContext(ctx).
		Where("status = ? AND available_at <= ?", string(StatusDelayed), now).
		Update("status", string(StatusPending))
	if tx.Error != nil {
		return 0, fmt.Errorf("queue: release delayed: %w", tx.Error)
	}
	return int(tx.RowsAffected), nil
}

func (s *SQLStore) ClaimNext(ctx context.Context, queue string, now time.Time) (*JobRow, error) {
	var claimed *JobRow

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx.Table(s.jobsTable).
			Where("status = ? AND available_at <= ?", string(StatusPending), now)
		if queue != "" {
			q = q.Where("queue = ?", queue)
		}
		if s.skipLockedCapable {
			q = q.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
		}

		var rec jobRecord
		err := q.Order("priority ASC, created_at ASC").Limit(1).Take(&rec).Error
		if err != nil {
			if err == gorm.ErrRecordNotFound {
				return nil
			}
			return err
		}

		res := tx.Table(s.jobsTable).
			Where("id = ? AND status = ?", rec.ID, string(StatusPending)).
			Updates(map[string]any{
				"status":     string(StatusProcessing),
				"attempts":   rec.Attempts + 1,
				"updated_at": now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil // claimed by another worker in the meantime
		}

		rec.Status = string(StatusProcessing)
		rec.Attempts++
		rec.UpdatedAt = now
		claimed = rec.toRow()
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("queue: claim next: %w", err)
	}
	return claimed, nil
}

func (s *SQLStore) MarkCompleted(ctx context.Context, id int64, metrics ExecutionMetrics) error {
	err := s.jobs().WithContext(ctx).Where("id = ?", id).Updates(map[string]any{
		"status":     string(StatusCompleted),
		"last_error": "",
		"updated_at": time.Now(),
	}).Error
	if err != nil {
		return fmt.Errorf("queue: mark completed: %w", err)
	}
	return nil
}

func (s *SQLStore) RescheduleForRetry(ctx context.Context, id int64, availableAt time.Time, errMsg string) error {
	status := StatusPending
	if availableAt.After(time.Now()) {
		status = StatusDelayed
	}
	err := s.jobs().WithContext(ctx).Where("id = ?", id).Updates(map[string]any{
		"status":       string(status),
		"available_at": availableAt,
		"last_error":   errMsg,
		"updated_at":   time.Now(),
	}).Error
	if err != nil {
		return fmt.Errorf("queue: reschedule for retry: %w", err)
	}
	return nil
}

func (s *SQLStore) MoveToFailed(ctx context.Context, row *JobRow, failure FailedJobRow) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Table(s.jobsTable).Where("id = ?", row.ID).Updates(map[string]any{
			"status":     string(StatusFailed),
			"last_error": failure.Exception,
			"updated_at": time.Now(),
		}).Error; err != nil {
			return err
		}

		history, _ := json.Marshal(failure.RetryHistory)
		rec := &failedJobRecord{
			OriginalJobID: row.ID,
			Queue:         failure.Queue,
			Task:          failure.Task,
			Payload:       failure.Payload,
			Exception:     failure.Exception,
			StackTrace:    failure.StackTrace,
			FailedAt:      time.Now(),
			TotalAttempts: failure.TotalAttempts,
			RetryHistory:  string(history),
			Priority:      failure.Priority,
			Tags:          joinTags(failure.Tags),
		}
		return tx.Table(s.failedTable).Create(rec).Error
	})
}

func (s *SQLStore) ReleaseStuck(ctx context.Context, now time.Time) (int, error) {
	var touched int

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var stuck []jobRecord
		if err := tx.Table(s.jobsTable).Where("status = ?", string(StatusProcessing)).Find(&stuck).Error; err != nil {
			return err
		}
		for _, rec := range stuck {
			if rec.TimeoutSeconds <= 0 {
				continue
			}
			if now.Sub(rec.UpdatedAt) <= time.Duration(rec.TimeoutSeconds)*time.Second {
				continue
			}
			if err := tx.Table(s.jobsTable).Where("id = ?", rec.ID).Updates(map[string]any{
				"status":     string(StatusPending),
				"updated_at": now,
			}).Error; err != nil {
				return err
			}
			touched++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("queue: release stuck: %w", err)
	}
	return touched, nil
}

func (s *SQLStore) Stats(ctx context.Context, queue string) (Stats, error) {
	var out Stats

	base := s.jobs().WithContext(ctx)
	if queue != "" {
		base = base.Where("queue = ?", queue)
	}

	type countRow struct {
		Status string
		N      int64
	}
	var counts []countRow
	if err := base.Session(&gorm.Session{}).Select("status, count(*) as n").Group("status").Find(&counts).Error; err != nil {
		return out, fmt.Errorf("queue: stats: %w", err)
	}
	for _, c := range counts {
		switch Status(c.Status) {
		case StatusPending:
			out.Pending = c.N
		case StatusDelayed:
			out.Delayed = c.N
		case StatusProcessing:
			out.Processing = c.N
		case StatusCompleted:
			out.Completed = c.N
		case StatusFailed:
			out.Failed = c.N
		}
	}

	active := s.jobs().WithContext(ctx).Where("status IN ?", []string{
		string(StatusPending), string(StatusDelayed), string(StatusProcessing),
	})
	if queue != "" {
		active = active.Where("queue = ?", queue)
	}
	var avg float64
	active.Session(&gorm.Session{}).Select("COALESCE(AVG(attempts), 0)").Scan(&avg)
	out.AvgAttempts = avg

	var highPriority int64
	active.Session(&gorm.Session{}).Where("priority <= 3").Count(&highPriority)
	out.HighPriority = highPriority

	return out, nil
}

func (s *SQLStore) ListFailed(ctx context.Context, limit, offset int) ([]FailedJobRow, error) {
	var recs []failedJobRecord
	q := s.failed().WithContext(ctx).Order("id DESC").Offset(offset)
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("queue: list failed: %w", err)
	}
	out := make([]FailedJobRow, len(recs))
	for i := range recs {
		out[i] = recs[i].toRow()
	}
	return out, nil
}

func (s *SQLStore) GetFailed(ctx context.Context, id int64) (*FailedJobRow, error) {
	var rec failedJobRecord
	if err := s.failed().WithContext(ctx).Where("id = ?", id).Take(&rec).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, ErrFailedJobNotFound
		}
		return nil, fmt.Errorf("queue: get failed: %w", err)
	}
	row := rec.toRow()
	return &row, nil
}

func (s *SQLStore) RetryFailed(ctx context.Context, id int64) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rec failedJobRecord
		if err := tx.Table(s.failedTable).Where("id = ?", id).Take(&rec).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return ErrFailedJobNotFound
			}
			return err
		}

		now := time.Now()
		newRec := fromRow(&JobRow{
			Queue:       rec.Queue,
			Task:        rec.Task,
			Payload:     rec.Payload,
			Priority:    rec.Priority,
			Status:      StatusPending,
			Attempts:    0,
			MaxAttempts: maxInt(1, rec.TotalAttempts),
			Tags:        splitTags(rec.Tags),
			AvailableAt: now,
			CreatedAt:   now,
			UpdatedAt:   now,
		})
		if err := tx.Table(s.jobsTable).Create(newRec).Error; err != nil {
			return err
		}
		return tx.Table(s.failedTable).Where("id = ?", id).Delete(&failedJobRecord{}).Error
	})
}

func (s *SQLStore) RetryAllFailed(ctx context.Context, queue string) (int, error) {
	q := s.failed().WithContext(ctx)
	if queue != "" {
		q = q.Where("queue = ?", queue)
	}
	var ids []int64
	if err := q.Pluck("id", &ids).Error; err != nil {
		return 0, fmt.Errorf("queue: retry all failed: %w", err)
	}

	count := 0
	for _, id := range ids {
		if err := s.RetryFailed(ctx, id); err != nil {
			continue
		}
		count++
	}
	return count, nil
}

func (s *SQLStore) PurgeCompletedOrFailedOlderThan(ctx context.Context, before time.Time) (int, error) {
	tx := s.jobs().WithContext(ctx).
		Where("status IN ? AND updated_at < ?", []string{string(StatusCompleted), string(StatusFailed)}, before).
		Delete(&jobRecord{})
	if tx.Error != nil {
		return 0, fmt.Errorf("queue: purge old: %w", tx.Error)
	}
	return int(tx.RowsAffected), nil
}

func (s *SQLStore) PurgeFailed(ctx context.Context, queue string) (int, error) {
	q := s.failed().WithContext(ctx)
	if queue != "" {
		q = q.Where("queue = ?", queue)
	}
	tx := q.Delete(&failedJobRecord{})
	if tx.Error != nil {
		return 0, fmt.Errorf("queue: purge failed: %w", tx.Error)
	}
	return int(tx.RowsAffected), nil
}

func (s *SQLStore) AppendLog(ctx context.Context, row LogRow) error {
	rec := &jobLogRecord{
		JobID:            row.JobID,
		Queue:            row.Queue,
		Task:             row.Task,
		Level:            string(row.Level),
		Message:          row.Message,
		Context:          row.Context,
		ExecutionTimeMs:  row.ExecutionTime.Milliseconds(),
		MemoryUsageBytes: row.MemoryUsage,
		CreatedAt:        time.Now(),
	}
	if err := s.logs().WithContext(ctx).Create(rec).Error; err != nil {
		return fmt.Errorf("queue: append log: %w", err)
	}
	return nil
}
