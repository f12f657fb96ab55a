package jobs

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/orderflow-backend/pkg/db/models"
	"github.com/angelmondragon/orderflow-backend/pkg/enums"
)

const lastErrorLimit = 2048

const staleLeaseError = "worker lease expired before the job finished"

// Repository persists jobs and implements the claim protocol.
type Repository struct {
	db  *gorm.DB
	now func() time.Time
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db, now: time.Now}
}

func (r *Repository) conn(ctx context.Context, tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx.WithContext(ctx)
	}
	return r.db.WithContext(ctx)
}

// Insert stores job, joining tx when it is non-nil.
func (r *Repository) Insert(ctx context.Context, tx *gorm.DB, job *models.Job) error {
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	return r.conn(ctx, tx).Create(job).Error
}

// Claim moves the oldest due WAITING job on queue to ACTIVE for workerID. It
// returns nil when nothing is due or another worker won the row.
func (r *Repository) Claim(ctx context.Context, queue enums.QueueName, workerID string) (*models.Job, error) {
	now := r.now().UTC()
	var claimed *models.Job
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var job models.Job
		err := tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("queue = ? AND status = ? AND run_at <= ?", queue, enums.JobStatusWaiting, now).
			Order("run_at ASC").
			Order("created_at ASC").
			Limit(1).
			Take(&job).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return err
		}

		res := tx.Model(&models.Job{}).
			Where("id = ? AND status = ?", job.ID, enums.JobStatusWaiting).
			Updates(map[string]any{
				"status":     enums.JobStatusActive,
				"locked_by":  workerID,
				"locked_at":  now,
				"updated_at": now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		job.Status = enums.JobStatusActive
		job.LockedBy = &workerID
		job.LockedAt = &now
		claimed = &job
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// Complete records a successful run, or deletes the row when the queue does
// not keep finished jobs.
func (r *Repository) Complete(ctx context.Context, job *models.Job, attempts int) error {
	if job.RemoveOnComplete {
		return r.db.WithContext(ctx).Where("id = ?", job.ID).Delete(&models.Job{}).Error
	}
	now := r.now().UTC()
	return r.db.WithContext(ctx).Model(&models.Job{}).
		Where("id = ? AND status = ?", job.ID, enums.JobStatusActive).
		Updates(map[string]any{
			"status":      enums.JobStatusCompleted,
			"attempts":    attempts,
			"finished_at": now,
			"locked_by":   nil,
			"locked_at":   nil,
			"last_error":  nil,
			"updated_at":  now,
		}).Error
}

// Reschedule returns a failed job to WAITING until runAt.
func (r *Repository) Reschedule(ctx context.Context, id uuid.UUID, attempts int, runAt time.Time, cause error) error {
	return r.db.WithContext(ctx).Model(&models.Job{}).
		Where("id = ? AND status = ?", id, enums.JobStatusActive).
		Updates(map[string]any{
			"status":     enums.JobStatusWaiting,
			"attempts":   attempts,
			"run_at":     runAt.UTC(),
			"last_error": truncateError(cause),
			"locked_by":  nil,
			"locked_at":  nil,
			"updated_at": r.now().UTC(),
		}).Error
}

// Fail dead-letters a job. FAILED rows are never claimed again.
func (r *Repository) Fail(ctx context.Context, id uuid.UUID, attempts int, cause error) error {
	now := r.now().UTC()
	return r.db.WithContext(ctx).Model(&models.Job{}).
		Where("id = ? AND status = ?", id, enums.JobStatusActive).
		Updates(map[string]any{
			"status":      enums.JobStatusFailed,
			"attempts":    attempts,
			"last_error":  truncateError(cause),
			"finished_at": now,
			"locked_by":   nil,
			"locked_at":   nil,
			"updated_at":  now,
		}).Error
}

// Counts returns the number of jobs per status on queue. Every status is
// present in the result.
func (r *Repository) Counts(ctx context.Context, queue enums.QueueName) (map[enums.JobStatus]int64, error) {
	type row struct {
		Status enums.JobStatus
		Total  int64
	}
	var rows []row
	err := r.db.WithContext(ctx).Model(&models.Job{}).
		Select("status, COUNT(*) AS total").
		Where("queue = ?", queue).
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	counts := make(map[enums.JobStatus]int64, len(enums.JobStatuses()))
	for _, status := range enums.JobStatuses() {
		counts[status] = 0
	}
	for _, item := range rows {
		counts[item.Status] = item.Total
	}
	return counts, nil
}

// ListFailed returns dead-lettered jobs on queue, newest first.
func (r *Repository) ListFailed(ctx context.Context, queue enums.QueueName, limit int) ([]models.Job, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var rows []models.Job
	err := r.db.WithContext(ctx).
		Where("queue = ? AND status = ?", queue, enums.JobStatusFailed).
		Order("finished_at DESC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

// Requeue gives a dead-lettered job a fresh attempt budget.
func (r *Repository) Requeue(ctx context.Context, id uuid.UUID) (bool, error) {
	now := r.now().UTC()
	res := r.db.WithContext(ctx).Model(&models.Job{}).
		Where("id = ? AND status = ?", id, enums.JobStatusFailed).
		Updates(map[string]any{
			"status":      enums.JobStatusWaiting,
			"attempts":    0,
			"run_at":      now,
			"finished_at": nil,
			"updated_at":  now,
		})
	return res.RowsAffected > 0, res.Error
}

// StaleRecovery counts the abandoned jobs RecoverStale handled.
type StaleRecovery struct {
	Requeued int64
	Failed   int64
}

// Total is the number of abandoned jobs found.
func (s StaleRecovery) Total() int64 { return s.Requeued + s.Failed }

// RecoverStale handles ACTIVE jobs whose lease was last refreshed before
// cutoff. Workers that crash mid-run leave such rows behind. The lost run
// counts as an attempt, so a job that keeps killing its worker is
// dead-lettered once its attempt budget is spent.
func (r *Repository) RecoverStale(ctx context.Context, cutoff time.Time) (StaleRecovery, error) {
	var out StaleRecovery
	now := r.now().UTC()
	lost := staleLeaseError
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		stale := func() *gorm.DB {
			return tx.Model(&models.Job{}).
				Where("status = ? AND locked_at < ?", enums.JobStatusActive, cutoff.UTC())
		}
		res := stale().
			Where("attempts + 1 >= max_attempts").
			Updates(map[string]any{
				"status":      enums.JobStatusFailed,
				"attempts":    gorm.Expr("attempts + 1"),
				"last_error":  lost,
				"finished_at": now,
				"locked_by":   nil,
				"locked_at":   nil,
				"updated_at":  now,
			})
		if res.Error != nil {
			return res.Error
		}
		out.Failed = res.RowsAffected

		res = stale().
			Updates(map[string]any{
				"status":     enums.JobStatusWaiting,
				"attempts":   gorm.Expr("attempts + 1"),
				"last_error": lost,
				"run_at":     now,
				"locked_by":  nil,
				"locked_at":  nil,
				"updated_at": now,
			})
		if res.Error != nil {
			return res.Error
		}
		out.Requeued = res.RowsAffected
		return nil
	})
	if err != nil {
		return StaleRecovery{}, err
	}
	return out, nil
}

// Touch refreshes the lease of a job workerID still holds. It reports false
// once the job was recovered or settled elsewhere.
func (r *Repository) Touch(ctx context.Context, id uuid.UUID, workerID string) (bool, error) {
	now := r.now().UTC()
	res := r.db.WithContext(ctx).Model(&models.Job{}).
		Where("id = ? AND status = ? AND locked_by = ?", id, enums.JobStatusActive, workerID).
		Updates(map[string]any{
			"locked_at":  now,
			"updated_at": now,
		})
	return res.RowsAffected == 1, res.Error
}

// DeleteCompletedBefore removes COMPLETED jobs finished before cutoff.
func (r *Repository) DeleteCompletedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("status = ? AND finished_at < ?", enums.JobStatusCompleted, cutoff.UTC()).
		Delete(&models.Job{})
	return res.RowsAffected, res.Error
}

// FindByID loads a single job.
func (r *Repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	var job models.Job
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&job).Error; err != nil {
		return nil, err
	}
	return &job, nil
}

func truncateError(err error) *string {
	if err == nil {
		return nil
	}
	msg := strings.ToValidUTF8(err.Error(), "")
	if len(msg) > lastErrorLimit {
		cut := lastErrorLimit
		for cut > 0 && !utf8.RuneStart(msg[cut]) {
			cut--
		}
		msg = msg[:cut]
	}
	return &msg
}
