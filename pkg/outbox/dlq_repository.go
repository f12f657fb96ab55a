package outbox

import (
	"context"
	"errors"
	"unicode/utf8"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/orderflow-backend/pkg/db/models"
	"github.com/angelmondragon/orderflow-backend/pkg/enums"
)

const (
	maxDLQErrorLen  = 1024
	defaultDLQLimit  = 50
	maxDLQListLimit  = 500
)

// ErrDLQEntryNotFound is returned by Replay when no dead letter matches.
var ErrDLQEntryNotFound = errors.New("outbox dlq entry not found")

// DLQRepository stores outbox rows the publisher gave up on. A dead letter's
// EventID is the id of the outbox_events row it came from.
type DLQRepository struct {
	db *gorm.DB
}

func NewDLQRepository(db *gorm.DB) *DLQRepository {
	return &DLQRepository{db: db}
}

// DLQFilter narrows List. Zero values match everything.
type DLQFilter struct {
	Reason    enums.OutboxDLQErrorReason
	EventType enums.OutboxEventType
	Limit     int
}

func (r *DLQRepository) InsertTx(tx *gorm.DB, entry models.OutboxDLQ) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.ErrorMessage != nil {
		msg := truncateDLQError(*entry.ErrorMessage)
		entry.ErrorMessage = &msg
	}
	return tx.Create(&entry).Error
}

// FindByEventID returns nil without error when the event never dead-lettered.
func (r *DLQRepository) FindByEventID(ctx context.Context, eventID uuid.UUID) (*models.OutboxDLQ, error) {
	var dlq models.OutboxDLQ
	err := r.db.WithContext(ctx).Where("event_id = ?", eventID).First(&dlq).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &dlq, nil
}

// List returns the most recent dead letters matching filter.
func (r *DLQRepository) List(ctx context.Context, filter DLQFilter) ([]models.OutboxDLQ, error) {
	limit := filter.Limit
	switch {
	case limit <= 0:
		limit = defaultDLQLimit
	case limit > maxDLQListLimit:
		limit = maxDLQListLimit
	}

	query := r.db.WithContext(ctx).Model(&models.OutboxDLQ{})
	if filter.Reason != "" {
		query = query.Where("error_reason = ?", filter.Reason)
	}
	if filter.EventType != "" {
		query = query.Where("event_type = ?", filter.EventType)
	}

	var rows []models.OutboxDLQ
	err := query.Order("failed_at DESC").Order("id DESC").Limit(limit).Find(&rows).Error
	return rows, err
}

// CountByReason groups the dead letter backlog by failure reason.
func (r *DLQRepository) CountByReason(ctx context.Context) (map[enums.OutboxDLQErrorReason]int64, error) {
	var rows []struct {
		ErrorReason enums.OutboxDLQErrorReason
		Total       int64
	}
	err := r.db.WithContext(ctx).
		Model(&models.OutboxDLQ{}).
		Select("error_reason, COUNT(*) AS total").
		Group("error_reason").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	counts := make(map[enums.OutboxDLQErrorReason]int64, len(rows))
	for _, row := range rows {
		counts[row.ErrorReason] = row.Total
	}
	return counts, nil
}

// Replay removes the dead letter for eventID and resets its outbox row so the
// publisher picks it up on the next poll with a fresh attempt budget. Rows
// that were published in the meantime are left untouched.
func (r *DLQRepository) Replay(ctx context.Context, eventID uuid.UUID) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("event_id = ?", eventID).Delete(&models.OutboxDLQ{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrDLQEntryNotFound
		}
		return tx.Model(&models.OutboxEvent{}).
			Where("id = ? AND published_at IS NULL", eventID).
			Updates(map[string]any{
				"attempt_count":   0,
				"next_attempt_at": nil,
				"last_error":      nil,
			}).Error
	})
}

func truncateDLQError(message string) string {
	if len(message) <= maxDLQErrorLen {
		return message
	}
	cut := maxDLQErrorLen
	for cut > 0 && !utf8.RuneStart(message[cut]) {
		cut--
	}
	return message[:cut]
}
