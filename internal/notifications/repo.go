package notifications

import (
	"context"
	"time"

	"github.com/angelmondragon/orderflow-backend/pkg/db/models"
	"github.com/angelmondragon/orderflow-backend/pkg/pagination"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository exposes persistence helpers for notifications.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Insert(ctx context.Context, notification *models.Notification) (bool, error)
	FindByDedupeKey(ctx context.Context, key string) (*models.Notification, error)
	MarkSent(ctx context.Context, id uuid.UUID, at time.Time) (bool, error)
	FindRecipient(ctx context.Context, userID uuid.UUID) (*models.User, error)
	List(ctx context.Context, params listNotificationsParams) ([]models.Notification, *pagination.Cursor, error)
}

type repositoryImpl struct {
	db *gorm.DB
}

// NewRepository returns a notifications repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repositoryImpl{db: db}
}

type listNotificationsParams struct {
	UserID uuid.UUID
	Limit  int
	Cursor *pagination.Cursor
}

func (r *repositoryImpl) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repositoryImpl{db: tx}
}

// Insert stores notification unless a row with the same dedupe key exists.
// It reports whether a new row was written.
func (r *repositoryImpl) Insert(ctx context.Context, notification *models.Notification) (bool, error) {
	if notification.ID == uuid.Nil {
		notification.ID = uuid.New()
	}
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "dedupe_key"}}, DoNothing: true}).
		Create(notification)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repositoryImpl) FindByDedupeKey(ctx context.Context, key string) (*models.Notification, error) {
	var notification models.Notification
	if err := r.db.WithContext(ctx).Where("dedupe_key = ?", key).First(&notification).Error; err != nil {
		return nil, err
	}
	return &notification, nil
}

func (r *repositoryImpl) MarkSent(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Notification{}).
		Where("id = ? AND sent_at IS NULL", id).
		UpdateColumn("sent_at", at.UTC())
	return res.RowsAffected > 0, res.Error
}

func (r *repositoryImpl) FindRecipient(ctx context.Context, userID uuid.UUID) (*models.User, error) {
	var user models.User
	if err := r.db.WithContext(ctx).Where("id = ?", userID).First(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *repositoryImpl) List(ctx context.Context, params listNotificationsParams) ([]models.Notification, *pagination.Cursor, error) {
	query := r.db.WithContext(ctx).Model(&models.Notification{}).Where("user_id = ?", params.UserID)

	var notifications []models.Notification
	err := pagination.Keyset(query, params.Cursor).
		Limit(pagination.LimitWithBuffer(params.Limit)).
		Find(&notifications).Error
	if err != nil {
		return nil, nil, err
	}

	page, next := pagination.Trim(notifications, params.Limit, func(n models.Notification) pagination.Cursor {
		return pagination.Cursor{CreatedAt: n.CreatedAt, ID: n.ID}
	})
	return page, next, nil
}
