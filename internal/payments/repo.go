package payments

import (
	"context"
	"time"

	"github.com/angelmondragon/orderflow-backend/pkg/db/models"
	"github.com/angelmondragon/orderflow-backend/pkg/enums"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository persists the payment row owned by each order.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	UpsertPending(ctx context.Context, payment *models.Payment) error
	FindByOrderID(ctx context.Context, orderID uuid.UUID) (*models.Payment, error)
	FindByIntentID(ctx context.Context, intentID string) (*models.Payment, error)
	MarkSucceeded(ctx context.Context, paymentID uuid.UUID, transactionID string) (bool, error)
	MarkFailed(ctx context.Context, paymentID uuid.UUID, reason string) (bool, error)
	MarkRefunded(ctx context.Context, paymentID uuid.UUID, refundID string) (bool, error)
}

type repository struct {
	db  *gorm.DB
	now func() time.Time
}

// NewRepository binds a payments repository to db.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db, now: time.Now}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx, now: r.now}
}

// UpsertPending writes payment as PENDING, replacing the intent on an
// existing row for the same order unless that row is already settled.
func (r *repository) UpsertPending(ctx context.Context, payment *models.Payment) error {
	if payment.ID == uuid.Nil {
		payment.ID = uuid.New()
	}
	now := r.now().UTC()
	payment.Status = enums.PaymentStatusPending
	payment.CreatedAt = now
	payment.UpdatedAt = now
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "order_id"}},
		Where: clause.Where{Exprs: []clause.Expression{
			clause.Expr{
				SQL:  "payments.status <> ? AND payments.status <> ?",
				Vars: []any{enums.PaymentStatusSuccess, enums.PaymentStatusRefunded},
			},
		}},
		DoUpdates: clause.Assignments(map[string]any{
			"provider":                payment.Provider,
			"provider_intent_id":      payment.ProviderIntentID,
			"provider_transaction_id": nil,
			"status":                  enums.PaymentStatusPending,
			"amount":                  payment.Amount,
			"currency":                payment.Currency,
			"failure_reason":          nil,
			"updated_at":              now,
		}),
	}).Create(payment).Error
}

func (r *repository) FindByOrderID(ctx context.Context, orderID uuid.UUID) (*models.Payment, error) {
	var payment models.Payment
	if err := r.db.WithContext(ctx).Where("order_id = ?", orderID).First(&payment).Error; err != nil {
		return nil, err
	}
	return &payment, nil
}

func (r *repository) FindByIntentID(ctx context.Context, intentID string) (*models.Payment, error) {
	var payment models.Payment
	if err := r.db.WithContext(ctx).Where("provider_intent_id = ?", intentID).First(&payment).Error; err != nil {
		return nil, err
	}
	return &payment, nil
}

// MarkSucceeded is the single SUCCESS writer. Exactly one concurrent caller
// observes true.
func (r *repository) MarkSucceeded(ctx context.Context, paymentID uuid.UUID, transactionID string) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.Payment{}).
		Where("id = ? AND status <> ? AND status <> ?", paymentID, enums.PaymentStatusSuccess, enums.PaymentStatusRefunded).
		Updates(map[string]any{
			"status":                  enums.PaymentStatusSuccess,
			"provider_transaction_id": transactionID,
			"failure_reason":          nil,
			"updated_at":              r.now().UTC(),
		})
	return res.RowsAffected == 1, res.Error
}

func (r *repository) MarkFailed(ctx context.Context, paymentID uuid.UUID, reason string) (bool, error) {
	updates := map[string]any{
		"status":     enums.PaymentStatusFailed,
		"updated_at": r.now().UTC(),
	}
	if reason != "" {
		updates["failure_reason"] = reason
	}
	res := r.db.WithContext(ctx).Model(&models.Payment{}).
		Where("id = ? AND status = ?", paymentID, enums.PaymentStatusPending).
		Updates(updates)
	return res.RowsAffected == 1, res.Error
}

func (r *repository) MarkRefunded(ctx context.Context, paymentID uuid.UUID, refundID string) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.Payment{}).
		Where("id = ? AND status = ?", paymentID, enums.PaymentStatusSuccess).
		Updates(map[string]any{
			"status":             enums.PaymentStatusRefunded,
			"provider_refund_id": refundID,
			"updated_at":         r.now().UTC(),
		})
	return res.RowsAffected == 1, res.Error
}
