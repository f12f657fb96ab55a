package orders

import (
	"context"
	"time"

	"github.com/angelmondragon/orderflow-backend/internal/jobs"
	"github.com/angelmondragon/orderflow-backend/internal/payments"
	"github.com/angelmondragon/orderflow-backend/pkg/db/models"
	"github.com/angelmondragon/orderflow-backend/pkg/enums"
	"github.com/angelmondragon/orderflow-backend/pkg/outbox"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Repository defines persistence operations for orders and their timeline.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	CreateOrder(ctx context.Context, order *models.Order) error
	FindByID(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
	UpdateStatus(ctx context.Context, orderID uuid.UUID, from, to enums.OrderStatus, extra map[string]any) (bool, error)
	MarkCoinsDebited(ctx context.Context, orderID uuid.UUID) (bool, error)
	MarkCoinDebitFailed(ctx context.Context, orderID uuid.UUID, at time.Time) (bool, error)
	MarkStockDeducted(ctx context.Context, orderID uuid.UUID) (bool, error)
	NextTimelineSequence(ctx context.Context, orderID uuid.UUID) (int, error)
	AppendTimeline(ctx context.Context, entry *models.OrderTimelineEntry) error
	ListTimeline(ctx context.Context, orderID uuid.UUID) ([]models.OrderTimelineEntry, error)
	FindPendingPaymentBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.Order, error)
	FindUnsettledSideEffects(ctx context.Context, updatedAfter, updatedBefore time.Time, limit int) ([]models.Order, error)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type jobEnqueuer interface {
	Enqueue(ctx context.Context, queue enums.QueueName, payload jobs.Payload, opts ...jobs.EnqueueOption) (*models.Job, error)
	EnqueueTx(ctx context.Context, tx *gorm.DB, queue enums.QueueName, payload jobs.Payload, opts ...jobs.EnqueueOption) (*models.Job, error)
}

// PaymentGateway is the slice of the payment reconciler the lifecycle needs.
type PaymentGateway interface {
	CreateIntent(ctx context.Context, userID, orderID uuid.UUID, amount int64) (*payments.Intent, error)
	Refund(ctx context.Context, orderID uuid.UUID, reason string) (*models.Payment, error)
}

type balanceReader interface {
	Balance(ctx context.Context, userID uuid.UUID) (int64, error)
}
