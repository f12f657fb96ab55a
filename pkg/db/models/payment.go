package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/orderflow-backend/pkg/enums"
)

// Payment is the single gateway payment row owned by an order.
type Payment struct {
	ID                    uuid.UUID           `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderID               uuid.UUID           `gorm:"column:order_id;type:uuid;not null;uniqueIndex"`
	UserID                uuid.UUID           `gorm:"column:user_id;type:uuid;not null"`
	Provider              string              `gorm:"column:provider;type:text;not null"`
	ProviderIntentID      string              `gorm:"column:provider_intent_id;type:text;not null;uniqueIndex"`
	ProviderTransactionID *string             `gorm:"column:provider_transaction_id"`
	ProviderRefundID      *string             `gorm:"column:provider_refund_id"`
	Status                enums.PaymentStatus `gorm:"column:status;type:text;not null;default:'PENDING'"`
	Amount                int64               `gorm:"column:amount;not null"`
	Currency              string              `gorm:"column:currency;type:text;not null"`
	FailureReason         *string             `gorm:"column:failure_reason"`
	CreatedAt             time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt             time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}
