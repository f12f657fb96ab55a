package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/orderflow-backend/pkg/enums"
)

// Order is the aggregate root driven by the lifecycle service. Amounts are in
// minor currency units.
type Order struct {
	ID                uuid.UUID         `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	UserID            uuid.UUID         `gorm:"column:user_id;type:uuid;not null"`
	VendorID          uuid.UUID         `gorm:"column:vendor_id;type:uuid;not null"`
	Status            enums.OrderStatus `gorm:"column:status;type:text;not null;default:'CREATED'"`
	PaymentMode       enums.PaymentMode `gorm:"column:payment_mode;type:text;not null"`
	Currency          string            `gorm:"column:currency;type:text;not null"`
	TotalAmount       int64             `gorm:"column:total_amount;not null"`
	CoinsToRedeem     int64             `gorm:"column:coins_to_redeem;not null;default:0"`
	CoinDiscount      int64             `gorm:"column:coin_discount;not null;default:0"`
	PayableAmount     int64             `gorm:"column:payable_amount;not null"`
	CoinsDebited      bool              `gorm:"column:coins_debited;not null;default:false"`
	CoinDebitFailedAt *time.Time        `gorm:"column:coin_debit_failed_at"`
	StockDeducted     bool              `gorm:"column:stock_deducted;not null;default:false"`
	CancelReason      *string           `gorm:"column:cancel_reason"`
	Items             []OrderLineItem   `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
	CreatedAt         time.Time         `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time         `gorm:"column:updated_at;autoUpdateTime"`
}

// NeedsCoinDebit reports whether a coin debit side effect is still owed. A
// debit that failed permanently is settled by an admin, not retried.
func (o Order) NeedsCoinDebit() bool {
	return o.CoinsToRedeem > 0 && !o.CoinsDebited && o.CoinDebitFailedAt == nil
}
