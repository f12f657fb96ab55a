package models

import (
	"time"

	"github.com/google/uuid"
)

// OrderLineItem captures the price snapshot of a product at checkout.
type OrderLineItem struct {
	ID        uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderID   uuid.UUID `gorm:"column:order_id;type:uuid;not null"`
	ProductID uuid.UUID `gorm:"column:product_id;type:uuid;not null"`
	Quantity  int       `gorm:"column:quantity;not null"`
	UnitPrice int64     `gorm:"column:unit_price;not null"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}

// Subtotal returns quantity times the unit price snapshot.
func (i OrderLineItem) Subtotal() int64 {
	return int64(i.Quantity) * i.UnitPrice
}
