package models

import (
	"time"

	"github.com/google/uuid"
)

// InventoryItem holds the sellable stock count per product. OnHand may go
// negative when a paid order oversells.
type InventoryItem struct {
	ProductID uuid.UUID `gorm:"column:product_id;type:uuid;primaryKey"`
	VendorID  uuid.UUID `gorm:"column:vendor_id;type:uuid;not null"`
	OnHand    int       `gorm:"column:on_hand;not null;default:0"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}
