package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/orderflow-backend/pkg/enums"
)

// OrderTimelineEntry records one status transition. Sequence is dense per order.
type OrderTimelineEntry struct {
	ID         uuid.UUID          `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderID    uuid.UUID          `gorm:"column:order_id;type:uuid;not null"`
	Sequence   int                `gorm:"column:sequence;not null"`
	FromStatus *enums.OrderStatus `gorm:"column:from_status;type:text"`
	ToStatus   enums.OrderStatus  `gorm:"column:to_status;type:text;not null"`
	ActorID    *uuid.UUID         `gorm:"column:actor_id;type:uuid"`
	ActorRole  enums.ActorRole    `gorm:"column:actor_role;type:text;not null"`
	Reason     *string            `gorm:"column:reason"`
	CreatedAt  time.Time          `gorm:"column:created_at;autoCreateTime"`
}
