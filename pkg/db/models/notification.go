package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/orderflow-backend/pkg/enums"
)

// Notification stores every user-facing message the notification queue delivers.
type Notification struct {
	ID        uuid.UUID                 `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	UserID    uuid.UUID                 `gorm:"type:uuid;not null"`
	OrderID   *uuid.UUID                `gorm:"type:uuid"`
	Channel   enums.NotificationChannel `gorm:"type:text;not null"`
	Title     string                    `gorm:"type:text;not null"`
	Body      string                    `gorm:"type:text;not null"`
	DedupeKey string                    `gorm:"column:dedupe_key;type:text;not null;uniqueIndex"`
	SentAt    *time.Time                `gorm:"type:timestamptz"`
	CreatedAt time.Time                 `gorm:"type:timestamptz;default:now()"`
}
