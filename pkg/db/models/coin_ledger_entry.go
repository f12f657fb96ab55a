package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/orderflow-backend/pkg/enums"
)

// CoinLedgerEntry is an append-only signed coin movement. Positive amounts are
// credits.
type CoinLedgerEntry struct {
	ID          uuid.UUID        `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	UserID      uuid.UUID        `gorm:"column:user_id;type:uuid;not null"`
	Amount      int64            `gorm:"column:amount;not null"`
	Source      enums.CoinSource `gorm:"column:source;type:text;not null"`
	ExpiresAt   *time.Time       `gorm:"column:expires_at"`
	ReferenceID *string          `gorm:"column:reference_id"`
	CreatedAt   time.Time        `gorm:"column:created_at;autoCreateTime"`
}
