package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/orderflow-backend/pkg/enums"
)

// User carries the identity fields the order flow needs plus the cached coin
// balance projected from the ledger.
type User struct {
	ID          uuid.UUID       `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	Email       string          `gorm:"type:text;not null;uniqueIndex"`
	Name        string          `gorm:"column:name;not null"`
	Phone       *string         `gorm:"column:phone"`
	Role        enums.ActorRole `gorm:"column:role;type:text;not null;default:'customer'"`
	PushToken   *string         `gorm:"column:push_token"`
	CoinBalance int64           `gorm:"column:coin_balance;not null;default:0"`
	CreatedAt   time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}
