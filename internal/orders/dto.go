package orders

import (
	"github.com/angelmondragon/orderflow-backend/internal/payments"
	"github.com/angelmondragon/orderflow-backend/pkg/db/models"
	"github.com/angelmondragon/orderflow-backend/pkg/enums"
	"github.com/google/uuid"
)

// Actor is whoever drives an order operation. System actors carry no user id.
type Actor struct {
	UserID uuid.UUID
	Role   enums.ActorRole
}

// SystemActor is used by workers and cron sweeps.
var SystemActor = Actor{Role: enums.ActorRoleSystem}

func (a Actor) userRef() *uuid.UUID {
	if a.UserID == uuid.Nil {
		return nil
	}
	id := a.UserID
	return &id
}

// CheckoutItem is one line of a checkout request with its price snapshot.
type CheckoutItem struct {
	ProductID uuid.UUID `json:"product_id" validate:"required"`
	Quantity  int       `json:"quantity" validate:"required,gt=0"`
	UnitPrice int64     `json:"unit_price" validate:"gte=0"`
}

// CheckoutInput carries everything checkout needs to create an order.
type CheckoutInput struct {
	UserID        uuid.UUID
	VendorID      uuid.UUID         `json:"vendor_id" validate:"required"`
	PaymentMode   enums.PaymentMode `json:"payment_mode" validate:"required,oneof=COD ONLINE"`
	Currency      string            `json:"currency" validate:"omitempty,len=3"`
	CoinsToRedeem int64             `json:"coins_to_redeem" validate:"gte=0"`
	Items         []CheckoutItem    `json:"items" validate:"required,min=1,dive"`
}

// CheckoutResult is the created order plus, for online orders, the gateway
// intent the client completes payment against.
type CheckoutResult struct {
	Order  *models.Order    `json:"order"`
	Intent *payments.Intent `json:"intent,omitempty"`
}

// UpdateStatusInput requests one status transition.
type UpdateStatusInput struct {
	OrderID uuid.UUID
	Next    enums.OrderStatus
	Actor   Actor
	Reason  string
}

// SweepResult summarizes a cron sweep over orders.
type SweepResult struct {
	Scanned  int
	Affected int
}
