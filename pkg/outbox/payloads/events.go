package payloads

import (
	"github.com/angelmondragon/orderflow-backend/pkg/enums"
	"github.com/google/uuid"
)

// OrderCreatedEvent is emitted once checkout has persisted an order.
type OrderCreatedEvent struct {
	OrderID       uuid.UUID         `json:"order_id"`
	UserID        uuid.UUID         `json:"user_id"`
	VendorID      uuid.UUID         `json:"vendor_id"`
	PaymentMode   enums.PaymentMode `json:"payment_mode"`
	Status        enums.OrderStatus `json:"status"`
	TotalAmount   int64             `json:"total_amount"`
	PayableAmount int64             `json:"payable_amount"`
	Currency      string            `json:"currency"`
	ItemCount     int               `json:"item_count"`
}

// OrderStatusChangedEvent is emitted for every accepted transition. Delivery
// and other downstream services consume it.
type OrderStatusChangedEvent struct {
	OrderID     uuid.UUID         `json:"order_id"`
	UserID      uuid.UUID         `json:"user_id"`
	VendorID    uuid.UUID         `json:"vendor_id"`
	PaymentMode enums.PaymentMode `json:"payment_mode"`
	From        enums.OrderStatus `json:"from"`
	To          enums.OrderStatus `json:"to"`
	ActorRole   enums.ActorRole   `json:"actor_role"`
	Reason      string            `json:"reason,omitempty"`
}

// PaymentStatusEvent covers payment.succeeded, payment.failed and payment.refunded.
type PaymentStatusEvent struct {
	PaymentID     uuid.UUID           `json:"payment_id"`
	OrderID       uuid.UUID           `json:"order_id"`
	UserID        uuid.UUID           `json:"user_id"`
	Status        enums.PaymentStatus `json:"status"`
	Amount        int64               `json:"amount"`
	Currency      string              `json:"currency"`
	IntentID      string              `json:"intent_id"`
	TransactionID string              `json:"transaction_id,omitempty"`
	Source        string              `json:"source"`
}
