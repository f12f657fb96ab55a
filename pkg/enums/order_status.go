package enums

import "fmt"

// OrderStatus maps to the order_status column.
type OrderStatus string

const (
	OrderStatusCreated         OrderStatus = "CREATED"
	OrderStatusPendingPayment  OrderStatus = "PENDING_PAYMENT"
	OrderStatusPaid            OrderStatus = "PAID"
	OrderStatusConfirmed       OrderStatus = "CONFIRMED"
	OrderStatusPacked          OrderStatus = "PACKED"
	OrderStatusShipped         OrderStatus = "SHIPPED"
	OrderStatusDelivered       OrderStatus = "DELIVERED"
	OrderStatusCancelled       OrderStatus = "CANCELLED"
	OrderStatusReturnRequested OrderStatus = "RETURN_REQUESTED"
	OrderStatusReplaced        OrderStatus = "REPLACED"
)

var validOrderStatuses = []OrderStatus{
	OrderStatusCreated,
	OrderStatusPendingPayment,
	OrderStatusPaid,
	OrderStatusConfirmed,
	OrderStatusPacked,
	OrderStatusShipped,
	OrderStatusDelivered,
	OrderStatusCancelled,
	OrderStatusReturnRequested,
	OrderStatusReplaced,
}

// String implements fmt.Stringer.
func (s OrderStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is a known OrderStatus.
func (s OrderStatus) IsValid() bool {
	for _, candidate := range validOrderStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsTerminal reports statuses that end the forward flow. DELIVERED is terminal
// but may still move to RETURN_REQUESTED.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusDelivered, OrderStatusCancelled, OrderStatusReturnRequested, OrderStatusReplaced:
		return true
	}
	return false
}

// IsClosed reports terminal statuses that accept no further transitions.
func (s OrderStatus) IsClosed() bool {
	return s.IsTerminal() && s != OrderStatusDelivered
}

// ParseOrderStatus converts raw input into an OrderStatus.
func ParseOrderStatus(value string) (OrderStatus, error) {
	for _, candidate := range validOrderStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid order status %q", value)
}
