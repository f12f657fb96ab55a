package enums

import "fmt"

// PaymentMode selects which order flow applies.
type PaymentMode string

const (
	PaymentModeCOD    PaymentMode = "COD"
	PaymentModeOnline PaymentMode = "ONLINE"
)

// IsValid reports whether the value is a known PaymentMode.
func (m PaymentMode) IsValid() bool {
	return m == PaymentModeCOD || m == PaymentModeOnline
}

// ParsePaymentMode converts raw input into a PaymentMode.
func ParsePaymentMode(value string) (PaymentMode, error) {
	mode := PaymentMode(value)
	if !mode.IsValid() {
		return "", fmt.Errorf("invalid payment mode %q", value)
	}
	return mode, nil
}

// PaymentStatus tracks the lifecycle of a gateway payment.
type PaymentStatus string

const (
	PaymentStatusPending  PaymentStatus = "PENDING"
	PaymentStatusSuccess  PaymentStatus = "SUCCESS"
	PaymentStatusFailed   PaymentStatus = "FAILED"
	PaymentStatusRefunded PaymentStatus = "REFUNDED"
)

var validPaymentStatuses = []PaymentStatus{
	PaymentStatusPending,
	PaymentStatusSuccess,
	PaymentStatusFailed,
	PaymentStatusRefunded,
}

// String implements fmt.Stringer.
func (p PaymentStatus) String() string {
	return string(p)
}

// IsValid reports whether the value is a known PaymentStatus.
func (p PaymentStatus) IsValid() bool {
	for _, candidate := range validPaymentStatuses {
		if candidate == p {
			return true
		}
	}
	return false
}

// IsSettled reports statuses no confirmation path may overwrite.
func (p PaymentStatus) IsSettled() bool {
	return p == PaymentStatusSuccess || p == PaymentStatusRefunded
}

// ParsePaymentStatus converts raw input into a PaymentStatus.
func ParsePaymentStatus(value string) (PaymentStatus, error) {
	for _, candidate := range validPaymentStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid payment status %q", value)
}
