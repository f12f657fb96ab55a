package enums

import "fmt"

// OutboxAggregateType maps to outbox_events.aggregate_type.
type OutboxAggregateType string

const (
	AggregateOrder   OutboxAggregateType = "order"
	AggregatePayment OutboxAggregateType = "payment"
)

// IsValid reports whether the value is a known aggregate type.
func (a OutboxAggregateType) IsValid() bool {
	return a == AggregateOrder || a == AggregatePayment
}

// ParseOutboxAggregateType converts raw input into an OutboxAggregateType.
func ParseOutboxAggregateType(value string) (OutboxAggregateType, error) {
	candidate := OutboxAggregateType(value)
	if !candidate.IsValid() {
		return "", fmt.Errorf("invalid outbox aggregate type %q", value)
	}
	return candidate, nil
}

// OutboxEventType maps to outbox_events.event_type.
type OutboxEventType string

const (
	EventOrderCreated       OutboxEventType = "order_created"
	EventOrderStatusChanged OutboxEventType = "order_status_changed"
	EventPaymentSucceeded   OutboxEventType = "payment_succeeded"
	EventPaymentFailed      OutboxEventType = "payment_failed"
	EventPaymentRefunded    OutboxEventType = "payment_refunded"
)

var validOutboxEventTypes = []OutboxEventType{
	EventOrderCreated,
	EventOrderStatusChanged,
	EventPaymentSucceeded,
	EventPaymentFailed,
	EventPaymentRefunded,
}

// IsValid reports whether the value is a known event type.
func (e OutboxEventType) IsValid() bool {
	for _, candidate := range validOutboxEventTypes {
		if candidate == e {
			return true
		}
	}
	return false
}

// ParseOutboxEventType converts raw input into an OutboxEventType.
func ParseOutboxEventType(value string) (OutboxEventType, error) {
	for _, candidate := range validOutboxEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid outbox event type %q", value)
}

// OutboxDLQErrorReason records why an outbox row stopped retrying.
type OutboxDLQErrorReason string

const (
	OutboxDLQReasonMaxAttempts  OutboxDLQErrorReason = "max_attempts"
	OutboxDLQReasonNonRetryable OutboxDLQErrorReason = "non_retryable"
)

// ParseOutboxDLQErrorReason converts raw input into an OutboxDLQErrorReason.
func ParseOutboxDLQErrorReason(value string) (OutboxDLQErrorReason, error) {
	switch OutboxDLQErrorReason(value) {
	case OutboxDLQReasonMaxAttempts, OutboxDLQReasonNonRetryable:
		return OutboxDLQErrorReason(value), nil
	}
	return "", fmt.Errorf("invalid outbox dlq reason %q", value)
}
