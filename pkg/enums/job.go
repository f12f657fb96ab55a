package enums

import "fmt"

// JobStatus maps to the jobs.status column.
type JobStatus string

const (
	JobStatusWaiting   JobStatus = "WAITING"
	JobStatusActive    JobStatus = "ACTIVE"
	JobStatusCompleted JobStatus = "COMPLETED"
	JobStatusFailed    JobStatus = "FAILED"
)

var validJobStatuses = []JobStatus{
	JobStatusWaiting,
	JobStatusActive,
	JobStatusCompleted,
	JobStatusFailed,
}

// IsValid reports whether the value is a known JobStatus.
func (s JobStatus) IsValid() bool {
	for _, candidate := range validJobStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// JobStatuses lists every status in lifecycle order.
func JobStatuses() []JobStatus {
	out := make([]JobStatus, len(validJobStatuses))
	copy(out, validJobStatuses)
	return out
}

// QueueName identifies a job queue.
type QueueName string

const (
	QueueAnalytics     QueueName = "analytics"
	QueueNotifications QueueName = "notifications"
	QueueOrders        QueueName = "orders"
	QueueCleanup       QueueName = "cleanup"
)

var validQueues = []QueueName{
	QueueAnalytics,
	QueueNotifications,
	QueueOrders,
	QueueCleanup,
}

// String implements fmt.Stringer.
func (q QueueName) String() string {
	return string(q)
}

// IsValid reports whether the value is a known queue.
func (q QueueName) IsValid() bool {
	for _, candidate := range validQueues {
		if candidate == q {
			return true
		}
	}
	return false
}

// ParseQueueName converts raw input into a QueueName.
func ParseQueueName(value string) (QueueName, error) {
	for _, candidate := range validQueues {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid queue %q", value)
}

// JobType is the discriminator of a job payload.
type JobType string

const (
	JobTypeStockDeduction JobType = "stock_deduction"
	JobTypeCoinDebit      JobType = "coin_debit"
	JobTypeNotification   JobType = "notification"
	JobTypeAnalyticsEvent JobType = "analytics_event"
	JobTypeCleanup        JobType = "cleanup"
)

var validJobTypes = []JobType{
	JobTypeStockDeduction,
	JobTypeCoinDebit,
	JobTypeNotification,
	JobTypeAnalyticsEvent,
	JobTypeCleanup,
}

// String implements fmt.Stringer.
func (t JobType) String() string {
	return string(t)
}

// IsValid reports whether the value is a known JobType.
func (t JobType) IsValid() bool {
	for _, candidate := range validJobTypes {
		if candidate == t {
			return true
		}
	}
	return false
}

// BackoffType selects the delay curve between job attempts.
type BackoffType string

const (
	BackoffNone        BackoffType = "none"
	BackoffFixed       BackoffType = "fixed"
	BackoffExponential BackoffType = "exponential"
)

// IsValid reports whether the value is a known BackoffType.
func (b BackoffType) IsValid() bool {
	return b == BackoffNone || b == BackoffFixed || b == BackoffExponential
}
