package jobs

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/orderflow-backend/pkg/enums"
)

// Payload is the tagged union carried by a job row. The tag decides the
// concrete type and the default queue.
type Payload interface {
	JobType() enums.JobType
	Validate() error
}

// StockDeductionPayload decrements on-hand stock for every line of an order.
type StockDeductionPayload struct {
	OrderID uuid.UUID `json:"order_id"`
}

func (StockDeductionPayload) JobType() enums.JobType { return enums.JobTypeStockDeduction }

func (p StockDeductionPayload) Validate() error {
	if p.OrderID == uuid.Nil {
		return errors.New("order_id is required")
	}
	return nil
}

// CoinDebitPayload debits the coins an order redeemed.
type CoinDebitPayload struct {
	OrderID uuid.UUID `json:"order_id"`
}

func (CoinDebitPayload) JobType() enums.JobType { return enums.JobTypeCoinDebit }

func (p CoinDebitPayload) Validate() error {
	if p.OrderID == uuid.Nil {
		return errors.New("order_id is required")
	}
	return nil
}

// NotificationPayload is one message to one user. DedupeKey makes
// redelivery a no-op.
type NotificationPayload struct {
	UserID    uuid.UUID                 `json:"user_id"`
	OrderID   *uuid.UUID                `json:"order_id,omitempty"`
	Channel   enums.NotificationChannel `json:"channel"`
	Title     string                    `json:"title"`
	Body      string                    `json:"body"`
	DedupeKey string                    `json:"dedupe_key"`
}

func (NotificationPayload) JobType() enums.JobType { return enums.JobTypeNotification }

func (p NotificationPayload) Validate() error {
	if p.UserID == uuid.Nil {
		return errors.New("user_id is required")
	}
	if !p.Channel.IsValid() {
		return fmt.Errorf("unknown channel %q", p.Channel)
	}
	if strings.TrimSpace(p.Title) == "" {
		return errors.New("title is required")
	}
	if strings.TrimSpace(p.DedupeKey) == "" {
		return errors.New("dedupe_key is required")
	}
	return nil
}

// AnalyticsEventPayload is a telemetry row destined for the warehouse.
type AnalyticsEventPayload struct {
	EventID    string            `json:"event_id"`
	EventType  string            `json:"event_type"`
	OrderID    *uuid.UUID        `json:"order_id,omitempty"`
	UserID     *uuid.UUID        `json:"user_id,omitempty"`
	Amount     *int64            `json:"amount,omitempty"`
	Currency   string            `json:"currency,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
}

func (AnalyticsEventPayload) JobType() enums.JobType { return enums.JobTypeAnalyticsEvent }

func (p AnalyticsEventPayload) Validate() error {
	if strings.TrimSpace(p.EventID) == "" {
		return errors.New("event_id is required")
	}
	if strings.TrimSpace(p.EventType) == "" {
		return errors.New("event_type is required")
	}
	if p.OccurredAt.IsZero() {
		return errors.New("occurred_at is required")
	}
	return nil
}

// CleanupPayload sweeps finished jobs and published outbox rows older than
// RetentionDays.
type CleanupPayload struct {
	RetentionDays int       `json:"retention_days"`
	RequestedAt   time.Time `json:"requested_at"`
}

func (CleanupPayload) JobType() enums.JobType { return enums.JobTypeCleanup }

func (p CleanupPayload) Validate() error {
	if p.RetentionDays < 1 {
		return errors.New("retention_days must be at least 1")
	}
	return nil
}

// DefaultQueueFor maps a job type to the queue it runs on.
func DefaultQueueFor(jobType enums.JobType) (enums.QueueName, error) {
	switch jobType {
	case enums.JobTypeStockDeduction, enums.JobTypeCoinDebit:
		return enums.QueueOrders, nil
	case enums.JobTypeNotification:
		return enums.QueueNotifications, nil
	case enums.JobTypeAnalyticsEvent:
		return enums.QueueAnalytics, nil
	case enums.JobTypeCleanup:
		return enums.QueueCleanup, nil
	}
	return "", fmt.Errorf("unknown job type %q", jobType)
}

// DecodePayload resolves the tag of a stored job into its concrete payload.
func DecodePayload(jobType enums.JobType, raw json.RawMessage) (Payload, error) {
	var payload Payload
	switch jobType {
	case enums.JobTypeStockDeduction:
		payload = &StockDeductionPayload{}
	case enums.JobTypeCoinDebit:
		payload = &CoinDebitPayload{}
	case enums.JobTypeNotification:
		payload = &NotificationPayload{}
	case enums.JobTypeAnalyticsEvent:
		payload = &AnalyticsEventPayload{}
	case enums.JobTypeCleanup:
		payload = &CleanupPayload{}
	default:
		return nil, fmt.Errorf("unknown job type %q", jobType)
	}
	if err := json.Unmarshal(raw, payload); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", jobType, err)
	}
	if err := payload.Validate(); err != nil {
		return nil, fmt.Errorf("invalid %s payload: %w", jobType, err)
	}
	return deref(payload), nil
}

func deref(payload Payload) Payload {
	switch p := payload.(type) {
	case *StockDeductionPayload:
		return *p
	case *CoinDebitPayload:
		return *p
	case *NotificationPayload:
		return *p
	case *AnalyticsEventPayload:
		return *p
	case *CleanupPayload:
		return *p
	}
	return payload
}
