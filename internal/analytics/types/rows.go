package types

import (
	"bytes"
	"encoding/json"
	"time"

	cbigquery "cloud.google.com/go/bigquery"
	"github.com/angelmondragon/orderflow-backend/pkg/enums"
)

// Row sources.
const (
	SourceJob    = "job"
	SourceDomain = "domain"
)

// EventRow is one row of the order events table.
type EventRow struct {
	EventID    string             `bigquery:"event_id"`
	EventType  string             `bigquery:"event_type"`
	Source     string             `bigquery:"source"`
	OrderID    *string            `bigquery:"order_id"`
	UserID     *string            `bigquery:"user_id"`
	VendorID   *string            `bigquery:"vendor_id"`
	Status     *string            `bigquery:"status"`
	Amount     *int64             `bigquery:"amount"`
	Currency   *string            `bigquery:"currency"`
	Attributes cbigquery.NullJSON `bigquery:"attributes"`
	OccurredAt time.Time          `bigquery:"occurred_at"`
}

// Save implements bigquery.ValueSaver. The event id doubles as the insert id
// so BigQuery drops retried duplicates on a best-effort basis.
func (r *EventRow) Save() (map[string]cbigquery.Value, string, error) {
	row := map[string]cbigquery.Value{
		"event_id":    r.EventID,
		"event_type":  r.EventType,
		"source":      r.Source,
		"occurred_at": r.OccurredAt.UTC(),
	}
	setOptional(row, "order_id", r.OrderID)
	setOptional(row, "user_id", r.UserID)
	setOptional(row, "vendor_id", r.VendorID)
	setOptional(row, "status", r.Status)
	setOptional(row, "currency", r.Currency)
	if r.Amount != nil {
		row["amount"] = *r.Amount
	}
	if r.Attributes.Valid {
		row["attributes"] = r.Attributes.JSONVal
	}
	return row, r.EventID, nil
}

func setOptional(row map[string]cbigquery.Value, key string, value *string) {
	if value != nil {
		row[key] = *value
	}
}

// Envelope is a domain event read off the events subscription.
type Envelope struct {
	EventID       string                    `json:"event_id"`
	EventType     enums.OutboxEventType     `json:"event_type"`
	AggregateType enums.OutboxAggregateType `json:"aggregate_type"`
	AggregateID   string                    `json:"aggregate_id"`
	OccurredAt    time.Time                 `json:"occurred_at"`
	Payload       json.RawMessage           `json:"payload"`
}

// PayloadMap converts the raw payload to a map for keyed access.
func (e Envelope) PayloadMap() (map[string]any, error) {
	if len(bytes.TrimSpace(e.Payload)) == 0 {
		return map[string]any{}, nil
	}
	var out map[string]any
	if err := json.Unmarshal(e.Payload, &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = map[string]any{}
	}
	return out, nil
}

// StringPtr returns nil for blank values.
func StringPtr(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}
