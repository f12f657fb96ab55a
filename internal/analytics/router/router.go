package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/angelmondragon/orderflow-backend/internal/analytics/types"
	"github.com/angelmondragon/orderflow-backend/pkg/enums"
	"github.com/angelmondragon/orderflow-backend/pkg/logger"
	outboxpayloads "github.com/angelmondragon/orderflow-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/orderflow-backend/pkg/outbox/registry"
)

var ErrUnsupportedEventType = errors.New("unsupported analytics event type")

// Writer buffers rows for the warehouse.
type Writer interface {
	Add(ctx context.Context, row types.EventRow)
}

type rowBuilder func(envelope types.Envelope, payload any) (types.EventRow, error)

// Router turns domain envelopes into event rows, one builder per event type.
// Payloads decode through the shared outbox catalog.
type Router struct {
	writer   Writer
	builders map[enums.OutboxEventType]rowBuilder
	logg     *logger.Logger
}

// NewRouter wires the builders for every order and payment event.
func NewRouter(writer Writer, logg *logger.Logger) (*Router, error) {
	if writer == nil {
		return nil, errors.New("writer is required")
	}
	return &Router{
		writer: writer,
		logg:   logg,
		builders: map[enums.OutboxEventType]rowBuilder{
			enums.EventOrderCreated:       orderCreatedRow,
			enums.EventOrderStatusChanged: orderStatusRow,
			enums.EventPaymentSucceeded:   paymentRow,
			enums.EventPaymentFailed:      paymentRow,
			enums.EventPaymentRefunded:    paymentRow,
		},
	}, nil
}

// Handle decodes the envelope payload and buffers the resulting row.
func (r *Router) Handle(ctx context.Context, envelope types.Envelope) error {
	build, ok := r.builders[envelope.EventType]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnsupportedEventType, envelope.EventType)
	}
	payload, err := registry.DecodePayload(envelope.EventType, envelope.Payload)
	if err != nil {
		return err
	}
	row, err := build(envelope, payload)
	if err != nil {
		return err
	}
	r.writer.Add(ctx, row)
	return nil
}

func baseRow(envelope types.Envelope) types.EventRow {
	return types.EventRow{
		EventID:    envelope.EventID,
		EventType:  string(envelope.EventType),
		Source:     types.SourceDomain,
		OccurredAt: envelope.OccurredAt.UTC(),
	}
}

func orderCreatedRow(envelope types.Envelope, payload any) (types.EventRow, error) {
	event := payload.(*outboxpayloads.OrderCreatedEvent)
	row := baseRow(envelope)
	row.OrderID = types.StringPtr(event.OrderID.String())
	row.UserID = types.StringPtr(event.UserID.String())
	row.VendorID = types.StringPtr(event.VendorID.String())
	row.Status = types.StringPtr(string(event.Status))
	row.Amount = &event.PayableAmount
	row.Currency = types.StringPtr(event.Currency)
	return withAttributes(row, map[string]any{
		"payment_mode": event.PaymentMode,
		"total_amount": event.TotalAmount,
		"item_count":   event.ItemCount,
	})
}

func orderStatusRow(envelope types.Envelope, payload any) (types.EventRow, error) {
	event := payload.(*outboxpayloads.OrderStatusChangedEvent)
	row := baseRow(envelope)
	row.OrderID = types.StringPtr(event.OrderID.String())
	row.UserID = types.StringPtr(event.UserID.String())
	row.VendorID = types.StringPtr(event.VendorID.String())
	row.Status = types.StringPtr(string(event.To))
	attrs := map[string]any{
		"from":         event.From,
		"actor_role":   event.ActorRole,
		"payment_mode": event.PaymentMode,
	}
	if event.Reason != "" {
		attrs["reason"] = event.Reason
	}
	return withAttributes(row, attrs)
}

func paymentRow(envelope types.Envelope, payload any) (types.EventRow, error) {
	event := payload.(*outboxpayloads.PaymentStatusEvent)
	row := baseRow(envelope)
	row.OrderID = types.StringPtr(event.OrderID.String())
	row.UserID = types.StringPtr(event.UserID.String())
	row.Status = types.StringPtr(string(event.Status))
	row.Amount = &event.Amount
	row.Currency = types.StringPtr(event.Currency)
	return withAttributes(row, map[string]any{
		"payment_id": event.PaymentID,
		"intent_id":  event.IntentID,
		"source":     event.Source,
	})
}

func withAttributes(row types.EventRow, attrs map[string]any) (types.EventRow, error) {
	raw, err := json.Marshal(attrs)
	if err != nil {
		return row, fmt.Errorf("encode attributes: %w", err)
	}
	row.Attributes.Valid = true
	row.Attributes.JSONVal = string(raw)
	return row, nil
}
