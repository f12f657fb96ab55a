package registry

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/angelmondragon/orderflow-backend/pkg/config"
	"github.com/angelmondragon/orderflow-backend/pkg/db/models"
	"github.com/angelmondragon/orderflow-backend/pkg/enums"
	"github.com/angelmondragon/orderflow-backend/pkg/outbox"
	"github.com/angelmondragon/orderflow-backend/pkg/outbox/payloads"
	"github.com/google/uuid"
)

func TestEventRegistryResolveStatusChanged(t *testing.T) {
	reg := newTestEventRegistry(t)

	orderID := uuid.New()
	payloadBytes := mustMarshal(t, payloads.OrderStatusChangedEvent{
		OrderID:   orderID,
		From:      enums.OrderStatusPacked,
		To:        enums.OrderStatusShipped,
		ActorRole: enums.ActorRoleVendor,
	})

	event := models.OutboxEvent{
		EventType:     enums.EventOrderStatusChanged,
		AggregateType: enums.AggregateOrder,
		AggregateID:   orderID,
		Payload:       mustEnvelope(t, payloadBytes),
	}

	resolved, err := reg.Resolve(event)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resolved.Descriptor.Topic != "orders-topic" {
		t.Fatalf("unexpected topic %q", resolved.Descriptor.Topic)
	}
	payload, ok := resolved.Payload.(*payloads.OrderStatusChangedEvent)
	if !ok {
		t.Fatalf("unexpected payload type %T", resolved.Payload)
	}
	if payload.OrderID != orderID || payload.To != enums.OrderStatusShipped {
		t.Fatalf("payload mismatch %+v", payload)
	}
	if resolved.Envelope.EventID == "" {
		t.Fatalf("envelope missing event id")
	}
	if resolved.Envelope.OccurredAt.IsZero() {
		t.Fatalf("envelope missing occurred_at")
	}
}

func TestEventRegistryRoutesPaymentEventsToPaymentsTopic(t *testing.T) {
	reg := newTestEventRegistry(t)
	event := models.OutboxEvent{
		EventType:     enums.EventPaymentSucceeded,
		AggregateType: enums.AggregatePayment,
		AggregateID:   uuid.New(),
		Payload:       mustEnvelope(t, []byte(`{"status":"SUCCESS","amount":1000}`)),
	}
	resolved, err := reg.Resolve(event)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resolved.Descriptor.Topic != "payments-topic" {
		t.Fatalf("unexpected topic %q", resolved.Descriptor.Topic)
	}
	topics := reg.Topics()
	if len(topics) != 2 || topics[0] != "orders-topic" || topics[1] != "payments-topic" {
		t.Fatalf("unexpected topics %v", topics)
	}
}

func TestEventRegistryResolveRejectsBadRows(t *testing.T) {
	reg := newTestEventRegistry(t)

	cases := map[string]models.OutboxEvent{
		"unknown event": {
			EventType:     enums.OutboxEventType("order_teleported"),
			AggregateType: enums.AggregateOrder,
			AggregateID:   uuid.New(),
			Payload:       mustEnvelope(t, []byte(`{}`)),
		},
		"aggregate mismatch": {
			EventType:     enums.EventOrderCreated,
			AggregateType: enums.AggregatePayment,
			AggregateID:   uuid.New(),
			Payload:       mustEnvelope(t, []byte(`{}`)),
		},
		"missing aggregate id": {
			EventType:     enums.EventOrderCreated,
			AggregateType: enums.AggregateOrder,
			AggregateID:   uuid.Nil,
			Payload:       mustEnvelope(t, []byte(`{}`)),
		},
		"null payload": {
			EventType:     enums.EventOrderCreated,
			AggregateType: enums.AggregateOrder,
			AggregateID:   uuid.New(),
			Payload:       mustEnvelope(t, []byte("null")),
		},
		"broken envelope": {
			EventType:     enums.EventOrderCreated,
			AggregateType: enums.AggregateOrder,
			AggregateID:   uuid.New(),
			Payload:       json.RawMessage(`{not json`),
		},
	}

	for name, event := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := reg.Resolve(event)
			if err == nil {
				t.Fatalf("expected error")
			}
			var nonRetry NonRetryableError
			if !errors.As(err, &nonRetry) {
				t.Fatalf("expected non-retryable error, got %T", err)
			}
		})
	}
}

func TestEventRegistryFallsBackToOrdersTopic(t *testing.T) {
	reg, err := NewEventRegistry(config.PubSubConfig{OrdersTopic: "orders-topic"})
	if err != nil {
		t.Fatalf("build registry: %v", err)
	}
	if topics := reg.Topics(); len(topics) != 1 || topics[0] != "orders-topic" {
		t.Fatalf("payment events should share the orders topic, got %v", topics)
	}
}

func TestDecodePayload(t *testing.T) {
	paymentID := uuid.New()
	decoded, err := DecodePayload(enums.EventPaymentRefunded, mustMarshal(t, payloads.PaymentStatusEvent{
		PaymentID: paymentID,
		Status:    enums.PaymentStatusRefunded,
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	event, ok := decoded.(*payloads.PaymentStatusEvent)
	if !ok || event.PaymentID != paymentID {
		t.Fatalf("unexpected payload %#v", decoded)
	}

	if _, err := DecodePayload("order_teleported", json.RawMessage(`{}`)); !errors.Is(err, ErrUnknownEvent) {
		t.Fatalf("expected ErrUnknownEvent, got %v", err)
	}
	if _, err := DecodePayload(enums.EventOrderCreated, json.RawMessage("null")); !errors.Is(err, outbox.ErrEmptyPayload) {
		t.Fatalf("expected ErrEmptyPayload for null, got %v", err)
	}
}

func TestNewEventRegistryRequiresOrdersTopic(t *testing.T) {
	if _, err := NewEventRegistry(config.PubSubConfig{}); err == nil {
		t.Fatal("expected missing orders topic to fail")
	}
}

func newTestEventRegistry(t *testing.T) *EventRegistry {
	t.Helper()
	cfg := config.PubSubConfig{
		OrdersTopic:   "orders-topic",
		PaymentsTopic: "payments-topic",
	}
	reg, err := NewEventRegistry(cfg)
	if err != nil {
		t.Fatalf("build registry: %v", err)
	}
	return reg
}

func mustMarshal(t *testing.T, v interface{}) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return data
}

func mustEnvelope(t *testing.T, payload []byte) json.RawMessage {
	t.Helper()
	envelope := outbox.PayloadEnvelope{
		Version:    1,
		EventID:    uuid.NewString(),
		OccurredAt: time.Now().UTC(),
		Data:       payload,
	}
	data, err := json.Marshal(envelope)
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	return data
}
