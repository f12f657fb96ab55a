// Package registry is the catalog of domain events the outbox carries: which
// aggregate emits each type, which topic it is routed to and how its payload
// decodes. Publisher and consumers share it so both sides agree on the shape.
package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"github.com/google/uuid"

	"github.com/angelmondragon/orderflow-backend/pkg/config"
	"github.com/angelmondragon/orderflow-backend/pkg/db/models"
	"github.com/angelmondragon/orderflow-backend/pkg/enums"
	"github.com/angelmondragon/orderflow-backend/pkg/outbox"
	"github.com/angelmondragon/orderflow-backend/pkg/outbox/payloads"
)

// ErrUnknownEvent is returned for event types missing from the catalog.
var ErrUnknownEvent = errors.New("unknown event type")

type decodeFunc func(json.RawMessage) (any, error)

type schema struct {
	aggregate enums.OutboxAggregateType
	decode    decodeFunc
}

// typed decodes into a fresh *T. A JSON null is rejected so a row written
// with no payload never reaches a consumer as a zero value.
func typed[T any]() decodeFunc {
	return func(raw json.RawMessage) (any, error) {
		if len(raw) == 0 || string(raw) == "null" {
			return nil, outbox.ErrEmptyPayload
		}
		target := new(T)
		if err := json.Unmarshal(raw, target); err != nil {
			return nil, err
		}
		return target, nil
	}
}

var catalog = map[enums.OutboxEventType]schema{
	enums.EventOrderCreated:       {enums.AggregateOrder, typed[payloads.OrderCreatedEvent]()},
	enums.EventOrderStatusChanged: {enums.AggregateOrder, typed[payloads.OrderStatusChangedEvent]()},
	enums.EventPaymentSucceeded:   {enums.AggregatePayment, typed[payloads.PaymentStatusEvent]()},
	enums.EventPaymentFailed:      {enums.AggregatePayment, typed[payloads.PaymentStatusEvent]()},
	enums.EventPaymentRefunded:    {enums.AggregatePayment, typed[payloads.PaymentStatusEvent]()},
}

// DecodePayload decodes envelope data for eventType into its payload struct
// pointer, e.g. *payloads.OrderCreatedEvent.
func DecodePayload(eventType enums.OutboxEventType, raw json.RawMessage) (any, error) {
	entry, ok := catalog[eventType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEvent, eventType)
	}
	payload, err := entry.decode(raw)
	if err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", eventType, err)
	}
	return payload, nil
}

// EventDescriptor is the routing decision for one event type.
type EventDescriptor struct {
	EventType     enums.OutboxEventType
	AggregateType enums.OutboxAggregateType
	Topic         string
}

// ResolvedEvent is an outbox row that passed validation.
type ResolvedEvent struct {
	Descriptor EventDescriptor
	Envelope   outbox.PayloadEnvelope
	Payload    any
}

// EventRegistry routes catalog entries to configured topics.
type EventRegistry struct {
	topics map[enums.OutboxEventType]string
}

// NewEventRegistry sends order events to the orders topic and payment events
// to the payments topic, falling back to the orders topic when unset.
func NewEventRegistry(cfg config.PubSubConfig) (*EventRegistry, error) {
	if cfg.OrdersTopic == "" {
		return nil, errors.New("orders topic is required")
	}
	paymentsTopic := cfg.PaymentsTopic
	if paymentsTopic == "" {
		paymentsTopic = cfg.OrdersTopic
	}

	topics := make(map[enums.OutboxEventType]string, len(catalog))
	for eventType, entry := range catalog {
		switch entry.aggregate {
		case enums.AggregatePayment:
			topics[eventType] = paymentsTopic
		default:
			topics[eventType] = cfg.OrdersTopic
		}
	}
	return &EventRegistry{topics: topics}, nil
}

// Topics lists the distinct topics events are routed to, sorted.
func (r *EventRegistry) Topics() []string {
	var topics []string
	for _, topic := range r.topics {
		if !slices.Contains(topics, topic) {
			topics = append(topics, topic)
		}
	}
	slices.Sort(topics)
	return topics
}

// Resolve validates the row against the catalog and decodes its payload.
// Every failure is non-retryable: the stored row will not change.
func (r *EventRegistry) Resolve(event models.OutboxEvent) (*ResolvedEvent, error) {
	topic, ok := r.topics[event.EventType]
	if !ok {
		return nil, NewNonRetryableError(fmt.Errorf("%w: %s", ErrUnknownEvent, event.EventType))
	}
	entry := catalog[event.EventType]
	if entry.aggregate != event.AggregateType {
		return nil, NewNonRetryableError(fmt.Errorf("aggregate mismatch: expected %s got %s", entry.aggregate, event.AggregateType))
	}
	if event.AggregateID == uuid.Nil {
		return nil, NewNonRetryableError(errors.New("missing aggregate_id"))
	}

	envelope, err := outbox.DecodeEnvelope(event.Payload)
	if err != nil {
		return nil, NewNonRetryableError(err)
	}
	payload, err := DecodePayload(event.EventType, envelope.Data)
	if err != nil {
		return nil, NewNonRetryableError(err)
	}

	return &ResolvedEvent{
		Descriptor: EventDescriptor{
			EventType:     event.EventType,
			AggregateType: entry.aggregate,
			Topic:         topic,
		},
		Envelope: envelope,
		Payload:  payload,
	}, nil
}

// NonRetryableError marks a row the relay must dead-letter instead of retry.
type NonRetryableError struct {
	Err error
}

func NewNonRetryableError(err error) NonRetryableError {
	return NonRetryableError{Err: err}
}

func (e NonRetryableError) Error() string {
	if e.Err == nil {
		return "non-retryable error"
	}
	return e.Err.Error()
}

func (e NonRetryableError) Unwrap() error { return e.Err }
