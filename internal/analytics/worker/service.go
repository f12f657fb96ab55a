package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/angelmondragon/orderflow-backend/internal/analytics/router"
	"github.com/angelmondragon/orderflow-backend/internal/analytics/types"
	"github.com/angelmondragon/orderflow-backend/pkg/enums"
	"github.com/angelmondragon/orderflow-backend/pkg/logger"
	"github.com/angelmondragon/orderflow-backend/pkg/metrics"
	"github.com/angelmondragon/orderflow-backend/pkg/outbox"
)

const analyticsConsumerName = "analytics"

// Handler defines how to process analytics envelopes.
type Handler interface {
	Handle(ctx context.Context, envelope types.Envelope) error
}

// HandlerFunc adapts functions to the Handler interface.
type HandlerFunc func(ctx context.Context, envelope types.Envelope) error

// Handle calls the underlying function.
func (fn HandlerFunc) Handle(ctx context.Context, envelope types.Envelope) error {
	if fn == nil {
		return nil
	}
	return fn(ctx, envelope)
}

type idempotencyChecker interface {
	CheckAndMarkProcessed(ctx context.Context, consumer, eventID string) (bool, error)
	Delete(ctx context.Context, consumer, eventID string) error
}

// receiver is the slice of *pubsub.Subscriber the consumer drives.
type receiver interface {
	Receive(ctx context.Context, f func(context.Context, *gcppubsub.Message)) error
}

type consumerMetrics interface {
	Observe(consumer, eventType, outcome string)
}

// ServiceParams wires the analytics consumer.
type ServiceParams struct {
	Subscription receiver
	Handler      Handler
	Dedupe       idempotencyChecker
	Metrics      consumerMetrics
	Logger       *logger.Logger
}

// Service consumes domain events from Pub/Sub and feeds them to the analytics
// router, skipping event ids already seen.
type Service struct {
	subscription receiver
	handler      Handler
	manager      idempotencyChecker
	metrics      consumerMetrics
	logg         *logger.Logger
}

// NewService creates a new analytics worker service.
func NewService(params ServiceParams) (*Service, error) {
	if params.Subscription == nil {
		return nil, errors.New("analytics subscription is required")
	}
	if params.Handler == nil {
		return nil, errors.New("analytics handler is required")
	}
	if params.Dedupe == nil {
		return nil, errors.New("idempotency manager is required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}

	return &Service{
		subscription: params.Subscription,
		handler:      params.Handler,
		manager:      params.Dedupe,
		metrics:      params.Metrics,
		logg:         params.Logger,
	}, nil
}

// verdict is what the consumer decided for one message. Only retried
// messages are nacked; everything else is acked so it never redelivers.
type verdict struct {
	outcome   string
	eventType string
}

func (v verdict) nack() bool { return v.outcome == metrics.ConsumeRetried }

// Run starts consuming messages until the context is canceled.
func (s *Service) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	return s.subscription.Receive(ctx, func(innerCtx context.Context, msg *gcppubsub.Message) {
		result := s.process(innerCtx, msg)
		if s.metrics != nil {
			s.metrics.Observe(analyticsConsumerName, result.eventType, result.outcome)
		}
		if result.nack() {
			msg.Nack()
			return
		}
		msg.Ack()
	})
}

func (s *Service) process(ctx context.Context, msg *gcppubsub.Message) verdict {
	logCtx := s.logg.WithField(ctx, "message_id", msg.ID)

	envelope, err := buildEnvelope(msg)
	if err != nil {
		s.logg.Warn(s.logg.WithField(logCtx, "error", err.Error()), "invalid analytics envelope")
		return verdict{outcome: metrics.ConsumeInvalid, eventType: attribute(msg, "event_type")}
	}
	eventType := string(envelope.EventType)
	logCtx = s.logg.WithFields(logCtx, map[string]any{
		"event_id":       envelope.EventID,
		"event_type":     eventType,
		"aggregate_type": envelope.AggregateType,
		"aggregate_id":   envelope.AggregateID,
	})

	already, err := s.manager.CheckAndMarkProcessed(logCtx, analyticsConsumerName, envelope.EventID)
	if err != nil {
		s.logg.Error(logCtx, "idempotency check failed", err)
		return verdict{outcome: metrics.ConsumeRetried, eventType: eventType}
	}
	if already {
		s.logg.Debug(logCtx, "event already processed")
		return verdict{outcome: metrics.ConsumeDuplicate, eventType: eventType}
	}

	if err := s.handler.Handle(logCtx, *envelope); err != nil {
		if errors.Is(err, router.ErrUnsupportedEventType) {
			s.logg.Debug(logCtx, "analytics event type not tracked")
			return verdict{outcome: metrics.ConsumeIgnored, eventType: eventType}
		}
		s.logg.Error(logCtx, "handler error", err)
		// the mark must go or the redelivery would be skipped as a duplicate
		if delErr := s.manager.Delete(logCtx, analyticsConsumerName, envelope.EventID); delErr != nil {
			s.logg.Error(logCtx, "release idempotency key", delErr)
		}
		return verdict{outcome: metrics.ConsumeRetried, eventType: eventType}
	}

	s.logg.Debug(logCtx, "analytics event handled")
	return verdict{outcome: metrics.ConsumeHandled, eventType: eventType}
}

func buildEnvelope(msg *gcppubsub.Message) (*types.Envelope, error) {
	stored, err := outbox.DecodeEnvelope(msg.Data)
	if err != nil {
		return nil, err
	}

	eventType, err := enums.ParseOutboxEventType(attribute(msg, "event_type"))
	if err != nil {
		return nil, fmt.Errorf("event_type: %w", err)
	}
	aggregateType, err := enums.ParseOutboxAggregateType(attribute(msg, "aggregate_type"))
	if err != nil {
		return nil, fmt.Errorf("aggregate_type: %w", err)
	}
	aggregateID := attribute(msg, "aggregate_id")
	if aggregateID == "" {
		return nil, errors.New("aggregate_id missing")
	}

	occurredAt := stored.OccurredAt
	if occurredAt.IsZero() {
		if parsed, err := time.Parse(time.RFC3339Nano, attribute(msg, "created_at")); err == nil {
			occurredAt = parsed
		}
	}

	eventID := strings.TrimSpace(stored.EventID)
	if eventID == "" {
		eventID = attribute(msg, "event_id")
	}
	if eventID == "" {
		return nil, errors.New("event_id missing")
	}

	return &types.Envelope{
		EventID:       eventID,
		EventType:     eventType,
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		OccurredAt:    occurredAt.UTC(),
		Payload:       stored.Data,
	}, nil
}

func attribute(msg *gcppubsub.Message, key string) string {
	return strings.TrimSpace(msg.Attributes[key])
}
