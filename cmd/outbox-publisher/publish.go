package main

import (
	"context"
	"errors"
	"math/rand"
	"strconv"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"

	"github.com/angelmondragon/orderflow-backend/pkg/db/models"
	"github.com/angelmondragon/orderflow-backend/pkg/outbox"
)

const (
	maxBackoff   = 10 * time.Second
	jitterWindow = 250 * time.Millisecond

	rowRetryBase = time.Second
	rowRetryMax  = 5 * time.Minute
)

var jitterSource = rand.New(rand.NewSource(time.Now().UnixNano()))

type publisher interface {
	Publish(context.Context, *gcppubsub.Message) publishResult
}

type publishResult interface {
	Get(context.Context) (string, error)
}

type publisherFactory func(topic string) publisher

// messageAttributes carries the routing fields consumers filter on. event_id
// is the dedupe key used by the analytics worker.
func messageAttributes(event models.OutboxEvent, envelope outbox.PayloadEnvelope) map[string]string {
	eventID := envelope.EventID
	if eventID == "" {
		eventID = event.ID.String()
	}
	attrs := map[string]string{
		"event_id":       eventID,
		"event_type":     string(event.EventType),
		"aggregate_type": string(event.AggregateType),
		"aggregate_id":   event.AggregateID.String(),
		"version":        strconv.Itoa(envelope.Version),
		"created_at":     event.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	if !envelope.OccurredAt.IsZero() {
		attrs["occurred_at"] = envelope.OccurredAt.UTC().Format(time.RFC3339Nano)
	}
	return attrs
}

// pollBackoff doubles the idle wait after a failed batch, capped at maxBackoff.
func pollBackoff(current, base time.Duration) time.Duration {
	if current <= 0 {
		current = base
	}
	return min(current*2, maxBackoff)
}

// rowBackoff is rowRetryBase doubled per failed attempt, capped at rowRetryMax.
func rowBackoff(attempt int) time.Duration {
	shift := max(attempt-1, 0)
	if shift >= 16 {
		return rowRetryMax
	}
	return min(rowRetryBase<<shift, rowRetryMax)
}

func withJitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return d + time.Duration(jitterSource.Int63n(int64(jitterWindow)))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// topicPublisher adapts *pubsub.Publisher so tests can fake the result.
type topicPublisher struct {
	publisher *gcppubsub.Publisher
}

func newTopicPublisher(p *gcppubsub.Publisher) publisher {
	if p == nil {
		return nil
	}
	return topicPublisher{publisher: p}
}

func (p topicPublisher) Publish(ctx context.Context, msg *gcppubsub.Message) publishResult {
	result := p.publisher.Publish(ctx, msg)
	if result == nil {
		return nil
	}
	return resultAdapter{result: result}
}

type resultAdapter struct {
	result *gcppubsub.PublishResult
}

func (r resultAdapter) Get(ctx context.Context) (string, error) {
	if r.result == nil {
		return "", errors.New("publish result is nil")
	}
	return r.result.Get(ctx)
}
