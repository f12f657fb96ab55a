package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/orderflow-backend/pkg/config"
	"github.com/angelmondragon/orderflow-backend/pkg/db/models"
	"github.com/angelmondragon/orderflow-backend/pkg/enums"
	"github.com/angelmondragon/orderflow-backend/pkg/logger"
	"github.com/angelmondragon/orderflow-backend/pkg/metrics"
	"github.com/angelmondragon/orderflow-backend/pkg/outbox/registry"
)

const (
	defaultBatchSize      = 50
	defaultPollMs         = 500
	defaultPublishTimeout = 15 * time.Second
	defaultMaxAttempts    = 10
)

type dbClient interface {
	Ping(context.Context) error
	WithTx(context.Context, func(tx *gorm.DB) error) error
}

type pubSubClient interface {
	Ping(context.Context) error
	Publisher(name string) *gcppubsub.Publisher
}

type outboxRepository interface {
	FetchUnpublishedForPublish(tx *gorm.DB, limit, maxAttempts int) ([]models.OutboxEvent, error)
	MarkPublishedTx(tx *gorm.DB, id uuid.UUID) error
	MarkFailedTx(tx *gorm.DB, id uuid.UUID, err error, retryAt time.Time) error
	MarkTerminalTx(tx *gorm.DB, id uuid.UUID, err error, terminalAttempts int) error
}

type dlqRepository interface {
	InsertTx(tx *gorm.DB, entry models.OutboxDLQ) error
}

type registryResolver interface {
	Resolve(models.OutboxEvent) (*registry.ResolvedEvent, error)
}

type relayMetrics interface {
	Observe(eventType, outcome string)
	ObserveBatch(rows int)
}

type ServiceParams struct {
	Config           *config.Config
	Logger           *logger.Logger
	DB               dbClient
	PubSub           pubSubClient
	Repository       outboxRepository
	Registry         registryResolver
	PublisherFactory publisherFactory
	DLQRepository    dlqRepository
	Metrics          relayMetrics
}

// Service relays outbox_events to Pub/Sub. Each batch is sent in one burst so
// the client can batch per topic; results are then settled row by row inside
// the transaction that holds the row locks.
type Service struct {
	logg         *logger.Logger
	db           dbClient
	repo         outboxRepository
	pubsub       pubSubClient
	registry     registryResolver
	dlq          dlqRepository
	metrics      relayMetrics
	newPublisher publisherFactory
	publishers   map[string]publisher
	batchSize    int
	maxAttempts  int
	pollInterval time.Duration
	now          func() time.Time
}

func NewService(params ServiceParams) (*Service, error) {
	switch {
	case params.Config == nil:
		return nil, errors.New("config is required")
	case params.Logger == nil:
		return nil, errors.New("logger is required")
	case params.DB == nil:
		return nil, errors.New("database client is required")
	case params.PubSub == nil:
		return nil, errors.New("pubsub client is required")
	case params.Repository == nil:
		return nil, errors.New("outbox repository is required")
	case params.Registry == nil:
		return nil, errors.New("event registry is required")
	case params.DLQRepository == nil:
		return nil, errors.New("dlq repository is required")
	}

	factory := params.PublisherFactory
	if factory == nil {
		factory = func(topic string) publisher {
			return newTopicPublisher(params.PubSub.Publisher(topic))
		}
	}

	cfg := params.Config.Outbox
	return &Service{
		logg:         params.Logger,
		db:           params.DB,
		repo:         params.Repository,
		pubsub:       params.PubSub,
		registry:     params.Registry,
		dlq:          params.DLQRepository,
		metrics:      params.Metrics,
		newPublisher: factory,
		publishers:   map[string]publisher{},
		batchSize:    positiveOr(cfg.BatchSize, defaultBatchSize),
		maxAttempts:  positiveOr(cfg.MaxAttempts, defaultMaxAttempts),
		pollInterval: time.Duration(positiveOr(cfg.PollIntervalMS, defaultPollMs)) * time.Millisecond,
		now:          time.Now,
	}, nil
}

func positiveOr(v, fallback int) int {
	if v > 0 {
		return v
	}
	return fallback
}

func (s *Service) ensureReadiness(ctx context.Context) error {
	if err := s.db.Ping(ctx); err != nil {
		s.logg.Error(ctx, "database ping failed", err)
		return fmt.Errorf("database ping failed: %w", err)
	}
	if err := s.pubsub.Ping(ctx); err != nil {
		s.logg.Error(ctx, "pubsub ping failed", err)
		return fmt.Errorf("pubsub ping failed: %w", err)
	}
	return nil
}

// Run polls until ctx ends. A backlog is drained without sleeping; a failed
// batch backs the poll off exponentially.
func (s *Service) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := s.ensureReadiness(ctx); err != nil {
		return err
	}

	backoff := s.pollInterval
	for {
		if err := ctx.Err(); err != nil {
			s.logg.Info(ctx, "outbox publisher context canceled")
			return err
		}

		processed, err := s.processBatch(ctx)
		switch {
		case err != nil:
			s.logg.Error(ctx, "outbox publisher batch error", err)
			backoff = pollBackoff(backoff, s.pollInterval)
		case processed:
			backoff = s.pollInterval
			continue
		default:
			backoff = s.pollInterval
		}
		if err := sleepCtx(ctx, withJitter(backoff)); err != nil {
			return err
		}
	}
}

// Drain publishes batches until the outbox is empty and returns how many
// batches it handled. Used by -once runs from deploy hooks.
func (s *Service) Drain(ctx context.Context) (int, error) {
	if err := s.ensureReadiness(ctx); err != nil {
		return 0, err
	}
	batches := 0
	for {
		if err := ctx.Err(); err != nil {
			return batches, err
		}
		processed, err := s.processBatch(ctx)
		if err != nil {
			return batches, err
		}
		if !processed {
			return batches, nil
		}
		batches++
	}
}

// pending is one row between dispatch and settlement.
type pending struct {
	event    models.OutboxEvent
	resolved *registry.ResolvedEvent
	result   publishResult
	err      error
}

func (p *pending) topic() string {
	if p.resolved == nil {
		return ""
	}
	return p.resolved.Descriptor.Topic
}

// processBatch relays one locked batch and reports whether any rows were
// fetched.
func (s *Service) processBatch(ctx context.Context) (bool, error) {
	processed := false
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		events, err := s.repo.FetchUnpublishedForPublish(tx, s.batchSize, s.maxAttempts)
		if err != nil {
			return err
		}
		if len(events) == 0 {
			return nil
		}
		processed = true
		if s.metrics != nil {
			s.metrics.ObserveBatch(len(events))
		}

		publishCtx, cancel := context.WithTimeout(ctx, defaultPublishTimeout)
		defer cancel()

		batch := make([]*pending, 0, len(events))
		for _, event := range events {
			batch = append(batch, s.dispatch(publishCtx, event))
		}
		for _, row := range batch {
			if row.err == nil && row.result != nil {
				_, row.err = row.result.Get(publishCtx)
			}
			if err := s.settle(ctx, tx, row); err != nil {
				return err
			}
		}
		return nil
	})
	return processed, err
}

// dispatch resolves the row and hands it to the topic publisher without
// waiting for the server ack.
func (s *Service) dispatch(ctx context.Context, event models.OutboxEvent) *pending {
	row := &pending{event: event}
	resolved, err := s.registry.Resolve(event)
	if err != nil {
		row.err = asNonRetryable(err)
		return row
	}
	row.resolved = resolved

	pub := s.publisherFor(resolved.Descriptor.Topic)
	if pub == nil {
		row.err = registry.NewNonRetryableError(fmt.Errorf("publisher not configured for topic %s", resolved.Descriptor.Topic))
		return row
	}
	row.result = pub.Publish(ctx, &gcppubsub.Message{
		Data:       event.Payload,
		Attributes: messageAttributes(event, resolved.Envelope),
	})
	if row.result == nil {
		row.err = registry.NewNonRetryableError(fmt.Errorf("publisher returned nil for topic %s", resolved.Descriptor.Topic))
	}
	return row
}

// asNonRetryable treats every resolve failure as permanent: the stored row
// will not decode differently next time.
func asNonRetryable(err error) error {
	var nonRetry registry.NonRetryableError
	if errors.As(err, &nonRetry) {
		return err
	}
	return registry.NewNonRetryableError(err)
}

func (s *Service) settle(ctx context.Context, tx *gorm.DB, row *pending) error {
	event := row.event
	fields := s.eventFields(row)
	eventType := string(event.EventType)

	if row.err == nil {
		if err := s.repo.MarkPublishedTx(tx, event.ID); err != nil {
			return fmt.Errorf("mark published %s: %w", event.ID, err)
		}
		s.observe(eventType, metrics.OutboxPublished)
		s.logg.Info(s.logg.WithFields(ctx, fields), "outbox event published")
		return nil
	}

	var nonRetry registry.NonRetryableError
	if errors.As(row.err, &nonRetry) {
		return s.deadLetter(ctx, tx, event, enums.OutboxDLQReasonNonRetryable, row.err, fields)
	}

	nextAttempt := event.AttemptCount + 1
	fields["attempt_count"] = nextAttempt
	if nextAttempt >= s.maxAttempts {
		fields["terminal_reason"] = "max_attempts"
		return s.deadLetter(ctx, tx, event, enums.OutboxDLQReasonMaxAttempts,
			fmt.Errorf("max publish attempts reached: %w", row.err), fields)
	}

	retryAt := s.now().UTC().Add(rowBackoff(nextAttempt))
	fields["next_attempt_at"] = retryAt.Format(time.RFC3339)
	fields["error"] = row.err.Error()
	s.logg.Warn(s.logg.WithFields(ctx, fields), "outbox publish failed")
	if err := s.repo.MarkFailedTx(tx, event.ID, row.err, retryAt); err != nil {
		return fmt.Errorf("mark failure %s: %w", event.ID, err)
	}
	s.observe(eventType, metrics.OutboxDeferred)
	return nil
}

func (s *Service) deadLetter(ctx context.Context, tx *gorm.DB, event models.OutboxEvent, reason enums.OutboxDLQErrorReason, cause error, fields map[string]any) error {
	fields["error_reason"] = reason
	fields["error"] = cause.Error()
	s.logg.Warn(s.logg.WithFields(ctx, fields), "outbox event will not be retried")

	msg := cause.Error()
	entry := models.OutboxDLQ{
		EventID:       event.ID,
		EventType:     event.EventType,
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
		Payload:       event.Payload,
		ErrorReason:   reason,
		ErrorMessage:  &msg,
		AttemptCount:  event.AttemptCount,
		FailedAt:      s.now().UTC(),
	}
	if err := s.dlq.InsertTx(tx, entry); err != nil {
		return fmt.Errorf("insert dlq %s: %w", event.ID, err)
	}
	if err := s.repo.MarkTerminalTx(tx, event.ID, cause, s.maxAttempts); err != nil {
		return fmt.Errorf("mark terminal %s: %w", event.ID, err)
	}
	s.observe(string(event.EventType), metrics.OutboxDeadLettered)
	return nil
}

func (s *Service) observe(eventType, outcome string) {
	if s.metrics != nil {
		s.metrics.Observe(eventType, outcome)
	}
}

func (s *Service) publisherFor(topic string) publisher {
	if pub, ok := s.publishers[topic]; ok {
		return pub
	}
	pub := s.newPublisher(topic)
	if pub != nil {
		s.publishers[topic] = pub
	}
	return pub
}

func (s *Service) eventFields(row *pending) map[string]any {
	event := row.event
	fields := map[string]any{
		"outbox_id":      event.ID.String(),
		"event_type":     event.EventType,
		"aggregate_type": event.AggregateType,
		"aggregate_id":   event.AggregateID.String(),
		"attempt_count":  event.AttemptCount,
	}
	if row.resolved != nil && row.resolved.Envelope.EventID != "" {
		fields["event_id"] = row.resolved.Envelope.EventID
		fields["occurred_at"] = row.resolved.Envelope.OccurredAt.Format(time.RFC3339Nano)
	}
	if topic := row.topic(); topic != "" {
		fields["topic"] = topic
	}
	if event.LastError != nil {
		fields["last_error"] = *event.LastError
	}
	return fields
}
