package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/angelmondragon/orderflow-backend/pkg/config"
	"github.com/angelmondragon/orderflow-backend/pkg/db/models"
	"github.com/angelmondragon/orderflow-backend/pkg/enums"
	"github.com/angelmondragon/orderflow-backend/pkg/logger"
	"github.com/angelmondragon/orderflow-backend/pkg/metrics"
	"github.com/angelmondragon/orderflow-backend/pkg/outbox"
	"github.com/angelmondragon/orderflow-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/orderflow-backend/pkg/outbox/registry"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

func TestServiceProcessBatchContinuesAfterFailure(t *testing.T) {
	repo := &fakeRepo{
		events: []models.OutboxEvent{
			newOrderEvent(t, "event-one", 0),
			newOrderEvent(t, "event-two", 0),
		},
	}
	pub := &fakePublisher{
		results: []publishResult{
			fakePublishResult{err: errors.New("transient")},
			fakePublishResult{},
		},
	}
	service := newTestService(t, repo, pub, &fakeRegistry{resolved: orderResolved()}, &fakeDLQRepo{}, nil)

	processed, err := service.processBatch(context.Background())
	if err != nil {
		t.Fatalf("process batch returned error: %v", err)
	}
	if !processed {
		t.Fatalf("expected batch to report processed")
	}
	if got := len(repo.failed); got != 1 {
		t.Fatalf("unexpected number of failed rows: %d", got)
	}
	if got := len(repo.published); got != 1 {
		t.Fatalf("unexpected number of published rows: %d", got)
	}
	if repo.failed[0] != repo.events[0].ID {
		t.Fatalf("failed row recorded wrong ID")
	}
	if repo.published[0] != repo.events[1].ID {
		t.Fatalf("published row recorded wrong ID")
	}
}

func TestServiceDefersFailedRowWithBackoff(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	repo := &fakeRepo{events: []models.OutboxEvent{newOrderEvent(t, "retry", 2)}}
	pub := &fakePublisher{results: []publishResult{fakePublishResult{err: errors.New("unavailable")}}}
	service := newTestService(t, repo, pub, &fakeRegistry{resolved: orderResolved()}, &fakeDLQRepo{}, nil)
	service.now = func() time.Time { return now }

	if _, err := service.processBatch(context.Background()); err != nil {
		t.Fatalf("process batch returned error: %v", err)
	}
	if len(repo.retryAt) != 1 {
		t.Fatalf("expected one deferred row, got %d", len(repo.retryAt))
	}
	// third attempt waits 4s
	if want := now.Add(4 * time.Second); !repo.retryAt[0].Equal(want) {
		t.Fatalf("retry at %s, want %s", repo.retryAt[0], want)
	}
}

func TestServiceReusesPublisherPerTopic(t *testing.T) {
	repo := &fakeRepo{
		events: []models.OutboxEvent{
			newOrderEvent(t, "a", 0),
			newOrderEvent(t, "b", 0),
		},
	}
	pub := &fakePublisher{results: []publishResult{fakePublishResult{}, fakePublishResult{}}}
	service := newTestService(t, repo, pub, &fakeRegistry{resolved: orderResolved()}, &fakeDLQRepo{}, nil)
	created := 0
	service.newPublisher = func(topic string) publisher {
		created++
		if topic != "orders-topic" {
			t.Fatalf("unexpected topic %q", topic)
		}
		return pub
	}

	if _, err := service.processBatch(context.Background()); err != nil {
		t.Fatalf("process batch returned error: %v", err)
	}
	if created != 1 {
		t.Fatalf("expected one publisher, created %d", created)
	}
	if len(repo.published) != 2 {
		t.Fatalf("expected both rows published, got %d", len(repo.published))
	}
}

func TestServicePublishesRoutingAttributes(t *testing.T) {
	event := newOrderEvent(t, "attrs", 0)
	repo := &fakeRepo{events: []models.OutboxEvent{event}}
	pub := &fakePublisher{results: []publishResult{fakePublishResult{}}}
	service := newTestService(t, repo, pub, &fakeRegistry{resolved: orderResolved()}, &fakeDLQRepo{}, nil)

	if _, err := service.processBatch(context.Background()); err != nil {
		t.Fatalf("process batch returned error: %v", err)
	}
	if len(pub.messages) != 1 {
		t.Fatalf("expected one message, got %d", len(pub.messages))
	}
	attrs := pub.messages[0].Attributes
	if attrs["event_type"] != string(enums.EventOrderStatusChanged) {
		t.Fatalf("unexpected event_type %q", attrs["event_type"])
	}
	if attrs["aggregate_id"] != event.AggregateID.String() {
		t.Fatalf("unexpected aggregate_id %q", attrs["aggregate_id"])
	}
	if attrs["event_id"] == "" {
		t.Fatalf("event_id attribute missing")
	}
	if !bytes.Equal(pub.messages[0].Data, event.Payload) {
		t.Fatalf("message data should be the stored envelope")
	}
}

func TestServiceProcessBatchWritesDLQOnNonRetryable(t *testing.T) {
	event := newOrderEvent(t, "nonretryable", 0)
	repo := &fakeRepo{events: []models.OutboxEvent{event}}
	eventRegistry := &fakeRegistry{err: registry.NewNonRetryableError(errors.New("invalid payload"))}
	dlqRepo := &fakeDLQRepo{}
	service := newTestService(t, repo, &fakePublisher{}, eventRegistry, dlqRepo, nil)

	processed, err := service.processBatch(context.Background())
	if err != nil {
		t.Fatalf("process batch returned error: %v", err)
	}
	if !processed {
		t.Fatalf("expected batch to report processed")
	}
	if got := len(dlqRepo.entries); got != 1 {
		t.Fatalf("expected dlq entry, got %d", got)
	}
	entry := dlqRepo.entries[0]
	if entry.EventID != event.ID {
		t.Fatalf("dlq event_id mismatch: %s", entry.EventID)
	}
	if entry.Payload == nil || !bytes.Equal(entry.Payload, event.Payload) {
		t.Fatalf("dlq payload mismatch")
	}
	if entry.ErrorReason != enums.OutboxDLQReasonNonRetryable {
		t.Fatalf("unexpected error reason: %s", entry.ErrorReason)
	}
	if len(repo.terminal) != 1 {
		t.Fatalf("expected row pinned terminal")
	}
}

func TestServiceProcessBatchWritesDLQOnMaxAttempts(t *testing.T) {
	event := newOrderEvent(t, "max-attempts", 1)
	repo := &fakeRepo{events: []models.OutboxEvent{event}}
	pub := &fakePublisher{
		results: []publishResult{
			fakePublishResult{err: errors.New("transient")},
		},
	}
	dlqRepo := &fakeDLQRepo{}
	service := newTestService(t, repo, pub, &fakeRegistry{resolved: orderResolved()}, dlqRepo, &config.OutboxConfig{
		BatchSize:      1,
		PollIntervalMS: 100,
		MaxAttempts:    2,
	})

	processed, err := service.processBatch(context.Background())
	if err != nil {
		t.Fatalf("process batch returned error: %v", err)
	}
	if !processed {
		t.Fatalf("expected batch to report processed")
	}
	if got := len(dlqRepo.entries); got != 1 {
		t.Fatalf("expected dlq entry, got %d", got)
	}
	if dlqRepo.entries[0].ErrorReason != enums.OutboxDLQReasonMaxAttempts {
		t.Fatalf("unexpected error reason: %s", dlqRepo.entries[0].ErrorReason)
	}
	if len(repo.retryAt) != 0 {
		t.Fatalf("terminal row must not be deferred")
	}
}

func TestServiceTreatsMissingPublisherAsTerminal(t *testing.T) {
	repo := &fakeRepo{events: []models.OutboxEvent{newOrderEvent(t, "no-topic", 0)}}
	dlqRepo := &fakeDLQRepo{}
	service := newTestService(t, repo, nil, &fakeRegistry{resolved: orderResolved()}, dlqRepo, nil)
	service.newPublisher = func(string) publisher { return nil }

	if _, err := service.processBatch(context.Background()); err != nil {
		t.Fatalf("process batch returned error: %v", err)
	}
	if len(dlqRepo.entries) != 1 || dlqRepo.entries[0].ErrorReason != enums.OutboxDLQReasonNonRetryable {
		t.Fatalf("expected non-retryable dlq entry, got %+v", dlqRepo.entries)
	}
}

func TestServiceDrainStopsWhenOutboxEmpty(t *testing.T) {
	repo := &batchedRepo{batches: [][]models.OutboxEvent{
		{newOrderEvent(t, "event-one", 0), newOrderEvent(t, "event-two", 0)},
		{newOrderEvent(t, "event-three", 0)},
	}}
	pub := &fakePublisher{results: []publishResult{fakePublishResult{}, fakePublishResult{}, fakePublishResult{}}}
	service := newTestService(t, repo, pub, &fakeRegistry{resolved: orderResolved()}, &fakeDLQRepo{}, nil)

	batches, err := service.Drain(context.Background())
	if err != nil {
		t.Fatalf("drain returned error: %v", err)
	}
	if batches != 2 {
		t.Fatalf("expected 2 batches, got %d", batches)
	}
	if got := len(repo.published); got != 3 {
		t.Fatalf("expected 3 published rows, got %d", got)
	}
}

func TestServiceDrainHonorsCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	service := newTestService(t, &batchedRepo{}, &fakePublisher{}, &fakeRegistry{resolved: orderResolved()}, &fakeDLQRepo{}, nil)
	if _, err := service.Drain(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestServiceDispatchesBatchBeforeAwaiting(t *testing.T) {
	repo := &fakeRepo{events: []models.OutboxEvent{
		newOrderEvent(t, "a", 0),
		newOrderEvent(t, "b", 0),
	}}
	var trace []string
	pub := &tracingPublisher{trace: &trace}
	service := newTestService(t, repo, pub, &fakeRegistry{resolved: orderResolved()}, &fakeDLQRepo{}, nil)

	if _, err := service.processBatch(context.Background()); err != nil {
		t.Fatalf("process batch returned error: %v", err)
	}
	want := []string{"publish", "publish", "get", "get"}
	if len(trace) != len(want) {
		t.Fatalf("unexpected trace %v", trace)
	}
	for i := range want {
		if trace[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, trace)
		}
	}
}

func TestServiceRecordsRelayMetrics(t *testing.T) {
	repo := &fakeRepo{events: []models.OutboxEvent{
		newOrderEvent(t, "ok", 0),
		newOrderEvent(t, "retry", 0),
		newOrderEvent(t, "dead", 4),
	}}
	pub := &fakePublisher{results: []publishResult{
		fakePublishResult{},
		fakePublishResult{err: errors.New("unavailable")},
		fakePublishResult{err: errors.New("unavailable")},
	}}
	service := newTestService(t, repo, pub, &fakeRegistry{resolved: orderResolved()}, &fakeDLQRepo{}, &config.OutboxConfig{
		BatchSize:   3,
		MaxAttempts: 5,
	})
	recorder := &fakeMetrics{outcomes: map[string]int{}}
	service.metrics = recorder

	if _, err := service.processBatch(context.Background()); err != nil {
		t.Fatalf("process batch returned error: %v", err)
	}
	if recorder.batches != 1 || recorder.rows != 3 {
		t.Fatalf("expected one batch of 3 rows, got %d/%d", recorder.batches, recorder.rows)
	}
	for _, outcome := range []string{metrics.OutboxPublished, metrics.OutboxDeferred, metrics.OutboxDeadLettered} {
		if recorder.outcomes[outcome] != 1 {
			t.Fatalf("expected one %s row, got %v", outcome, recorder.outcomes)
		}
	}
}

func TestRowBackoffCaps(t *testing.T) {
	cases := map[int]time.Duration{
		0:  time.Second,
		1:  time.Second,
		2:  2 * time.Second,
		5:  16 * time.Second,
		20: rowRetryMax,
	}
	for attempt, want := range cases {
		if got := rowBackoff(attempt); got != want {
			t.Fatalf("rowBackoff(%d) = %s, want %s", attempt, got, want)
		}
	}
}

func newTestService(t *testing.T, repo outboxRepository, pub publisher, resolver registryResolver, dlq dlqRepository, outboxCfgOverride *config.OutboxConfig) *Service {
	outboxCfg := config.OutboxConfig{
		BatchSize:      2,
		PollIntervalMS: 100,
		MaxAttempts:    5,
	}
	if outboxCfgOverride != nil {
		outboxCfg = *outboxCfgOverride
	}
	cfg := &config.Config{
		Outbox: outboxCfg,
	}
	logg := logger.New(logger.Options{
		ServiceName: "outbox-publisher-test",
		Output:      io.Discard,
	})
	service, err := NewService(ServiceParams{
		Config:           cfg,
		Logger:           logg,
		DB:               &fakeDB{},
		PubSub:           &fakePubSubClient{},
		Repository:       repo,
		Registry:         resolver,
		PublisherFactory: func(_ string) publisher { return pub },
		DLQRepository:    dlq,
	})
	if err != nil {
		t.Fatalf("failed to construct service: %v", err)
	}
	return service
}

func newOrderEvent(tb testing.TB, eventID string, attempts int) models.OutboxEvent {
	tb.Helper()
	return models.OutboxEvent{
		ID:            uuid.New(),
		EventType:     enums.EventOrderStatusChanged,
		AggregateType: enums.AggregateOrder,
		AggregateID:   uuid.New(),
		Payload:       mustEnvelopePayload(tb, eventID),
		AttemptCount:  attempts,
		CreatedAt:     time.Now(),
	}
}

func orderResolved() *registry.ResolvedEvent {
	return &registry.ResolvedEvent{
		Descriptor: registry.EventDescriptor{
			Topic:         "orders-topic",
			AggregateType: enums.AggregateOrder,
		},
		Envelope: outbox.PayloadEnvelope{
			Version:    1,
			EventID:    uuid.NewString(),
			OccurredAt: time.Now(),
		},
		Payload: &payloads.OrderStatusChangedEvent{},
	}
}

func mustEnvelopePayload(tb testing.TB, eventID string) json.RawMessage {
	tb.Helper()
	env := outbox.PayloadEnvelope{
		Version:    1,
		EventID:    eventID,
		OccurredAt: time.Now(),
		Data:       json.RawMessage(`{}`),
	}
	payload, err := json.Marshal(env)
	if err != nil {
		tb.Fatalf("marshal envelope: %v", err)
	}
	return payload
}

type fakeRepo struct {
	events    []models.OutboxEvent
	published []uuid.UUID
	failed    []uuid.UUID
	retryAt   []time.Time
	terminal  []uuid.UUID
}

func (f *fakeRepo) FetchUnpublishedForPublish(tx *gorm.DB, limit, maxAttempts int) ([]models.OutboxEvent, error) {
	return f.events, nil
}

func (f *fakeRepo) MarkPublishedTx(tx *gorm.DB, id uuid.UUID) error {
	f.published = append(f.published, id)
	return nil
}

func (f *fakeRepo) MarkFailedTx(tx *gorm.DB, id uuid.UUID, err error, retryAt time.Time) error {
	f.failed = append(f.failed, id)
	f.retryAt = append(f.retryAt, retryAt)
	return nil
}

func (f *fakeRepo) MarkTerminalTx(tx *gorm.DB, id uuid.UUID, err error, terminalAttempts int) error {
	f.failed = append(f.failed, id)
	f.terminal = append(f.terminal, id)
	return nil
}

// batchedRepo hands out one batch per fetch, then nothing.
type batchedRepo struct {
	fakeRepo
	batches [][]models.OutboxEvent
}

func (b *batchedRepo) FetchUnpublishedForPublish(tx *gorm.DB, limit, maxAttempts int) ([]models.OutboxEvent, error) {
	if len(b.batches) == 0 {
		return nil, nil
	}
	next := b.batches[0]
	b.batches = b.batches[1:]
	return next, nil
}

type fakeDB struct{}

func (f *fakeDB) Ping(context.Context) error {
	return nil
}

func (f *fakeDB) WithTx(_ context.Context, fn func(*gorm.DB) error) error {
	return fn(nil)
}

type fakePubSubClient struct{}

func (f *fakePubSubClient) Ping(context.Context) error {
	return nil
}

func (f *fakePubSubClient) Publisher(name string) *gcppubsub.Publisher {
	return nil
}

type fakePublisher struct {
	results  []publishResult
	messages []*gcppubsub.Message
}

func (f *fakePublisher) Publish(_ context.Context, msg *gcppubsub.Message) publishResult {
	f.messages = append(f.messages, msg)
	if len(f.results) == 0 {
		return nil
	}
	result := f.results[0]
	f.results = f.results[1:]
	return result
}

type tracingPublisher struct {
	trace *[]string
}

func (p *tracingPublisher) Publish(context.Context, *gcppubsub.Message) publishResult {
	*p.trace = append(*p.trace, "publish")
	return tracingResult{trace: p.trace}
}

type tracingResult struct {
	trace *[]string
}

func (r tracingResult) Get(context.Context) (string, error) {
	*r.trace = append(*r.trace, "get")
	return "server-id", nil
}

type fakeMetrics struct {
	outcomes map[string]int
	batches  int
	rows     int
}

func (f *fakeMetrics) Observe(_ string, outcome string) { f.outcomes[outcome]++ }

func (f *fakeMetrics) ObserveBatch(rows int) {
	f.batches++
	f.rows += rows
}

type fakePublishResult struct {
	err error
}

func (f fakePublishResult) Get(context.Context) (string, error) {
	return "", f.err
}

type fakeRegistry struct {
	resolved *registry.ResolvedEvent
	err      error
}

func (f *fakeRegistry) Resolve(event models.OutboxEvent) (*registry.ResolvedEvent, error) {
	if f.resolved == nil {
		return nil, f.err
	}
	resolved := *f.resolved
	resolved.Descriptor.AggregateType = event.AggregateType
	resolved.Envelope.EventID = event.ID.String()
	resolved.Envelope.OccurredAt = time.Now()
	return &resolved, f.err
}

type fakeDLQRepo struct {
	entries []models.OutboxDLQ
}

func (f *fakeDLQRepo) InsertTx(tx *gorm.DB, entry models.OutboxDLQ) error {
	f.entries = append(f.entries, entry)
	return nil
}
