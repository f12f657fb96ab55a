package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/angelmondragon/orderflow-backend/internal/analytics/router"
	"github.com/angelmondragon/orderflow-backend/internal/analytics/types"
	"github.com/angelmondragon/orderflow-backend/pkg/enums"
	"github.com/angelmondragon/orderflow-backend/pkg/logger"
	"github.com/angelmondragon/orderflow-backend/pkg/metrics"
	"github.com/angelmondragon/orderflow-backend/pkg/outbox"
	"github.com/google/uuid"
)

func TestBuildEnvelope(t *testing.T) {
	orderID := uuid.NewString()
	payload := outbox.PayloadEnvelope{
		Version:    1,
		EventID:    "evt-1",
		OccurredAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Data:       json.RawMessage(fmt.Sprintf(`{"order_id":%q}`, orderID)),
	}
	msg := buildMessage(payload, map[string]string{
		"event_type":     "order_status_changed",
		"aggregate_type": "order",
		"aggregate_id":   orderID,
	})

	env, err := buildEnvelope(msg)
	if err != nil {
		t.Fatalf("build envelope: %v", err)
	}
	if env.EventType != enums.EventOrderStatusChanged {
		t.Fatalf("unexpected event type %v", env.EventType)
	}
	if env.AggregateType != enums.AggregateOrder {
		t.Fatalf("unexpected aggregate type %v", env.AggregateType)
	}
	if env.AggregateID != orderID || env.EventID != "evt-1" {
		t.Fatalf("unexpected identity %+v", env)
	}
	if !env.OccurredAt.Equal(payload.OccurredAt) {
		t.Fatalf("unexpected occurred at %v", env.OccurredAt)
	}
}

func TestBuildEnvelopeFallsBackToAttributes(t *testing.T) {
	created := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	msg := buildMessage(outbox.PayloadEnvelope{Data: json.RawMessage(`{}`)}, map[string]string{
		"event_id":       "evt-attr",
		"event_type":     "payment_failed",
		"aggregate_type": "payment",
		"aggregate_id":   "pay-1",
		"created_at":     created.Format(time.RFC3339Nano),
	})

	env, err := buildEnvelope(msg)
	if err != nil {
		t.Fatalf("build envelope: %v", err)
	}
	if env.EventID != "evt-attr" || !env.OccurredAt.Equal(created) {
		t.Fatalf("expected attribute fallbacks, got %+v", env)
	}
}

func TestProcessAlreadyProcessed(t *testing.T) {
	manager := &stubManager{checkResult: true}
	handler := &stubHandler{}
	svc := newTestService(handler, manager)

	if res := svc.process(context.Background(), buildAnalyticsMessage()); res.nack() {
		t.Fatalf("expected ack, got nack")
	}
	if handler.called {
		t.Fatal("handler should not be invoked when already processed")
	}
	if len(manager.checked) != 1 {
		t.Fatalf("expected check once, got %d", len(manager.checked))
	}
}

func TestProcessHandlerErrorRetries(t *testing.T) {
	manager := &stubManager{}
	handler := &stubHandler{err: errors.New("boom")}
	svc := newTestService(handler, manager)

	if res := svc.process(context.Background(), buildAnalyticsMessage()); !res.nack() {
		t.Fatalf("expected nack on handler error")
	}
	if len(manager.deleted) != 1 || manager.deleted[0] != manager.checked[0] {
		t.Fatalf("expected idempotency key release, got %v", manager.deleted)
	}
}

func TestProcessIdempotencyFailureNacks(t *testing.T) {
	manager := &stubManager{checkErr: errors.New("redis down")}
	handler := &stubHandler{}
	svc := newTestService(handler, manager)

	if res := svc.process(context.Background(), buildAnalyticsMessage()); !res.nack() {
		t.Fatal("expected nack when idempotency store fails")
	}
	if handler.called {
		t.Fatal("handler should not run without an idempotency mark")
	}
}

func TestProcessInvalidEnvelope(t *testing.T) {
	manager := &stubManager{}
	handler := &stubHandler{}
	svc := newTestService(handler, manager)

	msg := &gcppubsub.Message{Data: []byte("invalid json")}
	if res := svc.process(context.Background(), msg); res.nack() {
		t.Fatalf("invalid envelope should ack")
	}
	if handler.called || len(manager.checked) != 0 {
		t.Fatal("invalid envelope should not reach the handler or the idempotency store")
	}
}

func TestProcessUnsupportedEvent(t *testing.T) {
	manager := &stubManager{}
	handler := &stubHandler{err: router.ErrUnsupportedEventType}
	svc := newTestService(handler, manager)

	if res := svc.process(context.Background(), buildAnalyticsMessage()); res.nack() {
		t.Fatalf("unsupported event should ack")
	}
	if len(manager.deleted) != 0 {
		t.Fatalf("idempotency delete should not run")
	}
}

func TestProcessOutcomes(t *testing.T) {
	cases := []struct {
		name    string
		manager *stubManager
		handler *stubHandler
		msg     *gcppubsub.Message
		want    string
	}{
		{"handled", &stubManager{}, &stubHandler{}, buildAnalyticsMessage(), metrics.ConsumeHandled},
		{"duplicate", &stubManager{checkResult: true}, &stubHandler{}, buildAnalyticsMessage(), metrics.ConsumeDuplicate},
		{"ignored", &stubManager{}, &stubHandler{err: router.ErrUnsupportedEventType}, buildAnalyticsMessage(), metrics.ConsumeIgnored},
		{"retried", &stubManager{}, &stubHandler{err: errors.New("boom")}, buildAnalyticsMessage(), metrics.ConsumeRetried},
		{"invalid", &stubManager{}, &stubHandler{}, &gcppubsub.Message{Data: []byte("{")}, metrics.ConsumeInvalid},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := newTestService(tc.handler, tc.manager).process(context.Background(), tc.msg)
			if got.outcome != tc.want {
				t.Fatalf("expected outcome %s, got %s", tc.want, got.outcome)
			}
			if got.outcome == metrics.ConsumeHandled && got.eventType != "order_created" {
				t.Fatalf("expected event type label, got %q", got.eventType)
			}
		})
	}
}

func TestNewServiceValidatesDependencies(t *testing.T) {
	logg := logger.New(logger.Options{ServiceName: "analytics-test", Output: io.Discard})
	if _, err := NewService(ServiceParams{Handler: &stubHandler{}, Dedupe: &stubManager{}, Logger: logg}); err == nil {
		t.Fatal("expected error without subscription")
	}
	if _, err := NewService(ServiceParams{Subscription: &stubReceiver{}, Dedupe: &stubManager{}, Logger: logg}); err == nil {
		t.Fatal("expected error without handler")
	}
	if _, err := NewService(ServiceParams{Subscription: &stubReceiver{}, Handler: &stubHandler{}, Dedupe: &stubManager{}, Logger: logg}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRunReturnsReceiveError(t *testing.T) {
	receiveErr := errors.New("subscription deleted")
	svc := newTestService(&stubHandler{}, &stubManager{})
	svc.subscription = &stubReceiver{err: receiveErr}

	if err := svc.Run(context.Background()); !errors.Is(err, receiveErr) {
		t.Fatalf("expected receive error, got %v", err)
	}
}

func buildAnalyticsMessage() *gcppubsub.Message {
	payload := outbox.PayloadEnvelope{
		Version:    1,
		EventID:    uuid.NewString(),
		OccurredAt: time.Now().UTC(),
		Data:       json.RawMessage(`{"order_id":"abc-123"}`),
	}
	return buildMessage(payload, map[string]string{
		"event_type":     "order_created",
		"aggregate_type": "order",
		"aggregate_id":   "abc-123",
	})
}

func buildMessage(payload outbox.PayloadEnvelope, attrs map[string]string) *gcppubsub.Message {
	data, _ := json.Marshal(payload)
	return &gcppubsub.Message{
		ID:         "msg-1",
		Data:       data,
		Attributes: attrs,
	}
}

func newTestService(handler Handler, manager *stubManager) *Service {
	return &Service{
		handler: handler,
		manager: manager,
		logg:    logger.New(logger.Options{ServiceName: "analytics-test", Output: io.Discard}),
	}
}

type stubReceiver struct {
	err error
}

func (r *stubReceiver) Receive(context.Context, func(context.Context, *gcppubsub.Message)) error {
	return r.err
}

type stubHandler struct {
	called   bool
	envelope types.Envelope
	err      error
}

func (h *stubHandler) Handle(_ context.Context, envelope types.Envelope) error {
	h.called = true
	h.envelope = envelope
	return h.err
}

type stubManager struct {
	checkResult bool
	checkErr    error
	checked     []string
	deleted     []string
}

func (s *stubManager) CheckAndMarkProcessed(_ context.Context, _ string, eventID string) (bool, error) {
	s.checked = append(s.checked, eventID)
	return s.checkResult, s.checkErr
}

func (s *stubManager) Delete(_ context.Context, _ string, eventID string) error {
	s.deleted = append(s.deleted, eventID)
	return nil
}
