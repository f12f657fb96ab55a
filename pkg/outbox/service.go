package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/orderflow-backend/pkg/db/models"
	"github.com/angelmondragon/orderflow-backend/pkg/enums"
	"github.com/angelmondragon/orderflow-backend/pkg/logger"
)

var (
	ErrTxRequired   = errors.New("outbox: transaction required")
	ErrInvalidEvent = errors.New("outbox: invalid event")
)

// DomainEvent is a state change to announce once its transaction commits.
type DomainEvent struct {
	EventType     enums.OutboxEventType
	AggregateType enums.OutboxAggregateType
	AggregateID   uuid.UUID
	Actor         *ActorRef
	Data          any
	OccurredAt    time.Time
}

func (e DomainEvent) validate() error {
	switch {
	case !e.EventType.IsValid():
		return fmt.Errorf("%w: event type %q", ErrInvalidEvent, e.EventType)
	case !e.AggregateType.IsValid():
		return fmt.Errorf("%w: aggregate type %q", ErrInvalidEvent, e.AggregateType)
	case e.AggregateID == uuid.Nil:
		return fmt.Errorf("%w: %s has no aggregate id", ErrInvalidEvent, e.EventType)
	}
	return nil
}

type inserter interface {
	Insert(tx *gorm.DB, event models.OutboxEvent) error
}

// Service writes outbox rows. The publisher binary is the only reader.
type Service struct {
	repo inserter
	logg *logger.Logger
	now  func() time.Time
}

func NewService(repo *Repository, logg *logger.Logger) *Service {
	return &Service{repo: repo, logg: logg, now: time.Now}
}

// Emit stores event inside tx so it commits or rolls back with the state
// change. The row id doubles as the envelope event id, which is what
// consumers dedupe on and what the DLQ replay endpoint takes.
func (s *Service) Emit(ctx context.Context, tx *gorm.DB, event DomainEvent) error {
	if tx == nil {
		return ErrTxRequired
	}
	if err := event.validate(); err != nil {
		return err
	}

	row, err := s.encode(event)
	if err != nil {
		return err
	}
	if err := s.repo.Insert(tx, row); err != nil {
		return fmt.Errorf("insert outbox %s: %w", event.EventType, err)
	}

	if ctx == nil {
		ctx = context.Background()
	}
	s.logg.Debug(s.logg.WithFields(ctx, map[string]any{
		"event_id":       row.ID.String(),
		"event_type":     event.EventType,
		"aggregate_type": event.AggregateType,
		"aggregate_id":   event.AggregateID.String(),
	}), "outbox.queued")
	return nil
}

func (s *Service) encode(event DomainEvent) (models.OutboxEvent, error) {
	data, err := json.Marshal(event.Data)
	if err != nil {
		return models.OutboxEvent{}, fmt.Errorf("marshal %s data: %w", event.EventType, err)
	}
	occurred := event.OccurredAt
	if occurred.IsZero() {
		occurred = s.now()
	}

	id := uuid.New()
	payload, err := json.Marshal(PayloadEnvelope{
		Version:    EnvelopeVersion,
		EventID:    id.String(),
		OccurredAt: occurred.UTC(),
		Actor:      event.Actor,
		Data:       data,
	})
	if err != nil {
		return models.OutboxEvent{}, err
	}
	return models.OutboxEvent{
		ID:            id,
		EventType:     event.EventType,
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
		Payload:       payload,
	}, nil
}
