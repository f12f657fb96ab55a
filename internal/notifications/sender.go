package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/angelmondragon/orderflow-backend/pkg/enums"
	"github.com/angelmondragon/orderflow-backend/pkg/logger"
	"github.com/google/uuid"
)

// Message is one resolved delivery: the notification plus the address the
// channel needs.
type Message struct {
	NotificationID uuid.UUID                 `json:"notification_id"`
	UserID         uuid.UUID                 `json:"user_id"`
	OrderID        *uuid.UUID                `json:"order_id,omitempty"`
	Channel        enums.NotificationChannel `json:"channel"`
	Address        string                    `json:"address"`
	Title          string                    `json:"title"`
	Body           string                    `json:"body"`
	DedupeKey      string                    `json:"dedupe_key"`
}

// Sender hands a message to a delivery provider.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

type publisher interface {
	Publish(ctx context.Context, msg *gcppubsub.Message) *gcppubsub.PublishResult
}

// TopicSender publishes messages to a Pub/Sub topic drained by the push and
// email gateways.
type TopicSender struct {
	publisher publisher
}

func NewTopicSender(pub *gcppubsub.Publisher) (*TopicSender, error) {
	if pub == nil {
		return nil, errors.New("notifications publisher required")
	}
	return &TopicSender{publisher: pub}, nil
}

func (s *TopicSender) Send(ctx context.Context, msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	result := s.publisher.Publish(ctx, &gcppubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"channel":    string(msg.Channel),
			"dedupe_key": msg.DedupeKey,
		},
	})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}
	return nil
}

// LogSender only logs deliveries. It backs local runs without a topic.
type LogSender struct {
	logg *logger.Logger
}

func NewLogSender(logg *logger.Logger) *LogSender {
	return &LogSender{logg: logg}
}

func (s *LogSender) Send(ctx context.Context, msg Message) error {
	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"notification_id": msg.NotificationID.String(),
		"channel":         msg.Channel,
		"dedupe_key":      msg.DedupeKey,
	}), "notification delivered to log sink")
	return nil
}
