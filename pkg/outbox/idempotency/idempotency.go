// Package idempotency records which consumer has already handled which event
// id so at-least-once deliveries are applied once.
package idempotency

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/angelmondragon/orderflow-backend/pkg/instance"
)

var (
	ErrConsumerRequired = errors.New("consumer name is required")
	ErrEventIDRequired  = errors.New("event id is required")
)

// Store is the SETNX surface of the cache tier used for dedupe keys.
type Store interface {
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	Delete(ctx context.Context, key string) error
}

// KeyFunc namespaces a scope and id into a cache key.
type KeyFunc func(scope, id string) string

func defaultKey(scope, id string) string { return "idempotency:" + scope + ":" + id }

// Manager marks event ids as processed per consumer. With the redis client's
// key builder a mark lives at of:idempotency:evt:processed:<consumer>:<id>.
type Manager struct {
	store Store
	key   KeyFunc
	ttl   time.Duration
	owner string
	now   func() time.Time
}

// NewManager keeps marks for ttl; zero keeps them until deleted.
func NewManager(store Store, key KeyFunc, ttl time.Duration) (*Manager, error) {
	switch {
	case store == nil:
		return nil, errors.New("idempotency store is required")
	case ttl < 0:
		return nil, errors.New("ttl must be non-negative")
	}
	if key == nil {
		key = defaultKey
	}
	return &Manager{store: store, key: key, ttl: ttl, owner: instance.GetID(), now: time.Now}, nil
}

// CheckAndMarkProcessed reports true when eventID was already marked for
// consumer. Otherwise it claims the mark; the stored value names the instance
// that claimed it.
func (m *Manager) CheckAndMarkProcessed(ctx context.Context, consumer, eventID string) (bool, error) {
	key, err := m.markKey(consumer, eventID)
	if err != nil {
		return false, err
	}
	claimed, err := m.store.SetNX(ctx, key, m.markValue(), m.ttl)
	if err != nil {
		return false, err
	}
	return !claimed, nil
}

// Delete drops the mark so a failed delivery is processed on redelivery.
func (m *Manager) Delete(ctx context.Context, consumer, eventID string) error {
	key, err := m.markKey(consumer, eventID)
	if err != nil {
		return err
	}
	return m.store.Delete(ctx, key)
}

func (m *Manager) markKey(consumer, eventID string) (string, error) {
	consumer = strings.TrimSpace(consumer)
	eventID = strings.TrimSpace(eventID)
	if consumer == "" {
		return "", ErrConsumerRequired
	}
	if eventID == "" {
		return "", ErrEventIDRequired
	}
	return m.key("evt:processed:"+consumer, eventID), nil
}

func (m *Manager) markValue() string {
	return m.owner + "@" + m.now().UTC().Format(time.RFC3339)
}
