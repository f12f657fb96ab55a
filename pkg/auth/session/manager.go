package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	redislib "github.com/redis/go-redis/v9"
)

type revocationStore interface {
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Get(ctx context.Context, key string) (string, error)
}

type revocationKeyer interface {
	RevokedTokenKey(jti string) string
}

// RevocationChecker exposes the read-only surface needed by middleware.
type RevocationChecker interface {
	IsRevoked(ctx context.Context, jti string) (bool, error)
}

// Manager tracks access tokens revoked before they expire. Tokens are minted
// upstream, so revocation is the only server-side session state.
type Manager struct {
	store revocationStore
	keyer revocationKeyer
	now   func() time.Time
}

// RedisClient is the subset of pkg/redis.Client the manager needs.
type RedisClient interface {
	revocationStore
	revocationKeyer
}

// NewManager constructs a revocation manager backed by Redis.
func NewManager(client RedisClient) (*Manager, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	return &Manager{store: client, keyer: client, now: time.Now}, nil
}

// Revoke marks jti as revoked until expiresAt. Tokens already past their
// expiry need no entry.
func (m *Manager) Revoke(ctx context.Context, jti string, expiresAt time.Time) error {
	if strings.TrimSpace(jti) == "" {
		return fmt.Errorf("token id is required")
	}
	ttl := expiresAt.Sub(m.now())
	if ttl <= 0 {
		return nil
	}
	return m.store.Set(ctx, m.keyer.RevokedTokenKey(jti), "1", ttl)
}

// IsRevoked reports whether jti was revoked.
func (m *Manager) IsRevoked(ctx context.Context, jti string) (bool, error) {
	if strings.TrimSpace(jti) == "" {
		return false, fmt.Errorf("token id is required")
	}
	if _, err := m.store.Get(ctx, m.keyer.RevokedTokenKey(jti)); err != nil {
		if errors.Is(err, redislib.Nil) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
