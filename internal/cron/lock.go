package cron

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

const defaultLockTTL = 30 * time.Minute

// Lock gives one cron instance exclusive use of a named job.
type Lock interface {
	Acquire(ctx context.Context, name string) (bool, error)
	Release(ctx context.Context, name string) error
}

// redisStore defines the operations used by RedisLock.
type redisStore interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	CompareAndDelete(ctx context.Context, key, value string) (bool, error)
}

// RedisLock implements Lock with one SETNX key per job name. The TTL caps how
// long a crashed owner can block the job.
type RedisLock struct {
	client redisStore
	prefix string
	ttl    time.Duration

	mu     sync.Mutex
	owners map[string]string
}

// NewRedisLock constructs a Redis-backed lock. Keys are prefix + ":" + name.
func NewRedisLock(client redisStore, prefix string, ttl time.Duration) (*RedisLock, error) {
	if client == nil {
		return nil, errors.New("redis client required for lock")
	}
	if prefix == "" {
		return nil, errors.New("lock key prefix is required")
	}
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	return &RedisLock{client: client, prefix: prefix, ttl: ttl, owners: map[string]string{}}, nil
}

func (l *RedisLock) key(name string) string {
	return l.prefix + ":" + name
}

// Acquire tries to own the named lock for the configured TTL.
func (l *RedisLock) Acquire(ctx context.Context, name string) (bool, error) {
	owner := uuid.NewString()
	ok, err := l.client.SetNX(ctx, l.key(name), owner, l.ttl)
	if err != nil {
		return false, fmt.Errorf("setnx %s: %w", name, err)
	}
	if ok {
		l.mu.Lock()
		l.owners[name] = owner
		l.mu.Unlock()
	}
	return ok, nil
}

// Release frees the named lock only if this instance still owns it.
func (l *RedisLock) Release(ctx context.Context, name string) error {
	l.mu.Lock()
	owner := l.owners[name]
	delete(l.owners, name)
	l.mu.Unlock()
	if owner == "" {
		return nil
	}

	if _, err := l.client.CompareAndDelete(ctx, l.key(name), owner); err != nil {
		return fmt.Errorf("release lock %s: %w", name, err)
	}
	return nil
}
