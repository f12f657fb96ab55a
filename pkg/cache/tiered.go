package cache

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/angelmondragon/orderflow-backend/pkg/logger"
	"github.com/angelmondragon/orderflow-backend/pkg/redis"
)

// ErrMiss is returned by Get when neither tier holds the key.
var ErrMiss = errors.New("cache miss")

const defaultProbeTimeout = 500 * time.Millisecond

// Backing is the shared tier, normally *redis.Client.
type Backing interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	Del(ctx context.Context, keys ...string) error
	Ping(ctx context.Context) error
}

type localEntry struct {
	value     string
	expiresAt time.Time
}

// Tiered is a two-tier cache: a shared backing store with a process-local map
// used whenever the backing store cannot serve a call. Local entries are only
// visible to this process.
type Tiered struct {
	backing      Backing
	logg         *logger.Logger
	localTTL     time.Duration
	probeTimeout time.Duration
	now          func() time.Time

	mu    sync.Mutex
	local map[string]localEntry
}

// Options configures a Tiered cache.
type Options struct {
	Backing  Backing
	Logger   *logger.Logger
	LocalTTL time.Duration
	Now      func() time.Time
}

// NewTiered builds the cache. A nil Backing yields a local-only cache.
func NewTiered(opts Options) *Tiered {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	ttl := opts.LocalTTL
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Tiered{
		backing:      opts.Backing,
		logg:         opts.Logger,
		localTTL:     ttl,
		probeTimeout: defaultProbeTimeout,
		now:          now,
		local:        make(map[string]localEntry),
	}
}

// IsBackingStoreAvailable pings the shared tier.
func (c *Tiered) IsBackingStoreAvailable(ctx context.Context) bool {
	if c.backing == nil {
		return false
	}
	probeCtx, cancel := context.WithTimeout(ctx, c.probeTimeout)
	defer cancel()
	return c.backing.Ping(probeCtx) == nil
}

// Get returns the cached value or ErrMiss.
func (c *Tiered) Get(ctx context.Context, key string) (string, error) {
	if c.backing != nil {
		value, err := c.backing.Get(ctx, key)
		switch {
		case err == nil:
			return value, nil
		case redis.IsNil(err):
			return "", ErrMiss
		default:
			c.degrade(ctx, "get", key, err)
		}
	}
	if value, ok := c.localGet(key); ok {
		return value, nil
	}
	return "", ErrMiss
}

// Set stores value in the shared tier or locally when it is unavailable.
func (c *Tiered) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if c.backing != nil {
		err := c.backing.Set(ctx, key, value, ttl)
		if err == nil {
			return nil
		}
		c.degrade(ctx, "set", key, err)
	}
	c.localSet(key, value, ttl)
	return nil
}

// SetNX stores value only when key is absent and reports whether it won.
func (c *Tiered) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	if c.backing != nil {
		ok, err := c.backing.SetNX(ctx, key, value, ttl)
		if err == nil {
			return ok, nil
		}
		c.degrade(ctx, "setnx", key, err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.lookupLocked(key); ok {
		return false, nil
	}
	c.storeLocked(key, value, ttl)
	return true, nil
}

// Delete removes key from both tiers.
func (c *Tiered) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	delete(c.local, key)
	c.mu.Unlock()
	if c.backing == nil {
		return nil
	}
	if err := c.backing.Del(ctx, key); err != nil {
		c.degrade(ctx, "del", key, err)
	}
	return nil
}

func (c *Tiered) degrade(ctx context.Context, op, key string, err error) {
	ctx = c.logg.WithFields(ctx, map[string]any{"cache_op": op, "cache_key": key})
	c.logg.Warn(ctx, "backing cache unavailable, using local tier: "+err.Error())
}

func (c *Tiered) localGet(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lookupLocked(key)
}

func (c *Tiered) localSet(key, value string, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.storeLocked(key, value, ttl)
}

func (c *Tiered) lookupLocked(key string) (string, bool) {
	entry, ok := c.local[key]
	if !ok {
		return "", false
	}
	if c.now().After(entry.expiresAt) {
		delete(c.local, key)
		return "", false
	}
	return entry.value, true
}

func (c *Tiered) storeLocked(key, value string, ttl time.Duration) {
	if ttl <= 0 || ttl > c.localTTL {
		ttl = c.localTTL
	}
	c.local[key] = localEntry{value: value, expiresAt: c.now().Add(ttl)}
}
