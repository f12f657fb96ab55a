package jobs

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/angelmondragon/orderflow-backend/pkg/logger"
)

// Limiter gates how often a queue may start a job.
type Limiter interface {
	Allow(ctx context.Context) bool
}

type fixedWindowStore interface {
	FixedWindowAllow(ctx context.Context, scope string, limit int64, window time.Duration) (bool, int64, error)
}

// SharedLimiter enforces a fleet-wide fixed window in redis and falls back to
// a per-process token bucket when redis is unreachable.
type SharedLimiter struct {
	store    fixedWindowStore
	scope    string
	limit    int64
	window   time.Duration
	fallback *rate.Limiter
	logg     *logger.Logger
}

// NewSharedLimiter builds the limiter for one queue.
func NewSharedLimiter(store fixedWindowStore, scope string, limit RateLimit, logg *logger.Logger) (*SharedLimiter, error) {
	if limit.Max < 1 || limit.Window <= 0 {
		return nil, fmt.Errorf("invalid rate limit for %s", scope)
	}
	every := limit.Window / time.Duration(limit.Max)
	return &SharedLimiter{
		store:    store,
		scope:    scope,
		limit:    limit.Max,
		window:   limit.Window,
		fallback: rate.NewLimiter(rate.Every(every), int(limit.Max)),
		logg:     logg,
	}, nil
}

func (l *SharedLimiter) Allow(ctx context.Context) bool {
	if l.store == nil {
		return l.fallback.Allow()
	}
	allowed, _, err := l.store.FixedWindowAllow(ctx, l.scope, l.limit, l.window)
	if err != nil {
		l.logg.Warn(l.logg.WithField(ctx, "scope", l.scope), "shared rate limit unavailable; using local limiter")
		return l.fallback.Allow()
	}
	return allowed
}

// LocalLimiter is a process-local token bucket.
func LocalLimiter(limit RateLimit) Limiter {
	if limit.Max < 1 || limit.Window <= 0 {
		return localLimiter{rate.NewLimiter(rate.Inf, 0)}
	}
	every := limit.Window / time.Duration(limit.Max)
	return localLimiter{rate.NewLimiter(rate.Every(every), int(limit.Max))}
}

type localLimiter struct {
	*rate.Limiter
}

func (l localLimiter) Allow(context.Context) bool {
	return l.Limiter.Allow()
}
