package middleware

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/angelmondragon/orderflow-backend/api/responses"
	pkgerrors "github.com/angelmondragon/orderflow-backend/pkg/errors"
	"github.com/angelmondragon/orderflow-backend/pkg/logger"
)

type rateLimiterStore interface {
	IncrWithTTL(context.Context, string, time.Duration) (int64, error)
}

type rateKeyer interface {
	RateLimitKey(scope string) string
}

// RateLimitPolicy defines fixed-window limits for one traffic surface.
type RateLimitPolicy struct {
	name      string
	window    time.Duration
	userLimit int
	ipLimit   int
}

// NewRateLimitPolicy builds a policy with the supplied window and limits. A
// zero limit disables that dimension.
func NewRateLimitPolicy(name string, window time.Duration, userLimit, ipLimit int) RateLimitPolicy {
	return RateLimitPolicy{
		name:      strings.ToLower(strings.TrimSpace(name)),
		window:    window,
		userLimit: userLimit,
		ipLimit:   ipLimit,
	}
}

func (p RateLimitPolicy) enabled() bool {
	return p.window > 0 && (p.userLimit > 0 || p.ipLimit > 0)
}

func (p RateLimitPolicy) normalizedName() string {
	if p.name == "" {
		return "api"
	}
	return p.name
}

// RateLimit enforces per-user and per-IP counters. It must run after Auth so
// the user id is known.
func RateLimit(policy RateLimitPolicy, store rateLimiterStore, keys rateKeyer, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if !policy.enabled() || store == nil || keys == nil {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			checks := []struct {
				scope string
				value string
				limit int
			}{
				{scope: "user", value: UserIDFromContext(ctx), limit: policy.userLimit},
				{scope: "ip", value: clientIP(r), limit: policy.ipLimit},
			}
			for _, check := range checks {
				if check.limit <= 0 || check.value == "" {
					continue
				}
				key := keys.RateLimitKey(fmt.Sprintf("%s:%s:%s", policy.normalizedName(), check.scope, check.value))
				count, err := store.IncrWithTTL(ctx, key, policy.window)
				if err != nil {
					responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "rate limiting"))
					return
				}
				if count > int64(check.limit) {
					if logg != nil {
						logg.Warn(logg.WithFields(ctx, map[string]any{
							"scope":          check.scope,
							"policy":         policy.normalizedName(),
							"attempts":       count,
							"limit":          check.limit,
							"window_seconds": int(policy.window.Seconds()),
						}), "api.rate_limit.blocked")
					}
					responses.WriteError(ctx, nil, w, pkgerrors.New(pkgerrors.CodeRateLimit, "rate limit exceeded").
						WithDetails(map[string]any{responses.RetryAfterKey: int(policy.window.Seconds())}))
					return
				}
			}

			next.ServeHTTP(w, r)
		})
	}
}

func clientIP(r *http.Request) string {
	if r == nil {
		return ""
	}
	if header := r.Header.Get("X-Forwarded-For"); header != "" {
		for _, part := range strings.Split(header, ",") {
			if ip := strings.TrimSpace(part); ip != "" {
				return ip
			}
		}
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil && host != "" {
		return host
	}
	return r.RemoteAddr
}
