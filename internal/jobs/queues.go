package jobs

import (
	"fmt"
	"time"

	"github.com/angelmondragon/orderflow-backend/pkg/enums"
)

const maxBackoff = time.Hour

// BackoffPolicy shapes the delay before a failed job runs again.
type BackoffPolicy struct {
	Type  enums.BackoffType
	Delay time.Duration
}

// Next returns the wait after the given number of completed attempts.
// Exponential delays double from Delay: 1 attempt waits Delay, 2 wait 2*Delay.
func (b BackoffPolicy) Next(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	switch b.Type {
	case enums.BackoffFixed:
		return b.Delay
	case enums.BackoffExponential:
		delay := b.Delay
		for i := 1; i < attempts; i++ {
			delay *= 2
			if delay >= maxBackoff {
				return maxBackoff
			}
		}
		return delay
	default:
		return 0
	}
}

// RateLimit caps how many jobs a queue starts per window across all workers.
type RateLimit struct {
	Max    int64
	Window time.Duration
}

// QueueConfig is the per-queue execution policy.
type QueueConfig struct {
	Name             enums.QueueName
	Concurrency      int
	MaxAttempts      int
	Backoff          BackoffPolicy
	RemoveOnComplete bool
	RateLimit        *RateLimit
}

func (c QueueConfig) validate() error {
	if !c.Name.IsValid() {
		return fmt.Errorf("unknown queue %q", c.Name)
	}
	if c.Concurrency < 1 {
		return fmt.Errorf("queue %s: concurrency must be at least 1", c.Name)
	}
	if c.MaxAttempts < 1 {
		return fmt.Errorf("queue %s: max attempts must be at least 1", c.Name)
	}
	if !c.Backoff.Type.IsValid() {
		return fmt.Errorf("queue %s: unknown backoff %q", c.Name, c.Backoff.Type)
	}
	if c.RateLimit != nil && (c.RateLimit.Max < 1 || c.RateLimit.Window <= 0) {
		return fmt.Errorf("queue %s: invalid rate limit", c.Name)
	}
	return nil
}

// Queues is the validated set of queue policies the producer and workers share.
type Queues map[enums.QueueName]QueueConfig

// DefaultQueues returns the production queue policies.
func DefaultQueues() Queues {
	return Queues{
		enums.QueueAnalytics: {
			Name:        enums.QueueAnalytics,
			Concurrency: 5,
			MaxAttempts: 5,
			Backoff:     BackoffPolicy{Type: enums.BackoffExponential, Delay: 2 * time.Second},
		},
		enums.QueueNotifications: {
			Name:        enums.QueueNotifications,
			Concurrency: 10,
			MaxAttempts: 3,
			Backoff:     BackoffPolicy{Type: enums.BackoffExponential, Delay: time.Second},
			RateLimit:   &RateLimit{Max: 100, Window: time.Minute},
		},
		enums.QueueOrders: {
			Name:        enums.QueueOrders,
			Concurrency: 5,
			MaxAttempts: 5,
			Backoff:     BackoffPolicy{Type: enums.BackoffExponential, Delay: 2 * time.Second},
		},
		enums.QueueCleanup: {
			Name:             enums.QueueCleanup,
			Concurrency:      1,
			MaxAttempts:      1,
			Backoff:          BackoffPolicy{Type: enums.BackoffNone},
			RemoveOnComplete: true,
		},
	}
}

// Validate checks every policy.
func (q Queues) Validate() error {
	if len(q) == 0 {
		return fmt.Errorf("at least one queue is required")
	}
	for name, cfg := range q {
		if name != cfg.Name {
			return fmt.Errorf("queue key %q does not match config name %q", name, cfg.Name)
		}
		if err := cfg.validate(); err != nil {
			return err
		}
	}
	return nil
}

// Get returns the policy for name.
func (q Queues) Get(name enums.QueueName) (QueueConfig, error) {
	cfg, ok := q[name]
	if !ok {
		return QueueConfig{}, fmt.Errorf("queue %q is not configured", name)
	}
	return cfg, nil
}

// Names returns configured queues in a stable order.
func (q Queues) Names() []enums.QueueName {
	order := []enums.QueueName{enums.QueueOrders, enums.QueueNotifications, enums.QueueAnalytics, enums.QueueCleanup}
	names := make([]enums.QueueName, 0, len(q))
	for _, name := range order {
		if _, ok := q[name]; ok {
			names = append(names, name)
		}
	}
	return names
}
