package cron

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"

	"github.com/angelmondragon/orderflow-backend/pkg/logger"
	"github.com/angelmondragon/orderflow-backend/pkg/metrics"
)

const defaultTick = time.Minute

// ServiceParams configure the cron service.
type ServiceParams struct {
	Logger   *logger.Logger
	Registry *Registry
	Lock     Lock
	Metrics  *metrics.CronJobMetrics
	// Tick is how often schedules are checked. It bounds how late a job may
	// start relative to its schedule.
	Tick time.Duration
}

// Service runs registered jobs when their schedules come due.
type Service struct {
	logg     *logger.Logger
	registry *Registry
	lock     Lock
	metrics  *metrics.CronJobMetrics
	tick     time.Duration
	now      func() time.Time
	next     map[string]time.Time
}

// NewService builds a cron service.
func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Lock == nil {
		return nil, fmt.Errorf("lock required")
	}
	registry := params.Registry
	if registry == nil {
		registry = NewRegistry()
	}
	tick := params.Tick
	if tick <= 0 {
		tick = defaultTick
	}
	return &Service{
		logg:     params.Logger,
		registry: registry,
		lock:     params.Lock,
		metrics:  params.Metrics,
		tick:     tick,
		now:      time.Now,
		next:     map[string]time.Time{},
	}, nil
}

// Run checks schedules every tick until the context is canceled.
func (s *Service) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.plan(s.now())
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logg.Info(ctx, "cron service context canceled")
			return ctx.Err()
		case <-ticker.C:
			if err := s.runDue(ctx, s.now()); err != nil {
				s.logg.Error(ctx, "scheduled run failed", err)
			}
		}
	}
}

func (s *Service) plan(now time.Time) {
	for _, entry := range s.registry.Entries() {
		next := entry.Schedule.Next(now)
		s.next[entry.Job.Name()] = next
		s.metrics.SetNextRun(entry.Job.Name(), next)
		s.logg.Info(s.logg.WithFields(context.Background(), map[string]any{
			"job":      entry.Job.Name(),
			"schedule": entry.Expr,
			"next_run": next.UTC().Format(time.RFC3339),
		}), "cron job scheduled")
	}
}

// runDue runs every entry whose next time is at or before now. Failures do
// not stop later jobs; they are combined into the returned error.
func (s *Service) runDue(ctx context.Context, now time.Time) error {
	var errs error
	for _, entry := range s.registry.Entries() {
		name := entry.Job.Name()
		next, ok := s.next[name]
		if !ok {
			next = entry.Schedule.Next(now)
			s.next[name] = next
		}
		if next.After(now) {
			continue
		}
		s.next[name] = entry.Schedule.Next(now)
		s.metrics.SetNextRun(name, s.next[name])
		errs = multierr.Append(errs, s.runLocked(ctx, entry.Job))
	}
	return errs
}

func (s *Service) runLocked(ctx context.Context, job Job) error {
	locked, err := s.lock.Acquire(ctx, job.Name())
	if err != nil {
		return fmt.Errorf("lock acquire %s: %w", job.Name(), err)
	}
	if !locked {
		s.metrics.Skipped(job.Name())
		s.logg.Info(s.logg.WithField(ctx, "job", job.Name()), "another cron instance holds the job; skipping")
		return nil
	}
	defer func() {
		if relErr := s.lock.Release(ctx, job.Name()); relErr != nil {
			s.logg.Error(ctx, "failed to release cron lock", relErr)
		}
	}()
	return s.runJob(ctx, job)
}

func (s *Service) runJob(ctx context.Context, job Job) error {
	jobCtx := s.logg.WithFields(ctx, map[string]any{"job": job.Name(), "event": "cron.job"})
	s.logg.Info(jobCtx, "job start")
	start := s.now()
	err := job.Run(jobCtx)
	finished := s.now()
	duration := finished.Sub(start)
	s.metrics.ObserveRun(job.Name(), finished, duration, err)
	jobCtx = s.logg.WithField(jobCtx, "duration_ms", duration.Milliseconds())
	if err != nil {
		s.logg.Error(jobCtx, "job failed", err)
		return fmt.Errorf("%s: %w", job.Name(), err)
	}
	s.logg.Info(jobCtx, "job completed")
	return nil
}
