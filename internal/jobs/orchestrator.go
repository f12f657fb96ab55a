package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/angelmondragon/orderflow-backend/pkg/db/models"
	"github.com/angelmondragon/orderflow-backend/pkg/enums"
	"github.com/angelmondragon/orderflow-backend/pkg/logger"
	"github.com/angelmondragon/orderflow-backend/pkg/metrics"
)

const (
	defaultPollInterval        = time.Second
	defaultStaleAfter          = 10 * time.Minute
	defaultMaintenanceInterval = 30 * time.Second
)

type jobStore interface {
	Claim(ctx context.Context, queue enums.QueueName, workerID string) (*models.Job, error)
	Complete(ctx context.Context, job *models.Job, attempts int) error
	Reschedule(ctx context.Context, id uuid.UUID, attempts int, runAt time.Time, cause error) error
	Fail(ctx context.Context, id uuid.UUID, attempts int, cause error) error
	Counts(ctx context.Context, queue enums.QueueName) (map[enums.JobStatus]int64, error)
	RecoverStale(ctx context.Context, cutoff time.Time) (StaleRecovery, error)
	Touch(ctx context.Context, id uuid.UUID, workerID string) (bool, error)
}

// OrchestratorParams wires the worker side of the job pipeline.
type OrchestratorParams struct {
	Repo         jobStore
	Registry     *Registry
	Queues       Queues
	Limiters     map[enums.QueueName]Limiter
	Metrics      *metrics.JobMetrics
	Logger       *logger.Logger
	WorkerID     string
	PollInterval time.Duration
	StaleAfter   time.Duration
}

// Orchestrator runs one bounded worker pool per queue.
type Orchestrator struct {
	repo       jobStore
	registry   *Registry
	queues     Queues
	limiters   map[enums.QueueName]Limiter
	metrics    *metrics.JobMetrics
	logg       *logger.Logger
	workerID   string
	poll       time.Duration
	staleAfter time.Duration
	now        func() time.Time
}

// NewOrchestrator validates params and builds an orchestrator.
func NewOrchestrator(params OrchestratorParams) (*Orchestrator, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("job repository required")
	}
	if params.Registry == nil {
		return nil, fmt.Errorf("handler registry required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.WorkerID == "" {
		return nil, fmt.Errorf("worker id required")
	}
	if err := params.Queues.Validate(); err != nil {
		return nil, err
	}
	poll := params.PollInterval
	if poll <= 0 {
		poll = defaultPollInterval
	}
	staleAfter := params.StaleAfter
	if staleAfter <= 0 {
		staleAfter = defaultStaleAfter
	}
	limiters := params.Limiters
	if limiters == nil {
		limiters = map[enums.QueueName]Limiter{}
	}
	return &Orchestrator{
		repo:       params.Repo,
		registry:   params.Registry,
		queues:     params.Queues,
		limiters:   limiters,
		metrics:    params.Metrics,
		logg:       params.Logger,
		workerID:   params.WorkerID,
		poll:       poll,
		staleAfter: staleAfter,
		now:        time.Now,
	}, nil
}

// Run starts every pool and blocks until ctx is canceled. A slow queue only
// starves its own pool.
func (o *Orchestrator) Run(ctx context.Context) error {
	group, groupCtx := errgroup.WithContext(ctx)
	for _, name := range o.queues.Names() {
		cfg := o.queues[name]
		for slot := 0; slot < cfg.Concurrency; slot++ {
			workerID := fmt.Sprintf("%s/%s/%d", o.workerID, cfg.Name, slot)
			group.Go(func() error {
				o.work(groupCtx, cfg.Name, workerID)
				return nil
			})
		}
		o.logg.Info(o.logg.WithFields(ctx, map[string]any{
			"queue":       cfg.Name,
			"concurrency": cfg.Concurrency,
		}), "job pool started")
	}
	group.Go(func() error {
		o.maintain(groupCtx)
		return nil
	})
	if err := group.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

func (o *Orchestrator) work(ctx context.Context, queue enums.QueueName, workerID string) {
	for {
		if ctx.Err() != nil {
			return
		}
		processed, err := o.processNext(ctx, queue, workerID)
		if err != nil && !errors.Is(err, context.Canceled) {
			o.logg.Error(o.logg.WithField(ctx, "queue", queue), "job bookkeeping failed", err)
		}
		if processed {
			continue
		}
		if !sleepCtx(ctx, o.poll) {
			return
		}
	}
}

// ProcessNext claims and executes at most one due job on queue. It reports
// whether a job was claimed.
func (o *Orchestrator) ProcessNext(ctx context.Context, queue enums.QueueName) (bool, error) {
	return o.processNext(ctx, queue, o.workerID)
}

func (o *Orchestrator) processNext(ctx context.Context, queue enums.QueueName, workerID string) (bool, error) {
	if _, err := o.queues.Get(queue); err != nil {
		return false, err
	}
	job, err := o.repo.Claim(ctx, queue, workerID)
	if err != nil {
		return false, fmt.Errorf("claim %s job: %w", queue, err)
	}
	if job == nil {
		return false, nil
	}
	if limiter := o.limiters[queue]; limiter != nil {
		if !o.awaitSlot(ctx, limiter) {
			release := context.WithoutCancel(ctx)
			return true, o.repo.Reschedule(release, job.ID, job.Attempts, o.now(), nil)
		}
	}
	return true, o.execute(ctx, job)
}

func (o *Orchestrator) awaitSlot(ctx context.Context, limiter Limiter) bool {
	for !limiter.Allow(ctx) {
		if !sleepCtx(ctx, o.poll) {
			return false
		}
	}
	return true
}

func (o *Orchestrator) execute(ctx context.Context, job *models.Job) error {
	attempts := job.Attempts + 1
	jobCtx := o.logg.WithJob(ctx, job.ID.String(), string(job.Queue), string(job.Type))
	jobCtx = o.logg.WithField(jobCtx, "attempt", attempts)

	start := o.now()
	stop := o.keepLease(jobCtx, job)
	err := o.invoke(jobCtx, job)
	stop()
	o.metrics.ObserveAttempt(string(job.Queue), string(job.Type), o.now().Sub(start), err)

	// bookkeeping must land even when shutdown cancels the worker context
	store := context.WithoutCancel(ctx)
	if err == nil {
		o.logg.Debug(jobCtx, "job completed")
		return o.repo.Complete(store, job, attempts)
	}

	if IsPermanent(err) || attempts >= job.MaxAttempts {
		o.logg.Error(jobCtx, "job dead-lettered", err)
		o.metrics.IncDeadLettered(string(job.Queue), string(job.Type))
		return o.repo.Fail(store, job.ID, attempts, err)
	}

	policy := BackoffPolicy{Type: job.BackoffType, Delay: time.Duration(job.BackoffDelayMS) * time.Millisecond}
	delay := policy.Next(attempts)
	o.logg.Warn(o.logg.WithFields(jobCtx, map[string]any{
		"retry_in_ms": delay.Milliseconds(),
		"error":       err.Error(),
	}), "job failed; retry scheduled")
	return o.repo.Reschedule(store, job.ID, attempts, o.now().Add(delay), err)
}

// keepLease refreshes the job's locked_at while the handler runs so a long
// handler is not recovered and claimed a second time. The returned func
// stops the refresh and waits for it to exit.
func (o *Orchestrator) keepLease(ctx context.Context, job *models.Job) func() {
	if job.LockedBy == nil {
		return func() {}
	}
	workerID := *job.LockedBy
	leaseCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(o.staleAfter / 3)
		defer ticker.Stop()
		for {
			select {
			case <-leaseCtx.Done():
				return
			case <-ticker.C:
			}
			held, err := o.repo.Touch(leaseCtx, job.ID, workerID)
			switch {
			case err != nil:
				if leaseCtx.Err() == nil {
					o.logg.Error(ctx, "refresh job lease failed", err)
				}
			case !held:
				o.logg.Warn(ctx, "job lease lost while handler running")
				return
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

func (o *Orchestrator) invoke(ctx context.Context, job *models.Job) (err error) {
	handler, ok := o.registry.Resolve(job.Type)
	if !ok {
		return Permanent(fmt.Errorf("no handler registered for %s", job.Type))
	}
	payload, decodeErr := DecodePayload(job.Type, job.Payload)
	if decodeErr != nil {
		return Permanent(decodeErr)
	}
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("handler panic: %v", recovered)
		}
	}()
	return handler.Handle(ctx, job, payload)
}

func (o *Orchestrator) maintain(ctx context.Context) {
	ticker := time.NewTicker(defaultMaintenanceInterval)
	defer ticker.Stop()
	for {
		o.recoverStale(ctx)
		o.refreshDepth(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (o *Orchestrator) recoverStale(ctx context.Context) {
	recovered, err := o.repo.RecoverStale(ctx, o.now().Add(-o.staleAfter))
	if err != nil {
		if ctx.Err() == nil {
			o.logg.Error(ctx, "recover stale jobs failed", err)
		}
		return
	}
	if recovered.Total() > 0 {
		o.logg.Warn(o.logg.WithFields(ctx, map[string]any{
			"requeued":      recovered.Requeued,
			"dead_lettered": recovered.Failed,
		}), "recovered jobs abandoned by crashed workers")
	}
}

func (o *Orchestrator) refreshDepth(ctx context.Context) {
	if o.metrics == nil {
		return
	}
	for _, name := range o.queues.Names() {
		counts, err := o.repo.Counts(ctx, name)
		if err != nil {
			if ctx.Err() == nil {
				o.logg.Error(o.logg.WithField(ctx, "queue", name), "read queue depth failed", err)
			}
			continue
		}
		for status, count := range counts {
			o.metrics.SetDepth(string(name), string(status), count)
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
