package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/orderflow-backend/internal/jobs"
	"github.com/angelmondragon/orderflow-backend/internal/orders"
	"github.com/angelmondragon/orderflow-backend/pkg/db/models"
	"github.com/angelmondragon/orderflow-backend/pkg/enums"
	"github.com/angelmondragon/orderflow-backend/pkg/logger"
)

const (
	defaultSweepLimit     = 200
	defaultRetentionDays  = 7
	defaultPendingTTL     = 2 * time.Hour
	defaultReconcileGrace = 10 * time.Minute
	defaultLookback       = 72 * time.Hour
)

type orderSweeper interface {
	ExpirePendingPayments(ctx context.Context, olderThan time.Duration, limit int) (orders.SweepResult, error)
	ReconcileSideEffects(ctx context.Context, grace, lookback time.Duration, limit int) (orders.SweepResult, error)
}

type jobEnqueuer interface {
	Enqueue(ctx context.Context, queue enums.QueueName, payload jobs.Payload, opts ...jobs.EnqueueOption) (*models.Job, error)
}

// SweepParams configure the order sweeps.
type SweepParams struct {
	Logger     *logger.Logger
	Orders     orderSweeper
	PendingTTL time.Duration
	Grace      time.Duration
	Lookback   time.Duration
	Limit      int
}

func (p SweepParams) withDefaults() (SweepParams, error) {
	if p.Logger == nil {
		return p, fmt.Errorf("logger required")
	}
	if p.Orders == nil {
		return p, fmt.Errorf("order sweeper required")
	}
	if p.PendingTTL <= 0 {
		p.PendingTTL = defaultPendingTTL
	}
	if p.Grace <= 0 {
		p.Grace = defaultReconcileGrace
	}
	if p.Lookback <= p.Grace {
		p.Lookback = defaultLookback
	}
	if p.Limit <= 0 {
		p.Limit = defaultSweepLimit
	}
	return p, nil
}

// NewPaymentExpiryJob cancels online orders whose payment window has lapsed.
func NewPaymentExpiryJob(params SweepParams) (Job, error) {
	params, err := params.withDefaults()
	if err != nil {
		return nil, err
	}
	return &paymentExpiryJob{params: params}, nil
}

type paymentExpiryJob struct {
	params SweepParams
}

func (j *paymentExpiryJob) Name() string { return "payment-expiry" }

func (j *paymentExpiryJob) Run(ctx context.Context) error {
	result, err := j.params.Orders.ExpirePendingPayments(ctx, j.params.PendingTTL, j.params.Limit)
	logCtx := j.params.Logger.WithFields(ctx, map[string]any{
		"ttl":       j.params.PendingTTL.String(),
		"scanned":   result.Scanned,
		"cancelled": result.Affected,
	})
	if err != nil {
		return fmt.Errorf("expire pending payments: %w", err)
	}
	j.params.Logger.Info(logCtx, "pending payment expiry complete")
	return nil
}

// NewSideEffectReconcileJob re-enqueues stock and coin jobs that never landed.
func NewSideEffectReconcileJob(params SweepParams) (Job, error) {
	params, err := params.withDefaults()
	if err != nil {
		return nil, err
	}
	return &sideEffectReconcileJob{params: params}, nil
}

type sideEffectReconcileJob struct {
	params SweepParams
}

func (j *sideEffectReconcileJob) Name() string { return "side-effect-reconcile" }

func (j *sideEffectReconcileJob) Run(ctx context.Context) error {
	result, err := j.params.Orders.ReconcileSideEffects(ctx, j.params.Grace, j.params.Lookback, j.params.Limit)
	if err != nil {
		return fmt.Errorf("reconcile side effects: %w", err)
	}
	logCtx := j.params.Logger.WithFields(ctx, map[string]any{
		"scanned":     result.Scanned,
		"re_enqueued": result.Affected,
	})
	j.params.Logger.Info(logCtx, "side effect reconciliation complete")
	return nil
}

// CleanupJobParams configure the cleanup enqueue job.
type CleanupJobParams struct {
	Logger        *logger.Logger
	Jobs          jobEnqueuer
	RetentionDays int
}

// NewCleanupEnqueueJob schedules the retention sweep on the cleanup queue.
// The sweep itself runs in the job worker.
func NewCleanupEnqueueJob(params CleanupJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Jobs == nil {
		return nil, fmt.Errorf("job producer required")
	}
	retention := params.RetentionDays
	if retention <= 0 {
		retention = defaultRetentionDays
	}
	return &cleanupEnqueueJob{
		logg:      params.Logger,
		jobs:      params.Jobs,
		retention: retention,
		now:       time.Now,
	}, nil
}

type cleanupEnqueueJob struct {
	logg      *logger.Logger
	jobs      jobEnqueuer
	retention int
	now       func() time.Time
}

func (j *cleanupEnqueueJob) Name() string { return "cleanup-enqueue" }

func (j *cleanupEnqueueJob) Run(ctx context.Context) error {
	job, err := j.jobs.Enqueue(ctx, enums.QueueCleanup, jobs.CleanupPayload{
		RetentionDays: j.retention,
		RequestedAt:   j.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("enqueue cleanup: %w", err)
	}
	j.logg.Info(j.logg.WithField(ctx, "job_id", job.ID.String()), "cleanup job enqueued")
	return nil
}
