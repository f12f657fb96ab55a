package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/orderflow-backend/pkg/db/models"
	"github.com/angelmondragon/orderflow-backend/pkg/enums"
	"github.com/angelmondragon/orderflow-backend/pkg/logger"
)

type jobWriter interface {
	Insert(ctx context.Context, tx *gorm.DB, job *models.Job) error
	Counts(ctx context.Context, queue enums.QueueName) (map[enums.JobStatus]int64, error)
}

// EnqueueOption adjusts a single enqueue call.
type EnqueueOption func(*enqueueOptions)

type enqueueOptions struct {
	delay time.Duration
}

// WithDelay defers the first run by d.
func WithDelay(d time.Duration) EnqueueOption {
	return func(o *enqueueOptions) {
		if d > 0 {
			o.delay = d
		}
	}
}

// Producer persists jobs. A returned job is durable.
type Producer struct {
	repo   jobWriter
	queues Queues
	logg   *logger.Logger
	now    func() time.Time
}

// NewProducer validates queues and builds a producer.
func NewProducer(repo jobWriter, queues Queues, logg *logger.Logger) (*Producer, error) {
	if repo == nil {
		return nil, fmt.Errorf("job repository required")
	}
	if err := queues.Validate(); err != nil {
		return nil, err
	}
	return &Producer{repo: repo, queues: queues, logg: logg, now: time.Now}, nil
}

// Enqueue stores payload on queue in its own statement. Use it for jobs whose
// loss the caller can tolerate.
func (p *Producer) Enqueue(ctx context.Context, queue enums.QueueName, payload Payload, opts ...EnqueueOption) (*models.Job, error) {
	return p.enqueue(ctx, nil, queue, payload, opts...)
}

// EnqueueTx stores payload inside tx so the job commits with the state change
// that requires it.
func (p *Producer) EnqueueTx(ctx context.Context, tx *gorm.DB, queue enums.QueueName, payload Payload, opts ...EnqueueOption) (*models.Job, error) {
	if tx == nil {
		return nil, fmt.Errorf("transaction required")
	}
	return p.enqueue(ctx, tx, queue, payload, opts...)
}

func (p *Producer) enqueue(ctx context.Context, tx *gorm.DB, queue enums.QueueName, payload Payload, opts ...EnqueueOption) (*models.Job, error) {
	if payload == nil {
		return nil, fmt.Errorf("payload required")
	}
	cfg, err := p.queues.Get(queue)
	if err != nil {
		return nil, err
	}
	if err := payload.Validate(); err != nil {
		return nil, fmt.Errorf("invalid %s payload: %w", payload.JobType(), err)
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", payload.JobType(), err)
	}

	options := enqueueOptions{}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}

	now := p.now().UTC()
	job := &models.Job{
		ID:               uuid.New(),
		Queue:            cfg.Name,
		Type:             payload.JobType(),
		Payload:          raw,
		Status:           enums.JobStatusWaiting,
		MaxAttempts:      cfg.MaxAttempts,
		BackoffType:      cfg.Backoff.Type,
		BackoffDelayMS:   cfg.Backoff.Delay.Milliseconds(),
		RemoveOnComplete: cfg.RemoveOnComplete,
		RunAt:            now.Add(options.delay),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := p.repo.Insert(ctx, tx, job); err != nil {
		return nil, fmt.Errorf("enqueue %s on %s: %w", job.Type, queue, err)
	}

	p.logg.Debug(p.logg.WithJob(ctx, job.ID.String(), string(queue), string(job.Type)), "job enqueued")
	return job, nil
}

// GetCounts reports how many jobs on queue sit in each status.
func (p *Producer) GetCounts(ctx context.Context, queue enums.QueueName) (map[enums.JobStatus]int64, error) {
	if _, err := p.queues.Get(queue); err != nil {
		return nil, err
	}
	return p.repo.Counts(ctx, queue)
}

// Queues returns the configured queue names.
func (p *Producer) Queues() []enums.QueueName {
	return p.queues.Names()
}
