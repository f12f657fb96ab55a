// Package cleanup runs the retention sweep behind the cleanup queue.
package cleanup

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/angelmondragon/orderflow-backend/internal/jobs"
	"github.com/angelmondragon/orderflow-backend/pkg/db/models"
	"github.com/angelmondragon/orderflow-backend/pkg/enums"
	"github.com/angelmondragon/orderflow-backend/pkg/logger"
)

type jobPruner interface {
	DeleteCompletedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type outboxPruner interface {
	DeletePublishedBefore(tx *gorm.DB, cutoff time.Time) (int64, error)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Params wire the cleanup handler.
type Params struct {
	Jobs   jobPruner
	Outbox outboxPruner
	Tx     txRunner
	Logger *logger.Logger
}

// Handler deletes COMPLETED jobs and published outbox rows older than the
// retention carried by the payload.
type Handler struct {
	jobs   jobPruner
	outbox outboxPruner
	tx     txRunner
	logg   *logger.Logger
	now    func() time.Time
}

func NewHandler(params Params) (*Handler, error) {
	if params.Jobs == nil {
		return nil, fmt.Errorf("job repository required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox repository required")
	}
	if params.Tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	return &Handler{
		jobs:   params.Jobs,
		outbox: params.Outbox,
		tx:     params.Tx,
		logg:   params.Logger,
		now:    time.Now,
	}, nil
}

// Register binds the handler to the cleanup job type.
func (h *Handler) Register(registry *jobs.Registry) error {
	return registry.Register(enums.JobTypeCleanup, jobs.Typed(h.Sweep))
}

// Sweep runs both deletes. One failing does not skip the other.
func (h *Handler) Sweep(ctx context.Context, _ *models.Job, payload jobs.CleanupPayload) error {
	cutoff := h.now().UTC().Add(-time.Duration(payload.RetentionDays) * 24 * time.Hour)

	jobsDeleted, jobsErr := h.jobs.DeleteCompletedBefore(ctx, cutoff)
	if jobsErr != nil {
		jobsErr = fmt.Errorf("delete completed jobs: %w", jobsErr)
	}

	var outboxDeleted int64
	outboxErr := h.tx.WithTx(ctx, func(tx *gorm.DB) error {
		rows, err := h.outbox.DeletePublishedBefore(tx.WithContext(ctx), cutoff)
		outboxDeleted = rows
		return err
	})
	if outboxErr != nil {
		outboxErr = fmt.Errorf("delete published outbox rows: %w", outboxErr)
	}

	h.logg.Info(h.logg.WithFields(ctx, map[string]any{
		"cutoff":         cutoff,
		"retention_days": payload.RetentionDays,
		"jobs_deleted":   jobsDeleted,
		"outbox_deleted": outboxDeleted,
	}), "retention cleanup complete")

	return multierr.Combine(jobsErr, outboxErr)
}
