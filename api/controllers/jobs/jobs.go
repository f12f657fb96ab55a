package jobs

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/orderflow-backend/api/responses"
	"github.com/angelmondragon/orderflow-backend/api/validators"
	"github.com/angelmondragon/orderflow-backend/pkg/db/models"
	"github.com/angelmondragon/orderflow-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/orderflow-backend/pkg/errors"
	"github.com/angelmondragon/orderflow-backend/pkg/logger"
)

// QueueInspector reports per-status job counts.
type QueueInspector interface {
	Queues() []enums.QueueName
	GetCounts(ctx context.Context, queue enums.QueueName) (map[enums.JobStatus]int64, error)
}

// DeadLetters exposes FAILED jobs for inspection and manual retry.
type DeadLetters interface {
	ListFailed(ctx context.Context, queue enums.QueueName, limit int) ([]models.Job, error)
	Requeue(ctx context.Context, id uuid.UUID) (bool, error)
}

type queueCounts struct {
	Queue  enums.QueueName           `json:"queue"`
	Counts map[enums.JobStatus]int64 `json:"counts"`
}

// Counts returns job counts for every configured queue.
func Counts(svc QueueInspector, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "job producer unavailable"))
			return
		}

		out := make([]queueCounts, 0, len(svc.Queues()))
		for _, queue := range svc.Queues() {
			counts, err := svc.GetCounts(r.Context(), queue)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "count jobs").
					WithDetails(map[string]any{"queue": queue}))
				return
			}
			out = append(out, queueCounts{Queue: queue, Counts: counts})
		}
		responses.WriteSuccess(w, out)
	}
}

// Failed lists dead-lettered jobs for one queue.
func Failed(inspector QueueInspector, repo DeadLetters, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if inspector == nil || repo == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "job repository unavailable"))
			return
		}

		queue, err := parseQueue(inspector, r.URL.Query().Get("queue"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		limit, err := validators.ParseQueryInt(r, "limit", 50, 1, 200)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		rows, err := repo.ListFailed(r.Context(), queue, limit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list failed jobs"))
			return
		}
		responses.WriteSuccess(w, map[string]any{"queue": queue, "jobs": rows})
	}
}

// Requeue moves a FAILED job back to WAITING with a fresh attempt budget.
func Requeue(repo DeadLetters, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if repo == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "job repository unavailable"))
			return
		}

		jobID, err := validators.PathUUID(r, "jobId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		ok, err := repo.Requeue(r.Context(), jobID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "requeue job"))
			return
		}
		if !ok {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeNotFound, "no failed job with that id"))
			return
		}

		if logg != nil {
			logg.Info(logg.WithField(r.Context(), "job_id", jobID.String()), "job requeued by admin")
		}
		responses.WriteSuccess(w, map[string]any{"job_id": jobID, "status": enums.JobStatusWaiting})
	}
}

func parseQueue(inspector QueueInspector, raw string) (enums.QueueName, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "queue is required")
	}
	for _, queue := range inspector.Queues() {
		if string(queue) == raw {
			return queue, nil
		}
	}
	return "", pkgerrors.New(pkgerrors.CodeValidation, "unknown queue").WithDetails(map[string]any{"queue": raw})
}
