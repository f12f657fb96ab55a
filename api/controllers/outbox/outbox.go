package outbox

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/orderflow-backend/api/responses"
	"github.com/angelmondragon/orderflow-backend/api/validators"
	"github.com/angelmondragon/orderflow-backend/pkg/db/models"
	"github.com/angelmondragon/orderflow-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/orderflow-backend/pkg/errors"
	"github.com/angelmondragon/orderflow-backend/pkg/logger"
	pkgoutbox "github.com/angelmondragon/orderflow-backend/pkg/outbox"
)

// DeadLetters exposes outbox events the publisher gave up on.
type DeadLetters interface {
	List(ctx context.Context, filter pkgoutbox.DLQFilter) ([]models.OutboxDLQ, error)
	CountByReason(ctx context.Context) (map[enums.OutboxDLQErrorReason]int64, error)
	Replay(ctx context.Context, eventID uuid.UUID) error
}

type deadLetterPage struct {
	Counts  map[enums.OutboxDLQErrorReason]int64 `json:"counts"`
	Entries []models.OutboxDLQ                   `json:"entries"`
}

// List returns recent dead letters, optionally filtered by reason and event type.
func List(repo DeadLetters, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if repo == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "outbox dlq unavailable"))
			return
		}

		filter, err := parseFilter(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		counts, err := repo.CountByReason(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "count outbox dlq"))
			return
		}
		rows, err := repo.List(r.Context(), filter)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list outbox dlq"))
			return
		}
		responses.WriteSuccess(w, deadLetterPage{Counts: counts, Entries: rows})
	}
}

// Replay moves a dead letter back onto the outbox for another publish attempt.
func Replay(repo DeadLetters, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if repo == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "outbox dlq unavailable"))
			return
		}

		eventID, err := validators.PathUUID(r, "eventId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		if err := repo.Replay(r.Context(), eventID); err != nil {
			if errors.Is(err, pkgoutbox.ErrDLQEntryNotFound) {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeNotFound, "dead letter not found"))
				return
			}
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "replay outbox event"))
			return
		}

		if logg != nil {
			logg.Info(logg.WithField(r.Context(), "event_id", eventID.String()), "outbox.dlq.replayed")
		}
		responses.WriteSuccessStatus(w, http.StatusAccepted, map[string]any{"event_id": eventID, "replayed": true})
	}
}

func parseFilter(r *http.Request) (pkgoutbox.DLQFilter, error) {
	limit, err := validators.ParseQueryInt(r, "limit", 50, 1, 500)
	if err != nil {
		return pkgoutbox.DLQFilter{}, err
	}
	filter := pkgoutbox.DLQFilter{Limit: limit}

	if raw := strings.TrimSpace(r.URL.Query().Get("reason")); raw != "" {
		reason, err := enums.ParseOutboxDLQErrorReason(raw)
		if err != nil {
			return pkgoutbox.DLQFilter{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid reason")
		}
		filter.Reason = reason
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("event_type")); raw != "" {
		eventType, err := enums.ParseOutboxEventType(raw)
		if err != nil {
			return pkgoutbox.DLQFilter{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid event_type")
		}
		filter.EventType = eventType
	}
	return filter, nil
}
