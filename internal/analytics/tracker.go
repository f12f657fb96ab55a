package analytics

import (
	"context"
	"errors"

	cbigquery "cloud.google.com/go/bigquery"
	"github.com/angelmondragon/orderflow-backend/internal/analytics/router"
	"github.com/angelmondragon/orderflow-backend/internal/analytics/types"
	"github.com/angelmondragon/orderflow-backend/internal/analytics/writer"
	"github.com/angelmondragon/orderflow-backend/internal/jobs"
	"github.com/angelmondragon/orderflow-backend/pkg/db/models"
	"github.com/angelmondragon/orderflow-backend/pkg/enums"
	"github.com/angelmondragon/orderflow-backend/pkg/logger"
)

// Tracker handles analytics_event jobs by buffering one warehouse row per job.
type Tracker struct {
	writer router.Writer
	logg   *logger.Logger
}

// NewTracker builds the analytics job handler.
func NewTracker(w router.Writer, logg *logger.Logger) (*Tracker, error) {
	if w == nil {
		return nil, errors.New("analytics writer is required")
	}
	return &Tracker{writer: w, logg: logg}, nil
}

// Register binds the tracker to the analytics_event job type.
func (t *Tracker) Register(registry *jobs.Registry) error {
	return registry.Register(enums.JobTypeAnalyticsEvent, jobs.Typed(t.Track))
}

// Track converts the payload to a row and hands it to the writer. Rows are
// delivered by the writer's flush loop; a warehouse outage never fails the job.
func (t *Tracker) Track(ctx context.Context, _ *models.Job, payload jobs.AnalyticsEventPayload) error {
	var attrs cbigquery.NullJSON
	if len(payload.Attributes) > 0 {
		encoded, err := writer.EncodeJSON(payload.Attributes)
		if err != nil {
			return jobs.Permanent(err)
		}
		attrs = encoded
	}
	row := types.EventRow{
		EventID:    payload.EventID,
		EventType:  payload.EventType,
		Source:     types.SourceJob,
		Amount:     payload.Amount,
		Currency:   types.StringPtr(payload.Currency),
		Attributes: attrs,
		OccurredAt: payload.OccurredAt.UTC(),
	}
	if payload.OrderID != nil {
		row.OrderID = types.StringPtr(payload.OrderID.String())
	}
	if payload.UserID != nil {
		row.UserID = types.StringPtr(payload.UserID.String())
	}
	t.writer.Add(ctx, row)
	return nil
}
