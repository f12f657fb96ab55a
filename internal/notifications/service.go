package notifications

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/angelmondragon/orderflow-backend/internal/jobs"
	"github.com/angelmondragon/orderflow-backend/pkg/db"
	"github.com/angelmondragon/orderflow-backend/pkg/db/models"
	"github.com/angelmondragon/orderflow-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/orderflow-backend/pkg/errors"
	"github.com/angelmondragon/orderflow-backend/pkg/logger"
	"github.com/angelmondragon/orderflow-backend/pkg/pagination"
	"github.com/google/uuid"
)

// Service defines notification delivery and listing.
type Service interface {
	Deliver(ctx context.Context, job *models.Job, payload jobs.NotificationPayload) error
	List(ctx context.Context, params ListParams) (*ListResult, error)
	Register(registry *jobs.Registry) error
}

type service struct {
	repo   Repository
	sender Sender
	logg   *logger.Logger
	now    func() time.Time
}

// ListParams configures pagination for notifications.
type ListParams struct {
	UserID uuid.UUID
	Limit  int
	Cursor string
}

// ListResult wraps returned notifications and the cursor for the next page.
type ListResult struct {
	Items  []models.Notification `json:"items"`
	Cursor string                `json:"cursor"`
}

// NewService wires notifications dependencies.
func NewService(repo Repository, sender Sender, logg *logger.Logger) (Service, error) {
	if repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "notifications repository required")
	}
	if sender == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "notification sender required")
	}
	return &service{repo: repo, sender: sender, logg: logg, now: time.Now}, nil
}

func (s *service) Register(registry *jobs.Registry) error {
	return registry.Register(enums.JobTypeNotification, jobs.Typed(s.Deliver))
}

// Deliver records the notification under its dedupe key and sends it once.
// A redelivered job whose row is already sent is a no-op; a row that exists
// but was never sent is retried.
func (s *service) Deliver(ctx context.Context, job *models.Job, payload jobs.NotificationPayload) error {
	ctx = s.logg.WithFields(s.logg.WithUserID(ctx, payload.UserID.String()), map[string]any{
		"dedupe_key": payload.DedupeKey,
		"channel":    payload.Channel,
	})

	row := &models.Notification{
		ID:        uuid.New(),
		UserID:    payload.UserID,
		OrderID:   payload.OrderID,
		Channel:   payload.Channel,
		Title:     strings.TrimSpace(payload.Title),
		Body:      strings.TrimSpace(payload.Body),
		DedupeKey: payload.DedupeKey,
		CreatedAt: s.now().UTC(),
	}
	created, err := s.repo.Insert(ctx, row)
	if err != nil {
		return fmt.Errorf("store notification: %w", err)
	}
	if !created {
		existing, err := s.repo.FindByDedupeKey(ctx, payload.DedupeKey)
		if err != nil {
			return fmt.Errorf("load notification: %w", err)
		}
		if existing.SentAt != nil {
			s.logg.Debug(ctx, "notification already sent")
			return nil
		}
		row = existing
	}

	recipient, err := s.repo.FindRecipient(ctx, payload.UserID)
	if db.IsNotFound(err) {
		return jobs.Permanent(fmt.Errorf("recipient %s not found", payload.UserID))
	}
	if err != nil {
		return fmt.Errorf("load recipient: %w", err)
	}

	address, ok := addressFor(recipient, row.Channel)
	if !ok {
		s.logg.Warn(ctx, "recipient has no address for channel; notification kept unsent")
		return nil
	}

	msg := Message{
		NotificationID: row.ID,
		UserID:         row.UserID,
		OrderID:        row.OrderID,
		Channel:        row.Channel,
		Address:        address,
		Title:          row.Title,
		Body:           row.Body,
		DedupeKey:      row.DedupeKey,
	}
	if err := s.sender.Send(ctx, msg); err != nil {
		return err
	}
	if _, err := s.repo.MarkSent(ctx, row.ID, s.now()); err != nil {
		return fmt.Errorf("mark notification sent: %w", err)
	}
	s.logg.Info(ctx, "notification sent")
	return nil
}

func addressFor(user *models.User, channel enums.NotificationChannel) (string, bool) {
	switch channel {
	case enums.NotificationChannelPush:
		if user.PushToken == nil || strings.TrimSpace(*user.PushToken) == "" {
			return "", false
		}
		return *user.PushToken, true
	case enums.NotificationChannelEmail:
		if strings.TrimSpace(user.Email) == "" {
			return "", false
		}
		return user.Email, true
	}
	return "", false
}

func (s *service) List(ctx context.Context, params ListParams) (*ListResult, error) {
	if params.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id required")
	}

	query := listNotificationsParams{
		UserID: params.UserID,
		Limit:  params.Limit,
	}
	if params.Cursor != "" {
		cursor, err := pagination.ParseCursor(params.Cursor)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
		}
		query.Cursor = cursor
	}

	rows, next, err := s.repo.List(ctx, query)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list notifications")
	}

	cursor := ""
	if next != nil {
		cursor = pagination.EncodeCursor(*next)
	}

	return &ListResult{
		Items:  rows,
		Cursor: cursor,
	}, nil
}
