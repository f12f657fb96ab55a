package controllers

import (
	"context"
	"net/http"
	"strings"

	"github.com/angelmondragon/orderflow-backend/api/middleware"
	"github.com/angelmondragon/orderflow-backend/api/responses"
	"github.com/angelmondragon/orderflow-backend/api/validators"
	"github.com/angelmondragon/orderflow-backend/internal/notifications"
	pkgerrors "github.com/angelmondragon/orderflow-backend/pkg/errors"
	"github.com/angelmondragon/orderflow-backend/pkg/logger"
	"github.com/angelmondragon/orderflow-backend/pkg/pagination"
)

// NotificationLister pages through a user's notifications.
type NotificationLister interface {
	List(ctx context.Context, params notifications.ListParams) (*notifications.ListResult, error)
}

// ListNotifications returns a cursor page of the caller's notifications.
func ListNotifications(svc NotificationLister, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "notifications service unavailable"))
			return
		}

		userID, ok := middleware.UserUUIDFromContext(r.Context())
		if !ok {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "user context missing"))
			return
		}

		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.List(r.Context(), notifications.ListParams{
			UserID: userID,
			Limit:  limit,
			Cursor: strings.TrimSpace(r.URL.Query().Get("cursor")),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WritePage(w, result.Items, result.Cursor)
	}
}
