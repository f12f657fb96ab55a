package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/angelmondragon/orderflow-backend/api/middleware"
	"github.com/angelmondragon/orderflow-backend/api/responses"
	pkgerrors "github.com/angelmondragon/orderflow-backend/pkg/errors"
	"github.com/angelmondragon/orderflow-backend/pkg/logger"
)

type tokenRevoker interface {
	Revoke(ctx context.Context, jti string, expiresAt time.Time) error
}

// AuthLogout revokes the access token used for the request.
func AuthLogout(revoker tokenRevoker, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if revoker == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "session manager unavailable"))
			return
		}

		jti, expiresAt := middleware.TokenFromContext(r.Context())
		if jti == "" {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "token context missing"))
			return
		}

		if err := revoker.Revoke(r.Context(), jti, expiresAt); err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "revoke token"))
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}
