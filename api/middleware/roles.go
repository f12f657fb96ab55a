package middleware

import (
	"net/http"
	"slices"

	"github.com/angelmondragon/orderflow-backend/api/responses"
	"github.com/angelmondragon/orderflow-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/orderflow-backend/pkg/errors"
	"github.com/angelmondragon/orderflow-backend/pkg/logger"
)

// RequireRole admits only requests whose token carries one of roles.
func RequireRole(logg *logger.Logger, roles ...enums.ActorRole) func(http.Handler) http.Handler {
	return requireActor(logg, func(role enums.ActorRole) bool {
		return slices.Contains(roles, role)
	})
}

// RequireAdmin admits admins and super admins.
func RequireAdmin(logg *logger.Logger) func(http.Handler) http.Handler {
	return requireActor(logg, enums.ActorRole.IsAdmin)
}

func requireActor(logg *logger.Logger, allowed func(enums.ActorRole) bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			role := RoleFromContext(r.Context())
			if role == "" || !allowed(role) {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "role required"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
