package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/angelmondragon/orderflow-backend/api/responses"
	pkgAuth "github.com/angelmondragon/orderflow-backend/pkg/auth"
	"github.com/angelmondragon/orderflow-backend/pkg/auth/session"
	"github.com/angelmondragon/orderflow-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/orderflow-backend/pkg/errors"
	"github.com/angelmondragon/orderflow-backend/pkg/logger"
)

// Auth requires a bearer access token on every request, rejects revoked
// token ids and seeds the context with the caller's id, role and token.
func Auth(cfg config.JWTConfig, revocations session.RevocationChecker, logg *logger.Logger) func(http.Handler) http.Handler {
	verifier, verifierErr := pkgAuth.NewVerifier(cfg)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if verifierErr != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeInternal, verifierErr, "token verifier not configured"))
				return
			}

			token, ok := bearerToken(r)
			if !ok {
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials"))
				return
			}

			claims, err := verifier.Verify(token)
			if err != nil {
				msg := "invalid token"
				if errors.Is(err, pkgAuth.ErrTokenExpired) {
					msg = "token expired"
				}
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, msg))
				return
			}

			if revocations != nil {
				revoked, err := revocations.IsRevoked(ctx, claims.ID)
				if err != nil {
					responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check token revocation"))
					return
				}
				if revoked {
					responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "token revoked"))
					return
				}
			}

			ctx = WithActor(ctx, claims.UserID.String(), claims.Role)
			ctx = WithToken(ctx, claims.ID, claims.Expiry())
			if logg != nil {
				ctx = logg.WithActorRole(logg.WithUserID(ctx, claims.UserID.String()), string(claims.Role))
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// bearerToken accepts "Bearer <token>" in any letter case.
func bearerToken(r *http.Request) (string, bool) {
	scheme, token, found := strings.Cut(strings.TrimSpace(r.Header.Get("Authorization")), " ")
	if !found || !strings.EqualFold(scheme, "bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
