package middleware

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/orderflow-backend/pkg/enums"
)

type contextKey string

const (
	ctxUserID    contextKey = "user_id"
	ctxRole      contextKey = "actor_role"
	ctxTokenID   contextKey = "token_id"
	ctxExpiresAt contextKey = "token_expires_at"
	ctxRequestID contextKey = "request_id"
)

func UserIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(ctxUserID).(string); ok {
		return v
	}
	return ""
}

// UserUUIDFromContext parses the authenticated user id.
func UserUUIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(UserIDFromContext(ctx))
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

func RoleFromContext(ctx context.Context) enums.ActorRole {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(ctxRole).(enums.ActorRole); ok {
		return v
	}
	return ""
}

// TokenFromContext returns the access token id and expiry set by Auth.
func TokenFromContext(ctx context.Context) (string, time.Time) {
	if ctx == nil {
		return "", time.Time{}
	}
	jti, _ := ctx.Value(ctxTokenID).(string)
	expires, _ := ctx.Value(ctxExpiresAt).(time.Time)
	return jti, expires
}

// WithActor injects the user identifier and role into the context.
func WithActor(ctx context.Context, userID string, role enums.ActorRole) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = context.WithValue(ctx, ctxUserID, userID)
	return context.WithValue(ctx, ctxRole, role)
}

// WithToken injects the access token id and expiry.
func WithToken(ctx context.Context, jti string, expiresAt time.Time) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = context.WithValue(ctx, ctxTokenID, jti)
	return context.WithValue(ctx, ctxExpiresAt, expiresAt)
}
