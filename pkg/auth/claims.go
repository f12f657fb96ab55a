package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/orderflow-backend/pkg/enums"
)

var (
	ErrMissingTokenID  = errors.New("token has no jti")
	ErrSubjectMismatch = errors.New("token subject does not match user_id")
)

// AccessTokenPayload is what an identity provider needs to mint a token.
type AccessTokenPayload struct {
	UserID uuid.UUID
	Role   enums.ActorRole
	JTI    string
}

// AccessTokenClaims is the bearer token the API accepts. The jti is required
// because logout revokes by it.
type AccessTokenClaims struct {
	UserID uuid.UUID       `json:"user_id"`
	Role   enums.ActorRole `json:"role"`
	jwt.RegisteredClaims
}

// Validate runs after the registered-claim checks in jwt.Parser.
func (c AccessTokenClaims) Validate() error {
	if c.UserID == uuid.Nil {
		return errors.New("token has no user_id")
	}
	if c.Subject != "" && c.Subject != c.UserID.String() {
		return ErrSubjectMismatch
	}
	if !c.Role.IsValid() || c.Role == enums.ActorRoleSystem {
		return fmt.Errorf("invalid actor role %q", c.Role)
	}
	if c.ID == "" {
		return ErrMissingTokenID
	}
	return nil
}

// Expiry is the zero time when the token has no exp claim.
func (c *AccessTokenClaims) Expiry() time.Time {
	if c.ExpiresAt == nil {
		return time.Time{}
	}
	return c.ExpiresAt.Time
}
