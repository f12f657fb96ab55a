package coins

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/orderflow-backend/api/middleware"
	"github.com/angelmondragon/orderflow-backend/api/responses"
	"github.com/angelmondragon/orderflow-backend/api/validators"
	internalcoins "github.com/angelmondragon/orderflow-backend/internal/coins"
	"github.com/angelmondragon/orderflow-backend/pkg/db/models"
	"github.com/angelmondragon/orderflow-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/orderflow-backend/pkg/errors"
	"github.com/angelmondragon/orderflow-backend/pkg/logger"
)

// Ledger is the coin surface exposed over HTTP.
type Ledger interface {
	Balance(ctx context.Context, userID uuid.UUID) (int64, error)
	Ledger(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.CoinLedgerEntry, error)
	Credit(ctx context.Context, userID uuid.UUID, amount int64, source enums.CoinSource, opts ...internalcoins.EntryOption) (*models.CoinLedgerEntry, error)
}

type creditRequest struct {
	UserID      uuid.UUID        `json:"user_id" validate:"required"`
	Amount      int64            `json:"amount" validate:"required,gt=0"`
	Source      enums.CoinSource `json:"source" validate:"omitempty,oneof=referral order_reward admin_credit"`
	ReferenceID string           `json:"reference_id" validate:"max=255"`
	ExpiresAt   *time.Time       `json:"expires_at"`
}

// Balance returns the caller's cached coin balance.
func Balance(svc Ledger, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "coin service unavailable"))
			return
		}

		userID, ok := middleware.UserUUIDFromContext(r.Context())
		if !ok {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "user context missing"))
			return
		}

		balance, err := svc.Balance(r.Context(), userID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{"user_id": userID, "balance": balance})
	}
}

// History returns a page of the caller's ledger entries, newest first.
func History(svc Ledger, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "coin service unavailable"))
			return
		}

		userID, ok := middleware.UserUUIDFromContext(r.Context())
		if !ok {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "user context missing"))
			return
		}

		limit, err := validators.ParseQueryInt(r, "limit", 50, 1, 200)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		offset, err := validators.ParseQueryInt(r, "offset", 0, 0, 100000)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		entries, err := svc.Ledger(r.Context(), userID, limit, offset)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{"entries": entries, "limit": limit, "offset": offset})
	}
}

// AdminCredit grants coins to a user. The source defaults to admin_credit.
func AdminCredit(svc Ledger, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "coin service unavailable"))
			return
		}

		var payload creditRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		source := payload.Source
		if source == "" {
			source = enums.CoinSourceAdminCredit
		}
		opts := []internalcoins.EntryOption{}
		if ref := strings.TrimSpace(payload.ReferenceID); ref != "" {
			opts = append(opts, internalcoins.WithReference(ref))
		}
		if payload.ExpiresAt != nil {
			if !payload.ExpiresAt.After(time.Now()) {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "expires_at must be in the future"))
				return
			}
			opts = append(opts, internalcoins.WithExpiry(*payload.ExpiresAt))
		}

		entry, err := svc.Credit(r.Context(), payload.UserID, payload.Amount, source, opts...)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		if logg != nil {
			ctx := logg.WithFields(r.Context(), map[string]any{
				"credited_user": payload.UserID.String(),
				"amount":        payload.Amount,
				"source":        source,
			})
			logg.Info(ctx, "admin coin credit")
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, entry)
	}
}
