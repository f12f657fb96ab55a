package payments

import (
	"context"
	"net/http"

	"github.com/angelmondragon/orderflow-backend/api/middleware"
	"github.com/angelmondragon/orderflow-backend/api/responses"
	"github.com/angelmondragon/orderflow-backend/api/validators"
	"github.com/angelmondragon/orderflow-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/orderflow-backend/pkg/errors"
	"github.com/angelmondragon/orderflow-backend/pkg/logger"
	"github.com/google/uuid"
)

// ClientConfirmer verifies the signed confirmation a client receives from the gateway SDK.
type ClientConfirmer interface {
	VerifyClientConfirmation(ctx context.Context, userID uuid.UUID, intentID, transactionID, signature string) (*models.Payment, error)
}

type confirmRequest struct {
	IntentID      string `json:"intent_id" validate:"required,max=255"`
	TransactionID string `json:"transaction_id" validate:"required,max=255"`
	Signature     string `json:"signature" validate:"required,hexadecimal"`
}

// Confirm settles an online payment from the client side.
func Confirm(svc ClientConfirmer, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payment reconciler unavailable"))
			return
		}

		userID, ok := middleware.UserUUIDFromContext(r.Context())
		if !ok {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "user context missing"))
			return
		}

		var payload confirmRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		payment, err := svc.VerifyClientConfirmation(r.Context(), userID, payload.IntentID, payload.TransactionID, payload.Signature)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, map[string]any{
			"payment_id": payment.ID,
			"order_id":   payment.OrderID,
			"status":     payment.Status,
		})
	}
}
