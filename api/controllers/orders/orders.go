package orders

import (
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/orderflow-backend/api/middleware"
	"github.com/angelmondragon/orderflow-backend/api/responses"
	"github.com/angelmondragon/orderflow-backend/api/validators"
	internalorders "github.com/angelmondragon/orderflow-backend/internal/orders"
	"github.com/angelmondragon/orderflow-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/orderflow-backend/pkg/errors"
	"github.com/angelmondragon/orderflow-backend/pkg/logger"
)

const maxReasonLength = 500

type reasonRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

type requiredReasonRequest struct {
	Reason string `json:"reason" validate:"required,max=500"`
}

type statusRequest struct {
	Status enums.OrderStatus `json:"status" validate:"required"`
	Reason string            `json:"reason" validate:"max=500"`
}

// Checkout creates an order for the authenticated customer.
func Checkout(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}

		actor, err := actorFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var input internalorders.CheckoutInput
		if err := validators.DecodeJSONBody(r, &input); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		input.UserID = actor.UserID

		result, err := svc.Checkout(r.Context(), input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, withPersistedOrder(err, result))
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, result)
	}
}

// Get returns one order if the caller may see it.
func Get(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}

		actor, orderID, err := actorAndOrder(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		order, err := svc.GetOrder(r.Context(), orderID, actor)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, order)
	}
}

// Timeline returns the ordered status history of an order.
func Timeline(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}

		actor, orderID, err := actorAndOrder(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		entries, err := svc.Timeline(r.Context(), orderID, actor)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{"order_id": orderID, "entries": entries})
	}
}

// Cancel lets the owning customer cancel before packing.
func Cancel(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}

		actor, orderID, err := actorAndOrder(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload reasonRequest
		if err := decodeOptionalBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		order, err := svc.Cancel(r.Context(), orderID, actor, validators.SanitizeString(payload.Reason, maxReasonLength))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, order)
	}
}

// RetryPayment issues a fresh gateway intent for an order awaiting payment.
func RetryPayment(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}

		actor, orderID, err := actorAndOrder(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		intent, err := svc.RetryPaymentIntent(r.Context(), actor.UserID, orderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, intent)
	}
}

// UpdateStatus drives a status transition for vendors and admins. Admin
// overrides are rejected by the service when the reason is empty.
func UpdateStatus(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}

		actor, orderID, err := actorAndOrder(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload statusRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		next, err := enums.ParseOrderStatus(strings.ToUpper(strings.TrimSpace(string(payload.Status))))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid status"))
			return
		}

		order, err := svc.UpdateStatus(r.Context(), internalorders.UpdateStatusInput{
			OrderID: orderID,
			Next:    next,
			Actor:   actor,
			Reason:  validators.SanitizeString(payload.Reason, maxReasonLength),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, order)
	}
}

// AdminRefund refunds the captured payment of an online order.
func AdminRefund(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}

		actor, orderID, err := actorAndOrder(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload requiredReasonRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		payment, err := svc.Refund(r.Context(), orderID, actor, validators.SanitizeString(payload.Reason, maxReasonLength))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, payment)
	}
}

func actorFromRequest(r *http.Request) (internalorders.Actor, error) {
	userID, ok := middleware.UserUUIDFromContext(r.Context())
	if !ok {
		return internalorders.Actor{}, pkgerrors.New(pkgerrors.CodeUnauthorized, "user context missing")
	}
	role := middleware.RoleFromContext(r.Context())
	if !role.IsValid() {
		return internalorders.Actor{}, pkgerrors.New(pkgerrors.CodeForbidden, "role context missing")
	}
	return internalorders.Actor{UserID: userID, Role: role}, nil
}

func actorAndOrder(r *http.Request) (internalorders.Actor, uuid.UUID, error) {
	actor, err := actorFromRequest(r)
	if err != nil {
		return internalorders.Actor{}, uuid.Nil, err
	}
	orderID, err := parseOrderID(r)
	if err != nil {
		return internalorders.Actor{}, uuid.Nil, err
	}
	return actor, orderID, nil
}

func parseOrderID(r *http.Request) (uuid.UUID, error) {
	return validators.PathUUID(r, "orderId")
}

// decodeOptionalBody accepts an empty body for endpoints whose payload is optional.
func decodeOptionalBody(r *http.Request, dest any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	return validators.DecodeJSONBody(r, dest)
}

// withPersistedOrder reports the order a failed ONLINE checkout still created,
// so the client can retry through /payment-intent.
func withPersistedOrder(err error, result *internalorders.CheckoutResult) error {
	if result == nil || result.Order == nil {
		return err
	}
	code := pkgerrors.CodeGateway
	message := "create payment intent"
	if typed := pkgerrors.As(err); typed != nil {
		code, message = typed.Code(), typed.Message()
	}
	return pkgerrors.Wrap(code, err, message).WithDetails(map[string]any{
		"order_id": result.Order.ID.String(),
		"status":   result.Order.Status,
	})
}
