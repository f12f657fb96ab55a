package orders

import (
	"fmt"

	"github.com/angelmondragon/orderflow-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/orderflow-backend/pkg/errors"
)

// flows lists the forward path per payment mode. CREATED heads both so the
// checkout step is an ordinary successor move.
var flows = map[enums.PaymentMode][]enums.OrderStatus{
	enums.PaymentModeOnline: {
		enums.OrderStatusCreated,
		enums.OrderStatusPendingPayment,
		enums.OrderStatusPaid,
		enums.OrderStatusPacked,
		enums.OrderStatusShipped,
		enums.OrderStatusDelivered,
	},
	enums.PaymentModeCOD: {
		enums.OrderStatusCreated,
		enums.OrderStatusConfirmed,
		enums.OrderStatusPacked,
		enums.OrderStatusShipped,
		enums.OrderStatusDelivered,
	},
}

// Flow returns a copy of the forward path for mode.
func Flow(mode enums.PaymentMode) []enums.OrderStatus {
	flow := flows[mode]
	out := make([]enums.OrderStatus, len(flow))
	copy(out, flow)
	return out
}

// ValidateTransition reports whether role may move an order in mode from
// current to next. It has no side effects and every failure is a typed,
// non-retryable error.
func ValidateTransition(current, next enums.OrderStatus, role enums.ActorRole, mode enums.PaymentMode) error {
	if !current.IsValid() || !next.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, "unknown order status")
	}
	if !mode.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, "unknown payment mode")
	}
	if !role.IsValid() {
		return pkgerrors.New(pkgerrors.CodeForbidden, "unknown actor role")
	}

	if current.IsClosed() {
		return transitionError(pkgerrors.CodeInvalidState, "order is closed and cannot change status", current, next)
	}

	if next == enums.OrderStatusCancelled {
		return validateCancellation(current, role, mode)
	}

	if role.IsAdmin() {
		if current == next {
			return transitionError(pkgerrors.CodeInvalidTransition, "order is already in this status", current, next)
		}
		if current == enums.OrderStatusDelivered && !isPostDelivery(next) {
			return transitionError(pkgerrors.CodeInvalidState, "delivered orders can only be returned or replaced", current, next)
		}
		return nil
	}

	switch role {
	case enums.ActorRoleVendor:
		if next != enums.OrderStatusPacked && next != enums.OrderStatusShipped {
			return transitionError(pkgerrors.CodeForbidden, "vendors may only mark orders packed or shipped", current, next)
		}
	case enums.ActorRoleCustomer:
		return transitionError(pkgerrors.CodeForbidden, "customers cannot change order status", current, next)
	}

	if (current == enums.OrderStatusDelivered && next == enums.OrderStatusReturnRequested) || next == enums.OrderStatusReplaced {
		return nil
	}

	return validateFlowStep(current, next, mode)
}

// IsOverride reports whether moving from current to next leaves the forward
// flow, which only admins may do and only with an audit reason.
func IsOverride(current, next enums.OrderStatus, mode enums.PaymentMode) bool {
	if next == enums.OrderStatusCancelled || next == enums.OrderStatusReplaced {
		return false
	}
	if current == enums.OrderStatusDelivered && next == enums.OrderStatusReturnRequested {
		return false
	}
	return validateFlowStep(current, next, mode) != nil
}

func validateCancellation(current enums.OrderStatus, role enums.ActorRole, mode enums.PaymentMode) error {
	next := enums.OrderStatusCancelled
	if current.IsTerminal() {
		return transitionError(pkgerrors.CodeInvalidState, "order can no longer be cancelled", current, next)
	}
	switch {
	case role.IsAdmin():
		return nil
	case role == enums.ActorRoleCustomer, role == enums.ActorRoleSystem:
		if precedesPacked(current, mode) {
			return nil
		}
		return transitionError(pkgerrors.CodeInvalidTransition, "order can only be cancelled before it is packed", current, next)
	default:
		return transitionError(pkgerrors.CodeForbidden, "role cannot cancel orders", current, next)
	}
}

func validateFlowStep(current, next enums.OrderStatus, mode enums.PaymentMode) error {
	flow := flows[mode]
	from := indexOf(flow, current)
	to := indexOf(flow, next)
	if from < 0 || to < 0 {
		return transitionError(pkgerrors.CodeInvalidTransition, fmt.Sprintf("status is not part of the %s flow", mode), current, next)
	}
	switch {
	case to == from:
		return transitionError(pkgerrors.CodeInvalidTransition, "order is already in this status", current, next)
	case to < from:
		return transitionError(pkgerrors.CodeInvalidTransition, "order status cannot move backwards", current, next)
	case to > from+1:
		return transitionError(pkgerrors.CodeInvalidTransition, fmt.Sprintf("order must move to %s next", flow[from+1]), current, next)
	}
	return nil
}

func precedesPacked(current enums.OrderStatus, mode enums.PaymentMode) bool {
	flow := flows[mode]
	idx := indexOf(flow, current)
	return idx >= 0 && idx < indexOf(flow, enums.OrderStatusPacked)
}

func isPostDelivery(next enums.OrderStatus) bool {
	return next == enums.OrderStatusReturnRequested || next == enums.OrderStatusReplaced
}

func indexOf(flow []enums.OrderStatus, status enums.OrderStatus) int {
	for i, candidate := range flow {
		if candidate == status {
			return i
		}
	}
	return -1
}

func transitionError(code pkgerrors.Code, message string, current, next enums.OrderStatus) error {
	return pkgerrors.New(code, message).WithDetails(map[string]any{
		"from": current,
		"to":   next,
	})
}
