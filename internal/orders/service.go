package orders

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/angelmondragon/orderflow-backend/internal/payments"
	"github.com/angelmondragon/orderflow-backend/pkg/db/models"
	"github.com/angelmondragon/orderflow-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/orderflow-backend/pkg/errors"
	"github.com/angelmondragon/orderflow-backend/pkg/logger"
	"github.com/angelmondragon/orderflow-backend/pkg/outbox"
	"github.com/angelmondragon/orderflow-backend/pkg/outbox/payloads"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// minorUnitsPerMajor converts coin values configured in major currency units.
var minorUnitsPerMajor = decimal.NewFromInt(100)

// Service defines the order lifecycle operations exposed to controllers and
// cron sweeps.
type Service interface {
	Checkout(ctx context.Context, input CheckoutInput) (*CheckoutResult, error)
	RetryPaymentIntent(ctx context.Context, userID, orderID uuid.UUID) (*payments.Intent, error)
	GetOrder(ctx context.Context, orderID uuid.UUID, actor Actor) (*models.Order, error)
	UpdateStatus(ctx context.Context, input UpdateStatusInput) (*models.Order, error)
	Cancel(ctx context.Context, orderID uuid.UUID, actor Actor, reason string) (*models.Order, error)
	Timeline(ctx context.Context, orderID uuid.UUID, actor Actor) ([]models.OrderTimelineEntry, error)
	Refund(ctx context.Context, orderID uuid.UUID, actor Actor, reason string) (*models.Payment, error)
	ApplyPaymentSuccess(ctx context.Context, orderID uuid.UUID) error
	ApplyPaymentFailure(ctx context.Context, orderID uuid.UUID, reason string) error
	ExpirePendingPayments(ctx context.Context, olderThan time.Duration, limit int) (SweepResult, error)
	ReconcileSideEffects(ctx context.Context, grace, lookback time.Duration, limit int) (SweepResult, error)
}

// ServiceParams wires the lifecycle service.
type ServiceParams struct {
	Repo       Repository
	Tx         txRunner
	Outbox     outboxPublisher
	Jobs       jobEnqueuer
	Settlement *Settlement
	Payments   PaymentGateway
	Balances   balanceReader
	CoinValue  decimal.Decimal
	Currency   string
	Logger     *logger.Logger
}

type service struct {
	lifecycle
	settlement *Settlement
	payments   PaymentGateway
	balances   balanceReader
	coinValue  decimal.Decimal
	currency   string
}

// NewService validates params and builds the lifecycle service.
func NewService(params ServiceParams) (Service, error) {
	if params.Settlement == nil {
		return nil, fmt.Errorf("payment settlement required")
	}
	if params.Payments == nil {
		return nil, fmt.Errorf("payment gateway required")
	}
	if params.Balances == nil {
		return nil, fmt.Errorf("coin balance reader required")
	}
	if params.CoinValue.IsNegative() {
		return nil, fmt.Errorf("coin value must not be negative")
	}
	currency := strings.ToUpper(strings.TrimSpace(params.Currency))
	if currency == "" {
		return nil, fmt.Errorf("default currency required")
	}
	base := params.Settlement.lifecycle
	if params.Repo != nil {
		base.repo = params.Repo
	}
	if params.Tx != nil {
		base.tx = params.Tx
	}
	if params.Outbox != nil {
		base.outbox = params.Outbox
	}
	if params.Jobs != nil {
		base.jobs = params.Jobs
	}
	if params.Logger != nil {
		base.logg = params.Logger
	}
	return &service{
		lifecycle:  base,
		settlement: params.Settlement,
		payments:   params.Payments,
		balances:   params.Balances,
		coinValue:  params.CoinValue,
		currency:   currency,
	}, nil
}

// Checkout creates the order and advances it out of CREATED in one
// transaction. COD orders land in CONFIRMED with their side effect jobs;
// ONLINE orders land in PENDING_PAYMENT and then get a gateway intent. When
// the intent call fails the persisted order is returned with the error.
func (s *service) Checkout(ctx context.Context, input CheckoutInput) (*CheckoutResult, error) {
	order, err := s.buildOrder(ctx, input)
	if err != nil {
		return nil, err
	}
	ctx = s.logg.WithUserID(ctx, input.UserID.String())

	actor := Actor{UserID: input.UserID, Role: enums.ActorRoleCustomer}
	next := enums.OrderStatusConfirmed
	if order.PaymentMode == enums.PaymentModeOnline {
		next = enums.OrderStatusPendingPayment
	}

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.repo.WithTx(tx).CreateOrder(ctx, order); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create order")
		}
		created := outbox.DomainEvent{
			EventType:     enums.EventOrderCreated,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Actor:         &outbox.ActorRef{UserID: actor.userRef(), Role: actor.Role.String()},
			Data: payloads.OrderCreatedEvent{
				OrderID:       order.ID,
				UserID:        order.UserID,
				VendorID:      order.VendorID,
				PaymentMode:   order.PaymentMode,
				Status:        order.Status,
				TotalAmount:   order.TotalAmount,
				PayableAmount: order.PayableAmount,
				Currency:      order.Currency,
				ItemCount:     len(order.Items),
			},
		}
		if err := s.outbox.Emit(ctx, tx, created); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "emit order created event")
		}
		// checkout is the only path out of CREATED; customers cannot drive it
		// through UpdateStatus.
		if err := ValidateTransition(order.Status, next, enums.ActorRoleSystem, order.PaymentMode); err != nil {
			return err
		}
		return s.applyTx(ctx, tx, transition{order: order, next: next, actor: actor, reason: "checkout"})
	})
	if err != nil {
		return nil, err
	}

	s.track(ctx, "order_created", order, map[string]string{"payment_mode": string(order.PaymentMode)})
	result := &CheckoutResult{Order: order}
	if order.PaymentMode != enums.PaymentModeOnline {
		return result, nil
	}

	intent, err := s.payments.CreateIntent(ctx, order.UserID, order.ID, order.PayableAmount)
	if err != nil {
		s.logg.Error(s.logg.WithOrderID(ctx, order.ID.String()), "payment intent creation failed", err)
		return result, err
	}
	result.Intent = intent
	return result, nil
}

func (s *service) buildOrder(ctx context.Context, input CheckoutInput) (*models.Order, error) {
	if input.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	if input.VendorID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "vendor id is required")
	}
	if !input.PaymentMode.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid payment mode %q", input.PaymentMode))
	}
	if len(input.Items) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "at least one item is required")
	}
	if input.CoinsToRedeem < 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "coins to redeem must not be negative")
	}
	currency := strings.ToUpper(strings.TrimSpace(input.Currency))
	if currency == "" {
		currency = s.currency
	}

	items := make([]models.OrderLineItem, 0, len(input.Items))
	var total int64
	for i, item := range input.Items {
		if item.ProductID == uuid.Nil {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("items[%d]: product id is required", i))
		}
		if item.Quantity <= 0 {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("items[%d]: quantity must be positive", i))
		}
		if item.UnitPrice < 0 {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("items[%d]: unit price must not be negative", i))
		}
		line := models.OrderLineItem{
			ID:        uuid.New(),
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
		}
		total += line.Subtotal()
		items = append(items, line)
	}

	discount := s.coinDiscount(input.CoinsToRedeem)
	if discount > total {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "coin discount exceeds order total").
			WithDetails(map[string]any{"total": total, "coin_discount": discount})
	}
	payable := total - discount
	if input.PaymentMode == enums.PaymentModeOnline && payable == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "online orders need a payable amount; use cash on delivery")
	}

	if input.CoinsToRedeem > 0 {
		balance, err := s.balances.Balance(ctx, input.UserID)
		if err != nil {
			return nil, err
		}
		if balance < input.CoinsToRedeem {
			return nil, pkgerrors.New(pkgerrors.CodeInsufficientBalance, "coin balance does not cover redemption").
				WithDetails(map[string]any{"balance": balance, "requested": input.CoinsToRedeem})
		}
	}

	return &models.Order{
		ID:            uuid.New(),
		UserID:        input.UserID,
		VendorID:      input.VendorID,
		Status:        enums.OrderStatusCreated,
		PaymentMode:   input.PaymentMode,
		Currency:      currency,
		TotalAmount:   total,
		CoinsToRedeem: input.CoinsToRedeem,
		CoinDiscount:  discount,
		PayableAmount: payable,
		Items:         items,
	}, nil
}

// coinDiscount converts coins to minor currency units, rounding down.
func (s *service) coinDiscount(coins int64) int64 {
	if coins <= 0 {
		return 0
	}
	return decimal.NewFromInt(coins).Mul(s.coinValue).Mul(minorUnitsPerMajor).Floor().IntPart()
}

// RetryPaymentIntent asks the gateway for a fresh intent on an order still
// waiting for payment.
func (s *service) RetryPaymentIntent(ctx context.Context, userID, orderID uuid.UUID) (*payments.Intent, error) {
	order, err := s.loadOrder(ctx, s.repo, orderID)
	if err != nil {
		return nil, err
	}
	if order.UserID != userID {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	if order.Status != enums.OrderStatusPendingPayment {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidState, "order is not awaiting payment").
			WithDetails(map[string]any{"status": order.Status})
	}
	return s.payments.CreateIntent(ctx, userID, order.ID, order.PayableAmount)
}

func (s *service) GetOrder(ctx context.Context, orderID uuid.UUID, actor Actor) (*models.Order, error) {
	order, err := s.loadOrder(ctx, s.repo, orderID)
	if err != nil {
		return nil, err
	}
	if err := authorizeRead(order, actor); err != nil {
		return nil, err
	}
	return order, nil
}

// UpdateStatus validates and applies one transition. Admin moves that leave
// the forward flow require a reason, which lands on the timeline.
func (s *service) UpdateStatus(ctx context.Context, input UpdateStatusInput) (*models.Order, error) {
	if !input.Next.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid order status %q", input.Next))
	}
	if !input.Actor.Role.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "unknown actor role")
	}
	ctx = s.logg.WithActorRole(s.logg.WithOrderID(ctx, input.OrderID.String()), input.Actor.Role.String())

	var order *models.Order
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		order, err = s.loadOrder(ctx, s.repo.WithTx(tx), input.OrderID)
		if err != nil {
			return err
		}
		if err := authorizeWrite(order, input.Actor); err != nil {
			return err
		}
		if err := ValidateTransition(order.Status, input.Next, input.Actor.Role, order.PaymentMode); err != nil {
			return err
		}
		reason := strings.TrimSpace(input.Reason)
		if input.Actor.Role.IsAdmin() && IsOverride(order.Status, input.Next, order.PaymentMode) && reason == "" {
			return pkgerrors.New(pkgerrors.CodeValidation, "admin override requires a reason").
				WithDetails(map[string]any{"from": order.Status, "to": input.Next})
		}
		var extra map[string]any
		if input.Next == enums.OrderStatusCancelled && reason != "" {
			extra = map[string]any{"cancel_reason": reason}
			order.CancelReason = &reason
		}
		return s.applyTx(ctx, tx, transition{
			order:  order,
			next:   input.Next,
			actor:  input.Actor,
			reason: reason,
			extra:  extra,
		})
	})
	if err != nil {
		return nil, err
	}

	s.track(ctx, "order_status_changed", order, map[string]string{
		"status":     string(order.Status),
		"actor_role": string(input.Actor.Role),
	})
	return order, nil
}

// Cancel moves the order to CANCELLED. Stock and coins already settled are
// not reversed here; refunds go through Refund.
func (s *service) Cancel(ctx context.Context, orderID uuid.UUID, actor Actor, reason string) (*models.Order, error) {
	return s.UpdateStatus(ctx, UpdateStatusInput{
		OrderID: orderID,
		Next:    enums.OrderStatusCancelled,
		Actor:   actor,
		Reason:  reason,
	})
}

func (s *service) Timeline(ctx context.Context, orderID uuid.UUID, actor Actor) ([]models.OrderTimelineEntry, error) {
	if _, err := s.GetOrder(ctx, orderID, actor); err != nil {
		return nil, err
	}
	entries, err := s.repo.ListTimeline(ctx, orderID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list order timeline")
	}
	return entries, nil
}

// Refund returns captured money for an order. Only admins may refund.
func (s *service) Refund(ctx context.Context, orderID uuid.UUID, actor Actor, reason string) (*models.Payment, error) {
	if !actor.Role.IsAdmin() {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "only admins may refund payments")
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "refund reason is required")
	}
	order, err := s.loadOrder(ctx, s.repo, orderID)
	if err != nil {
		return nil, err
	}
	if order.PaymentMode != enums.PaymentModeOnline {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidState, "cash on delivery orders have no gateway payment")
	}
	payment, err := s.payments.Refund(ctx, order.ID, reason)
	if err != nil {
		return nil, err
	}
	s.track(ctx, "payment_refunded", order, map[string]string{"reason": reason})
	return payment, nil
}

func (s *service) ApplyPaymentSuccess(ctx context.Context, orderID uuid.UUID) error {
	return s.settlement.ApplyPaymentSuccess(ctx, orderID)
}

func (s *service) ApplyPaymentFailure(ctx context.Context, orderID uuid.UUID, reason string) error {
	return s.settlement.ApplyPaymentFailure(ctx, orderID, reason)
}

// ExpirePendingPayments cancels online orders that have waited for payment
// longer than olderThan.
func (s *service) ExpirePendingPayments(ctx context.Context, olderThan time.Duration, limit int) (SweepResult, error) {
	var result SweepResult
	orders, err := s.repo.FindPendingPaymentBefore(ctx, s.now().Add(-olderThan), limit)
	if err != nil {
		return result, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "find expired pending payments")
	}
	result.Scanned = len(orders)
	for i := range orders {
		_, err := s.UpdateStatus(ctx, UpdateStatusInput{
			OrderID: orders[i].ID,
			Next:    enums.OrderStatusCancelled,
			Actor:   SystemActor,
			Reason:  "payment window expired",
		})
		if err != nil {
			if pkgerrors.IsCode(err, pkgerrors.CodeStaleState) {
				continue
			}
			return result, err
		}
		result.Affected++
	}
	return result, nil
}

// ReconcileSideEffects re-enqueues stock and coin jobs for settled orders
// whose flags are still unset after grace. Handlers are flag guarded, so a
// duplicate enqueue is harmless.
func (s *service) ReconcileSideEffects(ctx context.Context, grace, lookback time.Duration, limit int) (SweepResult, error) {
	var result SweepResult
	now := s.now()
	orders, err := s.repo.FindUnsettledSideEffects(ctx, now.Add(-lookback), now.Add(-grace), limit)
	if err != nil {
		return result, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "find unsettled orders")
	}
	result.Scanned = len(orders)
	for i := range orders {
		order := &orders[i]
		err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			return s.enqueueSideEffectsTx(ctx, tx, order)
		})
		if err != nil {
			return result, err
		}
		s.logg.Warn(s.logg.WithFields(s.logg.WithOrderID(ctx, order.ID.String()), map[string]any{
			"stock_deducted": order.StockDeducted,
			"coins_debited":  order.CoinsDebited,
		}), "re-enqueued order side effects")
		result.Affected++
	}
	return result, nil
}

func authorizeRead(order *models.Order, actor Actor) error {
	switch {
	case actor.Role.IsAdmin(), actor.Role == enums.ActorRoleSystem:
		return nil
	case actor.Role == enums.ActorRoleCustomer && order.UserID == actor.UserID:
		return nil
	case actor.Role == enums.ActorRoleVendor && order.VendorID == actor.UserID:
		return nil
	}
	return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
}

func authorizeWrite(order *models.Order, actor Actor) error {
	switch actor.Role {
	case enums.ActorRoleVendor:
		if order.VendorID != actor.UserID {
			return pkgerrors.New(pkgerrors.CodeForbidden, "order belongs to another vendor")
		}
	case enums.ActorRoleCustomer:
		if order.UserID != actor.UserID {
			return pkgerrors.New(pkgerrors.CodeForbidden, "order belongs to another customer")
		}
	}
	return nil
}
