package payments

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/angelmondragon/orderflow-backend/pkg/config"
	"github.com/angelmondragon/orderflow-backend/pkg/db"
	"github.com/angelmondragon/orderflow-backend/pkg/db/models"
	"github.com/angelmondragon/orderflow-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/orderflow-backend/pkg/errors"
	"github.com/angelmondragon/orderflow-backend/pkg/gateway"
	"github.com/angelmondragon/orderflow-backend/pkg/logger"
	"github.com/angelmondragon/orderflow-backend/pkg/outbox"
	"github.com/angelmondragon/orderflow-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/orderflow-backend/pkg/security"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	sourceClient  = "client"
	sourceWebhook = "webhook"
	sourceAdmin   = "admin"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type gatewayClient interface {
	CreateIntent(ctx context.Context, req gateway.IntentRequest) (*gateway.Intent, error)
	Refund(ctx context.Context, transactionID string, amount int64) (*gateway.Refund, error)
}

// OrderReader loads the order a payment belongs to.
type OrderReader interface {
	FindByID(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
}

// OrderSettler applies payment outcomes to the owning order.
// ApplyPaymentSuccessTx runs inside the transaction that flips the payment to
// SUCCESS.
type OrderSettler interface {
	ApplyPaymentSuccessTx(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) error
	ApplyPaymentFailure(ctx context.Context, orderID uuid.UUID, reason string) error
}

type eventDeduper interface {
	CheckAndMarkProcessed(ctx context.Context, consumer, eventID string) (bool, error)
	Delete(ctx context.Context, consumer, eventID string) error
}

// Intent is the client-facing reference to a gateway payment intent.
type Intent struct {
	PaymentID uuid.UUID           `json:"payment_id"`
	OrderID   uuid.UUID           `json:"order_id"`
	IntentID  string              `json:"intent_id"`
	Provider  string              `json:"provider"`
	Amount    int64               `json:"amount"`
	Currency  string              `json:"currency"`
	Status    enums.PaymentStatus `json:"status"`
}

// ReconcilerParams wires the payment reconciler.
type ReconcilerParams struct {
	Repo    Repository
	Orders  OrderReader
	Settler OrderSettler
	Gateway gatewayClient
	Tx      txRunner
	Outbox  outboxPublisher
	Dedupe  eventDeduper
	Config  config.GatewayConfig
	Logger  *logger.Logger
}

// Reconciler owns every payment state change. SUCCESS is only ever written by
// VerifyClientConfirmation and VerifyWebhook, and both go through the same
// conditional update.
type Reconciler struct {
	repo    Repository
	orders  OrderReader
	settler OrderSettler
	gateway gatewayClient
	tx      txRunner
	outbox  outboxPublisher
	dedupe  eventDeduper
	cfg     config.GatewayConfig
	logg    *logger.Logger
}

// NewReconciler validates params and builds the reconciler.
func NewReconciler(params ReconcilerParams) (*Reconciler, error) {
	switch {
	case params.Repo == nil:
		return nil, fmt.Errorf("payments repository required")
	case params.Orders == nil:
		return nil, fmt.Errorf("order reader required")
	case params.Settler == nil:
		return nil, fmt.Errorf("order settler required")
	case params.Gateway == nil:
		return nil, fmt.Errorf("gateway client required")
	case params.Tx == nil:
		return nil, fmt.Errorf("transaction runner required")
	case params.Outbox == nil:
		return nil, fmt.Errorf("outbox publisher required")
	}
	if strings.TrimSpace(params.Config.ClientSecret) == "" || strings.TrimSpace(params.Config.WebhookSecret) == "" {
		return nil, fmt.Errorf("gateway client and webhook secrets required")
	}
	cfg := params.Config
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Provider == "" {
		cfg.Provider = "gateway"
	}
	return &Reconciler{
		repo:    params.Repo,
		orders:  params.Orders,
		settler: params.Settler,
		gateway: params.Gateway,
		tx:      params.Tx,
		outbox:  params.Outbox,
		dedupe:  params.Dedupe,
		cfg:     cfg,
		logg:    params.Logger,
	}, nil
}

// CreateIntent registers a gateway intent for the order and records the
// payment as PENDING. Gateway failures surface as GATEWAY_ERROR and are not
// retried here.
func (r *Reconciler) CreateIntent(ctx context.Context, userID, orderID uuid.UUID, amount int64) (*Intent, error) {
	ctx = r.logg.WithOrderID(r.logg.WithUserID(ctx, userID.String()), orderID.String())
	order, err := r.orders.FindByID(ctx, orderID)
	if err != nil {
		if db.IsNotFound(err) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	if order.UserID != userID {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	if order.PaymentMode != enums.PaymentModeOnline {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidState, "order is not paid online")
	}
	if order.Status != enums.OrderStatusPendingPayment {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidState, "order is not awaiting payment").
			WithDetails(map[string]any{"status": order.Status})
	}
	if amount != order.PayableAmount {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "amount does not match order payable amount").
			WithDetails(map[string]any{"amount": amount, "payable": order.PayableAmount})
	}

	receipt := order.ID.String()
	existing, err := r.repo.FindByOrderID(ctx, order.ID)
	switch {
	case err == nil && existing.Status.IsSettled():
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "order already has a settled payment")
	case err == nil && existing.Status == enums.PaymentStatusFailed:
		// a failed intent cannot be reused; give the gateway a fresh key
		receipt = fmt.Sprintf("%s-%s", order.ID, uuid.NewString()[:8])
	case err != nil && !db.IsNotFound(err):
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment")
	}

	callCtx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()
	gwIntent, err := r.gateway.CreateIntent(callCtx, gateway.IntentRequest{
		Amount:   amount,
		Currency: order.Currency,
		Receipt:  receipt,
		Metadata: map[string]string{"order_id": order.ID.String(), "user_id": userID.String()},
	})
	if err != nil {
		if typed := pkgerrors.As(err); typed != nil {
			return nil, typed
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeGateway, err, "create payment intent")
	}

	payment := &models.Payment{
		ID:               uuid.New(),
		OrderID:          order.ID,
		UserID:           userID,
		Provider:         r.cfg.Provider,
		ProviderIntentID: gwIntent.ID,
		Amount:           amount,
		Currency:         order.Currency,
	}
	if err := r.repo.UpsertPending(ctx, payment); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record payment intent")
	}
	stored, err := r.repo.FindByOrderID(ctx, order.ID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload payment")
	}
	if stored.Status.IsSettled() {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "order already has a settled payment")
	}

	r.logg.Info(r.logg.WithField(ctx, "intent_id", stored.ProviderIntentID), "payment intent created")
	return intentFrom(stored), nil
}

// VerifyClientConfirmation settles a payment from the client callback. The
// signature is HMAC-SHA256 over intentID|transactionID with the client secret.
// A mismatch changes nothing.
func (r *Reconciler) VerifyClientConfirmation(ctx context.Context, userID uuid.UUID, intentID, transactionID, signature string) (*models.Payment, error) {
	if strings.TrimSpace(intentID) == "" || strings.TrimSpace(transactionID) == "" || strings.TrimSpace(signature) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "intent id, transaction id and signature are required")
	}
	// the MAC covers the ids exactly as sent
	if !security.VerifyHex(r.cfg.ClientSecret, security.ConfirmationMessage(intentID, transactionID), signature) {
		r.logg.Warn(r.logg.WithField(ctx, "intent_id", intentID), "client confirmation signature mismatch")
		return nil, pkgerrors.New(pkgerrors.CodeInvalidSignature, "payment signature mismatch")
	}

	intentID = strings.TrimSpace(intentID)
	transactionID = strings.TrimSpace(transactionID)
	payment, err := r.repo.FindByIntentID(ctx, intentID)
	if err != nil {
		if db.IsNotFound(err) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payment not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment")
	}
	if payment.UserID != userID {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "payment belongs to another user")
	}
	if payment.Status == enums.PaymentStatusRefunded {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidState, "payment was refunded")
	}

	settled, _, err := r.markSucceeded(ctx, payment, transactionID, sourceClient)
	if err != nil {
		return nil, err
	}
	return settled, nil
}

// markSucceeded flips the payment to SUCCESS and settles the order in one
// transaction. It reports whether this call performed the flip.
func (r *Reconciler) markSucceeded(ctx context.Context, payment *models.Payment, transactionID, source string) (*models.Payment, bool, error) {
	ctx = r.logg.WithOrderID(ctx, payment.OrderID.String())
	if payment.Status.IsSettled() {
		return payment, false, nil
	}
	flipped := false
	err := r.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := r.repo.WithTx(tx)
		ok, err := repo.MarkSucceeded(ctx, payment.ID, transactionID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark payment succeeded")
		}
		if !ok {
			return nil
		}
		flipped = true
		if err := r.settler.ApplyPaymentSuccessTx(ctx, tx, payment.OrderID); err != nil {
			return err
		}
		return r.emit(ctx, tx, enums.EventPaymentSucceeded, payment, enums.PaymentStatusSuccess, transactionID, source)
	})
	if err != nil {
		return nil, false, err
	}
	reloaded, err := r.repo.FindByIntentID(ctx, payment.ProviderIntentID)
	if err != nil {
		return nil, false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload payment")
	}
	if flipped {
		r.logg.Info(r.logg.WithField(ctx, "source", source), "payment succeeded")
	}
	return reloaded, flipped, nil
}

func (r *Reconciler) markFailed(ctx context.Context, payment *models.Payment, reason, source string) (bool, error) {
	ctx = r.logg.WithOrderID(ctx, payment.OrderID.String())
	flipped := false
	err := r.tx.WithTx(ctx, func(tx *gorm.DB) error {
		ok, err := r.repo.WithTx(tx).MarkFailed(ctx, payment.ID, reason)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark payment failed")
		}
		if !ok {
			return nil
		}
		flipped = true
		return r.emit(ctx, tx, enums.EventPaymentFailed, payment, enums.PaymentStatusFailed, "", source)
	})
	if err != nil || !flipped {
		return false, err
	}
	if err := r.settler.ApplyPaymentFailure(ctx, payment.OrderID, reason); err != nil {
		r.logg.Error(ctx, "payment failure follow-up failed", err)
	}
	return true, nil
}

// Refund returns the captured amount through the gateway and moves the
// payment SUCCESS to REFUNDED.
func (r *Reconciler) Refund(ctx context.Context, orderID uuid.UUID, reason string) (*models.Payment, error) {
	ctx = r.logg.WithOrderID(ctx, orderID.String())
	payment, err := r.repo.FindByOrderID(ctx, orderID)
	if err != nil {
		if db.IsNotFound(err) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payment not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment")
	}
	if payment.Status != enums.PaymentStatusSuccess || payment.ProviderTransactionID == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidState, "only captured payments can be refunded").
			WithDetails(map[string]any{"status": payment.Status})
	}

	callCtx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()
	refund, err := r.gateway.Refund(callCtx, *payment.ProviderTransactionID, payment.Amount)
	if err != nil {
		if typed := pkgerrors.As(err); typed != nil {
			return nil, typed
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeGateway, err, "refund payment")
	}

	err = r.tx.WithTx(ctx, func(tx *gorm.DB) error {
		ok, err := r.repo.WithTx(tx).MarkRefunded(ctx, payment.ID, refund.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark payment refunded")
		}
		if !ok {
			return pkgerrors.New(pkgerrors.CodeStaleState, "payment changed concurrently")
		}
		return r.emit(ctx, tx, enums.EventPaymentRefunded, payment, enums.PaymentStatusRefunded, *payment.ProviderTransactionID, sourceAdmin)
	})
	if err != nil {
		return nil, err
	}
	r.logg.Info(r.logg.WithFields(ctx, map[string]any{"refund_id": refund.ID, "reason": reason}), "payment refunded")
	return r.repo.FindByOrderID(ctx, orderID)
}

func (r *Reconciler) emit(ctx context.Context, tx *gorm.DB, eventType enums.OutboxEventType, payment *models.Payment, status enums.PaymentStatus, transactionID, source string) error {
	event := outbox.DomainEvent{
		EventType:     eventType,
		AggregateType: enums.AggregatePayment,
		AggregateID:   payment.ID,
		Actor:         &outbox.ActorRef{Role: enums.ActorRoleSystem.String()},
		Data: payloads.PaymentStatusEvent{
			PaymentID:     payment.ID,
			OrderID:       payment.OrderID,
			UserID:        payment.UserID,
			Status:        status,
			Amount:        payment.Amount,
			Currency:      payment.Currency,
			IntentID:      payment.ProviderIntentID,
			TransactionID: transactionID,
			Source:        source,
		},
	}
	if err := r.outbox.Emit(ctx, tx, event); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "emit payment event")
	}
	return nil
}

func intentFrom(payment *models.Payment) *Intent {
	return &Intent{
		PaymentID: payment.ID,
		OrderID:   payment.OrderID,
		IntentID:  payment.ProviderIntentID,
		Provider:  payment.Provider,
		Amount:    payment.Amount,
		Currency:  payment.Currency,
		Status:    payment.Status,
	}
}
