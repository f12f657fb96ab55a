package orders

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/angelmondragon/orderflow-backend/internal/jobs"
	"github.com/angelmondragon/orderflow-backend/pkg/db/models"
	"github.com/angelmondragon/orderflow-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/orderflow-backend/pkg/errors"
	"github.com/angelmondragon/orderflow-backend/pkg/logger"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// SettlementParams wires the payment settlement hooks.
type SettlementParams struct {
	Repo   Repository
	Tx     txRunner
	Outbox outboxPublisher
	Jobs   jobEnqueuer
	Logger *logger.Logger
}

// Settlement applies payment outcomes to orders. The payment reconciler calls
// it from inside the transaction that settles the payment row.
type Settlement struct {
	lifecycle
}

// NewSettlement validates params and builds the settlement hooks.
func NewSettlement(params SettlementParams) (*Settlement, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if params.Tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if params.Jobs == nil {
		return nil, fmt.Errorf("job producer required")
	}
	return &Settlement{lifecycle{
		repo:   params.Repo,
		tx:     params.Tx,
		outbox: params.Outbox,
		jobs:   params.Jobs,
		logg:   params.Logger,
		now:    time.Now,
	}}, nil
}

// ApplyPaymentSuccess settles an order in its own transaction.
func (s *Settlement) ApplyPaymentSuccess(ctx context.Context, orderID uuid.UUID) error {
	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		return s.ApplyPaymentSuccessTx(ctx, tx, orderID)
	})
}

// ApplyPaymentSuccessTx moves PENDING_PAYMENT to PAID and schedules the stock,
// coin and notification jobs inside tx. Orders already at or past PAID are
// left alone so both confirmation paths may call it.
func (s *Settlement) ApplyPaymentSuccessTx(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) error {
	order, err := s.loadOrder(ctx, s.repo.WithTx(tx), orderID)
	if err != nil {
		return err
	}
	ctx = s.logg.WithOrderID(ctx, order.ID.String())

	if alreadyPaid(order) {
		s.logg.Debug(ctx, "order already settled; payment success ignored")
		return nil
	}
	if order.Status.IsClosed() {
		s.logg.Warn(s.logg.WithField(ctx, "status", order.Status), "payment captured for closed order; refund required")
		return nil
	}
	if err := ValidateTransition(order.Status, enums.OrderStatusPaid, enums.ActorRoleSystem, order.PaymentMode); err != nil {
		return err
	}
	return s.applyTx(ctx, tx, transition{
		order:  order,
		next:   enums.OrderStatusPaid,
		actor:  SystemActor,
		reason: "payment captured",
	})
}

// ApplyPaymentFailure tells the customer the payment failed. The order stays
// in PENDING_PAYMENT so a new intent can be created.
func (s *Settlement) ApplyPaymentFailure(ctx context.Context, orderID uuid.UUID, reason string) error {
	order, err := s.loadOrder(ctx, s.repo, orderID)
	if err != nil {
		return err
	}
	if order.Status != enums.OrderStatusPendingPayment {
		return nil
	}
	body := "Your payment did not go through. You can retry from your order page."
	if reason = strings.TrimSpace(reason); reason != "" {
		body = fmt.Sprintf("Your payment did not go through (%s). You can retry from your order page.", reason)
	}
	id := order.ID
	payload := jobs.NotificationPayload{
		UserID:    order.UserID,
		OrderID:   &id,
		Channel:   enums.NotificationChannelPush,
		Title:     "Payment failed",
		Body:      body,
		DedupeKey: fmt.Sprintf("order:%s:payment_failed:%d", order.ID, s.now().UTC().Unix()),
	}
	if _, err := s.jobs.Enqueue(ctx, enums.QueueNotifications, payload); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "enqueue payment failure notification")
	}
	s.track(ctx, "payment_failed", order, map[string]string{"reason": reason})
	return nil
}

func alreadyPaid(order *models.Order) bool {
	switch order.Status {
	case enums.OrderStatusReturnRequested, enums.OrderStatusReplaced:
		return true
	}
	flow := Flow(order.PaymentMode)
	paid := indexOf(flow, enums.OrderStatusPaid)
	current := indexOf(flow, order.Status)
	return paid >= 0 && current >= paid
}
