package orders

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/angelmondragon/orderflow-backend/internal/jobs"
	"github.com/angelmondragon/orderflow-backend/pkg/db"
	"github.com/angelmondragon/orderflow-backend/pkg/db/models"
	"github.com/angelmondragon/orderflow-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/orderflow-backend/pkg/errors"
	"github.com/angelmondragon/orderflow-backend/pkg/logger"
	"github.com/angelmondragon/orderflow-backend/pkg/outbox"
	"github.com/angelmondragon/orderflow-backend/pkg/outbox/payloads"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// lifecycle holds the collaborators shared by the request-side service and
// the payment settlement hooks.
type lifecycle struct {
	repo   Repository
	tx     txRunner
	outbox outboxPublisher
	jobs   jobEnqueuer
	logg   *logger.Logger
	now    func() time.Time
}

type transition struct {
	order  *models.Order
	next   enums.OrderStatus
	actor  Actor
	reason string
	extra  map[string]any
}

var statusMessages = map[enums.OrderStatus][2]string{
	enums.OrderStatusPaid:            {"Payment received", "We received your payment and the vendor is preparing your order."},
	enums.OrderStatusConfirmed:       {"Order confirmed", "Your cash on delivery order is confirmed."},
	enums.OrderStatusPacked:          {"Order packed", "Your order is packed and waiting for pickup."},
	enums.OrderStatusShipped:         {"Order shipped", "Your order is on its way."},
	enums.OrderStatusDelivered:       {"Order delivered", "Your order was delivered."},
	enums.OrderStatusCancelled:       {"Order cancelled", "Your order was cancelled."},
	enums.OrderStatusReturnRequested: {"Return requested", "We received your return request."},
	enums.OrderStatusReplaced:        {"Order replaced", "A replacement for your order is on the way."},
}

// applyTx performs an already validated transition inside tx: the
// conditional status update, the timeline entry, the outbox event and the
// jobs the new status requires. The order is updated in place.
func (l *lifecycle) applyTx(ctx context.Context, tx *gorm.DB, t transition) error {
	repo := l.repo.WithTx(tx)
	from := t.order.Status

	ok, err := repo.UpdateStatus(ctx, t.order.ID, from, t.next, t.extra)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update order status")
	}
	if !ok {
		return pkgerrors.New(pkgerrors.CodeStaleState, "order changed concurrently").
			WithDetails(map[string]any{"order_id": t.order.ID, "expected": from})
	}

	seq, err := repo.NextTimelineSequence(ctx, t.order.ID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read timeline sequence")
	}
	entry := &models.OrderTimelineEntry{
		ID:        uuid.New(),
		OrderID:   t.order.ID,
		Sequence:  seq,
		ToStatus:  t.next,
		ActorID:   t.actor.userRef(),
		ActorRole: t.actor.Role,
		CreatedAt: l.now().UTC(),
	}
	if from != "" {
		prev := from
		entry.FromStatus = &prev
	}
	if reason := strings.TrimSpace(t.reason); reason != "" {
		entry.Reason = &reason
	}
	if err := repo.AppendTimeline(ctx, entry); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "append order timeline")
	}

	event := outbox.DomainEvent{
		EventType:     enums.EventOrderStatusChanged,
		AggregateType: enums.AggregateOrder,
		AggregateID:   t.order.ID,
		Actor:         &outbox.ActorRef{UserID: t.actor.userRef(), Role: t.actor.Role.String()},
		Data: payloads.OrderStatusChangedEvent{
			OrderID:     t.order.ID,
			UserID:      t.order.UserID,
			VendorID:    t.order.VendorID,
			PaymentMode: t.order.PaymentMode,
			From:        from,
			To:          t.next,
			ActorRole:   t.actor.Role,
			Reason:      strings.TrimSpace(t.reason),
		},
	}
	if err := l.outbox.Emit(ctx, tx, event); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "emit order status event")
	}

	t.order.Status = t.next
	if t.next == enums.OrderStatusPaid || t.next == enums.OrderStatusConfirmed {
		if err := l.enqueueSideEffectsTx(ctx, tx, t.order); err != nil {
			return err
		}
	}
	if err := l.enqueueStatusNotificationTx(ctx, tx, t.order); err != nil {
		return err
	}

	l.logg.Info(l.logg.WithFields(l.logg.WithOrderID(ctx, t.order.ID.String()), map[string]any{
		"from":       from,
		"to":         t.next,
		"actor_role": t.actor.Role,
	}), "order status changed")
	return nil
}

// enqueueSideEffectsTx schedules stock deduction and, when coins are
// redeemed, the coin debit. Both handlers are flag guarded.
func (l *lifecycle) enqueueSideEffectsTx(ctx context.Context, tx *gorm.DB, order *models.Order) error {
	if !order.StockDeducted {
		if _, err := l.jobs.EnqueueTx(ctx, tx, enums.QueueOrders, jobs.StockDeductionPayload{OrderID: order.ID}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "enqueue stock deduction")
		}
	}
	if order.NeedsCoinDebit() {
		if _, err := l.jobs.EnqueueTx(ctx, tx, enums.QueueOrders, jobs.CoinDebitPayload{OrderID: order.ID}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "enqueue coin debit")
		}
	}
	return nil
}

func (l *lifecycle) enqueueStatusNotificationTx(ctx context.Context, tx *gorm.DB, order *models.Order) error {
	msg, ok := statusMessages[order.Status]
	if !ok {
		return nil
	}
	orderID := order.ID
	payload := jobs.NotificationPayload{
		UserID:    order.UserID,
		OrderID:   &orderID,
		Channel:   enums.NotificationChannelPush,
		Title:     msg[0],
		Body:      msg[1],
		DedupeKey: fmt.Sprintf("order:%s:status:%s", order.ID, order.Status),
	}
	if _, err := l.jobs.EnqueueTx(ctx, tx, enums.QueueNotifications, payload); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "enqueue status notification")
	}
	return nil
}

// track enqueues an analytics event outside any transaction. Telemetry loss
// is tolerated, so failures are only logged.
func (l *lifecycle) track(ctx context.Context, eventType string, order *models.Order, attrs map[string]string) {
	orderID := order.ID
	userID := order.UserID
	amount := order.PayableAmount
	payload := jobs.AnalyticsEventPayload{
		EventID:    fmt.Sprintf("%s:%s:%s", eventType, order.ID, order.Status),
		EventType:  eventType,
		OrderID:    &orderID,
		UserID:     &userID,
		Amount:     &amount,
		Currency:   order.Currency,
		Attributes: attrs,
		OccurredAt: l.now().UTC(),
	}
	if _, err := l.jobs.Enqueue(ctx, enums.QueueAnalytics, payload); err != nil {
		l.logg.Warn(l.logg.WithFields(l.logg.WithOrderID(ctx, order.ID.String()), map[string]any{
			"event_type": eventType,
			"error":      err.Error(),
		}), "analytics enqueue failed")
	}
}

func (l *lifecycle) loadOrder(ctx context.Context, repo Repository, orderID uuid.UUID) (*models.Order, error) {
	order, err := repo.FindByID(ctx, orderID)
	if err != nil {
		if db.IsNotFound(err) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	return order, nil
}
