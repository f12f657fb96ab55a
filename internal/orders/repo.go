package orders

import (
	"context"
	"time"

	"github.com/angelmondragon/orderflow-backend/pkg/db/models"
	"github.com/angelmondragon/orderflow-backend/pkg/enums"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// sideEffectStatuses are the statuses in which stock and coins must already
// have been settled.
var sideEffectStatuses = []enums.OrderStatus{
	enums.OrderStatusPaid,
	enums.OrderStatusConfirmed,
	enums.OrderStatusPacked,
	enums.OrderStatusShipped,
	enums.OrderStatusDelivered,
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds an orders repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

// CreateOrder inserts the order and its line items.
func (r *repository) CreateOrder(ctx context.Context, order *models.Order) error {
	if order.ID == uuid.Nil {
		order.ID = uuid.New()
	}
	for i := range order.Items {
		if order.Items[i].ID == uuid.Nil {
			order.Items[i].ID = uuid.New()
		}
		order.Items[i].OrderID = order.ID
	}
	return r.db.WithContext(ctx).Create(order).Error
}

func (r *repository) FindByID(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).
		Preload("Items", func(db *gorm.DB) *gorm.DB {
			return db.Order("created_at ASC").Order("id ASC")
		}).
		Where("id = ?", orderID).
		First(&order).Error
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// UpdateStatus moves the order from `from` to `to` only if it is still in
// `from`. It reports whether the row changed.
func (r *repository) UpdateStatus(ctx context.Context, orderID uuid.UUID, from, to enums.OrderStatus, extra map[string]any) (bool, error) {
	updates := map[string]any{"status": to}
	for key, value := range extra {
		updates[key] = value
	}
	res := r.db.WithContext(ctx).Model(&models.Order{}).
		Where("id = ? AND status = ?", orderID, from).
		Updates(updates)
	return res.RowsAffected == 1, res.Error
}

// MarkCoinsDebited flips coins_debited once. It reports false when the flag
// was already set.
func (r *repository) MarkCoinsDebited(ctx context.Context, orderID uuid.UUID) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.Order{}).
		Where("id = ? AND coins_debited = ?", orderID, false).
		Update("coins_debited", true)
	return res.RowsAffected == 1, res.Error
}

// MarkCoinDebitFailed records that the coin debit failed permanently. The
// side-effect sweep skips marked orders.
func (r *repository) MarkCoinDebitFailed(ctx context.Context, orderID uuid.UUID, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.Order{}).
		Where("id = ? AND coins_debited = ? AND coin_debit_failed_at IS NULL", orderID, false).
		Update("coin_debit_failed_at", at.UTC())
	return res.RowsAffected == 1, res.Error
}

// MarkStockDeducted flips stock_deducted once.
func (r *repository) MarkStockDeducted(ctx context.Context, orderID uuid.UUID) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.Order{}).
		Where("id = ? AND stock_deducted = ?", orderID, false).
		Update("stock_deducted", true)
	return res.RowsAffected == 1, res.Error
}

func (r *repository) NextTimelineSequence(ctx context.Context, orderID uuid.UUID) (int, error) {
	var current int
	err := r.db.WithContext(ctx).Model(&models.OrderTimelineEntry{}).
		Select("COALESCE(MAX(sequence), 0)").
		Where("order_id = ?", orderID).
		Scan(&current).Error
	if err != nil {
		return 0, err
	}
	return current + 1, nil
}

func (r *repository) AppendTimeline(ctx context.Context, entry *models.OrderTimelineEntry) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(entry).Error
}

func (r *repository) ListTimeline(ctx context.Context, orderID uuid.UUID) ([]models.OrderTimelineEntry, error) {
	var entries []models.OrderTimelineEntry
	err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("sequence ASC").
		Find(&entries).Error
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// FindPendingPaymentBefore returns PENDING_PAYMENT orders untouched since cutoff.
func (r *repository) FindPendingPaymentBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.Order, error) {
	var orders []models.Order
	err := r.db.WithContext(ctx).
		Where("status = ? AND updated_at < ?", enums.OrderStatusPendingPayment, cutoff.UTC()).
		Order("updated_at ASC").
		Limit(limit).
		Find(&orders).Error
	if err != nil {
		return nil, err
	}
	return orders, nil
}

// FindUnsettledSideEffects returns settled orders whose stock or coin side
// effect has not landed, last touched inside [updatedAfter, updatedBefore).
func (r *repository) FindUnsettledSideEffects(ctx context.Context, updatedAfter, updatedBefore time.Time, limit int) ([]models.Order, error) {
	var orders []models.Order
	err := r.db.WithContext(ctx).
		Where("status IN ?", sideEffectStatuses).
		Where("stock_deducted = ? OR (coins_to_redeem > 0 AND coins_debited = ? AND coin_debit_failed_at IS NULL)", false, false).
		Where("updated_at >= ? AND updated_at < ?", updatedAfter.UTC(), updatedBefore.UTC()).
		Order("updated_at ASC").
		Limit(limit).
		Find(&orders).Error
	if err != nil {
		return nil, err
	}
	return orders, nil
}
