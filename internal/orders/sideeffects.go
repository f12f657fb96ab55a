package orders

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/orderflow-backend/internal/coins"
	"github.com/angelmondragon/orderflow-backend/internal/inventory"
	"github.com/angelmondragon/orderflow-backend/internal/jobs"
	"github.com/angelmondragon/orderflow-backend/pkg/db"
	"github.com/angelmondragon/orderflow-backend/pkg/db/models"
	"github.com/angelmondragon/orderflow-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/orderflow-backend/pkg/errors"
	"github.com/angelmondragon/orderflow-backend/pkg/logger"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type coinDebiter interface {
	DebitTx(ctx context.Context, tx *gorm.DB, userID uuid.UUID, amount int64, source enums.CoinSource, opts ...coins.EntryOption) (*models.CoinLedgerEntry, error)
}

// SideEffectParams wires the stock and coin job handlers.
type SideEffectParams struct {
	Repo      Repository
	Tx        txRunner
	Inventory inventory.Repository
	Coins     coinDebiter
	Logger    *logger.Logger
}

// SideEffects executes the order side effect jobs. Each run flips the
// order's flag in the same transaction as the effect, so the effect lands at
// most once however often the job is delivered.
type SideEffects struct {
	repo      Repository
	tx        txRunner
	inventory inventory.Repository
	coins     coinDebiter
	logg      *logger.Logger
}

// NewSideEffects validates params and builds the handlers.
func NewSideEffects(params SideEffectParams) (*SideEffects, error) {
	if params.Repo == nil || params.Tx == nil {
		return nil, fmt.Errorf("orders repository and transaction runner required")
	}
	if params.Inventory == nil {
		return nil, fmt.Errorf("inventory repository required")
	}
	if params.Coins == nil {
		return nil, fmt.Errorf("coin ledger required")
	}
	return &SideEffects{
		repo:      params.Repo,
		tx:        params.Tx,
		inventory: params.Inventory,
		coins:     params.Coins,
		logg:      params.Logger,
	}, nil
}

// Register binds the handlers to their job types.
func (h *SideEffects) Register(registry *jobs.Registry) error {
	if err := registry.Register(enums.JobTypeStockDeduction, jobs.Typed(h.DeductStock)); err != nil {
		return err
	}
	return registry.Register(enums.JobTypeCoinDebit, jobs.Typed(h.DebitCoins))
}

// DeductStock lowers on-hand stock for every line item. Oversold products
// are logged and left negative for the vendor to resolve.
func (h *SideEffects) DeductStock(ctx context.Context, job *models.Job, payload jobs.StockDeductionPayload) error {
	ctx = h.logg.WithOrderID(ctx, payload.OrderID.String())
	return h.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := h.repo.WithTx(tx)
		order, err := h.loadForJob(ctx, repo, payload.OrderID)
		if err != nil {
			return err
		}
		if order.StockDeducted {
			return nil
		}
		if order.Status == enums.OrderStatusCancelled {
			h.logg.Info(ctx, "order cancelled before stock deduction; skipping")
			return nil
		}
		flipped, err := repo.MarkStockDeducted(ctx, order.ID)
		if err != nil {
			return err
		}
		if !flipped {
			return nil
		}
		stock := h.inventory.WithTx(tx)
		for _, item := range order.Items {
			onHand, err := stock.Deduct(ctx, item.ProductID, item.Quantity)
			if db.IsNotFound(err) {
				h.logg.Warn(h.logg.WithField(ctx, "product_id", item.ProductID.String()), "no inventory row for product; deduction skipped")
				continue
			}
			if err != nil {
				return err
			}
			if onHand < 0 {
				h.logg.Warn(h.logg.WithFields(ctx, map[string]any{
					"product_id": item.ProductID.String(),
					"on_hand":    onHand,
				}), "product oversold")
			}
		}
		return nil
	})
}

// DebitCoins charges the redeemed coins against the customer's balance. A
// balance that no longer covers the redemption dead-letters the job.
func (h *SideEffects) DebitCoins(ctx context.Context, job *models.Job, payload jobs.CoinDebitPayload) error {
	ctx = h.logg.WithOrderID(ctx, payload.OrderID.String())
	err := h.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := h.repo.WithTx(tx)
		order, err := h.loadForJob(ctx, repo, payload.OrderID)
		if err != nil {
			return err
		}
		if !order.NeedsCoinDebit() {
			return nil
		}
		if order.Status == enums.OrderStatusCancelled {
			h.logg.Info(ctx, "order cancelled before coin debit; skipping")
			return nil
		}
		flipped, err := repo.MarkCoinsDebited(ctx, order.ID)
		if err != nil {
			return err
		}
		if !flipped {
			return nil
		}
		_, err = h.coins.DebitTx(ctx, tx, order.UserID, order.CoinsToRedeem, enums.CoinSourceOrderPayment,
			coins.WithReference(order.ID.String()))
		return err
	})
	if pkgerrors.IsCode(err, pkgerrors.CodeInsufficientBalance) {
		h.markCoinDebitFailed(ctx, payload.OrderID)
		return jobs.Permanent(err)
	}
	return err
}

// markCoinDebitFailed stamps the order outside the rolled back transaction so
// the reconcile sweep stops re-enqueueing a debit that can never land.
func (h *SideEffects) markCoinDebitFailed(ctx context.Context, orderID uuid.UUID) {
	marked, err := h.repo.MarkCoinDebitFailed(ctx, orderID, time.Now())
	if err != nil {
		h.logg.Error(ctx, "failed to mark coin debit failure", err)
		return
	}
	if marked {
		h.logg.Warn(ctx, "coin debit failed permanently; order needs admin settlement")
	}
}

func (h *SideEffects) loadForJob(ctx context.Context, repo Repository, orderID uuid.UUID) (*models.Order, error) {
	order, err := repo.FindByID(ctx, orderID)
	if db.IsNotFound(err) {
		return nil, jobs.Permanent(fmt.Errorf("order %s not found", orderID))
	}
	return order, err
}
