package inventory

import (
	"context"

	"github.com/angelmondragon/orderflow-backend/pkg/db/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository adjusts on-hand stock.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Deduct(ctx context.Context, productID uuid.UUID, qty int) (int, error)
	Get(ctx context.Context, productID uuid.UUID) (*models.InventoryItem, error)
	Upsert(ctx context.Context, item *models.InventoryItem) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository binds an inventory repository to db.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

// Deduct lowers on_hand by qty and returns the new count, which is negative
// when the product oversold. A missing product returns gorm.ErrRecordNotFound.
func (r *repository) Deduct(ctx context.Context, productID uuid.UUID, qty int) (int, error) {
	res := r.db.WithContext(ctx).Model(&models.InventoryItem{}).
		Where("product_id = ?", productID).
		Update("on_hand", gorm.Expr("on_hand - ?", qty))
	if res.Error != nil {
		return 0, res.Error
	}
	if res.RowsAffected == 0 {
		return 0, gorm.ErrRecordNotFound
	}
	item, err := r.Get(ctx, productID)
	if err != nil {
		return 0, err
	}
	return item.OnHand, nil
}

func (r *repository) Get(ctx context.Context, productID uuid.UUID) (*models.InventoryItem, error) {
	var item models.InventoryItem
	if err := r.db.WithContext(ctx).Where("product_id = ?", productID).First(&item).Error; err != nil {
		return nil, err
	}
	return &item, nil
}

// Upsert sets the on-hand count for a product.
func (r *repository) Upsert(ctx context.Context, item *models.InventoryItem) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "product_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"vendor_id", "on_hand", "updated_at"}),
	}).Create(item).Error
}
