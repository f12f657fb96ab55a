package coins

import (
	"context"

	"github.com/angelmondragon/orderflow-backend/pkg/db/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Repository persists ledger entries and the cached balance on users.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	InsertEntry(ctx context.Context, entry *models.CoinLedgerEntry) error
	IncrementBalance(ctx context.Context, userID uuid.UUID, amount int64) (bool, error)
	DecrementBalance(ctx context.Context, userID uuid.UUID, amount int64) (bool, error)
	Balance(ctx context.Context, userID uuid.UUID) (int64, error)
	SumEntries(ctx context.Context, userID uuid.UUID) (int64, error)
	ListEntries(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.CoinLedgerEntry, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a coin repository bound to db.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) InsertEntry(ctx context.Context, entry *models.CoinLedgerEntry) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(entry).Error
}

// IncrementBalance reports false when the user does not exist.
func (r *repository) IncrementBalance(ctx context.Context, userID uuid.UUID, amount int64) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ?", userID).
		Update("coin_balance", gorm.Expr("coin_balance + ?", amount))
	return res.RowsAffected == 1, res.Error
}

// DecrementBalance moves the balance down only while it covers amount. It
// reports false when the precondition fails or the user does not exist.
func (r *repository) DecrementBalance(ctx context.Context, userID uuid.UUID, amount int64) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ? AND coin_balance >= ?", userID, amount).
		Update("coin_balance", gorm.Expr("coin_balance - ?", amount))
	return res.RowsAffected == 1, res.Error
}

func (r *repository) Balance(ctx context.Context, userID uuid.UUID) (int64, error) {
	var user models.User
	if err := r.db.WithContext(ctx).
		Select("id", "coin_balance").
		Where("id = ?", userID).
		First(&user).Error; err != nil {
		return 0, err
	}
	return user.CoinBalance, nil
}

func (r *repository) SumEntries(ctx context.Context, userID uuid.UUID) (int64, error) {
	var total int64
	err := r.db.WithContext(ctx).Model(&models.CoinLedgerEntry{}).
		Select("COALESCE(SUM(amount), 0)").
		Where("user_id = ?", userID).
		Scan(&total).Error
	return total, err
}

func (r *repository) ListEntries(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.CoinLedgerEntry, error) {
	var entries []models.CoinLedgerEntry
	if err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Order("id DESC").
		Limit(limit).
		Offset(offset).
		Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}
