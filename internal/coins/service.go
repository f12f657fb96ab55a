package coins

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/angelmondragon/orderflow-backend/pkg/db"
	"github.com/angelmondragon/orderflow-backend/pkg/db/models"
	"github.com/angelmondragon/orderflow-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/orderflow-backend/pkg/errors"
	"github.com/angelmondragon/orderflow-backend/pkg/logger"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	defaultLedgerLimit = 50
	maxLedgerLimit     = 200
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Service moves coins. Every movement writes one ledger entry and shifts the
// cached balance by the same delta in a single transaction.
type Service interface {
	Credit(ctx context.Context, userID uuid.UUID, amount int64, source enums.CoinSource, opts ...EntryOption) (*models.CoinLedgerEntry, error)
	Debit(ctx context.Context, userID uuid.UUID, amount int64, source enums.CoinSource, opts ...EntryOption) (*models.CoinLedgerEntry, error)
	CreditTx(ctx context.Context, tx *gorm.DB, userID uuid.UUID, amount int64, source enums.CoinSource, opts ...EntryOption) (*models.CoinLedgerEntry, error)
	DebitTx(ctx context.Context, tx *gorm.DB, userID uuid.UUID, amount int64, source enums.CoinSource, opts ...EntryOption) (*models.CoinLedgerEntry, error)
	Balance(ctx context.Context, userID uuid.UUID) (int64, error)
	Ledger(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.CoinLedgerEntry, error)
}

// EntryOption sets optional ledger entry fields.
type EntryOption func(*models.CoinLedgerEntry)

// WithExpiry marks credited coins as expiring at t.
func WithExpiry(t time.Time) EntryOption {
	return func(entry *models.CoinLedgerEntry) {
		expires := t.UTC()
		entry.ExpiresAt = &expires
	}
}

// WithReference links the entry to the record that caused it, such as an order id.
func WithReference(ref string) EntryOption {
	return func(entry *models.CoinLedgerEntry) {
		ref = strings.TrimSpace(ref)
		if ref != "" {
			entry.ReferenceID = &ref
		}
	}
}

type service struct {
	repo Repository
	tx   txRunner
	logg *logger.Logger
	now  func() time.Time
}

// NewService wires the coin ledger.
func NewService(repo Repository, tx txRunner, logg *logger.Logger) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("coin repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	return &service{repo: repo, tx: tx, logg: logg, now: time.Now}, nil
}

func (s *service) Credit(ctx context.Context, userID uuid.UUID, amount int64, source enums.CoinSource, opts ...EntryOption) (*models.CoinLedgerEntry, error) {
	var entry *models.CoinLedgerEntry
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		entry, err = s.CreditTx(ctx, tx, userID, amount, source, opts...)
		return err
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

func (s *service) Debit(ctx context.Context, userID uuid.UUID, amount int64, source enums.CoinSource, opts ...EntryOption) (*models.CoinLedgerEntry, error) {
	var entry *models.CoinLedgerEntry
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		entry, err = s.DebitTx(ctx, tx, userID, amount, source, opts...)
		return err
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// CreditTx records a credit inside the caller's transaction.
func (s *service) CreditTx(ctx context.Context, tx *gorm.DB, userID uuid.UUID, amount int64, source enums.CoinSource, opts ...EntryOption) (*models.CoinLedgerEntry, error) {
	if err := validateMovement(userID, amount, source); err != nil {
		return nil, err
	}
	repo := s.repo.WithTx(tx)
	ok, err := repo.IncrementBalance(ctx, userID, amount)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "credit coin balance")
	}
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "user not found")
	}
	entry := s.newEntry(userID, amount, source, opts)
	if err := repo.InsertEntry(ctx, entry); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "insert coin ledger entry")
	}
	s.logMovement(ctx, entry)
	return entry, nil
}

// DebitTx records a debit inside the caller's transaction. When the balance
// does not cover amount nothing is written and the error is
// INSUFFICIENT_BALANCE; the caller's transaction should be rolled back.
func (s *service) DebitTx(ctx context.Context, tx *gorm.DB, userID uuid.UUID, amount int64, source enums.CoinSource, opts ...EntryOption) (*models.CoinLedgerEntry, error) {
	if err := validateMovement(userID, amount, source); err != nil {
		return nil, err
	}
	repo := s.repo.WithTx(tx)
	ok, err := repo.DecrementBalance(ctx, userID, amount)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "debit coin balance")
	}
	if !ok {
		balance, err := repo.Balance(ctx, userID)
		if db.IsNotFound(err) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "user not found")
		}
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read coin balance")
		}
		return nil, pkgerrors.New(pkgerrors.CodeInsufficientBalance, "coin balance does not cover debit").
			WithDetails(map[string]any{"balance": balance, "requested": amount})
	}
	entry := s.newEntry(userID, -amount, source, opts)
	if err := repo.InsertEntry(ctx, entry); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "insert coin ledger entry")
	}
	s.logMovement(ctx, entry)
	return entry, nil
}

func (s *service) Balance(ctx context.Context, userID uuid.UUID) (int64, error) {
	if userID == uuid.Nil {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	balance, err := s.repo.Balance(ctx, userID)
	if db.IsNotFound(err) {
		return 0, pkgerrors.New(pkgerrors.CodeNotFound, "user not found")
	}
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read coin balance")
	}
	return balance, nil
}

func (s *service) Ledger(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.CoinLedgerEntry, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	if limit <= 0 {
		limit = defaultLedgerLimit
	}
	if limit > maxLedgerLimit {
		limit = maxLedgerLimit
	}
	if offset < 0 {
		offset = 0
	}
	entries, err := s.repo.ListEntries(ctx, userID, limit, offset)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list coin ledger")
	}
	return entries, nil
}

func (s *service) newEntry(userID uuid.UUID, amount int64, source enums.CoinSource, opts []EntryOption) *models.CoinLedgerEntry {
	entry := &models.CoinLedgerEntry{
		ID:        uuid.New(),
		UserID:    userID,
		Amount:    amount,
		Source:    source,
		CreatedAt: s.now().UTC(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(entry)
		}
	}
	return entry
}

func (s *service) logMovement(ctx context.Context, entry *models.CoinLedgerEntry) {
	s.logg.Info(s.logg.WithFields(s.logg.WithUserID(ctx, entry.UserID.String()), map[string]any{
		"amount": entry.Amount,
		"source": entry.Source,
	}), "coin ledger entry recorded")
}

func validateMovement(userID uuid.UUID, amount int64, source enums.CoinSource) error {
	if userID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	if amount <= 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "amount must be positive")
	}
	if !source.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid coin source %q", source))
	}
	return nil
}
