package orders

import (
	"context"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/angelmondragon/orderflow-backend/internal/coins"
	"github.com/angelmondragon/orderflow-backend/internal/inventory"
	"github.com/angelmondragon/orderflow-backend/internal/jobs"
	"github.com/angelmondragon/orderflow-backend/internal/payments"
	"github.com/angelmondragon/orderflow-backend/pkg/db"
	"github.com/angelmondragon/orderflow-backend/pkg/db/models"
	"github.com/angelmondragon/orderflow-backend/pkg/enums"
	"github.com/angelmondragon/orderflow-backend/pkg/logger"
	"github.com/angelmondragon/orderflow-backend/pkg/outbox"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

var testSchema = []string{
	`CREATE TABLE users (
		id TEXT PRIMARY KEY,
		email TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL,
		phone TEXT,
		role TEXT NOT NULL DEFAULT 'customer',
		push_token TEXT,
		coin_balance INTEGER NOT NULL DEFAULT 0 CHECK (coin_balance >= 0),
		created_at TIMESTAMP,
		updated_at TIMESTAMP
	)`,
	`CREATE TABLE orders (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		vendor_id TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'CREATED',
		payment_mode TEXT NOT NULL,
		currency TEXT NOT NULL,
		total_amount INTEGER NOT NULL,
		coins_to_redeem INTEGER NOT NULL DEFAULT 0,
		coin_discount INTEGER NOT NULL DEFAULT 0,
		payable_amount INTEGER NOT NULL,
		coins_debited INTEGER NOT NULL DEFAULT 0,
		coin_debit_failed_at TIMESTAMP,
		stock_deducted INTEGER NOT NULL DEFAULT 0,
		cancel_reason TEXT,
		created_at TIMESTAMP,
		updated_at TIMESTAMP
	)`,
	`CREATE TABLE order_line_items (
		id TEXT PRIMARY KEY,
		order_id TEXT NOT NULL,
		product_id TEXT NOT NULL,
		quantity INTEGER NOT NULL,
		unit_price INTEGER NOT NULL,
		created_at TIMESTAMP
	)`,
	`CREATE TABLE order_timeline_entries (
		id TEXT PRIMARY KEY,
		order_id TEXT NOT NULL,
		sequence INTEGER NOT NULL,
		from_status TEXT,
		to_status TEXT NOT NULL,
		actor_id TEXT,
		actor_role TEXT NOT NULL,
		reason TEXT,
		created_at TIMESTAMP,
		UNIQUE (order_id, sequence)
	)`,
	`CREATE TABLE jobs (
		id TEXT PRIMARY KEY,
		queue TEXT NOT NULL,
		type TEXT NOT NULL,
		payload BLOB NOT NULL,
		status TEXT NOT NULL DEFAULT 'WAITING',
		attempts INTEGER NOT NULL DEFAULT 0,
		max_attempts INTEGER NOT NULL,
		backoff_type TEXT NOT NULL,
		backoff_delay_ms INTEGER NOT NULL DEFAULT 0,
		remove_on_complete INTEGER NOT NULL DEFAULT 0,
		run_at TIMESTAMP NOT NULL,
		last_error TEXT,
		locked_by TEXT,
		locked_at TIMESTAMP,
		finished_at TIMESTAMP,
		created_at TIMESTAMP,
		updated_at TIMESTAMP
	)`,
	`CREATE TABLE outbox_events (
		id TEXT PRIMARY KEY,
		event_type TEXT NOT NULL,
		aggregate_type TEXT NOT NULL,
		aggregate_id TEXT NOT NULL,
		payload BLOB NOT NULL,
		attempt_count INTEGER NOT NULL DEFAULT 0,
		last_error TEXT,
		next_attempt_at TIMESTAMP,
		published_at TIMESTAMP,
		created_at TIMESTAMP
	)`,
	`CREATE TABLE coin_ledger_entries (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		amount INTEGER NOT NULL,
		source TEXT NOT NULL,
		expires_at TIMESTAMP,
		reference_id TEXT,
		created_at TIMESTAMP
	)`,
	`CREATE TABLE inventory_items (
		product_id TEXT PRIMARY KEY,
		vendor_id TEXT NOT NULL,
		on_hand INTEGER NOT NULL DEFAULT 0,
		updated_at TIMESTAMP
	)`,
}

func setupOrdersTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	require.NoError(t, err)
	sqlDB, err := conn.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	for _, ddl := range testSchema {
		require.NoError(t, conn.Exec(ddl).Error)
	}
	return conn
}

type stubPayments struct {
	intentErr error
	intents   int
	refunds   []uuid.UUID
}

func (s *stubPayments) CreateIntent(ctx context.Context, userID, orderID uuid.UUID, amount int64) (*payments.Intent, error) {
	if s.intentErr != nil {
		return nil, s.intentErr
	}
	s.intents++
	return &payments.Intent{
		PaymentID: uuid.New(),
		OrderID:   orderID,
		IntentID:  fmt.Sprintf("intent_%d", s.intents),
		Amount:    amount,
		Currency:  "INR",
		Status:    enums.PaymentStatusPending,
	}, nil
}

func (s *stubPayments) Refund(ctx context.Context, orderID uuid.UUID, reason string) (*models.Payment, error) {
	s.refunds = append(s.refunds, orderID)
	return &models.Payment{OrderID: orderID, Status: enums.PaymentStatusRefunded}, nil
}

type lifecycleFixture struct {
	db          *gorm.DB
	repo        Repository
	service     Service
	settlement  *Settlement
	sideEffects *SideEffects
	coins       coins.Service
	inventory   inventory.Repository
	producer    *jobs.Producer
	worker      *jobs.Orchestrator
	payments    *stubPayments
}

func newLifecycleFixture(t *testing.T) *lifecycleFixture {
	t.Helper()
	conn := setupOrdersTestDB(t)
	client := db.Open(conn)
	logg := logger.New(logger.Options{ServiceName: "orders-test", Output: io.Discard})

	repo := NewRepository(conn)
	jobRepo := jobs.NewRepository(conn)
	producer, err := jobs.NewProducer(jobRepo, jobs.DefaultQueues(), logg)
	require.NoError(t, err)
	events := outbox.NewService(outbox.NewRepository(conn), logg)

	coinSvc, err := coins.NewService(coins.NewRepository(conn), client, logg)
	require.NoError(t, err)
	stock := inventory.NewRepository(conn)

	settlement, err := NewSettlement(SettlementParams{Repo: repo, Tx: client, Outbox: events, Jobs: producer, Logger: logg})
	require.NoError(t, err)
	stub := &stubPayments{}
	svc, err := NewService(ServiceParams{
		Settlement: settlement,
		Payments:   stub,
		Balances:   coinSvc,
		CoinValue:  decimal.NewFromInt(1),
		Currency:   "inr",
	})
	require.NoError(t, err)

	sideEffects, err := NewSideEffects(SideEffectParams{Repo: repo, Tx: client, Inventory: stock, Coins: coinSvc, Logger: logg})
	require.NoError(t, err)
	registry := jobs.NewRegistry()
	require.NoError(t, sideEffects.Register(registry))
	worker, err := jobs.NewOrchestrator(jobs.OrchestratorParams{
		Repo:     jobRepo,
		Registry: registry,
		Queues:   jobs.DefaultQueues(),
		Logger:   logg,
		WorkerID: "orders-test",
	})
	require.NoError(t, err)

	return &lifecycleFixture{
		db:          conn,
		repo:        repo,
		service:     svc,
		settlement:  settlement,
		sideEffects: sideEffects,
		coins:       coinSvc,
		inventory:   stock,
		producer:    producer,
		worker:      worker,
		payments:    stub,
	}
}

func (f *lifecycleFixture) seedCustomer(t *testing.T, coinBalance int64) uuid.UUID {
	t.Helper()
	id := uuid.New()
	require.NoError(t, f.db.Exec(
		`INSERT INTO users (id, email, name, role, coin_balance) VALUES (?, ?, 'Customer', 'customer', 0)`,
		id.String(), id.String()+"@example.com",
	).Error)
	if coinBalance > 0 {
		_, err := f.coins.Credit(context.Background(), id, coinBalance, enums.CoinSourceReferral)
		require.NoError(t, err)
	}
	return id
}

func (f *lifecycleFixture) seedStock(t *testing.T, vendorID uuid.UUID, onHand int) uuid.UUID {
	t.Helper()
	productID := uuid.New()
	require.NoError(t, f.inventory.Upsert(context.Background(), &models.InventoryItem{
		ProductID: productID,
		VendorID:  vendorID,
		OnHand:    onHand,
	}))
	return productID
}

func (f *lifecycleFixture) countJobs(t *testing.T, jobType enums.JobType) int64 {
	t.Helper()
	var total int64
	require.NoError(t, f.db.Model(&models.Job{}).Where("type = ?", jobType).Count(&total).Error)
	return total
}

func (f *lifecycleFixture) countEvents(t *testing.T, eventType enums.OutboxEventType) int64 {
	t.Helper()
	var total int64
	require.NoError(t, f.db.Model(&models.OutboxEvent{}).Where("event_type = ?", eventType).Count(&total).Error)
	return total
}

// drainOrdersQueue runs every due job on the orders queue.
func (f *lifecycleFixture) drainOrdersQueue(t *testing.T) {
	t.Helper()
	for i := 0; i < 20; i++ {
		processed, err := f.worker.ProcessNext(context.Background(), enums.QueueOrders)
		require.NoError(t, err)
		if !processed {
			return
		}
	}
	t.Fatal("orders queue did not drain")
}
