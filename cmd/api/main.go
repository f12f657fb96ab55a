package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/angelmondragon/orderflow-backend/api/controllers"
	"github.com/angelmondragon/orderflow-backend/api/routes"
	"github.com/angelmondragon/orderflow-backend/internal/coins"
	"github.com/angelmondragon/orderflow-backend/internal/jobs"
	"github.com/angelmondragon/orderflow-backend/internal/notifications"
	"github.com/angelmondragon/orderflow-backend/internal/orders"
	"github.com/angelmondragon/orderflow-backend/internal/payments"
	"github.com/angelmondragon/orderflow-backend/pkg/auth/session"
	"github.com/angelmondragon/orderflow-backend/pkg/cache"
	"github.com/angelmondragon/orderflow-backend/pkg/config"
	"github.com/angelmondragon/orderflow-backend/pkg/db"
	"github.com/angelmondragon/orderflow-backend/pkg/gateway"
	"github.com/angelmondragon/orderflow-backend/pkg/instance"
	"github.com/angelmondragon/orderflow-backend/pkg/logger"
	"github.com/angelmondragon/orderflow-backend/pkg/migrate"
	"github.com/angelmondragon/orderflow-backend/pkg/outbox"
	"github.com/angelmondragon/orderflow-backend/pkg/outbox/idempotency"
	"github.com/angelmondragon/orderflow-backend/pkg/redis"
	"github.com/joho/godotenv"
)

func main() {
	logg := logger.Bootstrap("api")

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	sessionManager, err := session.NewManager(redisClient)
	if err != nil {
		logg.Error(context.Background(), "failed to create session manager", err)
		os.Exit(1)
	}

	// webhook dedupe keeps working from process memory while redis is down
	dedupeCache := cache.NewTiered(cache.Options{
		Backing:  redisClient,
		Logger:   logg,
		LocalTTL: cfg.Cache.LocalTTL,
	})
	webhookDedupe, err := idempotency.NewManager(dedupeCache, redisClient.IdempotencyKey, cfg.Gateway.WebhookDedupe)
	if err != nil {
		logg.Error(context.Background(), "failed to create webhook dedupe", err)
		os.Exit(1)
	}

	gatewayClient, err := gateway.NewClient(cfg.Gateway)
	if err != nil {
		logg.Error(context.Background(), "failed to create gateway client", err)
		os.Exit(1)
	}

	coinValue, err := cfg.Coins.Value()
	if err != nil {
		logg.Error(context.Background(), "invalid coin value", err)
		os.Exit(1)
	}

	outboxService := outbox.NewService(outbox.NewRepository(dbClient.DB()), logg)
	jobsRepo := jobs.NewRepository(dbClient.DB())
	producer, err := jobs.NewProducer(jobsRepo, jobs.DefaultQueues(), logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create job producer", err)
		os.Exit(1)
	}

	ordersRepo := orders.NewRepository(dbClient.DB())
	settlement, err := orders.NewSettlement(orders.SettlementParams{
		Repo:   ordersRepo,
		Tx:     dbClient,
		Outbox: outboxService,
		Jobs:   producer,
		Logger: logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create order settlement", err)
		os.Exit(1)
	}

	reconciler, err := payments.NewReconciler(payments.ReconcilerParams{
		Repo:    payments.NewRepository(dbClient.DB()),
		Orders:  ordersRepo,
		Settler: settlement,
		Gateway: gatewayClient,
		Tx:      dbClient,
		Outbox:  outboxService,
		Dedupe:  webhookDedupe,
		Config:  cfg.Gateway,
		Logger:  logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create payment reconciler", err)
		os.Exit(1)
	}

	coinService, err := coins.NewService(coins.NewRepository(dbClient.DB()), dbClient, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create coin service", err)
		os.Exit(1)
	}

	orderService, err := orders.NewService(orders.ServiceParams{
		Repo:       ordersRepo,
		Tx:         dbClient,
		Outbox:     outboxService,
		Jobs:       producer,
		Settlement: settlement,
		Payments:   reconciler,
		Balances:   coinService,
		CoinValue:  coinValue,
		Currency:   cfg.Gateway.Currency,
		Logger:     logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create order service", err)
		os.Exit(1)
	}

	// the api only reads notifications; delivery happens in the worker
	notificationService, err := notifications.NewService(notifications.NewRepository(dbClient.DB()), notifications.NewLogSender(logg), logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create notification service", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":      cfg.App.Env,
		"addr":     addr,
		"instance": instance.GetID(),
	})
	logg.Info(ctx, "starting api server")

	handler := routes.NewRouter(routes.Params{
		Config:   cfg,
		Logger:   logg,
		Redis:    redisClient,
		Sessions: sessionManager,
		Readiness: []controllers.ReadinessCheck{
			{Name: "database", Pinger: dbClient},
			{Name: "redis", Pinger: redisClient},
		},
		Orders:        orderService,
		Payments:      reconciler,
		Coins:         coinService,
		Notifications: notificationService,
		Queues:        producer,
		DeadLetters:   jobsRepo,
		OutboxDLQ:     outbox.NewDLQRepository(dbClient.DB()),
	})

	server := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)
	go func() { serveErr <- server.ListenAndServe() }()

	select {
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error(ctx, "api server stopped unexpectedly", err)
			os.Exit(1)
		}
	case <-sigCtx.Done():
		logg.Info(ctx, "api server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logg.Error(ctx, "api server shutdown failed", err)
		}
	}
}

const shutdownTimeout = 15 * time.Second
