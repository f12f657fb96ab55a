package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/angelmondragon/orderflow-backend/internal/coins"
	"github.com/angelmondragon/orderflow-backend/internal/cron"
	"github.com/angelmondragon/orderflow-backend/internal/jobs"
	"github.com/angelmondragon/orderflow-backend/internal/orders"
	"github.com/angelmondragon/orderflow-backend/internal/payments"
	"github.com/angelmondragon/orderflow-backend/pkg/cache"
	"github.com/angelmondragon/orderflow-backend/pkg/config"
	"github.com/angelmondragon/orderflow-backend/pkg/db"
	"github.com/angelmondragon/orderflow-backend/pkg/gateway"
	"github.com/angelmondragon/orderflow-backend/pkg/instance"
	"github.com/angelmondragon/orderflow-backend/pkg/logger"
	"github.com/angelmondragon/orderflow-backend/pkg/metrics"
	"github.com/angelmondragon/orderflow-backend/pkg/migrate"
	"github.com/angelmondragon/orderflow-backend/pkg/outbox"
	"github.com/angelmondragon/orderflow-backend/pkg/outbox/idempotency"
	"github.com/angelmondragon/orderflow-backend/pkg/redis"
)

func main() {
	ctx := context.Background()
	logg := logger.Bootstrap("cron-worker")

	_ = godotenv.Load()

	cfg, err := config.Load()
	requireResource(ctx, logg, "config", err)

	cfg.Service.Kind = "cron-worker"

	logg = logger.New(logger.Options{
		ServiceName: "cron-worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(ctx, cfg.DB, logg)
	requireResource(ctx, logg, "database", err)
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(ctx, "failed to close database", err)
		}
	}()

	requireResource(ctx, logg, "dev migrations", migrate.MaybeRunDev(ctx, cfg, logg, dbClient))

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	requireResource(ctx, logg, "redis", err)
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(ctx, "failed to close redis client", err)
		}
	}()

	orderService, producer, err := buildOrderService(cfg, logg, dbClient, redisClient)
	requireResource(ctx, logg, "order service", err)

	lock, err := cron.NewRedisLock(redisClient, redisClient.LockKey("cron:"+lockEnv(cfg.App.Env)), 0)
	requireResource(ctx, logg, "cron lock", err)

	registry, err := buildRegistry(cfg, logg, orderService, producer)
	requireResource(ctx, logg, "cron registry", err)

	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: registry,
		Lock:     lock,
		Metrics:  metrics.NewCronJobMetrics(prometheus.DefaultRegisterer),
	})
	requireResource(ctx, logg, "cron service", err)

	runCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	runCtx = logg.WithFields(runCtx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
		"instance":    instance.GetID(),
	})
	logg.Info(runCtx, "cron worker ready")

	group, groupCtx := errgroup.WithContext(runCtx)
	group.Go(func() error { return metrics.Serve(groupCtx, cfg.Service.MetricsAddr, prometheus.DefaultGatherer, logg) })
	group.Go(func() error { return service.Run(groupCtx) })
	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(runCtx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}
	logg.Info(runCtx, "cron worker shutting down")
}

func requireResource(ctx context.Context, logg *logger.Logger, resource string, err error) {
	if err == nil {
		return
	}
	logg.Error(ctx, fmt.Sprintf("resource not working: %s", resource), err)
	os.Exit(1)
}

func buildRegistry(cfg *config.Config, logg *logger.Logger, orderService orders.Service, producer *jobs.Producer) (*cron.Registry, error) {
	sweeps := cron.SweepParams{
		Logger:     logg,
		Orders:     orderService,
		PendingTTL: cfg.Jobs.PendingPaymentTTL,
		Grace:      cfg.Jobs.ReconcileGrace,
		Lookback:   cfg.Jobs.ReconcileLookback,
		Limit:      cfg.Jobs.SweepLimit,
	}
	expiry, err := cron.NewPaymentExpiryJob(sweeps)
	if err != nil {
		return nil, err
	}
	reconcile, err := cron.NewSideEffectReconcileJob(sweeps)
	if err != nil {
		return nil, err
	}
	cleanupEnqueue, err := cron.NewCleanupEnqueueJob(cron.CleanupJobParams{
		Logger:        logg,
		Jobs:          producer,
		RetentionDays: cfg.Jobs.RetentionDays,
	})
	if err != nil {
		return nil, err
	}

	registry := cron.NewRegistry()
	if err := registry.Register(cfg.Jobs.CronSchedule, expiry); err != nil {
		return nil, err
	}
	if err := registry.Register(cfg.Jobs.CronSchedule, reconcile); err != nil {
		return nil, err
	}
	if err := registry.Register(cfg.Jobs.CleanupSchedule, cleanupEnqueue); err != nil {
		return nil, err
	}
	return registry, nil
}

// buildOrderService wires the lifecycle service the sweeps drive. Expiring an
// order goes through the same transition path as an API cancel.
func buildOrderService(cfg *config.Config, logg *logger.Logger, dbClient *db.Client, redisClient *redis.Client) (orders.Service, *jobs.Producer, error) {
	coinValue, err := cfg.Coins.Value()
	if err != nil {
		return nil, nil, err
	}
	gatewayClient, err := gateway.NewClient(cfg.Gateway)
	if err != nil {
		return nil, nil, err
	}
	dedupe, err := idempotency.NewManager(cache.NewTiered(cache.Options{
		Backing:  redisClient,
		Logger:   logg,
		LocalTTL: cfg.Cache.LocalTTL,
	}), redisClient.IdempotencyKey, cfg.Gateway.WebhookDedupe)
	if err != nil {
		return nil, nil, err
	}

	outboxService := outbox.NewService(outbox.NewRepository(dbClient.DB()), logg)
	producer, err := jobs.NewProducer(jobs.NewRepository(dbClient.DB()), jobs.DefaultQueues(), logg)
	if err != nil {
		return nil, nil, err
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
		return nil, nil, err
	}
	reconciler, err := payments.NewReconciler(payments.ReconcilerParams{
		Repo:    payments.NewRepository(dbClient.DB()),
		Orders:  ordersRepo,
		Settler: settlement,
		Gateway: gatewayClient,
		Tx:      dbClient,
		Outbox:  outboxService,
		Dedupe:  dedupe,
		Config:  cfg.Gateway,
		Logger:  logg,
	})
	if err != nil {
		return nil, nil, err
	}
	coinService, err := coins.NewService(coins.NewRepository(dbClient.DB()), dbClient, logg)
	if err != nil {
		return nil, nil, err
	}
	service, err := orders.NewService(orders.ServiceParams{
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
		return nil, nil, err
	}
	return service, producer, nil
}

func lockEnv(env string) string {
	if env == "" {
		return "local"
	}
	return env
}
