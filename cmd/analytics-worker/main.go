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

	"github.com/angelmondragon/orderflow-backend/internal/analytics/router"
	"github.com/angelmondragon/orderflow-backend/internal/analytics/worker"
	"github.com/angelmondragon/orderflow-backend/internal/analytics/writer"
	"github.com/angelmondragon/orderflow-backend/pkg/bigquery"
	"github.com/angelmondragon/orderflow-backend/pkg/cache"
	"github.com/angelmondragon/orderflow-backend/pkg/config"
	"github.com/angelmondragon/orderflow-backend/pkg/logger"
	"github.com/angelmondragon/orderflow-backend/pkg/metrics"
	"github.com/angelmondragon/orderflow-backend/pkg/outbox/idempotency"
	"github.com/angelmondragon/orderflow-backend/pkg/pubsub"
	"github.com/angelmondragon/orderflow-backend/pkg/redis"
)

func main() {
	ctx := context.Background()
	logg := logger.Bootstrap("analytics-worker")

	_ = godotenv.Load()

	cfg, err := config.Load()
	requireResource(ctx, logg, "config", err)

	cfg.Service.Kind = "analytics-worker"

	logg = logger.New(logger.Options{
		ServiceName: "analytics-worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	requireResource(ctx, logg, "redis", err)
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(ctx, "failed to close redis client", err)
		}
	}()

	pubsubClient, err := pubsub.NewClient(ctx, cfg.GCP, cfg.PubSub, pubsub.Requirements{
		Subscriptions: []string{cfg.PubSub.OrdersSubscription},
	}, logg)
	requireResource(ctx, logg, "pubsub", err)
	defer func() {
		if err := pubsubClient.Close(); err != nil {
			logg.Error(ctx, "failed to close pubsub client", err)
		}
	}()

	bqClient, err := bigquery.NewClient(ctx, cfg.GCP, cfg.BigQuery, logg)
	requireResource(ctx, logg, "bigquery client", err)
	defer func() {
		if err := bqClient.Close(); err != nil {
			logg.Error(ctx, "failed to close bigquery client", err)
		}
	}()

	subscription := pubsubClient.OrdersSubscription()
	if subscription == nil {
		requireResource(ctx, logg, "orders subscription", errors.New("subscription not configured"))
	}

	seen := cache.NewTiered(cache.Options{
		Backing:  redisClient,
		Logger:   logg,
		LocalTTL: cfg.Cache.LocalTTL,
	})
	manager, err := idempotency.NewManager(seen, redisClient.IdempotencyKey, cfg.Outbox.IdempotencyTTL)
	requireResource(ctx, logg, "idempotency manager", err)

	analyticsWriter, err := writer.New(bqClient, writer.Config{
		Table:         cfg.BigQuery.EventsTable,
		BatchSize:     cfg.Jobs.AnalyticsBatch,
		FlushInterval: cfg.Jobs.AnalyticsFlush,
	}, logg)
	requireResource(ctx, logg, "analytics bigquery writer", err)

	routingHandler, err := router.NewRouter(analyticsWriter, logg)
	requireResource(ctx, logg, "analytics router", err)

	service, err := worker.NewService(worker.ServiceParams{
		Subscription: subscription,
		Handler:      routingHandler,
		Dedupe:       manager,
		Metrics:      metrics.NewConsumerMetrics(prometheus.DefaultRegisterer),
		Logger:       logg,
	})
	requireResource(ctx, logg, "analytics worker service", err)

	runCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	runCtx = logg.WithFields(runCtx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
		"table":       bqClient.EventsTable(),
	})
	logg.Info(runCtx, "analytics worker ready")

	group, groupCtx := errgroup.WithContext(runCtx)
	group.Go(func() error { return analyticsWriter.Run(groupCtx) })
	group.Go(func() error { return service.Run(groupCtx) })
	group.Go(func() error { return metrics.Serve(groupCtx, cfg.Service.MetricsAddr, prometheus.DefaultGatherer, logg) })
	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(runCtx, "analytics worker failed", err)
		os.Exit(1)
	}
}

func requireResource(ctx context.Context, logg *logger.Logger, resource string, err error) {
	if err == nil {
		return
	}
	logg.Error(ctx, fmt.Sprintf("resource not working: %s", resource), err)
	os.Exit(1)
}
