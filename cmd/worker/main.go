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

	"github.com/angelmondragon/orderflow-backend/internal/analytics"
	"github.com/angelmondragon/orderflow-backend/internal/analytics/writer"
	"github.com/angelmondragon/orderflow-backend/internal/cleanup"
	"github.com/angelmondragon/orderflow-backend/internal/coins"
	"github.com/angelmondragon/orderflow-backend/internal/inventory"
	"github.com/angelmondragon/orderflow-backend/internal/jobs"
	"github.com/angelmondragon/orderflow-backend/internal/notifications"
	"github.com/angelmondragon/orderflow-backend/internal/orders"
	"github.com/angelmondragon/orderflow-backend/pkg/bigquery"
	"github.com/angelmondragon/orderflow-backend/pkg/config"
	"github.com/angelmondragon/orderflow-backend/pkg/db"
	"github.com/angelmondragon/orderflow-backend/pkg/enums"
	"github.com/angelmondragon/orderflow-backend/pkg/instance"
	"github.com/angelmondragon/orderflow-backend/pkg/logger"
	"github.com/angelmondragon/orderflow-backend/pkg/metrics"
	"github.com/angelmondragon/orderflow-backend/pkg/migrate"
	"github.com/angelmondragon/orderflow-backend/pkg/outbox"
	"github.com/angelmondragon/orderflow-backend/pkg/pubsub"
	"github.com/angelmondragon/orderflow-backend/pkg/redis"
)

func main() {
	ctx := context.Background()
	logg := logger.Bootstrap("worker")

	if err := godotenv.Load(); err != nil {
		logg.Warn(ctx, ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	requireResource(ctx, logg, "config", err)

	cfg.Service.Kind = "worker"

	logg = logger.New(logger.Options{
		ServiceName: "worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(ctx, cfg.DB, logg)
	requireResource(ctx, logg, "database", err)
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(ctx, "error closing database", err)
		}
	}()

	requireResource(ctx, logg, "dev migrations", migrate.MaybeRunDev(ctx, cfg, logg, dbClient))

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	requireResource(ctx, logg, "redis", err)
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(ctx, "error closing redis", err)
		}
	}()

	bqClient, err := bigquery.NewClient(ctx, cfg.GCP, cfg.BigQuery, logg)
	requireResource(ctx, logg, "bigquery", err)
	defer func() {
		if err := bqClient.Close(); err != nil {
			logg.Error(ctx, "error closing bigquery client", err)
		}
	}()

	deps := []dependency{
		{name: "database", pinger: dbClient},
		{name: "redis", pinger: redisClient},
		{name: "bigquery", pinger: bqClient},
	}

	var sender notifications.Sender = notifications.NewLogSender(logg)
	if cfg.PubSub.NotificationsTopic != "" {
		pubsubClient, err := pubsub.NewClient(ctx, cfg.GCP, cfg.PubSub, pubsub.Requirements{
			Topics: []string{cfg.PubSub.NotificationsTopic},
		}, logg)
		requireResource(ctx, logg, "pubsub", err)
		defer func() {
			if err := pubsubClient.Close(); err != nil {
				logg.Error(ctx, "error closing pubsub client", err)
			}
		}()
		topicSender, err := notifications.NewTopicSender(pubsubClient.Publisher(cfg.PubSub.NotificationsTopic))
		requireResource(ctx, logg, "notifications topic", err)
		sender = topicSender
		deps = append(deps, dependency{name: "pubsub", pinger: pubsubClient})
	}

	analyticsWriter, err := writer.New(bqClient, writer.Config{
		Table:         cfg.BigQuery.EventsTable,
		BatchSize:     cfg.Jobs.AnalyticsBatch,
		FlushInterval: cfg.Jobs.AnalyticsFlush,
	}, logg)
	requireResource(ctx, logg, "analytics writer", err)

	coinService, err := coins.NewService(coins.NewRepository(dbClient.DB()), dbClient, logg)
	requireResource(ctx, logg, "coin service", err)

	sideEffects, err := orders.NewSideEffects(orders.SideEffectParams{
		Repo:      orders.NewRepository(dbClient.DB()),
		Tx:        dbClient,
		Inventory: inventory.NewRepository(dbClient.DB()),
		Coins:     coinService,
		Logger:    logg,
	})
	requireResource(ctx, logg, "order side effects", err)

	notificationService, err := notifications.NewService(notifications.NewRepository(dbClient.DB()), sender, logg)
	requireResource(ctx, logg, "notification service", err)

	tracker, err := analytics.NewTracker(analyticsWriter, logg)
	requireResource(ctx, logg, "analytics tracker", err)

	jobsRepo := jobs.NewRepository(dbClient.DB())
	cleanupHandler, err := cleanup.NewHandler(cleanup.Params{
		Jobs:   jobsRepo,
		Outbox: outbox.NewRepository(dbClient.DB()),
		Tx:     dbClient,
		Logger: logg,
	})
	requireResource(ctx, logg, "cleanup handler", err)

	registry := jobs.NewRegistry()
	for name, register := range map[string]func(*jobs.Registry) error{
		"order side effects": sideEffects.Register,
		"notifications":      notificationService.Register,
		"analytics":          tracker.Register,
		"cleanup":            cleanupHandler.Register,
	} {
		requireResource(ctx, logg, fmt.Sprintf("%s handlers", name), register(registry))
	}

	queues := jobs.DefaultQueues()
	workerID := instance.GetID()
	orchestrator, err := jobs.NewOrchestrator(jobs.OrchestratorParams{
		Repo:         jobsRepo,
		Registry:     registry,
		Queues:       queues,
		Limiters:     queueLimiters(ctx, logg, redisClient, queues),
		Metrics:      metrics.NewJobMetrics(prometheus.DefaultRegisterer),
		Logger:       logg,
		WorkerID:     workerID,
		PollInterval: cfg.Jobs.PollInterval,
	})
	requireResource(ctx, logg, "job orchestrator", err)

	service, err := NewService(ServiceParams{
		Logger:       logg,
		Dependencies: deps,
		Orchestrator: orchestrator,
		Analytics:    analyticsWriter,
	})
	requireResource(ctx, logg, "worker service", err)

	runCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	runCtx = logg.WithFields(runCtx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
		"instance":    workerID,
	})
	logg.Info(runCtx, "starting worker")

	group, groupCtx := errgroup.WithContext(runCtx)
	group.Go(func() error { return metrics.Serve(groupCtx, cfg.Service.MetricsAddr, prometheus.DefaultGatherer, logg) })
	group.Go(func() error { return service.Run(groupCtx) })
	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(runCtx, "worker failed", err)
		os.Exit(1)
	}
	logg.Info(runCtx, "worker shutting down gracefully")
}

// queueLimiters shares each queue's rate limit across the fleet through redis.
func queueLimiters(ctx context.Context, logg *logger.Logger, redisClient *redis.Client, queues jobs.Queues) map[enums.QueueName]jobs.Limiter {
	limiters := map[enums.QueueName]jobs.Limiter{}
	for name, queue := range queues {
		if queue.RateLimit == nil {
			continue
		}
		shared, err := jobs.NewSharedLimiter(redisClient, "jobs:"+string(name), *queue.RateLimit, logg)
		if err != nil {
			logg.Warn(logg.WithField(ctx, "queue", name), "shared limiter unavailable; using local limiter")
			limiters[name] = jobs.LocalLimiter(*queue.RateLimit)
			continue
		}
		limiters[name] = shared
	}
	return limiters
}

func requireResource(ctx context.Context, logg *logger.Logger, resource string, err error) {
	if err == nil {
		return
	}
	logg.Error(ctx, fmt.Sprintf("resource not working: %s", resource), err)
	os.Exit(1)
}
