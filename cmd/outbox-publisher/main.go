package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/angelmondragon/orderflow-backend/pkg/config"
	"github.com/angelmondragon/orderflow-backend/pkg/db"
	"github.com/angelmondragon/orderflow-backend/pkg/logger"
	"github.com/angelmondragon/orderflow-backend/pkg/metrics"
	"github.com/angelmondragon/orderflow-backend/pkg/migrate"
	"github.com/angelmondragon/orderflow-backend/pkg/outbox"
	"github.com/angelmondragon/orderflow-backend/pkg/outbox/registry"
	"github.com/angelmondragon/orderflow-backend/pkg/pubsub"
)

func main() {
	once := flag.Bool("once", false, "drain the current backlog and exit")
	flag.Parse()

	ctx := context.Background()
	logg := logger.Bootstrap("outbox-publisher")

	_ = godotenv.Load()

	cfg, err := config.Load()
	requireResource(ctx, logg, "config", err)

	cfg.Service.Kind = "outbox-publisher"

	logg = logger.New(logger.Options{
		ServiceName: "outbox-publisher",
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

	eventRegistry, err := registry.NewEventRegistry(cfg.PubSub)
	requireResource(ctx, logg, "event registry", err)

	pubsubClient, err := pubsub.NewClient(ctx, cfg.GCP, cfg.PubSub, pubsub.Requirements{
		Topics: eventRegistry.Topics(),
	}, logg)
	requireResource(ctx, logg, "pubsub", err)
	defer func() {
		if err := pubsubClient.Close(); err != nil {
			logg.Error(ctx, "failed to close pubsub client", err)
		}
	}()

	service, err := NewService(ServiceParams{
		Config:        cfg,
		Logger:        logg,
		DB:            dbClient,
		PubSub:        pubsubClient,
		Repository:    outbox.NewRepository(dbClient.DB()),
		Registry:      eventRegistry,
		DLQRepository: outbox.NewDLQRepository(dbClient.DB()),
		Metrics:       metrics.NewOutboxMetrics(prometheus.DefaultRegisterer),
	})
	requireResource(ctx, logg, "outbox publisher", err)

	runCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	runCtx = logg.WithFields(runCtx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
		"topics":      eventRegistry.Topics(),
	})

	if *once {
		published, err := service.Drain(runCtx)
		if err != nil {
			logg.Error(runCtx, "outbox drain failed", err)
			os.Exit(1)
		}
		logg.Info(logg.WithField(runCtx, "batches", published), "outbox drained")
		return
	}

	logg.Info(runCtx, "outbox publisher ready")
	group, groupCtx := errgroup.WithContext(runCtx)
	group.Go(func() error { return metrics.Serve(groupCtx, cfg.Service.MetricsAddr, prometheus.DefaultGatherer, logg) })
	group.Go(func() error { return service.Run(groupCtx) })
	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(runCtx, "outbox publisher stopped unexpectedly", err)
		os.Exit(1)
	}
	logg.Info(runCtx, "outbox publisher shutting down")
}

func requireResource(ctx context.Context, logg *logger.Logger, resource string, err error) {
	if err == nil {
		return
	}
	logg.Error(ctx, fmt.Sprintf("resource not working: %s", resource), err)
	os.Exit(1)
}
