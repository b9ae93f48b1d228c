package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/covercraft/covercraft-backend/internal/bootstrap"
	"github.com/covercraft/covercraft-backend/internal/consumers/autofulfill"
	"github.com/covercraft/covercraft-backend/pkg/config"
	"github.com/covercraft/covercraft-backend/pkg/db"
	"github.com/covercraft/covercraft-backend/pkg/logger"
	"github.com/covercraft/covercraft-backend/pkg/migrate"
	"github.com/covercraft/covercraft-backend/pkg/outbox/idempotency"
	"github.com/covercraft/covercraft-backend/pkg/outbox/registry"
	"github.com/covercraft/covercraft-backend/pkg/pubsub"
	"github.com/covercraft/covercraft-backend/pkg/redis"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "worker"

	logg = logger.New(logger.Options{
		ServiceName: "worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}

	pubsubClient, err := pubsub.NewClient(context.Background(), cfg.GCP, cfg.PubSub, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap pubsub", err)
		os.Exit(1)
	}

	var autoFulfill consumer
	if cfg.FeatureFlags.AutoFulfill {
		autoFulfill, err = buildAutoFulfill(cfg, logg, dbClient, redisClient, pubsubClient)
		if err != nil {
			logg.Error(context.Background(), "failed to wire auto-fulfill consumer", err)
			os.Exit(1)
		}
	}

	service, err := NewService(ServiceParams{
		Config:      cfg,
		Logger:      logg,
		DB:          dbClient,
		Redis:       redisClient,
		PubSub:      pubsubClient,
		AutoFulfill: autoFulfill,
		Closers:     []closer{pubsubClient, redisClient, dbClient},
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create worker service", err)
		os.Exit(1)
	}
	defer func() {
		if err := service.Close(); err != nil {
			logg.Error(context.Background(), "error closing worker clients", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
		"autoFulfill": cfg.FeatureFlags.AutoFulfill,
	})
	logg.Info(ctx, "starting worker")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "worker stopped unexpectedly", err)
		_ = service.Close()
		os.Exit(1)
	}

	logg.Info(ctx, "worker shutting down gracefully")
}

func buildAutoFulfill(cfg *config.Config, logg *logger.Logger, dbClient *db.Client, redisClient *redis.Client, pubsubClient *pubsub.Client) (consumer, error) {
	domain, err := bootstrap.NewDomain(cfg, logg, dbClient, prometheus.DefaultRegisterer)
	if err != nil {
		return nil, err
	}
	events, err := registry.NewEventRegistry(cfg.PubSub)
	if err != nil {
		return nil, err
	}
	manager, err := idempotency.NewManager(redisClient, cfg.Eventing.OutboxIdempotencyTTL)
	if err != nil {
		return nil, err
	}
	c, err := autofulfill.NewConsumer(domain.Orchestrator, events, pubsubClient.OrdersSubscriber(), manager, logg)
	if err != nil {
		return nil, err
	}
	return c, nil
}
