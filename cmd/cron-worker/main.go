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
	"github.com/covercraft/covercraft-backend/internal/cron"
	"github.com/covercraft/covercraft-backend/pkg/config"
	"github.com/covercraft/covercraft-backend/pkg/db"
	"github.com/covercraft/covercraft-backend/pkg/logger"
	"github.com/covercraft/covercraft-backend/pkg/metrics"
	"github.com/covercraft/covercraft-backend/pkg/migrate"
	"github.com/covercraft/covercraft-backend/pkg/redis"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "cron-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "cron-worker"

	logg = logger.New(logger.Options{
		ServiceName: "cron-worker",
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

	metricsCollector := metrics.NewCronJobMetrics(prometheus.DefaultRegisterer)
	lock, err := cron.NewRedisLock(redisClient, redisClient.LockKey("cron-worker", cfg.App.Env), 0)
	if err != nil {
		logg.Error(context.Background(), "failed to create cron lock", err)
		os.Exit(1)
	}

	domain, err := bootstrap.NewDomain(cfg, logg, dbClient, prometheus.DefaultRegisterer)
	if err != nil {
		logg.Error(context.Background(), "failed to wire order domain", err)
		os.Exit(1)
	}

	registry, err := buildRegistry(cfg, logg, domain)
	if err != nil {
		logg.Error(context.Background(), "failed to register cron jobs", err)
		os.Exit(1)
	}
	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: registry,
		Lock:     lock,
		Metrics:  metricsCollector,
		Interval: cfg.Cron.Interval,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create cron service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
	})
	logg.Info(ctx, "starting cron worker")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "cron worker shutting down gracefully")
}

func buildRegistry(cfg *config.Config, logg *logger.Logger, domain *bootstrap.Domain) (*cron.Registry, error) {
	refunds, err := cron.NewRefundRetryJob(cron.RefundRetryJobParams{
		Refunds:   domain.Engine,
		BatchSize: cfg.Cron.RefundBatchSize,
	})
	if err != nil {
		return nil, err
	}
	tracking, err := cron.NewTrackingSyncJob(cron.TrackingSyncJobParams{
		Syncer:    domain.Orchestrator,
		MinAge:    cfg.Cron.TrackingSyncAge,
		BatchSize: cfg.Cron.TrackingBatchSize,
	})
	if err != nil {
		return nil, err
	}
	cleanup, err := cron.NewStaleOrderCleanupJob(cron.StaleOrderCleanupJobParams{
		Purger: domain.Engine,
		MinAge: cfg.Cron.StalePendingAge,
	})
	if err != nil {
		return nil, err
	}
	claims, err := cron.NewShipmentClaimReleaseJob(cron.ShipmentClaimReleaseJobParams{
		Releaser: domain.Orchestrator,
		Timeout:  cfg.Cron.ShipmentClaimTimeout,
	})
	if err != nil {
		return nil, err
	}
	retention, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:     logg,
		Repository: domain.OutboxRepo,
		Retention:  cfg.Outbox.Retention,
	})
	if err != nil {
		return nil, err
	}
	return cron.NewRegistry(refunds, tracking, cleanup, claims, retention), nil
}
