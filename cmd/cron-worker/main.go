package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/contentcms/internal/cron"
	"github.com/angelmondragon/contentcms/internal/files"
	"github.com/angelmondragon/contentcms/internal/jobs"
	"github.com/angelmondragon/contentcms/pkg/config"
	"github.com/angelmondragon/contentcms/pkg/db"
	"github.com/angelmondragon/contentcms/pkg/logger"
	"github.com/angelmondragon/contentcms/pkg/metrics"
	"github.com/angelmondragon/contentcms/pkg/migrate"
	"github.com/angelmondragon/contentcms/pkg/outbox"
	"github.com/angelmondragon/contentcms/pkg/redis"
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

	metricsCollector := metrics.NewMaintenanceMetrics(prometheus.DefaultRegisterer)
	lock, err := cron.NewRedisLock(redisClient, redisClient.MaintenanceLockKey(cfg.App.Env), cfg.Maintenance.LockTTL)
	if err != nil {
		logg.Error(context.Background(), "failed to create cron lock", err)
		os.Exit(1)
	}

	outboxRepo := outbox.NewRepository(dbClient.DB())
	outboxRetention, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:       logg,
		DB:           dbClient,
		Repository:   outboxRepo,
		DLQ:          outbox.NewDLQRepository(dbClient.DB()),
		Retention:    cfg.Maintenance.OutboxRetentionDays,
		DLQRetention: cfg.Maintenance.DLQRetentionDays,
		MinAttempts:  cfg.Outbox.MaxAttempts,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create outbox retention job", err)
		os.Exit(1)
	}
	jobRetention, err := cron.NewJobRetentionJob(cron.JobRetentionJobParams{
		Logger:        logg,
		DB:            dbClient,
		Queue:         jobs.NewQueue(dbClient.DB(), cfg.Pipeline.MaxAttempts),
		RetentionDays: cfg.Maintenance.JobRetentionDays,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create pipeline job retention job", err)
		os.Exit(1)
	}
	stalledFiles, err := cron.NewStalledFileJob(cron.StalledFileJobParams{
		Logger:     logg,
		DB:         dbClient,
		Files:      files.NewRepository(dbClient.DB()),
		Outbox:     outbox.NewService(outboxRepo, logg),
		StaleAfter: cfg.Maintenance.StalledFileAfter,
		BatchSize:  cfg.Maintenance.StalledFileBatch,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create stalled file job", err)
		os.Exit(1)
	}

	registry := cron.NewRegistry(stalledFiles, jobRetention, outboxRetention)
	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: registry,
		Lock:     lock,
		Metrics:  metricsCollector,
		Interval: cfg.Maintenance.Interval,
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
