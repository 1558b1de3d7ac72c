package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/contentcms/internal/files"
	"github.com/angelmondragon/contentcms/internal/jobs"
	"github.com/angelmondragon/contentcms/internal/pipeline"
	"github.com/angelmondragon/contentcms/internal/settings"
	"github.com/angelmondragon/contentcms/pkg/config"
	"github.com/angelmondragon/contentcms/pkg/db"
	"github.com/angelmondragon/contentcms/pkg/instance"
	"github.com/angelmondragon/contentcms/pkg/logger"
	"github.com/angelmondragon/contentcms/pkg/metrics"
	"github.com/angelmondragon/contentcms/pkg/outbox"
	"github.com/angelmondragon/contentcms/pkg/redis"
	"github.com/angelmondragon/contentcms/pkg/storage/s3"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "pipeline-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "pipeline-worker"

	logg = logger.New(logger.Options{
		ServiceName: "pipeline-worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	workerID := instance.GetID()
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":      cfg.App.Env,
		"instance": workerID,
	})

	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(ctx, "error closing database", err)
		}
	}()

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(ctx, "error closing redis", err)
		}
	}()

	s3Client, err := s3.New(ctx, cfg.S3, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap object storage", err)
		os.Exit(1)
	}

	pipelineMetrics := metrics.NewPipelineMetrics(prometheus.DefaultRegisterer)
	fileRepo := files.NewRepository(dbClient.DB())
	emitter := outbox.NewService(outbox.NewRepository(dbClient.DB()), logg)

	processor, err := pipeline.NewProcessor(pipeline.ProcessorParams{
		DB:          dbClient,
		Files:       fileRepo,
		Storage:     s3Client,
		Settings:    settings.NewCachedLoader(settings.NewStore(dbClient.DB()), redisClient, cfg.Pipeline.SettingsCacheTTL, logg),
		Locker:      redisClient,
		Outbox:      emitter,
		Metrics:     pipelineMetrics,
		Logger:      logg,
		JPEGQuality: cfg.Pipeline.JPEGQuality,
		LockTTL:     cfg.Pipeline.JobLease,
	})
	if err != nil {
		logg.Error(ctx, "failed to create pipeline processor", err)
		os.Exit(1)
	}

	worker, err := pipeline.NewWorker(pipeline.WorkerParams{
		DB:                 dbClient,
		Queue:              jobs.NewQueue(dbClient.DB(), cfg.Pipeline.MaxAttempts),
		Processor:          processor,
		Files:              fileRepo,
		Storage:            s3Client,
		Outbox:             emitter,
		Metrics:            pipelineMetrics,
		Logger:             logg,
		Config:             cfg.Pipeline,
		WorkerID:           workerID,
		DeleteRetries:      cfg.S3.DeleteRetries,
		DeleteRetryBackoff: cfg.S3.DeleteRetryBackoff,
	})
	if err != nil {
		logg.Error(ctx, "failed to create pipeline worker", err)
		os.Exit(1)
	}

	service, err := NewService(ServiceParams{
		Config:  cfg,
		Logger:  logg,
		DB:      dbClient,
		Redis:   redisClient,
		Storage: s3Client,
		Worker:  worker,
	})
	if err != nil {
		logg.Error(ctx, "failed to create pipeline worker service", err)
		os.Exit(1)
	}

	runCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logg.Info(ctx, "starting pipeline worker")
	if err := service.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "pipeline worker stopped unexpectedly", err)
		os.Exit(1)
	}
	logg.Info(ctx, "pipeline worker shutting down gracefully")
}
