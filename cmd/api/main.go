package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/angelmondragon/contentcms/api/routes"
	"github.com/angelmondragon/contentcms/internal/files"
	"github.com/angelmondragon/contentcms/internal/jobs"
	"github.com/angelmondragon/contentcms/pkg/config"
	"github.com/angelmondragon/contentcms/pkg/db"
	"github.com/angelmondragon/contentcms/pkg/instance"
	"github.com/angelmondragon/contentcms/pkg/logger"
	"github.com/angelmondragon/contentcms/pkg/migrate"
	"github.com/angelmondragon/contentcms/pkg/outbox"
	"github.com/angelmondragon/contentcms/pkg/redis"
	"github.com/angelmondragon/contentcms/pkg/storage/s3"
)

const shutdownTimeout = 15 * time.Second

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "api"

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

	s3Client, err := s3.New(context.Background(), cfg.S3, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap object storage", err)
		os.Exit(1)
	}

	queue := jobs.NewQueue(dbClient.DB(), cfg.Pipeline.MaxAttempts)
	fileService, err := files.NewService(files.ServiceParams{
		DB:                 dbClient,
		Repository:         files.NewRepository(dbClient.DB()),
		Queue:              queue,
		Storage:            s3Client,
		Outbox:             outbox.NewService(outbox.NewRepository(dbClient.DB()), logg),
		Logger:             logg,
		ImageMimeTypes:     cfg.Pipeline.ImageMimeTypes,
		AllowedMimeTypes:   cfg.Pipeline.AllowedMimeTypes,
		PurgeGrace:         cfg.Pipeline.PurgeGrace,
		DeleteRetries:      cfg.S3.DeleteRetries,
		DeleteRetryBackoff: cfg.S3.DeleteRetryBackoff,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create file service", err)
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

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(cfg, logg, routes.Dependencies{
			DB:          dbClient,
			Redis:       redisClient,
			Storage:     s3Client,
			Idempotency: redisClient,
			FileService: fileService,
			Jobs:        queue,
			BucketCORS:  s3Client,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error(ctx, "api server stopped unexpectedly", err)
			os.Exit(1)
		}
	case <-sigCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logg.Error(ctx, "api server shutdown failed", err)
		}
		logg.Info(ctx, "api server shut down gracefully")
	}
}
