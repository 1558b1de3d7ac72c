package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/angelmondragon/contentcms/pkg/config"
	"github.com/angelmondragon/contentcms/pkg/logger"
	"github.com/angelmondragon/contentcms/pkg/metrics"
)

type pinger interface {
	Ping(context.Context) error
}

type workerRunner interface {
	Run(ctx context.Context) error
}

type ServiceParams struct {
	Config   *config.Config
	Logger   *logger.Logger
	DB       pinger
	Redis    pinger
	Storage  pinger
	Worker   workerRunner
	Gatherer prometheus.Gatherer
}

type Service struct {
	cfg      *config.Config
	logg     *logger.Logger
	db       pinger
	redis    pinger
	storage  pinger
	worker   workerRunner
	gatherer prometheus.Gatherer
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Config == nil {
		return nil, errors.New("config is required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if params.DB == nil {
		return nil, errors.New("database client is required")
	}
	if params.Redis == nil {
		return nil, errors.New("redis client is required")
	}
	if params.Storage == nil {
		return nil, errors.New("object storage client is required")
	}
	if params.Worker == nil {
		return nil, errors.New("pipeline worker is required")
	}
	gatherer := params.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	return &Service{
		cfg:      params.Config,
		logg:     params.Logger,
		db:       params.DB,
		redis:    params.Redis,
		storage:  params.Storage,
		worker:   params.Worker,
		gatherer: gatherer,
	}, nil
}

func (s *Service) ensureReadiness(ctx context.Context) error {
	if err := pingDependency(ctx, s.logg, "database", s.db.Ping); err != nil {
		return err
	}
	if err := pingDependency(ctx, s.logg, "redis", s.redis.Ping); err != nil {
		return err
	}
	if err := pingDependency(ctx, s.logg, "object storage", s.storage.Ping); err != nil {
		return err
	}
	s.logg.Info(ctx, "all pipeline worker dependencies are ready")
	return nil
}

func pingDependency(ctx context.Context, logg *logger.Logger, name string, fn func(context.Context) error) error {
	if err := fn(ctx); err != nil {
		logg.Error(ctx, fmt.Sprintf("%s ping failed", name), err)
		return fmt.Errorf("%s ping failed: %w", name, err)
	}
	return nil
}

// Run serves metrics and runs the worker until ctx is cancelled.
func (s *Service) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	if err := s.ensureReadiness(ctx); err != nil {
		return err
	}

	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	g, gctx := errgroup.WithContext(runCtx)

	if addr := s.cfg.Pipeline.MetricsAddr; addr != "" {
		g.Go(func() error {
			s.logg.Info(s.logg.WithField(gctx, "addr", addr), "serving pipeline metrics")
			return metrics.Serve(gctx, addr, s.gatherer)
		})
	}

	g.Go(func() error {
		// the metrics listener has nothing to report once the worker is gone
		defer stop()
		return s.worker.Run(gctx)
	})

	err := g.Wait()
	if ctx.Err() != nil {
		s.logg.Info(ctx, "pipeline worker context canceled")
		return ctx.Err()
	}
	return err
}
