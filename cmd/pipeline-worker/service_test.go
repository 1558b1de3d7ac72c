package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/contentcms/pkg/config"
	"github.com/angelmondragon/contentcms/pkg/logger"
	"github.com/angelmondragon/contentcms/pkg/metrics"
)

type fakePinger struct {
	err   error
	calls int
}

func (f *fakePinger) Ping(context.Context) error {
	f.calls++
	return f.err
}

type fakeWorker struct {
	started chan struct{}
	err     error
}

func (f *fakeWorker) Run(ctx context.Context) error {
	close(f.started)
	if f.err != nil {
		return f.err
	}
	<-ctx.Done()
	return ctx.Err()
}

func newTestService(t *testing.T, db, redis, storage *fakePinger, worker *fakeWorker, reg *prometheus.Registry) *Service {
	t.Helper()
	service, err := NewService(ServiceParams{
		Config:   &config.Config{},
		Logger:   logger.New(logger.Options{ServiceName: "pipeline-worker-test", Output: io.Discard}),
		DB:       db,
		Redis:    redis,
		Storage:  storage,
		Worker:   worker,
		Gatherer: reg,
	})
	if err != nil {
		t.Fatalf("failed to construct service: %v", err)
	}
	return service
}

func TestRunFailsWhenDependencyIsDown(t *testing.T) {
	worker := &fakeWorker{started: make(chan struct{})}
	storage := &fakePinger{err: errors.New("bucket unreachable")}
	service := newTestService(t, &fakePinger{}, &fakePinger{}, storage, worker, prometheus.NewRegistry())

	err := service.Run(context.Background())
	if err == nil || !strings.Contains(err.Error(), "object storage ping failed") {
		t.Fatalf("expected storage readiness error, got %v", err)
	}
	select {
	case <-worker.started:
		t.Fatalf("worker must not start before dependencies are ready")
	default:
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	worker := &fakeWorker{started: make(chan struct{})}
	db := &fakePinger{}
	service := newTestService(t, db, &fakePinger{}, &fakePinger{}, worker, prometheus.NewRegistry())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- service.Run(ctx) }()

	<-worker.started
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("service did not stop")
	}
	if db.calls != 1 {
		t.Fatalf("expected one readiness ping, got %d", db.calls)
	}
}

func TestRunSurfacesWorkerFailure(t *testing.T) {
	worker := &fakeWorker{started: make(chan struct{}), err: errors.New("claim query failed")}
	service := newTestService(t, &fakePinger{}, &fakePinger{}, &fakePinger{}, worker, prometheus.NewRegistry())

	if err := service.Run(context.Background()); err == nil || err.Error() != "claim query failed" {
		t.Fatalf("expected worker error, got %v", err)
	}
}

func TestMetricsHandlerServesRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "cms_pipeline_test_total", Help: "test"})
	reg.MustRegister(counter)
	counter.Inc()

	service := newTestService(t, &fakePinger{}, &fakePinger{}, &fakePinger{}, &fakeWorker{started: make(chan struct{})}, reg)
	rec := httptest.NewRecorder()
	metrics.Handler(service.gatherer).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "cms_pipeline_test_total 1") {
		t.Fatalf("metric missing from output: %s", rec.Body.String())
	}
}
