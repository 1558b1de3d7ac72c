package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/angelmondragon/contentcms/internal/files"
	"github.com/angelmondragon/contentcms/internal/jobs"
	"github.com/angelmondragon/contentcms/pkg/config"
	"github.com/angelmondragon/contentcms/pkg/db/models"
	"github.com/angelmondragon/contentcms/pkg/enums"
	pkgerrors "github.com/angelmondragon/contentcms/pkg/errors"
	"github.com/angelmondragon/contentcms/pkg/logger"
	"github.com/angelmondragon/contentcms/pkg/metrics"
	"github.com/angelmondragon/contentcms/pkg/outbox"
	"github.com/angelmondragon/contentcms/pkg/outbox/payloads"
)

type jobQueue interface {
	Claim(ctx context.Context, workerID string, lease time.Duration) (*models.PipelineJob, error)
	Complete(ctx context.Context, id uuid.UUID) error
	Retry(ctx context.Context, id uuid.UUID, cause error, runAfter time.Time) error
	Release(ctx context.Context, id uuid.UUID) error
	Bury(ctx context.Context, tx *gorm.DB, id uuid.UUID, cause error) error
}

type fileProcessor interface {
	Process(ctx context.Context, fileID uuid.UUID) (*Result, error)
}

// WorkerParams wires a Worker.
type WorkerParams struct {
	DB                 txRunner
	Queue              jobQueue
	Processor          fileProcessor
	Files              *files.Repository
	Storage            files.ObjectDeleter
	Outbox             outbox.Emitter
	Metrics            *metrics.PipelineMetrics
	Logger             *logger.Logger
	Config             config.PipelineConfig
	WorkerID           string
	DeleteRetries      int
	DeleteRetryBackoff time.Duration
}

// Worker claims pipeline jobs with a fixed number of concurrent loops.
type Worker struct {
	db            txRunner
	queue         jobQueue
	processor     fileProcessor
	files         *files.Repository
	storage       files.ObjectDeleter
	outbox        outbox.Emitter
	metrics       *metrics.PipelineMetrics
	logg          *logger.Logger
	cfg           config.PipelineConfig
	workerID      string
	deleteRetries int
	deleteBackoff time.Duration
	now           func() time.Time
	jitter        func(n int64) int64
}

func NewWorker(params WorkerParams) (*Worker, error) {
	if params.DB == nil {
		return nil, errors.New("db required")
	}
	if params.Queue == nil {
		return nil, errors.New("job queue required")
	}
	if params.Processor == nil {
		return nil, errors.New("processor required")
	}
	if params.Files == nil {
		return nil, errors.New("file repository required")
	}
	if params.Storage == nil {
		return nil, errors.New("object storage required")
	}
	if params.Outbox == nil {
		return nil, errors.New("outbox emitter required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger required")
	}
	if params.WorkerID == "" {
		return nil, errors.New("worker id required")
	}
	if params.Config.WorkerConcurrency <= 0 {
		return nil, errors.New("worker concurrency must be positive")
	}
	return &Worker{
		db:            params.DB,
		queue:         params.Queue,
		processor:     params.Processor,
		files:         params.Files,
		storage:       params.Storage,
		outbox:        params.Outbox,
		metrics:       params.Metrics,
		logg:          params.Logger,
		cfg:           params.Config,
		workerID:      params.WorkerID,
		deleteRetries: params.DeleteRetries,
		deleteBackoff: params.DeleteRetryBackoff,
		now:           func() time.Time { return time.Now().UTC() },
		jitter:        rand.Int64N,
	}, nil
}

// Run starts the claim loops and blocks until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for slot := 0; slot < w.cfg.WorkerConcurrency; slot++ {
		workerID := fmt.Sprintf("%s-%d", w.workerID, slot)
		g.Go(func() error {
			return w.loop(gctx, workerID)
		})
	}
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return ctx.Err()
}

func (w *Worker) loop(ctx context.Context, workerID string) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		handled, err := w.RunOnce(ctx, workerID)
		if err != nil && ctx.Err() == nil {
			w.logg.Error(ctx, "pipeline worker iteration failed", err)
		}
		if handled {
			continue
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(w.cfg.PollInterval):
		}
	}
}

// RunOnce claims and settles at most one job. It reports whether a job was claimed.
func (w *Worker) RunOnce(ctx context.Context, workerID string) (bool, error) {
	job, err := w.queue.Claim(ctx, workerID, w.cfg.JobLease)
	if err != nil {
		return false, err
	}
	if job == nil {
		return false, nil
	}

	jobCtx := w.logg.WithFields(ctx, map[string]any{
		"job_id":   job.ID.String(),
		"job_name": string(job.Name),
		"attempt":  job.AttemptCount,
	})

	if job.AttemptCount > job.MaxAttempts {
		return true, w.bury(jobCtx, job, fmt.Errorf("attempts exhausted after %d tries", job.MaxAttempts))
	}

	started := time.Now()
	err = w.dispatch(jobCtx, job)
	w.metrics.ObserveDuration(string(job.Name), time.Since(started))

	if err == nil {
		w.metrics.IncSuccess(string(job.Name))
		return true, w.queue.Complete(jobCtx, job.ID)
	}
	if ctx.Err() != nil {
		w.logg.Warn(jobCtx, "shutdown during job; releasing lease")
		return true, w.queue.Release(context.WithoutCancel(jobCtx), job.ID)
	}
	if pkgerrors.IsRetryable(err) && job.AttemptCount < job.MaxAttempts {
		delay := w.backoff(job.AttemptCount)
		w.metrics.IncRetry(string(job.Name))
		w.logg.Warn(jobCtx, fmt.Sprintf("job failed, retrying in %s: %v", delay, err))
		return true, w.queue.Retry(jobCtx, job.ID, err, w.now().Add(delay))
	}
	return true, w.bury(jobCtx, job, err)
}

func (w *Worker) dispatch(ctx context.Context, job *models.PipelineJob) error {
	switch job.Name {
	case enums.JobGenerateDerivatives:
		var payload jobs.GenerateDerivativesPayload
		if err := jobs.DecodePayload(job.Payload, &payload); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid generate_derivatives payload")
		}
		_, err := w.processor.Process(ctx, payload.ImageID)
		return err
	case enums.JobPurgeObjects:
		var payload jobs.PurgeObjectsPayload
		if err := jobs.DecodePayload(job.Payload, &payload); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid purge_objects payload")
		}
		// The tree rows are gone by now, so any row still holding a key belongs to another file.
		keys, err := files.UnclaimedKeys(ctx, w.files, payload.Keys, nil)
		if err != nil {
			return err
		}
		pending, err := files.PurgeKeys(ctx, w.storage, keys, w.deleteRetries, w.deleteBackoff)
		if len(pending) > 0 {
			w.metrics.AddPurgeFailures(len(pending))
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, fmt.Sprintf("%d objects not deleted", len(pending)))
		}
		return nil
	default:
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unknown job %q", job.Name))
	}
}

// bury kills the job. A derivative job also fails its file and emits
// file_processing_failed, unless the file no longer exists.
func (w *Worker) bury(ctx context.Context, job *models.PipelineJob, cause error) error {
	w.metrics.IncDead(string(job.Name))
	w.logg.Error(ctx, "job moved to dead", cause)

	notify := job.Name == enums.JobGenerateDerivatives &&
		job.FileID != nil &&
		!pkgerrors.IsCode(cause, pkgerrors.CodeNotFound)

	return w.db.WithTx(ctx, func(tx *gorm.DB) error {
		if err := w.queue.Bury(ctx, tx, job.ID, cause); err != nil {
			return err
		}
		if !notify {
			return nil
		}
		if err := w.files.WithTx(tx).MarkStatus(ctx, *job.FileID, enums.FileStatusFailed); err != nil {
			if pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
				return nil
			}
			return err
		}
		return w.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventFileProcessingFailed,
			AggregateType: enums.AggregateFile,
			AggregateID:   *job.FileID,
			Data: payloads.FileProcessingFailedEvent{
				FileID:   *job.FileID,
				JobID:    job.ID,
				Attempts: job.AttemptCount,
				Reason:   cause.Error(),
				FailedAt: w.now(),
			},
		})
	})
}

// backoff is RetryBase doubled per attempt, capped at RetryMax, with the upper half jittered.
func (w *Worker) backoff(attempt int) time.Duration {
	base := w.cfg.RetryBase
	if base <= 0 {
		base = time.Second
	}
	delay := base
	for i := 1; i < attempt && delay < w.cfg.RetryMax; i++ {
		delay *= 2
	}
	if w.cfg.RetryMax > 0 && delay > w.cfg.RetryMax {
		delay = w.cfg.RetryMax
	}
	half := int64(delay / 2)
	if half <= 0 {
		return delay
	}
	return time.Duration(half + w.jitter(half+1))
}
