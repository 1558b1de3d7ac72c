package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/contentcms/internal/files"
	"github.com/angelmondragon/contentcms/pkg/enums"
	pkgerrors "github.com/angelmondragon/contentcms/pkg/errors"
	"github.com/angelmondragon/contentcms/pkg/logger"
	"github.com/angelmondragon/contentcms/pkg/outbox"
	"github.com/angelmondragon/contentcms/pkg/outbox/payloads"
)

const (
	stalledFileAfter  = 30 * time.Minute
	stalledFileBatch  = 100
	stalledFileReason = "processing stalled with no active pipeline job"
)

type StalledFileJobParams struct {
	Logger     *logger.Logger
	DB         txRunner
	Files      *files.Repository
	Outbox     outbox.Emitter
	StaleAfter time.Duration
	BatchSize  int
}

// NewStalledFileJob fails originals left in_progress with nothing queued to finish them,
// emitting file_processing_failed for each so clients stop waiting.
func NewStalledFileJob(params StalledFileJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.DB == nil {
		return nil, fmt.Errorf("db runner required")
	}
	if params.Files == nil {
		return nil, fmt.Errorf("file repository required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox emitter required")
	}
	staleAfter := params.StaleAfter
	if staleAfter <= 0 {
		staleAfter = stalledFileAfter
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = stalledFileBatch
	}
	return &stalledFileJob{
		logg:       params.Logger,
		db:         params.DB,
		files:      params.Files,
		outbox:     params.Outbox,
		staleAfter: staleAfter,
		batch:      batch,
		now:        time.Now,
	}, nil
}

type stalledFileJob struct {
	logg       *logger.Logger
	db         txRunner
	files      *files.Repository
	outbox     outbox.Emitter
	staleAfter time.Duration
	batch      int
	now        func() time.Time
}

func (j *stalledFileJob) Name() string { return "stalled-file-sweep" }

func (j *stalledFileJob) Run(ctx context.Context) (int64, error) {
	now := j.now().UTC()
	cutoff := now.Add(-j.staleAfter)
	rows, err := j.files.ListStalledOriginals(ctx, cutoff, j.batch)
	if err != nil {
		return 0, fmt.Errorf("stalled file sweep: %w", err)
	}

	var failed int64
	for _, file := range rows {
		if err := j.fail(ctx, file.ID, now); err != nil {
			if pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
				continue
			}
			return failed, fmt.Errorf("stalled file sweep: %w", err)
		}
		failed++
	}

	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"cutoff":       cutoff,
		"candidates":   len(rows),
		"files_failed": failed,
	}), "stalled file sweep complete")
	return failed, nil
}

func (j *stalledFileJob) fail(ctx context.Context, fileID uuid.UUID, at time.Time) error {
	return j.db.WithTx(ctx, func(tx *gorm.DB) error {
		if err := j.files.WithTx(tx).MarkStatus(ctx, fileID, enums.FileStatusFailed); err != nil {
			return err
		}
		return j.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventFileProcessingFailed,
			AggregateType: enums.AggregateFile,
			AggregateID:   fileID,
			Data: payloads.FileProcessingFailedEvent{
				FileID:   fileID,
				Reason:   stalledFileReason,
				FailedAt: at,
			},
		})
	})
}
