// Package pipeline turns queued jobs into stored derivatives.
package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"time"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/contentcms/internal/derivatives"
	"github.com/angelmondragon/contentcms/internal/files"
	"github.com/angelmondragon/contentcms/internal/settings"
	"github.com/angelmondragon/contentcms/internal/watermark"
	"github.com/angelmondragon/contentcms/pkg/db/models"
	"github.com/angelmondragon/contentcms/pkg/enums"
	pkgerrors "github.com/angelmondragon/contentcms/pkg/errors"
	"github.com/angelmondragon/contentcms/pkg/logger"
	"github.com/angelmondragon/contentcms/pkg/metrics"
	"github.com/angelmondragon/contentcms/pkg/outbox"
	"github.com/angelmondragon/contentcms/pkg/outbox/payloads"
	"github.com/angelmondragon/contentcms/pkg/redis"
	"github.com/angelmondragon/contentcms/pkg/storage/s3"
)

const (
	stageReceived     = "received"
	stageFetching     = "fetching"
	stageWatermarking = "watermarking"
	stageWriting      = "writing"
	stageReady        = "ready"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// ObjectStore is the storage surface used while processing an original.
type ObjectStore interface {
	derivatives.ObjectStore
	GetObject(ctx context.Context, key string) (*s3.Object, error)
}

// Result summarises one processed original.
type Result struct {
	FileID           uuid.UUID
	Skipped          bool
	Derivatives      []uuid.UUID
	WatermarkedSizes []enums.ImageSize
}

// ProcessorParams wires a Processor.
type ProcessorParams struct {
	DB          txRunner
	Files       *files.Repository
	Storage     ObjectStore
	Settings    settings.Loader
	Locker      redis.Locker
	Outbox      outbox.Emitter
	Metrics     *metrics.PipelineMetrics
	Logger      *logger.Logger
	JPEGQuality int
	LockTTL     time.Duration
}

// Processor runs the derivative pipeline for one original image.
type Processor struct {
	db       txRunner
	files    *files.Repository
	storage  ObjectStore
	settings settings.Loader
	locker   redis.Locker
	outbox   outbox.Emitter
	writer   *derivatives.Writer
	logg     *logger.Logger
	lockTTL  time.Duration
}

func NewProcessor(params ProcessorParams) (*Processor, error) {
	if params.DB == nil {
		return nil, errors.New("db required")
	}
	if params.Files == nil {
		return nil, errors.New("file repository required")
	}
	if params.Storage == nil {
		return nil, errors.New("object storage required")
	}
	if params.Settings == nil {
		return nil, errors.New("settings loader required")
	}
	if params.Locker == nil {
		return nil, errors.New("locker required")
	}
	if params.Outbox == nil {
		return nil, errors.New("outbox emitter required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger required")
	}
	if params.LockTTL <= 0 {
		return nil, errors.New("lock ttl must be positive")
	}
	return &Processor{
		db:       params.DB,
		files:    params.Files,
		storage:  params.Storage,
		settings: params.Settings,
		locker:   params.Locker,
		outbox:   params.Outbox,
		writer:   derivatives.NewWriter(params.Storage, params.Files, params.JPEGQuality, params.Metrics, params.Logger),
		logg:     params.Logger,
		lockTTL:  params.LockTTL,
	}, nil
}

// Process produces every derivative of fileID and marks it ready. Rows that are not
// pipeline originals are skipped without error.
func (p *Processor) Process(ctx context.Context, fileID uuid.UUID) (*Result, error) {
	ctx = p.logg.WithFileID(ctx, fileID.String())
	result := &Result{FileID: fileID}

	file, err := p.files.FindByID(ctx, fileID, false)
	if err != nil {
		return nil, err
	}
	if reason := skipReason(file); reason != "" {
		p.logg.Info(p.logg.WithStage(ctx, stageReceived), "skipping file: "+reason)
		result.Skipped = true
		return result, nil
	}

	release, err := p.lock(ctx, fileID)
	if err != nil {
		return nil, err
	}
	defer release()

	fetchCtx := p.logg.WithStage(ctx, stageFetching)
	source, err := p.storage.GetObject(fetchCtx, file.Key)
	if err != nil {
		if errors.Is(err, s3.ErrObjectNotFound) {
			return nil, pkgerrors.Wrap(pkgerrors.CodeNotFound, err, "source object missing")
		}
		return nil, err
	}
	raster, err := decode(source.Body)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode source image")
	}
	bounds := raster.Bounds()

	cfg, err := p.settings.LoadWatermarkConfig(fetchCtx)
	if err != nil {
		if !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
			return nil, err
		}
		p.logg.Warn(fetchCtx, "watermark settings unusable; skipping watermark: "+err.Error())
		cfg.Active = false
	}
	if cfg.Active {
		for _, warning := range cfg.Warnings {
			p.logg.Warn(fetchCtx, "watermark setting replaced by default: "+warning)
		}
	}
	mark := p.loadWatermark(fetchCtx, cfg)
	plan := derivatives.Plan(enums.DerivativeSizes, cfg, mark != nil)

	var composed image.Image
	if needsWatermark(plan) {
		composed, err = watermark.Compose(raster, mark, cfg.Options())
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "compose watermark")
		}
		p.logg.Debug(p.logg.WithStage(ctx, stageWatermarking), "watermark composed")
	}

	writeCtx := p.logg.WithStage(ctx, stageWriting)
	input := derivatives.WriteInput{
		Original:    file,
		Raster:      raster,
		Watermarked: composed,
		Metadata:    source.Metadata,
	}
	for _, entry := range plan {
		row, err := p.writer.Write(writeCtx, input, entry)
		if err != nil {
			return nil, err
		}
		result.Derivatives = append(result.Derivatives, row.ID)
		if entry.Watermark {
			result.WatermarkedSizes = append(result.WatermarkedSizes, entry.Size)
		}
	}

	readyCtx := p.logg.WithStage(ctx, stageReady)
	err = p.db.WithTx(readyCtx, func(tx *gorm.DB) error {
		if err := p.files.WithTx(tx).MarkReady(readyCtx, file.ID, bounds.Dx(), bounds.Dy()); err != nil {
			return err
		}
		return p.outbox.Emit(readyCtx, tx, outbox.DomainEvent{
			EventType:     enums.EventFileDerivativesReady,
			AggregateType: enums.AggregateFile,
			AggregateID:   file.ID,
			Data: payloads.FileDerivativesReadyEvent{
				FileID:           file.ID,
				Key:              file.Key,
				Width:            bounds.Dx(),
				Height:           bounds.Dy(),
				DerivativeIDs:    result.Derivatives,
				WatermarkedSizes: result.WatermarkedSizes,
			},
		})
	})
	if err != nil {
		return nil, err
	}

	p.logg.Info(readyCtx, fmt.Sprintf("file ready with %d derivatives", len(result.Derivatives)))
	return result, nil
}

func (p *Processor) lock(ctx context.Context, fileID uuid.UUID) (func(), error) {
	key := p.locker.PipelineLockKey(fileID.String())
	token := uuid.NewString()
	ok, err := p.locker.AcquireLock(ctx, key, token, p.lockTTL)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "acquire pipeline lock")
	}
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeBusy, "file is being processed by another worker")
	}
	return func() {
		if err := p.locker.ReleaseLock(context.WithoutCancel(ctx), key, token); err != nil {
			p.logg.Warn(ctx, "release pipeline lock failed: "+err.Error())
		}
	}, nil
}

// loadWatermark returns the decoded watermark raster, or nil when watermarking is off or
// the configured source cannot be used.
func (p *Processor) loadWatermark(ctx context.Context, cfg settings.WatermarkConfig) image.Image {
	if !cfg.Active {
		return nil
	}
	if cfg.ImageID == uuid.Nil {
		p.logg.Warn(ctx, "watermark active without a usable image id; skipping watermark")
		return nil
	}
	markFile, err := p.files.FindByID(ctx, cfg.ImageID, false)
	if err != nil {
		p.logg.Warn(ctx, "watermark file unavailable; skipping watermark: "+err.Error())
		return nil
	}
	obj, err := p.storage.GetObject(ctx, markFile.Key)
	if err != nil {
		p.logg.Warn(ctx, "watermark object unavailable; skipping watermark: "+err.Error())
		return nil
	}
	mark, err := decode(obj.Body)
	if err != nil {
		p.logg.Warn(ctx, "watermark image unreadable; skipping watermark: "+err.Error())
		return nil
	}
	return mark
}

func decode(body []byte) (image.Image, error) {
	return imaging.Decode(bytes.NewReader(body), imaging.AutoOrientation(true))
}

func needsWatermark(plan []derivatives.PlanEntry) bool {
	for _, entry := range plan {
		if entry.Watermark {
			return true
		}
	}
	return false
}

func skipReason(file *models.File) string {
	switch {
	case !file.IsOriginal():
		return "derivative"
	case file.ImageSizeCategory == nil || *file.ImageSizeCategory != enums.ImageSizeOriginal:
		return "not an image"
	case file.Section.IsLogo():
		return "logo section"
	default:
		return ""
	}
}
