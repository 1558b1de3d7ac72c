package derivatives

import (
	"context"
	"errors"
	"fmt"
	"image"

	"github.com/google/uuid"

	"github.com/angelmondragon/contentcms/pkg/db"
	"github.com/angelmondragon/contentcms/pkg/db/models"
	"github.com/angelmondragon/contentcms/pkg/enums"
	pkgerrors "github.com/angelmondragon/contentcms/pkg/errors"
	"github.com/angelmondragon/contentcms/pkg/logger"
	"github.com/angelmondragon/contentcms/pkg/metrics"
	"github.com/angelmondragon/contentcms/pkg/storage/s3"
)

// ObjectStore is the storage surface the writer needs.
type ObjectStore interface {
	HeadObject(ctx context.Context, key string) (*s3.ObjectMeta, error)
	PutObject(ctx context.Context, in s3.PutInput) error
}

// FileRepository is the metadata surface the writer needs.
type FileRepository interface {
	FindByKey(ctx context.Context, key string, includeDeleted bool) (*models.File, error)
	Create(ctx context.Context, file *models.File) error
}

// WriteInput carries the shared state for every derivative of one original.
type WriteInput struct {
	Original *models.File
	// Raster is resized for entries without a watermark, Watermarked for the rest.
	Raster      image.Image
	Watermarked image.Image
	Metadata    map[string]string
}

// Writer idempotently stores one derivative object and its metadata row.
type Writer struct {
	store   ObjectStore
	files   FileRepository
	quality int
	metrics *metrics.PipelineMetrics
	logg    *logger.Logger
}

func NewWriter(store ObjectStore, files FileRepository, quality int, m *metrics.PipelineMetrics, logg *logger.Logger) *Writer {
	return &Writer{store: store, files: files, quality: quality, metrics: m, logg: logg}
}

// Write makes sure the object and row for entry exist, reusing whatever a previous run left.
func (w *Writer) Write(ctx context.Context, in WriteInput, entry PlanEntry) (*models.File, error) {
	if in.Original == nil || in.Raster == nil {
		return nil, fmt.Errorf("original file and raster are required")
	}
	source := in.Raster
	if entry.Watermark {
		if in.Watermarked == nil {
			return nil, fmt.Errorf("watermarked raster missing for %s", entry.Label)
		}
		source = in.Watermarked
	}
	original := in.Original
	key := DerivedKey(original.Key, entry.Label, entry.Watermark)

	stored, err := w.store.HeadObject(ctx, key)
	if err != nil && !errors.Is(err, s3.ErrObjectNotFound) {
		return nil, err
	}
	objectExists := err == nil

	existing, err := w.files.FindByKey(ctx, key, true)
	if err != nil && !pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
		return nil, err
	}
	if existing != nil {
		if !ownedBy(existing, original.ID) {
			return nil, keyConflict(key)
		}
		if objectExists {
			return existing, nil
		}
	}

	srcBounds := source.Bounds()
	width := entry.Width
	height := ScaledHeight(srcBounds.Dx(), srcBounds.Dy(), width)
	var size int64
	if objectExists {
		size = stored.Size
	} else {
		resized := Resize(source, width)
		width, height = resized.Bounds().Dx(), resized.Bounds().Dy()
		body, err := EncodeJPEG(resized, w.quality)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode derivative")
		}
		if err := w.store.PutObject(ctx, s3.PutInput{
			Key:         key,
			Body:        body,
			ContentType: JPEGContentType,
			Policy:      original.Policy,
			Metadata:    in.Metadata,
		}); err != nil {
			return nil, err
		}
		size = int64(len(body))
	}
	if existing != nil {
		return existing, nil
	}

	row := &models.File{
		ID:                uuid.New(),
		Key:               key,
		Policy:            original.Policy,
		FileName:          DerivedFileName(original.FileName, entry.Label, entry.Watermark),
		MimeType:          JPEGContentType,
		SizeBytes:         size,
		Status:            enums.FileStatusReady,
		Section:           original.Section,
		ImageSizeCategory: sizePtr(entry.Size),
		Watermarked:       entry.Watermark,
		OriginalImageID:   &original.ID,
		Width:             &width,
		Height:            &height,
	}
	if err := w.files.Create(ctx, row); err != nil {
		if !db.IsUniqueViolation(err, "") {
			return nil, err
		}
		winner, findErr := w.files.FindByKey(ctx, key, true)
		if findErr != nil {
			return nil, findErr
		}
		if !ownedBy(winner, original.ID) {
			return nil, keyConflict(key)
		}
		return winner, nil
	}

	w.metrics.IncDerivative(entry.Label, entry.Watermark)
	if w.logg != nil {
		w.logg.Debug(w.logg.WithField(ctx, "key", key), "derivative written")
	}
	return row, nil
}

func ownedBy(file *models.File, originalID uuid.UUID) bool {
	return file != nil && file.OriginalImageID != nil && *file.OriginalImageID == originalID
}

func keyConflict(key string) error {
	return pkgerrors.New(pkgerrors.CodeConflict, "derived key belongs to another file").
		WithDetails(map[string]any{"key": key})
}

func sizePtr(size enums.ImageSize) *enums.ImageSize {
	return &size
}
