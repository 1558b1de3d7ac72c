package files

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/contentcms/internal/repo"
	"github.com/angelmondragon/contentcms/pkg/db/models"
	"github.com/angelmondragon/contentcms/pkg/enums"
	pkgerrors "github.com/angelmondragon/contentcms/pkg/errors"
)

// Repository persists File rows and their derivative trees.
type Repository struct {
	repo.Base
}

// NewRepository binds a GORM DB to file operations.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{Base: repo.NewBase(db)}
}

// WithTx returns a repository whose calls run inside tx.
func (r *Repository) WithTx(tx *gorm.DB) *Repository {
	return &Repository{Base: r.Base.With(tx)}
}

func (r *Repository) scoped(ctx context.Context, includeDeleted bool) *gorm.DB {
	conn := r.DB(ctx)
	if includeDeleted {
		return conn.Unscoped()
	}
	return conn
}

// Create inserts a file row.
func (r *Repository) Create(ctx context.Context, file *models.File) error {
	if file == nil {
		return errors.New("file is required")
	}
	if file.ID == uuid.Nil {
		file.ID = uuid.New()
	}
	if err := r.DB(ctx).Create(file).Error; err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create file")
	}
	return nil
}

// FindByID loads one file. Soft-deleted rows are only returned when includeDeleted is set.
func (r *Repository) FindByID(ctx context.Context, id uuid.UUID, includeDeleted bool) (*models.File, error) {
	var file models.File
	if err := r.scoped(ctx, includeDeleted).Where("id = ?", id).Take(&file).Error; err != nil {
		return nil, lookupError(err)
	}
	return &file, nil
}

// FindByKey loads the file stored under key.
func (r *Repository) FindByKey(ctx context.Context, key string, includeDeleted bool) (*models.File, error) {
	var file models.File
	if err := r.scoped(ctx, includeDeleted).Where("key = ?", key).Take(&file).Error; err != nil {
		return nil, lookupError(err)
	}
	return &file, nil
}

// FindWithChildren loads a live file together with its live derivatives.
func (r *Repository) FindWithChildren(ctx context.Context, id uuid.UUID) (*models.File, error) {
	var file models.File
	err := r.DB(ctx).
		Preload("GeneratedImageChildren", func(db *gorm.DB) *gorm.DB {
			return db.Order("width ASC").Order("watermarked ASC")
		}).
		Where("id = ?", id).
		Take(&file).Error
	if err != nil {
		return nil, lookupError(err)
	}
	return &file, nil
}

// FindTree returns the root and every file derived from it, root first.
func (r *Repository) FindTree(ctx context.Context, rootID uuid.UUID, includeDeleted bool) ([]models.File, error) {
	var rows []models.File
	err := r.scoped(ctx, includeDeleted).
		Where("id = ? OR original_image_id = ?", rootID, rootID).
		Find(&rows).Error
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load file tree")
	}
	for i := range rows {
		if rows[i].ID == rootID && i != 0 {
			rows[0], rows[i] = rows[i], rows[0]
			break
		}
	}
	return rows, nil
}

// UpdateTree applies updates to the root and every derivative, trashed or not.
func (r *Repository) UpdateTree(ctx context.Context, rootID uuid.UUID, updates map[string]any) (int64, error) {
	res := r.DB(ctx).Unscoped().Model(&models.File{}).
		Where("id = ? OR original_image_id = ?", rootID, rootID).
		Updates(updates)
	if res.Error != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "update file tree")
	}
	return res.RowsAffected, nil
}

// Update applies updates to a single row.
func (r *Repository) Update(ctx context.Context, id uuid.UUID, updates map[string]any) error {
	res := r.DB(ctx).Unscoped().Model(&models.File{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "update file")
	}
	if res.RowsAffected == 0 {
		return pkgerrors.New(pkgerrors.CodeNotFound, "file not found")
	}
	return nil
}

// MarkReady records the decoded dimensions and flips the original to ready.
func (r *Repository) MarkReady(ctx context.Context, id uuid.UUID, width, height int) error {
	return r.Update(ctx, id, map[string]any{
		"status": enums.FileStatusReady,
		"width":  width,
		"height": height,
	})
}

// MarkStatus sets status on a single row.
func (r *Repository) MarkStatus(ctx context.Context, id uuid.UUID, status enums.FileStatus) error {
	return r.Update(ctx, id, map[string]any{"status": status})
}

// ListStalledOriginals returns live originals still in_progress since before cutoff with no
// queued or running job left to finish them.
func (r *Repository) ListStalledOriginals(ctx context.Context, cutoff time.Time, limit int) ([]models.File, error) {
	var rows []models.File
	query := r.DB(ctx).
		Where("status = ? AND original_image_id IS NULL AND updated_at < ?", enums.FileStatusInProgress, cutoff).
		Where("NOT EXISTS (SELECT 1 FROM pipeline_jobs j WHERE j.file_id = files.id AND j.status IN ?)",
			[]string{string(enums.JobStatusQueued), string(enums.JobStatusRunning)}).
		Order("updated_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&rows).Error; err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list stalled files")
	}
	return rows, nil
}

// SoftDeleteTree trashes the root and its derivatives.
func (r *Repository) SoftDeleteTree(ctx context.Context, rootID uuid.UUID) (int64, error) {
	res := r.DB(ctx).
		Where("id = ? OR original_image_id = ?", rootID, rootID).
		Delete(&models.File{})
	if res.Error != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "soft delete file tree")
	}
	return res.RowsAffected, nil
}

// RestoreTree clears deleted_at on the root and its derivatives.
func (r *Repository) RestoreTree(ctx context.Context, rootID uuid.UUID) (int64, error) {
	return r.UpdateTree(ctx, rootID, map[string]any{"deleted_at": nil})
}

// DeleteTree removes the rows for good, derivatives first.
func (r *Repository) DeleteTree(ctx context.Context, rootID uuid.UUID) (int64, error) {
	children := r.DB(ctx).Unscoped().Where("original_image_id = ?", rootID).Delete(&models.File{})
	if children.Error != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, children.Error, "delete derivatives")
	}
	root := r.DB(ctx).Unscoped().Where("id = ?", rootID).Delete(&models.File{})
	if root.Error != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, root.Error, "delete file")
	}
	return children.RowsAffected + root.RowsAffected, nil
}

func lookupError(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.New(pkgerrors.CodeNotFound, "file not found")
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load file")
}
