// Package files registers stored objects and cascades lifecycle changes across an original
// image and its derivatives.
package files

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/angelmondragon/contentcms/internal/derivatives"
	"github.com/angelmondragon/contentcms/internal/jobs"
	"github.com/angelmondragon/contentcms/pkg/db"
	"github.com/angelmondragon/contentcms/pkg/db/models"
	"github.com/angelmondragon/contentcms/pkg/enums"
	pkgerrors "github.com/angelmondragon/contentcms/pkg/errors"
	"github.com/angelmondragon/contentcms/pkg/logger"
	"github.com/angelmondragon/contentcms/pkg/outbox"
	"github.com/angelmondragon/contentcms/pkg/outbox/payloads"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type jobQueue interface {
	Enqueue(ctx context.Context, tx *gorm.DB, params jobs.EnqueueParams) (uuid.UUID, error)
	Remove(ctx context.Context, id uuid.UUID) error
	RemoveForFiles(ctx context.Context, tx *gorm.DB, fileIDs []uuid.UUID) (int64, error)
}

type objectStore interface {
	ObjectDeleter
	PutObjectACL(ctx context.Context, key string, policy enums.FilePolicy) error
}

// Service is the file lifecycle surface used by the HTTP layer.
type Service interface {
	Create(ctx context.Context, input CreateInput) (*CreateResult, error)
	Get(ctx context.Context, id uuid.UUID) (*models.File, error)
	Update(ctx context.Context, id uuid.UUID, input UpdateInput) (*models.File, error)
	SoftDelete(ctx context.Context, id uuid.UUID) error
	Recover(ctx context.Context, id uuid.UUID) (*RecoverResult, error)
	PermanentDelete(ctx context.Context, id uuid.UUID) (*PurgeResult, error)
}

// ServiceParams wires the file service.
type ServiceParams struct {
	DB                 txRunner
	Repository         *Repository
	Queue              jobQueue
	Storage            objectStore
	Outbox             outbox.Emitter
	Logger             *logger.Logger
	ImageMimeTypes     []string
	AllowedMimeTypes   []string
	PurgeGrace         time.Duration
	DeleteRetries      int
	DeleteRetryBackoff time.Duration
}

type service struct {
	db            txRunner
	repo          *Repository
	queue         jobQueue
	storage       objectStore
	outbox        outbox.Emitter
	logg          *logger.Logger
	imageTypes    mimePatterns
	allowedTypes  mimePatterns
	purgeGrace    time.Duration
	deleteRetries int
	deleteBackoff time.Duration
	now           func() time.Time
}

// NewService validates params and builds the file service.
func NewService(params ServiceParams) (Service, error) {
	if params.DB == nil {
		return nil, fmt.Errorf("db required")
	}
	if params.Repository == nil {
		return nil, fmt.Errorf("file repository required")
	}
	if params.Queue == nil {
		return nil, fmt.Errorf("job queue required")
	}
	if params.Storage == nil {
		return nil, fmt.Errorf("object storage required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox emitter required")
	}
	imageTypes, err := compileMimePatterns(params.ImageMimeTypes)
	if err != nil {
		return nil, fmt.Errorf("image mime types: %w", err)
	}
	allowedTypes, err := compileMimePatterns(params.AllowedMimeTypes)
	if err != nil {
		return nil, fmt.Errorf("allowed mime types: %w", err)
	}
	return &service{
		db:            params.DB,
		repo:          params.Repository,
		queue:         params.Queue,
		storage:       params.Storage,
		outbox:        params.Outbox,
		logg:          params.Logger,
		imageTypes:    imageTypes,
		allowedTypes:  allowedTypes,
		purgeGrace:    params.PurgeGrace,
		deleteRetries: params.DeleteRetries,
		deleteBackoff: params.DeleteRetryBackoff,
		now:           func() time.Time { return time.Now().UTC() },
	}, nil
}

func (s *service) Create(ctx context.Context, input CreateInput) (*CreateResult, error) {
	key := strings.TrimSpace(input.Key)
	if key == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "key is required")
	}
	fileName, err := validateFileName(input.FileName)
	if err != nil {
		return nil, err
	}
	if input.SizeBytes <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "size_bytes must be positive")
	}
	mimeType, err := sniffMimeType(input.MimeType)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "mime_type is invalid")
	}
	if !s.allowedTypes.matches(mimeType) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "mime_type not allowed").
			WithDetails(map[string]any{"mime_type": mimeType})
	}
	if !input.Section.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid section")
	}
	if !input.Policy.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid policy")
	}

	if _, err := s.repo.FindByKey(ctx, key, true); err == nil {
		return nil, duplicateKey(key)
	} else if !pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
		return nil, err
	}

	isImage := s.imageTypes.matches(mimeType)
	eligible := isImage && !input.Section.IsLogo()

	file := &models.File{
		ID:        uuid.New(),
		Key:       key,
		Policy:    input.Policy,
		FileName:  fileName,
		MimeType:  mimeType,
		SizeBytes: input.SizeBytes,
		Status:    enums.FileStatusReady,
		Section:   input.Section,
	}
	if isImage {
		original := enums.ImageSizeOriginal
		file.ImageSizeCategory = &original
	}
	if eligible {
		file.Status = enums.FileStatusInProgress
	}

	var jobID *uuid.UUID
	err = s.db.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.repo.WithTx(tx).Create(ctx, file); err != nil {
			if db.IsUniqueViolation(err, "") {
				return duplicateKey(key)
			}
			return err
		}
		if !eligible {
			return nil
		}
		id, err := s.enqueueGenerate(ctx, tx, file.ID)
		if err != nil {
			return err
		}
		jobID = &id
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.logg != nil {
		logCtx := s.logg.WithFields(ctx, map[string]any{"file_id": file.ID.String(), "eligible": eligible})
		s.logg.Info(logCtx, "file registered")
	}
	return &CreateResult{File: file, JobID: jobID}, nil
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (*models.File, error) {
	return s.repo.FindWithChildren(ctx, id)
}

func (s *service) Update(ctx context.Context, id uuid.UUID, input UpdateInput) (*models.File, error) {
	if input.Policy != nil && !input.Policy.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid policy")
	}
	if input.Section != nil && !input.Section.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid section")
	}
	var fileName string
	if input.FileName != nil {
		name, err := validateFileName(*input.FileName)
		if err != nil {
			return nil, err
		}
		fileName = name
	}

	file, err := s.repo.FindByID(ctx, id, false)
	if err != nil {
		return nil, err
	}
	rootID := file.RootID()

	err = s.db.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if input.FileName != nil {
			if err := repo.Update(ctx, id, map[string]any{"file_name": fileName}); err != nil {
				return err
			}
		}
		if input.Section != nil {
			if _, err := repo.UpdateTree(ctx, rootID, map[string]any{"section": *input.Section}); err != nil {
				return err
			}
		}
		if input.Policy != nil {
			return s.applyPolicy(ctx, repo, rootID, *input.Policy)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.repo.FindByID(ctx, id, false)
}

// applyPolicy rewrites the tree rows and then the object ACLs. A failed ACL call undoes the
// ACLs already changed and fails the surrounding transaction.
func (s *service) applyPolicy(ctx context.Context, repo *Repository, rootID uuid.UUID, policy enums.FilePolicy) error {
	tree, err := repo.FindTree(ctx, rootID, true)
	if err != nil {
		return err
	}
	if _, err := repo.UpdateTree(ctx, rootID, map[string]any{"policy": policy}); err != nil {
		return err
	}
	var applied []models.File
	for _, member := range tree {
		if member.Policy == policy {
			continue
		}
		if err := s.storage.PutObjectACL(ctx, member.Key, policy); err != nil {
			var revertErrs error
			for _, done := range applied {
				revertErrs = multierr.Append(revertErrs, s.storage.PutObjectACL(ctx, done.Key, done.Policy))
			}
			if revertErrs != nil && s.logg != nil {
				s.logg.Error(s.logg.WithFileID(ctx, rootID.String()), "revert object acl failed", revertErrs)
			}
			return err
		}
		applied = append(applied, member)
	}
	return nil
}

func (s *service) SoftDelete(ctx context.Context, id uuid.UUID) error {
	file, err := s.repo.FindByID(ctx, id, false)
	if err != nil {
		return err
	}
	rootID := file.RootID()

	return s.db.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		tree, err := repo.FindTree(ctx, rootID, false)
		if err != nil {
			return err
		}
		if _, err := repo.SoftDeleteTree(ctx, rootID); err != nil {
			return err
		}
		_, err = s.queue.RemoveForFiles(ctx, tx, fileIDs(tree))
		return err
	})
}

func (s *service) Recover(ctx context.Context, id uuid.UUID) (*RecoverResult, error) {
	file, err := s.repo.FindByID(ctx, id, true)
	if err != nil {
		return nil, err
	}
	if !file.DeletedAt.Valid {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "file is not in the trash")
	}
	rootID := file.RootID()
	root, err := s.repo.FindByID(ctx, rootID, true)
	if err != nil {
		return nil, err
	}
	resume := root.Status == enums.FileStatusInProgress || root.Status == enums.FileStatusFailed

	var jobID *uuid.UUID
	err = s.db.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if _, err := repo.RestoreTree(ctx, rootID); err != nil {
			return err
		}
		if !resume {
			return nil
		}
		if err := repo.MarkStatus(ctx, rootID, enums.FileStatusInProgress); err != nil {
			return err
		}
		id, err := s.enqueueGenerate(ctx, tx, rootID)
		if err != nil {
			return err
		}
		jobID = &id
		return nil
	})
	if err != nil {
		return nil, err
	}

	restored, err := s.repo.FindByID(ctx, id, false)
	if err != nil {
		return nil, err
	}
	return &RecoverResult{File: restored, JobID: jobID}, nil
}

func (s *service) PermanentDelete(ctx context.Context, id uuid.UUID) (*PurgeResult, error) {
	file, err := s.repo.FindByID(ctx, id, true)
	if err != nil {
		return nil, err
	}
	rootID := file.RootID()
	tree, err := s.repo.FindTree(ctx, rootID, true)
	if err != nil {
		return nil, err
	}
	if len(tree) == 0 || tree[0].ID != rootID {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "original file not found")
	}
	root := tree[0]
	ids := fileIDs(tree)
	keys, err := UnclaimedKeys(ctx, s.repo, purgeKeys(root, tree), ids)
	if err != nil {
		return nil, err
	}

	var purgeJobID uuid.UUID
	err = s.db.WithTx(ctx, func(tx *gorm.DB) error {
		if _, err := s.repo.WithTx(tx).DeleteTree(ctx, rootID); err != nil {
			return err
		}
		if _, err := s.queue.RemoveForFiles(ctx, tx, ids); err != nil {
			return err
		}
		jobID, err := s.queue.Enqueue(ctx, tx, jobs.EnqueueParams{
			Name:     enums.JobPurgeObjects,
			FileID:   &rootID,
			Payload:  jobs.PurgeObjectsPayload{FileID: rootID, Keys: keys},
			RunAfter: s.now().Add(s.purgeGrace),
		})
		if err != nil {
			return err
		}
		purgeJobID = jobID
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventFilePurged,
			AggregateType: enums.AggregateFile,
			AggregateID:   rootID,
			Data: payloads.FilePurgedEvent{
				FileID:     rootID,
				FileIDs:    ids,
				Keys:       keys,
				PurgeJobID: purgeJobID,
			},
		})
	})
	if err != nil {
		return nil, err
	}

	result := &PurgeResult{FileIDs: ids, Keys: keys}
	logCtx := ctx
	if s.logg != nil {
		logCtx = s.logg.WithFileID(ctx, rootID.String())
	}

	pending, purgeErr := PurgeKeys(ctx, s.storage, keys, s.deleteRetries, s.deleteBackoff)
	if len(pending) > 0 {
		result.PendingKeys = pending
		result.PurgeJobID = &purgeJobID
		if s.logg != nil {
			s.logg.Error(logCtx, "objects left for purge job", purgeErr)
		}
		return result, nil
	}
	if err := s.queue.Remove(ctx, purgeJobID); err != nil {
		// The job may already be leased; it will find nothing left to delete.
		result.PurgeJobID = &purgeJobID
		if s.logg != nil {
			s.logg.Warn(logCtx, "purge job not removed: "+err.Error())
		}
	}
	return result, nil
}

func (s *service) enqueueGenerate(ctx context.Context, tx *gorm.DB, fileID uuid.UUID) (uuid.UUID, error) {
	return s.queue.Enqueue(ctx, tx, jobs.EnqueueParams{
		Name:    enums.JobGenerateDerivatives,
		FileID:  &fileID,
		Payload: jobs.GenerateDerivativesPayload{ImageID: fileID},
	})
}

func validateFileName(value string) (string, error) {
	name := strings.TrimSpace(value)
	if name == "" {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "file_name is required")
	}
	if strings.ContainsAny(name, `/\`) {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "file_name must not contain path separators")
	}
	if strings.TrimSpace(strings.TrimSuffix(name, path.Ext(name))) == "" {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "file_name must have a base name")
	}
	return name, nil
}

func duplicateKey(key string) error {
	return pkgerrors.New(pkgerrors.CodeConflict, "a file with this key already exists").
		WithDetails(map[string]any{"key": key})
}

func fileIDs(tree []models.File) []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(tree))
	for _, member := range tree {
		ids = append(ids, member.ID)
	}
	return ids
}

// purgeKeys lists the stored keys of the tree plus every key a derivative run could have
// written for the root.
func purgeKeys(root models.File, tree []models.File) []string {
	seen := make(map[string]struct{}, len(tree))
	keys := make([]string, 0, len(tree))
	add := func(key string) {
		if _, ok := seen[key]; ok {
			return
		}
		seen[key] = struct{}{}
		keys = append(keys, key)
	}
	for _, member := range tree {
		add(member.Key)
	}
	if root.ImageSizeCategory != nil && *root.ImageSizeCategory == enums.ImageSizeOriginal {
		for _, key := range derivatives.AllDerivedKeys(root.Key) {
			add(key)
		}
	}
	return keys
}
