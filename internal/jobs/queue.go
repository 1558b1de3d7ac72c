// Package jobs is the durable pipeline work queue stored in pipeline_jobs.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/contentcms/pkg/db/models"
	"github.com/angelmondragon/contentcms/pkg/enums"
	pkgerrors "github.com/angelmondragon/contentcms/pkg/errors"
)

const maxErrorLength = 1024

// EnqueueParams describes a job to persist.
type EnqueueParams struct {
	Name     enums.JobName
	FileID   *uuid.UUID
	Payload  any
	RunAfter time.Time
}

// Queue leases jobs to workers. Running jobs whose lease expired are handed out again.
type Queue struct {
	db          *gorm.DB
	maxAttempts int
	now         func() time.Time
}

func NewQueue(db *gorm.DB, maxAttempts int) *Queue {
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	return &Queue{
		db:          db,
		maxAttempts: maxAttempts,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

func (q *Queue) conn(ctx context.Context, tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return q.db.WithContext(ctx)
}

// Enqueue inserts a queued job. When tx is set the insert joins the caller's transaction.
func (q *Queue) Enqueue(ctx context.Context, tx *gorm.DB, params EnqueueParams) (uuid.UUID, error) {
	if !params.Name.IsValid() {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unknown job name %q", params.Name))
	}
	payload, err := json.Marshal(params.Payload)
	if err != nil {
		return uuid.Nil, fmt.Errorf("encode job payload: %w", err)
	}
	now := q.now()
	runAfter := params.RunAfter
	if runAfter.IsZero() {
		runAfter = now
	}
	job := models.PipelineJob{
		ID:          uuid.New(),
		Name:        params.Name,
		FileID:      params.FileID,
		Payload:     payload,
		Status:      enums.JobStatusQueued,
		MaxAttempts: q.maxAttempts,
		RunAfter:    runAfter.UTC(),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := q.conn(ctx, tx).Create(&job).Error; err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "enqueue job")
	}
	return job.ID, nil
}

// Get loads a job by id.
func (q *Queue) Get(ctx context.Context, id uuid.UUID) (*models.PipelineJob, error) {
	var job models.PipelineJob
	if err := q.db.WithContext(ctx).Where("id = ?", id).Take(&job).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "job not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load job")
	}
	return &job, nil
}

// Remove cancels a job that is not currently leased.
func (q *Queue) Remove(ctx context.Context, id uuid.UUID) error {
	job, err := q.Get(ctx, id)
	if err != nil {
		return err
	}
	if job.Status == enums.JobStatusRunning {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "job is running").
			WithDetails(map[string]any{"status": job.Status})
	}
	res := q.db.WithContext(ctx).
		Where("id = ? AND status <> ?", id, enums.JobStatusRunning).
		Delete(&models.PipelineJob{})
	if res.Error != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "remove job")
	}
	if res.RowsAffected == 0 {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "job was claimed before it could be removed")
	}
	return nil
}

// RemoveForFiles deletes queued jobs bound to any of fileIDs and returns how many went.
func (q *Queue) RemoveForFiles(ctx context.Context, tx *gorm.DB, fileIDs []uuid.UUID) (int64, error) {
	if len(fileIDs) == 0 {
		return 0, nil
	}
	res := q.conn(ctx, tx).
		Where("file_id IN ? AND status = ?", fileIDs, enums.JobStatusQueued).
		Delete(&models.PipelineJob{})
	if res.Error != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "remove file jobs")
	}
	return res.RowsAffected, nil
}

// Claim leases the next runnable job to workerID and bumps its attempt count. It returns
// nil when nothing is runnable.
func (q *Queue) Claim(ctx context.Context, workerID string, lease time.Duration) (*models.PipelineJob, error) {
	now := q.now()
	var claimed *models.PipelineJob

	err := q.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		query := tx.Where(
			"(status = ? AND run_after <= ?) OR (status = ? AND locked_at <= ?)",
			enums.JobStatusQueued, now,
			enums.JobStatusRunning, now.Add(-lease),
		)
		if tx.Dialector != nil && tx.Dialector.Name() == "postgres" {
			query = query.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
		}

		var job models.PipelineJob
		if err := query.Order("run_after ASC").Order("created_at ASC").Limit(1).Take(&job).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}
			return err
		}

		if err := tx.Model(&models.PipelineJob{}).
			Where("id = ?", job.ID).
			Updates(map[string]any{
				"status":        enums.JobStatusRunning,
				"attempt_count": gorm.Expr("attempt_count + 1"),
				"locked_at":     now,
				"locked_by":     workerID,
				"updated_at":    now,
			}).Error; err != nil {
			return err
		}

		job.Status = enums.JobStatusRunning
		job.AttemptCount++
		job.LockedAt = &now
		job.LockedBy = &workerID
		job.UpdatedAt = now
		claimed = &job
		return nil
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "claim job")
	}
	return claimed, nil
}

// Complete marks a job done.
func (q *Queue) Complete(ctx context.Context, id uuid.UUID) error {
	return q.transition(q.db.WithContext(ctx), id, map[string]any{
		"status":     enums.JobStatusDone,
		"locked_at":  nil,
		"locked_by":  nil,
		"last_error": nil,
	})
}

// Retry puts a job back in the queue, runnable from runAfter.
func (q *Queue) Retry(ctx context.Context, id uuid.UUID, cause error, runAfter time.Time) error {
	return q.transition(q.db.WithContext(ctx), id, map[string]any{
		"status":     enums.JobStatusQueued,
		"run_after":  runAfter.UTC(),
		"locked_at":  nil,
		"locked_by":  nil,
		"last_error": errorText(cause),
	})
}

// Release returns a leased job untouched, undoing the attempt taken by Claim.
func (q *Queue) Release(ctx context.Context, id uuid.UUID) error {
	return q.transition(q.db.WithContext(ctx), id, map[string]any{
		"status":        enums.JobStatusQueued,
		"attempt_count": gorm.Expr("CASE WHEN attempt_count > 0 THEN attempt_count - 1 ELSE 0 END"),
		"locked_at":     nil,
		"locked_by":     nil,
	})
}

// Bury marks a job dead. When tx is set the update joins the caller's transaction.
func (q *Queue) Bury(ctx context.Context, tx *gorm.DB, id uuid.UUID, cause error) error {
	return q.transition(q.conn(ctx, tx), id, map[string]any{
		"status":     enums.JobStatusDead,
		"locked_at":  nil,
		"locked_by":  nil,
		"last_error": errorText(cause),
	})
}

// DeleteFinishedBefore removes done and dead jobs last touched before cutoff.
func (q *Queue) DeleteFinishedBefore(ctx context.Context, tx *gorm.DB, cutoff time.Time) (int64, error) {
	res := q.conn(ctx, tx).
		Where("status IN ? AND updated_at < ?", []string{string(enums.JobStatusDone), string(enums.JobStatusDead)}, cutoff).
		Delete(&models.PipelineJob{})
	if res.Error != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "delete finished jobs")
	}
	return res.RowsAffected, nil
}

func (q *Queue) transition(conn *gorm.DB, id uuid.UUID, updates map[string]any) error {
	updates["updated_at"] = q.now()
	res := conn.Model(&models.PipelineJob{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "update job")
	}
	if res.RowsAffected == 0 {
		return pkgerrors.New(pkgerrors.CodeNotFound, "job not found")
	}
	return nil
}

func errorText(err error) any {
	if err == nil {
		return nil
	}
	msg := err.Error()
	if len(msg) <= maxErrorLength {
		return msg
	}
	cut := maxErrorLength
	for cut > 0 && !utf8.RuneStart(msg[cut]) {
		cut--
	}
	return msg[:cut]
}
