package controllers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/contentcms/api/responses"
	"github.com/angelmondragon/contentcms/api/validators"
	"github.com/angelmondragon/contentcms/pkg/db/models"
	"github.com/angelmondragon/contentcms/pkg/enums"
	pkgerrors "github.com/angelmondragon/contentcms/pkg/errors"
	"github.com/angelmondragon/contentcms/pkg/logger"
	"github.com/angelmondragon/contentcms/pkg/storage/s3"
)

// BucketCORSWriter replaces the CORS configuration of the media bucket.
type BucketCORSWriter interface {
	PutBucketCORS(ctx context.Context, rules []s3.CORSRule) error
}

// JobAdmin is the queue surface exposed to operators.
type JobAdmin interface {
	Get(ctx context.Context, id uuid.UUID) (*models.PipelineJob, error)
	Remove(ctx context.Context, id uuid.UUID) error
}

type storageCORSRequest struct {
	Rules []s3.CORSRule `json:"rules" validate:"required,min=1,max=100,dive"`
}

func AdminStorageCORS(store BucketCORSWriter, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if store == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "object storage unavailable"))
			return
		}

		var payload storageCORSRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		if err := store.PutBucketCORS(r.Context(), payload.Rules); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, map[string]any{"rules": len(payload.Rules)})
	}
}

func AdminJobGet(queue JobAdmin, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if queue == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "job queue unavailable"))
			return
		}

		id, err := uuidParam(r, "jobId", "job id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		job, err := queue.Get(r.Context(), id)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, jobResponseFromModel(job))
	}
}

// AdminJobDelete cancels a job that has not started running.
func AdminJobDelete(queue JobAdmin, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if queue == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "job queue unavailable"))
			return
		}

		id, err := uuidParam(r, "jobId", "job id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		if err := queue.Remove(r.Context(), id); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, map[string]string{"status": "removed"})
	}
}

type jobResponse struct {
	ID           uuid.UUID       `json:"id"`
	Name         enums.JobName   `json:"name"`
	FileID       *uuid.UUID      `json:"file_id,omitempty"`
	Payload      json.RawMessage `json:"payload"`
	Status       enums.JobStatus `json:"status"`
	AttemptCount int             `json:"attempt_count"`
	MaxAttempts  int             `json:"max_attempts"`
	RunAfter     time.Time       `json:"run_after"`
	LockedBy     *string         `json:"locked_by,omitempty"`
	LastError    *string         `json:"last_error,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

func jobResponseFromModel(m *models.PipelineJob) jobResponse {
	return jobResponse{
		ID:           m.ID,
		Name:         m.Name,
		FileID:       m.FileID,
		Payload:      m.Payload,
		Status:       m.Status,
		AttemptCount: m.AttemptCount,
		MaxAttempts:  m.MaxAttempts,
		RunAfter:     m.RunAfter,
		LockedBy:     m.LockedBy,
		LastError:    m.LastError,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
}
