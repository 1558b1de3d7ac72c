package controllers

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/contentcms/api/responses"
	"github.com/angelmondragon/contentcms/api/validators"
	"github.com/angelmondragon/contentcms/internal/files"
	"github.com/angelmondragon/contentcms/pkg/db/models"
	"github.com/angelmondragon/contentcms/pkg/enums"
	pkgerrors "github.com/angelmondragon/contentcms/pkg/errors"
	"github.com/angelmondragon/contentcms/pkg/logger"
)

type fileCreateRequest struct {
	Key       string `json:"key" validate:"required,max=1024,object_key"`
	FileName  string `json:"file_name" validate:"required,max=255"`
	MimeType  string `json:"mime_type" validate:"required,max=255,mime_type"`
	SizeBytes int64  `json:"size_bytes" validate:"required,gt=0"`
	Section   string `json:"section" validate:"required,file_section"`
	Policy    string `json:"policy" validate:"required,file_policy"`
}

func (r fileCreateRequest) toInput() (files.CreateInput, error) {
	section, err := enums.ParseFileSection(strings.TrimSpace(r.Section))
	if err != nil {
		return files.CreateInput{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid section")
	}
	policy, err := enums.ParseFilePolicy(strings.TrimSpace(r.Policy))
	if err != nil {
		return files.CreateInput{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid policy")
	}
	return files.CreateInput{
		Key:       strings.TrimSpace(r.Key),
		FileName:  validators.SanitizeString(r.FileName, 255),
		MimeType:  strings.TrimSpace(r.MimeType),
		SizeBytes: r.SizeBytes,
		Section:   section,
		Policy:    policy,
	}, nil
}

type fileUpdateRequest struct {
	Policy   *string `json:"policy" validate:"omitempty,file_policy"`
	Section  *string `json:"section" validate:"omitempty,file_section"`
	FileName *string `json:"file_name" validate:"omitempty,min=1,max=255"`
}

func (r fileUpdateRequest) toInput() (files.UpdateInput, error) {
	var input files.UpdateInput
	if r.Policy != nil {
		policy, err := enums.ParseFilePolicy(strings.TrimSpace(*r.Policy))
		if err != nil {
			return input, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid policy")
		}
		input.Policy = &policy
	}
	if r.Section != nil {
		section, err := enums.ParseFileSection(strings.TrimSpace(*r.Section))
		if err != nil {
			return input, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid section")
		}
		input.Section = &section
	}
	if r.FileName != nil {
		name := validators.SanitizeString(*r.FileName, 255)
		input.FileName = &name
	}
	if input.Policy == nil && input.Section == nil && input.FileName == nil {
		return input, pkgerrors.New(pkgerrors.CodeValidation, "at least one of policy, section or file_name is required")
	}
	return input, nil
}

// FileCreate registers an uploaded object and queues derivative generation for eligible images.
func FileCreate(svc files.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "file service unavailable"))
			return
		}

		var payload fileCreateRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		input, err := payload.toInput()
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.Create(r.Context(), input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, fileCreateResponse{
			File:  fileResponseFromModel(result.File),
			JobID: result.JobID,
		})
	}
}

// FileGet returns a file with its generated derivatives.
func FileGet(svc files.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "file service unavailable"))
			return
		}

		id, err := uuidParam(r, "fileId", "file id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		file, err := svc.Get(r.Context(), id)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, fileResponseFromModel(file))
	}
}

// FileUpdate applies a partial update; policy and section cascade to the whole tree.
func FileUpdate(svc files.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "file service unavailable"))
			return
		}

		id, err := uuidParam(r, "fileId", "file id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload fileUpdateRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		input, err := payload.toInput()
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		updated, err := svc.Update(r.Context(), id, input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, fileResponseFromModel(updated))
	}
}

func FileSoftDelete(svc files.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "file service unavailable"))
			return
		}

		id, err := uuidParam(r, "fileId", "file id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		if err := svc.SoftDelete(r.Context(), id); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, map[string]string{"status": "trashed"})
	}
}

func FileRecover(svc files.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "file service unavailable"))
			return
		}

		id, err := uuidParam(r, "fileId", "file id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.Recover(r.Context(), id)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, fileCreateResponse{
			File:  fileResponseFromModel(result.File),
			JobID: result.JobID,
		})
	}
}

// FilePermanentDelete removes the tree rows and its stored objects.
func FilePermanentDelete(svc files.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "file service unavailable"))
			return
		}

		id, err := uuidParam(r, "fileId", "file id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.PermanentDelete(r.Context(), id)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, result)
	}
}

type fileCreateResponse struct {
	File  fileResponse `json:"file"`
	JobID *uuid.UUID   `json:"job_id,omitempty"`
}

type fileResponse struct {
	ID                uuid.UUID         `json:"id"`
	Key               string            `json:"key"`
	Policy            enums.FilePolicy  `json:"policy"`
	FileName          string            `json:"file_name"`
	MimeType          string            `json:"mime_type"`
	SizeBytes         int64             `json:"size_bytes"`
	Status            enums.FileStatus  `json:"status"`
	Section           enums.FileSection `json:"section"`
	ImageSizeCategory *enums.ImageSize  `json:"image_size_category,omitempty"`
	Watermarked       bool              `json:"watermarked"`
	OriginalImageID   *uuid.UUID        `json:"original_image_id,omitempty"`
	Width             *int              `json:"width,omitempty"`
	Height            *int              `json:"height,omitempty"`
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
	DeletedAt         *time.Time        `json:"deleted_at,omitempty"`
	Derivatives       []fileResponse    `json:"derivatives,omitempty"`
}

func fileResponseFromModel(m *models.File) fileResponse {
	if m == nil {
		return fileResponse{}
	}
	resp := fileResponse{
		ID:                m.ID,
		Key:               m.Key,
		Policy:            m.Policy,
		FileName:          m.FileName,
		MimeType:          m.MimeType,
		SizeBytes:         m.SizeBytes,
		Status:            m.Status,
		Section:           m.Section,
		ImageSizeCategory: m.ImageSizeCategory,
		Watermarked:       m.Watermarked,
		OriginalImageID:   m.OriginalImageID,
		Width:             m.Width,
		Height:            m.Height,
		CreatedAt:         m.CreatedAt,
		UpdatedAt:         m.UpdatedAt,
	}
	if m.DeletedAt.Valid {
		deleted := m.DeletedAt.Time
		resp.DeletedAt = &deleted
	}
	for i := range m.GeneratedImageChildren {
		resp.Derivatives = append(resp.Derivatives, fileResponseFromModel(&m.GeneratedImageChildren[i]))
	}
	return resp
}
