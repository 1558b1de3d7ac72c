package files

import (
	"github.com/google/uuid"

	"github.com/angelmondragon/contentcms/pkg/db/models"
	"github.com/angelmondragon/contentcms/pkg/enums"
)

// CreateInput registers an object that is already stored under Key.
type CreateInput struct {
	Key       string
	FileName  string
	MimeType  string
	SizeBytes int64
	Section   enums.FileSection
	Policy    enums.FilePolicy
}

// CreateResult is the new row plus the derivative job, when one was queued.
type CreateResult struct {
	File  *models.File `json:"file"`
	JobID *uuid.UUID   `json:"job_id,omitempty"`
}

// UpdateInput carries the optional fields of a partial update.
type UpdateInput struct {
	Policy   *enums.FilePolicy
	Section  *enums.FileSection
	FileName *string
}

// RecoverResult is the restored row plus the re-queued job, if any.
type RecoverResult struct {
	File  *models.File `json:"file"`
	JobID *uuid.UUID   `json:"job_id,omitempty"`
}

// PurgeResult reports what a permanent delete removed and what is left for the purge job.
type PurgeResult struct {
	FileIDs     []uuid.UUID `json:"file_ids"`
	Keys        []string    `json:"keys"`
	PendingKeys []string    `json:"pending_keys,omitempty"`
	PurgeJobID  *uuid.UUID  `json:"purge_job_id,omitempty"`
}
