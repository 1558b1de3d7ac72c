package payloads

import (
	"time"

	"github.com/angelmondragon/contentcms/pkg/enums"
	"github.com/google/uuid"
)

// FileDerivativesReadyEvent is emitted once every size bucket of an original is stored.
type FileDerivativesReadyEvent struct {
	FileID           uuid.UUID         `json:"file_id"`
	Key              string            `json:"key"`
	Width            int               `json:"width"`
	Height           int               `json:"height"`
	DerivativeIDs    []uuid.UUID       `json:"derivative_ids"`
	WatermarkedSizes []enums.ImageSize `json:"watermarked_sizes"`
}

// FileProcessingFailedEvent signals a generate_derivatives job was buried.
type FileProcessingFailedEvent struct {
	FileID   uuid.UUID `json:"file_id"`
	JobID    uuid.UUID `json:"job_id"`
	Attempts int       `json:"attempts"`
	Reason   string    `json:"reason"`
	FailedAt time.Time `json:"failed_at"`
}

// FilePurgedEvent is emitted when an original and its derivatives are permanently deleted.
type FilePurgedEvent struct {
	FileID     uuid.UUID   `json:"file_id"`
	FileIDs    []uuid.UUID `json:"file_ids"`
	Keys       []string    `json:"keys"`
	PurgeJobID uuid.UUID   `json:"purge_job_id"`
}
