package jobs

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// GenerateDerivativesPayload is the body of a generate_derivatives job.
type GenerateDerivativesPayload struct {
	ImageID uuid.UUID `json:"imageId"`
}

// PurgeObjectsPayload is the body of a purge_objects job.
type PurgeObjectsPayload struct {
	FileID uuid.UUID `json:"fileId"`
	Keys   []string  `json:"keys"`
}

// DecodePayload unmarshals a job payload into dst.
func DecodePayload(raw json.RawMessage, dst any) error {
	if len(raw) == 0 {
		return fmt.Errorf("job payload is empty")
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("decode job payload: %w", err)
	}
	return nil
}
