package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/contentcms/pkg/enums"
)

// PipelineJob is a durable unit of background work leased by pipeline workers.
type PipelineJob struct {
	ID           uuid.UUID       `gorm:"column:id;type:uuid;primaryKey"`
	Name         enums.JobName   `gorm:"column:name;type:pipeline_job_name;not null"`
	FileID       *uuid.UUID      `gorm:"column:file_id;type:uuid;index"`
	Payload      json.RawMessage `gorm:"column:payload;type:jsonb;not null"`
	Status       enums.JobStatus `gorm:"column:status;type:pipeline_job_status;not null"`
	AttemptCount int             `gorm:"column:attempt_count;not null;default:0"`
	MaxAttempts  int             `gorm:"column:max_attempts;not null"`
	RunAfter     time.Time       `gorm:"column:run_after;not null"`
	LockedAt     *time.Time      `gorm:"column:locked_at"`
	LockedBy     *string         `gorm:"column:locked_by"`
	LastError    *string         `gorm:"column:last_error"`
	CreatedAt    time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}

func (PipelineJob) TableName() string { return "pipeline_jobs" }
