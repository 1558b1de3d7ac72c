package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/contentcms/pkg/enums"
)

// File is one stored object. Originals have a nil OriginalImageID; derivatives point at
// their original and never have children of their own.
type File struct {
	ID                uuid.UUID         `gorm:"column:id;type:uuid;primaryKey"`
	Key               string            `gorm:"column:key;not null;uniqueIndex:ux_files_key"`
	Policy            enums.FilePolicy  `gorm:"column:policy;type:file_policy;not null"`
	FileName          string            `gorm:"column:file_name;not null"`
	MimeType          string            `gorm:"column:mime_type;not null"`
	SizeBytes         int64             `gorm:"column:size_bytes;not null"`
	Status            enums.FileStatus  `gorm:"column:status;type:file_status;not null"`
	Section           enums.FileSection `gorm:"column:section;type:file_section;not null"`
	ImageSizeCategory *enums.ImageSize  `gorm:"column:image_size_category;type:image_size_category;uniqueIndex:ux_files_original_size_watermark,priority:2"`
	Watermarked       bool              `gorm:"column:watermarked;not null;default:false;uniqueIndex:ux_files_original_size_watermark,priority:3"`
	OriginalImageID   *uuid.UUID        `gorm:"column:original_image_id;type:uuid;index;uniqueIndex:ux_files_original_size_watermark,priority:1"`
	Width             *int              `gorm:"column:width"`
	Height            *int              `gorm:"column:height"`
	CreatedAt         time.Time         `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time         `gorm:"column:updated_at;autoUpdateTime"`
	DeletedAt         gorm.DeletedAt    `gorm:"column:deleted_at;index"`

	OriginalImage          *File  `gorm:"foreignKey:OriginalImageID;references:ID"`
	GeneratedImageChildren []File `gorm:"foreignKey:OriginalImageID;references:ID"`
}

func (File) TableName() string { return "files" }

// IsOriginal reports whether the row is the root of its derivative tree.
func (f *File) IsOriginal() bool {
	return f.OriginalImageID == nil
}

// RootID returns the id of the original this file belongs to.
func (f *File) RootID() uuid.UUID {
	if f.OriginalImageID != nil {
		return *f.OriginalImageID
	}
	return f.ID
}
