// Package settings reads the key/value settings table consumed by the image pipeline.
package settings

import (
	"context"

	"gorm.io/gorm"

	"github.com/angelmondragon/contentcms/pkg/db/models"
)

// Store is a read-only view over the settings table.
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// GetMany returns the values stored for keys in one query. Missing keys are absent from
// the result.
func (s *Store) GetMany(ctx context.Context, keys []string) (map[string]string, error) {
	values := make(map[string]string, len(keys))
	if len(keys) == 0 {
		return values, nil
	}
	var rows []models.Setting
	if err := s.db.WithContext(ctx).Where("key IN ?", keys).Find(&rows).Error; err != nil {
		return nil, err
	}
	for _, row := range rows {
		values[row.Key] = row.Value
	}
	return values, nil
}

// LoadWatermarkConfig reads every watermark key in one round-trip.
func (s *Store) LoadWatermarkConfig(ctx context.Context) (WatermarkConfig, error) {
	values, err := s.GetMany(ctx, WatermarkKeys)
	if err != nil {
		return WatermarkConfig{}, err
	}
	return ParseWatermarkConfig(values)
}
