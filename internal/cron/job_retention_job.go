package cron

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/contentcms/pkg/logger"
)

const jobRetentionDays = 14

type JobRetentionJobParams struct {
	Logger        *logger.Logger
	DB            txRunner
	Queue         finishedJobPruner
	RetentionDays int
}

type finishedJobPruner interface {
	DeleteFinishedBefore(ctx context.Context, tx *gorm.DB, cutoff time.Time) (int64, error)
}

// NewJobRetentionJob prunes done and dead pipeline jobs past the retention window.
func NewJobRetentionJob(params JobRetentionJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.DB == nil {
		return nil, fmt.Errorf("db runner required")
	}
	if params.Queue == nil {
		return nil, fmt.Errorf("job queue required")
	}
	retention := params.RetentionDays
	if retention <= 0 {
		retention = jobRetentionDays
	}
	return &jobRetentionJob{
		logg:          params.Logger,
		db:            params.DB,
		queue:         params.Queue,
		retentionDays: retention,
		now:           time.Now,
	}, nil
}

type jobRetentionJob struct {
	logg          *logger.Logger
	db            txRunner
	queue         finishedJobPruner
	retentionDays int
	now           func() time.Time
}

func (j *jobRetentionJob) Name() string { return "pipeline-job-retention" }

func (j *jobRetentionJob) Run(ctx context.Context) (int64, error) {
	cutoff := j.now().UTC().Add(-time.Duration(j.retentionDays) * 24 * time.Hour)
	var deleted int64
	err := j.db.WithTx(ctx, func(tx *gorm.DB) error {
		rows, err := j.queue.DeleteFinishedBefore(ctx, tx, cutoff)
		if err != nil {
			return err
		}
		deleted = rows
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("pipeline job retention: %w", err)
	}
	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"cutoff":         cutoff,
		"retention_days": j.retentionDays,
		"rows_deleted":   deleted,
	}), "pipeline job retention complete")
	return deleted, nil
}
