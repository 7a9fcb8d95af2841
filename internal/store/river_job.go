package store

import (
	"context"

	"gorm.io/gorm"
)

const (
	RiverJobStateAvailable = "available"
	RiverJobStateRunning   = "running"
	RiverJobStateRetryable = "retryable"
	RiverJobStateScheduled = "scheduled"
)

// RiverJob reads river's job table. It only works against postgres.
type RiverJob interface {
	GetActiveJob(ctx context.Context, scanID string) (*int64, error)
}

type RiverJobStore struct {
	db *gorm.DB
}

var _ RiverJob = (*RiverJobStore)(nil)

func NewRiverJobStore(db *gorm.DB) RiverJob {
	return &RiverJobStore{db: db}
}

// GetActiveJob finds the id of a pending or running scan job for the scan.
// Returns nil if there is none.
func (r *RiverJobStore) GetActiveJob(ctx context.Context, scanID string) (*int64, error) {
	var jobID int64

	err := getDB(ctx, r.db).
		Table("river_job").
		Select("id").
		Where("kind = ?", "scan_job").
		Where("state IN ?", []string{
			RiverJobStateAvailable,
			RiverJobStateRunning,
			RiverJobStateRetryable,
			RiverJobStateScheduled,
		}).
		Where("args->'payload'->>'scanId' = ?", scanID).
		Order("id DESC").
		Limit(1).
		Scan(&jobID).Error

	if err != nil {
		return nil, err
	}

	if jobID == 0 {
		return nil, nil
	}

	return &jobID, nil
}
