package store

import (
	"gorm.io/gorm"
)

type BaseQuerier struct {
	QueryFn []func(tx *gorm.DB) *gorm.DB
}

func (b BaseQuerier) apply(tx *gorm.DB) *gorm.DB {
	for _, fn := range b.QueryFn {
		tx = fn(tx)
	}
	return tx
}

type ArtifactQueryFilter BaseQuerier

func NewArtifactQueryFilter() *ArtifactQueryFilter {
	return &ArtifactQueryFilter{QueryFn: make([]func(tx *gorm.DB) *gorm.DB, 0)}
}

func (qf *ArtifactQueryFilter) ByScanID(scanID string) *ArtifactQueryFilter {
	qf.QueryFn = append(qf.QueryFn, func(tx *gorm.DB) *gorm.DB {
		return tx.Where("scan_id = ?", scanID)
	})
	return qf
}

func (qf *ArtifactQueryFilter) ByType(types ...string) *ArtifactQueryFilter {
	qf.QueryFn = append(qf.QueryFn, func(tx *gorm.DB) *gorm.DB {
		return tx.Where("type IN ?", types)
	})
	return qf
}

func (qf *ArtifactQueryFilter) BySeverity(severity string) *ArtifactQueryFilter {
	qf.QueryFn = append(qf.QueryFn, func(tx *gorm.DB) *gorm.DB {
		return tx.Where("severity = ?", severity)
	})
	return qf
}

type FindingQueryFilter BaseQuerier

func NewFindingQueryFilter() *FindingQueryFilter {
	return &FindingQueryFilter{QueryFn: make([]func(tx *gorm.DB) *gorm.DB, 0)}
}

func (qf *FindingQueryFilter) ByScanID(scanID string) *FindingQueryFilter {
	qf.QueryFn = append(qf.QueryFn, func(tx *gorm.DB) *gorm.DB {
		return tx.Where("scan_id = ?", scanID)
	})
	return qf
}

func (qf *FindingQueryFilter) ByType(types ...string) *FindingQueryFilter {
	qf.QueryFn = append(qf.QueryFn, func(tx *gorm.DB) *gorm.DB {
		return tx.Where("type IN ?", types)
	})
	return qf
}

func (qf *FindingQueryFilter) ByArtifactID(artifactID string) *FindingQueryFilter {
	qf.QueryFn = append(qf.QueryFn, func(tx *gorm.DB) *gorm.DB {
		return tx.Where("artifact_id = ?", artifactID)
	})
	return qf
}

// ScanStatusQueryFilter doubles as the guard of conditional status updates.
type ScanStatusQueryFilter BaseQuerier

func NewScanStatusQueryFilter() *ScanStatusQueryFilter {
	return &ScanStatusQueryFilter{QueryFn: make([]func(tx *gorm.DB) *gorm.DB, 0)}
}

func (qf *ScanStatusQueryFilter) ByScanID(scanID string) *ScanStatusQueryFilter {
	qf.QueryFn = append(qf.QueryFn, func(tx *gorm.DB) *gorm.DB {
		return tx.Where("scan_id = ?", scanID)
	})
	return qf
}

func (qf *ScanStatusQueryFilter) ByStates(states ...string) *ScanStatusQueryFilter {
	qf.QueryFn = append(qf.QueryFn, func(tx *gorm.DB) *gorm.DB {
		return tx.Where("state IN ?", states)
	})
	return qf
}

func (qf *ScanStatusQueryFilter) ByProgressAtMost(progress int) *ScanStatusQueryFilter {
	qf.QueryFn = append(qf.QueryFn, func(tx *gorm.DB) *gorm.DB {
		return tx.Where("progress <= ?", progress)
	})
	return qf
}

type QueryOptions BaseQuerier

func NewQueryOptions() *QueryOptions {
	return &QueryOptions{QueryFn: make([]func(tx *gorm.DB) *gorm.DB, 0)}
}

func (o *QueryOptions) WithSortOrder(sort SortOrder) *QueryOptions {
	o.QueryFn = append(o.QueryFn, func(tx *gorm.DB) *gorm.DB {
		switch sort {
		case SortByID:
			return tx.Order("id")
		case SortByCreatedTime:
			return tx.Order("created_at")
		default:
			return tx
		}
	})
	return o
}

func (o *QueryOptions) WithLimit(limit int) *QueryOptions {
	o.QueryFn = append(o.QueryFn, func(tx *gorm.DB) *gorm.DB {
		return tx.Limit(limit)
	})
	return o
}

type SortOrder int

const (
	Unsorted SortOrder = iota
	SortByID
	SortByCreatedTime
)
