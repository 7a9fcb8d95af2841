package store

import (
	"context"
	"errors"
	"time"

	"github.com/riskscan/scan-worker/internal/store/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// StatusPatch lists the columns of a status update. Nil fields are left untouched.
type StatusPatch struct {
	State         *string
	Progress      *int
	CurrentModule *string
	TotalFindings *int
	MaxSeverity   *string
	ErrorMessage  *string
	StartedAt     *time.Time
	CompletedAt   *time.Time
}

func (p StatusPatch) columns() map[string]any {
	cols := map[string]any{}
	if p.State != nil {
		cols["state"] = *p.State
	}
	if p.Progress != nil {
		cols["progress"] = *p.Progress
	}
	if p.CurrentModule != nil {
		cols["current_module"] = *p.CurrentModule
	}
	if p.TotalFindings != nil {
		cols["total_findings"] = *p.TotalFindings
	}
	if p.MaxSeverity != nil {
		cols["max_severity"] = *p.MaxSeverity
	}
	if p.ErrorMessage != nil {
		cols["error_message"] = *p.ErrorMessage
	}
	if p.StartedAt != nil {
		cols["started_at"] = *p.StartedAt
	}
	if p.CompletedAt != nil {
		cols["completed_at"] = *p.CompletedAt
	}
	return cols
}

type ScanStatus interface {
	Get(ctx context.Context, scanID string) (*model.ScanStatus, error)
	// CreateIfAbsent inserts the status unless a row for the scan exists. It
	// reports whether the row was inserted.
	CreateIfAbsent(ctx context.Context, status model.ScanStatus) (bool, error)
	// Update applies the patch to the rows matching the filter and returns the
	// number of rows affected. The filter must name the scan.
	Update(ctx context.Context, filter *ScanStatusQueryFilter, patch StatusPatch) (int64, error)
	CountByState(ctx context.Context) (map[string]int64, error)
}

type ScanStatusStore struct {
	db *gorm.DB
}

var _ ScanStatus = (*ScanStatusStore)(nil)

func NewScanStatusStore(db *gorm.DB) ScanStatus {
	return &ScanStatusStore{db: db}
}

func (s *ScanStatusStore) Get(ctx context.Context, scanID string) (*model.ScanStatus, error) {
	var status model.ScanStatus
	if err := getDB(ctx, s.db).First(&status, "scan_id = ?", scanID).Error; err != nil {
		return nil, translateError(err)
	}
	return &status, nil
}

func (s *ScanStatusStore) CreateIfAbsent(ctx context.Context, status model.ScanStatus) (bool, error) {
	result := getDB(ctx, s.db).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "scan_id"}},
		DoNothing: true,
	}).Create(&status)
	if result.Error != nil {
		return false, translateError(result.Error)
	}
	return result.RowsAffected == 1, nil
}

func (s *ScanStatusStore) Update(ctx context.Context, filter *ScanStatusQueryFilter, patch StatusPatch) (int64, error) {
	if filter == nil || len(filter.QueryFn) == 0 {
		return 0, errors.New("status update without filter")
	}
	cols := patch.columns()
	if len(cols) == 0 {
		return 0, nil
	}
	cols["updated_at"] = time.Now()

	tx := BaseQuerier(*filter).apply(getDB(ctx, s.db).Model(&model.ScanStatus{}))
	result := tx.Updates(cols)
	if result.Error != nil {
		return 0, translateError(result.Error)
	}
	return result.RowsAffected, nil
}

func (s *ScanStatusStore) CountByState(ctx context.Context) (map[string]int64, error) {
	var rows []struct {
		State string
		Count int64
	}
	err := getDB(ctx, s.db).Model(&model.ScanStatus{}).
		Select("state, count(*) as count").
		Group("state").
		Scan(&rows).Error
	if err != nil {
		return nil, translateError(err)
	}
	out := make(map[string]int64, len(rows))
	for _, r := range rows {
		out[r.State] = r.Count
	}
	return out, nil
}
