package store

import (
	"context"

	"github.com/google/uuid"
	"github.com/riskscan/scan-worker/internal/store/model"
	"gorm.io/gorm"
)

type Finding interface {
	Create(ctx context.Context, finding model.Finding) (*model.Finding, error)
	List(ctx context.Context, filter *FindingQueryFilter, opts *QueryOptions) (model.FindingList, error)
	Count(ctx context.Context, filter *FindingQueryFilter) (int64, error)
}

type FindingStore struct {
	db *gorm.DB
}

var _ Finding = (*FindingStore)(nil)

func NewFindingStore(db *gorm.DB) Finding {
	return &FindingStore{db: db}
}

func (f *FindingStore) Create(ctx context.Context, finding model.Finding) (*model.Finding, error) {
	if finding.ID == uuid.Nil {
		finding.ID = uuid.New()
	}
	if err := getDB(ctx, f.db).Create(&finding).Error; err != nil {
		return nil, translateError(err)
	}
	return &finding, nil
}

func (f *FindingStore) List(ctx context.Context, filter *FindingQueryFilter, opts *QueryOptions) (model.FindingList, error) {
	var findings model.FindingList
	tx := getDB(ctx, f.db).Model(&findings)
	if filter != nil {
		tx = BaseQuerier(*filter).apply(tx)
	}
	if opts != nil {
		tx = BaseQuerier(*opts).apply(tx)
	} else {
		tx = tx.Order("created_at")
	}
	if err := tx.Find(&findings).Error; err != nil {
		return nil, translateError(err)
	}
	return findings, nil
}

func (f *FindingStore) Count(ctx context.Context, filter *FindingQueryFilter) (int64, error) {
	var count int64
	tx := getDB(ctx, f.db).Model(&model.Finding{})
	if filter != nil {
		tx = BaseQuerier(*filter).apply(tx)
	}
	if err := tx.Count(&count).Error; err != nil {
		return 0, translateError(err)
	}
	return count, nil
}
