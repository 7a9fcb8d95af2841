package store

import (
	"context"

	"github.com/google/uuid"
	"github.com/riskscan/scan-worker/internal/store/model"
	"gorm.io/gorm"
)

type Artifact interface {
	Create(ctx context.Context, artifact model.Artifact) (*model.Artifact, error)
	List(ctx context.Context, filter *ArtifactQueryFilter, opts *QueryOptions) (model.ArtifactList, error)
	Count(ctx context.Context, filter *ArtifactQueryFilter) (int64, error)
}

type ArtifactStore struct {
	db *gorm.DB
}

var _ Artifact = (*ArtifactStore)(nil)

func NewArtifactStore(db *gorm.DB) Artifact {
	return &ArtifactStore{db: db}
}

// Create appends an artifact. Artifacts are never updated.
func (a *ArtifactStore) Create(ctx context.Context, artifact model.Artifact) (*model.Artifact, error) {
	if artifact.ID == uuid.Nil {
		artifact.ID = uuid.New()
	}
	if err := getDB(ctx, a.db).Create(&artifact).Error; err != nil {
		return nil, translateError(err)
	}
	return &artifact, nil
}

func (a *ArtifactStore) List(ctx context.Context, filter *ArtifactQueryFilter, opts *QueryOptions) (model.ArtifactList, error) {
	var artifacts model.ArtifactList
	tx := getDB(ctx, a.db).Model(&artifacts)
	if filter != nil {
		tx = BaseQuerier(*filter).apply(tx)
	}
	if opts != nil {
		tx = BaseQuerier(*opts).apply(tx)
	} else {
		tx = tx.Order("created_at")
	}
	if err := tx.Find(&artifacts).Error; err != nil {
		return nil, translateError(err)
	}
	return artifacts, nil
}

func (a *ArtifactStore) Count(ctx context.Context, filter *ArtifactQueryFilter) (int64, error) {
	var count int64
	tx := getDB(ctx, a.db).Model(&model.Artifact{})
	if filter != nil {
		tx = BaseQuerier(*filter).apply(tx)
	}
	if err := tx.Count(&count).Error; err != nil {
		return 0, translateError(err)
	}
	return count, nil
}
