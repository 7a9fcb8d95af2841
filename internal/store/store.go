package store

import (
	"context"

	"github.com/riskscan/scan-worker/internal/store/model"
	"gorm.io/gorm"
)

type Store interface {
	NewTransactionContext(ctx context.Context) (context.Context, error)
	Artifact() Artifact
	Finding() Finding
	ScanStatus() ScanStatus
	RiverJob() RiverJob
	// InitialMigration creates the tables from the models. Postgres deployments
	// use the SQL migrations in pkg/migrations instead.
	InitialMigration(ctx context.Context) error
	Close() error
}

type DataStore struct {
	db         *gorm.DB
	artifact   Artifact
	finding    Finding
	scanStatus ScanStatus
	riverJob   RiverJob
}

func NewStore(db *gorm.DB) Store {
	return &DataStore{
		db:         db,
		artifact:   NewArtifactStore(db),
		finding:    NewFindingStore(db),
		scanStatus: NewScanStatusStore(db),
		riverJob:   NewRiverJobStore(db),
	}
}

func (s *DataStore) NewTransactionContext(ctx context.Context) (context.Context, error) {
	return newTransactionContext(ctx, s.db)
}

func (s *DataStore) Artifact() Artifact {
	return s.artifact
}

func (s *DataStore) Finding() Finding {
	return s.finding
}

func (s *DataStore) ScanStatus() ScanStatus {
	return s.scanStatus
}

func (s *DataStore) RiverJob() RiverJob {
	return s.riverJob
}

func (s *DataStore) InitialMigration(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(&model.ScanStatus{}, &model.Artifact{}, &model.Finding{})
}

func (s *DataStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func getDB(ctx context.Context, db *gorm.DB) *gorm.DB {
	if tx := FromContext(ctx); tx != nil {
		return tx
	}
	return db.WithContext(ctx)
}
