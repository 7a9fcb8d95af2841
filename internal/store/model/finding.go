package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type Finding struct {
	ID             uuid.UUID `gorm:"primaryKey;column:id;type:VARCHAR(255);"`
	CreatedAt      time.Time `gorm:"not null"`
	ScanID         string    `gorm:"not null;index:findings_scan_id_type_idx;type:VARCHAR(255)"`
	ArtifactID     uuid.UUID `gorm:"column:artifact_id;not null;type:VARCHAR(255)"`
	Type           string    `gorm:"not null;index:findings_scan_id_type_idx;type:VARCHAR(100)"`
	Severity       string    `gorm:"not null;type:VARCHAR(16)"`
	Description    string    `gorm:"type:TEXT"`
	Recommendation string    `gorm:"type:TEXT"`
	AttackCategory string    `gorm:"type:VARCHAR(64)"`
	EALLow         float64   `gorm:"column:eal_low"`
	EALML          float64   `gorm:"column:eal_ml"`
	EALHigh        float64   `gorm:"column:eal_high"`
	EALDaily       float64   `gorm:"column:eal_daily"`
	Confidence     float64   `gorm:"column:confidence"`
}

type FindingList []Finding

func (f Finding) String() string {
	val, _ := json.Marshal(f)
	return string(val)
}
