package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type Artifact struct {
	ID        uuid.UUID `gorm:"primaryKey;column:id;type:VARCHAR(255);"`
	CreatedAt time.Time `gorm:"not null"`
	ScanID    string    `gorm:"not null;index:artifacts_scan_id_type_idx;type:VARCHAR(255)"`
	Type      string    `gorm:"not null;index:artifacts_scan_id_type_idx;type:VARCHAR(100)"`
	Text      string    `gorm:"type:TEXT"`
	Severity  string    `gorm:"type:VARCHAR(16)"`
	Meta      []byte    `gorm:"type:jsonb"`
}

type ArtifactList []Artifact

func (a Artifact) String() string {
	val, _ := json.Marshal(a)
	return string(val)
}

// MetaMap decodes the meta column. An empty or invalid column yields an empty map.
func (a Artifact) MetaMap() map[string]any {
	m := map[string]any{}
	if len(a.Meta) == 0 {
		return m
	}
	_ = json.Unmarshal(a.Meta, &m)
	return m
}
