package model

import (
	"encoding/json"
	"time"
)

type ScanStatus struct {
	ScanID        string     `gorm:"primaryKey;column:scan_id;type:VARCHAR(255);"`
	CompanyName   string     `gorm:"type:VARCHAR(255)"`
	Domain        string     `gorm:"type:VARCHAR(255)"`
	State         string     `gorm:"not null;index:scan_statuses_state_idx;type:VARCHAR(32)"`
	Progress      int        `gorm:"not null;default:0"`
	CurrentModule string     `gorm:"type:VARCHAR(100)"`
	TotalFindings int        `gorm:"not null;default:0"`
	MaxSeverity   string     `gorm:"type:VARCHAR(16)"`
	ErrorMessage  string     `gorm:"type:TEXT"`
	StartedAt     *time.Time
	CompletedAt   *time.Time
	CreatedAt     time.Time `gorm:"not null"`
	UpdatedAt     time.Time
}

func (s ScanStatus) String() string {
	val, _ := json.Marshal(s)
	return string(val)
}
