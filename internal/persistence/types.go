package persistence

import (
	"github.com/riskscan/scan-worker/internal/scan"
)

type ArtifactRecord struct {
	ScanID   string
	Type     string
	Text     string
	Severity scan.Severity
	Meta     map[string]any
}

type FindingRecord struct {
	ScanID           string
	SourceArtifactID string
	Type             string
	Severity         scan.Severity
	Description      string
	Recommendation   string
	AttackCategory   string
	EALLow           float64
	EALML            float64
	EALHigh          float64
	EALDaily         float64
	Confidence       float64
}

// StatusPatch is the set of columns to change. Nil fields are kept.
type StatusPatch struct {
	State         *scan.State
	Progress      *int
	CurrentModule *string
	TotalFindings *int
	MaxSeverity   *scan.Severity
	ErrorMessage  *string
	Started       bool
	Completed     bool
}

// StatusUpdate is a conditional update of one scan status document. The
// update only applies while the state is one of FromStates (any state when
// empty) and, when set, while the stored progress is at most ProgressAtMost.
type StatusUpdate struct {
	ScanID         string
	FromStates     []scan.State
	ProgressAtMost *int
	Patch          StatusPatch
}

type ClaimRequest struct {
	Job scan.Job
}

type SnapshotQuery struct {
	ScanID       string
	ProducerType string
}
