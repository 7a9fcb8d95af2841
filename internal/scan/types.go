// Package scan holds the domain types shared by the scheduler, the detection
// pipeline, the status tracker and the intake.
package scan

import (
	"fmt"
	"strings"
	"time"
)

// Job is the unit of work delivered by the queue. It is immutable once created.
type Job struct {
	ScanID         string    `json:"scanId" validate:"required,max=255,scan_id"`
	CompanyName    string    `json:"companyName"`
	Domain         string    `json:"domain" validate:"required,fqdn"`
	OriginalDomain string    `json:"originalDomain,omitempty"`
	Tags           []string  `json:"tags,omitempty" validate:"max=32,dive,scan_tag"`
	CreatedAt      time.Time `json:"createdAt"`
}

func (j Job) String() string {
	return fmt.Sprintf("scan %s (%s)", j.ScanID, j.Domain)
}

type Severity string

const (
	SeverityCritical Severity = "CRITICAL"
	SeverityHigh     Severity = "HIGH"
	SeverityMedium   Severity = "MEDIUM"
	SeverityLow      Severity = "LOW"
	SeverityInfo     Severity = "INFO"
)

var severityRank = map[Severity]int{
	SeverityInfo:     0,
	SeverityLow:      1,
	SeverityMedium:   2,
	SeverityHigh:     3,
	SeverityCritical: 4,
}

// ParseSeverity accepts any casing and returns an error for values outside
// the fixed set.
func ParseSeverity(s string) (Severity, error) {
	sev := Severity(strings.ToUpper(strings.TrimSpace(s)))
	if _, ok := severityRank[sev]; !ok {
		return "", fmt.Errorf("unknown severity %q", s)
	}
	return sev, nil
}

func (s Severity) Valid() bool {
	_, ok := severityRank[s]
	return ok
}

// Rank orders severities from INFO (0) to CRITICAL (4). Unknown values rank below INFO.
func (s Severity) Rank() int {
	if r, ok := severityRank[s]; ok {
		return r
	}
	return -1
}

// MaxSeverity returns the highest of the given severities, or "" when empty.
func MaxSeverity(sevs ...Severity) Severity {
	var highest Severity
	for _, s := range sevs {
		if s.Rank() > highest.Rank() {
			highest = s
		}
	}
	return highest
}

// Exposure describes how reachable the affected asset is.
type Exposure string

const (
	ExposureUnauthenticated Exposure = "unauthenticated"
	ExposurePublic          Exposure = "public"
	ExposureAuthenticated   Exposure = "authenticated"
	ExposureInternal        Exposure = "internal"
)

// Artifact is a raw observation produced by a module. Key is local to the
// module result and lets findings reference the artifact before it has an ID.
type Artifact struct {
	Key      string
	Type     string
	Text     string
	Severity Severity
	Meta     map[string]any
}

// Finding is a confirmed issue before pricing and persistence.
type Finding struct {
	Type           string
	Severity       Severity
	Description    string
	Recommendation string
	Exposure       Exposure
	ArtifactKey    string
	Meta           map[string]any
}
