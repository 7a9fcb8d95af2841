package scheduler

import "github.com/riskscan/scan-worker/internal/scan"

// Snapshot is the read-only view of the tier 0 outputs handed to tier 1
// modules. It is built once, after every tier 0 module finished, from the
// successful results only.
type Snapshot struct {
	targets   map[string][]string
	artifacts map[string][]scan.Artifact
}

func newSnapshot(results []Result) *Snapshot {
	s := &Snapshot{
		targets:   make(map[string][]string),
		artifacts: make(map[string][]scan.Artifact),
	}
	for _, r := range results {
		if r.Tier != Tier0 || r.Failed() {
			continue
		}
		s.targets[r.ModuleName] = append([]string(nil), r.Targets...)
		s.artifacts[r.ModuleName] = append([]scan.Artifact(nil), r.Artifacts...)
	}
	return s
}

// Has reports whether the producer finished successfully.
func (s *Snapshot) Has(producer string) bool {
	_, ok := s.targets[producer]
	return ok
}

// Targets returns a copy of the targets of one producer.
func (s *Snapshot) Targets(producer string) []string {
	return append([]string(nil), s.targets[producer]...)
}

func (s *Snapshot) Artifacts(producer string) []scan.Artifact {
	return append([]scan.Artifact(nil), s.artifacts[producer]...)
}

// TargetsFor merges the targets of the producers, dropping duplicates and
// keeping the first limit targets when limit is positive.
func (s *Snapshot) TargetsFor(producers []string, limit int) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, p := range producers {
		for _, t := range s.targets[p] {
			if _, dup := seen[t]; dup {
				continue
			}
			seen[t] = struct{}{}
			out = append(out, t)
			if limit > 0 && len(out) == limit {
				return out
			}
		}
	}
	return out
}
