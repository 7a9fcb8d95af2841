package detection

import "github.com/riskscan/scan-worker/internal/scan"

// Source tells which stage produced a candidate.
type Source string

const (
	SourceRule    Source = "rule"
	SourceEntropy Source = "entropy"
)

// Unit is one piece of text the noise cap applies to, typically one fetched asset.
type Unit struct {
	ID   string
	Text string
}

type Location struct {
	Unit   string
	Line   int
	Offset int
}

// Candidate is a possible secret. It is never persisted as is.
type Candidate struct {
	RuleID      string
	MatchedText string
	Context     string
	Severity    scan.Severity
	Location    Location
	Source      Source
	Entropy     float64
}

// Verdict explains why a hit was accepted.
type Verdict string

const (
	VerdictRule       Verdict = "rule"
	VerdictConfirmed  Verdict = "confirmed"
	VerdictFailClosed Verdict = "fail_closed"
)

// Hit is an accepted candidate.
type Hit struct {
	Candidate
	Verdict Verdict
}

// Truncation records hits dropped by the noise cap for one unit.
type Truncation struct {
	Unit    string
	Kept    int
	Dropped int
}

type Result struct {
	Hits        []Hit
	Truncations []Truncation
	// Validated is the number of tokens sent to the validator.
	Validated int
	// ValidationErr is set when at least one batch failed and its tokens were
	// accepted unverified.
	ValidationErr error
}

// HitsByUnit groups the hits by unit id, keeping their order.
func (r Result) HitsByUnit() map[string][]Hit {
	out := make(map[string][]Hit)
	for _, h := range r.Hits {
		out[h.Location.Unit] = append(out[h.Location.Unit], h)
	}
	return out
}
