package estimation

import "github.com/riskscan/scan-worker/internal/scan"

// Param keys the Engine passes to every calculator.
const (
	ParamFindingType = "finding_type"
	ParamSeverity    = "severity"
	ParamDomain      = "domain"
	ParamExposure    = "exposure"
)

// Calculator produces one multiplicative factor of the estimate (e.g. "severity", "industry").
type Calculator interface {
	// Name returns the human-readable name of this calculator, used as the key in Engine results.
	Name() string
	// Keys returns the list of Param keys this calculator depends on.
	Keys() []string
	// Calculate returns the factor for the provided params or an error.
	Calculate(params map[string]Param) (Factor, error)
}

// Param represents an input for a Calculator.
type Param struct {
	Key   string
	Value interface{}
}

// Factor is the result of a Calculator.
type Factor struct {
	Value  float64
	Reason string
	// AppliesToDaily marks factors that also scale the daily cost of
	// daily-rated finding types.
	AppliesToDaily bool
}

// Input describes the finding to price.
type Input struct {
	FindingType string
	Severity    scan.Severity
	Domain      string
	Exposure    scan.Exposure
}

// Estimate is the priced finding. Low <= ML <= High always holds.
type Estimate struct {
	Low        float64
	ML         float64
	High       float64
	Daily      float64
	Confidence float64
	Category   Category
	Factors    map[string]Factor
}
