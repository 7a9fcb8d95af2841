package calculators

import (
	"fmt"

	"github.com/riskscan/scan-worker/internal/estimation"
	"github.com/riskscan/scan-worker/internal/scan"
)

var _ estimation.Calculator = (*Severity)(nil)

var DefaultSeverityMultipliers = map[scan.Severity]float64{
	scan.SeverityCritical: 2.0,
	scan.SeverityHigh:     1.5,
	scan.SeverityMedium:   1.0,
	scan.SeverityLow:      0.5,
	scan.SeverityInfo:     0.2,
}

// Severity scales the loss by the finding severity. It is the only factor
// that also applies to daily-rated finding types.
type Severity struct {
	multipliers map[scan.Severity]float64
}

type SeverityOption func(*Severity)

// WithSeverityMultiplier overrides the multiplier of one severity.
func WithSeverityMultiplier(sev scan.Severity, value float64) SeverityOption {
	return func(s *Severity) {
		s.multipliers[sev] = value
	}
}

func NewSeverity(opts ...SeverityOption) *Severity {
	res := Severity{multipliers: make(map[scan.Severity]float64, len(DefaultSeverityMultipliers))}
	for k, v := range DefaultSeverityMultipliers {
		res.multipliers[k] = v
	}
	for _, opt := range opts {
		opt(&res)
	}
	return &res
}

func (c *Severity) Name() string { return "severity" }

func (c *Severity) Keys() []string {
	return []string{estimation.ParamSeverity}
}

func (c *Severity) Calculate(params map[string]estimation.Param) (estimation.Factor, error) {
	p, ok := params[estimation.ParamSeverity]
	if !ok {
		return estimation.Factor{}, fmt.Errorf("missing %s", estimation.ParamSeverity)
	}
	raw, err := getString(p)
	if err != nil {
		return estimation.Factor{}, err
	}
	sev, err := scan.ParseSeverity(raw)
	if err != nil {
		return estimation.Factor{}, err
	}

	value := c.multipliers[sev]
	return estimation.Factor{
		Value:          value,
		Reason:         fmt.Sprintf("severity %s multiplies by %.1f", sev, value),
		AppliesToDaily: true,
	}, nil
}
