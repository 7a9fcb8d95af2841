package calculators

import (
	"fmt"

	"github.com/riskscan/scan-worker/internal/estimation"
	"github.com/riskscan/scan-worker/internal/scan"
)

var DefaultExposureMultipliers = map[scan.Exposure]float64{
	scan.ExposureUnauthenticated: 1.3,
	scan.ExposurePublic:          1.0,
	scan.ExposureAuthenticated:   0.6,
	scan.ExposureInternal:        0.3,
}

var _ estimation.Calculator = (*Exposure)(nil)

// Exposure scales the loss by how reachable the affected asset is. Findings
// without an exposure are treated as public.
type Exposure struct{}

func NewExposure() *Exposure {
	return &Exposure{}
}

func (c *Exposure) Name() string { return "exposure" }

func (c *Exposure) Keys() []string {
	return []string{estimation.ParamExposure}
}

func (c *Exposure) Calculate(params map[string]estimation.Param) (estimation.Factor, error) {
	exposure := scan.ExposurePublic
	if p, ok := params[estimation.ParamExposure]; ok {
		raw, err := getString(p)
		if err != nil {
			return estimation.Factor{}, err
		}
		if raw != "" {
			exposure = scan.Exposure(raw)
		}
	}

	value, ok := DefaultExposureMultipliers[exposure]
	if !ok {
		return estimation.Factor{}, fmt.Errorf("unknown exposure %q", exposure)
	}
	return estimation.Factor{
		Value:  value,
		Reason: fmt.Sprintf("%s exposure multiplies by %.1f", exposure, value),
	}, nil
}
