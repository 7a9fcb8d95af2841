package calculators

import (
	"fmt"

	"github.com/riskscan/scan-worker/internal/estimation"
)

func getString(p estimation.Param) (string, error) {
	switch v := p.Value.(type) {
	case string:
		return v, nil
	case fmt.Stringer:
		return v.String(), nil
	default:
		return "", fmt.Errorf("param %s is not a string (type: %T)", p.Key, p.Value)
	}
}

// NewDefaultEngine returns an engine with the severity, industry and exposure
// calculators registered.
func NewDefaultEngine() *estimation.Engine {
	e := estimation.NewEngine()
	e.Register(NewSeverity())
	e.Register(NewIndustry())
	e.Register(NewExposure())
	return e
}
