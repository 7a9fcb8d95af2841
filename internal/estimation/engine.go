package estimation

import (
	"fmt"
	"math"
)

// Floors applied after computation.
const (
	FloorLow   = 1000.0
	FloorML    = 2000.0
	FloorHigh  = 5000.0
	FloorDaily = 10.0

	minVariability = 0.3
	daysPerYear    = 365.0
)

// Engine orchestrates Calculator objects and combines their factors.
type Engine struct {
	calculators []Calculator
}

// NewEngine creates a new Engine with no calculators registered.
func NewEngine() *Engine {
	return &Engine{
		calculators: make([]Calculator, 0),
	}
}

// Register adds a Calculator to participate in the estimation.
// Calculators are executed in the order they are registered.
// Register panics if a calculator with the same Name() is already registered,
// as duplicate names would silently overwrite results in Run.
func (e *Engine) Register(c Calculator) {
	for _, existing := range e.calculators {
		if existing.Name() == c.Name() {
			panic(fmt.Sprintf("estimation: calculator %q already registered", c.Name()))
		}
	}
	e.calculators = append(e.calculators, c)
}

// Run executes all registered calculators against the provided params.
// A failing calculator yields a neutral factor with the error as reason.
func (e *Engine) Run(inputs []Param) map[string]Factor {
	paramMap := make(map[string]Param)
	for _, p := range inputs {
		paramMap[p.Key] = p
	}

	results := make(map[string]Factor)
	for _, calc := range e.calculators {
		f, err := calc.Calculate(paramMap)
		if err != nil {
			results[calc.Name()] = Factor{
				Value:  1,
				Reason: fmt.Sprintf("Error: %v", err),
			}
			continue
		}
		results[calc.Name()] = f
	}
	return results
}

// Estimate prices one finding.
func (e *Engine) Estimate(in Input) Estimate {
	profile := ProfileFor(in.FindingType)
	factors := e.Run([]Param{
		{Key: ParamFindingType, Value: in.FindingType},
		{Key: ParamSeverity, Value: string(in.Severity)},
		{Key: ParamDomain, Value: in.Domain},
		{Key: ParamExposure, Value: string(in.Exposure)},
	})

	ml := profile.BaseCost
	dailyScale := 1.0
	for _, calc := range e.calculators {
		f := factors[calc.Name()]
		ml *= f.Value
		if f.AppliesToDaily {
			dailyScale *= f.Value
		}
	}

	variability := math.Max(minVariability, 1-profile.Confidence)
	low := ml * (1 - variability)
	high := ml * (1 + 2*variability)

	daily := ml / daysPerYear
	if profile.DailyRated() {
		daily = profile.DailyBase * dailyScale
	}

	return Estimate{
		Low:        math.Max(low, FloorLow),
		ML:         math.Max(ml, FloorML),
		High:       math.Max(high, FloorHigh),
		Daily:      math.Max(daily, FloorDaily),
		Confidence: profile.Confidence,
		Category:   profile.Category,
		Factors:    factors,
	}
}
