package scheduler

import (
	"context"
	"time"

	"github.com/riskscan/scan-worker/internal/scan"
)

// Tier is the scheduling level of a module. Tier 0 modules are independent;
// tier 1 modules consume the targets produced by tier 0 modules.
type Tier int

const (
	Tier0 Tier = 0
	Tier1 Tier = 1
)

const (
	DefaultTimeout                = 3 * time.Minute
	DefaultMaxConsecutiveFailures = 3
)

// Descriptor describes a module. Timeout bounds one invocation, which for a
// per-target module is one target; ReduceTimeout bounds Reducer.Reduce and
// defaults to DefaultTimeout.
type Descriptor struct {
	Name                   string
	Tier                   Tier
	Timeout                time.Duration
	ReduceTimeout          time.Duration
	MaxConsecutiveFailures int
	// DependsOn names the tier 0 producers a tier 1 module reads from.
	DependsOn []string
	// PerTarget makes the scheduler invoke the module once per snapshot target.
	PerTarget bool
}

// Input is what one invocation receives. Snapshot is nil for tier 0 modules;
// Target is set only for per-target invocations.
type Input struct {
	Job      scan.Job
	Snapshot *Snapshot
	Target   string
}

// Output is what one invocation produces. Targets are offered to tier 1
// consumers of the module.
type Output struct {
	Artifacts []scan.Artifact
	Findings  []scan.Finding
	Targets   []string
}

func (o Output) merge(other Output) Output {
	o.Artifacts = append(o.Artifacts, other.Artifacts...)
	o.Findings = append(o.Findings, other.Findings...)
	o.Targets = append(o.Targets, other.Targets...)
	return o
}

type Module interface {
	Descriptor() Descriptor
	Run(ctx context.Context, in Input) (Output, error)
}

// Reducer is implemented by per-target modules that post-process the outputs
// of all their successful invocations at once. Without it the outputs are
// concatenated.
type Reducer interface {
	Reduce(ctx context.Context, in Input, parts []Output) (Output, error)
}

// Reason tells why a module result failed.
type Reason string

const (
	ReasonNone                  Reason = ""
	ReasonError                 Reason = "error"
	ReasonTimeout               Reason = "timeout"
	ReasonPanic                 Reason = "panic"
	ReasonCircuitBreakerTripped Reason = "circuit_breaker_tripped"
)

type ModuleMetrics struct {
	Invocations           int
	Failures              int
	Skipped               int
	CircuitBreakerTripped bool
	Duration              time.Duration
}

// Result is the outcome of one module for one scan. A failed result may
// still carry the output of invocations that succeeded before the failure.
type Result struct {
	ModuleName string
	Tier       Tier
	Output
	Duration time.Duration
	Err      error
	Reason   Reason
	Metrics  ModuleMetrics
}

func (r Result) Failed() bool {
	return r.Err != nil
}

type Report struct {
	Results  []Result
	Duration time.Duration
}

// Metrics returns the per-module metrics keyed by module name.
func (r Report) Metrics() map[string]ModuleMetrics {
	out := make(map[string]ModuleMetrics, len(r.Results))
	for _, res := range r.Results {
		out[res.ModuleName] = res.Metrics
	}
	return out
}

func (r Report) Failed() []Result {
	var out []Result
	for _, res := range r.Results {
		if res.Failed() {
			out = append(out, res)
		}
	}
	return out
}

// Observer is told when modules start and finish. Calls come from several
// goroutines.
type Observer interface {
	ModuleStarted(name string)
	ModuleFinished(res Result)
}

type noopObserver struct{}

func (noopObserver) ModuleStarted(string)   {}
func (noopObserver) ModuleFinished(Result) {}
