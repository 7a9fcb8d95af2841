// Package scheduler runs the registered detection modules of one scan in two
// tiers under a process-wide concurrency cap.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/riskscan/scan-worker/internal/scan"
	"github.com/riskscan/scan-worker/pkg/metrics"
)

const (
	DefaultMaxConcurrency = 6
	DefaultMaxTargets     = 40
)

type Option func(*Scheduler)

func WithMaxConcurrency(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.maxConcurrency = int64(n)
		}
	}
}

// WithMaxTargets bounds the number of targets a per-target module is invoked with.
func WithMaxTargets(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.maxTargets = n
		}
	}
}

type Scheduler struct {
	modules        []Module
	descriptors    map[string]Descriptor
	maxConcurrency int64
	maxTargets     int
	sem            *semaphore.Weighted
	log            *zap.SugaredLogger
}

func New(opts ...Option) *Scheduler {
	s := &Scheduler{
		descriptors:    make(map[string]Descriptor),
		maxConcurrency: DefaultMaxConcurrency,
		maxTargets:     DefaultMaxTargets,
		log:            zap.S().Named("scheduler"),
	}
	for _, opt := range opts {
		opt(s)
	}
	// semaphore.Weighted serves waiters in FIFO order.
	s.sem = semaphore.NewWeighted(s.maxConcurrency)
	return s
}

// Register adds a module. It panics on invalid descriptors since modules are
// registered once at process start.
func (s *Scheduler) Register(m Module) {
	if m == nil {
		panic("scheduler: nil module")
	}
	d := m.Descriptor()
	if d.Name == "" {
		panic("scheduler: module without name")
	}
	if _, exists := s.descriptors[d.Name]; exists {
		panic(fmt.Sprintf("scheduler: module %q already registered", d.Name))
	}
	switch d.Tier {
	case Tier0:
		if len(d.DependsOn) > 0 {
			panic(fmt.Sprintf("scheduler: tier 0 module %q cannot depend on other modules", d.Name))
		}
		if d.PerTarget {
			panic(fmt.Sprintf("scheduler: per-target module %q must be tier 1", d.Name))
		}
	case Tier1:
		if len(d.DependsOn) == 0 {
			panic(fmt.Sprintf("scheduler: tier 1 module %q has no producers", d.Name))
		}
		for _, dep := range d.DependsOn {
			producer, ok := s.descriptors[dep]
			if !ok {
				panic(fmt.Sprintf("scheduler: module %q depends on unknown module %q", d.Name, dep))
			}
			if producer.Tier != Tier0 {
				panic(fmt.Sprintf("scheduler: module %q depends on tier 1 module %q", d.Name, dep))
			}
		}
	default:
		panic(fmt.Sprintf("scheduler: module %q has invalid tier %d", d.Name, d.Tier))
	}

	s.descriptors[d.Name] = d
	s.modules = append(s.modules, m)
}

// Modules returns the descriptors in registration order.
func (s *Scheduler) Modules() []Descriptor {
	out := make([]Descriptor, 0, len(s.modules))
	for _, m := range s.modules {
		out = append(out, s.descriptors[m.Descriptor().Name])
	}
	return out
}

// Run executes every registered module for the job. Tier 1 modules start
// after all tier 0 modules finished. Module failures never abort the run; they
// are reported in the results.
func (s *Scheduler) Run(ctx context.Context, job scan.Job, obs Observer) Report {
	if obs == nil {
		obs = noopObserver{}
	}
	start := time.Now()
	results := make([]Result, len(s.modules))

	var tier0, tier1 []int
	for i, m := range s.modules {
		if s.descriptors[m.Descriptor().Name].Tier == Tier0 {
			tier0 = append(tier0, i)
		} else {
			tier1 = append(tier1, i)
		}
	}

	s.runTier(ctx, job, nil, tier0, results, obs)

	if len(tier1) > 0 {
		tier0Results := make([]Result, 0, len(tier0))
		for _, i := range tier0 {
			tier0Results = append(tier0Results, results[i])
		}
		snapshot := newSnapshot(tier0Results)
		s.runTier(ctx, job, snapshot, tier1, results, obs)
	}

	return Report{Results: results, Duration: time.Since(start)}
}

func (s *Scheduler) runTier(ctx context.Context, job scan.Job, snapshot *Snapshot, indexes []int, results []Result, obs Observer) {
	var wg sync.WaitGroup
	for _, i := range indexes {
		m := s.modules[i]
		d := s.descriptors[m.Descriptor().Name]

		// Acquired in the launch loop so queued modules start in registration order.
		if err := s.sem.Acquire(ctx, 1); err != nil {
			results[i] = Result{
				ModuleName: d.Name,
				Tier:       d.Tier,
				Err:        NewErrModuleExecution(d.Name, err),
				Reason:     ReasonError,
			}
			obs.ModuleFinished(results[i])
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer s.sem.Release(1)
			results[i] = s.execute(ctx, m, d, job, snapshot, obs)
		}()
	}
	wg.Wait()
}

func (s *Scheduler) execute(ctx context.Context, m Module, d Descriptor, job scan.Job, snapshot *Snapshot, obs Observer) Result {
	obs.ModuleStarted(d.Name)
	start := time.Now()

	var res Result
	if d.PerTarget {
		res = s.runPerTarget(ctx, m, d, job, snapshot)
	} else {
		res = s.runOnce(ctx, m, d, job, snapshot)
	}
	res.ModuleName = d.Name
	res.Tier = d.Tier
	res.Duration = time.Since(start)
	res.Metrics.Duration = res.Duration

	metrics.ObserveModuleDuration(d.Name, res.Duration)
	if res.Failed() {
		s.log.Warnw("module failed", "module", d.Name, "scan_id", job.ScanID, "reason", res.Reason, "error", res.Err)
	} else {
		s.log.Debugw("module finished", "module", d.Name, "scan_id", job.ScanID, "duration", res.Duration,
			"artifacts", len(res.Artifacts), "findings", len(res.Findings))
	}

	obs.ModuleFinished(res)
	return res
}

func (s *Scheduler) runOnce(ctx context.Context, m Module, d Descriptor, job scan.Job, snapshot *Snapshot) Result {
	in := Input{Job: job, Snapshot: snapshot}
	out, reason, err := call(ctx, d.Name, timeoutOf(d), func(ctx context.Context) (Output, error) {
		return m.Run(ctx, in)
	})
	metrics.IncreaseModuleInvocations(d.Name, outcome(reason), 1)

	res := Result{Output: out, Err: err, Reason: reason}
	res.Metrics.Invocations = 1
	if err != nil {
		res.Output = Output{}
		res.Metrics.Failures = 1
		// a single failure can reach the threshold when it is 1
		if newBreaker(d.MaxConsecutiveFailures).Failure() {
			res.Metrics.CircuitBreakerTripped = true
			metrics.IncreaseCircuitBreakerTrips(d.Name)
			s.log.Warnw("circuit breaker opened", "module", d.Name, "scan_id", job.ScanID, "consecutive_failures", 1)
		}
	}
	return res
}

func (s *Scheduler) runPerTarget(ctx context.Context, m Module, d Descriptor, job scan.Job, snapshot *Snapshot) Result {
	targets := snapshot.TargetsFor(d.DependsOn, s.maxTargets)
	if len(targets) == 0 {
		s.log.Debugw("no targets available", "module", d.Name, "scan_id", job.ScanID, "producers", d.DependsOn)
	}

	var (
		res        Result
		parts      []Output
		lastErr    error
		lastReason Reason
	)
	br := newBreaker(d.MaxConsecutiveFailures)
	for i, target := range targets {
		if br.Open() {
			res.Metrics.Skipped = len(targets) - i
			break
		}

		in := Input{Job: job, Snapshot: snapshot, Target: target}
		out, reason, err := call(ctx, d.Name, timeoutOf(d), func(ctx context.Context) (Output, error) {
			return m.Run(ctx, in)
		})
		res.Metrics.Invocations++
		metrics.IncreaseModuleInvocations(d.Name, outcome(reason), 1)

		if err != nil {
			res.Metrics.Failures++
			lastErr, lastReason = err, reason
			s.log.Debugw("target failed", "module", d.Name, "scan_id", job.ScanID, "target", target, "error", err)
			if br.Failure() {
				res.Metrics.CircuitBreakerTripped = true
				metrics.IncreaseCircuitBreakerTrips(d.Name)
				s.log.Warnw("circuit breaker opened", "module", d.Name, "scan_id", job.ScanID,
					"consecutive_failures", br.max)
			}
			continue
		}
		br.Success()
		parts = append(parts, out)
	}
	if res.Metrics.Skipped > 0 {
		metrics.IncreaseModuleInvocations(d.Name, "skipped", res.Metrics.Skipped)
	}

	combined, reason, err := s.combine(ctx, m, d, Input{Job: job, Snapshot: snapshot}, parts)
	res.Output = combined

	switch {
	case err != nil:
		res.Err, res.Reason = err, reason
	case res.Metrics.CircuitBreakerTripped:
		res.Err = NewErrCircuitOpen(d.Name, br.max, res.Metrics.Skipped)
		res.Reason = ReasonCircuitBreakerTripped
	case len(parts) == 0 && lastErr != nil:
		res.Err, res.Reason = lastErr, lastReason
	}
	return res
}

func (s *Scheduler) combine(ctx context.Context, m Module, d Descriptor, in Input, parts []Output) (Output, Reason, error) {
	if reducer, ok := m.(Reducer); ok && len(parts) > 0 {
		return call(ctx, d.Name, reduceTimeoutOf(d), func(ctx context.Context) (Output, error) {
			return reducer.Reduce(ctx, in, parts)
		})
	}
	var out Output
	for _, p := range parts {
		out = out.merge(p)
	}
	return out, ReasonNone, nil
}

type outcomeValue struct {
	out       Output
	err       error
	recovered any
	panicked  bool
}

// call runs fn under its own timeout. A result arriving after the deadline
// is dropped on the buffered channel and never observed.
func call(ctx context.Context, name string, timeout time.Duration, fn func(ctx context.Context) (Output, error)) (Output, Reason, error) {
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan outcomeValue, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcomeValue{recovered: r, panicked: true}
			}
		}()
		out, err := fn(callCtx)
		done <- outcomeValue{out: out, err: err}
	}()

	select {
	case v := <-done:
		switch {
		case v.panicked:
			return Output{}, ReasonPanic, NewErrModulePanic(name, v.recovered)
		case v.err != nil && errors.Is(v.err, context.DeadlineExceeded) && callCtx.Err() != nil && ctx.Err() == nil:
			return Output{}, ReasonTimeout, NewErrModuleTimeout(name, timeout)
		case v.err != nil:
			return Output{}, ReasonError, NewErrModuleExecution(name, v.err)
		}
		return v.out, ReasonNone, nil
	case <-callCtx.Done():
		if ctx.Err() != nil {
			return Output{}, ReasonError, NewErrModuleExecution(name, ctx.Err())
		}
		return Output{}, ReasonTimeout, NewErrModuleTimeout(name, timeout)
	}
}

func timeoutOf(d Descriptor) time.Duration {
	if d.Timeout > 0 {
		return d.Timeout
	}
	return DefaultTimeout
}

func reduceTimeoutOf(d Descriptor) time.Duration {
	if d.ReduceTimeout > 0 {
		return d.ReduceTimeout
	}
	return DefaultTimeout
}

func outcome(r Reason) string {
	if r == ReasonNone {
		return "success"
	}
	return string(r)
}
