package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/riskscan/scan-worker/internal/estimation"
	"github.com/riskscan/scan-worker/internal/persistence"
	"github.com/riskscan/scan-worker/internal/scan"
	"github.com/riskscan/scan-worker/internal/scheduler"
	"github.com/riskscan/scan-worker/internal/status"
	"github.com/riskscan/scan-worker/pkg/log"
	"github.com/riskscan/scan-worker/pkg/metrics"
)

const (
	ArtifactScanSummary = "scan_summary"
	ArtifactModuleError = "module_error"
	ArtifactFinding     = "finding_source"
)

// Publisher sends the downstream completion message.
type Publisher interface {
	ScanCompleted(ctx context.Context, scanID string, at time.Time) error
}

// Outcome describes what happened to one delivered job.
type Outcome struct {
	// Claimed is false when the scan was already processing or finished.
	Claimed bool
	// Resumed is true when a redelivery finished a scan from its stored summary.
	Resumed bool
	State   scan.State
	// Transitioned is true when this execution moved the scan to its terminal state.
	Transitioned  bool
	TotalFindings int
	MaxSeverity   scan.Severity
	Aggregate     estimation.Aggregate
	Report        scheduler.Report
}

// ScanService runs one scan end to end: claim, schedule the modules, price
// and persist their output, write the summary and finish the status.
type ScanService struct {
	gateway   persistence.Gateway
	scheduler *scheduler.Scheduler
	engine    *estimation.Engine
	publisher Publisher
	logger    *log.StructuredLogger
}

func NewScanService(gateway persistence.Gateway, sched *scheduler.Scheduler, engine *estimation.Engine, publisher Publisher) *ScanService {
	return &ScanService{
		gateway:   gateway,
		scheduler: sched,
		engine:    engine,
		publisher: publisher,
		logger:    log.NewDebugLogger("scan_service"),
	}
}

// Execute runs the job. Cancelling ctx does not stop a running scan.
// A returned error means the terminal state could not be persisted and the
// job should be delivered again.
func (s *ScanService) Execute(ctx context.Context, job scan.Job) (*Outcome, error) {
	ctx = log.WithScanID(context.WithoutCancel(ctx), job.ScanID)
	tracer := s.logger.WithContext(ctx).Operation("execute_scan").
		WithString("domain", job.Domain).
		WithString("company", job.CompanyName).
		Build()

	tracker := status.NewTracker(ctx, s.gateway, job, len(s.scheduler.Modules()))
	claimed, err := tracker.Begin(ctx)
	if err != nil {
		tracer.Error(err).Log()
		return nil, err
	}
	if !claimed {
		outcome, err := s.resume(ctx, tracker, job)
		if err != nil {
			tracer.Error(err).Log()
			return nil, err
		}
		tracer.Success().
			WithBool("claimed", false).
			WithBool("resumed", outcome.Resumed).
			Log()
		return outcome, nil
	}

	report := s.scheduler.Run(ctx, job, tracker)
	tracer.Step("modules_finished").
		WithInt("modules", len(report.Results)).
		WithInt("failed", len(report.Failed())).
		Log()

	outcome := &Outcome{Claimed: true, Report: report}
	totals, err := s.persistReport(ctx, job, report)
	if err != nil {
		return s.fail(ctx, tracker, job, outcome, NewErrScanFatal(job.ScanID, err))
	}
	outcome.TotalFindings = totals.findings
	outcome.MaxSeverity = totals.maxSeverity
	outcome.Aggregate = estimation.Summarize(totals.estimates)

	if _, err := s.gateway.InsertArtifact(ctx, s.summary(job, report, outcome, nil)); err != nil {
		return s.fail(ctx, tracker, job, outcome, NewErrScanFatal(job.ScanID, err))
	}

	transitioned, err := tracker.Complete(ctx, outcome.TotalFindings, outcome.MaxSeverity)
	if err != nil {
		tracer.Error(err).Log()
		return nil, err
	}
	outcome.State = scan.StateCompleted
	outcome.Transitioned = transitioned
	if transitioned {
		s.publish(ctx, job.ScanID)
	}

	tracer.Success().
		WithInt("findings", outcome.TotalFindings).
		WithString("max_severity", string(outcome.MaxSeverity)).
		WithParam("eal_ml", outcome.Aggregate.ML).
		WithBool("transitioned", transitioned).
		Log()
	return outcome, nil
}

// resume finishes a scan left processing by an execution whose terminal
// write failed after its summary was stored. The summary decides the terminal
// state. Without a summary the scan is still running, or its worker died
// before the end, and nothing is done.
func (s *ScanService) resume(ctx context.Context, tracker *status.Tracker, job scan.Job) (*Outcome, error) {
	outcome := &Outcome{Claimed: false}

	st, err := s.gateway.GetScanStatus(ctx, job.ScanID)
	if err != nil {
		return nil, err
	}
	if scan.State(st.State) != scan.StateProcessing {
		return outcome, nil
	}

	summaries, err := s.gateway.GetModuleInputSnapshot(ctx, persistence.SnapshotQuery{
		ScanID:       job.ScanID,
		ProducerType: ArtifactScanSummary,
	})
	if err != nil {
		return nil, err
	}
	if len(summaries) == 0 {
		return outcome, nil
	}
	meta := summaries[len(summaries)-1].MetaMap()
	outcome.Resumed = true

	tracer := s.logger.WithContext(ctx).Operation("resume_scan").Build()
	if meta["state"] == string(scan.StateFailed) {
		message, _ := meta["error"].(string)
		transitioned, err := tracker.Fail(ctx, message)
		if err != nil {
			return nil, err
		}
		outcome.State = scan.StateFailed
		outcome.Transitioned = transitioned
		tracer.Success().WithString("state", string(outcome.State)).WithBool("transitioned", transitioned).Log()
		return outcome, nil
	}

	total, _ := meta["total_findings"].(float64)
	severity, _ := meta["max_severity"].(string)
	outcome.TotalFindings = int(total)
	outcome.MaxSeverity = scan.Severity(severity)

	transitioned, err := tracker.Complete(ctx, outcome.TotalFindings, outcome.MaxSeverity)
	if err != nil {
		return nil, err
	}
	outcome.State = scan.StateCompleted
	outcome.Transitioned = transitioned
	if transitioned {
		s.publish(ctx, job.ScanID)
	}
	tracer.Success().WithString("state", string(outcome.State)).WithBool("transitioned", transitioned).Log()
	return outcome, nil
}

func (s *ScanService) publish(ctx context.Context, scanID string) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.ScanCompleted(ctx, scanID, time.Now()); err != nil {
		metrics.IncreaseEventsDropped()
		s.logger.WithContext(ctx).Operation("publish_completion").Build().
			Error(err).Log()
	}
}

func (s *ScanService) fail(ctx context.Context, tracker *status.Tracker, job scan.Job, outcome *Outcome, cause error) (*Outcome, error) {
	tracer := s.logger.WithContext(ctx).Operation("fail_scan").Build()

	if _, err := s.gateway.InsertArtifact(ctx, s.summary(job, outcome.Report, outcome, cause)); err != nil {
		tracer.Warn("failed to write summary").WithParam("error", err).Log()
	}

	transitioned, err := tracker.Fail(ctx, cause.Error())
	if err != nil {
		tracer.Error(err).Log()
		return nil, errors.Join(cause, err)
	}
	outcome.State = scan.StateFailed
	outcome.Transitioned = transitioned
	tracer.Error(cause).WithBool("transitioned", transitioned).Log()
	return outcome, nil
}

type reportTotals struct {
	findings    int
	maxSeverity scan.Severity
	estimates   []estimation.Estimate
}

// persistReport writes the artifacts and priced findings of every module,
// plus one module_error artifact per failed module.
func (s *ScanService) persistReport(ctx context.Context, job scan.Job, report scheduler.Report) (reportTotals, error) {
	var totals reportTotals
	for _, res := range report.Results {
		ids := make(map[string]string, len(res.Artifacts))
		for _, a := range res.Artifacts {
			meta := withModule(a.Meta, res.ModuleName)
			id, err := s.gateway.InsertArtifact(ctx, persistence.ArtifactRecord{
				ScanID:   job.ScanID,
				Type:     a.Type,
				Text:     a.Text,
				Severity: a.Severity,
				Meta:     meta,
			})
			if err != nil {
				return totals, err
			}
			if a.Key != "" {
				ids[a.Key] = id
			}
		}

		if res.Failed() {
			if _, err := s.gateway.InsertArtifact(ctx, moduleError(job, res)); err != nil {
				return totals, err
			}
		}

		for _, f := range res.Findings {
			sourceID, ok := ids[f.ArtifactKey]
			if !ok {
				id, err := s.gateway.InsertArtifact(ctx, persistence.ArtifactRecord{
					ScanID:   job.ScanID,
					Type:     ArtifactFinding,
					Text:     f.Description,
					Severity: f.Severity,
					Meta:     withModule(f.Meta, res.ModuleName),
				})
				if err != nil {
					return totals, err
				}
				sourceID = id
			}

			est := s.engine.Estimate(estimation.Input{
				FindingType: f.Type,
				Severity:    f.Severity,
				Domain:      job.Domain,
				Exposure:    f.Exposure,
			})
			if _, err := s.gateway.InsertFinding(ctx, persistence.FindingRecord{
				ScanID:           job.ScanID,
				SourceArtifactID: sourceID,
				Type:             f.Type,
				Severity:         f.Severity,
				Description:      f.Description,
				Recommendation:   f.Recommendation,
				AttackCategory:   string(est.Category),
				EALLow:           est.Low,
				EALML:            est.ML,
				EALHigh:          est.High,
				EALDaily:         est.Daily,
				Confidence:       est.Confidence,
			}); err != nil {
				return totals, err
			}

			metrics.IncreaseFindingsTotal(string(f.Severity))
			totals.findings++
			totals.maxSeverity = scan.MaxSeverity(totals.maxSeverity, f.Severity)
			totals.estimates = append(totals.estimates, est)
		}
	}
	return totals, nil
}

func (s *ScanService) summary(job scan.Job, report scheduler.Report, outcome *Outcome, cause error) persistence.ArtifactRecord {
	meta := map[string]any{
		"modules":     moduleMetrics(report),
		"duration_ms": report.Duration.Milliseconds(),
	}
	if cause != nil {
		meta["state"] = string(scan.StateFailed)
		meta["error"] = cause.Error()
		return persistence.ArtifactRecord{
			ScanID:   job.ScanID,
			Type:     ArtifactScanSummary,
			Text:     fmt.Sprintf("Scan of %s failed: %s", job.Domain, cause),
			Severity: scan.SeverityInfo,
			Meta:     meta,
		}
	}

	agg := outcome.Aggregate
	byCategory := make(map[string]int, len(agg.ByCategory))
	for c, n := range agg.ByCategory {
		byCategory[string(c)] = n
	}
	meta["state"] = string(scan.StateCompleted)
	meta["total_findings"] = outcome.TotalFindings
	meta["max_severity"] = string(outcome.MaxSeverity)
	meta["eal_low"] = agg.Low
	meta["eal_ml"] = agg.ML
	meta["eal_high"] = agg.High
	meta["eal_daily"] = agg.Daily
	meta["confidence"] = agg.Confidence
	meta["by_category"] = byCategory

	severity := outcome.MaxSeverity
	if severity == "" {
		severity = scan.SeverityInfo
	}
	return persistence.ArtifactRecord{
		ScanID:   job.ScanID,
		Type:     ArtifactScanSummary,
		Text:     fmt.Sprintf("%d findings on %s, expected annual loss %.0f (%.0f to %.0f)", outcome.TotalFindings, job.Domain, agg.ML, agg.Low, agg.High),
		Severity: severity,
		Meta:     meta,
	}
}

func moduleError(job scan.Job, res scheduler.Result) persistence.ArtifactRecord {
	return persistence.ArtifactRecord{
		ScanID:   job.ScanID,
		Type:     ArtifactModuleError,
		Text:     res.Err.Error(),
		Severity: scan.SeverityInfo,
		Meta: map[string]any{
			"module":                  res.ModuleName,
			"reason":                  string(res.Reason),
			"invocations":             res.Metrics.Invocations,
			"failures":                res.Metrics.Failures,
			"skipped":                 res.Metrics.Skipped,
			"circuit_breaker_tripped": res.Metrics.CircuitBreakerTripped,
		},
	}
}

func moduleMetrics(report scheduler.Report) map[string]any {
	out := make(map[string]any, len(report.Results))
	for _, res := range report.Results {
		out[res.ModuleName] = map[string]any{
			"invocations":             res.Metrics.Invocations,
			"failures":                res.Metrics.Failures,
			"skipped":                 res.Metrics.Skipped,
			"circuit_breaker_tripped": res.Metrics.CircuitBreakerTripped,
			"duration_ms":             res.Metrics.Duration.Milliseconds(),
			"reason":                  string(res.Reason),
		}
	}
	return out
}

func withModule(meta map[string]any, module string) map[string]any {
	out := make(map[string]any, len(meta)+1)
	for k, v := range meta {
		out[k] = v
	}
	out["module"] = module
	return out
}
