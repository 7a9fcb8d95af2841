// Package status owns the lifecycle of one scan status document.
package status

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/riskscan/scan-worker/internal/persistence"
	"github.com/riskscan/scan-worker/internal/scan"
	"github.com/riskscan/scan-worker/internal/scheduler"
	"github.com/riskscan/scan-worker/pkg/metrics"
)

// maxProcessingProgress keeps 100 reserved for completed scans.
const maxProcessingProgress = 99

// Tracker moves one scan through queued -> processing -> completed|failed and
// reports module progress while processing. All writes of a tracker are
// serialized; the store additionally refuses progress going backwards.
type Tracker struct {
	gateway persistence.Gateway
	job     scan.Job
	total   int
	// ctx is used by the scheduler callbacks, which carry no context.
	ctx context.Context
	log *zap.SugaredLogger

	mu        sync.Mutex
	finished  int
	progress  int
	lastError error
}

var _ scheduler.Observer = (*Tracker)(nil)

func NewTracker(ctx context.Context, gateway persistence.Gateway, job scan.Job, totalModules int) *Tracker {
	return &Tracker{
		gateway: gateway,
		job:     job,
		total:   totalModules,
		ctx:     context.WithoutCancel(ctx),
		log:     zap.S().Named("status").With("scan_id", job.ScanID),
	}
}

// Begin claims the scan. It returns false when the scan is already processing
// or terminal, in which case nothing must run.
func (t *Tracker) Begin(ctx context.Context) (bool, error) {
	claimed, err := t.gateway.ClaimScan(ctx, persistence.ClaimRequest{Job: t.job})
	if err != nil {
		return false, err
	}
	if !claimed {
		t.log.Infow("scan already claimed, skipping")
	}
	return claimed, nil
}

func (t *Tracker) ModuleStarted(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.write(persistence.StatusUpdate{
		ScanID:     t.job.ScanID,
		FromStates: []scan.State{scan.StateProcessing},
		Patch:      persistence.StatusPatch{CurrentModule: &name},
	})
}

func (t *Tracker) ModuleFinished(res scheduler.Result) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.finished++
	progress := t.finished * 100 / max(t.total, 1)
	if progress > maxProcessingProgress {
		progress = maxProcessingProgress
	}
	if progress <= t.progress {
		return
	}
	t.progress = progress

	t.write(persistence.StatusUpdate{
		ScanID:         t.job.ScanID,
		FromStates:     []scan.State{scan.StateProcessing},
		ProgressAtMost: &progress,
		Patch:          persistence.StatusPatch{Progress: &progress},
	})
}

// Progress returns the last progress written by the tracker.
func (t *Tracker) Progress() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.progress
}

// Err returns the last error raised by a progress write.
func (t *Tracker) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastError
}

// Complete moves a processing scan to completed. It returns false when the
// scan was not processing, which happens on redelivery of a finished scan.
func (t *Tracker) Complete(ctx context.Context, totalFindings int, maxSeverity scan.Severity) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	state := scan.StateCompleted
	progress := 100
	empty := ""
	patch := persistence.StatusPatch{
		State:         &state,
		Progress:      &progress,
		CurrentModule: &empty,
		TotalFindings: &totalFindings,
		Completed:     true,
	}
	if maxSeverity != "" {
		patch.MaxSeverity = &maxSeverity
	}

	transitioned, err := t.gateway.UpdateScanStatus(ctx, persistence.StatusUpdate{
		ScanID:     t.job.ScanID,
		FromStates: scan.Sources(scan.StateCompleted),
		Patch:      patch,
	})
	if err != nil {
		return false, err
	}
	if transitioned {
		t.progress = progress
		metrics.IncreaseScansTotal(string(scan.StateCompleted))
	}
	return transitioned, nil
}

// Fail moves a queued or processing scan to failed and records the message.
func (t *Tracker) Fail(ctx context.Context, message string) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	state := scan.StateFailed
	empty := ""
	transitioned, err := t.gateway.UpdateScanStatus(ctx, persistence.StatusUpdate{
		ScanID:     t.job.ScanID,
		FromStates: scan.Sources(scan.StateFailed),
		Patch: persistence.StatusPatch{
			State:         &state,
			CurrentModule: &empty,
			ErrorMessage:  &message,
			Completed:     true,
		},
	})
	if err != nil {
		return false, err
	}
	if transitioned {
		metrics.IncreaseScansTotal(string(scan.StateFailed))
	}
	return transitioned, nil
}

func (t *Tracker) write(update persistence.StatusUpdate) {
	if _, err := t.gateway.UpdateScanStatus(t.ctx, update); err != nil {
		t.lastError = err
		t.log.Warnw("failed to update scan progress", "error", err)
	}
}

// Reject fails a scan that never started. Scans already processing or
// finished are left alone.
func Reject(ctx context.Context, gateway persistence.Gateway, scanID, message string) (bool, error) {
	state := scan.StateFailed
	rejected, err := gateway.UpdateScanStatus(ctx, persistence.StatusUpdate{
		ScanID:     scanID,
		FromStates: []scan.State{scan.StateQueued},
		Patch: persistence.StatusPatch{
			State:        &state,
			ErrorMessage: &message,
			Completed:    true,
		},
	})
	if err != nil {
		return false, err
	}
	if rejected {
		metrics.IncreaseScansTotal(string(scan.StateFailed))
	}
	return rejected, nil
}
