package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/riskscan/scan-worker/internal/scan"
	"github.com/riskscan/scan-worker/internal/store"
	"github.com/riskscan/scan-worker/internal/store/model"
	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"
)

// Gateway is the only path from the worker to the database.
type Gateway interface {
	InsertArtifact(ctx context.Context, record ArtifactRecord) (string, error)
	InsertFinding(ctx context.Context, record FindingRecord) (string, error)
	// UpdateScanStatus reports whether the conditional update matched the document.
	UpdateScanStatus(ctx context.Context, update StatusUpdate) (bool, error)
	// GetModuleInputSnapshot lists the artifacts of one type stored for a scan,
	// oldest first.
	GetModuleInputSnapshot(ctx context.Context, query SnapshotQuery) ([]model.Artifact, error)
	// ClaimScan moves the scan to processing, creating its status when absent.
	// It reports false when the scan is already processing or terminal.
	ClaimScan(ctx context.Context, req ClaimRequest) (bool, error)
	GetScanStatus(ctx context.Context, scanID string) (*model.ScanStatus, error)
	// EnsureQueued creates a queued status for the job unless one exists.
	EnsureQueued(ctx context.Context, job scan.Job) (bool, error)
}

type StoreGateway struct {
	store   store.Store
	backoff func() retry.Backoff
	log     *zap.SugaredLogger
}

var _ Gateway = (*StoreGateway)(nil)

type Option func(*StoreGateway)

// WithBackoff replaces the retry policy. The factory is called once per operation.
func WithBackoff(fn func() retry.Backoff) Option {
	return func(g *StoreGateway) {
		g.backoff = fn
	}
}

func DefaultBackoff() retry.Backoff {
	return retry.WithMaxRetries(3, retry.NewExponential(100*time.Millisecond))
}

func NewStoreGateway(s store.Store, opts ...Option) *StoreGateway {
	g := &StoreGateway{
		store:   s,
		backoff: DefaultBackoff,
		log:     zap.S().Named("persistence"),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *StoreGateway) InsertArtifact(ctx context.Context, record ArtifactRecord) (string, error) {
	meta, err := encodeMeta(record.Meta)
	if err != nil {
		return "", fmt.Errorf("encoding meta of %s artifact: %w", record.Type, err)
	}

	var id string
	err = g.do(ctx, "insert_artifact", func(ctx context.Context) error {
		a, err := g.store.Artifact().Create(ctx, model.Artifact{
			ScanID:   record.ScanID,
			Type:     record.Type,
			Text:     record.Text,
			Severity: string(record.Severity),
			Meta:     meta,
		})
		if err != nil {
			return err
		}
		id = a.ID.String()
		return nil
	})
	return id, err
}

func (g *StoreGateway) InsertFinding(ctx context.Context, record FindingRecord) (string, error) {
	artifactID, err := uuid.Parse(record.SourceArtifactID)
	if err != nil {
		return "", fmt.Errorf("finding %s has no valid source artifact: %w", record.Type, err)
	}

	var id string
	err = g.do(ctx, "insert_finding", func(ctx context.Context) error {
		f, err := g.store.Finding().Create(ctx, model.Finding{
			ScanID:         record.ScanID,
			ArtifactID:     artifactID,
			Type:           record.Type,
			Severity:       string(record.Severity),
			Description:    record.Description,
			Recommendation: record.Recommendation,
			AttackCategory: record.AttackCategory,
			EALLow:         record.EALLow,
			EALML:          record.EALML,
			EALHigh:        record.EALHigh,
			EALDaily:       record.EALDaily,
			Confidence:     record.Confidence,
		})
		if err != nil {
			return err
		}
		id = f.ID.String()
		return nil
	})
	return id, err
}

func (g *StoreGateway) UpdateScanStatus(ctx context.Context, update StatusUpdate) (bool, error) {
	filter := store.NewScanStatusQueryFilter().ByScanID(update.ScanID)
	if len(update.FromStates) > 0 {
		filter = filter.ByStates(stateStrings(update.FromStates)...)
	}
	if update.ProgressAtMost != nil {
		filter = filter.ByProgressAtMost(*update.ProgressAtMost)
	}
	patch := toStorePatch(update.Patch, time.Now())

	var affected int64
	err := g.do(ctx, "update_scan_status", func(ctx context.Context) error {
		n, err := g.store.ScanStatus().Update(ctx, filter, patch)
		if err != nil {
			return err
		}
		affected = n
		return nil
	})
	return affected > 0, err
}

func (g *StoreGateway) GetModuleInputSnapshot(ctx context.Context, query SnapshotQuery) ([]model.Artifact, error) {
	var artifacts model.ArtifactList
	err := g.do(ctx, "get_module_input_snapshot", func(ctx context.Context) error {
		list, err := g.store.Artifact().List(ctx,
			store.NewArtifactQueryFilter().ByScanID(query.ScanID).ByType(query.ProducerType),
			store.NewQueryOptions().WithSortOrder(store.SortByCreatedTime))
		if err != nil {
			return err
		}
		artifacts = list
		return nil
	})
	return artifacts, err
}

func (g *StoreGateway) ClaimScan(ctx context.Context, req ClaimRequest) (bool, error) {
	now := time.Now()
	var claimed bool

	err := g.do(ctx, "claim_scan", func(ctx context.Context) (err error) {
		ctx, err = g.store.NewTransactionContext(ctx)
		if err != nil {
			return err
		}
		defer func() {
			if err != nil {
				_, _ = store.Rollback(ctx)
				return
			}
			_, err = store.Commit(ctx)
		}()

		status := newStatus(req.Job, scan.StateProcessing)
		status.StartedAt = &now
		created, err := g.store.ScanStatus().CreateIfAbsent(ctx, status)
		if err != nil {
			return err
		}
		if created {
			claimed = true
			return nil
		}

		processing := string(scan.StateProcessing)
		n, err := g.store.ScanStatus().Update(ctx,
			store.NewScanStatusQueryFilter().ByScanID(req.Job.ScanID).ByStates(string(scan.StateQueued)),
			store.StatusPatch{State: &processing, StartedAt: &now})
		if err != nil {
			return err
		}
		claimed = n == 1
		return nil
	})
	return claimed, err
}

func (g *StoreGateway) GetScanStatus(ctx context.Context, scanID string) (*model.ScanStatus, error) {
	var status *model.ScanStatus
	err := g.do(ctx, "get_scan_status", func(ctx context.Context) error {
		s, err := g.store.ScanStatus().Get(ctx, scanID)
		if err != nil {
			return err
		}
		status = s
		return nil
	})
	return status, err
}

func (g *StoreGateway) EnsureQueued(ctx context.Context, job scan.Job) (bool, error) {
	var created bool
	err := g.do(ctx, "ensure_queued", func(ctx context.Context) error {
		c, err := g.store.ScanStatus().CreateIfAbsent(ctx, newStatus(job, scan.StateQueued))
		if err != nil {
			return err
		}
		created = c
		return nil
	})
	return created, err
}

// do runs fn under the retry policy. Not-found and duplicate errors are
// returned as they are; anything else is retried and finally wrapped in
// ErrPersistence.
func (g *StoreGateway) do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	attempt := 0
	err := retry.Do(ctx, g.backoff(), func(ctx context.Context) error {
		attempt++
		err := fn(ctx)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, store.ErrRecordNotFound), errors.Is(err, store.ErrDuplicateKey):
			return err
		default:
			g.log.Warnw("persistence operation failed", "op", op, "attempt", attempt, "error", err)
			return retry.RetryableError(err)
		}
	})
	if err == nil || errors.Is(err, store.ErrRecordNotFound) || errors.Is(err, store.ErrDuplicateKey) {
		return err
	}
	return NewErrPersistence(op, err)
}

func newStatus(job scan.Job, state scan.State) model.ScanStatus {
	return model.ScanStatus{
		ScanID:      job.ScanID,
		CompanyName: job.CompanyName,
		Domain:      job.Domain,
		State:       string(state),
	}
}

func encodeMeta(meta map[string]any) ([]byte, error) {
	if len(meta) == 0 {
		return nil, nil
	}
	return json.Marshal(meta)
}

func stateStrings(states []scan.State) []string {
	out := make([]string, 0, len(states))
	for _, s := range states {
		out = append(out, string(s))
	}
	return out
}

func toStorePatch(p StatusPatch, now time.Time) store.StatusPatch {
	var patch store.StatusPatch
	if p.State != nil {
		state := string(*p.State)
		patch.State = &state
	}
	if p.MaxSeverity != nil {
		sev := string(*p.MaxSeverity)
		patch.MaxSeverity = &sev
	}
	patch.Progress = p.Progress
	patch.CurrentModule = p.CurrentModule
	patch.TotalFindings = p.TotalFindings
	patch.ErrorMessage = p.ErrorMessage
	if p.Started {
		patch.StartedAt = &now
	}
	if p.Completed {
		patch.CompletedAt = &now
	}
	return patch
}
