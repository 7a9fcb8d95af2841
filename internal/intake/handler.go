// Package intake turns queue deliveries into scan executions and decides
// whether a delivery is acknowledged or handed back to the queue.
package intake

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/go-playground/validator/v10"

	"github.com/riskscan/scan-worker/internal/persistence"
	"github.com/riskscan/scan-worker/internal/scan"
	"github.com/riskscan/scan-worker/internal/service"
	"github.com/riskscan/scan-worker/internal/status"
	"github.com/riskscan/scan-worker/pkg/log"
)

const (
	ArtifactIntakeError = "intake_error"
	unknownScanID       = "unknown"
)

type Decision int

const (
	Ack Decision = iota
	Requeue
)

func (d Decision) String() string {
	switch d {
	case Ack:
		return "ack"
	case Requeue:
		return "requeue"
	default:
		return "unknown"
	}
}

// Executor runs one decoded job.
type Executor interface {
	Execute(ctx context.Context, job scan.Job) (*service.Outcome, error)
}

type Handler struct {
	executor Executor
	gateway  persistence.Gateway
	validate *validator.Validate
	logger   *log.StructuredLogger
}

func NewHandler(executor Executor, gateway persistence.Gateway) *Handler {
	return &Handler{
		executor: executor,
		gateway:  gateway,
		validate: newValidator(),
		logger:   log.NewDebugLogger("intake"),
	}
}

// Decode parses and validates a payload. Every error it returns is an ErrIntake.
func (h *Handler) Decode(payload []byte) (scan.Job, error) {
	var job scan.Job
	if err := json.Unmarshal(payload, &job); err != nil {
		return scan.Job{}, NewErrIntakeDecode(err)
	}
	if err := h.validate.Struct(job); err != nil {
		return scan.Job{}, NewErrIntakeInvalid(describe(err))
	}
	return job, nil
}

// Handle processes one delivery. Malformed payloads are recorded and
// acknowledged. Only a scan whose terminal state could not be persisted is
// requeued.
func (h *Handler) Handle(ctx context.Context, payload []byte) Decision {
	job, err := h.Decode(payload)
	if err != nil {
		h.reject(ctx, payload, err)
		return Ack
	}

	ctx = log.WithScanID(ctx, job.ScanID)
	tracer := h.logger.WithContext(ctx).Operation("handle_job").
		WithString("domain", job.Domain).
		Build()

	outcome, err := h.executor.Execute(ctx, job)
	if err != nil {
		tracer.Error(err).WithString("decision", Requeue.String()).Log()
		return Requeue
	}

	tracer.Success().
		WithBool("claimed", outcome.Claimed).
		WithString("state", string(outcome.State)).
		WithInt("findings", outcome.TotalFindings).
		Log()
	return Ack
}

// reject stores the intake error and fails the queued status when the scan
// can be identified. Write failures are logged only: the payload is dropped
// either way.
func (h *Handler) reject(ctx context.Context, payload []byte, cause error) {
	scanID := partialScanID(payload)
	ctx = log.WithScanID(ctx, scanID)
	tracer := h.logger.WithContext(ctx).Operation("reject_job").Build()
	tracer.Error(cause).Log()

	if _, err := h.gateway.InsertArtifact(ctx, persistence.ArtifactRecord{
		ScanID:   scanID,
		Type:     ArtifactIntakeError,
		Text:     cause.Error(),
		Severity: scan.SeverityInfo,
		Meta:     map[string]any{"payload": truncate(string(payload), 2048)},
	}); err != nil {
		tracer.Warn("failed to store intake error").WithParam("error", err).Log()
	}

	if scanID == unknownScanID {
		return
	}
	rejected, err := status.Reject(ctx, h.gateway, scanID, cause.Error())
	if err != nil {
		tracer.Warn("failed to fail queued scan").WithParam("error", err).Log()
		return
	}
	tracer.Step("status").WithBool("rejected", rejected).Log()
}

// partialScanID extracts the scan id from a payload that failed validation.
func partialScanID(payload []byte) string {
	var partial struct {
		ScanID any `json:"scanId"`
	}
	if err := json.Unmarshal(payload, &partial); err != nil {
		return unknownScanID
	}
	if id, ok := partial.ScanID.(string); ok && id != "" && len(id) <= 255 {
		return id
	}
	return unknownScanID
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// IsIntakeError reports whether err marks an unprocessable payload.
func IsIntakeError(err error) bool {
	var ierr *ErrIntake
	return errors.As(err, &ierr)
}
