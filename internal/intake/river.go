package intake

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"

	"github.com/riskscan/scan-worker/pkg/metrics"
)

const (
	JobKind        = "scan_job"
	DefaultQueue   = "scans"
	MaxJobAttempts = 10

	transportRiver = "river"
)

// ScanJobArgs is stored in river_job.args. The payload is kept raw so that
// malformed jobs reach the handler and get recorded.
type ScanJobArgs struct {
	Payload json.RawMessage `json:"payload"`
}

func (ScanJobArgs) Kind() string {
	return JobKind
}

func (ScanJobArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{
		Queue:       DefaultQueue,
		MaxAttempts: MaxJobAttempts,
	}
}

type ScanWorker struct {
	river.WorkerDefaults[ScanJobArgs]
	handler *Handler
}

func NewScanWorker(handler *Handler) *ScanWorker {
	return &ScanWorker{handler: handler}
}

// Timeout disables river's job timeout. A scan is bounded by its module
// timeouts and must not be cancelled half way.
func (w *ScanWorker) Timeout(*river.Job[ScanJobArgs]) time.Duration {
	return -1
}

// Work returns an error only to make river retry the job.
func (w *ScanWorker) Work(ctx context.Context, job *river.Job[ScanJobArgs]) error {
	decision := w.handler.Handle(ctx, job.Args.Payload)
	metrics.IncreaseIntakeMessages(transportRiver, decision.String())
	if decision == Requeue {
		return fmt.Errorf("scan job %d requeued after attempt %d", job.ID, job.Attempt)
	}
	return nil
}

type RiverClient struct {
	*river.Client[pgx.Tx]
	queue string
}

type RiverOptions struct {
	Queue      string
	MaxWorkers int
}

// NewRiverClient builds a river client. Without a handler the client can only
// insert jobs.
func NewRiverClient(pool *pgxpool.Pool, handler *Handler, opts RiverOptions) (*RiverClient, error) {
	if opts.Queue == "" {
		opts.Queue = DefaultQueue
	}
	if opts.MaxWorkers <= 0 {
		opts.MaxWorkers = 1
	}

	riverCfg := &river.Config{
		CompletedJobRetentionPeriod: 24 * time.Hour,
		DiscardedJobRetentionPeriod: 7 * 24 * time.Hour,
	}
	if handler != nil {
		workers := river.NewWorkers()
		river.AddWorker(workers, NewScanWorker(handler))
		riverCfg.Workers = workers
		riverCfg.Queues = map[string]river.QueueConfig{
			opts.Queue: {MaxWorkers: opts.MaxWorkers},
		}
	}

	client, err := river.NewClient(riverpgxv5.New(pool), riverCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create river client: %w", err)
	}
	return &RiverClient{Client: client, queue: opts.Queue}, nil
}

// InsertJob enqueues the raw payload on the configured queue.
func (c *RiverClient) InsertJob(ctx context.Context, payload []byte) (int64, error) {
	result, err := c.Insert(ctx, ScanJobArgs{Payload: payload}, &river.InsertOpts{
		Queue:       c.queue,
		MaxAttempts: MaxJobAttempts,
	})
	if err != nil {
		return 0, err
	}
	return result.Job.ID, nil
}
