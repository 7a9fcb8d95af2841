package intake

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/IBM/sarama"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/riskscan/scan-worker/internal/persistence"
	"github.com/riskscan/scan-worker/internal/scan"
	"github.com/riskscan/scan-worker/internal/store"
)

// Queue delivers job payloads to the workers.
type Queue interface {
	Enqueue(ctx context.Context, scanID string, payload []byte) error
	// Pending reports whether an undelivered job for the scan is already queued.
	Pending(ctx context.Context, scanID string) (bool, error)
}

// Submitter creates the queued status of a scan and enqueues its job.
type Submitter struct {
	gateway  persistence.Gateway
	queue    Queue
	validate *validator.Validate
	log      *zap.SugaredLogger
}

func NewSubmitter(gateway persistence.Gateway, queue Queue) *Submitter {
	return &Submitter{
		gateway:  gateway,
		queue:    queue,
		validate: newValidator(),
		log:      zap.S().Named("submitter"),
	}
}

// Submit reports false when the scan already started, finished or still has
// a pending job.
func (s *Submitter) Submit(ctx context.Context, job scan.Job) (bool, error) {
	if err := s.validate.Struct(job); err != nil {
		return false, NewErrIntakeInvalid(describe(err))
	}

	created, err := s.gateway.EnsureQueued(ctx, job)
	if err != nil {
		return false, err
	}
	if !created {
		st, err := s.gateway.GetScanStatus(ctx, job.ScanID)
		if err != nil {
			return false, err
		}
		if scan.State(st.State) != scan.StateQueued {
			s.log.Infow("scan already submitted", "scan_id", job.ScanID, "state", st.State)
			return false, nil
		}
		pending, err := s.queue.Pending(ctx, job.ScanID)
		if err != nil {
			return false, err
		}
		if pending {
			s.log.Infow("scan job already pending", "scan_id", job.ScanID)
			return false, nil
		}
	}

	payload, err := json.Marshal(job)
	if err != nil {
		return false, err
	}
	if err := s.queue.Enqueue(ctx, job.ScanID, payload); err != nil {
		return false, fmt.Errorf("failed to enqueue scan %s: %w", job.ScanID, err)
	}
	s.log.Infow("scan submitted", "scan_id", job.ScanID, "domain", job.Domain)
	return true, nil
}

// RiverQueue inserts river jobs and looks up pending ones in river's table.
type RiverQueue struct {
	client *RiverClient
	jobs   store.RiverJob
}

func NewRiverQueue(client *RiverClient, jobs store.RiverJob) *RiverQueue {
	return &RiverQueue{client: client, jobs: jobs}
}

func (q *RiverQueue) Enqueue(ctx context.Context, _ string, payload []byte) error {
	_, err := q.client.InsertJob(ctx, payload)
	return err
}

func (q *RiverQueue) Pending(ctx context.Context, scanID string) (bool, error) {
	id, err := q.jobs.GetActiveJob(ctx, scanID)
	if err != nil {
		return false, err
	}
	return id != nil, nil
}

// KafkaQueue produces jobs keyed by scan id, so redeliveries of one scan stay
// on one partition.
type KafkaQueue struct {
	producer sarama.SyncProducer
	topic    string
}

func NewKafkaQueue(producer sarama.SyncProducer, topic string) *KafkaQueue {
	return &KafkaQueue{producer: producer, topic: topic}
}

func (q *KafkaQueue) Enqueue(_ context.Context, scanID string, payload []byte) error {
	_, _, err := q.producer.SendMessage(&sarama.ProducerMessage{
		Topic: q.topic,
		Key:   sarama.StringEncoder(scanID),
		Value: sarama.ByteEncoder(payload),
	})
	return err
}

// Pending is always false: a topic cannot be searched. A duplicate delivery
// is harmless since only one of them can claim the scan.
func (q *KafkaQueue) Pending(context.Context, string) (bool, error) {
	return false, nil
}

func (q *KafkaQueue) Close() error {
	return q.producer.Close()
}
