package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/riskscan/scan-worker/pkg/metrics"
)

const (
	ScanCompletedKind string = "scan.completed"
	defaultTopic      string = "report-generation"
	defaultSource     string = "scan-worker"
	closeTimeout             = 5 * time.Second
)

// Writer is the interface to be implemented by the underlying writer.
type Writer interface {
	Write(ctx context.Context, topic string, e cloudevents.Event) error
	Close(ctx context.Context) error
}

// EventProducer is a wrapper around a Writer with a buffer, so callers are
// not blocked while the writer talks to the broker.
type EventProducer struct {
	buffer *buffer
	wakeCh chan struct{}
	doneCh chan struct{}
	exitCh chan struct{}
	writer Writer
	topic   string
	source  string
	backoff func() retry.Backoff
	log     *zap.SugaredLogger
}

// DefaultBackoff retries a failed write for about six seconds.
func DefaultBackoff() retry.Backoff {
	return retry.WithMaxRetries(5, retry.NewExponential(200*time.Millisecond))
}

func NewEventProducer(w Writer, opts ...ProducerOptions) *EventProducer {
	ep := &EventProducer{
		buffer: newBuffer(),
		wakeCh: make(chan struct{}, 1),
		doneCh: make(chan struct{}),
		exitCh: make(chan struct{}),
		writer: w,
		topic:   defaultTopic,
		source:  defaultSource,
		backoff: DefaultBackoff,
		log:     zap.S().Named("event_producer"),
	}

	for _, o := range opts {
		o(ep)
	}

	go ep.run()
	return ep
}

// Write queues one event of the given kind. The subject is used as the
// message key by writers supporting keys.
func (ep *EventProducer) Write(_ context.Context, kind, subject string, data []byte) error {
	if len(data) > 0 && !json.Valid(data) {
		return fmt.Errorf("event %s: payload is not valid json", kind)
	}
	ep.buffer.PushBack(&message{Kind: kind, Subject: subject, Data: data})

	select {
	case ep.wakeCh <- struct{}{}:
	default:
	}
	return nil
}

// ScanCompleted queues the completion message of a scan.
func (ep *EventProducer) ScanCompleted(ctx context.Context, scanID string, at time.Time) error {
	data, err := json.Marshal(ScanCompletedEvent{ScanID: scanID, Timestamp: at.UTC()})
	if err != nil {
		return err
	}
	return ep.Write(ctx, ScanCompletedKind, scanID, data)
}

// Close sends the pending events and closes the writer.
func (ep *EventProducer) Close() error {
	closeCtx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()

	close(ep.doneCh)
	select {
	case <-ep.exitCh:
	case <-closeCtx.Done():
		ep.log.Warnw("pending events dropped on close", "count", ep.buffer.Size())
	}

	g, ctx := errgroup.WithContext(closeCtx)
	g.Go(func() error {
		return ep.writer.Close(ctx)
	})
	if err := g.Wait(); err != nil {
		ep.log.Errorf("event producer closed with error: %s", err)
		return err
	}

	ep.log.Info("event producer closed")

	return nil
}

func (ep *EventProducer) run() {
	defer close(ep.exitCh)
	for {
		ep.drain()

		select {
		case <-ep.wakeCh:
		case <-ep.doneCh:
			ep.drain()
			return
		}
	}
}

// drain sends the buffered events in order. A failed write is retried with
// the same event id; an event still failing after the retries is dropped.
func (ep *EventProducer) drain() {
	for msg := ep.buffer.Pop(); msg != nil; msg = ep.buffer.Pop() {
		e := ep.newEvent(msg)
		attempt := 0
		err := retry.Do(context.TODO(), ep.backoff(), func(ctx context.Context) error {
			attempt++
			if err := ep.writer.Write(ctx, ep.topic, e); err != nil {
				ep.log.Warnw("failed to send message", "error", err, "event_id", e.ID(), "attempt", attempt)
				return retry.RetryableError(err)
			}
			return nil
		})
		if err != nil {
			metrics.IncreaseEventsDropped()
			ep.log.Errorw("message dropped", "error", err, "event_id", e.ID(), "type", e.Type(), "subject", e.Subject())
		}
	}
}

func (ep *EventProducer) newEvent(msg *message) cloudevents.Event {
	e := cloudevents.NewEvent()
	e.SetID(uuid.NewString())
	e.SetSource(ep.source)
	e.SetType(msg.Kind)
	e.SetTime(time.Now())
	if msg.Subject != "" {
		e.SetSubject(msg.Subject)
	}
	_ = e.SetData(*cloudevents.StringOfApplicationJSON(), msg.Data)
	return e
}
