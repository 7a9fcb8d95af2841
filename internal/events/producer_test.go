package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	cloudevents "github.com/cloudevents/sdk-go/v2"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sethvargo/go-retry"
)

var _ = Describe("producer", Ordered, func() {
	Context("write", func() {
		It("writes successfully", func() {
			w := newTestWriter()
			kp := NewEventProducer(w, WithOutputTopic("reports"))

			err := kp.Write(context.TODO(), "kind1", "", []byte(`{"n":1}`))
			Expect(err).To(BeNil())
			Eventually(w.Len).Should(Equal(1))
			Expect(w.Get(0).Type()).To(Equal("kind1"))

			err = kp.Write(context.TODO(), "kind2", "", []byte(`{"n":2}`))
			Expect(err).To(BeNil())
			Eventually(w.Len).Should(Equal(2))
			Expect(w.topics[1]).To(Equal("reports"))

			Expect(kp.Close()).To(Succeed())
		})

		It("rejects payloads that are not json", func() {
			kp := NewEventProducer(newTestWriter())
			defer kp.Close()
			Expect(kp.Write(context.TODO(), "kind", "", []byte("not json"))).ToNot(Succeed())
		})

		It("publishes the scan completed event", func() {
			w := newTestWriter()
			kp := NewEventProducer(w)
			at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

			Expect(kp.ScanCompleted(context.TODO(), "scan-42", at)).To(Succeed())
			Expect(kp.Close()).To(Succeed())

			Expect(w.Len()).To(Equal(1))
			e := w.Get(0)
			Expect(e.Type()).To(Equal(ScanCompletedKind))
			Expect(e.Subject()).To(Equal("scan-42"))
			Expect(e.Source()).To(Equal(defaultSource))

			var payload ScanCompletedEvent
			Expect(json.Unmarshal(e.Data(), &payload)).To(Succeed())
			Expect(payload.ScanID).To(Equal("scan-42"))
			Expect(payload.Timestamp.Equal(at)).To(BeTrue())
		})

		It("sends pending events on close", func() {
			w := newTestWriter()
			w.delay = 5 * time.Millisecond
			kp := NewEventProducer(w)
			for i := 0; i < 10; i++ {
				Expect(kp.Write(context.TODO(), "kind", "", []byte(`{}`))).To(Succeed())
			}
			Expect(kp.Close()).To(Succeed())
			Expect(w.Len()).To(Equal(10))
		})

		It("retries a failing writer until it recovers", func() {
			w := newTestWriter()
			w.failures = 2
			kp := NewEventProducer(w, WithBackoff(fastBackoff(3)))

			Expect(kp.ScanCompleted(context.TODO(), "scan-7", time.Now())).To(Succeed())
			Expect(kp.Close()).To(Succeed())

			Expect(w.Len()).To(Equal(1))
			Expect(w.Get(0).Subject()).To(Equal("scan-7"))
			Expect(w.attempts).To(Equal(3))
		})

		It("drops an event once the retries are exhausted and keeps going", func() {
			w := newTestWriter()
			w.failures = 3
			kp := NewEventProducer(w, WithBackoff(fastBackoff(2)))

			Expect(kp.Write(context.TODO(), "kind", "first", []byte(`{}`))).To(Succeed())
			Expect(kp.Write(context.TODO(), "kind", "second", []byte(`{}`))).To(Succeed())
			Expect(kp.Close()).To(Succeed())

			Expect(w.Len()).To(Equal(1))
			Expect(w.Get(0).Subject()).To(Equal("second"))
		})
	})

	Context("kafka writer", func() {
		It("sends structured cloudevents keyed by subject", func() {
			cfg := mocks.NewTestConfig()
			cfg.Producer.Return.Successes = true
			sp := mocks.NewSyncProducer(GinkgoT(), cfg)
			sp.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
				if msg.Topic != "report-generation" {
					return errors.New("unexpected topic " + msg.Topic)
				}
				key, _ := msg.Key.Encode()
				if string(key) != "scan-1" {
					return errors.New("unexpected key " + string(key))
				}
				value, _ := msg.Value.Encode()
				var e cloudevents.Event
				if err := json.Unmarshal(value, &e); err != nil {
					return err
				}
				if e.Type() != ScanCompletedKind {
					return errors.New("unexpected type " + e.Type())
				}
				return nil
			})

			w := NewKafkaWriterFromProducer(sp)
			e := cloudevents.NewEvent()
			e.SetID("1")
			e.SetSource(defaultSource)
			e.SetType(ScanCompletedKind)
			e.SetSubject("scan-1")
			Expect(e.SetData(*cloudevents.StringOfApplicationJSON(), []byte(`{"scanId":"scan-1"}`))).To(Succeed())

			Expect(w.Write(context.TODO(), "report-generation", e)).To(Succeed())
			Expect(w.Close(context.TODO())).To(Succeed())
		})

		It("returns broker errors", func() {
			cfg := mocks.NewTestConfig()
			cfg.Producer.Return.Successes = true
			sp := mocks.NewSyncProducer(GinkgoT(), cfg)
			sp.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

			w := NewKafkaWriterFromProducer(sp)
			e := cloudevents.NewEvent()
			e.SetID("1")
			e.SetSource(defaultSource)
			e.SetType(ScanCompletedKind)

			Expect(w.Write(context.TODO(), "report-generation", e)).ToNot(Succeed())
			Expect(w.Close(context.TODO())).To(Succeed())
		})
	})
})

type testwriter struct {
	mu       sync.Mutex
	messages []cloudevents.Event
	topics   []string
	delay    time.Duration
	failures int
	attempts int
}

func fastBackoff(retries uint64) func() retry.Backoff {
	return func() retry.Backoff {
		return retry.WithMaxRetries(retries, retry.NewConstant(time.Millisecond))
	}
}

func newTestWriter() *testwriter {
	return &testwriter{}
}

func (t *testwriter) Write(ctx context.Context, topic string, e cloudevents.Event) error {
	if t.delay > 0 {
		time.Sleep(t.delay)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.attempts++
	if t.failures > 0 {
		t.failures--
		return errors.New("broker unavailable")
	}
	t.messages = append(t.messages, e)
	t.topics = append(t.topics, topic)
	return nil
}

func (t *testwriter) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.messages)
}

func (t *testwriter) Get(i int) cloudevents.Event {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.messages[i]
}

func (t *testwriter) Close(_ context.Context) error {
	return nil
}
