package intake_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/riskscan/scan-worker/internal/intake"
	"github.com/riskscan/scan-worker/internal/persistence"
	"github.com/riskscan/scan-worker/internal/scan"
	"github.com/riskscan/scan-worker/internal/store"
)

type memoryQueue struct {
	mu       sync.Mutex
	payloads map[string][][]byte
	pending  bool
	err      error
}

func (q *memoryQueue) Enqueue(_ context.Context, scanID string, payload []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	if q.payloads == nil {
		q.payloads = map[string][][]byte{}
	}
	q.payloads[scanID] = append(q.payloads[scanID], payload)
	return nil
}

func (q *memoryQueue) Pending(context.Context, string) (bool, error) {
	return q.pending, nil
}

func (q *memoryQueue) Count(scanID string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.payloads[scanID])
}

var _ = Describe("Submitter", func() {
	var (
		s         store.Store
		gateway   *persistence.StoreGateway
		queue     *memoryQueue
		submitter *intake.Submitter
		ctx       context.Context
		job       scan.Job
	)

	BeforeEach(func() {
		s, gateway = newTestStore()
		queue = &memoryQueue{}
		submitter = intake.NewSubmitter(gateway, queue)
		ctx = context.TODO()
		job = scan.Job{ScanID: "scan-1", CompanyName: "Example", Domain: "example.com"}
	})

	AfterEach(func() {
		s.Close()
	})

	It("creates the queued status and enqueues a payload the handler accepts", func() {
		submitted, err := submitter.Submit(ctx, job)
		Expect(err).To(BeNil())
		Expect(submitted).To(BeTrue())

		st, err := gateway.GetScanStatus(ctx, job.ScanID)
		Expect(err).To(BeNil())
		Expect(st.State).To(Equal(string(scan.StateQueued)))

		Expect(queue.Count(job.ScanID)).To(Equal(1))
		decoded, err := intake.NewHandler(&fakeExecutor{}, gateway).Decode(queue.payloads[job.ScanID][0])
		Expect(err).To(BeNil())
		Expect(decoded.ScanID).To(Equal(job.ScanID))
	})

	It("rejects invalid jobs before touching the store", func() {
		job.Domain = ""
		submitted, err := submitter.Submit(ctx, job)
		Expect(err).ToNot(BeNil())
		Expect(intake.IsIntakeError(err)).To(BeTrue())
		Expect(submitted).To(BeFalse())

		_, err = gateway.GetScanStatus(ctx, job.ScanID)
		Expect(errors.Is(err, store.ErrRecordNotFound)).To(BeTrue())
	})

	It("resubmits a queued scan without a pending job", func() {
		_, err := submitter.Submit(ctx, job)
		Expect(err).To(BeNil())

		submitted, err := submitter.Submit(ctx, job)
		Expect(err).To(BeNil())
		Expect(submitted).To(BeTrue())
		Expect(queue.Count(job.ScanID)).To(Equal(2))
	})

	It("does not resubmit while a job is pending", func() {
		_, err := submitter.Submit(ctx, job)
		Expect(err).To(BeNil())
		queue.pending = true

		submitted, err := submitter.Submit(ctx, job)
		Expect(err).To(BeNil())
		Expect(submitted).To(BeFalse())
		Expect(queue.Count(job.ScanID)).To(Equal(1))
	})

	It("does not resubmit a started scan", func() {
		claimed, err := gateway.ClaimScan(ctx, persistence.ClaimRequest{Job: job})
		Expect(err).To(BeNil())
		Expect(claimed).To(BeTrue())

		submitted, err := submitter.Submit(ctx, job)
		Expect(err).To(BeNil())
		Expect(submitted).To(BeFalse())
		Expect(queue.Count(job.ScanID)).To(Equal(0))
	})

	It("surfaces enqueue failures", func() {
		queue.err = errors.New("queue unavailable")
		submitted, err := submitter.Submit(ctx, job)
		Expect(err).To(MatchError(ContainSubstring("queue unavailable")))
		Expect(submitted).To(BeFalse())
	})
})

var _ = Describe("KafkaQueue", func() {
	It("produces the payload keyed by scan id", func() {
		cfg := mocks.NewTestConfig()
		cfg.Producer.Return.Successes = true
		producer := mocks.NewSyncProducer(GinkgoT(), cfg)
		producer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
			key, err := msg.Key.Encode()
			if err != nil {
				return err
			}
			if string(key) != "scan-1" {
				return errors.New("unexpected key " + string(key))
			}
			if msg.Topic != "scan-jobs" {
				return errors.New("unexpected topic " + msg.Topic)
			}
			value, err := msg.Value.Encode()
			if err != nil {
				return err
			}
			var job scan.Job
			return json.Unmarshal(value, &job)
		})

		queue := intake.NewKafkaQueue(producer, "scan-jobs")
		Expect(queue.Enqueue(context.TODO(), "scan-1", []byte(validPayload))).To(Succeed())
		pending, err := queue.Pending(context.TODO(), "scan-1")
		Expect(err).To(BeNil())
		Expect(pending).To(BeFalse())
		Expect(queue.Close()).To(Succeed())
	})

	It("returns producer errors", func() {
		producer := mocks.NewSyncProducer(GinkgoT(), mocks.NewTestConfig())
		producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

		queue := intake.NewKafkaQueue(producer, "scan-jobs")
		Expect(queue.Enqueue(context.TODO(), "scan-1", []byte(validPayload))).To(MatchError(sarama.ErrOutOfBrokers))
		Expect(queue.Close()).To(Succeed())
	})
})
