package intake_test

import (
	"context"
	"errors"
	"sync"

	"github.com/IBM/sarama"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/riskscan/scan-worker/internal/intake"
	"github.com/riskscan/scan-worker/internal/persistence"
	"github.com/riskscan/scan-worker/internal/store"
)

type fakeSession struct {
	ctx    context.Context
	mu     sync.Mutex
	marked []int64
}

func (f *fakeSession) Claims() map[string][]int32 { return nil }
func (f *fakeSession) MemberID() string { return "member-1" }
func (f *fakeSession) GenerationID() int32 { return 1 }
func (f *fakeSession) MarkOffset(string, int32, int64, string) {}
func (f *fakeSession) Commit() {}
func (f *fakeSession) ResetOffset(string, int32, int64, string) {}
func (f *fakeSession) Context() context.Context { return f.ctx }
func (f *fakeSession) MarkMessage(msg *sarama.ConsumerMessage, _ string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.marked = append(f.marked, msg.Offset)
}

func (f *fakeSession) Marked() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int64(nil), f.marked...)
}

type fakeClaim struct {
	messages chan *sarama.ConsumerMessage
}

func (f *fakeClaim) Topic() string { return "scan-jobs" }
func (f *fakeClaim) Partition() int32 { return 0 }
func (f *fakeClaim) InitialOffset() int64 { return 0 }
func (f *fakeClaim) HighWaterMarkOffset() int64 { return int64(len(f.messages)) }
func (f *fakeClaim) Messages() <-chan *sarama.ConsumerMessage { return f.messages }

func newClaim(payloads ...string) *fakeClaim {
	c := &fakeClaim{messages: make(chan *sarama.ConsumerMessage, len(payloads))}
	for i, p := range payloads {
		c.messages <- &sarama.ConsumerMessage{Topic: "scan-jobs", Offset: int64(i), Value: []byte(p)}
	}
	close(c.messages)
	return c
}

var _ = Describe("ConsumerGroupHandler", func() {
	var (
		s        store.Store
		gateway  *persistence.StoreGateway
		executor *fakeExecutor
		session  *fakeSession
	)

	BeforeEach(func() {
		s, gateway = newTestStore()
		executor = &fakeExecutor{}
		session = &fakeSession{ctx: context.TODO()}
	})

	AfterEach(func() {
		s.Close()
	})

	It("marks acknowledged messages, malformed ones included", func() {
		h := intake.NewConsumerGroupHandler(intake.NewHandler(executor, gateway))
		claim := newClaim(validPayload, `not json`, validPayload)

		Expect(h.ConsumeClaim(session, claim)).To(Succeed())
		Expect(session.Marked()).To(Equal([]int64{0, 1, 2}))
		Expect(executor.Jobs()).To(HaveLen(2))
	})

	It("stops at a requeued message and leaves it unmarked", func() {
		executor.err = persistence.NewErrPersistence("update_scan_status", errors.New("connection refused"))
		h := intake.NewConsumerGroupHandler(intake.NewHandler(executor, gateway))
		claim := newClaim(validPayload, validPayload)

		Expect(h.ConsumeClaim(session, claim)).To(Succeed())
		Expect(session.Marked()).To(BeEmpty())
		Expect(executor.Jobs()).To(HaveLen(1))
	})

	It("returns when the session ends", func() {
		ctx, cancel := context.WithCancel(context.TODO())
		session.ctx = ctx
		h := intake.NewConsumerGroupHandler(intake.NewHandler(executor, gateway))
		claim := &fakeClaim{messages: make(chan *sarama.ConsumerMessage)}

		done := make(chan error, 1)
		go func() { done <- h.ConsumeClaim(session, claim) }()
		cancel()
		Eventually(done).Should(Receive(BeNil()))
	})
})
