package intake_test

import (
	"context"
	"errors"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sethvargo/go-retry"

	"github.com/riskscan/scan-worker/internal/config"
	"github.com/riskscan/scan-worker/internal/intake"
	"github.com/riskscan/scan-worker/internal/persistence"
	"github.com/riskscan/scan-worker/internal/scan"
	"github.com/riskscan/scan-worker/internal/service"
	"github.com/riskscan/scan-worker/internal/store"
	"github.com/riskscan/scan-worker/internal/store/model"
)

type fakeExecutor struct {
	mu   sync.Mutex
	jobs []scan.Job
	err  error
}

func (f *fakeExecutor) Execute(_ context.Context, job scan.Job) (*service.Outcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs = append(f.jobs, job)
	if f.err != nil {
		return nil, f.err
	}
	return &service.Outcome{Claimed: true, State: scan.StateCompleted, Transitioned: true}, nil
}

func (f *fakeExecutor) Jobs() []scan.Job {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]scan.Job(nil), f.jobs...)
}

func newTestStore() (store.Store, *persistence.StoreGateway) {
	cfg := config.NewDefault()
	cfg.Database.Type = "sqlite"
	cfg.Database.Name = ":memory:"
	db, err := store.InitDB(cfg)
	Expect(err).To(BeNil())
	s := store.NewStore(db)
	Expect(s.InitialMigration(context.TODO())).To(Succeed())

	gateway := persistence.NewStoreGateway(s, persistence.WithBackoff(func() retry.Backoff {
		return retry.WithMaxRetries(1, retry.NewConstant(time.Millisecond))
	}))
	return s, gateway
}

const validPayload = `{
	"scanId": "scan-1",
	"companyName": "Example Corp",
	"domain": "example.com",
	"originalDomain": "www.example.com",
	"tags": ["priority", "eu-west"],
	"createdAt": "2025-10-01T12:00:00Z"
}`

var _ = Describe("Handler", func() {
	var (
		s        store.Store
		gateway  *persistence.StoreGateway
		executor *fakeExecutor
		handler  *intake.Handler
		ctx      context.Context
	)

	intakeErrors := func(scanID string) model.ArtifactList {
		list, err := s.Artifact().List(ctx, store.NewArtifactQueryFilter().ByScanID(scanID).ByType(intake.ArtifactIntakeError), nil)
		Expect(err).To(BeNil())
		return list
	}

	BeforeEach(func() {
		s, gateway = newTestStore()
		executor = &fakeExecutor{}
		handler = intake.NewHandler(executor, gateway)
		ctx = context.TODO()
	})

	AfterEach(func() {
		s.Close()
	})

	Context("decode", func() {
		It("decodes a valid payload", func() {
			job, err := handler.Decode([]byte(validPayload))
			Expect(err).To(BeNil())
			Expect(job.ScanID).To(Equal("scan-1"))
			Expect(job.Domain).To(Equal("example.com"))
			Expect(job.Tags).To(ConsistOf("priority", "eu-west"))
			Expect(job.CreatedAt).To(Equal(time.Date(2025, 10, 1, 12, 0, 0, 0, time.UTC)))
		})

		DescribeTable("rejects malformed payloads",
			func(payload string) {
				_, err := handler.Decode([]byte(payload))
				Expect(err).ToNot(BeNil())
				Expect(intake.IsIntakeError(err)).To(BeTrue())
			},
			Entry("not json", `scan please`),
			Entry("missing scan id", `{"domain": "example.com"}`),
			Entry("missing domain", `{"scanId": "scan-1"}`),
			Entry("domain is not a hostname", `{"scanId": "scan-1", "domain": "http://example.com/"}`),
			Entry("scan id with spaces", `{"scanId": "scan 1", "domain": "example.com"}`),
			Entry("invalid tag", `{"scanId": "scan-1", "domain": "example.com", "tags": ["ok", "-bad-"]}`),
			Entry("wrong field type", `{"scanId": 42, "domain": "example.com"}`),
			Entry("invalid timestamp", `{"scanId": "scan-1", "domain": "example.com", "createdAt": "yesterday"}`),
		)
	})

	Context("handle", func() {
		It("acks a processed job", func() {
			Expect(handler.Handle(ctx, []byte(validPayload))).To(Equal(intake.Ack))
			Expect(executor.Jobs()).To(HaveLen(1))
		})

		It("requeues when the terminal state could not be persisted", func() {
			executor.err = persistence.NewErrPersistence("update_scan_status", errors.New("connection refused"))
			Expect(handler.Handle(ctx, []byte(validPayload))).To(Equal(intake.Requeue))
		})

		It("acks and records a malformed payload without running it", func() {
			payload := `{"scanId": "scan-9", "domain": "not a domain"}`
			Expect(handler.Handle(ctx, []byte(payload))).To(Equal(intake.Ack))
			Expect(executor.Jobs()).To(BeEmpty())

			list := intakeErrors("scan-9")
			Expect(list).To(HaveLen(1))
			Expect(list[0].Text).To(ContainSubstring("Domain"))
			Expect(list[0].MetaMap()["payload"]).To(Equal(payload))
		})

		It("files payloads without a scan id under unknown", func() {
			Expect(handler.Handle(ctx, []byte(`{"domain": 7`))).To(Equal(intake.Ack))
			Expect(intakeErrors("unknown")).To(HaveLen(1))
		})

		It("fails the queued status of a malformed job", func() {
			_, err := gateway.EnsureQueued(ctx, scan.Job{ScanID: "scan-9", Domain: "example.com"})
			Expect(err).To(BeNil())

			Expect(handler.Handle(ctx, []byte(`{"scanId": "scan-9"}`))).To(Equal(intake.Ack))

			st, err := gateway.GetScanStatus(ctx, "scan-9")
			Expect(err).To(BeNil())
			Expect(st.State).To(Equal(string(scan.StateFailed)))
			Expect(st.ErrorMessage).To(ContainSubstring("invalid scan job"))
		})

		It("still acks a malformed payload when nothing can be written", func() {
			s.Close()
			Expect(handler.Handle(ctx, []byte(`{}`))).To(Equal(intake.Ack))
		})
	})

	It("names decisions", func() {
		Expect(intake.Ack.String()).To(Equal("ack"))
		Expect(intake.Requeue.String()).To(Equal("requeue"))
	})
})
