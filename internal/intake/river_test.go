package intake_test

import (
	"context"
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"

	"github.com/riskscan/scan-worker/internal/intake"
	"github.com/riskscan/scan-worker/internal/persistence"
	"github.com/riskscan/scan-worker/internal/store"
)

var _ = Describe("ScanJobArgs", func() {
	It("returns the job kind", func() {
		Expect(intake.ScanJobArgs{}.Kind()).To(Equal("scan_job"))
	})

	It("returns default insert options", func() {
		opts := intake.ScanJobArgs{}.InsertOpts()
		Expect(opts.Queue).To(Equal(intake.DefaultQueue))
		Expect(opts.MaxAttempts).To(Equal(intake.MaxJobAttempts))
	})
})

var _ = Describe("ScanWorker", func() {
	var (
		s        store.Store
		executor *fakeExecutor
		worker   *intake.ScanWorker
	)

	job := func(payload string) *river.Job[intake.ScanJobArgs] {
		return &river.Job[intake.ScanJobArgs]{
			JobRow: &rivertype.JobRow{ID: 7, Attempt: 1, Kind: intake.JobKind},
			Args:   intake.ScanJobArgs{Payload: []byte(payload)},
		}
	}

	BeforeEach(func() {
		var gateway *persistence.StoreGateway
		s, gateway = newTestStore()
		executor = &fakeExecutor{}
		worker = intake.NewScanWorker(intake.NewHandler(executor, gateway))
	})

	AfterEach(func() {
		s.Close()
	})

	It("disables the job timeout", func() {
		Expect(worker.Timeout(nil)).To(BeNumerically("<", 0))
	})

	It("completes an acknowledged job", func() {
		Expect(worker.Work(context.TODO(), job(validPayload))).To(Succeed())
		Expect(executor.Jobs()).To(HaveLen(1))
	})

	It("completes a malformed job so it is never retried", func() {
		Expect(worker.Work(context.TODO(), job(`{"scanId": ""}`))).To(Succeed())
		Expect(executor.Jobs()).To(BeEmpty())
	})

	It("fails a requeued job so river retries it", func() {
		executor.err = persistence.NewErrPersistence("update_scan_status", errors.New("timeout"))
		err := worker.Work(context.TODO(), job(validPayload))
		Expect(err).ToNot(BeNil())
		Expect(err.Error()).To(ContainSubstring("requeued"))
	})
})
