package status_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/riskscan/scan-worker/internal/config"
	"github.com/riskscan/scan-worker/internal/persistence"
	"github.com/riskscan/scan-worker/internal/scan"
	"github.com/riskscan/scan-worker/internal/scheduler"
	"github.com/riskscan/scan-worker/internal/status"
	"github.com/riskscan/scan-worker/internal/store"
	"github.com/sethvargo/go-retry"
)

var _ = Describe("Tracker", func() {
	var (
		s       store.Store
		gateway *persistence.StoreGateway
		ctx     context.Context
		job     scan.Job
	)

	BeforeEach(func() {
		cfg := config.NewDefault()
		cfg.Database.Type = "sqlite"
		cfg.Database.Name = ":memory:"
		db, err := store.InitDB(cfg)
		Expect(err).To(BeNil())
		s = store.NewStore(db)
		Expect(s.InitialMigration(context.TODO())).To(Succeed())

		gateway = persistence.NewStoreGateway(s, persistence.WithBackoff(func() retry.Backoff {
			return retry.WithMaxRetries(1, retry.NewConstant(time.Millisecond))
		}))
		ctx = context.TODO()
		job = scan.Job{ScanID: "scan-1", CompanyName: "Example", Domain: "example.com"}
	})

	AfterEach(func() {
		s.Close()
	})

	get := func() (state string, progress int, module string) {
		st, err := gateway.GetScanStatus(ctx, job.ScanID)
		Expect(err).To(BeNil())
		return st.State, st.Progress, st.CurrentModule
	}

	It("claims a scan only once across redeliveries", func() {
		first := status.NewTracker(ctx, gateway, job, 3)
		claimed, err := first.Begin(ctx)
		Expect(err).To(BeNil())
		Expect(claimed).To(BeTrue())

		second := status.NewTracker(ctx, gateway, job, 3)
		claimed, err = second.Begin(ctx)
		Expect(err).To(BeNil())
		Expect(claimed).To(BeFalse())
	})

	It("does not claim a completed scan", func() {
		t := status.NewTracker(ctx, gateway, job, 1)
		_, err := t.Begin(ctx)
		Expect(err).To(BeNil())
		transitioned, err := t.Complete(ctx, 0, "")
		Expect(err).To(BeNil())
		Expect(transitioned).To(BeTrue())

		again := status.NewTracker(ctx, gateway, job, 1)
		claimed, err := again.Begin(ctx)
		Expect(err).To(BeNil())
		Expect(claimed).To(BeFalse())

		transitioned, err = again.Complete(ctx, 0, "")
		Expect(err).To(BeNil())
		Expect(transitioned).To(BeFalse())
	})

	It("tracks the current module and caps progress below 100 while processing", func() {
		t := status.NewTracker(ctx, gateway, job, 2)
		_, err := t.Begin(ctx)
		Expect(err).To(BeNil())

		t.ModuleStarted("endpoint_discovery")
		_, progress, module := get()
		Expect(progress).To(Equal(0))
		Expect(module).To(Equal("endpoint_discovery"))

		t.ModuleFinished(scheduler.Result{ModuleName: "endpoint_discovery"})
		_, progress, _ = get()
		Expect(progress).To(Equal(50))

		t.ModuleStarted("client_secrets")
		t.ModuleFinished(scheduler.Result{ModuleName: "client_secrets"})
		state, progress, module := get()
		Expect(state).To(Equal(string(scan.StateProcessing)))
		Expect(progress).To(Equal(99))
		Expect(module).To(Equal("client_secrets"))
		Expect(t.Err()).To(BeNil())
	})

	It("reaches 100 only on completion", func() {
		t := status.NewTracker(ctx, gateway, job, 1)
		_, err := t.Begin(ctx)
		Expect(err).To(BeNil())
		t.ModuleFinished(scheduler.Result{ModuleName: "headers"})

		transitioned, err := t.Complete(ctx, 4, scan.SeverityHigh)
		Expect(err).To(BeNil())
		Expect(transitioned).To(BeTrue())

		st, err := gateway.GetScanStatus(ctx, job.ScanID)
		Expect(err).To(BeNil())
		Expect(st.State).To(Equal(string(scan.StateCompleted)))
		Expect(st.Progress).To(Equal(100))
		Expect(st.CurrentModule).To(BeEmpty())
		Expect(st.TotalFindings).To(Equal(4))
		Expect(st.MaxSeverity).To(Equal(string(scan.SeverityHigh)))
		Expect(st.CompletedAt).ToNot(BeNil())
	})

	It("keeps progress monotonic under concurrent module callbacks", func() {
		const modules = 12
		t := status.NewTracker(ctx, gateway, job, modules)
		_, err := t.Begin(ctx)
		Expect(err).To(BeNil())

		var wg sync.WaitGroup
		for i := 0; i < modules; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				name := fmt.Sprintf("m%d", i)
				t.ModuleStarted(name)
				t.ModuleFinished(scheduler.Result{ModuleName: name})
			}(i)
		}
		wg.Wait()

		_, progress, _ := get()
		Expect(progress).To(Equal(99))
		Expect(t.Progress()).To(Equal(99))
	})

	It("does not write progress after the scan finished", func() {
		t := status.NewTracker(ctx, gateway, job, 4)
		_, err := t.Begin(ctx)
		Expect(err).To(BeNil())
		_, err = t.Fail(ctx, "dns resolution failed")
		Expect(err).To(BeNil())

		t.ModuleFinished(scheduler.Result{ModuleName: "late"})
		state, progress, _ := get()
		Expect(state).To(Equal(string(scan.StateFailed)))
		Expect(progress).To(Equal(0))
	})

	It("fails a queued scan", func() {
		_, err := gateway.EnsureQueued(ctx, job)
		Expect(err).To(BeNil())

		t := status.NewTracker(ctx, gateway, job, 1)
		transitioned, err := t.Fail(ctx, "invalid target")
		Expect(err).To(BeNil())
		Expect(transitioned).To(BeTrue())

		st, err := gateway.GetScanStatus(ctx, job.ScanID)
		Expect(err).To(BeNil())
		Expect(st.State).To(Equal(string(scan.StateFailed)))
		Expect(st.ErrorMessage).To(Equal("invalid target"))

		transitioned, err = t.Fail(ctx, "again")
		Expect(err).To(BeNil())
		Expect(transitioned).To(BeFalse())
	})

	It("rejects only scans that never started", func() {
		_, err := gateway.EnsureQueued(ctx, job)
		Expect(err).To(BeNil())
		other := scan.Job{ScanID: "scan-2", Domain: "example.org"}
		claimed, err := gateway.ClaimScan(ctx, persistence.ClaimRequest{Job: other})
		Expect(err).To(BeNil())
		Expect(claimed).To(BeTrue())

		rejected, err := status.Reject(ctx, gateway, job.ScanID, "malformed payload")
		Expect(err).To(BeNil())
		Expect(rejected).To(BeTrue())

		rejected, err = status.Reject(ctx, gateway, other.ScanID, "malformed payload")
		Expect(err).To(BeNil())
		Expect(rejected).To(BeFalse())

		st, err := gateway.GetScanStatus(ctx, other.ScanID)
		Expect(err).To(BeNil())
		Expect(st.State).To(Equal(string(scan.StateProcessing)))
	})

	It("surfaces persistence errors from Begin", func() {
		s.Close()
		t := status.NewTracker(ctx, gateway, job, 1)
		_, err := t.Begin(ctx)
		Expect(err).ToNot(BeNil())
		var perr *persistence.ErrPersistence
		Expect(errors.As(err, &perr)).To(BeTrue())
	})
})
