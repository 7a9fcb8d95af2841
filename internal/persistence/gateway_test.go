package persistence_test

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/riskscan/scan-worker/internal/config"
	"github.com/riskscan/scan-worker/internal/persistence"
	"github.com/riskscan/scan-worker/internal/scan"
	"github.com/riskscan/scan-worker/internal/store"
	"github.com/riskscan/scan-worker/internal/store/model"
	"github.com/sethvargo/go-retry"
)

type flakyArtifacts struct {
	store.Artifact
	failures int
	calls    int
}

func (f *flakyArtifacts) Create(ctx context.Context, a model.Artifact) (*model.Artifact, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, errors.New("connection reset by peer")
	}
	return f.Artifact.Create(ctx, a)
}

type flakyStore struct {
	store.Store
	artifacts *flakyArtifacts
}

func (f *flakyStore) Artifact() store.Artifact {
	return f.artifacts
}

func fastBackoff() retry.Backoff {
	return retry.WithMaxRetries(3, retry.NewConstant(time.Millisecond))
}

var _ = Describe("StoreGateway", func() {
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

		gateway = persistence.NewStoreGateway(s, persistence.WithBackoff(fastBackoff))
		ctx = context.TODO()
		job = scan.Job{ScanID: "scan-1", CompanyName: "Example", Domain: "example.com"}
	})

	AfterEach(func() {
		s.Close()
	})

	Context("claim", func() {
		It("claims an unknown scan once", func() {
			claimed, err := gateway.ClaimScan(ctx, persistence.ClaimRequest{Job: job})
			Expect(err).To(BeNil())
			Expect(claimed).To(BeTrue())

			claimed, err = gateway.ClaimScan(ctx, persistence.ClaimRequest{Job: job})
			Expect(err).To(BeNil())
			Expect(claimed).To(BeFalse())

			status, err := gateway.GetScanStatus(ctx, job.ScanID)
			Expect(err).To(BeNil())
			Expect(status.State).To(Equal(string(scan.StateProcessing)))
			Expect(status.StartedAt).ToNot(BeNil())
		})

		It("claims a queued scan", func() {
			created, err := gateway.EnsureQueued(ctx, job)
			Expect(err).To(BeNil())
			Expect(created).To(BeTrue())

			created, err = gateway.EnsureQueued(ctx, job)
			Expect(err).To(BeNil())
			Expect(created).To(BeFalse())

			claimed, err := gateway.ClaimScan(ctx, persistence.ClaimRequest{Job: job})
			Expect(err).To(BeNil())
			Expect(claimed).To(BeTrue())
		})

		It("does not claim a terminal scan", func() {
			_, err := gateway.ClaimScan(ctx, persistence.ClaimRequest{Job: job})
			Expect(err).To(BeNil())

			completed := scan.StateCompleted
			ok, err := gateway.UpdateScanStatus(ctx, persistence.StatusUpdate{
				ScanID:     job.ScanID,
				FromStates: []scan.State{scan.StateProcessing},
				Patch:      persistence.StatusPatch{State: &completed, Completed: true},
			})
			Expect(err).To(BeNil())
			Expect(ok).To(BeTrue())

			claimed, err := gateway.ClaimScan(ctx, persistence.ClaimRequest{Job: job})
			Expect(err).To(BeNil())
			Expect(claimed).To(BeFalse())
		})
	})

	Context("status updates", func() {
		It("guards progress", func() {
			_, err := gateway.ClaimScan(ctx, persistence.ClaimRequest{Job: job})
			Expect(err).To(BeNil())

			p := 60
			ok, err := gateway.UpdateScanStatus(ctx, persistence.StatusUpdate{ScanID: job.ScanID, ProgressAtMost: &p, Patch: persistence.StatusPatch{Progress: &p}})
			Expect(err).To(BeNil())
			Expect(ok).To(BeTrue())

			lower := 40
			ok, err = gateway.UpdateScanStatus(ctx, persistence.StatusUpdate{ScanID: job.ScanID, ProgressAtMost: &lower, Patch: persistence.StatusPatch{Progress: &lower}})
			Expect(err).To(BeNil())
			Expect(ok).To(BeFalse())

			status, err := gateway.GetScanStatus(ctx, job.ScanID)
			Expect(err).To(BeNil())
			Expect(status.Progress).To(Equal(60))
		})

		It("reports an unknown scan", func() {
			_, err := gateway.GetScanStatus(ctx, "missing")
			Expect(errors.Is(err, store.ErrRecordNotFound)).To(BeTrue())
		})
	})

	Context("artifacts and findings", func() {
		It("links a finding to its artifact and reads snapshots per producer", func() {
			id, err := gateway.InsertArtifact(ctx, persistence.ArtifactRecord{
				ScanID: job.ScanID,
				Type:   "endpoint",
				Text:   "https://example.com/app.js",
				Meta:   map[string]any{"status": 200},
			})
			Expect(err).To(BeNil())
			Expect(id).ToNot(BeEmpty())

			_, err = gateway.InsertArtifact(ctx, persistence.ArtifactRecord{ScanID: job.ScanID, Type: "other"})
			Expect(err).To(BeNil())

			findingID, err := gateway.InsertFinding(ctx, persistence.FindingRecord{
				ScanID:           job.ScanID,
				SourceArtifactID: id,
				Type:             "client_secret_exposure",
				Severity:         scan.SeverityHigh,
			})
			Expect(err).To(BeNil())
			Expect(findingID).ToNot(BeEmpty())

			snapshot, err := gateway.GetModuleInputSnapshot(ctx, persistence.SnapshotQuery{ScanID: job.ScanID, ProducerType: "endpoint"})
			Expect(err).To(BeNil())
			Expect(snapshot).To(HaveLen(1))
			Expect(snapshot[0].MetaMap()).To(HaveKeyWithValue("status", BeNumerically("==", 200)))
		})

		It("rejects a finding without a source artifact", func() {
			_, err := gateway.InsertFinding(ctx, persistence.FindingRecord{ScanID: job.ScanID, Type: "x"})
			Expect(err).ToNot(BeNil())
		})
	})

	Context("retry", func() {
		It("retries transient failures", func() {
			flaky := &flakyStore{Store: s, artifacts: &flakyArtifacts{Artifact: s.Artifact(), failures: 2}}
			g := persistence.NewStoreGateway(flaky, persistence.WithBackoff(fastBackoff))

			_, err := g.InsertArtifact(ctx, persistence.ArtifactRecord{ScanID: job.ScanID, Type: "endpoint"})
			Expect(err).To(BeNil())
			Expect(flaky.artifacts.calls).To(Equal(3))
		})

		It("escalates after the retries are exhausted", func() {
			flaky := &flakyStore{Store: s, artifacts: &flakyArtifacts{Artifact: s.Artifact(), failures: 10}}
			g := persistence.NewStoreGateway(flaky, persistence.WithBackoff(fastBackoff))

			_, err := g.InsertArtifact(ctx, persistence.ArtifactRecord{ScanID: job.ScanID, Type: "endpoint"})
			var perr *persistence.ErrPersistence
			Expect(errors.As(err, &perr)).To(BeTrue())
			Expect(flaky.artifacts.calls).To(Equal(4))
		})
	})
})
