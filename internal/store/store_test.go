package store_test

import (
	"context"

	"github.com/riskscan/scan-worker/internal/config"
	st "github.com/riskscan/scan-worker/internal/store"
	"github.com/riskscan/scan-worker/internal/store/model"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"gorm.io/gorm"
)

func newSqliteStore() (st.Store, *gorm.DB) {
	cfg := config.NewDefault()
	cfg.Database.Type = "sqlite"
	cfg.Database.Name = ":memory:"

	db, err := st.InitDB(cfg)
	Expect(err).To(BeNil())

	s := st.NewStore(db)
	Expect(s.InitialMigration(context.TODO())).To(Succeed())
	return s, db
}

var _ = Describe("Store", Ordered, func() {
	var (
		store  st.Store
		gormDB *gorm.DB
	)

	BeforeAll(func() {
		store, gormDB = newSqliteStore()
	})

	AfterAll(func() {
		store.Close()
	})

	AfterEach(func() {
		gormDB.Exec("DELETE FROM findings;")
		gormDB.Exec("DELETE FROM artifacts;")
	})

	Context("transaction", func() {
		It("commits an artifact", func() {
			ctx, err := store.NewTransactionContext(context.TODO())
			Expect(err).To(BeNil())

			a, err := store.Artifact().Create(ctx, model.Artifact{ScanID: "scan-1", Type: "endpoint", Text: "https://example.com"})
			Expect(err).To(BeNil())
			Expect(a.ID.String()).ToNot(BeEmpty())

			_, err = st.Commit(ctx)
			Expect(err).To(BeNil())

			count := 0
			err = gormDB.Raw("SELECT COUNT(*) from artifacts;").Scan(&count).Error
			Expect(err).To(BeNil())
			Expect(count).To(Equal(1))
		})

		It("rolls back an artifact", func() {
			ctx, err := store.NewTransactionContext(context.TODO())
			Expect(err).To(BeNil())

			_, err = store.Artifact().Create(ctx, model.Artifact{ScanID: "scan-1", Type: "endpoint"})
			Expect(err).To(BeNil())

			// visible inside the transaction
			artifacts, err := store.Artifact().List(ctx, st.NewArtifactQueryFilter().ByScanID("scan-1"), nil)
			Expect(err).To(BeNil())
			Expect(artifacts).To(HaveLen(1))

			_, err = st.Rollback(ctx)
			Expect(err).To(BeNil())

			count := 0
			err = gormDB.Raw("SELECT COUNT(*) from artifacts;").Scan(&count).Error
			Expect(err).To(BeNil())
			Expect(count).To(Equal(0))
		})

		It("joins an outer transaction", func() {
			ctx, err := store.NewTransactionContext(context.TODO())
			Expect(err).To(BeNil())
			inner, err := store.NewTransactionContext(ctx)
			Expect(err).To(BeNil())
			Expect(st.FromContext(inner)).To(BeIdenticalTo(st.FromContext(ctx)))
			_, err = st.Rollback(ctx)
			Expect(err).To(BeNil())
		})
	})

	Context("artifacts", func() {
		It("filters by scan and type", func() {
			ctx := context.TODO()
			for _, a := range []model.Artifact{
				{ScanID: "scan-1", Type: "endpoint", Text: "a"},
				{ScanID: "scan-1", Type: "client_secret_exposure", Text: "b", Severity: "HIGH", Meta: []byte(`{"rule":"aws"}`)},
				{ScanID: "scan-2", Type: "endpoint", Text: "c"},
			} {
				_, err := store.Artifact().Create(ctx, a)
				Expect(err).To(BeNil())
			}

			artifacts, err := store.Artifact().List(ctx, st.NewArtifactQueryFilter().ByScanID("scan-1").ByType("endpoint"), nil)
			Expect(err).To(BeNil())
			Expect(artifacts).To(HaveLen(1))
			Expect(artifacts[0].Text).To(Equal("a"))

			count, err := store.Artifact().Count(ctx, st.NewArtifactQueryFilter().BySeverity("HIGH"))
			Expect(err).To(BeNil())
			Expect(count).To(BeEquivalentTo(1))

			high, err := store.Artifact().List(ctx, st.NewArtifactQueryFilter().BySeverity("HIGH"), st.NewQueryOptions().WithLimit(1))
			Expect(err).To(BeNil())
			Expect(high[0].MetaMap()).To(HaveKeyWithValue("rule", "aws"))
		})
	})

	Context("findings", func() {
		It("links a finding to its artifact", func() {
			ctx := context.TODO()
			a, err := store.Artifact().Create(ctx, model.Artifact{ScanID: "scan-1", Type: "exposed_database"})
			Expect(err).To(BeNil())

			_, err = store.Finding().Create(ctx, model.Finding{
				ScanID:     "scan-1",
				ArtifactID: a.ID,
				Type:       "exposed_database",
				Severity:   "CRITICAL",
				EALLow:     40000,
				EALML:      100000,
				EALHigh:    140000,
				EALDaily:   273.97,
			})
			Expect(err).To(BeNil())

			findings, err := store.Finding().List(ctx, st.NewFindingQueryFilter().ByScanID("scan-1").ByArtifactID(a.ID.String()), nil)
			Expect(err).To(BeNil())
			Expect(findings).To(HaveLen(1))
			Expect(findings[0].EALML).To(BeNumerically("==", 100000))

			count, err := store.Finding().Count(ctx, st.NewFindingQueryFilter().ByType("other"))
			Expect(err).To(BeNil())
			Expect(count).To(BeZero())
		})
	})

	Context("scan status", func() {
		It("creates a status only once", func() {
			ctx := context.TODO()
			created, err := store.ScanStatus().CreateIfAbsent(ctx, model.ScanStatus{ScanID: "s-create", State: "queued"})
			Expect(err).To(BeNil())
			Expect(created).To(BeTrue())

			created, err = store.ScanStatus().CreateIfAbsent(ctx, model.ScanStatus{ScanID: "s-create", State: "processing"})
			Expect(err).To(BeNil())
			Expect(created).To(BeFalse())

			status, err := store.ScanStatus().Get(ctx, "s-create")
			Expect(err).To(BeNil())
			Expect(status.State).To(Equal("queued"))
		})

		It("applies conditional updates", func() {
			ctx := context.TODO()
			_, err := store.ScanStatus().CreateIfAbsent(ctx, model.ScanStatus{ScanID: "s-update", State: "processing", Progress: 50})
			Expect(err).To(BeNil())

			lower := 30
			n, err := store.ScanStatus().Update(ctx, st.NewScanStatusQueryFilter().ByScanID("s-update").ByProgressAtMost(lower), st.StatusPatch{Progress: &lower})
			Expect(err).To(BeNil())
			Expect(n).To(BeZero())

			completed := "completed"
			n, err = store.ScanStatus().Update(ctx, st.NewScanStatusQueryFilter().ByScanID("s-update").ByStates("processing"), st.StatusPatch{State: &completed})
			Expect(err).To(BeNil())
			Expect(n).To(BeEquivalentTo(1))

			n, err = store.ScanStatus().Update(ctx, st.NewScanStatusQueryFilter().ByScanID("s-update").ByStates("processing"), st.StatusPatch{State: &completed})
			Expect(err).To(BeNil())
			Expect(n).To(BeZero())

			status, err := store.ScanStatus().Get(ctx, "s-update")
			Expect(err).To(BeNil())
			Expect(status.Progress).To(Equal(50))
			Expect(status.State).To(Equal("completed"))
		})

		It("refuses an unfiltered update", func() {
			state := "failed"
			_, err := store.ScanStatus().Update(context.TODO(), st.NewScanStatusQueryFilter(), st.StatusPatch{State: &state})
			Expect(err).ToNot(BeNil())
		})

		It("counts statuses by state", func() {
			ctx := context.TODO()
			before, err := store.ScanStatus().CountByState(ctx)
			Expect(err).To(BeNil())

			for id, state := range map[string]string{"s-count-1": "queued", "s-count-2": "queued", "s-count-3": "failed"} {
				_, err := store.ScanStatus().CreateIfAbsent(ctx, model.ScanStatus{ScanID: id, State: state})
				Expect(err).To(BeNil())
			}

			after, err := store.ScanStatus().CountByState(ctx)
			Expect(err).To(BeNil())
			Expect(after["queued"] - before["queued"]).To(BeEquivalentTo(2))
			Expect(after["failed"] - before["failed"]).To(BeEquivalentTo(1))
		})

		It("returns not found", func() {
			_, err := store.ScanStatus().Get(context.TODO(), "missing")
			Expect(err).To(MatchError(st.ErrRecordNotFound))
		})
	})
})
