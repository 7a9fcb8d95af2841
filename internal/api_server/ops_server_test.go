package apiserver_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sethvargo/go-retry"

	apiserver "github.com/riskscan/scan-worker/internal/api_server"
	"github.com/riskscan/scan-worker/internal/config"
	"github.com/riskscan/scan-worker/internal/persistence"
	"github.com/riskscan/scan-worker/internal/scan"
	"github.com/riskscan/scan-worker/internal/store"
	"github.com/riskscan/scan-worker/pkg/metrics"
)

type brokenCounter struct{}

func (brokenCounter) CountByState(context.Context) (map[string]int64, error) {
	return nil, errors.New("database is down")
}

var _ = Describe("ops router", func() {
	var (
		s       store.Store
		gateway *persistence.StoreGateway
		srv     *httptest.Server
		ctx     context.Context
	)

	newRouter := func(counter metrics.StateCounter) http.Handler {
		registry := prometheus.NewRegistry()
		mw := metrics.NewMiddleware("test")
		registry.MustRegister(mw.Collectors()...)
		registry.MustRegister(metrics.NewScanStatusCollector(counter))
		return apiserver.NewOpsRouter(registry, mw, gateway, counter)
	}

	get := func(path string) (int, string) {
		resp, err := http.Get(srv.URL + path)
		Expect(err).To(BeNil())
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		Expect(err).To(BeNil())
		return resp.StatusCode, string(body)
	}

	BeforeEach(func() {
		cfg := config.NewDefault()
		cfg.Database.Type = "sqlite"
		cfg.Database.Name = ":memory:"
		db, err := store.InitDB(cfg)
		Expect(err).To(BeNil())
		s = store.NewStore(db)
		Expect(s.InitialMigration(context.TODO())).To(Succeed())
		gateway = persistence.NewStoreGateway(s, persistence.WithBackoff(func() retry.Backoff {
			return retry.WithMaxRetries(0, retry.NewConstant(time.Millisecond))
		}))
		ctx = context.TODO()
		srv = httptest.NewServer(newRouter(s.ScanStatus()))
	})

	AfterEach(func() {
		srv.Close()
		s.Close()
	})

	It("answers the health probe", func() {
		code, body := get("/health")
		Expect(code).To(Equal(http.StatusOK))
		Expect(body).To(ContainSubstring(`"ok"`))
	})

	It("is ready while the store answers", func() {
		code, _ := get("/ready")
		Expect(code).To(Equal(http.StatusOK))
	})

	It("is not ready when the store fails", func() {
		srv.Close()
		srv = httptest.NewServer(newRouter(brokenCounter{}))
		code, body := get("/ready")
		Expect(code).To(Equal(http.StatusServiceUnavailable))
		Expect(body).To(ContainSubstring("database is down"))
	})

	It("exposes scans by state and request metrics", func() {
		for _, id := range []string{"scan-1", "scan-2"} {
			_, err := gateway.EnsureQueued(ctx, scan.Job{ScanID: id, Domain: "example.com"})
			Expect(err).To(BeNil())
		}
		_, _ = get("/health")

		code, body := get("/metrics")
		Expect(code).To(Equal(http.StatusOK))
		Expect(body).To(ContainSubstring(`scan_worker_scans_by_state{state="queued"} 2`))
		Eventually(func() string {
			_, body := get("/metrics")
			return body
		}).Should(ContainSubstring(`scan_worker_http_requests_total{code="200",method="GET",path="/health",service="test"} 1`))
	})

	It("returns a scan status", func() {
		claimed, err := gateway.ClaimScan(ctx, persistence.ClaimRequest{Job: scan.Job{ScanID: "scan-1", Domain: "example.com"}})
		Expect(err).To(BeNil())
		Expect(claimed).To(BeTrue())

		code, body := get("/scans/scan-1")
		Expect(code).To(Equal(http.StatusOK))
		var resp map[string]any
		Expect(json.Unmarshal([]byte(body), &resp)).To(Succeed())
		Expect(resp["scanId"]).To(Equal("scan-1"))
		Expect(resp["state"]).To(Equal("processing"))
		Expect(resp["startedAt"]).ToNot(BeNil())
	})

	It("returns 404 for unknown scans", func() {
		code, _ := get("/scans/missing")
		Expect(code).To(Equal(http.StatusNotFound))
	})
})
