package apiserver

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/riskscan/scan-worker/internal/persistence"
	"github.com/riskscan/scan-worker/internal/store"
	"github.com/riskscan/scan-worker/pkg/log"
	"github.com/riskscan/scan-worker/pkg/metrics"
)

const (
	gracefulShutdownTimeout = 5 * time.Second
	readinessTimeout        = 2 * time.Second
)

// OpsServer serves the worker's probes, prometheus metrics and a read-only
// view of scan statuses.
type OpsServer struct {
	bindAddress string
	httpServer  *http.Server
	listener    net.Listener
}

func NewOpsServer(bindAddress string, listener net.Listener, gateway persistence.Gateway, counter metrics.StateCounter) *OpsServer {
	registry := prometheus.NewRegistry()
	mw := metrics.NewMiddleware("ops_server")
	registry.MustRegister(mw.Collectors()...)
	registry.MustRegister(metrics.NewScanStatusCollector(counter))

	return &OpsServer{
		bindAddress: bindAddress,
		listener:    listener,
		httpServer: &http.Server{
			Addr:              bindAddress,
			Handler:           NewOpsRouter(registry, mw, gateway, counter),
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

// NewOpsRouter builds the routes. Metrics registered on the default registry
// are served together with the ones of reg.
func NewOpsRouter(reg prometheus.Gatherer, mw *metrics.Middleware, gateway persistence.Gateway, counter metrics.StateCounter) http.Handler {
	router := chi.NewRouter()
	router.Use(
		chiMiddleware.RequestID,
		log.Logger(zap.L(), "ops_server"),
		mw.Handler,
		chiMiddleware.Recoverer,
	)

	router.Handle("/metrics", promhttp.HandlerFor(prometheus.Gatherers{prometheus.DefaultGatherer, reg}, promhttp.HandlerOpts{}))
	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		_ = render.Render(w, r, ProbeReply{Status: "ok"})
	})
	router.Get("/ready", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
		defer cancel()
		if _, err := counter.CountByState(ctx); err != nil {
			_ = render.Render(w, r, ProbeReply{Status: "unavailable", Error: err.Error(), code: http.StatusServiceUnavailable})
			return
		}
		_ = render.Render(w, r, ProbeReply{Status: "ok"})
	})
	router.Get("/scans/{scanID}", func(w http.ResponseWriter, r *http.Request) {
		st, err := gateway.GetScanStatus(r.Context(), chi.URLParam(r, "scanID"))
		switch {
		case errors.Is(err, store.ErrRecordNotFound):
			_ = render.Render(w, r, ErrorReply{Error: "scan not found", code: http.StatusNotFound})
		case err != nil:
			_ = render.Render(w, r, ErrorReply{Error: err.Error(), code: http.StatusInternalServerError})
		default:
			_ = render.Render(w, r, NewScanStatusReply(st))
		}
	})

	return router
}

func (s *OpsServer) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		ctxTimeout, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
		defer cancel()

		s.httpServer.SetKeepAlivesEnabled(false)
		_ = s.httpServer.Shutdown(ctxTimeout)
		zap.S().Named("ops_server").Info("ops server terminated")
	}()

	zap.S().Named("ops_server").Infof("serving ops endpoints: %s", s.bindAddress)
	if err := s.httpServer.Serve(s.listener); err != nil && !errors.Is(err, net.ErrClosed) && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
