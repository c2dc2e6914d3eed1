// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Starhold Contributors

// Package observability provides HTTP endpoints for metrics and health
// checks, plus the Prometheus counters the data layer records into.
package observability

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/samber/oops"
)

// ReadinessChecker returns whether the service is ready to accept traffic.
type ReadinessChecker func() bool

// Package-level counters so the connector and account service can record
// outcomes without holding a Server reference.
var (
	storeOperations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "starhold_store_operations_total",
			Help: "Total number of document store operations by operation and status",
		},
		[]string{"op", "status"},
	)

	viewQueries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "starhold_view_queries_total",
			Help: "Total number of secondary-index view queries by view and status",
		},
		[]string{"view", "status"},
	)

	sessionsValidated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "starhold_sessions_validated_total",
			Help: "Total number of session validations by result",
		},
		[]string{"result"},
	)
)

// RecordStoreOperation increments the store-operation counter.
// Status is "ok", "not_found", or "error".
func RecordStoreOperation(op, status string) {
	storeOperations.WithLabelValues(op, status).Inc()
}

// RecordViewQuery increments the view-query counter.
// Status is "ok", "empty", "duplicate", or "error".
func RecordViewQuery(view, status string) {
	viewQueries.WithLabelValues(view, status).Inc()
}

// RecordSessionValidation increments the session-validation counter.
// Result is "valid", "expired", or "unknown".
func RecordSessionValidation(result string) {
	sessionsValidated.WithLabelValues(result).Inc()
}

// Metrics contains custom Prometheus metrics for Starhold.
type Metrics struct {
	SessionsValidated *prometheus.CounterVec
}

// NewMetrics registers the Starhold metrics with the given registry. The
// underlying counters are the shared package-level ones, so every registry
// exposes the same series.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	reg.MustRegister(sessionsValidated)
	reg.MustRegister(storeOperations)
	reg.MustRegister(viewQueries)

	return &Metrics{SessionsValidated: sessionsValidated}
}

// Server provides HTTP endpoints for observability (metrics and health probes).
type Server struct {
	addr       string
	listener   net.Listener
	httpServer *http.Server
	registry   *prometheus.Registry
	metrics    *Metrics
	isReady    ReadinessChecker
	running    atomic.Bool
}

// NewServer creates a new observability server.
// addr: listen address in "host:port" format (e.g., "127.0.0.1:9100").
func NewServer(addr string, readinessChecker ReadinessChecker) *Server {
	// Use a private registry to avoid polluting the global one
	registry := prometheus.NewRegistry()

	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	metrics := NewMetrics(registry)

	return &Server{
		addr:     addr,
		registry: registry,
		metrics:  metrics,
		isReady:  readinessChecker,
	}
}

// Metrics returns the custom metrics for recording application events.
func (s *Server) Metrics() *Metrics {
	return s.metrics
}

// Start begins serving observability endpoints.
// It returns an error channel that will receive any errors from the HTTP
// server after it starts; the channel is closed on graceful stop.
func (s *Server) Start() (<-chan error, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, oops.Errorf("observability server already running")
	}

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		s.running.Store(false)
		return nil, oops.With("addr", s.addr).Wrap(err)
	}
	s.listener = listener

	mux := http.NewServeMux()

	mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	}))
	mux.HandleFunc("/healthz/liveness", s.handleLiveness)
	mux.HandleFunc("/healthz/readiness", s.handleReadiness)

	httpSrv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.httpServer = httpSrv

	errCh := make(chan error, 1)

	go func() {
		defer close(errCh)
		// Use local httpSrv to avoid race with subsequent Start() calls
		if serveErr := httpSrv.Serve(listener); serveErr != nil && serveErr != http.ErrServerClosed {
			slog.Error("observability server error", "error", serveErr)
			errCh <- serveErr
		}
	}()

	slog.Info("observability server started", "addr", listener.Addr().String())
	return errCh, nil
}

// Stop gracefully shuts down the observability server.
func (s *Server) Stop(ctx context.Context) error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}

	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			// Restore running state on failure so the server can be stopped again
			s.running.Store(true)
			return oops.With("operation", "shutdown_observability_server").Wrap(err)
		}
	}

	slog.Info("observability server stopped")
	return nil
}

// Addr returns the address the server is listening on.
// Returns empty string if not running.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}

// handleLiveness returns 200 if the process is running.
func (s *Server) handleLiveness(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	//nolint:errcheck // health check write error is acceptable, client may disconnect
	w.Write([]byte("ok\n"))
}

// handleReadiness returns 200 once the index views are established, or 503
// before that. The process never serves lookups without its views, so
// readiness gates on them.
func (s *Server) handleReadiness(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")

	if s.isReady == nil || s.isReady() {
		w.WriteHeader(http.StatusOK)
		//nolint:errcheck // health check write error is acceptable, client may disconnect
		w.Write([]byte("ok\n"))
		return
	}

	w.WriteHeader(http.StatusServiceUnavailable)
	//nolint:errcheck // health check write error is acceptable, client may disconnect
	w.Write([]byte("not ready\n"))
}
