// Package controller contains the HTTP API for the optimization
// engine: operator read endpoints, tenant settings control, and the
// internal telemetry ingest surface.
package controller

import (
	"context"
	"net/http"
	"time"

	"optiplane/internal/controller/handlers"
	"optiplane/internal/controller/middleware"
	"optiplane/internal/observability"
)

// Server is the HTTP server for the engine API.
type Server struct {
	httpServer *http.Server
}

// Deps carries the server's wiring.
type Deps struct {
	Store       handlers.StoreFactory
	Tenants     middleware.TenantResolver
	Recorder    handlers.ActionRecorder
	Security    middleware.SecurityRecorder
	Cycles      handlers.CycleRunner
	IngestToken string
	// Metrics is the Prometheus scrape handler, mounted at /metrics.
	Metrics http.Handler
	// EngineMetrics instruments the ingest path; may be nil.
	EngineMetrics *observability.EngineMetrics
}

// New creates a new engine API server.
func New(addr string, deps Deps) *Server {
	h := handlers.New(deps.Store, deps.Recorder, deps.Cycles, deps.EngineMetrics)
	authMW := middleware.AuthMiddleware(deps.Tenants, deps.Security)
	rateMW := middleware.RateLimitMiddleware()
	protected := func(fn http.HandlerFunc) http.Handler {
		return authMW(rateMW(fn))
	}

	mux := http.NewServeMux()

	mux.HandleFunc("POST /tenants", h.CreateTenant)

	// Public authenticated apis
	mux.Handle("GET /api/v1/patterns", protected(h.ListPatterns))
	mux.Handle("GET /api/v1/optimizations", protected(h.ListOptimizations))
	mux.Handle("GET /api/v1/alerts", protected(h.ListAlerts))
	mux.Handle("POST /api/v1/alerts/{id}/resolve", protected(h.ResolveAlert))
	mux.Handle("GET /api/v1/audit", protected(h.ListAudit))
	mux.Handle("GET /api/v1/compliance", protected(h.ListCompliance))
	mux.Handle("GET /api/v1/reports", protected(h.ListReports))
	mux.Handle("GET /api/v1/settings", protected(h.GetSettings))
	mux.Handle("PUT /api/v1/settings", protected(h.UpdateSettings))
	mux.Handle("POST /api/v1/cycle", protected(h.TriggerCycle))

	// Internal endpoints
	// These are called by task executors when a task completes.
	// these should run on a separate port or strict network rules.
	ingestMW := middleware.RequireInternalAuth(deps.IngestToken)
	mux.Handle("POST /internal/executions", ingestMW(http.HandlerFunc(h.IngestExecution)))

	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
	if deps.Metrics != nil {
		mux.Handle("GET /metrics", deps.Metrics)
	}

	return &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
	}
}

// Run starts the HTTP server. It blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	serverErr := make(chan error, 1)

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		return err
	case <-ctx.Done():
		shutDownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		return s.Shutdown(shutDownCtx)
	}
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
