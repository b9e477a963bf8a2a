// Package api exposes the Kestrel HTTP surface: behavioral ingest,
// assessment retrieval and access policy management.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/behaviorsec/kestrel/internal/domain"
	"github.com/behaviorsec/kestrel/internal/manager"
	"github.com/behaviorsec/kestrel/internal/policy"
)

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer creates a new API server.
func NewServer(cfg domain.ServerConfig, mgr *manager.Manager, engine *policy.Engine, repo domain.Repository, cache domain.Cache, version string) *Server {
	handler := NewHandler(mgr, engine, repo, cache, version)
	router := chi.NewRouter()

	// Global middleware stack
	router.Use(CORSMiddleware)         // CORS for in-page collectors
	router.Use(RecoverMiddleware)      // Recover from panics
	router.Use(TracingMiddleware)      // OpenTelemetry tracing
	router.Use(LoggingMiddleware)      // Request logging
	router.Use(middleware.RealIP)      // Extract real IP
	router.Use(middleware.Compress(5)) // Gzip compression

	// Health endpoints (no user required)
	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)

	// Access policy management (global, no user required)
	router.Get("/policies", handler.ListPolicies)
	router.Get("/policies/{id}", handler.GetPolicy)
	router.Post("/policies", handler.CreatePolicy)
	router.Delete("/policies/{id}", handler.DeletePolicy)
	router.Post("/policies/reload", handler.ReloadPolicies)

	// Per-user routes (user required)
	router.Route("/behavior", func(r chi.Router) {
		r.Use(UserMiddleware)

		// Telemetry ingest
		r.Post("/keystrokes", handler.IngestKeystrokes)
		r.Post("/mouse", handler.IngestMouse)
		r.Post("/device", handler.IngestDevice)

		// Current standing
		r.Get("/score", handler.GetScore)
		r.Get("/profile", handler.GetProfile)
	})

	router.With(UserMiddleware).Get("/anomalies", handler.ListAnomalies)

	return &Server{
		router:  router,
		handler: handler,
		config:  cfg,
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.config.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.config.WriteTimeout) * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the Chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Handler returns the handler for testing.
func (s *Server) Handler() *Handler {
	return s.handler
}
