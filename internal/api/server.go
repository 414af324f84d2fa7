// Package api provides the HTTP surface for Tally.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dealstack/tally/internal/catalog"
	"github.com/dealstack/tally/internal/domain"
	"github.com/dealstack/tally/internal/engine"
	"github.com/dealstack/tally/internal/override"
)

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer creates a new API server.
func NewServer(cfg domain.ServerConfig, repo domain.Repository, cache domain.Cache, cat *catalog.Service, eval *engine.Evaluator, overrides *override.Manager, version string) *Server {
	handler := NewHandler(repo, cache, cat, eval, overrides, version)
	router := chi.NewRouter()

	// Global middleware stack
	router.Use(CORSMiddleware)         // CORS for browser clients
	router.Use(RecoverMiddleware)      // Recover from panics
	router.Use(TracingMiddleware)      // OpenTelemetry tracing
	router.Use(LoggingMiddleware)      // Request logging
	router.Use(middleware.RealIP)      // Extract real IP
	router.Use(middleware.Compress(5)) // Gzip compression

	// Health endpoints (no tenant required)
	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)

	// API routes (tenant required)
	router.Route("/", func(r chi.Router) {
		r.Use(TenantMiddleware)

		// Rule catalog
		r.Post("/regimes", handler.CreateRegime)
		r.Get("/regimes", handler.ListRegimes)
		r.Get("/regimes/{id}", handler.GetRegime)
		r.Post("/regimes/{id}/rules", handler.CreateRuleVersion)
		r.Get("/regimes/{id}/rules", handler.ListRuleVersions)
		r.Get("/rules/{id}", handler.GetRule)
		r.Get("/rules/{id}/lines", handler.ListRuleLines)

		// Deal evaluation
		r.Post("/deals/{id}/units", handler.AddDealUnit)
		r.Get("/deals/{id}/units", handler.ListDealUnits)
		r.Post("/deals/{id}/preview", handler.PreviewDeal)
		r.Post("/deals/{id}/commit", handler.CommitDeal)
		r.Get("/deals/{id}/fees", handler.ListDealFees)
		r.Get("/deals/{id}/stamp", handler.GetDealStamp)
		r.Get("/deals/{id}/totals", handler.GetDealTotals)

		// Fee overrides
		r.Post("/fees/{id}/override", handler.OverrideFee)
	})

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
