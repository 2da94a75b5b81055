// Package httpserver provides the HTTP API of the search engine.
package httpserver

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/helixir/lumen-search/internal/dedup"
	"github.com/helixir/lumen-search/internal/domain"
	"github.com/helixir/lumen-search/internal/governor"
	"github.com/helixir/lumen-search/internal/observability"
	"github.com/helixir/lumen-search/internal/orchestrator"
	"github.com/helixir/lumen-search/internal/probe"
	"github.com/helixir/lumen-search/internal/providers"
	"github.com/helixir/lumen-search/internal/sink"
)

// defaultMaxBodyBytes caps request bodies when Config.MaxBodyBytes is zero.
const defaultMaxBodyBytes = 10 << 20

// Searcher runs federated searches. Implemented by *orchestrator.Orchestrator.
type Searcher interface {
	Search(ctx context.Context, intent domain.SearchIntent) (*orchestrator.Stream, error)
	AggregatedStats(ctx context.Context, intent domain.SearchIntent) (*orchestrator.AggregatedStatistics, error)
}

// Prober runs statistics-only probes. Implemented by *probe.Client.
type Prober interface {
	Probe(ctx context.Context, query string) *probe.Report
}

// Deduplicator collapses duplicate records. Implemented by *dedup.Engine.
type Deduplicator interface {
	Deduplicate(docs []*domain.ScholarlyDocument) *dedup.Report
}

// UsageReporter exposes provider budgets. Implemented by *governor.Governor.
type UsageReporter interface {
	UsageStats(provider string) (governor.UsageStats, bool)
}

// ProviderLister lists the registered providers. Implemented by *providers.Registry.
type ProviderLister interface {
	All() []providers.SearchProvider
}

// Deps are the collaborators the handlers call.
type Deps struct {
	Searcher     Searcher
	Prober       Prober
	Deduplicator Deduplicator
	Usage        UsageReporter
	Providers    ProviderLister
	// Sink receives fused results and dedup reports. Nil discards them.
	Sink sink.DocumentSink
}

// Config holds HTTP server configuration.
type Config struct {
	Address      string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	MaxBodyBytes int64
	// AllowedOrigins enables CORS for browser clients. Empty disables it.
	AllowedOrigins []string
}

// Server is the HTTP API server.
type Server struct {
	router       chi.Router
	httpServer   *http.Server
	deps         Deps
	validate     *validator.Validate
	maxBodyBytes int64
	origins      []string
	logger       zerolog.Logger
}

// NewServer creates a new HTTP server.
func NewServer(cfg Config, deps Deps, logger zerolog.Logger) *Server {
	if deps.Sink == nil {
		deps.Sink = sink.NopSink{}
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBodyBytes
	}

	s := &Server{
		deps:         deps,
		validate:     newValidator(),
		maxBodyBytes: cfg.MaxBodyBytes,
		origins:      cfg.AllowedOrigins,
		logger:       observability.WithComponent(logger, "http_server"),
	}

	s.router = s.buildRouter()

	s.httpServer = &http.Server{
		Addr:         cfg.Address,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return s
}

// buildRouter creates the chi router with all middleware and routes.
func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if len(s.origins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: s.origins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Content-Type", correlationIDHeader},
			ExposedHeaders: []string{"X-Search-ID", correlationIDHeader},
			MaxAge:         300,
		}))
	}
	r.Use(correlationIDMiddleware)
	r.Use(jsonContentTypeMiddleware)

	r.Get("/healthz", s.healthHandler)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/search", s.search)
		r.Post("/stats", s.stats)
		r.Get("/probe", s.probe)
		r.Post("/dedup", s.dedup)
		r.Get("/providers", s.listProviders)
		r.Get("/governor/{provider}", s.governorUsage)
	})

	return r
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.logger.Info().Str("address", s.httpServer.Addr).Msg("HTTP server starting")
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("listen on HTTP address: %w", err)
	}
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// healthHandler returns basic liveness status.
func (s *Server) healthHandler(w http.ResponseWriter, _ *http.Request) {
	resp := healthResponse{Status: "ok"}
	if s.deps.Providers != nil {
		resp.Providers = len(s.deps.Providers.All())
	}
	writeJSON(w, http.StatusOK, resp)
}
