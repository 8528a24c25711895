// Package api serves the HTTP control surface: rule listing and flag
// changes, manual runs, candidate submission, history and an SSE stream of
// engine events.
package api

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/mattjoyce/cliprun/internal/auth"
	"github.com/mattjoyce/cliprun/internal/dispatch"
	"github.com/mattjoyce/cliprun/internal/events"
	"github.com/mattjoyce/cliprun/internal/history"
	"github.com/mattjoyce/cliprun/internal/reload"
	"github.com/mattjoyce/cliprun/internal/rules"
	"github.com/mattjoyce/cliprun/internal/runner"
)

// Engine is the coordinator surface the API drives.
type Engine interface {
	OnCandidateText(text string)
	Trigger(ctx context.Context, ruleID int, text string, ov runner.Overrides) (*dispatch.Ticket, error)
	UpdateFlags(ctx context.Context, ruleID int, runInShell, autorun *bool) (rules.Rule, error)
	SelectAutorun(ctx context.Context, ruleID int) error
	Running() int
}

// RuleSource exposes the active rule set.
type RuleSource interface {
	Snapshot() []rules.Rule
	Get(id int) (rules.Rule, error)
	FindByLabel(label string) (rules.Rule, error)
	Generation() int
}

// HistorySource exposes the run ledger.
type HistorySource interface {
	All() []history.Record
	Get(index int) (history.Record, error)
	Len() int
	Replay(index int, w io.Writer) error
}

// ConfigReloader re-reads the config file on request.
type ConfigReloader interface {
	Reload(ctx context.Context, reason string, force bool) (reload.Result, error)
}

// Config holds API server configuration
type Config struct {
	Listen string
	// APIKey is the legacy single bearer token (full access).
	APIKey string
	// Tokens is an optional list of scoped bearer tokens.
	Tokens []auth.TokenConfig
	// MaxRunWait caps how long POST /rules/{id}/run?wait=true blocks.
	MaxRunWait time.Duration
}

// Server represents the HTTP API server
type Server struct {
	config    Config
	engine    Engine
	rules     RuleSource
	history   HistorySource
	reloader  ConfigReloader
	events    *events.Hub
	logger    *slog.Logger
	server    *http.Server
	startedAt time.Time
}

// New creates a new API server instance. reloader may be nil, in which case
// POST /reload answers 501.
func New(config Config, engine Engine, rs RuleSource, ledger HistorySource, reloader ConfigReloader, hub *events.Hub, logger *slog.Logger) *Server {
	if config.MaxRunWait <= 0 {
		config.MaxRunWait = 5 * time.Minute
	}
	if hub == nil {
		hub = events.NewHub(0)
	}
	return &Server{
		config:    config,
		engine:    engine,
		rules:     rs,
		history:   ledger,
		reloader:  reloader,
		events:    hub,
		logger:    logger,
		startedAt: time.Now(),
	}
}

// Start starts the HTTP server (blocking)
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         s.config.Listen,
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 0, // SSE and waited runs hold the response open
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("API server starting", "listen", s.config.Listen)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("API server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
}

// Handler returns the routed handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.setupRoutes()
}

// setupRoutes configures the HTTP router
func (s *Server) setupRoutes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	// Unauthenticated ops endpoint.
	r.Get("/healthz", s.handleHealthz)

	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.With(s.requireScopes(auth.ScopeRulesRead)).Get("/rules", s.handleListRules)
		r.With(s.requireScopes(auth.ScopeRulesWrite)).Patch("/rules/{id}", s.handlePatchRule)
		r.With(s.requireScopes(auth.ScopeRulesWrite)).Put("/autorun", s.handleSelectAutorun)
		r.With(s.requireScopes(auth.ScopeRulesWrite)).Post("/reload", s.handleReload)

		r.With(s.requireScopes(auth.ScopeRunsWrite)).Post("/rules/{id}/run", s.handleRunRule)
		r.With(s.requireScopes(auth.ScopeRunsWrite)).Post("/candidates", s.handleCandidate)

		r.With(s.requireScopes(auth.ScopeHistory)).Get("/history", s.handleListHistory)
		r.With(s.requireScopes(auth.ScopeHistory)).Get("/history/{index}", s.handleGetHistory)
		r.With(s.requireScopes(auth.ScopeHistory)).Get("/history/{index}/output", s.handleHistoryOutput)

		r.With(s.requireScopes(auth.ScopeEventsRead)).Get("/events", s.handleEvents)
	})

	return r
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
