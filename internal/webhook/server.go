package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/mattjoyce/cliprun/internal/rules"
	"github.com/mattjoyce/cliprun/internal/runner"
)

// Server represents the webhook HTTP server.
type Server struct {
	config    Config
	submitter Submitter
	rules     RuleLookup
	logger    *slog.Logger
	server    *http.Server

	// endpoints maps URL paths to their configurations
	endpoints map[string]*EndpointConfig
}

// New creates a new webhook server instance.
func New(config Config, submitter Submitter, lookup RuleLookup, logger *slog.Logger) *Server {
	endpoints := make(map[string]*EndpointConfig)
	for i := range config.Endpoints {
		ep := &config.Endpoints[i]
		if ep.MaxBodySize == 0 {
			ep.MaxBodySize = DefaultMaxBodySize
		}
		if ep.SignatureHeader == "" {
			ep.SignatureHeader = DefaultSignatureHeader
		}
		endpoints[ep.Path] = ep
	}

	return &Server{
		config:    config,
		submitter: submitter,
		rules:     lookup,
		logger:    logger,
		endpoints: endpoints,
	}
}

// Start starts the webhook HTTP server (blocking).
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         s.config.Listen,
		Handler:      s.setupRoutes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("webhook server starting", "listen", s.config.Listen, "endpoints", len(s.endpoints))

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("webhook server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("webhook server shutdown failed: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("webhook server error: %w", err)
	}
}

// Handler returns the routed handler without listening.
func (s *Server) Handler() http.Handler {
	return s.setupRoutes()
}

func (s *Server) setupRoutes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	for path := range s.endpoints {
		r.Post(path, s.handleWebhook)
	}

	return r
}

// loggingMiddleware logs requests without their bodies.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.logger.Info("webhook request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
			"remote_addr", r.RemoteAddr,
		)
	})
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	endpoint, ok := s.endpoints[r.URL.Path]
	if !ok {
		s.respondError(w, http.StatusNotFound, "endpoint not found")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, endpoint.MaxBodySize+1))
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, "failed to read request body")
		return
	}
	if int64(len(body)) > endpoint.MaxBodySize {
		s.respondError(w, http.StatusRequestEntityTooLarge, "payload too large")
		return
	}

	signature := r.Header.Get(endpoint.SignatureHeader)
	if err := verifySignature(body, signature, endpoint.Secret); err != nil {
		s.logger.Warn("webhook signature rejected",
			"path", r.URL.Path,
			"header", endpoint.SignatureHeader,
			"present", signature != "",
		)
		s.respondError(w, http.StatusForbidden, "forbidden")
		return
	}

	text, err := extractText(r.Header.Get("Content-Type"), body)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	if endpoint.Rule == "" {
		s.submitter.OnCandidateText(text)
		s.logger.Info("webhook text submitted", "path", r.URL.Path)
		s.respondJSON(w, http.StatusAccepted, AcceptedResponse{Status: "accepted"})
		return
	}

	rule, err := s.lookupRule(endpoint.Rule)
	if err != nil {
		s.logger.Error("webhook rule not found", "path", r.URL.Path, "rule", endpoint.Rule)
		s.respondError(w, http.StatusNotFound, "rule not found")
		return
	}
	if _, err := s.submitter.Trigger(r.Context(), rule.ID, text, runner.Overrides{}); err != nil {
		s.logger.Error("failed to trigger webhook rule", "path", r.URL.Path, "rule", rule.Label, "error", err)
		s.respondError(w, http.StatusServiceUnavailable, "run not started")
		return
	}

	s.logger.Info("webhook run queued", "path", r.URL.Path, "rule_id", rule.ID, "rule", rule.Label)
	id := rule.ID
	s.respondJSON(w, http.StatusAccepted, AcceptedResponse{Status: "queued", RuleID: &id, Label: rule.Label})
}

func (s *Server) lookupRule(ref string) (rules.Rule, error) {
	if id, err := strconv.Atoi(ref); err == nil {
		return s.rules.Get(id)
	}
	return s.rules.FindByLabel(ref)
}

// extractText takes the "text" field of a JSON body, or the trimmed body
// for any other content type.
func extractText(contentType string, body []byte) (string, error) {
	mediaType, _, _ := mime.ParseMediaType(contentType)

	var text string
	if mediaType == "application/json" {
		var payload struct {
			Text string `json:"text"`
		}
		if err := json.Unmarshal(body, &payload); err != nil {
			return "", errors.New("invalid JSON body")
		}
		text = payload.Text
	} else {
		text = string(body)
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return "", errors.New("text is empty")
	}
	return text, nil
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, ErrorResponse{Error: message})
}
