package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/mattjoyce/cliprun/internal/dispatch"
	"github.com/mattjoyce/cliprun/internal/events"
	"github.com/mattjoyce/cliprun/internal/history"
	"github.com/mattjoyce/cliprun/internal/rules"
	"github.com/mattjoyce/cliprun/internal/runner"
)

// maxBodyBytes bounds request bodies; candidate text is a clipboard payload.
const maxBodyBytes = 1 << 20

// handleHealthz handles GET /healthz (no auth).
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, HealthzResponse{
		Status:         "ok",
		UptimeSeconds:  int64(time.Since(s.startedAt).Seconds()),
		RulesLoaded:    len(s.rules.Snapshot()),
		RunsActive:     s.engine.Running(),
		HistoryRecords: s.history.Len(),
		Subscribers:    s.events.Subscribers(),
		StartedAt:      formatTime(s.startedAt),
	})
}

// handleListRules handles GET /rules.
func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	snapshot := s.rules.Snapshot()
	resp := RuleListResponse{
		Generation: s.rules.Generation(),
		Rules:      make([]RuleView, 0, len(snapshot)),
	}
	for _, rule := range snapshot {
		resp.Rules = append(resp.Rules, newRuleView(rule))
	}
	respondJSON(w, http.StatusOK, resp)
}

// handlePatchRule handles PATCH /rules/{id}.
func (s *Server) handlePatchRule(w http.ResponseWriter, r *http.Request) {
	rule, ok := s.lookupRule(w, r)
	if !ok {
		return
	}

	var req RuleFlagsRequest
	if !s.decodeBody(w, r, &req, true) {
		return
	}
	if req.RunInShell == nil && req.Autorun == nil {
		s.writeError(w, http.StatusBadRequest, "nothing to update (expected run_in_shell or autorun)")
		return
	}

	updated, err := s.engine.UpdateFlags(r.Context(), rule.ID, req.RunInShell, req.Autorun)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.events.Publish(events.TypeRulesUpdated, events.RulesUpdatedPayload{Reason: "flags", Count: len(s.rules.Snapshot())})
	s.logger.Info("rule flags updated via API", "rule_id", updated.ID, "shell", updated.RunInShell, "autorun", updated.Autorun)
	respondJSON(w, http.StatusOK, newRuleView(updated))
}

// handleSelectAutorun handles PUT /autorun.
func (s *Server) handleSelectAutorun(w http.ResponseWriter, r *http.Request) {
	var req AutorunRequest
	if !s.decodeBody(w, r, &req, true) {
		return
	}
	id := -1
	if req.RuleID != nil {
		id = *req.RuleID
	}

	if err := s.engine.SelectAutorun(r.Context(), id); err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.events.Publish(events.TypeRulesUpdated, events.RulesUpdatedPayload{Reason: "autorun", Count: len(s.rules.Snapshot())})
	s.handleListRules(w, r)
}

// handleRunRule handles POST /rules/{id}/run. With ?wait=true the response
// carries the finished record; otherwise the run is queued and 202 returned.
func (s *Server) handleRunRule(w http.ResponseWriter, r *http.Request) {
	rule, ok := s.lookupRule(w, r)
	if !ok {
		return
	}

	var req RunRequest
	if !s.decodeBody(w, r, &req, true) {
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		s.writeError(w, http.StatusBadRequest, "text is required")
		return
	}

	ticket, err := s.engine.Trigger(r.Context(), rule.ID, req.Text, runner.Overrides{
		RunInShell: req.RunInShell,
		Autorun:    req.Autorun,
	})
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.logger.Info("run requested via API", "rule_id", rule.ID, "label", rule.Label)

	if r.URL.Query().Get("wait") != "true" {
		respondJSON(w, http.StatusAccepted, RunAcceptedResponse{Status: "queued", RuleID: rule.ID, Label: rule.Label})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.config.MaxRunWait)
	defer cancel()
	rec, index, err := ticket.Wait(ctx)
	var execErr *runner.ExecutionError
	if errors.As(err, &execErr) && index >= 0 {
		// The record already describes the failure.
		s.logger.Warn("run could not be spawned", "rule_id", rule.ID, "error", execErr)
		err = nil
	}
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			respondJSON(w, http.StatusAccepted, RunAcceptedResponse{Status: "running", RuleID: rule.ID, Label: rule.Label})
			return
		}
		s.writeEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, newHistoryEntry(index, rec, true))
}

// handleCandidate handles POST /candidates: the text is treated exactly as
// if it had been copied to the clipboard.
func (s *Server) handleCandidate(w http.ResponseWriter, r *http.Request) {
	var req CandidateRequest
	if !s.decodeBody(w, r, &req, false) {
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		s.writeError(w, http.StatusBadRequest, "text is required")
		return
	}

	set := rules.Select(req.Text, s.rules.Snapshot())
	s.engine.OnCandidateText(req.Text)

	resp := CandidateResponse{
		Matches:           make([]RuleView, 0, len(set.Matches)),
		AutorunConflict:   set.AutorunConflict,
		AutorunCandidates: set.AutorunCandidates,
	}
	for _, m := range set.Matches {
		resp.Matches = append(resp.Matches, newRuleView(m))
	}
	if set.AutorunChoice != nil {
		id := set.AutorunChoice.ID
		resp.AutorunRuleID = &id
	}
	respondJSON(w, http.StatusAccepted, resp)
}

// handleListHistory handles GET /history. Output is left out; ?limit=N
// returns the N most recent records.
func (s *Server) handleListHistory(w http.ResponseWriter, r *http.Request) {
	all := s.history.All()
	start := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 0 {
			s.writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		if limit < len(all) {
			start = len(all) - limit
		}
	}

	resp := HistoryListResponse{Total: len(all), Records: make([]HistoryEntry, 0, len(all)-start)}
	for i := start; i < len(all); i++ {
		resp.Records = append(resp.Records, newHistoryEntry(i, all[i], false))
	}
	respondJSON(w, http.StatusOK, resp)
}

// handleGetHistory handles GET /history/{index}.
func (s *Server) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	index, ok := s.historyIndex(w, r)
	if !ok {
		return
	}
	rec, err := s.history.Get(index)
	if err != nil {
		s.writeError(w, http.StatusNotFound, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, newHistoryEntry(index, rec, true))
}

// handleHistoryOutput handles GET /history/{index}/output: the captured
// output replayed verbatim as plain text.
func (s *Server) handleHistoryOutput(w http.ResponseWriter, r *http.Request) {
	index, ok := s.historyIndex(w, r)
	if !ok {
		return
	}
	if _, err := s.history.Get(index); err != nil {
		s.writeError(w, http.StatusNotFound, err.Error())
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if err := s.history.Replay(index, w); err != nil {
		s.logger.Warn("history replay interrupted", "index", index, "error", err)
	}
}

// handleReload handles POST /reload.
func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	if s.reloader == nil {
		s.writeError(w, http.StatusNotImplemented, "reload is not available")
		return
	}
	var req ReloadRequest
	if !s.decodeBody(w, r, &req, true) {
		return
	}

	res, err := s.reloader.Reload(r.Context(), "api", req.Force)
	if err != nil {
		s.writeError(w, http.StatusUnprocessableEntity, "reload rejected: "+err.Error())
		return
	}
	resp := ReloadResponse{
		Path:        res.Path,
		Fingerprint: res.Fingerprint,
		Rules:       res.Rules,
		Unchanged:   res.Unchanged,
	}
	for _, e := range res.RuleErrors {
		resp.Errors = append(resp.Errors, e.Error())
	}
	respondJSON(w, http.StatusOK, resp)
}

// lookupRule resolves {id} as a numeric rule id, falling back to a label.
func (s *Server) lookupRule(w http.ResponseWriter, r *http.Request) (rules.Rule, bool) {
	raw := chi.URLParam(r, "id")
	var (
		rule rules.Rule
		err  error
	)
	if id, convErr := strconv.Atoi(raw); convErr == nil {
		rule, err = s.rules.Get(id)
	} else {
		rule, err = s.rules.FindByLabel(raw)
	}
	if err != nil {
		s.writeError(w, http.StatusNotFound, fmt.Sprintf("rule %q not found", raw))
		return rules.Rule{}, false
	}
	return rule, true
}

func (s *Server) historyIndex(w http.ResponseWriter, r *http.Request) (int, bool) {
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil || index < 0 {
		s.writeError(w, http.StatusBadRequest, "index must be a non-negative integer")
		return 0, false
	}
	return index, true
}

// decodeBody reads a JSON body into v. An empty body is accepted when
// optional is set.
func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, v any, optional bool) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if optional && errors.Is(err, io.EOF) {
			return true
		}
		s.writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}

// writeEngineError maps coordinator errors onto status codes.
func (s *Server) writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, rules.ErrRuleNotFound):
		s.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, dispatch.ErrStopped), errors.Is(err, dispatch.ErrNotStarted):
		s.writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, history.ErrRecordNotFound):
		s.writeError(w, http.StatusNotFound, err.Error())
	default:
		s.logger.Error("engine request failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// respondJSON is a helper to write JSON responses
func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response
func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, ErrorResponse{Error: message})
}
