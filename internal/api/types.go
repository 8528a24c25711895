package api

import (
	"time"

	"github.com/mattjoyce/cliprun/internal/history"
	"github.com/mattjoyce/cliprun/internal/rules"
)

// RuleView is the JSON form of one active rule.
type RuleView struct {
	ID         int    `json:"id"`
	Index      int    `json:"index"`
	Label      string `json:"label"`
	Pattern    string `json:"pattern"`
	Command    string `json:"command"`
	Filter     string `json:"filter,omitempty"`
	RunInShell bool   `json:"run_in_shell"`
	Autorun    bool   `json:"autorun"`
}

func newRuleView(r rules.Rule) RuleView {
	return RuleView{
		ID:         r.ID,
		Index:      r.Index,
		Label:      r.Label,
		Pattern:    r.Pattern.String(),
		Command:    r.Command,
		Filter:     r.FilterName(),
		RunInShell: r.RunInShell,
		Autorun:    r.Autorun,
	}
}

// RuleListResponse is returned by GET /rules.
type RuleListResponse struct {
	Generation int        `json:"generation"`
	Rules      []RuleView `json:"rules"`
}

// RuleFlagsRequest is the JSON body for PATCH /rules/{id}. Absent fields
// are left unchanged.
type RuleFlagsRequest struct {
	RunInShell *bool `json:"run_in_shell,omitempty"`
	Autorun    *bool `json:"autorun,omitempty"`
}

// AutorunRequest is the JSON body for PUT /autorun. A null or negative
// rule_id clears autorun on every rule.
type AutorunRequest struct {
	RuleID *int `json:"rule_id"`
}

// RunRequest is the JSON body for POST /rules/{id}/run.
type RunRequest struct {
	Text       string `json:"text"`
	RunInShell *bool  `json:"run_in_shell,omitempty"`
	Autorun    *bool  `json:"autorun,omitempty"`
}

// RunAcceptedResponse is returned when a run is queued without waiting.
type RunAcceptedResponse struct {
	Status string `json:"status"`
	RuleID int    `json:"rule_id"`
	Label  string `json:"label"`
}

// CandidateRequest is the JSON body for POST /candidates.
type CandidateRequest struct {
	Text string `json:"text"`
}

// CandidateResponse lists the rules the submitted text matched.
type CandidateResponse struct {
	Matches           []RuleView `json:"matches"`
	AutorunRuleID     *int       `json:"autorun_rule_id,omitempty"`
	AutorunConflict   bool       `json:"autorun_conflict,omitempty"`
	AutorunCandidates []int      `json:"autorun_candidates,omitempty"`
}

// HistoryEntry is a ledger record with its index.
type HistoryEntry struct {
	Index int `json:"index"`
	history.Record
	DurationSeconds float64 `json:"duration_seconds"`
}

func newHistoryEntry(index int, rec history.Record, withOutput bool) HistoryEntry {
	if !withOutput {
		rec.Output = ""
	}
	return HistoryEntry{Index: index, Record: rec, DurationSeconds: rec.DurationSeconds()}
}

// HistoryListResponse is returned by GET /history.
type HistoryListResponse struct {
	Total   int            `json:"total"`
	Records []HistoryEntry `json:"records"`
}

// ReloadRequest is the optional JSON body for POST /reload.
type ReloadRequest struct {
	Force bool `json:"force"`
}

// ReloadResponse reports the outcome of POST /reload.
type ReloadResponse struct {
	Path        string   `json:"path"`
	Fingerprint string   `json:"fingerprint"`
	Rules       int      `json:"rules"`
	Unchanged   bool     `json:"unchanged"`
	Errors      []string `json:"errors,omitempty"`
}

// ErrorResponse is returned on errors
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthzResponse is returned by GET /healthz.
type HealthzResponse struct {
	Status         string `json:"status"`
	UptimeSeconds  int64  `json:"uptime_seconds"`
	RulesLoaded    int    `json:"rules_loaded"`
	RunsActive     int    `json:"runs_active"`
	HistoryRecords int    `json:"history_records"`
	Subscribers    int    `json:"event_subscribers"`
	StartedAt      string `json:"started_at"`
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
