package events

import "time"

// Event types published by the coordinator and the reloader.
const (
	TypeMatchesFound    = "match.found"
	TypeMatchConflict   = "match.conflict"
	TypeRunStarted      = "run.started"
	TypeRunOutput       = "run.output"
	TypeRunCompleted    = "run.completed"
	TypeRunFailed       = "run.failed"
	TypeHistoryAppended = "history.appended"
	TypeRulesUpdated    = "rules.updated"
	TypeConfigReloaded  = "config.reloaded"
	TypeConfigRejected  = "config.rejected"
)

// RuleRef identifies a rule in payloads.
type RuleRef struct {
	ID    int    `json:"id"`
	Label string `json:"label"`
}

// MatchesFoundPayload is published for every candidate text with at least
// one matching rule.
type MatchesFoundPayload struct {
	Text              string    `json:"text"`
	Matches           []RuleRef `json:"matches"`
	AutorunRuleID     *int      `json:"autorun_rule_id,omitempty"`
	AutorunConflict   bool      `json:"autorun_conflict,omitempty"`
	AutorunCandidates []int     `json:"autorun_candidates,omitempty"`
}

// RunStartedPayload announces a spawned run.
type RunStartedPayload struct {
	RunID     string `json:"run_id"`
	RuleID    int    `json:"rule_id"`
	RuleLabel string `json:"rule_label"`
	Link      string `json:"link"`
	Command   string `json:"command"`
	Shell     bool   `json:"shell"`
	Autorun   bool   `json:"autorun"`
}

// RunOutputPayload carries one classified output line.
type RunOutputPayload struct {
	RunID string `json:"run_id"`
	Text  string `json:"text"`
	Class string `json:"class"`
}

// RunCompletedPayload summarizes a finished run. Output is left out; it is
// available from the history endpoints.
type RunCompletedPayload struct {
	RunID           string    `json:"run_id"`
	RuleID          int       `json:"rule_id"`
	RuleLabel       string    `json:"rule_label"`
	Link            string    `json:"link"`
	Command         string    `json:"command"`
	StartTime       time.Time `json:"start_time"`
	DurationSeconds float64   `json:"duration_seconds"`
	ExitCode        int       `json:"exit_code"`
	Outcome         string    `json:"outcome"`
	Autorun         bool      `json:"autorun"`
	Error           string    `json:"error,omitempty"`
}

// HistoryAppendedPayload reports the ledger index of a new record.
type HistoryAppendedPayload struct {
	Index   int    `json:"index"`
	RunID   string `json:"run_id"`
	Outcome string `json:"outcome"`
}

// RulesUpdatedPayload is published after a flag change or a reload.
type RulesUpdatedPayload struct {
	Reason string `json:"reason"`
	Count  int    `json:"count"`
}

// ConfigReloadPayload reports the outcome of a reload attempt.
type ConfigReloadPayload struct {
	Path        string   `json:"path"`
	Fingerprint string   `json:"fingerprint,omitempty"`
	Rules       int      `json:"rules"`
	Errors      []string `json:"errors,omitempty"`
}
