package history

import (
	"fmt"
	"strings"
	"time"
)

// NoExitCode marks a record whose process never started.
const NoExitCode = -1

// OutcomeOK is the outcome of a run that exited with status 0.
const OutcomeOK = "OK"

// Record is the immutable result of one execution attempt.
type Record struct {
	RunID     string        `json:"run_id"`
	RuleID    int           `json:"rule_id"`
	RuleLabel string        `json:"rule_label"`
	Link      string        `json:"link"`
	Command   string        `json:"command"`
	StartTime time.Time     `json:"start_time"`
	Duration  time.Duration `json:"-"`
	ExitCode  int           `json:"exit_code"`
	Outcome   string        `json:"outcome"`
	Output    string        `json:"output,omitempty"`
	Autorun   bool          `json:"autorun"`
}

// DurationSeconds returns the wall-clock run time in seconds.
func (r Record) DurationSeconds() float64 {
	return r.Duration.Seconds()
}

// Succeeded reports whether the process exited with status 0.
func (r Record) Succeeded() bool {
	return r.Outcome == OutcomeOK
}

// SpawnFailed reports whether the process never started.
func (r Record) SpawnFailed() bool {
	return r.ExitCode == NoExitCode && strings.HasPrefix(r.Outcome, spawnFailedPrefix)
}

const spawnFailedPrefix = "Spawn failed: "

// ExitOutcome formats the outcome string for a process that ran to exit.
func ExitOutcome(code int) string {
	if code == 0 {
		return OutcomeOK
	}
	return fmt.Sprintf("Error %d", code)
}

// SpawnOutcome formats the outcome string for a process that failed to start.
func SpawnOutcome(cause error) string {
	return spawnFailedPrefix + cause.Error()
}
