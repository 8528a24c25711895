package dispatch

import (
	"log/slog"

	"github.com/mattjoyce/cliprun/internal/events"
	"github.com/mattjoyce/cliprun/internal/history"
	"github.com/mattjoyce/cliprun/internal/log"
	"github.com/mattjoyce/cliprun/internal/rules"
	"github.com/mattjoyce/cliprun/internal/runner"
)

// RunInfo describes a run as it starts.
type RunInfo struct {
	RunID   string
	RuleID  int
	Label   string
	Link    string
	Command string
	Shell   bool
	Autorun bool
}

func runInfo(run *runner.Run) RunInfo {
	return RunInfo{
		RunID:   run.ID,
		RuleID:  run.Rule.ID,
		Label:   run.Rule.Label,
		Link:    run.Link,
		Command: run.CommandLine,
		Shell:   run.Shell,
		Autorun: run.Automatic,
	}
}

// Presenter receives engine activity. All methods are called from the
// coordinator goroutine and must not block.
type Presenter interface {
	OnMatchesFound(text string, set rules.MatchSet)
	OnRunStarted(info RunInfo)
	OnOutputLine(runID, text string, class runner.Class)
	OnRunCompleted(runID string, rec history.Record)
	OnHistoryAppended(rec history.Record, index int)
}

// Presenters fans every callback out to each element in order.
type Presenters []Presenter

func (ps Presenters) OnMatchesFound(text string, set rules.MatchSet) {
	for _, p := range ps {
		p.OnMatchesFound(text, set)
	}
}

func (ps Presenters) OnRunStarted(info RunInfo) {
	for _, p := range ps {
		p.OnRunStarted(info)
	}
}

func (ps Presenters) OnOutputLine(runID, text string, class runner.Class) {
	for _, p := range ps {
		p.OnOutputLine(runID, text, class)
	}
}

func (ps Presenters) OnRunCompleted(runID string, rec history.Record) {
	for _, p := range ps {
		p.OnRunCompleted(runID, rec)
	}
}

func (ps Presenters) OnHistoryAppended(rec history.Record, index int) {
	for _, p := range ps {
		p.OnHistoryAppended(rec, index)
	}
}

// HubPresenter publishes engine activity to an events.Hub.
type HubPresenter struct {
	hub *events.Hub
}

func NewHubPresenter(hub *events.Hub) *HubPresenter {
	return &HubPresenter{hub: hub}
}

func (p *HubPresenter) OnMatchesFound(text string, set rules.MatchSet) {
	payload := events.MatchesFoundPayload{
		Text:              text,
		AutorunConflict:   set.AutorunConflict,
		AutorunCandidates: set.AutorunCandidates,
	}
	for _, r := range set.Matches {
		payload.Matches = append(payload.Matches, events.RuleRef{ID: r.ID, Label: r.Label})
	}
	if set.AutorunChoice != nil {
		id := set.AutorunChoice.ID
		payload.AutorunRuleID = &id
	}
	p.hub.Publish(events.TypeMatchesFound, payload)
	if set.AutorunConflict {
		p.hub.Publish(events.TypeMatchConflict, payload)
	}
}

func (p *HubPresenter) OnRunStarted(info RunInfo) {
	p.hub.Publish(events.TypeRunStarted, events.RunStartedPayload{
		RunID:     info.RunID,
		RuleID:    info.RuleID,
		RuleLabel: info.Label,
		Link:      info.Link,
		Command:   info.Command,
		Shell:     info.Shell,
		Autorun:   info.Autorun,
	})
}

func (p *HubPresenter) OnOutputLine(runID, text string, class runner.Class) {
	p.hub.Publish(events.TypeRunOutput, events.RunOutputPayload{
		RunID: runID,
		Text:  text,
		Class: class.String(),
	})
}

func (p *HubPresenter) OnRunCompleted(runID string, rec history.Record) {
	payload := CompletedPayload(rec)
	if rec.SpawnFailed() {
		payload.Error = rec.Outcome
		p.hub.Publish(events.TypeRunFailed, payload)
		return
	}
	p.hub.Publish(events.TypeRunCompleted, payload)
}

func (p *HubPresenter) OnHistoryAppended(rec history.Record, index int) {
	p.hub.Publish(events.TypeHistoryAppended, events.HistoryAppendedPayload{
		Index:   index,
		RunID:   rec.RunID,
		Outcome: rec.Outcome,
	})
}

// CompletedPayload converts a record into its event payload.
func CompletedPayload(rec history.Record) events.RunCompletedPayload {
	return events.RunCompletedPayload{
		RunID:           rec.RunID,
		RuleID:          rec.RuleID,
		RuleLabel:       rec.RuleLabel,
		Link:            rec.Link,
		Command:         rec.Command,
		StartTime:       rec.StartTime,
		DurationSeconds: rec.DurationSeconds(),
		ExitCode:        rec.ExitCode,
		Outcome:         rec.Outcome,
		Autorun:         rec.Autorun,
	}
}

// LogPresenter writes engine activity as structured log lines. It is the
// presenter for headless mode.
type LogPresenter struct {
	logger *slog.Logger
}

func NewLogPresenter() *LogPresenter {
	return &LogPresenter{logger: log.WithComponent("presenter")}
}

func (p *LogPresenter) OnMatchesFound(text string, set rules.MatchSet) {
	labels := make([]string, 0, len(set.Matches))
	for _, r := range set.Matches {
		labels = append(labels, r.Label)
	}
	p.logger.Info("matches found", "text", text, "rules", labels)
}

func (p *LogPresenter) OnRunStarted(info RunInfo) {
	log.WithRun(info.RunID).Info("run started", "rule", info.Label, "command", info.Command, "autorun", info.Autorun)
}

func (p *LogPresenter) OnOutputLine(runID, text string, class runner.Class) {
	l := log.WithRun(runID)
	switch class {
	case runner.ClassError:
		l.Warn("output", "line", text, "class", class.String())
	default:
		l.Debug("output", "line", text, "class", class.String())
	}
}

func (p *LogPresenter) OnRunCompleted(runID string, rec history.Record) {
	log.WithRun(runID).Info("run finished",
		"rule", rec.RuleLabel,
		"outcome", rec.Outcome,
		"exit_code", rec.ExitCode,
		"duration_seconds", rec.DurationSeconds(),
	)
}

func (p *LogPresenter) OnHistoryAppended(rec history.Record, index int) {
	p.logger.Debug("history appended", "index", index, "run_id", rec.RunID)
}
