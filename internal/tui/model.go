// Package tui is the terminal front end. It shows the active rules, the
// output of the current run and the run history, and is driven entirely by
// the event hub; actions go back through the coordinator.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/mattjoyce/cliprun/internal/dispatch"
	"github.com/mattjoyce/cliprun/internal/events"
	"github.com/mattjoyce/cliprun/internal/history"
	"github.com/mattjoyce/cliprun/internal/rules"
	"github.com/mattjoyce/cliprun/internal/runner"
)

const (
	// maxOutputLines bounds the output pane; history keeps the full text.
	maxOutputLines = 2000
	opTimeout      = 5 * time.Second
	tickInterval   = time.Second
)

// Controller is the coordinator surface the TUI acts through.
type Controller interface {
	Trigger(ctx context.Context, ruleID int, text string, ov runner.Overrides) (*dispatch.Ticket, error)
	SelectAutorun(ctx context.Context, ruleID int) error
	UpdateFlags(ctx context.Context, ruleID int, runInShell, autorun *bool) (rules.Rule, error)
}

// RuleSource exposes the active rule set.
type RuleSource interface {
	Snapshot() []rules.Rule
}

// HistorySource exposes the run ledger.
type HistorySource interface {
	All() []history.Record
}

// LinkCopier puts a link back on the clipboard.
type LinkCopier interface {
	CopyBack(text string) error
}

// Options tune the TUI.
type Options struct {
	// Autoclose clears the output pane after a successful automatic run.
	Autoclose      bool
	AutocloseDelay time.Duration
	// Copier is used by the copy-link key; nil disables it.
	Copier LinkCopier
}

type pane int

const (
	paneRules pane = iota
	paneHistory
)

type (
	eventMsg        events.Event
	hubClosedMsg    struct{}
	statusMsg       string
	errMsg          struct{ err error }
	rulesChangedMsg struct{ status string }
	autocloseMsg    struct{ seq int }
	tickMsg         time.Time
)

// Model is the BubbleTea model.
type Model struct {
	ctrl    Controller
	rules   RuleSource
	history HistorySource
	copier  LinkCopier

	sub         <-chan events.Event
	unsubscribe func()

	width  int
	height int
	theme  Theme
	focus  pane

	ruleTable    table.Model
	historyTable table.Model
	output       viewport.Model

	ruleIDs        []int
	historyRecords []history.Record

	outputTitle string
	outputLines []string
	currentRun  string

	lastText string
	matched  []events.RuleRef

	status    string
	statusErr bool
	spinner   Spinner

	autoclose      bool
	autocloseDelay time.Duration
	// closeSeq invalidates pending autoclose ticks when the pane changes.
	closeSeq int

	now func() time.Time
}

// New creates the model and subscribes it to hub. Call Close once the
// program exits.
func New(ctrl Controller, rs RuleSource, hs HistorySource, hub *events.Hub, opts Options) *Model {
	theme := NewDefaultTheme()
	sub, unsubscribe := hub.Subscribe()

	ruleTable := table.New(
		table.WithColumns([]table.Column{
			{Title: "#", Width: 3},
			{Title: "Label", Width: 18},
			{Title: "Pattern", Width: 30},
			{Title: "Sh", Width: 2},
			{Title: "Auto", Width: 4},
		}),
		table.WithFocused(true),
		table.WithHeight(8),
		table.WithStyles(theme.Table),
	)
	historyTable := table.New(
		table.WithColumns([]table.Column{
			{Title: "#", Width: 4},
			{Title: "Time", Width: 8},
			{Title: "Label", Width: 16},
			{Title: "Outcome", Width: 10},
			{Title: "Took", Width: 8},
			{Title: "Link", Width: 40},
		}),
		table.WithHeight(8),
		table.WithStyles(theme.Table),
	)

	delay := opts.AutocloseDelay
	if delay <= 0 {
		delay = 10 * time.Second
	}

	m := &Model{
		ctrl:           ctrl,
		rules:          rs,
		history:        hs,
		copier:         opts.Copier,
		sub:            sub,
		unsubscribe:    unsubscribe,
		theme:          theme,
		ruleTable:      ruleTable,
		historyTable:   historyTable,
		output:         viewport.New(80, 10),
		autoclose:      opts.Autoclose,
		autocloseDelay: delay,
		now:            time.Now,
	}
	m.refreshRules()
	m.refreshHistory()
	return m
}

// Close drops the hub subscription.
func (m *Model) Close() {
	m.unsubscribe()
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(waitForEvent(m.sub), tick())
}

func waitForEvent(sub <-chan events.Event) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-sub
		if !ok {
			return hubClosedMsg{}
		}
		return eventMsg(ev)
	}
}

func tick() tea.Cmd {
	return tea.Tick(tickInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if cmd, handled := m.handleKey(msg); handled {
			return m, cmd
		}

	case tea.WindowSizeMsg:
		m.resize(msg.Width, msg.Height)
		return m, nil

	case tickMsg:
		m.spinner.Decay(time.Time(msg))
		return m, tick()

	case eventMsg:
		cmd := m.handleEvent(events.Event(msg))
		return m, tea.Batch(cmd, waitForEvent(m.sub))

	case hubClosedMsg:
		m.setStatus("event stream closed", true)
		return m, nil

	case autocloseMsg:
		if msg.seq == m.closeSeq {
			m.clearOutput()
			m.setStatus("output closed after successful autorun", false)
		}
		return m, nil

	case rulesChangedMsg:
		m.refreshRules()
		m.setStatus(msg.status, false)
		return m, nil

	case statusMsg:
		m.setStatus(string(msg), false)
		return m, nil

	case errMsg:
		m.setStatus(msg.err.Error(), true)
		return m, nil
	}

	var cmd tea.Cmd
	if m.focus == paneRules {
		m.ruleTable, cmd = m.ruleTable.Update(msg)
	} else {
		m.historyTable, cmd = m.historyTable.Update(msg)
	}
	return m, cmd
}

// handleKey handles the application keys. Unhandled keys fall through to
// the focused table.
func (m *Model) handleKey(msg tea.KeyMsg) (tea.Cmd, bool) {
	switch msg.String() {
	case "q", "ctrl+c":
		return tea.Quit, true
	case "tab":
		m.toggleFocus()
		return nil, true
	case "a":
		if m.focus == paneRules {
			return m.toggleAutorun(), true
		}
	case "s":
		if m.focus == paneRules {
			return m.toggleShell(), true
		}
	case "enter":
		if m.focus == paneRules {
			return m.runSelected(), true
		}
		m.showSelectedRecord()
		return nil, true
	case "c":
		if m.focus == paneHistory {
			return m.copySelectedLink(), true
		}
	case "x":
		m.autoclose = !m.autoclose
		m.setStatus(fmt.Sprintf("autoclose %s", onOff(m.autoclose)), false)
		return nil, true
	case "pgup":
		m.output.HalfPageUp()
		return nil, true
	case "pgdown":
		m.output.HalfPageDown()
		return nil, true
	}
	return nil, false
}

func (m *Model) handleEvent(ev events.Event) tea.Cmd {
	m.spinner.OnEvent(m.now())

	switch ev.Type {
	case events.TypeMatchesFound:
		var p events.MatchesFoundPayload
		if ev.Decode(&p) != nil {
			return nil
		}
		m.lastText = p.Text
		m.matched = p.Matches
		labels := make([]string, 0, len(p.Matches))
		for _, r := range p.Matches {
			labels = append(labels, r.Label)
		}
		hint := ""
		if p.AutorunRuleID == nil {
			hint = " (enter runs the selected rule)"
		}
		m.setStatus(fmt.Sprintf("%d rule(s) match: %s%s", len(p.Matches), strings.Join(labels, ", "), hint), false)

	case events.TypeMatchConflict:
		var p events.MatchesFoundPayload
		if ev.Decode(&p) != nil || p.AutorunRuleID == nil {
			return nil
		}
		m.setStatus(fmt.Sprintf("autorun conflict: rules %v are all autorun; running rule %d", p.AutorunCandidates, *p.AutorunRuleID), true)

	case events.TypeRunStarted:
		var p events.RunStartedPayload
		if ev.Decode(&p) != nil {
			return nil
		}
		m.closeSeq++
		m.currentRun = p.RunID
		m.outputTitle = fmt.Sprintf("%s  %s", p.RuleLabel, p.Link)
		m.outputLines = []string{m.theme.Dim.Render("$ " + p.Command)}
		m.syncOutput()

	case events.TypeRunOutput:
		var p events.RunOutputPayload
		if ev.Decode(&p) != nil || p.RunID != m.currentRun {
			return nil
		}
		m.appendOutput(m.theme.LineStyle(runner.ParseClass(p.Class)).Render(p.Text))

	case events.TypeRunCompleted, events.TypeRunFailed:
		var p events.RunCompletedPayload
		if ev.Decode(&p) != nil {
			return nil
		}
		summary := fmt.Sprintf("%s: %s in %.2fs", p.RuleLabel, p.Outcome, p.DurationSeconds)
		if p.RunID == m.currentRun {
			m.appendOutput(m.theme.OutcomeStyle(p.ExitCode).Render("[" + p.Outcome + "]"))
		}
		m.setStatus(summary, p.ExitCode != 0)
		if m.autoclose && p.Autorun && p.ExitCode == 0 && p.RunID == m.currentRun {
			seq := m.closeSeq
			return tea.Tick(m.autocloseDelay, func(time.Time) tea.Msg { return autocloseMsg{seq: seq} })
		}

	case events.TypeHistoryAppended:
		m.refreshHistory()

	case events.TypeRulesUpdated:
		m.refreshRules()

	case events.TypeConfigReloaded:
		var p events.ConfigReloadPayload
		_ = ev.Decode(&p)
		m.refreshRules()
		msg := fmt.Sprintf("config reloaded: %d rule(s)", p.Rules)
		if len(p.Errors) > 0 {
			msg += fmt.Sprintf(", %d skipped", len(p.Errors))
		}
		m.setStatus(msg, len(p.Errors) > 0)

	case events.TypeConfigRejected:
		var p events.ConfigReloadPayload
		_ = ev.Decode(&p)
		m.setStatus("config reload rejected: "+strings.Join(p.Errors, "; "), true)
	}
	return nil
}

func (m *Model) toggleFocus() {
	if m.focus == paneRules {
		m.focus = paneHistory
		m.ruleTable.Blur()
		m.historyTable.Focus()
		return
	}
	m.focus = paneRules
	m.historyTable.Blur()
	m.ruleTable.Focus()
}

func (m *Model) selectedRule() (rules.Rule, bool) {
	cursor := m.ruleTable.Cursor()
	if cursor < 0 || cursor >= len(m.ruleIDs) {
		return rules.Rule{}, false
	}
	id := m.ruleIDs[cursor]
	for _, r := range m.rules.Snapshot() {
		if r.ID == id {
			return r, true
		}
	}
	return rules.Rule{}, false
}

func (m *Model) selectedRecord() (history.Record, bool) {
	cursor := m.historyTable.Cursor()
	if cursor < 0 || cursor >= len(m.historyRecords) {
		return history.Record{}, false
	}
	return m.historyRecords[cursor], true
}

// toggleAutorun makes the selected rule the only autorun rule, or clears
// autorun if it already is one.
func (m *Model) toggleAutorun() tea.Cmd {
	rule, ok := m.selectedRule()
	if !ok {
		return nil
	}
	target, status := rule.ID, fmt.Sprintf("autorun set on %q", rule.Label)
	if rule.Autorun {
		target, status = -1, "autorun cleared"
	}
	ctrl := m.ctrl
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
		defer cancel()
		if err := ctrl.SelectAutorun(ctx, target); err != nil {
			return errMsg{err}
		}
		return rulesChangedMsg{status: status}
	}
}

// toggleShell flips the selected rule's shell flag for later runs.
func (m *Model) toggleShell() tea.Cmd {
	rule, ok := m.selectedRule()
	if !ok {
		return nil
	}
	shell := !rule.RunInShell
	ctrl := m.ctrl
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
		defer cancel()
		updated, err := ctrl.UpdateFlags(ctx, rule.ID, &shell, nil)
		if err != nil {
			return errMsg{err}
		}
		return rulesChangedMsg{status: fmt.Sprintf("shell %s for %q", onOff(updated.RunInShell), updated.Label)}
	}
}

// runSelected runs the selected rule on the last observed text.
func (m *Model) runSelected() tea.Cmd {
	rule, ok := m.selectedRule()
	if !ok {
		return nil
	}
	if m.lastText == "" {
		m.setStatus("nothing to run: no text observed yet", true)
		return nil
	}
	if !rule.Matches(m.lastText) {
		m.setStatus(fmt.Sprintf("%q does not match the last text", rule.Label), true)
		return nil
	}
	ctrl, text := m.ctrl, m.lastText
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
		defer cancel()
		if _, err := ctrl.Trigger(ctx, rule.ID, text, runner.Overrides{}); err != nil {
			return errMsg{err}
		}
		return statusMsg(fmt.Sprintf("queued %q", rule.Label))
	}
}

// showSelectedRecord replays a history record into the output pane.
func (m *Model) showSelectedRecord() {
	rec, ok := m.selectedRecord()
	if !ok {
		return
	}
	m.closeSeq++
	m.currentRun = ""
	m.outputTitle = fmt.Sprintf("%s  %s", rec.RuleLabel, rec.Link)
	m.outputLines = []string{m.theme.Dim.Render("$ " + rec.Command)}
	if rec.Output != "" {
		for _, line := range strings.Split(strings.TrimRight(rec.Output, "\n"), "\n") {
			m.outputLines = append(m.outputLines, m.theme.LineStyle(runner.Classify(line)).Render(line))
		}
	}
	m.outputLines = append(m.outputLines, m.theme.OutcomeStyle(rec.ExitCode).Render("["+rec.Outcome+"]"))
	m.syncOutput()
}

func (m *Model) copySelectedLink() tea.Cmd {
	rec, ok := m.selectedRecord()
	if !ok {
		return nil
	}
	if m.copier == nil {
		m.setStatus("clipboard unavailable", true)
		return nil
	}
	copier, link := m.copier, rec.Link
	return func() tea.Msg {
		if err := copier.CopyBack(link); err != nil {
			return errMsg{fmt.Errorf("copy link: %w", err)}
		}
		return statusMsg("copied " + link)
	}
}

func (m *Model) appendOutput(line string) {
	m.outputLines = append(m.outputLines, line)
	if over := len(m.outputLines) - maxOutputLines; over > 0 {
		m.outputLines = m.outputLines[over:]
	}
	m.syncOutput()
}

func (m *Model) syncOutput() {
	atBottom := m.output.AtBottom()
	m.output.SetContent(strings.Join(m.outputLines, "\n"))
	if atBottom {
		m.output.GotoBottom()
	}
}

func (m *Model) clearOutput() {
	m.currentRun = ""
	m.outputTitle = ""
	m.outputLines = nil
	m.output.SetContent("")
}

func (m *Model) refreshRules() {
	snapshot := m.rules.Snapshot()
	rows := make([]table.Row, 0, len(snapshot))
	ids := make([]int, 0, len(snapshot))
	for _, r := range snapshot {
		rows = append(rows, table.Row{
			fmt.Sprintf("%d", r.ID),
			r.Label,
			r.Pattern.String(),
			mark(r.RunInShell),
			mark(r.Autorun),
		})
		ids = append(ids, r.ID)
	}
	m.ruleIDs = ids
	m.ruleTable.SetRows(rows)
}

// refreshHistory lists records newest first.
func (m *Model) refreshHistory() {
	all := m.history.All()
	rows := make([]table.Row, 0, len(all))
	recs := make([]history.Record, 0, len(all))
	for i := len(all) - 1; i >= 0; i-- {
		rec := all[i]
		rows = append(rows, table.Row{
			fmt.Sprintf("%d", i),
			rec.StartTime.Local().Format("15:04:05"),
			rec.RuleLabel,
			rec.Outcome,
			formatDuration(rec.Duration),
			rec.Link,
		})
		recs = append(recs, rec)
	}
	m.historyRecords = recs
	m.historyTable.SetRows(rows)
}

func (m *Model) setStatus(s string, isErr bool) {
	m.status = s
	m.statusErr = isErr
}

func (m *Model) resize(width, height int) {
	m.width = width
	m.height = height
	inner := width - 6
	if inner < 20 {
		inner = 20
	}
	m.ruleTable.SetWidth(inner)
	m.historyTable.SetWidth(inner)

	tableHeight := height / 4
	if tableHeight < 3 {
		tableHeight = 3
	}
	m.ruleTable.SetHeight(tableHeight)
	m.historyTable.SetHeight(tableHeight)

	m.output.Width = inner
	outHeight := height - 2*tableHeight - 14
	if outHeight < 3 {
		outHeight = 3
	}
	m.output.Height = outHeight
	m.syncOutput()
}

func mark(b bool) string {
	if b {
		return "✓"
	}
	return ""
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}
