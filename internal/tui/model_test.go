package tui

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/cliprun/internal/config"
	"github.com/mattjoyce/cliprun/internal/dispatch"
	"github.com/mattjoyce/cliprun/internal/events"
	"github.com/mattjoyce/cliprun/internal/history"
	"github.com/mattjoyce/cliprun/internal/log"
	"github.com/mattjoyce/cliprun/internal/rules"
	"github.com/mattjoyce/cliprun/internal/runner"
)

func TestMain(m *testing.M) {
	log.Setup("ERROR", "json") // Suppress logs in tests
	os.Exit(m.Run())
}

type triggerCall struct {
	ruleID int
	text   string
}

type fakeController struct {
	registry *rules.Registry

	mu       sync.Mutex
	triggers []triggerCall
	selected []int
	shells   []bool
	err      error
}

func (f *fakeController) Trigger(ctx context.Context, ruleID int, text string, ov runner.Overrides) (*dispatch.Ticket, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.triggers = append(f.triggers, triggerCall{ruleID, text})
	return nil, f.err
}

func (f *fakeController) SelectAutorun(ctx context.Context, ruleID int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.selected = append(f.selected, ruleID)
	if f.err != nil {
		return f.err
	}
	return f.registry.SelectAutorun(ruleID)
}

func (f *fakeController) UpdateFlags(ctx context.Context, ruleID int, runInShell, autorun *bool) (rules.Rule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if runInShell != nil {
		f.shells = append(f.shells, *runInShell)
	}
	if f.err != nil {
		return rules.Rule{}, f.err
	}
	return f.registry.UpdateFlags(ruleID, runInShell, autorun)
}

type fakeCopier struct {
	copied []string
	err    error
}

func (f *fakeCopier) CopyBack(text string) error {
	if f.err != nil {
		return f.err
	}
	f.copied = append(f.copied, text)
	return nil
}

type fixture struct {
	model    Model
	hub      *events.Hub
	ctrl     *fakeController
	copier   *fakeCopier
	registry *rules.Registry
	ledger   *history.Ledger
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	built, errs := rules.Build(&config.Config{Rules: []config.RuleConfig{
		{Pattern: `^https?://`, Command: "echo {url}", Label: "Echo"},
		{Pattern: `youtube\.com`, Command: "yt-dlp {url}", Label: "Video", Autorun: true},
	}})
	require.Empty(t, errs)

	registry := rules.NewRegistry(built)
	ledger := history.New()
	ledger.Append(history.Record{RunID: "r0", RuleLabel: "Echo", Link: "https://old", Command: "echo https://old",
		StartTime: time.Now(), Duration: 20 * time.Millisecond, Outcome: "OK", Output: "old output\n"})
	ledger.Append(history.Record{RunID: "r1", RuleLabel: "Video", Link: "https://youtube.com/x", Command: "yt-dlp https://youtube.com/x",
		StartTime: time.Now(), Duration: time.Second, ExitCode: 1, Outcome: "Error 1", Output: "ERROR: unavailable\n"})

	hub := events.NewHub(32)
	ctrl := &fakeController{registry: registry}
	copier := &fakeCopier{}
	if opts.Copier == nil {
		opts.Copier = copier
	}
	m := New(ctrl, registry, ledger, hub, opts)
	t.Cleanup(m.Close)

	return &fixture{model: *m, hub: hub, ctrl: ctrl, copier: copier, registry: registry, ledger: ledger}
}

func (f *fixture) update(t *testing.T, msg tea.Msg) tea.Cmd {
	t.Helper()
	next, cmd := f.model.Update(msg)
	f.model = next.(Model)
	return cmd
}

// event publishes on the hub and feeds the event straight to the model.
func (f *fixture) event(t *testing.T, typ string, payload any) tea.Cmd {
	t.Helper()
	ev := f.hub.Publish(typ, payload)
	return f.model.handleEvent(ev)
}

func key(s string) tea.KeyMsg {
	switch s {
	case "enter":
		return tea.KeyMsg{Type: tea.KeyEnter}
	case "tab":
		return tea.KeyMsg{Type: tea.KeyTab}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func TestNew_PopulatesTables(t *testing.T) {
	f := newFixture(t, Options{})

	rows := f.model.ruleTable.Rows()
	require.Len(t, rows, 2)
	assert.Equal(t, "Echo", rows[0][1])
	assert.Equal(t, "✓", rows[1][4])

	hist := f.model.historyTable.Rows()
	require.Len(t, hist, 2)
	assert.Equal(t, "1", hist[0][0], "newest first")
	assert.Equal(t, "Error 1", hist[0][3])
}

func TestWaitForEvent_ReceivesHubEvents(t *testing.T) {
	f := newFixture(t, Options{})
	f.hub.Publish(events.TypeRulesUpdated, events.RulesUpdatedPayload{Reason: "test", Count: 2})

	msg := waitForEvent(f.model.sub)()
	ev, ok := msg.(eventMsg)
	require.True(t, ok, "got %T", msg)
	assert.Equal(t, events.TypeRulesUpdated, ev.Type)

	f.model.Close()
	assert.IsType(t, hubClosedMsg{}, waitForEvent(f.model.sub)())
}

func TestRunLifecycle_StreamsOutput(t *testing.T) {
	f := newFixture(t, Options{})

	f.event(t, events.TypeMatchesFound, events.MatchesFoundPayload{
		Text:    "https://example.com",
		Matches: []events.RuleRef{{ID: 0, Label: "Echo"}},
	})
	assert.Equal(t, "https://example.com", f.model.lastText)
	assert.Contains(t, f.model.status, "1 rule(s) match: Echo")
	assert.Contains(t, f.model.status, "enter runs")

	f.event(t, events.TypeRunStarted, events.RunStartedPayload{RunID: "a", RuleLabel: "Echo", Link: "https://example.com", Command: "echo https://example.com"})
	f.event(t, events.TypeRunOutput, events.RunOutputPayload{RunID: "a", Text: "hello", Class: "none"})
	f.event(t, events.TypeRunOutput, events.RunOutputPayload{RunID: "other", Text: "not mine", Class: "none"})
	f.event(t, events.TypeRunOutput, events.RunOutputPayload{RunID: "a", Text: "error: bad", Class: "error"})
	cmd := f.event(t, events.TypeRunCompleted, events.RunCompletedPayload{RunID: "a", RuleLabel: "Echo", ExitCode: 0, Outcome: "OK"})
	assert.Nil(t, cmd, "autoclose is off")

	assert.Equal(t, "Echo  https://example.com", f.model.outputTitle)
	joined := strings.Join(f.model.outputLines, "\n")
	assert.Contains(t, joined, "$ echo https://example.com")
	assert.Contains(t, joined, "hello")
	assert.Contains(t, joined, "error: bad")
	assert.Contains(t, joined, "[OK]")
	assert.NotContains(t, joined, "not mine")
	assert.Contains(t, f.model.status, "Echo: OK")
	assert.False(t, f.model.statusErr)
}

func TestAutoclose_SuccessfulAutorun(t *testing.T) {
	f := newFixture(t, Options{Autoclose: true, AutocloseDelay: 5 * time.Millisecond})

	f.event(t, events.TypeRunStarted, events.RunStartedPayload{RunID: "a", RuleLabel: "Video", Autorun: true})
	cmd := f.event(t, events.TypeRunCompleted, events.RunCompletedPayload{RunID: "a", RuleLabel: "Video", Outcome: "OK", Autorun: true})
	require.NotNil(t, cmd)

	msg := cmd()
	require.IsType(t, autocloseMsg{}, msg)
	f.update(t, msg)
	assert.Empty(t, f.model.outputLines)
	assert.Contains(t, f.model.status, "output closed")
}

func TestAutoclose_NotForFailuresOrManualRuns(t *testing.T) {
	f := newFixture(t, Options{Autoclose: true, AutocloseDelay: 5 * time.Millisecond})

	f.event(t, events.TypeRunStarted, events.RunStartedPayload{RunID: "a", Autorun: true})
	assert.Nil(t, f.event(t, events.TypeRunCompleted, events.RunCompletedPayload{RunID: "a", ExitCode: 2, Outcome: "Error 2", Autorun: true}))
	assert.True(t, f.model.statusErr)

	f.event(t, events.TypeRunStarted, events.RunStartedPayload{RunID: "b"})
	assert.Nil(t, f.event(t, events.TypeRunCompleted, events.RunCompletedPayload{RunID: "b", Outcome: "OK"}))
}

func TestAutoclose_StaleTickIgnored(t *testing.T) {
	f := newFixture(t, Options{Autoclose: true, AutocloseDelay: 5 * time.Millisecond})

	f.event(t, events.TypeRunStarted, events.RunStartedPayload{RunID: "a", Autorun: true})
	cmd := f.event(t, events.TypeRunCompleted, events.RunCompletedPayload{RunID: "a", Outcome: "OK", Autorun: true})
	require.NotNil(t, cmd)

	f.event(t, events.TypeRunStarted, events.RunStartedPayload{RunID: "b", Command: "next"})
	f.update(t, cmd())
	assert.Equal(t, "b", f.model.currentRun)
	assert.NotEmpty(t, f.model.outputLines)
}

func TestKey_AutorunToggle(t *testing.T) {
	f := newFixture(t, Options{})

	cmd := f.update(t, key("a"))
	require.NotNil(t, cmd)
	f.update(t, cmd())
	assert.Equal(t, []int{0}, f.ctrl.selected)
	rows := f.model.ruleTable.Rows()
	assert.Equal(t, "✓", rows[0][4])
	assert.Equal(t, "", rows[1][4], "only one autorun rule")
	assert.Contains(t, f.model.status, `autorun set on "Echo"`)

	// Pressing again on the autorun rule clears it.
	cmd = f.update(t, key("a"))
	f.update(t, cmd())
	assert.Equal(t, []int{0, -1}, f.ctrl.selected)
	assert.Equal(t, "", f.model.ruleTable.Rows()[0][4])

	f.ctrl.err = errors.New("coordinator stopped")
	cmd = f.update(t, key("a"))
	f.update(t, cmd())
	assert.True(t, f.model.statusErr)
	assert.Contains(t, f.model.status, "coordinator stopped")
}

func TestKey_ShellToggle(t *testing.T) {
	f := newFixture(t, Options{})

	cmd := f.update(t, key("s"))
	require.NotNil(t, cmd)
	f.update(t, cmd())
	assert.Equal(t, []bool{true}, f.ctrl.shells)
	assert.Equal(t, "✓", f.model.ruleTable.Rows()[0][3])
	assert.True(t, f.registry.Snapshot()[0].RunInShell)
	assert.False(t, f.registry.Snapshot()[0].Autorun, "autorun untouched")
	assert.Contains(t, f.model.status, `shell on for "Echo"`)

	cmd = f.update(t, key("s"))
	f.update(t, cmd())
	assert.Equal(t, []bool{true, false}, f.ctrl.shells)
	assert.Equal(t, "", f.model.ruleTable.Rows()[0][3])

	// History focus leaves the key to the table.
	f.update(t, key("tab"))
	f.update(t, key("s"))
	assert.Len(t, f.ctrl.shells, 2)
}

func TestKey_RunSelectedOnLastText(t *testing.T) {
	f := newFixture(t, Options{})

	assert.Nil(t, f.update(t, key("enter")))
	assert.True(t, f.model.statusErr)
	assert.Empty(t, f.ctrl.triggers)

	f.event(t, events.TypeMatchesFound, events.MatchesFoundPayload{Text: "https://example.com"})
	cmd := f.update(t, key("enter"))
	require.NotNil(t, cmd)
	f.update(t, cmd())
	assert.Equal(t, []triggerCall{{0, "https://example.com"}}, f.ctrl.triggers)
	assert.Contains(t, f.model.status, `queued "Echo"`)

	// Video does not match the last text.
	f.model.ruleTable.SetCursor(1)
	assert.Nil(t, f.update(t, key("enter")))
	assert.Contains(t, f.model.status, "does not match")
}

func TestKey_HistoryShowAndCopy(t *testing.T) {
	f := newFixture(t, Options{})

	f.update(t, key("tab"))
	assert.Equal(t, paneHistory, f.model.focus)

	f.update(t, key("enter"))
	joined := strings.Join(f.model.outputLines, "\n")
	assert.Contains(t, joined, "ERROR: unavailable")
	assert.Contains(t, joined, "[Error 1]")
	assert.Equal(t, "Video  https://youtube.com/x", f.model.outputTitle)

	cmd := f.update(t, key("c"))
	require.NotNil(t, cmd)
	f.update(t, cmd())
	assert.Equal(t, []string{"https://youtube.com/x"}, f.copier.copied)
	assert.Contains(t, f.model.status, "copied https://youtube.com/x")

	f.copier.err = errors.New("no display")
	cmd = f.update(t, key("c"))
	f.update(t, cmd())
	assert.True(t, f.model.statusErr)
}

func TestEvents_RefreshTables(t *testing.T) {
	f := newFixture(t, Options{})

	f.ledger.Append(history.Record{RunID: "r2", RuleLabel: "Echo", Outcome: "OK", StartTime: time.Now()})
	f.event(t, events.TypeHistoryAppended, events.HistoryAppendedPayload{Index: 2, RunID: "r2", Outcome: "OK"})
	assert.Len(t, f.model.historyTable.Rows(), 3)

	require.NoError(t, f.registry.SelectAutorun(-1))
	f.event(t, events.TypeConfigReloaded, events.ConfigReloadPayload{Rules: 2, Errors: []string{"rules[3].pattern: pattern is empty"}})
	assert.Equal(t, "", f.model.ruleTable.Rows()[1][4])
	assert.Contains(t, f.model.status, "2 rule(s), 1 skipped")

	f.event(t, events.TypeConfigRejected, events.ConfigReloadPayload{Errors: []string{"bad yaml"}})
	assert.True(t, f.model.statusErr)
	assert.Contains(t, f.model.status, "bad yaml")
}

func TestKey_ToggleAutocloseAndQuit(t *testing.T) {
	f := newFixture(t, Options{})
	f.update(t, key("x"))
	assert.True(t, f.model.autoclose)

	cmd := f.update(t, key("q"))
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
}

func TestView(t *testing.T) {
	f := newFixture(t, Options{})
	assert.Equal(t, "Initializing...", f.model.View())

	f.update(t, tea.WindowSizeMsg{Width: 120, Height: 40})
	out := f.model.View()
	assert.Contains(t, out, "Rules")
	assert.Contains(t, out, "History")
	assert.Contains(t, out, "Waiting for a run")
}
