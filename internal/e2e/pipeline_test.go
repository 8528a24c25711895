package e2e

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mattjoyce/cliprun/internal/config"
	"github.com/mattjoyce/cliprun/internal/dispatch"
	"github.com/mattjoyce/cliprun/internal/events"
	"github.com/mattjoyce/cliprun/internal/history"
	"github.com/mattjoyce/cliprun/internal/log"
	"github.com/mattjoyce/cliprun/internal/reload"
	"github.com/mattjoyce/cliprun/internal/rules"
	"github.com/mattjoyce/cliprun/internal/runner"
	"github.com/mattjoyce/cliprun/internal/watcher"
	"github.com/mattjoyce/cliprun/internal/webhook"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	log.Setup("ERROR", "json") // Keep logs clean
	os.Exit(m.Run())
}

// fakeClipboard is a Source the test can set.
type fakeClipboard struct {
	mu   sync.Mutex
	text string
}

func (c *fakeClipboard) ReadText() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.text, nil
}

func (c *fakeClipboard) set(text string) {
	c.mu.Lock()
	c.text = text
	c.mu.Unlock()
}

type stack struct {
	cfg      *config.Config
	registry *rules.Registry
	ledger   *history.Ledger
	hub      *events.Hub
	coord    *dispatch.Coordinator
	sub      <-chan events.Event
}

// startStack loads configPath and runs a coordinator until the test ends.
func startStack(t *testing.T, ctx context.Context, configPath string) *stack {
	t.Helper()

	cfg, err := config.Load(configPath)
	require.NoError(t, err)
	built, errs := rules.Build(cfg)
	require.Empty(t, errs)

	s := &stack{
		cfg:      cfg,
		registry: rules.NewRegistry(built),
		ledger:   history.New(),
		hub:      events.NewHub(0),
	}
	sub, unsubscribe := s.hub.Subscribe()
	t.Cleanup(unsubscribe)
	s.sub = sub

	s.coord = dispatch.New(s.registry, s.ledger, runner.New(), dispatch.NewHubPresenter(s.hub), dispatch.Options{})

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = s.coord.Run(runCtx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return s
}

// waitFor collects events until one of type want arrives.
func (s *stack) waitFor(t *testing.T, want string) []events.Event {
	t.Helper()
	var seen []events.Event
	timeout := time.After(10 * time.Second)
	for {
		select {
		case ev := <-s.sub:
			seen = append(seen, ev)
			if ev.Type == want {
				return seen
			}
		case <-timeout:
			types := make([]string, 0, len(seen))
			for _, ev := range seen {
				types = append(types, ev.Type)
			}
			t.Fatalf("timed out waiting for %s; saw %v", want, types)
			return nil
		}
	}
}

func writeScript(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0755))
	return path
}

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestEndToEnd_ClipboardToHistory(t *testing.T) {
	tmpDir := t.TempDir()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	fetch := writeScript(t, tmpDir, "fetch.sh", `echo "note: fetching $1"
echo "warning: slow mirror"
`)
	configPath := writeConfig(t, tmpDir, `
programs:
  fetch: `+fetch+`
filters:
  playlist: {pattern: '&list=[^&]*', replace: ''}
rules:
  - pattern: 'https?://example\.com/watch'
    command: 'fetch {url}'
    label: Fetch
    filter: playlist
    autorun: true
  - pattern: 'https?://'
    command: 'echo manual {url}'
    label: Echo
`)
	s := startStack(t, ctx, configPath)

	clip := &fakeClipboard{}
	w := watcher.New(clip, 10*time.Millisecond, s.coord.OnCandidateText)
	go func() { _ = w.Run(ctx) }()

	clip.set("https://example.com/watch?v=1&list=abc")
	seen := s.waitFor(t, events.TypeHistoryAppended)

	var types []string
	var classes []string
	for _, ev := range seen {
		types = append(types, ev.Type)
		if ev.Type == events.TypeRunOutput {
			var p events.RunOutputPayload
			require.NoError(t, ev.Decode(&p))
			classes = append(classes, p.Class)
		}
	}
	assert.Equal(t, []string{
		events.TypeMatchesFound,
		events.TypeRunStarted,
		events.TypeRunOutput,
		events.TypeRunOutput,
		events.TypeRunCompleted,
		events.TypeHistoryAppended,
	}, types)
	assert.Equal(t, []string{"note", "warning"}, classes)

	var found events.MatchesFoundPayload
	require.NoError(t, seen[0].Decode(&found))
	require.NotNil(t, found.AutorunRuleID)
	assert.Equal(t, 0, *found.AutorunRuleID)
	assert.Len(t, found.Matches, 2)

	require.Equal(t, 1, s.ledger.Len())
	rec, err := s.ledger.Get(0)
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/watch?v=1", rec.Link)
	assert.Equal(t, history.OutcomeOK, rec.Outcome)
	assert.True(t, rec.Autorun)
	assert.Contains(t, rec.Output, "fetching https://example.com/watch?v=1")

	// Unchanged clipboard content is not dispatched again.
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, s.ledger.Len())

	// A manual run of the non-autorun rule lands after it.
	ticket, err := s.coord.Trigger(ctx, 1, "https://example.com/other", runner.Overrides{})
	require.NoError(t, err)
	manual, index, err := ticket.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, index)
	assert.Equal(t, "manual https://example.com/other\n", manual.Output)
	assert.False(t, manual.Autorun)
}

func TestEndToEnd_ReloadSwapsRules(t *testing.T) {
	tmpDir := t.TempDir()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	configPath := writeConfig(t, tmpDir, `
rules:
  - {pattern: 'a', command: 'echo a {url}', label: A}
`)
	s := startStack(t, ctx, configPath)
	reloader := reload.New(s.cfg, s.coord, s.hub)

	writeConfig(t, tmpDir, `
rules:
  - {pattern: 'b', command: 'echo b {url}', label: B, autorun: true}
  - {pattern: '(', command: 'echo broken'}
  - {pattern: 'c', command: 'echo c {url}', label: C}
`)
	res, err := reloader.Reload(ctx, "test", false)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Rules)
	assert.Len(t, res.RuleErrors, 1)
	s.waitFor(t, events.TypeConfigReloaded)

	snapshot := s.registry.Snapshot()
	require.Len(t, snapshot, 2)
	assert.Equal(t, "B", snapshot[0].Label)
	assert.Equal(t, "C", snapshot[1].Label)

	// The swapped rules drive dispatch.
	s.coord.OnCandidateText("bbb")
	s.waitFor(t, events.TypeHistoryAppended)
	rec, err := s.ledger.Get(0)
	require.NoError(t, err)
	assert.Equal(t, "B", rec.RuleLabel)

	// A file that no longer parses leaves the rules alone.
	writeConfig(t, tmpDir, "rules: [\n")
	_, err = reloader.Reload(ctx, "test", false)
	require.Error(t, err)
	s.waitFor(t, events.TypeConfigRejected)
	assert.Equal(t, 2, s.registry.Len())
}

func TestEndToEnd_SignedWebhookRunsAutorun(t *testing.T) {
	tmpDir := t.TempDir()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	configPath := writeConfig(t, tmpDir, `
webhooks:
  listen: 127.0.0.1:0
  endpoints:
    - {path: /share, secret: shh}
rules:
  - {pattern: '^https://', command: 'echo shared {url}', label: Shared, autorun: true}
`)
	s := startStack(t, ctx, configPath)

	whCfg, err := webhook.FromGlobalConfig(s.cfg.Webhooks)
	require.NoError(t, err)
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	srv := httptest.NewServer(webhook.New(whCfg, s.coord, s.registry, logger).Handler())
	defer srv.Close()

	body := []byte(`{"text":"https://example.org/x"}`)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, srv.URL+"/share", bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(webhook.DefaultSignatureHeader, webhook.Signature(body, "shh"))

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	s.waitFor(t, events.TypeHistoryAppended)
	rec, err := s.ledger.Get(0)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(rec.Output, "shared https://example.org/x"))
	assert.True(t, rec.Autorun)
}
