package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/mattjoyce/cliprun/internal/auth"
	"github.com/mattjoyce/cliprun/internal/config"
	"github.com/mattjoyce/cliprun/internal/dispatch"
	"github.com/mattjoyce/cliprun/internal/events"
	"github.com/mattjoyce/cliprun/internal/history"
	"github.com/mattjoyce/cliprun/internal/log"
	"github.com/mattjoyce/cliprun/internal/reload"
	"github.com/mattjoyce/cliprun/internal/rules"
	"github.com/mattjoyce/cliprun/internal/runner"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "test-key-123"

func TestMain(m *testing.M) {
	log.Setup("ERROR", "json") // Suppress logs in tests
	os.Exit(m.Run())
}

type fakeReloader struct {
	res   reload.Result
	err   error
	force bool
}

func (f *fakeReloader) Reload(ctx context.Context, reason string, force bool) (reload.Result, error) {
	f.force = force
	return f.res, f.err
}

type testEnv struct {
	server   *Server
	handler  http.Handler
	registry *rules.Registry
	ledger   *history.Ledger
	hub      *events.Hub
}

func newTestEnv(t *testing.T, reloader ConfigReloader, raws ...config.RuleConfig) *testEnv {
	t.Helper()
	built, errs := rules.Build(&config.Config{Rules: raws})
	require.Empty(t, errs)

	registry := rules.NewRegistry(built)
	ledger := history.New()
	hub := events.NewHub(64)
	coord := dispatch.New(registry, ledger, runner.New(), dispatch.NewHubPresenter(hub), dispatch.Options{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = coord.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	cfg := Config{
		Listen: "127.0.0.1:0",
		APIKey: testKey,
		Tokens: []auth.TokenConfig{
			{Token: "reader", Scopes: []string{auth.ScopeRulesRead, auth.ScopeHistory}},
		},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv := New(cfg, coord, registry, ledger, reloader, hub, logger)
	return &testEnv{server: srv, handler: srv.Handler(), registry: registry, ledger: ledger, hub: hub}
}

func (e *testEnv) do(t *testing.T, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	e.handler.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &v), "body: %s", rr.Body.String())
	return v
}

func skipWithoutShell(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("run fixtures need a POSIX userland")
	}
	if _, err := exec.LookPath("echo"); err != nil {
		t.Skip("echo not available")
	}
}

var echoRules = []config.RuleConfig{
	{Pattern: `^https?://`, Command: "echo got {url}", Label: "Echo"},
	{Pattern: `example\.com`, Command: "echo example {url}", Label: "Example"},
}

func TestHandleHealthz_NoAuth(t *testing.T) {
	env := newTestEnv(t, nil, echoRules...)

	rr := env.do(t, http.MethodGet, "/healthz", "", "")
	require.Equal(t, http.StatusOK, rr.Code)

	resp := decode[HealthzResponse](t, rr)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 2, resp.RulesLoaded)
	assert.Equal(t, 0, resp.RunsActive)
	assert.Equal(t, 0, resp.HistoryRecords)
}

func TestAuth(t *testing.T) {
	env := newTestEnv(t, nil, echoRules...)

	tests := []struct {
		name   string
		method string
		path   string
		token  string
		body   string
		want   int
	}{
		{"missing token", http.MethodGet, "/rules", "", "", http.StatusUnauthorized},
		{"wrong token", http.MethodGet, "/rules", "nope", "", http.StatusUnauthorized},
		{"reader can list rules", http.MethodGet, "/rules", "reader", "", http.StatusOK},
		{"reader can list history", http.MethodGet, "/history", "reader", "", http.StatusOK},
		{"reader cannot patch", http.MethodPatch, "/rules/0", "reader", `{"autorun":true}`, http.StatusForbidden},
		{"reader cannot run", http.MethodPost, "/rules/0/run", "reader", `{"text":"x"}`, http.StatusForbidden},
		{"reader cannot stream events", http.MethodGet, "/events", "reader", "", http.StatusForbidden},
		{"api key has full access", http.MethodPatch, "/rules/0", testKey, `{"autorun":false}`, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := env.do(t, tt.method, tt.path, tt.token, tt.body)
			assert.Equal(t, tt.want, rr.Code, "body: %s", rr.Body.String())
		})
	}
}

func TestHandleListRules(t *testing.T) {
	env := newTestEnv(t, nil, echoRules...)

	rr := env.do(t, http.MethodGet, "/rules", testKey, "")
	require.Equal(t, http.StatusOK, rr.Code)

	resp := decode[RuleListResponse](t, rr)
	require.Len(t, resp.Rules, 2)
	assert.Equal(t, "Echo", resp.Rules[0].Label)
	assert.Equal(t, `^https?://`, resp.Rules[0].Pattern)
	assert.Equal(t, 1, resp.Rules[1].ID)
	assert.False(t, resp.Rules[1].Autorun)
}

func TestHandlePatchRule(t *testing.T) {
	env := newTestEnv(t, nil, echoRules...)

	rr := env.do(t, http.MethodPatch, "/rules/1", testKey, `{"run_in_shell":true,"autorun":true}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	view := decode[RuleView](t, rr)
	assert.True(t, view.RunInShell)
	assert.True(t, view.Autorun)

	stored, err := env.registry.Get(1)
	require.NoError(t, err)
	assert.True(t, stored.Autorun)
	assert.Equal(t, "echo example {url}", stored.Command)

	var sawUpdate bool
	for _, ev := range env.hub.SnapshotSince(0) {
		if ev.Type == events.TypeRulesUpdated {
			sawUpdate = true
		}
	}
	assert.True(t, sawUpdate, "expected a rules.updated event")

	// Label lookup resolves the same rule.
	rr = env.do(t, http.MethodPatch, "/rules/Example", testKey, `{"autorun":false}`)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.False(t, decode[RuleView](t, rr).Autorun)

	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodPatch, "/rules/9", testKey, `{"autorun":true}`).Code)
	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodPatch, "/rules/0", testKey, `{}`).Code)
	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodPatch, "/rules/0", testKey, `{"shell":true}`).Code)
}

func TestHandleSelectAutorun(t *testing.T) {
	env := newTestEnv(t, nil,
		config.RuleConfig{Pattern: `a`, Command: "echo a", Autorun: true},
		config.RuleConfig{Pattern: `b`, Command: "echo b", Autorun: true},
		config.RuleConfig{Pattern: `c`, Command: "echo c"},
	)

	rr := env.do(t, http.MethodPut, "/autorun", testKey, `{"rule_id":2}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	resp := decode[RuleListResponse](t, rr)
	var autorun []int
	for _, r := range resp.Rules {
		if r.Autorun {
			autorun = append(autorun, r.ID)
		}
	}
	assert.Equal(t, []int{2}, autorun)

	rr = env.do(t, http.MethodPut, "/autorun", testKey, `{"rule_id":null}`)
	require.Equal(t, http.StatusOK, rr.Code)
	for _, r := range decode[RuleListResponse](t, rr).Rules {
		assert.False(t, r.Autorun, "rule %d still autorun", r.ID)
	}

	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodPut, "/autorun", testKey, `{"rule_id":7}`).Code)
}

func TestHandleRunRule_WaitAndHistory(t *testing.T) {
	skipWithoutShell(t)
	env := newTestEnv(t, nil, echoRules...)

	rr := env.do(t, http.MethodPost, "/rules/0/run?wait=true", testKey, `{"text":"https://example.com/x"}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	entry := decode[HistoryEntry](t, rr)
	assert.Equal(t, 0, entry.Index)
	assert.Equal(t, "OK", entry.Outcome)
	assert.Equal(t, 0, entry.ExitCode)
	assert.Equal(t, "got https://example.com/x\n", entry.Output)
	assert.False(t, entry.Autorun)

	rr = env.do(t, http.MethodGet, "/history", "reader", "")
	require.Equal(t, http.StatusOK, rr.Code)
	list := decode[HistoryListResponse](t, rr)
	require.Equal(t, 1, list.Total)
	assert.Empty(t, list.Records[0].Output, "list omits output")
	assert.Equal(t, "Echo", list.Records[0].RuleLabel)

	rr = env.do(t, http.MethodGet, "/history/0", "reader", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "got https://example.com/x\n", decode[HistoryEntry](t, rr).Output)

	rr = env.do(t, http.MethodGet, "/history/0/output", "reader", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "text/plain; charset=utf-8", rr.Header().Get("Content-Type"))
	assert.Equal(t, "got https://example.com/x\n", rr.Body.String())

	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/history/3", "reader", "").Code)
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/history/3/output", "reader", "").Code)
	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodGet, "/history/x", "reader", "").Code)
}

func TestHandleRunRule_WaitSpawnFailureReturnsRecord(t *testing.T) {
	env := newTestEnv(t, nil, config.RuleConfig{Pattern: `.`, Command: "/nonexistent/cliprun-missing {url}", Label: "Missing"})

	rr := env.do(t, http.MethodPost, "/rules/Missing/run?wait=true", testKey, `{"text":"http://x"}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	entry := decode[HistoryEntry](t, rr)
	assert.Equal(t, 0, entry.Index)
	assert.Equal(t, history.NoExitCode, entry.ExitCode)
	assert.NotEqual(t, "OK", entry.Outcome)
}

func TestHandleRunRule_QueuedByLabel(t *testing.T) {
	skipWithoutShell(t)
	env := newTestEnv(t, nil, echoRules...)

	rr := env.do(t, http.MethodPost, "/rules/Example/run", testKey, `{"text":"example.com","run_in_shell":true}`)
	require.Equal(t, http.StatusAccepted, rr.Code, rr.Body.String())
	resp := decode[RunAcceptedResponse](t, rr)
	assert.Equal(t, "queued", resp.Status)
	assert.Equal(t, 1, resp.RuleID)

	require.Eventually(t, func() bool { return env.ledger.Len() == 1 }, 5*time.Second, 10*time.Millisecond)
	rec, err := env.ledger.Get(0)
	require.NoError(t, err)
	assert.Equal(t, "example example.com\n", rec.Output)

	stored, err := env.registry.Get(1)
	require.NoError(t, err)
	assert.True(t, stored.RunInShell, "run override is persisted")

	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodPost, "/rules/0/run", testKey, `{"text":"  "}`).Code)
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodPost, "/rules/Nope/run", testKey, `{"text":"x"}`).Code)
}

func TestHandleCandidate(t *testing.T) {
	skipWithoutShell(t)
	env := newTestEnv(t, nil,
		config.RuleConfig{Pattern: `^https?://`, Command: "echo got {url}", Label: "Echo", Autorun: true},
		config.RuleConfig{Pattern: `example\.com`, Command: "echo example {url}", Label: "Example"},
		config.RuleConfig{Pattern: `never-matches`, Command: "echo no"},
	)

	rr := env.do(t, http.MethodPost, "/candidates", testKey, `{"text":"https://example.com"}`)
	require.Equal(t, http.StatusAccepted, rr.Code, rr.Body.String())
	resp := decode[CandidateResponse](t, rr)
	require.Len(t, resp.Matches, 2)
	assert.Equal(t, "Echo", resp.Matches[0].Label)
	require.NotNil(t, resp.AutorunRuleID)
	assert.Equal(t, 0, *resp.AutorunRuleID)
	assert.False(t, resp.AutorunConflict)

	require.Eventually(t, func() bool { return env.ledger.Len() == 1 }, 5*time.Second, 10*time.Millisecond)
	rec, err := env.ledger.Get(0)
	require.NoError(t, err)
	assert.True(t, rec.Autorun)
	assert.Equal(t, "got https://example.com\n", rec.Output)

	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodPost, "/candidates", testKey, "").Code)
	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodPost, "/candidates", testKey, `{"text":""}`).Code)
}

func TestHandleListHistory_Limit(t *testing.T) {
	skipWithoutShell(t)
	env := newTestEnv(t, nil, echoRules...)

	for i := 0; i < 3; i++ {
		rr := env.do(t, http.MethodPost, "/rules/0/run?wait=true", testKey, `{"text":"http://x"}`)
		require.Equal(t, http.StatusOK, rr.Code)
	}

	rr := env.do(t, http.MethodGet, "/history?limit=2", testKey, "")
	require.Equal(t, http.StatusOK, rr.Code)
	list := decode[HistoryListResponse](t, rr)
	assert.Equal(t, 3, list.Total)
	require.Len(t, list.Records, 2)
	assert.Equal(t, 1, list.Records[0].Index)
	assert.Equal(t, 2, list.Records[1].Index)

	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodGet, "/history?limit=-1", testKey, "").Code)
}

func TestHandleReload(t *testing.T) {
	env := newTestEnv(t, nil, echoRules...)
	assert.Equal(t, http.StatusNotImplemented, env.do(t, http.MethodPost, "/reload", testKey, "").Code)

	fr := &fakeReloader{res: reload.Result{
		Path:        "/etc/cliprun/config.yaml",
		Fingerprint: "abc",
		Rules:       4,
		RuleErrors:  []error{errors.New("rules[2].pattern: pattern is empty")},
	}}
	env = newTestEnv(t, fr, echoRules...)

	rr := env.do(t, http.MethodPost, "/reload", testKey, `{"force":true}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	resp := decode[ReloadResponse](t, rr)
	assert.Equal(t, 4, resp.Rules)
	assert.Equal(t, []string{"rules[2].pattern: pattern is empty"}, resp.Errors)
	assert.True(t, fr.force)

	fr.err = errors.New("invalid configuration: service.log_format must be json or text")
	rr = env.do(t, http.MethodPost, "/reload", testKey, "")
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	assert.Contains(t, rr.Body.String(), "log_format")
}

func TestWriteEngineError(t *testing.T) {
	env := newTestEnv(t, nil)
	tests := []struct {
		err  error
		want int
	}{
		{rules.ErrRuleNotFound, http.StatusNotFound},
		{dispatch.ErrStopped, http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		rr := httptest.NewRecorder()
		env.server.writeEngineError(rr, tt.err)
		assert.Equal(t, tt.want, rr.Code, tt.err.Error())
		assert.True(t, bytes.Contains(rr.Body.Bytes(), []byte(tt.err.Error())))
	}
}
