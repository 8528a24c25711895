package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/mattjoyce/cliprun/internal/api"
	"github.com/mattjoyce/cliprun/internal/auth"
	"github.com/mattjoyce/cliprun/internal/config"
	"github.com/mattjoyce/cliprun/internal/dispatch"
	"github.com/mattjoyce/cliprun/internal/doctor"
	"github.com/mattjoyce/cliprun/internal/events"
	"github.com/mattjoyce/cliprun/internal/history"
	"github.com/mattjoyce/cliprun/internal/lock"
	"github.com/mattjoyce/cliprun/internal/log"
	"github.com/mattjoyce/cliprun/internal/reload"
	"github.com/mattjoyce/cliprun/internal/rules"
	"github.com/mattjoyce/cliprun/internal/runner"
	"github.com/mattjoyce/cliprun/internal/tui"
	"github.com/mattjoyce/cliprun/internal/watcher"
	"github.com/mattjoyce/cliprun/internal/webhook"
	"gopkg.in/yaml.v3"
)

const version = "0.1.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	// --- NOUNS ---
	case "config":
		os.Exit(runConfigNoun(args))
	case "rules":
		os.Exit(runRulesNoun(args))

	// --- VERBS ---
	case "start":
		if hasHelpFlag(args) {
			printStartHelp()
			os.Exit(0)
		}
		os.Exit(runStart(args))
	case "run":
		if hasHelpFlag(args) {
			printRunHelp()
			os.Exit(0)
		}
		os.Exit(runRule(args))
	case "doctor":
		os.Exit(runConfigCheck(args))
	case "version":
		fmt.Printf("cliprun version %s\n", version)
		os.Exit(0)
	case "help", "--help", "-h":
		printUsage()
		os.Exit(0)

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Print(`cliprun - Run commands for links copied to the clipboard

Usage:
  cliprun <command> [flags]
  cliprun <noun> <action> [flags]

Service:
  start                     Watch the clipboard and dispatch matching rules

Config Commands:
  config check              Validate rules, references and commands
  config show               Show the resolved configuration

Rule Commands:
  rules list                List the compiled rules
  rules test <text>         Show which rules match text and what would run

One-shot:
  run <rule> <text>         Run one rule against text and stream its output

General:
  version                   Show version information
  help                      Show this help message

Use 'cliprun <noun> help' for resource-specific flags.
`)
}

// --- NOUN DISPATCHERS ---

func runConfigNoun(args []string) int {
	if len(args) < 1 {
		printConfigNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printConfigNounHelp(os.Stdout)
		return 0
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "check":
		if hasHelpFlag(actionArgs) {
			printConfigCheckHelp()
			return 0
		}
		return runConfigCheck(actionArgs)
	case "show":
		if hasHelpFlag(actionArgs) {
			printConfigShowHelp()
			return 0
		}
		return runConfigShow(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown config action: %s\n", action)
		return 1
	}
}

func runRulesNoun(args []string) int {
	if len(args) < 1 {
		printRulesNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printRulesNounHelp(os.Stdout)
		return 0
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "list":
		if hasHelpFlag(actionArgs) {
			printRulesListHelp()
			return 0
		}
		return runRulesList(actionArgs)
	case "test":
		if hasHelpFlag(actionArgs) {
			printRulesTestHelp()
			return 0
		}
		return runRulesTest(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown rules action: %s\n", action)
		return 1
	}
}

func isHelpToken(token string) bool {
	return token == "help" || token == "--help" || token == "-h"
}

func hasHelpFlag(args []string) bool {
	for _, arg := range args {
		if arg == "--help" || arg == "-h" {
			return true
		}
	}
	return false
}

func printConfigNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: cliprun config <action> [flags]")
	fmt.Fprintln(w, "Actions: check, show")
}

func printRulesNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: cliprun rules <action> [flags]")
	fmt.Fprintln(w, "Actions: list, test")
}

func printStartHelp() {
	fmt.Println("Usage: cliprun start [--config PATH] [--tui] [--no-watch] [--log-file PATH]")
	fmt.Println("Watch the clipboard, dispatch matching rules and serve the API if enabled.")
}

func printRunHelp() {
	fmt.Println("Usage: cliprun run <rule-id|label> <text> [--config PATH] [--shell]")
	fmt.Println("Run one rule against text in the foreground. Exits 0 only if the command exits 0.")
}

func printConfigCheckHelp() {
	fmt.Println("Usage: cliprun config check [--config PATH] [--format human|json] [--strict] [--json]")
	fmt.Println("Validate rules, filters, aliases and referenced programs.")
}

func printConfigShowHelp() {
	fmt.Println("Usage: cliprun config show [--config PATH] [--json | --yaml]")
	fmt.Println("Show a summary of the resolved configuration, or the full document.")
}

func printRulesListHelp() {
	fmt.Println("Usage: cliprun rules list [--config PATH] [--json]")
	fmt.Println("List compiled rules in declaration order.")
}

func printRulesTestHelp() {
	fmt.Println("Usage: cliprun rules test <text> [--config PATH] [--json]")
	fmt.Println("Show which rules match text, the filtered link and the command each would run.")
}

// --- ACTION IMPLEMENTATIONS ---

func runStart(args []string) int {
	fs := flag.NewFlagSet("start", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	useTUI := fs.Bool("tui", false, "Show the interactive terminal UI")
	noWatch := fs.Bool("no-watch", false, "Do not poll the clipboard (API only)")
	logFile := fs.String("log-file", "", "Write logs to this file (default next to the lock file in TUI mode)")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	if *configPath == "" {
		discovered, err := config.Discover()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to discover config: %v\n", err)
			return 1
		}
		*configPath = discovered
		fmt.Fprintf(os.Stderr, "Using discovered config: %s\n", *configPath)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	lockPath := config.ExpandHome(cfg.Service.LockPath)

	// The terminal UI owns the screen; logs go to a file instead of stderr.
	if *useTUI && *logFile == "" {
		*logFile = filepath.Join(filepath.Dir(lockPath), "cliprun.log")
	}
	if *logFile != "" {
		f, err := openLogFile(*logFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file: %v\n", err)
			return 1
		}
		defer f.Close()
		log.SetOutput(f)
	}

	log.Setup(cfg.Service.LogLevel, cfg.Service.LogFormat)
	logger := log.WithComponent("main")
	logger.Info("cliprun starting", "version", version, "config", cfg.SourcePath)

	pidLock, err := lock.AcquirePIDLock(lockPath)
	if err != nil {
		logger.Error("failed to acquire PID lock (another instance may be running)", "path", lockPath, "error", err)
		fmt.Fprintf(os.Stderr, "cliprun: %v\n", err)
		return 1
	}
	defer pidLock.Release()
	logger.Info("acquired PID lock", "path", lockPath)

	built, ruleErrs := rules.Build(cfg)
	for _, e := range ruleErrs {
		logger.Warn("rule skipped", "error", e)
	}
	logger.Info("rules loaded", "count", len(built), "skipped", len(ruleErrs))

	registry := rules.NewRegistry(built)
	ledger := history.New()
	hub := events.NewHub(0)

	presenters := dispatch.Presenters{dispatch.NewHubPresenter(hub)}
	if !*useTUI {
		presenters = append(presenters, dispatch.NewLogPresenter())
	}
	coord := dispatch.New(registry, ledger, runner.New(), presenters, dispatch.Options{
		MaxConcurrentRuns: cfg.Service.MaxConcurrentRuns,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	hupCh := make(chan os.Signal, 1)
	signal.Notify(hupCh, syscall.SIGHUP)
	defer signal.Stop(sigCh)
	defer signal.Stop(hupCh)

	errCh := make(chan error, 4)
	coordDone := make(chan struct{})

	go func() {
		defer close(coordDone)
		if err := coord.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- fmt.Errorf("coordinator: %w", err)
		}
	}()

	reloader := reload.New(cfg, coord, hub)
	if cfg.Service.ReloadEnabled() {
		go func() {
			if err := reloader.Watch(ctx); err != nil && !errors.Is(err, context.Canceled) {
				// A broken watch is not fatal; SIGHUP and the API still reload.
				logger.Warn("config watch stopped", "error", err)
			}
		}()
	}

	clip := watcher.SystemClipboard{}
	w := watcher.New(clip, cfg.Service.PollInterval, coord.OnCandidateText)
	if !*noWatch {
		if !clip.Available() {
			logger.Warn("no clipboard backend found; install xclip, xsel or wl-clipboard")
		}
		go func() {
			if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("watcher: %w", err)
			}
		}()
	}

	if cfg.API.Enabled {
		tokens := make([]auth.TokenConfig, 0, len(cfg.API.Auth.Tokens))
		for _, t := range cfg.API.Auth.Tokens {
			tokens = append(tokens, auth.TokenConfig{
				Token:  t.Token,
				Scopes: t.Scopes,
			})
		}
		apiConfig := api.Config{
			Listen: cfg.API.Listen,
			APIKey: cfg.API.Auth.APIKey,
			Tokens: tokens,
		}
		apiServer := api.New(apiConfig, coord, registry, ledger, reloader, hub, log.WithComponent("api"))
		go func() {
			if err := apiServer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("api: %w", err)
			}
		}()
		logger.Info("API server enabled", "listen", cfg.API.Listen)
	}

	if cfg.Webhooks != nil && len(cfg.Webhooks.Endpoints) > 0 {
		webhookConfig, err := webhook.FromGlobalConfig(cfg.Webhooks)
		if err != nil {
			logger.Error("failed to configure webhooks", "error", err)
			return 1
		}

		webhookServer := webhook.New(webhookConfig, coord, registry, log.WithComponent("webhook"))
		go func() {
			if err := webhookServer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("webhook: %w", err)
			}
		}()
		logger.Info("webhook server enabled", "listen", webhookConfig.Listen, "endpoints", len(webhookConfig.Endpoints))
	}

	var tuiDone chan error
	if *useTUI {
		model := tui.New(coord, registry, ledger, hub, tui.Options{
			Autoclose:      cfg.Service.Autoclose,
			AutocloseDelay: cfg.Service.AutocloseDelay,
			Copier:         w,
		})
		defer model.Close()

		tuiDone = make(chan error, 1)
		program := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))
		go func() {
			_, err := program.Run()
			tuiDone <- err
		}()
	} else {
		logger.Info("cliprun running (press Ctrl+C to stop)")
	}

	code := 0
loop:
	for {
		select {
		case sig := <-sigCh:
			logger.Info("received shutdown signal", "signal", sig)
			break loop
		case <-hupCh:
			res, err := reloader.Reload(ctx, "sighup", true)
			if err != nil {
				logger.Error("reload failed; keeping previous rules", "error", err)
				continue
			}
			logger.Info("reloaded on SIGHUP", "rules", res.Rules, "skipped", len(res.RuleErrors))
		case err := <-tuiDone:
			if err != nil && !errors.Is(err, tea.ErrProgramKilled) {
				logger.Error("terminal UI failed", "error", err)
				code = 1
			}
			break loop
		case err := <-errCh:
			logger.Error("component failed", "error", err)
			code = 1
			break loop
		}
	}

	cancel()
	// Running children are killed by the cancelled context; wait until
	// each one has a history record.
	<-coordDone
	logger.Info("cliprun stopped", "history_records", ledger.Len())
	return code
}

func openLogFile(path string) (*os.File, error) {
	path = config.ExpandHome(path)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	return os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
}

func runConfigCheck(args []string) int {
	var configPath string
	var strict, jsonOut bool
	var format string

	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	fs.StringVar(&configPath, "config", "", "Path to configuration")
	fs.BoolVar(&strict, "strict", false, "Treat warnings as errors")
	fs.StringVar(&format, "format", "human", "Output format (human, json)")
	// Handle -json alias for format=json
	fs.BoolVar(&jsonOut, "json", false, "Output in JSON")

	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	if jsonOut {
		format = "json"
	}

	cfg, err := loadConfigForTool(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config load error: %v\n", err)
		return 1
	}

	result := doctor.New(cfg).Validate()

	switch format {
	case "json":
		out, err := doctor.FormatJSON(result)
		if err != nil {
			fmt.Fprintf(os.Stderr, "JSON format error: %v\n", err)
			return 1
		}
		fmt.Println(out)
	default:
		fmt.Print(doctor.FormatHuman(result))
	}

	if !result.Valid {
		return 1
	}
	if strict && len(result.Warnings) > 0 {
		return 2
	}
	return 0
}

func runConfigShow(args []string) int {
	fs := flag.NewFlagSet("show", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	jsonOut := fs.Bool("json", false, "Output the resolved configuration as JSON")
	yamlOut := fs.Bool("yaml", false, "Output the resolved configuration as YAML")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	cfg, err := loadConfigForTool(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Load error: %v\n", err)
		return 1
	}

	redactSecrets(cfg)

	switch {
	case *jsonOut:
		data, _ := json.MarshalIndent(cfg, "", "  ")
		fmt.Println(string(data))
	case *yamlOut:
		data, err := yaml.Marshal(cfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "YAML encode error: %v\n", err)
			return 1
		}
		fmt.Print(string(data))
	default:
		printConfigSummary(os.Stdout, cfg)
	}
	return 0
}

// redactSecrets blanks bearer tokens so config show is safe to paste.
func redactSecrets(cfg *config.Config) {
	if cfg.API.Auth.APIKey != "" {
		cfg.API.Auth.APIKey = redacted
	}
	for i := range cfg.API.Auth.Tokens {
		cfg.API.Auth.Tokens[i].Token = redacted
	}
	if cfg.Webhooks != nil {
		for i := range cfg.Webhooks.Endpoints {
			cfg.Webhooks.Endpoints[i].Secret = redacted
		}
	}
}

const redacted = "<redacted>"

func printConfigSummary(w io.Writer, cfg *config.Config) {
	fmt.Fprintf(w, "Config:        %s\n", cfg.SourcePath)
	fmt.Fprintf(w, "Poll interval: %s\n", cfg.Service.PollInterval)
	fmt.Fprintf(w, "Lock file:     %s\n", config.ExpandHome(cfg.Service.LockPath))
	fmt.Fprintf(w, "Reload:        %t\n", cfg.Service.ReloadEnabled())
	if cfg.API.Enabled {
		fmt.Fprintf(w, "API:           %s (%d token(s))\n", cfg.API.Listen, len(cfg.API.Auth.Tokens))
	} else {
		fmt.Fprintln(w, "API:           disabled")
	}
	if cfg.Webhooks != nil && len(cfg.Webhooks.Endpoints) > 0 {
		fmt.Fprintf(w, "Webhooks:      %s (%d endpoint(s))\n", cfg.Webhooks.Listen, len(cfg.Webhooks.Endpoints))
	}
	fmt.Fprintf(w, "Aliases:       %d pattern(s), %d program(s)\n", len(cfg.Patterns), len(cfg.Programs))
	fmt.Fprintf(w, "Filters:       %d\n", len(cfg.Filters))
	fmt.Fprintln(w)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tLABEL\tPATTERN\tFILTER\tSHELL\tAUTORUN")
	for i, r := range cfg.Rules {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n", i, r.Label, r.Pattern, dash(r.Filter), yesNo(r.RunInShell), yesNo(r.Autorun))
	}
	tw.Flush()
}

// ruleListing is the JSON shape of one rule in rules list and rules test.
type ruleListing struct {
	ID         int    `json:"id"`
	Label      string `json:"label"`
	Pattern    string `json:"pattern"`
	Command    string `json:"command"`
	Filter     string `json:"filter,omitempty"`
	RunInShell bool   `json:"run_in_shell"`
	Autorun    bool   `json:"autorun"`
	Link       string `json:"link,omitempty"`
	Expanded   string `json:"expanded,omitempty"`
}

func newRuleListing(r rules.Rule) ruleListing {
	return ruleListing{
		ID:         r.ID,
		Label:      r.Label,
		Pattern:    r.Pattern.String(),
		Command:    r.Command,
		Filter:     r.FilterName(),
		RunInShell: r.RunInShell,
		Autorun:    r.Autorun,
	}
}

func runRulesList(args []string) int {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	jsonOut := fs.Bool("json", false, "Output in structured JSON format")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	built, code := buildRulesForTool(*configPath)
	if built == nil && code != 0 {
		return code
	}

	if *jsonOut {
		out := make([]ruleListing, 0, len(built))
		for _, r := range built {
			out = append(out, newRuleListing(r))
		}
		data, _ := json.MarshalIndent(out, "", "  ")
		fmt.Println(string(data))
		return code
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tLABEL\tPATTERN\tCOMMAND\tFLAGS")
	for _, r := range built {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", r.ID, r.Label, r.Pattern, r.Command, ruleFlags(r))
	}
	tw.Flush()
	return code
}

func runRulesTest(args []string) int {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	jsonOut := fs.Bool("json", false, "Output in structured JSON format")

	positional, flags := splitPositional(args)
	if err := fs.Parse(flags); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if len(positional) != 1 {
		fmt.Fprintln(os.Stderr, "Usage: cliprun rules test <text> [--config PATH] [--json]")
		return 1
	}
	text := positional[0]

	built, code := buildRulesForTool(*configPath)
	if built == nil && code != 0 {
		return code
	}

	set := rules.Select(text, built)

	if *jsonOut {
		type testOutput struct {
			Text            string        `json:"text"`
			Matches         []ruleListing `json:"matches"`
			Autorun         *int          `json:"autorun"`
			AutorunConflict bool          `json:"autorun_conflict"`
		}
		out := testOutput{Text: text, Matches: make([]ruleListing, 0, len(set.Matches)), AutorunConflict: set.AutorunConflict}
		for _, r := range set.Matches {
			l := newRuleListing(r)
			l.Link, l.Expanded = r.Expand(text)
			out.Matches = append(out.Matches, l)
		}
		if set.AutorunChoice != nil {
			id := set.AutorunChoice.ID
			out.Autorun = &id
		}
		data, _ := json.MarshalIndent(out, "", "  ")
		fmt.Println(string(data))
		return code
	}

	if set.Empty() {
		fmt.Println("No rules match.")
		return code
	}

	fmt.Printf("%d rule(s) match:\n", len(set.Matches))
	for _, r := range set.Matches {
		link, line := r.Expand(text)
		fmt.Printf("\n[%d] %s (%s)\n", r.ID, r.Label, ruleFlags(r))
		if link != text {
			fmt.Printf("  link:    %s\n", link)
		}
		fmt.Printf("  command: %s\n", line)
	}
	if set.AutorunChoice != nil {
		fmt.Printf("\nAutorun: [%d] %s\n", set.AutorunChoice.ID, set.AutorunChoice.Label)
		if set.AutorunConflict {
			fmt.Printf("Warning: several matching rules are autorun %v; the first declared wins.\n", set.AutorunCandidates)
		}
	}
	return code
}

func runRule(args []string) int {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	shell := fs.Bool("shell", false, "Run through /bin/sh -c regardless of the rule")

	positional, flags := splitPositional(args)
	if err := fs.Parse(flags); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if len(positional) != 2 {
		fmt.Fprintln(os.Stderr, "Usage: cliprun run <rule-id|label> <text> [--config PATH] [--shell]")
		return 1
	}

	built, code := buildRulesForTool(*configPath)
	if built == nil && code != 0 {
		return code
	}

	registry := rules.NewRegistry(built)
	rule, err := findRule(registry, positional[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	text := positional[1]
	if !rule.Matches(text) {
		fmt.Fprintf(os.Stderr, "Warning: rule %q does not match the given text\n", rule.Label)
	}

	var ov runner.Overrides
	if *shell {
		ov.RunInShell = shell
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	run := runner.New().Start(ctx, rule, text, ov)
	for ev := range run.Events() {
		switch e := ev.(type) {
		case runner.LineEvent:
			fmt.Println(e.Text)
		case runner.FailedEvent:
			fmt.Fprintf(os.Stderr, "Error: %v\n", e.Err)
		}
	}
	<-run.Done()

	rec := run.Record()
	fmt.Fprintf(os.Stderr, "%s (%s)\n", rec.Outcome, rec.Duration.Round(time.Millisecond))
	if !rec.Succeeded() {
		return 1
	}
	return 0
}

// findRule resolves a numeric id or a label.
func findRule(registry *rules.Registry, ref string) (rules.Rule, error) {
	if id, err := strconv.Atoi(ref); err == nil {
		return registry.Get(id)
	}
	return registry.FindByLabel(ref)
}

// buildRulesForTool loads config and compiles rules. Rule-scoped errors are
// printed and give exit code 1 alongside the rules that did compile; a load
// failure returns nil rules.
func buildRulesForTool(configPath string) ([]rules.Rule, int) {
	cfg, err := loadConfigForTool(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Load error: %v\n", err)
		return nil, 1
	}
	built, errs := rules.Build(cfg)
	for _, e := range errs {
		if errors.Is(e, rules.ErrUndefinedFilter) {
			fmt.Fprintf(os.Stderr, "Unfiltered: %v\n", e)
			continue
		}
		fmt.Fprintf(os.Stderr, "Skipped: %v\n", e)
	}
	if built == nil {
		built = []rules.Rule{}
	}
	if len(errs) > 0 {
		return built, 1
	}
	return built, 0
}

func loadConfigForTool(configPath string) (*config.Config, error) {
	if configPath == "" {
		discovered, err := config.Discover()
		if err != nil {
			return nil, err
		}
		configPath = discovered
	}
	return config.Load(configPath)
}

// splitPositional separates positional arguments from flags so flags may
// follow them, as in 'cliprun run Audio <url> --shell'.
func splitPositional(args []string) (positional, flags []string) {
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if !strings.HasPrefix(arg, "-") || arg == "-" {
			positional = append(positional, arg)
			continue
		}
		flags = append(flags, arg)
		// --config takes a value unless given as --config=PATH.
		if (arg == "--config" || arg == "-config") && i+1 < len(args) {
			i++
			flags = append(flags, args[i])
		}
	}
	return positional, flags
}

func ruleFlags(r rules.Rule) string {
	var parts []string
	if r.RunInShell {
		parts = append(parts, "shell")
	}
	if r.Autorun {
		parts = append(parts, "autorun")
	}
	if f := r.FilterName(); f != "" {
		parts = append(parts, "filter="+f)
	}
	if len(parts) == 0 {
		return "-"
	}
	return strings.Join(parts, ",")
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
