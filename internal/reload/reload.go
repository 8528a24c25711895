// Package reload re-reads the config file and swaps the rule set in place.
//
// Reloads come from three places: the file watcher, SIGHUP and the API.
// A reload that fails to parse leaves the running rules untouched. Rule-scoped
// errors are reported but do not block the rules that did compile.
package reload

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/mattjoyce/cliprun/internal/config"
	"github.com/mattjoyce/cliprun/internal/events"
	"github.com/mattjoyce/cliprun/internal/log"
	"github.com/mattjoyce/cliprun/internal/rules"
)

// debounceWindow collapses the burst of events an editor save produces.
const debounceWindow = 250 * time.Millisecond

// Applier installs a rebuilt rule set. *dispatch.Coordinator implements it.
type Applier interface {
	ReplaceRules(ctx context.Context, rs []rules.Rule) error
}

// Result describes one reload attempt.
type Result struct {
	Path        string
	Fingerprint string
	Rules       int
	// Unchanged is set when the file content matched the last applied
	// fingerprint and nothing was done.
	Unchanged bool
	// RuleErrors lists rule-scoped problems. Those rules were skipped, except
	// ones naming an unavailable filter, which load unfiltered.
	RuleErrors []error
}

// Reloader owns the last applied config.
type Reloader struct {
	path    string
	applier Applier
	hub     *events.Hub
	logger  *slog.Logger

	mu          sync.Mutex
	current     *config.Config
	fingerprint string
}

// New creates a Reloader for the config at cfg.SourcePath. hub may be nil.
func New(cfg *config.Config, applier Applier, hub *events.Hub) *Reloader {
	r := &Reloader{
		path:    cfg.SourcePath,
		applier: applier,
		hub:     hub,
		current: cfg,
		logger:  log.WithComponent("reload"),
	}
	if fp, err := config.Fingerprint(cfg); err == nil {
		r.fingerprint = fp
	}
	return r
}

// Current returns the last successfully applied config.
func (r *Reloader) Current() *config.Config {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

// Reload re-reads the config file. Unless force is set, a file whose content
// hash matches the last applied one is skipped.
func (r *Reloader) Reload(ctx context.Context, reason string, force bool) (Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	res := Result{Path: r.path}
	raw, err := os.ReadFile(r.path)
	if err != nil {
		return res, r.reject(fmt.Errorf("read config: %w", err))
	}
	res.Fingerprint = config.HashBytes(raw)
	if !force && res.Fingerprint == r.fingerprint {
		r.logger.Debug("config unchanged, skipping reload", "reason", reason)
		res.Unchanged = true
		return res, nil
	}

	r.logger.Info("reloading config", "reason", reason, "path", r.path)
	cfg, err := config.Parse(raw)
	if err != nil {
		return res, r.reject(err)
	}
	cfg.SourcePath = r.path

	built, ruleErrs := rules.Build(cfg)
	for _, e := range ruleErrs {
		r.logger.Warn("rule skipped", "error", e)
	}
	if err := r.applier.ReplaceRules(ctx, built); err != nil {
		return res, fmt.Errorf("apply rules: %w", err)
	}

	r.current = cfg
	r.fingerprint = res.Fingerprint
	res.Rules = len(built)
	res.RuleErrors = ruleErrs
	r.logger.Info("config reloaded", "rules", res.Rules, "skipped", len(ruleErrs))

	if r.hub != nil {
		r.hub.Publish(events.TypeConfigReloaded, events.ConfigReloadPayload{
			Path:        r.path,
			Fingerprint: res.Fingerprint,
			Rules:       res.Rules,
			Errors:      errorStrings(ruleErrs),
		})
		r.hub.Publish(events.TypeRulesUpdated, events.RulesUpdatedPayload{Reason: "reload", Count: res.Rules})
	}
	return res, nil
}

func (r *Reloader) reject(err error) error {
	r.logger.Warn("config change rejected; keeping previous rules", "error", err)
	if r.hub != nil {
		r.hub.Publish(events.TypeConfigRejected, events.ConfigReloadPayload{
			Path:   r.path,
			Errors: []string{err.Error()},
		})
	}
	return err
}

// Watch reloads whenever the config file changes on disk. It blocks until
// ctx is cancelled. The parent directory is watched too so editors that
// replace the file by rename are still seen.
func (r *Reloader) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch config: %w", err)
	}
	defer watcher.Close()

	target := filepath.Clean(r.path)
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("watch config dir: %w", err)
	}
	if err := watcher.Add(target); err != nil {
		r.logger.Debug("unable to watch config file directly", "error", err)
	}
	r.logger.Info("watching config for changes", "path", target)

	var (
		timer   *time.Timer
		timerCh <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(debounceWindow)
				timerCh = timer.C
			} else {
				timer.Reset(debounceWindow)
			}
		case <-timerCh:
			timer = nil
			timerCh = nil
			if _, err := r.Reload(ctx, "config file updated", false); err != nil && !errors.Is(err, context.Canceled) {
				r.logger.Warn("reload failed", "error", err)
			}
			// A rename replaces the inode; re-add so direct events keep coming.
			_ = watcher.Add(target)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			r.logger.Warn("config watcher error", "error", err)
		}
	}
}

func errorStrings(errs []error) []string {
	if len(errs) == 0 {
		return nil
	}
	out := make([]string, len(errs))
	for i, e := range errs {
		out[i] = e.Error()
	}
	return out
}
