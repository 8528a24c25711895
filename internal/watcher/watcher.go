// Package watcher polls a text source and reports each new non-blank value
// exactly once.
package watcher

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/mattjoyce/cliprun/internal/log"
)

// DefaultPollInterval matches the service default.
const DefaultPollInterval = 500 * time.Millisecond

// ErrReadOnly is returned by CopyBack when the source cannot be written.
var ErrReadOnly = errors.New("source is not writable")

// Watcher compares the source against the last value it reported and calls
// onText when it changes to something non-blank. Blank reads and read errors
// leave the last value untouched.
type Watcher struct {
	src      Source
	interval time.Duration
	onText   func(string)
	logger   *slog.Logger

	mu      sync.Mutex
	last    string
	hasLast bool
}

// New creates a Watcher. A non-positive interval uses DefaultPollInterval.
func New(src Source, interval time.Duration, onText func(string)) *Watcher {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Watcher{
		src:      src,
		interval: interval,
		onText:   onText,
		logger:   log.WithComponent("watcher"),
	}
}

// Run polls once immediately and then every interval until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	w.logger.Info("watcher started", "poll_interval", w.interval)
	defer w.logger.Info("watcher stopped")

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.poll()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			w.poll()
		}
	}
}

// poll performs one read. It reports whether onText was called.
func (w *Watcher) poll() bool {
	text, err := w.src.ReadText()
	if err != nil {
		w.logger.Debug("source read failed", "error", err)
		return false
	}
	if strings.TrimSpace(text) == "" {
		return false
	}
	w.mu.Lock()
	if w.hasLast && text == w.last {
		w.mu.Unlock()
		return false
	}
	w.last = text
	w.hasLast = true
	w.mu.Unlock()
	w.logger.Debug("new text observed", "length", len(text))
	w.onText(text)
	return true
}

// CopyBack writes text to the source and records it as already seen, so a
// link copied back from history is not dispatched again.
func (w *Watcher) CopyBack(text string) error {
	cb, ok := w.src.(Clipboard)
	if !ok {
		return ErrReadOnly
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := cb.WriteText(text); err != nil {
		return err
	}
	w.last = text
	w.hasLast = true
	return nil
}
