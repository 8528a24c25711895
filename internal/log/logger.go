package log

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

var (
	once   sync.Once
	logger *slog.Logger

	// output is where Setup points the handler. Logs go to stderr so the
	// terminal UI and CLI commands keep stdout to themselves.
	output io.Writer = os.Stderr
)

// SetOutput redirects the handler Setup creates. It has no effect once Setup
// has run. The terminal UI uses it to keep log lines off the screen.
func SetOutput(w io.Writer) {
	output = w
}

// Setup initializes the global logger.
// logic: default to INFO. If level is invalid, fallback to INFO.
// format "text" selects the slog text handler; anything else is JSON.
func Setup(level, format string) {
	once.Do(func() {
		opts := &slog.HandlerOptions{
			Level: ParseLevel(level),
		}

		var handler slog.Handler
		if strings.EqualFold(strings.TrimSpace(format), "text") {
			handler = slog.NewTextHandler(output, opts)
		} else {
			handler = slog.NewJSONHandler(output, opts)
		}
		logger = slog.New(handler)
		slog.SetDefault(logger)
	})
}

// ParseLevel maps a config level name to a slog level.
func ParseLevel(level string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Get returns the configured logger, or a default one if Setup hasn't been called.
func Get() *slog.Logger {
	if logger == nil {
		Setup("INFO", "json")
	}
	return logger
}

// WithComponent returns a logger with the component field set.
func WithComponent(name string) *slog.Logger {
	return Get().With(slog.String("component", name))
}

// WithRule returns a logger with the rule id and label fields set.
func WithRule(id int, label string) *slog.Logger {
	return Get().With(slog.Int("rule_id", id), slog.String("rule", label))
}

// WithRun returns a logger with the run_id field set.
func WithRun(id string) *slog.Logger {
	return Get().With(slog.String("run_id", id))
}

// Info logs at INFO level.
func Info(msg string, args ...any) {
	Get().Info(msg, args...)
}

// Debug logs at DEBUG level.
func Debug(msg string, args ...any) {
	Get().Debug(msg, args...)
}

// Warn logs at WARN level.
func Warn(msg string, args ...any) {
	Get().Warn(msg, args...)
}

// Error logs at ERROR level.
func Error(msg string, args ...any) {
	Get().Error(msg, args...)
}
