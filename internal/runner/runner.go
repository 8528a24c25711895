package runner

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mattjoyce/cliprun/internal/history"
	"github.com/mattjoyce/cliprun/internal/log"
	"github.com/mattjoyce/cliprun/internal/rules"
)

const (
	// DefaultEventBuffer is the capacity of each run's event channel. A full
	// channel blocks the output reader until the consumer catches up.
	DefaultEventBuffer = 64

	// terminationGracePeriod is the time we wait after SIGTERM before sending SIGKILL.
	terminationGracePeriod = 5 * time.Second
)

// Overrides adjusts one run without touching the stored rule. Nil fields
// keep the rule's own flag.
type Overrides struct {
	RunInShell *bool
	Autorun    *bool
	// Automatic marks a run started by the autorun policy rather than a user.
	Automatic bool
}

// Run is one execution attempt.
type Run struct {
	ID          string
	Rule        rules.Rule
	Link        string
	CommandLine string
	Shell       bool
	Automatic   bool

	events chan Event
	done   chan struct{}
	record history.Record
}

// Events returns the run's event channel. It is closed after the terminal
// event.
func (r *Run) Events() <-chan Event {
	return r.events
}

// Done is closed once the run has finished and its record is final.
func (r *Run) Done() <-chan struct{} {
	return r.done
}

// Record returns the completion record. It is only meaningful after Done.
func (r *Run) Record() history.Record {
	<-r.done
	return r.record
}

// Runner spawns rule commands.
type Runner struct {
	buffer int
	grace  time.Duration
	logger *slog.Logger
}

// New creates a Runner.
func New() *Runner {
	return &Runner{
		buffer: DefaultEventBuffer,
		grace:  terminationGracePeriod,
		logger: log.WithComponent("runner"),
	}
}

// Start builds the command for rule and text and executes it in its own
// goroutine. Cancelling ctx kills the child.
func (r *Runner) Start(ctx context.Context, rule rules.Rule, text string, ov Overrides) *Run {
	link, line := rule.Expand(text)
	shell := rule.RunInShell
	if ov.RunInShell != nil {
		shell = *ov.RunInShell
	}

	run := &Run{
		ID:          uuid.NewString(),
		Rule:        rule,
		Link:        link,
		CommandLine: line,
		Shell:       shell,
		Automatic:   ov.Automatic,
		events:      make(chan Event, r.buffer),
		done:        make(chan struct{}),
	}
	go r.execute(ctx, run)
	return run
}

func (r *Runner) execute(ctx context.Context, run *Run) {
	defer close(run.done)
	defer close(run.events)

	logger := log.WithRun(run.ID).With("rule", run.Rule.Label, "rule_id", run.Rule.ID, "shell", run.Shell)
	start := time.Now()
	rec := history.Record{
		RunID:     run.ID,
		RuleID:    run.Rule.ID,
		RuleLabel: run.Rule.Label,
		Link:      run.Link,
		Command:   run.CommandLine,
		StartTime: start,
		Autorun:   run.Automatic,
	}

	fail := func(err error) {
		execErr := &ExecutionError{RunID: run.ID, Command: run.CommandLine, Err: err}
		rec.Duration = time.Since(start)
		rec.ExitCode = history.NoExitCode
		rec.Outcome = history.SpawnOutcome(err)
		run.record = rec
		logger.Warn("spawn failed", "command", run.CommandLine, "error", err)
		send(ctx, run, FailedEvent{RunID: run.ID, Record: rec, Err: execErr})
	}

	cmd, err := buildCommand(run.CommandLine, run.Shell)
	if err != nil {
		fail(err)
		return
	}

	pr, pw, err := os.Pipe()
	if err != nil {
		fail(err)
		return
	}
	cmd.Stdout = pw
	cmd.Stderr = pw

	logger.Debug("spawning", "argv", cmd.Args)
	if err := cmd.Start(); err != nil {
		_ = pw.Close()
		_ = pr.Close()
		fail(err)
		return
	}
	// The child holds its own copy of the write end; ours must go so the
	// reader sees EOF when the child exits.
	_ = pw.Close()
	logger.Info("run started", "pid", cmd.Process.Pid)

	stopWatch := make(chan struct{})
	watchDone := make(chan struct{})
	go func() {
		defer close(watchDone)
		r.watchCancel(ctx, cmd, stopWatch, logger)
	}()

	output := r.stream(ctx, run, pr)
	_ = pr.Close()

	waitErr := cmd.Wait()
	close(stopWatch)
	<-watchDone

	rec.Duration = time.Since(start)
	rec.Output = output

	var exitErr *exec.ExitError
	switch {
	case waitErr == nil:
		rec.ExitCode = 0
	case errors.As(waitErr, &exitErr):
		rec.ExitCode = exitErr.ExitCode()
	case cmd.ProcessState != nil:
		rec.ExitCode = cmd.ProcessState.ExitCode()
	default:
		fail(waitErr)
		return
	}
	rec.Outcome = history.ExitOutcome(rec.ExitCode)
	run.record = rec

	logger.Info("run completed", "exit_code", rec.ExitCode, "outcome", rec.Outcome, "duration", rec.Duration)
	send(ctx, run, CompletedEvent{RunID: run.ID, Record: rec})
}

// stream reads merged output line by line, emitting each one. Once ctx is
// cancelled lines are still drained and captured but no longer emitted.
func (r *Runner) stream(ctx context.Context, run *Run, src io.Reader) string {
	var captured strings.Builder
	reader := bufio.NewReader(src)
	emitting := true
	for {
		line, err := reader.ReadString('\n')
		if line != "" {
			captured.WriteString(line)
			if emitting {
				text := strings.TrimRight(line, "\r\n")
				emitting = send(ctx, run, LineEvent{RunID: run.ID, Text: text, Class: Classify(text)})
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, os.ErrClosed) {
				r.logger.Debug("output read ended", "run_id", run.ID, "error", err)
			}
			return captured.String()
		}
	}
}

// watchCancel terminates the child when ctx is cancelled before it exits.
func (r *Runner) watchCancel(ctx context.Context, cmd *exec.Cmd, stop <-chan struct{}, logger *slog.Logger) {
	select {
	case <-stop:
		return
	case <-ctx.Done():
	}

	logger.Warn("run cancelled, sending SIGTERM")
	if err := terminate(cmd); err != nil {
		logger.Debug("failed to send SIGTERM", "error", err)
	}

	grace := time.NewTimer(r.grace)
	defer grace.Stop()
	select {
	case <-stop:
	case <-grace.C:
		logger.Warn("process did not exit after SIGTERM, sending SIGKILL")
		if err := kill(cmd); err != nil {
			logger.Error("failed to send SIGKILL", "error", err)
		}
	}
}

// send delivers ev, blocking while the channel is full. It gives up and
// returns false once ctx is cancelled and the consumer is not keeping up.
func send(ctx context.Context, run *Run, ev Event) bool {
	select {
	case run.events <- ev:
		return true
	default:
	}
	select {
	case run.events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
