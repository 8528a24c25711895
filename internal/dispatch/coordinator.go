package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"

	"github.com/mattjoyce/cliprun/internal/history"
	"github.com/mattjoyce/cliprun/internal/log"
	"github.com/mattjoyce/cliprun/internal/rules"
	"github.com/mattjoyce/cliprun/internal/runner"
)

// DefaultInboxSize is the inbox capacity used when Options leaves it zero.
const DefaultInboxSize = 256

// ErrStopped is returned by calls made after the coordinator has exited.
var ErrStopped = errors.New("coordinator stopped")

// ErrNotStarted is reported by a ticket whose run was dropped at shutdown
// before a slot became free.
var ErrNotStarted = errors.New("run dropped before start")

// Starter launches a run. *runner.Runner implements it.
type Starter interface {
	Start(ctx context.Context, rule rules.Rule, text string, ov runner.Overrides) *runner.Run
}

// Options tune the coordinator.
type Options struct {
	// MaxConcurrentRuns caps running children; 0 means unlimited.
	MaxConcurrentRuns int
	InboxSize         int
}

// Ticket tracks one requested run until its record is in the ledger.
type Ticket struct {
	done   chan struct{}
	record history.Record
	index  int
	err    error
}

func newTicket() *Ticket {
	return &Ticket{done: make(chan struct{}), index: -1}
}

// Done is closed once the run's record has been appended, or the run was
// dropped.
func (t *Ticket) Done() <-chan struct{} {
	return t.done
}

// Result returns the record and its ledger index. It blocks until Done.
// A run that could not be spawned still has a record; err is then its
// *runner.ExecutionError.
func (t *Ticket) Result() (history.Record, int, error) {
	<-t.done
	return t.record, t.index, t.err
}

// Wait blocks until the ticket resolves or ctx is done.
func (t *Ticket) Wait(ctx context.Context) (history.Record, int, error) {
	select {
	case <-t.done:
		return t.record, t.index, t.err
	case <-ctx.Done():
		return history.Record{}, -1, ctx.Err()
	}
}

type job struct {
	rule   rules.Rule
	text   string
	ov     runner.Overrides
	ticket *Ticket
}

type candidateMsg struct{ text string }

type outputMsg struct{ ev runner.LineEvent }

type finishedMsg struct {
	job job
	run *runner.Run
	err *runner.ExecutionError
}

type opMsg struct {
	fn   func()
	done chan struct{}
}

// Coordinator is the single-writer context for rules and history.
type Coordinator struct {
	registry  *rules.Registry
	ledger    *history.Ledger
	starter   Starter
	presenter Presenter
	opts      Options
	logger    *slog.Logger

	inbox   chan any
	stopped chan struct{}
	started atomic.Bool

	// Owned by the Run goroutine.
	ctx     context.Context
	pending []job
	active  int

	running atomic.Int64
}

// New creates a coordinator. Call Run to start processing.
func New(registry *rules.Registry, ledger *history.Ledger, starter Starter, presenter Presenter, opts Options) *Coordinator {
	if opts.InboxSize <= 0 {
		opts.InboxSize = DefaultInboxSize
	}
	if presenter == nil {
		presenter = Presenters(nil)
	}
	return &Coordinator{
		registry:  registry,
		ledger:    ledger,
		starter:   starter,
		presenter: presenter,
		opts:      opts,
		logger:    log.WithComponent("dispatch"),
		inbox:     make(chan any, opts.InboxSize),
		stopped:   make(chan struct{}),
	}
}

// Registry returns the rule registry. Callers must treat it as read-only.
func (c *Coordinator) Registry() *rules.Registry { return c.registry }

// Ledger returns the history ledger. Callers must treat it as read-only.
func (c *Coordinator) Ledger() *history.Ledger { return c.ledger }

// Running returns the number of children currently executing.
func (c *Coordinator) Running() int { return int(c.running.Load()) }

// Run processes the inbox until ctx is cancelled and every started run has
// been recorded. It may be called once.
func (c *Coordinator) Run(ctx context.Context) error {
	if !c.started.CompareAndSwap(false, true) {
		return errors.New("coordinator already running")
	}
	defer close(c.stopped)

	c.ctx = ctx
	c.logger.Info("coordinator started", "rules", c.registry.Len(), "max_concurrent_runs", c.opts.MaxConcurrentRuns)
	defer c.logger.Info("coordinator stopped")

	for {
		select {
		case <-ctx.Done():
			c.drain()
			return ctx.Err()
		case msg := <-c.inbox:
			c.handle(msg)
		}
	}
}

// drain drops waiting jobs and keeps handling messages until every running
// child has been recorded.
func (c *Coordinator) drain() {
	for _, j := range c.pending {
		j.ticket.err = ErrNotStarted
		close(j.ticket.done)
	}
	if n := len(c.pending); n > 0 {
		c.logger.Warn("dropping queued runs at shutdown", "count", n)
	}
	c.pending = nil

	for c.active > 0 {
		c.handle(<-c.inbox)
	}
	// Reject anything left so blocked callers return.
	for {
		select {
		case msg := <-c.inbox:
			if op, ok := msg.(opMsg); ok {
				op.fn()
				close(op.done)
			}
		default:
			return
		}
	}
}

func (c *Coordinator) handle(msg any) {
	switch m := msg.(type) {
	case candidateMsg:
		c.handleCandidate(m.text)
	case outputMsg:
		c.presenter.OnOutputLine(m.ev.RunID, m.ev.Text, m.ev.Class)
	case finishedMsg:
		c.handleFinished(m)
	case opMsg:
		m.fn()
		close(m.done)
	default:
		c.logger.Error("unknown inbox message", "type", fmt.Sprintf("%T", msg))
	}
}

func (c *Coordinator) handleCandidate(text string) {
	if strings.TrimSpace(text) == "" {
		return
	}
	if c.ctx.Err() != nil {
		c.logger.Debug("ignoring candidate during shutdown")
		return
	}
	set := rules.Select(text, c.registry.Snapshot())
	if set.Empty() {
		c.logger.Debug("no rule matched", "text", text)
		return
	}
	c.presenter.OnMatchesFound(text, set)

	if set.AutorunConflict {
		c.logger.Warn("several autorun rules match; running the first declared",
			"text", text,
			"candidates", set.AutorunCandidates,
			"chosen", set.AutorunChoice.ID,
		)
	}
	if set.AutorunChoice != nil {
		c.enqueue(job{
			rule:   *set.AutorunChoice,
			text:   text,
			ov:     runner.Overrides{Automatic: true},
			ticket: newTicket(),
		})
	}
}

// enqueue starts j now or parks it until a slot frees up.
func (c *Coordinator) enqueue(j job) {
	if c.opts.MaxConcurrentRuns > 0 && c.active >= c.opts.MaxConcurrentRuns {
		c.pending = append(c.pending, j)
		log.WithRule(j.rule.ID, j.rule.Label).Debug("run queued", "waiting", len(c.pending))
		return
	}
	c.start(j)
}

func (c *Coordinator) start(j job) {
	run := c.starter.Start(c.ctx, j.rule, j.text, j.ov)
	c.active++
	c.running.Add(1)
	c.presenter.OnRunStarted(runInfo(run))

	go c.forward(j, run)
}

// forward relays a run's output to the inbox. Only the record from
// run.Record is trusted for completion so each attempt yields exactly one
// finishedMsg even if the terminal event was dropped at shutdown.
func (c *Coordinator) forward(j job, run *runner.Run) {
	var execErr *runner.ExecutionError
	for ev := range run.Events() {
		switch ev := ev.(type) {
		case runner.LineEvent:
			c.inbox <- outputMsg{ev: ev}
		case runner.FailedEvent:
			execErr = ev.Err
		}
	}
	<-run.Done()
	c.inbox <- finishedMsg{job: j, run: run, err: execErr}
}

func (c *Coordinator) handleFinished(m finishedMsg) {
	c.active--
	c.running.Add(-1)

	rec := m.run.Record()
	c.presenter.OnRunCompleted(rec.RunID, rec)
	index := c.ledger.Append(rec)
	c.presenter.OnHistoryAppended(rec, index)

	m.job.ticket.record = rec
	m.job.ticket.index = index
	if m.err != nil {
		m.job.ticket.err = m.err
	}
	close(m.job.ticket.done)

	if c.ctx.Err() != nil {
		return
	}
	for len(c.pending) > 0 && (c.opts.MaxConcurrentRuns == 0 || c.active < c.opts.MaxConcurrentRuns) {
		next := c.pending[0]
		c.pending = c.pending[1:]
		c.start(next)
	}
}

// OnCandidateText hands newly observed text to the coordinator. It blocks
// only while the inbox is full and returns immediately once stopped.
func (c *Coordinator) OnCandidateText(text string) {
	select {
	case c.inbox <- candidateMsg{text: text}:
	case <-c.stopped:
	}
}

// do runs fn on the coordinator goroutine and waits for it.
func (c *Coordinator) do(ctx context.Context, fn func()) error {
	op := opMsg{fn: fn, done: make(chan struct{})}
	select {
	case c.inbox <- op:
	case <-c.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-op.done:
		return nil
	case <-c.stopped:
		// drain runs leftover ops before closing stopped.
		select {
		case <-op.done:
			return nil
		default:
			return ErrStopped
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Trigger starts a run of one rule on text. Overrides apply to this run and
// are also persisted onto the stored rule before it starts.
func (c *Coordinator) Trigger(ctx context.Context, ruleID int, text string, ov runner.Overrides) (*Ticket, error) {
	var (
		ticket *Ticket
		opErr  error
	)
	err := c.do(ctx, func() {
		if c.ctx.Err() != nil {
			opErr = ErrStopped
			return
		}
		rule, err := c.registry.Get(ruleID)
		if err != nil {
			opErr = err
			return
		}
		if ov.RunInShell != nil || ov.Autorun != nil {
			if rule, err = c.registry.UpdateFlags(ruleID, ov.RunInShell, ov.Autorun); err != nil {
				opErr = err
				return
			}
			c.logger.Info("rule flags updated by run", "rule_id", rule.ID, "shell", rule.RunInShell, "autorun", rule.Autorun)
		}
		ticket = newTicket()
		c.enqueue(job{rule: rule, text: text, ov: ov, ticket: ticket})
	})
	if err != nil {
		return nil, err
	}
	return ticket, opErr
}

// UpdateFlags changes the shell and autorun flags of one rule.
func (c *Coordinator) UpdateFlags(ctx context.Context, ruleID int, runInShell, autorun *bool) (rules.Rule, error) {
	var (
		rule  rules.Rule
		opErr error
	)
	err := c.do(ctx, func() {
		rule, opErr = c.registry.UpdateFlags(ruleID, runInShell, autorun)
	})
	if err != nil {
		return rules.Rule{}, err
	}
	return rule, opErr
}

// SelectAutorun makes ruleID the only autorun rule. A negative id clears
// autorun everywhere.
func (c *Coordinator) SelectAutorun(ctx context.Context, ruleID int) error {
	var opErr error
	err := c.do(ctx, func() {
		opErr = c.registry.SelectAutorun(ruleID)
		if opErr == nil {
			c.logger.Info("autorun selected", "rule_id", ruleID)
		}
	})
	if err != nil {
		return err
	}
	return opErr
}

// ReplaceRules swaps in a new rule set. Runs already started keep the rule
// they were started with.
func (c *Coordinator) ReplaceRules(ctx context.Context, rs []rules.Rule) error {
	return c.do(ctx, func() {
		c.registry.Replace(rs)
		c.logger.Info("rules replaced", "rules", len(rs), "generation", c.registry.Generation())
	})
}
