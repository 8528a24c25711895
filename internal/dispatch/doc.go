// Package dispatch coordinates candidate text, rule selection, process runs
// and the history ledger.
//
// The Coordinator goroutine is the single writer of the rule registry and
// the ledger. Everything else talks to it through its inbox:
//   - OnCandidateText feeds text from the watcher, the API or a webhook
//   - Trigger starts a run of one rule by hand
//   - UpdateFlags and SelectAutorun change rule flags
//   - ReplaceRules swaps in a reloaded rule set
//
// Each run executes in its own goroutine. Workers only forward runner events
// back to the inbox; the coordinator appends records and invokes the
// Presenter, so presenters are always called from one goroutine.
//
// Concurrency limit:
//   - Options.MaxConcurrentRuns caps simultaneous children (0 = unlimited)
//   - Runs over the cap wait in FIFO order and start as others finish
//
// Shutdown:
//   - Cancelling the context passed to Run kills running children
//   - Runs still waiting for a slot are dropped and their tickets fail
//   - Run returns once every started run has produced its record
package dispatch
