package runner

import "github.com/mattjoyce/cliprun/internal/history"

// Event is one item on a run's event channel: a LineEvent, a CompletedEvent
// or a FailedEvent. The last two are terminal.
type Event interface {
	runID() string
}

// LineEvent carries one line of merged output, without its line terminator.
type LineEvent struct {
	RunID string
	Text  string
	Class Class
}

// CompletedEvent reports a process that ran to exit, whatever its status.
type CompletedEvent struct {
	RunID  string
	Record history.Record
}

// FailedEvent reports a process that could not be spawned.
type FailedEvent struct {
	RunID  string
	Record history.Record
	Err    *ExecutionError
}

func (e LineEvent) runID() string      { return e.RunID }
func (e CompletedEvent) runID() string { return e.RunID }
func (e FailedEvent) runID() string    { return e.RunID }
