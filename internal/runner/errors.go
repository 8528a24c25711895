package runner

import "fmt"

// ExecutionError reports a run whose process could not be started.
type ExecutionError struct {
	RunID   string
	Command string
	Err     error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("run %s: %q: %v", e.RunID, e.Command, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}
