// Package runner executes rule commands as child processes.
//
// A run moves Idle → Running → Completed or Failed. Starting a run filters
// the candidate text, substitutes it into the command template and spawns the
// result, either through the platform shell or split into argv and executed
// directly. stdout and stderr share one pipe so lines arrive in the order the
// child wrote them. Each line is classified and emitted on the run's event
// channel as soon as it is read.
//
// Termination:
//   - Exit status 0 → Completed, outcome "OK"
//   - Nonzero exit status → Completed, outcome "Error <code>"
//   - Spawn failure (missing program, permission denied, bad quoting) →
//     Failed with an *ExecutionError and a record carrying exit code -1
//   - Context cancelled → SIGTERM to the process group, 5s grace, SIGKILL
//
// Every attempt ends with exactly one terminal event carrying its
// history.Record. The runner never imposes a timeout of its own.
package runner
