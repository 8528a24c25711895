package runner

import (
	"errors"
	"fmt"
	"os/exec"
	"runtime"
	"strings"

	"github.com/mattn/go-shellwords"
)

// ErrEmptyCommand is returned when a command line has no program.
var ErrEmptyCommand = errors.New("empty command line")

// shellArgs returns the platform shell invocation for a command line.
func shellArgs(line string) []string {
	if runtime.GOOS == "windows" {
		return []string{"cmd", "/C", line}
	}
	return []string{"sh", "-c", line}
}

// Argv returns the program and arguments a run would execute. Shell runs
// hand the whole line to the platform shell; direct runs split it with
// shell quoting rules but no expansion.
func Argv(line string, shell bool) ([]string, error) {
	if shell {
		return shellArgs(line), nil
	}
	argv, err := shellwords.Parse(escapeOperators(line))
	if err != nil {
		return nil, fmt.Errorf("parse command line: %w", err)
	}
	if len(argv) == 0 {
		return nil, ErrEmptyCommand
	}
	return argv, nil
}

func buildCommand(line string, shell bool) (*exec.Cmd, error) {
	argv, err := Argv(line, shell)
	if err != nil {
		return nil, err
	}
	cmd := exec.Command(argv[0], argv[1:]...)
	setProcessGroup(cmd)
	return cmd, nil
}

// shellMeta are the characters the argv parser treats as syntax outside
// quotes: it stops at an operator and rejects a bare parenthesis.
const shellMeta = ";&|<>()`"

// escapeOperators backslash-escapes unquoted shellMeta characters so they
// stay literal text. A direct run has no shell to interpret them, and
// substituted URLs routinely contain '&' or parentheses.
func escapeOperators(line string) string {
	var b strings.Builder
	b.Grow(len(line))
	var single, double, escaped bool
	for _, r := range line {
		switch {
		case escaped:
			escaped = false
		case r == '\\' && !single:
			escaped = true
		case r == '\'' && !double:
			single = !single
		case r == '"' && !single:
			double = !double
		case !single && !double && strings.ContainsRune(shellMeta, r):
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
