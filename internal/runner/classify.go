package runner

import "strings"

// Class tags an output line by severity keyword.
type Class int

const (
	ClassNone Class = iota
	ClassNote
	ClassWarning
	ClassError
)

func (c Class) String() string {
	switch c {
	case ClassNote:
		return "note"
	case ClassWarning:
		return "warning"
	case ClassError:
		return "error"
	default:
		return "none"
	}
}

// MarshalText encodes the class by name for JSON event payloads.
func (c Class) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// Classify scans line case-insensitively for "error", "warning" and "note",
// in that priority.
func Classify(line string) Class {
	lower := strings.ToLower(line)
	switch {
	case strings.Contains(lower, "error"):
		return ClassError
	case strings.Contains(lower, "warning"):
		return ClassWarning
	case strings.Contains(lower, "note"):
		return ClassNote
	default:
		return ClassNone
	}
}

// ParseClass is the inverse of Class.String. Unknown names map to ClassNone.
func ParseClass(name string) Class {
	switch name {
	case "note":
		return ClassNote
	case "warning":
		return ClassWarning
	case "error":
		return ClassError
	default:
		return ClassNone
	}
}
