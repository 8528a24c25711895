package rules

import (
	"errors"
	"fmt"
)

// ErrRuleNotFound is returned for an unknown rule id or label.
var ErrRuleNotFound = errors.New("rule not found")

// ErrUndefinedFilter is wrapped by the ConfigError of a rule whose filter is
// missing or failed to compile. Such a rule still loads, unfiltered.
var ErrUndefinedFilter = errors.New("filter is not defined or failed to compile")

// ConfigError reports a problem with one configured rule or filter. It is
// scoped: the offending entry is skipped and the rest still load. A rule
// naming an unavailable filter is the exception; see ErrUndefinedFilter.
type ConfigError struct {
	// Scope names the entry, e.g. "rules[2]" or "filters.yt".
	Scope string
	// Field is the offending key within the entry.
	Field string
	// Value is the raw value after alias substitution.
	Value string
	Err   error
}

func (e *ConfigError) Error() string {
	if e.Value != "" {
		return fmt.Sprintf("%s.%s %q: %v", e.Scope, e.Field, e.Value, e.Err)
	}
	return fmt.Sprintf("%s.%s: %v", e.Scope, e.Field, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}
