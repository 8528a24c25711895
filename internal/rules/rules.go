package rules

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/mattjoyce/cliprun/internal/config"
)

// Placeholder is the token in a command template replaced by the matched text.
const Placeholder = "{url}"

// DefaultLabel is used when neither a label nor a command is configured.
const DefaultLabel = "Action"

// Rule represents a compiled rule ready for matching.
type Rule struct {
	// ID is the dense position in the registry; stable until the next reload.
	ID int
	// Index is the rule's position in the config file.
	Index      int
	Pattern    *regexp.Regexp
	Command    string
	Label      string
	Filter     *Filter
	RunInShell bool
	Autorun    bool
}

// FilterName returns the name of the rule's filter, or "" for none.
func (r Rule) FilterName() string {
	if r.Filter == nil {
		return ""
	}
	return r.Filter.Name
}

// Matches reports whether the pattern matches anywhere in text.
func (r Rule) Matches(text string) bool {
	return r.Pattern != nil && r.Pattern.MatchString(text)
}

// Expand applies the rule's filter to text and substitutes the result into
// the command template. It returns the filtered link and the command line.
func (r Rule) Expand(text string) (link, commandLine string) {
	link = r.Filter.Apply(text)
	return link, strings.ReplaceAll(r.Command, Placeholder, link)
}

// Resolve compiles one raw rule. Alias substitution runs first on the pattern
// and the command; the label falls back to the first word of the resolved
// command, then to DefaultLabel. A rule whose filter is unavailable is
// returned without one, alongside an error wrapping ErrUndefinedFilter, so
// its text passes through unchanged.
func Resolve(index int, raw config.RuleConfig, filters *FilterRegistry, aliases Aliases) (Rule, error) {
	scope := fmt.Sprintf("rules[%d]", index)

	pattern := Substitute(raw.Pattern, aliases.Patterns)
	if strings.TrimSpace(pattern) == "" {
		return Rule{}, &ConfigError{Scope: scope, Field: "pattern", Err: errors.New("pattern is empty")}
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return Rule{}, &ConfigError{
			Scope: scope,
			Field: "pattern",
			Value: pattern,
			Err:   fmt.Errorf("invalid regular expression: %w", err),
		}
	}

	command := Substitute(raw.Command, aliases.Programs)

	label := raw.Label
	if label == "" {
		if fields := strings.Fields(command); len(fields) > 0 {
			label = fields[0]
		} else {
			label = DefaultLabel
		}
	}

	rule := Rule{
		Index:      index,
		Pattern:    re,
		Command:    command,
		Label:      label,
		RunInShell: raw.RunInShell,
		Autorun:    raw.Autorun,
	}
	if raw.Filter != "" {
		f, ok := filters.Get(raw.Filter)
		if !ok {
			return rule, &ConfigError{Scope: scope, Field: "filter", Value: raw.Filter, Err: ErrUndefinedFilter}
		}
		rule.Filter = f
	}
	return rule, nil
}

// Build compiles all configured filters and rules. Errors are scoped: a bad
// filter or rule is reported and skipped while the others still load. A rule
// whose filter is unavailable is reported but kept, unfiltered. IDs
// are assigned densely in declaration order over the rules that loaded.
func Build(cfg *config.Config) ([]Rule, []error) {
	filters, errs := NewFilterRegistry(cfg.Filters)
	aliases := Aliases{Patterns: cfg.Patterns, Programs: cfg.Programs}

	out := make([]Rule, 0, len(cfg.Rules))
	for i, raw := range cfg.Rules {
		rule, err := Resolve(i, raw, filters, aliases)
		if err != nil {
			errs = append(errs, err)
			if !errors.Is(err, ErrUndefinedFilter) {
				continue
			}
		}
		rule.ID = len(out)
		out = append(out, rule)
	}
	return out, errs
}
