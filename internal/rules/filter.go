package rules

import (
	"fmt"
	"regexp"
	"sort"

	"github.com/mattjoyce/cliprun/internal/config"
)

// Filter is a named single-substitution rewrite of matched text.
type Filter struct {
	Name    string
	Pattern *regexp.Regexp
	Replace string
}

// Apply replaces the first match of the filter pattern with the replacement
// text, taken verbatim. A nil filter returns text unchanged.
func (f *Filter) Apply(text string) string {
	if f == nil || f.Pattern == nil {
		return text
	}
	loc := f.Pattern.FindStringIndex(text)
	if loc == nil {
		return text
	}
	return text[:loc[0]] + f.Replace + text[loc[1]:]
}

// FilterRegistry maps filter names to compiled filters.
type FilterRegistry struct {
	filters map[string]*Filter
}

// NewFilterRegistry compiles every configured filter. Filters whose pattern
// does not compile are left out and reported as ConfigErrors.
func NewFilterRegistry(cfg map[string]config.FilterConfig) (*FilterRegistry, []error) {
	names := make([]string, 0, len(cfg))
	for name := range cfg {
		names = append(names, name)
	}
	sort.Strings(names)

	reg := &FilterRegistry{filters: make(map[string]*Filter, len(cfg))}
	var errs []error
	for _, name := range names {
		fc := cfg[name]
		re, err := regexp.Compile(fc.Pattern)
		if err != nil {
			errs = append(errs, &ConfigError{
				Scope: "filters." + name,
				Field: "pattern",
				Value: fc.Pattern,
				Err:   fmt.Errorf("invalid regular expression: %w", err),
			})
			continue
		}
		reg.filters[name] = &Filter{Name: name, Pattern: re, Replace: fc.Replace}
	}
	return reg, errs
}

// Get returns the named filter.
func (r *FilterRegistry) Get(name string) (*Filter, bool) {
	if r == nil {
		return nil, false
	}
	f, ok := r.filters[name]
	return f, ok
}

// Names returns registered filter names in sorted order.
func (r *FilterRegistry) Names() []string {
	if r == nil {
		return nil
	}
	out := make([]string, 0, len(r.filters))
	for name := range r.filters {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
