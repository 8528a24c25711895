package config

import (
	"fmt"
	"sort"
	"strings"
)

// Severity grades a cross-reference issue.
type Severity string

const (
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Issue is one finding from ValidateCrossReferences.
type Issue struct {
	Severity Severity
	Path     string
	Message  string
}

func (i Issue) String() string {
	if i.Path == "" {
		return fmt.Sprintf("%s: %s", i.Severity, i.Message)
	}
	return fmt.Sprintf("%s: %s: %s", i.Severity, i.Path, i.Message)
}

// ConfigValidator checks references between rules, filters and alias tables.
// Broken references are not fatal to Load: the affected rule is skipped at
// build time and the rest still load.
type ConfigValidator struct {
	config *Config
}

// NewValidator returns a validator for cfg.
func NewValidator(cfg *Config) *ConfigValidator {
	return &ConfigValidator{config: cfg}
}

// ValidateCrossReferences returns every issue found, errors first.
func (v *ConfigValidator) ValidateCrossReferences() []Issue {
	var issues []Issue
	issues = append(issues, v.validateRules()...)
	issues = append(issues, v.validateFilters()...)
	issues = append(issues, v.validateAliases()...)

	sort.SliceStable(issues, func(i, j int) bool {
		return issues[i].Severity == SeverityError && issues[j].Severity != SeverityError
	})
	return issues
}

// validateRules checks filter references, empty fields and autorun overlap.
func (v *ConfigValidator) validateRules() []Issue {
	var issues []Issue
	var autorun []int
	labels := make(map[string][]int)

	for i, rule := range v.config.Rules {
		path := fmt.Sprintf("rules[%d]", i)
		if strings.TrimSpace(rule.Pattern) == "" {
			issues = append(issues, Issue{SeverityError, path + ".pattern", "pattern is empty"})
		}
		if strings.TrimSpace(rule.Command) == "" {
			issues = append(issues, Issue{SeverityWarning, path + ".command", "command is empty"})
		}
		if rule.Filter != "" {
			if _, ok := v.config.Filters[rule.Filter]; !ok {
				issues = append(issues, Issue{SeverityError, path + ".filter", fmt.Sprintf("filter %q is not defined", rule.Filter)})
			}
		}
		if rule.Autorun {
			autorun = append(autorun, i)
		}
		if rule.Label != "" {
			labels[rule.Label] = append(labels[rule.Label], i)
		}
	}

	if len(autorun) > 1 {
		issues = append(issues, Issue{
			Severity: SeverityWarning,
			Path:     "rules",
			Message:  fmt.Sprintf("autorun set on rules %v; when several match, rules[%d] runs first", autorun, autorun[0]),
		})
	}

	names := make([]string, 0, len(labels))
	for label := range labels {
		names = append(names, label)
	}
	sort.Strings(names)
	for _, label := range names {
		if idx := labels[label]; len(idx) > 1 {
			issues = append(issues, Issue{
				Severity: SeverityWarning,
				Path:     "rules",
				Message:  fmt.Sprintf("label %q is shared by rules %v", label, idx),
			})
		}
	}
	return issues
}

// validateFilters reports filters no rule references.
func (v *ConfigValidator) validateFilters() []Issue {
	used := make(map[string]bool)
	for _, rule := range v.config.Rules {
		if rule.Filter != "" {
			used[rule.Filter] = true
		}
	}

	names := make([]string, 0, len(v.config.Filters))
	for name := range v.config.Filters {
		names = append(names, name)
	}
	sort.Strings(names)

	var issues []Issue
	for _, name := range names {
		if !used[name] {
			issues = append(issues, Issue{SeverityWarning, "filters." + name, "filter is never used"})
		}
	}
	return issues
}

// validateAliases reports unused aliases and keys shadowed by an earlier prefix.
func (v *ConfigValidator) validateAliases() []Issue {
	var issues []Issue
	check := func(table AliasTable, section string, raw func(RuleConfig) string) {
		for i, a := range table {
			used := false
			for _, rule := range v.config.Rules {
				if strings.HasPrefix(raw(rule), a.Key) {
					used = true
					break
				}
			}
			if !used {
				issues = append(issues, Issue{SeverityWarning, section + "." + a.Key, "alias is never used"})
			}
			for _, earlier := range table[:i] {
				if strings.HasPrefix(a.Key, earlier.Key) {
					issues = append(issues, Issue{
						Severity: SeverityWarning,
						Path:     section + "." + a.Key,
						Message:  fmt.Sprintf("shadowed by earlier alias %q (first matching prefix wins)", earlier.Key),
					})
					break
				}
			}
		}
	}
	check(v.config.Patterns, "patterns", func(r RuleConfig) string { return r.Pattern })
	check(v.config.Programs, "programs", func(r RuleConfig) string { return r.Command })
	return issues
}
