package rules

import (
	"fmt"
	"sync"
)

// Registry owns the live rule list. The coordinator is its only writer;
// readers get copies from Snapshot.
type Registry struct {
	mu    sync.RWMutex
	rules []Rule
	// generation increments on every Replace so stale IDs can be detected.
	generation int
}

// NewRegistry returns a registry holding rules, renumbering IDs densely.
func NewRegistry(rules []Rule) *Registry {
	r := &Registry{}
	r.Replace(rules)
	return r
}

// Replace swaps in a freshly built rule list, e.g. after a config reload.
func (r *Registry) Replace(rules []Rule) {
	cp := make([]Rule, len(rules))
	copy(cp, rules)
	for i := range cp {
		cp[i].ID = i
	}

	r.mu.Lock()
	r.rules = cp
	r.generation++
	r.mu.Unlock()
}

// Generation returns the number of times the rule list was replaced.
func (r *Registry) Generation() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.generation
}

// Snapshot returns a copy of the rules in declaration order.
func (r *Registry) Snapshot() []Rule {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Rule, len(r.rules))
	copy(out, r.rules)
	return out
}

// Len returns the number of loaded rules.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rules)
}

// Get returns a copy of the rule with the given id.
func (r *Registry) Get(id int) (Rule, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if id < 0 || id >= len(r.rules) {
		return Rule{}, fmt.Errorf("rule %d: %w", id, ErrRuleNotFound)
	}
	return r.rules[id], nil
}

// FindByLabel returns the first rule with the given label.
func (r *Registry) FindByLabel(label string) (Rule, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, rule := range r.rules {
		if rule.Label == label {
			return rule, nil
		}
	}
	return Rule{}, fmt.Errorf("rule %q: %w", label, ErrRuleNotFound)
}

// UpdateFlags sets the shell and autorun flags of one rule. Nil leaves a
// flag unchanged. The command template is never touched.
func (r *Registry) UpdateFlags(id int, runInShell, autorun *bool) (Rule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id < 0 || id >= len(r.rules) {
		return Rule{}, fmt.Errorf("rule %d: %w", id, ErrRuleNotFound)
	}
	if runInShell != nil {
		r.rules[id].RunInShell = *runInShell
	}
	if autorun != nil {
		r.rules[id].Autorun = *autorun
	}
	return r.rules[id], nil
}

// SelectAutorun clears autorun on every rule and sets it on id. A negative id
// disables autorun entirely.
func (r *Registry) SelectAutorun(id int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id >= len(r.rules) {
		return fmt.Errorf("rule %d: %w", id, ErrRuleNotFound)
	}
	for i := range r.rules {
		r.rules[i].Autorun = i == id
	}
	return nil
}
