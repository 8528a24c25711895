package rules

// MatchSet is the outcome of selecting rules for one candidate text.
type MatchSet struct {
	Text    string
	Matches []Rule
	// AutorunChoice is the first matching rule flagged autorun, or nil.
	AutorunChoice *Rule
	// AutorunConflict is set when more than one matching rule is flagged
	// autorun. AutorunChoice still holds the earliest one.
	AutorunConflict bool
	// AutorunCandidates lists the IDs of every matching autorun rule.
	AutorunCandidates []int
}

// Empty reports whether no rule matched; there is nothing to dispatch.
func (m MatchSet) Empty() bool {
	return len(m.Matches) == 0
}

// Select returns the rules whose pattern matches text, in declaration order,
// and resolves which one (if any) runs automatically. It never modifies the
// rules it is given.
func Select(text string, rules []Rule) MatchSet {
	set := MatchSet{Text: text}
	for _, r := range rules {
		if r.Matches(text) {
			set.Matches = append(set.Matches, r)
		}
	}

	for i := range set.Matches {
		if !set.Matches[i].Autorun {
			continue
		}
		set.AutorunCandidates = append(set.AutorunCandidates, set.Matches[i].ID)
		if set.AutorunChoice == nil {
			choice := set.Matches[i]
			set.AutorunChoice = &choice
		}
	}
	set.AutorunConflict = len(set.AutorunCandidates) > 1
	return set
}
