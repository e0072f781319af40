package ruleconf

import (
	"fmt"
)

// Store is the compiled output of parsing one or more configuration texts:
// the rule table (grouped by kind/priority once Finish is called), the
// addrlists, report templates, and scalar settings.
type Store struct {
	Settings  Settings
	Addrlists *Addrlists
	Templates *Templates

	rules     map[string]*Rule
	ruleOrder []string // insertion order, for deterministic iteration

	// ByKind holds rules grouped by kind and sorted by priority ascending;
	// within a priority, negative-score rules are listed before positive
	// ones (sorted by descending score), per the execution order in §4.3.
	// Populated by Finish.
	ByKind map[Kind][]*Rule

	errCount int
	warnings []string
	locale   string

	// plugins are names considered "loaded" for `ifplugin` / `plugin()`
	// expression evaluation.
	plugins map[string]bool
}

// NewStore returns an empty Store with the spec's default settings.
func NewStore() *Store {
	return &Store{
		Settings:  DefaultSettings(),
		Addrlists: NewAddrlists(),
		Templates: NewTemplates(),
		rules:     map[string]*Rule{},
		ByKind:    map[Kind][]*Rule{},
		locale:    "en",
		plugins:   map[string]bool{},
	}
}

// EnablePlugin marks a plugin name as loaded, for `ifplugin`/`plugin()`.
func (s *Store) EnablePlugin(name string) { s.plugins[name] = true }

// ErrorCount returns the number of parse failures recorded so far.
func (s *Store) ErrorCount() int { return s.errCount }

// Warnings returns every warning message recorded so far, in order.
func (s *Store) Warnings() []string { return s.warnings }

func (s *Store) warn(format string, args ...interface{}) {
	s.warnings = append(s.warnings, fmt.Sprintf(format, args...))
}

func (s *Store) fail(format string, args ...interface{}) {
	s.errCount++
	s.warn(format, args...)
}

// Rule returns the named rule, or nil.
func (s *Store) Rule(name string) *Rule { return s.rules[name] }

// Rules returns every rule in declaration order.
func (s *Store) Rules() []*Rule {
	out := make([]*Rule, 0, len(s.ruleOrder))
	for _, n := range s.ruleOrder {
		out = append(out, s.rules[n])
	}
	return out
}

func (s *Store) upsertRule(name string) *Rule {
	if r, ok := s.rules[name]; ok {
		return r
	}
	r := &Rule{Name: name, SubRule: len(name) >= 2 && name[:2] == "__"}
	s.rules[name] = r
	s.ruleOrder = append(s.ruleOrder, name)
	return r
}

// applyDefaultScores assigns the default score vector (1.0, or 0.01 for
// T_-prefixed rules, negated for `nice` rules) to any rule that never saw
// an explicit `score` line.
func (s *Store) applyDefaultScores() {
	for _, r := range s.rules {
		if r.scoreSet {
			continue
		}
		base := defaultBaseScore(r.Name)
		if r.TFlags.Nice {
			base = -base
		}
		r.Scores = [4]float64{base, base, base, base}
	}
}
