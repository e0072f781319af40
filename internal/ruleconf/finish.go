package ruleconf

import (
	"regexp"
	"sort"
)

// metaTokenRe extracts identifier tokens (candidate rule names) out of a
// meta expression for dependency/cycle analysis.
var metaTokenRe = regexp.MustCompile(`[A-Za-z_][A-Za-z0-9_]*`)

// Finish reclassifies every rule into ByKind, grouped by priority and
// ordered per §4.3 (ascending priority; within a group, negative-score
// rules before positive, positive sorted by descending score), assigns
// default scores, and runs the validations required before the ruleset is
// usable: meta expressions must be balanced and acyclic, a meta rule's
// priority is raised to at least that of every rule it references, and
// every `score` line must name a rule that was actually defined. Names in a
// meta expression that match no rule are not reported; they evaluate as 0.
func (s *Store) Finish() {
	for _, name := range s.ruleOrder {
		if r := s.rules[name]; r.scoreSet && r.Kind == KindHeaderRegex && r.Pattern == nil && r.HeaderName == "" {
			s.fail("score set for non-existent rule %s", name)
		}
	}
	s.applyDefaultScores()
	s.validateMetaRules()
	s.enforceMetaPriority()
	s.buildByKind()
}

func (s *Store) metaDeps(expr string) []string {
	var deps []string
	for _, tok := range metaTokenRe.FindAllString(expr, -1) {
		if _, ok := s.rules[tok]; ok {
			deps = append(deps, tok)
		}
	}
	return deps
}

// validateMetaRules rejects meta rules whose expression is unbalanced
// (mismatched parens) or that transitively reference themselves.
func (s *Store) validateMetaRules() {
	for _, r := range s.rules {
		if r.Kind != KindMetaBool {
			continue
		}
		if !balanced(r.MetaExpr) {
			s.fail("meta rule %s has unbalanced expression: %q", r.Name, r.MetaExpr)
			continue
		}
		for _, dep := range s.metaDeps(r.MetaExpr) {
			if dep == r.Name {
				s.fail("meta rule %s references itself", r.Name)
			}
		}
		if s.hasMetaCycle(r.Name, map[string]bool{}) {
			s.fail("meta rule %s participates in a dependency cycle", r.Name)
		}
	}
}

func (s *Store) hasMetaCycle(name string, visiting map[string]bool) bool {
	if visiting[name] {
		return true
	}
	r := s.rules[name]
	if r == nil || r.Kind != KindMetaBool {
		return false
	}
	visiting[name] = true
	defer delete(visiting, name)
	for _, dep := range s.metaDeps(r.MetaExpr) {
		if s.hasMetaCycle(dep, visiting) {
			return true
		}
	}
	return false
}

func balanced(expr string) bool {
	depth := 0
	for _, c := range expr {
		switch c {
		case '(':
			depth++
		case ')':
			depth--
		}
		if depth < 0 {
			return false
		}
	}
	return depth == 0
}

// enforceMetaPriority raises a meta rule's priority, if necessary, to be no
// lower than the maximum priority of any rule it references, so meta rules
// always observe their dependencies' results (§3 invariant).
func (s *Store) enforceMetaPriority() {
	// Iterate to a fixed point since meta rules may depend on other meta
	// rules whose priority was itself just raised.
	for pass := 0; pass < len(s.rules)+1; pass++ {
		changed := false
		for _, r := range s.rules {
			if r.Kind != KindMetaBool {
				continue
			}
			maxDep := r.Priority
			for _, dep := range s.metaDeps(r.MetaExpr) {
				if d := s.rules[dep]; d != nil && d.Priority > maxDep {
					maxDep = d.Priority
				}
			}
			if maxDep > r.Priority {
				r.Priority = maxDep
				changed = true
			}
		}
		if !changed {
			break
		}
	}
}

func (s *Store) buildByKind() {
	s.ByKind = map[Kind][]*Rule{}
	for _, r := range s.rules {
		s.ByKind[r.Kind] = append(s.ByKind[r.Kind], r)
	}
	for k, rules := range s.ByKind {
		sort.SliceStable(rules, func(i, j int) bool {
			a, b := rules[i], rules[j]
			if a.Priority != b.Priority {
				return a.Priority < b.Priority
			}
			aNeg, bNeg := a.Scores[0] < 0, b.Scores[0] < 0
			if aNeg != bNeg {
				return aNeg // negative-score rules run first within a priority group
			}
			return a.Scores[0] > b.Scores[0] // then descending score
		})
		s.ByKind[k] = rules
	}
}
