// Package ruleconf implements the C2 Configuration Store: it parses the
// SpamAssassin-style rule configuration language (score/header/body/meta/
// tflags/... directives) into a compiled, priority-grouped rule set, plus
// the addrlists, templates and scoring/bayes settings that directive set
// also carries. Ambient daemon settings (ports, paths, log config) are a
// separate concern, owned by internal/config.
package ruleconf

import "regexp"

// Kind tags a Rule with the message view it tests against.
type Kind int

const (
	KindHeaderRegex Kind = iota
	KindHeaderExists
	KindHeaderEval
	KindBodyRegex
	KindBodyEval
	KindRawbodyRegex
	KindRawbodyEval
	KindUriRegex
	KindFullRegex
	KindFullEval
	KindMetaBool
	KindRblEval
	KindRblResultEval
)

// nameRe matches the valid rule-name grammar: [A-Za-z_][A-Za-z0-9_]*.
var nameRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// maxNameLen is the hard cap; names over warnNameLen are accepted but
// trigger a lint warning.
const (
	maxNameLen  = 200
	warnNameLen = 50
)

// TFlags are the recognized per-rule flags.
type TFlags struct {
	Net      bool
	Nice     bool
	Learn    bool
	Userconf bool
}

// Rule is one named test, as described by §3 of the spec: it carries its
// kind, pattern/expression, tflags, a four-entry score vector and an
// optional execution priority.
type Rule struct {
	Name        string
	Kind        Kind
	HeaderName  string         // for header-* kinds: the header key, incl ":addr" etc.
	Pattern     *regexp.Regexp // for *-regex kinds
	Negate      bool           // "!~" instead of "=~"
	IfUnset     string         // header-regex only
	EvalName    string         // for *-eval kinds
	EvalArgs    []string
	MetaExpr    string // for meta-boolean
	TFlags      TFlags
	Scores      [4]float64
	Description string
	Priority    int

	// SubRule is true for names beginning with "__": it never scores and
	// never appears in the hit list, but remains a valid meta input.
	SubRule bool

	scoreSet bool // true once an explicit `score` line has been applied
}

// IsValidName reports whether name satisfies the rule-name grammar and
// length limit (200). Names over 50 chars are valid but lint-worthy; that
// check is surfaced separately by the parser as a warning, not a rejection.
func IsValidName(name string) bool {
	return len(name) <= maxNameLen && nameRe.MatchString(name)
}

// ScoreIndex selects the active scoreset: bit0 = network tests enabled,
// bit1 = bayes available. This matches "two boolean flags (Bayes
// available, network tests enabled)" from §3.
func ScoreIndex(bayesOn, netOn bool) int {
	idx := 0
	if netOn {
		idx |= 1
	}
	if bayesOn {
		idx |= 2
	}
	return idx
}

// Score returns the rule's score in the scoreset selected by (bayesOn, netOn).
func (r *Rule) Score(bayesOn, netOn bool) float64 {
	return r.Scores[ScoreIndex(bayesOn, netOn)]
}

// defaultBaseScore is the default score broadcast to all four scoresets
// when no `score` line is present: 1.0, except T_-prefixed test rules
// which default to 0.01.
func defaultBaseScore(name string) float64 {
	if len(name) >= 2 && name[:2] == "T_" {
		return 0.01
	}
	return 1.0
}
