// Package rules implements the C3 Rule Engine: it takes a parsed
// *message.Message and a compiled *ruleconf.Store and produces a score, a
// verdict, the matched-rule list and a human-readable test log, following
// the fixed execution order (strip prior results, launch reputation
// lookups, header/body/rawbody/uri/full tests by priority, eval callbacks,
// harvest reputation lookups, meta tests). The auto-whitelist adjustment
// that follows in the ten-step order is not performed by this package.
package rules

import (
	"fmt"

	"github.com/mail-cci/spamassassin/internal/message"
	"github.com/mail-cci/spamassassin/internal/ruleconf"
)

// PerMsgStatus is the per-classification accumulator described in §3: a
// running score, the ordered hit list, a test-log buffer, an already-hit
// set (so a rule can never double-score the same message), a rule-error
// counter, and a raw per-rule "did it match" map used by meta evaluation.
type PerMsgStatus struct {
	Store *ruleconf.Store
	Msg   *message.Message

	BayesOn bool
	NetOn   bool

	score      float64
	hits       []string
	hitSet     map[string]bool
	testLog    []string
	ruleErrors int

	// results holds every evaluated rule's raw hit count, including
	// sub-rules, for meta-expression substitution.
	results map[string]float64

	// reputation holds the harvested outcome of the async DKIM/SPF/DMARC
	// lookups launched at step 2 and harvested at step 8; nil until then.
	reputation *reputationResults
}

// NewPerMsgStatus creates the per-classification state for one message
// against one compiled ruleset, with the active scoreset selected by the
// two boolean flags from §3.
func NewPerMsgStatus(store *ruleconf.Store, msg *message.Message, bayesOn, netOn bool) *PerMsgStatus {
	return &PerMsgStatus{
		Store:   store,
		Msg:     msg,
		BayesOn: bayesOn,
		NetOn:   netOn,
		hitSet:  map[string]bool{},
		results: map[string]float64{},
	}
}

// Score returns the running score accumulated so far.
func (p *PerMsgStatus) Score() float64 { return p.score }

// Hits returns the matched-rule list in hit order (sub-rules excluded).
func (p *PerMsgStatus) Hits() []string { return append([]string(nil), p.hits...) }

// TestLog returns the free-text per-hit summary lines, in hit order.
func (p *PerMsgStatus) TestLog() []string { return append([]string(nil), p.testLog...) }

// RuleErrors returns the number of rules that failed to execute.
func (p *PerMsgStatus) RuleErrors() int { return p.ruleErrors }

// Verdict reports score >= threshold.
func (p *PerMsgStatus) Verdict() bool { return p.score >= p.Store.Settings.RequiredScore }

// recordHit applies one rule's hit: sub-rules register in results for meta
// substitution but never score or appear in the hit list or log, per §4.3
// "Hit accounting".
func (p *PerMsgStatus) recordHit(r *ruleconf.Rule) {
	p.results[r.Name] = 1
	if r.SubRule {
		return
	}
	if p.hitSet[r.Name] {
		return
	}
	p.hitSet[r.Name] = true
	score := r.Score(p.BayesOn, p.NetOn)
	p.score += score
	p.hits = append(p.hits, r.Name)
	p.testLog = append(p.testLog, fmt.Sprintf("%.1f %s %s", score, areaForKind(r.Kind), r.Description))
}

// AddBayesScore folds the Bayesian classifier's spam probability into the
// running score as a single pseudo-rule hit, banded into BAYES_SPAM or
// BAYES_HAM so it shows up in Hits()/TestLog() like any other test. A
// neutral 0.5 probability (no opinion, or the classifier trapped a
// store failure) contributes nothing.
func (p *PerMsgStatus) AddBayesScore(prob, weight float64) {
	if prob == 0.5 {
		return
	}
	name := "BAYES_SPAM"
	if prob < 0.5 {
		name = "BAYES_HAM"
	}
	if p.hitSet[name] {
		return
	}
	p.hitSet[name] = true
	p.results[name] = 1
	score := (prob - 0.5) * 2 * weight
	p.score += score
	p.hits = append(p.hits, name)
	p.testLog = append(p.testLog, fmt.Sprintf("%.1f %s BAYES probability=%.3f", score, name, prob))
}

func (p *PerMsgStatus) recordError(r *ruleconf.Rule, err error, logger func(string, ...interface{})) {
	p.ruleErrors++
	if logger != nil {
		logger("rule %s failed: %v", r.Name, err)
	}
}

func areaForKind(k ruleconf.Kind) string {
	switch k {
	case ruleconf.KindHeaderRegex, ruleconf.KindHeaderExists, ruleconf.KindHeaderEval:
		return "header"
	case ruleconf.KindBodyRegex, ruleconf.KindBodyEval:
		return "body"
	case ruleconf.KindRawbodyRegex, ruleconf.KindRawbodyEval:
		return "rawbody"
	case ruleconf.KindUriRegex:
		return "uri"
	case ruleconf.KindFullRegex, ruleconf.KindFullEval:
		return "full"
	case ruleconf.KindMetaBool:
		return "meta"
	case ruleconf.KindRblEval, ruleconf.KindRblResultEval:
		return "rbl"
	default:
		return ""
	}
}
