package rules

import (
	"context"
	"sort"
	"time"

	"github.com/mail-cci/spamassassin/internal/bayes"
	"github.com/mail-cci/spamassassin/internal/message"
	"github.com/mail-cci/spamassassin/internal/ruleconf"
)

// spamHeaders lists every header the reporter (C5) may add; Check strips
// them before scoring so re-classifying an already-tagged message never
// double-counts its own markup (§4.3 step 1, and the Open Question decision
// in the grounding ledger that remove_markup-before-rescoring is enforced
// structurally rather than left to caller discipline).
var spamHeaders = []string{
	"X-Spam-Status",
	"X-Spam-Flag",
	"X-Spam-Level",
	"X-Spam-Report",
	"X-Spam-Checker-Version",
	"X-Spam-Prev-Content-Type",
	"X-Spam-Prev-Content-Transfer-Encoding",
}

// Engine ties a compiled *ruleconf.Store to the eval-callback registry and
// optional network auth plugins, and produces a *PerMsgStatus per message.
type Engine struct {
	Store           *ruleconf.Store
	Plugins         *AuthPlugins
	Bayes           *bayes.Filter // nil disables BAYES_SPAM/BAYES_HAM scoring regardless of bayesOn
	StopAtThreshold bool
	Logf            func(string, ...interface{})

	// Now returns the reference clock check_for_shifted_date compares the
	// Date header against. Defaults to time.Now; tests substitute a fixed
	// clock so a message's skew is deterministic.
	Now func() time.Time

	registry map[string]EvalFunc
}

// NewEngine builds an Engine around a compiled store. plugins may be nil to
// disable all network eval-callbacks (they then always report "not hit").
func NewEngine(store *ruleconf.Store, plugins *AuthPlugins) *Engine {
	e := &Engine{Store: store, Plugins: plugins, Now: time.Now}
	e.registry = buildEvalRegistry(func() time.Time { return e.Now() })
	return e
}

// Check runs steps 1-9 of the §4.3 order against msg and returns the
// resulting PerMsgStatus. bayesOn/netOn select the active scoreset and gate
// `tflags net` eval callbacks.
func (e *Engine) Check(ctx context.Context, msg *message.Message, bayesOn, netOn bool) *PerMsgStatus {
	// Step 1: strip pre-existing result headers.
	for _, h := range spamHeaders {
		msg.DeleteHeader(h)
	}

	p := NewPerMsgStatus(e.Store, msg, bayesOn, netOn)

	// Step 2: launch reputation queries in launch-only mode.
	harvest := launchReputationQueries(ctx, p, e.Plugins)

	// stopped tracks the early-exit state (§4.3 "Early-exit") across every
	// remaining regex step: once the threshold is met, a stopped group is
	// filtered down to its not-yet-run negative-score rules only, so a
	// later negative rule can still pull the score back down, but no
	// further positive-scoring rule runs.
	stopped := false
	runGroup := func(group []*ruleconf.Rule, run func([]*ruleconf.Rule)) {
		if stopped {
			group = negativeOnly(group, bayesOn, netOn)
			if len(group) == 0 {
				return
			}
		}
		run(group)
		if e.shouldStop(p) {
			stopped = true
		}
	}

	// Step 3: header regex/exists tests, by ascending priority.
	e.runByPriority(func(group []*ruleconf.Rule) {
		runGroup(group, func(g []*ruleconf.Rule) {
			runHeaderRegexTests(p, g)
			runHeaderExistsTests(p, g)
		})
	}, ruleconf.KindHeaderRegex, ruleconf.KindHeaderExists)

	// Step 4: body regex tests.
	e.runByPriority(func(group []*ruleconf.Rule) {
		runGroup(group, func(g []*ruleconf.Rule) { runBodyRegexTests(p, g) })
	}, ruleconf.KindBodyRegex)

	// Step 5: rawbody and uri regex tests.
	e.runByPriority(func(group []*ruleconf.Rule) {
		runGroup(group, func(g []*ruleconf.Rule) { runRawbodyRegexTests(p, g) })
	}, ruleconf.KindRawbodyRegex)
	e.runByPriority(func(group []*ruleconf.Rule) {
		runGroup(group, func(g []*ruleconf.Rule) { runUriRegexTests(p, g) })
	}, ruleconf.KindUriRegex)

	// Step 6: full-text regex tests.
	e.runByPriority(func(group []*ruleconf.Rule) {
		runGroup(group, func(g []*ruleconf.Rule) { runFullRegexTests(p, g) })
	}, ruleconf.KindFullRegex)

	// Step 7: eval tests (head/body/rawbody/full), local + network group,
	// network group gated per-rule by tflags net inside runEvalTests.
	for _, kind := range []ruleconf.Kind{
		ruleconf.KindHeaderEval,
		ruleconf.KindBodyEval,
		ruleconf.KindRawbodyEval,
		ruleconf.KindFullEval,
	} {
		runEvalTests(ctx, p, e.Store.ByKind[kind], kind, e.registry, e.Logf)
	}

	// Step 7b: fold in the Bayesian classifier's opinion, banded into one
	// BAYES_SPAM or BAYES_HAM pseudo-rule hit, gated the same way a real
	// rule's bayes-scoreset score is (bayesOn, and UseBayes configured).
	if e.Bayes != nil && bayesOn && e.Store.Settings.UseBayes {
		prob := e.Bayes.Scan(ctx, msg)
		p.AddBayesScore(prob, e.Store.Settings.BayesScoreWeight)
	}

	// Step 8: harvest reputation queries, then run rbl-result-eval tests
	// (modeled as the same DKIM/SPF/DMARC eval names, which read from
	// p.reputation once it is populated).
	p.reputation = harvest()
	runEvalTests(ctx, p, e.Store.ByKind[ruleconf.KindRblEval], ruleconf.KindRblEval, e.registry, e.Logf)
	runEvalTests(ctx, p, e.Store.ByKind[ruleconf.KindRblResultEval], ruleconf.KindRblResultEval, e.registry, e.Logf)

	// Step 9: meta tests, only after every non-meta result is known, unless
	// early-exit already fired.
	if !stopped {
		runMetaTests(p, e.Store.ByKind[ruleconf.KindMetaBool], e.Logf)
	}

	// Step 10: auto-whitelist regression adjustment is an external
	// collaborator (§4.3) and is not performed here; the returned score is
	// the result of steps 1-9. No caller in this module applies it.

	return p
}

// runByPriority groups rules of the given kinds by priority (ascending) and
// invokes fn once per priority group. Each kind's ByKind slice is already
// priority-sorted on its own, but when more than one kind is passed in they
// must be merged by priority rather than concatenated, or equal-priority
// rules of different kinds end up split across separate groups.
func (e *Engine) runByPriority(fn func(group []*ruleconf.Rule), kinds ...ruleconf.Kind) {
	var all []*ruleconf.Rule
	for _, k := range kinds {
		all = append(all, e.Store.ByKind[k]...)
	}
	if len(all) == 0 {
		return
	}
	if len(kinds) > 1 {
		sort.SliceStable(all, func(i, j int) bool { return all[i].Priority < all[j].Priority })
	}
	start := 0
	for start < len(all) {
		end := start + 1
		for end < len(all) && all[end].Priority == all[start].Priority {
			end++
		}
		fn(all[start:end])
		start = end
	}
}

// negativeOnly filters group down to rules whose active-scoreset score is
// negative and that have not already hit, for the early-exit contract:
// "must still run negative rules it has not yet run."
func negativeOnly(group []*ruleconf.Rule, bayesOn, netOn bool) []*ruleconf.Rule {
	var out []*ruleconf.Rule
	for _, r := range group {
		if r.Score(bayesOn, netOn) < 0 {
			out = append(out, r)
		}
	}
	return out
}

// shouldStop implements §4.3's early-exit: once StopAtThreshold is set and
// the running score already meets the required score, the driver stops
// running further positive-scoring groups. Negative-score rules already
// run first within each priority group (ByKind's sort order), so this never
// skips a negative rule in an unvisited earlier group.
func (e *Engine) shouldStop(p *PerMsgStatus) bool {
	return e.StopAtThreshold && p.Score() >= p.Store.Settings.RequiredScore
}
