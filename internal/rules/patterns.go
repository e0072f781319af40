package rules

import (
	"context"
	"strings"

	"github.com/mail-cci/spamassassin/internal/ruleconf"
)

// runHeaderRegexTests implements §4.3 step 3: header regex tests, grouped by
// priority ascending (already the ByKind ordering), negative-score rules
// first within a group. ifUnset supplies the value used when the named
// header is absent, so a rule like "header X Foo =~ /bar/ [if-unset: baz]"
// still tests deterministically.
func runHeaderRegexTests(p *PerMsgStatus, rules []*ruleconf.Rule) {
	for _, r := range rules {
		if r.Kind != ruleconf.KindHeaderRegex {
			continue
		}
		val := p.Msg.GetHeader(r.HeaderName, r.IfUnset)
		hit := r.Pattern.MatchString(val)
		if r.Negate {
			hit = !hit
		}
		if hit {
			p.recordHit(r)
		}
	}
}

// runHeaderExistsTests covers the "header X exists:Foo" presence form, which
// the parser classifies separately from header regex matches.
func runHeaderExistsTests(p *PerMsgStatus, rules []*ruleconf.Rule) {
	for _, r := range rules {
		if r.Kind != ruleconf.KindHeaderExists {
			continue
		}
		if p.Msg.GetHeader(r.HeaderName, "") != "" {
			p.recordHit(r)
		}
	}
}

// runBodyRegexTests implements §4.3 step 4: one walk of the decoded body,
// applying every compiled body pattern per line, per the "group per-kind
// subroutines into a single driver" contract.
func runBodyRegexTests(p *PerMsgStatus, rules []*ruleconf.Rule) {
	var active []*ruleconf.Rule
	for _, r := range rules {
		if r.Kind == ruleconf.KindBodyRegex {
			active = append(active, r)
		}
	}
	if len(active) == 0 {
		return
	}
	for _, line := range p.Msg.GetBodyLines() {
		for _, r := range active {
			if p.hitSet[r.Name] && !r.SubRule {
				continue
			}
			if r.Pattern.MatchString(line) {
				p.recordHit(r)
			}
		}
	}
}

// runRawbodyRegexTests implements §4.3 step 5's rawbody half: walk the
// pre-decode body lines once.
func runRawbodyRegexTests(p *PerMsgStatus, rules []*ruleconf.Rule) {
	var active []*ruleconf.Rule
	for _, r := range rules {
		if r.Kind == ruleconf.KindRawbodyRegex {
			active = append(active, r)
		}
	}
	if len(active) == 0 {
		return
	}
	for _, line := range p.Msg.GetRawBodyLines() {
		for _, r := range active {
			if p.hitSet[r.Name] && !r.SubRule {
				continue
			}
			if r.Pattern.MatchString(line) {
				p.recordHit(r)
			}
		}
	}
}

// runUriRegexTests implements §4.3 step 5's uri half: test every extracted
// URI against every uri rule.
func runUriRegexTests(p *PerMsgStatus, rules []*ruleconf.Rule) {
	var active []*ruleconf.Rule
	for _, r := range rules {
		if r.Kind == ruleconf.KindUriRegex {
			active = append(active, r)
		}
	}
	if len(active) == 0 {
		return
	}
	for _, uri := range p.Msg.GetURIs() {
		for _, r := range active {
			if p.hitSet[r.Name] && !r.SubRule {
				continue
			}
			if r.Pattern.MatchString(uri) {
				p.recordHit(r)
			}
		}
	}
}

// runFullRegexTests implements §4.3 step 6: full-text regex tests against
// headers + blank line + raw body, rendered once per call.
func runFullRegexTests(p *PerMsgStatus, rules []*ruleconf.Rule) {
	var full string
	haveFull := false
	for _, r := range rules {
		if r.Kind != ruleconf.KindFullRegex {
			continue
		}
		if !haveFull {
			full = string(p.Msg.GetFullText())
			haveFull = true
		}
		if r.Pattern.MatchString(full) {
			p.recordHit(r)
		}
	}
}

// runEvalTests implements §4.3 step 7 (local-group) and the network-group
// half of step 8: dispatch each *-eval rule to its named callback, skipping
// any rule whose tflags net bit disagrees with netOn (§9, "tflags net
// mechanism decides which are enabled").
func runEvalTests(ctx context.Context, p *PerMsgStatus, rules []*ruleconf.Rule, kind ruleconf.Kind, registry map[string]EvalFunc, logf func(string, ...interface{})) {
	for _, r := range rules {
		if r.Kind != kind {
			continue
		}
		if r.TFlags.Net && !p.NetOn {
			continue
		}
		fn, ok := registry[r.EvalName]
		if !ok {
			continue
		}
		hit, err := fn(ctx, p, r.EvalArgs)
		if err != nil {
			p.recordError(r, evalError(r.EvalName, err), logf)
			continue
		}
		if hit {
			p.recordHit(r)
		}
	}
}

// headerEvalArgHint extracts the header name conventionally passed as the
// first eval argument (e.g. check_for_fake_aol_relay_in_rcvd uses none, but
// several header-scoped evals take the header name as args[0]); kept as a
// shared helper so individual evaluators do not duplicate the bounds check.
func headerEvalArgHint(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return strings.TrimSpace(args[0])
}
