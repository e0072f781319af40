package ruleconf

import (
	"strings"
	"time"
)

// buildRegistry constructs the command dispatch table described by
// register_commands: one entry per recognized setting name, carrying its
// permission flags and typed handler.
func buildRegistry() map[string]*directive {
	reg := map[string]*directive{}
	add := func(name string, isPriv, isAdmin bool, h func(p *parser, args string)) {
		reg[name] = &directive{name: name, isPriv: isPriv, isAdmin: isAdmin, handle: h}
	}

	add("score", false, false, handleScore)
	add("header", true, false, handleHeaderRule)
	add("body", true, false, handleBodyRule)
	add("rawbody", true, false, handleRawbodyRule)
	add("uri", true, false, handleURIRule)
	add("full", true, false, handleFullRule)
	add("meta", true, false, handleMetaRule)
	add("describe", false, false, handleDescribe)
	add("tflags", true, false, handleTFlags)
	add("priority", true, false, handlePriority)

	add("required_hits", false, false, handleRequiredScore)
	add("required_score", false, false, handleRequiredScore)
	add("rewrite_subject", false, false, func(p *parser, a string) { p.store.Settings.RewriteSubject = boolDirective(a) })
	add("subject_tag", false, false, func(p *parser, a string) { p.store.Settings.SubjectTag = strings.TrimSpace(a) })
	add("report_safe", false, false, func(p *parser, a string) { p.store.Settings.ReportSafe = parseInt(a) })
	add("report_header", false, false, func(p *parser, a string) { p.store.Settings.ReportHeader = boolDirective(a) })
	add("fold_headers", false, true, func(p *parser, a string) { p.store.Settings.FoldHeaders = boolDirective(a) })
	add("spam_level_stars", false, false, func(p *parser, a string) {
		a = strings.TrimSpace(a)
		if a != "" {
			p.store.Settings.SpamLevelChar = a[:1]
		}
	})

	add("report", false, false, func(p *parser, a string) { p.store.Templates.Append("report", a) })
	add("unsafe_report", false, false, func(p *parser, a string) { p.store.Templates.Append("unsafe_report", a) })
	add("terse_report", false, false, func(p *parser, a string) { p.store.Templates.Append("terse_report", a) })
	add("spamtrap", false, false, func(p *parser, a string) { p.store.Templates.Append("spamtrap", a) })
	add("clear_report_template", false, false, func(p *parser, a string) { p.store.Templates.Clear("report") })

	add("whitelist_from", false, false, func(p *parser, a string) { p.store.Addrlists.Add(WhitelistFrom, strings.TrimSpace(a)) })
	add("unwhitelist_from", false, false, func(p *parser, a string) { p.store.Addrlists.Remove(WhitelistFrom, strings.TrimSpace(a)) })
	add("whitelist_from_rcvd", false, false, handleWhitelistFromRcvd)
	add("blacklist_from", false, false, func(p *parser, a string) { p.store.Addrlists.Add(BlacklistFrom, strings.TrimSpace(a)) })
	add("whitelist_to", false, false, func(p *parser, a string) { p.store.Addrlists.Add(WhitelistTo, strings.TrimSpace(a)) })
	add("more_spam_to", false, false, func(p *parser, a string) { p.store.Addrlists.Add(MoreSpamTo, strings.TrimSpace(a)) })
	add("all_spam_to", false, false, func(p *parser, a string) { p.store.Addrlists.Add(AllSpamTo, strings.TrimSpace(a)) })

	add("use_bayes", false, false, func(p *parser, a string) { p.store.Settings.UseBayes = boolDirective(a) })
	add("bayes_path", false, true, func(p *parser, a string) { p.store.Settings.BayesPath = strings.TrimSpace(a) })
	add("bayes_file_mode", false, true, func(p *parser, a string) {
		var mode uint32
		for _, c := range strings.TrimSpace(a) {
			mode = mode*8 + uint32(c-'0')
		}
		p.store.Settings.BayesFileMode = mode
	})
	add("bayes_use_hapaxes", false, false, func(p *parser, a string) { p.store.Settings.BayesUseHapaxes = boolDirective(a) })
	add("bayes_use_chi2_combining", false, false, func(p *parser, a string) { p.store.Settings.BayesUseChi2Combining = boolDirective(a) })
	add("bayes_expiry_min_db_size", false, true, func(p *parser, a string) { p.store.Settings.BayesExpiryMinDBSize = parseInt(a) })
	add("bayes_expiry_scan_count", false, true, func(p *parser, a string) { p.store.Settings.BayesExpiryScanCount = parseInt(a) })
	add("bayes_ignore_header", false, false, func(p *parser, a string) {
		p.store.Settings.BayesIgnoreHeaders = append(p.store.Settings.BayesIgnoreHeaders, strings.TrimSpace(a))
	})

	add("allow_user_rules", false, true, func(p *parser, a string) { p.store.Settings.AllowUserRules = boolDirective(a) })
	add("skip_rbl_checks", false, false, func(p *parser, a string) { p.store.Settings.SkipRBLChecks = boolDirective(a) })
	add("rbl_timeout", false, true, func(p *parser, a string) {
		p.store.Settings.RBLTimeout = time.Duration(parseFloat(a) * float64(time.Second))
	})

	add("auto_whitelist_path", false, true, func(p *parser, a string) { p.store.Settings.AutoWhitelistPath = strings.TrimSpace(a) })
	add("auto_whitelist_factor", false, false, func(p *parser, a string) { p.store.Settings.AutoWhitelistFactor = parseFloat(a) })
	add("auto_learn", false, false, func(p *parser, a string) { p.store.Settings.AutoLearn = boolDirective(a) })
	add("auto_learn_threshold_spam", false, false, func(p *parser, a string) { p.store.Settings.AutoLearnThresholdSpam = parseFloat(a) })
	add("auto_learn_threshold_nonspam", false, false, func(p *parser, a string) { p.store.Settings.AutoLearnThresholdNonSpam = parseFloat(a) })

	add("ok_locales", false, false, func(p *parser, a string) { p.store.Settings.OkLocales = strings.Fields(a) })
	add("ok_languages", false, false, func(p *parser, a string) { p.store.Settings.OkLanguages = strings.Fields(a) })

	return reg
}

func handleScore(p *parser, args string) {
	name, rest := splitWord(args)
	if !validateName(p, name) {
		return
	}
	r := p.store.upsertRule(name)
	fields := strings.Fields(rest)
	switch len(fields) {
	case 0:
		return
	case 1:
		v := parseFloat(fields[0])
		r.Scores = [4]float64{v, v, v, v}
	case 4:
		for i := 0; i < 4; i++ {
			r.Scores[i] = parseFloat(fields[i])
		}
	default:
		p.store.warn("score %s: expected 1 or 4 values, got %d", name, len(fields))
		return
	}
	r.scoreSet = true
}

func validateName(p *parser, name string) bool {
	if !IsValidName(name) {
		p.store.fail("invalid rule name %q", name)
		return false
	}
	if len(name) > warnNameLen {
		p.store.warn("rule name %q exceeds %d characters", name, warnNameLen)
	}
	return true
}

func handleHeaderRule(p *parser, args string) {
	name, tail := splitWord(args)
	if !validateName(p, name) {
		return
	}
	r := p.store.upsertRule(name)

	if evalName, evalArgs, ok := tryParseEval(tail); ok {
		r.Kind = KindHeaderEval
		r.EvalName, r.EvalArgs = evalName, evalArgs
		return
	}

	if hdr, ok := parseHeaderExists(tail); ok {
		r.Kind = KindHeaderExists
		r.HeaderName = hdr
		return
	}

	hdr, op, pattern, ifUnset, ok := parseHeaderTest(tail)
	if !ok {
		p.store.fail("malformed header rule %q: %q", name, tail)
		return
	}
	body, mods, ok := splitDelimited(pattern)
	if !ok {
		p.store.fail("malformed header pattern for %q: %q", name, pattern)
		return
	}
	re, err := compilePattern(body, mods)
	if err != nil {
		p.store.fail("invalid regex for %q: %v", name, err)
		return
	}
	r.Kind = KindHeaderRegex
	r.HeaderName = hdr
	r.Pattern = re
	r.Negate = op == "!~"
	r.IfUnset = ifUnset
}

func handleBodyRule(p *parser, args string)    { handlePatternRule(p, args, KindBodyRegex, KindBodyEval) }
func handleRawbodyRule(p *parser, args string)  { handlePatternRule(p, args, KindRawbodyRegex, KindRawbodyEval) }
func handleURIRule(p *parser, args string)      { handlePatternRule(p, args, KindUriRegex, KindUriRegex) }
func handleFullRule(p *parser, args string)     { handlePatternRule(p, args, KindFullRegex, KindFullEval) }

func handlePatternRule(p *parser, args string, regexKind, evalKind Kind) {
	name, tail := splitWord(args)
	if !validateName(p, name) {
		return
	}
	r := p.store.upsertRule(name)

	if evalName, evalArgs, ok := tryParseEval(tail); ok {
		r.Kind = evalKind
		r.EvalName, r.EvalArgs = evalName, evalArgs
		return
	}

	body, mods, ok := splitDelimited(tail)
	if !ok {
		p.store.fail("malformed pattern for %q: %q", name, tail)
		return
	}
	re, err := compilePattern(body, mods)
	if err != nil {
		p.store.fail("invalid regex for %q: %v", name, err)
		return
	}
	r.Kind = regexKind
	r.Pattern = re
}

func handleMetaRule(p *parser, args string) {
	name, expr := splitWord(args)
	if !validateName(p, name) {
		return
	}
	r := p.store.upsertRule(name)
	r.Kind = KindMetaBool
	r.MetaExpr = strings.TrimSpace(expr)
}

func handleDescribe(p *parser, args string) {
	name, text := splitWord(args)
	r := p.store.upsertRule(name)
	r.Description = strings.TrimSpace(text)
}

func handleTFlags(p *parser, args string) {
	name, rest := splitWord(args)
	r := p.store.upsertRule(name)
	for _, f := range strings.Fields(rest) {
		switch f {
		case "net":
			r.TFlags.Net = true
		case "nice":
			r.TFlags.Nice = true
		case "learn":
			r.TFlags.Learn = true
		case "userconf":
			r.TFlags.Userconf = true
		default:
			p.store.warn("rule %s: unknown tflag %q", name, f)
		}
	}
}

// handlePriority implements "priority NAME N": lower runs first within its
// kind (§4.3, "ascending priority"). enforceMetaPriority may later raise it
// further for a meta rule whose dependency runs later.
func handlePriority(p *parser, args string) {
	name, rest := splitWord(args)
	r := p.store.upsertRule(name)
	r.Priority = parseInt(rest)
}

func handleRequiredScore(p *parser, args string) {
	p.store.Settings.RequiredScore = parseFloat(args)
}

func handleWhitelistFromRcvd(p *parser, args string) {
	addr, domain := splitWord(args)
	if domain == "" {
		p.store.warn("whitelist_from_rcvd requires ADDR DOMAIN, got %q", args)
		return
	}
	p.store.Addrlists.AddWithRcvd(WhitelistFrom, strings.TrimSpace(addr), []string{strings.TrimSpace(domain)})
}

// tryParseEval recognizes the `eval:fn(arg1, "arg 2")` syntax shared by
// header/body/rawbody/full eval rules.
func tryParseEval(tail string) (name string, args []string, ok bool) {
	tail = strings.TrimSpace(tail)
	if !strings.HasPrefix(tail, "eval:") {
		return "", nil, false
	}
	tail = strings.TrimPrefix(tail, "eval:")
	i := strings.Index(tail, "(")
	if i < 0 {
		return strings.TrimSpace(tail), nil, true
	}
	name = strings.TrimSpace(tail[:i])
	j := strings.LastIndex(tail, ")")
	if j < 0 || j < i {
		j = len(tail)
	}
	for _, a := range strings.Split(tail[i+1:j], ",") {
		a = strings.TrimSpace(strings.Trim(strings.TrimSpace(a), `'"`))
		if a != "" {
			args = append(args, a)
		}
	}
	return name, args, true
}

// parseHeaderExists recognizes the "exists:Header-Name" presence form
// (e.g. `header FOO exists:X-Spam-Flag`), a single bare token with no
// =~/!~ operator.
func parseHeaderExists(tail string) (hdr string, ok bool) {
	tail = strings.TrimSpace(tail)
	const prefix = "exists:"
	if !strings.HasPrefix(tail, prefix) {
		return "", false
	}
	hdr = strings.TrimSpace(tail[len(prefix):])
	if hdr == "" || strings.ContainsAny(hdr, " \t") {
		return "", false
	}
	return hdr, true
}

// parseHeaderTest parses "HDR (=~|!~) PATTERN [if-unset: DEFAULT]".
func parseHeaderTest(tail string) (hdr, op, pattern, ifUnset string, ok bool) {
	hdr, rest := splitWord(tail)
	op, rest = splitWord(rest)
	if op != "=~" && op != "!~" {
		return "", "", "", "", false
	}
	rest = strings.TrimSpace(rest)
	if idx := strings.Index(rest, "[if-unset:"); idx >= 0 {
		pattern = strings.TrimSpace(rest[:idx])
		tail2 := rest[idx+len("[if-unset:"):]
		if end := strings.Index(tail2, "]"); end >= 0 {
			ifUnset = strings.TrimSpace(tail2[:end])
		}
	} else {
		pattern = rest
	}
	return hdr, op, pattern, ifUnset, true
}
