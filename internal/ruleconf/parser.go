package ruleconf

import (
	"strconv"
	"strings"
)

// IncludeResolver reads the contents of an `include PATH` target. Callers
// that never expect includes can pass nil; an include directive then
// becomes a warning instead of expanding.
type IncludeResolver func(path string) (string, error)

// directive is one entry in the command registry described by §4.2's
// register_commands contract: a setting name, its value kind, and the
// permission flags controlling whether it is usable in scores-only or
// per-user configuration.
type directive struct {
	name    string
	isPriv  bool // requires allow_user_rules in scores-only/per-user configs
	isAdmin bool // forbidden outside the site-wide config entirely
	handle  func(p *parser, args string)
}

type parser struct {
	store      *Store
	scoresOnly bool
	include    IncludeResolver
	ifStack    []bool
	registry   map[string]*directive
	maxMetaPri map[string]int // not populated; Finish raises meta priorities on the Store itself
}

// Parse parses text into store, honoring scoresOnly permission gating.
// Call (*Store).Finish afterward to compile the priority-grouped tables
// and run cross-rule validation.
func Parse(store *Store, text string, scoresOnly bool, include IncludeResolver) {
	p := &parser{store: store, scoresOnly: scoresOnly, include: include}
	p.registry = buildRegistry()
	p.parseLines(text)
}

func (p *parser) active() bool {
	for _, v := range p.ifStack {
		if !v {
			return false
		}
	}
	return true
}

func (p *parser) parseLines(text string) {
	for _, raw := range strings.Split(text, "\n") {
		line := stripComment(raw)
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		p.handleLine(line)
	}
}

// stripComment removes a trailing `#...` comment unless the # is escaped
// with a backslash.
func stripComment(line string) string {
	var b strings.Builder
	for i := 0; i < len(line); i++ {
		if line[i] == '\\' && i+1 < len(line) && line[i+1] == '#' {
			b.WriteByte('#')
			i++
			continue
		}
		if line[i] == '#' {
			break
		}
		b.WriteByte(line[i])
	}
	return b.String()
}

func (p *parser) handleLine(line string) {
	word, rest := splitWord(line)

	switch word {
	case "if":
		p.ifStack = append(p.ifStack, p.active() && evalIfExpr(rest, p.store.plugins))
		return
	case "ifplugin":
		p.ifStack = append(p.ifStack, p.active() && p.store.plugins[strings.TrimSpace(rest)])
		return
	case "endif":
		if len(p.ifStack) > 0 {
			p.ifStack = p.ifStack[:len(p.ifStack)-1]
		}
		return
	}

	if !p.active() {
		return
	}

	switch word {
	case "lang":
		locale, tail := splitWord(rest)
		if strings.HasPrefix(p.store.locale, locale) {
			p.handleLine(tail)
		}
		return
	case "file":
		return // source-tracking brackets only; not needed for evaluation
	case "include":
		p.handleInclude(strings.TrimSpace(rest))
		return
	case "require_version":
		if !p.requireVersionOK(strings.TrimSpace(rest)) {
			p.ifStack = append(p.ifStack, false) // skip remainder of this file
		}
		return
	}

	d, ok := p.registry[word]
	if !ok {
		p.store.warn("unrecognized configuration line: %q", line)
		return
	}
	if d.isAdmin && p.scoresOnly {
		p.store.warn("admin setting %q forbidden in per-user/scores-only config", word)
		return
	}
	if d.isPriv && p.scoresOnly && !p.store.Settings.AllowUserRules {
		p.store.warn("privileged setting %q requires allow_user_rules", word)
		return
	}
	d.handle(p, rest)
}

func (p *parser) handleInclude(path string) {
	if p.include == nil {
		p.store.warn("include %q skipped: no include resolver configured", path)
		return
	}
	text, err := p.include(path)
	if err != nil {
		p.store.fail("include %q failed: %v", path, err)
		return
	}
	depth := len(p.ifStack)
	p.parseLines(text)
	if len(p.ifStack) > depth {
		p.ifStack = p.ifStack[:depth]
	}
}

func (p *parser) requireVersionOK(v string) bool {
	// The reference version is fixed; any major mismatch fails the check,
	// any value that parses as the same major version passes.
	const supported = "4"
	major, _, _ := strings.Cut(v, ".")
	return major == "" || major == supported
}

func splitWord(s string) (word, rest string) {
	s = strings.TrimLeft(s, " \t")
	i := strings.IndexAny(s, " \t")
	if i < 0 {
		return s, ""
	}
	return s[:i], strings.TrimLeft(s[i+1:], " \t")
}

func boolDirective(s string) bool {
	s = strings.TrimSpace(s)
	return s == "1" || strings.EqualFold(s, "true") || strings.EqualFold(s, "yes")
}

func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(strings.TrimSpace(s), 64)
	return f
}

func parseInt(s string) int {
	n, _ := strconv.Atoi(strings.TrimSpace(s))
	return n
}
