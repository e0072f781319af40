package ruleconf

import (
	"fmt"
	"regexp"
	"strings"
)

// splitDelimited extracts the body and modifier letters of a Perl-style
// delimited regex: m{...}mods, m(...)mods, m<...>mods, m<char>...<char>mods,
// or the bare /.../mods form. It returns ok=false if expr does not look
// like a delimited pattern at all.
func splitDelimited(expr string) (body, mods string, ok bool) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return "", "", false
	}

	rest := expr
	if strings.HasPrefix(rest, "m") && len(rest) > 1 {
		rest = rest[1:]
	} else if !strings.HasPrefix(rest, "/") {
		return "", "", false
	}

	open := rest[0]
	var close byte
	switch open {
	case '{':
		close = '}'
	case '(':
		close = ')'
	case '<':
		close = '>'
	case '[':
		close = ']'
	default:
		close = open // e.g. /.../ or m|...|
	}

	end := findClosingDelim(rest[1:], close, open != close)
	if end < 0 {
		return "", "", false
	}
	body = rest[1 : 1+end]
	mods = rest[1+end+1:]
	return body, mods, true
}

// findClosingDelim finds the index of the unescaped closing delimiter in s.
// When open != close (bracketing delimiters), nesting is tracked.
func findClosingDelim(s string, closeCh byte, nested bool) int {
	openCh := map[byte]byte{'}': '{', ')': '(', '>': '<', ']': '['}[closeCh]
	depth := 1
	for i := 0; i < len(s); i++ {
		switch {
		case s[i] == '\\':
			i++ // skip escaped char
		case nested && s[i] == openCh:
			depth++
		case s[i] == closeCh:
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// compilePattern compiles a delimited pattern body into a Go regexp,
// translating Perl modifier letters (i, m, s, x) to Go's inline flag
// syntax. compilePattern never executes untrusted input as code: it only
// ever calls regexp.Compile on the literal pattern text, which rules out
// the "regex as interpolated code" hazard the spec calls out.
func compilePattern(body, mods string) (*regexp.Regexp, error) {
	var flags string
	for _, m := range mods {
		switch m {
		case 'i', 'm', 's':
			flags += string(m)
		case 'x':
			body = stripExtendedWhitespace(body)
		case 'o', 'g', 'e':
			// compile-once/global/eval-interpolation modifiers have no Go
			// regexp equivalent and no observable effect on a single match.
		default:
			return nil, fmt.Errorf("unsupported regex modifier %q", m)
		}
	}
	pat := body
	if flags != "" {
		pat = "(?" + flags + ")" + pat
	}
	return regexp.Compile(pat)
}

// stripExtendedWhitespace removes unescaped whitespace and #-comments, as
// Perl's /x modifier does, so the remaining pattern is ordinary regex
// syntax.
func stripExtendedWhitespace(body string) string {
	var b strings.Builder
	inClass := false
	for i := 0; i < len(body); i++ {
		c := body[i]
		switch {
		case c == '\\' && i+1 < len(body):
			b.WriteByte(c)
			b.WriteByte(body[i+1])
			i++
		case c == '[':
			inClass = true
			b.WriteByte(c)
		case c == ']':
			inClass = false
			b.WriteByte(c)
		case !inClass && c == '#':
			for i < len(body) && body[i] != '\n' {
				i++
			}
		case !inClass && (c == ' ' || c == '\t' || c == '\n'):
			// dropped
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}
