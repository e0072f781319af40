package rules

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/mail-cci/spamassassin/internal/ruleconf"
)

// metaToken is one lexical unit of a meta expression: either an operator/
// punctuation string or a numeric operand (a literal, or a rule name already
// substituted with its hit count).
type metaToken struct {
	op  string
	num float64
	isNum bool
}

// tokenizeMeta splits a meta expression into tokens, substituting every
// identifier that names a known rule with its current hit count (§4.3,
// "substitute each rule-name with a 0/1 (or the rule's current hit
// count)"). Identifiers that do not name a rule are treated as 0, matching
// the source's permissive "undefined variable is false" behavior.
func tokenizeMeta(expr string, results map[string]float64) ([]metaToken, error) {
	var toks []metaToken
	i, n := 0, len(expr)
	for i < n {
		c := expr[i]
		switch {
		case c == ' ' || c == '\t':
			i++
		case c == '(' || c == ')' || c == '!':
			toks = append(toks, metaToken{op: string(c)})
			i++
		case c == '&' && i+1 < n && expr[i+1] == '&':
			toks = append(toks, metaToken{op: "&&"})
			i += 2
		case c == '|' && i+1 < n && expr[i+1] == '|':
			toks = append(toks, metaToken{op: "||"})
			i += 2
		case strings.ContainsRune("=!<>", rune(c)) && i+1 < n && expr[i+1] == '=':
			toks = append(toks, metaToken{op: expr[i : i+2]})
			i += 2
		case c == '<' || c == '>':
			toks = append(toks, metaToken{op: string(c)})
			i++
		case c == '+' || c == '-' || c == '*' || c == '/':
			toks = append(toks, metaToken{op: string(c)})
			i++
		case c >= '0' && c <= '9':
			j := i
			for j < n && (expr[j] >= '0' && expr[j] <= '9' || expr[j] == '.') {
				j++
			}
			v, err := strconv.ParseFloat(expr[i:j], 64)
			if err != nil {
				return nil, fmt.Errorf("bad numeric literal %q", expr[i:j])
			}
			toks = append(toks, metaToken{num: v, isNum: true})
			i = j
		case isIdentStart(c):
			j := i
			for j < n && isIdentChar(expr[j]) {
				j++
			}
			name := expr[i:j]
			toks = append(toks, metaToken{num: results[name], isNum: true})
			i = j
		default:
			return nil, fmt.Errorf("unexpected character %q in meta expression %q", c, expr)
		}
	}
	return toks, nil
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z')
}

func isIdentChar(c byte) bool {
	return isIdentStart(c) || (c >= '0' && c <= '9')
}

// metaEval is a standard Pratt/recursive-descent evaluator over the
// tokenized meta expression, with `||` binding loosest and unary `!`
// tightest, matching ordinary boolean/arithmetic precedence.
type metaEval struct {
	toks []metaToken
	pos  int
}

func evalMeta(expr string, results map[string]float64) (float64, error) {
	toks, err := tokenizeMeta(expr, results)
	if err != nil {
		return 0, err
	}
	e := &metaEval{toks: toks}
	v, err := e.parseOr()
	if err != nil {
		return 0, err
	}
	if e.pos != len(e.toks) {
		return 0, fmt.Errorf("trailing tokens in meta expression %q", expr)
	}
	return v, nil
}

func (e *metaEval) peek() (metaToken, bool) {
	if e.pos >= len(e.toks) {
		return metaToken{}, false
	}
	return e.toks[e.pos], true
}

func (e *metaEval) parseOr() (float64, error) {
	v, err := e.parseAnd()
	if err != nil {
		return 0, err
	}
	for {
		t, ok := e.peek()
		if !ok || t.op != "||" {
			return v, nil
		}
		e.pos++
		rhs, err := e.parseAnd()
		if err != nil {
			return 0, err
		}
		if v != 0 || rhs != 0 {
			v = 1
		} else {
			v = 0
		}
	}
}

func (e *metaEval) parseAnd() (float64, error) {
	v, err := e.parseCompare()
	if err != nil {
		return 0, err
	}
	for {
		t, ok := e.peek()
		if !ok || t.op != "&&" {
			return v, nil
		}
		e.pos++
		rhs, err := e.parseCompare()
		if err != nil {
			return 0, err
		}
		if v != 0 && rhs != 0 {
			v = 1
		} else {
			v = 0
		}
	}
}

func (e *metaEval) parseCompare() (float64, error) {
	v, err := e.parseAdditive()
	if err != nil {
		return 0, err
	}
	t, ok := e.peek()
	if !ok {
		return v, nil
	}
	switch t.op {
	case "==", "!=", "<", ">", "<=", ">=":
		e.pos++
		rhs, err := e.parseAdditive()
		if err != nil {
			return 0, err
		}
		return boolToNum(compare(t.op, v, rhs)), nil
	}
	return v, nil
}

func compare(op string, a, b float64) bool {
	switch op {
	case "==":
		return a == b
	case "!=":
		return a != b
	case "<":
		return a < b
	case ">":
		return a > b
	case "<=":
		return a <= b
	case ">=":
		return a >= b
	}
	return false
}

func boolToNum(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func (e *metaEval) parseAdditive() (float64, error) {
	v, err := e.parseMultiplicative()
	if err != nil {
		return 0, err
	}
	for {
		t, ok := e.peek()
		if !ok || (t.op != "+" && t.op != "-") {
			return v, nil
		}
		e.pos++
		rhs, err := e.parseMultiplicative()
		if err != nil {
			return 0, err
		}
		if t.op == "+" {
			v += rhs
		} else {
			v -= rhs
		}
	}
}

func (e *metaEval) parseMultiplicative() (float64, error) {
	v, err := e.parseUnary()
	if err != nil {
		return 0, err
	}
	for {
		t, ok := e.peek()
		if !ok || (t.op != "*" && t.op != "/") {
			return v, nil
		}
		e.pos++
		rhs, err := e.parseUnary()
		if err != nil {
			return 0, err
		}
		if t.op == "*" {
			v *= rhs
		} else {
			if rhs == 0 {
				return 0, fmt.Errorf("division by zero in meta expression")
			}
			v /= rhs
		}
	}
}

func (e *metaEval) parseUnary() (float64, error) {
	t, ok := e.peek()
	if ok && t.op == "!" {
		e.pos++
		v, err := e.parseUnary()
		if err != nil {
			return 0, err
		}
		return boolToNum(v == 0), nil
	}
	if ok && t.op == "-" {
		e.pos++
		v, err := e.parseUnary()
		if err != nil {
			return 0, err
		}
		return -v, nil
	}
	return e.parsePrimary()
}

func (e *metaEval) parsePrimary() (float64, error) {
	t, ok := e.peek()
	if !ok {
		return 0, fmt.Errorf("unexpected end of meta expression")
	}
	if t.isNum {
		e.pos++
		return t.num, nil
	}
	if t.op == "(" {
		e.pos++
		v, err := e.parseOr()
		if err != nil {
			return 0, err
		}
		closing, ok := e.peek()
		if !ok || closing.op != ")" {
			return 0, fmt.Errorf("expected closing paren")
		}
		e.pos++
		return v, nil
	}
	return 0, fmt.Errorf("unexpected token %q", t.op)
}

// runMetaTests implements §4.3 step 9: evaluate meta rules only after every
// non-meta result is known. rules must already be in ascending-priority
// order (the ByKind ordering; ruleconf's enforceMetaPriority guarantees a
// meta rule's priority is >= every rule it depends on).
func runMetaTests(p *PerMsgStatus, rules []*ruleconf.Rule, logf func(string, ...interface{})) {
	for _, r := range rules {
		if r.Kind != ruleconf.KindMetaBool {
			continue
		}
		v, err := evalMeta(r.MetaExpr, p.results)
		if err != nil {
			p.recordError(r, err, logf)
			continue
		}
		if v != 0 {
			p.recordHit(r)
		}
	}
}
