package message

import (
	"mime"
	"regexp"
	"strings"
)

var wordDecoder = &mime.WordDecoder{}

// nameAddrRe matches an optionally quoted display name followed by an
// angle-bracketed address; bareAddrRe matches a bare RFC-822-ish address.
var (
	nameAddrRe  = regexp.MustCompile(`^"?([^"<]*)"?\s*<([^>]+)>`)
	bareAddrRe  = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+`)
	commentRe   = regexp.MustCompile(`\([^()]*\)`)
	nameParenRe = regexp.MustCompile(`\(([^()]+)\)\s*$`)
)

// GetHeader implements the header-accessor DSL described in C1: plain
// "Name" joins multi-value headers with a newline; "Name:addr" extracts the
// first email address; "Name:name" extracts the display name; "Name:raw"
// skips MIME decoding; "ALL" renders every header; "ToCc" concatenates To
// then Cc. Results are cached by the raw request key until the next header
// mutation.
func (m *Message) GetHeader(request, def string) string {
	m.cacheMu.Lock()
	if m.cache == nil {
		m.cache = map[string]string{}
	}
	if v, ok := m.cache[request]; ok {
		m.cacheMu.Unlock()
		return v
	}
	m.cacheMu.Unlock()

	v := m.resolveHeader(request)
	if v == "" {
		v = def
	}

	m.cacheMu.Lock()
	m.cache[request] = v
	m.cacheMu.Unlock()
	return v
}

func (m *Message) resolveHeader(request string) string {
	switch request {
	case "ALL":
		return m.allHeadersText()
	case "ToCc":
		return strings.TrimRight(m.joinHeader("to")+"\n"+m.joinHeader("cc"), "\n")
	}

	name := request
	mode := ""
	if i := strings.LastIndex(request, ":"); i >= 0 {
		switch request[i+1:] {
		case "addr", "name", "raw":
			name, mode = request[:i], request[i+1:]
		}
	}

	ln := lowerASCII(name)
	switch mode {
	case "raw":
		return m.joinHeader(ln)
	case "addr":
		return firstAddr(m.joinHeader(ln))
	case "name":
		return firstName(m.joinHeader(ln))
	default:
		return decodeMIMEWords(m.joinHeader(ln))
	}
}

func (m *Message) joinHeader(lname string) string {
	idx := m.headerIdx[lname]
	if len(idx) == 0 {
		return ""
	}
	vals := make([]string, 0, len(idx))
	for _, i := range idx {
		vals = append(vals, m.headers[i].Value)
	}
	return strings.Join(vals, "\n")
}

// HeaderField is one undecoded header occurrence, exposed for callers (the
// bayes tokenizer) that must walk repeated headers individually rather than
// through the joined-by-name GetHeader DSL.
type HeaderField struct {
	Name  string
	Value string
}

// AllHeaderFields returns every header occurrence, undecoded, in appearance
// order.
func (m *Message) AllHeaderFields() []HeaderField {
	out := make([]HeaderField, len(m.headers))
	for i, h := range m.headers {
		out[i] = HeaderField{Name: h.Name, Value: h.Value}
	}
	return out
}

func (m *Message) allHeadersText() string {
	var b strings.Builder
	for _, h := range m.headers {
		b.WriteString(h.Name)
		b.WriteString(": ")
		b.WriteString(h.Value)
		b.WriteByte('\n')
	}
	return b.String()
}

// firstAddr extracts the first bare email address from a header value,
// stripping parenthesized comments first and preferring a
// `"Name" <addr>` or bare `addr` form.
func firstAddr(v string) string {
	v = commentRe.ReplaceAllString(v, "")
	if m := nameAddrRe.FindStringSubmatch(v); m != nil {
		return strings.TrimSpace(m[2])
	}
	if a := bareAddrRe.FindString(v); a != "" {
		return a
	}
	return ""
}

// firstName extracts the display name from `"Name" <addr>` or the trailing
// `addr (Name)` form.
func firstName(v string) string {
	v = strings.TrimSpace(v)
	if m := nameAddrRe.FindStringSubmatch(v); m != nil && strings.TrimSpace(m[1]) != "" {
		return strings.TrimSpace(m[1])
	}
	if m := nameParenRe.FindStringSubmatch(v); m != nil {
		return strings.TrimSpace(m[1])
	}
	return ""
}

// decodeMIMEWords decodes RFC 2047 encoded-words (=?UTF-8?Q?hi?=) via the
// standard library; a header it cannot decode is returned unchanged.
func decodeMIMEWords(v string) string {
	if !strings.Contains(v, "=?") {
		return v
	}
	if dec, err := wordDecoder.DecodeHeader(v); err == nil {
		return dec
	}
	return v
}
