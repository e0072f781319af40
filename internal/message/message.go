// Package message implements the C1 Message Model: it parses a raw mail
// byte stream into headers, decoded body, raw body and URI list, and caches
// header lookups so the rule engine never re-parses the same view twice.
package message

import (
	"bytes"
	"sync"
)

// maxLineLen bounds the chunk size a single body line is split into, to
// keep regex-style rule matching from pathological backtracking while
// still processing the whole line.
const maxLineLen = 4096

// headerField is one logical header line, continuation lines already folded
// in. Order of appearance is preserved for ALL/rendering.
type headerField struct {
	Name  string
	Value string
}

// Message is a parsed view over one mail message. Headers and body can be
// changed in place (ReplaceHeader, PutHeader, DeleteHeader, ReplaceBody);
// each of these invalidates the header accessor cache. Raw keeps returning
// the original bytes.
type Message struct {
	raw []byte

	headers      []headerField
	headerIdx    map[string][]int // lowercased name -> indices into headers
	bodyRaw      []byte           // bytes after the header/body blank line, pre-decode
	cte          string           // Content-Transfer-Encoding of the top-level part
	contentType  string

	decodedLines []string
	rawLines     []string
	uris         []string
	linesOnce    sync.Once
	urisOnce     sync.Once

	cacheMu sync.Mutex
	cache   map[string]string
}

// Parse splits raw mail bytes into headers and body and returns a Message
// ready for header/body/uri access. Parse never fails on malformed input;
// callers treat "no blank line found" as a body-less message, per C1's
// contract that the message model degrades gracefully rather than erroring
// (the rule engine's own parse-failure path is the only hard abort).
func Parse(raw []byte) *Message {
	m := &Message{raw: raw, headerIdx: map[string][]int{}}
	m.parseHeaders(raw)
	return m
}

func (m *Message) parseHeaders(raw []byte) {
	sep := findHeaderBodySep(raw)
	var headerBlock []byte
	if sep >= 0 {
		headerBlock = raw[:sep]
		m.bodyRaw = raw[sep:]
		m.bodyRaw = trimLeadingBlankLines(m.bodyRaw)
	} else {
		headerBlock = raw
		m.bodyRaw = nil
	}

	lines := bytes.Split(headerBlock, []byte("\n"))
	var cur *headerField
	for _, l := range lines {
		l = bytes.TrimRight(l, "\r")
		if len(l) == 0 {
			continue
		}
		if (l[0] == ' ' || l[0] == '\t') && cur != nil {
			cur.Value += " " + string(bytes.TrimSpace(l))
			continue
		}
		name, value, ok := splitHeaderLine(l)
		if !ok {
			continue
		}
		m.headers = append(m.headers, headerField{Name: name, Value: value})
		cur = &m.headers[len(m.headers)-1]
		m.headerIdx[lowerASCII(name)] = append(m.headerIdx[lowerASCII(name)], len(m.headers)-1)
	}

	m.cte = m.headerRaw("content-transfer-encoding")
	m.contentType = m.headerRaw("content-type")
}

// findHeaderBodySep returns the byte offset of the first empty line
// (header/body separator), or -1 if none is present.
func findHeaderBodySep(raw []byte) int {
	for _, sep := range [][]byte{[]byte("\r\n\r\n"), []byte("\n\n")} {
		if i := bytes.Index(raw, sep); i >= 0 {
			return i + len(sep)
		}
	}
	return -1
}

func trimLeadingBlankLines(b []byte) []byte {
	for {
		if bytes.HasPrefix(b, []byte("\r\n")) {
			b = b[2:]
			continue
		}
		if bytes.HasPrefix(b, []byte("\n")) {
			b = b[1:]
			continue
		}
		break
	}
	return b
}

func splitHeaderLine(l []byte) (name, value string, ok bool) {
	i := bytes.IndexByte(l, ':')
	if i <= 0 {
		return "", "", false
	}
	return string(bytes.TrimSpace(l[:i])), string(bytes.TrimSpace(l[i+1:])), true
}

func lowerASCII(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}

// headerRaw returns the first value for a lowercased header name with no
// MIME decoding, no caching. Used internally by parse for CTE/CT sniffing.
func (m *Message) headerRaw(lname string) string {
	idx := m.headerIdx[lname]
	if len(idx) == 0 {
		return ""
	}
	return m.headers[idx[0]].Value
}

// GetFullText returns header bytes, a blank line, then the raw (pre-decode)
// body bytes, for full-text rule tests.
func (m *Message) GetFullText() []byte {
	var buf bytes.Buffer
	for _, h := range m.headers {
		buf.WriteString(h.Name)
		buf.WriteString(": ")
		buf.WriteString(h.Value)
		buf.WriteString("\r\n")
	}
	buf.WriteString("\r\n")
	buf.Write(m.bodyRaw)
	return buf.Bytes()
}

// ReplaceHeader removes all occurrences of name and inserts a single new
// value in their place (at the position of the first occurrence, or
// appended if absent). Invalidates the accessor cache.
func (m *Message) ReplaceHeader(name, value string) {
	idx := m.headerIdx[lowerASCII(name)]
	if len(idx) == 0 {
		m.PutHeader(name, value)
		return
	}
	pos := idx[0]
	m.DeleteHeader(name)
	m.headers = append(m.headers[:pos], append([]headerField{{Name: name, Value: value}}, m.headers[pos:]...)...)
	m.headerIdx = map[string][]int{}
	for i, h := range m.headers {
		m.headerIdx[lowerASCII(h.Name)] = append(m.headerIdx[lowerASCII(h.Name)], i)
	}
	m.invalidateCache()
}

// PutHeader appends a header at the end of the header block.
func (m *Message) PutHeader(name, value string) {
	m.headers = append(m.headers, headerField{Name: name, Value: value})
	m.headerIdx[lowerASCII(name)] = append(m.headerIdx[lowerASCII(name)], len(m.headers)-1)
	m.invalidateCache()
}

// DeleteHeader removes every occurrence of name.
func (m *Message) DeleteHeader(name string) {
	ln := lowerASCII(name)
	if _, ok := m.headerIdx[ln]; !ok {
		return
	}
	kept := m.headers[:0]
	newIdx := map[string][]int{}
	for _, h := range m.headers {
		if lowerASCII(h.Name) == ln {
			continue
		}
		newIdx[lowerASCII(h.Name)] = append(newIdx[lowerASCII(h.Name)], len(kept))
		kept = append(kept, h)
	}
	m.headers = kept
	m.headerIdx = newIdx
	m.invalidateCache()
}

func (m *Message) invalidateCache() {
	m.cacheMu.Lock()
	m.cache = nil
	m.cacheMu.Unlock()
}

// Raw returns the original unmodified byte stream the message was parsed
// from.
func (m *Message) Raw() []byte { return m.raw }

// ReplaceBody swaps in a new raw body (pre-decode), for callers that
// rebuild the message entirely (the report-safe MIME wrapper). Invalidates
// the line/uri caches and the header accessor cache, since a rewritten body
// can change the derived Content-Type the header cache may have keyed on.
func (m *Message) ReplaceBody(raw []byte) {
	m.bodyRaw = raw
	m.linesOnce = sync.Once{}
	m.urisOnce = sync.Once{}
	m.decodedLines = nil
	m.rawLines = nil
	m.uris = nil
	m.invalidateCache()
}
