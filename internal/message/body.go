package message

import (
	"bufio"
	"bytes"
	"encoding/base64"
	"io"
	"mime/quotedprintable"
	"strings"

	emmail "github.com/emersion/go-message/mail"
)

// GetBodyLines returns the decoded body, one newline-terminated line at a
// time. For multipart MIME it concatenates only text/* parts; a skipped
// part is replaced with a single "[skipped TYPE attachment]" marker so line
// counts referenced by other rules stay stable. A line longer than
// maxLineLen is split into consecutive maxLineLen-byte chunks rather than
// truncated, so a body/rawbody regex can still match content past the
// first chunk.
func (m *Message) GetBodyLines() []string {
	m.linesOnce.Do(m.computeLines)
	return m.decodedLines
}

// GetRawBodyLines returns the pre-decode body lines (before
// quoted-printable/base64 reversal), chunked the same way.
func (m *Message) GetRawBodyLines() []string {
	m.linesOnce.Do(m.computeLines)
	return m.rawLines
}

func (m *Message) computeLines() {
	m.rawLines = chunkLongLines(splitLines(m.bodyRaw))
	m.decodedLines = chunkLongLines(splitLines(m.decodeBody()))
}

func splitLines(b []byte) []string {
	if len(b) == 0 {
		return nil
	}
	var out []string
	sc := bufio.NewScanner(bytes.NewReader(b))
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		out = append(out, sc.Text()+"\n")
	}
	return out
}

// chunkLongLines splits any line over maxLineLen bytes into consecutive
// maxLineLen-byte chunks instead of discarding the tail, per the boundary
// behavior that long lines are "processed as consecutive 4096-byte
// chunks."
func chunkLongLines(lines []string) []string {
	out := make([]string, 0, len(lines))
	for _, l := range lines {
		for len(l) > maxLineLen {
			out = append(out, l[:maxLineLen])
			l = l[maxLineLen:]
		}
		out = append(out, l)
	}
	return out
}

// decodeBody walks top-level MIME structure with go-message/mail; text
// parts are decoded (charset + transfer-encoding) and concatenated,
// non-text parts become a skip marker. Malformed MIME boundaries degrade
// to the raw body, per C1's failure contract.
func (m *Message) decodeBody() []byte {
	if !strings.Contains(strings.ToLower(m.contentType), "multipart/") {
		return decodeTransferEncoding(m.bodyRaw, m.cte)
	}

	full := m.GetFullText()
	r, err := emmail.CreateReader(bytes.NewReader(full))
	if err != nil {
		return m.bodyRaw
	}

	var out bytes.Buffer
	for {
		p, err := r.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			if out.Len() == 0 {
				return m.bodyRaw
			}
			break
		}
		ctype := ""
		if h, ok := p.Header.(*emmail.InlineHeader); ok {
			ct, _, _ := h.ContentType()
			ctype = ct
		} else if h, ok := p.Header.(*emmail.AttachmentHeader); ok {
			ct, _, _ := h.ContentType()
			ctype = ct
		}
		if ctype == "" || strings.HasPrefix(ctype, "text/") {
			data, _ := io.ReadAll(p.Body)
			out.Write(data)
			out.WriteByte('\n')
		} else {
			out.WriteString("[skipped " + ctype + " attachment]\n")
		}
	}
	return out.Bytes()
}

// decodeTransferEncoding decodes a single-part body according to its
// Content-Transfer-Encoding. A declared base64 body is decoded whole. With
// no recognised encoding, decodeAutoDetectBase64 looks for a run of three
// or more consecutive lines of equal length containing only base64
// alphabet characters and decodes from there.
func decodeTransferEncoding(body []byte, cte string) []byte {
	switch strings.ToLower(strings.TrimSpace(cte)) {
	case "quoted-printable":
		dec, err := io.ReadAll(quotedprintable.NewReader(bytes.NewReader(body)))
		if err != nil && len(dec) == 0 {
			return body
		}
		return dec
	case "base64":
		return decodeBase64Body(body)
	default:
		return decodeAutoDetectBase64(body)
	}
}

func decodeBase64Body(body []byte) []byte {
	clean := bytes.Map(func(r rune) rune {
		if r == '\r' || r == '\n' {
			return -1
		}
		return r
	}, body)
	dec, err := base64.StdEncoding.DecodeString(string(clean))
	if err != nil {
		return body
	}
	return dec
}

// decodeAutoDetectBase64 handles messages that omit or mislabel
// Content-Transfer-Encoding but contain an obvious base64 section: three
// consecutive lines of equal, non-zero length made entirely of base64
// alphabet characters mark the start of such a section.
func decodeAutoDetectBase64(body []byte) []byte {
	lines := bytes.Split(body, []byte("\n"))
	run := 0
	runLen := -1
	start := -1
	for i, l := range lines {
		l = bytes.TrimRight(l, "\r")
		if len(l) > 0 && isBase64Line(l) && (runLen == -1 || len(l) == runLen) {
			if runLen == -1 {
				runLen = len(l)
			}
			run++
			if run == 3 {
				start = i - 2
			}
		} else {
			run = 0
			runLen = -1
		}
	}
	if start < 0 {
		return body
	}
	var b64 bytes.Buffer
	for _, l := range lines[start:] {
		b64.Write(bytes.TrimRight(l, "\r"))
	}
	dec, err := base64.StdEncoding.DecodeString(b64.String())
	if err != nil || len(dec) == 0 {
		return body
	}
	return dec
}

func isBase64Line(l []byte) bool {
	for _, c := range l {
		switch {
		case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9', c == '+', c == '/', c == '=':
		default:
			return false
		}
	}
	return true
}
