// Package report implements the C5 Reporter/Rewriter: it takes a classified
// message (the rule engine's *rules.PerMsgStatus) and produces the outbound,
// marked-up message, plus the inverse remove_markup operation.
package report

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/mail-cci/spamassassin/internal/message"
	"github.com/mail-cci/spamassassin/internal/ruleconf"
	"github.com/mail-cci/spamassassin/internal/rules"
)

// Version and HomeURL back the _VER_/_HOME_ template placeholders.
const (
	Version = "1.0.0"
	HomeURL = "(local spam filter)"
)

const reportSentinel = "SPAM: ----"

// AddStatusHeaders adds the headers that are attached regardless of
// verdict: X-Spam-Status always, X-Spam-Level when the score is at least
// one whole point (§4.5). It must run before any subject/body rewriting so a later
// remove_markup can find a consistent header set.
func AddStatusHeaders(msg *message.Message, p *rules.PerMsgStatus, store *ruleconf.Store) {
	msg.PutHeader("X-Spam-Status", statusLine(p, store))
	if stars := levelStars(p, store); stars != "" {
		msg.PutHeader("X-Spam-Level", stars)
	}
	msg.PutHeader("X-Spam-Checker-Version", Version)
}

func statusLine(p *rules.PerMsgStatus, store *ruleconf.Store) string {
	verdict := "No"
	if p.Verdict() {
		verdict = "Yes"
	}
	line := fmt.Sprintf("%s, hits=%.1f required=%.1f tests=%s",
		verdict, p.Score(), store.Settings.RequiredScore, strings.Join(p.Hits(), ","))
	if store.Settings.FoldHeaders {
		line = foldHeader(line)
	}
	return line
}

// levelStars renders one configured character per whole point of score,
// truncated (§4.5 "one configured character per integer point").
func levelStars(p *rules.PerMsgStatus, store *ruleconf.Store) string {
	n := int(p.Score())
	if n <= 0 {
		return ""
	}
	ch := store.Settings.SpamLevelChar
	if ch == "" {
		ch = "*"
	}
	return strings.Repeat(ch, n)
}

// foldHeader wraps a header value to 74 columns, continuation lines
// indented by one tab, per RFC 2822 folding as used for long generated
// header values.
func foldHeader(v string) string {
	const width = 74
	words := strings.Fields(v)
	if len(words) == 0 {
		return v
	}
	var lines []string
	cur := words[0]
	for _, w := range words[1:] {
		if len(cur)+1+len(w) > width {
			lines = append(lines, cur)
			cur = w
			continue
		}
		cur += " " + w
	}
	lines = append(lines, cur)
	return strings.Join(lines, "\n\t")
}

// MarkSpam applies the spam-only markup (§4.5): X-Spam-Flag, the subject
// tag, and (depending on report_safe) either the message/rfc822 or
// text/plain wrapper, or an inline report splice. Call only when
// p.Verdict() is true.
func MarkSpam(msg *message.Message, p *rules.PerMsgStatus, store *ruleconf.Store) error {
	msg.PutHeader("X-Spam-Flag", "YES")
	rewriteSubject(msg, p, store)

	reportBody := FullReport(store, p)

	switch store.Settings.ReportSafe {
	case 1:
		return wrapSafe(msg, reportBody, "message/rfc822")
	case 2:
		return wrapSafe(msg, reportBody, "text/plain")
	default:
		return spliceUnsafe(msg, reportBody, store)
	}
}

// rewriteSubject prepends the configured subject tag, substituting _HITS_
// and _REQD_, when rewrite_subject is on (§4.5).
func rewriteSubject(msg *message.Message, p *rules.PerMsgStatus, store *ruleconf.Store) {
	if !store.Settings.RewriteSubject || store.Settings.SubjectTag == "" {
		return
	}
	tag := Substitute(store.Settings.SubjectTag, p, store)
	subj := msg.GetHeader("Subject", "")
	msg.ReplaceHeader("Subject", tag+" "+subj)
}

// wrapSafe implements report_safe 1/2 (§4.5): the original message is
// preserved byte-for-byte as one MIME part (either a full message/rfc822
// part, or a flattened text/plain part in mode 2), with the rendered report
// as a leading text/plain part, inside a new multipart/mixed container.
// Built by hand rather than through a generic MIME-writer API, since the
// exact nesting (whole original message as one opaque part) does not map
// onto a typical outgoing-composition writer without guessing at an
// unverified call shape; the format itself mirrors the fixed boundary
// structure spec.md §4.5 describes literally.
func wrapSafe(msg *message.Message, reportBody, innerType string) error {
	original := msg.Raw()
	boundary := "----spamreport_" + strconv.FormatUint(simpleHash(original), 36)

	var b strings.Builder
	b.WriteString("This is a multi-part message in MIME format.\r\n\r\n")
	b.WriteString("--" + boundary + "\r\n")
	b.WriteString("Content-Type: text/plain; charset=us-ascii\r\n")
	b.WriteString("Content-Disposition: inline\r\n\r\n")
	b.WriteString(reportBody)
	b.WriteString("\r\n\r\n")

	b.WriteString("--" + boundary + "\r\n")
	switch innerType {
	case "message/rfc822":
		b.WriteString("Content-Type: message/rfc822\r\n")
		b.WriteString("Content-Disposition: attachment; filename=\"original-message.eml\"\r\n\r\n")
		b.Write(original)
	default:
		b.WriteString("Content-Type: text/plain; charset=us-ascii\r\n")
		b.WriteString("Content-Disposition: attachment; filename=\"original-message.txt\"\r\n\r\n")
		b.Write(original)
	}
	b.WriteString("\r\n--" + boundary + "--\r\n")

	savePrevContentHeaders(msg)
	msg.ReplaceHeader("Content-Type", `multipart/mixed; boundary="`+boundary+`"`)
	msg.DeleteHeader("Content-Transfer-Encoding")
	msg.ReplaceBody([]byte(b.String()))
	return nil
}

// spliceUnsafe implements report_safe 0 (§4.5): splice the report into
// X-Spam-Report if report_header is set, else into the body after the
// first MIME boundary if one exists, else prepend it.
func spliceUnsafe(msg *message.Message, reportBody string, store *ruleconf.Store) error {
	if store.Settings.ReportHeader {
		line := reportBody
		if store.Settings.FoldHeaders {
			line = foldHeader(strings.ReplaceAll(line, "\n", " "))
		}
		msg.PutHeader("X-Spam-Report", line)
		return nil
	}

	body := msg.Raw()
	sep := findHeaderBodySep(body)
	if sep < 0 {
		return nil
	}
	orig := body[sep:]
	marker := reportSentinel + "\r\n" + reportBody + "\r\n" + reportSentinel + "\r\n\r\n"

	if idx := firstBoundaryLineEnd(orig); idx >= 0 {
		spliced := append(append(append([]byte{}, orig[:idx]...), []byte(marker)...), orig[idx:]...)
		msg.ReplaceBody(spliced)
		return nil
	}
	msg.ReplaceBody(append([]byte(marker), orig...))
	return nil
}

func findHeaderBodySep(raw []byte) int {
	for _, sep := range []string{"\r\n\r\n", "\n\n"} {
		if i := strings.Index(string(raw), sep); i >= 0 {
			return i + len(sep)
		}
	}
	return -1
}

// firstBoundaryLineEnd returns the byte offset just after the first line
// that opens a MIME boundary ("--...") within body, or -1 if there is none.
func firstBoundaryLineEnd(body []byte) int {
	lines := strings.SplitAfter(string(body), "\n")
	off := 0
	for _, l := range lines {
		trimmed := strings.TrimRight(l, "\r\n")
		if strings.HasPrefix(trimmed, "--") && len(trimmed) > 2 {
			return off + len(l)
		}
		off += len(l)
	}
	return -1
}

func savePrevContentHeaders(msg *message.Message) {
	if ct := msg.GetHeader("Content-Type:raw", ""); ct != "" {
		msg.PutHeader("X-Spam-Prev-Content-Type", ct)
	}
	if cte := msg.GetHeader("Content-Transfer-Encoding:raw", ""); cte != "" {
		msg.PutHeader("X-Spam-Prev-Content-Transfer-Encoding", cte)
	}
}

// simpleHash is a content-derived, deterministic (not time-based) boundary
// salt, so the same message always gets the same boundary string.
func simpleHash(b []byte) uint64 {
	var h uint64 = 14695981039346656037
	for _, c := range b {
		h ^= uint64(c)
		h *= 1099511628211
	}
	return h
}

// defaultReport renders a minimal report when no "report" template was
// configured, so report_safe still has something to wrap.
func defaultReport(p *rules.PerMsgStatus, store *ruleconf.Store) string {
	var b strings.Builder
	b.WriteString("Spam detection software, running on the mail system, has\n")
	b.WriteString("identified this incoming email as possible spam.\n\n")
	b.WriteString(fmt.Sprintf("Content analysis details: (%.1f points, %.1f required)\n\n", p.Score(), store.Settings.RequiredScore))
	for _, line := range p.TestLog() {
		b.WriteString(" " + line + "\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// Substitute performs the literal, non-recursive placeholder substitution
// described in §4.5: _HITS_, _REQD_, _SUMMARY_, _VER_, _HOME_.
func Substitute(tmpl string, p *rules.PerMsgStatus, store *ruleconf.Store) string {
	r := strings.NewReplacer(
		"_HITS_", fmt.Sprintf("%.1f", p.Score()),
		"_REQD_", fmt.Sprintf("%.1f", store.Settings.RequiredScore),
		"_SUMMARY_", strings.Join(p.TestLog(), "\n"),
		"_VER_", Version,
		"_HOME_", HomeURL,
	)
	return r.Replace(tmpl)
}

// Render substitutes and returns the named template (report, unsafe_report,
// terse_report, spamtrap), or "" if it was never configured.
func Render(store *ruleconf.Store, name string, p *rules.PerMsgStatus) string {
	tmpl := store.Templates.Get(name)
	if tmpl == "" {
		return ""
	}
	return Substitute(tmpl, p, store)
}

// FullReport renders the "report" template, falling back to defaultReport
// when none is configured. Shared by MarkSpam and the REPORT/REPORT_IFSPAM
// wire verbs (§4.7) so both produce the same text.
func FullReport(store *ruleconf.Store, p *rules.PerMsgStatus) string {
	if body := Render(store, "report", p); body != "" {
		return body
	}
	return defaultReport(p, store)
}

// RemoveMarkup implements §4.5's inverse operation: strip every header the
// reporter could have added, restore the saved prior Content-Type/CTE,
// strip the subject tag prefix, and excise an inline report delimited by
// the SPAM: ---- sentinel along with one trailing blank line.
func RemoveMarkup(msg *message.Message, subjectTag string) {
	for _, h := range []string{
		"X-Spam-Status", "X-Spam-Flag", "X-Spam-Level", "X-Spam-Report",
		"X-Spam-Checker-Version",
	} {
		msg.DeleteHeader(h)
	}

	if prev := msg.GetHeader("X-Spam-Prev-Content-Type:raw", ""); prev != "" {
		msg.ReplaceHeader("Content-Type", prev)
		msg.DeleteHeader("X-Spam-Prev-Content-Type")
	}
	if prev := msg.GetHeader("X-Spam-Prev-Content-Transfer-Encoding:raw", ""); prev != "" {
		msg.ReplaceHeader("Content-Transfer-Encoding", prev)
		msg.DeleteHeader("X-Spam-Prev-Content-Transfer-Encoding")
	}

	if subjectTag != "" {
		subj := msg.GetHeader("Subject", "")
		if strings.HasPrefix(subj, subjectTag) {
			subj = strings.TrimPrefix(subj, subjectTag)
			subj = strings.TrimPrefix(subj, " ")
			msg.ReplaceHeader("Subject", subj)
		}
	}

	exciseInlineReport(msg)
}

// exciseInlineReport removes an spliceUnsafe-style inline report, detected
// by its leading SPAM: ---- sentinel, along with one trailing blank line.
func exciseInlineReport(msg *message.Message) {
	body := msg.GetFullText()
	sep := findHeaderBodySep(body)
	if sep < 0 {
		return
	}
	orig := string(body[sep:])

	start := strings.Index(orig, reportSentinel)
	if start < 0 {
		return
	}
	rest := orig[start+len(reportSentinel):]
	end := strings.Index(rest, reportSentinel)
	if end < 0 {
		return
	}
	afterSentinel := rest[end+len(reportSentinel):]
	afterSentinel = strings.TrimPrefix(afterSentinel, "\r\n")
	afterSentinel = strings.TrimPrefix(afterSentinel, "\n")
	afterSentinel = strings.TrimPrefix(afterSentinel, "\r\n")
	afterSentinel = strings.TrimPrefix(afterSentinel, "\n")

	msg.ReplaceBody([]byte(orig[:start] + afterSentinel))
}
