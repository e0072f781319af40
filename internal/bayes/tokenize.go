// Package bayes implements the C4 Bayesian Classifier: a deterministic
// tokenizer, Robinson/chi-squared probability combiners, and learn/forget/
// scan against a pluggable token store.
package bayes

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/mail-cci/spamassassin/internal/message"
)

// stopWords is the fixed stoplist of short, common English words that carry
// no discriminating signal; a token matching one is never emitted, however
// long or short (§4.4).
var stopWords = map[string]bool{
	"the": true, "and": true, "for": true, "are": true, "but": true,
	"not": true, "you": true, "all": true, "can": true, "her": true,
	"was": true, "one": true, "our": true, "out": true, "day": true,
	"get": true, "has": true, "him": true, "his": true, "how": true,
	"man": true, "new": true, "now": true, "old": true, "see": true,
	"two": true, "way": true, "who": true, "boy": true, "did": true,
	"its": true, "let": true, "put": true, "say": true, "she": true,
	"too": true, "use": true, "that": true, "with": true, "this": true,
	"from": true, "have": true, "your": true, "will": true, "what": true,
}

// receivedFingerprintStop rejects digit-normalized tokens that are nothing
// but a common received-line shape, to keep the per-hop Received chain from
// drowning real signal (§4.4, "skip if the result matches a short stoplist
// of obviously useless received-line fingerprints").
var receivedFingerprintStop = map[string]bool{
	"idN": true, "forN": true, "n.n.n.n": true,
}

// bodyCharRe strips every byte not in the allowed body character set before
// splitting on whitespace.
var bodyCharRe = regexp.MustCompile(`[^A-Za-z0-9,@*!_'"$.\x{A1}-\x{FF}\s]`)

var dotRunRe = regexp.MustCompile(`\.{3,6}`)
var dashRunRe = regexp.MustCompile(`-{2,6}`)

var titleCaseRe = regexp.MustCompile(`^[A-Z][a-z']+$`)

// LowercaseTitleCase controls whether a Latin-style "Title Case" word has
// its initial capital folded to lowercase, matching the source's
// compile-time flag (§4.4).
var LowercaseTitleCase = true

// Tokenize extracts the deduplicated token set for msg, combining body and
// header tokens per §4.4. The returned set is exactly what Learn/Forget/Scan
// operate on; callers must not mutate it after obtaining it from the same
// *message.Message without re-tokenizing, since header tokens depend on the
// accessor cache.
func Tokenize(msg *message.Message) map[string]struct{} {
	toks := map[string]struct{}{}
	for _, line := range msg.GetBodyLines() {
		for _, t := range tokenizeBodyLine(line) {
			toks[t] = struct{}{}
		}
	}
	for _, t := range tokenizeHeaders(msg) {
		toks[t] = struct{}{}
	}
	return toks
}

func tokenizeBodyLine(line string) []string {
	line = expandRuns(line)
	cleaned := bodyCharRe.ReplaceAllString(line, " ")
	var out []string
	for _, field := range strings.Fields(cleaned) {
		out = append(out, emitBodyToken(field)...)
	}
	return out
}

// expandRuns splits a run of 3-6 dots or 2-6 dashes off into its own token
// by surrounding it with whitespace, so the subsequent Fields() split
// isolates it (§4.4).
func expandRuns(s string) string {
	s = dotRunRe.ReplaceAllStringFunc(s, func(m string) string { return " " + m + " " })
	s = dashRunRe.ReplaceAllStringFunc(s, func(m string) string { return " " + m + " " })
	return s
}

func emitBodyToken(field string) []string {
	field = strings.Trim(field, `-'".,`)
	if len(field) < 3 {
		return nil
	}
	if titleCaseRe.MatchString(field) && LowercaseTitleCase {
		field = strings.ToLower(field[:1]) + field[1:]
	}
	if stopWords[strings.ToLower(field)] {
		return nil
	}

	var out []string
	out = append(out, compressLongToken(field)...)

	if digitToken := normalizeDigits(field); digitToken != field {
		if !receivedFingerprintStop[digitToken] {
			out = append(out, compressLongToken(digitToken)...)
		}
	}
	return out
}

// compressLongToken implements the >15-byte rule: high-ASCII runs of 2+
// become paired "8:XX" tokens (one per two-byte group), otherwise the token
// is truncated to "sk:"+7 chars (§4.4).
func compressLongToken(tok string) []string {
	if len(tok) <= 15 {
		return []string{tok}
	}
	b := []byte(tok)
	highRun := 0
	for _, c := range b {
		if c >= 0xA0 {
			highRun++
			if highRun >= 2 {
				break
			}
		} else {
			highRun = 0
		}
	}
	if highRun >= 2 {
		var out []string
		for i := 0; i+1 < len(b); i += 2 {
			out = append(out, "8:"+string(b[i:i+2]))
		}
		return out
	}
	return []string{"sk:" + tok[:7]}
}

var digitRe = regexp.MustCompile(`[0-9]`)

func normalizeDigits(tok string) string {
	if !digitRe.MatchString(tok) {
		return tok
	}
	return digitRe.ReplaceAllString(tok, "N")
}

// headerCompress maps the most common header names to the two-character
// codes the source uses to keep token length down (§4.4).
var headerCompress = map[string]string{
	"message-id":       "*m",
	"received":         "*r",
	"subject":          "*s",
	"from":             "*f",
	"to":               "*t",
	"content-type":     "*c",
	"x-mailer":         "*x",
	"user-agent":       "*u",
	"mime-version":     "*v",
	"return-path":      "*p",
	"reply-to":         "*y",
	"x-priority":       "*i",
	"date":             "*d",
}

// headerIgnorePrefix lists header-name prefixes whose tokens carry no signal
// (or are actively misleading, since list software rewrites them) and are
// never tokenized.
var headerIgnorePrefix = []string{"list-", "x-spam-"}

func headerIgnored(lname string, extras map[string]bool) bool {
	switch lname {
	case "date":
		return true
	}
	for _, p := range headerIgnorePrefix {
		if strings.HasPrefix(lname, p) {
			return true
		}
	}
	return extras[lname]
}

// tokenizeHeaders implements §4.4's header-token rule set: skip the
// ignore-list (all Received but the last two, Date, List-*, X-Spam-*), and
// for every remaining header emit H<code>:<value-token> pairs, with special
// pre-processing for Message-ID, Received and Content-Type. No extra header
// names are passed to headerIgnored, so names collected by the
// bayes_ignore_header directive are not skipped here.
func tokenizeHeaders(msg *message.Message) []string {
	var out []string
	fields := msg.AllHeaderFields()

	receivedTotal := 0
	for _, f := range fields {
		if strings.EqualFold(f.Name, "Received") {
			receivedTotal++
		}
	}

	receivedSeen := 0
	for _, f := range fields {
		lname := strings.ToLower(f.Name)
		if lname == "received" {
			receivedSeen++
			if receivedTotal-receivedSeen >= 2 {
				continue // only the last two Received headers are tokenized
			}
		}
		if headerIgnored(lname, nil) {
			continue
		}
		val := preprocessHeaderValue(lname, f.Value)

		code, ok := headerCompress[lname]
		if !ok {
			code = "*" + shortHeaderCode(lname)
		}
		for _, tok := range strings.Fields(val) {
			for _, t := range emitBodyToken(tok) {
				out = append(out, "H"+code+":"+t)
			}
		}
	}
	return out
}

var ipLastOctetRe = regexp.MustCompile(`(\d{1,3}\.\d{1,3}\.\d{1,3})\.\d{1,3}`)
var mtaIDRe = regexp.MustCompile(`(?i)id\s+[0-9A-Za-z\-.]+`)
var boundaryRe = regexp.MustCompile(`(?i)boundary="?([^";]+)"?`)
var textCharsetRe = regexp.MustCompile(`(?i)\b(text|charset)\b`)
var receivedKeywordRe = regexp.MustCompile(`(?i)\b(with|from|for)\b`)

// preprocessHeaderValue applies the per-header normalization the source
// uses to keep spammer-MTA fingerprints visible despite formatting noise
// (§4.4): reduce common MTA-generated Message-ID shapes, strip the
// sendmail/ESMTP queue id and /24-approximate IPs out of Received,
// lowercase its with/from/for keywords, and reduce Content-Type to its
// boundary plus non-text/charset words.
func preprocessHeaderValue(lname, val string) string {
	switch lname {
	case "message-id":
		return mtaIDRe.ReplaceAllString(val, "id")
	case "received":
		val = mtaIDRe.ReplaceAllString(val, "")
		val = ipLastOctetRe.ReplaceAllString(val, "$1.0/24")
		val = receivedKeywordRe.ReplaceAllStringFunc(val, strings.ToLower)
		return val
	case "content-type":
		if m := boundaryRe.FindStringSubmatch(val); m != nil {
			val = "boundary=" + m[1] + " " + textCharsetRe.ReplaceAllString(val, "")
		}
		return val
	default:
		return val
	}
}

func shortHeaderCode(lname string) string {
	h := 0
	for _, c := range lname {
		h = h*31 + int(c)
	}
	return strconv.FormatInt(int64(h&0xfff), 36)
}
