package message

import "regexp"

var (
	uriRe       = regexp.MustCompile(`(?i)\b(?:https?|ftp|mailto)://[^\s<>"']+`)
	bareHostRe  = regexp.MustCompile(`(?i)\b(www|ftp)\.[a-z0-9.\-]+\.[a-z]{2,}(?:/[^\s<>"']*)?`)
	mailtoAddrRe = regexp.MustCompile(`(?i)\bmailto:([A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+)`)
)

// GetURIs extracts every URI referenced by the decoded body: explicit
// scheme://... URIs, bare www./ftp. hostnames (synthesized with an http://
// or ftp:// scheme), and mailto: addresses swept separately via an
// RFC-822-style address regex.
func (m *Message) GetURIs() []string {
	m.urisOnce.Do(func() {
		seen := map[string]bool{}
		add := func(u string) {
			if u != "" && !seen[u] {
				seen[u] = true
				m.uris = append(m.uris, u)
			}
		}
		text := string(joinLines(m.GetBodyLines()))
		for _, u := range uriRe.FindAllString(text, -1) {
			add(u)
		}
		for _, u := range bareHostRe.FindAllString(text, -1) {
			scheme := "http://"
			if u[0] == 'f' || u[0] == 'F' {
				scheme = "ftp://"
			}
			add(scheme + u)
		}
		for _, mt := range mailtoAddrRe.FindAllStringSubmatch(text, -1) {
			add("mailto:" + mt[1])
		}
	})
	return m.uris
}

func joinLines(lines []string) []byte {
	var total int
	for _, l := range lines {
		total += len(l)
	}
	out := make([]byte, 0, total)
	for _, l := range lines {
		out = append(out, l...)
	}
	return out
}
