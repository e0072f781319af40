package ruleconf

import (
	"regexp"
	"strings"
)

// AddrlistName identifies one of the five addrlists described in §3.
type AddrlistName int

const (
	WhitelistFrom AddrlistName = iota
	BlacklistFrom
	WhitelistTo
	MoreSpamTo
	AllSpamTo
)

// addrEntry is one glob-compiled address pattern plus, for whitelist_from,
// the optional Received-chain domain constraints from whitelist_from_rcvd.
type addrEntry struct {
	pattern *regexp.Regexp
	rcvd    []string
}

// Addrlists holds the five named address mappings plus the
// Received-constrained whitelist entries.
type Addrlists struct {
	lists [5]map[string]*addrEntry
}

// NewAddrlists returns an empty set of the five addrlists.
func NewAddrlists() *Addrlists {
	a := &Addrlists{}
	for i := range a.lists {
		a.lists[i] = map[string]*addrEntry{}
	}
	return a
}

// Add compiles lit (a glob with * and ?) and stores it under list/lit.
func (a *Addrlists) Add(list AddrlistName, lit string) {
	a.lists[list][lit] = &addrEntry{pattern: compileGlob(lit)}
}

// AddWithRcvd adds a whitelist_from entry additionally constrained by
// domain substrings that must appear somewhere in the Received chain.
func (a *Addrlists) AddWithRcvd(list AddrlistName, lit string, rcvdDomains []string) {
	a.lists[list][lit] = &addrEntry{pattern: compileGlob(lit), rcvd: rcvdDomains}
}

// Remove deletes a literal entry (unwhitelist_from / the *-remove kind).
func (a *Addrlists) Remove(list AddrlistName, lit string) {
	delete(a.lists[list], lit)
}

// Match reports whether addr matches any pattern in list. Entries added via
// AddWithRcvd additionally require at least one of their rcvd domain
// substrings to appear in receivedChain, so they never match when it is
// empty.
func (a *Addrlists) Match(list AddrlistName, addr string, receivedChain string) bool {
	addr = strings.ToLower(addr)
	for _, e := range a.lists[list] {
		if !e.pattern.MatchString(addr) {
			continue
		}
		if len(e.rcvd) == 0 {
			return true
		}
		for _, d := range e.rcvd {
			if strings.Contains(receivedChain, d) {
				return true
			}
		}
	}
	return false
}

// compileGlob turns a SpamAssassin-style address glob into an anchored
// regexp: "*" becomes ".*", "?" becomes ".", and all other regexp
// metacharacters are escaped literally.
func compileGlob(glob string) *regexp.Regexp {
	var b strings.Builder
	b.WriteString("(?i)^")
	for _, r := range glob {
		switch r {
		case '*':
			b.WriteString(".*")
		case '?':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteString("$")
	re, err := regexp.Compile(b.String())
	if err != nil {
		// A glob that somehow fails to compile matches nothing rather than
		// aborting configuration parsing.
		return regexp.MustCompile(`^\z$`)
	}
	return re
}
