// Package dmarc implements the check_dmarc_reject eval-callback plugin:
// DMARC policy lookup plus SPF/DKIM alignment, composed from the results
// the dkim and spf plugins already computed for the same message.
package dmarc

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	mdns "github.com/miekg/dns"
	"go.uber.org/zap"
	"golang.org/x/net/publicsuffix"

	"github.com/mail-cci/spamassassin/internal/config"
	"github.com/mail-cci/spamassassin/internal/metrics"
	"github.com/mail-cci/spamassassin/internal/types"
)

// Verifier resolves a domain's DMARC policy and checks SPF/DKIM alignment
// against it.
type Verifier struct {
	cfg      *config.Config
	logger   *zap.Logger
	rdb      *redis.Client
	resolver dnsResolver
}

type dnsResolver interface {
	LookupTXT(ctx context.Context, name string) ([]string, error)
}

func NewVerifier(cfg *config.Config, logger *zap.Logger, resolver dnsResolver) *Verifier {
	v := &Verifier{cfg: cfg, logger: logger, resolver: resolver}
	if cfg != nil && cfg.RedisURL != "" {
		v.rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisURL})
	}
	return v
}

// Verify performs DMARC policy lookup, alignment checking and disposition.
func (v *Verifier) Verify(ctx context.Context, fromDomain string, spfResult *types.SPFResult, dkimResult *types.DKIMResult) (*types.DMARCResult, error) {
	result := &types.DMARCResult{Disposition: "none"}

	orgDomain := v.organizationalDomain(fromDomain)
	if orgDomain == "" {
		result.Error = "failed to extract organizational domain"
		metrics.DMARCChecksTotal.WithLabelValues("error").Inc()
		return result, fmt.Errorf("invalid domain: %s", fromDomain)
	}

	policy, err := v.queryPolicy(ctx, orgDomain)
	if err != nil || policy == nil {
		result.Error = "no DMARC policy found"
		result.Score = 0.5
		metrics.DMARCChecksTotal.WithLabelValues("no_policy").Inc()
		return result, nil
	}
	result.Policy = policy

	alignment := v.checkAlignment(fromDomain, spfResult, dkimResult, policy)
	result.Alignment = alignment
	result.Valid = alignment.SPFAligned || alignment.DKIMAligned

	if result.Valid {
		result.Disposition = "none"
		result.Score = -2.0
	} else {
		result.Disposition = policy.Policy
		result.Reason = failureReasons(alignment)
		result.Score = scoreForFailure(policy.Policy)
	}
	metrics.DMARCChecksTotal.WithLabelValues(result.Disposition).Inc()
	return result, nil
}

func failureReasons(a *types.DMARCAlignmentResult) []string {
	var reasons []string
	if !a.SPFAligned {
		reasons = append(reasons, "SPF alignment failed")
	}
	if !a.DKIMAligned {
		reasons = append(reasons, "DKIM alignment failed")
	}
	return reasons
}

func scoreForFailure(policy string) float64 {
	switch policy {
	case "reject":
		return 5.0
	case "quarantine":
		return 4.0
	default:
		return 3.0
	}
}

func (v *Verifier) queryPolicy(ctx context.Context, domain string) (*types.DMARCPolicy, error) {
	cacheKey := "dmarc:policy:" + domain
	if v.rdb != nil {
		if cached, err := v.rdb.Get(ctx, cacheKey).Result(); err == nil && cached != "" {
			return parseDMARCRecord(cached, domain)
		}
	}

	records, err := v.resolver.LookupTXT(ctx, "_dmarc."+domain)
	if err != nil {
		return nil, fmt.Errorf("DNS lookup failed: %w", err)
	}
	var record string
	for _, r := range records {
		if strings.HasPrefix(r, "v=DMARC1") {
			record = r
			break
		}
	}
	if record == "" {
		return nil, fmt.Errorf("no DMARC record found")
	}

	policy, err := parseDMARCRecord(record, domain)
	if err != nil {
		return nil, err
	}
	if v.rdb != nil {
		ttl := 4 * time.Hour
		if v.cfg != nil && v.cfg.Auth.DMARC.CacheTTL > 0 {
			ttl = v.cfg.Auth.DMARC.CacheTTL
		}
		_ = v.rdb.Set(ctx, cacheKey, record, ttl).Err()
	}
	return policy, nil
}

func parseDMARCRecord(record, domain string) (*types.DMARCPolicy, error) {
	policy := &types.DMARCPolicy{
		Domain:        domain,
		Policy:        "none",
		SPFAlignment:  types.AlignmentRelaxed,
		DKIMAlignment: types.AlignmentRelaxed,
		Percentage:    100,
	}
	for _, pair := range strings.Split(record, ";") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		tagValue := strings.SplitN(pair, "=", 2)
		if len(tagValue) != 2 {
			continue
		}
		tag, value := strings.TrimSpace(tagValue[0]), strings.TrimSpace(tagValue[1])
		switch strings.ToLower(tag) {
		case "p":
			policy.Policy = strings.ToLower(value)
		case "sp":
			policy.SubdomainPolicy = strings.ToLower(value)
		case "adkim":
			policy.DKIMAlignment = alignmentMode(value)
		case "aspf":
			policy.SPFAlignment = alignmentMode(value)
		case "pct":
			if pct, err := strconv.Atoi(value); err == nil && pct >= 0 && pct <= 100 {
				policy.Percentage = pct
			}
		case "rua":
			policy.ReportURI = strings.Split(value, ",")
		case "ruf":
			policy.ForensicURI = strings.Split(value, ",")
		}
	}
	if policy.Policy != "none" && policy.Policy != "quarantine" && policy.Policy != "reject" {
		return nil, fmt.Errorf("invalid DMARC policy: %s", policy.Policy)
	}
	return policy, nil
}

func alignmentMode(v string) types.DMARCAlignmentMode {
	if strings.EqualFold(v, "s") {
		return types.AlignmentStrict
	}
	return types.AlignmentRelaxed
}

func (v *Verifier) checkAlignment(fromDomain string, spfResult *types.SPFResult, dkimResult *types.DKIMResult, policy *types.DMARCPolicy) *types.DMARCAlignmentResult {
	alignment := &types.DMARCAlignmentResult{FromDomain: fromDomain, SPFMode: policy.SPFAlignment, DKIMMode: policy.DKIMAlignment}

	if spfResult != nil && strings.EqualFold(spfResult.Result, "pass") {
		alignment.SPFDomain = spfResult.Domain
		alignment.SPFAligned = v.domainsAligned(fromDomain, spfResult.Domain, policy.SPFAlignment)
	}
	if dkimResult != nil {
		for _, cand := range dkimResult.AlignmentCandidates {
			if !cand.Valid {
				continue
			}
			if v.domainsAligned(fromDomain, cand.Domain, policy.DKIMAlignment) {
				alignment.DKIMDomain = cand.Domain
				alignment.DKIMAligned = true
				break
			}
		}
	}
	return alignment
}

func (v *Verifier) domainsAligned(fromDomain, authDomain string, mode types.DMARCAlignmentMode) bool {
	if authDomain == "" {
		return false
	}
	if strings.EqualFold(fromDomain, authDomain) {
		return true
	}
	if mode == types.AlignmentStrict {
		return false
	}
	return strings.EqualFold(v.organizationalDomain(fromDomain), v.organizationalDomain(authDomain))
}

func (v *Verifier) organizationalDomain(domain string) string {
	orgDomain, err := publicsuffix.EffectiveTLDPlusOne(domain)
	if err != nil {
		return domain
	}
	return orgDomain
}

// SystemResolver is the production dnsResolver: a plain TXT lookup against
// /etc/resolv.conf's servers, grounded on the same miekg/dns query shape
// internal/auth/dkim uses for its own TXT lookups.
type SystemResolver struct{}

func NewSystemResolver() *SystemResolver { return &SystemResolver{} }

func (SystemResolver) LookupTXT(ctx context.Context, name string) ([]string, error) {
	conf, err := mdns.ClientConfigFromFile("/etc/resolv.conf")
	if err != nil || len(conf.Servers) == 0 {
		return nil, fmt.Errorf("dmarc: no resolvers configured: %w", err)
	}
	server := net.JoinHostPort(conf.Servers[0], conf.Port)
	m := new(mdns.Msg)
	m.SetQuestion(mdns.Fqdn(name), mdns.TypeTXT)
	r, _, err := new(mdns.Client).ExchangeContext(ctx, m, server)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, ans := range r.Answer {
		if t, ok := ans.(*mdns.TXT); ok {
			out = append(out, strings.Join(t.Txt, ""))
		}
	}
	return out, nil
}
