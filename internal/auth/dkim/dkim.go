// Package dkim implements the check_dkim_signed / check_dkim_valid
// eval-callback plugins: DKIM signature verification backed by DNS TXT
// lookups, with a Redis cache for the public key records.
package dkim

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"net/mail"
	"net/textproto"
	"regexp"
	"strings"
	"time"

	"github.com/emersion/go-msgauth/dkim"
	"github.com/go-redis/redis/v8"
	mdns "github.com/miekg/dns"
	"go.uber.org/zap"

	"github.com/mail-cci/spamassassin/internal/config"
	"github.com/mail-cci/spamassassin/internal/metrics"
	"github.com/mail-cci/spamassassin/internal/types"
)

// Verifier performs DKIM verification with an optional Redis-backed TXT
// record cache.
type Verifier struct {
	cfg    *config.Config
	rdb    *redis.Client
	logger *zap.Logger
	lookup func(ctx context.Context, domain string) ([]string, uint32, error)
}

// NewVerifier builds a Verifier from application config. A nil or empty
// RedisURL leaves TXT lookups uncached.
func NewVerifier(cfg *config.Config, logger *zap.Logger) *Verifier {
	v := &Verifier{cfg: cfg, logger: logger, lookup: lookupTXT}
	if cfg != nil && cfg.RedisURL != "" {
		v.rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisURL})
	}
	return v
}

var selectorRegexp = regexp.MustCompile(`^[A-Za-z0-9](?:[A-Za-z0-9-]{0,61}[A-Za-z0-9])?$`)

func parseSelector(header string) (string, error) {
	for _, part := range strings.Split(header, ";") {
		part = strings.TrimSpace(part)
		if strings.HasPrefix(part, "s=") {
			val := strings.TrimSpace(strings.TrimPrefix(part, "s="))
			if val == "" {
				return "", fmt.Errorf("empty selector")
			}
			if !selectorRegexp.MatchString(val) {
				return "", fmt.Errorf("invalid selector")
			}
			return val, nil
		}
	}
	return "", fmt.Errorf("s tag not found")
}

func scoreFor(valid bool) float64 {
	if valid {
		return -1
	}
	return 3
}

// Verify checks every DKIM-Signature header in rawEmail; ARC-Message-Signature
// headers are not verified and are read only as a fallback source for
// Selector. Valid=true if at least one signature verifies; AlignmentCandidates
// lists every signature domain for DMARC's alignment check, regardless of
// which signature ultimately validated.
func (v *Verifier) Verify(ctx context.Context, rawEmail []byte) (*types.DKIMResult, error) {
	res := &types.DKIMResult{}

	if msg, err := mail.ReadMessage(bytes.NewReader(rawEmail)); err == nil {
		process := func(values []string) {
			for _, val := range values {
				if sel, err := parseSelector(val); err == nil && res.Selector == "" {
					res.Selector = sel
				}
			}
		}
		dkHeader := textproto.CanonicalMIMEHeaderKey("DKIM-Signature")
		arcHeader := textproto.CanonicalMIMEHeaderKey("ARC-Message-Signature")
		process(msg.Header[dkHeader])
		process(msg.Header[arcHeader])
	}

	start := time.Now()
	metrics.DKIMChecksTotal.Inc()
	defer func() { metrics.DKIMCheckDurationSeconds.Observe(time.Since(start).Seconds()) }()

	if v.cfg != nil && v.cfg.Auth.DKIM.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, v.cfg.Auth.DKIM.Timeout)
		defer cancel()
	}

	verifs, err := dkim.VerifyWithOptions(bytes.NewReader(rawEmail), &dkim.VerifyOptions{
		LookupTXT: func(domain string) ([]string, error) {
			return v.lookupTXTWithCache(ctx, domain)
		},
	})
	if err != nil && len(verifs) == 0 {
		metrics.DKIMCheckFail.Inc()
		return nil, err
	}
	if len(verifs) == 0 {
		metrics.DKIMCheckFail.Inc()
		return res, nil
	}

	for _, sig := range verifs {
		aligned := sig.Err == nil
		res.AlignmentCandidates = append(res.AlignmentCandidates, types.DKIMSignature{Domain: sig.Domain, Valid: aligned})
		if res.Domain == "" {
			res.Domain = sig.Domain
		}
		if aligned {
			res.Valid = true
		}
	}
	res.Score = scoreFor(res.Valid)
	if res.Valid {
		metrics.DKIMCheckPass.Inc()
	} else {
		metrics.DKIMCheckFail.Inc()
	}
	return res, nil
}

func (v *Verifier) lookupTXTWithCache(ctx context.Context, domain string) ([]string, error) {
	selector, base := "", ""
	if parts := strings.SplitN(domain, "._domainkey.", 2); len(parts) == 2 {
		selector, base = parts[0], parts[1]
	}

	cacheKey := ""
	if selector != "" && base != "" && v.rdb != nil {
		cacheKey = fmt.Sprintf("dkim:key:%s:%s", selector, base)
		if val, err := v.rdb.Get(ctx, cacheKey).Result(); err == nil {
			return []string{val}, nil
		}
	}

	txts, ttl, err := v.lookup(ctx, domain)
	if err != nil {
		return nil, err
	}
	if cacheKey != "" && v.rdb != nil && len(txts) > 0 {
		dur := v.cfg.Auth.DKIM.CacheTTL
		if ttl > 0 {
			dur = time.Duration(ttl) * time.Second
		}
		_ = v.rdb.Set(ctx, cacheKey, txts[0], dur).Err()
	}
	return txts, nil
}

func lookupTXT(ctx context.Context, domain string) ([]string, uint32, error) {
	conf, err := mdns.ClientConfigFromFile("/etc/resolv.conf")
	if err != nil || len(conf.Servers) == 0 {
		return nil, 0, err
	}
	server := net.JoinHostPort(conf.Servers[0], conf.Port)
	m := new(mdns.Msg)
	m.SetQuestion(mdns.Fqdn(domain), mdns.TypeTXT)
	r, _, err := new(mdns.Client).ExchangeContext(ctx, m, server)
	if err != nil {
		return nil, 0, err
	}
	var out []string
	var ttl uint32
	for _, ans := range r.Answer {
		if t, ok := ans.(*mdns.TXT); ok {
			out = append(out, strings.Join(t.Txt, ""))
			if ttl == 0 || t.Hdr.Ttl < ttl {
				ttl = t.Hdr.Ttl
			}
		}
	}
	return out, ttl, nil
}
