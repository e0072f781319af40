// Package spf implements the check_for_spf_pass / check_for_spf_fail
// eval-callback plugins, backed by github.com/wttw/spf.
package spf

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	mdns "github.com/miekg/dns"
	wttwspf "github.com/wttw/spf"

	"github.com/mail-cci/spamassassin/internal/config"
	"github.com/mail-cci/spamassassin/internal/metrics"
	"github.com/mail-cci/spamassassin/internal/types"
)

// Verifier performs SPF evaluation with an optional Redis result cache.
type Verifier struct {
	cfg *config.Config
	rdb *redis.Client
}

func NewVerifier(cfg *config.Config) *Verifier {
	v := &Verifier{cfg: cfg}
	if cfg != nil && cfg.RedisURL != "" {
		v.rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisURL})
	}
	return v
}

func scoreFor(result string) float64 {
	switch strings.ToLower(result) {
	case "pass":
		return -1
	case "fail":
		return 5
	case "softfail":
		return 2
	case "neutral":
		return 0.5
	case "temperror":
		return 1
	default:
		return 0
	}
}

// Verify checks the SPF record for clientIP against domain/sender.
func (v *Verifier) Verify(ctx context.Context, clientIP net.IP, domain, sender string) (*types.SPFResult, error) {
	res := &types.SPFResult{Domain: domain}
	start := time.Now()
	defer func() { metrics.SPFCheckDurationSeconds.Observe(time.Since(start).Seconds()) }()

	cacheKey := fmt.Sprintf("spf:%s:%s", clientIP.String(), domain)
	if v.rdb != nil {
		if val, err := v.rdb.Get(ctx, cacheKey).Result(); err == nil {
			res.Result = val
			res.Score = scoreFor(val)
			metrics.SPFChecksTotal.WithLabelValues(val).Inc()
			return res, nil
		}
	}

	timeout := 5 * time.Second
	if v.cfg != nil && v.cfg.Auth.SPF.Timeout > 0 {
		timeout = v.cfg.Auth.SPF.Timeout
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	checker := wttwspf.NewChecker()
	r := checker.CheckHost(cctx, clientIP, mdns.Fqdn(domain), sender, "")
	if r.Error != nil {
		metrics.SPFChecksTotal.WithLabelValues("error").Inc()
		return nil, r.Error
	}

	res.Result = r.Type.String()
	res.Explanation = r.Explanation
	res.Score = scoreFor(res.Result)
	metrics.SPFChecksTotal.WithLabelValues(res.Result).Inc()

	if v.rdb != nil {
		ttl := time.Hour
		if v.cfg != nil && v.cfg.Auth.SPF.CacheTTL > 0 {
			ttl = v.cfg.Auth.SPF.CacheTTL
		}
		_ = v.rdb.Set(ctx, cacheKey, res.Result, ttl).Err()
	}
	return res, nil
}
