package rules

import (
	"context"
	"fmt"
	"net"
	"net/mail"
	"regexp"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mail-cci/spamassassin/internal/auth/dkim"
	"github.com/mail-cci/spamassassin/internal/auth/dmarc"
	"github.com/mail-cci/spamassassin/internal/auth/spf"
	"github.com/mail-cci/spamassassin/internal/types"
)

// EvalFunc is the fixed argument convention for an eval-callback test
// (§9): given the per-message status and the rule's literal arguments, it
// reports whether the rule hits. A returned error is treated exactly like
// "did not hit" by the driver, which logs it and increments the rule-error
// counter.
type EvalFunc func(ctx context.Context, p *PerMsgStatus, args []string) (bool, error)

// AuthPlugins bundles the three network eval-callback plugins (§4.3's
// rbl-eval contract, concretely implemented as DKIM/SPF/DMARC). A nil
// field disables that plugin; its eval callbacks then always report "not
// hit" rather than erroring, so a ruleset that references it still scores
// deterministically.
type AuthPlugins struct {
	DKIM  *dkim.Verifier
	SPF   *spf.Verifier
	DMARC *dmarc.Verifier
}

// reputationResults holds the harvested outcome of the step-2 launch, kept
// on PerMsgStatus so step 8's rbl-result-eval tests and the eval registry
// can read them without re-querying.
type reputationResults struct {
	dkim  *types.DKIMResult
	spf   *types.SPFResult
	dmarc *types.DMARCResult
}

var receivedIPRe = regexp.MustCompile(`\[(\d{1,3}(?:\.\d{1,3}){3})\]`)

// launchReputationQueries kicks off the DKIM and SPF lookups concurrently
// (§4.3 step 2); it returns immediately with a function that blocks until
// both have either returned or the context is done, then runs the DMARC
// evaluation on their results (§4.3 step 8, "harvest").
func launchReputationQueries(ctx context.Context, p *PerMsgStatus, plugins *AuthPlugins) func() *reputationResults {
	if plugins == nil {
		return func() *reputationResults { return &reputationResults{} }
	}
	res := &reputationResults{}
	g, gctx := errgroup.WithContext(ctx)

	fromDomain := domainOf(p.Msg.GetHeader("From:addr", ""))
	clientIP := firstReceivedIP(p.Msg.GetHeader("Received", ""))
	rawMsg := p.Msg.Raw()

	if plugins.DKIM != nil && len(rawMsg) > 0 {
		g.Go(func() error {
			r, err := plugins.DKIM.Verify(gctx, rawMsg)
			if err == nil {
				res.dkim = r
			}
			return nil // a reputation-service fault evaluates as "not hit", not an abort
		})
	}
	if plugins.SPF != nil && clientIP != nil && fromDomain != "" {
		g.Go(func() error {
			r, err := plugins.SPF.Verify(gctx, clientIP, fromDomain, p.Msg.GetHeader("From:addr", ""))
			if err == nil {
				res.spf = r
			}
			return nil
		})
	}

	return func() *reputationResults {
		_ = g.Wait()
		if plugins.DMARC != nil && fromDomain != "" {
			r, err := plugins.DMARC.Verify(ctx, fromDomain, res.spf, res.dkim)
			if err == nil {
				res.dmarc = r
			}
		}
		return res
	}
}

func domainOf(addr string) string {
	i := strings.LastIndex(addr, "@")
	if i < 0 {
		return ""
	}
	return strings.ToLower(addr[i+1:])
}

func firstReceivedIP(received string) net.IP {
	m := receivedIPRe.FindStringSubmatch(received)
	if m == nil {
		return nil
	}
	return net.ParseIP(m[1])
}

// shiftedDateThreshold is how far the Date header may drift from now
// before check_for_shifted_date reports a hit.
const shiftedDateThreshold = 24 * time.Hour

// buildEvalRegistry returns the name -> EvalFunc table. Network-group
// entries (DKIM/SPF/DMARC) read from the harvested reputation results
// rather than querying directly, so they observe step 8's ordering
// contract regardless of when the rule engine calls them. now is the
// reference clock check_for_shifted_date measures skew against.
func buildEvalRegistry(now func() time.Time) map[string]EvalFunc {
	return map[string]EvalFunc{
		"check_dkim_signed": func(_ context.Context, p *PerMsgStatus, _ []string) (bool, error) {
			return p.reputation != nil && p.reputation.dkim != nil && p.reputation.dkim.Selector != "", nil
		},
		"check_dkim_valid": func(_ context.Context, p *PerMsgStatus, _ []string) (bool, error) {
			return p.reputation != nil && p.reputation.dkim != nil && p.reputation.dkim.Valid, nil
		},
		"check_for_spf_pass": func(_ context.Context, p *PerMsgStatus, _ []string) (bool, error) {
			return p.reputation != nil && p.reputation.spf != nil && strings.EqualFold(p.reputation.spf.Result, "pass"), nil
		},
		"check_for_spf_fail": func(_ context.Context, p *PerMsgStatus, _ []string) (bool, error) {
			return p.reputation != nil && p.reputation.spf != nil && strings.EqualFold(p.reputation.spf.Result, "fail"), nil
		},
		"check_dmarc_reject": func(_ context.Context, p *PerMsgStatus, _ []string) (bool, error) {
			return p.reputation != nil && p.reputation.dmarc != nil && p.reputation.dmarc.Disposition == "reject", nil
		},

		// local-group evaluators (§9): no network I/O, operate purely on
		// the message already in hand.
		"check_for_missing_to_header": func(_ context.Context, p *PerMsgStatus, _ []string) (bool, error) {
			return p.Msg.GetHeader("To", "") == "", nil
		},
		"check_for_shifted_date": func(_ context.Context, p *PerMsgStatus, _ []string) (bool, error) {
			raw := p.Msg.GetHeader("Date", "")
			if raw == "" {
				return false, nil
			}
			date, err := mail.ParseDate(raw)
			if err != nil {
				return false, nil
			}
			skew := now().Sub(date)
			if skew < 0 {
				skew = -skew
			}
			return skew > shiftedDateThreshold, nil
		},
		"check_for_forged_received_headers": func(_ context.Context, p *PerMsgStatus, _ []string) (bool, error) {
			received := p.Msg.GetHeader("Received", "")
			return received != "" && firstReceivedIP(received) == nil, nil
		},
	}
}

func evalError(name string, err error) error {
	return fmt.Errorf("eval:%s: %w", name, err)
}
