package bayes

import (
	"context"
	"fmt"
	"time"

	"github.com/mail-cci/spamassassin/internal/message"
)

// Params configures one Filter instance (§4.4/§6 bayes_* directives).
type Params struct {
	Combiner          Combiner
	UseHapaxes        bool // disable the "spam+ham < 2" token discard
	ExpiryInterval    time.Duration
	ExpiryMinTokens   int
}

// Filter ties a TokenStore to the tokenizer and combiner to implement
// learn/forget/scan (§4.4).
type Filter struct {
	store  TokenStore
	params Params
}

func NewFilter(store TokenStore, params Params) *Filter {
	return &Filter{store: store, params: params}
}

// Learn implements §4.4's learn(): idempotent against the seen store (a
// repeat learn of the same label is a no-op; the opposite label triggers
// forget first), then adjusts nspam/nham and every unique token's count by
// one.
func (f *Filter) Learn(ctx context.Context, messageID string, isSpam bool, msg *message.Message) error {
	label := "ham"
	if isSpam {
		label = "spam"
	}

	seen, err := f.store.SeenLabel(ctx, messageID)
	if err != nil {
		return fmt.Errorf("bayes learn: checking seen store: %w", err)
	}
	if seen == label {
		return nil
	}
	if seen != "" {
		if err := f.unlearn(ctx, messageID, seen == "spam", msg); err != nil {
			return fmt.Errorf("bayes learn: forgetting opposite label: %w", err)
		}
	}

	tokens := tokenList(Tokenize(msg))
	dSpam, dHam := int64(0), int64(0)
	dMsgSpam, dMsgHam := int64(0), int64(0)
	if isSpam {
		dSpam, dMsgSpam = 1, 1
	} else {
		dHam, dMsgHam = 1, 1
	}
	if err := f.store.ApplyDelta(ctx, tokens, dSpam, dHam, dMsgSpam, dMsgHam); err != nil {
		return fmt.Errorf("bayes learn: applying delta: %w", err)
	}
	return f.store.MarkSeen(ctx, messageID, label)
}

// Forget implements §4.4's forget(): the exact inverse of Learn, looked up
// by the seen store so the caller does not need to pass the original
// label.
func (f *Filter) Forget(ctx context.Context, messageID string, msg *message.Message) error {
	seen, err := f.store.SeenLabel(ctx, messageID)
	if err != nil {
		return fmt.Errorf("bayes forget: checking seen store: %w", err)
	}
	if seen == "" {
		return nil // never learned; nothing to undo
	}
	if err := f.unlearn(ctx, messageID, seen == "spam", msg); err != nil {
		return err
	}
	return f.store.MarkSeen(ctx, messageID, "")
}

func (f *Filter) unlearn(ctx context.Context, messageID string, wasSpam bool, msg *message.Message) error {
	tokens := tokenList(Tokenize(msg))
	dSpam, dHam := int64(0), int64(0)
	dMsgSpam, dMsgHam := int64(0), int64(0)
	if wasSpam {
		dSpam, dMsgSpam = -1, -1
	} else {
		dHam, dMsgHam = -1, -1
	}
	return f.store.ApplyDelta(ctx, tokens, dSpam, dHam, dMsgSpam, dMsgHam)
}

// Scan implements §4.4's scan(): tokenize, discard low-signal tokens,
// select the top 150 by |p-0.5|, and combine. Any store failure is trapped
// and reported as the neutral 0.5, per "any exception during tokenization
// or store access is trapped... scan returns 0.5 (neutral) to the caller."
func (f *Filter) Scan(ctx context.Context, msg *message.Message) float64 {
	p, err := f.scan(ctx, msg)
	if err != nil {
		return 0.5
	}
	return p
}

func (f *Filter) scan(ctx context.Context, msg *message.Message) (float64, error) {
	nspam, nham, err := f.store.Totals(ctx)
	if err != nil {
		return 0, err
	}
	if nspam < minScanCorpus || nham < minScanCorpus {
		return 0.5, nil
	}

	tokens := tokenList(Tokenize(msg))
	counts, err := f.store.GetCounts(ctx, tokens)
	if err != nil {
		return 0, err
	}

	var probs []tokenProb
	for _, tok := range tokens {
		c := counts[tok]
		p, ok := smoothedProbability(c.Spam, c.Ham, nspam, nham, f.params.Combiner, f.params.UseHapaxes)
		if !ok {
			continue
		}
		probs = append(probs, tokenProb{token: tok, p: p})
	}
	probs = selectTopTokens(probs)

	f.maybeExpire(ctx, nspam+nham)
	_ = f.store.TouchAtimes(ctx, tokens, now())

	return combine(f.params.Combiner, probs), nil
}

// maybeExpire runs opportunistic expiry if the configured interval has
// elapsed since the last run (§4.4). Store errors are discarded and nothing
// is returned or logged; expiry is best-effort and must never fail a scan.
func (f *Filter) maybeExpire(ctx context.Context, corpusSize uint64) {
	if f.params.ExpiryInterval <= 0 {
		return
	}
	last, err := f.store.LastExpiry(ctx)
	if err != nil {
		return
	}
	if now().Sub(last) < f.params.ExpiryInterval {
		return
	}
	cutoff := now().Add(-f.params.ExpiryInterval * 4)
	minTokens := f.params.ExpiryMinTokens
	if minTokens == 0 {
		minTokens = 100000
	}
	_, _ = f.store.Expire(ctx, cutoff, minTokens)
	_ = f.store.SetLastExpiry(ctx, now())
}

func tokenList(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for t := range set {
		out = append(out, t)
	}
	return out
}

// now is a seam so tests can stub the clock; production always uses
// time.Now.
var now = time.Now
