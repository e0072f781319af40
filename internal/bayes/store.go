package bayes

import (
	"context"
	"time"
)

// Counts is one token's corpus-wide spam/ham occurrence totals.
type Counts struct {
	Spam uint64
	Ham  uint64
}

// TokenStore is the keyed map store described in §4.4: safe for concurrent
// read access, serialized write access, with an opportunistic-expiry hook
// and a message-id "seen" store for idempotent learn/forget. Implementations
// live in internal/storage/{boltbayes,redisbayes}.
type TokenStore interface {
	// Totals returns the corpus-wide learned message counts.
	Totals(ctx context.Context) (nspam, nham uint64, err error)

	// GetCounts looks up every token's current (spam,ham) counts; a token
	// never learned is simply absent from the result map.
	GetCounts(ctx context.Context, tokens []string) (map[string]Counts, error)

	// TouchAtimes records that the given tokens were read by a scan, for
	// opportunistic expiry, without taking the write lock (§4.4, "scans
	// write only through a side journal").
	TouchAtimes(ctx context.Context, tokens []string, now time.Time) error

	// ApplyDelta adjusts nspam/nham by dMessagesSpam/dMessagesHam and every
	// token's (Spam,Ham) by dSpam/dHam, under the store's write lock,
	// atomically. delta values are ±1 per token per message (Learn
	// applies +1, Forget applies -1).
	ApplyDelta(ctx context.Context, tokens []string, dSpam, dHam int64, dMessagesSpam, dMessagesHam int64) error

	// SeenLabel reports how messageID was last learned ("spam", "ham", or
	// "" if never learned), for learn/forget idempotence.
	SeenLabel(ctx context.Context, messageID string) (string, error)
	// MarkSeen records messageID's current label, or clears it (label "").
	MarkSeen(ctx context.Context, messageID, label string) error

	// Expire removes tokens whose atime is older than cutoff, down to a
	// floor of minTokens remaining, and reports how many were removed
	// (§4.4 "opportunistic expiry").
	Expire(ctx context.Context, cutoff time.Time, minTokens int) (removed int, err error)

	// LastExpiry/SetLastExpiry gate the opportunistic-expiry interval
	// check ("no other expiry lock is active").
	LastExpiry(ctx context.Context) (time.Time, error)
	SetLastExpiry(ctx context.Context, t time.Time) error

	Close() error
}
