// Package redisbayes implements bayes.TokenStore against Redis, grounded on
// the go-redis client construction the teacher already uses for its DKIM and
// SPF result caches (internal/dkim/dkim.go, internal/spf/spf.go). It
// satisfies "serialized write access" through Redis's own per-key command
// atomicity (HIncrBy) plus pipelined batches, rather than an external lock.
package redisbayes

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/mail-cci/spamassassin/internal/bayes"
)

const (
	keyTotals     = "bayes:totals"
	keyLastExpiry = "bayes:last_expiry"
	fieldSpam     = "s"
	fieldHam      = "h"
	tokenPrefix   = "bayes:tok:"
	atimePrefix   = "bayes:atime:"
	seenPrefix    = "bayes:seen:"
)

// Store is a bayes.TokenStore backed by a Redis server, keying every token's
// (spam,ham) pair as a hash so ApplyDelta's HIncrBy calls never race with a
// concurrent Learn/Forget on the same token.
type Store struct {
	rdb *redis.Client
}

func New(addr string) *Store {
	return &Store{rdb: redis.NewClient(&redis.Options{Addr: addr})}
}

func (s *Store) Close() error { return s.rdb.Close() }

func tokenKey(tok string) string { return tokenPrefix + tok }
func atimeKey(tok string) string { return atimePrefix + tok }
func seenKey(id string) string   { return seenPrefix + id }

func (s *Store) Totals(ctx context.Context) (nspam, nham uint64, err error) {
	vals, err := s.rdb.HGetAll(ctx, keyTotals).Result()
	if err != nil {
		return 0, 0, fmt.Errorf("redisbayes: totals: %w", err)
	}
	nspam = parseUint(vals[fieldSpam])
	nham = parseUint(vals[fieldHam])
	return nspam, nham, nil
}

func parseUint(s string) uint64 {
	v, _ := strconv.ParseUint(s, 10, 64)
	return v
}

func (s *Store) GetCounts(ctx context.Context, tokens []string) (map[string]bayes.Counts, error) {
	out := make(map[string]bayes.Counts, len(tokens))
	if len(tokens) == 0 {
		return out, nil
	}
	pipe := s.rdb.Pipeline()
	cmds := make(map[string]*redis.StringStringMapCmd, len(tokens))
	for _, tok := range tokens {
		cmds[tok] = pipe.HGetAll(ctx, tokenKey(tok))
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, fmt.Errorf("redisbayes: get counts: %w", err)
	}
	for tok, cmd := range cmds {
		vals, err := cmd.Result()
		if err != nil || len(vals) == 0 {
			continue
		}
		out[tok] = bayes.Counts{Spam: parseUint(vals[fieldSpam]), Ham: parseUint(vals[fieldHam])}
	}
	return out, nil
}

func (s *Store) TouchAtimes(ctx context.Context, tokens []string, now time.Time) error {
	if len(tokens) == 0 {
		return nil
	}
	ts := strconv.FormatInt(now.Unix(), 10)
	pipe := s.rdb.Pipeline()
	for _, tok := range tokens {
		pipe.Set(ctx, atimeKey(tok), ts, 0)
	}
	_, err := pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("redisbayes: touch atimes: %w", err)
	}
	return nil
}

func (s *Store) ApplyDelta(ctx context.Context, tokens []string, dSpam, dHam int64, dMessagesSpam, dMessagesHam int64) error {
	pipe := s.rdb.Pipeline()
	for _, tok := range tokens {
		key := tokenKey(tok)
		if dSpam != 0 {
			pipe.HIncrBy(ctx, key, fieldSpam, dSpam)
		}
		if dHam != 0 {
			pipe.HIncrBy(ctx, key, fieldHam, dHam)
		}
	}
	if dMessagesSpam != 0 {
		pipe.HIncrBy(ctx, keyTotals, fieldSpam, dMessagesSpam)
	}
	if dMessagesHam != 0 {
		pipe.HIncrBy(ctx, keyTotals, fieldHam, dMessagesHam)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redisbayes: apply delta: %w", err)
	}
	return s.pruneZeroed(ctx, tokens)
}

// pruneZeroed deletes any token hash that HIncrBy drove down to (0,0), so a
// fully-forgotten token does not linger as an empty hash forever.
func (s *Store) pruneZeroed(ctx context.Context, tokens []string) error {
	if len(tokens) == 0 {
		return nil
	}
	pipe := s.rdb.Pipeline()
	cmds := make(map[string]*redis.StringStringMapCmd, len(tokens))
	for _, tok := range tokens {
		cmds[tok] = pipe.HGetAll(ctx, tokenKey(tok))
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil // best-effort; a leftover empty hash is harmless
	}
	del := s.rdb.Pipeline()
	any := false
	for tok, cmd := range cmds {
		vals, err := cmd.Result()
		if err != nil {
			continue
		}
		if parseUint(vals[fieldSpam]) == 0 && parseUint(vals[fieldHam]) == 0 {
			del.Del(ctx, tokenKey(tok))
			any = true
		}
	}
	if any {
		_, _ = del.Exec(ctx)
	}
	return nil
}

func (s *Store) SeenLabel(ctx context.Context, messageID string) (string, error) {
	v, err := s.rdb.Get(ctx, seenKey(messageID)).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("redisbayes: seen label: %w", err)
	}
	return v, nil
}

func (s *Store) MarkSeen(ctx context.Context, messageID, label string) error {
	if label == "" {
		return s.rdb.Del(ctx, seenKey(messageID)).Err()
	}
	return s.rdb.Set(ctx, seenKey(messageID), label, 0).Err()
}

// Expire scans the token keyspace for entries whose atime key is missing or
// older than cutoff, stopping once minTokens remain. Redis has no native
// "delete oldest N" primitive, so this walks the keyspace with SCAN rather
// than KEYS to avoid blocking the server on a large corpus.
func (s *Store) Expire(ctx context.Context, cutoff time.Time, minTokens int) (int, error) {
	var allTokens []string
	iter := s.rdb.Scan(ctx, 0, tokenPrefix+"*", 1000).Iterator()
	for iter.Next(ctx) {
		allTokens = append(allTokens, iter.Val()[len(tokenPrefix):])
	}
	if err := iter.Err(); err != nil {
		return 0, fmt.Errorf("redisbayes: expire scan: %w", err)
	}
	if len(allTokens) <= minTokens {
		return 0, nil
	}

	removed := 0
	for _, tok := range allTokens {
		if len(allTokens)-removed <= minTokens {
			break
		}
		av, err := s.rdb.Get(ctx, atimeKey(tok)).Result()
		doomed := err == redis.Nil
		if err == nil {
			if ts, perr := strconv.ParseInt(av, 10, 64); perr == nil {
				doomed = time.Unix(ts, 0).Before(cutoff)
			}
		}
		if doomed {
			s.rdb.Del(ctx, tokenKey(tok), atimeKey(tok))
			removed++
		}
	}
	return removed, nil
}

func (s *Store) LastExpiry(ctx context.Context) (time.Time, error) {
	v, err := s.rdb.Get(ctx, keyLastExpiry).Result()
	if err == redis.Nil {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("redisbayes: last expiry: %w", err)
	}
	ts, _ := strconv.ParseInt(v, 10, 64)
	return time.Unix(ts, 0), nil
}

func (s *Store) SetLastExpiry(ctx context.Context, t time.Time) error {
	return s.rdb.Set(ctx, keyLastExpiry, strconv.FormatInt(t.Unix(), 10), 0).Err()
}

var _ bayes.TokenStore = (*Store)(nil)
