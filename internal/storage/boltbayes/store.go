// Package boltbayes implements bayes.TokenStore on top of a local bbolt
// database file, grounded on the bucket/transaction idiom bstore itself
// layers over go.etcd.io/bbolt (vendored in the example pack under
// mjl-/bstore, which this package does not depend on directly).
package boltbayes

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"github.com/mail-cci/spamassassin/internal/bayes"
)

var (
	bucketTokens = []byte("tokens")
	bucketAtimes = []byte("atimes")
	bucketSeen   = []byte("seen")
	bucketMeta   = []byte("meta")

	keyTotals     = []byte("totals")
	keyLastExpiry = []byte("last_expiry")
)

// Store is a bayes.TokenStore backed by a single bbolt file. Reads run in
// bbolt's lock-free View transactions; writes serialize through a single
// Update transaction per call, which is bbolt's native single-writer model
// and satisfies the "serialized write access" requirement without an
// additional mutex.
type Store struct {
	db *bbolt.DB
}

// Open creates or opens the database file at path, creating every bucket
// this store needs if absent.
func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("boltbayes: open %s: %w", path, err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketTokens, bucketAtimes, bucketSeen, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("boltbayes: init buckets: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// encodeCounts produces the 16-byte fixed encoding of one token's (spam,ham)
// counters, stored as the bucket value directly (no JSON/gob overhead).
func encodeCounts(c bayes.Counts) []byte {
	b := make([]byte, 16)
	binary.BigEndian.PutUint64(b[0:8], c.Spam)
	binary.BigEndian.PutUint64(b[8:16], c.Ham)
	return b
}

func decodeCounts(b []byte) bayes.Counts {
	if len(b) != 16 {
		return bayes.Counts{}
	}
	return bayes.Counts{
		Spam: binary.BigEndian.Uint64(b[0:8]),
		Ham:  binary.BigEndian.Uint64(b[8:16]),
	}
}

func encodeTotals(nspam, nham uint64) []byte {
	b := make([]byte, 16)
	binary.BigEndian.PutUint64(b[0:8], nspam)
	binary.BigEndian.PutUint64(b[8:16], nham)
	return b
}

func decodeTotals(b []byte) (nspam, nham uint64) {
	if len(b) != 16 {
		return 0, 0
	}
	return binary.BigEndian.Uint64(b[0:8]), binary.BigEndian.Uint64(b[8:16])
}

func (s *Store) Totals(ctx context.Context) (nspam, nham uint64, err error) {
	err = s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(bucketMeta).Get(keyTotals)
		nspam, nham = decodeTotals(v)
		return nil
	})
	return nspam, nham, err
}

func (s *Store) GetCounts(ctx context.Context, tokens []string) (map[string]bayes.Counts, error) {
	out := make(map[string]bayes.Counts, len(tokens))
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketTokens)
		for _, tok := range tokens {
			if v := b.Get([]byte(tok)); v != nil {
				out[tok] = decodeCounts(v)
			}
		}
		return nil
	})
	return out, err
}

// TouchAtimes writes last-access times to the separate atimes bucket and
// leaves the token counts untouched. It still runs in a bbolt write
// transaction, so it takes the same single writer lock as ApplyDelta.
// Expire reads these atimes to choose which tokens to delete.
func (s *Store) TouchAtimes(ctx context.Context, tokens []string, now time.Time) error {
	ts := make([]byte, 8)
	binary.BigEndian.PutUint64(ts, uint64(now.Unix()))
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketAtimes)
		for _, tok := range tokens {
			if err := b.Put([]byte(tok), ts); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) ApplyDelta(ctx context.Context, tokens []string, dSpam, dHam int64, dMessagesSpam, dMessagesHam int64) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		tb := tx.Bucket(bucketTokens)
		for _, tok := range tokens {
			key := []byte(tok)
			c := decodeCounts(tb.Get(key))
			c.Spam = addClamped(c.Spam, dSpam)
			c.Ham = addClamped(c.Ham, dHam)
			if c.Spam == 0 && c.Ham == 0 {
				if err := tb.Delete(key); err != nil {
					return err
				}
				continue
			}
			if err := tb.Put(key, encodeCounts(c)); err != nil {
				return err
			}
		}
		mb := tx.Bucket(bucketMeta)
		nspam, nham := decodeTotals(mb.Get(keyTotals))
		nspam = addClamped(nspam, dMessagesSpam)
		nham = addClamped(nham, dMessagesHam)
		return mb.Put(keyTotals, encodeTotals(nspam, nham))
	})
}

func addClamped(v uint64, d int64) uint64 {
	if d >= 0 {
		return v + uint64(d)
	}
	dec := uint64(-d)
	if dec > v {
		return 0
	}
	return v - dec
}

func (s *Store) SeenLabel(ctx context.Context, messageID string) (string, error) {
	var label string
	err := s.db.View(func(tx *bbolt.Tx) error {
		label = string(tx.Bucket(bucketSeen).Get([]byte(messageID)))
		return nil
	})
	return label, err
}

func (s *Store) MarkSeen(ctx context.Context, messageID, label string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketSeen)
		if label == "" {
			return b.Delete([]byte(messageID))
		}
		return b.Put([]byte(messageID), []byte(label))
	})
}

// Expire folds the atime journal into deletions: any token in the tokens
// bucket whose journaled atime is older than cutoff (or has no journal
// entry at all, meaning it predates journaling or was never scanned) is
// removed, stopping once minTokens remain (§4.4 "opportunistic expiry").
func (s *Store) Expire(ctx context.Context, cutoff time.Time, minTokens int) (int, error) {
	removed := 0
	err := s.db.Update(func(tx *bbolt.Tx) error {
		tb := tx.Bucket(bucketTokens)
		ab := tx.Bucket(bucketAtimes)

		total := tb.Stats().KeyN
		if total <= minTokens {
			return nil
		}

		var doomed [][]byte
		c := tb.Cursor()
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			if total-len(doomed) <= minTokens {
				break
			}
			av := ab.Get(k)
			if av == nil {
				doomed = append(doomed, append([]byte{}, k...))
				continue
			}
			atime := time.Unix(int64(binary.BigEndian.Uint64(av)), 0)
			if atime.Before(cutoff) {
				doomed = append(doomed, append([]byte{}, k...))
			}
		}
		for _, k := range doomed {
			if err := tb.Delete(k); err != nil {
				return err
			}
			if err := ab.Delete(k); err != nil {
				return err
			}
		}
		removed = len(doomed)
		return nil
	})
	return removed, err
}

func (s *Store) LastExpiry(ctx context.Context) (time.Time, error) {
	var t time.Time
	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(bucketMeta).Get(keyLastExpiry)
		if len(v) == 8 {
			t = time.Unix(int64(binary.BigEndian.Uint64(v)), 0)
		}
		return nil
	})
	return t, err
}

func (s *Store) SetLastExpiry(ctx context.Context, t time.Time) error {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(t.Unix()))
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketMeta).Put(keyLastExpiry, b)
	})
}

var _ bayes.TokenStore = (*Store)(nil)
