package bayes

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mail-cci/spamassassin/internal/message"
)

// fakeStore is an in-memory TokenStore, enough to exercise Filter's
// learn/forget/scan contract without a real bbolt or Redis backend.
type fakeStore struct {
	nspam, nham uint64
	counts      map[string]Counts
	seen        map[string]string
	lastExpiry  time.Time
}

func newFakeStore() *fakeStore {
	return &fakeStore{counts: map[string]Counts{}, seen: map[string]string{}}
}

func (s *fakeStore) Totals(ctx context.Context) (uint64, uint64, error) { return s.nspam, s.nham, nil }

func (s *fakeStore) GetCounts(ctx context.Context, tokens []string) (map[string]Counts, error) {
	out := map[string]Counts{}
	for _, t := range tokens {
		if c, ok := s.counts[t]; ok {
			out[t] = c
		}
	}
	return out, nil
}

func (s *fakeStore) TouchAtimes(ctx context.Context, tokens []string, now time.Time) error { return nil }

func (s *fakeStore) ApplyDelta(ctx context.Context, tokens []string, dSpam, dHam int64, dMessagesSpam, dMessagesHam int64) error {
	for _, t := range tokens {
		c := s.counts[t]
		c.Spam = applyDelta(c.Spam, dSpam)
		c.Ham = applyDelta(c.Ham, dHam)
		if c.Spam == 0 && c.Ham == 0 {
			delete(s.counts, t)
		} else {
			s.counts[t] = c
		}
	}
	s.nspam = applyDelta(s.nspam, dMessagesSpam)
	s.nham = applyDelta(s.nham, dMessagesHam)
	return nil
}

func applyDelta(v uint64, d int64) uint64 {
	if d >= 0 {
		return v + uint64(d)
	}
	dec := uint64(-d)
	if dec > v {
		return 0
	}
	return v - dec
}

func (s *fakeStore) SeenLabel(ctx context.Context, messageID string) (string, error) {
	return s.seen[messageID], nil
}

func (s *fakeStore) MarkSeen(ctx context.Context, messageID, label string) error {
	if label == "" {
		delete(s.seen, messageID)
	} else {
		s.seen[messageID] = label
	}
	return nil
}

func (s *fakeStore) Expire(ctx context.Context, cutoff time.Time, minTokens int) (int, error) {
	return 0, nil
}

func (s *fakeStore) LastExpiry(ctx context.Context) (time.Time, error) { return s.lastExpiry, nil }

func (s *fakeStore) SetLastExpiry(ctx context.Context, t time.Time) error {
	s.lastExpiry = t
	return nil
}

func (s *fakeStore) Close() error { return nil }

func testMessage(subject, body string) *message.Message {
	raw := "Subject: " + subject + "\r\nFrom: a@example.com\r\nMessage-ID: <m1@example.com>\r\n\r\n" + body + "\r\n"
	return message.Parse([]byte(raw))
}

func seedCorpus(t *testing.T, f *Filter, store *fakeStore, n int) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < n; i++ {
		msgID := "ham-seed-" + string(rune('a'+i%26)) + string(rune('0'+i/26))
		require.NoError(t, f.Learn(ctx, msgID, false, testMessage("hello there friend", "a routine message about lunch plans")))
	}
	for i := 0; i < n; i++ {
		msgID := "spam-seed-" + string(rune('a'+i%26)) + string(rune('0'+i/26))
		require.NoError(t, f.Learn(ctx, msgID, true, testMessage("WIN cash now", "click here to claim your prize money fast")))
	}
	require.EqualValues(t, n, store.nham)
	require.EqualValues(t, n, store.nspam)
}

func TestLearnIsIdempotentForSameLabel(t *testing.T) {
	store := newFakeStore()
	f := NewFilter(store, Params{Combiner: ChiSquaredCombiner})
	ctx := context.Background()
	msg := testMessage("hello world", "this is a plain message")

	require.NoError(t, f.Learn(ctx, "m1", false, msg))
	snapshot := cloneCounts(store.counts)
	nham := store.nham

	require.NoError(t, f.Learn(ctx, "m1", false, msg))

	assert.Equal(t, nham, store.nham)
	assert.Equal(t, snapshot, store.counts)
}

func TestLearnOppositeLabelForgetsFirst(t *testing.T) {
	store := newFakeStore()
	f := NewFilter(store, Params{Combiner: ChiSquaredCombiner})
	ctx := context.Background()
	msg := testMessage("hello world", "this is a plain message")

	require.NoError(t, f.Learn(ctx, "m1", false, msg))
	require.EqualValues(t, 1, store.nham)
	require.EqualValues(t, 0, store.nspam)

	require.NoError(t, f.Learn(ctx, "m1", true, msg))
	assert.EqualValues(t, 0, store.nham)
	assert.EqualValues(t, 1, store.nspam)
	assert.Equal(t, "spam", store.seen["m1"])
}

func TestLearnForgetRestoresExactCounts(t *testing.T) {
	store := newFakeStore()
	f := NewFilter(store, Params{Combiner: ChiSquaredCombiner})
	ctx := context.Background()
	seedCorpus(t, f, store, minScanCorpus)

	before := cloneCounts(store.counts)
	beforeSpam, beforeHam := store.nspam, store.nham

	msg := testMessage("a brand new distinct subject line", "totally unseen body content here")
	require.NoError(t, f.Learn(ctx, "fresh-1", true, msg))
	require.NoError(t, f.Forget(ctx, "fresh-1", msg))

	assert.Equal(t, beforeSpam, store.nspam)
	assert.Equal(t, beforeHam, store.nham)
	assert.Equal(t, before, store.counts)
	assert.Equal(t, "", store.seen["fresh-1"])
}

func TestForgetWithoutLearnIsNoop(t *testing.T) {
	store := newFakeStore()
	f := NewFilter(store, Params{Combiner: ChiSquaredCombiner})
	ctx := context.Background()
	msg := testMessage("never learned", "body")

	require.NoError(t, f.Forget(ctx, "nope", msg))
	assert.Zero(t, store.nspam)
	assert.Zero(t, store.nham)
}

func TestScanBelowMinimumCorpusIsNeutral(t *testing.T) {
	store := newFakeStore()
	f := NewFilter(store, Params{Combiner: ChiSquaredCombiner})
	ctx := context.Background()

	require.NoError(t, f.Learn(ctx, "only-one", true, testMessage("win now", "prize money")))

	got := f.Scan(ctx, testMessage("win now", "prize money"))
	assert.Equal(t, 0.5, got)
}

func TestScanAtMinimumCorpusScoresSpammyMessageHigh(t *testing.T) {
	store := newFakeStore()
	f := NewFilter(store, Params{Combiner: ChiSquaredCombiner})
	ctx := context.Background()
	seedCorpus(t, f, store, minScanCorpus)

	spammy := testMessage("WIN cash now", "click here to claim your prize money fast")
	hammy := testMessage("hello there friend", "a routine message about lunch plans")

	spamScore := f.Scan(ctx, spammy)
	hamScore := f.Scan(ctx, hammy)

	assert.Greater(t, spamScore, 0.5)
	assert.Less(t, hamScore, 0.5)
}

func TestScanTrapsStoreFailureAsNeutral(t *testing.T) {
	f := NewFilter(failingStore{}, Params{Combiner: ChiSquaredCombiner})
	got := f.Scan(context.Background(), testMessage("subject", "body"))
	assert.Equal(t, 0.5, got)
}

func cloneCounts(m map[string]Counts) map[string]Counts {
	out := make(map[string]Counts, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// failingStore fails every call, to exercise Scan's failure-trap path.
type failingStore struct{}

func (failingStore) Totals(ctx context.Context) (uint64, uint64, error) {
	return 0, 0, assertErr
}
func (failingStore) GetCounts(ctx context.Context, tokens []string) (map[string]Counts, error) {
	return nil, assertErr
}
func (failingStore) TouchAtimes(ctx context.Context, tokens []string, now time.Time) error {
	return assertErr
}
func (failingStore) ApplyDelta(ctx context.Context, tokens []string, dSpam, dHam, dMessagesSpam, dMessagesHam int64) error {
	return assertErr
}
func (failingStore) SeenLabel(ctx context.Context, messageID string) (string, error) {
	return "", assertErr
}
func (failingStore) MarkSeen(ctx context.Context, messageID, label string) error { return assertErr }
func (failingStore) Expire(ctx context.Context, cutoff time.Time, minTokens int) (int, error) {
	return 0, assertErr
}
func (failingStore) LastExpiry(ctx context.Context) (time.Time, error) {
	return time.Time{}, assertErr
}
func (failingStore) SetLastExpiry(ctx context.Context, t time.Time) error { return assertErr }
func (failingStore) Close() error                                        { return nil }

var assertErr = errString("forced failure")

type errString string

func (e errString) Error() string { return string(e) }
