package boltbayes

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bayes.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestApplyDeltaAndGetCounts(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.ApplyDelta(ctx, []string{"viagra", "hello"}, 1, 0, 1, 0); err != nil {
		t.Fatalf("ApplyDelta: %v", err)
	}
	if err := s.ApplyDelta(ctx, []string{"hello"}, 0, 1, 0, 1); err != nil {
		t.Fatalf("ApplyDelta: %v", err)
	}

	counts, err := s.GetCounts(ctx, []string{"viagra", "hello", "unseen"})
	if err != nil {
		t.Fatalf("GetCounts: %v", err)
	}
	if counts["viagra"].Spam != 1 || counts["viagra"].Ham != 0 {
		t.Errorf("viagra counts = %+v", counts["viagra"])
	}
	if counts["hello"].Spam != 1 || counts["hello"].Ham != 1 {
		t.Errorf("hello counts = %+v", counts["hello"])
	}
	if _, ok := counts["unseen"]; ok {
		t.Errorf("expected unseen token absent, got %+v", counts["unseen"])
	}

	nspam, nham, err := s.Totals(ctx)
	if err != nil {
		t.Fatalf("Totals: %v", err)
	}
	if nspam != 1 || nham != 1 {
		t.Errorf("Totals = (%d,%d), want (1,1)", nspam, nham)
	}
}

func TestApplyDeltaDeletesZeroedToken(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.ApplyDelta(ctx, []string{"oneshot"}, 1, 0, 1, 0); err != nil {
		t.Fatalf("ApplyDelta: %v", err)
	}
	if err := s.ApplyDelta(ctx, []string{"oneshot"}, -1, 0, -1, 0); err != nil {
		t.Fatalf("ApplyDelta: %v", err)
	}

	counts, err := s.GetCounts(ctx, []string{"oneshot"})
	if err != nil {
		t.Fatalf("GetCounts: %v", err)
	}
	if _, ok := counts["oneshot"]; ok {
		t.Errorf("expected zeroed token to be pruned, got %+v", counts["oneshot"])
	}
}

func TestSeenLabelRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	label, err := s.SeenLabel(ctx, "<msg1@example.com>")
	if err != nil {
		t.Fatalf("SeenLabel: %v", err)
	}
	if label != "" {
		t.Errorf("expected empty label before learning, got %q", label)
	}

	if err := s.MarkSeen(ctx, "<msg1@example.com>", "spam"); err != nil {
		t.Fatalf("MarkSeen: %v", err)
	}
	label, err = s.SeenLabel(ctx, "<msg1@example.com>")
	if err != nil {
		t.Fatalf("SeenLabel: %v", err)
	}
	if label != "spam" {
		t.Errorf("got label %q, want spam", label)
	}

	if err := s.MarkSeen(ctx, "<msg1@example.com>", ""); err != nil {
		t.Fatalf("MarkSeen clear: %v", err)
	}
	label, err = s.SeenLabel(ctx, "<msg1@example.com>")
	if err != nil {
		t.Fatalf("SeenLabel: %v", err)
	}
	if label != "" {
		t.Errorf("expected cleared label, got %q", label)
	}
}

func TestExpireRespectsMinTokens(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	tokens := []string{"a", "b", "c", "d"}
	for _, tok := range tokens {
		if err := s.ApplyDelta(ctx, []string{tok}, 1, 0, 1, 0); err != nil {
			t.Fatalf("ApplyDelta: %v", err)
		}
	}
	old := time.Now().Add(-48 * time.Hour)
	if err := s.TouchAtimes(ctx, tokens, old); err != nil {
		t.Fatalf("TouchAtimes: %v", err)
	}

	removed, err := s.Expire(ctx, time.Now().Add(-24*time.Hour), 2)
	if err != nil {
		t.Fatalf("Expire: %v", err)
	}
	if removed != 2 {
		t.Errorf("removed = %d, want 2", removed)
	}

	counts, err := s.GetCounts(ctx, tokens)
	if err != nil {
		t.Fatalf("GetCounts: %v", err)
	}
	if len(counts) != 2 {
		t.Errorf("remaining tokens = %d, want 2", len(counts))
	}
}

func TestLastExpiryRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	zero, err := s.LastExpiry(ctx)
	if err != nil {
		t.Fatalf("LastExpiry: %v", err)
	}
	if !zero.IsZero() {
		t.Errorf("expected zero time before SetLastExpiry, got %v", zero)
	}

	now := time.Now().Truncate(time.Second)
	if err := s.SetLastExpiry(ctx, now); err != nil {
		t.Fatalf("SetLastExpiry: %v", err)
	}
	got, err := s.LastExpiry(ctx)
	if err != nil {
		t.Fatalf("LastExpiry: %v", err)
	}
	if !got.Equal(now) {
		t.Errorf("LastExpiry = %v, want %v", got, now)
	}
}
