package rules

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mail-cci/spamassassin/internal/message"
	"github.com/mail-cci/spamassassin/internal/ruleconf"
)

func compile(t *testing.T, conf string) *ruleconf.Store {
	t.Helper()
	s := ruleconf.NewStore()
	ruleconf.Parse(s, conf, false, nil)
	s.Finish()
	require.Zero(t, s.ErrorCount(), "unexpected parse errors: %v", s.Warnings())
	return s
}

func TestCheckSingleHeaderRule(t *testing.T) {
	store := compile(t, "header FOO Subject =~ /\\bwin\\b/i\nscore FOO 2.5\nrequired_hits 5.0\n")
	msg := message.Parse([]byte("Subject: You can WIN today\r\n\r\nbody\r\n"))

	eng := NewEngine(store, nil)
	p := eng.Check(context.Background(), msg, false, false)

	assert.Equal(t, 2.5, p.Score())
	assert.False(t, p.Verdict())
	assert.Equal(t, []string{"FOO"}, p.Hits())
}

func TestCheckHeaderExistsRule(t *testing.T) {
	store := compile(t, "header HASFLAG exists:X-Flagged\nscore HASFLAG 3.0\nrequired_hits 5.0\n")
	msg := message.Parse([]byte("Subject: hi\r\nX-Flagged: YES\r\n\r\nbody\r\n"))

	eng := NewEngine(store, nil)
	p := eng.Check(context.Background(), msg, false, false)

	assert.Equal(t, 3.0, p.Score())
	assert.Equal(t, []string{"HASFLAG"}, p.Hits())
}

func TestCheckHeaderExistsRuleMissingHeader(t *testing.T) {
	store := compile(t, "header HASFLAG exists:X-Spam-Flag\nscore HASFLAG 3.0\nrequired_hits 5.0\n")
	msg := message.Parse([]byte("Subject: hi\r\n\r\nbody\r\n"))

	eng := NewEngine(store, nil)
	p := eng.Check(context.Background(), msg, false, false)

	assert.Equal(t, 0.0, p.Score())
	assert.Empty(t, p.Hits())
}

func TestCheckMetaRuleCombinesHits(t *testing.T) {
	conf := `
header FOO Subject =~ /\bwin\b/i
score FOO 2.5
header BAR From =~ /@example\.com/
score BAR 3.0
meta BAZ FOO && BAR
score BAZ 4.0
required_hits 5.0
`
	store := compile(t, conf)
	msg := message.Parse([]byte("Subject: You can WIN today\r\nFrom: a@example.com\r\n\r\nbody\r\n"))

	eng := NewEngine(store, nil)
	p := eng.Check(context.Background(), msg, false, false)

	assert.ElementsMatch(t, []string{"FOO", "BAR", "BAZ"}, p.Hits())
	assert.Equal(t, 9.5, p.Score())
	assert.True(t, p.Verdict())
}

func TestCheckSubRuleSuppressedFromHits(t *testing.T) {
	conf := `
header __FOO Subject =~ /win/i
meta BAZ __FOO
score BAZ 6.0
required_hits 5.0
`
	store := compile(t, conf)
	msg := message.Parse([]byte("Subject: You can WIN today\r\n\r\nbody\r\n"))

	eng := NewEngine(store, nil)
	p := eng.Check(context.Background(), msg, false, false)

	assert.NotContains(t, p.Hits(), "__FOO")
	assert.Contains(t, p.Hits(), "BAZ")
	assert.Equal(t, 6.0, p.Score())
	assert.True(t, p.Verdict())
}

func TestCheckBodyAndUriRegexTests(t *testing.T) {
	conf := `
body BODY_WIN /win a prize/i
score BODY_WIN 3.0
uri URI_EXAMPLE /example\.com\/promo/
score URI_EXAMPLE 2.0
required_hits 4.0
`
	store := compile(t, conf)
	msg := message.Parse([]byte("Subject: hi\r\n\r\nwin a prize at http://example.com/promo today\r\n"))

	eng := NewEngine(store, nil)
	p := eng.Check(context.Background(), msg, false, false)

	assert.ElementsMatch(t, []string{"BODY_WIN", "URI_EXAMPLE"}, p.Hits())
	assert.Equal(t, 5.0, p.Score())
	assert.True(t, p.Verdict())
}

func TestCheckEvalCallbackLocalGroup(t *testing.T) {
	conf := `
header MISSING_TO eval:check_for_missing_to_header()
score MISSING_TO 1.5
required_hits 5.0
`
	store := compile(t, conf)
	msg := message.Parse([]byte("Subject: hi\r\n\r\nbody\r\n"))

	eng := NewEngine(store, nil)
	p := eng.Check(context.Background(), msg, false, false)

	assert.Contains(t, p.Hits(), "MISSING_TO")
	assert.Equal(t, 1.5, p.Score())
}

func TestCheckForShiftedDateUsesEngineClock(t *testing.T) {
	conf := `
header SHIFTED_DATE eval:check_for_shifted_date()
score SHIFTED_DATE 2.0
required_hits 5.0
`
	store := compile(t, conf)
	msg := message.Parse([]byte("Subject: hi\r\nDate: Mon, 2 Jan 2006 15:04:05 +0000\r\n\r\nbody\r\n"))

	eng := NewEngine(store, nil)
	eng.Now = func() time.Time { return time.Date(2006, 1, 2, 15, 4, 5, 0, time.UTC) }
	p := eng.Check(context.Background(), msg, false, false)
	assert.NotContains(t, p.Hits(), "SHIFTED_DATE")

	eng.Now = func() time.Time { return time.Date(2026, 1, 2, 15, 4, 5, 0, time.UTC) }
	p = eng.Check(context.Background(), msg, false, false)
	assert.Contains(t, p.Hits(), "SHIFTED_DATE")
}

func TestCheckRuleErrorDoesNotAbortClassification(t *testing.T) {
	conf := `
header OK_RULE Subject =~ /hi/i
score OK_RULE 1.0
meta BROKEN UNDEFINED_NAME_ + +
score BROKEN 9.0
required_hits 5.0
`
	store := compile(t, conf)
	msg := message.Parse([]byte("Subject: hi\r\n\r\nbody\r\n"))

	eng := NewEngine(store, nil)
	p := eng.Check(context.Background(), msg, false, false)

	assert.Contains(t, p.Hits(), "OK_RULE")
	assert.Equal(t, 1.0, p.Score())
	assert.Equal(t, 1, p.RuleErrors())
}

func TestCheckStopAtThresholdStillRunsLaterNegativeRule(t *testing.T) {
	conf := `
header POS_A Subject =~ /win/i
score POS_A 10.0
priority POS_A 0
header NEG_B X-Whitelisted =~ /yes/i
score NEG_B -8.0
priority NEG_B 5
required_hits 5.0
`
	store := compile(t, conf)
	msg := message.Parse([]byte("Subject: WIN now\r\nX-Whitelisted: yes\r\n\r\nbody\r\n"))

	eng := NewEngine(store, nil)
	eng.StopAtThreshold = true
	p := eng.Check(context.Background(), msg, false, false)

	assert.Contains(t, p.Hits(), "POS_A")
	assert.Contains(t, p.Hits(), "NEG_B")
	assert.Equal(t, 2.0, p.Score())
}
