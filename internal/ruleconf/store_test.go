package ruleconf

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseHeaderRuleAndScore(t *testing.T) {
	s := NewStore()
	Parse(s, "header FOO Subject =~ /\\bwin\\b/i\nscore FOO 2.5\nrequired_hits 5.0\n", false, nil)
	s.Finish()

	r := s.Rule("FOO")
	require.NotNil(t, r)
	assert.Equal(t, KindHeaderRegex, r.Kind)
	assert.Equal(t, [4]float64{2.5, 2.5, 2.5, 2.5}, r.Scores)
	assert.Equal(t, 5.0, s.Settings.RequiredScore)
	assert.True(t, r.Pattern.MatchString("You can WIN today"))
}

func TestDefaultScoreTPrefixAndNice(t *testing.T) {
	s := NewStore()
	Parse(s, "header T_FOO Subject =~ /x/\ntflags BAR nice\nheader BAR Subject =~ /y/\n", false, nil)
	s.Finish()

	assert.Equal(t, 0.01, s.Rule("T_FOO").Scores[0])
	assert.Equal(t, -1.0, s.Rule("BAR").Scores[0])
}

func TestParseHeaderExistsRule(t *testing.T) {
	s := NewStore()
	Parse(s, "header HASFLAG exists:X-Spam-Flag\n", false, nil)
	s.Finish()

	r := s.Rule("HASFLAG")
	require.NotNil(t, r)
	assert.Equal(t, KindHeaderExists, r.Kind)
	assert.Equal(t, "X-Spam-Flag", r.HeaderName)
	assert.Equal(t, 0, s.ErrorCount())
}

func TestSubRuleNotScored(t *testing.T) {
	s := NewStore()
	Parse(s, "header __FOO Subject =~ /win/i\nmeta BAZ __FOO\nscore BAZ 6.0\n", false, nil)
	s.Finish()

	assert.True(t, s.Rule("__FOO").SubRule)
	assert.Equal(t, 6.0, s.Rule("BAZ").Scores[0])
	assert.Equal(t, 0, s.ErrorCount())
}

func TestMetaCycleRejected(t *testing.T) {
	s := NewStore()
	Parse(s, "meta A B\nmeta B A\n", false, nil)
	s.Finish()
	assert.Greater(t, s.ErrorCount(), 0)
}

func TestMetaPriorityRaisedAboveDeps(t *testing.T) {
	s := NewStore()
	Parse(s, "header FOO Subject =~ /x/\nmeta BAZ FOO\n", false, nil)
	s.Rule("FOO").Priority = 10
	s.Finish()
	assert.GreaterOrEqual(t, s.Rule("BAZ").Priority, 10)
}

func TestScoresOnlyRejectsPrivDirectives(t *testing.T) {
	s := NewStore()
	Parse(s, "header FOO Subject =~ /x/\nscore FOO 3\n", true, nil)
	s.Finish()

	r := s.Rule("FOO")
	require.NotNil(t, r)
	assert.Nil(t, r.Pattern, "the privileged header directive must have been rejected")
	assert.Equal(t, 3.0, r.Scores[0], "the unprivileged score directive still applies")
}

func TestAddrlistGlobMatch(t *testing.T) {
	a := NewAddrlists()
	a.Add(WhitelistFrom, "*@example.com")
	assert.True(t, a.Match(WhitelistFrom, "alice@example.com", ""))
	assert.False(t, a.Match(WhitelistFrom, "alice@evil.com", ""))
}

func TestWhitelistFromRcvdRequiresDomain(t *testing.T) {
	a := NewAddrlists()
	a.AddWithRcvd(WhitelistFrom, "alice@example.com", []string{"mx.example.com"})
	assert.False(t, a.Match(WhitelistFrom, "alice@example.com", "Received: from other.net"))
	assert.True(t, a.Match(WhitelistFrom, "alice@example.com", "Received: from mx.example.com"))
}
