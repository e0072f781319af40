package ruleconf

import "time"

// Settings holds the non-rule scalar directives described in §6: scoring
// threshold, subject rewriting, report mode, bayes tunables and the
// locale/network toggles. Defaults match the spec's stated defaults.
type Settings struct {
	RequiredScore float64 // required_hits / required_score, default 5.0

	RewriteSubject bool
	SubjectTag     string // default "*****SPAM*****"
	ReportSafe     int    // 0, 1 or 2
	ReportHeader   bool   // splice the mode-0 report into X-Spam-Report instead of the body
	FoldHeaders    bool   // fold generated X-Spam-* headers to 74 columns
	SpamLevelChar  string // one-character stars used to build X-Spam-Level, default "*"

	UseBayes               bool
	BayesPath              string
	BayesFileMode          uint32
	BayesUseHapaxes        bool
	BayesUseChi2Combining  bool
	BayesExpiryMinDBSize   int // default 100000
	BayesExpiryScanCount   int
	BayesIgnoreHeaders     []string
	BayesScoreWeight       float64 // scales the banded BAYES_SPAM/BAYES_HAM pseudo-rule's contribution

	AllowUserRules bool
	SkipRBLChecks  bool
	RBLTimeout     time.Duration

	AutoWhitelistPath           string
	AutoWhitelistFactor         float64
	AutoLearn                   bool
	AutoLearnThresholdSpam      float64
	AutoLearnThresholdNonSpam   float64

	OkLocales   []string
	OkLanguages []string
}

// DefaultSettings returns the settings baseline the spec mandates before
// any configuration text is parsed.
func DefaultSettings() Settings {
	return Settings{
		RequiredScore:        5.0,
		SubjectTag:           "*****SPAM*****",
		ReportSafe:           1,
		FoldHeaders:          true,
		SpamLevelChar:        "*",
		BayesUseHapaxes:      true,
		BayesExpiryMinDBSize: 100000,
		BayesScoreWeight:     3.5,
		AllowUserRules:       false,
	}
}
