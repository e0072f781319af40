package bayes

import (
	"math"
	"sort"
)

// Combiner names the active probability-combining strategy (§4.4).
type Combiner int

const (
	// NaiveCombiner is SpamAssassin's original Fisher-ish naive combiner.
	NaiveCombiner Combiner = iota
	// ChiSquaredCombiner is the chi-squared combiner, the default in
	// modern configurations.
	ChiSquaredCombiner
)

// robinsonConstants holds the s (strength) and x (assumed probability of an
// unknown word) constants for Robinson's f(w) smoothing, which differ
// between the two combiners (§4.4).
type robinsonConstants struct{ s, x float64 }

var constantsFor = map[Combiner]robinsonConstants{
	NaiveCombiner:      {s: 0.160, x: 0.600},
	ChiSquaredCombiner: {s: 0.373, x: 0.538},
}

const (
	minScanCorpus = 200
	maxTopTokens  = 150
	probClampLo   = 0.001
	probClampHi   = 0.999
)

// tokenProb is one token and the smoothed probability derived from its
// (spam,ham) counts, kept together so top-150 selection and tie-breaking can
// both read from it.
type tokenProb struct {
	token string
	p     float64
}

// smoothedProbability computes p' for one token per §4.4: p =
// ratio_spam/(ratio_spam+ratio_ham), then Robinson's f(w) smoothing, then
// clamp to [0.001, 0.999]. hapaxOK disables the "spam+ham < 2" discard.
func smoothedProbability(spam, ham uint64, nspam, nham uint64, combiner Combiner, hapaxOK bool) (p float64, ok bool) {
	if !hapaxOK && spam+ham < 2 {
		return 0, false
	}
	var ratioSpam, ratioHam float64
	if nspam > 0 {
		ratioSpam = float64(spam) / float64(nspam)
	}
	if nham > 0 {
		ratioHam = float64(ham) / float64(nham)
	}
	if ratioSpam+ratioHam == 0 {
		return 0, false
	}
	raw := ratioSpam / (ratioSpam + ratioHam)

	c := constantsFor[combiner]
	n := float64(spam + ham)
	smoothed := (c.s*c.x + n*raw) / (c.s + n)

	if smoothed < probClampLo {
		smoothed = probClampLo
	} else if smoothed > probClampHi {
		smoothed = probClampHi
	}
	return smoothed, true
}

// selectTopTokens keeps the 150 tokens whose |p-0.5| is largest, tie-broken
// by bytewise-ascending token name for determinism (§9 Open Question b).
func selectTopTokens(probs []tokenProb) []tokenProb {
	sort.Slice(probs, func(i, j int) bool {
		di, dj := math.Abs(probs[i].p-0.5), math.Abs(probs[j].p-0.5)
		if di != dj {
			return di > dj
		}
		return probs[i].token < probs[j].token
	})
	if len(probs) > maxTopTokens {
		probs = probs[:maxTopTokens]
	}
	return probs
}

// combine runs the selected combiner over the (already top-150-filtered)
// token probabilities and returns the final spam probability (§4.4).
func combine(combiner Combiner, probs []tokenProb) float64 {
	if len(probs) == 0 {
		return 0.5
	}
	switch combiner {
	case ChiSquaredCombiner:
		return combineChiSquared(probs)
	default:
		return combineNaive(probs)
	}
}

func combineNaive(probs []tokenProb) float64 {
	n := float64(len(probs))
	var logH, logS float64
	for _, t := range probs {
		logH += math.Log(1 - t.p)
		logS += math.Log(t.p)
	}
	h := 1 - math.Exp(logH/n)
	s := 1 - math.Exp(logS/n)
	if h+s == 0 {
		return 0.5
	}
	return (1 + (h-s)/(h+s)) / 2
}

// combineChiSquared implements the chi-squared combiner: accumulate
// log-domain products of p' and 1-p', then convert to chi-squared survival
// probabilities (§4.4). Working entirely in log space makes the classic
// "rescale the running product when it underflows" trick unnecessary.
func combineChiSquared(probs []tokenProb) float64 {
	n := len(probs)
	var lnS, lnH float64
	for _, t := range probs {
		lnS += math.Log(t.p)
		lnH += math.Log(1 - t.p)
	}
	x2S := -2 * lnS
	x2H := -2 * lnH
	qs := 1 - chi2q(x2S, 2*n)
	qh := 1 - chi2q(x2H, 2*n)
	return ((qs - qh) + 1) / 2
}

// chi2q is the right-tail (survival) probability of the chi-squared
// distribution with an even number of degrees of freedom v, computed via
// the closed-form sum of Poisson terms (§4.4).
func chi2q(x2 float64, v int) float64 {
	if x2 <= 0 {
		return 1
	}
	m := x2 / 2
	term := math.Exp(-m)
	sum := term
	for i := 1; i < v/2; i++ {
		term *= m / float64(i)
		sum += term
	}
	if sum > 1 {
		return 1
	}
	if sum < 0 {
		return 0
	}
	return sum
}
