// Package sentiment scores text with the VADER lexicon and memoizes results
// by exact text, since the collector scores the same entries repeatedly while
// assembling summaries.
package sentiment

import (
	"sync"

	"github.com/jonreiter/govader"
)

// Compound thresholds for labeling, per the VADER authors' recommendation.
const (
	positiveThreshold = 0.05
	negativeThreshold = -0.05
)

// Analyzer wraps a VADER analyzer with an exact-text memo. The memo grows
// unboundedly between Reset calls; callers clear it once per subreddit scan
// rather than maintaining an eviction policy.
type Analyzer struct {
	mu       sync.Mutex
	analyzer *govader.SentimentIntensityAnalyzer
	memo     map[string]float64
}

// New creates an analyzer with an empty memo.
func New() *Analyzer {
	return &Analyzer{
		analyzer: govader.NewSentimentIntensityAnalyzer(),
		memo:     make(map[string]float64),
	}
}

// Compound returns the compound polarity of text in [-1, 1].
func (a *Analyzer) Compound(text string) float64 {
	a.mu.Lock()
	defer a.mu.Unlock()

	if score, ok := a.memo[text]; ok {
		return score
	}
	score := a.analyzer.PolarityScores(text).Compound
	a.memo[text] = score
	return score
}

// Label maps text to "positive", "neutral" or "negative".
func (a *Analyzer) Label(text string) string {
	return LabelFor(a.Compound(text))
}

// LabelFor maps a compound score to its label.
func LabelFor(compound float64) string {
	switch {
	case compound >= positiveThreshold:
		return "positive"
	case compound <= negativeThreshold:
		return "negative"
	default:
		return "neutral"
	}
}

// Reset clears the memo.
func (a *Analyzer) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.memo = make(map[string]float64)
}

// MemoSize returns the current number of memoized texts.
func (a *Analyzer) MemoSize() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.memo)
}
