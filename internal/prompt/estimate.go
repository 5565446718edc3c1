package prompt

import (
	"math"
	"strings"

	"github.com/flemzord/tierllm/internal/history"
)

// turnOverhead approximates the role header and delimiters around a turn.
const turnOverhead = 4

// TokenEstimator estimates the token count of a string.
type TokenEstimator interface {
	Estimate(text string) int
}

// CharEstimator estimates tokens using a characters-per-token ratio.
// A ratio of ~4 works well for English.
type CharEstimator struct {
	CharsPerToken float64
}

// NewCharEstimator creates a CharEstimator. A ratio <= 0 defaults to 4.
func NewCharEstimator(charsPerToken float64) *CharEstimator {
	if charsPerToken <= 0 {
		charsPerToken = 4.0
	}
	return &CharEstimator{CharsPerToken: charsPerToken}
}

// Estimate implements TokenEstimator. It rounds up.
func (e *CharEstimator) Estimate(text string) int {
	if len(text) == 0 {
		return 0
	}
	return int(float64(len(text))/e.CharsPerToken) + 1
}

// WordEstimator counts whitespace-separated words times a factor, 1.3 by
// default.
type WordEstimator struct {
	TokensPerWord float64
}

// Estimate implements TokenEstimator.
func (e WordEstimator) Estimate(text string) int {
	factor := e.TokensPerWord
	if factor <= 0 {
		factor = 1.3
	}
	return int(math.Ceil(float64(len(strings.Fields(text))) * factor))
}

// EstimateTurns returns the estimated tokens for a run of turns, including
// per-turn overhead.
func EstimateTurns(estimator TokenEstimator, turns []history.Turn) int {
	total := 0
	for _, t := range turns {
		total += turnOverhead + estimator.Estimate(t.Content)
	}
	return total
}
