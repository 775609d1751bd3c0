package rerank

import (
	"context"
	"strings"

	"github.com/onelab-ops/searchpipe/internal/lexical/token"
)

// HeuristicScorer is the deterministic fallback used when no cross-encoder
// model is configured or the model circuit is open. Identical inputs
// always produce identical scores.
type HeuristicScorer struct{}

// NewHeuristicScorer creates the rule-based scorer.
func NewHeuristicScorer() *HeuristicScorer {
	return &HeuristicScorer{}
}

var _ Scorer = (*HeuristicScorer)(nil)

func (s *HeuristicScorer) Name() string { return "heuristic" }

// ScoreBatch combines term-overlap ratio with a content-quality band. The
// model-only signal contributes nothing here, by contract.
func (s *HeuristicScorer) ScoreBatch(_ context.Context, query string, pairs []Pair) ([]float64, error) {
	queryTerms := token.Terms(query)
	scores := make([]float64, len(pairs))
	for i, p := range pairs {
		overlap := termOverlap(queryTerms, p.Text)
		quality := ContentQuality(p.Text)
		scores[i] = clamp01(0.7*overlap + 0.3*quality)
	}
	return scores, nil
}

// termOverlap is the fraction of distinct query terms present in the text.
func termOverlap(queryTerms []string, text string) float64 {
	if len(queryTerms) == 0 {
		return 0
	}
	textTerms := make(map[string]struct{})
	for _, t := range token.Terms(text) {
		textTerms[t] = struct{}{}
	}
	distinct := make(map[string]struct{}, len(queryTerms))
	matched := 0
	for _, qt := range queryTerms {
		if _, dup := distinct[qt]; dup {
			continue
		}
		distinct[qt] = struct{}{}
		if _, ok := textTerms[qt]; ok {
			matched++
		}
	}
	return float64(matched) / float64(len(distinct))
}

const (
	idealMinChars = 200
	idealMaxChars = 1200
)

// ContentQuality scores a chunk's text on length band and visible
// structure. Chunks inside the ideal band score highest; very short or
// very long chunks taper off linearly.
func ContentQuality(text string) float64 {
	n := len(text)
	var lengthScore float64
	switch {
	case n == 0:
		return 0
	case n < idealMinChars:
		lengthScore = float64(n) / float64(idealMinChars)
	case n <= idealMaxChars:
		lengthScore = 1.0
	default:
		over := float64(n-idealMaxChars) / float64(idealMaxChars*2)
		lengthScore = 1.0 - over
		if lengthScore < 0.3 {
			lengthScore = 0.3
		}
	}

	structure := 0.0
	if strings.Contains(text, "\n- ") || strings.Contains(text, "\n* ") || strings.Contains(text, "\n1.") {
		structure += 0.5
	}
	if strings.Contains(text, "\n#") || strings.Contains(text, "\n\n") {
		structure += 0.5
	}
	return clamp01(0.8*lengthScore + 0.2*structure)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
