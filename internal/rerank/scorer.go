// Package rerank scores (query, candidate) pairs with a cross-encoder
// model and combines the result with quality, freshness, and feedback
// signals into the final composite ranking.
//
// The model-or-fallback decision is made once at startup: both ModelScorer
// and HeuristicScorer satisfy Scorer, so calling code never branches on
// model availability.
package rerank

import "context"

// Pair is one candidate to score against a query.
type Pair struct {
	ChunkID string
	Text    string
}

// Scorer scores a bounded batch of candidates against a query. Scores are
// in [0,1], one per input pair, in input order.
type Scorer interface {
	ScoreBatch(ctx context.Context, query string, pairs []Pair) ([]float64, error)
	// Name identifies the scorer for logging and health checks.
	Name() string
}
