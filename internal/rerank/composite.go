package rerank

import (
	"context"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/onelab-ops/searchpipe/internal/chunk"
	"github.com/onelab-ops/searchpipe/internal/fusion"
	"github.com/onelab-ops/searchpipe/pkg/config"
)

// Result is one fully scored candidate: the fused hybrid score augmented
// with the cross-encoder (or fallback) score and the three auxiliary
// signals, combined into the final composite.
type Result struct {
	ChunkID        string  `json:"chunk_id"`
	FusedScore     float64 `json:"fused_score"`
	VectorScore    float64 `json:"vector_score"`
	CrossScore     float64 `json:"cross_score"`
	QualityScore   float64 `json:"quality_score"`
	FreshnessScore float64 `json:"freshness_score"`
	FeedbackScore  float64 `json:"feedback_score"`
	Composite      float64 `json:"composite"`
}

// Ranker applies cross-encoder scoring and composite ranking to the top
// fused candidates. Scorer failures switch the batch to the deterministic
// fallback; the pipeline never fails because a model is down.
type Ranker struct {
	scorer   Scorer
	fallback Scorer
	weights  config.CompositeWeights
	logger   *slog.Logger
}

// NewRanker creates a Ranker. scorer may already be the heuristic scorer
// when no model is configured.
func NewRanker(scorer Scorer, weights config.CompositeWeights) *Ranker {
	return &Ranker{
		scorer:   scorer,
		fallback: NewHeuristicScorer(),
		weights:  weights,
		logger:   slog.Default().With("component", "reranker"),
	}
}

// Rank scores the fused candidates (already ordered by fused rank) and
// returns them descending by composite score. Equal composites keep the
// original fused-rank order, so the full ordering is deterministic.
// The second return reports whether the fallback scorer was used.
func (r *Ranker) Rank(
	ctx context.Context,
	queryText string,
	fused []fusion.Fused,
	chunks map[string]chunk.Chunk,
	feedback map[string]float64,
	now time.Time,
) ([]Result, bool) {
	if len(fused) == 0 {
		return []Result{}, false
	}

	pairs := make([]Pair, len(fused))
	for i, f := range fused {
		pairs[i] = Pair{ChunkID: f.ChunkID, Text: chunks[f.ChunkID].Text}
	}

	usedFallback := false
	crossScores, err := r.scorer.ScoreBatch(ctx, queryText, pairs)
	if err != nil {
		r.logger.Warn("cross-encoder unavailable, using fallback scorer",
			"scorer", r.scorer.Name(),
			"error", err,
		)
		usedFallback = true
		crossScores, _ = r.fallback.ScoreBatch(ctx, queryText, pairs)
	}

	results := make([]Result, len(fused))
	for i, f := range fused {
		c := chunks[f.ChunkID]
		fb, ok := feedback[f.ChunkID]
		if !ok {
			fb = 0.5
		}
		res := Result{
			ChunkID:        f.ChunkID,
			FusedScore:     f.Score,
			VectorScore:    f.VectorScore,
			CrossScore:     crossScores[i],
			QualityScore:   ContentQuality(c.Text),
			FreshnessScore: Freshness(c.UpdatedAt, now),
			FeedbackScore:  fb,
		}
		res.Composite = r.weights.Hybrid*res.FusedScore +
			r.weights.CrossEncoder*res.CrossScore +
			r.weights.Quality*res.QualityScore +
			r.weights.Freshness*res.FreshnessScore +
			r.weights.Feedback*res.FeedbackScore
		results[i] = res
	}

	// Stable sort: input is in fused-rank order, which is the documented
	// tie-break for equal composite scores.
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Composite > results[j].Composite
	})
	return results, usedFallback
}

// freshnessHalfLife is the document age at which the freshness signal
// decays to 0.5.
const freshnessHalfLife = 90 * 24 * time.Hour

// Freshness maps document age to (0,1] with exponential half-life decay.
// Unknown timestamps score a neutral 0.5.
func Freshness(updatedAt time.Time, now time.Time) float64 {
	if updatedAt.IsZero() {
		return 0.5
	}
	age := now.Sub(updatedAt)
	if age <= 0 {
		return 1.0
	}
	return math.Exp2(-float64(age) / float64(freshnessHalfLife))
}
