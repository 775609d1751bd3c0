// Package fusion combines vector-similarity and BM25 result sets into one
// hybrid ranking signal per candidate chunk.
package fusion

import (
	"fmt"
	"math"
	"sort"

	"github.com/onelab-ops/searchpipe/internal/lexical"
	"github.com/onelab-ops/searchpipe/internal/vector"
)

// Weights are the fusion weights for the two retrieval signals. They must
// be non-negative and sum to 1.0.
type Weights struct {
	Vector  float64
	Lexical float64
}

// DefaultWeights favours the vector signal 0.7 / 0.3.
func DefaultWeights() Weights {
	return Weights{Vector: 0.7, Lexical: 0.3}
}

// Validate rejects weight sets that would distort the fused score scale.
func (w Weights) Validate() error {
	if w.Vector < 0 || w.Lexical < 0 {
		return fmt.Errorf("fusion weights must be non-negative: %+v", w)
	}
	if s := w.Vector + w.Lexical; math.Abs(s-1.0) > 1e-9 {
		return fmt.Errorf("fusion weights must sum to 1.0, got %v", s)
	}
	return nil
}

// Fused is the union record for one chunk across both result sets.
type Fused struct {
	ChunkID      string  `json:"chunk_id"`
	VectorScore  float64 `json:"vector_score"`
	LexicalScore float64 `json:"lexical_score"`
	HasVector    bool    `json:"has_vector"`
	HasLexical   bool    `json:"has_lexical"`
	Score        float64 `json:"score"`
}

// Fuse merges the two result sets for one query. Each score type is
// min-max normalised over the current batch, then combined as
// w.Vector*norm(v) + w.Lexical*norm(l). A chunk present in only one set
// contributes 0 for the missing component; this is a deliberate policy,
// not imputation. Output is descending by fused score with ties broken by
// chunk id ascending.
func Fuse(vec []vector.Candidate, lex []lexical.ScoredChunk, w Weights) []Fused {
	byID := make(map[string]*Fused, len(vec)+len(lex))
	for _, c := range vec {
		byID[c.ChunkID] = &Fused{
			ChunkID:     c.ChunkID,
			VectorScore: c.Similarity,
			HasVector:   true,
		}
	}
	for _, s := range lex {
		f, ok := byID[s.ChunkID]
		if !ok {
			f = &Fused{ChunkID: s.ChunkID}
			byID[s.ChunkID] = f
		}
		f.LexicalScore = s.Score
		f.HasLexical = true
	}

	vecNorm := batchNormalizer(vec, func(c vector.Candidate) float64 { return c.Similarity })
	lexNorm := batchNormalizer(lex, func(s lexical.ScoredChunk) float64 { return s.Score })

	result := make([]Fused, 0, len(byID))
	for _, f := range byID {
		var score float64
		if f.HasVector {
			score += w.Vector * vecNorm(f.VectorScore)
		}
		if f.HasLexical {
			score += w.Lexical * lexNorm(f.LexicalScore)
		}
		f.Score = score
		result = append(result, *f)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Score != result[j].Score {
			return result[i].Score > result[j].Score
		}
		return result[i].ChunkID < result[j].ChunkID
	})
	return result
}

// batchNormalizer returns a min-max normaliser over the observed score
// range of one batch. A degenerate batch (all scores equal) maps to 1.0 so
// a sole retrieval source still ranks its results.
func batchNormalizer[T any](batch []T, score func(T) float64) func(float64) float64 {
	if len(batch) == 0 {
		return func(float64) float64 { return 0 }
	}
	min, max := score(batch[0]), score(batch[0])
	for _, item := range batch[1:] {
		s := score(item)
		if s < min {
			min = s
		}
		if s > max {
			max = s
		}
	}
	if max == min {
		return func(float64) float64 { return 1.0 }
	}
	span := max - min
	return func(s float64) float64 { return (s - min) / span }
}
