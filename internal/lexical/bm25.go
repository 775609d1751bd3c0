package lexical

import (
	"math"
	"sort"

	"github.com/onelab-ops/searchpipe/internal/lexical/token"
)

// ScoredChunk is one chunk with its BM25 score for a query.
type ScoredChunk struct {
	ChunkID string  `json:"chunk_id"`
	Score   float64 `json:"score"`
}

// Scorer computes BM25 scores against a Snapshot. K1 and B are fixed at
// construction; they are corpus tuning constants, not per-call parameters.
type Scorer struct {
	k1 float64
	b  float64
}

// NewScorer creates a Scorer with the given BM25 parameters.
func NewScorer(k1, b float64) *Scorer {
	return &Scorer{k1: k1, b: b}
}

// Score returns every chunk sharing at least one key term with the query,
// with score > 0, descending by score and ties broken by chunk id
// ascending. An empty snapshot yields an empty result, never an error.
func (s *Scorer) Score(snap *Snapshot, keyTerms []string, limit int) []ScoredChunk {
	if snap == nil || snap.DocCount() == 0 {
		return []ScoredChunk{}
	}

	scores := make(map[string]float64)
	seen := make(map[string]struct{}, len(keyTerms))
	for _, raw := range keyTerms {
		term := token.Normalize(raw)
		if term == "" {
			continue
		}
		if _, dup := seen[term]; dup {
			continue
		}
		seen[term] = struct{}{}

		postings := snap.Postings(term)
		if len(postings) == 0 {
			continue
		}
		idf := idf(int64(snap.DocCount()), int64(len(postings)))
		for _, p := range postings {
			scores[p.ChunkID] += idf * s.tfNorm(float64(p.Frequency), float64(snap.Length(p.ChunkID)), snap.AvgLength())
		}
	}

	result := make([]ScoredChunk, 0, len(scores))
	for id, score := range scores {
		if score <= 0 {
			continue
		}
		result = append(result, ScoredChunk{
			ChunkID: id,
			Score:   math.Round(score*10000) / 10000,
		})
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Score != result[j].Score {
			return result[i].Score > result[j].Score
		}
		return result[i].ChunkID < result[j].ChunkID
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result
}

func idf(totalDocs, docFreq int64) float64 {
	numerator := float64(totalDocs) - float64(docFreq) + 0.5
	denominator := float64(docFreq) + 0.5
	return math.Log(numerator/denominator + 1)
}

func (s *Scorer) tfNorm(termFreq, docLength, avgDocLength float64) float64 {
	if avgDocLength == 0 {
		return 0
	}
	lengthRatio := docLength / avgDocLength
	denominator := termFreq + s.k1*(1-s.b+s.b*lengthRatio)
	return (termFreq * (s.k1 + 1)) / denominator
}
