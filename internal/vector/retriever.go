// Package vector provides k-nearest-neighbour candidate retrieval over the
// pgvector chunk store, plus the embedding-generator contract.
package vector

import "context"

// Candidate is one chunk returned by similarity search. Similarity is in
// [0,1], higher meaning closer.
type Candidate struct {
	ChunkID    string  `json:"chunk_id"`
	Similarity float64 `json:"similarity"`
}

// Retriever performs a read-only KNN query against the vector store.
type Retriever interface {
	// Search returns up to limit candidates ordered by descending
	// similarity, ties broken by chunk id ascending. A store outage is
	// reported as errors.ErrRetrievalUnavailable; the caller decides
	// whether to degrade to lexical-only search.
	Search(ctx context.Context, embedding []float32, limit int) ([]Candidate, error)
}

// Embedder turns text into a fixed-dimension vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	// Dimension is the width of the vectors Embed produces. Checked
	// against the store at startup.
	Dimension() int
}
