// Package chunk defines the immutable unit of indexed text and the store
// that serves it. Chunks are created by an external ingestion process and
// never mutated here.
package chunk

import (
	"context"
	"time"
)

// Chunk is one retrievable unit of document text. The embedding itself
// stays in the store; the pipeline only needs text and metadata.
type Chunk struct {
	ID         string
	DocumentID string
	Ordinal    int
	Title      string
	Text       string
	TokenCount int
	UpdatedAt  time.Time
}

// Store provides read access to the chunk corpus.
type Store interface {
	// GetByIDs returns the chunks for the given ids, keyed by id. Missing
	// ids are silently absent from the result.
	GetByIDs(ctx context.Context, ids []string) (map[string]Chunk, error)

	// ScanAll streams every chunk to fn in id order. Used by corpus
	// statistics rebuilds; fn returning an error aborts the scan.
	ScanAll(ctx context.Context, fn func(Chunk) error) error

	// Count returns the number of chunks currently indexed.
	Count(ctx context.Context) (int, error)
}
