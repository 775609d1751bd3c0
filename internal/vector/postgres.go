package vector

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/pgvector/pgvector-go"

	pkgerrors "github.com/onelab-ops/searchpipe/pkg/errors"
	"github.com/onelab-ops/searchpipe/pkg/postgres"
)

// PGRetriever runs cosine KNN queries against the chunks table. The store
// is never written from here.
type PGRetriever struct {
	client *postgres.Client
	logger *slog.Logger
}

// NewPGRetriever creates a retriever over the given Postgres client.
func NewPGRetriever(client *postgres.Client) *PGRetriever {
	return &PGRetriever{
		client: client,
		logger: slog.Default().With("component", "vector-retriever"),
	}
}

var _ Retriever = (*PGRetriever)(nil)

const knnQuery = `
SELECT id, 1 - (embedding <=> $1) AS similarity
FROM chunks
ORDER BY embedding <=> $1 ASC, id ASC
LIMIT $2`

// Search implements Retriever. Cosine distance from pgvector is mapped to
// similarity = 1 - distance; ordering by distance then id keeps ties
// deterministic.
func (r *PGRetriever) Search(ctx context.Context, embedding []float32, limit int) ([]Candidate, error) {
	rows, err := r.client.DB.QueryContext(ctx, knnQuery, pgvector.NewVector(embedding), limit)
	if err != nil {
		r.logger.Error("knn query failed", "error", err)
		return nil, fmt.Errorf("%w: %v", pkgerrors.ErrRetrievalUnavailable, err)
	}
	defer rows.Close()

	candidates := make([]Candidate, 0, limit)
	for rows.Next() {
		var c Candidate
		if err := rows.Scan(&c.ChunkID, &c.Similarity); err != nil {
			return nil, fmt.Errorf("scanning candidate row: %w", err)
		}
		if c.Similarity < 0 {
			c.Similarity = 0
		}
		if c.Similarity > 1 {
			c.Similarity = 1
		}
		candidates = append(candidates, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", pkgerrors.ErrRetrievalUnavailable, err)
	}
	return candidates, nil
}

// VerifyDimension checks that the store's embedding column width matches
// the configured dimension. A mismatch is a deployment error and must stop
// startup; an empty table cannot be checked and passes.
func (r *PGRetriever) VerifyDimension(ctx context.Context, want int) error {
	var got int
	err := r.client.DB.QueryRowContext(ctx,
		`SELECT vector_dims(embedding) FROM chunks LIMIT 1`,
	).Scan(&got)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			r.logger.Warn("chunk store empty, embedding dimension unverified", "configured", want)
			return nil
		}
		return fmt.Errorf("querying embedding dimension: %w", err)
	}
	if got != want {
		return fmt.Errorf("embedding dimension mismatch: store has %d, config expects %d", got, want)
	}
	return nil
}
