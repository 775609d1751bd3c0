package chunk

import (
	"context"
	"fmt"

	"github.com/lib/pq"

	"github.com/onelab-ops/searchpipe/pkg/postgres"
)

// PGStore implements Store over the chunks table.
type PGStore struct {
	client *postgres.Client
}

// NewPGStore creates a chunk store over the given Postgres client.
func NewPGStore(client *postgres.Client) *PGStore {
	return &PGStore{client: client}
}

var _ Store = (*PGStore)(nil)

func (s *PGStore) GetByIDs(ctx context.Context, ids []string) (map[string]Chunk, error) {
	if len(ids) == 0 {
		return map[string]Chunk{}, nil
	}
	rows, err := s.client.DB.QueryContext(ctx, `
		SELECT id, document_id, ordinal, title, body, token_count, updated_at
		FROM chunks
		WHERE id = ANY($1)`,
		pq.Array(ids),
	)
	if err != nil {
		return nil, fmt.Errorf("fetching chunks: %w", err)
	}
	defer rows.Close()

	chunks := make(map[string]Chunk, len(ids))
	for rows.Next() {
		var c Chunk
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.Ordinal, &c.Title, &c.Text, &c.TokenCount, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning chunk row: %w", err)
		}
		chunks[c.ID] = c
	}
	return chunks, rows.Err()
}

func (s *PGStore) ScanAll(ctx context.Context, fn func(Chunk) error) error {
	rows, err := s.client.DB.QueryContext(ctx, `
		SELECT id, document_id, ordinal, title, body, token_count, updated_at
		FROM chunks
		ORDER BY id`,
	)
	if err != nil {
		return fmt.Errorf("scanning chunks: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var c Chunk
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.Ordinal, &c.Title, &c.Text, &c.TokenCount, &c.UpdatedAt); err != nil {
			return fmt.Errorf("scanning chunk row: %w", err)
		}
		if err := fn(c); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (s *PGStore) Count(ctx context.Context) (int, error) {
	var count int
	if err := s.client.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks`).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting chunks: %w", err)
	}
	return count, nil
}
