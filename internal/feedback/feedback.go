// Package feedback stores per-chunk user-feedback aggregates that feed the
// composite ranking score. Chunks with no recorded feedback score a
// neutral 0.5.
package feedback

import (
	"context"
	"fmt"

	"github.com/lib/pq"

	"github.com/onelab-ops/searchpipe/pkg/postgres"
)

// Neutral is the score assumed for chunks with no feedback.
const Neutral = 0.5

// Store reads and records user feedback.
type Store interface {
	// Scores returns feedback scores in [0,1] for the given chunk ids.
	// Missing ids are absent from the map; callers substitute Neutral.
	Scores(ctx context.Context, chunkIDs []string) (map[string]float64, error)

	// Record registers one helpful / not-helpful vote for a chunk.
	Record(ctx context.Context, chunkID string, helpful bool) error
}

// PGStore implements Store over the chunk_feedback table.
type PGStore struct {
	client *postgres.Client
}

// NewPGStore creates a feedback store over the given Postgres client.
func NewPGStore(client *postgres.Client) *PGStore {
	return &PGStore{client: client}
}

var _ Store = (*PGStore)(nil)

// Scores computes a Laplace-smoothed helpfulness ratio per chunk:
// (positive+1)/(total+2). With zero votes this is exactly Neutral, so the
// smoothing also covers freshly voted chunks gracefully.
func (s *PGStore) Scores(ctx context.Context, chunkIDs []string) (map[string]float64, error) {
	if len(chunkIDs) == 0 {
		return map[string]float64{}, nil
	}
	rows, err := s.client.DB.QueryContext(ctx, `
		SELECT chunk_id, positive_votes, total_votes
		FROM chunk_feedback
		WHERE chunk_id = ANY($1)`,
		pq.Array(chunkIDs),
	)
	if err != nil {
		return nil, fmt.Errorf("fetching feedback: %w", err)
	}
	defer rows.Close()

	scores := make(map[string]float64)
	for rows.Next() {
		var id string
		var positive, total int
		if err := rows.Scan(&id, &positive, &total); err != nil {
			return nil, fmt.Errorf("scanning feedback row: %w", err)
		}
		scores[id] = float64(positive+1) / float64(total+2)
	}
	return scores, rows.Err()
}

func (s *PGStore) Record(ctx context.Context, chunkID string, helpful bool) error {
	positive := 0
	if helpful {
		positive = 1
	}
	_, err := s.client.DB.ExecContext(ctx, `
		INSERT INTO chunk_feedback (chunk_id, positive_votes, total_votes)
		VALUES ($1, $2, 1)
		ON CONFLICT (chunk_id) DO UPDATE SET
			positive_votes = chunk_feedback.positive_votes + EXCLUDED.positive_votes,
			total_votes = chunk_feedback.total_votes + 1`,
		chunkID, positive,
	)
	if err != nil {
		return fmt.Errorf("recording feedback for chunk %s: %w", chunkID, err)
	}
	return nil
}
