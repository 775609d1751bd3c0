package rerank

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/onelab-ops/searchpipe/pkg/config"
	pkgerrors "github.com/onelab-ops/searchpipe/pkg/errors"
	"github.com/onelab-ops/searchpipe/pkg/resilience"
)

// ModelScorer scores pairs through an external cross-encoder inference
// service. Calls are bounded by the configured timeout and guarded by a
// circuit breaker; any failure is reported as ErrRerankModelUnavailable so
// the caller can fall back to heuristic scoring.
type ModelScorer struct {
	endpoint string
	model    string
	cfg      config.RerankConfig
	client   *http.Client
	breaker  *resilience.CircuitBreaker
	logger   *slog.Logger
}

// NewModelScorer creates a scorer for the given rerank service endpoint.
func NewModelScorer(cfg config.RerankConfig) *ModelScorer {
	return &ModelScorer{
		endpoint: cfg.Endpoint,
		model:    cfg.Model,
		cfg:      cfg,
		client:   &http.Client{Timeout: cfg.Timeout},
		breaker: resilience.NewCircuitBreaker("rerank-model", resilience.CircuitBreakerConfig{
			FailureThreshold: cfg.FailureThreshold,
			ResetTimeout:     cfg.ResetTimeout,
		}),
		logger: slog.Default().With("component", "rerank-model"),
	}
}

var _ Scorer = (*ModelScorer)(nil)

func (s *ModelScorer) Name() string { return "cross-encoder:" + s.model }

type rerankRequest struct {
	Model string       `json:"model"`
	Query string       `json:"query"`
	Pairs []rerankPair `json:"pairs"`
}

type rerankPair struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

type rerankResponse struct {
	Scores []float64 `json:"scores"`
}

// ScoreBatch sends one batched scoring call per invocation. Batches larger
// than the configured maximum are split; pair order is preserved.
func (s *ModelScorer) ScoreBatch(ctx context.Context, query string, pairs []Pair) ([]float64, error) {
	scores := make([]float64, 0, len(pairs))
	batchSize := s.cfg.MaxBatchSize
	if batchSize <= 0 {
		batchSize = 20
	}
	for start := 0; start < len(pairs); start += batchSize {
		end := start + batchSize
		if end > len(pairs) {
			end = len(pairs)
		}
		batch, err := s.scoreOne(ctx, query, pairs[start:end])
		if err != nil {
			return nil, err
		}
		scores = append(scores, batch...)
	}
	return scores, nil
}

func (s *ModelScorer) scoreOne(ctx context.Context, query string, pairs []Pair) ([]float64, error) {
	reqPairs := make([]rerankPair, len(pairs))
	for i, p := range pairs {
		reqPairs[i] = rerankPair{ID: p.ChunkID, Text: p.Text}
	}
	body, err := json.Marshal(rerankRequest{Model: s.model, Query: query, Pairs: reqPairs})
	if err != nil {
		return nil, fmt.Errorf("marshaling rerank request: %w", err)
	}

	var scores []float64
	err = s.breaker.Execute(func() error {
		return resilience.WithTimeout(ctx, s.cfg.Timeout, "rerank-model", func(ctx context.Context) error {
			req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
			if err != nil {
				return err
			}
			req.Header.Set("Content-Type", "application/json")

			resp, err := s.client.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("rerank service returned %d", resp.StatusCode)
			}

			var parsed rerankResponse
			if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
				return fmt.Errorf("decoding rerank response: %w", err)
			}
			if len(parsed.Scores) != len(pairs) {
				return fmt.Errorf("rerank service returned %d scores for %d pairs", len(parsed.Scores), len(pairs))
			}
			scores = parsed.Scores
			return nil
		})
	})
	if err != nil {
		s.logger.Warn("model scoring failed", "pairs", len(pairs), "error", err)
		return nil, fmt.Errorf("%w: %v", pkgerrors.ErrRerankModelUnavailable, err)
	}
	for i, v := range scores {
		scores[i] = clamp01(v)
	}
	return scores, nil
}

// Ping checks reachability of the rerank service for health reporting.
func (s *ModelScorer) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.endpoint+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode >= 500 {
		return fmt.Errorf("rerank service unhealthy: %d", resp.StatusCode)
	}
	return nil
}
