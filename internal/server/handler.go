// Package server exposes the retrieval pipeline over HTTP: search, feedback,
// cache operations, analytics, and health probes.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/onelab-ops/searchpipe/internal/analytics"
	"github.com/onelab-ops/searchpipe/internal/analytics/collector"
	"github.com/onelab-ops/searchpipe/internal/answer"
	"github.com/onelab-ops/searchpipe/internal/feedback"
	"github.com/onelab-ops/searchpipe/internal/pipeline"
	pkgerrors "github.com/onelab-ops/searchpipe/pkg/errors"
	"github.com/onelab-ops/searchpipe/pkg/logger"
	"github.com/onelab-ops/searchpipe/pkg/metrics"
	"github.com/onelab-ops/searchpipe/pkg/tracing"
)

// SearchRequest is the POST /api/v1/search body.
type SearchRequest struct {
	Query      string `json:"query"`
	TopK       int    `json:"top_k"`
	SearchMode string `json:"search_mode"`
}

// Source attributes one context passage to its chunk.
type Source struct {
	SourceID   string  `json:"source_id"`
	Title      string  `json:"title"`
	Snippet    string  `json:"snippet"`
	Similarity float64 `json:"similarity"`
	Rank       int     `json:"rank"`
}

// Performance reports request timing.
type Performance struct {
	SearchTimeMs int64 `json:"search_time_ms"`
	TotalTimeMs  int64 `json:"total_time_ms"`
	ResultCount  int   `json:"result_count"`
}

// SearchResponse is the POST /api/v1/search response body.
type SearchResponse struct {
	ResponseText string      `json:"response_text"`
	Sources      []Source    `json:"sources"`
	Performance  Performance `json:"performance"`
}

// cachedResponse is the response-stage cache entry. Degradation flags ride
// along so degraded responses are never stored.
type cachedResponse struct {
	ResponseText string   `json:"response_text"`
	Sources      []Source `json:"sources"`
	SearchTimeMs int64    `json:"search_time_ms"`
	QueryType    string   `json:"query_type"`
	Degraded     bool     `json:"degraded"`
	Fallback     bool     `json:"fallback"`
}

// FeedbackRequest is the POST /api/v1/feedback body.
type FeedbackRequest struct {
	ChunkID string `json:"chunk_id"`
	Helpful bool   `json:"helpful"`
}

// Handler serves the search API.
type Handler struct {
	pipeline   *pipeline.Pipeline
	generator  answer.Generator
	extractive answer.Generator
	feedback   feedback.Store
	cache      *pipeline.StageCache
	collector  *collector.BatchCollector
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

// New creates the API handler. cache, collector, and m may be nil.
func New(
	p *pipeline.Pipeline,
	generator answer.Generator,
	fb feedback.Store,
	cache *pipeline.StageCache,
	events *collector.BatchCollector,
	m *metrics.Metrics,
) *Handler {
	return &Handler{
		pipeline:   p,
		generator:  generator,
		extractive: answer.NewExtractive(),
		feedback:   fb,
		cache:      cache,
		collector:  events,
		metrics:    m,
		logger:     slog.Default().With("component", "search-handler"),
	}
}

func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	log := logger.FromContext(ctx)

	var req SearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	mode, err := pipeline.ParseMode(req.SearchMode)
	if err != nil {
		h.writeError(w, pkgerrors.HTTPStatusCode(err), pkgerrors.ClientMessage(err))
		return
	}
	if req.TopK < 0 {
		h.writeError(w, http.StatusBadRequest, "top_k must be positive")
		return
	}

	requestID := logger.RequestIDFromContext(ctx)
	ctx, span := tracing.StartSpan(ctx, "search", requestID)

	var key string
	if h.cache != nil {
		key = h.cache.Key(pipeline.StageResponse, req.Query, strconv.Itoa(req.TopK), string(mode))
	}
	resp, cacheHit, err := pipeline.CachedStage(ctx, h.cache, pipeline.StageResponse, key, func() (cachedResponse, error) {
		return h.search(ctx, req, mode)
	}, func(resp cachedResponse) bool {
		return !resp.Degraded && !resp.Fallback
	})

	span.SetAttr("cache_hit", cacheHit)
	span.End()
	span.Log()

	latencyMs := time.Since(start).Milliseconds()
	if err != nil {
		log.Error("search failed", "query", req.Query, "error", err)
		h.countQuery(resp.QueryType, "error")
		h.track("search", analytics.SearchEvent{
			Type:      analytics.EventSearch,
			Query:     req.Query,
			Mode:      string(mode),
			LatencyMs: latencyMs,
			Failed:    true,
			Timestamp: time.Now().UTC(),
			RequestID: requestID,
		})
		h.writeError(w, pkgerrors.HTTPStatusCode(err), pkgerrors.ClientMessage(err))
		return
	}

	outcome := "ok"
	switch {
	case resp.Degraded:
		outcome = "degraded"
	case len(resp.Sources) == 0:
		outcome = "empty"
	}
	h.countQuery(resp.QueryType, outcome)
	if h.metrics != nil {
		h.metrics.SearchResultsCount.Observe(float64(len(resp.Sources)))
	}

	log.Info("search completed",
		"query", req.Query,
		"mode", mode,
		"query_type", resp.QueryType,
		"results", len(resp.Sources),
		"cache_hit", cacheHit,
		"degraded", resp.Degraded,
		"latency_ms", latencyMs,
	)
	h.track("search", analytics.SearchEvent{
		Type:           analytics.EventSearch,
		Query:          req.Query,
		QueryType:      resp.QueryType,
		Mode:           string(mode),
		ResultCount:    len(resp.Sources),
		ContextBytes:   len(resp.ResponseText),
		LatencyMs:      latencyMs,
		CacheHit:       cacheHit,
		DegradedVector: resp.Degraded,
		RerankFallback: resp.Fallback,
		Timestamp:      time.Now().UTC(),
		RequestID:      requestID,
	})

	h.writeJSON(w, http.StatusOK, SearchResponse{
		ResponseText: resp.ResponseText,
		Sources:      resp.Sources,
		Performance: Performance{
			SearchTimeMs: resp.SearchTimeMs,
			TotalTimeMs:  latencyMs,
			ResultCount:  len(resp.Sources),
		},
	})
}

// search runs the pipeline and answer generation for one request.
func (h *Handler) search(ctx context.Context, req SearchRequest, mode pipeline.Mode) (cachedResponse, error) {
	result, err := h.pipeline.Run(ctx, pipeline.Request{
		Query: req.Query,
		TopK:  req.TopK,
		Mode:  mode,
	})
	if err != nil {
		return cachedResponse{QueryType: string(result.Query.Type)}, err
	}

	text, err := h.generator.Generate(ctx, result.Query.Raw, result.Context.Text)
	if err != nil {
		// Generation is best-effort; the extractive path always answers.
		h.logger.Warn("answer generation failed, using extractive fallback", "error", err)
		text, _ = h.extractive.Generate(ctx, result.Query.Raw, result.Context.Text)
	}

	sources := make([]Source, 0, len(result.Context.Sources))
	for _, s := range result.Context.Sources {
		sources = append(sources, Source{
			SourceID:   s.SourceID,
			Title:      s.Title,
			Snippet:    s.Snippet,
			Similarity: s.Similarity,
			Rank:       s.Position,
		})
	}

	return cachedResponse{
		ResponseText: text,
		Sources:      sources,
		SearchTimeMs: result.SearchTime.Milliseconds(),
		QueryType:    string(result.Query.Type),
		Degraded:     result.DegradedVector,
		Fallback:     result.RerankFallback,
	}, nil
}

func (h *Handler) Feedback(w http.ResponseWriter, r *http.Request) {
	var req FeedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.ChunkID == "" {
		h.writeError(w, http.StatusBadRequest, "chunk_id is required")
		return
	}

	if err := h.feedback.Record(r.Context(), req.ChunkID, req.Helpful); err != nil {
		h.logger.Error("feedback record failed", "chunk_id", req.ChunkID, "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to record feedback")
		return
	}
	h.track("feedback", analytics.FeedbackEvent{
		Type:      analytics.EventFeedback,
		ChunkID:   req.ChunkID,
		Helpful:   req.Helpful,
		Timestamp: time.Now().UTC(),
	})

	h.writeJSON(w, http.StatusOK, map[string]string{"status": "recorded"})
}

func (h *Handler) CacheStats(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeJSON(w, http.StatusOK, map[string]string{"status": "disabled"})
		return
	}

	hits, misses := h.cache.Stats()
	total := hits + misses
	var hitRate float64
	if total > 0 {
		hitRate = float64(hits) / float64(total) * 100
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"hits":     hits,
		"misses":   misses,
		"total":    total,
		"hit_rate": fmt.Sprintf("%.1f%%", hitRate),
	})
}

func (h *Handler) CacheInvalidate(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeError(w, http.StatusServiceUnavailable, "caching is disabled")
		return
	}

	if err := h.cache.Invalidate(r.Context()); err != nil {
		h.logger.Error("cache invalidation failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, "cache invalidation failed")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{"status": "invalidated"})
}

func (h *Handler) countQuery(queryType, outcome string) {
	if h.metrics == nil {
		return
	}
	if queryType == "" {
		queryType = "unknown"
	}
	h.metrics.SearchQueriesTotal.WithLabelValues(queryType, outcome).Inc()
}

func (h *Handler) track(key string, event any) {
	if h.collector != nil {
		h.collector.Track(key, event)
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
