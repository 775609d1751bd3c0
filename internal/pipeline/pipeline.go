// Package pipeline orchestrates the retrieval stages: query processing,
// parallel vector and lexical retrieval, score fusion, cross-encoder
// reranking, and context assembly. Each stage is pure given its inputs;
// caching between stages changes latency, never results.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/onelab-ops/searchpipe/internal/assemble"
	"github.com/onelab-ops/searchpipe/internal/chunk"
	"github.com/onelab-ops/searchpipe/internal/feedback"
	"github.com/onelab-ops/searchpipe/internal/fusion"
	"github.com/onelab-ops/searchpipe/internal/lexical"
	"github.com/onelab-ops/searchpipe/internal/query"
	"github.com/onelab-ops/searchpipe/internal/rerank"
	"github.com/onelab-ops/searchpipe/internal/vector"
	"github.com/onelab-ops/searchpipe/pkg/config"
	pkgerrors "github.com/onelab-ops/searchpipe/pkg/errors"
	"github.com/onelab-ops/searchpipe/pkg/metrics"
	"github.com/onelab-ops/searchpipe/pkg/resilience"
	"github.com/onelab-ops/searchpipe/pkg/tracing"
)

// State is the orchestrator's position in the stage sequence. Failed is
// reachable from any state.
type State string

const (
	StateReceived  State = "received"
	StateProcessed State = "processed"
	StateRetrieved State = "retrieved"
	StateFused     State = "fused"
	StateReranked  State = "reranked"
	StateAssembled State = "assembled"
	StateDone      State = "done"
	StateFailed    State = "failed"
)

// Mode selects retrieval depth and reranking strategy.
type Mode string

const (
	// ModeBasic is vector-only retrieval with heuristic reranking.
	ModeBasic Mode = "basic"
	// ModeHybrid is the full vector+lexical pipeline.
	ModeHybrid Mode = "hybrid"
	// ModeComprehensive widens the candidate pool and rerank depth.
	ModeComprehensive Mode = "comprehensive"
)

// ParseMode validates a request's search_mode string. Empty selects hybrid.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "":
		return ModeHybrid, nil
	case ModeBasic, ModeHybrid, ModeComprehensive:
		return Mode(s), nil
	default:
		return "", pkgerrors.Newf(pkgerrors.ErrInvalidInput, 400, "unknown search_mode %q", s)
	}
}

// Request is one pipeline invocation.
type Request struct {
	Query string
	TopK  int
	Mode  Mode
}

// Result is the pipeline's output: the ranked sources and the assembled
// context, plus degradation flags for logging and analytics.
type Result struct {
	Query          query.Query
	State          State
	Mode           Mode
	Results        []rerank.Result
	Chunks         map[string]chunk.Chunk
	Context        assemble.Context
	DegradedVector bool
	RerankFallback bool
	SearchTime     time.Duration
}

// retrievalOutput is the cacheable product of the Retrieved stage.
type retrievalOutput struct {
	Vector     []vector.Candidate    `json:"vector"`
	Lexical    []lexical.ScoredChunk `json:"lexical"`
	VectorDown bool                  `json:"vector_down"`
}

// Pipeline wires the stage components together.
type Pipeline struct {
	embedder  vector.Embedder
	retriever vector.Retriever
	corpus    *lexical.Provider
	bm25      *lexical.Scorer
	chunks    chunk.Store
	feedback  feedback.Store
	ranker    *rerank.Ranker
	basic     *rerank.Ranker
	weights   fusion.Weights
	cfg       config.PipelineConfig
	cache     *StageCache
	metrics   *metrics.Metrics
	logger    *slog.Logger
	now       func() time.Time
}

// New creates a Pipeline. cache and m may be nil; scorer is the
// startup-selected cross-encoder or heuristic scorer.
func New(
	embedder vector.Embedder,
	retriever vector.Retriever,
	corpus *lexical.Provider,
	chunks chunk.Store,
	fb feedback.Store,
	scorer rerank.Scorer,
	cfg config.PipelineConfig,
	lexCfg config.LexicalConfig,
	cache *StageCache,
	m *metrics.Metrics,
) *Pipeline {
	return &Pipeline{
		embedder:  embedder,
		retriever: retriever,
		corpus:    corpus,
		bm25:      lexical.NewScorer(lexCfg.K1, lexCfg.B),
		chunks:    chunks,
		feedback:  fb,
		ranker:    rerank.NewRanker(scorer, cfg.Composite),
		basic:     rerank.NewRanker(rerank.NewHeuristicScorer(), cfg.Composite),
		weights:   fusion.Weights{Vector: cfg.VectorWeight, Lexical: cfg.LexicalWeight},
		cfg:       cfg,
		cache:     cache,
		metrics:   m,
		logger:    slog.Default().With("component", "pipeline"),
		now:       time.Now,
	}
}

// Run executes the full stage sequence for one request. Partial retrieval
// failure degrades; only total failure or invalid input returns an error.
func (p *Pipeline) Run(ctx context.Context, req Request) (*Result, error) {
	start := p.now()
	result := &Result{State: StateReceived, Mode: req.Mode}

	// Received -> Processed
	q, err := p.processStage(ctx, req.Query)
	if err != nil {
		result.State = StateFailed
		return result, err
	}
	result.Query = q
	result.State = StateProcessed

	topK := req.TopK
	if topK <= 0 {
		topK = p.cfg.DefaultTopK
	}
	if topK > p.cfg.MaxTopK {
		topK = p.cfg.MaxTopK
	}
	candidates, depth := p.depthFor(req.Mode)

	// Processed -> Retrieved
	retrieved, err := p.retrieveStage(ctx, q, req.Mode, candidates)
	if err != nil {
		result.State = StateFailed
		return result, err
	}
	result.DegradedVector = retrieved.VectorDown
	result.State = StateRetrieved

	// Retrieved -> Fused
	fused := p.fuseStage(ctx, retrieved, depth)
	result.State = StateFused

	// Fused -> Reranked
	ranked, chunks, fellBack := p.rerankStage(ctx, q, req.Mode, fused)
	if len(ranked) > topK {
		ranked = ranked[:topK]
	}
	result.Results = ranked
	result.Chunks = chunks
	result.RerankFallback = fellBack
	result.State = StateReranked

	// Reranked -> Assembled. Empty results assemble an empty context;
	// that is a valid terminal state, not an error.
	result.Context = p.assembleStage(ctx, ranked, chunks)
	result.State = StateAssembled

	result.SearchTime = p.now().Sub(start)
	result.State = StateDone
	return result, nil
}

func (p *Pipeline) processStage(ctx context.Context, raw string) (query.Query, error) {
	defer p.observe("process", p.now())
	_, span := tracing.StartChildSpan(ctx, "query-process")
	defer span.End()
	return query.Process(raw)
}

// retrieveStage runs vector and lexical retrieval concurrently. Vector
// failure marks the output degraded; the request only fails when no
// retrieval source can serve it at all.
func (p *Pipeline) retrieveStage(ctx context.Context, q query.Query, mode Mode, candidates int) (retrievalOutput, error) {
	defer p.observe("retrieve", p.now())
	ctx, span := tracing.StartChildSpan(ctx, "retrieve")
	defer span.End()

	snap := p.corpus.Snapshot()
	key := p.cacheKey(StageRetrieval, q.Expanded, string(mode), strconv.Itoa(candidates), strconv.FormatInt(snap.Version(), 10))

	out, cached, err := CachedStage(ctx, p.cache, StageRetrieval, key, func() (retrievalOutput, error) {
		return p.retrieve(ctx, q, mode, candidates, snap)
	}, func(out retrievalOutput) bool {
		return !out.VectorDown
	})
	if err != nil {
		return retrievalOutput{}, err
	}
	if cached {
		p.countCache(StageRetrieval, true)
	} else {
		p.countCache(StageRetrieval, false)
	}
	span.SetAttr("vector_candidates", len(out.Vector))
	span.SetAttr("lexical_candidates", len(out.Lexical))
	return out, nil
}

func (p *Pipeline) retrieve(ctx context.Context, q query.Query, mode Mode, candidates int, snap *lexical.Snapshot) (retrievalOutput, error) {
	var out retrievalOutput
	g, gctx := errgroup.WithContext(ctx)

	var vecCandidates []vector.Candidate
	var vecErr error
	g.Go(func() error {
		vecErr = resilience.WithTimeout(gctx, p.cfg.RetrievalTimeout, "vector-search", func(ctx context.Context) error {
			embedding, err := p.embedder.Embed(ctx, q.Expanded)
			if err != nil {
				return fmt.Errorf("embedding query: %w", err)
			}
			vecCandidates, err = p.retriever.Search(ctx, embedding, candidates)
			return err
		})
		// Vector errors degrade rather than fail; surfaced via VectorDown.
		return nil
	})

	var lexScored []lexical.ScoredChunk
	if mode != ModeBasic {
		g.Go(func() error {
			lexScored = p.bm25.Score(snap, q.KeyTerms, candidates)
			return nil
		})
	}
	_ = g.Wait()

	if vecErr != nil {
		p.logger.Warn("vector retrieval unavailable, degrading",
			"query", q.Raw,
			"error", vecErr,
		)
		p.countDegraded("vector")
		out.VectorDown = true
		if mode == ModeBasic || !p.corpus.Ready() {
			return out, pkgerrors.ErrTotalRetrievalFailure
		}
	}
	out.Vector = vecCandidates
	out.Lexical = lexScored
	if out.Vector == nil {
		out.Vector = []vector.Candidate{}
	}
	if out.Lexical == nil {
		out.Lexical = []lexical.ScoredChunk{}
	}
	return out, nil
}

func (p *Pipeline) fuseStage(ctx context.Context, retrieved retrievalOutput, depth int) []fusion.Fused {
	defer p.observe("fuse", p.now())
	_, span := tracing.StartChildSpan(ctx, "fuse")
	defer span.End()

	fused := fusion.Fuse(retrieved.Vector, retrieved.Lexical, p.weights)
	top := fusion.SelectTop(fused, depth)
	span.SetAttr("candidates", len(fused))
	span.SetAttr("selected", len(top))
	return top
}

func (p *Pipeline) rerankStage(ctx context.Context, q query.Query, mode Mode, fused []fusion.Fused) ([]rerank.Result, map[string]chunk.Chunk, bool) {
	defer p.observe("rerank", p.now())
	ctx, span := tracing.StartChildSpan(ctx, "rerank")
	defer span.End()

	if len(fused) == 0 {
		return []rerank.Result{}, map[string]chunk.Chunk{}, false
	}

	ids := make([]string, len(fused))
	for i, f := range fused {
		ids[i] = f.ChunkID
	}
	chunks, err := p.chunks.GetByIDs(ctx, ids)
	if err != nil {
		// Without chunk text there is nothing to rerank against; keep
		// fused ordering with empty auxiliary signals.
		p.logger.Error("chunk fetch failed, keeping fused order", "error", err)
		chunks = map[string]chunk.Chunk{}
	}

	fb, err := p.feedback.Scores(ctx, ids)
	if err != nil {
		p.logger.Warn("feedback fetch failed, using neutral scores", "error", err)
		fb = map[string]float64{}
	}

	ranker := p.ranker
	if mode == ModeBasic {
		ranker = p.basic
	}
	ranked, fellBack := ranker.Rank(ctx, q.Raw, fused, chunks, fb, p.now())
	if fellBack && p.metrics != nil {
		p.metrics.RerankFallbacksTotal.Inc()
	}
	span.SetAttr("fallback", fellBack)
	return ranked, chunks, fellBack
}

func (p *Pipeline) assembleStage(ctx context.Context, ranked []rerank.Result, chunks map[string]chunk.Chunk) assemble.Context {
	defer p.observe("assemble", p.now())
	_, span := tracing.StartChildSpan(ctx, "assemble")
	defer span.End()

	assembled := assemble.Assemble(ranked, chunks, p.cfg.ContextBudget)
	if p.metrics != nil {
		p.metrics.ContextBytes.Observe(float64(len(assembled.Text)))
	}
	span.SetAttr("context_bytes", len(assembled.Text))
	span.SetAttr("sources", len(assembled.Sources))
	return assembled
}

// depthFor returns (candidate pool size, rerank depth) for a mode.
func (p *Pipeline) depthFor(mode Mode) (int, int) {
	candidates := p.cfg.CandidateCount
	depth := p.cfg.RerankDepth
	if mode == ModeComprehensive {
		candidates *= 2
		depth *= 2
	}
	if depth > candidates {
		depth = candidates
	}
	return candidates, depth
}

func (p *Pipeline) cacheKey(stage string, parts ...string) string {
	if p.cache == nil {
		return ""
	}
	return p.cache.Key(stage, parts...)
}

func (p *Pipeline) observe(stage string, start time.Time) {
	if p.metrics != nil {
		p.metrics.StageLatency.WithLabelValues(stage).Observe(time.Since(start).Seconds())
	}
}

func (p *Pipeline) countCache(stage string, hit bool) {
	if p.metrics == nil {
		return
	}
	if hit {
		p.metrics.CacheHitsTotal.WithLabelValues(stage).Inc()
	} else {
		p.metrics.CacheMissesTotal.WithLabelValues(stage).Inc()
	}
}

func (p *Pipeline) countDegraded(source string) {
	if p.metrics != nil {
		p.metrics.DegradedSearchesTotal.WithLabelValues(source).Inc()
	}
}
