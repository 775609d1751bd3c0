package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/onelab-ops/searchpipe/internal/chunk"
	"github.com/onelab-ops/searchpipe/internal/lexical"
	"github.com/onelab-ops/searchpipe/internal/rerank"
	"github.com/onelab-ops/searchpipe/internal/vector"
	"github.com/onelab-ops/searchpipe/pkg/config"
	pkgerrors "github.com/onelab-ops/searchpipe/pkg/errors"
)

// ---------------------------------------------------------------------------
// Fakes
// ---------------------------------------------------------------------------

type fakeEmbedder struct {
	err error
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []float32{0.1, 0.2, 0.3}, nil
}

func (f *fakeEmbedder) Dimension() int { return 3 }

type fakeRetriever struct {
	candidates []vector.Candidate
	err        error
}

func (f *fakeRetriever) Search(ctx context.Context, embedding []float32, limit int) ([]vector.Candidate, error) {
	if f.err != nil {
		return nil, f.err
	}
	if len(f.candidates) > limit {
		return f.candidates[:limit], nil
	}
	return f.candidates, nil
}

type fakeChunkStore struct {
	chunks map[string]chunk.Chunk
}

func (f *fakeChunkStore) GetByIDs(ctx context.Context, ids []string) (map[string]chunk.Chunk, error) {
	out := make(map[string]chunk.Chunk, len(ids))
	for _, id := range ids {
		if c, ok := f.chunks[id]; ok {
			out[id] = c
		}
	}
	return out, nil
}

func (f *fakeChunkStore) ScanAll(ctx context.Context, fn func(chunk.Chunk) error) error {
	// Deterministic scan order keeps snapshot stats stable across runs.
	ids := make([]string, 0, len(f.chunks))
	for id := range f.chunks {
		ids = append(ids, id)
	}
	for i := 0; i < len(ids); i++ {
		for j := i + 1; j < len(ids); j++ {
			if ids[j] < ids[i] {
				ids[i], ids[j] = ids[j], ids[i]
			}
		}
	}
	for _, id := range ids {
		if err := fn(f.chunks[id]); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeChunkStore) Count(ctx context.Context) (int, error) {
	return len(f.chunks), nil
}

type fakeFeedback struct {
	scores map[string]float64
}

func (f *fakeFeedback) Scores(ctx context.Context, ids []string) (map[string]float64, error) {
	return f.scores, nil
}

func (f *fakeFeedback) Record(ctx context.Context, chunkID string, helpful bool) error {
	return nil
}

// memStore is an in-memory CacheStore.
type memStore struct {
	mu   sync.Mutex
	data map[string]string
	sets int
}

func newMemStore() *memStore {
	return &memStore{data: make(map[string]string)}
}

func (m *memStore) Get(ctx context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *memStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	m.sets++
	return nil
}

func (m *memStore) DeleteByPattern(ctx context.Context, pattern string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := int64(len(m.data))
	m.data = make(map[string]string)
	return n, nil
}

// ---------------------------------------------------------------------------
// Fixture
// ---------------------------------------------------------------------------

func testPipelineConfig() config.PipelineConfig {
	return config.PipelineConfig{
		DefaultTopK:    8,
		MaxTopK:        50,
		CandidateCount: 50,
		RerankDepth:    20,
		ContextBudget:  4000,
		VectorWeight:   0.7,
		LexicalWeight:  0.3,
		Composite: config.CompositeWeights{
			Hybrid: 0.4, CrossEncoder: 0.3, Quality: 0.1, Freshness: 0.1, Feedback: 0.1,
		},
		RetrievalTimeout: time.Second,
	}
}

var testChunks = map[string]chunk.Chunk{
	"c1": {ID: "c1", DocumentID: "d1", Title: "Agent install", Text: "Run the installer, then configure the backup agent. Verify the service starts."},
	"c2": {ID: "c2", DocumentID: "d1", Title: "Agent upgrade", Text: "Stop the agent before upgrading. Install the new package and restart."},
	"c3": {ID: "c3", DocumentID: "d2", Title: "Network notes", Text: "Switch port assignments for the storage network and failover links."},
}

func newTestPipeline(t *testing.T, embedder vector.Embedder, retriever vector.Retriever, cache *StageCache) *Pipeline {
	t.Helper()
	store := &fakeChunkStore{chunks: testChunks}
	corpus := lexical.NewProvider(store, config.LexicalConfig{K1: 1.2, B: 0.75}, nil)
	if err := corpus.Rebuild(context.Background()); err != nil {
		t.Fatalf("corpus build: %v", err)
	}
	return New(
		embedder,
		retriever,
		corpus,
		store,
		&fakeFeedback{scores: map[string]float64{}},
		rerank.NewHeuristicScorer(),
		testPipelineConfig(),
		config.LexicalConfig{K1: 1.2, B: 0.75},
		cache,
		nil,
	)
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestParseMode(t *testing.T) {
	tests := []struct {
		in      string
		want    Mode
		wantErr bool
	}{
		{"", ModeHybrid, false},
		{"basic", ModeBasic, false},
		{"hybrid", ModeHybrid, false},
		{"comprehensive", ModeComprehensive, false},
		{"turbo", "", true},
	}
	for _, tt := range tests {
		got, err := ParseMode(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseMode(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("ParseMode(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestRunHappyPath(t *testing.T) {
	retriever := &fakeRetriever{candidates: []vector.Candidate{
		{ChunkID: "c1", Similarity: 0.92},
		{ChunkID: "c2", Similarity: 0.85},
		{ChunkID: "c3", Similarity: 0.30},
	}}
	p := newTestPipeline(t, &fakeEmbedder{}, retriever, nil)

	res, err := p.Run(context.Background(), Request{Query: "install agent", Mode: ModeHybrid})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.State != StateDone {
		t.Errorf("State = %v, want done", res.State)
	}
	if res.DegradedVector {
		t.Error("unexpected degradation")
	}
	if len(res.Results) == 0 {
		t.Fatal("no results")
	}
	// "install agent" is short and in the synonym table, so the expanded
	// query must grow.
	if res.Query.Expanded == res.Query.Raw {
		t.Errorf("query not expanded: %q", res.Query.Expanded)
	}
	if !strings.HasPrefix(res.Query.Expanded, res.Query.Raw) {
		t.Errorf("expansion dropped original text: %q", res.Query.Expanded)
	}
	if res.Context.Text == "" {
		t.Error("empty context for matching corpus")
	}
	if len(res.Context.Text) > p.cfg.ContextBudget {
		t.Errorf("context %d chars exceeds budget", len(res.Context.Text))
	}
}

func TestRunEmptyQuery(t *testing.T) {
	p := newTestPipeline(t, &fakeEmbedder{}, &fakeRetriever{}, nil)
	res, err := p.Run(context.Background(), Request{Query: "   "})
	if !errors.Is(err, pkgerrors.ErrEmptyQuery) {
		t.Errorf("error = %v, want ErrEmptyQuery", err)
	}
	if res.State != StateFailed {
		t.Errorf("State = %v, want failed", res.State)
	}
}

func TestRunEmptyCorpusIsNotAnError(t *testing.T) {
	store := &fakeChunkStore{chunks: map[string]chunk.Chunk{}}
	corpus := lexical.NewProvider(store, config.LexicalConfig{K1: 1.2, B: 0.75}, nil)
	if err := corpus.Rebuild(context.Background()); err != nil {
		t.Fatalf("corpus build: %v", err)
	}
	p := New(&fakeEmbedder{}, &fakeRetriever{}, corpus, store,
		&fakeFeedback{}, rerank.NewHeuristicScorer(),
		testPipelineConfig(), config.LexicalConfig{K1: 1.2, B: 0.75}, nil, nil)

	res, err := p.Run(context.Background(), Request{Query: "backup schedule"})
	if err != nil {
		t.Fatalf("Run on empty corpus: %v", err)
	}
	if res.State != StateDone {
		t.Errorf("State = %v, want done", res.State)
	}
	if len(res.Results) != 0 || res.Context.Text != "" {
		t.Errorf("empty corpus produced results: %+v", res)
	}
}

func TestRunVectorDownDegradesToLexical(t *testing.T) {
	retriever := &fakeRetriever{err: pkgerrors.ErrRetrievalUnavailable}
	p := newTestPipeline(t, &fakeEmbedder{}, retriever, nil)

	res, err := p.Run(context.Background(), Request{Query: "install agent", Mode: ModeHybrid})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.DegradedVector {
		t.Error("DegradedVector not set")
	}
	if len(res.Results) == 0 {
		t.Fatal("lexical-only search returned nothing for matching terms")
	}
	// With only the lexical source, fused scores are pure lexical weight.
	for _, r := range res.Results {
		if r.VectorScore != 0 {
			t.Errorf("chunk %s has vector score %v with vector source down", r.ChunkID, r.VectorScore)
		}
	}
}

func TestRunEmbedderDownDegradesToo(t *testing.T) {
	p := newTestPipeline(t, &fakeEmbedder{err: errors.New("api down")}, &fakeRetriever{}, nil)
	res, err := p.Run(context.Background(), Request{Query: "install agent", Mode: ModeHybrid})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.DegradedVector {
		t.Error("embedding failure must degrade the vector source")
	}
}

func TestRunBothSourcesDownFails(t *testing.T) {
	store := &fakeChunkStore{chunks: testChunks}
	corpus := lexical.NewProvider(store, config.LexicalConfig{K1: 1.2, B: 0.75}, nil)
	// No Rebuild: the lexical source never becomes ready.
	p := New(&fakeEmbedder{}, &fakeRetriever{err: pkgerrors.ErrRetrievalUnavailable},
		corpus, store, &fakeFeedback{}, rerank.NewHeuristicScorer(),
		testPipelineConfig(), config.LexicalConfig{K1: 1.2, B: 0.75}, nil, nil)

	res, err := p.Run(context.Background(), Request{Query: "install agent", Mode: ModeHybrid})
	if !errors.Is(err, pkgerrors.ErrTotalRetrievalFailure) {
		t.Errorf("error = %v, want ErrTotalRetrievalFailure", err)
	}
	if res.State != StateFailed {
		t.Errorf("State = %v, want failed", res.State)
	}
}

func TestRunBasicModeVectorDownFails(t *testing.T) {
	retriever := &fakeRetriever{err: pkgerrors.ErrRetrievalUnavailable}
	p := newTestPipeline(t, &fakeEmbedder{}, retriever, nil)

	_, err := p.Run(context.Background(), Request{Query: "install agent", Mode: ModeBasic})
	if !errors.Is(err, pkgerrors.ErrTotalRetrievalFailure) {
		t.Errorf("error = %v, want ErrTotalRetrievalFailure (basic mode has no lexical fallback)", err)
	}
}

func TestRunBasicModeSkipsLexical(t *testing.T) {
	retriever := &fakeRetriever{candidates: []vector.Candidate{{ChunkID: "c3", Similarity: 0.9}}}
	p := newTestPipeline(t, &fakeEmbedder{}, retriever, nil)

	// "install agent" matches c1/c2 lexically but not the vector fake;
	// basic mode must not surface the lexical matches.
	res, err := p.Run(context.Background(), Request{Query: "install agent", Mode: ModeBasic})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.Results) != 1 || res.Results[0].ChunkID != "c3" {
		t.Errorf("basic mode results = %+v, want only the vector candidate", res.Results)
	}
}

func TestRunTopKLimits(t *testing.T) {
	retriever := &fakeRetriever{candidates: []vector.Candidate{
		{ChunkID: "c1", Similarity: 0.9},
		{ChunkID: "c2", Similarity: 0.8},
		{ChunkID: "c3", Similarity: 0.7},
	}}
	p := newTestPipeline(t, &fakeEmbedder{}, retriever, nil)

	res, err := p.Run(context.Background(), Request{Query: "agent network storage", TopK: 2})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.Results) > 2 {
		t.Errorf("results = %d, want at most 2", len(res.Results))
	}
}

func TestRunDeterministic(t *testing.T) {
	retriever := &fakeRetriever{candidates: []vector.Candidate{
		{ChunkID: "c1", Similarity: 0.9},
		{ChunkID: "c2", Similarity: 0.9},
		{ChunkID: "c3", Similarity: 0.4},
	}}
	p := newTestPipeline(t, &fakeEmbedder{}, retriever, nil)
	req := Request{Query: "install the backup agent"}

	first, err := p.Run(context.Background(), req)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	for i := 0; i < 10; i++ {
		got, err := p.Run(context.Background(), req)
		if err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
		if len(got.Results) != len(first.Results) {
			t.Fatalf("run %d result count differs", i)
		}
		for j := range got.Results {
			if got.Results[j].ChunkID != first.Results[j].ChunkID ||
				got.Results[j].Composite != first.Results[j].Composite {
				t.Fatalf("run %d rank %d differs: %+v vs %+v", i, j, got.Results[j], first.Results[j])
			}
		}
	}
}

func TestRunRetrievalStageCached(t *testing.T) {
	store := newMemStore()
	cache := NewStageCache(store, config.CacheConfig{
		RetrievalTTL: time.Hour, HybridTTL: time.Hour, ResponseTTL: time.Hour,
	})
	retriever := &fakeRetriever{candidates: []vector.Candidate{{ChunkID: "c1", Similarity: 0.9}}}
	p := newTestPipeline(t, &fakeEmbedder{}, retriever, cache)

	req := Request{Query: "install agent"}
	first, err := p.Run(context.Background(), req)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	setsAfterFirst := store.sets
	if setsAfterFirst == 0 {
		t.Fatal("retrieval stage was not cached")
	}

	second, err := p.Run(context.Background(), req)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if store.sets != setsAfterFirst {
		t.Error("second run recomputed a cached stage")
	}
	hits, _ := cache.Stats()
	if hits == 0 {
		t.Error("no cache hit recorded")
	}
	// Cache must not change results.
	if len(first.Results) != len(second.Results) {
		t.Fatal("cached run returned different result count")
	}
	for i := range first.Results {
		if first.Results[i].ChunkID != second.Results[i].ChunkID {
			t.Errorf("rank %d differs between cached and computed run", i)
		}
	}
}

func TestRunDegradedResultNotCached(t *testing.T) {
	store := newMemStore()
	cache := NewStageCache(store, config.CacheConfig{
		RetrievalTTL: time.Hour, HybridTTL: time.Hour, ResponseTTL: time.Hour,
	})
	retriever := &fakeRetriever{err: pkgerrors.ErrRetrievalUnavailable}
	p := newTestPipeline(t, &fakeEmbedder{}, retriever, cache)

	if _, err := p.Run(context.Background(), Request{Query: "install agent"}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if store.sets != 0 {
		t.Error("degraded retrieval output was written to the cache")
	}

	// Once the vector store recovers, the healthy result replaces nothing
	// stale: the degraded run left no entry behind.
	retriever.err = nil
	retriever.candidates = []vector.Candidate{{ChunkID: "c1", Similarity: 0.9}}
	res, err := p.Run(context.Background(), Request{Query: "install agent"})
	if err != nil {
		t.Fatalf("Run after recovery: %v", err)
	}
	if res.DegradedVector {
		t.Error("recovered run still marked degraded")
	}
	if store.sets == 0 {
		t.Error("healthy retrieval output was not cached")
	}
}

func TestStageCacheKeyDeterministic(t *testing.T) {
	cache := NewStageCache(newMemStore(), config.CacheConfig{})
	k1 := cache.Key(StageRetrieval, "query text", "hybrid", "50")
	k2 := cache.Key(StageRetrieval, "query text", "hybrid", "50")
	k3 := cache.Key(StageRetrieval, "query text", "basic", "50")
	if k1 != k2 {
		t.Error("identical inputs produced different keys")
	}
	if k1 == k3 {
		t.Error("different inputs produced the same key")
	}
	if !strings.HasPrefix(k1, "pipeline:retrieval:") {
		t.Errorf("key = %q, want stage-namespaced prefix", k1)
	}
}
