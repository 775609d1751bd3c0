package lexical

import (
	"context"
	"fmt"
	"math"
	"reflect"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/onelab-ops/searchpipe/internal/chunk"
	"github.com/onelab-ops/searchpipe/pkg/config"
	"github.com/onelab-ops/searchpipe/pkg/metrics"
)

func buildSnapshot(t testing.TB, chunks ...chunk.Chunk) *Snapshot {
	t.Helper()
	b := NewBuilder(1)
	for _, c := range chunks {
		b.Add(c)
	}
	return b.Build()
}

func TestScoreEmptyCorpus(t *testing.T) {
	s := NewScorer(1.2, 0.75)
	got := s.Score(EmptySnapshot(), []string{"backup"}, 10)
	if len(got) != 0 {
		t.Errorf("Score on empty corpus = %v, want empty", got)
	}
}

func TestScoreNoSharedTerms(t *testing.T) {
	snap := buildSnapshot(t,
		chunk.Chunk{ID: "c1", Text: "restart the database server"},
	)
	s := NewScorer(1.2, 0.75)
	got := s.Score(snap, []string{"kubernetes"}, 10)
	if len(got) != 0 {
		t.Errorf("Score = %v, want no results for unshared terms", got)
	}
}

func TestScoreRanksMatchingChunks(t *testing.T) {
	snap := buildSnapshot(t,
		chunk.Chunk{ID: "c1", Text: "backup backup backup procedures for the database"},
		chunk.Chunk{ID: "c2", Text: "backup notes"},
		chunk.Chunk{ID: "c3", Text: "network switch configuration"},
	)
	s := NewScorer(1.2, 0.75)
	got := s.Score(snap, []string{"backup"}, 10)

	if len(got) != 2 {
		t.Fatalf("Score returned %d results, want 2", len(got))
	}
	for _, r := range got {
		if r.Score <= 0 {
			t.Errorf("chunk %s score = %v, want > 0", r.ChunkID, r.Score)
		}
		if r.ChunkID == "c3" {
			t.Error("chunk without query terms was scored")
		}
	}
	if got[0].ChunkID != "c1" {
		t.Errorf("top chunk = %s, want c1 (higher term frequency)", got[0].ChunkID)
	}
}

func TestScoreTieBreakByChunkID(t *testing.T) {
	// Identical texts produce identical scores; order must be id-ascending.
	snap := buildSnapshot(t,
		chunk.Chunk{ID: "c9", Text: "restore archive"},
		chunk.Chunk{ID: "c2", Text: "restore archive"},
		chunk.Chunk{ID: "c5", Text: "restore archive"},
	)
	s := NewScorer(1.2, 0.75)
	got := s.Score(snap, []string{"restore"}, 10)

	ids := make([]string, len(got))
	for i, r := range got {
		ids[i] = r.ChunkID
	}
	if !reflect.DeepEqual(ids, []string{"c2", "c5", "c9"}) {
		t.Errorf("tie order = %v, want [c2 c5 c9]", ids)
	}
}

func TestScoreDeterministic(t *testing.T) {
	snap := buildSnapshot(t,
		chunk.Chunk{ID: "c1", Text: "disk volume usage alerts"},
		chunk.Chunk{ID: "c2", Text: "disk cleanup schedule"},
		chunk.Chunk{ID: "c3", Text: "volume snapshots on disk arrays"},
	)
	s := NewScorer(1.2, 0.75)
	terms := []string{"disk", "volume"}

	first := s.Score(snap, terms, 10)
	for i := 0; i < 20; i++ {
		if got := s.Score(snap, terms, 10); !reflect.DeepEqual(got, first) {
			t.Fatalf("run %d differs: %v vs %v", i, got, first)
		}
	}
}

func TestScoreDuplicateQueryTermsCountOnce(t *testing.T) {
	snap := buildSnapshot(t,
		chunk.Chunk{ID: "c1", Text: "backup policy"},
	)
	s := NewScorer(1.2, 0.75)
	once := s.Score(snap, []string{"backup"}, 10)
	twice := s.Score(snap, []string{"backup", "backup"}, 10)
	if !reflect.DeepEqual(once, twice) {
		t.Errorf("duplicate query term changed scores: %v vs %v", once, twice)
	}
}

func TestScoreRounding(t *testing.T) {
	snap := buildSnapshot(t,
		chunk.Chunk{ID: "c1", Text: "backup storage tiers"},
		chunk.Chunk{ID: "c2", Text: "restore runbook"},
	)
	s := NewScorer(1.2, 0.75)
	for _, r := range s.Score(snap, []string{"backup", "restore"}, 10) {
		scaled := r.Score * 10000
		if math.Abs(scaled-math.Round(scaled)) > 1e-9 {
			t.Errorf("score %v not rounded to 4 decimal places", r.Score)
		}
	}
}

func TestScoreLimit(t *testing.T) {
	b := NewBuilder(1)
	for i := 0; i < 20; i++ {
		b.Add(chunk.Chunk{ID: fmt.Sprintf("c%02d", i), Text: "shared term backup"})
	}
	snap := b.Build()
	s := NewScorer(1.2, 0.75)
	if got := s.Score(snap, []string{"backup"}, 5); len(got) != 5 {
		t.Errorf("len = %d, want 5", len(got))
	}
}

func TestSnapshotPostingsSorted(t *testing.T) {
	snap := buildSnapshot(t,
		chunk.Chunk{ID: "z", Text: "backup"},
		chunk.Chunk{ID: "a", Text: "backup"},
		chunk.Chunk{ID: "m", Text: "backup"},
	)
	postings := snap.Postings("backup")
	for i := 1; i < len(postings); i++ {
		if postings[i-1].ChunkID >= postings[i].ChunkID {
			t.Fatalf("postings not sorted by chunk id: %v", postings)
		}
	}
}

func TestSnapshotTitleIndexed(t *testing.T) {
	snap := buildSnapshot(t,
		chunk.Chunk{ID: "c1", Title: "Failover Runbook", Text: "switch traffic to the standby"},
	)
	if snap.DocFreq("failover") != 1 {
		t.Error("title terms not indexed")
	}
}

// fakeStore is an in-memory chunk.Store for provider tests.
type fakeStore struct {
	chunks []chunk.Chunk
	err    error
}

func (f *fakeStore) GetByIDs(ctx context.Context, ids []string) (map[string]chunk.Chunk, error) {
	out := map[string]chunk.Chunk{}
	for _, c := range f.chunks {
		for _, id := range ids {
			if c.ID == id {
				out[id] = c
			}
		}
	}
	return out, f.err
}

func (f *fakeStore) ScanAll(ctx context.Context, fn func(chunk.Chunk) error) error {
	if f.err != nil {
		return f.err
	}
	for _, c := range f.chunks {
		if err := fn(c); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeStore) Count(ctx context.Context) (int, error) {
	return len(f.chunks), f.err
}

func TestProviderRebuildSwapsSnapshot(t *testing.T) {
	store := &fakeStore{chunks: []chunk.Chunk{{ID: "c1", Text: "backup policy"}}}
	p := NewProvider(store, config.LexicalConfig{K1: 1.2, B: 0.75, RebuildThreshold: 100}, nil)

	if p.Ready() {
		t.Error("provider ready before first rebuild")
	}
	before := p.Snapshot()
	if before.DocCount() != 0 {
		t.Errorf("initial snapshot has %d docs, want 0", before.DocCount())
	}

	if err := p.Rebuild(context.Background()); err != nil {
		t.Fatalf("Rebuild: %v", err)
	}
	after := p.Snapshot()
	if !p.Ready() {
		t.Error("provider not ready after rebuild")
	}
	if after.DocCount() != 1 {
		t.Errorf("snapshot docs = %d, want 1", after.DocCount())
	}
	if after.Version() <= before.Version() {
		t.Errorf("version did not increase: %d -> %d", before.Version(), after.Version())
	}
}

func TestProviderRebuildEmptyStoreIsReady(t *testing.T) {
	p := NewProvider(&fakeStore{}, config.LexicalConfig{K1: 1.2, B: 0.75}, nil)
	if err := p.Rebuild(context.Background()); err != nil {
		t.Fatalf("Rebuild: %v", err)
	}
	// An empty corpus is a served state, not an outage.
	if !p.Ready() {
		t.Error("provider with empty corpus should still be ready")
	}
}

func TestProviderRebuildKeepsOldSnapshotOnError(t *testing.T) {
	store := &fakeStore{chunks: []chunk.Chunk{{ID: "c1", Text: "backup policy"}}}
	p := NewProvider(store, config.LexicalConfig{K1: 1.2, B: 0.75}, nil)
	if err := p.Rebuild(context.Background()); err != nil {
		t.Fatalf("Rebuild: %v", err)
	}
	good := p.Snapshot()

	store.err = fmt.Errorf("connection refused")
	if err := p.Rebuild(context.Background()); err == nil {
		t.Fatal("Rebuild with failing store returned nil error")
	}
	if p.Snapshot() != good {
		t.Error("failed rebuild replaced the serving snapshot")
	}
}

func TestProviderRebuildCountsOutcomes(t *testing.T) {
	// Unregistered collectors: the test only reads them back directly.
	m := &metrics.Metrics{
		CorpusRebuildsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "test_corpus_rebuilds_total"},
			[]string{"status"},
		),
		CorpusDocuments: prometheus.NewGauge(
			prometheus.GaugeOpts{Name: "test_corpus_documents"},
		),
	}
	store := &fakeStore{chunks: []chunk.Chunk{{ID: "c1", Text: "backup policy"}}}
	p := NewProvider(store, config.LexicalConfig{K1: 1.2, B: 0.75}, m)

	if err := p.Rebuild(context.Background()); err != nil {
		t.Fatalf("Rebuild: %v", err)
	}
	if got := testutil.ToFloat64(m.CorpusRebuildsTotal.WithLabelValues("ok")); got != 1 {
		t.Errorf("ok rebuilds = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.CorpusDocuments); got != 1 {
		t.Errorf("corpus documents gauge = %v, want 1", got)
	}

	store.err = fmt.Errorf("connection refused")
	if err := p.Rebuild(context.Background()); err == nil {
		t.Fatal("Rebuild with failing store returned nil error")
	}
	if got := testutil.ToFloat64(m.CorpusRebuildsTotal.WithLabelValues("error")); got != 1 {
		t.Errorf("error rebuilds = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.CorpusRebuildsTotal.WithLabelValues("ok")); got != 1 {
		t.Errorf("ok rebuilds after failure = %v, want still 1", got)
	}
}

func BenchmarkScore(b *testing.B) {
	builder := NewBuilder(1)
	for i := 0; i < 1000; i++ {
		builder.Add(chunk.Chunk{
			ID:   fmt.Sprintf("c%04d", i),
			Text: fmt.Sprintf("backup schedule %d for database servers and storage volume tier %d", i, i%7),
		})
	}
	snap := builder.Build()
	s := NewScorer(1.2, 0.75)
	terms := []string{"backup", "database", "volume"}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = s.Score(snap, terms, 50)
	}
}
