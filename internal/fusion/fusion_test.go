package fusion

import (
	"math"
	"reflect"
	"testing"

	"github.com/onelab-ops/searchpipe/internal/lexical"
	"github.com/onelab-ops/searchpipe/internal/vector"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestWeightsValidate(t *testing.T) {
	tests := []struct {
		name    string
		w       Weights
		wantErr bool
	}{
		{"default", DefaultWeights(), false},
		{"even split", Weights{Vector: 0.5, Lexical: 0.5}, false},
		{"sum below one", Weights{Vector: 0.5, Lexical: 0.3}, true},
		{"sum above one", Weights{Vector: 0.8, Lexical: 0.3}, true},
		{"negative", Weights{Vector: 1.2, Lexical: -0.2}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.w.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate(%+v) error = %v, wantErr %v", tt.w, err, tt.wantErr)
			}
		})
	}
}

func TestFuseBothSources(t *testing.T) {
	vec := []vector.Candidate{
		{ChunkID: "a", Similarity: 0.9},
		{ChunkID: "b", Similarity: 0.5},
	}
	lex := []lexical.ScoredChunk{
		{ChunkID: "a", Score: 4.0},
		{ChunkID: "b", Score: 8.0},
	}
	got := Fuse(vec, lex, DefaultWeights())

	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	// Min-max over each batch: a = 0.7*1.0 + 0.3*0.0, b = 0.7*0.0 + 0.3*1.0.
	byID := map[string]Fused{}
	for _, f := range got {
		byID[f.ChunkID] = f
	}
	if !almostEqual(byID["a"].Score, 0.7) {
		t.Errorf("a score = %v, want 0.7", byID["a"].Score)
	}
	if !almostEqual(byID["b"].Score, 0.3) {
		t.Errorf("b score = %v, want 0.3", byID["b"].Score)
	}
	if got[0].ChunkID != "a" {
		t.Errorf("order = %v, want a first", got)
	}
}

func TestFuseMissingComponentContributesZero(t *testing.T) {
	vec := []vector.Candidate{
		{ChunkID: "a", Similarity: 0.9},
		{ChunkID: "b", Similarity: 0.2},
	}
	lex := []lexical.ScoredChunk{
		{ChunkID: "c", Score: 3.0},
		{ChunkID: "d", Score: 1.0},
	}
	got := Fuse(vec, lex, DefaultWeights())

	byID := map[string]Fused{}
	for _, f := range got {
		byID[f.ChunkID] = f
	}
	// a: vector-only max → 0.7*1.0; c: lexical-only max → 0.3*1.0.
	if !almostEqual(byID["a"].Score, 0.7) {
		t.Errorf("a = %v, want 0.7", byID["a"].Score)
	}
	if !almostEqual(byID["c"].Score, 0.3) {
		t.Errorf("c = %v, want 0.3", byID["c"].Score)
	}
	if byID["a"].HasLexical || byID["c"].HasVector {
		t.Error("presence flags wrong for single-source candidates")
	}
}

func TestFuseVectorOnlyBatch(t *testing.T) {
	vec := []vector.Candidate{
		{ChunkID: "a", Similarity: 0.8},
		{ChunkID: "b", Similarity: 0.6},
		{ChunkID: "c", Similarity: 0.4},
	}
	got := Fuse(vec, nil, DefaultWeights())

	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	if got[0].ChunkID != "a" || !almostEqual(got[0].Score, 0.7) {
		t.Errorf("top = %+v, want a with 0.7", got[0])
	}
	if !almostEqual(got[1].Score, 0.35) {
		t.Errorf("middle score = %v, want 0.35", got[1].Score)
	}
	if !almostEqual(got[2].Score, 0) {
		t.Errorf("bottom score = %v, want 0", got[2].Score)
	}
}

func TestFuseDegenerateBatchAllEqual(t *testing.T) {
	vec := []vector.Candidate{
		{ChunkID: "a", Similarity: 0.5},
		{ChunkID: "b", Similarity: 0.5},
	}
	got := Fuse(vec, nil, DefaultWeights())
	for _, f := range got {
		if !almostEqual(f.Score, 0.7) {
			t.Errorf("%s score = %v, want 0.7 (degenerate batch maps to 1.0)", f.ChunkID, f.Score)
		}
	}
}

func TestFuseTieBreakByChunkID(t *testing.T) {
	vec := []vector.Candidate{
		{ChunkID: "z", Similarity: 0.5},
		{ChunkID: "a", Similarity: 0.5},
		{ChunkID: "m", Similarity: 0.5},
	}
	got := Fuse(vec, nil, DefaultWeights())
	ids := make([]string, len(got))
	for i, f := range got {
		ids[i] = f.ChunkID
	}
	if !reflect.DeepEqual(ids, []string{"a", "m", "z"}) {
		t.Errorf("tie order = %v, want [a m z]", ids)
	}
}

func TestFuseEmptyInputs(t *testing.T) {
	if got := Fuse(nil, nil, DefaultWeights()); len(got) != 0 {
		t.Errorf("Fuse(nil, nil) = %v, want empty", got)
	}
}

func TestFuseDeterministic(t *testing.T) {
	vec := []vector.Candidate{
		{ChunkID: "a", Similarity: 0.9}, {ChunkID: "b", Similarity: 0.7},
		{ChunkID: "c", Similarity: 0.7}, {ChunkID: "d", Similarity: 0.1},
	}
	lex := []lexical.ScoredChunk{
		{ChunkID: "b", Score: 2.5}, {ChunkID: "e", Score: 2.5},
	}
	first := Fuse(vec, lex, DefaultWeights())
	for i := 0; i < 20; i++ {
		if got := Fuse(vec, lex, DefaultWeights()); !reflect.DeepEqual(got, first) {
			t.Fatalf("run %d differs", i)
		}
	}
}

func TestSelectTop(t *testing.T) {
	results := []Fused{
		{ChunkID: "a", Score: 0.9},
		{ChunkID: "b", Score: 0.8},
		{ChunkID: "c", Score: 0.7},
		{ChunkID: "d", Score: 0.6},
	}
	got := SelectTop(results, 2)
	if len(got) != 2 || got[0].ChunkID != "a" || got[1].ChunkID != "b" {
		t.Errorf("SelectTop = %v, want [a b]", got)
	}
}

func TestSelectTopTies(t *testing.T) {
	results := []Fused{
		{ChunkID: "c", Score: 0.5},
		{ChunkID: "a", Score: 0.5},
		{ChunkID: "b", Score: 0.5},
	}
	got := SelectTop(results, 2)
	ids := []string{got[0].ChunkID, got[1].ChunkID}
	if !reflect.DeepEqual(ids, []string{"a", "b"}) {
		t.Errorf("tie selection = %v, want [a b]", ids)
	}
}

func TestSelectTopSmallInput(t *testing.T) {
	results := []Fused{{ChunkID: "a", Score: 0.9}}
	got := SelectTop(results, 5)
	if !reflect.DeepEqual(got, results) {
		t.Errorf("SelectTop = %v, want input unchanged", got)
	}
}

func BenchmarkFuse(b *testing.B) {
	vec := make([]vector.Candidate, 50)
	lex := make([]lexical.ScoredChunk, 50)
	for i := range vec {
		vec[i] = vector.Candidate{ChunkID: string(rune('a'+i%26)) + string(rune('0'+i%10)), Similarity: float64(i) / 50}
		lex[i] = lexical.ScoredChunk{ChunkID: string(rune('a'+(i+13)%26)) + string(rune('0'+i%10)), Score: float64(50 - i)}
	}
	w := DefaultWeights()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		_ = SelectTop(Fuse(vec, lex, w), 20)
	}
}
