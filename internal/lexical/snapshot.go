// Package lexical provides BM25 scoring over an immutable, versioned
// corpus-statistics snapshot. Snapshots are rebuilt out-of-band and
// swapped in atomically; readers never observe a half-built index.
package lexical

import (
	"sort"
	"time"

	"github.com/onelab-ops/searchpipe/internal/chunk"
	"github.com/onelab-ops/searchpipe/internal/lexical/token"
)

// Posting records one chunk containing a term.
type Posting struct {
	ChunkID   string
	Frequency int
}

// Snapshot is the frozen corpus statistics needed for BM25: an inverted
// postings map plus document counts and length statistics. A Snapshot is
// immutable after Build and safe for concurrent readers.
type Snapshot struct {
	version    int64
	builtAt    time.Time
	docCount   int
	totalTerms int64
	postings   map[string][]Posting
	lengths    map[string]int
}

// EmptySnapshot is the zero-corpus snapshot used before the first rebuild.
func EmptySnapshot() *Snapshot {
	return &Snapshot{
		builtAt:  time.Now().UTC(),
		postings: map[string][]Posting{},
		lengths:  map[string]int{},
	}
}

// Version returns the monotonically increasing snapshot version.
func (s *Snapshot) Version() int64 { return s.version }

// BuiltAt returns when the snapshot was built.
func (s *Snapshot) BuiltAt() time.Time { return s.builtAt }

// DocCount returns the number of chunks the snapshot covers.
func (s *Snapshot) DocCount() int { return s.docCount }

// AvgLength returns the average indexed-term count per chunk.
func (s *Snapshot) AvgLength() float64 {
	if s.docCount == 0 {
		return 0
	}
	return float64(s.totalTerms) / float64(s.docCount)
}

// Postings returns the chunks containing term, ordered by chunk id.
func (s *Snapshot) Postings(term string) []Posting { return s.postings[term] }

// DocFreq returns the number of chunks containing term.
func (s *Snapshot) DocFreq(term string) int { return len(s.postings[term]) }

// Length returns the indexed-term count of one chunk.
func (s *Snapshot) Length(chunkID string) int { return s.lengths[chunkID] }

// Builder accumulates chunks into a new Snapshot. Not safe for concurrent
// use; a rebuild runs on a single goroutine.
type Builder struct {
	version    int64
	docCount   int
	totalTerms int64
	postings   map[string][]Posting
	lengths    map[string]int
}

// NewBuilder starts a snapshot build with the given version.
func NewBuilder(version int64) *Builder {
	return &Builder{
		version:  version,
		postings: make(map[string][]Posting),
		lengths:  make(map[string]int),
	}
}

// Add indexes one chunk's term statistics.
func (b *Builder) Add(c chunk.Chunk) {
	freqs, total := token.Frequencies(c.Title + " " + c.Text)
	b.docCount++
	b.totalTerms += int64(total)
	b.lengths[c.ID] = total
	for term, freq := range freqs {
		b.postings[term] = append(b.postings[term], Posting{ChunkID: c.ID, Frequency: freq})
	}
}

// Build freezes the accumulated statistics into a Snapshot. Postings are
// sorted by chunk id so downstream ordering is deterministic.
func (b *Builder) Build() *Snapshot {
	for term := range b.postings {
		pl := b.postings[term]
		sort.Slice(pl, func(i, j int) bool { return pl[i].ChunkID < pl[j].ChunkID })
	}
	return &Snapshot{
		version:    b.version,
		builtAt:    time.Now().UTC(),
		docCount:   b.docCount,
		totalTerms: b.totalTerms,
		postings:   b.postings,
		lengths:    b.lengths,
	}
}
