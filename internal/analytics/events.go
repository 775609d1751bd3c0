package analytics

import "time"

type EventType string

const (
	EventSearch   EventType = "search"
	EventFeedback EventType = "feedback"
	EventIngest   EventType = "ingest"
)

// SearchEvent records one completed (or failed) search request.
type SearchEvent struct {
	Type           EventType `json:"type"`
	Query          string    `json:"query"`
	QueryType      string    `json:"query_type"`
	Mode           string    `json:"mode"`
	ResultCount    int       `json:"result_count"`
	ContextBytes   int       `json:"context_bytes"`
	LatencyMs      int64     `json:"latency_ms"`
	CacheHit       bool      `json:"cache_hit"`
	DegradedVector bool      `json:"degraded_vector"`
	RerankFallback bool      `json:"rerank_fallback"`
	Failed         bool      `json:"failed"`
	Timestamp      time.Time `json:"timestamp"`
	RequestID      string    `json:"request_id"`
}

// FeedbackEvent records a single helpful / not-helpful vote on a chunk.
type FeedbackEvent struct {
	Type      EventType `json:"type"`
	ChunkID   string    `json:"chunk_id"`
	Helpful   bool      `json:"helpful"`
	Timestamp time.Time `json:"timestamp"`
}

// IngestEvent announces freshly ingested chunks; the corpus provider uses
// it to decide when a statistics rebuild is due.
type IngestEvent struct {
	Type       EventType `json:"type"`
	DocumentID string    `json:"document_id"`
	ChunkCount int       `json:"chunk_count"`
	Timestamp  time.Time `json:"timestamp"`
}
