// Package metrics defines the Prometheus metric collectors for the
// retrieval pipeline and exposes an HTTP handler for scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors for the service.
type Metrics struct {
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge

	SearchQueriesTotal *prometheus.CounterVec
	StageLatency       *prometheus.HistogramVec
	SearchResultsCount prometheus.Histogram
	ContextBytes       prometheus.Histogram

	CacheHitsTotal   *prometheus.CounterVec
	CacheMissesTotal *prometheus.CounterVec

	DegradedSearchesTotal *prometheus.CounterVec
	RerankFallbacksTotal  prometheus.Counter

	CorpusRebuildsTotal *prometheus.CounterVec
	CorpusDocuments     prometheus.Gauge
}

// New creates and registers all Prometheus metrics.
func New() *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Number of HTTP requests currently being processed.",
			},
		),
		SearchQueriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "search_queries_total",
				Help: "Total search queries by query type and outcome (ok, degraded, empty, error).",
			},
			[]string{"query_type", "outcome"},
		),
		StageLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pipeline_stage_latency_seconds",
				Help:    "Latency per pipeline stage.",
				Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
			},
			[]string{"stage"},
		),
		SearchResultsCount: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "search_results_count",
				Help:    "Number of results returned per search query.",
				Buckets: []float64{0, 1, 5, 10, 25, 50},
			},
		),
		ContextBytes: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "assembled_context_bytes",
				Help:    "Size of the assembled context window in bytes.",
				Buckets: []float64{0, 500, 1000, 2000, 3000, 4000, 8000},
			},
		),
		CacheHitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stage_cache_hits_total",
				Help: "Stage cache hits by stage.",
			},
			[]string{"stage"},
		),
		CacheMissesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stage_cache_misses_total",
				Help: "Stage cache misses by stage.",
			},
			[]string{"stage"},
		),
		DegradedSearchesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "degraded_searches_total",
				Help: "Searches that lost a retrieval source but completed.",
			},
			[]string{"source"},
		),
		RerankFallbacksTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "rerank_fallbacks_total",
				Help: "Rerank batches scored by the heuristic fallback.",
			},
		),
		CorpusRebuildsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "corpus_rebuilds_total",
				Help: "Corpus statistics rebuilds by status.",
			},
			[]string{"status"},
		),
		CorpusDocuments: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "corpus_documents",
				Help: "Chunks covered by the current corpus snapshot.",
			},
		),
	}

	prometheus.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
		m.SearchQueriesTotal,
		m.StageLatency,
		m.SearchResultsCount,
		m.ContextBytes,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.DegradedSearchesTotal,
		m.RerankFallbacksTotal,
		m.CorpusRebuildsTotal,
		m.CorpusDocuments,
	)

	return m
}

// Handler returns the Prometheus scrape HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
