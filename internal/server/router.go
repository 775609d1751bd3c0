package server

import (
	"net/http"
	"time"

	"github.com/onelab-ops/searchpipe/internal/analytics"
	"github.com/onelab-ops/searchpipe/pkg/health"
	"github.com/onelab-ops/searchpipe/pkg/metrics"
	"github.com/onelab-ops/searchpipe/pkg/middleware"
)

// NewRouter builds the service HTTP handler.
//
// Route table:
//
//	POST   /api/v1/search            → hybrid search
//	POST   /api/v1/feedback          → record chunk feedback
//	GET    /api/v1/analytics         → aggregated usage stats
//	GET    /api/v1/analytics/history → persisted stats snapshots
//	GET    /api/v1/cache/stats       → stage cache counters
//	POST   /api/v1/cache/invalidate  → drop all cached stages
//	GET    /health/live              → liveness
//	GET    /health/ready             → readiness (dependency checks)
//
// Middleware chain (outermost first): RequestID → Metrics → Timeout.
func NewRouter(h *Handler, stats *analytics.Handler, checker *health.Checker, m *metrics.Metrics, requestTimeout time.Duration) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/v1/search", h.Search)
	mux.HandleFunc("POST /api/v1/feedback", h.Feedback)
	mux.HandleFunc("GET /api/v1/cache/stats", h.CacheStats)
	mux.HandleFunc("POST /api/v1/cache/invalidate", h.CacheInvalidate)

	if stats != nil {
		mux.HandleFunc("GET /api/v1/analytics", stats.Stats)
		mux.HandleFunc("GET /api/v1/analytics/history", stats.History)
	}

	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	var chain http.Handler = mux
	chain = middleware.Timeout(requestTimeout)(chain)
	if m != nil {
		chain = middleware.Metrics(m)(chain)
	}
	chain = middleware.RequestID(chain)

	return chain
}
