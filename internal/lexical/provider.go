package lexical

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/onelab-ops/searchpipe/internal/chunk"
	"github.com/onelab-ops/searchpipe/pkg/config"
	"github.com/onelab-ops/searchpipe/pkg/metrics"
)

// Provider owns the current corpus Snapshot and rebuilds it out-of-band.
// Readers call Snapshot and get the last fully built index; a rebuild
// never blocks in-flight queries.
type Provider struct {
	store     chunk.Store
	cfg       config.LexicalConfig
	metrics   *metrics.Metrics
	logger    *slog.Logger
	current   atomic.Pointer[Snapshot]
	rebuildMu sync.Mutex
	pending   atomic.Int64
	version   atomic.Int64
}

// NewProvider creates a Provider starting from an empty snapshot. m may be
// nil.
func NewProvider(store chunk.Store, cfg config.LexicalConfig, m *metrics.Metrics) *Provider {
	p := &Provider{
		store:   store,
		cfg:     cfg,
		metrics: m,
		logger:  slog.Default().With("component", "corpus-provider"),
	}
	p.current.Store(EmptySnapshot())
	return p
}

// Snapshot returns the last fully built corpus snapshot. Never nil.
func (p *Provider) Snapshot() *Snapshot {
	return p.current.Load()
}

// Ready reports whether at least one rebuild has completed. Until then
// the lexical source counts as unavailable for degradation decisions.
func (p *Provider) Ready() bool {
	return p.current.Load().Version() > 0
}

// Rebuild scans the chunk store, builds a fresh snapshot, and atomically
// swaps it in. Concurrent Rebuild calls serialise; queries keep reading
// the previous snapshot until the swap.
func (p *Provider) Rebuild(ctx context.Context) error {
	p.rebuildMu.Lock()
	defer p.rebuildMu.Unlock()

	start := time.Now()
	builder := NewBuilder(p.version.Add(1))
	if err := p.store.ScanAll(ctx, func(c chunk.Chunk) error {
		builder.Add(c)
		return nil
	}); err != nil {
		p.countRebuild("error")
		return fmt.Errorf("scanning chunk store: %w", err)
	}
	snap := builder.Build()
	p.current.Store(snap)
	p.pending.Store(0)
	p.countRebuild("ok")
	if p.metrics != nil {
		p.metrics.CorpusDocuments.Set(float64(snap.DocCount()))
	}
	p.logger.Info("corpus statistics rebuilt",
		"version", snap.Version(),
		"docs", snap.DocCount(),
		"avg_length", snap.AvgLength(),
		"took", time.Since(start).Round(time.Millisecond),
	)
	return nil
}

func (p *Provider) countRebuild(status string) {
	if p.metrics != nil {
		p.metrics.CorpusRebuildsTotal.WithLabelValues(status).Inc()
	}
}

// NoteIngested records freshly ingested documents and triggers a rebuild
// once the configured threshold is crossed. Called from the document-ingest
// event consumer.
func (p *Provider) NoteIngested(ctx context.Context, count int) {
	if count <= 0 {
		return
	}
	if p.pending.Add(int64(count)) < int64(p.cfg.RebuildThreshold) {
		return
	}
	go func() {
		if err := p.Rebuild(ctx); err != nil {
			p.logger.Error("threshold-triggered rebuild failed", "error", err)
		}
	}()
}

// Start launches the periodic rebuild loop. The initial build runs
// synchronously so the service comes up with real statistics.
func (p *Provider) Start(ctx context.Context) error {
	if err := p.Rebuild(ctx); err != nil {
		return fmt.Errorf("initial corpus build: %w", err)
	}
	ticker := time.NewTicker(p.cfg.RebuildInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				p.logger.Info("rebuild loop stopping")
				return
			case <-ticker.C:
				if err := p.Rebuild(ctx); err != nil {
					p.logger.Error("scheduled rebuild failed", "error", err)
				}
			}
		}
	}()
	return nil
}
