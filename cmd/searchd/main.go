// Command searchd starts the hybrid search service.
//
// It runs the full retrieval pipeline (query processing, parallel vector and
// lexical retrieval, score fusion, cross-encoder reranking, context assembly)
// behind POST /api/v1/search, plus feedback, cache, analytics, and health
// endpoints.
//
// Usage:
//
//	go run ./cmd/searchd [-config configs/development.yaml]
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/onelab-ops/searchpipe/internal/analytics"
	"github.com/onelab-ops/searchpipe/internal/analytics/aggregator"
	"github.com/onelab-ops/searchpipe/internal/analytics/collector"
	"github.com/onelab-ops/searchpipe/internal/answer"
	"github.com/onelab-ops/searchpipe/internal/chunk"
	"github.com/onelab-ops/searchpipe/internal/feedback"
	"github.com/onelab-ops/searchpipe/internal/lexical"
	"github.com/onelab-ops/searchpipe/internal/pipeline"
	"github.com/onelab-ops/searchpipe/internal/rerank"
	"github.com/onelab-ops/searchpipe/internal/server"
	"github.com/onelab-ops/searchpipe/internal/vector"
	"github.com/onelab-ops/searchpipe/pkg/config"
	"github.com/onelab-ops/searchpipe/pkg/health"
	"github.com/onelab-ops/searchpipe/pkg/kafka"
	"github.com/onelab-ops/searchpipe/pkg/logger"
	"github.com/onelab-ops/searchpipe/pkg/metrics"
	"github.com/onelab-ops/searchpipe/pkg/openai"
	"github.com/onelab-ops/searchpipe/pkg/postgres"
	pkgredis "github.com/onelab-ops/searchpipe/pkg/redis"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting search service", "port", cfg.Server.Port)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pg, err := postgres.New(cfg.Postgres)
	if err != nil {
		slog.Error("postgres connection failed", "error", err)
		os.Exit(1)
	}
	defer pg.Close()

	chunks := chunk.NewPGStore(pg)
	retriever := vector.NewPGRetriever(pg)
	fb := feedback.NewPGStore(pg)

	// A dimension mismatch between the embedder and the vector column is a
	// configuration error; refuse to start rather than return wrong answers.
	if err := retriever.VerifyDimension(ctx, cfg.Embedding.Dimension); err != nil {
		slog.Error("embedding dimension check failed", "error", err)
		os.Exit(1)
	}

	apiKey := os.Getenv("OPENAI_API_KEY")
	var embedder vector.Embedder
	var generator answer.Generator
	if apiKey != "" {
		embedder, err = openai.NewEmbedder(apiKey, cfg.Embedding)
		if err != nil {
			slog.Error("embedder init failed", "error", err)
			os.Exit(1)
		}
		generator, err = openai.NewGenerator(apiKey, cfg.Generation)
		if err != nil {
			slog.Error("generator init failed", "error", err)
			os.Exit(1)
		}
		slog.Info("openai clients ready",
			"embedding_model", cfg.Embedding.Model,
			"generation_model", cfg.Generation.Model,
		)
	} else {
		slog.Error("OPENAI_API_KEY not set; vector retrieval requires an embedder")
		os.Exit(1)
	}

	var scorer rerank.Scorer
	if cfg.Rerank.Endpoint != "" {
		model := rerank.NewModelScorer(cfg.Rerank)
		if err := model.Ping(ctx); err != nil {
			slog.Warn("rerank model unreachable at startup, calls will trip the breaker",
				"endpoint", cfg.Rerank.Endpoint,
				"error", err,
			)
		}
		scorer = model
	} else {
		scorer = rerank.NewHeuristicScorer()
	}
	slog.Info("rerank scorer selected", "scorer", scorer.Name())

	m := metrics.New()

	corpus := lexical.NewProvider(chunks, cfg.Lexical, m)
	if err := corpus.Start(ctx); err != nil {
		slog.Error("corpus statistics build failed", "error", err)
		os.Exit(1)
	}

	var stageCache *pipeline.StageCache
	var redisClient *pkgredis.Client
	if cfg.Cache.Enabled {
		redisClient, err = pkgredis.NewClient(cfg.Redis)
		if err != nil {
			slog.Warn("redis unavailable, stage caching disabled", "error", err)
		} else {
			defer redisClient.Close()
			stageCache = pipeline.NewStageCache(pipeline.NewRedisStore(redisClient), cfg.Cache)
			slog.Info("stage cache enabled", "addr", cfg.Redis.Addr)
		}
	}

	analyticsProducer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.AnalyticsEvents)
	defer analyticsProducer.Close()
	events := collector.NewBatchCollector(analyticsProducer, cfg.Analytics.BatchSize, cfg.Analytics.FlushInterval)
	events.Start(ctx)
	defer events.Close()

	// The aggregator behind the analytics endpoint is the same instance the
	// consumer handler feeds; constructing a second one would serve zeros.
	stats := analytics.NewAggregator()
	analyticsConsumer := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.AnalyticsEvents, analytics.HandleEvent(stats))
	go func() {
		if err := analyticsConsumer.Start(ctx); err != nil {
			slog.Error("analytics consumer error", "error", err)
		}
	}()

	snapshots := aggregator.NewStore(pg)
	snapshots.StartPeriodicSave(ctx, stats, cfg.Analytics.SnapshotInterval)

	// Document-ingest events feed the corpus rebuild threshold.
	ingestConsumer := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.DocumentIngest,
		func(ctx context.Context, key, value []byte) error {
			event, err := kafka.DecodeJSON[analytics.IngestEvent](value)
			if err != nil {
				return err
			}
			corpus.NoteIngested(ctx, event.ChunkCount)
			return nil
		})
	go func() {
		if err := ingestConsumer.Start(ctx); err != nil {
			slog.Error("ingest consumer error", "error", err)
		}
	}()

	p := pipeline.New(embedder, retriever, corpus, chunks, fb, scorer,
		cfg.Pipeline, cfg.Lexical, stageCache, m)

	checker := health.NewChecker()
	checker.Register("postgres", func(ctx context.Context) health.ComponentHealth {
		if err := pg.DB.PingContext(ctx); err != nil {
			return health.ComponentHealth{Status: health.StatusDown, Message: err.Error()}
		}
		return health.ComponentHealth{Status: health.StatusUp}
	})
	checker.Register("redis", func(ctx context.Context) health.ComponentHealth {
		if redisClient == nil {
			return health.ComponentHealth{Status: health.StatusDegraded, Message: "not configured"}
		}
		if err := redisClient.Ping(ctx); err != nil {
			return health.ComponentHealth{Status: health.StatusDegraded, Message: err.Error()}
		}
		return health.ComponentHealth{Status: health.StatusUp}
	})
	checker.Register("corpus", func(ctx context.Context) health.ComponentHealth {
		snap := corpus.Snapshot()
		if snap.Version() == 0 {
			return health.ComponentHealth{Status: health.StatusDegraded, Message: "no snapshot built"}
		}
		return health.ComponentHealth{
			Status:  health.StatusUp,
			Message: fmt.Sprintf("v%d, %d docs, built %s", snap.Version(), snap.DocCount(), snap.BuiltAt().Format(time.RFC3339)),
		}
	})
	if cfg.Rerank.Endpoint != "" {
		model, ok := scorer.(*rerank.ModelScorer)
		checker.Register("rerank_model", func(ctx context.Context) health.ComponentHealth {
			if !ok {
				return health.ComponentHealth{Status: health.StatusUp}
			}
			if err := model.Ping(ctx); err != nil {
				// Heuristic fallback keeps search available.
				return health.ComponentHealth{Status: health.StatusDegraded, Message: err.Error()}
			}
			return health.ComponentHealth{Status: health.StatusUp}
		})
	}

	if cfg.Metrics.Enabled {
		shutdownMetrics := metrics.StartServer(cfg.Metrics.Port)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = shutdownMetrics(shutdownCtx)
		}()
	}

	h := server.New(p, generator, fb, stageCache, events, m)
	router := server.NewRouter(h, analytics.NewHandler(stats, snapshots), checker, m, cfg.Server.WriteTimeout)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	slog.Info("search service listening", "addr", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	slog.Info("search service stopped")
}
