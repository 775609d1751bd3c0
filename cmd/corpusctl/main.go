// Command corpusctl is the operations CLI for lexical corpus statistics.
//
// Subcommands:
//
//	rebuild     scan the chunk store and build a fresh corpus snapshot
//	stats       print corpus counts and the latest persisted analytics snapshot
//	flushcache  drop all cached pipeline stages in Redis
//
// Usage:
//
//	go run ./cmd/corpusctl [-config configs/development.yaml] <subcommand>
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/onelab-ops/searchpipe/internal/analytics/aggregator"
	"github.com/onelab-ops/searchpipe/internal/chunk"
	"github.com/onelab-ops/searchpipe/internal/lexical"
	"github.com/onelab-ops/searchpipe/internal/pipeline"
	"github.com/onelab-ops/searchpipe/pkg/config"
	"github.com/onelab-ops/searchpipe/pkg/logger"
	"github.com/onelab-ops/searchpipe/pkg/postgres"
	pkgredis "github.com/onelab-ops/searchpipe/pkg/redis"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	timeout := flag.Duration("timeout", 5*time.Minute, "operation timeout")
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: corpusctl [-config path] rebuild|stats|flushcache")
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger.Setup(cfg.Logging.Level, "text")

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	switch flag.Arg(0) {
	case "rebuild":
		err = rebuild(ctx, cfg)
	case "stats":
		err = stats(ctx, cfg)
	case "flushcache":
		err = flushCache(ctx, cfg)
	default:
		fmt.Fprintf(os.Stderr, "unknown subcommand %q\n", flag.Arg(0))
		os.Exit(2)
	}
	if err != nil {
		slog.Error("operation failed", "subcommand", flag.Arg(0), "error", err)
		os.Exit(1)
	}
}

func rebuild(ctx context.Context, cfg *config.Config) error {
	pg, err := postgres.New(cfg.Postgres)
	if err != nil {
		return err
	}
	defer pg.Close()

	provider := lexical.NewProvider(chunk.NewPGStore(pg), cfg.Lexical, nil)
	if err := provider.Rebuild(ctx); err != nil {
		return err
	}
	snap := provider.Snapshot()
	fmt.Printf("snapshot v%d: %d docs, avg length %.1f\n", snap.Version(), snap.DocCount(), snap.AvgLength())
	return nil
}

func stats(ctx context.Context, cfg *config.Config) error {
	pg, err := postgres.New(cfg.Postgres)
	if err != nil {
		return err
	}
	defer pg.Close()

	count, err := chunk.NewPGStore(pg).Count(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("chunks in store: %d\n", count)

	snapshot, err := aggregator.NewStore(pg).LatestSnapshot(ctx)
	if err != nil {
		return err
	}
	if snapshot == nil {
		fmt.Println("no analytics snapshot persisted yet")
		return nil
	}
	fmt.Printf("last analytics snapshot: %d searches (%d degraded), %d feedback votes\n",
		snapshot.TotalSearches, snapshot.DegradedSearches, snapshot.FeedbackVotes)
	return nil
}

func flushCache(ctx context.Context, cfg *config.Config) error {
	client, err := pkgredis.NewClient(cfg.Redis)
	if err != nil {
		return err
	}
	defer client.Close()

	cache := pipeline.NewStageCache(pipeline.NewRedisStore(client), cfg.Cache)
	return cache.Invalidate(ctx)
}
