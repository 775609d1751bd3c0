package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/onelab-ops/searchpipe/pkg/config"
	pkgredis "github.com/onelab-ops/searchpipe/pkg/redis"
)

const cacheKeyPrefix = "pipeline:"

// Stage names used as cache namespaces. Each stage has its own TTL.
const (
	StageRetrieval = "retrieval"
	StageHybrid    = "hybrid"
	StageResponse  = "response"
)

// CacheStore is the minimal key-value surface the stage cache needs. The
// Redis client satisfies it in production; tests plug in a map.
type CacheStore interface {
	Get(ctx context.Context, key string) (value string, found bool, err error)
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
	DeleteByPattern(ctx context.Context, pattern string) (int64, error)
}

// redisStore adapts pkg/redis to CacheStore.
type redisStore struct {
	client *pkgredis.Client
}

// NewRedisStore wraps a Redis client for use as the stage cache backend.
func NewRedisStore(client *pkgredis.Client) CacheStore {
	return &redisStore{client: client}
}

func (s *redisStore) Get(ctx context.Context, key string) (string, bool, error) {
	value, err := s.client.Get(ctx, key)
	if err != nil {
		if pkgredis.IsNilError(err) {
			return "", false, nil
		}
		return "", false, err
	}
	return value, true, nil
}

func (s *redisStore) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	return s.client.Set(ctx, key, value, ttl)
}

func (s *redisStore) DeleteByPattern(ctx context.Context, pattern string) (int64, error) {
	return s.client.FlushByPattern(ctx, pattern)
}

// StageCache caches intermediate stage outputs keyed by a deterministic
// hash of (stage, inputs). It is strictly an optimisation: the pipeline
// produces identical results with the cache disabled.
type StageCache struct {
	store  CacheStore
	cfg    config.CacheConfig
	group  singleflight.Group
	logger *slog.Logger
	hits   atomic.Int64
	misses atomic.Int64
}

// NewStageCache creates a StageCache over the given backend.
func NewStageCache(store CacheStore, cfg config.CacheConfig) *StageCache {
	return &StageCache{
		store:  store,
		cfg:    cfg,
		logger: slog.Default().With("component", "stage-cache"),
	}
}

// TTL returns the configured lifetime for a stage's entries.
func (c *StageCache) TTL(stage string) time.Duration {
	switch stage {
	case StageRetrieval:
		return c.cfg.RetrievalTTL
	case StageHybrid:
		return c.cfg.HybridTTL
	case StageResponse:
		return c.cfg.ResponseTTL
	default:
		return c.cfg.HybridTTL
	}
}

// Key builds the deterministic cache key for a stage and its inputs.
func (c *StageCache) Key(stage string, parts ...string) string {
	raw := stage + "\x00" + strings.Join(parts, "\x00")
	hash := sha256.Sum256([]byte(raw))
	return fmt.Sprintf("%s%s:%x", cacheKeyPrefix, stage, hash[:16])
}

// Invalidate drops every cached stage entry.
func (c *StageCache) Invalidate(ctx context.Context) error {
	deleted, err := c.store.DeleteByPattern(ctx, cacheKeyPrefix+"*")
	if err != nil {
		return fmt.Errorf("invalidating stage cache: %w", err)
	}
	c.logger.Info("stage cache invalidated", "keys_deleted", deleted)
	return nil
}

// Stats returns cumulative hit and miss counts.
func (c *StageCache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

// CachedStage runs compute through the cache. A nil StageCache computes
// directly. Concurrent callers with the same key share one computation via
// singleflight. Cache backend failures degrade to computing; they never
// fail the request. cacheIf (nil means always) decides whether a computed
// value may be stored — degraded outputs must not be pinned for a TTL.
func CachedStage[T any](ctx context.Context, c *StageCache, stage, key string, compute func() (T, error), cacheIf func(T) bool) (T, bool, error) {
	var zero T
	if c == nil {
		v, err := compute()
		return v, false, err
	}

	if data, found, err := c.store.Get(ctx, key); err != nil {
		c.logger.Error("cache get failed", "stage", stage, "error", err)
	} else if found {
		var cached T
		if err := json.Unmarshal([]byte(data), &cached); err == nil {
			c.hits.Add(1)
			return cached, true, nil
		}
		c.logger.Error("cache entry corrupt, recomputing", "stage", stage, "key", key)
	}
	c.misses.Add(1)

	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		result, err := compute()
		if err != nil {
			return nil, err
		}
		if cacheIf != nil && !cacheIf(result) {
			return result, nil
		}
		if data, err := json.Marshal(result); err != nil {
			c.logger.Error("cache marshal failed", "stage", stage, "error", err)
		} else if err := c.store.Set(ctx, key, string(data), c.TTL(stage)); err != nil {
			c.logger.Error("cache set failed", "stage", stage, "error", err)
		}
		return result, nil
	})
	if err != nil {
		return zero, false, err
	}
	return v.(T), false, nil
}
