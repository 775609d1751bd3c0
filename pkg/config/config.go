// Package config loads and validates application configuration from YAML
// files with environment-variable overrides. It provides typed structs for
// every subsystem (Server, Postgres, Redis, Kafka, Embedding, Rerank,
// Pipeline, etc.).
package config

import (
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Postgres   PostgresConfig   `yaml:"postgres"`
	Redis      RedisConfig      `yaml:"redis"`
	Kafka      KafkaConfig      `yaml:"kafka"`
	Embedding  EmbeddingConfig  `yaml:"embedding"`
	Rerank     RerankConfig     `yaml:"rerank"`
	Generation GenerationConfig `yaml:"generation"`
	Pipeline   PipelineConfig   `yaml:"pipeline"`
	Lexical    LexicalConfig    `yaml:"lexical"`
	Cache      CacheConfig      `yaml:"cache"`
	Analytics  AnalyticsConfig  `yaml:"analytics"`
	Logging    LoggingConfig    `yaml:"logging"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
}

// PostgresConfig holds PostgreSQL connection parameters. The chunk store,
// feedback scores, and corpus scans all live here; the embedding column is
// a pgvector type.
type PostgresConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Database        string        `yaml:"database"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	SSLMode         string        `yaml:"sslMode"`
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
	QueryTimeout    time.Duration `yaml:"queryTimeout"`
}

// DSN returns a lib/pq-compatible data source name.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

// RedisConfig holds Redis connection parameters for the stage cache.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"poolSize"`
}

// KafkaConfig holds Kafka broker and topic settings.
type KafkaConfig struct {
	Brokers       []string    `yaml:"brokers"`
	ConsumerGroup string      `yaml:"consumerGroup"`
	Topics        KafkaTopics `yaml:"topics"`
}

// KafkaTopics maps logical topic names to their Kafka topic strings.
type KafkaTopics struct {
	DocumentIngest  string `yaml:"documentIngest"`
	AnalyticsEvents string `yaml:"analyticsEvents"`
	CacheInvalidate string `yaml:"cacheInvalidate"`
}

// EmbeddingConfig controls the embedding generator. Dimension must agree
// with the vector column in the chunk store; a mismatch is rejected at
// startup, never tolerated at query time.
type EmbeddingConfig struct {
	Model     string        `yaml:"model"`
	Dimension int           `yaml:"dimension"`
	Timeout   time.Duration `yaml:"timeout"`
}

// RerankConfig controls the cross-encoder scoring service and its circuit
// breaker. An empty Endpoint selects the heuristic fallback scorer at
// startup.
type RerankConfig struct {
	Endpoint         string        `yaml:"endpoint"`
	Model            string        `yaml:"model"`
	Timeout          time.Duration `yaml:"timeout"`
	MaxBatchSize     int           `yaml:"maxBatchSize"`
	FailureThreshold int           `yaml:"failureThreshold"`
	ResetTimeout     time.Duration `yaml:"resetTimeout"`
}

// GenerationConfig controls the answer-generation model.
type GenerationConfig struct {
	Model     string        `yaml:"model"`
	MaxTokens int           `yaml:"maxTokens"`
	Timeout   time.Duration `yaml:"timeout"`
}

// PipelineConfig controls retrieval depth, fusion and composite weights,
// and context assembly.
type PipelineConfig struct {
	DefaultTopK      int              `yaml:"defaultTopK"`
	MaxTopK          int              `yaml:"maxTopK"`
	CandidateCount   int              `yaml:"candidateCount"`
	RerankDepth      int              `yaml:"rerankDepth"`
	ContextBudget    int              `yaml:"contextBudget"`
	VectorWeight     float64          `yaml:"vectorWeight"`
	LexicalWeight    float64          `yaml:"lexicalWeight"`
	Composite        CompositeWeights `yaml:"composite"`
	RetrievalTimeout time.Duration    `yaml:"retrievalTimeout"`
}

// CompositeWeights are the five signal weights of the final ranking score.
// They must sum to 1.0.
type CompositeWeights struct {
	Hybrid       float64 `yaml:"hybrid"`
	CrossEncoder float64 `yaml:"crossEncoder"`
	Quality      float64 `yaml:"quality"`
	Freshness    float64 `yaml:"freshness"`
	Feedback     float64 `yaml:"feedback"`
}

// Sum returns the total of all five weights.
func (w CompositeWeights) Sum() float64 {
	return w.Hybrid + w.CrossEncoder + w.Quality + w.Freshness + w.Feedback
}

// LexicalConfig controls BM25 parameters and corpus-statistics rebuilds.
type LexicalConfig struct {
	K1               float64       `yaml:"k1"`
	B                float64       `yaml:"b"`
	RebuildInterval  time.Duration `yaml:"rebuildInterval"`
	RebuildThreshold int           `yaml:"rebuildThreshold"`
}

// CacheConfig holds per-stage TTLs for the Redis stage cache.
type CacheConfig struct {
	Enabled      bool          `yaml:"enabled"`
	RetrievalTTL time.Duration `yaml:"retrievalTTL"`
	HybridTTL    time.Duration `yaml:"hybridTTL"`
	ResponseTTL  time.Duration `yaml:"responseTTL"`
}

// AnalyticsConfig controls event batching toward Kafka and periodic
// persistence of aggregated stats.
type AnalyticsConfig struct {
	BatchSize        int           `yaml:"batchSize"`
	FlushInterval    time.Duration `yaml:"flushInterval"`
	SnapshotInterval time.Duration `yaml:"snapshotInterval"`
}

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig controls the Prometheus metrics server.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Load reads a YAML config file (if provided), applies environment-variable
// overrides, and validates the result.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// Validate rejects configurations that would produce wrong rankings or a
// store/embedder dimension mismatch.
func (c *Config) Validate() error {
	if c.Embedding.Dimension <= 0 {
		return fmt.Errorf("embedding.dimension must be positive, got %d", c.Embedding.Dimension)
	}
	if c.Pipeline.DefaultTopK < 1 {
		return fmt.Errorf("pipeline.defaultTopK must be >= 1, got %d", c.Pipeline.DefaultTopK)
	}
	if c.Pipeline.VectorWeight < 0 || c.Pipeline.LexicalWeight < 0 {
		return fmt.Errorf("fusion weights must be non-negative")
	}
	if s := c.Pipeline.VectorWeight + c.Pipeline.LexicalWeight; math.Abs(s-1.0) > 1e-9 {
		return fmt.Errorf("fusion weights must sum to 1.0, got %v", s)
	}
	if s := c.Pipeline.Composite.Sum(); math.Abs(s-1.0) > 1e-9 {
		return fmt.Errorf("composite weights must sum to 1.0, got %v", s)
	}
	if c.Lexical.K1 <= 0 || c.Lexical.B < 0 || c.Lexical.B > 1 {
		return fmt.Errorf("lexical BM25 parameters out of range: k1=%v b=%v", c.Lexical.K1, c.Lexical.B)
	}
	if c.Pipeline.ContextBudget <= 0 {
		return fmt.Errorf("pipeline.contextBudget must be positive, got %d", c.Pipeline.ContextBudget)
	}
	return nil
}

// defaultConfig returns a Config with production-ready defaults for local
// development.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "searchpipe",
			User:            "searchpipe",
			Password:        "localdev",
			SSLMode:         "disable",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
			QueryTimeout:    3 * time.Second,
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			Password: "",
			DB:       0,
			PoolSize: 10,
		},
		Kafka: KafkaConfig{
			Brokers:       []string{"localhost:9092"},
			ConsumerGroup: "searchpipe-group",
			Topics: KafkaTopics{
				DocumentIngest:  "document-ingest",
				AnalyticsEvents: "search-analytics",
				CacheInvalidate: "cache-invalidate",
			},
		},
		Embedding: EmbeddingConfig{
			Model:     "text-embedding-3-small",
			Dimension: 1024,
			Timeout:   5 * time.Second,
		},
		Rerank: RerankConfig{
			Endpoint:         "",
			Model:            "cross-encoder/ms-marco-MiniLM-L-6-v2",
			Timeout:          2 * time.Second,
			MaxBatchSize:     20,
			FailureThreshold: 5,
			ResetTimeout:     30 * time.Second,
		},
		Generation: GenerationConfig{
			Model:     "gpt-4o-mini",
			MaxTokens: 1024,
			Timeout:   30 * time.Second,
		},
		Pipeline: PipelineConfig{
			DefaultTopK:    8,
			MaxTopK:        50,
			CandidateCount: 50,
			RerankDepth:    20,
			ContextBudget:  4000,
			VectorWeight:   0.7,
			LexicalWeight:  0.3,
			Composite: CompositeWeights{
				Hybrid:       0.4,
				CrossEncoder: 0.3,
				Quality:      0.1,
				Freshness:    0.1,
				Feedback:     0.1,
			},
			RetrievalTimeout: 3 * time.Second,
		},
		Lexical: LexicalConfig{
			K1:               1.2,
			B:                0.75,
			RebuildInterval:  4 * time.Hour,
			RebuildThreshold: 500,
		},
		Cache: CacheConfig{
			Enabled:      true,
			RetrievalTTL: time.Hour,
			HybridTTL:    time.Hour,
			ResponseTTL:  30 * time.Minute,
		},
		Analytics: AnalyticsConfig{
			BatchSize:        100,
			FlushInterval:    5 * time.Second,
			SnapshotInterval: 15 * time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
		},
	}
}

// applyEnvOverrides reads RS_* environment variables and overrides the
// corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("RS_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("RS_POSTGRES_HOST"); v != "" {
		cfg.Postgres.Host = v
	}
	if v := os.Getenv("RS_POSTGRES_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Postgres.Port = port
		}
	}
	if v := os.Getenv("RS_POSTGRES_DATABASE"); v != "" {
		cfg.Postgres.Database = v
	}
	if v := os.Getenv("RS_POSTGRES_USER"); v != "" {
		cfg.Postgres.User = v
	}
	if v := os.Getenv("RS_POSTGRES_PASSWORD"); v != "" {
		cfg.Postgres.Password = v
	}
	if v := os.Getenv("RS_POSTGRES_SSLMODE"); v != "" {
		cfg.Postgres.SSLMode = v
	}
	if v := os.Getenv("RS_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("RS_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("RS_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("RS_EMBEDDING_MODEL"); v != "" {
		cfg.Embedding.Model = v
	}
	if v := os.Getenv("RS_EMBEDDING_DIMENSION"); v != "" {
		if dim, err := strconv.Atoi(v); err == nil {
			cfg.Embedding.Dimension = dim
		}
	}
	if v := os.Getenv("RS_RERANK_ENDPOINT"); v != "" {
		cfg.Rerank.Endpoint = v
	}
	if v := os.Getenv("RS_GENERATION_MODEL"); v != "" {
		cfg.Generation.Model = v
	}
	if v := os.Getenv("RS_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("RS_LOGGING_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}
