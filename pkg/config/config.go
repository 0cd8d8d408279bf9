// Package config loads and validates the engine's runtime configuration from
// environment variables, following the teacher's per-section loader pattern:
// one loadXConfig per concern, struct tags for validation, env vars with
// sensible defaults.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config is the root configuration object. Every value spec.md §6 enumerates
// lives under Cache or Pattern; Database and RPC carry the connection
// settings a runnable engine additionally needs.
type Config struct {
	Environment string `yaml:"environment" validate:"required,oneof=development staging production"`

	Cache    CacheConfig    `yaml:"cache"`
	Pattern  PatternConfig  `yaml:"pattern"`
	Database DatabaseConfig `yaml:"database"`
	RPC      RPCConfig      `yaml:"rpc"`
}

// CacheConfig carries the Indexing Cache's byte-budget and eviction knobs
// (spec.md §6).
type CacheConfig struct {
	// MaxBytes is indexingCacheMaxBytes: soft byte ceiling triggering
	// commit-time eviction. Default ~512 MiB.
	MaxBytes int64 `yaml:"max_bytes" validate:"gt=0"`
	// FlushRatio is indexingCacheFlushRatio: fraction of ops retained on
	// eviction. Default 0.25.
	FlushRatio float64 `yaml:"flush_ratio" validate:"gt=0,lte=1"`
	// SyncEventsQuerySize affects prefetch batch sizing, not the cache
	// itself.
	SyncEventsQuerySize int `yaml:"sync_events_query_size" validate:"gt=0"`
}

// PatternConfig carries the Pattern Matcher / Prefetch Controller's tuning
// knobs (spec.md §6).
type PatternConfig struct {
	// SamplingRate: pattern-recording samples 1-in-N handler calls.
	SamplingRate int `yaml:"sampling_rate" validate:"gt=0"`
	// DBPredictionThreshold, RPCPredictionThreshold: prefetch EV cutoffs.
	DBPredictionThreshold  float64 `yaml:"db_prediction_threshold" validate:"gte=0,lte=1"`
	RPCPredictionThreshold float64 `yaml:"rpc_prediction_threshold" validate:"gte=0,lte=1"`
	// MaxConstantPatternCount: constant-pattern LRU capacity per event name.
	MaxConstantPatternCount int `yaml:"max_constant_pattern_count" validate:"gt=0"`
}

// DatabaseConfig carries the Postgres connection pool settings consumed by
// internal/sqlstore.
type DatabaseConfig struct {
	DSN             string        `yaml:"dsn" validate:"required"`
	MaxOpenConns    int           `yaml:"max_open_conns" validate:"gt=0"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// RPCConfig carries the upstream chain RPC transport's retry/backoff
// settings, consumed by internal/chainrpc and internal/rpccache.
type RPCConfig struct {
	Endpoint     string        `yaml:"endpoint" validate:"required"`
	BaseBackoff  time.Duration `yaml:"base_backoff" validate:"gt=0"`
	MaxRetries   int           `yaml:"max_retries" validate:"gte=0"`
	RequestStore string        `yaml:"request_store"` // bbolt file path
}

var validate = validator.New()

// Load builds a Config from environment variables, applying spec.md §6's
// documented defaults where a variable is unset.
func Load() (*Config, error) {
	cfg := &Config{
		Environment: getEnvString("CHAININDEX_ENV", "development"),
		Cache:       loadCacheConfig(),
		Pattern:     loadPatternConfig(),
		Database:    loadDatabaseConfig(),
		RPC:         loadRPCConfig(),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadCacheConfig() CacheConfig {
	return CacheConfig{
		MaxBytes:            getEnvInt64("CHAININDEX_CACHE_MAX_BYTES", 512*1024*1024),
		FlushRatio:          getEnvFloat("CHAININDEX_CACHE_FLUSH_RATIO", 0.25),
		SyncEventsQuerySize: getEnvInt("CHAININDEX_SYNC_EVENTS_QUERY_SIZE", 2000),
	}
}

func loadPatternConfig() PatternConfig {
	return PatternConfig{
		SamplingRate:            getEnvInt("CHAININDEX_SAMPLING_RATE", 10),
		DBPredictionThreshold:   getEnvFloat("CHAININDEX_DB_PREDICTION_THRESHOLD", 0.2),
		RPCPredictionThreshold:  getEnvFloat("CHAININDEX_RPC_PREDICTION_THRESHOLD", 0.8),
		MaxConstantPatternCount: getEnvInt("CHAININDEX_MAX_CONSTANT_PATTERN_COUNT", 10),
	}
}

func loadDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		DSN:             getEnvString("CHAININDEX_DATABASE_DSN", "postgres://localhost:5432/chainindex"),
		MaxOpenConns:    getEnvInt("CHAININDEX_DATABASE_MAX_OPEN_CONNS", 10),
		ConnMaxLifetime: getEnvDuration("CHAININDEX_DATABASE_CONN_MAX_LIFETIME", time.Hour),
	}
}

func loadRPCConfig() RPCConfig {
	return RPCConfig{
		Endpoint:     getEnvString("CHAININDEX_RPC_ENDPOINT", "http://localhost:8545"),
		BaseBackoff:  getEnvDuration("CHAININDEX_RPC_BASE_BACKOFF", 125*time.Millisecond),
		MaxRetries:   getEnvInt("CHAININDEX_RPC_MAX_RETRIES", 9),
		RequestStore: getEnvString("CHAININDEX_RPC_REQUEST_STORE", "chainindex-requests.db"),
	}
}

// Validate runs struct-tag validation plus the business rules spec.md §6
// calls out explicitly (thresholds ordered, flush ratio meaningful).
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("config validation: %w", err)
	}
	if c.Pattern.DBPredictionThreshold >= c.Pattern.RPCPredictionThreshold {
		return fmt.Errorf("config validation: db_prediction_threshold (%.2f) must be < rpc_prediction_threshold (%.2f)",
			c.Pattern.DBPredictionThreshold, c.Pattern.RPCPredictionThreshold)
	}
	return nil
}

func getEnvString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
