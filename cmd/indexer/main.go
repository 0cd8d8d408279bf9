// Command indexer wires the write-back indexing cache and its RPC-prefetch
// companion into a runnable process: config → logger → metrics → Postgres
// pool → chain RPC client → persistent request store → pattern matchers →
// indexing cache → prefetch controller → historical store façade → runtime
// driver. The event decoder itself is out of scope (spec.md §1); this
// binary accepts whatever produces a stream of runtime.Batch values.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"chainindex/internal/chainrpc"
	"chainindex/internal/indexcache"
	"chainindex/internal/pattern"
	"chainindex/internal/prefetch"
	"chainindex/internal/reqstore"
	"chainindex/internal/rpccache"
	"chainindex/internal/runtime"
	"chainindex/internal/schema"
	"chainindex/pkg/config"
	"chainindex/pkg/observability"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger, err := newLogger(cfg.Environment)
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)
	go serveMetrics(registry, logger)

	schemaDir := getenv("CHAININDEX_SCHEMA_DIR", "schema")
	tables, err := schema.LoadDir(schemaDir)
	if err != nil {
		logger.Fatal("failed to load schema descriptors", zap.Error(err))
	}

	pool, err := pgxpool.New(ctx, cfg.Database.DSN)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer pool.Close()

	rpcClient, err := chainrpc.Dial(ctx, cfg.RPC.Endpoint)
	if err != nil {
		logger.Fatal("failed to dial chain RPC endpoint", zap.Error(err))
	}
	defer rpcClient.Close()

	requestStore, err := reqstore.Open(cfg.RPC.RequestStore)
	if err != nil {
		logger.Fatal("failed to open request-result store", zap.Error(err))
	}
	defer requestStore.Close()

	rpcCache := rpccache.New(rpcClient, requestStore, metrics, logger, cfg.RPC.BaseBackoff, uint64(cfg.RPC.MaxRetries))

	rowMatcher := pattern.NewMatcher(cfg.Pattern.SamplingRate, cfg.Pattern.MaxConstantPatternCount)
	rpcMatcher := pattern.NewMatcher(cfg.Pattern.SamplingRate, cfg.Pattern.MaxConstantPatternCount)

	chainID := getenvUint64("CHAININDEX_CHAIN_ID", 1)

	// reader/flusher/bulkReader are rebound to a fresh sqlstore.Store every
	// batch via SetCollaborators/SetBulkReader (internal/runtime.Driver), so
	// the cache and the prefetch controller don't need one at construction.
	isCacheComplete := getenv("CHAININDEX_CACHE_COMPLETE", "false") == "true"
	cache := indexcache.New(tables, nil, nil, metrics, logger, cfg.Cache.MaxBytes, cfg.Cache.FlushRatio, isCacheComplete)

	tablesByName := make(map[string]schema.Table, len(tables))
	for _, t := range tables {
		tablesByName[t.Name] = t
	}
	prefetchController := prefetch.New(rowMatcher, rpcMatcher, rpcCache, nil, tablesByName, chainID,
		cfg.Pattern.DBPredictionThreshold, cfg.Pattern.RPCPredictionThreshold, logger)

	handlers := runtime.NewRegistry(logger)
	registerHandlers(handlers)

	driver := runtime.New(pool, cache, handlers, prefetchController, tables, logger)

	checkpoint, err := driver.Prepare(ctx)
	if err != nil {
		logger.Fatal("failed to prepare runtime driver", zap.Error(err))
	}
	logger.Info("resuming from checkpoint", zap.Uint64("checkpoint", checkpoint))

	batches := newDecoder(checkpoint).Batches(ctx)

	errCh := make(chan error, 1)
	go func() { errCh <- driver.Run(ctx, batches) }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		logger.Info("shutdown signal received, draining in-flight batch")
		cancel()
		select {
		case err := <-errCh:
			if err != nil && err != context.Canceled {
				logger.Error("driver stopped with error", zap.Error(err))
			}
		case <-time.After(30 * time.Second):
			logger.Warn("driver shutdown timeout exceeded")
		}
	case err := <-errCh:
		if err != nil {
			logger.Fatal("driver stopped with error", zap.Error(err))
		}
	}

	logger.Info("chainindex stopped")
}

func newLogger(environment string) (*zap.Logger, error) {
	if environment == "production" {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}

func serveMetrics(registry *prometheus.Registry, logger *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	addr := getenv("CHAININDEX_METRICS_ADDR", ":9090")
	logger.Info("serving metrics", zap.String("addr", addr))
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Error("metrics server stopped", zap.Error(err))
	}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvUint64(key string, fallback uint64) uint64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return fallback
	}
	return n
}
