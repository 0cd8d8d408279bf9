// Package observability is the engine's thin metrics sink. Spec.md §1 places
// the metrics registry out of scope for the core's design; this package is
// the minimal surface the core touches (counters/histograms for cache and
// RPC behavior), generalized from the teacher's CloudWatch sink
// (pkg/observability/metrics.go) onto Prometheus, since the process is no
// longer a Lambda invocation charged per PutMetricData call.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles every counter/histogram the indexing core records into.
// Handlers and callers never construct metric names themselves — they call
// a named method, mirroring the teacher's RecordX method set.
type Metrics struct {
	cacheHits      *prometheus.CounterVec
	cacheMisses    *prometheus.CounterVec
	flushLatency   *prometheus.HistogramVec
	flushRows      *prometheus.CounterVec
	evictions      *prometheus.CounterVec
	rpcRequests    *prometheus.CounterVec
	rpcRetries     *prometheus.CounterVec
	rpcLatency     *prometheus.HistogramVec
	patternHits    *prometheus.CounterVec
}

// NewMetrics registers every collector against reg and returns the bundle.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		cacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chainindex_cache_hits_total",
			Help: "Indexing cache hits by tier.",
		}, []string{"table", "tier"}),
		cacheMisses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chainindex_cache_misses_total",
			Help: "Indexing cache misses by table.",
		}, []string{"table"}),
		flushLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "chainindex_flush_latency_seconds",
			Help:    "Flush duration by table and path.",
			Buckets: prometheus.DefBuckets,
		}, []string{"table", "path"}),
		flushRows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chainindex_flush_rows_total",
			Help: "Rows flushed by table and path.",
		}, []string{"table", "path"}),
		evictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chainindex_cache_evictions_total",
			Help: "Entries evicted from the cache at commit.",
		}, []string{"table"}),
		rpcRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chainindex_rpc_requests_total",
			Help: "Upstream RPC requests by method and outcome.",
		}, []string{"method", "outcome"}),
		rpcRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chainindex_rpc_retries_total",
			Help: "Upstream RPC retry attempts by method.",
		}, []string{"method"}),
		rpcLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "chainindex_rpc_latency_seconds",
			Help:    "Upstream RPC call latency by method.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method"}),
		patternHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chainindex_pattern_hits_total",
			Help: "Pattern matcher recover() hits by event name.",
		}, []string{"event"}),
	}
	reg.MustRegister(m.cacheHits, m.cacheMisses, m.flushLatency, m.flushRows,
		m.evictions, m.rpcRequests, m.rpcRetries, m.rpcLatency, m.patternHits)
	return m
}

func (m *Metrics) RecordCacheHit(table, tier string)  { m.cacheHits.WithLabelValues(table, tier).Inc() }
func (m *Metrics) RecordCacheMiss(table string)       { m.cacheMisses.WithLabelValues(table).Inc() }
func (m *Metrics) RecordEviction(table string, n int) { m.evictions.WithLabelValues(table).Add(float64(n)) }

func (m *Metrics) RecordFlush(table, path string, rows int, d time.Duration) {
	m.flushLatency.WithLabelValues(table, path).Observe(d.Seconds())
	m.flushRows.WithLabelValues(table, path).Add(float64(rows))
}

func (m *Metrics) RecordRPCRequest(method, outcome string, d time.Duration) {
	m.rpcRequests.WithLabelValues(method, outcome).Inc()
	m.rpcLatency.WithLabelValues(method).Observe(d.Seconds())
}

func (m *Metrics) RecordRPCRetry(method string) { m.rpcRetries.WithLabelValues(method).Inc() }
func (m *Metrics) RecordPatternHit(event string) { m.patternHits.WithLabelValues(event).Inc() }
