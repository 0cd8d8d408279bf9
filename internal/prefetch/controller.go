// Package prefetch implements the Prefetch Controller (spec.md §4.7): at
// batch boundaries, consults the Pattern Matcher's learned patterns to
// predict DB row lookups and RPC calls for the next batch, scheduling both
// into their respective caches. The time-window/size-trigger batching model
// is grounded in the teacher's application/loaders/batcher.go (a generic
// Batcher[K,V] that groups pending keys and issues one batchFn call instead
// of one round-trip per key) — here specialized to "predict keys, issue one
// bulk SELECT per table".
package prefetch

import (
	"context"

	"go.uber.org/zap"

	"chainindex/internal/chainevent"
	"chainindex/internal/indexcache"
	"chainindex/internal/pattern"
	"chainindex/internal/rpccache"
	"chainindex/internal/schema"
)

// RowAccess names one (table, pk-column-values) pair a handler has looked up
// for an event. Handlers report these via RecordRowAccess so the Controller
// can learn the same pattern machinery §4.3 uses for RPC calls.
type RowAccess struct {
	Table     string
	PKColumns []string
	PKValues  []string
}

// Controller implements indexcache.PrefetchController.
type Controller struct {
	rowMatcher *pattern.Matcher
	rpcMatcher *pattern.Matcher
	rpcCache   *rpccache.Cache
	bulkReader indexcache.BulkReader
	tables     map[string]schema.Table
	chainID    uint64

	dbThreshold  float64
	rpcThreshold float64

	logger *zap.Logger
}

// New constructs a Controller. rowMatcher and rpcMatcher may be the same
// *pattern.Matcher (event names are namespaced internally by the caller
// convention "row:<table>:<event>" vs "rpc:<event>") or two separate
// instances; kept distinct here so row-access and RPC-call statistics don't
// share one LRU budget.
func New(rowMatcher, rpcMatcher *pattern.Matcher, rpcCache *rpccache.Cache, bulkReader indexcache.BulkReader, tables map[string]schema.Table, chainID uint64, dbThreshold, rpcThreshold float64, logger *zap.Logger) *Controller {
	return &Controller{
		rowMatcher:   rowMatcher,
		rpcMatcher:   rpcMatcher,
		rpcCache:     rpcCache,
		bulkReader:   bulkReader,
		tables:       tables,
		chainID:      chainID,
		dbThreshold:  dbThreshold,
		rpcThreshold: rpcThreshold,
		logger:       logger,
	}
}

// RecordRowAccess lets the runtime teach the row matcher, on a sampled
// fraction of handler invocations, which rows a given event name tends to
// read — the prerequisite for step 1 below.
func (c *Controller) RecordRowAccess(ev *chainevent.Event, access RowAccess) {
	if len(access.PKValues) == 0 {
		return
	}
	eventName := rowEventName(access.Table, ev.Name)
	if !c.rowMatcher.ShouldSample(eventName) {
		return
	}
	c.rowMatcher.Record(eventName, ev, pattern.Call{
		Address: access.PKValues[0],
		Args:    access.PKValues[1:],
	})
}

// RecordRPCCall is the RPC analogue: it records an actual RPC call made
// while handling ev, on a sampled fraction of calls.
func (c *Controller) RecordRPCCall(ev *chainevent.Event, call pattern.Call) {
	eventName := rpcEventName(ev.Name)
	if !c.rpcMatcher.ShouldSample(eventName) {
		return
	}
	c.rpcMatcher.Record(eventName, ev, call)
}

// SetBulkReader rebinds the per-table multi-key SELECT collaborator to a
// fresh per-batch transaction, mirroring indexcache.Cache.SetCollaborators.
func (c *Controller) SetBulkReader(bulkReader indexcache.BulkReader) { c.bulkReader = bulkReader }

func rowEventName(table, eventName string) string { return "row:" + table + ":" + eventName }
func rpcEventName(eventName string) string        { return "rpc:" + eventName }

// Run implements indexcache.PrefetchController: row prefetch, then RPC
// prefetch, then the eviction hint.
func (c *Controller) Run(ctx context.Context, events []*chainevent.Event, cache *indexcache.Cache) error {
	if err := c.runRowPrefetch(ctx, events, cache); err != nil {
		return err
	}
	c.runRPCPrefetch(ctx, events)

	if int64(cache.CacheBytes()+cache.SpilloverBytes()) > cache.MaxBytes() {
		cache.EvictNow()
	}
	return nil
}

// runRowPrefetch implements spec.md §4.7 step 1: recover learned
// table-access patterns per event, collect (table,key) pairs, issue one
// bulk SELECT per table, install results into spillover.
func (c *Controller) runRowPrefetch(ctx context.Context, events []*chainevent.Event, cache *indexcache.Cache) error {
	predicted := make(map[string][]indexcache.Key) // table -> keys
	for tableName, table := range c.tables {
		for _, ev := range events {
			eventName := rowEventName(tableName, ev.Name)
			for _, p := range c.rowMatcher.PatternsForEvent(eventName) {
				call, ok := pattern.Recover(p, ev)
				if !ok {
					continue
				}
				values := append([]string{call.Address}, call.Args...)
				pkValues := make(map[string]any, len(table.PrimaryKey()))
				for i, col := range table.PrimaryKey() {
					if i >= len(values) {
						break
					}
					pkValues[col.Name] = values[i]
				}
				key, err := indexcache.KeyFromValues(table, pkValues)
				if err != nil {
					continue
				}
				predicted[tableName] = append(predicted[tableName], key)
			}
		}
	}

	for tableName, keys := range predicted {
		if len(keys) == 0 {
			continue
		}
		table := c.tables[tableName]
		rows, err := c.bulkReader.SelectByKeys(ctx, table, keys)
		if err != nil {
			if c.logger != nil {
				c.logger.Warn("row prefetch failed", zap.String("table", tableName), zap.Error(err))
			}
			continue
		}
		for _, key := range keys {
			row, found := rows[key]
			cache.InstallSpillover(tableName, key, row, found)
		}
	}
	return nil
}

// runRPCPrefetch implements spec.md §4.7 step 2: delegate to §4.4's
// prefetch, after deduplicating recovered calls by fingerprint and summing
// expected values across every event in the batch (the Controller's own
// responsibility, since the RPC Cache only sees one call at a time).
func (c *Controller) runRPCPrefetch(ctx context.Context, events []*chainevent.Event) {
	type agg struct {
		call pattern.Call
		ev   float64
	}
	byFingerprint := make(map[string]*agg)

	for _, ev := range events {
		eventName := rpcEventName(ev.Name)
		for _, p := range c.rpcMatcher.PatternsForEvent(eventName) {
			call, ok := pattern.Recover(p, ev)
			if !ok {
				continue
			}
			req := rpccache.Request{Method: call.FunctionName, Params: []any{call.Address, call.Args}}
			fp, err := rpccache.Fingerprint(req)
			if err != nil {
				continue
			}
			evEstimate := c.rpcMatcher.ExpectedValue(eventName, p)
			if existing, ok := byFingerprint[fp]; ok {
				existing.ev += evEstimate
			} else {
				byFingerprint[fp] = &agg{call: call, ev: evEstimate}
			}
		}
	}

	calls := make([]rpccache.PredictedCall, 0, len(byFingerprint))
	for _, a := range byFingerprint {
		calls = append(calls, rpccache.PredictedCall{
			ChainID: c.chainID,
			Request: rpccache.Request{Method: a.call.FunctionName, Params: []any{a.call.Address, a.call.Args}},
			Options: rpccache.CallOptions{
				Action: rpccache.ActionReadContract,
			},
			ExpectedValue: a.ev,
		})
	}
	c.rpcCache.Prefetch(ctx, calls, c.dbThreshold, c.rpcThreshold)
}
