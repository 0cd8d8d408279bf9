package indexcache

import (
	"context"

	"go.uber.org/zap"

	"chainindex/internal/chainevent"
	"chainindex/internal/normalize"
	"chainindex/internal/schema"
	cierrors "chainindex/pkg/errors"
	"chainindex/pkg/observability"
)

// tableState holds the four tiers for one table (spec.md §3).
type tableState struct {
	cache        map[Key]*Entry
	spillover    map[Key]*Entry
	insertBuffer map[Key]*BufferEntry
	updateBuffer map[Key]*BufferEntry
}

func newTableState() *tableState {
	return &tableState{
		cache:        make(map[Key]*Entry),
		spillover:    make(map[Key]*Entry),
		insertBuffer: make(map[Key]*BufferEntry),
		updateBuffer: make(map[Key]*BufferEntry),
	}
}

// Cache is the Indexing Cache (spec.md §4.5), the central component. Its own
// state (tiers, counters) is not protected by locks: spec.md §5 mandates a
// single-threaded cooperative scheduler, so mutations are only ever observed
// between suspension points.
type Cache struct {
	tables map[string]*tableState
	schema map[string]schema.Table

	isCacheComplete bool
	cacheBytes      uint64
	spilloverBytes  uint64
	totalCacheOps   uint64

	maxBytes   int64
	flushRatio float64

	reader  Reader
	flusher FlushExecutor
	metrics *observability.Metrics
	logger  *zap.Logger

	// event is the event currently being dispatched (spec.md §3's "global
	// event pointer"), set by the runtime before each handler and read by
	// the Pattern Matcher via the caller-supplied argument, per spec.md
	// §9's recommendation to thread it explicitly rather than mutate a
	// field. We keep the field for API parity with spec.md §3: SetEvent and
	// Event store and return it, and nothing else in the cache reads it. Get
	// and Set take no event; Prefetch receives its events as an argument.
	event *chainevent.Event
}

// New constructs a Cache for the given set of table descriptors. The initial
// completeness flag is isCacheComplete (spec.md §3: "true ... at chain
// genesis").
func New(tables []schema.Table, reader Reader, flusher FlushExecutor, metrics *observability.Metrics, logger *zap.Logger, maxBytes int64, flushRatio float64, isCacheComplete bool) *Cache {
	c := &Cache{
		tables:          make(map[string]*tableState),
		schema:          make(map[string]schema.Table),
		isCacheComplete: isCacheComplete,
		maxBytes:        maxBytes,
		flushRatio:      flushRatio,
		reader:          reader,
		flusher:         flusher,
		metrics:         metrics,
		logger:          logger,
	}
	for _, t := range tables {
		c.tables[t.Name] = newTableState()
		c.schema[t.Name] = t
	}
	return c
}

// SetCollaborators rebinds the DB-facing reader and flusher to a fresh
// per-batch transaction. The runtime calls this once per batch, since a
// sqlstore.Store is scoped to one pgx.Tx and the Cache itself outlives every
// individual transaction (spec.md §5 "Shared resources": the cache is
// long-lived, the transaction is not).
func (c *Cache) SetCollaborators(reader Reader, flusher FlushExecutor) {
	c.reader = reader
	c.flusher = flusher
}

// SetEvent records the event currently being dispatched, for the Pattern
// Matcher's benefit.
func (c *Cache) SetEvent(ev *chainevent.Event) { c.event = ev }

// Event returns the event currently being dispatched.
func (c *Cache) Event() *chainevent.Event { return c.event }

func (c *Cache) state(table string) *tableState {
	ts, ok := c.tables[table]
	if !ok {
		ts = newTableState()
		c.tables[table] = ts
	}
	return ts
}

// Has implements spec.md §4.5's has(): true if any tier contains the key, or
// isCacheComplete is true. Pure read, no side effects.
func (c *Cache) Has(table string, key Key) bool {
	if c.isCacheComplete {
		return true
	}
	ts := c.state(table)
	if _, ok := ts.updateBuffer[key]; ok {
		return true
	}
	if _, ok := ts.insertBuffer[key]; ok {
		return true
	}
	if _, ok := ts.spillover[key]; ok {
		return true
	}
	if _, ok := ts.cache[key]; ok {
		return true
	}
	return false
}

// Get implements spec.md §4.5's get(): tier precedence per I1, with a DB
// read on a total miss when isCacheComplete is false.
func (c *Cache) Get(ctx context.Context, table schema.Table, key Key) (normalize.Row, bool, error) {
	ts := c.state(table.Name)

	if b, ok := ts.updateBuffer[key]; ok {
		c.metricHit(table.Name, "updateBuffer")
		return b.Row, true, nil
	}
	if b, ok := ts.insertBuffer[key]; ok {
		c.metricHit(table.Name, "insertBuffer")
		return b.Row, true, nil
	}
	if e, ok := ts.spillover[key]; ok {
		e.OpIndex = c.nextOp()
		c.metricHit(table.Name, "spillover")
		if e.Tomb {
			return normalize.Row{}, false, nil
		}
		return e.Row, true, nil
	}
	if e, ok := ts.cache[key]; ok {
		e.OpIndex = c.nextOp()
		c.metricHit(table.Name, "cache")
		if e.Tomb {
			return normalize.Row{}, false, nil
		}
		return e.Row, true, nil
	}

	if c.isCacheComplete {
		return normalize.Row{}, false, nil
	}

	c.metricMiss(table.Name)
	row, found, err := c.reader.SelectByKey(ctx, table, key)
	if err != nil {
		return normalize.Row{}, false, err
	}
	entry := &Entry{OpIndex: c.nextOp(), Tomb: !found}
	if found {
		entry.Row = row
		entry.Bytes = EstimateBytes(row)
		c.spilloverBytes += entry.Bytes
	}
	ts.spillover[key] = entry
	return row, found, nil
}

func (c *Cache) nextOp() uint64 {
	c.totalCacheOps++
	return c.totalCacheOps
}

func (c *Cache) metricHit(table, tier string) {
	if c.metrics != nil {
		c.metrics.RecordCacheHit(table, tier)
	}
}

func (c *Cache) metricMiss(table string) {
	if c.metrics != nil {
		c.metrics.RecordCacheMiss(table)
	}
}

// Set implements spec.md §4.5's set(): normalizes the row then buffers it.
// On update, a patch that changes a primary-key column is a hard error
// (PrimaryKeyImmutable, invariant I4).
//
// For updates, Normalize only resolves onUpdate thunks and leaves columns
// the patch doesn't mention untouched (nil); Set fills those, except columns
// with an onUpdate thunk, from the current committed row (read through the same tier precedence and DB
// fallback Get uses) before handing the patch to Normalize, so an update
// never silently zeroes a column it wasn't asked to change.
func (c *Cache) Set(ctx context.Context, table schema.Table, key Key, partial normalize.PartialRow, isUpdate bool) (normalize.Row, error) {
	explicitPatch := partial

	if isUpdate {
		current, found, err := c.Get(ctx, table, key)
		if err != nil {
			return normalize.Row{}, err
		}
		if found {
			merged := make(normalize.PartialRow, len(table.Columns))
			for i, col := range table.Columns {
				if col.OnUpdateFn != nil {
					continue
				}
				merged[col.Name] = current.Values[i]
			}
			for k, v := range partial {
				merged[k] = v
			}
			partial = merged
		}
	}

	row, err := normalize.Normalize(table, partial, isUpdate)
	if err != nil {
		return normalize.Row{}, err
	}

	if isUpdate {
		newKey, err := KeyOf(table, row)
		if err == nil && newKey != key && pkColumnsTouched(table, explicitPatch) {
			return normalize.Row{}, cierrors.New(cierrors.KindPrimaryKeyImmut,
				"update patch modifies a primary key column")
		}
	}

	ts := c.state(table.Name)
	entry := &BufferEntry{Row: row}
	if isUpdate {
		entry.Kind = BufferUpdate
		ts.updateBuffer[key] = entry
	} else {
		entry.Kind = BufferInsert
		ts.insertBuffer[key] = entry
	}
	return row, nil
}

func pkColumnsTouched(table schema.Table, partial normalize.PartialRow) bool {
	for _, col := range table.PrimaryKey() {
		if _, ok := partial[col.Name]; ok {
			return true
		}
	}
	return false
}

// Delete implements spec.md §4.5's delete(): installs a tombstone in cache;
// issues DELETE ... RETURNING only when the cache is not already known-
// complete for this row.
func (c *Cache) Delete(ctx context.Context, table schema.Table, key Key) (bool, error) {
	ts := c.state(table.Name)

	if c.isCacheComplete {
		existed := c.existsInAnyTier(ts, key)
		ts.cache[key] = &Entry{OpIndex: c.nextOp(), Tomb: true}
		delete(ts.insertBuffer, key)
		delete(ts.updateBuffer, key)
		delete(ts.spillover, key)
		return existed, nil
	}
	if e, ok := ts.cache[key]; ok && !e.Tomb {
		ts.cache[key] = &Entry{OpIndex: c.nextOp(), Tomb: true}
		return true, nil
	}

	row, found, err := c.reader.DeleteReturning(ctx, table, key)
	_ = row
	if err != nil {
		return false, err
	}
	ts.cache[key] = &Entry{OpIndex: c.nextOp(), Tomb: true}
	return found, nil
}

func (c *Cache) existsInAnyTier(ts *tableState, key Key) bool {
	if e, ok := ts.cache[key]; ok && !e.Tomb {
		return true
	}
	if e, ok := ts.spillover[key]; ok && !e.Tomb {
		return true
	}
	if _, ok := ts.insertBuffer[key]; ok {
		return true
	}
	if _, ok := ts.updateBuffer[key]; ok {
		return true
	}
	return false
}

// Invalidate implements spec.md §4.5's invalidate(): sets isCacheComplete to
// false.
func (c *Cache) Invalidate() { c.isCacheComplete = false }

// Rollback implements spec.md §4.5's rollback(): clears spillover and both
// buffers, used on handler failure mid-batch.
func (c *Cache) Rollback() {
	for _, ts := range c.tables {
		ts.spillover = make(map[Key]*Entry)
		ts.insertBuffer = make(map[Key]*BufferEntry)
		ts.updateBuffer = make(map[Key]*BufferEntry)
	}
	c.spilloverBytes = 0
}

// Clear implements spec.md §4.5's clear(): empties all tiers.
func (c *Cache) Clear() {
	for name := range c.tables {
		c.tables[name] = newTableState()
	}
	c.cacheBytes = 0
	c.spilloverBytes = 0
}

// Prefetch implements spec.md §4.5's prefetch({events}): drives the
// Prefetch Controller.
func (c *Cache) Prefetch(ctx context.Context, events []*chainevent.Event, controller PrefetchController) error {
	return controller.Run(ctx, events, c)
}

// InstallSpillover lets the Prefetch Controller (spec.md §4.7) install a
// predicted row directly into spillover, so the first handler Get is a hit.
func (c *Cache) InstallSpillover(table string, key Key, row normalize.Row, found bool) {
	ts := c.state(table)
	if _, exists := ts.cache[key]; exists {
		return
	}
	if _, exists := ts.spillover[key]; exists {
		return
	}
	entry := &Entry{OpIndex: c.nextOp(), Tomb: !found}
	if found {
		entry.Row = row
		entry.Bytes = EstimateBytes(row)
		c.spilloverBytes += entry.Bytes
	}
	ts.spillover[key] = entry
}

// CacheBytes and SpilloverBytes expose the byte counters for tests and for
// the Prefetch Controller's eviction hint (spec.md §4.7 step 3).
func (c *Cache) CacheBytes() uint64     { return c.cacheBytes }
func (c *Cache) SpilloverBytes() uint64 { return c.spilloverBytes }
func (c *Cache) MaxBytes() int64        { return c.maxBytes }

// IsCacheComplete exposes the completeness flag for tests.
func (c *Cache) IsCacheComplete() bool { return c.isCacheComplete }

// Tables returns the schema of every table this cache manages.
func (c *Cache) Tables() map[string]schema.Table { return c.schema }
