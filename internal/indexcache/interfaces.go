package indexcache

import (
	"context"

	"chainindex/internal/chainevent"
	"chainindex/internal/normalize"
	"chainindex/internal/schema"
)

// Reader is the passthrough-DB collaborator the cache consults on a miss
// (spec.md §4.5 get/delete). Implemented by internal/sqlstore.
type Reader interface {
	SelectByKey(ctx context.Context, table schema.Table, key Key) (normalize.Row, bool, error)
	DeleteReturning(ctx context.Context, table schema.Table, key Key) (normalize.Row, bool, error)
}

// BulkReader is the multi-key SELECT the Prefetch Controller issues per
// table (spec.md §4.7 step 1). Implemented by internal/sqlstore.
type BulkReader interface {
	SelectByKeys(ctx context.Context, table schema.Table, keys []Key) (map[Key]normalize.Row, error)
}

// FlushExecutor runs the bulk COPY / temp-table UPDATE protocol (spec.md
// §4.5.1) within the caller's transaction. Implemented by internal/sqlstore.
type FlushExecutor interface {
	BulkInsert(ctx context.Context, table schema.Table, rows []normalize.Row) error
	BulkUpdate(ctx context.Context, table schema.Table, rows []normalize.Row) error
}

// PrefetchController drives spec.md §4.7: given the next batch of events, it
// installs predicted rows into spillover and predicted RPC responses into
// the RPC cache. Implemented by internal/prefetch.Controller.
type PrefetchController interface {
	Run(ctx context.Context, events []*chainevent.Event, cache *Cache) error
}
