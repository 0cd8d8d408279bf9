package runtime

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"chainindex/internal/chainevent"
	"chainindex/internal/historystore"
	"chainindex/internal/indexcache"
	"chainindex/internal/schema"
	"chainindex/internal/sqlstore"
	cierrors "chainindex/pkg/errors"
)

// Batch is one unit of work handed down by the decoder: events that share a
// prefetch window and commit together.
type Batch struct {
	Events     []*chainevent.Event
	Checkpoint uint64
}

// PrefetchRunner matches indexcache.PrefetchController's shape, accepted
// here so the driver doesn't need to import internal/prefetch directly.
type PrefetchRunner interface {
	Run(ctx context.Context, events []*chainevent.Event, cache *indexcache.Cache) error
	SetBulkReader(bulkReader indexcache.BulkReader)
}

// Driver is the single logical task spec.md §5 describes: the only caller
// of the Indexing Cache's suspension-point operations, owning the
// transaction each batch flushes into.
type Driver struct {
	pool      *pgxpool.Pool
	cache     *indexcache.Cache
	registry  *Registry
	prefetch  PrefetchRunner
	tables    []schema.Table
	logger    *zap.Logger
	tempTable sqlstore.Option
}

// New constructs a Driver. tables must be given in the deterministic order
// flush iterates them in (spec.md §5's ordering guarantee).
func New(pool *pgxpool.Pool, cache *indexcache.Cache, registry *Registry, prefetch PrefetchRunner, tables []schema.Table, logger *zap.Logger, opts ...sqlstore.Option) *Driver {
	d := &Driver{
		pool:     pool,
		cache:    cache,
		registry: registry,
		prefetch: prefetch,
		tables:   tables,
		logger:   logger,
	}
	if len(opts) > 0 {
		d.tempTable = opts[0]
	}
	return d
}

// Prepare ensures the checkpoint bookkeeping table exists and returns the
// checkpoint to resume from. Call once before Run.
func (d *Driver) Prepare(ctx context.Context) (uint64, error) {
	if err := ensureCheckpointTable(ctx, d.pool); err != nil {
		return 0, fmt.Errorf("runtime: ensure checkpoint table: %w", err)
	}
	tx, err := d.pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)
	return LoadCheckpoint(ctx, tx)
}

// Run drives batches to completion until batches closes or ctx is
// cancelled, implementing spec.md §2's control flow: decoder → prefetch →
// {events → flush} → commit → next batch.
func (d *Driver) Run(ctx context.Context, batches <-chan Batch) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case batch, ok := <-batches:
			if !ok {
				return nil
			}
			if err := d.runBatch(ctx, batch); err != nil {
				return err
			}
		}
	}
}

func (d *Driver) runBatch(ctx context.Context, batch Batch) error {
	tx, err := d.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("runtime: begin batch transaction: %w", err)
	}

	var opts []sqlstore.Option
	if d.tempTable != nil {
		opts = append(opts, d.tempTable)
	}
	store := sqlstore.New(tx, opts...)
	d.cache.SetCollaborators(store, store)
	d.prefetch.SetBulkReader(store)

	facade := historystore.New(d.cache, tablesByName(d.tables), store)

	if err := d.cache.Prefetch(ctx, batch.Events, d.prefetch); err != nil {
		tx.Rollback(ctx)
		d.cache.Rollback()
		return cierrors.Wrap(cierrors.KindFlush, "prefetch failed", err)
	}

	for _, ev := range batch.Events {
		d.cache.SetEvent(ev)
		if err := d.registry.Dispatch(ctx, facade, ev); err != nil {
			tx.Rollback(ctx)
			d.cache.Rollback()
			if d.logger != nil {
				d.logger.Error("batch aborted by handler failure",
					zap.String("event", ev.Name), zap.Uint64("checkpoint", batch.Checkpoint), zap.Error(err))
			}
			return err
		}
	}
	d.cache.SetEvent(nil)

	if err := d.cache.Flush(ctx, d.tables); err != nil {
		tx.Rollback(ctx)
		d.cache.Rollback()
		return err
	}

	if err := SaveCheckpoint(ctx, tx, batch.Checkpoint); err != nil {
		tx.Rollback(ctx)
		d.cache.Rollback()
		return fmt.Errorf("runtime: save checkpoint: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		// Per invariant I5, buffers are still populated here: a commit
		// failure after a successful flush means the transaction's fate
		// is genuinely unknown (network partition mid-commit), so the
		// buffers are left intact for the next attempt rather than
		// rolled back, and the cache-side commit is skipped.
		return fmt.Errorf("runtime: commit batch transaction: %w", err)
	}

	d.cache.Commit()
	if d.logger != nil {
		d.logger.Info("batch committed",
			zap.Int("events", len(batch.Events)), zap.Uint64("checkpoint", batch.Checkpoint))
	}
	return nil
}

func tablesByName(tables []schema.Table) map[string]schema.Table {
	out := make(map[string]schema.Table, len(tables))
	for _, t := range tables {
		out[t.Name] = t
	}
	return out
}
