// Package historystore implements the Historical Indexing Store façade
// (spec.md §4.6): the user-facing fluent interface handlers call, delegating
// reads/writes to the Indexing Cache and passthrough reads to the database.
package historystore

import (
	"context"

	"chainindex/internal/indexcache"
	"chainindex/internal/normalize"
	"chainindex/internal/schema"
	cierrors "chainindex/pkg/errors"
)

// SQLRunner executes the raw-query escape hatch (spec.md §4.6 "sql").
// Implemented by internal/sqlstore on top of the caller's transaction.
type SQLRunner interface {
	Query(ctx context.Context, query string, args ...any) ([]map[string]any, error)
	Exec(ctx context.Context, query string, args ...any) error
}

// Store is the façade. One Store wraps one Cache for the duration of a run.
type Store struct {
	cache  *indexcache.Cache
	tables map[string]schema.Table
	sql    SQLRunner
}

// New constructs a façade over cache.
func New(cache *indexcache.Cache, tables map[string]schema.Table, sql SQLRunner) *Store {
	return &Store{cache: cache, tables: tables, sql: sql}
}

// Find implements spec.md §4.6's find(table, key).
func (s *Store) Find(ctx context.Context, table string, pkValues map[string]any) (normalize.Row, bool, error) {
	t := s.tables[table]
	key, err := indexcache.KeyFromValues(t, pkValues)
	if err != nil {
		return normalize.Row{}, false, err
	}
	return s.cache.Get(ctx, t, key)
}

// Delete implements spec.md §4.6's delete(table, key).
func (s *Store) Delete(ctx context.Context, table string, pkValues map[string]any) (bool, error) {
	t := s.tables[table]
	key, err := indexcache.KeyFromValues(t, pkValues)
	if err != nil {
		return false, err
	}
	return s.cache.Delete(ctx, t, key)
}

// InsertBuilder is returned by Insert; call Values then exactly one of
// OnConflictDoNothing/OnConflictDoUpdate.
type InsertBuilder struct {
	store *Store
	table string
	rows  []normalize.PartialRow
}

// Insert starts a fluent insert against table (spec.md §4.6).
func (s *Store) Insert(table string) *InsertBuilder {
	return &InsertBuilder{store: s, table: table}
}

// Values accepts either a single row or multiple rows to insert.
func (b *InsertBuilder) Values(rows ...normalize.PartialRow) *InsertBuilder {
	b.rows = append(b.rows, rows...)
	return b
}

// ConflictResolution distinguishes the two on-conflict semantics spec.md
// §4.6 names.
type ConflictResolution int

const (
	ConflictDoNothing ConflictResolution = iota
	ConflictDoUpdate
)

// InsertResult carries the outcome of one row of an insert-with-conflict
// operation: the inserted row, or nil if the row conflicted and the
// resolution was doNothing.
type InsertResult struct {
	Row        normalize.Row
	Conflicted bool
}

// OnConflictDoNothing implements spec.md §4.6's doNothing semantics: returns
// nil for conflicting rows, the inserted row otherwise. Conflict is detected
// by a pre-check against the cache rather than a real ON CONFLICT clause,
// since the cache may not yet have flushed the conflicting row to the DB.
func (b *InsertBuilder) OnConflictDoNothing(ctx context.Context) ([]InsertResult, error) {
	return b.insert(ctx, ConflictDoNothing, nil)
}

// OnConflictDoUpdate implements spec.md §4.6's doUpdate semantics: patchFn
// receives the current committed row and returns a patch to apply instead
// of the original insert.
func (b *InsertBuilder) OnConflictDoUpdate(ctx context.Context, patchFn func(current normalize.Row) normalize.PartialRow) ([]InsertResult, error) {
	return b.insert(ctx, ConflictDoUpdate, patchFn)
}

func (b *InsertBuilder) insert(ctx context.Context, resolution ConflictResolution, patchFn func(normalize.Row) normalize.PartialRow) ([]InsertResult, error) {
	table := b.store.tables[b.table]
	results := make([]InsertResult, 0, len(b.rows))

	for _, partial := range b.rows {
		pkValues := make(map[string]any, len(table.PrimaryKey()))
		for _, col := range table.PrimaryKey() {
			v, ok := partial[col.Name]
			if !ok {
				return nil, cierrors.New(cierrors.KindNotNull,
					"insert is missing primary key column "+col.Name+": rows must supply their own key, none is generated")
			}
			pkValues[col.Name] = v
		}
		key, err := indexcache.KeyFromValues(table, pkValues)
		if err != nil {
			return nil, err
		}

		existing, found, err := b.store.cache.Get(ctx, table, key)
		if err != nil {
			return nil, err
		}

		if found {
			switch resolution {
			case ConflictDoNothing:
				results = append(results, InsertResult{Conflicted: true})
				continue
			case ConflictDoUpdate:
				patch := patchFn(existing)
				row, err := b.store.cache.Set(ctx, table, key, patch, true)
				if err != nil {
					return nil, err
				}
				results = append(results, InsertResult{Row: row})
				continue
			}
		}

		row, err := b.store.cache.Set(ctx, table, key, partial, false)
		if err != nil {
			return nil, err
		}
		results = append(results, InsertResult{Row: row})
	}
	return results, nil
}

// UpdateBuilder is returned by Update.
type UpdateBuilder struct {
	store    *Store
	table    string
	pkValues map[string]any
}

// Update implements spec.md §4.6's update(table, key).
func (s *Store) Update(table string, pkValues map[string]any) *UpdateBuilder {
	return &UpdateBuilder{store: s, table: table, pkValues: pkValues}
}

// Set applies patch (a static partial row) to the targeted row.
func (u *UpdateBuilder) Set(ctx context.Context, patch normalize.PartialRow) (normalize.Row, error) {
	t := u.store.tables[u.table]
	key, err := indexcache.KeyFromValues(t, u.pkValues)
	if err != nil {
		return normalize.Row{}, err
	}
	return u.store.cache.Set(ctx, t, key, patch, true)
}

// SetFunc applies a function-form patch: patchFn receives the current
// committed row and returns the patch to apply, matching spec.md §4.6's
// doUpdate functional form and S5's "function-patch" PK-immutability case.
func (u *UpdateBuilder) SetFunc(ctx context.Context, patchFn func(current normalize.Row) normalize.PartialRow) (normalize.Row, error) {
	t := u.store.tables[u.table]
	key, err := indexcache.KeyFromValues(t, u.pkValues)
	if err != nil {
		return normalize.Row{}, err
	}
	current, _, err := u.store.cache.Get(ctx, t, key)
	if err != nil {
		return normalize.Row{}, err
	}
	patch := patchFn(current)
	return u.store.cache.Set(ctx, t, key, patch, true)
}

// SQL implements spec.md §4.6's escape hatch. Writes invalidate every cached
// row of the affected table pessimistically (the façade cannot parse which
// rows a raw statement touches); reads do not invalidate anything. Per
// spec.md §4.6, the façade flushes before running a raw write so it never
// observes buffered-but-unflushed rows as stale.
func (s *Store) SQL(ctx context.Context, query string, isWrite bool, flush func() error, args ...any) ([]map[string]any, error) {
	if isWrite {
		if flush != nil {
			if err := flush(); err != nil {
				return nil, err
			}
		}
		if err := s.sql.Exec(ctx, query, args...); err != nil {
			return nil, err
		}
		s.cache.Invalidate()
		return nil, nil
	}
	return s.sql.Query(ctx, query, args...)
}
