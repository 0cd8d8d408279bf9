package indexcache

import (
	"strings"

	"chainindex/internal/codec"
	"chainindex/internal/normalize"
	"chainindex/internal/schema"
)

// Key is a cache key (spec.md §3): the underscore-joined canonical textual
// rendering of a row's primary-key columns, in primary-key column order.
type Key string

// KeyOf computes the cache key for a normalized row.
func KeyOf(table schema.Table, row normalize.Row) (Key, error) {
	pk := table.PrimaryKey()
	parts := make([]string, len(pk))
	for i, col := range pk {
		idx := table.ColumnIndex(col.Name)
		s, err := codec.CanonicalKey(col, row.Values[idx])
		if err != nil {
			return "", err
		}
		parts[i] = s
	}
	return Key(strings.Join(parts, "_")), nil
}

// KeyFromValues computes a cache key directly from a map of primary-key
// column name to value, for callers (the façade, the prefetch controller)
// that have a key but not yet a full Row.
func KeyFromValues(table schema.Table, pkValues map[string]any) (Key, error) {
	pk := table.PrimaryKey()
	parts := make([]string, len(pk))
	for i, col := range pk {
		v, ok := pkValues[col.Name]
		if !ok {
			return "", errMissingPKValue(col.Name)
		}
		s, err := codec.CanonicalKey(col, v)
		if err != nil {
			return "", err
		}
		parts[i] = s
	}
	return Key(strings.Join(parts, "_")), nil
}

func errMissingPKValue(name string) error {
	return &missingPKError{column: name}
}

type missingPKError struct{ column string }

func (e *missingPKError) Error() string {
	return "indexcache: missing primary key value for column " + e.column
}
