// Package normalize implements the Row Normalizer (spec.md §4.2): the single
// place defaults, onUpdate thunks, and not-null enforcement happen. The
// cache must never depend on the database to raise these.
package normalize

import (
	"fmt"

	"chainindex/internal/codec"
	"chainindex/internal/schema"
	cierrors "chainindex/pkg/errors"
)

// Row is a fully populated row: one value per column, indexed by column
// position rather than by name, per spec.md §9's "avoid string-keyed maps in
// hot paths" design note.
type Row struct {
	Table  schema.Table
	Values []any
}

// Get returns the value of the named column, or (nil, false) if the table
// has no such column.
func (r Row) Get(name string) (any, bool) {
	idx := r.Table.ColumnIndex(name)
	if idx < 0 {
		return nil, false
	}
	return r.Values[idx], true
}

// PartialRow is the caller-supplied input to Normalize: a sparse map of
// column name to value, representing only the columns the caller is
// explicitly setting.
type PartialRow map[string]any

// Normalize applies spec.md §4.2's three-step procedure per column and
// returns a fully populated Row.
func Normalize(table schema.Table, partial PartialRow, isUpdate bool) (Row, error) {
	row := Row{Table: table, Values: make([]any, len(table.Columns))}
	for i, col := range table.Columns {
		value, present := partial[col.Name]
		switch {
		case !present && !isUpdate:
			v, err := resolveInsertDefault(col)
			if err != nil {
				return Row{}, err
			}
			row.Values[i] = v
		case !present && isUpdate:
			if col.OnUpdateFn != nil {
				row.Values[i] = col.OnUpdateFn()
			}
			// else: leave unchanged — callers of Normalize for updates are
			// expected to have pre-populated unchanged columns from the
			// current committed row before calling in, since Normalize
			// itself has no notion of "current value" (that belongs to the
			// cache, which owns tier lookups).
		default:
			v, err := codec.ToDriver(col, value)
			if err != nil {
				return Row{}, err
			}
			if _, err := codec.FromDriver(col, v); err != nil {
				return Row{}, err
			}
			row.Values[i] = value
		}
	}
	return row, nil
}

func resolveInsertDefault(col schema.Column) (any, error) {
	if col.HasDefault() {
		return col.ResolveDefault(), nil
	}
	if col.NotNull {
		return nil, cierrors.New(cierrors.KindNotNull, fmt.Sprintf("column %s is not-null and absent with no default", col.Name))
	}
	return nil, nil
}
