// Package sqlstore is the Postgres collaborator the Indexing Cache reads
// through and flushes into (spec.md §4.5.1, §6). It implements
// indexcache.Reader and indexcache.FlushExecutor against pgx, using native
// CopyFrom for the bulk-load protocol and a transaction-scoped temp table
// for the update path.
package sqlstore

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"chainindex/internal/codec"
	"chainindex/internal/indexcache"
	"chainindex/internal/normalize"
	"chainindex/internal/schema"
	cierrors "chainindex/pkg/errors"
)

// Store wraps a pgx.Tx for one batch's flush and passthrough reads. A new
// Store is constructed per transaction; the Indexing Cache never holds one
// across batch boundaries (spec.md §5 "Shared resources").
type Store struct {
	tx pgx.Tx

	// tempTablePrefix implements the fallback spec.md §9's open question
	// describes: if shadowing the target name misbehaves under the
	// driver's search_path handling, prefix the temp table instead. Empty
	// by default, meaning exact shadowing (spec.md §6).
	tempTablePrefix string
}

// Option configures a Store.
type Option func(*Store)

// WithTempTablePrefix overrides the default (shadowing) temp-table naming.
func WithTempTablePrefix(prefix string) Option {
	return func(s *Store) { s.tempTablePrefix = prefix }
}

// New wraps tx for use as both a Reader and a FlushExecutor.
func New(tx pgx.Tx, opts ...Option) *Store {
	s := &Store{tx: tx}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) tempTableName(table schema.Table) string {
	return s.tempTablePrefix + table.Name
}

// SelectByKey implements indexcache.Reader: a SELECT by primary key.
func (s *Store) SelectByKey(ctx context.Context, table schema.Table, key indexcache.Key) (normalize.Row, bool, error) {
	pk := table.PrimaryKey()
	parts := strings.Split(string(key), "_")
	if len(parts) != len(pk) {
		return normalize.Row{}, false, fmt.Errorf("sqlstore: key %q does not decompose into %d primary-key parts", key, len(pk))
	}

	cols := make([]string, len(table.Columns))
	for i, c := range table.Columns {
		cols[i] = c.Name
	}
	where := make([]string, len(pk))
	args := make([]any, len(pk))
	for i, c := range pk {
		where[i] = fmt.Sprintf("%s = $%d", c.Name, i+1)
		args[i] = parts[i]
	}

	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s",
		strings.Join(cols, ", "), table.QualifiedName(), strings.Join(where, " AND "))

	rows, err := s.tx.Query(ctx, query, args...)
	if err != nil {
		return normalize.Row{}, false, err
	}
	defer rows.Close()

	if !rows.Next() {
		return normalize.Row{}, false, rows.Err()
	}

	raw, err := rows.Values()
	if err != nil {
		return normalize.Row{}, false, err
	}
	row := normalize.Row{Table: table, Values: make([]any, len(table.Columns))}
	for i, col := range table.Columns {
		v, err := codec.FromDriver(col, raw[i])
		if err != nil {
			return normalize.Row{}, false, err
		}
		row.Values[i] = v
	}
	return row, true, nil
}

// SelectByKeys implements indexcache.BulkReader: one multi-key SELECT using
// a VALUES list joined against the target table, used by the Prefetch
// Controller (spec.md §4.7 step 1) so it issues one round-trip per table
// instead of one per predicted key.
func (s *Store) SelectByKeys(ctx context.Context, table schema.Table, keys []indexcache.Key) (map[indexcache.Key]normalize.Row, error) {
	out := make(map[indexcache.Key]normalize.Row, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	pk := table.PrimaryKey()

	cols := make([]string, len(table.Columns))
	for i, c := range table.Columns {
		cols[i] = c.Name
	}

	var valuesRows []string
	args := make([]any, 0, len(keys)*len(pk))
	argN := 1
	for _, key := range keys {
		parts := strings.Split(string(key), "_")
		if len(parts) != len(pk) {
			continue
		}
		placeholders := make([]string, len(pk))
		for i := range pk {
			placeholders[i] = fmt.Sprintf("$%d", argN)
			args = append(args, parts[i])
			argN++
		}
		valuesRows = append(valuesRows, "("+strings.Join(placeholders, ", ")+")")
	}
	if len(valuesRows) == 0 {
		return out, nil
	}

	pkNames := make([]string, len(pk))
	for i, c := range pk {
		pkNames[i] = c.Name
	}
	joinCond := make([]string, len(pk))
	for i, name := range pkNames {
		joinCond[i] = fmt.Sprintf("t.%s = v.c%d", name, i)
	}

	query := fmt.Sprintf(
		"SELECT %s FROM %s AS t JOIN (VALUES %s) AS v(%s) ON %s",
		prefixCols("t", cols),
		table.QualifiedName(),
		strings.Join(valuesRows, ", "),
		numberedCols(len(pk)),
		strings.Join(joinCond, " AND "),
	)

	rows, err := s.tx.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		raw, err := rows.Values()
		if err != nil {
			return nil, err
		}
		row := normalize.Row{Table: table, Values: make([]any, len(table.Columns))}
		for i, col := range table.Columns {
			v, err := codec.FromDriver(col, raw[i])
			if err != nil {
				return nil, err
			}
			row.Values[i] = v
		}
		key, err := indexcache.KeyOf(table, row)
		if err != nil {
			return nil, err
		}
		out[key] = row
	}
	return out, rows.Err()
}

func prefixCols(alias string, cols []string) string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = alias + "." + c
	}
	return strings.Join(out, ", ")
}

func numberedCols(n int) string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("c%d", i)
	}
	return strings.Join(out, ", ")
}

// DeleteReturning implements indexcache.Reader: a DELETE ... RETURNING.
func (s *Store) DeleteReturning(ctx context.Context, table schema.Table, key indexcache.Key) (normalize.Row, bool, error) {
	pk := table.PrimaryKey()
	parts := strings.Split(string(key), "_")
	if len(parts) != len(pk) {
		return normalize.Row{}, false, fmt.Errorf("sqlstore: key %q does not decompose into %d primary-key parts", key, len(pk))
	}

	cols := make([]string, len(table.Columns))
	for i, c := range table.Columns {
		cols[i] = c.Name
	}
	where := make([]string, len(pk))
	args := make([]any, len(pk))
	for i, c := range pk {
		where[i] = fmt.Sprintf("%s = $%d", c.Name, i+1)
		args[i] = parts[i]
	}

	query := fmt.Sprintf("DELETE FROM %s WHERE %s RETURNING %s",
		table.QualifiedName(), strings.Join(where, " AND "), strings.Join(cols, ", "))

	rows, err := s.tx.Query(ctx, query, args...)
	if err != nil {
		return normalize.Row{}, false, err
	}
	defer rows.Close()

	if !rows.Next() {
		return normalize.Row{}, false, rows.Err()
	}

	raw, err := rows.Values()
	if err != nil {
		return normalize.Row{}, false, err
	}
	row := normalize.Row{Table: table, Values: make([]any, len(table.Columns))}
	for i, col := range table.Columns {
		v, err := codec.FromDriver(col, raw[i])
		if err != nil {
			return normalize.Row{}, false, err
		}
		row.Values[i] = v
	}
	return row, true, nil
}

// Query implements historystore.SQLRunner: the raw-read half of the
// façade's escape hatch (spec.md §4.6 "sql"), returned as column-name-keyed
// maps since a raw query's result shape isn't known statically.
func (s *Store) Query(ctx context.Context, query string, args ...any) ([]map[string]any, error) {
	rows, err := s.tx.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	var out []map[string]any
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, err
		}
		record := make(map[string]any, len(fields))
		for i, f := range fields {
			record[string(f.Name)] = values[i]
		}
		out = append(out, record)
	}
	return out, rows.Err()
}

// Exec implements historystore.SQLRunner: the raw-write half of the
// façade's escape hatch.
func (s *Store) Exec(ctx context.Context, query string, args ...any) error {
	_, err := s.tx.Exec(ctx, query, args...)
	if err != nil {
		return wrapConstraintError(err)
	}
	return nil
}

// BulkInsert implements indexcache.FlushExecutor's insert path (spec.md
// §4.5.1 step 1): a single bulk COPY via pgx's native CopyFrom.
func (s *Store) BulkInsert(ctx context.Context, table schema.Table, rows []normalize.Row) error {
	colNames := make([]string, len(table.Columns))
	for i, c := range table.Columns {
		colNames[i] = c.Name
	}

	source := pgx.CopyFromSlice(len(rows), func(i int) ([]any, error) {
		driverValues := make([]any, len(table.Columns))
		for j, col := range table.Columns {
			v, err := codec.ToDriver(col, rows[i].Values[j])
			if err != nil {
				return nil, err
			}
			driverValues[j] = v
		}
		return driverValues, nil
	})

	_, err := s.tx.CopyFrom(ctx, pgx.Identifier{table.Schema, table.Name}, colNames, source)
	if err != nil {
		return wrapConstraintError(err)
	}
	return nil
}

// BulkUpdate implements indexcache.FlushExecutor's update path (spec.md
// §4.5.1 step 2): create a transaction-scoped temp table, COPY the updated
// rows into it, then UPDATE ... FROM temp AS source. The temp table is
// dropped automatically on transaction commit (ON COMMIT DROP).
func (s *Store) BulkUpdate(ctx context.Context, table schema.Table, rows []normalize.Row) error {
	tempName := s.tempTableName(table)

	colDefs := make([]string, len(table.Columns))
	colNames := make([]string, len(table.Columns))
	for i, c := range table.Columns {
		colDefs[i] = fmt.Sprintf("%s %s", c.Name, pgTypeName(c))
		colNames[i] = c.Name
	}

	createStmt := fmt.Sprintf("CREATE TEMPORARY TABLE %s (%s) ON COMMIT DROP",
		pgx.Identifier{tempName}.Sanitize(), strings.Join(colDefs, ", "))
	if _, err := s.tx.Exec(ctx, createStmt); err != nil {
		return cierrors.Wrap(cierrors.KindFlush, "create temp table for "+table.Name, err)
	}

	source := pgx.CopyFromSlice(len(rows), func(i int) ([]any, error) {
		driverValues := make([]any, len(table.Columns))
		for j, col := range table.Columns {
			v, err := codec.ToDriver(col, rows[i].Values[j])
			if err != nil {
				return nil, err
			}
			driverValues[j] = v
		}
		return driverValues, nil
	})
	if _, err := s.tx.CopyFrom(ctx, pgx.Identifier{tempName}, colNames, source); err != nil {
		return wrapConstraintError(err)
	}

	setClauses := make([]string, 0, len(table.Columns))
	for _, c := range table.Columns {
		setClauses = append(setClauses, fmt.Sprintf("%s = source.%s", c.Name, c.Name))
	}
	whereClauses := make([]string, 0)
	for _, c := range table.PrimaryKey() {
		whereClauses = append(whereClauses, fmt.Sprintf("%s.%s = source.%s", table.Name, c.Name, c.Name))
	}

	updateStmt := fmt.Sprintf("UPDATE %s SET %s FROM %s AS source WHERE %s",
		table.QualifiedName(), strings.Join(setClauses, ", "),
		pgx.Identifier{tempName}.Sanitize(), strings.Join(whereClauses, " AND "))
	if _, err := s.tx.Exec(ctx, updateStmt); err != nil {
		return cierrors.Wrap(cierrors.KindFlush, "update from temp table for "+table.Name, err)
	}
	return nil
}

// pgTypeName maps a schema.Column's logical type to a Postgres column type
// for the temp table's CREATE statement.
func pgTypeName(c schema.Column) string {
	switch c.Type {
	case schema.TypeBoolean:
		return "boolean"
	case schema.TypeInt:
		return "bigint"
	case schema.TypeBigInt:
		return "numeric"
	case schema.TypeFloat:
		return "double precision"
	case schema.TypeText, schema.TypeHexBytes, schema.TypeEnum:
		return "text"
	case schema.TypeJSON:
		return "jsonb"
	case schema.TypeTimestamp:
		return "timestamptz"
	case schema.TypePoint:
		return "point"
	case schema.TypeLine:
		return "line"
	case schema.TypeArray:
		return "text[]"
	default:
		return "text"
	}
}

// wrapConstraintError translates known Postgres constraint violations into
// the §7 taxonomy, per spec.md §4.5.1. pgx surfaces these as *pgconn.PgError,
// whose error text carries the SQLSTATE code ("(SQLSTATE 23502)"); we match
// on that code within the error text rather than on the message wording.
func wrapConstraintError(err error) error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "23502"): // not_null_violation
		return cierrors.Wrap(cierrors.KindNotNullConstraint, "not-null constraint violated", err)
	case strings.Contains(msg, "23505"): // unique_violation
		return cierrors.Wrap(cierrors.KindUniqueConstraint, "unique constraint violated", err)
	case strings.Contains(msg, "23514"): // check_violation
		return cierrors.Wrap(cierrors.KindCheckConstraint, "check constraint violated", err)
	default:
		return cierrors.Wrap(cierrors.KindFlush, "flush failed", err)
	}
}
