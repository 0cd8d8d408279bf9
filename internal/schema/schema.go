// Package schema defines the table descriptor consumed by the codec,
// normalizer, and indexing cache. It stands in for the out-of-scope schema
// DSL (spec.md §1): this repository consumes column metadata, it does not
// generate it.
package schema

import "fmt"

// Type is a column's logical type (spec.md §3).
type Type int

const (
	TypeBoolean Type = iota
	TypeInt
	TypeBigInt
	TypeFloat
	TypeText
	TypeHexBytes
	TypeJSON
	TypeEnum
	TypeTimestamp
	TypePoint
	TypeLine
	TypeArray
)

// Column describes one column of a table.
type Column struct {
	Name string
	Type Type

	// Elem is the element type for TypeArray columns.
	Elem *Column
	// EnumValues lists the permitted values for TypeEnum columns.
	EnumValues []string

	NotNull bool

	// Default is a constant default value, used when Default is non-nil and
	// DefaultFn is nil.
	Default any
	// DefaultFn computes a default at insert time (spec.md §4.2 "thunk").
	DefaultFn func() any
	// OnUpdateFn computes a replacement value at update time when the
	// column is absent from the patch (spec.md §4.2).
	OnUpdateFn func() any

	PrimaryKey bool
}

// HasDefault reports whether the column has any default (constant or thunk).
func (c Column) HasDefault() bool {
	return c.Default != nil || c.DefaultFn != nil
}

// ResolveDefault evaluates the column's default for an insert.
func (c Column) ResolveDefault() any {
	if c.DefaultFn != nil {
		return c.DefaultFn()
	}
	return c.Default
}

// Table is an ordered list of columns (spec.md §3). Column order is the
// bulk-load field order; flush iterates tables in the order of the table
// list it is given (spec.md §5).
type Table struct {
	Schema  string
	Name    string
	Columns []Column
}

// QualifiedName returns "schema"."name", the form used in UPDATE ... FROM
// (spec.md §6).
func (t Table) QualifiedName() string {
	return fmt.Sprintf("%q.%q", t.Schema, t.Name)
}

// PrimaryKey returns the columns making up the primary key, in declared
// order.
func (t Table) PrimaryKey() []Column {
	var pk []Column
	for _, c := range t.Columns {
		if c.PrimaryKey {
			pk = append(pk, c)
		}
	}
	return pk
}

// ColumnByName looks up a column by name, or returns false.
func (t Table) ColumnByName(name string) (Column, bool) {
	for _, c := range t.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// ColumnIndex returns the position of name in Columns, or -1.
func (t Table) ColumnIndex(name string) int {
	for i, c := range t.Columns {
		if c.Name == name {
			return i
		}
	}
	return -1
}
