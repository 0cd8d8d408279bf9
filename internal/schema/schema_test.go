package schema_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"chainindex/internal/schema"
)

func sampleTable() schema.Table {
	return schema.Table{
		Schema: "public",
		Name:   "orders",
		Columns: []schema.Column{
			{Name: "id", Type: schema.TypeBigInt, PrimaryKey: true, NotNull: true},
			{Name: "venue", Type: schema.TypeText, PrimaryKey: true, NotNull: true},
			{Name: "status", Type: schema.TypeText, Default: "open"},
		},
	}
}

func TestColumn_HasDefault(t *testing.T) {
	withConst := schema.Column{Default: "open"}
	withThunk := schema.Column{DefaultFn: func() any { return "x" }}
	without := schema.Column{}

	assert.True(t, withConst.HasDefault())
	assert.True(t, withThunk.HasDefault())
	assert.False(t, without.HasDefault())
}

func TestColumn_ResolveDefault_PrefersThunkOverConstant(t *testing.T) {
	col := schema.Column{Default: "const", DefaultFn: func() any { return "thunk" }}

	assert.Equal(t, "thunk", col.ResolveDefault())
}

func TestTable_QualifiedName(t *testing.T) {
	assert.Equal(t, `"public"."orders"`, sampleTable().QualifiedName())
}

func TestTable_PrimaryKey_ReturnsInDeclaredOrder(t *testing.T) {
	pk := sampleTable().PrimaryKey()

	require := assert.New(t)
	require.Len(pk, 2)
	require.Equal("id", pk[0].Name)
	require.Equal("venue", pk[1].Name)
}

func TestTable_ColumnByName_Found(t *testing.T) {
	col, ok := sampleTable().ColumnByName("status")

	assert.True(t, ok)
	assert.Equal(t, schema.TypeText, col.Type)
}

func TestTable_ColumnByName_NotFound(t *testing.T) {
	_, ok := sampleTable().ColumnByName("nope")

	assert.False(t, ok)
}

func TestTable_ColumnIndex(t *testing.T) {
	assert.Equal(t, 2, sampleTable().ColumnIndex("status"))
	assert.Equal(t, -1, sampleTable().ColumnIndex("nope"))
}
