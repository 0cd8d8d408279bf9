package normalize_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chainindex/internal/normalize"
	"chainindex/internal/schema"
)

func testTable() schema.Table {
	return schema.Table{
		Schema: "public",
		Name:   "transfers",
		Columns: []schema.Column{
			{Name: "id", Type: schema.TypeBigInt, PrimaryKey: true, NotNull: true},
			{Name: "amount", Type: schema.TypeBigInt, NotNull: true},
			{Name: "memo", Type: schema.TypeText},
			{Name: "status", Type: schema.TypeText, Default: "pending"},
			{Name: "seen_count", Type: schema.TypeInt, Default: 0, OnUpdateFn: func() any { return 1 }},
		},
	}
}

func TestNormalize_Insert_AppliesConstantDefault(t *testing.T) {
	table := testTable()

	row, err := normalize.Normalize(table, normalize.PartialRow{
		"id":     "1",
		"amount": "100",
	}, false)

	require.NoError(t, err)
	v, ok := row.Get("status")
	require.True(t, ok)
	assert.Equal(t, "pending", v)
}

func TestNormalize_Insert_MissingNotNullWithNoDefaultErrors(t *testing.T) {
	table := testTable()

	_, err := normalize.Normalize(table, normalize.PartialRow{
		"id": "1",
	}, false)

	assert.Error(t, err)
}

func TestNormalize_Insert_ExplicitValueOverridesDefault(t *testing.T) {
	table := testTable()

	row, err := normalize.Normalize(table, normalize.PartialRow{
		"id":     "1",
		"amount": "100",
		"status": "confirmed",
	}, false)

	require.NoError(t, err)
	v, _ := row.Get("status")
	assert.Equal(t, "confirmed", v)
}

func TestNormalize_Update_AbsentColumnLeftNilWithoutThunk(t *testing.T) {
	table := testTable()

	row, err := normalize.Normalize(table, normalize.PartialRow{
		"memo": "updated memo",
	}, true)

	require.NoError(t, err)
	v, _ := row.Get("status")
	assert.Nil(t, v, "Normalize has no notion of current value; callers merge before calling in")
}

func TestNormalize_Update_AbsentColumnWithOnUpdateFnIsComputed(t *testing.T) {
	table := testTable()

	row, err := normalize.Normalize(table, normalize.PartialRow{
		"memo": "updated memo",
	}, true)

	require.NoError(t, err)
	v, _ := row.Get("seen_count")
	assert.Equal(t, 1, v)
}

func TestNormalize_Update_DoesNotApplyInsertDefaults(t *testing.T) {
	table := testTable()

	row, err := normalize.Normalize(table, normalize.PartialRow{
		"memo": "updated memo",
	}, true)

	require.NoError(t, err)
	v, _ := row.Get("status")
	assert.Nil(t, v)
}

func TestRow_Get_UnknownColumnReturnsFalse(t *testing.T) {
	table := testTable()
	row, err := normalize.Normalize(table, normalize.PartialRow{"id": "1", "amount": "1"}, false)
	require.NoError(t, err)

	_, ok := row.Get("nonexistent")

	assert.False(t, ok)
}
