package indexcache_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chainindex/internal/indexcache"
	"chainindex/internal/normalize"
	"chainindex/internal/schema"
)

// fakeReader is a minimal in-memory stand-in for internal/sqlstore.Store,
// used to exercise the cache's miss/DB-fallback path without a real
// Postgres connection.
type fakeReader struct {
	rows       map[indexcache.Key]normalize.Row
	selectCalls int
}

func newFakeReader() *fakeReader {
	return &fakeReader{rows: make(map[indexcache.Key]normalize.Row)}
}

func (r *fakeReader) SelectByKey(ctx context.Context, table schema.Table, key indexcache.Key) (normalize.Row, bool, error) {
	r.selectCalls++
	row, ok := r.rows[key]
	return row, ok, nil
}

func (r *fakeReader) DeleteReturning(ctx context.Context, table schema.Table, key indexcache.Key) (normalize.Row, bool, error) {
	row, ok := r.rows[key]
	delete(r.rows, key)
	return row, ok, nil
}

func accountsTable() schema.Table {
	return schema.Table{
		Schema: "public",
		Name:   "accounts",
		Columns: []schema.Column{
			{Name: "address", Type: schema.TypeHexBytes, PrimaryKey: true, NotNull: true},
			{Name: "balance", Type: schema.TypeBigInt, NotNull: true},
			{Name: "label", Type: schema.TypeText},
		},
	}
}

func TestCache_Get_MissFallsThroughToReaderAndPopulatesSpillover(t *testing.T) {
	table := accountsTable()
	reader := newFakeReader()
	key := indexcache.Key("0xabc")
	row, err := normalize.Normalize(table, normalize.PartialRow{"address": "0xabc", "balance": "100"}, false)
	require.NoError(t, err)
	reader.rows[key] = row

	c := indexcache.New([]schema.Table{table}, reader, nil, nil, nil, 1<<20, 0.25, false)

	got, found, err := c.Get(context.Background(), table, key)

	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, row.Values, got.Values)
	assert.Equal(t, 1, reader.selectCalls)

	// Second Get should hit spillover, not the reader again.
	_, _, err = c.Get(context.Background(), table, key)
	require.NoError(t, err)
	assert.Equal(t, 1, reader.selectCalls, "spillover entry should short-circuit the DB read")
}

func TestCache_Get_CacheCompleteSkipsReaderOnMiss(t *testing.T) {
	table := accountsTable()
	reader := newFakeReader()
	c := indexcache.New([]schema.Table{table}, reader, nil, nil, nil, 1<<20, 0.25, true)

	_, found, err := c.Get(context.Background(), table, indexcache.Key("0xnotthere"))

	require.NoError(t, err)
	assert.False(t, found)
	assert.Equal(t, 0, reader.selectCalls)
}

func TestCache_Set_InsertThenGet_ReadsFromInsertBuffer(t *testing.T) {
	table := accountsTable()
	reader := newFakeReader()
	c := indexcache.New([]schema.Table{table}, reader, nil, nil, nil, 1<<20, 0.25, false)
	key := indexcache.Key("0xabc")

	_, err := c.Set(context.Background(), table, key, normalize.PartialRow{"address": "0xabc", "balance": "50"}, false)
	require.NoError(t, err)

	got, found, err := c.Get(context.Background(), table, key)

	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 0, reader.selectCalls, "insert buffer must take precedence over the reader")
	v, _ := got.Get("balance")
	assert.NotNil(t, v)
}

func TestCache_Set_Update_MergesCurrentRowBeforeNormalizing(t *testing.T) {
	table := accountsTable()
	reader := newFakeReader()
	key := indexcache.Key("0xabc")
	existing, err := normalize.Normalize(table, normalize.PartialRow{"address": "0xabc", "balance": "100", "label": "whale"}, false)
	require.NoError(t, err)
	reader.rows[key] = existing

	c := indexcache.New([]schema.Table{table}, reader, nil, nil, nil, 1<<20, 0.25, false)

	updated, err := c.Set(context.Background(), table, key, normalize.PartialRow{"balance": "200"}, true)

	require.NoError(t, err)
	label, _ := updated.Get("label")
	assert.Equal(t, "whale", label, "columns not in the patch must be carried over from the current row, not zeroed")
	balance, _ := updated.Get("balance")
	assert.NotNil(t, balance)
}

func TestCache_Set_Update_ChangingPrimaryKeyColumnErrors(t *testing.T) {
	table := accountsTable()
	reader := newFakeReader()
	key := indexcache.Key("0xabc")
	existing, err := normalize.Normalize(table, normalize.PartialRow{"address": "0xabc", "balance": "100"}, false)
	require.NoError(t, err)
	reader.rows[key] = existing

	c := indexcache.New([]schema.Table{table}, reader, nil, nil, nil, 1<<20, 0.25, false)

	_, err = c.Set(context.Background(), table, key, normalize.PartialRow{"address": "0xdef"}, true)

	assert.Error(t, err)
}

func TestCache_Set_Update_UnrelatedPatchDoesNotFalselyTriggerPKCheck(t *testing.T) {
	table := accountsTable()
	reader := newFakeReader()
	key := indexcache.Key("0xabc")
	existing, err := normalize.Normalize(table, normalize.PartialRow{"address": "0xabc", "balance": "100"}, false)
	require.NoError(t, err)
	reader.rows[key] = existing

	c := indexcache.New([]schema.Table{table}, reader, nil, nil, nil, 1<<20, 0.25, false)

	_, err = c.Set(context.Background(), table, key, normalize.PartialRow{"balance": "150"}, true)

	assert.NoError(t, err, "updating a non-PK column must not be mistaken for a PK change just because the merged row carries the PK value")
}

func TestCache_Has_TrueWhenCacheComplete(t *testing.T) {
	table := accountsTable()
	c := indexcache.New([]schema.Table{table}, nil, nil, nil, nil, 1<<20, 0.25, true)

	assert.True(t, c.Has(table.Name, indexcache.Key("anything")))
}

func TestCache_Delete_TombstonesAndReportsPriorExistence(t *testing.T) {
	table := accountsTable()
	reader := newFakeReader()
	key := indexcache.Key("0xabc")
	existing, err := normalize.Normalize(table, normalize.PartialRow{"address": "0xabc", "balance": "100"}, false)
	require.NoError(t, err)
	reader.rows[key] = existing

	c := indexcache.New([]schema.Table{table}, reader, nil, nil, nil, 1<<20, 0.25, false)

	existed, err := c.Delete(context.Background(), table, key)
	require.NoError(t, err)
	assert.True(t, existed)

	_, found, err := c.Get(context.Background(), table, key)
	require.NoError(t, err)
	assert.False(t, found, "a tombstoned key must read as absent")
}

func TestCache_Rollback_ClearsBuffersAndSpillover(t *testing.T) {
	table := accountsTable()
	reader := newFakeReader()
	c := indexcache.New([]schema.Table{table}, reader, nil, nil, nil, 1<<20, 0.25, false)
	key := indexcache.Key("0xabc")

	_, err := c.Set(context.Background(), table, key, normalize.PartialRow{"address": "0xabc", "balance": "1"}, false)
	require.NoError(t, err)

	c.Rollback()

	_, found, err := c.Get(context.Background(), table, key)
	require.NoError(t, err)
	assert.False(t, found, "insert buffer should have been cleared by rollback")
}

func TestCache_Invalidate_DisablesCacheCompleteShortcut(t *testing.T) {
	table := accountsTable()
	reader := newFakeReader()
	c := indexcache.New([]schema.Table{table}, reader, nil, nil, nil, 1<<20, 0.25, true)

	c.Invalidate()

	_, found, err := c.Get(context.Background(), table, indexcache.Key("0xabc"))
	require.NoError(t, err)
	assert.False(t, found)
	assert.Equal(t, 1, reader.selectCalls, "after invalidation, a miss must fall through to the reader")
}
