package prefetch_test

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chainindex/internal/chainevent"
	"chainindex/internal/indexcache"
	"chainindex/internal/normalize"
	"chainindex/internal/pattern"
	"chainindex/internal/prefetch"
	"chainindex/internal/rpccache"
	"chainindex/internal/schema"
)

type fakeBulkReader struct {
	rows         map[indexcache.Key]normalize.Row
	selectCalls  int
	lastKeyCount int
}

func (r *fakeBulkReader) SelectByKeys(ctx context.Context, table schema.Table, keys []indexcache.Key) (map[indexcache.Key]normalize.Row, error) {
	r.selectCalls++
	r.lastKeyCount = len(keys)
	out := make(map[indexcache.Key]normalize.Row)
	for _, k := range keys {
		if row, ok := r.rows[k]; ok {
			out[k] = row
		}
	}
	return out, nil
}

func holdersTable() schema.Table {
	return schema.Table{
		Schema: "public",
		Name:   "holders",
		Columns: []schema.Column{
			{Name: "address", Type: schema.TypeHexBytes, PrimaryKey: true, NotNull: true},
			{Name: "balance", Type: schema.TypeBigInt, NotNull: true},
		},
	}
}

func transferEvent(logAddr string) *chainevent.Event {
	return &chainevent.Event{
		Name: "Transfer",
		Log:  &chainevent.Log{Address: common.HexToAddress(logAddr)},
	}
}

func TestController_RunRowPrefetch_InstallsPredictedRowsIntoSpillover(t *testing.T) {
	table := holdersTable()
	rowMatcher := pattern.NewMatcher(1, 10)
	rpcMatcher := pattern.NewMatcher(1, 10)

	addr := common.HexToAddress("0xbbbb000000000000000000000000000000bbbb").Hex()

	bulkReader := &fakeBulkReader{rows: make(map[indexcache.Key]normalize.Row)}
	row, err := normalize.Normalize(table, normalize.PartialRow{"address": addr, "balance": "500"}, false)
	require.NoError(t, err)
	key, err := indexcache.KeyFromValues(table, map[string]any{"address": addr})
	require.NoError(t, err)
	bulkReader.rows[key] = row

	controller := prefetch.New(rowMatcher, rpcMatcher, rpccache.New(nil, nil, nil, nil, 0, 0), bulkReader,
		map[string]schema.Table{table.Name: table}, 1, 0.2, 0.8, nil)

	// Teach the row matcher through the real RecordRowAccess entry point, the
	// same path the runtime drives handlers through, instead of poking the
	// matcher directly under a hand-namespaced event name.
	firstEvent := transferEvent("0xbbbb000000000000000000000000000000bbbb")
	controller.RecordRowAccess(firstEvent, prefetch.RowAccess{Table: "holders", PKValues: []string{addr}})

	cache := indexcache.New([]schema.Table{table}, nil, nil, nil, nil, 1<<20, 0.25, false)

	nextEvent := transferEvent("0xbbbb000000000000000000000000000000bbbb")
	err = controller.Run(context.Background(), []*chainevent.Event{nextEvent}, cache)

	require.NoError(t, err)
	got, found, err := cache.Get(context.Background(), table, key)
	require.NoError(t, err)
	assert.True(t, found, "a recovered row-access pattern should have installed the row into spillover")
	v, _ := got.Get("balance")
	assert.NotNil(t, v)
}

func TestController_RecordRowAccess_IgnoresEmptyPKValues(t *testing.T) {
	rowMatcher := pattern.NewMatcher(1, 10)
	rpcMatcher := pattern.NewMatcher(1, 10)
	controller := prefetch.New(rowMatcher, rpcMatcher, rpccache.New(nil, nil, nil, nil, 0, 0), nil, nil, 1, 0.2, 0.8, nil)

	ev := transferEvent("0xbbbb000000000000000000000000000000bbbb")
	controller.RecordRowAccess(ev, prefetch.RowAccess{Table: "holders", PKValues: nil})

	assert.Empty(t, rowMatcher.PatternsForEvent("row:holders:Transfer"))
}

func TestController_RecordRowAccess_RecordsPattern(t *testing.T) {
	rowMatcher := pattern.NewMatcher(1, 10)
	rpcMatcher := pattern.NewMatcher(1, 10)
	controller := prefetch.New(rowMatcher, rpcMatcher, rpccache.New(nil, nil, nil, nil, 0, 0), nil, nil, 1, 0.2, 0.8, nil)

	ev := transferEvent("0xbbbb000000000000000000000000000000bbbb")
	addr := common.HexToAddress("0xbbbb000000000000000000000000000000bbbb").Hex()
	controller.RecordRowAccess(ev, prefetch.RowAccess{Table: "holders", PKValues: []string{addr}})

	assert.NotEmpty(t, rowMatcher.PatternsForEvent("row:holders:Transfer"))
}
