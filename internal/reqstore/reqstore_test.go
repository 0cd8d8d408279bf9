package reqstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chainindex/internal/rpccache"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "requests.db")
	store, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestStore_PutThenGet_RoundTrips(t *testing.T) {
	store := openTestStore(t)

	err := store.Put(context.Background(), 1, "fp-a", 100, "0xdead")
	require.NoError(t, err)

	v, found, err := store.Get(context.Background(), 1, "fp-a", 100)

	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "0xdead", v)
}

func TestStore_Get_MissReturnsFalse(t *testing.T) {
	store := openTestStore(t)

	_, found, err := store.Get(context.Background(), 1, "no-such-fp", 1)

	require.NoError(t, err)
	assert.False(t, found)
}

func TestStore_Get_DistinguishesByChainAndBlock(t *testing.T) {
	store := openTestStore(t)
	require.NoError(t, store.Put(context.Background(), 1, "fp-a", 100, "chain1"))
	require.NoError(t, store.Put(context.Background(), 2, "fp-a", 100, "chain2"))
	require.NoError(t, store.Put(context.Background(), 1, "fp-a", 200, "block200"))

	v1, _, _ := store.Get(context.Background(), 1, "fp-a", 100)
	v2, _, _ := store.Get(context.Background(), 2, "fp-a", 100)
	v3, _, _ := store.Get(context.Background(), 1, "fp-a", 200)

	assert.Equal(t, "chain1", v1)
	assert.Equal(t, "chain2", v2)
	assert.Equal(t, "block200", v3)
}

func TestStore_Put_OverwritesExistingKey(t *testing.T) {
	store := openTestStore(t)
	require.NoError(t, store.Put(context.Background(), 1, "fp-a", 100, "first"))
	require.NoError(t, store.Put(context.Background(), 1, "fp-a", 100, "second"))

	v, _, err := store.Get(context.Background(), 1, "fp-a", 100)

	require.NoError(t, err)
	assert.Equal(t, "second", v)
}

func TestStore_GetBatch_CorrelatesResultsToKeys(t *testing.T) {
	store := openTestStore(t)
	require.NoError(t, store.Put(context.Background(), 1, "fp-a", 100, "value-a"))
	require.NoError(t, store.Put(context.Background(), 1, "fp-b", 100, "value-b"))

	keys := []rpccache.RequestKey{
		{Fingerprint: "fp-a", BlockNumber: 100},
		{Fingerprint: "fp-b", BlockNumber: 100},
		{Fingerprint: "fp-missing", BlockNumber: 100},
	}
	got, err := store.GetBatch(context.Background(), 1, keys)

	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Equal(t, "value-a", got[keys[0]])
	assert.Equal(t, "value-b", got[keys[1]])
	_, found := got[keys[2]]
	assert.False(t, found)
}

func TestRowKey_ParseRoundTrips(t *testing.T) {
	key := rowKey(42, "some-fingerprint", 9999)

	chainID, fingerprint, blockNumber, err := parseRowKey(key)

	require.NoError(t, err)
	assert.Equal(t, uint64(42), chainID)
	assert.Equal(t, "some-fingerprint", fingerprint)
	assert.Equal(t, uint64(9999), blockNumber)
}

func TestParseRowKey_MalformedKeyErrors(t *testing.T) {
	_, _, _, err := parseRowKey([]byte("short"))

	assert.Error(t, err)
}
