package pattern_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chainindex/internal/chainevent"
	"chainindex/internal/pattern"
)

func TestResolve_Timestamp_BucketDividesValue(t *testing.T) {
	ev := &chainevent.Event{
		Name:  "NewBlock",
		Block: &chainevent.Block{Timestamp: 125},
	}

	v, ok := pattern.Resolve(pattern.Expr{Namespace: "block", Field: "timestamp", Bucket: pattern.Bucket60}, ev)

	require.True(t, ok)
	assert.Equal(t, uint64(2), v)
}

func TestResolve_MissingVariantReturnsFalse(t *testing.T) {
	ev := &chainevent.Event{Name: "NewBlock"}

	_, ok := pattern.Resolve(pattern.Expr{Namespace: "transaction", Field: "hash"}, ev)

	assert.False(t, ok)
}

func TestResolve_ArgsField(t *testing.T) {
	ev := &chainevent.Event{
		Name: "Approval",
		Args: map[string]any{"amount": "1000"},
	}

	v, ok := pattern.Resolve(pattern.Expr{Namespace: "args", Field: "amount"}, ev)

	require.True(t, ok)
	assert.Equal(t, "1000", v)
}

func TestResolve_UnknownField(t *testing.T) {
	ev := &chainevent.Event{
		Name: "Approval",
		Args: map[string]any{"amount": "1000"},
	}

	_, ok := pattern.Resolve(pattern.Expr{Namespace: "args", Field: "missing"}, ev)

	assert.False(t, ok)
}
