package runtime_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chainindex/internal/chainevent"
	"chainindex/internal/historystore"
	"chainindex/internal/indexcache"
	"chainindex/internal/runtime"
	"chainindex/internal/schema"
)

func newTestStore() *historystore.Store {
	table := schema.Table{
		Schema: "public",
		Name:   "orders",
		Columns: []schema.Column{
			{Name: "id", Type: schema.TypeBigInt, PrimaryKey: true, NotNull: true},
		},
	}
	cache := indexcache.New([]schema.Table{table}, nil, nil, nil, nil, 1<<20, 0.25, false)
	return historystore.New(cache, map[string]schema.Table{table.Name: table}, nil)
}

func TestRegistry_Dispatch_RunsHandlersInRegistrationOrder(t *testing.T) {
	registry := runtime.NewRegistry(nil)
	var order []int
	registry.Register("Transfer", func(ctx context.Context, store *historystore.Store, event *chainevent.Event) error {
		order = append(order, 1)
		return nil
	})
	registry.Register("Transfer", func(ctx context.Context, store *historystore.Store, event *chainevent.Event) error {
		order = append(order, 2)
		return nil
	})

	err := registry.Dispatch(context.Background(), newTestStore(), &chainevent.Event{Name: "Transfer"})

	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, order)
}

func TestRegistry_Dispatch_NoHandlersIsNotAnError(t *testing.T) {
	registry := runtime.NewRegistry(nil)

	err := registry.Dispatch(context.Background(), newTestStore(), &chainevent.Event{Name: "Unregistered"})

	assert.NoError(t, err)
}

func TestRegistry_Dispatch_StopsAtFirstError(t *testing.T) {
	registry := runtime.NewRegistry(nil)
	secondRan := false
	registry.Register("Transfer", func(ctx context.Context, store *historystore.Store, event *chainevent.Event) error {
		return errors.New("boom")
	})
	registry.Register("Transfer", func(ctx context.Context, store *historystore.Store, event *chainevent.Event) error {
		secondRan = true
		return nil
	})

	err := registry.Dispatch(context.Background(), newTestStore(), &chainevent.Event{Name: "Transfer"})

	assert.Error(t, err)
	assert.False(t, secondRan, "a handler failure must stop dispatch for that event")
}
