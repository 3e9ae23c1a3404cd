package scopedkv

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scopekv/scopekv/internal/backend"
)

func TestListStoresGlobal(t *testing.T) {
	forEachEngine(t, func(t *testing.T, coll backend.Collection) {
		ctx := context.Background()

		ds1 := New(coll, Owned("ds1"))
		ds2 := New(coll, Owned("ds2"))
		global := New(coll, Global())

		_, err := ds1.CreateStore(ctx, "A")
		require.NoError(t, err)
		_, err = ds2.CreateStore(ctx, "A")
		require.NoError(t, err)
		_, err = global.CreateStore(ctx, "B")
		require.NoError(t, err)

		// A shared name appears once per scope, so counts and listings agree.
		names, err := ds1.ListStoresGlobal(ctx)
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"A", "A", "B"}, names)

		n, err := ds1.CountStoresGlobal(ctx)
		require.NoError(t, err)
		assert.EqualValues(t, 3, n)
	})
}

func TestListStoresGlobal_Empty(t *testing.T) {
	forEachEngine(t, func(t *testing.T, coll backend.Collection) {
		ctx := context.Background()
		store := New(coll, Global())

		names, err := store.ListStoresGlobal(ctx)
		require.NoError(t, err)
		assert.NotNil(t, names)
		assert.Empty(t, names)

		n, err := store.CountStoresGlobal(ctx)
		require.NoError(t, err)
		assert.Zero(t, n)
	})
}

func TestHasStoreGlobal_IgnoresKeys(t *testing.T) {
	forEachEngine(t, func(t *testing.T, coll backend.Collection) {
		ctx := context.Background()
		store := New(coll, Owned("ds1"))

		// A bare key write does not create a store marker.
		_, err := store.SetKey(ctx, "A", "k1", "v1", 0)
		require.NoError(t, err)

		has, err := store.HasStoreGlobal(ctx, "A")
		require.NoError(t, err)
		assert.False(t, has, "only an explicit marker makes a store visible globally")

		names, err := store.ListStoresGlobal(ctx)
		require.NoError(t, err)
		assert.Empty(t, names)
	})
}
