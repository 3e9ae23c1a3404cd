package scopedkv

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scopekv/scopekv/internal/backend"
	"github.com/scopekv/scopekv/internal/backend/memory"
	"github.com/scopekv/scopekv/internal/backend/sqlite"
	"github.com/scopekv/scopekv/internal/testutil"
)

// forEachEngine runs a test against every in-tree engine. The behavior under
// test is engine-independent; running it everywhere keeps the contract
// honest.
func forEachEngine(t *testing.T, fn func(t *testing.T, coll backend.Collection)) {
	t.Run("memory", func(t *testing.T) {
		coll := memory.Open()
		t.Cleanup(func() { coll.Close() })
		fn(t, coll)
	})

	t.Run("sqlite", func(t *testing.T) {
		coll, err := sqlite.Open(filepath.Join(t.TempDir(), "test.db"))
		require.NoError(t, err)
		t.Cleanup(func() { coll.Close() })
		fn(t, coll)
	})
}

func testBase() time.Time {
	return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
}

func TestSetKey_ThenGet(t *testing.T) {
	forEachEngine(t, func(t *testing.T, coll backend.Collection) {
		ctx := context.Background()
		store := New(coll, Owned("ds1"))

		_, err := store.SetKey(ctx, "A", "k1", map[string]any{"x": 1}, 0)
		require.NoError(t, err)

		entry, err := store.GetKey(ctx, "A", "k1")
		require.NoError(t, err)
		require.NotNil(t, entry)

		var got map[string]any
		require.NoError(t, entry.Decode(&got))
		assert.Equal(t, float64(1), got["x"])
		assert.Equal(t, "A", entry.StoreName)
		assert.Equal(t, "k1", entry.Key)
		assert.Equal(t, "ds1", entry.Scope.String())
		assert.Nil(t, entry.ExpiresAt)
	})
}

func TestSetKey_UpsertPreservesCreatedAt(t *testing.T) {
	forEachEngine(t, func(t *testing.T, coll backend.Collection) {
		ctx := context.Background()
		clock := testutil.NewClock(testBase())
		store := New(coll, Owned("ds1"), WithNow(clock.Now))

		first, err := store.SetKey(ctx, "A", "k1", "v1", 0)
		require.NoError(t, err)

		clock.Advance(time.Minute)

		second, err := store.SetKey(ctx, "A", "k1", "v2", 0)
		require.NoError(t, err)

		assert.WithinDuration(t, first.CreatedAt, second.CreatedAt, 0,
			"CreatedAt must not change on update")
		assert.WithinDuration(t, testBase().Add(time.Minute), second.UpdatedAt, 0,
			"UpdatedAt must advance on update")

		entry, err := store.GetKey(ctx, "A", "k1")
		require.NoError(t, err)
		require.NotNil(t, entry)

		var got string
		require.NoError(t, entry.Decode(&got))
		assert.Equal(t, "v2", got)
	})
}

func TestSetKey_ContextIsolation(t *testing.T) {
	forEachEngine(t, func(t *testing.T, coll backend.Collection) {
		ctx := context.Background()

		ds1 := New(coll, Owned("ds1"))
		ds2 := New(coll, Owned("ds2"))
		global := New(coll, Global())

		_, err := ds1.SetKey(ctx, "A", "k1", "v1", 0)
		require.NoError(t, err)

		entry, err := ds1.GetKey(ctx, "A", "k1")
		require.NoError(t, err)
		assert.NotNil(t, entry, "writer's context must see the value")

		entry, err = ds2.GetKey(ctx, "A", "k1")
		require.NoError(t, err)
		assert.Nil(t, entry, "other context must not see the value")

		entry, err = global.GetKey(ctx, "A", "k1")
		require.NoError(t, err)
		assert.Nil(t, entry, "global context must not see an owned value")
	})
}

func TestSetKey_TTL(t *testing.T) {
	forEachEngine(t, func(t *testing.T, coll backend.Collection) {
		ctx := context.Background()
		clock := testutil.NewClock(testBase())
		store := New(coll, Owned("ds1"), WithNow(clock.Now))

		entry, err := store.SetKey(ctx, "A", "k1", "v1", time.Minute)
		require.NoError(t, err)
		require.NotNil(t, entry.ExpiresAt)
		assert.WithinDuration(t, testBase().Add(time.Minute), *entry.ExpiresAt, 0)

		// Updating without a ttl clears the expiration
		entry, err = store.SetKey(ctx, "A", "k1", "v2", 0)
		require.NoError(t, err)
		assert.Nil(t, entry.ExpiresAt, "omitted ttl must clear expiration")

		// Negative ttl means no expiration
		entry, err = store.SetKey(ctx, "A", "k2", "v1", -time.Second)
		require.NoError(t, err)
		assert.Nil(t, entry.ExpiresAt)
	})
}

func TestGetKey_ExpiredEntryHidden(t *testing.T) {
	forEachEngine(t, func(t *testing.T, coll backend.Collection) {
		ctx := context.Background()
		clock := testutil.NewClock(testBase())
		store := New(coll, Owned("ds1"), WithNow(clock.Now))

		_, err := store.SetKey(ctx, "A", "k1", "v1", time.Second)
		require.NoError(t, err)

		entry, err := store.GetKey(ctx, "A", "k1")
		require.NoError(t, err)
		assert.NotNil(t, entry, "entry must be visible before expiry")

		clock.Advance(2 * time.Second)

		entry, err = store.GetKey(ctx, "A", "k1")
		require.NoError(t, err)
		assert.Nil(t, entry, "expired entry must be hidden from reads")

		keys, err := store.ListKeys(ctx, "A")
		require.NoError(t, err)
		assert.Empty(t, keys, "expired entry must be hidden from listings")

		n, err := store.CountKeys(ctx, "A")
		require.NoError(t, err)
		assert.Zero(t, n, "expired entry must be hidden from counts")
	})
}

func TestExpiredEntry_AbsentForWrites(t *testing.T) {
	forEachEngine(t, func(t *testing.T, coll backend.Collection) {
		ctx := context.Background()
		clock := testutil.NewClock(testBase())
		store := New(coll, Owned("ds1"), WithNow(clock.Now))

		_, err := store.SetKey(ctx, "A", "k1", "v1", time.Second)
		require.NoError(t, err)

		clock.Advance(time.Hour)

		entry, err := store.GetKey(ctx, "A", "k1")
		require.NoError(t, err)
		require.Nil(t, entry)

		changed, err := store.UpdateTTL(ctx, "A", "k1", time.Minute)
		require.NoError(t, err)
		assert.False(t, changed, "a ttl update must not revive an expired entry")

		deleted, err := store.DeleteKey(ctx, "A", "k1")
		require.NoError(t, err)
		assert.False(t, deleted, "an expired entry is already logically gone")

		// Writing the key again starts a fresh entry, not an update of the
		// dead record
		fresh, err := store.SetKey(ctx, "A", "k1", "v2", 0)
		require.NoError(t, err)
		assert.WithinDuration(t, testBase().Add(time.Hour), fresh.CreatedAt, 0,
			"a write over an expired entry must create, not update")
		assert.Nil(t, fresh.ExpiresAt)

		entry, err = store.GetKey(ctx, "A", "k1")
		require.NoError(t, err)
		require.NotNil(t, entry)

		var got string
		require.NoError(t, entry.Decode(&got))
		assert.Equal(t, "v2", got)
	})
}

func TestDeleteKey_Idempotent(t *testing.T) {
	forEachEngine(t, func(t *testing.T, coll backend.Collection) {
		ctx := context.Background()
		store := New(coll, Owned("ds1"))

		_, err := store.SetKey(ctx, "A", "k1", "v1", 0)
		require.NoError(t, err)

		deleted, err := store.DeleteKey(ctx, "A", "k1")
		require.NoError(t, err)
		assert.True(t, deleted, "first delete must report true")

		deleted, err = store.DeleteKey(ctx, "A", "k1")
		require.NoError(t, err)
		assert.False(t, deleted, "repeated delete must report false")
	})
}

func TestListKeys_ExcludesMarker(t *testing.T) {
	forEachEngine(t, func(t *testing.T, coll backend.Collection) {
		ctx := context.Background()
		store := New(coll, Owned("ds1"))

		_, err := store.CreateStore(ctx, "A")
		require.NoError(t, err)
		_, err = store.SetKey(ctx, "A", "k1", "v1", 0)
		require.NoError(t, err)
		_, err = store.SetKey(ctx, "A", "k2", "v2", 0)
		require.NoError(t, err)

		keys, err := store.ListKeys(ctx, "A")
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"k1", "k2"}, keys)
		assert.NotContains(t, keys, ReservedKey)

		n, err := store.CountKeys(ctx, "A")
		require.NoError(t, err)
		assert.EqualValues(t, 2, n)
	})
}

func TestReservedKey_Rejected(t *testing.T) {
	forEachEngine(t, func(t *testing.T, coll backend.Collection) {
		ctx := context.Background()
		store := New(coll, Owned("ds1"))

		_, err := store.SetKey(ctx, "A", ReservedKey, "v", 0)
		assert.ErrorIs(t, err, ErrReservedKey)

		_, err = store.GetKey(ctx, "A", ReservedKey)
		assert.ErrorIs(t, err, ErrReservedKey)

		_, err = store.DeleteKey(ctx, "A", ReservedKey)
		assert.ErrorIs(t, err, ErrReservedKey)

		_, err = store.UpdateTTL(ctx, "A", ReservedKey, time.Minute)
		assert.ErrorIs(t, err, ErrReservedKey)
	})
}

func TestCreateStore_Visibility(t *testing.T) {
	forEachEngine(t, func(t *testing.T, coll backend.Collection) {
		ctx := context.Background()

		ds1 := New(coll, Owned("ds1"))
		ds2 := New(coll, Owned("ds2"))

		marker, err := ds1.CreateStore(ctx, "A")
		require.NoError(t, err)
		assert.Equal(t, "A", marker.StoreName)
		assert.Equal(t, "ds1", marker.Scope.String())

		has, err := ds1.HasStore(ctx, "A")
		require.NoError(t, err)
		assert.True(t, has, "store must exist in its own context")

		has, err = ds2.HasStore(ctx, "A")
		require.NoError(t, err)
		assert.False(t, has, "store must not exist in another context")

		has, err = ds2.HasStoreGlobal(ctx, "A")
		require.NoError(t, err)
		assert.True(t, has, "global check must see any context's store")
	})
}

func TestCreateStore_Duplicate(t *testing.T) {
	forEachEngine(t, func(t *testing.T, coll backend.Collection) {
		ctx := context.Background()
		store := New(coll, Owned("ds1"))

		_, err := store.CreateStore(ctx, "A")
		require.NoError(t, err)

		_, err = store.CreateStore(ctx, "A")
		assert.True(t, errors.Is(err, backend.ErrDuplicate),
			"duplicate marker must surface the uniqueness violation, got %v", err)

		// Same name in another context is independent
		_, err = New(coll, Owned("ds2")).CreateStore(ctx, "A")
		assert.NoError(t, err)
	})
}

func TestListStores_PerContext(t *testing.T) {
	forEachEngine(t, func(t *testing.T, coll backend.Collection) {
		ctx := context.Background()

		ds1 := New(coll, Owned("ds1"))
		ds2 := New(coll, Owned("ds2"))

		for _, name := range []string{"A", "B"} {
			_, err := ds1.CreateStore(ctx, name)
			require.NoError(t, err)
		}
		_, err := ds2.CreateStore(ctx, "C")
		require.NoError(t, err)

		names, err := ds1.ListStores(ctx)
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"A", "B"}, names)

		n, err := ds1.CountStores(ctx)
		require.NoError(t, err)
		assert.EqualValues(t, 2, n)

		names, err = ds2.ListStores(ctx)
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"C"}, names)
	})
}

func TestDeleteStore_RemovesMarkerAndKeys(t *testing.T) {
	forEachEngine(t, func(t *testing.T, coll backend.Collection) {
		ctx := context.Background()
		store := New(coll, Owned("ds1"))

		_, err := store.CreateStore(ctx, "A")
		require.NoError(t, err)
		_, err = store.SetKey(ctx, "A", "k1", "v1", 0)
		require.NoError(t, err)
		_, err = store.SetKey(ctx, "A", "k2", "v2", 0)
		require.NoError(t, err)

		// A second store survives the delete
		_, err = store.CreateStore(ctx, "B")
		require.NoError(t, err)

		n, err := store.DeleteStore(ctx, "A")
		require.NoError(t, err)
		assert.EqualValues(t, 3, n, "marker plus two keys")

		has, err := store.HasStore(ctx, "A")
		require.NoError(t, err)
		assert.False(t, has)

		has, err = store.HasStore(ctx, "B")
		require.NoError(t, err)
		assert.True(t, has)

		// Idempotent retry
		n, err = store.DeleteStore(ctx, "A")
		require.NoError(t, err)
		assert.Zero(t, n, "re-running a bulk delete is a no-op")
	})
}

func TestUpdateTTL(t *testing.T) {
	forEachEngine(t, func(t *testing.T, coll backend.Collection) {
		ctx := context.Background()
		clock := testutil.NewClock(testBase())
		store := New(coll, Owned("ds1"), WithNow(clock.Now))

		_, err := store.SetKey(ctx, "A", "k1", map[string]any{"x": 1}, 0)
		require.NoError(t, err)

		changed, err := store.UpdateTTL(ctx, "A", "k1", time.Minute)
		require.NoError(t, err)
		assert.True(t, changed)

		entry, err := store.GetKey(ctx, "A", "k1")
		require.NoError(t, err)
		require.NotNil(t, entry)
		require.NotNil(t, entry.ExpiresAt)
		assert.WithinDuration(t, testBase().Add(time.Minute), *entry.ExpiresAt, 0)

		// Value and timestamps untouched
		var got map[string]any
		require.NoError(t, entry.Decode(&got))
		assert.Equal(t, float64(1), got["x"])
		assert.WithinDuration(t, testBase(), entry.UpdatedAt, 0)

		// Nonexistent key
		changed, err = store.UpdateTTL(ctx, "A", "missing", time.Minute)
		require.NoError(t, err)
		assert.False(t, changed)
	})
}

func TestCleanup_ScopedToContext(t *testing.T) {
	forEachEngine(t, func(t *testing.T, coll backend.Collection) {
		ctx := context.Background()

		ds1 := New(coll, Owned("ds1"))
		ds2 := New(coll, Owned("ds2"))

		_, err := ds1.CreateStore(ctx, "A")
		require.NoError(t, err)
		_, err = ds1.SetKey(ctx, "A", "k1", "v1", 0)
		require.NoError(t, err)

		_, err = ds2.CreateStore(ctx, "A")
		require.NoError(t, err)
		_, err = ds2.SetKey(ctx, "A", "k1", "v1", 0)
		require.NoError(t, err)

		n, err := ds1.Cleanup(ctx)
		require.NoError(t, err)
		assert.EqualValues(t, 2, n)

		stores, err := ds1.CountStores(ctx)
		require.NoError(t, err)
		assert.Zero(t, stores)

		keys, err := ds1.CountKeys(ctx, "A")
		require.NoError(t, err)
		assert.Zero(t, keys)

		// The other context is untouched
		stores, err = ds2.CountStores(ctx)
		require.NoError(t, err)
		assert.EqualValues(t, 1, stores)

		keys, err = ds2.CountKeys(ctx, "A")
		require.NoError(t, err)
		assert.EqualValues(t, 1, keys)
	})
}

func TestCleanup_GlobalContext(t *testing.T) {
	forEachEngine(t, func(t *testing.T, coll backend.Collection) {
		ctx := context.Background()

		global := New(coll, Global())
		ds1 := New(coll, Owned("ds1"))

		_, err := global.CreateStore(ctx, "A")
		require.NoError(t, err)
		_, err = ds1.CreateStore(ctx, "A")
		require.NoError(t, err)

		n, err := global.Cleanup(ctx)
		require.NoError(t, err)
		assert.EqualValues(t, 1, n, "global cleanup must only remove unscoped records")

		has, err := ds1.HasStore(ctx, "A")
		require.NoError(t, err)
		assert.True(t, has)
	})
}
