package docgo

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/docgo/adapter"
	"github.com/hupe1980/docgo/collection"
	"github.com/hupe1980/docgo/document"
	"github.com/hupe1980/docgo/events"
	"github.com/hupe1980/docgo/query"
)

func TestCollectionRegistry(t *testing.T) {
	ctx := context.Background()
	db := New("app")
	defer db.Close(ctx)

	users, err := db.AddCollection("users")
	require.NoError(t, err)
	_, err = db.AddCollection("orders")
	require.NoError(t, err)

	t.Run("duplicate name", func(t *testing.T) {
		_, err := db.AddCollection("users")
		var dup *collection.DuplicateNameError
		assert.ErrorAs(t, err, &dup)
	})

	t.Run("get", func(t *testing.T) {
		got, err := db.GetCollection("users")
		require.NoError(t, err)
		assert.Same(t, users, got)

		_, err = db.GetCollection("missing")
		var uc *UnknownCollectionError
		assert.ErrorAs(t, err, &uc)
	})

	t.Run("get or add", func(t *testing.T) {
		got, err := db.GetOrAddCollection("users")
		require.NoError(t, err)
		assert.Same(t, users, got)

		fresh, err := db.GetOrAddCollection("events")
		require.NoError(t, err)
		assert.Equal(t, "events", fresh.Name())
	})

	t.Run("list preserves creation order", func(t *testing.T) {
		assert.Equal(t, []string{"users", "orders", "events"}, db.ListCollections())
	})

	t.Run("rename", func(t *testing.T) {
		require.NoError(t, db.RenameCollection("orders", "purchases"))

		got, err := db.GetCollection("purchases")
		require.NoError(t, err)
		assert.Equal(t, "purchases", got.Name())

		_, err = db.GetCollection("orders")
		assert.Error(t, err)

		assert.Error(t, db.RenameCollection("ghost", "x"))
		assert.Error(t, db.RenameCollection("users", "purchases"))
	})

	t.Run("remove", func(t *testing.T) {
		db.RemoveCollection("purchases")
		_, err := db.GetCollection("purchases")
		assert.Error(t, err)

		// Removing twice is fine.
		db.RemoveCollection("purchases")
	})
}

func TestSaveLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	mem := adapter.NewMemory()

	for _, format := range []Format{FormatJSON, FormatPretty, FormatDestructured} {
		t.Run(format.String(), func(t *testing.T) {
			db := New("app", WithAdapter(mem), WithFormat(format))

			users, err := db.AddCollection("users",
				collection.WithUniqueIndex("email"),
				collection.WithIndex("age"),
			)
			require.NoError(t, err)
			_, err = users.InsertBatch([]document.D{
				{"name": "odin", "email": "o@v.io", "age": 50},
				{"name": "thor", "email": "t@v.io", "age": 35},
			})
			require.NoError(t, err)

			_, err = db.AddCollection("empty")
			require.NoError(t, err)

			require.NoError(t, db.Save(ctx))
			require.NoError(t, db.Close(ctx))

			restored := New("app", WithAdapter(mem))
			defer restored.Close(ctx)
			require.NoError(t, restored.Load(ctx))

			assert.Equal(t, []string{"users", "empty"}, restored.ListCollections())
			assert.Equal(t, db.InstanceID(), restored.InstanceID())

			got, err := restored.GetCollection("users")
			require.NoError(t, err)
			assert.Equal(t, 2, got.Count())

			doc, err := got.By("email", "t@v.io")
			require.NoError(t, err)
			assert.Equal(t, "thor", doc["name"])

			docs, err := got.Find(query.Q{"age": query.Q{"$gte": 40}})
			require.NoError(t, err)
			require.Len(t, docs, 1)
			assert.Equal(t, "odin", docs[0]["name"])
		})
	}
}

func TestSaveWithoutAdapter(t *testing.T) {
	ctx := context.Background()
	db := New("app")
	defer db.Close(ctx)

	assert.ErrorIs(t, db.Save(ctx), ErrNoAdapter)
	assert.ErrorIs(t, db.Load(ctx), ErrNoAdapter)
}

func TestLoadMissingDatabase(t *testing.T) {
	ctx := context.Background()
	db := New("nope", WithAdapter(adapter.NewMemory()))
	defer db.Close(ctx)

	assert.ErrorIs(t, db.Load(ctx), ErrNotFound)
}

func TestSaveMarksClean(t *testing.T) {
	ctx := context.Background()
	db := New("app", WithAdapter(adapter.NewMemory()))
	defer db.Close(ctx)

	users, err := db.AddCollection("users")
	require.NoError(t, err)
	_, err = users.Insert(document.D{"name": "odin"})
	require.NoError(t, err)

	assert.True(t, users.Dirty())
	require.NoError(t, db.Save(ctx))
	assert.False(t, users.Dirty())
}

func TestSaveThrottle(t *testing.T) {
	ctx := context.Background()
	mem := adapter.NewMemory()
	db := New("app", WithAdapter(mem), WithSaveThrottle(time.Hour))
	defer db.Close(ctx)

	users, err := db.AddCollection("users")
	require.NoError(t, err)
	_, err = users.Insert(document.D{"name": "odin"})
	require.NoError(t, err)

	// First save passes the throttle.
	require.NoError(t, db.Save(ctx))
	assert.False(t, users.Dirty())

	// Second save inside the window is skipped, dirty state stays for later.
	_, err = users.Insert(document.D{"name": "thor"})
	require.NoError(t, err)
	require.NoError(t, db.Save(ctx))
	assert.True(t, users.Dirty())

	t.Run("close bypasses the throttle", func(t *testing.T) {
		require.NoError(t, db.Close(ctx))
		assert.False(t, users.Dirty())

		restored := New("app", WithAdapter(mem))
		defer restored.Close(ctx)
		require.NoError(t, restored.Load(ctx))

		got, err := restored.GetCollection("users")
		require.NoError(t, err)
		assert.Equal(t, 2, got.Count())
	})
}

func TestAutosave(t *testing.T) {
	ctx := context.Background()
	mem := adapter.NewMemory()

	db := New("app", WithAdapter(mem), WithAutosave(20*time.Millisecond))
	users, err := db.AddCollection("users")
	require.NoError(t, err)
	_, err = users.Insert(document.D{"name": "odin"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, err := mem.Load(ctx, "app")
		return err == nil
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, db.Close(ctx))
}

func TestCloseSavesPendingChanges(t *testing.T) {
	ctx := context.Background()
	mem := adapter.NewMemory()

	db := New("app", WithAdapter(mem))
	users, err := db.AddCollection("users")
	require.NoError(t, err)
	_, err = users.Insert(document.D{"name": "odin"})
	require.NoError(t, err)

	require.NoError(t, db.Close(ctx))

	restored := New("app", WithAdapter(mem))
	defer restored.Close(ctx)
	require.NoError(t, restored.Load(ctx))

	got, err := restored.GetCollection("users")
	require.NoError(t, err)
	assert.Equal(t, 1, got.Count())
}

func TestClosedDatabaseRejectsWork(t *testing.T) {
	ctx := context.Background()
	db := New("app", WithAdapter(adapter.NewMemory()))
	require.NoError(t, db.Close(ctx))

	_, err := db.AddCollection("users")
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, db.Save(ctx), ErrClosed)

	// Close twice is fine.
	require.NoError(t, db.Close(ctx))
}

func TestPartitionedSaveLoad(t *testing.T) {
	ctx := context.Background()
	inc, err := adapter.NewIncremental(t.TempDir())
	require.NoError(t, err)

	db := New("app", WithAdapter(inc))

	users, err := db.AddCollection("users")
	require.NoError(t, err)
	orders, err := db.AddCollection("orders")
	require.NoError(t, err)

	_, err = users.Insert(document.D{"name": "odin"})
	require.NoError(t, err)
	_, err = orders.Insert(document.D{"sku": "mjolnir"})
	require.NoError(t, err)

	require.NoError(t, db.Save(ctx))

	// Only users changes; the next save rewrites just that partition.
	_, err = users.Insert(document.D{"name": "thor"})
	require.NoError(t, err)
	require.NoError(t, db.Save(ctx))
	require.NoError(t, db.Close(ctx))

	restored := New("app", WithAdapter(inc))
	defer restored.Close(ctx)
	require.NoError(t, restored.Load(ctx))

	gotUsers, err := restored.GetCollection("users")
	require.NoError(t, err)
	assert.Equal(t, 2, gotUsers.Count())

	gotOrders, err := restored.GetCollection("orders")
	require.NoError(t, err)
	assert.Equal(t, 1, gotOrders.Count())
}

func TestLoadReplacesExistingCollections(t *testing.T) {
	ctx := context.Background()
	mem := adapter.NewMemory()

	db := New("app", WithAdapter(mem))
	c, err := db.AddCollection("persisted")
	require.NoError(t, err)
	_, err = c.Insert(document.D{"k": 1})
	require.NoError(t, err)
	require.NoError(t, db.Save(ctx))
	require.NoError(t, db.Close(ctx))

	other := New("app", WithAdapter(mem))
	defer other.Close(ctx)
	_, err = other.AddCollection("scratch")
	require.NoError(t, err)

	require.NoError(t, other.Load(ctx))
	assert.Equal(t, []string{"persisted"}, other.ListCollections())
}

func TestLifecycleEvents(t *testing.T) {
	ctx := context.Background()
	mem := adapter.NewMemory()

	seed := New("app", WithAdapter(mem))
	c, err := seed.AddCollection("users")
	require.NoError(t, err)
	_, err = c.Insert(document.D{"name": "odin"})
	require.NoError(t, err)
	require.NoError(t, seed.Close(ctx))

	db := New("app", WithAdapter(mem))

	var fired []events.Event
	for _, ev := range []events.Event{EventLoaded, EventFlushChanges, EventClose} {
		db.Events().On(ev, func(...any) { fired = append(fired, ev) })
	}

	require.NoError(t, db.Load(ctx))
	require.NoError(t, db.FlushChanges())
	require.NoError(t, db.Close(ctx))

	assert.Equal(t, []events.Event{EventLoaded, EventFlushChanges, EventClose}, fired)
}

func TestSerializeChanges(t *testing.T) {
	ctx := context.Background()
	db := New("app")
	defer db.Close(ctx)

	users, err := db.AddCollection("users", collection.WithChangesAPI(true))
	require.NoError(t, err)
	orders, err := db.AddCollection("orders", collection.WithChangesAPI(true))
	require.NoError(t, err)

	doc, err := users.Insert(document.D{"name": "odin"})
	require.NoError(t, err)
	require.NoError(t, users.Remove(doc))
	_, err = orders.Insert(document.D{"sku": "mjolnir"})
	require.NoError(t, err)

	data, err := db.SerializeChanges()
	require.NoError(t, err)

	var changes []collection.Change
	require.NoError(t, json.Unmarshal(data, &changes))
	require.Len(t, changes, 3)
	assert.Equal(t, collection.OpInsert, changes[0].Operation)
	assert.Equal(t, collection.OpRemove, changes[1].Operation)
	assert.Equal(t, "orders", changes[2].Collection)

	t.Run("selection by name", func(t *testing.T) {
		data, err := db.SerializeChanges("orders")
		require.NoError(t, err)
		var only []collection.Change
		require.NoError(t, json.Unmarshal(data, &only))
		require.Len(t, only, 1)
		assert.Equal(t, "orders", only[0].Collection)

		_, err = db.SerializeChanges("missing")
		var uc *UnknownCollectionError
		assert.ErrorAs(t, err, &uc)
	})

	t.Run("flush clears logs", func(t *testing.T) {
		require.NoError(t, db.FlushChanges("users"))
		assert.Empty(t, users.Changes())
		assert.Len(t, orders.Changes(), 1)
	})
}
