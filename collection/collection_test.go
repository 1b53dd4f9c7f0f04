package collection

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/docgo/document"
	"github.com/hupe1980/docgo/query"
)

func seedUsers(t *testing.T, c *Collection) {
	t.Helper()
	_, err := c.InsertBatch([]document.D{
		{"name": "odin", "age": 50, "city": "asgard"},
		{"name": "thor", "age": 35, "city": "asgard"},
		{"name": "loki", "age": 30, "city": "asgard"},
		{"name": "freyja", "age": 40, "city": "vanaheim"},
	})
	require.NoError(t, err)
}

func TestInsertAssignsIDsAndMeta(t *testing.T) {
	c := New("users")
	defer c.Close()

	a, err := c.Insert(document.D{"name": "odin"})
	require.NoError(t, err)
	b, err := c.Insert(document.D{"name": "thor"})
	require.NoError(t, err)

	idA, ok := document.ID(a)
	require.True(t, ok)
	idB, ok := document.ID(b)
	require.True(t, ok)
	assert.Equal(t, uint64(1), idA)
	assert.Equal(t, uint64(2), idB)

	meta := document.GetMeta(a)
	require.NotNil(t, meta)
	assert.Equal(t, 0, meta.Revision)
	assert.NotZero(t, meta.Created)

	assert.Equal(t, 2, c.Count())
	assert.True(t, c.Dirty())
}

func TestInsertRejectsForeignID(t *testing.T) {
	c := New("users")
	defer c.Close()

	_, err := c.Insert(document.D{"name": "odin", document.IDField: uint64(9)})
	assert.ErrorIs(t, err, ErrHasID)
}

func TestIDsNotReusedAfterRemove(t *testing.T) {
	c := New("users")
	defer c.Close()

	doc, err := c.Insert(document.D{"name": "odin"})
	require.NoError(t, err)
	id, _ := document.ID(doc)

	require.NoError(t, c.Remove(doc))

	next, err := c.Insert(document.D{"name": "thor"})
	require.NoError(t, err)
	nextID, _ := document.ID(next)
	assert.Equal(t, id+1, nextID)

	_, err = c.Get(id)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRemoveBatch(t *testing.T) {
	c := New("users")
	defer c.Close()

	docs, err := c.InsertBatch([]document.D{
		{"name": "odin"}, {"name": "thor"}, {"name": "loki"},
	})
	require.NoError(t, err)

	id0, _ := document.ID(docs[0])
	id2, _ := document.ID(docs[2])

	require.NoError(t, c.RemoveBatch([]uint64{id0, id2}))
	assert.Equal(t, 1, c.Count())

	t.Run("unknown id stops the batch", func(t *testing.T) {
		id1, _ := document.ID(docs[1])
		err := c.RemoveBatch([]uint64{id0, id1})
		assert.ErrorIs(t, err, ErrNotFound)
		assert.Equal(t, 1, c.Count())
	})
}

func TestClearResetsIDCounter(t *testing.T) {
	c := New("users")
	defer c.Close()

	_, err := c.Insert(document.D{"name": "odin"})
	require.NoError(t, err)

	c.Clear()
	assert.Zero(t, c.Count())

	doc, err := c.Insert(document.D{"name": "thor"})
	require.NoError(t, err)
	id, _ := document.ID(doc)
	assert.Equal(t, uint64(1), id)
}

func TestUpdateBumpsRevisionOnce(t *testing.T) {
	c := New("users")
	defer c.Close()

	doc, err := c.Insert(document.D{"name": "odin", "age": 50})
	require.NoError(t, err)

	doc["age"] = 51
	updated, err := c.Update(doc)
	require.NoError(t, err)

	meta := document.GetMeta(updated)
	require.NotNil(t, meta)
	assert.Equal(t, 1, meta.Revision)
	assert.NotZero(t, meta.Updated)

	id, _ := document.ID(doc)
	got, err := c.Get(id)
	require.NoError(t, err)
	assert.Equal(t, 51, got["age"])
}

func TestUpdateUnknownID(t *testing.T) {
	c := New("users")
	defer c.Close()

	_, err := c.Update(document.D{document.IDField: uint64(404), "name": "ghost"})
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = c.Update(document.D{"name": "ghost"})
	assert.ErrorIs(t, err, ErrMissingID)
}

func TestUpsert(t *testing.T) {
	c := New("users")
	defer c.Close()

	doc, err := c.Upsert(document.D{"name": "odin"})
	require.NoError(t, err)
	assert.Equal(t, 1, c.Count())

	doc["age"] = 50
	_, err = c.Upsert(doc)
	require.NoError(t, err)
	assert.Equal(t, 1, c.Count())

	id, _ := document.ID(doc)
	got, err := c.Get(id)
	require.NoError(t, err)
	assert.Equal(t, 50, got["age"])
}

func TestUniqueIndex(t *testing.T) {
	c := New("users", WithUniqueIndex("email"))
	defer c.Close()

	_, err := c.Insert(document.D{"name": "odin", "email": "o@v.io"})
	require.NoError(t, err)

	t.Run("duplicate insert rejected without side effects", func(t *testing.T) {
		_, err := c.Insert(document.D{"name": "fake", "email": "o@v.io"})

		var dup *DuplicateKeyError
		require.ErrorAs(t, err, &dup)
		assert.Equal(t, "email", dup.Field)
		assert.Equal(t, 1, c.Count())
	})

	t.Run("nil values exempt", func(t *testing.T) {
		_, err := c.Insert(document.D{"name": "a"})
		require.NoError(t, err)
		_, err = c.Insert(document.D{"name": "b"})
		require.NoError(t, err)
	})

	t.Run("lookup via By", func(t *testing.T) {
		doc, err := c.By("email", "o@v.io")
		require.NoError(t, err)
		assert.Equal(t, "odin", doc["name"])

		_, err = c.By("email", "missing@v.io")
		assert.ErrorIs(t, err, ErrNotFound)

		_, err = c.By("name", "odin")
		var nu *NotUniqueFieldError
		assert.ErrorAs(t, err, &nu)
	})

	t.Run("update to taken value rejected, entry intact", func(t *testing.T) {
		doc, err := c.Insert(document.D{"name": "thor", "email": "t@v.io"})
		require.NoError(t, err)

		doc["email"] = "o@v.io"
		_, err = c.Update(doc)
		var dup *DuplicateKeyError
		require.ErrorAs(t, err, &dup)

		// The old key still resolves and the stored field is back to the
		// indexed value, even though doc was a live reference.
		got, err := c.By("email", "t@v.io")
		require.NoError(t, err)
		assert.Equal(t, "thor", got["name"])
		assert.Equal(t, "t@v.io", got["email"])
	})

	t.Run("update to own value allowed", func(t *testing.T) {
		doc, err := c.By("email", "t@v.io")
		require.NoError(t, err)

		doc["age"] = 35
		_, err = c.Update(doc)
		require.NoError(t, err)
	})

	t.Run("remove frees the key", func(t *testing.T) {
		doc, err := c.By("email", "t@v.io")
		require.NoError(t, err)
		require.NoError(t, c.Remove(doc))

		_, err = c.Insert(document.D{"name": "thor2", "email": "t@v.io"})
		require.NoError(t, err)
	})

	t.Run("update through a live reference moves the key", func(t *testing.T) {
		doc, err := c.Insert(document.D{"name": "freyja", "email": "f@v.io"})
		require.NoError(t, err)

		doc["email"] = "freyja@v.io"
		_, err = c.Update(doc)
		require.NoError(t, err)

		_, err = c.By("email", "f@v.io")
		assert.ErrorIs(t, err, ErrNotFound)
		got, err := c.By("email", "freyja@v.io")
		require.NoError(t, err)
		assert.Equal(t, "freyja", got["name"])
	})
}

func TestEnsureUniqueIndexOnExistingData(t *testing.T) {
	c := New("users")
	defer c.Close()

	_, err := c.Insert(document.D{"email": "a@v.io"})
	require.NoError(t, err)
	_, err = c.Insert(document.D{"email": "b@v.io"})
	require.NoError(t, err)

	require.NoError(t, c.EnsureUniqueIndex("email"))

	doc, err := c.By("email", "b@v.io")
	require.NoError(t, err)
	assert.Equal(t, "b@v.io", doc["email"])

	t.Run("existing duplicates fail the build", func(t *testing.T) {
		d := New("dups")
		defer d.Close()

		_, err := d.Insert(document.D{"email": "x@v.io"})
		require.NoError(t, err)
		_, err = d.Insert(document.D{"email": "x@v.io"})
		require.NoError(t, err)

		var dup *DuplicateKeyError
		assert.ErrorAs(t, d.EnsureUniqueIndex("email"), &dup)
	})
}

func TestFindQueries(t *testing.T) {
	c := New("users", WithIndex("age"))
	defer c.Close()
	seedUsers(t, c)

	t.Run("indexed range", func(t *testing.T) {
		docs, err := c.Find(query.Q{"age": query.Q{"$gte": 35}})
		require.NoError(t, err)
		assert.Len(t, docs, 3)
	})

	t.Run("indexed eq plus extra clause", func(t *testing.T) {
		docs, err := c.Find(query.Q{"age": 35, "city": "asgard"})
		require.NoError(t, err)
		require.Len(t, docs, 1)
		assert.Equal(t, "thor", docs[0]["name"])
	})

	t.Run("unindexed scan", func(t *testing.T) {
		docs, err := c.Find(query.Q{"city": "vanaheim"})
		require.NoError(t, err)
		require.Len(t, docs, 1)
		assert.Equal(t, "freyja", docs[0]["name"])
	})

	t.Run("find one", func(t *testing.T) {
		doc, err := c.FindOne(query.Q{"name": "loki"})
		require.NoError(t, err)
		assert.Equal(t, 30, doc["age"])

		_, err = c.FindOne(query.Q{"name": "ymir"})
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("where", func(t *testing.T) {
		docs, err := c.Where(func(d document.D) bool {
			return d["age"].(int) < 40
		})
		require.NoError(t, err)
		assert.Len(t, docs, 2)
	})

	t.Run("unknown operator fails closed", func(t *testing.T) {
		_, err := c.Find(query.Q{"age": query.Q{"$bogus": 1}})
		var ue *query.UnknownOperatorError
		assert.ErrorAs(t, err, &ue)
	})
}

func TestFindAndUpdate(t *testing.T) {
	c := New("users")
	defer c.Close()
	seedUsers(t, c)

	err := c.FindAndUpdate(query.Q{"city": "asgard"}, func(d document.D) error {
		d["resident"] = true
		return nil
	})
	require.NoError(t, err)

	docs, err := c.Find(query.Q{"resident": true})
	require.NoError(t, err)
	assert.Len(t, docs, 3)

	t.Run("callback error stops iteration", func(t *testing.T) {
		boom := errors.New("boom")
		err := c.FindAndUpdate(query.Q{"city": "vanaheim"}, func(d document.D) error {
			return boom
		})
		assert.ErrorIs(t, err, boom)
	})
}

func TestFindAndRemove(t *testing.T) {
	c := New("users")
	defer c.Close()
	seedUsers(t, c)

	require.NoError(t, c.FindAndRemove(query.Q{"city": "asgard"}))
	assert.Equal(t, 1, c.Count())

	docs, err := c.Find(query.Q{})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "freyja", docs[0]["name"])
}

func TestBinaryIndexStaysOrdered(t *testing.T) {
	for _, adaptive := range []bool{true, false} {
		name := "lazy"
		if adaptive {
			name = "adaptive"
		}
		t.Run(name, func(t *testing.T) {
			c := New("scores", WithIndex("score"), WithAdaptiveIndices(adaptive))
			defer c.Close()

			for _, s := range []int{50, 10, 90, 30, 70} {
				_, err := c.Insert(document.D{"score": s})
				require.NoError(t, err)
			}

			// Mutate: remove the middle, update another past it.
			doc, err := c.FindOne(query.Q{"score": 90})
			require.NoError(t, err)
			require.NoError(t, c.Remove(doc))

			doc, err = c.FindOne(query.Q{"score": 10})
			require.NoError(t, err)
			doc["score"] = 95
			_, err = c.Update(doc)
			require.NoError(t, err)

			got, err := c.Chain().SimpleSort("score", false).Data()
			require.NoError(t, err)

			scores := make([]int, len(got))
			for i, d := range got {
				scores[i] = d["score"].(int)
			}
			assert.Equal(t, []int{30, 50, 70, 95}, scores)

			docs, err := c.Find(query.Q{"score": query.Q{"$between": []any{40, 80}}})
			require.NoError(t, err)
			assert.Len(t, docs, 2)
		})
	}
}

func TestUniqueAndBinaryIndexTogether(t *testing.T) {
	c := New("scores", WithUniqueIndex("player"), WithIndex("score"))
	defer c.Close()

	_, err := c.InsertBatch([]document.D{
		{"player": 1, "score": 10},
		{"player": 2, "score": 5},
		{"player": 3, "score": 20},
	})
	require.NoError(t, err)

	docs, err := c.Find(query.Q{"score": query.Q{"$gte": 8}})
	require.NoError(t, err)
	players := make([]any, len(docs))
	for i, d := range docs {
		players[i] = d["player"]
	}
	assert.ElementsMatch(t, []any{1, 3}, players)

	doc, err := c.By("player", 2)
	require.NoError(t, err)
	assert.Equal(t, 5, doc["score"])
}

func TestMinMaxOf(t *testing.T) {
	c := New("scores", WithIndex("score"))
	defer c.Close()

	for _, s := range []any{40, 10, nil, 70} {
		doc := document.D{"name": "x"}
		if s != nil {
			doc["score"] = s
		}
		_, err := c.Insert(doc)
		require.NoError(t, err)
	}

	assert.Equal(t, 10, c.MinOf("score"))
	assert.Equal(t, 70, c.MaxOf("score"))
}

func TestChangesAPI(t *testing.T) {
	c := New("users", WithChangesAPI(true))
	defer c.Close()

	doc, err := c.Insert(document.D{"name": "odin"})
	require.NoError(t, err)

	doc["age"] = 50
	_, err = c.Update(doc)
	require.NoError(t, err)

	require.NoError(t, c.Remove(doc))

	changes := c.Changes()
	require.Len(t, changes, 3)
	assert.Equal(t, OpInsert, changes[0].Operation)
	assert.Equal(t, OpUpdate, changes[1].Operation)
	assert.Equal(t, OpRemove, changes[2].Operation)
	assert.Equal(t, "users", changes[0].Collection)

	c.FlushChanges()
	assert.Empty(t, c.Changes())
}

func TestEvents(t *testing.T) {
	c := New("users")
	defer c.Close()

	var inserts, updates, deletes int
	c.Events().On(EventInsert, func(args ...any) { inserts++ })
	c.Events().On(EventUpdate, func(args ...any) { updates++ })
	c.Events().On(EventDelete, func(args ...any) { deletes++ })

	doc, err := c.Insert(document.D{"name": "odin"})
	require.NoError(t, err)
	doc["age"] = 50
	_, err = c.Update(doc)
	require.NoError(t, err)
	require.NoError(t, c.Remove(doc))

	assert.Equal(t, 1, inserts)
	assert.Equal(t, 1, updates)
	assert.Equal(t, 1, deletes)
}

func TestTTLSweep(t *testing.T) {
	c := New("sessions", WithTTL(30*time.Millisecond, 10*time.Millisecond))
	defer c.Close()

	_, err := c.Insert(document.D{"token": "abc"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return c.Count() == 0
	}, time.Second, 10*time.Millisecond)
}

func TestCloseRejectsMutations(t *testing.T) {
	c := New("users")

	_, err := c.Insert(document.D{"name": "odin"})
	require.NoError(t, err)

	c.Close()

	_, err = c.Insert(document.D{"name": "thor"})
	assert.ErrorIs(t, err, ErrClosed)

	// Reads keep working on the frozen data.
	assert.Equal(t, 1, c.Count())
}

func TestCloneStrategies(t *testing.T) {
	t.Run("none returns live reference", func(t *testing.T) {
		c := New("raw")
		defer c.Close()

		doc, err := c.Insert(document.D{"n": 1})
		require.NoError(t, err)
		doc["n"] = 2

		id, _ := document.ID(doc)
		got, err := c.Get(id)
		require.NoError(t, err)
		assert.Equal(t, 2, got["n"])
	})

	t.Run("shallow isolates stored doc", func(t *testing.T) {
		c := New("cloned", WithClone(document.CloneShallow))
		defer c.Close()

		doc, err := c.Insert(document.D{"n": 1})
		require.NoError(t, err)
		doc["n"] = 2

		id, _ := document.ID(doc)
		got, err := c.Get(id)
		require.NoError(t, err)
		assert.Equal(t, 1, got["n"])
	})
}

func TestTransforms(t *testing.T) {
	c := New("users")
	defer c.Close()
	seedUsers(t, c)

	err := c.AddTransform("asgard-by-age", []TransformStep{
		{Type: StepFind, Query: query.Q{"city": "asgard"}},
		{Type: StepSimpleSort, Field: "age", Desc: true},
		{Type: StepLimit, N: 2},
	})
	require.NoError(t, err)

	rs, err := c.ChainTransform("asgard-by-age")
	require.NoError(t, err)

	docs, err := rs.Data()
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "odin", docs[0]["name"])
	assert.Equal(t, "thor", docs[1]["name"])

	t.Run("duplicate name", func(t *testing.T) {
		err := c.AddTransform("asgard-by-age", nil)
		var dup *DuplicateNameError
		assert.ErrorAs(t, err, &dup)
	})

	t.Run("unknown transform", func(t *testing.T) {
		_, err := c.ChainTransform("nope")
		var ut *UnknownTransformError
		assert.ErrorAs(t, err, &ut)
	})
}
