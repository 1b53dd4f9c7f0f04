package collection

import (
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/docgo/document"
	"github.com/hupe1980/docgo/query"
)

// roundTrip pushes the snapshot through JSON to mimic what an adapter save
// and load does to it.
func roundTrip(t *testing.T, c *Collection) *Collection {
	t.Helper()

	raw, err := json.Marshal(c.TakeSnapshot())
	require.NoError(t, err)

	var snap Snapshot
	require.NoError(t, json.Unmarshal(raw, &snap))

	restored, err := FromSnapshot(snap)
	require.NoError(t, err)
	return restored
}

func TestSnapshotRoundTripEmpty(t *testing.T) {
	c := New("empty")
	defer c.Close()

	r := roundTrip(t, c)
	defer r.Close()

	assert.Equal(t, "empty", r.Name())
	assert.Zero(t, r.Count())
}

func TestSnapshotRoundTripData(t *testing.T) {
	c := New("users",
		WithUniqueIndex("email"),
		WithIndex("age"),
		WithClone(document.CloneShallow),
		WithChangesAPI(true),
	)
	defer c.Close()

	_, err := c.InsertBatch([]document.D{
		{"name": "odin", "email": "o@v.io", "age": 50},
		{"name": "thor", "email": "t@v.io", "age": 35},
	})
	require.NoError(t, err)

	// Burn an id so the counter is ahead of len(data).
	doc, err := c.Insert(document.D{"name": "tmp", "email": "x@v.io", "age": 1})
	require.NoError(t, err)
	require.NoError(t, c.Remove(doc))

	r := roundTrip(t, c)
	defer r.Close()

	assert.Equal(t, 2, r.Count())

	t.Run("ids and meta survive", func(t *testing.T) {
		got, err := r.Get(1)
		require.NoError(t, err)
		assert.Equal(t, "odin", got["name"])
		meta := document.GetMeta(got)
		require.NotNil(t, meta)
		assert.NotZero(t, meta.Created)
	})

	t.Run("id counter survives", func(t *testing.T) {
		next, err := r.Insert(document.D{"name": "new", "email": "n@v.io", "age": 9})
		require.NoError(t, err)
		id, _ := document.ID(next)
		assert.Equal(t, uint64(4), id)
	})

	t.Run("unique index rebuilt", func(t *testing.T) {
		got, err := r.By("email", "t@v.io")
		require.NoError(t, err)
		assert.Equal(t, "thor", got["name"])

		_, err = r.Insert(document.D{"name": "fake", "email": "o@v.io"})
		var dup *DuplicateKeyError
		assert.ErrorAs(t, err, &dup)
	})

	t.Run("binary index answers range queries", func(t *testing.T) {
		docs, err := r.Find(query.Q{"age": query.Q{"$gte": 35}})
		require.NoError(t, err)
		assert.Len(t, docs, 2)
	})

	t.Run("clone strategy survives", func(t *testing.T) {
		got, err := r.Get(1)
		require.NoError(t, err)
		got["name"] = "mutated"

		again, err := r.Get(1)
		require.NoError(t, err)
		assert.Equal(t, "odin", again["name"])
	})
}

func TestSnapshotRoundTripLarge(t *testing.T) {
	c := New("bulk", WithIndex("n"))
	defer c.Close()

	docs := make([]document.D, 1000)
	for i := range docs {
		docs[i] = document.D{"n": i, "group": i % 7}
	}
	_, err := c.InsertBatch(docs)
	require.NoError(t, err)

	r := roundTrip(t, c)
	defer r.Close()

	assert.Equal(t, 1000, r.Count())

	got, err := r.Chain().
		Find(query.Q{"n": query.Q{"$between": []any{100, 109}}}).
		SimpleSort("n", true).
		Data()
	require.NoError(t, err)
	require.Len(t, got, 10)
	assert.EqualValues(t, 109, got[0]["n"])
}

func TestSnapshotRoundTripViewsAndTransforms(t *testing.T) {
	c := New("articles")
	defer c.Close()

	dv, err := c.AddDynamicView("published", WithPersistence(true))
	require.NoError(t, err)
	dv.ApplyFind(query.Q{"status": "published"}, "status").
		ApplySimpleSort("rank", false)

	err = c.AddTransform("top", []TransformStep{
		{Type: StepFind, Query: query.Q{"status": "published"}},
		{Type: StepLimit, N: 1},
	})
	require.NoError(t, err)

	_, err = c.InsertBatch([]document.D{
		{"title": "a", "status": "published", "rank": 2},
		{"title": "b", "status": "draft", "rank": 1},
		{"title": "c", "status": "published", "rank": 1},
	})
	require.NoError(t, err)

	r := roundTrip(t, c)
	defer r.Close()

	t.Run("persistent view rebuilt on load", func(t *testing.T) {
		rv, err := r.GetDynamicView("published")
		require.NoError(t, err)

		docs, err := rv.Data()
		require.NoError(t, err)
		require.Len(t, docs, 2)
		assert.Equal(t, "c", docs[0]["title"])
		assert.Equal(t, "a", docs[1]["title"])
	})

	t.Run("view keeps tracking after load", func(t *testing.T) {
		rv, err := r.GetDynamicView("published")
		require.NoError(t, err)

		_, err = r.Insert(document.D{"title": "d", "status": "published", "rank": 0})
		require.NoError(t, err)

		docs, err := rv.Data()
		require.NoError(t, err)
		assert.Equal(t, "d", docs[0]["title"])
	})

	t.Run("transform survives", func(t *testing.T) {
		rs, err := r.ChainTransform("top")
		require.NoError(t, err)
		docs, err := rs.Data()
		require.NoError(t, err)
		assert.Len(t, docs, 1)
	})
}

func TestSnapshotCorruptIDIndex(t *testing.T) {
	c := New("users")
	defer c.Close()

	_, err := c.Insert(document.D{"name": "odin"})
	require.NoError(t, err)

	snap := c.TakeSnapshot()
	snap.IDIndex = snap.IDIndex[:0]

	_, err = FromSnapshot(snap)
	assert.Error(t, err)
}

func TestSnapshotDuplicateUniqueValues(t *testing.T) {
	c := New("users", WithUniqueIndex("email"))
	defer c.Close()

	_, err := c.Insert(document.D{"email": "o@v.io"})
	require.NoError(t, err)

	snap := c.TakeSnapshot()
	// Tampered image: two documents claim the same unique key.
	dup := document.D{"email": "o@v.io", document.IDField: uint64(99)}
	snap.Data = append(snap.Data, dup)
	snap.IDIndex = append(snap.IDIndex, 99)
	snap.MaxID = 99

	_, err = FromSnapshot(snap)
	var dk *DuplicateKeyError
	assert.ErrorAs(t, err, &dk)
}
