// Package collection implements the document store at the center of the
// engine: a named, ordered set of documents with maintained indices, unique
// constraints, a change log, TTL expiry, chainable queries and continuously
// consistent dynamic views.
//
// Every mutation and every index update happens here, atomically with
// respect to the base array. The engine itself is synchronous: each call
// runs to completion before returning. A single mutex serializes access so
// that the TTL sweeper and database autosave, which fire on timers, behave
// as well-ordered writers.
package collection

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hupe1980/docgo/document"
	"github.com/hupe1980/docgo/events"
	"github.com/hupe1980/docgo/query"
)

// Events emitted by a collection.
const (
	EventInsert events.Event = "insert"
	EventUpdate events.Event = "update"
	EventDelete events.Event = "delete"
	EventWarn   events.Event = "warning"
)

// Collection is the single source of truth for one named document set.
//
// Documents are held in an ordered array; insertion order is canonical
// absent an explicit sort. A parallel position→id index stays strictly in
// sync with the array. Identity is a monotonic integer assigned at insert,
// unique and immutable within the collection, never reused.
type Collection struct {
	name string

	mu       sync.Mutex
	data     []document.D
	idIndex  []uint64
	maxID    uint64
	uniques  map[string]*UniqueIndex
	uniqueOrder []string
	indices  map[string]*BinaryIndex
	indexOrder  []string
	views    []*DynamicView
	viewsByName map[string]*DynamicView
	transforms  map[string][]TransformStep

	clone    document.CloneStrategy
	adaptive bool
	collator *query.Collator

	changesAPI bool
	changes    []Change

	emitter *events.Emitter
	ttl     *ttlSweeper
	dirty   bool
	closed  bool
}

// New creates a collection.
func New(name string, optFns ...Option) *Collection {
	o := applyOptions(optFns)

	c := &Collection{
		name:        name,
		uniques:     make(map[string]*UniqueIndex),
		indices:     make(map[string]*BinaryIndex),
		viewsByName: make(map[string]*DynamicView),
		transforms:  make(map[string][]TransformStep),
		clone:       o.clone,
		adaptive:    o.adaptiveIndices,
		collator:    o.collator,
		changesAPI:  o.changesAPI,
	}
	if o.asyncEvents {
		c.emitter = events.NewAsyncEmitter(o.asyncBuffer)
	} else {
		c.emitter = events.NewEmitter()
	}
	for _, f := range o.uniqueFields {
		if _, ok := c.uniques[f]; !ok {
			c.uniques[f] = NewUniqueIndex(f)
			c.uniqueOrder = append(c.uniqueOrder, f)
		}
	}
	for _, f := range o.indexFields {
		if _, ok := c.indices[f]; !ok {
			c.indices[f] = NewBinaryIndex(f)
			c.indexOrder = append(c.indexOrder, f)
		}
	}
	if o.ttlAge > 0 && o.ttlInterval > 0 {
		c.ttl = newTTLSweeper(c, o.ttlAge, o.ttlInterval)
		c.ttl.start()
	}
	return c
}

// Name returns the collection name.
func (c *Collection) Name() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.name
}

// Rename changes the collection name. Registry bookkeeping is the caller's
// concern.
func (c *Collection) Rename(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.name = name
	c.dirty = true
}

// Events exposes the collection's emitter for insert/update/delete
// subscriptions.
func (c *Collection) Events() *events.Emitter { return c.emitter }

// Dirty reports whether the collection has unsaved mutations.
func (c *Collection) Dirty() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dirty
}

// MarkClean clears the dirty flag after a successful save.
func (c *Collection) MarkClean() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dirty = false
}

// Close stops the TTL sweeper and the event worker. The in-memory data stays
// readable; further mutations error with ErrClosed.
func (c *Collection) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	if c.ttl != nil {
		c.ttl.stop()
	}
	c.emitter.Close()
}

// reading applies the read discipline: live reference under CloneNone,
// independent copy otherwise.
func (c *Collection) reading(doc document.D) document.D {
	if c.clone == document.CloneNone {
		return doc
	}
	return document.Clone(doc, c.clone)
}

// positionOf resolves a document id to its array position. The id index is
// always ascending (ids are monotonic and splices preserve order), so a
// binary search suffices.
func (c *Collection) positionOf(id uint64) (int, bool) {
	i := sort.Search(len(c.idIndex), func(i int) bool { return c.idIndex[i] >= id })
	if i < len(c.idIndex) && c.idIndex[i] == id {
		return i, true
	}
	return 0, false
}

// checkUniques validates every unique constraint for doc. self is the
// document's own identity for updates (0 for inserts); a value held by self
// is not a collision.
func (c *Collection) checkUniques(doc document.D, self uint64) error {
	for _, f := range c.uniqueOrder {
		ix := c.uniques[f]
		v, ok := ix.value(doc)
		if !ok {
			continue
		}
		if holder, exists := ix.Holder(v); exists && holder != self {
			return &DuplicateKeyError{Field: f, Value: v}
		}
	}
	return nil
}

// restoreUniqueFields puts the stored document's unique fields back to the
// values its indices record. Under CloneNone the caller holds a live
// reference and may have mutated the stored map before the update was
// validated; a rejected update must leave the store agreeing with its
// indices. Lock held.
func (c *Collection) restoreUniqueFields(pos int, id uint64) {
	stored := c.data[pos]
	for _, f := range c.uniqueOrder {
		want, ok := c.uniques[f].ValueOf(id)
		if !ok {
			// The committed document held no value; nil keeps it exempt.
			if v, found := query.Resolve(stored, f); found && v != nil {
				setField(stored, f, nil)
			}
			continue
		}
		cur, found := query.Resolve(stored, f)
		if found && valueKey(cur) == valueKey(want) {
			continue
		}
		setField(stored, f, want)
	}
}

// setField writes a dot-notation path into a document, creating nothing:
// a missing intermediate map means the shape changed and the write is
// dropped.
func setField(doc document.D, path string, v any) {
	parts := strings.Split(path, ".")
	m := map[string]any(doc)
	for _, p := range parts[:len(parts)-1] {
		next, ok := m[p].(map[string]any)
		if !ok {
			return
		}
		m = next
	}
	m[parts[len(parts)-1]] = v
}

// Insert admits one document: constraints validated up front, identity and
// metadata stamped, clone strategy applied to the stored copy, all indices
// updated, owned views maintained incrementally.
//
// The returned document follows the read discipline. The caller's map is
// stamped with the assigned identity either way.
func (c *Collection) Insert(doc document.D) (document.D, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.insertOne(doc)
}

// InsertBatch inserts documents one by one. The batch is not atomic: a
// constraint violation stops the loop, leaving earlier documents inserted.
// Inserted returns what made it in alongside the error.
func (c *Collection) InsertBatch(docs []document.D) ([]document.D, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]document.D, 0, len(docs))
	for _, doc := range docs {
		stored, err := c.insertOne(doc)
		if err != nil {
			return out, err
		}
		out = append(out, stored)
	}
	return out, nil
}

func (c *Collection) insertOne(doc document.D) (document.D, error) {
	if c.closed {
		return nil, ErrClosed
	}
	if doc == nil {
		return nil, fmt.Errorf("insert: nil document")
	}
	if _, has := document.ID(doc); has {
		return nil, ErrHasID
	}
	if err := c.checkUniques(doc, 0); err != nil {
		return nil, err
	}

	c.maxID++
	id := c.maxID
	document.Stamp(doc, id, time.Now())

	stored := document.Clone(doc, c.clone)
	c.data = append(c.data, stored)
	c.idIndex = append(c.idIndex, id)
	pos := len(c.data) - 1

	for _, f := range c.uniqueOrder {
		ix := c.uniques[f]
		if v, ok := ix.value(stored); ok {
			ix.Set(v, id, stored)
		}
	}
	for _, f := range c.indexOrder {
		ix := c.indices[f]
		if c.adaptive {
			ix.InsertPosition(pos, c.data, c.collator)
		} else {
			ix.MarkDirty()
		}
	}

	c.addChange(OpInsert, id, stored)
	c.dirty = true
	c.emitter.Emit(EventInsert, stored)

	for _, dv := range c.views {
		dv.evaluateDocument(stored, true)
	}

	return c.reading(stored), nil
}

// Update overwrites the stored document carrying doc's identity. The array
// position never changes; metadata revision increments exactly once.
func (c *Collection) Update(doc document.D) (document.D, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.updateOne(doc)
}

func (c *Collection) updateOne(doc document.D) (document.D, error) {
	if c.closed {
		return nil, ErrClosed
	}
	id, has := document.ID(doc)
	if !has {
		return nil, ErrMissingID
	}
	pos, ok := c.positionOf(id)
	if !ok {
		return nil, fmt.Errorf("update id %d: %w", id, ErrNotFound)
	}
	if err := c.checkUniques(doc, id); err != nil {
		c.restoreUniqueFields(pos, id)
		return nil, err
	}

	old := c.data[pos]

	document.Touch(doc, time.Now())
	stored := document.Clone(doc, c.clone)

	for _, f := range c.uniqueOrder {
		ix := c.uniques[f]
		if v, ok := ix.value(stored); ok {
			ix.Set(v, id, stored)
		} else {
			ix.RemoveID(id)
		}
	}

	c.data[pos] = stored

	for _, f := range c.indexOrder {
		ix := c.indices[f]
		if c.adaptive {
			ix.UpdatePosition(pos, c.data, c.collator)
		} else {
			ix.MarkDirty()
		}
	}

	c.addChange(OpUpdate, id, stored)
	c.dirty = true
	c.emitter.Emit(EventUpdate, stored, old)

	for _, dv := range c.views {
		dv.evaluateDocument(stored, false)
	}

	return c.reading(stored), nil
}

// Upsert inserts documents without an identity and updates documents that
// carry one.
func (c *Collection) Upsert(doc document.D) (document.D, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, has := document.ID(doc); has {
		return c.updateOne(doc)
	}
	return c.insertOne(doc)
}

// Remove deletes the stored document carrying doc's identity.
func (c *Collection) Remove(doc document.D) error {
	id, has := document.ID(doc)
	if !has {
		return ErrMissingID
	}
	_, err := c.RemoveByID(id)
	return err
}

// RemoveBatch deletes the stored documents carrying the given identities
// under a single lock. It stops at the first failure; documents removed
// before the failure stay removed.
func (c *Collection) RemoveBatch(ids []uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, id := range ids {
		if _, err := c.removeOne(id); err != nil {
			return err
		}
	}
	return nil
}

// RemoveByID deletes by identity and returns the removed document. Ids are
// never reused; the id counter never decrements.
func (c *Collection) RemoveByID(id uint64) (document.D, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.removeOne(id)
}

func (c *Collection) removeOne(id uint64) (document.D, error) {
	if c.closed {
		return nil, ErrClosed
	}
	pos, ok := c.positionOf(id)
	if !ok {
		return nil, fmt.Errorf("remove id %d: %w", id, ErrNotFound)
	}
	return c.removeAt(pos), nil
}

// removeAt commits one removal: views are told first (the cache drop needs
// only the identity, but it must happen before the document physically
// disappears), then indices are purged, then the array and id index are
// spliced.
func (c *Collection) removeAt(pos int) document.D {
	old := c.data[pos]
	id := c.idIndex[pos]

	for _, dv := range c.views {
		dv.removeDocument(id)
	}

	for _, f := range c.uniqueOrder {
		c.uniques[f].RemoveID(id)
	}
	for _, f := range c.indexOrder {
		c.indices[f].RemovePosition(pos)
	}

	c.data = append(c.data[:pos], c.data[pos+1:]...)
	c.idIndex = append(c.idIndex[:pos], c.idIndex[pos+1:]...)

	c.addChange(OpRemove, id, old)
	c.dirty = true
	c.emitter.Emit(EventDelete, old)

	return old
}

// Clear drops every document and index entry and resets the identity
// counter. Every dynamic view is forced to fully rebuild, since a bulk wipe
// cannot be reconciled incrementally.
func (c *Collection) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.data = nil
	c.idIndex = nil
	c.maxID = 0
	for _, f := range c.uniqueOrder {
		c.uniques[f].Clear()
	}
	for _, f := range c.indexOrder {
		c.indices[f].Clear()
	}
	c.changes = nil
	c.dirty = true

	for _, dv := range c.views {
		dv.requestRebuild()
	}
}

// Get returns the document with the given identity.
func (c *Collection) Get(id uint64) (document.D, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	pos, ok := c.positionOf(id)
	if !ok {
		return nil, fmt.Errorf("get id %d: %w", id, ErrNotFound)
	}
	return c.reading(c.data[pos]), nil
}

// By performs a point lookup through the unique index on field.
func (c *Collection) By(field string, value any) (document.D, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ix, ok := c.uniques[field]
	if !ok {
		return nil, &NotUniqueFieldError{Field: field}
	}
	doc, ok := ix.Get(value)
	if !ok {
		return nil, fmt.Errorf("by %q = %v: %w", field, value, ErrNotFound)
	}
	return c.reading(doc), nil
}

// Chain starts a lazy query cursor over the collection.
func (c *Collection) Chain() *ResultSet {
	return &ResultSet{col: c, limit: -1}
}

// Find returns every document matching q, in array order. A nil query
// returns the full set.
func (c *Collection) Find(q query.Q) ([]document.D, error) {
	return c.Chain().Find(q).Data()
}

// FindOne returns the first document matching q.
func (c *Collection) FindOne(q query.Q) (document.D, error) {
	docs, err := c.Chain().Find(q).Limit(1).Data()
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, ErrNotFound
	}
	return docs[0], nil
}

// Where returns every document satisfying the predicate, in array order.
func (c *Collection) Where(pred func(document.D) bool) ([]document.D, error) {
	return c.Chain().Where(pred).Data()
}

// Count returns the number of stored documents.
func (c *Collection) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.data)
}

// FindAndUpdate applies fn to every document matching q and writes each one
// back through the normal update path. Not atomic across the matched set: a
// mid-loop failure leaves earlier documents already updated.
func (c *Collection) FindAndUpdate(q query.Q, fn func(document.D) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	bm, err := c.matchPositions(q)
	if err != nil {
		return err
	}
	// Collect ids first; updates do not move positions but fn may be
	// arbitrary, so resolve through identity.
	ids := make([]uint64, 0, bm.Cardinality())
	for pos := range bm.Iterate() {
		ids = append(ids, c.idIndex[pos])
	}
	for _, id := range ids {
		pos, ok := c.positionOf(id)
		if !ok {
			continue
		}
		doc := c.data[pos]
		if err := fn(doc); err != nil {
			return err
		}
		if _, err := c.updateOne(doc); err != nil {
			return err
		}
	}
	return nil
}

// FindAndRemove removes every document matching q through the normal remove
// path. Not atomic across the matched set.
func (c *Collection) FindAndRemove(q query.Q) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	bm, err := c.matchPositions(q)
	if err != nil {
		return err
	}
	ids := make([]uint64, 0, bm.Cardinality())
	for pos := range bm.Iterate() {
		ids = append(ids, c.idIndex[pos])
	}
	for _, id := range ids {
		if _, err := c.removeOne(id); err != nil {
			return err
		}
	}
	return nil
}

// EnsureIndex (re)builds a binary index on field. An existing clean index is
// left alone unless force is set.
func (c *Collection) EnsureIndex(field string, force bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ix, ok := c.indices[field]
	if !ok {
		ix = NewBinaryIndex(field)
		c.indices[field] = ix
		c.indexOrder = append(c.indexOrder, field)
		ix.MarkDirty()
	}
	if ix.Dirty() || force {
		ix.Rebuild(c.data, c.collator)
	}
}

// EnsureUniqueIndex registers a unique constraint on field and builds it
// from the current data. Existing duplicate values fail the build and leave
// the constraint unregistered.
func (c *Collection) EnsureUniqueIndex(field string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.uniques[field]; ok {
		return nil
	}
	ix := NewUniqueIndex(field)
	for pos, doc := range c.data {
		v, ok := ix.value(doc)
		if !ok {
			continue
		}
		if _, exists := ix.Holder(v); exists {
			return &DuplicateKeyError{Field: field, Value: v}
		}
		ix.Set(v, c.idIndex[pos], doc)
	}
	c.uniques[field] = ix
	c.uniqueOrder = append(c.uniqueOrder, field)
	return nil
}

// ensureIndexClean rebuilds a dirty binary index in place. Lock held.
func (c *Collection) ensureIndexClean(ix *BinaryIndex) {
	if ix.Dirty() {
		ix.Rebuild(c.data, c.collator)
	}
}

// MinOf returns the smallest value of field across the collection, nil when
// empty. Uses the binary index when one is clean or rebuildable.
func (c *Collection) MinOf(field string) any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.extremeOf(field, -1)
}

// MaxOf returns the largest value of field across the collection.
func (c *Collection) MaxOf(field string) any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.extremeOf(field, 1)
}

func (c *Collection) extremeOf(field string, dir int) any {
	if len(c.data) == 0 {
		return nil
	}
	if ix, ok := c.indices[field]; ok {
		c.ensureIndexClean(ix)
		ps := ix.Positions()
		if dir < 0 {
			return ix.valueAt(c.data, ps[0])
		}
		// nil sorts last; walk back past trailing nils for max.
		for i := len(ps) - 1; i >= 0; i-- {
			if v := ix.valueAt(c.data, ps[i]); v != nil {
				return v
			}
		}
		return nil
	}
	var best any
	for _, doc := range c.data {
		v, found := query.Resolve(doc, field)
		if !found || v == nil {
			continue
		}
		if best == nil || query.CompareWith(c.collator, v, best)*dir > 0 {
			best = v
		}
	}
	return best
}

// matchPositions computes the set of array positions matching q. When the
// query's first clause can be served by a clean binary index, the index
// narrows the candidates and the full query verifies each one; otherwise a
// scan evaluates every document. Lock held.
func (c *Collection) matchPositions(q query.Q) (*query.Bitmap, error) {
	bm := query.NewBitmap()

	if len(q) == 0 {
		for pos := range c.data {
			bm.Add(pos)
		}
		return bm, nil
	}

	if field, op, operand, ok := c.indexableClause(q); ok {
		ix := c.indices[field]
		c.ensureIndexClean(ix)
		lo, hi, ok := ix.Range(op, operand, c.data, c.collator)
		if ok {
			ps := ix.Positions()
			for i := lo; i < hi; i++ {
				matched, err := query.Match(q, c.data[ps[i]])
				if err != nil {
					return nil, err
				}
				if matched {
					bm.Add(ps[i])
				}
			}
			return bm, nil
		}
	}

	for pos, doc := range c.data {
		matched, err := query.Match(q, doc)
		if err != nil {
			return nil, err
		}
		if matched {
			bm.Add(pos)
		}
	}
	return bm, nil
}

// indexableClause finds a top-level clause on an indexed field whose
// operator a sorted index can serve.
func (c *Collection) indexableClause(q query.Q) (field, op string, operand any, ok bool) {
	for key, val := range q {
		if _, indexed := c.indices[key]; !indexed {
			continue
		}
		if block, isBlock := val.(map[string]any); isBlock {
			for name, arg := range block {
				switch name {
				case "$eq", "$gt", "$gte", "$lt", "$lte", "$between":
					return key, name, arg, true
				}
			}
			continue
		}
		// Literal operand: implicit equality.
		return key, "$eq", val, true
	}
	return "", "", nil, false
}
