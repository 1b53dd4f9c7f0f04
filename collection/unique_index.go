package collection

import (
	"fmt"
	"strconv"
	"time"

	"github.com/hupe1980/docgo/document"
	"github.com/hupe1980/docgo/query"
)

// UniqueIndex enforces a one-document-per-value constraint on a single
// field. It maps a canonical value key to the stored document, plus a
// reverse map from document identity to the value it holds. The reverse map
// is the source of truth for maintenance: under live references the stored
// map can be mutated out from under the index, so removal and replacement
// key off identity, never off re-reading the document.
//
// Unique indices are never trusted from a snapshot; they are always rebuilt
// from the data on load.
type UniqueIndex struct {
	field string
	docs  map[string]document.D
	ids   map[string]uint64
	byID  map[uint64]uniqueSlot
}

type uniqueSlot struct {
	key   string
	value any
}

// NewUniqueIndex creates an empty unique index for field.
func NewUniqueIndex(field string) *UniqueIndex {
	return &UniqueIndex{
		field: field,
		docs:  make(map[string]document.D),
		ids:   make(map[string]uint64),
		byID:  make(map[uint64]uniqueSlot),
	}
}

// Field returns the indexed field path.
func (ix *UniqueIndex) Field() string { return ix.field }

// valueKey canonicalizes a field value so that loosely-equal values (e.g.
// int 5 and float64 5) collide. nil never reaches here; documents without a
// value for the field are not indexed.
func valueKey(v any) string {
	switch t := v.(type) {
	case string:
		return "s\x00" + t
	case bool:
		if t {
			return "b\x001"
		}
		return "b\x000"
	case time.Time:
		return "t\x00" + strconv.FormatInt(t.UnixNano(), 10)
	case int:
		return "n\x00" + strconv.FormatFloat(float64(t), 'g', -1, 64)
	case int64:
		return "n\x00" + strconv.FormatFloat(float64(t), 'g', -1, 64)
	case uint64:
		return "n\x00" + strconv.FormatFloat(float64(t), 'g', -1, 64)
	case float64:
		return "n\x00" + strconv.FormatFloat(t, 'g', -1, 64)
	case float32:
		return "n\x00" + strconv.FormatFloat(float64(t), 'g', -1, 64)
	default:
		return "x\x00" + fmt.Sprintf("%v", v)
	}
}

// Get returns the document holding value, if any.
func (ix *UniqueIndex) Get(value any) (document.D, bool) {
	doc, ok := ix.docs[valueKey(value)]
	return doc, ok
}

// Holder returns the identity of the document holding value.
func (ix *UniqueIndex) Holder(value any) (uint64, bool) {
	id, ok := ix.ids[valueKey(value)]
	return id, ok
}

// Set records doc as the holder of value, dropping any value id held
// before. The caller has already checked the constraint; Set overwrites
// unconditionally.
func (ix *UniqueIndex) Set(value any, id uint64, doc document.D) {
	k := valueKey(value)
	if prev, ok := ix.byID[id]; ok && prev.key != k {
		delete(ix.docs, prev.key)
		delete(ix.ids, prev.key)
	}
	ix.docs[k] = doc
	ix.ids[k] = id
	ix.byID[id] = uniqueSlot{key: k, value: value}
}

// RemoveID drops the entry held by id, if any.
func (ix *UniqueIndex) RemoveID(id uint64) {
	slot, ok := ix.byID[id]
	if !ok {
		return
	}
	delete(ix.docs, slot.key)
	delete(ix.ids, slot.key)
	delete(ix.byID, id)
}

// ValueOf returns the value the index records for id.
func (ix *UniqueIndex) ValueOf(id uint64) (any, bool) {
	slot, ok := ix.byID[id]
	return slot.value, ok
}

// Clear drops every entry.
func (ix *UniqueIndex) Clear() {
	ix.docs = make(map[string]document.D)
	ix.ids = make(map[string]uint64)
	ix.byID = make(map[uint64]uniqueSlot)
}

// Len returns the number of indexed values.
func (ix *UniqueIndex) Len() int { return len(ix.docs) }

// value extracts the indexed field from a document. ok is false for missing
// or nil values, which are exempt from the constraint.
func (ix *UniqueIndex) value(doc document.D) (any, bool) {
	v, found := query.Resolve(doc, ix.field)
	if !found || v == nil {
		return nil, false
	}
	return v, true
}
