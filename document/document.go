// Package document defines the stored record shape shared by every layer of
// the engine: a schemaless body plus engine-assigned identity and revision
// metadata, and the clone strategies that govern what callers hand in and get
// back.
package document

import (
	"time"
)

// IDField is the key under which the engine-assigned identity is inlined on
// a stored document.
const IDField = "$id"

// MetaField is the key under which revision metadata is inlined on a stored
// document.
const MetaField = "meta"

// D is a document body. Field values are the JSON-compatible kinds: nil,
// bool, string, numbers, []any, and nested map[string]any.
type D = map[string]any

// Meta carries the engine-maintained revision metadata of a document.
// Revision increments exactly once per successful update.
type Meta struct {
	Created  int64 `json:"created"`
	Updated  int64 `json:"updated,omitempty"`
	Revision int   `json:"revision"`
}

// ID extracts the engine-assigned identity from a document. ok is false when
// the document has never been inserted.
//
// Decoded snapshots may carry the identity as a JSON number; all integer
// representations are accepted.
func ID(doc D) (uint64, bool) {
	switch v := doc[IDField].(type) {
	case uint64:
		return v, true
	case int:
		if v < 0 {
			return 0, false
		}
		return uint64(v), true
	case int64:
		if v < 0 {
			return 0, false
		}
		return uint64(v), true
	case float64:
		if v < 0 {
			return 0, false
		}
		return uint64(v), true
	default:
		return 0, false
	}
}

// GetMeta returns the metadata of a stored document, or nil for a document
// that has never been stamped.
func GetMeta(doc D) *Meta {
	switch m := doc[MetaField].(type) {
	case *Meta:
		return m
	case Meta:
		return &m
	default:
		return nil
	}
}

// Stamp assigns identity and fresh metadata to a newly inserted document.
func Stamp(doc D, id uint64, now time.Time) {
	doc[IDField] = id
	doc[MetaField] = &Meta{
		Created:  now.UnixNano(),
		Revision: 0,
	}
}

// Touch bumps the revision metadata of an updated document. A document
// missing metadata (hand-built or decoded from a foreign snapshot) gets a
// fresh Meta whose Created matches now.
func Touch(doc D, now time.Time) {
	m := GetMeta(doc)
	if m == nil {
		m = &Meta{Created: now.UnixNano()}
	} else {
		cp := *m
		m = &cp
	}
	m.Updated = now.UnixNano()
	m.Revision++
	doc[MetaField] = m
}

// LastTouched returns the update timestamp of a document, falling back to its
// creation timestamp. Zero for unstamped documents. Used by the TTL sweeper.
func LastTouched(doc D) int64 {
	m := GetMeta(doc)
	if m == nil {
		return 0
	}
	if m.Updated != 0 {
		return m.Updated
	}
	return m.Created
}

// Normalize rewrites the engine fields of a document decoded from JSON into
// their in-memory representations: $id becomes uint64 and meta becomes *Meta.
// Safe to call on documents that are already normalized.
func Normalize(doc D) D {
	if doc == nil {
		return nil
	}
	if id, ok := ID(doc); ok {
		doc[IDField] = id
	}
	if raw, ok := doc[MetaField].(map[string]any); ok {
		m := &Meta{}
		if v, ok := raw["created"].(float64); ok {
			m.Created = int64(v)
		}
		if v, ok := raw["updated"].(float64); ok {
			m.Updated = int64(v)
		}
		if v, ok := raw["revision"].(float64); ok {
			m.Revision = int(v)
		}
		doc[MetaField] = m
	}
	return doc
}
