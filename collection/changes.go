package collection

import "github.com/hupe1980/docgo/document"

// ChangeOp tags a change record.
type ChangeOp string

const (
	// OpInsert marks an insert record.
	OpInsert ChangeOp = "I"
	// OpUpdate marks an update record.
	OpUpdate ChangeOp = "U"
	// OpRemove marks a remove record.
	OpRemove ChangeOp = "R"
)

// Change is one entry of the collection change log.
type Change struct {
	Collection string     `json:"name"`
	Operation  ChangeOp   `json:"operation"`
	ID         uint64     `json:"id"`
	Doc        document.D `json:"obj"`
}

// addChange appends a change record when tracking is enabled. The document
// is deep-copied so later in-place mutations cannot rewrite history.
// Lock held.
func (c *Collection) addChange(op ChangeOp, id uint64, doc document.D) {
	if !c.changesAPI {
		return
	}
	c.changes = append(c.changes, Change{
		Collection: c.name,
		Operation:  op,
		ID:         id,
		Doc:        document.Clone(doc, document.CloneDeep),
	})
}

// Changes returns a copy of the accumulated change log.
func (c *Collection) Changes() []Change {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Change, len(c.changes))
	copy(out, c.changes)
	return out
}

// FlushChanges drops the accumulated change log.
func (c *Collection) FlushChanges() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.changes = nil
}
