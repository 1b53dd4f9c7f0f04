package collection

import (
	"sort"

	"github.com/hupe1980/docgo/document"
	"github.com/hupe1980/docgo/query"
)

// BinaryIndex maintains a permutation of array positions sorted ascending by
// one field's value, enabling ordered reads and range scans.
//
// An index is either clean (positions reflect the current data) or dirty
// (a lazy full rebuild runs before the next indexed read). Collections in
// adaptive mode keep the index clean incrementally: one remove+reinsert of
// the affected position per mutation instead of a rebuild.
type BinaryIndex struct {
	field     string
	positions []int
	dirty     bool
}

// NewBinaryIndex creates an empty, clean index for field.
func NewBinaryIndex(field string) *BinaryIndex {
	return &BinaryIndex{field: field}
}

// Field returns the indexed field path.
func (ix *BinaryIndex) Field() string { return ix.field }

// Dirty reports whether the index needs a rebuild before use.
func (ix *BinaryIndex) Dirty() bool { return ix.dirty }

// MarkDirty flags the index for a lazy rebuild.
func (ix *BinaryIndex) MarkDirty() { ix.dirty = true }

// Positions returns the sorted permutation. Callers must ensure the index is
// clean first.
func (ix *BinaryIndex) Positions() []int { return ix.positions }

func (ix *BinaryIndex) valueAt(data []document.D, pos int) any {
	v, _ := query.Resolve(data[pos], ix.field)
	return v
}

// Rebuild recomputes the permutation with a stable sort of (value, position)
// pairs, ascending by the default comparator.
func (ix *BinaryIndex) Rebuild(data []document.D, col *query.Collator) {
	ix.positions = make([]int, len(data))
	for i := range data {
		ix.positions[i] = i
	}
	sort.SliceStable(ix.positions, func(a, b int) bool {
		return query.CompareWith(col, ix.valueAt(data, ix.positions[a]), ix.valueAt(data, ix.positions[b])) < 0
	})
	ix.dirty = false
}

// InsertPosition places a freshly appended position at its sorted location.
// No-op while dirty; the pending rebuild will pick the document up.
func (ix *BinaryIndex) InsertPosition(pos int, data []document.D, col *query.Collator) {
	if ix.dirty {
		return
	}
	v := ix.valueAt(data, pos)
	at := sort.Search(len(ix.positions), func(i int) bool {
		return query.CompareWith(col, ix.valueAt(data, ix.positions[i]), v) > 0
	})
	ix.positions = append(ix.positions, 0)
	copy(ix.positions[at+1:], ix.positions[at:])
	ix.positions[at] = pos
}

// UpdatePosition repositions pos after its document's indexed value changed:
// remove the stale entry, reinsert at the new sorted location. The sorted
// invariant holds throughout. No-op while dirty.
func (ix *BinaryIndex) UpdatePosition(pos int, data []document.D, col *query.Collator) {
	if ix.dirty {
		return
	}
	ix.dropEntry(pos)
	v := ix.valueAt(data, pos)
	at := sort.Search(len(ix.positions), func(i int) bool {
		return query.CompareWith(col, ix.valueAt(data, ix.positions[i]), v) > 0
	})
	ix.positions = append(ix.positions, 0)
	copy(ix.positions[at+1:], ix.positions[at:])
	ix.positions[at] = pos
}

// RemovePosition drops pos from the permutation and decrements every stored
// position greater than pos, keeping the index consistent with the
// post-splice data array. Runs even while dirty: position bookkeeping must
// track the array regardless of sort validity.
func (ix *BinaryIndex) RemovePosition(pos int) {
	out := ix.positions[:0]
	for _, p := range ix.positions {
		switch {
		case p == pos:
			continue
		case p > pos:
			out = append(out, p-1)
		default:
			out = append(out, p)
		}
	}
	ix.positions = out
}

func (ix *BinaryIndex) dropEntry(pos int) {
	for i, p := range ix.positions {
		if p == pos {
			ix.positions = append(ix.positions[:i], ix.positions[i+1:]...)
			return
		}
	}
}

// Clear empties the index.
func (ix *BinaryIndex) Clear() {
	ix.positions = nil
	ix.dirty = false
}

// lowerBound returns the first index whose value is >= v.
func (ix *BinaryIndex) lowerBound(v any, data []document.D, col *query.Collator) int {
	return sort.Search(len(ix.positions), func(i int) bool {
		return query.CompareWith(col, ix.valueAt(data, ix.positions[i]), v) >= 0
	})
}

// upperBound returns the first index whose value is > v.
func (ix *BinaryIndex) upperBound(v any, data []document.D, col *query.Collator) int {
	return sort.Search(len(ix.positions), func(i int) bool {
		return query.CompareWith(col, ix.valueAt(data, ix.positions[i]), v) > 0
	})
}

// Range returns the index slice bounds [lo, hi) of positions satisfying the
// operator against operand. ok is false for operators a sorted index cannot
// serve.
func (ix *BinaryIndex) Range(op string, operand any, data []document.D, col *query.Collator) (lo, hi int, ok bool) {
	switch op {
	case "$eq":
		return ix.lowerBound(operand, data, col), ix.upperBound(operand, data, col), true
	case "$gt":
		return ix.upperBound(operand, data, col), len(ix.positions), true
	case "$gte":
		return ix.lowerBound(operand, data, col), len(ix.positions), true
	case "$lt":
		return 0, ix.lowerBound(operand, data, col), true
	case "$lte":
		return 0, ix.upperBound(operand, data, col), true
	case "$between":
		bounds, isSlice := operand.([]any)
		if !isSlice || len(bounds) != 2 {
			return 0, 0, false
		}
		return ix.lowerBound(bounds[0], data, col), ix.upperBound(bounds[1], data, col), true
	default:
		return 0, 0, false
	}
}
