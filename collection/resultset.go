package collection

import (
	"sort"

	"github.com/hupe1980/docgo/document"
	"github.com/hupe1980/docgo/query"
)

type sortKind uint8

const (
	sortNone sortKind = iota
	sortSimple
	sortCompound
	sortCustom
)

// ResultSet is a lazy, chainable, read-only query cursor bound to one
// collection. It starts logically "all documents" and materializes nothing
// until a filter runs. Repeated Find calls are a logical AND; the single
// active sort is whatever was set last; Limit and Offset apply after
// filter and sort.
//
// A result set never mutates its collection and is never persisted. Errors
// raised mid-chain stick to the cursor and surface from Data or Count.
type ResultSet struct {
	col *Collection
	err error

	filtered  bool
	positions []int

	kind        sortKind
	simpleField string
	simpleDesc  bool
	criteria    []query.SortCriterion
	cmp         func(a, b document.D) int

	limit  int
	offset int
}

// Find intersects the candidate set with the documents matching q.
func (rs *ResultSet) Find(q query.Q) *ResultSet {
	rs.col.mu.Lock()
	defer rs.col.mu.Unlock()
	return rs.findLocked(q)
}

func (rs *ResultSet) findLocked(q query.Q) *ResultSet {
	if rs.err != nil {
		return rs
	}
	bm, err := rs.col.matchPositions(q)
	if err != nil {
		rs.err = err
		return rs
	}
	if !rs.filtered {
		rs.filtered = true
		rs.positions = make([]int, 0, bm.Cardinality())
		for pos := range bm.Iterate() {
			rs.positions = append(rs.positions, pos)
		}
		return rs
	}
	kept := rs.positions[:0]
	for _, pos := range rs.positions {
		if bm.Contains(pos) {
			kept = append(kept, pos)
		}
	}
	rs.positions = kept
	return rs
}

// Where intersects the candidate set with an arbitrary predicate.
func (rs *ResultSet) Where(pred func(document.D) bool) *ResultSet {
	rs.col.mu.Lock()
	defer rs.col.mu.Unlock()
	return rs.whereLocked(pred)
}

func (rs *ResultSet) whereLocked(pred func(document.D) bool) *ResultSet {
	if rs.err != nil {
		return rs
	}
	if !rs.filtered {
		rs.filtered = true
		rs.positions = rs.positions[:0]
		for pos, doc := range rs.col.data {
			if pred(doc) {
				rs.positions = append(rs.positions, pos)
			}
		}
		return rs
	}
	kept := rs.positions[:0]
	for _, pos := range rs.positions {
		if pred(rs.col.data[pos]) {
			kept = append(kept, pos)
		}
	}
	rs.positions = kept
	return rs
}

// SimpleSort orders the result ascending (or descending) by one field.
// Last sort call wins.
func (rs *ResultSet) SimpleSort(field string, desc bool) *ResultSet {
	rs.kind = sortSimple
	rs.simpleField = field
	rs.simpleDesc = desc
	return rs
}

// CompoundSort orders the result by criteria evaluated in priority order.
// Last sort call wins.
func (rs *ResultSet) CompoundSort(criteria ...query.SortCriterion) *ResultSet {
	rs.kind = sortCompound
	rs.criteria = criteria
	return rs
}

// Sort orders the result with a custom comparator. Last sort call wins.
func (rs *ResultSet) Sort(cmp func(a, b document.D) int) *ResultSet {
	rs.kind = sortCustom
	rs.cmp = cmp
	return rs
}

// Limit caps the number of documents returned by Data.
func (rs *ResultSet) Limit(n int) *ResultSet {
	rs.limit = n
	return rs
}

// Offset skips the first n documents of the final ordering.
func (rs *ResultSet) Offset(n int) *ResultSet {
	rs.offset = n
	return rs
}

// Copy duplicates the cursor state so forked queries don't interfere.
func (rs *ResultSet) Copy() *ResultSet {
	cp := *rs
	cp.positions = make([]int, len(rs.positions))
	copy(cp.positions, rs.positions)
	cp.criteria = make([]query.SortCriterion, len(rs.criteria))
	copy(cp.criteria, rs.criteria)
	return &cp
}

// Data materializes the final ordered document array.
func (rs *ResultSet) Data() ([]document.D, error) {
	rs.col.mu.Lock()
	defer rs.col.mu.Unlock()
	return rs.dataLocked()
}

func (rs *ResultSet) dataLocked() ([]document.D, error) {
	if rs.err != nil {
		return nil, rs.err
	}
	positions := rs.resolvedPositions()

	if rs.kind != sortNone {
		positions = append([]int(nil), positions...)
		c := rs.col
		cmp := rs.docComparator()
		sort.SliceStable(positions, func(a, b int) bool {
			return cmp(c.data[positions[a]], c.data[positions[b]]) < 0
		})
	}

	positions = rs.window(positions)

	out := make([]document.D, len(positions))
	for i, pos := range positions {
		out[i] = rs.col.reading(rs.col.data[pos])
	}
	return out, nil
}

// Count returns the cardinality of the final result without sorting.
func (rs *ResultSet) Count() (int, error) {
	rs.col.mu.Lock()
	defer rs.col.mu.Unlock()

	if rs.err != nil {
		return 0, rs.err
	}
	n := len(rs.resolvedPositions())
	if rs.offset > 0 {
		n -= rs.offset
		if n < 0 {
			n = 0
		}
	}
	if rs.limit >= 0 && n > rs.limit {
		n = rs.limit
	}
	return n, nil
}

// ForEach applies fn to every document of the final ordered result.
func (rs *ResultSet) ForEach(fn func(document.D)) error {
	docs, err := rs.Data()
	if err != nil {
		return err
	}
	for _, doc := range docs {
		fn(doc)
	}
	return nil
}

// Map applies fn to every document of the final ordered result and collects
// the return values.
func (rs *ResultSet) Map(fn func(document.D) any) ([]any, error) {
	docs, err := rs.Data()
	if err != nil {
		return nil, err
	}
	out := make([]any, len(docs))
	for i, doc := range docs {
		out[i] = fn(doc)
	}
	return out, nil
}

// MinOf returns the smallest non-nil value of field across the candidate
// set, or nil when no document carries one.
func (rs *ResultSet) MinOf(field string) (any, error) {
	return rs.extremeOf(field, -1)
}

// MaxOf returns the largest value of field across the candidate set.
func (rs *ResultSet) MaxOf(field string) (any, error) {
	return rs.extremeOf(field, 1)
}

func (rs *ResultSet) extremeOf(field string, dir int) (any, error) {
	rs.col.mu.Lock()
	defer rs.col.mu.Unlock()

	if rs.err != nil {
		return nil, rs.err
	}
	var best any
	for _, pos := range rs.resolvedPositions() {
		v, found := query.Resolve(rs.col.data[pos], field)
		if !found || v == nil {
			continue
		}
		if best == nil || dir*query.CompareWith(rs.col.collator, v, best) > 0 {
			best = v
		}
	}
	return best, nil
}

// resolvedPositions returns the candidate positions, falling back to the
// full set in array order for an unfiltered cursor. Lock held.
func (rs *ResultSet) resolvedPositions() []int {
	if rs.filtered {
		return rs.positions
	}
	all := make([]int, len(rs.col.data))
	for i := range all {
		all[i] = i
	}
	return all
}

func (rs *ResultSet) window(positions []int) []int {
	if rs.offset > 0 {
		if rs.offset >= len(positions) {
			return nil
		}
		positions = positions[rs.offset:]
	}
	if rs.limit >= 0 && len(positions) > rs.limit {
		positions = positions[:rs.limit]
	}
	return positions
}

func (rs *ResultSet) docComparator() func(a, b document.D) int {
	return comparatorFor(rs.col.collator, rs.kind, rs.simpleField, rs.simpleDesc, rs.criteria, rs.cmp)
}

// comparatorFor builds the document comparator for one sort policy. Shared
// by result sets and dynamic views.
func comparatorFor(col *query.Collator, kind sortKind, field string, desc bool, criteria []query.SortCriterion, custom func(a, b document.D) int) func(a, b document.D) int {
	switch kind {
	case sortSimple:
		return func(a, b document.D) int {
			av, _ := query.Resolve(a, field)
			bv, _ := query.Resolve(b, field)
			r := query.CompareWith(col, av, bv)
			if desc {
				return -r
			}
			return r
		}
	case sortCompound:
		return func(a, b document.D) int {
			return query.CompoundCompareWith(col, criteria, a, b)
		}
	default:
		return custom
	}
}
