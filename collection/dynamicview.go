package collection

import (
	"sort"
	"time"

	"golang.org/x/time/rate"

	"github.com/hupe1980/docgo/document"
	"github.com/hupe1980/docgo/query"
)

type viewOptions struct {
	persistent         bool
	minRebuildInterval time.Duration
}

// ViewOption configures a DynamicView at creation time.
type ViewOption func(*viewOptions)

// WithPersistence makes the view persistent: its materialized result is kept
// continuously and survives serialization (find filters and sort spec only).
func WithPersistence(persistent bool) ViewOption {
	return func(o *viewOptions) {
		o.persistent = persistent
	}
}

// WithMinRebuildInterval throttles full rebuilds of a persistent view to at
// most one per interval. Repeated triggers inside the window coalesce; any
// Data or Count call still rebuilds immediately, so reads never go stale.
func WithMinRebuildInterval(d time.Duration) ViewOption {
	return func(o *viewOptions) {
		o.minRebuildInterval = d
	}
}

type viewFilter struct {
	typ  string // StepFind or StepWhere
	q    query.Q
	pred func(document.D) bool
	uid  string
}

// DynamicView is a named, collection-owned, continuously consistent filtered
// and sorted subset. The owning collection maintains it incrementally on
// every insert, update and remove; reads always reflect every prior
// mutation.
//
// The filter pipeline is an ordered AND of find and where steps. Exactly one
// sort policy is active at a time; setting a new one replaces the prior.
type DynamicView struct {
	col  *Collection
	name string

	persistent         bool
	minRebuildInterval time.Duration
	limiter            *rate.Limiter

	filters []viewFilter

	kind        sortKind
	simpleField string
	simpleDesc  bool
	criteria    []query.SortCriterion
	cmp         func(a, b document.D) int

	cached    []document.D
	idSet     map[uint64]int
	dirty     bool
	sortDirty bool
}

// AddDynamicView creates and attaches a named view. View names are unique
// per collection.
func (c *Collection) AddDynamicView(name string, optFns ...ViewOption) (*DynamicView, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.viewsByName[name]; ok {
		return nil, &DuplicateNameError{Kind: "dynamic view", Name: name}
	}

	o := viewOptions{}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}

	dv := &DynamicView{
		col:                c,
		name:               name,
		persistent:         o.persistent,
		minRebuildInterval: o.minRebuildInterval,
		idSet:              make(map[uint64]int),
		// A fresh view starts dirty so its first read seeds the cache from
		// documents inserted before the view existed.
		dirty: true,
	}
	if o.persistent && o.minRebuildInterval > 0 {
		dv.limiter = newRebuildLimiter(o.minRebuildInterval)
	}
	c.views = append(c.views, dv)
	c.viewsByName[name] = dv

	if dv.persistent {
		// Persistent views keep their cache continuously materialized.
		_ = dv.rebuild()
	}
	return dv, nil
}

// GetDynamicView returns the named view.
func (c *Collection) GetDynamicView(name string) (*DynamicView, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	dv, ok := c.viewsByName[name]
	if !ok {
		return nil, &UnknownViewError{Name: name}
	}
	return dv, nil
}

// RemoveDynamicView detaches the named view from the collection.
func (c *Collection) RemoveDynamicView(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.viewsByName[name]; !ok {
		return &UnknownViewError{Name: name}
	}
	delete(c.viewsByName, name)
	for i, dv := range c.views {
		if dv.name == name {
			c.views = append(c.views[:i], c.views[i+1:]...)
			break
		}
	}
	return nil
}

// Name returns the view name.
func (dv *DynamicView) Name() string { return dv.name }

// ApplyFind appends a find filter to the pipeline. uid optionally tags the
// filter for later removal. The existing cache is narrowed in place; no
// rebuild is needed because the pipeline is a logical AND.
func (dv *DynamicView) ApplyFind(q query.Q, uid ...string) *DynamicView {
	dv.col.mu.Lock()
	defer dv.col.mu.Unlock()

	dv.filters = append(dv.filters, viewFilter{typ: StepFind, q: q, uid: first(uid)})
	dv.narrowCache(func(doc document.D) (bool, error) {
		return query.Match(q, doc)
	})
	return dv
}

// ApplyWhere appends a predicate filter to the pipeline. Where filters are
// function-valued and therefore not serializable.
func (dv *DynamicView) ApplyWhere(pred func(document.D) bool, uid ...string) *DynamicView {
	dv.col.mu.Lock()
	defer dv.col.mu.Unlock()

	dv.filters = append(dv.filters, viewFilter{typ: StepWhere, pred: pred, uid: first(uid)})
	dv.narrowCache(func(doc document.D) (bool, error) {
		return pred(doc), nil
	})
	return dv
}

// newRebuildLimiter builds the leading-edge throttle for persistent view
// rebuilds: one immediate token, refilled once per interval.
func newRebuildLimiter(interval time.Duration) *rate.Limiter {
	return rate.NewLimiter(rate.Every(interval), 1)
}

func first(uid []string) string {
	if len(uid) > 0 {
		return uid[0]
	}
	return ""
}

// narrowCache filters the current cache down by one new clause. Lock held.
func (dv *DynamicView) narrowCache(keep func(document.D) (bool, error)) {
	if dv.dirty {
		return
	}
	kept := dv.cached[:0]
	for _, doc := range dv.cached {
		ok, err := keep(doc)
		if err != nil {
			// Surface the broken filter at the next read.
			dv.dirty = true
			return
		}
		if ok {
			kept = append(kept, doc)
		}
	}
	dv.cached = kept
	dv.reindex(0)
}

// RemoveFilter removes the filter tagged uid and forces a full rebuild:
// inclusion cannot be fixed up incrementally once a clause disappears.
func (dv *DynamicView) RemoveFilter(uid string) error {
	dv.col.mu.Lock()
	defer dv.col.mu.Unlock()

	for i, f := range dv.filters {
		if f.uid != "" && f.uid == uid {
			dv.filters = append(dv.filters[:i], dv.filters[i+1:]...)
			dv.requestRebuild()
			return nil
		}
	}
	return &UnknownFilterError{UID: uid}
}

// ApplySimpleSort sets a single-field sort policy, replacing any prior one.
func (dv *DynamicView) ApplySimpleSort(field string, desc bool) *DynamicView {
	dv.col.mu.Lock()
	defer dv.col.mu.Unlock()

	dv.kind = sortSimple
	dv.simpleField = field
	dv.simpleDesc = desc
	dv.criteria = nil
	dv.cmp = nil
	dv.sortDirty = true
	return dv
}

// ApplySortCriteria sets a compound sort policy, replacing any prior one.
func (dv *DynamicView) ApplySortCriteria(criteria ...query.SortCriterion) *DynamicView {
	dv.col.mu.Lock()
	defer dv.col.mu.Unlock()

	dv.kind = sortCompound
	dv.criteria = criteria
	dv.cmp = nil
	dv.sortDirty = true
	return dv
}

// ApplySort sets a custom comparator sort policy, replacing any prior one.
// Comparator sorts are not serializable.
func (dv *DynamicView) ApplySort(cmp func(a, b document.D) int) *DynamicView {
	dv.col.mu.Lock()
	defer dv.col.mu.Unlock()

	dv.kind = sortCustom
	dv.cmp = cmp
	dv.criteria = nil
	dv.sortDirty = true
	return dv
}

// Data returns the view's materialized result. A dirty cache rebuilds
// synchronously first, bypassing any rebuild throttle: reads are always
// read-your-writes.
func (dv *DynamicView) Data() ([]document.D, error) {
	dv.col.mu.Lock()
	defer dv.col.mu.Unlock()

	if err := dv.refresh(); err != nil {
		return nil, err
	}
	out := make([]document.D, len(dv.cached))
	for i, doc := range dv.cached {
		out[i] = dv.col.reading(doc)
	}
	return out, nil
}

// Count returns the view's cardinality, rebuilding first if dirty.
func (dv *DynamicView) Count() (int, error) {
	dv.col.mu.Lock()
	defer dv.col.mu.Unlock()

	if err := dv.refresh(); err != nil {
		return 0, err
	}
	return len(dv.cached), nil
}

// refresh brings the cache fully current. Lock held.
func (dv *DynamicView) refresh() error {
	if dv.dirty {
		return dv.rebuild()
	}
	if dv.sortDirty {
		dv.sortCache()
	}
	return nil
}

// requestRebuild triggers a full rebuild, honoring the persistent view's
// throttle: inside the window the trigger coalesces into a dirty flag that
// the next trigger or read realizes. Lock held.
func (dv *DynamicView) requestRebuild() {
	dv.dirty = true
	if dv.limiter != nil && !dv.limiter.Allow() {
		return
	}
	if dv.persistent {
		// Persistent views keep their cache continuously materialized.
		// Rebuild errors stay latched in the dirty flag for the next read.
		_ = dv.rebuild()
	}
}

// rebuild re-runs the whole filter pipeline against the collection and
// re-sorts the cache. Lock held.
func (dv *DynamicView) rebuild() error {
	rs := &ResultSet{col: dv.col, limit: -1}
	for _, f := range dv.filters {
		switch f.typ {
		case StepFind:
			rs.findLocked(f.q)
		case StepWhere:
			rs.whereLocked(f.pred)
		}
	}
	if rs.err != nil {
		return rs.err
	}

	positions := rs.resolvedPositions()
	dv.cached = make([]document.D, len(positions))
	for i, pos := range positions {
		dv.cached[i] = dv.col.data[pos]
	}
	dv.dirty = false
	dv.sortCache()
	dv.reindex(0)
	return nil
}

// sortCache re-sorts only the cached array, never the source collection.
// Lock held.
func (dv *DynamicView) sortCache() {
	if dv.kind == sortNone {
		dv.sortDirty = false
		return
	}
	cmp := comparatorFor(dv.col.collator, dv.kind, dv.simpleField, dv.simpleDesc, dv.criteria, dv.cmp)
	sort.SliceStable(dv.cached, func(a, b int) bool {
		if r := cmp(dv.cached[a], dv.cached[b]); r != 0 {
			return r < 0
		}
		// Equal keys order by ascending id, which is insertion order; a
		// from-scratch rebuild collects in array order and lands the same way.
		ida, _ := document.ID(dv.cached[a])
		idb, _ := document.ID(dv.cached[b])
		return ida < idb
	})
	dv.reindex(0)
	dv.sortDirty = false
}

// reindex rebuilds the id→cache-slot map from slot from onward. Lock held.
func (dv *DynamicView) reindex(from int) {
	if from == 0 {
		dv.idSet = make(map[uint64]int, len(dv.cached))
	}
	for i := from; i < len(dv.cached); i++ {
		if id, ok := document.ID(dv.cached[i]); ok {
			dv.idSet[id] = i
		}
	}
}

// evaluateDocument re-runs the filter pipeline against a single mutated
// document and patches the cache: newly qualifying documents append, no
// longer qualifying ones drop, still qualifying ones are replaced in place.
// Any patch that may reorder marks the cache sort-dirty.
//
// Called by the collection on every insert and update, after the base
// mutation has committed. A failing filter never rolls the mutation back; it
// latches the view dirty so the next read rebuilds and surfaces the error.
// Lock held.
func (dv *DynamicView) evaluateDocument(doc document.D, isNew bool) {
	if dv.dirty {
		return
	}
	matches := true
	for _, f := range dv.filters {
		switch f.typ {
		case StepFind:
			ok, err := query.Match(f.q, doc)
			if err != nil {
				dv.dirty = true
				dv.col.emitter.Emit(EventWarn, dv.name, err)
				return
			}
			matches = matches && ok
		case StepWhere:
			matches = matches && f.pred(doc)
		}
		if !matches {
			break
		}
	}

	id, ok := document.ID(doc)
	if !ok {
		return
	}
	slot, inCache := dv.idSet[id]

	switch {
	case matches && !inCache:
		dv.cached = append(dv.cached, doc)
		dv.idSet[id] = len(dv.cached) - 1
		dv.sortDirty = dv.kind != sortNone
	case !matches && inCache:
		dv.dropSlot(slot, id)
	case matches && inCache:
		dv.cached[slot] = doc
		if !isNew {
			dv.sortDirty = dv.kind != sortNone
		}
	}
}

// removeDocument deletes by identity from the cache without re-querying the
// source. The collection calls this before the document physically
// disappears. Lock held.
func (dv *DynamicView) removeDocument(id uint64) {
	if dv.dirty {
		return
	}
	if slot, ok := dv.idSet[id]; ok {
		dv.dropSlot(slot, id)
	}
}

func (dv *DynamicView) dropSlot(slot int, id uint64) {
	dv.cached = append(dv.cached[:slot], dv.cached[slot+1:]...)
	delete(dv.idSet, id)
	dv.reindex(slot)
}
