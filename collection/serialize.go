package collection

import (
	"fmt"
	"sort"
	"time"

	"github.com/hupe1980/docgo/document"
	"github.com/hupe1980/docgo/query"
)

// Snapshot is the serialized form of a collection: documents with identity
// and metadata inlined, the position→id index, the registered index names,
// the id counter, transforms and dynamic views.
//
// Unique indices are deliberately absent: they are always rebuilt from the
// data on load, never trusted from a snapshot. Binary indices are carried
// verbatim and restored as-is when present.
type Snapshot struct {
	Name          string                         `json:"name"`
	Data          []document.D                   `json:"data"`
	IDIndex       []uint64                       `json:"idIndex"`
	UniqueNames   []string                       `json:"uniqueNames"`
	MaxID         uint64                         `json:"maxId"`
	Transforms    map[string][]TransformStep     `json:"transforms,omitempty"`
	DynamicViews  []ViewSnapshot                 `json:"dynamicViews,omitempty"`
	Options       OptionsSnapshot                `json:"options"`
	BinaryIndices map[string]BinaryIndexSnapshot `json:"binaryIndices,omitempty"`
}

// OptionsSnapshot carries the serializable collection options.
type OptionsSnapshot struct {
	Clone           string `json:"clone,omitempty"`
	AdaptiveIndices bool   `json:"adaptiveBinaryIndices,omitempty"`
	ChangesAPI      bool   `json:"disableChangesApi,omitempty"`
	TTLAgeMS        int64  `json:"ttl,omitempty"`
	TTLIntervalMS   int64  `json:"ttlInterval,omitempty"`
}

// BinaryIndexSnapshot is the serialized form of one binary index.
type BinaryIndexSnapshot struct {
	Positions []int `json:"values"`
	Dirty     bool  `json:"dirty"`
}

// ViewSnapshot is the serialized form of a dynamic view. Only find-type
// filters survive; function-valued where filters and custom comparators are
// not serializable.
type ViewSnapshot struct {
	Name                 string                `json:"name"`
	Persistent           bool                  `json:"persistent"`
	MinRebuildIntervalMS int64                 `json:"minRebuildInterval,omitempty"`
	Filters              []ViewFilterSnapshot  `json:"filterPipeline"`
	SortKind             string                `json:"sortKind,omitempty"`
	SortField            string                `json:"sortField,omitempty"`
	SortDesc             bool                  `json:"sortDesc,omitempty"`
	SortCriteria         []query.SortCriterion `json:"sortCriteria,omitempty"`
}

// ViewFilterSnapshot is one serialized find filter.
type ViewFilterSnapshot struct {
	Type  string  `json:"type"`
	Query query.Q `json:"val"`
	UID   string  `json:"uid,omitempty"`
}

// TakeSnapshot captures the collection's serializable state. Document maps
// are shared with the live collection, not copied; callers serialize before
// the next mutation (the database save path does this synchronously).
func (c *Collection) TakeSnapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := Snapshot{
		Name:        c.name,
		Data:        append([]document.D(nil), c.data...),
		IDIndex:     append([]uint64(nil), c.idIndex...),
		UniqueNames: append([]string(nil), c.uniqueOrder...),
		MaxID:       c.maxID,
		Options: OptionsSnapshot{
			Clone:           c.clone.String(),
			AdaptiveIndices: c.adaptive,
			ChangesAPI:      c.changesAPI,
		},
	}
	if c.ttl != nil {
		snap.Options.TTLAgeMS = c.ttl.age.Milliseconds()
		snap.Options.TTLIntervalMS = c.ttl.interval.Milliseconds()
	}

	if len(c.indexOrder) > 0 {
		snap.BinaryIndices = make(map[string]BinaryIndexSnapshot, len(c.indexOrder))
		for _, f := range c.indexOrder {
			ix := c.indices[f]
			snap.BinaryIndices[f] = BinaryIndexSnapshot{
				Positions: append([]int(nil), ix.positions...),
				Dirty:     ix.dirty,
			}
		}
	}

	if len(c.transforms) > 0 {
		snap.Transforms = make(map[string][]TransformStep, len(c.transforms))
		for name, steps := range c.transforms {
			kept := make([]TransformStep, 0, len(steps))
			for _, s := range steps {
				if s.Type == StepWhere {
					continue
				}
				kept = append(kept, s)
			}
			snap.Transforms[name] = kept
		}
	}

	for _, dv := range c.views {
		snap.DynamicViews = append(snap.DynamicViews, dv.snapshot())
	}

	return snap
}

func (dv *DynamicView) snapshot() ViewSnapshot {
	vs := ViewSnapshot{
		Name:       dv.name,
		Persistent: dv.persistent,
	}
	if dv.minRebuildInterval > 0 {
		vs.MinRebuildIntervalMS = dv.minRebuildInterval.Milliseconds()
	}
	for _, f := range dv.filters {
		if f.typ != StepFind {
			continue
		}
		vs.Filters = append(vs.Filters, ViewFilterSnapshot{Type: StepFind, Query: f.q, UID: f.uid})
	}
	switch dv.kind {
	case sortSimple:
		vs.SortKind = "simple"
		vs.SortField = dv.simpleField
		vs.SortDesc = dv.simpleDesc
	case sortCompound:
		vs.SortKind = "compound"
		vs.SortCriteria = dv.criteria
	}
	return vs
}

// FromSnapshot reconstructs a collection. Documents are normalized, unique
// indices rebuilt from the data, binary indices restored verbatim when the
// snapshot carries them and rebuilt otherwise. Persistent dynamic views get
// one full rebuild.
func FromSnapshot(snap Snapshot, extra ...Option) (*Collection, error) {
	clone, err := document.ParseCloneStrategy(snap.Options.Clone)
	if err != nil {
		return nil, fmt.Errorf("collection %q: %w", snap.Name, err)
	}

	indexFields := make([]string, 0, len(snap.BinaryIndices))
	for f := range snap.BinaryIndices {
		indexFields = append(indexFields, f)
	}
	sort.Strings(indexFields)

	opts := []Option{
		WithClone(clone),
		WithAdaptiveIndices(snap.Options.AdaptiveIndices),
		WithUniqueIndex(snap.UniqueNames...),
		WithIndex(indexFields...),
	}
	if snap.Options.ChangesAPI {
		opts = append(opts, WithChangesAPI(true))
	}
	if snap.Options.TTLAgeMS > 0 && snap.Options.TTLIntervalMS > 0 {
		opts = append(opts, WithTTL(
			time.Duration(snap.Options.TTLAgeMS)*time.Millisecond,
			time.Duration(snap.Options.TTLIntervalMS)*time.Millisecond,
		))
	}
	opts = append(opts, extra...)

	c := New(snap.Name, opts...)
	if err := c.restore(snap); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

func (c *Collection) restore(snap Snapshot) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.data = make([]document.D, len(snap.Data))
	for i, doc := range snap.Data {
		c.data[i] = document.Normalize(doc)
	}
	c.idIndex = append([]uint64(nil), snap.IDIndex...)
	if len(c.idIndex) != len(c.data) {
		return fmt.Errorf("collection %q: id index length %d does not match data length %d",
			snap.Name, len(c.idIndex), len(c.data))
	}
	c.maxID = snap.MaxID

	// Unique indices: never trusted from the snapshot.
	for _, f := range c.uniqueOrder {
		ix := c.uniques[f]
		for pos, doc := range c.data {
			if v, ok := ix.value(doc); ok {
				if _, exists := ix.Holder(v); exists {
					return &DuplicateKeyError{Field: f, Value: v}
				}
				ix.Set(v, c.idIndex[pos], doc)
			}
		}
	}

	for _, f := range c.indexOrder {
		ix := c.indices[f]
		bs, ok := snap.BinaryIndices[f]
		if ok && !bs.Dirty {
			ix.positions = append([]int(nil), bs.Positions...)
			ix.dirty = false
		} else {
			ix.Rebuild(c.data, c.collator)
		}
	}

	for name, steps := range snap.Transforms {
		c.transforms[name] = steps
	}

	for _, vs := range snap.DynamicViews {
		if _, ok := c.viewsByName[vs.Name]; ok {
			return &DuplicateNameError{Kind: "dynamic view", Name: vs.Name}
		}
		dv := &DynamicView{
			col:                c,
			name:               vs.Name,
			persistent:         vs.Persistent,
			minRebuildInterval: time.Duration(vs.MinRebuildIntervalMS) * time.Millisecond,
			idSet:              make(map[uint64]int),
			dirty:              true,
		}
		if vs.Persistent && dv.minRebuildInterval > 0 {
			dv.limiter = newRebuildLimiter(dv.minRebuildInterval)
		}
		for _, fs := range vs.Filters {
			dv.filters = append(dv.filters, viewFilter{typ: StepFind, q: fs.Query, uid: fs.UID})
		}
		switch vs.SortKind {
		case "simple":
			dv.kind = sortSimple
			dv.simpleField = vs.SortField
			dv.simpleDesc = vs.SortDesc
		case "compound":
			dv.kind = sortCompound
			dv.criteria = vs.SortCriteria
		}
		c.views = append(c.views, dv)
		c.viewsByName[vs.Name] = dv

		if dv.persistent {
			if err := dv.rebuild(); err != nil {
				return fmt.Errorf("collection %q view %q: %w", snap.Name, vs.Name, err)
			}
		}
	}

	return nil
}
