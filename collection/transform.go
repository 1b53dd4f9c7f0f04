package collection

import (
	"fmt"

	"github.com/hupe1980/docgo/document"
	"github.com/hupe1980/docgo/query"
)

// Transform step types.
const (
	StepFind         = "find"
	StepWhere        = "where"
	StepSimpleSort   = "simplesort"
	StepCompoundSort = "compoundsort"
	StepLimit        = "limit"
	StepOffset       = "offset"
)

// TransformStep is one declarative step of a named transform pipeline.
// Transforms are reusable query recipes, a convenience rather than a
// performance primitive.
//
// Where steps hold a function and are skipped on serialization, mirroring
// the dynamic-view rule that only find-type filters survive a round trip.
type TransformStep struct {
	Type string `json:"type"`

	Query     query.Q               `json:"value,omitempty"`
	Predicate func(document.D) bool `json:"-"`
	Field     string                `json:"field,omitempty"`
	Desc      bool                  `json:"desc,omitempty"`
	Criteria  []query.SortCriterion `json:"criteria,omitempty"`
	N         int                   `json:"n,omitempty"`
}

// AddTransform registers a named step sequence. Names are unique per
// collection.
func (c *Collection) AddTransform(name string, steps []TransformStep) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.transforms[name]; ok {
		return &DuplicateNameError{Kind: "transform", Name: name}
	}
	c.transforms[name] = steps
	return nil
}

// ChainTransform starts a cursor with the named transform already applied.
func (c *Collection) ChainTransform(name string) (*ResultSet, error) {
	c.mu.Lock()
	steps, ok := c.transforms[name]
	c.mu.Unlock()
	if !ok {
		return nil, &UnknownTransformError{Name: name}
	}

	rs := c.Chain()
	for _, step := range steps {
		if err := rs.applyStep(step); err != nil {
			return nil, err
		}
	}
	return rs, nil
}

func (rs *ResultSet) applyStep(step TransformStep) error {
	switch step.Type {
	case StepFind:
		rs.Find(step.Query)
	case StepWhere:
		if step.Predicate == nil {
			return fmt.Errorf("transform step %q: nil predicate", step.Type)
		}
		rs.Where(step.Predicate)
	case StepSimpleSort:
		rs.SimpleSort(step.Field, step.Desc)
	case StepCompoundSort:
		rs.CompoundSort(step.Criteria...)
	case StepLimit:
		rs.Limit(step.N)
	case StepOffset:
		rs.Offset(step.N)
	default:
		return fmt.Errorf("unknown transform step type %q", step.Type)
	}
	return rs.err
}
