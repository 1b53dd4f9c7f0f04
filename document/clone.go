package document

import "fmt"

// CloneStrategy selects how documents are copied on their way in and out of
// a collection.
//
// The strategy also fixes the read discipline: with CloneNone reads return
// live references (an in-place mutation is visible to later queries without
// an update call); with any cloning strategy reads return independent copies.
type CloneStrategy uint8

const (
	// CloneNone stores and returns documents by reference.
	CloneNone CloneStrategy = iota
	// CloneShallow copies the top-level map; nested values stay shared.
	CloneShallow
	// CloneDeep recursively copies nested maps and slices.
	CloneDeep
)

// String returns the stable name used in serialized collection options.
func (s CloneStrategy) String() string {
	switch s {
	case CloneShallow:
		return "shallow"
	case CloneDeep:
		return "deep"
	default:
		return "none"
	}
}

// ParseCloneStrategy resolves a serialized strategy name.
func ParseCloneStrategy(name string) (CloneStrategy, error) {
	switch name {
	case "", "none":
		return CloneNone, nil
	case "shallow":
		return CloneShallow, nil
	case "deep":
		return CloneDeep, nil
	default:
		return CloneNone, fmt.Errorf("unknown clone strategy %q", name)
	}
}

// Clone copies a document according to the strategy. Meta pointers are always
// duplicated so a clone can never alias revision state.
func Clone(doc D, strategy CloneStrategy) D {
	if doc == nil {
		return nil
	}
	switch strategy {
	case CloneShallow:
		out := make(D, len(doc))
		for k, v := range doc {
			out[k] = v
		}
		if m := GetMeta(doc); m != nil {
			cp := *m
			out[MetaField] = &cp
		}
		return out
	case CloneDeep:
		return deepCloneMap(doc)
	default:
		return doc
	}
}

func deepCloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = deepCloneValue(v)
	}
	return out
}

func deepCloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return deepCloneMap(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = deepCloneValue(e)
		}
		return out
	case *Meta:
		cp := *t
		return &cp
	default:
		return v
	}
}
