package query

import (
	"fmt"
	"math"
	"reflect"
	"sync"
	"time"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

// Collator provides locale-aware ordering of string values. collate.Collator
// is not safe for concurrent use, so comparisons serialize on an internal
// mutex.
type Collator struct {
	mu sync.Mutex
	c  *collate.Collator
}

// NewCollator creates a collator for the given language.
func NewCollator(tag language.Tag) *Collator {
	return &Collator{c: collate.New(tag)}
}

// CompareStrings compares two strings under the collator's locale.
func (c *Collator) CompareStrings(a, b string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.c.CompareString(a, b)
}

// defaultCollator backs the package-level Compare.
var defaultCollator = NewCollator(language.English)

// Compare is the default comparator used for sorting and range scans.
//
// Ordering rules:
//   - nil (and absent, which callers pass as nil) sorts after every defined
//     value
//   - numbers compare numerically across integer/float kinds
//   - strings compare locale-aware (English collation; collections may
//     configure another language via a Collator)
//   - times compare by instant
//   - false sorts before true
//   - values of different kinds order by a fixed kind rank so sorts stay
//     total and deterministic
func Compare(a, b any) int {
	return CompareWith(defaultCollator, a, b)
}

// CompareWith is Compare under an explicit collator.
func CompareWith(col *Collator, a, b any) int {
	aNil, bNil := a == nil, b == nil
	switch {
	case aNil && bNil:
		return 0
	case aNil:
		return 1
	case bNil:
		return -1
	}

	if af, aok := toFloat(a); aok {
		if bf, bok := toFloat(b); bok {
			switch {
			case af < bf:
				return -1
			case af > bf:
				return 1
			default:
				return 0
			}
		}
	}

	if as, aok := a.(string); aok {
		if bs, bok := b.(string); bok {
			return col.CompareStrings(as, bs)
		}
	}

	if at, aok := toTime(a); aok {
		if bt, bok := toTime(b); bok {
			switch {
			case at.Before(bt):
				return -1
			case at.After(bt):
				return 1
			default:
				return 0
			}
		}
	}

	if ab, aok := a.(bool); aok {
		if bb, bok := b.(bool); bok {
			switch {
			case ab == bb:
				return 0
			case bb:
				return -1
			default:
				return 1
			}
		}
	}

	ar, br := kindRank(a), kindRank(b)
	if ar != br {
		if ar < br {
			return -1
		}
		return 1
	}

	// Same rank but incomparable kind: fall back to string form so the
	// ordering stays total.
	return col.CompareStrings(fmt.Sprint(a), fmt.Sprint(b))
}

func kindRank(v any) int {
	switch v.(type) {
	case bool:
		return 0
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return 1
	case string:
		return 2
	case time.Time:
		return 3
	default:
		return 4
	}
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case int:
		return float64(t), true
	case int8:
		return float64(t), true
	case int16:
		return float64(t), true
	case int32:
		return float64(t), true
	case int64:
		return float64(t), true
	case uint:
		return float64(t), true
	case uint8:
		return float64(t), true
	case uint16:
		return float64(t), true
	case uint32:
		return float64(t), true
	case uint64:
		return float64(t), true
	case float32:
		return float64(t), true
	case float64:
		return t, true
	default:
		return 0, false
	}
}

func toTime(v any) (time.Time, bool) {
	t, ok := v.(time.Time)
	return t, ok
}

func isFinite(v any) bool {
	f, ok := toFloat(v)
	if !ok {
		return false
	}
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// equalValues is the loose equality used by $eq, $in and containment:
// numbers compare across kinds, slices compare element-wise, and everything
// else falls back to deep equality.
func equalValues(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}

	if af, aok := toFloat(a); aok {
		if bf, bok := toFloat(b); bok {
			return af == bf
		}
		return false
	}

	if as, aok := a.(string); aok {
		bs, bok := b.(string)
		return bok && as == bs
	}

	if ab, aok := a.(bool); aok {
		bb, bok := b.(bool)
		return bok && ab == bb
	}

	if at, aok := toTime(a); aok {
		bt, bok := toTime(b)
		return bok && at.Equal(bt)
	}

	if asl, aok := toSlice(a); aok {
		bsl, bok := toSlice(b)
		if !bok || len(asl) != len(bsl) {
			return false
		}
		for i := range asl {
			if !equalValues(asl[i], bsl[i]) {
				return false
			}
		}
		return true
	}

	return reflect.DeepEqual(a, b)
}

// toSlice normalizes any slice kind to []any.
func toSlice(v any) ([]any, bool) {
	switch t := v.(type) {
	case []any:
		return t, true
	case []string:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = e
		}
		return out, true
	case []int:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = e
		}
		return out, true
	case []float64:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = e
		}
		return out, true
	default:
		rv := reflect.ValueOf(v)
		if rv.Kind() != reflect.Slice {
			return nil, false
		}
		out := make([]any, rv.Len())
		for i := range out {
			out[i] = rv.Index(i).Interface()
		}
		return out, true
	}
}

// SortCriterion is one (field, direction) pair of a compound sort.
type SortCriterion struct {
	Field string `json:"field"`
	Desc  bool   `json:"desc"`
}

// CompoundCompare evaluates criteria in priority order and returns the first
// non-zero comparison.
func CompoundCompare(criteria []SortCriterion, a, b map[string]any) int {
	return CompoundCompareWith(defaultCollator, criteria, a, b)
}

// CompoundCompareWith is CompoundCompare under an explicit collator.
func CompoundCompareWith(col *Collator, criteria []SortCriterion, a, b map[string]any) int {
	for _, c := range criteria {
		av, _ := Resolve(a, c.Field)
		bv, _ := Resolve(b, c.Field)
		r := CompareWith(col, av, bv)
		if r != 0 {
			if c.Desc {
				return -r
			}
			return r
		}
	}
	return 0
}
