package query

import (
	"strconv"
	"strings"
)

// Resolve walks a dot-notation path through nested maps and slices.
// Numeric segments index into arrays. found is false when any segment is
// missing or of the wrong shape.
func Resolve(doc map[string]any, path string) (any, bool) {
	if doc == nil {
		return nil, false
	}
	if !strings.Contains(path, ".") {
		v, ok := doc[path]
		return v, ok
	}

	var cur any = doc
	for seg := range strings.SplitSeq(path, ".") {
		switch t := cur.(type) {
		case map[string]any:
			v, ok := t[seg]
			if !ok {
				return nil, false
			}
			cur = v
		case []any:
			i, err := strconv.Atoi(seg)
			if err != nil || i < 0 || i >= len(t) {
				return nil, false
			}
			cur = t[i]
		default:
			return nil, false
		}
	}
	return cur, true
}
