package query

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
)

// Op is a matching predicate. value is the resolved field value, found
// reports whether the field path existed on the document, and operand is the
// argument from the query.
type Op func(value any, found bool, operand any) (bool, error)

var (
	opsMu sync.RWMutex
	ops   = map[string]Op{}
)

// Register adds or replaces an operator. New operators become available to
// every subsequent Match without touching the matcher itself.
func Register(name string, op Op) {
	opsMu.Lock()
	defer opsMu.Unlock()
	ops[name] = op
}

func lookup(name string) (Op, bool) {
	opsMu.RLock()
	defer opsMu.RUnlock()
	op, ok := ops[name]
	return op, ok
}

func init() {
	Register("$eq", opEq)
	Register("$ne", opNe)
	Register("$gt", ordering(func(r int) bool { return r > 0 }))
	Register("$gte", ordering(func(r int) bool { return r >= 0 }))
	Register("$lt", ordering(func(r int) bool { return r < 0 }))
	Register("$lte", ordering(func(r int) bool { return r <= 0 }))
	Register("$in", opIn)
	Register("$nin", opNin)
	Register("$between", opBetween)
	Register("$regex", opRegex)
	Register("$contains", opContains)
	Register("$containsAny", opContainsAny)
	Register("$containsNone", opContainsNone)
	Register("$type", opType)
	Register("$finite", opFinite)
	Register("$size", opSize)
	Register("$len", opLen)
	Register("$exists", opExists)
	Register("$elemMatch", opElemMatch)
}

func opEq(value any, _ bool, operand any) (bool, error) {
	return equalValues(value, operand), nil
}

func opNe(value any, _ bool, operand any) (bool, error) {
	return !equalValues(value, operand), nil
}

// ordering builds the $gt/$gte/$lt/$lte family. Absent and nil values never
// satisfy an ordering operator: the nil-sorts-last rule is a sort convention,
// not a range-match one.
func ordering(accept func(int) bool) Op {
	return func(value any, found bool, operand any) (bool, error) {
		if !found || value == nil || operand == nil {
			return false, nil
		}
		return accept(Compare(value, operand)), nil
	}
}

func opIn(value any, _ bool, operand any) (bool, error) {
	set, ok := toSlice(operand)
	if !ok {
		return false, &MalformedQueryError{Clause: "$in", Reason: "operand must be an array"}
	}
	for _, e := range set {
		if equalValues(value, e) {
			return true, nil
		}
	}
	return false, nil
}

func opNin(value any, found bool, operand any) (bool, error) {
	in, err := opIn(value, found, operand)
	if err != nil {
		return false, &MalformedQueryError{Clause: "$nin", Reason: "operand must be an array"}
	}
	return !in, nil
}

func opBetween(value any, found bool, operand any) (bool, error) {
	bounds, ok := toSlice(operand)
	if !ok || len(bounds) != 2 {
		return false, &MalformedQueryError{Clause: "$between", Reason: "operand must be a [low, high] array"}
	}
	if !found || value == nil {
		return false, nil
	}
	return Compare(value, bounds[0]) >= 0 && Compare(value, bounds[1]) <= 0, nil
}

func opRegex(value any, found bool, operand any) (bool, error) {
	if !found {
		return false, nil
	}
	s, ok := value.(string)
	if !ok {
		return false, nil
	}
	switch pat := operand.(type) {
	case *regexp.Regexp:
		return pat.MatchString(s), nil
	case string:
		re, err := regexp.Compile(pat)
		if err != nil {
			return false, &MalformedQueryError{Clause: "$regex", Reason: fmt.Sprintf("invalid pattern: %v", err)}
		}
		return re.MatchString(s), nil
	default:
		return false, &MalformedQueryError{Clause: "$regex", Reason: "operand must be a string or *regexp.Regexp"}
	}
}

// containsOne reports whether value contains needle: element membership for
// arrays, substring for strings.
func containsOne(value, needle any) bool {
	if set, ok := toSlice(value); ok {
		for _, e := range set {
			if equalValues(e, needle) {
				return true
			}
		}
		return false
	}
	if s, ok := value.(string); ok {
		sub, ok := needle.(string)
		return ok && strings.Contains(s, sub)
	}
	return false
}

func opContains(value any, found bool, operand any) (bool, error) {
	if !found {
		return false, nil
	}
	if set, ok := toSlice(operand); ok {
		for _, needle := range set {
			if !containsOne(value, needle) {
				return false, nil
			}
		}
		return true, nil
	}
	return containsOne(value, operand), nil
}

func opContainsAny(value any, found bool, operand any) (bool, error) {
	if !found {
		return false, nil
	}
	set, ok := toSlice(operand)
	if !ok {
		set = []any{operand}
	}
	for _, needle := range set {
		if containsOne(value, needle) {
			return true, nil
		}
	}
	return false, nil
}

func opContainsNone(value any, found bool, operand any) (bool, error) {
	any_, err := opContainsAny(value, found, operand)
	if err != nil {
		return false, err
	}
	// An absent field trivially contains none of the operands.
	if !found {
		return true, nil
	}
	return !any_, nil
}

func typeName(value any) string {
	switch value.(type) {
	case nil:
		return "null"
	case bool:
		return "bool"
	case string:
		return "string"
	case map[string]any:
		return "object"
	}
	if _, ok := toFloat(value); ok {
		return "number"
	}
	if _, ok := toTime(value); ok {
		return "date"
	}
	if _, ok := toSlice(value); ok {
		return "array"
	}
	return "unknown"
}

func opType(value any, found bool, operand any) (bool, error) {
	want, ok := operand.(string)
	if !ok {
		return false, &MalformedQueryError{Clause: "$type", Reason: "operand must be a type name string"}
	}
	if !found {
		return false, nil
	}
	return typeName(value) == want, nil
}

func opFinite(value any, found bool, operand any) (bool, error) {
	want, ok := operand.(bool)
	if !ok {
		return false, &MalformedQueryError{Clause: "$finite", Reason: "operand must be a bool"}
	}
	return found && isFinite(value) == want, nil
}

func opSize(value any, found bool, operand any) (bool, error) {
	want, ok := toFloat(operand)
	if !ok {
		return false, &MalformedQueryError{Clause: "$size", Reason: "operand must be a number"}
	}
	if !found {
		return false, nil
	}
	set, ok := toSlice(value)
	return ok && float64(len(set)) == want, nil
}

func opLen(value any, found bool, operand any) (bool, error) {
	want, ok := toFloat(operand)
	if !ok {
		return false, &MalformedQueryError{Clause: "$len", Reason: "operand must be a number"}
	}
	if !found {
		return false, nil
	}
	s, ok := value.(string)
	return ok && float64(len(s)) == want, nil
}

func opExists(_ any, found bool, operand any) (bool, error) {
	want, ok := operand.(bool)
	if !ok {
		return false, &MalformedQueryError{Clause: "$exists", Reason: "operand must be a bool"}
	}
	return found == want, nil
}

func opElemMatch(value any, found bool, operand any) (bool, error) {
	sub, ok := asQuery(operand)
	if !ok {
		return false, &MalformedQueryError{Clause: "$elemMatch", Reason: "operand must be a query object"}
	}
	if !found {
		return false, nil
	}
	set, ok := toSlice(value)
	if !ok {
		return false, nil
	}
	for _, elem := range set {
		if m, ok := elem.(map[string]any); ok {
			matched, err := Match(sub, m)
			if err != nil {
				return false, err
			}
			if matched {
				return true, nil
			}
			continue
		}
		// Scalar elements: apply the block to the element itself.
		matched, err := matchClause("", sub, map[string]any{"": elem})
		if err != nil {
			return false, err
		}
		if matched {
			return true, nil
		}
	}
	return false, nil
}
