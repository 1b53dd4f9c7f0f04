// Package query implements the stateless matching engine: a composable query
// algebra over schemaless documents, an extensible operator registry, and the
// comparators used for sorting and range scans.
//
// A query is a map from field path to either a literal (implicit equality) or
// an operator block such as {"$gte": 5}. Field paths use dot notation for
// nested access. Top-level keys are implicitly AND-ed; $and, $or and $not
// combine nested queries explicitly.
//
// Matching fails closed: an unrecognized operator name is a hard error, never
// a silent match-all.
package query

import (
	"fmt"
	"strings"
)

// Q is a query object.
type Q = map[string]any

// UnknownOperatorError is returned when a query references an operator that
// is not registered.
type UnknownOperatorError struct {
	Name string
}

func (e *UnknownOperatorError) Error() string {
	return fmt.Sprintf("unknown query operator %q", e.Name)
}

// MalformedQueryError is returned when a combinator receives an operand of
// the wrong shape (e.g. $or without an array).
type MalformedQueryError struct {
	Clause string
	Reason string
}

func (e *MalformedQueryError) Error() string {
	return fmt.Sprintf("malformed query clause %s: %s", e.Clause, e.Reason)
}

// Match reports whether doc satisfies q. Top-level keys are AND-ed and
// evaluation short-circuits on the first failing clause.
//
// A nil or empty query matches every document.
func Match(q Q, doc map[string]any) (bool, error) {
	for key, operand := range q {
		ok, err := matchClause(key, operand, doc)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

func matchClause(key string, operand any, doc map[string]any) (bool, error) {
	switch key {
	case "$and":
		sub, err := subQueries(key, operand)
		if err != nil {
			return false, err
		}
		for _, q := range sub {
			ok, err := Match(q, doc)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil

	case "$or":
		sub, err := subQueries(key, operand)
		if err != nil {
			return false, err
		}
		for _, q := range sub {
			ok, err := Match(q, doc)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil

	case "$not":
		q, ok := asQuery(operand)
		if !ok {
			return false, &MalformedQueryError{Clause: "$not", Reason: "operand must be a query object"}
		}
		matched, err := Match(q, doc)
		if err != nil {
			return false, err
		}
		return !matched, nil
	}

	value, found := Resolve(doc, key)

	if block, ok := operatorBlock(operand); ok {
		for name, arg := range block {
			op, ok := lookup(name)
			if !ok {
				return false, &UnknownOperatorError{Name: name}
			}
			matched, err := op(value, found, arg)
			if err != nil {
				return false, err
			}
			if !matched {
				return false, nil
			}
		}
		return true, nil
	}

	// Literal operand: implicit equality.
	return equalValues(value, operand), nil
}

// operatorBlock reports whether operand is an operator object: a non-empty
// map whose keys all start with '$'. Any other map is treated as a literal.
func operatorBlock(operand any) (map[string]any, bool) {
	m, ok := operand.(map[string]any)
	if !ok || len(m) == 0 {
		return nil, false
	}
	for k := range m {
		if !strings.HasPrefix(k, "$") {
			return nil, false
		}
	}
	return m, true
}

func subQueries(clause string, operand any) ([]Q, error) {
	switch t := operand.(type) {
	case []Q:
		return t, nil
	case []any:
		out := make([]Q, len(t))
		for i, e := range t {
			q, ok := asQuery(e)
			if !ok {
				return nil, &MalformedQueryError{Clause: clause, Reason: "array elements must be query objects"}
			}
			out[i] = q
		}
		return out, nil
	default:
		return nil, &MalformedQueryError{Clause: clause, Reason: "operand must be an array of query objects"}
	}
}

func asQuery(v any) (Q, bool) {
	q, ok := v.(map[string]any)
	return q, ok
}
