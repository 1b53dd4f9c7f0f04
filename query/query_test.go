package query

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/docgo/document"
)

func mustMatch(t *testing.T, q Q, doc document.D) bool {
	t.Helper()
	ok, err := Match(q, doc)
	require.NoError(t, err)
	return ok
}

func TestMatchImplicitAnd(t *testing.T) {
	doc := document.D{"name": "odin", "age": 50}

	assert.True(t, mustMatch(t, Q{"name": "odin", "age": 50}, doc))
	assert.False(t, mustMatch(t, Q{"name": "odin", "age": 51}, doc))
	assert.True(t, mustMatch(t, Q{}, doc))
}

func TestMatchOperators(t *testing.T) {
	doc := document.D{
		"name":  "odin",
		"age":   50,
		"tags":  []any{"god", "raven"},
		"score": 7.5,
	}

	tests := []struct {
		name string
		q    Q
		want bool
	}{
		{name: "eq literal", q: Q{"age": 50}, want: true},
		{name: "eq cross numeric", q: Q{"age": Q{"$eq": 50.0}}, want: true},
		{name: "ne", q: Q{"age": Q{"$ne": 50}}, want: false},
		{name: "gt", q: Q{"age": Q{"$gt": 49}}, want: true},
		{name: "gt equal", q: Q{"age": Q{"$gt": 50}}, want: false},
		{name: "gte", q: Q{"age": Q{"$gte": 50}}, want: true},
		{name: "lt", q: Q{"age": Q{"$lt": 51}}, want: true},
		{name: "lte", q: Q{"age": Q{"$lte": 49}}, want: false},
		{name: "between", q: Q{"age": Q{"$between": []any{40, 60}}}, want: true},
		{name: "between outside", q: Q{"age": Q{"$between": []any{51, 60}}}, want: false},
		{name: "in", q: Q{"age": Q{"$in": []any{10, 50}}}, want: true},
		{name: "nin", q: Q{"age": Q{"$nin": []any{10, 50}}}, want: false},
		{name: "regex string", q: Q{"name": Q{"$regex": "^od"}}, want: true},
		{name: "regex compiled", q: Q{"name": Q{"$regex": regexp.MustCompile("din$")}}, want: true},
		{name: "contains", q: Q{"tags": Q{"$contains": "god"}}, want: true},
		{name: "containsAny", q: Q{"tags": Q{"$containsAny": []any{"x", "raven"}}}, want: true},
		{name: "containsNone", q: Q{"tags": Q{"$containsNone": []any{"x"}}}, want: true},
		{name: "type number", q: Q{"score": Q{"$type": "number"}}, want: true},
		{name: "type mismatch", q: Q{"name": Q{"$type": "number"}}, want: false},
		{name: "finite", q: Q{"score": Q{"$finite": true}}, want: true},
		{name: "size", q: Q{"tags": Q{"$size": 2}}, want: true},
		{name: "len", q: Q{"name": Q{"$len": 4}}, want: true},
		{name: "exists true", q: Q{"name": Q{"$exists": true}}, want: true},
		{name: "exists false on absent", q: Q{"ghost": Q{"$exists": false}}, want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, mustMatch(t, tt.q, doc))
		})
	}
}

func TestMatchAbsentField(t *testing.T) {
	doc := document.D{"name": "odin"}

	// Ordering operators never match an absent or null value.
	assert.False(t, mustMatch(t, Q{"age": Q{"$gt": 0}}, doc))
	assert.False(t, mustMatch(t, Q{"age": Q{"$lt": 100}}, doc))
	assert.False(t, mustMatch(t, Q{"age": 50}, doc))

	// containsNone holds vacuously.
	assert.True(t, mustMatch(t, Q{"tags": Q{"$containsNone": []any{"x"}}}, doc))
}

func TestMatchCombinators(t *testing.T) {
	doc := document.D{"age": 50, "city": "asgard"}

	assert.True(t, mustMatch(t, Q{"$and": []Q{{"age": 50}, {"city": "asgard"}}}, doc))
	assert.False(t, mustMatch(t, Q{"$and": []Q{{"age": 50}, {"city": "midgard"}}}, doc))
	assert.True(t, mustMatch(t, Q{"$or": []Q{{"age": 1}, {"city": "asgard"}}}, doc))
	assert.False(t, mustMatch(t, Q{"$or": []Q{{"age": 1}, {"city": "midgard"}}}, doc))
	assert.True(t, mustMatch(t, Q{"$not": Q{"age": 1}}, doc))
	assert.False(t, mustMatch(t, Q{"$not": Q{"age": 50}}, doc))

	// Operand spellings: []map[string]any is []Q, and decoded JSON arrives
	// as []any of map elements.
	assert.True(t, mustMatch(t, Q{"$or": []map[string]any{{"age": 1}, {"city": "asgard"}}}, doc))
	assert.True(t, mustMatch(t, Q{"$and": []any{map[string]any{"age": 50}, map[string]any{"city": "asgard"}}}, doc))

	// Nesting.
	q := Q{"$or": []Q{
		{"$and": []Q{{"age": 50}, {"city": "midgard"}}},
		{"$not": Q{"city": "midgard"}},
	}}
	assert.True(t, mustMatch(t, q, doc))
}

func TestMatchDotNotation(t *testing.T) {
	doc := document.D{
		"address": map[string]any{"city": "asgard", "zip": 1},
		"pets":    []any{map[string]any{"name": "huginn"}},
	}

	assert.True(t, mustMatch(t, Q{"address.city": "asgard"}, doc))
	assert.False(t, mustMatch(t, Q{"address.city": "midgard"}, doc))
	assert.True(t, mustMatch(t, Q{"pets.0.name": "huginn"}, doc))
	assert.False(t, mustMatch(t, Q{"address.missing": Q{"$exists": true}}, doc))
}

func TestMatchElemMatch(t *testing.T) {
	doc := document.D{
		"entries": []any{
			map[string]any{"k": "a", "v": 1},
			map[string]any{"k": "b", "v": 2},
		},
		"nums": []any{1, 5, 9},
	}

	assert.True(t, mustMatch(t, Q{"entries": Q{"$elemMatch": Q{"k": "b", "v": 2}}}, doc))
	assert.False(t, mustMatch(t, Q{"entries": Q{"$elemMatch": Q{"k": "a", "v": 2}}}, doc))
	assert.True(t, mustMatch(t, Q{"nums": Q{"$elemMatch": Q{"$gt": 8}}}, doc))
	assert.False(t, mustMatch(t, Q{"nums": Q{"$elemMatch": Q{"$gt": 10}}}, doc))
}

func TestMatchUnknownOperator(t *testing.T) {
	_, err := Match(Q{"age": Q{"$bogus": 1}}, document.D{"age": 50})
	require.Error(t, err)

	var ue *UnknownOperatorError
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, "$bogus", ue.Name)
}

func TestMatchMalformed(t *testing.T) {
	_, err := Match(Q{"age": Q{"$between": "nope"}}, document.D{"age": 50})
	assert.Error(t, err)

	_, err = Match(Q{"$and": 42}, document.D{})
	assert.Error(t, err)
}

func TestRegisterCustomOperator(t *testing.T) {
	Register("$even", func(value any, found bool, operand any) (bool, error) {
		n, ok := value.(int)
		return found && ok && n%2 == 0, nil
	})

	assert.True(t, mustMatch(t, Q{"n": Q{"$even": true}}, document.D{"n": 4}))
	assert.False(t, mustMatch(t, Q{"n": Q{"$even": true}}, document.D{"n": 3}))
}
