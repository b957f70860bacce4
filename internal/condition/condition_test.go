package condition

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmptyTrees(t *testing.T) {
	snaps := []Snapshot{nil, {}, {"status": "open"}}
	for _, s := range snaps {
		assert.True(t, Evaluate(nil, s), "nil tree is vacuously true")
		assert.True(t, Evaluate(And{}, s), "empty And is true")
		assert.False(t, Evaluate(Or{}, s), "empty Or is false")
	}
}

func TestLeafOperators(t *testing.T) {
	snap := Snapshot{
		"result":   "fail",
		"severity": float64(7),
		"count":    "12",
		"title":    "Crane Inspection Overdue",
		"closed":   nil,
	}

	cases := []struct {
		name string
		leaf Leaf
		want bool
	}{
		{"equals match", Leaf{"result", OpEquals, "fail"}, true},
		{"equals mismatch", Leaf{"result", OpEquals, "pass"}, false},
		{"not_equals", Leaf{"result", OpNotEquals, "pass"}, true},
		{"numeric equals across types", Leaf{"count", OpEquals, float64(12)}, true},
		{"greater_than", Leaf{"severity", OpGreaterThan, float64(5)}, true},
		{"greater_than false", Leaf{"severity", OpGreaterThan, float64(7)}, false},
		{"greater_or_equal boundary", Leaf{"severity", OpGreaterOrEqual, float64(7)}, true},
		{"less_than", Leaf{"severity", OpLessThan, float64(10)}, true},
		{"less_or_equal", Leaf{"severity", OpLessOrEqual, float64(6)}, false},
		{"string coerced numeric", Leaf{"count", OpGreaterThan, float64(10)}, true},
		{"contains case-insensitive", Leaf{"title", OpContains, "crane"}, true},
		{"contains miss", Leaf{"title", OpContains, "excavator"}, false},
		{"in", Leaf{"result", OpIn, []any{"fail", "conditional"}}, true},
		{"in miss", Leaf{"result", OpIn, []any{"pass"}}, false},
		{"not_in", Leaf{"result", OpNotIn, []any{"pass"}}, true},
		{"is_null on null value", Leaf{"closed", OpIsNull, nil}, true},
		{"is_null on absent field", Leaf{"missing", OpIsNull, nil}, true},
		{"is_not_null", Leaf{"result", OpIsNotNull, nil}, true},
		{"is_not_null absent", Leaf{"missing", OpIsNotNull, nil}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Evaluate(tc.leaf, snap))
		})
	}
}

func TestCoercionFailureFailsClosed(t *testing.T) {
	snap := Snapshot{"severity": "not-a-number"}
	assert.False(t, Evaluate(Leaf{"severity", OpGreaterThan, float64(3)}, snap))
	// A sibling leaf is unaffected by the malformed one.
	tree := Or{Any: []Node{
		Leaf{"severity", OpGreaterThan, float64(3)},
		Leaf{"severity", OpEquals, "not-a-number"},
	}}
	assert.True(t, Evaluate(tree, snap))
}

func TestAbsentFieldOnlyMatchesNullChecks(t *testing.T) {
	snap := Snapshot{}
	assert.False(t, Evaluate(Leaf{"x", OpEquals, "y"}, snap))
	assert.False(t, Evaluate(Leaf{"x", OpNotEquals, "y"}, snap))
	assert.False(t, Evaluate(Leaf{"x", OpContains, ""}, snap))
	assert.True(t, Evaluate(Leaf{"x", OpIsNull, nil}, snap))
}

func TestNestedComposition(t *testing.T) {
	snap := Snapshot{"result": "fail", "severity": float64(8), "zone": "B"}

	c1 := Leaf{"result", OpEquals, "fail"}
	c2 := Leaf{"severity", OpGreaterOrEqual, float64(5)}
	c3 := Leaf{"zone", OpIn, []any{"A", "C"}}

	// And distributes over its children.
	assert.Equal(t,
		Evaluate(c1, snap) && Evaluate(c2, snap),
		Evaluate(And{All: []Node{c1, c2}}, snap))
	assert.Equal(t,
		Evaluate(c1, snap) || Evaluate(c3, snap),
		Evaluate(Or{Any: []Node{c1, c3}}, snap))

	deep := And{All: []Node{
		c1,
		Or{Any: []Node{c3, And{All: []Node{c2, Leaf{"zone", OpEquals, "B"}}}}},
	}}
	assert.True(t, Evaluate(deep, snap))
}

func TestEvaluateIsDeterministic(t *testing.T) {
	tree := MustParse(`{"and":[{"field":"result","operator":"equals","value":"fail"},{"or":[{"field":"severity","operator":"greater_than","value":5},{"field":"zone","operator":"is_null"}]}]}`)
	snap := Snapshot{"result": "fail", "severity": float64(6), "zone": "A"}
	first := Evaluate(tree, snap)
	for i := 0; i < 50; i++ {
		assert.Equal(t, first, Evaluate(tree, snap))
	}
}

func TestParse(t *testing.T) {
	n, err := Parse([]byte(`{"field":"result","operator":"equals","value":"fail"}`))
	require.NoError(t, err)
	leaf, ok := n.(Leaf)
	require.True(t, ok)
	assert.Equal(t, "result", leaf.Field)
	assert.Equal(t, OpEquals, leaf.Op)

	n, err = Parse([]byte(`{"and":[{"field":"a","operator":"is_null"},{"or":[]}]}`))
	require.NoError(t, err)
	and, ok := n.(And)
	require.True(t, ok)
	require.Len(t, and.All, 2)
	_, ok = and.All[1].(Or)
	assert.True(t, ok)

	n, err = Parse(nil)
	require.NoError(t, err)
	assert.Nil(t, n)
	n, err = Parse([]byte(`null`))
	require.NoError(t, err)
	assert.Nil(t, n)
}

func TestParseRejectsMalformedTrees(t *testing.T) {
	cases := []string{
		`{"field":"a","operator":"looks_like","value":1}`,
		`{"field":"","operator":"equals","value":1}`,
		`{"operator":"equals","value":1}`,
		`{"and":[{"field":"a","operator":"equals","value":1}],"field":"b","operator":"equals"}`,
		`{"field":"a","operator":"in","value":"not-a-list"}`,
		`{}`,
		`[1,2]`,
		`{"and":[{"bogus":true}]}`,
	}
	for _, raw := range cases {
		_, err := Parse([]byte(raw))
		assert.Error(t, err, "input %s", raw)
	}
}

func TestMarshalRoundTrip(t *testing.T) {
	src := `{"and":[{"field":"result","operator":"equals","value":"fail"},{"or":[{"field":"severity","operator":"greater_than","value":5}]}]}`
	n := MustParse(src)
	data, err := Marshal(n)
	require.NoError(t, err)
	again, err := Parse(data)
	require.NoError(t, err)
	snap := Snapshot{"result": "fail", "severity": float64(9)}
	assert.Equal(t, Evaluate(n, snap), Evaluate(again, snap))
}
