// Package condition implements the boolean expression trees attached to
// escalation rules. A tree is parsed and validated once when the rule is
// stored; evaluation against an entity snapshot is a pure function and never
// returns an error: anything malformed at evaluation time fails closed.
package condition

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Operator is a leaf comparison operator.
type Operator string

const (
	OpEquals         Operator = "equals"
	OpNotEquals      Operator = "not_equals"
	OpGreaterThan    Operator = "greater_than"
	OpGreaterOrEqual Operator = "greater_or_equal"
	OpLessThan       Operator = "less_than"
	OpLessOrEqual    Operator = "less_or_equal"
	OpContains       Operator = "contains"
	OpIn             Operator = "in"
	OpNotIn          Operator = "not_in"
	OpIsNull         Operator = "is_null"
	OpIsNotNull      Operator = "is_not_null"
)

var operators = map[Operator]struct{}{
	OpEquals: {}, OpNotEquals: {},
	OpGreaterThan: {}, OpGreaterOrEqual: {},
	OpLessThan: {}, OpLessOrEqual: {},
	OpContains: {}, OpIn: {}, OpNotIn: {},
	OpIsNull: {}, OpIsNotNull: {},
}

// Snapshot is the flat field->value view of an entity at trigger time.
type Snapshot map[string]any

// Node is a condition tree node: Leaf, And, or Or. The set is closed.
type Node interface {
	isNode()
}

// Leaf compares one snapshot field against a literal value.
type Leaf struct {
	Field string
	Op    Operator
	Value any
}

// And is true when all children are true; an empty And is true.
type And struct {
	All []Node
}

// Or is true when any child is true; an empty Or is false.
type Or struct {
	Any []Node
}

func (Leaf) isNode() {}
func (And) isNode()  {}
func (Or) isNode()   {}

// Evaluate applies the tree to a snapshot. A nil tree is vacuously true.
func Evaluate(n Node, snap Snapshot) bool {
	switch t := n.(type) {
	case nil:
		return true
	case Leaf:
		return evalLeaf(t, snap)
	case And:
		for _, c := range t.All {
			if !Evaluate(c, snap) {
				return false
			}
		}
		return true
	case Or:
		for _, c := range t.Any {
			if Evaluate(c, snap) {
				return true
			}
		}
		return false
	default:
		// Unknown node kinds cannot occur through Parse; fail closed anyway.
		return false
	}
}

func evalLeaf(l Leaf, snap Snapshot) bool {
	actual, present := snap[l.Field]
	if !present {
		actual = nil
	}
	switch l.Op {
	case OpIsNull:
		return actual == nil
	case OpIsNotNull:
		return actual != nil
	}
	if actual == nil {
		// Absent fields only match the null checks above.
		return false
	}
	switch l.Op {
	case OpEquals:
		return looseEqual(actual, l.Value)
	case OpNotEquals:
		return !looseEqual(actual, l.Value)
	case OpGreaterThan, OpGreaterOrEqual, OpLessThan, OpLessOrEqual:
		a, ok := toFloat(actual)
		if !ok {
			return false
		}
		b, ok := toFloat(l.Value)
		if !ok {
			return false
		}
		switch l.Op {
		case OpGreaterThan:
			return a > b
		case OpGreaterOrEqual:
			return a >= b
		case OpLessThan:
			return a < b
		default:
			return a <= b
		}
	case OpContains:
		return strings.Contains(strings.ToLower(stringify(actual)), strings.ToLower(stringify(l.Value)))
	case OpIn:
		return inList(actual, l.Value)
	case OpNotIn:
		return !inList(actual, l.Value)
	default:
		return false
	}
}

// looseEqual compares numerically when both sides coerce, otherwise by
// canonical string form. "5" therefore equals 5, but "05" does too, which is
// the behavior rule authors expect from mixed-type snapshots.
func looseEqual(a, b any) bool {
	fa, oka := toFloat(a)
	fb, okb := toFloat(b)
	if oka && okb {
		return fa == fb
	}
	return stringify(a) == stringify(b)
}

func inList(actual, value any) bool {
	list, ok := value.([]any)
	if !ok {
		return false
	}
	for _, v := range list {
		if looseEqual(actual, v) {
			return true
		}
	}
	return false
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case bool:
		if t {
			return 1, true
		}
		return 0, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return ""
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	case json.Number:
		return t.String()
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	}
}
