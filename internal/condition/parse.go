package condition

import (
	"encoding/json"
	"fmt"
)

// Wire form of a tree node. Exactly one of And/Or/Field must be used:
//
//	{"and": [node, ...]}
//	{"or": [node, ...]}
//	{"field": "status", "operator": "equals", "value": "fail"}
type wireNode struct {
	And      []json.RawMessage `json:"and,omitempty"`
	Or       []json.RawMessage `json:"or,omitempty"`
	Field    string            `json:"field,omitempty"`
	Operator Operator          `json:"operator,omitempty"`
	Value    any               `json:"value,omitempty"`
}

// Parse decodes and validates a condition tree. Empty input or JSON null
// yields a nil Node, which evaluates to true. Parse errors are configuration
// errors and are meant to be surfaced when the rule is stored.
func Parse(data []byte) (Node, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var raw json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("invalid condition json: %w", err)
	}
	if string(raw) == "null" {
		return nil, nil
	}
	return parseNode(raw)
}

// MustParse is a test helper; it panics on malformed trees.
func MustParse(data string) Node {
	n, err := Parse([]byte(data))
	if err != nil {
		panic(err)
	}
	return n
}

func parseNode(raw json.RawMessage) (Node, error) {
	var w wireNode
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("invalid condition node: %w", err)
	}
	kinds := 0
	if w.And != nil {
		kinds++
	}
	if w.Or != nil {
		kinds++
	}
	if w.Field != "" || w.Operator != "" {
		kinds++
	}
	if kinds == 0 {
		return nil, fmt.Errorf("condition node must be a leaf, \"and\", or \"or\"")
	}
	if kinds > 1 {
		return nil, fmt.Errorf("condition node mixes leaf and branch fields")
	}
	switch {
	case w.And != nil:
		children, err := parseChildren(w.And)
		if err != nil {
			return nil, err
		}
		return And{All: children}, nil
	case w.Or != nil:
		children, err := parseChildren(w.Or)
		if err != nil {
			return nil, err
		}
		return Or{Any: children}, nil
	default:
		if w.Field == "" {
			return nil, fmt.Errorf("condition leaf requires a field")
		}
		if _, ok := operators[w.Operator]; !ok {
			return nil, fmt.Errorf("unknown operator %q", w.Operator)
		}
		if (w.Operator == OpIn || w.Operator == OpNotIn) && w.Value != nil {
			if _, ok := w.Value.([]any); !ok {
				return nil, fmt.Errorf("operator %q requires an array value", w.Operator)
			}
		}
		return Leaf{Field: w.Field, Op: w.Operator, Value: w.Value}, nil
	}
}

func parseChildren(raws []json.RawMessage) ([]Node, error) {
	children := make([]Node, 0, len(raws))
	for i, r := range raws {
		c, err := parseNode(r)
		if err != nil {
			return nil, fmt.Errorf("child %d: %w", i, err)
		}
		children = append(children, c)
	}
	return children, nil
}

// Marshal renders a tree back to its wire form. Nil trees become JSON null.
func Marshal(n Node) ([]byte, error) {
	return json.Marshal(toWire(n))
}

func toWire(n Node) any {
	switch t := n.(type) {
	case nil:
		return nil
	case Leaf:
		return map[string]any{"field": t.Field, "operator": t.Op, "value": t.Value}
	case And:
		children := make([]any, 0, len(t.All))
		for _, c := range t.All {
			children = append(children, toWire(c))
		}
		return map[string]any{"and": children}
	case Or:
		children := make([]any, 0, len(t.Any))
		for _, c := range t.Any {
			children = append(children, toWire(c))
		}
		return map[string]any{"or": children}
	default:
		return nil
	}
}
