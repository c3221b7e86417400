// Package rules compiles audience rule trees into selection predicates.
package rules

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
)

type BoolOp string

const (
	And BoolOp = "AND"
	Or  BoolOp = "OR"
)

// Condition compares one customer field against a literal.
type Condition struct {
	Field    string
	Operator string
	Value    any // json.Number, float64, int, string, time.Time, ...
}

// Group combines its children with a boolean operator.
type Group struct {
	Op       BoolOp
	Children []Node
}

// Node is either a Condition or a Group. Exactly one of the pointers is set
// on a well-formed node.
type Node struct {
	Condition *Condition
	Group     *Group
}

func Cond(field, op string, value any) Node {
	return Node{Condition: &Condition{Field: field, Operator: op, Value: value}}
}

func AllOf(children ...Node) Node { return Node{Group: &Group{Op: And, Children: children}} }
func AnyOf(children ...Node) Node { return Node{Group: &Group{Op: Or, Children: children}} }

// wire form: {"operator":"AND","conditions":[...]} or {"field":..,"operator":..,"value":..}
type wireNode struct {
	Field      string          `json:"field,omitempty"`
	Operator   string          `json:"operator,omitempty"`
	Value      json.RawMessage `json:"value,omitempty"`
	Conditions *[]Node         `json:"conditions,omitempty"`
}

func (n *Node) UnmarshalJSON(b []byte) error {
	var w wireNode
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	if w.Conditions != nil {
		n.Group = &Group{Op: BoolOp(strings.ToUpper(strings.TrimSpace(w.Operator))), Children: *w.Conditions}
		n.Condition = nil
		return nil
	}

	c := &Condition{Field: w.Field, Operator: w.Operator}
	if len(w.Value) > 0 {
		dec := json.NewDecoder(bytes.NewReader(w.Value))
		dec.UseNumber()
		if err := dec.Decode(&c.Value); err != nil {
			return err
		}
	}
	n.Condition = c
	n.Group = nil
	return nil
}

func (n Node) MarshalJSON() ([]byte, error) {
	switch {
	case n.Group != nil:
		children := n.Group.Children
		if children == nil {
			children = []Node{}
		}
		return json.Marshal(struct {
			Operator   BoolOp `json:"operator"`
			Conditions []Node `json:"conditions"`
		}{n.Group.Op, children})
	case n.Condition != nil:
		return json.Marshal(struct {
			Field    string `json:"field"`
			Operator string `json:"operator"`
			Value    any    `json:"value"`
		}{n.Condition.Field, n.Condition.Operator, n.Condition.Value})
	default:
		return []byte("null"), nil
	}
}

// Parse decodes a rule tree from its JSON wire form.
func Parse(raw []byte) (Node, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return Node{}, errors.New("rules: empty rule tree")
	}
	var n Node
	if err := json.Unmarshal(raw, &n); err != nil {
		return Node{}, err
	}
	return n, nil
}
