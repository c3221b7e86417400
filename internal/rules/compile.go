package rules

import (
	"fmt"
	"strings"
)

// Result is the outcome of Compile. Warnings lists every condition or group
// that was dropped.
type Result struct {
	Predicate Predicate
	Warnings  []string
	dropped   int
}

// Dropped reports whether any condition or group was discarded.
func (r Result) Dropped() bool { return r.dropped > 0 }

// Compile translates a rule tree into a Predicate.
//
// Invalid conditions (unknown field or operator, missing value, value that
// cannot be coerced to the field type) are dropped with a warning. A group
// whose children are all dropped is itself dropped. When nothing survives at
// the root the predicate matches every customer: malformed input widens the
// audience rather than failing, so callers that need the opposite must check
// Result.Dropped.
func Compile(root Node) Result {
	c := compiler{}
	p, ok := c.node(root, "$")
	if !ok {
		p = MatchAllPredicate()
	}
	return Result{Predicate: p, Warnings: c.warnings, dropped: c.dropped}
}

type compiler struct {
	warnings []string
	dropped  int
}

func (c *compiler) warn(path, format string, args ...any) {
	c.warnings = append(c.warnings, path+": "+fmt.Sprintf(format, args...))
}

func (c *compiler) drop(path, format string, args ...any) (Predicate, bool) {
	c.dropped++
	c.warn(path, format, args...)
	return Predicate{}, false
}

func (c *compiler) node(n Node, path string) (Predicate, bool) {
	switch {
	case n.Group != nil:
		return c.group(n.Group, path)
	case n.Condition != nil:
		return c.condition(n.Condition, path)
	}
	return c.drop(path, "empty rule node")
}

func (c *compiler) group(g *Group, path string) (Predicate, bool) {
	k := kindAnd
	switch g.Op {
	case And, "":
	case Or:
		k = kindOr
	default:
		c.warn(path, "unknown group operator %q, using AND", g.Op)
	}

	children := make([]Predicate, 0, len(g.Children))
	for i, child := range g.Children {
		if p, ok := c.node(child, fmt.Sprintf("%s.conditions[%d]", path, i)); ok {
			children = append(children, p)
		}
	}

	switch len(children) {
	case 0:
		return c.drop(path, "group has no valid conditions")
	case 1:
		return children[0], true
	}
	return Predicate{kind: k, children: children}, true
}

func (c *compiler) condition(cd *Condition, path string) (Predicate, bool) {
	name := strings.TrimSpace(cd.Field)
	f, ok := Fields[name]
	if !ok {
		return c.drop(path, "unknown field %q", cd.Field)
	}
	op, ok := parseOperator(strings.TrimSpace(cd.Operator))
	if !ok {
		return c.drop(path, "unknown operator %q", cd.Operator)
	}
	if cd.Value == nil {
		return c.drop(path, "missing value for %q", name)
	}
	v, err := coerce(f.Type, cd.Value)
	if err != nil {
		return c.drop(path, "value for %s field %q: %v", f.Type, name, err)
	}
	return Predicate{kind: kindCompare, field: f, op: op, value: v}, true
}
