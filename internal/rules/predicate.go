package rules

import (
	"fmt"
	"strings"
	"time"

	"github.com/jmehdipour/crm-campaigns/internal/model"
)

type kind int

const (
	kindAll kind = iota
	kindCompare
	kindAnd
	kindOr
)

// Predicate is a compiled, immutable selection predicate over customers.
// The zero value matches every record.
type Predicate struct {
	kind     kind
	field    Field
	op       Operator
	value    any // float64 | time.Time | string, per field.Type
	children []Predicate
}

// MatchAllPredicate selects every customer.
func MatchAllPredicate() Predicate { return Predicate{} }

func (p Predicate) MatchAll() bool { return p.kind == kindAll }

// SQL renders p as a parameterised MySQL WHERE fragment over the customers table.
func (p Predicate) SQL() (string, []any) {
	var sb strings.Builder
	var args []any
	p.writeSQL(&sb, &args)
	return sb.String(), args
}

func (p Predicate) writeSQL(sb *strings.Builder, args *[]any) {
	switch p.kind {
	case kindAll:
		sb.WriteString("1=1")
	case kindCompare:
		if p.field.Type == Text {
			// binary comparison keeps SQL and Match in agreement regardless of collation
			sb.WriteString("BINARY ")
		}
		sb.WriteString("`" + p.field.Column + "` " + p.op.sqlOp() + " ?")
		*args = append(*args, p.value)
	case kindAnd, kindOr:
		sep := " AND "
		if p.kind == kindOr {
			sep = " OR "
		}
		sb.WriteString("(")
		for i, c := range p.children {
			if i > 0 {
				sb.WriteString(sep)
			}
			c.writeSQL(sb, args)
		}
		sb.WriteString(")")
	}
}

// Record exposes customer fields to in-memory evaluation.
// Value returns float64, time.Time or string; ok is false for NULL/absent.
type Record interface {
	Value(field string) (any, bool)
}

// Match evaluates p directly against r. A comparison on an absent value is
// false, mirroring SQL NULL semantics for the operators supported here.
func (p Predicate) Match(r Record) bool {
	switch p.kind {
	case kindAll:
		return true
	case kindCompare:
		v, ok := r.Value(p.field.Name)
		if !ok {
			return false
		}
		cmp, ok := compare(v, p.value)
		if !ok {
			return false
		}
		return p.op.holds(cmp)
	case kindAnd:
		for _, c := range p.children {
			if !c.Match(r) {
				return false
			}
		}
		return true
	case kindOr:
		for _, c := range p.children {
			if c.Match(r) {
				return true
			}
		}
		return false
	}
	return false
}

func compare(a, b any) (int, bool) {
	switch x := a.(type) {
	case float64:
		y, ok := b.(float64)
		if !ok {
			return 0, false
		}
		switch {
		case x < y:
			return -1, true
		case x > y:
			return 1, true
		}
		return 0, true
	case time.Time:
		y, ok := b.(time.Time)
		if !ok {
			return 0, false
		}
		return x.Compare(y), true
	case string:
		y, ok := b.(string)
		if !ok {
			return 0, false
		}
		return strings.Compare(x, y), true
	}
	return 0, false
}

func (p Predicate) String() string {
	switch p.kind {
	case kindAll:
		return "TRUE"
	case kindCompare:
		v := p.value
		if t, ok := v.(time.Time); ok {
			v = t.Format(time.RFC3339)
		}
		return fmt.Sprintf("%s %s %v", p.field.Name, p.op, v)
	default:
		parts := make([]string, len(p.children))
		for i, c := range p.children {
			parts[i] = c.String()
		}
		sep := " AND "
		if p.kind == kindOr {
			sep = " OR "
		}
		return "(" + strings.Join(parts, sep) + ")"
	}
}

// CustomerRecord adapts a customer row for Match.
func CustomerRecord(c *model.Customer) Record { return customerRecord{c} }

type customerRecord struct{ c *model.Customer }

func (r customerRecord) Value(field string) (any, bool) {
	switch field {
	case "totalSpend":
		return r.c.TotalSpend, true
	case "totalVisits":
		return float64(r.c.TotalVisits), true
	case "lastActive":
		if r.c.LastActive == nil {
			return nil, false
		}
		return r.c.LastActive.UTC(), true
	case "createdAt":
		return r.c.CreatedAt.UTC(), true
	case "updatedAt":
		return r.c.UpdatedAt.UTC(), true
	case "name":
		return r.c.Name, true
	case "email":
		return nullableText(r.c.Email)
	case "phone":
		return nullableText(r.c.Phone)
	}
	return nil, false
}

// email and phone are stored as NULL when empty.
func nullableText(s string) (any, bool) {
	if s == "" {
		return nil, false
	}
	return s, true
}
