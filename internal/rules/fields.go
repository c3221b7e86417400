package rules

type FieldType int

const (
	Numeric FieldType = iota
	Temporal
	Text
)

func (t FieldType) String() string {
	switch t {
	case Numeric:
		return "numeric"
	case Temporal:
		return "temporal"
	default:
		return "text"
	}
}

// Field maps a rule field name onto a customers column.
type Field struct {
	Name   string
	Column string
	Type   FieldType
}

// Fields is the declared schema of fields a rule may reference.
var Fields = map[string]Field{
	"totalSpend":  {Name: "totalSpend", Column: "total_spend", Type: Numeric},
	"totalVisits": {Name: "totalVisits", Column: "total_visits", Type: Numeric},
	"lastActive":  {Name: "lastActive", Column: "last_active", Type: Temporal},
	"createdAt":   {Name: "createdAt", Column: "created_at", Type: Temporal},
	"updatedAt":   {Name: "updatedAt", Column: "updated_at", Type: Temporal},
	"name":        {Name: "name", Column: "name", Type: Text},
	"email":       {Name: "email", Column: "email", Type: Text},
	"phone":       {Name: "phone", Column: "phone", Type: Text},
}

// Operator is a comparison supported by the compiler.
type Operator string

const (
	OpGT  Operator = ">"
	OpLT  Operator = "<"
	OpEQ  Operator = "="
	OpNE  Operator = "!="
	OpGTE Operator = ">="
	OpLTE Operator = "<="
)

func parseOperator(s string) (Operator, bool) {
	switch op := Operator(s); op {
	case OpGT, OpLT, OpEQ, OpNE, OpGTE, OpLTE:
		return op, true
	}
	return "", false
}

// sqlOp is the MySQL spelling of op.
func (op Operator) sqlOp() string {
	if op == OpNE {
		return "<>"
	}
	return string(op)
}

// holds reports whether `cmp op 0` is true, cmp being -1, 0 or 1.
func (op Operator) holds(cmp int) bool {
	switch op {
	case OpGT:
		return cmp > 0
	case OpLT:
		return cmp < 0
	case OpEQ:
		return cmp == 0
	case OpNE:
		return cmp != 0
	case OpGTE:
		return cmp >= 0
	case OpLTE:
		return cmp <= 0
	}
	return false
}
