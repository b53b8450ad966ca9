package engine

import "bytes"

// --------------------------------------------------------------------------
// Predicate Types
// --------------------------------------------------------------------------

// FieldKey is the pseudo field name that matches against the row key itself.
const FieldKey = "_key"

// Op is a comparison operator for a single condition.
type Op uint8

const (
	OpEq     Op = iota // field == value
	OpNe               // field != value
	OpLt               // field < value (bytewise)
	OpLe               // field <= value (bytewise)
	OpGt               // field > value (bytewise)
	OpGe               // field >= value (bytewise)
	OpPrefix           // field has value as prefix
)

func (o Op) String() string {
	switch o {
	case OpEq:
		return "=="
	case OpNe:
		return "!="
	case OpLt:
		return "<"
	case OpLe:
		return "<="
	case OpGt:
		return ">"
	case OpGe:
		return ">="
	case OpPrefix:
		return "prefix"
	default:
		return "?"
	}
}

// Condition compares one field against a constant value.
type Condition struct {
	Field string
	Op    Op
	Value []byte
}

// Predicate is a conjunction of conditions. The empty predicate matches
// every row. Predicates are immutable after construction, which makes them
// safe to hand to background query executions and to resubmit unchanged.
type Predicate []Condition

// Where is a convenience constructor for a single-condition predicate.
func Where(field string, op Op, value []byte) Predicate {
	return Predicate{{Field: field, Op: op, Value: value}}
}

// And returns a new predicate with an additional condition appended.
func (p Predicate) And(field string, op Op, value []byte) Predicate {
	out := make(Predicate, len(p), len(p)+1)
	copy(out, p)
	return append(out, Condition{Field: field, Op: op, Value: value})
}

// Match reports whether the row satisfies every condition. A condition on a
// missing field matches only under OpNe.
func (p Predicate) Match(r Row) bool {
	for _, c := range p {
		var val []byte
		var ok bool
		if c.Field == FieldKey {
			val, ok = []byte(r.Key), true
		} else {
			val, ok = r.Fields[c.Field]
		}
		if !ok {
			if c.Op != OpNe {
				return false
			}
			continue
		}
		cmp := bytes.Compare(val, c.Value)
		switch c.Op {
		case OpEq:
			if cmp != 0 {
				return false
			}
		case OpNe:
			if cmp == 0 {
				return false
			}
		case OpLt:
			if cmp >= 0 {
				return false
			}
		case OpLe:
			if cmp > 0 {
				return false
			}
		case OpGt:
			if cmp <= 0 {
				return false
			}
		case OpGe:
			if cmp < 0 {
				return false
			}
		case OpPrefix:
			if !bytes.HasPrefix(val, c.Value) {
				return false
			}
		default:
			return false
		}
	}
	return true
}
