// Copyright 2026 The ZTeraDB Go Client Authors.
// Licensed under Apache 2.0, see LICENCE file for details.

package filter

import (
	"strconv"
	"strings"
)

// Kind identifies the operator of an expression node.
type Kind int

const (
	KindField Kind = iota
	KindLiteral
	KindEqual
	KindAdd
	KindSub
	KindMul
	KindDiv
	KindMod
	KindIn
	KindContains
	KindIContains
	KindStartsWith
	KindIStartsWith
	KindEndsWith
	KindIEndsWith
	KindGt
	KindGte
	KindLt
	KindLte
	KindAnd
	KindOr
)

var kindNames = [...]string{
	KindField:       "FIELD",
	KindLiteral:     "LIT",
	KindEqual:       "EQUAL",
	KindAdd:         "ADD",
	KindSub:         "SUB",
	KindMul:         "MUL",
	KindDiv:         "DIV",
	KindMod:         "MOD",
	KindIn:          "IN",
	KindContains:    "CONTAINS",
	KindIContains:   "ICONTAINS",
	KindStartsWith:  "STARTSWITH",
	KindIStartsWith: "ISTARTSWITH",
	KindEndsWith:    "ENDSWITH",
	KindIEndsWith:   "IENDSWITH",
	KindGt:          "GT",
	KindGte:         "GTE",
	KindLt:          "LT",
	KindLte:         "LTE",
	KindAnd:         "AND",
	KindOr:          "OR",
}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return "Kind(" + strconv.Itoa(int(k)) + ")"
	}
	return kindNames[k]
}

// ParseKind returns the Kind whose String form is s.
func ParseKind(s string) (Kind, bool) {
	for k, name := range kindNames {
		if name == s {
			return Kind(k), true
		}
	}
	return 0, false
}

// IsPredicate reports whether nodes of kind k evaluate to a truth value.
func (k Kind) IsPredicate() bool {
	switch k {
	case KindEqual, KindIn, KindGt, KindGte, KindLt, KindLte, KindAnd, KindOr:
		return true
	}
	return k.IsMatch()
}

// IsMatch reports whether k is one of the string matching kinds.
func (k Kind) IsMatch() bool {
	return k >= KindContains && k <= KindIEndsWith
}

// IsComparison reports whether k is a chained range comparison.
func (k Kind) IsComparison() bool {
	return k >= KindGt && k <= KindLte
}

// IsArithmetic reports whether k is an arithmetic operator.
func (k Kind) IsArithmetic() bool {
	return k >= KindAdd && k <= KindMod
}

// Expr is a node of a filter expression tree. Expressions are immutable once
// constructed.
type Expr interface {
	// Kind returns the operator of the node.
	Kind() Kind
	// String returns a human readable rendering of the tree rooted at
	// the node.
	String() string

	expr()
}

// Field is a reference to a field of the queried schema.
type Field struct {
	name string
}

func (*Field) Kind() Kind       { return KindField }
func (f *Field) String() string { return f.name }
func (*Field) expr()            {}

// Name returns the referenced field name.
func (f *Field) Name() string { return f.name }

// Literal is a constant operand.
type Literal struct {
	value Value
}

func (*Literal) Kind() Kind       { return KindLiteral }
func (l *Literal) String() string { return l.value.String() }
func (*Literal) expr()            {}

// Value returns the constant held by the literal.
func (l *Literal) Value() Value { return l.value }

// Op is an operator applied to an ordered list of operands. It represents
// equality, arithmetic, chained comparisons and the logical connectives.
type Op struct {
	kind Kind
	args []Expr
}

func (o *Op) Kind() Kind { return o.kind }
func (*Op) expr()        {}

func (o *Op) String() string {
	return o.kind.String() + "(" + joinExprs(o.args) + ")"
}

// Args returns a copy of the operands.
func (o *Op) Args() []Expr {
	return append([]Expr(nil), o.args...)
}

// Membership tests a field for membership in a list of literal values.
type Membership struct {
	field  string
	values []Value
}

func (*Membership) Kind() Kind { return KindIn }
func (*Membership) expr()      {}

func (in *Membership) String() string {
	var sb strings.Builder
	sb.WriteString("IN(")
	sb.WriteString(in.field)
	for _, v := range in.values {
		sb.WriteString(", ")
		sb.WriteString(v.String())
	}
	sb.WriteString(")")
	return sb.String()
}

// Field returns the tested field name.
func (in *Membership) Field() string { return in.field }

// Values returns a copy of the candidate values.
func (in *Membership) Values() []Value {
	return append([]Value(nil), in.values...)
}

// Match is a substring, prefix or suffix test of a field against a string.
type Match struct {
	kind  Kind
	field string
	value string
}

func (m *Match) Kind() Kind { return m.kind }
func (*Match) expr()        {}

func (m *Match) String() string {
	return m.kind.String() + "(" + m.field + ", " + strconv.Quote(m.value) + ")"
}

// Field returns the tested field name.
func (m *Match) Field() string { return m.field }

// Pattern returns the string the field is matched against.
func (m *Match) Pattern() string { return m.value }

// Base returns KindContains, KindStartsWith or KindEndsWith, dropping the
// case folding variant.
func (m *Match) Base() Kind {
	switch m.kind {
	case KindIContains:
		return KindContains
	case KindIStartsWith:
		return KindStartsWith
	case KindIEndsWith:
		return KindEndsWith
	}
	return m.kind
}

// CaseSensitive reports whether the match respects letter case.
func (m *Match) CaseSensitive() bool {
	return m.kind == m.Base()
}

// MatchKind returns the match Kind for the given base kind and case
// sensitivity.
func MatchKind(base Kind, caseSensitive bool) (Kind, bool) {
	switch base {
	case KindContains, KindStartsWith, KindEndsWith:
	default:
		return 0, false
	}
	if caseSensitive {
		return base, true
	}
	return base + 1, true
}

func joinExprs(es []Expr) string {
	parts := make([]string, len(es))
	for i, e := range es {
		parts[i] = e.String()
	}
	return strings.Join(parts, ", ")
}

// Equal reports whether a and b are structurally equal: the same shape, the
// same field names and the same literal values.
func Equal(a, b Expr) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if a.Kind() != b.Kind() {
		return false
	}
	switch a := a.(type) {
	case *Field:
		b, ok := b.(*Field)
		return ok && a.name == b.name
	case *Literal:
		b, ok := b.(*Literal)
		return ok && a.value.Equal(b.value)
	case *Op:
		b, ok := b.(*Op)
		if !ok || len(a.args) != len(b.args) {
			return false
		}
		for i := range a.args {
			if !Equal(a.args[i], b.args[i]) {
				return false
			}
		}
		return true
	case *Membership:
		b, ok := b.(*Membership)
		if !ok || a.field != b.field || len(a.values) != len(b.values) {
			return false
		}
		for i := range a.values {
			if !a.values[i].Equal(b.values[i]) {
				return false
			}
		}
		return true
	case *Match:
		b, ok := b.(*Match)
		return ok && a.field == b.field && a.value == b.value
	}
	return false
}
