// Copyright 2026 The ZTeraDB Go Client Authors.
// Licensed under Apache 2.0, see LICENCE file for details.

package filter

import (
	"strings"
)

// side selects how a bare string operand is read.
type side int

const (
	// nameSide reads a string as a field reference.
	nameSide side = iota
	// valueSide reads a string as a string literal.
	valueSide
)

// Must panics if err is not nil and returns e otherwise. It is meant for
// expressions built from constants.
func Must(e Expr, err error) Expr {
	if err != nil {
		panic(err)
	}
	return e
}

// FieldRef returns a reference to the named field.
func FieldRef(name string) (Expr, error) {
	if strings.TrimSpace(name) == "" {
		return nil, malformed(KindField, name, "empty field name")
	}
	return &Field{name: name}, nil
}

// Lit returns a literal operand. v may be a Go integer, float, string, bool,
// time.Time, nil or a Value.
func Lit(v any) (Expr, error) {
	val, err := ValueOf(v)
	if err != nil {
		return nil, malformed(KindLiteral, v, "%v", err)
	}
	return &Literal{value: val}, nil
}

// Eq returns the equality test of exactly two operands. A string on the left
// names a field, a string on the right is a string literal.
func Eq(operands ...any) (Expr, error) {
	if len(operands) != 2 {
		return nil, malformed(KindEqual, nil, "expected 2 operands, got %d", len(operands))
	}
	l, err := valueOperand(KindEqual, operands[0], nameSide)
	if err != nil {
		return nil, err
	}
	r, err := valueOperand(KindEqual, operands[1], valueSide)
	if err != nil {
		return nil, err
	}
	return &Op{kind: KindEqual, args: []Expr{l, r}}, nil
}

// Add returns the sum of two or more numeric operands.
func Add(operands ...any) (Expr, error) { return arithmetic(KindAdd, operands) }

// Sub returns the left to right difference of two or more numeric operands.
func Sub(operands ...any) (Expr, error) { return arithmetic(KindSub, operands) }

// Mul returns the product of two or more numeric operands.
func Mul(operands ...any) (Expr, error) { return arithmetic(KindMul, operands) }

// Div returns l divided by r. A literal zero divisor is rejected.
func Div(l, r any) (Expr, error) { return arithmetic(KindDiv, []any{l, r}) }

// Mod returns the remainder of l divided by r. A literal zero divisor is
// rejected.
func Mod(l, r any) (Expr, error) { return arithmetic(KindMod, []any{l, r}) }

func arithmetic(k Kind, operands []any) (Expr, error) {
	if len(operands) < 2 {
		return nil, malformed(k, nil, "expected at least 2 operands, got %d", len(operands))
	}
	args := make([]Expr, len(operands))
	for i, o := range operands {
		e, err := valueOperand(k, o, nameSide)
		if err != nil {
			return nil, err
		}
		if lit, ok := e.(*Literal); ok && lit.value.class() != classNumeric {
			return nil, malformed(k, o, "%s literal is not numeric", lit.value.Kind())
		}
		args[i] = e
	}
	if k == KindDiv || k == KindMod {
		if lit, ok := args[1].(*Literal); ok && isZero(lit.value) {
			return nil, malformed(k, operands[1], "division by zero")
		}
	}
	return &Op{kind: k, args: args}, nil
}

func isZero(v Value) bool {
	switch v.Kind() {
	case IntValue:
		return v.AsInt() == 0
	case FloatValue:
		return v.AsFloat() == 0
	}
	return false
}

// Gt returns the chained comparison a > b > c ... of two or more operands.
func Gt(operands ...any) (Expr, error) { return comparison(KindGt, operands) }

// Gte returns the chained comparison a >= b >= c ... of two or more operands.
func Gte(operands ...any) (Expr, error) { return comparison(KindGte, operands) }

// Lt returns the chained comparison a < b < c ... of two or more operands.
func Lt(operands ...any) (Expr, error) { return comparison(KindLt, operands) }

// Lte returns the chained comparison a <= b <= c ... of two or more operands.
func Lte(operands ...any) (Expr, error) { return comparison(KindLte, operands) }

func comparison(k Kind, operands []any) (Expr, error) {
	if len(operands) < 2 {
		return nil, malformed(k, nil, "expected at least 2 operands, got %d", len(operands))
	}
	args := make([]Expr, len(operands))
	seen := classNone
	for i, o := range operands {
		e, err := valueOperand(k, o, nameSide)
		if err != nil {
			return nil, err
		}
		c := exprClass(e)
		if lit, ok := e.(*Literal); ok && lit.value.IsNull() {
			return nil, malformed(k, o, "null cannot be ordered")
		}
		// A chain is only well defined when every typed operand agrees.
		if len(operands) > 2 && c != classNone {
			if seen != classNone && seen != c {
				return nil, malformed(k, o, "mixed operand types in chained comparison")
			}
			seen = c
		}
		args[i] = e
	}
	return &Op{kind: k, args: args}, nil
}

// exprClass returns the class of the values e produces, or classNone when it
// is only known to the server.
func exprClass(e Expr) class {
	switch e := e.(type) {
	case *Literal:
		return e.value.class()
	case *Op:
		if e.kind.IsArithmetic() {
			return classNumeric
		}
	}
	return classNone
}

// In returns a membership test of field against one or more literal values.
// Strings in values are string literals.
func In(field string, values ...any) (Expr, error) {
	if strings.TrimSpace(field) == "" {
		return nil, malformed(KindIn, field, "empty field name")
	}
	if len(values) == 0 {
		return nil, malformed(KindIn, nil, "expected at least 1 value")
	}
	vals := make([]Value, len(values))
	for i, v := range values {
		e, err := operand(KindIn, v, valueSide)
		if err != nil {
			return nil, err
		}
		lit, ok := e.(*Literal)
		if !ok {
			return nil, malformed(KindIn, v, "value is not a literal")
		}
		vals[i] = lit.value
	}
	return &Membership{field: field, values: vals}, nil
}

// Contains tests whether field contains value.
func Contains(field, value string) (Expr, error) { return match(KindContains, field, value) }

// IContains tests whether field contains value, ignoring case.
func IContains(field, value string) (Expr, error) { return match(KindIContains, field, value) }

// StartsWith tests whether field starts with value.
func StartsWith(field, value string) (Expr, error) { return match(KindStartsWith, field, value) }

// IStartsWith tests whether field starts with value, ignoring case.
func IStartsWith(field, value string) (Expr, error) { return match(KindIStartsWith, field, value) }

// EndsWith tests whether field ends with value.
func EndsWith(field, value string) (Expr, error) { return match(KindEndsWith, field, value) }

// IEndsWith tests whether field ends with value, ignoring case.
func IEndsWith(field, value string) (Expr, error) { return match(KindIEndsWith, field, value) }

func match(k Kind, field, value string) (Expr, error) {
	if strings.TrimSpace(field) == "" {
		return nil, malformed(k, field, "empty field name")
	}
	if strings.TrimSpace(value) == "" {
		return nil, malformed(k, value, "empty match value")
	}
	return &Match{kind: k, field: field, value: value}, nil
}

// And returns the conjunction of two or more predicates.
func And(operands ...Expr) (Expr, error) { return logical(KindAnd, operands) }

// Or returns the disjunction of two or more predicates.
func Or(operands ...Expr) (Expr, error) { return logical(KindOr, operands) }

func logical(k Kind, operands []Expr) (Expr, error) {
	if len(operands) < 2 {
		return nil, malformed(k, nil, "expected at least 2 operands, got %d", len(operands))
	}
	args := make([]Expr, len(operands))
	for i, e := range operands {
		if isNil(e) {
			return nil, malformed(k, nil, "nil operand at position %d", i)
		}
		if !e.Kind().IsPredicate() {
			return nil, malformed(k, e, "operand is not a predicate")
		}
		args[i] = e
	}
	return &Op{kind: k, args: args}, nil
}

// New builds a node of kind k from operands, applying the same rules as the
// kind specific constructor. For KindIn and the match kinds the first operand
// is the field name.
func New(k Kind, operands ...any) (Expr, error) {
	switch {
	case k == KindField:
		if len(operands) != 1 {
			return nil, malformed(k, nil, "expected 1 operand, got %d", len(operands))
		}
		name, ok := operands[0].(string)
		if !ok {
			return nil, malformed(k, operands[0], "field name is not a string")
		}
		return FieldRef(name)
	case k == KindLiteral:
		if len(operands) != 1 {
			return nil, malformed(k, nil, "expected 1 operand, got %d", len(operands))
		}
		return Lit(operands[0])
	case k == KindEqual:
		return Eq(operands...)
	case k.IsArithmetic():
		if (k == KindDiv || k == KindMod) && len(operands) != 2 {
			return nil, malformed(k, nil, "expected 2 operands, got %d", len(operands))
		}
		return arithmetic(k, operands)
	case k.IsComparison():
		return comparison(k, operands)
	case k == KindIn:
		if len(operands) == 0 {
			return nil, malformed(k, nil, "missing field")
		}
		field, ok := operands[0].(string)
		if !ok {
			return nil, malformed(k, operands[0], "field name is not a string")
		}
		return In(field, operands[1:]...)
	case k.IsMatch():
		if len(operands) != 2 {
			return nil, malformed(k, nil, "expected field and value, got %d operands", len(operands))
		}
		field, ok := operands[0].(string)
		if !ok {
			return nil, malformed(k, operands[0], "field name is not a string")
		}
		value, ok := operands[1].(string)
		if !ok {
			return nil, malformed(k, operands[1], "match value is not a string")
		}
		return match(k, field, value)
	case k == KindAnd || k == KindOr:
		exprs := make([]Expr, len(operands))
		for i, o := range operands {
			e, ok := o.(Expr)
			if !ok {
				return nil, malformed(k, o, "operand is not an expression")
			}
			exprs[i] = e
		}
		return logical(k, exprs)
	}
	return nil, malformed(k, nil, "unknown operator")
}

// operand converts a constructor argument into an expression.
func operand(k Kind, v any, s side) (Expr, error) {
	switch v := v.(type) {
	case nil:
		return &Literal{value: Null()}, nil
	case Expr:
		if isNil(v) {
			return nil, malformed(k, nil, "nil expression operand")
		}
		return v, nil
	case string:
		if s == nameSide {
			if strings.TrimSpace(v) == "" {
				return nil, malformed(k, v, "empty field name")
			}
			return &Field{name: v}, nil
		}
		return &Literal{value: Str(v)}, nil
	}
	val, err := ValueOf(v)
	if err != nil {
		return nil, malformed(k, v, "%v", err)
	}
	return &Literal{value: val}, nil
}

// valueOperand is operand restricted to value typed expressions.
func valueOperand(k Kind, v any, s side) (Expr, error) {
	e, err := operand(k, v, s)
	if err != nil {
		return nil, err
	}
	if e.Kind().IsPredicate() {
		return nil, malformed(k, v, "predicate used as a value")
	}
	return e, nil
}

func isNil(e Expr) bool {
	switch e := e.(type) {
	case *Field:
		return e == nil
	case *Literal:
		return e == nil
	case *Op:
		return e == nil
	case *Membership:
		return e == nil
	case *Match:
		return e == nil
	}
	return e == nil
}
