// Copyright 2026 The ZTeraDB Go Client Authors.
// Licensed under Apache 2.0, see LICENCE file for details.

package filter

import (
	"errors"
	"fmt"
)

// ErrMalformedExpression matches every *MalformedExpressionError.
var ErrMalformedExpression = errors.New("malformed expression")

// MalformedExpressionError is returned by the expression constructors when
// the arity or the operand types of a node are invalid.
type MalformedExpressionError struct {
	// Kind is the node being constructed.
	Kind Kind
	// Operand is the offending operand, or nil when the node as a whole is
	// wrong (for instance too few operands).
	Operand any
	Reason  string
}

func (e *MalformedExpressionError) Error() string {
	if e.Operand == nil {
		return fmt.Sprintf("cannot build %s: %s", e.Kind, e.Reason)
	}
	return fmt.Sprintf("cannot build %s: operand %s: %s", e.Kind, describe(e.Operand), e.Reason)
}

// Is reports whether target is ErrMalformedExpression.
func (e *MalformedExpressionError) Is(target error) bool {
	return target == ErrMalformedExpression
}

func malformed(k Kind, operand any, format string, args ...any) error {
	return &MalformedExpressionError{Kind: k, Operand: operand, Reason: fmt.Sprintf(format, args...)}
}

func describe(v any) string {
	switch v := v.(type) {
	case Expr:
		return v.String()
	case Value:
		return v.String()
	case string:
		return fmt.Sprintf("%q", v)
	}
	return fmt.Sprintf("%v (%T)", v, v)
}
