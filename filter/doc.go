// Copyright 2026 The ZTeraDB Go Client Authors.
// Licensed under Apache 2.0, see LICENCE file for details.

/*
Package filter builds the expression trees used in ZTeraDB query filters.

Every constructor validates arity and operand types when it is called and
returns a *MalformedExpressionError on failure, so that a bad expression never
reaches the wire:

	inStock, err := filter.Gt("quantity", 3)
	cheap, err := filter.Lte(filter.Must(filter.Mul("price", 1.2)), 100)
	both, err := filter.And(inStock, cheap)

A bare string operand names a field, except on the value side of Eq, In and
the matching functions where it is a string literal. Use Lit to force a
literal and FieldRef to force a field reference.

Gt, Gte, Lt and Lte accept two or more operands and denote a chained range
comparison: Gt(100, "quantity", 10) reads 100 > quantity > 10.
*/
package filter
