// Copyright 2026 The ZTeraDB Go Client Authors.
// Licensed under Apache 2.0, see LICENCE file for details.

package query

import (
	"fmt"
	"strings"

	"github.com/zteradb/zteradb-go/filter"
)

// Operation is the kind of request a query performs.
type Operation int

const (
	Insert Operation = iota + 1
	Select
	Update
	Delete
	Count
)

var operationNames = map[Operation]string{
	Insert: "insert",
	Select: "select",
	Update: "update",
	Delete: "delete",
	Count:  "count",
}

func (op Operation) String() string {
	if name, ok := operationNames[op]; ok {
		return name
	}
	return fmt.Sprintf("Operation(%d)", int(op))
}

// ParseOperation returns the Operation named s.
func ParseOperation(s string) (Operation, bool) {
	for op, name := range operationNames {
		if name == s {
			return op, true
		}
	}
	return 0, false
}

// Order is a sort direction.
type Order int

const (
	Asc  Order = 1
	Desc Order = -1
)

func (o Order) String() string {
	switch o {
	case Asc:
		return "asc"
	case Desc:
		return "desc"
	}
	return fmt.Sprintf("Order(%d)", int(o))
}

// SpecKind tags a FieldSpec.
type SpecKind int

const (
	// SpecProjection includes or excludes a field from a Select or Count.
	SpecProjection SpecKind = iota + 1
	// SpecLiteral assigns a value in an Insert or Update.
	SpecLiteral
	// SpecNested assigns the result of a sub-query in an Insert or Update.
	SpecNested
)

func (k SpecKind) String() string {
	switch k {
	case SpecProjection:
		return "projection"
	case SpecLiteral:
		return "literal"
	case SpecNested:
		return "nested query"
	}
	return fmt.Sprintf("SpecKind(%d)", int(k))
}

// FieldSpec describes what a query does with one field.
type FieldSpec struct {
	kind      SpecKind
	projected bool
	value     filter.Value
	builder   *Builder
	nested    *Query
}

// Projection returns a FieldSpec that includes (on) or excludes the field
// from the returned records.
func Projection(on bool) FieldSpec {
	return FieldSpec{kind: SpecProjection, projected: on}
}

// Literal returns a FieldSpec that assigns v to the field.
func Literal(v filter.Value) FieldSpec {
	return FieldSpec{kind: SpecLiteral, value: v}
}

// Nested returns a FieldSpec that assigns the result of the sub-query built
// by b to the field. b is finalized together with the enclosing query.
func Nested(b *Builder) FieldSpec {
	return FieldSpec{kind: SpecNested, builder: b}
}

// Kind returns the variant held by the spec.
func (s FieldSpec) Kind() SpecKind { return s.kind }

// Projected returns the projection flag of a SpecProjection.
func (s FieldSpec) Projected() bool { return s.projected }

// Value returns the value of a SpecLiteral.
func (s FieldSpec) Value() filter.Value { return s.value }

// Nested returns the finalized sub-query of a SpecNested taken from a Query.
func (s FieldSpec) Nested() *Query { return s.nested }

// Equal reports whether s and t are structurally equal.
func (s FieldSpec) Equal(t FieldSpec) bool {
	if s.kind != t.kind {
		return false
	}
	switch s.kind {
	case SpecProjection:
		return s.projected == t.projected
	case SpecLiteral:
		return s.value.Equal(t.value)
	case SpecNested:
		return s.nested.Equal(t.nested)
	}
	return true
}

func (s FieldSpec) String() string {
	switch s.kind {
	case SpecProjection:
		if s.projected {
			return "1"
		}
		return "0"
	case SpecLiteral:
		return s.value.String()
	case SpecNested:
		if s.nested != nil {
			return "(" + s.nested.String() + ")"
		}
		return "(builder)"
	}
	return "?"
}

// Field is one entry of the ordered field map.
type Field struct {
	Name string
	Spec FieldSpec
}

// Relation is one entry of the ordered related map.
type Relation struct {
	Name  string
	Query *Query
}

// SortKey is one entry of the ordered sort map.
type SortKey struct {
	Field string
	Order Order
}

// Limit is the half open record window [Start, End).
type Limit struct {
	Start int
	End   int
}

// Query is an immutable, validated query produced by Builder.Finalize. All
// accessors return copies.
type Query struct {
	schema   string
	database string
	op       Operation
	fields   []Field
	related  []Relation
	filters  []filter.Expr
	sort     []SortKey
	limit    *Limit
}

// Schema returns the name of the queried schema.
func (q *Query) Schema() string { return q.schema }

// Database returns the database the query is addressed to, or the empty
// string when it is left to the connection.
func (q *Query) Database() string { return q.database }

// Operation returns the kind of request.
func (q *Query) Operation() Operation { return q.op }

// Fields returns the field map in insertion order.
func (q *Query) Fields() []Field { return append([]Field(nil), q.fields...) }

// Related returns the related sub-queries in insertion order.
func (q *Query) Related() []Relation { return append([]Relation(nil), q.related...) }

// Filters returns the filter expressions. They are combined with AND.
func (q *Query) Filters() []filter.Expr { return append([]filter.Expr(nil), q.filters...) }

// Sort returns the sort keys in priority order.
func (q *Query) Sort() []SortKey { return append([]SortKey(nil), q.sort...) }

// Limit returns the record window, if one was set.
func (q *Query) Limit() (Limit, bool) {
	if q.limit == nil {
		return Limit{}, false
	}
	return *q.limit, true
}

// Equal reports whether q and r are structurally equal.
func (q *Query) Equal(r *Query) bool {
	if q == nil || r == nil {
		return q == r
	}
	if q.schema != r.schema || q.database != r.database || q.op != r.op {
		return false
	}
	if len(q.fields) != len(r.fields) || len(q.related) != len(r.related) ||
		len(q.filters) != len(r.filters) || len(q.sort) != len(r.sort) {
		return false
	}
	for i := range q.fields {
		if q.fields[i].Name != r.fields[i].Name || !q.fields[i].Spec.Equal(r.fields[i].Spec) {
			return false
		}
	}
	for i := range q.related {
		if q.related[i].Name != r.related[i].Name || !q.related[i].Query.Equal(r.related[i].Query) {
			return false
		}
	}
	for i := range q.filters {
		if !filter.Equal(q.filters[i], r.filters[i]) {
			return false
		}
	}
	for i := range q.sort {
		if q.sort[i] != r.sort[i] {
			return false
		}
	}
	if (q.limit == nil) != (r.limit == nil) {
		return false
	}
	return q.limit == nil || *q.limit == *r.limit
}

// String returns a compact rendering of q for logs and test failures.
func (q *Query) String() string {
	var sb strings.Builder
	sb.WriteString(q.op.String())
	sb.WriteString(" ")
	if q.database != "" {
		sb.WriteString(q.database)
		sb.WriteString(".")
	}
	sb.WriteString(q.schema)
	if len(q.fields) > 0 {
		parts := make([]string, len(q.fields))
		for i, f := range q.fields {
			parts[i] = f.Name + "=" + f.Spec.String()
		}
		sb.WriteString(" fields[" + strings.Join(parts, ", ") + "]")
	}
	if len(q.related) > 0 {
		parts := make([]string, len(q.related))
		for i, r := range q.related {
			parts[i] = r.Name + "=(" + r.Query.String() + ")"
		}
		sb.WriteString(" related[" + strings.Join(parts, ", ") + "]")
	}
	if len(q.filters) > 0 {
		parts := make([]string, len(q.filters))
		for i, f := range q.filters {
			parts[i] = f.String()
		}
		sb.WriteString(" where[" + strings.Join(parts, ", ") + "]")
	}
	if len(q.sort) > 0 {
		parts := make([]string, len(q.sort))
		for i, s := range q.sort {
			parts[i] = s.Field + " " + s.Order.String()
		}
		sb.WriteString(" sort[" + strings.Join(parts, ", ") + "]")
	}
	if q.limit != nil {
		fmt.Fprintf(&sb, " limit[%d, %d)", q.limit.Start, q.limit.End)
	}
	return sb.String()
}
