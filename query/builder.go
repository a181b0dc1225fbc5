// Copyright 2026 The ZTeraDB Go Client Authors.
// Licensed under Apache 2.0, see LICENCE file for details.

package query

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/zteradb/zteradb-go/filter"
)

var (
	// ErrIncompleteQuery is returned when no operation, or more than one,
	// was chosen.
	ErrIncompleteQuery = errors.New("incomplete query")
	// ErrMissingSchema is returned when the schema name is blank.
	ErrMissingSchema = errors.New("missing schema")
	// ErrConflictingFields is returned when a field is used in two
	// incompatible ways, or in a way the operation does not allow.
	ErrConflictingFields = errors.New("conflicting fields")
	// ErrCyclicQueryGraph is returned when a query reaches itself through its
	// related or nested sub-queries.
	ErrCyclicQueryGraph = errors.New("cyclic query graph")
	// ErrInvalidArgument is returned for a bad argument to a builder method.
	ErrInvalidArgument = errors.New("invalid argument")
)

type fieldEntry struct {
	name string
	spec FieldSpec
	// raw holds a value given to SetFields. It is read as a projection flag
	// or as a literal once the operation is known.
	raw        any
	contextual bool
}

type relatedEntry struct {
	name    string
	builder *Builder
}

// Builder assembles a query. Its methods return the receiver so that calls
// can be chained; argument errors are recorded and reported by Finalize.
// A Builder is not safe for concurrent use.
type Builder struct {
	schema   string
	database string
	op       Operation
	fields   []fieldEntry
	related  []relatedEntry
	filters  []filter.Expr
	sort     []SortKey
	limit    *Limit
	err      error
}

// New returns a Builder for a query on the named schema.
func New(schema string) *Builder {
	return &Builder{schema: schema}
}

func (b *Builder) fail(err error) {
	if b.err == nil {
		b.err = err
	}
}

// Database addresses the query to the named database instead of the one the
// connection is bound to.
func (b *Builder) Database(name string) *Builder {
	b.database = name
	return b
}

// SetOperation chooses the operation. Choosing two different operations is
// reported as ErrIncompleteQuery.
func (b *Builder) SetOperation(op Operation) *Builder {
	if _, ok := operationNames[op]; !ok {
		b.fail(fmt.Errorf("%w: unknown operation %d", ErrInvalidArgument, int(op)))
		return b
	}
	if b.op != 0 && b.op != op {
		b.fail(fmt.Errorf("%w: operation set to both %s and %s", ErrIncompleteQuery, b.op, op))
		return b
	}
	b.op = op
	return b
}

func (b *Builder) Insert() *Builder { return b.SetOperation(Insert) }
func (b *Builder) Select() *Builder { return b.SetOperation(Select) }
func (b *Builder) Update() *Builder { return b.SetOperation(Update) }
func (b *Builder) Delete() *Builder { return b.SetOperation(Delete) }
func (b *Builder) Count() *Builder  { return b.SetOperation(Count) }

// SetFields adds every entry of fields, in key order. Plain values are read
// according to the operation: for Select and Count a bool (or the integers 0
// and 1) is a projection flag, for Insert and Update a value is assigned.
// FieldSpec and *Builder values are taken as is.
func (b *Builder) SetFields(fields map[string]any) *Builder {
	for _, name := range sortedKeys(fields) {
		switch v := fields[name].(type) {
		case FieldSpec:
			b.Field(name, v)
		case *Builder:
			b.Field(name, Nested(v))
		default:
			if !b.checkName("field", name) {
				continue
			}
			b.fields = append(b.fields, fieldEntry{name: name, raw: v, contextual: true})
		}
	}
	return b
}

// Field adds a field with an explicit spec.
func (b *Builder) Field(name string, spec FieldSpec) *Builder {
	if !b.checkName("field", name) {
		return b
	}
	switch {
	case spec.kind == 0:
		b.fail(fmt.Errorf("%w: field %q has an empty spec", ErrInvalidArgument, name))
		return b
	case spec.kind == SpecNested && spec.builder == nil:
		b.fail(fmt.Errorf("%w: field %q has a nil sub-query", ErrInvalidArgument, name))
		return b
	}
	b.fields = append(b.fields, fieldEntry{name: name, spec: spec})
	return b
}

// Project includes the named fields in the returned records.
func (b *Builder) Project(names ...string) *Builder {
	for _, name := range names {
		b.Field(name, Projection(true))
	}
	return b
}

// Set assigns value to the named field. value may be a Go scalar, a
// filter.Value, a FieldSpec or a *Builder.
func (b *Builder) Set(name string, value any) *Builder {
	switch v := value.(type) {
	case FieldSpec:
		return b.Field(name, v)
	case *Builder:
		return b.Field(name, Nested(v))
	}
	val, err := filter.ValueOf(value)
	if err != nil {
		b.fail(fmt.Errorf("%w: field %q: %v", ErrInvalidArgument, name, err))
		return b
	}
	return b.Field(name, Literal(val))
}

// SetRelated adds every entry of related, in key order.
func (b *Builder) SetRelated(related map[string]*Builder) *Builder {
	for _, name := range sortedKeys(related) {
		b.Related(name, related[name])
	}
	return b
}

// Related resolves the named related field with the sub-query built by q.
// A name given twice keeps its first position and takes the last query.
func (b *Builder) Related(name string, q *Builder) *Builder {
	if !b.checkName("related field", name) {
		return b
	}
	if q == nil {
		b.fail(fmt.Errorf("%w: related field %q has a nil sub-query", ErrInvalidArgument, name))
		return b
	}
	for i := range b.related {
		if b.related[i].name == name {
			b.related[i].builder = q
			return b
		}
	}
	b.related = append(b.related, relatedEntry{name: name, builder: q})
	return b
}

// Filter adds predicates to the query. All filters must hold for a record to
// match.
func (b *Builder) Filter(exprs ...filter.Expr) *Builder {
	for _, e := range exprs {
		if e == nil {
			b.fail(fmt.Errorf("%w: nil filter", ErrInvalidArgument))
			continue
		}
		if !e.Kind().IsPredicate() {
			b.fail(fmt.Errorf("%w: filter %s is not a predicate", ErrInvalidArgument, e))
			continue
		}
		b.filters = append(b.filters, e)
	}
	return b
}

// Where adds the filter field = value.
func (b *Builder) Where(field string, value any) *Builder {
	e, err := filter.Eq(field, value)
	if err != nil {
		b.fail(err)
		return b
	}
	b.filters = append(b.filters, e)
	return b
}

// SetSort adds every entry of keys, in key order.
func (b *Builder) SetSort(keys map[string]Order) *Builder {
	for _, name := range sortedKeys(keys) {
		b.Sort(name, keys[name])
	}
	return b
}

// Sort orders the records by field. Earlier calls take priority.
func (b *Builder) Sort(field string, order Order) *Builder {
	if !b.checkName("sort field", field) {
		return b
	}
	if order != Asc && order != Desc {
		b.fail(fmt.Errorf("%w: sort field %q has unknown order %d", ErrInvalidArgument, field, int(order)))
		return b
	}
	for i := range b.sort {
		if b.sort[i].Field == field {
			b.sort[i].Order = order
			return b
		}
	}
	b.sort = append(b.sort, SortKey{Field: field, Order: order})
	return b
}

// Limit restricts the result to the records in [start, end).
func (b *Builder) Limit(start, end int) *Builder {
	if start < 0 || end <= start {
		b.fail(fmt.Errorf("%w: limit [%d, %d): end must be greater than start and start not negative", ErrInvalidArgument, start, end))
		return b
	}
	b.limit = &Limit{Start: start, End: end}
	return b
}

func (b *Builder) checkName(what, name string) bool {
	if strings.TrimSpace(name) == "" {
		b.fail(fmt.Errorf("%w: empty %s name", ErrInvalidArgument, what))
		return false
	}
	return true
}

// Finalize validates the builder and every sub-query reachable from it and
// returns an immutable snapshot. Later changes to the builder do not affect
// the snapshot.
func (b *Builder) Finalize() (*Query, error) {
	return b.finalize(map[*Builder]bool{})
}

func (b *Builder) finalize(visiting map[*Builder]bool) (q *Query, err error) {
	if visiting[b] {
		return nil, fmt.Errorf("%w: query on %q reaches itself", ErrCyclicQueryGraph, b.schema)
	}
	visiting[b] = true
	defer delete(visiting, b)

	if b.err != nil {
		return nil, b.err
	}
	if b.op == 0 {
		return nil, fmt.Errorf("%w: no operation set on query on %q", ErrIncompleteQuery, b.schema)
	}
	if strings.TrimSpace(b.schema) == "" {
		return nil, ErrMissingSchema
	}

	fields, err := b.resolveFields()
	if err != nil {
		return nil, err
	}
	for i := range fields {
		spec := &fields[i].Spec
		if spec.kind != SpecNested {
			continue
		}
		sub, err := spec.builder.finalize(visiting)
		if err != nil {
			return nil, fmt.Errorf("cannot finalize field %q: %w", fields[i].Name, err)
		}
		spec.builder = nil
		spec.nested = sub
	}

	var related []Relation
	for _, r := range b.related {
		sub, err := r.builder.finalize(visiting)
		if err != nil {
			return nil, fmt.Errorf("cannot finalize related field %q: %w", r.name, err)
		}
		related = append(related, Relation{Name: r.name, Query: sub})
	}

	q = &Query{
		schema:   b.schema,
		database: b.database,
		op:       b.op,
		fields:   fields,
		related:  related,
		filters:  append([]filter.Expr(nil), b.filters...),
		sort:     append([]SortKey(nil), b.sort...),
	}
	if b.limit != nil {
		l := *b.limit
		q.limit = &l
	}
	return q, nil
}

// resolveFields reads contextual entries for the operation, merges repeated
// names and checks each spec against the operation.
func (b *Builder) resolveFields() ([]Field, error) {
	var fields []Field
	index := make(map[string]int)
	for _, entry := range b.fields {
		spec := entry.spec
		if entry.contextual {
			var err error
			spec, err = b.op.read(entry.raw)
			if err != nil {
				return nil, fmt.Errorf("%w: field %q: %v", ErrInvalidArgument, entry.name, err)
			}
		}
		i, ok := index[entry.name]
		if !ok {
			index[entry.name] = len(fields)
			fields = append(fields, Field{Name: entry.name, Spec: spec})
			continue
		}
		prev := fields[i].Spec.kind
		if (prev == SpecProjection) != (spec.kind == SpecProjection) {
			return nil, fmt.Errorf("%w: field %q is used as a %s and as a %s", ErrConflictingFields, entry.name, prev, spec.kind)
		}
		fields[i].Spec = spec
	}

	for _, f := range fields {
		if !b.op.allows(f.Spec.kind) {
			return nil, fmt.Errorf("%w: field %q cannot be a %s in %s queries", ErrConflictingFields, f.Name, f.Spec.kind, b.op)
		}
	}
	return fields, nil
}

// read interprets a value given to SetFields.
func (op Operation) read(raw any) (FieldSpec, error) {
	if op == Select || op == Count {
		switch v := raw.(type) {
		case bool:
			return Projection(v), nil
		case int:
			if v == 0 || v == 1 {
				return Projection(v == 1), nil
			}
		}
	}
	val, err := filter.ValueOf(raw)
	if err != nil {
		return FieldSpec{}, err
	}
	return Literal(val), nil
}

func (op Operation) allows(k SpecKind) bool {
	switch op {
	case Select, Count:
		return k == SpecProjection
	case Insert, Update:
		return k == SpecLiteral || k == SpecNested
	}
	return false
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
