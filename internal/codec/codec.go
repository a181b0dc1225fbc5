// Copyright 2026 The ZTeraDB Go Client Authors.
// Licensed under Apache 2.0, see LICENCE file for details.

// Package codec converts finalized queries to and from the self describing
// envelope carried in request frames. It does no I/O.
package codec

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/zteradb/zteradb-go/query"
)

// Version is the envelope format written by Encode.
const Version = 1

// maxDepth bounds the nesting of decoded envelopes and filter trees.
const maxDepth = 128

// ErrInvalidEnvelope is returned by Decode and Unmarshal for input that is
// not a well formed envelope.
var ErrInvalidEnvelope = errors.New("invalid envelope")

// Envelope is the wire form of a query.
type Envelope struct {
	Version    int     `json:"version"`
	DatabaseID string  `json:"database_id,omitempty"`
	Schema     string  `json:"schema"`
	Operation  string  `json:"operation"`
	Payload    Payload `json:"payload"`
}

// Payload carries the body of a query. Ordered maps are arrays so that order
// survives the round trip.
type Payload struct {
	Fields  []FieldEntry   `json:"fields,omitempty"`
	Related []RelatedEntry `json:"related,omitempty"`
	Filters []*Node        `json:"filters,omitempty"`
	Sort    []SortEntry    `json:"sort,omitempty"`
	Limit   *LimitEntry    `json:"limit,omitempty"`
}

// FieldEntry is one field of the query. Exactly one of Projected, Value and
// Query is set, according to Kind.
type FieldEntry struct {
	Name      string    `json:"name"`
	Kind      string    `json:"kind"`
	Projected *bool     `json:"projected,omitempty"`
	Value     *Scalar   `json:"value,omitempty"`
	Query     *Envelope `json:"query,omitempty"`
}

// RelatedEntry is one related sub-query.
type RelatedEntry struct {
	Name  string    `json:"name"`
	Query *Envelope `json:"query"`
}

// SortEntry is one sort key. Order is 1 for ascending and -1 for descending.
type SortEntry struct {
	Field string `json:"field"`
	Order int    `json:"order"`
}

// LimitEntry is the record window [Start, End).
type LimitEntry struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Scalar is a type tagged literal.
type Scalar struct {
	Type  string          `json:"type"`
	Value json.RawMessage `json:"value"`
}

const (
	kindProjection = "projection"
	kindLiteral    = "literal"
	kindNested     = "nested"
)

// Marshal encodes q and returns the JSON form of its envelope.
func Marshal(q *query.Query) ([]byte, error) {
	e, err := Encode(q)
	if err != nil {
		return nil, err
	}
	return json.Marshal(e)
}

// Unmarshal decodes a JSON envelope into a finalized query.
func Unmarshal(data []byte) (*query.Query, error) {
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}
	return Decode(&e)
}

// Encode returns the envelope of q.
func Encode(q *query.Query) (e *Envelope, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("cannot encode query: %w", err)
		}
	}()
	if q == nil {
		return nil, errors.New("nil query")
	}
	return encode(q)
}

func encode(q *query.Query) (*Envelope, error) {
	e := &Envelope{
		Version:    Version,
		DatabaseID: q.Database(),
		Schema:     q.Schema(),
		Operation:  q.Operation().String(),
	}
	p := &e.Payload
	for _, f := range q.Fields() {
		entry := FieldEntry{Name: f.Name}
		switch f.Spec.Kind() {
		case query.SpecProjection:
			projected := f.Spec.Projected()
			entry.Kind = kindProjection
			entry.Projected = &projected
		case query.SpecLiteral:
			s, err := encodeScalar(f.Spec.Value())
			if err != nil {
				return nil, fmt.Errorf("field %q: %w", f.Name, err)
			}
			entry.Kind = kindLiteral
			entry.Value = s
		case query.SpecNested:
			sub, err := encode(f.Spec.Nested())
			if err != nil {
				return nil, fmt.Errorf("field %q: %w", f.Name, err)
			}
			entry.Kind = kindNested
			entry.Query = sub
		default:
			return nil, fmt.Errorf("field %q: unknown spec %s", f.Name, f.Spec.Kind())
		}
		p.Fields = append(p.Fields, entry)
	}
	for _, r := range q.Related() {
		sub, err := encode(r.Query)
		if err != nil {
			return nil, fmt.Errorf("related field %q: %w", r.Name, err)
		}
		p.Related = append(p.Related, RelatedEntry{Name: r.Name, Query: sub})
	}
	for _, f := range q.Filters() {
		n, err := EncodeExpr(f)
		if err != nil {
			return nil, err
		}
		p.Filters = append(p.Filters, n)
	}
	for _, s := range q.Sort() {
		p.Sort = append(p.Sort, SortEntry{Field: s.Field, Order: int(s.Order)})
	}
	if l, ok := q.Limit(); ok {
		p.Limit = &LimitEntry{Start: l.Start, End: l.End}
	}
	return e, nil
}

// Decode rebuilds the query described by e. The result is finalized, so it
// satisfies every rule the builder enforces.
func Decode(e *Envelope) (q *query.Query, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("cannot decode query: %w", err)
		}
	}()
	if e == nil {
		return nil, fmt.Errorf("%w: nil envelope", ErrInvalidEnvelope)
	}
	if e.Version != Version {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrInvalidEnvelope, e.Version)
	}
	b, err := decode(e, 0)
	if err != nil {
		return nil, err
	}
	return b.Finalize()
}

func decode(e *Envelope, depth int) (*query.Builder, error) {
	if e == nil {
		return nil, fmt.Errorf("%w: missing sub-query", ErrInvalidEnvelope)
	}
	if depth > maxDepth {
		return nil, fmt.Errorf("%w: nested deeper than %d", ErrInvalidEnvelope, maxDepth)
	}
	op, ok := query.ParseOperation(e.Operation)
	if !ok {
		return nil, fmt.Errorf("%w: unknown operation %q", ErrInvalidEnvelope, e.Operation)
	}
	b := query.New(e.Schema).Database(e.DatabaseID).SetOperation(op)

	p := &e.Payload
	for _, f := range p.Fields {
		switch f.Kind {
		case kindProjection:
			if f.Projected == nil {
				return nil, fmt.Errorf("%w: field %q: missing projection flag", ErrInvalidEnvelope, f.Name)
			}
			b.Field(f.Name, query.Projection(*f.Projected))
		case kindLiteral:
			v, err := decodeScalar(f.Value)
			if err != nil {
				return nil, fmt.Errorf("field %q: %w", f.Name, err)
			}
			b.Field(f.Name, query.Literal(v))
		case kindNested:
			sub, err := decode(f.Query, depth+1)
			if err != nil {
				return nil, fmt.Errorf("field %q: %w", f.Name, err)
			}
			b.Field(f.Name, query.Nested(sub))
		default:
			return nil, fmt.Errorf("%w: field %q: unknown kind %q", ErrInvalidEnvelope, f.Name, f.Kind)
		}
	}
	for _, r := range p.Related {
		sub, err := decode(r.Query, depth+1)
		if err != nil {
			return nil, fmt.Errorf("related field %q: %w", r.Name, err)
		}
		b.Related(r.Name, sub)
	}
	for _, n := range p.Filters {
		f, err := decodeExpr(n, depth+1)
		if err != nil {
			return nil, err
		}
		b.Filter(f)
	}
	for _, s := range p.Sort {
		b.Sort(s.Field, query.Order(s.Order))
	}
	if p.Limit != nil {
		b.Limit(p.Limit.Start, p.Limit.End)
	}
	return b, nil
}
