// Copyright 2026 The ZTeraDB Go Client Authors.
// Licensed under Apache 2.0, see LICENCE file for details.

package codec

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/zteradb/zteradb-go/filter"
)

// Node is the tagged wire form of a filter expression.
//
//	{"op": "FIELD", "name": "quantity"}
//	{"op": "LIT", "type": "int", "value": 3}
//	{"op": "GT", "args": [...]}
//	{"op": "IN", "field": "status", "args": [...]}
//	{"op": "CONTAINS", "field": "name", "value": "ph", "case_sensitive": false}
type Node struct {
	Op            string          `json:"op"`
	Name          string          `json:"name,omitempty"`
	Type          string          `json:"type,omitempty"`
	Value         json.RawMessage `json:"value,omitempty"`
	Field         string          `json:"field,omitempty"`
	CaseSensitive *bool           `json:"case_sensitive,omitempty"`
	Args          []*Node         `json:"args,omitempty"`
}

const (
	opField = "FIELD"
	opLit   = "LIT"
	opIn    = "IN"
)

// EncodeExpr returns the wire form of e.
func EncodeExpr(e filter.Expr) (*Node, error) {
	switch e := e.(type) {
	case *filter.Field:
		return &Node{Op: opField, Name: e.Name()}, nil
	case *filter.Literal:
		s, err := encodeScalar(e.Value())
		if err != nil {
			return nil, err
		}
		return &Node{Op: opLit, Type: s.Type, Value: s.Value}, nil
	case *filter.Op:
		n := &Node{Op: e.Kind().String()}
		for _, arg := range e.Args() {
			a, err := EncodeExpr(arg)
			if err != nil {
				return nil, err
			}
			n.Args = append(n.Args, a)
		}
		return n, nil
	case *filter.Membership:
		n := &Node{Op: opIn, Field: e.Field()}
		for _, v := range e.Values() {
			s, err := encodeScalar(v)
			if err != nil {
				return nil, err
			}
			n.Args = append(n.Args, &Node{Op: opLit, Type: s.Type, Value: s.Value})
		}
		return n, nil
	case *filter.Match:
		value, err := json.Marshal(e.Pattern())
		if err != nil {
			return nil, err
		}
		caseSensitive := e.CaseSensitive()
		return &Node{
			Op:            e.Base().String(),
			Field:         e.Field(),
			Value:         value,
			CaseSensitive: &caseSensitive,
		}, nil
	}
	return nil, fmt.Errorf("unsupported expression %T", e)
}

// DecodeExpr rebuilds the expression described by n. The expression
// constructors validate every node.
func DecodeExpr(n *Node) (filter.Expr, error) {
	return decodeExpr(n, 0)
}

func decodeExpr(n *Node, depth int) (filter.Expr, error) {
	if n == nil {
		return nil, fmt.Errorf("%w: missing expression", ErrInvalidEnvelope)
	}
	if depth > maxDepth {
		return nil, fmt.Errorf("%w: expression nested deeper than %d", ErrInvalidEnvelope, maxDepth)
	}
	switch n.Op {
	case opField:
		return filter.FieldRef(n.Name)
	case opLit:
		v, err := decodeScalar(&Scalar{Type: n.Type, Value: n.Value})
		if err != nil {
			return nil, err
		}
		return filter.Lit(v)
	case opIn:
		values := make([]any, len(n.Args))
		for i, a := range n.Args {
			if a == nil || a.Op != opLit {
				return nil, fmt.Errorf("%w: IN value %d is not a literal", ErrInvalidEnvelope, i)
			}
			v, err := decodeScalar(&Scalar{Type: a.Type, Value: a.Value})
			if err != nil {
				return nil, err
			}
			values[i] = v
		}
		return filter.In(n.Field, values...)
	}

	k, ok := filter.ParseKind(n.Op)
	if !ok || k == filter.KindField || k == filter.KindLiteral || k == filter.KindIn {
		return nil, fmt.Errorf("%w: unknown operator %q", ErrInvalidEnvelope, n.Op)
	}
	if k.IsMatch() {
		return decodeMatch(k, n)
	}
	args := make([]any, len(n.Args))
	for i, a := range n.Args {
		e, err := decodeExpr(a, depth+1)
		if err != nil {
			return nil, err
		}
		args[i] = e
	}
	return filter.New(k, args...)
}

func decodeMatch(k filter.Kind, n *Node) (filter.Expr, error) {
	if n.CaseSensitive == nil {
		return nil, fmt.Errorf("%w: %s without case_sensitive flag", ErrInvalidEnvelope, n.Op)
	}
	k, ok := filter.MatchKind(k, *n.CaseSensitive)
	if !ok {
		// Only the case sensitive spellings are written on the wire.
		return nil, fmt.Errorf("%w: unknown operator %q", ErrInvalidEnvelope, n.Op)
	}
	var value string
	if err := json.Unmarshal(n.Value, &value); err != nil {
		return nil, fmt.Errorf("%w: %s value: %v", ErrInvalidEnvelope, n.Op, err)
	}
	return filter.New(k, n.Field, value)
}

func encodeScalar(v filter.Value) (*Scalar, error) {
	s := &Scalar{Type: v.Kind().String()}
	switch v.Kind() {
	case filter.NullValue:
		s.Value = json.RawMessage("null")
	case filter.IntValue:
		s.Value = strconv.AppendInt(nil, v.AsInt(), 10)
	case filter.FloatValue:
		f := v.AsFloat()
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, fmt.Errorf("float %v cannot be encoded", f)
		}
		s.Value = strconv.AppendFloat(nil, f, 'g', -1, 64)
	case filter.BoolValue:
		s.Value = strconv.AppendBool(nil, v.AsBool())
	case filter.StringValue:
		data, err := json.Marshal(v.AsString())
		if err != nil {
			return nil, err
		}
		s.Value = data
	case filter.DateTimeValue:
		data, err := json.Marshal(v.AsTime().Format(time.RFC3339Nano))
		if err != nil {
			return nil, err
		}
		s.Value = data
	default:
		return nil, fmt.Errorf("unsupported value kind %s", v.Kind())
	}
	return s, nil
}

func decodeScalar(s *Scalar) (v filter.Value, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
		}
	}()
	if s == nil {
		return filter.Value{}, errors.New("missing literal")
	}
	kind, ok := filter.ParseValueKind(s.Type)
	if !ok {
		return filter.Value{}, fmt.Errorf("unknown literal type %q", s.Type)
	}
	switch kind {
	case filter.NullValue:
		return filter.Null(), nil
	case filter.IntValue, filter.FloatValue:
		var n json.Number
		if err := json.Unmarshal(s.Value, &n); err != nil {
			return filter.Value{}, err
		}
		if kind == filter.IntValue {
			i, err := n.Int64()
			if err != nil {
				return filter.Value{}, fmt.Errorf("int literal %s: %v", n, err)
			}
			return filter.Int(i), nil
		}
		f, err := n.Float64()
		if err != nil {
			return filter.Value{}, fmt.Errorf("float literal %s: %v", n, err)
		}
		return filter.Float(f), nil
	case filter.BoolValue:
		var b bool
		if err := json.Unmarshal(s.Value, &b); err != nil {
			return filter.Value{}, err
		}
		return filter.Bool(b), nil
	case filter.StringValue:
		var str string
		if err := json.Unmarshal(s.Value, &str); err != nil {
			return filter.Value{}, err
		}
		return filter.Str(str), nil
	case filter.DateTimeValue:
		var str string
		if err := json.Unmarshal(s.Value, &str); err != nil {
			return filter.Value{}, err
		}
		t, err := time.Parse(time.RFC3339Nano, str)
		if err != nil {
			return filter.Value{}, err
		}
		return filter.Time(t), nil
	}
	return filter.Value{}, fmt.Errorf("unsupported literal type %q", s.Type)
}
