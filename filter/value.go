// Copyright 2026 The ZTeraDB Go Client Authors.
// Licensed under Apache 2.0, see LICENCE file for details.

package filter

import (
	"fmt"
	"math"
	"reflect"
	"strconv"
	"time"
)

// ValueKind is the type tag of a literal Value.
type ValueKind int

const (
	NullValue ValueKind = iota
	IntValue
	FloatValue
	StringValue
	BoolValue
	DateTimeValue
)

var valueKindNames = [...]string{
	NullValue:     "null",
	IntValue:      "int",
	FloatValue:    "float",
	StringValue:   "string",
	BoolValue:     "bool",
	DateTimeValue: "datetime",
}

func (k ValueKind) String() string {
	if k < 0 || int(k) >= len(valueKindNames) {
		return "ValueKind(" + strconv.Itoa(int(k)) + ")"
	}
	return valueKindNames[k]
}

// ParseValueKind returns the ValueKind named by s.
func ParseValueKind(s string) (ValueKind, bool) {
	for k, name := range valueKindNames {
		if name == s {
			return ValueKind(k), true
		}
	}
	return 0, false
}

// Value is a typed scalar. The zero Value is null.
type Value struct {
	kind ValueKind
	i    int64
	f    float64
	s    string
	b    bool
	t    time.Time
}

// Null returns the null Value.
func Null() Value { return Value{} }

// Int returns an integer Value.
func Int(i int64) Value { return Value{kind: IntValue, i: i} }

// Float returns a floating point Value.
func Float(f float64) Value { return Value{kind: FloatValue, f: f} }

// Str returns a string Value.
func Str(s string) Value { return Value{kind: StringValue, s: s} }

// Bool returns a boolean Value.
func Bool(b bool) Value { return Value{kind: BoolValue, b: b} }

// Time returns a datetime Value. The location of t is kept so that it can be
// written out with its offset.
func Time(t time.Time) Value { return Value{kind: DateTimeValue, t: t} }

// ValueOf converts a Go scalar into a Value. It accepts signed and unsigned
// integers, floats, strings, bools, time.Time, nil and Value itself.
func ValueOf(v any) (Value, error) {
	switch v := v.(type) {
	case nil:
		return Null(), nil
	case Value:
		return v, v.validate()
	case time.Time:
		return Time(v), nil
	case *time.Time:
		if v == nil {
			return Null(), nil
		}
		return Time(*v), nil
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return Int(rv.Int()), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		u := rv.Uint()
		if u > math.MaxInt64 {
			return Value{}, fmt.Errorf("integer %d overflows int64", u)
		}
		return Int(int64(u)), nil
	case reflect.Float32, reflect.Float64:
		val := Float(rv.Float())
		return val, val.validate()
	case reflect.String:
		return Str(rv.String()), nil
	case reflect.Bool:
		return Bool(rv.Bool()), nil
	case reflect.Pointer:
		if rv.IsNil() {
			return Null(), nil
		}
		return ValueOf(rv.Elem().Interface())
	}
	return Value{}, fmt.Errorf("unsupported value type %T", v)
}

func (v Value) validate() error {
	if v.kind == FloatValue && (math.IsNaN(v.f) || math.IsInf(v.f, 0)) {
		return fmt.Errorf("float %v cannot be encoded", v.f)
	}
	return nil
}

// Kind returns the type tag of v.
func (v Value) Kind() ValueKind { return v.kind }

// IsNull reports whether v is null.
func (v Value) IsNull() bool { return v.kind == NullValue }

// AsInt returns the integer held by v.
func (v Value) AsInt() int64 { return v.i }

// AsFloat returns the float held by v.
func (v Value) AsFloat() float64 { return v.f }

// AsString returns the string held by v.
func (v Value) AsString() string { return v.s }

// AsBool returns the boolean held by v.
func (v Value) AsBool() bool { return v.b }

// AsTime returns the datetime held by v.
func (v Value) AsTime() time.Time { return v.t }

// Interface returns v as a plain Go value.
func (v Value) Interface() any {
	switch v.kind {
	case IntValue:
		return v.i
	case FloatValue:
		return v.f
	case StringValue:
		return v.s
	case BoolValue:
		return v.b
	case DateTimeValue:
		return v.t
	}
	return nil
}

// Equal reports whether v and w have the same kind and value. Datetimes are
// compared as instants.
func (v Value) Equal(w Value) bool {
	if v.kind != w.kind {
		return false
	}
	switch v.kind {
	case IntValue:
		return v.i == w.i
	case FloatValue:
		return v.f == w.f
	case StringValue:
		return v.s == w.s
	case BoolValue:
		return v.b == w.b
	case DateTimeValue:
		return v.t.Equal(w.t)
	}
	return true
}

func (v Value) String() string {
	switch v.kind {
	case IntValue:
		return strconv.FormatInt(v.i, 10)
	case FloatValue:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	case StringValue:
		return strconv.Quote(v.s)
	case BoolValue:
		return strconv.FormatBool(v.b)
	case DateTimeValue:
		return v.t.Format(time.RFC3339Nano)
	}
	return "NULL"
}

// class groups value kinds that may be compared with each other.
type class int

const (
	classNone class = iota
	classNumeric
	classString
	classBool
	classDateTime
)

func (v Value) class() class {
	switch v.kind {
	case IntValue, FloatValue:
		return classNumeric
	case StringValue:
		return classString
	case BoolValue:
		return classBool
	case DateTimeValue:
		return classDateTime
	}
	return classNone
}
