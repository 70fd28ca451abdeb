package assembly

import (
	"context"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"
)

// Kind is the dynamic type of a Value.
type Kind uint8

const (
	KindNone Kind = iota
	KindBool
	KindInt
	KindFloat
	KindString
	KindFunc
	KindObject
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindString:
		return "str"
	case KindFunc:
		return "function"
	case KindObject:
		return "object"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// Value is a value handled by scripts: on the stack, in a variable or in a
// CONST operand.
type Value struct {
	Kind  Kind
	Bool  bool
	Int   int64
	Float float64
	Str   string // string value, or function name for KindFunc
	Ref   any    // Callable for KindFunc, host object for KindObject
}

// CallResult is what a function call gives back to the script.
type CallResult struct {
	Value Value

	// Wait, when positive, suspends the execution for this long once the
	// result has been pushed.
	Wait time.Duration

	// Yield suspends the execution even with a zero Wait.
	Yield bool
}

// Callable is a function scripts can call.
type Callable interface {
	Call(ctx context.Context, args []Value) (CallResult, error)
}

// Attributer is implemented by host objects exposing attributes to scripts
// (character.name). Methods are attributes holding function values.
type Attributer interface {
	Attr(name string) (Value, bool)
}

// AttrSetter is implemented by host objects whose attributes scripts can
// assign.
type AttrSetter interface {
	SetAttr(name string, v Value) error
}

// Referencer is implemented by host objects that can be saved by reference
// in an execution snapshot.
type Referencer interface {
	Reference() string
}

// None is the absence of a value.
func None() Value { return Value{} }

// Bool wraps a boolean.
func Bool(b bool) Value { return Value{Kind: KindBool, Bool: b} }

// Int wraps an integer.
func Int(i int64) Value { return Value{Kind: KindInt, Int: i} }

// Float wraps a float.
func Float(f float64) Value { return Value{Kind: KindFloat, Float: f} }

// Str wraps a string.
func Str(s string) Value { return Value{Kind: KindString, Str: s} }

// Func wraps a callable under a name.
func Func(name string, fn Callable) Value {
	return Value{Kind: KindFunc, Str: name, Ref: fn}
}

// Object wraps a host object. Objects are compared by identity, so hosts
// should pass pointers. Maps and slices compare by their backing storage.
func Object(obj any) Value { return Value{Kind: KindObject, Ref: obj} }

// Truthy reports whether the value counts as true in a condition. None,
// false, zero numbers and the empty string are false.
func (v Value) Truthy() bool {
	switch v.Kind {
	case KindNone:
		return false
	case KindBool:
		return v.Bool
	case KindInt:
		return v.Int != 0
	case KindFloat:
		return v.Float != 0
	case KindString:
		return v.Str != ""
	default:
		return true
	}
}

// IsNumber reports whether v is an int or a float.
func (v Value) IsNumber() bool { return v.Kind == KindInt || v.Kind == KindFloat }

// AsFloat converts a number to float64.
func (v Value) AsFloat() float64 {
	if v.Kind == KindInt {
		return float64(v.Int)
	}
	return v.Float
}

// String formats the value the way print shows it.
func (v Value) String() string {
	switch v.Kind {
	case KindNone:
		return "none"
	case KindBool:
		return strconv.FormatBool(v.Bool)
	case KindInt:
		return strconv.FormatInt(v.Int, 10)
	case KindFloat:
		return formatFloat(v.Float)
	case KindString:
		return v.Str
	case KindFunc:
		return "<function " + v.Str + ">"
	default:
		if s, ok := v.Ref.(fmt.Stringer); ok {
			return s.String()
		}
		return fmt.Sprintf("<object %T>", v.Ref)
	}
}

// Repr formats the value as a literal, strings quoted.
func (v Value) Repr() string {
	if v.Kind == KindString {
		return strconv.Quote(v.Str)
	}
	return v.String()
}

func formatFloat(f float64) string {
	s := strconv.FormatFloat(f, 'g', -1, 64)
	if !strings.ContainsAny(s, ".eEnN") {
		s += ".0"
	}
	return s
}

// Equal compares two values. Ints and floats compare by numeric value;
// values of other different kinds are never equal.
func (v Value) Equal(o Value) bool {
	if v.IsNumber() && o.IsNumber() {
		if v.Kind == KindInt && o.Kind == KindInt {
			return v.Int == o.Int
		}
		return v.AsFloat() == o.AsFloat()
	}
	if v.Kind != o.Kind {
		return false
	}
	switch v.Kind {
	case KindNone:
		return true
	case KindBool:
		return v.Bool == o.Bool
	case KindString:
		return v.Str == o.Str
	case KindFunc:
		return v.Str == o.Str
	default:
		return sameRef(v.Ref, o.Ref)
	}
}

// sameRef compares host objects by identity. Maps and slices compare by
// their backing storage; other values Go cannot compare are never equal.
func sameRef(a, b any) bool {
	if reflect.TypeOf(a) != reflect.TypeOf(b) {
		return false
	}
	va, vb := reflect.ValueOf(a), reflect.ValueOf(b)
	if !va.IsValid() || (va.Comparable() && vb.Comparable()) {
		return a == b
	}
	switch va.Kind() {
	case reflect.Map:
		return va.Pointer() == vb.Pointer()
	case reflect.Slice:
		return va.Pointer() == vb.Pointer() && va.Len() == vb.Len()
	}
	return false
}

// Compare orders two numbers or two strings. It returns -1, 0 or 1.
func (v Value) Compare(o Value) (int, error) {
	switch {
	case v.Kind == KindInt && o.Kind == KindInt:
		return sign(v.Int < o.Int, v.Int > o.Int), nil
	case v.IsNumber() && o.IsNumber():
		a, b := v.AsFloat(), o.AsFloat()
		return sign(a < b, a > b), nil
	case v.Kind == KindString && o.Kind == KindString:
		return strings.Compare(v.Str, o.Str), nil
	}
	return 0, fmt.Errorf("%w: cannot compare %s and %s", ErrBadOperand, v.Kind, o.Kind)
}

func sign(less, greater bool) int {
	switch {
	case less:
		return -1
	case greater:
		return 1
	}
	return 0
}

// EncodedValue is the storable form of a Value. Functions and objects are
// kept by name or reference and must be resolved again on decoding.
type EncodedValue struct {
	Kind  Kind    `cbor:"k" json:"kind"`
	Bool  bool    `cbor:"b,omitempty" json:"bool,omitempty"`
	Int   int64   `cbor:"i,omitempty" json:"int,omitempty"`
	Float float64 `cbor:"f,omitempty" json:"float,omitempty"`
	Str   string  `cbor:"s,omitempty" json:"str,omitempty"`
}

// Resolver rebuilds a function or object value from its stored name or
// reference.
type Resolver func(kind Kind, ref string) (Value, error)

// Encode returns the storable form of v.
func (v Value) Encode() (EncodedValue, error) {
	e := EncodedValue{Kind: v.Kind, Bool: v.Bool, Int: v.Int, Float: v.Float, Str: v.Str}
	if v.Kind == KindObject {
		r, ok := v.Ref.(Referencer)
		if !ok {
			return EncodedValue{}, fmt.Errorf("%w: %T has no reference", ErrNotEncodable, v.Ref)
		}
		e.Str = r.Reference()
	}
	return e, nil
}

// Decode rebuilds a value. resolve is needed for functions and objects.
func (e EncodedValue) Decode(resolve Resolver) (Value, error) {
	switch e.Kind {
	case KindFunc, KindObject:
		if resolve == nil {
			return Value{}, fmt.Errorf("%w: no resolver for %s %q", ErrNotEncodable, e.Kind, e.Str)
		}
		return resolve(e.Kind, e.Str)
	}
	return Value{Kind: e.Kind, Bool: e.Bool, Int: e.Int, Float: e.Float, Str: e.Str}, nil
}
