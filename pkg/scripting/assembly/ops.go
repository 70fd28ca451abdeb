package assembly

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
)

func init() {
	Register("CONST", func(e EncodedInstruction, resolve Resolver) (Instruction, error) {
		if e.Value == nil {
			return Const{}, nil
		}
		v, err := e.Value.Decode(resolve)
		if err != nil {
			return nil, err
		}
		return Const{Value: v}, nil
	})
	Register("VALUE", func(e EncodedInstruction, _ Resolver) (Instruction, error) {
		return Load{Var: e.Name}, nil
	})
	Register("STORE", func(e EncodedInstruction, _ Resolver) (Instruction, error) {
		return Store{Var: e.Name}, nil
	})
	Register("GOTO", func(e EncodedInstruction, _ Resolver) (Instruction, error) {
		return Goto{Target: e.Target}, nil
	})
	Register("IFFALSE", func(e EncodedInstruction, _ Resolver) (Instruction, error) {
		return IfFalse{Target: e.Target, Pop: !e.Keep}, nil
	})
	Register("IFTRUE", func(e EncodedInstruction, _ Resolver) (Instruction, error) {
		return IfTrue{Target: e.Target, Pop: !e.Keep}, nil
	})
	Register("CALL", func(e EncodedInstruction, _ Resolver) (Instruction, error) {
		return Call{Argc: e.Argc}, nil
	})
	for _, instr := range []Instruction{Pop{}, Neg{}, Not{}, Stop{}} {
		Register(instr.Name(), func(EncodedInstruction, Resolver) (Instruction, error) {
			return instr, nil
		})
	}
	for _, op := range binaryOps {
		Register(op.name, func(EncodedInstruction, Resolver) (Instruction, error) {
			return op, nil
		})
	}
}

// Const pushes a constant. It is the PUSH of the instruction set.
type Const struct {
	Value Value
}

func (Const) Name() string { return "CONST" }

func (i Const) Process(_ context.Context, x *Execution) Outcome {
	x.Stack.Push(i.Value)
	return Continue()
}

func (i Const) Operands() []string { return []string{i.Value.Repr()} }

func (i Const) encode() (EncodedInstruction, error) {
	v, err := i.Value.Encode()
	if err != nil {
		return EncodedInstruction{}, err
	}
	return EncodedInstruction{Op: "CONST", Value: &v}, nil
}

// Load pushes the value of a variable, a global or an attribute. It is the
// VALUE opcode.
type Load struct {
	Var string
}

func (Load) Name() string { return "VALUE" }

func (i Load) Process(_ context.Context, x *Execution) Outcome {
	v, err := x.Lookup(i.Var)
	if err != nil {
		return Fail(err)
	}
	x.Stack.Push(v)
	return Continue()
}

func (i Load) Operands() []string { return []string{i.Var} }

func (i Load) encode() (EncodedInstruction, error) {
	return EncodedInstruction{Op: "VALUE", Name: i.Var}, nil
}

// Store pops a value into a variable or an attribute.
type Store struct {
	Var string
}

func (Store) Name() string { return "STORE" }

func (i Store) Process(_ context.Context, x *Execution) Outcome {
	v, err := x.Stack.Pop()
	if err != nil {
		return Fail(err)
	}
	if err := x.Assign(i.Var, v); err != nil {
		return Fail(err)
	}
	return Continue()
}

func (i Store) Operands() []string { return []string{i.Var} }

func (i Store) encode() (EncodedInstruction, error) {
	return EncodedInstruction{Op: "STORE", Name: i.Var}, nil
}

// Pop discards the most recent value.
type Pop struct{}

func (Pop) Name() string { return "POP" }

func (Pop) Process(_ context.Context, x *Execution) Outcome {
	if _, err := x.Stack.Pop(); err != nil {
		return Fail(err)
	}
	return Continue()
}

// Neg negates a number.
type Neg struct{}

func (Neg) Name() string { return "NEG" }

func (Neg) Process(_ context.Context, x *Execution) Outcome {
	v, err := x.Stack.Pop()
	if err != nil {
		return Fail(err)
	}
	switch v.Kind {
	case KindInt:
		if v.Int == math.MinInt64 {
			return Fail(fmt.Errorf("%w: -%d overflows", ErrBadOperand, v.Int))
		}
		x.Stack.Push(Int(-v.Int))
	case KindFloat:
		x.Stack.Push(Float(-v.Float))
	default:
		return Fail(fmt.Errorf("%w: -%s", ErrBadOperand, v.Kind))
	}
	return Continue()
}

// Not replaces the most recent value by its boolean negation.
type Not struct{}

func (Not) Name() string { return "NOT" }

func (Not) Process(_ context.Context, x *Execution) Outcome {
	v, err := x.Stack.Pop()
	if err != nil {
		return Fail(err)
	}
	x.Stack.Push(Bool(!v.Truthy()))
	return Continue()
}

// Stop halts the execution. It is the HALT opcode.
type Stop struct{}

func (Stop) Name() string { return "HALT" }

func (Stop) Process(context.Context, *Execution) Outcome { return Halt() }

// Goto jumps unconditionally.
type Goto struct {
	Target int
}

func (Goto) Name() string { return "GOTO" }

func (i Goto) Process(context.Context, *Execution) Outcome { return JumpTo(i.Target) }

func (i Goto) Operands() []string { return []string{strconv.Itoa(i.Target)} }

func (i Goto) encode() (EncodedInstruction, error) {
	return EncodedInstruction{Op: "GOTO", Target: i.Target}, nil
}

// IfFalse pops the most recent value and jumps to Target when it is
// falsy. With Pop unset, a falsy value is pushed back before jumping so
// the code at Target can use it. A truthy value stays consumed.
type IfFalse struct {
	Target int
	Pop    bool
}

func (IfFalse) Name() string { return "IFFALSE" }

func (i IfFalse) Process(_ context.Context, x *Execution) Outcome {
	return branch(x, false, i.Target, i.Pop)
}

func (i IfFalse) Operands() []string { return branchOperands(i.Target, i.Pop) }

func (i IfFalse) encode() (EncodedInstruction, error) {
	return EncodedInstruction{Op: "IFFALSE", Target: i.Target, Keep: !i.Pop}, nil
}

// IfTrue mirrors IfFalse: it jumps when the value is truthy.
type IfTrue struct {
	Target int
	Pop    bool
}

func (IfTrue) Name() string { return "IFTRUE" }

func (i IfTrue) Process(_ context.Context, x *Execution) Outcome {
	return branch(x, true, i.Target, i.Pop)
}

func (i IfTrue) Operands() []string { return branchOperands(i.Target, i.Pop) }

func (i IfTrue) encode() (EncodedInstruction, error) {
	return EncodedInstruction{Op: "IFTRUE", Target: i.Target, Keep: !i.Pop}, nil
}

func branch(x *Execution, when bool, target int, pop bool) Outcome {
	v, err := x.Stack.Pop()
	if err != nil {
		return Fail(err)
	}
	if v.Truthy() != when {
		return Continue()
	}
	if !pop {
		x.Stack.Push(v)
	}
	return JumpTo(target)
}

func branchOperands(target int, pop bool) []string {
	if pop {
		return []string{strconv.Itoa(target)}
	}
	return []string{strconv.Itoa(target), "keep"}
}

// Call pops Argc arguments, then the function, calls it and pushes the
// result.
type Call struct {
	Argc int
}

func (Call) Name() string { return "CALL" }

func (i Call) Process(ctx context.Context, x *Execution) Outcome {
	args, err := x.Stack.PopN(i.Argc)
	if err != nil {
		return Fail(err)
	}
	fn, err := x.Stack.Pop()
	if err != nil {
		return Fail(err)
	}
	callable, ok := fn.Ref.(Callable)
	if fn.Kind != KindFunc || !ok {
		return Fail(fmt.Errorf("%w: %s", ErrNotCallable, fn.Repr()))
	}
	res, err := callable.Call(context.WithValue(ctx, executionKey{}, x), args)
	if err != nil {
		return Fail(fmt.Errorf("%s: %w", fn.Str, err))
	}
	x.Stack.Push(res.Value)
	if res.Wait > 0 || res.Yield {
		return Suspend(res.Wait)
	}
	return Continue()
}

func (i Call) Operands() []string { return []string{strconv.Itoa(i.Argc)} }

func (i Call) encode() (EncodedInstruction, error) {
	return EncodedInstruction{Op: "CALL", Argc: i.Argc}, nil
}

// Binary pops two values, right operand first, and pushes the result of
// an arithmetic or comparison operator.
type Binary struct {
	name string
	fn   func(a, b Value) (Value, error)
}

func (i Binary) Name() string { return i.name }

func (i Binary) Process(_ context.Context, x *Execution) Outcome {
	b, err := x.Stack.Pop()
	if err != nil {
		return Fail(err)
	}
	a, err := x.Stack.Pop()
	if err != nil {
		return Fail(err)
	}
	v, err := i.fn(a, b)
	if err != nil {
		return Fail(err)
	}
	x.Stack.Push(v)
	return Continue()
}

var (
	Add = Binary{"ADD", add}
	Sub = Binary{"SUB", arith("-", subInts, func(a, b float64) float64 { return a - b })}
	Mul = Binary{"MUL", mul}
	Div = Binary{"DIV", div}
	Eq  = Binary{"EQ", func(a, b Value) (Value, error) { return Bool(a.Equal(b)), nil }}
	Ne  = Binary{"NE", func(a, b Value) (Value, error) { return Bool(!a.Equal(b)), nil }}
	Lt  = Binary{"LT", compare(func(c int) bool { return c < 0 })}
	Le  = Binary{"LE", compare(func(c int) bool { return c <= 0 })}
	Gt  = Binary{"GT", compare(func(c int) bool { return c > 0 })}
	Ge  = Binary{"GE", compare(func(c int) bool { return c >= 0 })}
)

var binaryOps = []Binary{Add, Sub, Mul, Div, Eq, Ne, Lt, Le, Gt, Ge}

// MaxStringLen caps the strings that ADD and MUL may build.
const MaxStringLen = 1 << 20

// arith applies ints to two ints and floats to any other pair of numbers.
// ints reports false when the result does not fit in an int64.
func arith(sym string, ints func(a, b int64) (int64, bool), floats func(a, b float64) float64) func(a, b Value) (Value, error) {
	return func(a, b Value) (Value, error) {
		switch {
		case a.Kind == KindInt && b.Kind == KindInt:
			n, ok := ints(a.Int, b.Int)
			if !ok {
				return Value{}, fmt.Errorf("%w: %d %s %d overflows", ErrBadOperand, a.Int, sym, b.Int)
			}
			return Int(n), nil
		case a.IsNumber() && b.IsNumber():
			return Float(floats(a.AsFloat(), b.AsFloat())), nil
		}
		return Value{}, fmt.Errorf("%w: %s %s %s", ErrBadOperand, a.Kind, sym, b.Kind)
	}
}

func addInts(a, b int64) (int64, bool) {
	c := a + b
	return c, (a^c)&(b^c) >= 0
}

func subInts(a, b int64) (int64, bool) {
	c := a - b
	return c, (a^b)&(a^c) >= 0
}

func mulInts(a, b int64) (int64, bool) {
	if a == 0 || b == 0 {
		return 0, true
	}
	c := a * b
	if (a == -1 && b == math.MinInt64) || (b == -1 && a == math.MinInt64) {
		return c, false
	}
	return c, c/b == a
}

var addNumbers = arith("+", addInts, func(a, b float64) float64 { return a + b })

func add(a, b Value) (Value, error) {
	if a.Kind == KindString && b.Kind == KindString {
		if len(a.Str)+len(b.Str) > MaxStringLen {
			return Value{}, fmt.Errorf("%w: string longer than %d bytes", ErrBadOperand, MaxStringLen)
		}
		return Str(a.Str + b.Str), nil
	}
	return addNumbers(a, b)
}

var mulNumbers = arith("*", mulInts, func(a, b float64) float64 { return a * b })

func mul(a, b Value) (Value, error) {
	switch {
	case a.Kind == KindString && b.Kind == KindInt:
		return repeat(a.Str, b.Int)
	case a.Kind == KindInt && b.Kind == KindString:
		return repeat(b.Str, a.Int)
	}
	return mulNumbers(a, b)
}

func repeat(s string, n int64) (Value, error) {
	if n <= 0 || s == "" {
		return Str(""), nil
	}
	if n > int64(MaxStringLen/len(s)) {
		return Value{}, fmt.Errorf("%w: string longer than %d bytes", ErrBadOperand, MaxStringLen)
	}
	return Str(strings.Repeat(s, int(n))), nil
}

// div always produces a float.
func div(a, b Value) (Value, error) {
	if !a.IsNumber() || !b.IsNumber() {
		return Value{}, fmt.Errorf("%w: %s / %s", ErrBadOperand, a.Kind, b.Kind)
	}
	if b.AsFloat() == 0 {
		return Value{}, ErrDivisionByZero
	}
	return Float(a.AsFloat() / b.AsFloat()), nil
}

func compare(test func(int) bool) func(a, b Value) (Value, error) {
	return func(a, b Value) (Value, error) {
		c, err := a.Compare(b)
		if err != nil {
			return Value{}, err
		}
		return Bool(test(c)), nil
	}
}
