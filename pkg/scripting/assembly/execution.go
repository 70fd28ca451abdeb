package assembly

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrStackUnderflow = errors.New("pop from an empty stack")
	ErrStepLimit      = errors.New("step limit exceeded")
	ErrDivisionByZero = errors.New("division by zero")
	ErrNotCallable    = errors.New("value is not callable")
	ErrUnknownName    = errors.New("unknown name")
	ErrBadOperand     = errors.New("unsupported operand")
	ErrBadJump        = errors.New("jump target out of range")
	ErrUnknownOpcode  = errors.New("unknown opcode")
	ErrNotEncodable   = errors.New("value cannot be stored")
	ErrPanic          = errors.New("instruction panicked")
)

// State is the lifecycle state of an execution.
type State uint8

const (
	StateRunning State = iota
	StateHalted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateHalted:
		return "halted"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", uint8(s))
	}
}

// RuntimeError is the error of a failed execution.
type RuntimeError struct {
	Cursor int
	Op     string
	Err    error
}

func (e *RuntimeError) Error() string {
	return fmt.Sprintf("script: instruction %d (%s): %v", e.Cursor, e.Op, e.Err)
}

func (e *RuntimeError) Unwrap() error { return e.Err }

// Globals resolves names that are not script variables, such as the
// functions of a namespace.
type Globals interface {
	Global(name string) (Value, bool)
}

// GlobalMap is a fixed set of globals.
type GlobalMap map[string]Value

func (m GlobalMap) Global(name string) (Value, bool) {
	v, ok := m[name]
	return v, ok
}

// Option configures a new execution.
type Option func(*Execution)

// WithMaxSteps fails the execution with ErrStepLimit after n instructions.
// Zero means no limit.
func WithMaxSteps(n int) Option { return func(x *Execution) { x.maxSteps = n } }

// WithVars sets the initial variables. The map is copied.
func WithVars(vars map[string]Value) Option {
	return func(x *Execution) {
		for k, v := range vars {
			x.Vars[k] = v
		}
	}
}

// WithStack sets the initial stack content, the last value on top.
func WithStack(values ...Value) Option {
	return func(x *Execution) { x.Stack = NewStack(values...) }
}

// WithEntry starts the execution at cursor instead of 0.
func WithEntry(cursor int) Option { return func(x *Execution) { x.Cursor = cursor } }

// WithGlobals sets the resolver for names that are not variables.
func WithGlobals(g Globals) Option { return func(x *Execution) { x.globals = g } }

// WithSteps restores the step counter of a resumed execution.
func WithSteps(n int) Option { return func(x *Execution) { x.Steps = n } }

// Execution is one run of a program. It owns its stack, cursor and
// variables; several executions of the same program never share them.
type Execution struct {
	Program *Program
	Cursor  int
	Stack   *Stack
	Vars    map[string]Value
	State   State
	Steps   int

	maxSteps int
	globals  Globals
	err      error
}

// NewExecution prepares a run of p, in StateRunning at cursor 0.
func NewExecution(p *Program, opts ...Option) *Execution {
	x := &Execution{
		Program: p,
		Stack:   NewStack(),
		Vars:    make(map[string]Value),
	}
	for _, opt := range opts {
		opt(x)
	}
	return x
}

// Err returns the error of a failed execution.
func (x *Execution) Err() error { return x.err }

// Done reports whether the execution reached a terminal state.
func (x *Execution) Done() bool { return x.State != StateRunning }

// Step processes the instruction under the cursor and applies its outcome.
// On a finished execution it does nothing and returns the final outcome.
func (x *Execution) Step(ctx context.Context) (Outcome, error) {
	switch x.State {
	case StateHalted:
		return Halt(), nil
	case StateFailed:
		return Fail(x.err), x.err
	}
	if x.Cursor == x.Program.Len() {
		x.State = StateHalted
		return Halt(), nil
	}
	if x.Cursor < 0 || x.Cursor > x.Program.Len() {
		return x.fail("", ErrBadJump)
	}
	instr := x.Program.At(x.Cursor)
	if x.maxSteps > 0 && x.Steps >= x.maxSteps {
		return x.fail(instr.Name(), ErrStepLimit)
	}
	x.Steps++

	out := x.process(ctx, instr)
	switch out.Kind {
	case OutcomeContinue, OutcomeSuspend:
		x.Cursor++
	case OutcomeJump:
		if out.Target < 0 || out.Target > x.Program.Len() {
			return x.fail(instr.Name(), fmt.Errorf("%w: %d", ErrBadJump, out.Target))
		}
		x.Cursor = out.Target
	case OutcomeHalt:
		x.State = StateHalted
	case OutcomeFail:
		return x.fail(instr.Name(), out.Err)
	}
	return out, nil
}

// process runs one instruction. A panic in it, or in a host function it
// calls, fails the execution.
func (x *Execution) process(ctx context.Context, instr Instruction) (out Outcome) {
	defer func() {
		if r := recover(); r != nil {
			out = Fail(fmt.Errorf("%w: %v", ErrPanic, r))
		}
	}()
	return instr.Process(ctx, x)
}

func (x *Execution) fail(op string, err error) (Outcome, error) {
	x.State = StateFailed
	x.err = &RuntimeError{Cursor: x.Cursor, Op: op, Err: err}
	return Fail(x.err), x.err
}

// Run steps until the execution halts, fails or suspends. On suspension
// the state stays StateRunning and the requested delay is returned; the
// host calls Run again to resume. A cancelled context stops the loop
// between two instructions and leaves the execution resumable.
func (x *Execution) Run(ctx context.Context) (time.Duration, error) {
	for x.State == StateRunning {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		out, err := x.Step(ctx)
		if err != nil {
			return 0, err
		}
		if out.Kind == OutcomeSuspend {
			return out.Wait, nil
		}
	}
	return 0, x.err
}

type executionKey struct{}

// ExecutionFrom returns the execution that is calling a function, for
// functions that need its variables.
func ExecutionFrom(ctx context.Context) (*Execution, bool) {
	x, ok := ctx.Value(executionKey{}).(*Execution)
	return x, ok
}

// Lookup resolves a possibly dotted name: the first part is a variable or
// a global, the rest are attributes.
func (x *Execution) Lookup(name string) (Value, error) {
	parts := strings.Split(name, ".")
	v, ok := x.Vars[parts[0]]
	if !ok && x.globals != nil {
		v, ok = x.globals.Global(parts[0])
	}
	if !ok {
		return Value{}, fmt.Errorf("%w: %s", ErrUnknownName, parts[0])
	}
	for i, attr := range parts[1:] {
		a, isAttr := v.Ref.(Attributer)
		if v.Kind != KindObject || !isAttr {
			return Value{}, fmt.Errorf("%w: %s has no attributes", ErrUnknownName, strings.Join(parts[:i+1], "."))
		}
		if v, ok = a.Attr(attr); !ok {
			return Value{}, fmt.Errorf("%w: %s", ErrUnknownName, strings.Join(parts[:i+2], "."))
		}
	}
	return v, nil
}

// Assign stores a variable, or an attribute for a dotted name.
func (x *Execution) Assign(name string, v Value) error {
	i := strings.LastIndexByte(name, '.')
	if i < 0 {
		x.Vars[name] = v
		return nil
	}
	owner, err := x.Lookup(name[:i])
	if err != nil {
		return err
	}
	setter, ok := owner.Ref.(AttrSetter)
	if owner.Kind != KindObject || !ok {
		return fmt.Errorf("%w: cannot assign %s", ErrUnknownName, name)
	}
	return setter.SetAttr(name[i+1:], v)
}
