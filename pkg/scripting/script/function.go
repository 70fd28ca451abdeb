package script

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/crystal-mush/mudscript/pkg/events"
	"github.com/crystal-mush/mudscript/pkg/scripting/assembly"
	"github.com/crystal-mush/mudscript/pkg/scripting/typecheck"
)

// ErrArgument is returned when a function is called with arguments that
// do not fit its signature. The type checker reports the same mistakes
// at compile time; this is the check for scripts compiled without it.
var ErrArgument = errors.New("bad argument")

// Result is what a function gives back to the script.
type Result struct {
	Value assembly.Value

	// Wait suspends the script for this long after the call.
	Wait time.Duration

	// Yield suspends the script even with a zero Wait, so that other
	// executions get a turn.
	Yield bool
}

// Impl is the Go side of a function.
type Impl func(ctx context.Context, args []assembly.Value) (Result, error)

// Function is a function scripts can call, with the signature the type
// checker uses.
type Function struct {
	Name      string
	Signature typecheck.Signature
	Help      string
	Impl      Impl
}

// Call implements assembly.Callable.
func (f *Function) Call(ctx context.Context, args []assembly.Value) (assembly.CallResult, error) {
	if err := f.checkArgs(args); err != nil {
		return assembly.CallResult{}, err
	}
	res, err := f.Impl(ctx, args)
	if err != nil {
		return assembly.CallResult{}, err
	}
	return assembly.CallResult{Value: res.Value, Wait: res.Wait, Yield: res.Yield}, nil
}

// Value wraps the function so that it can be stored in a variable.
func (f *Function) Value() assembly.Value { return assembly.Func(f.Name, f) }

func (f *Function) checkArgs(args []assembly.Value) error {
	params := f.Signature.Params
	if len(args) > len(params) {
		return fmt.Errorf("%w: %s takes at most %d argument(s), got %d", ErrArgument, f.Name, len(params), len(args))
	}
	for i, p := range params {
		if i >= len(args) {
			if !p.Optional {
				return fmt.Errorf("%w: %s, argument %d (%s) is mandatory", ErrArgument, f.Name, i, p.Name)
			}
			continue
		}
		if got := TypeOf(args[i]); !p.Type.Accepts(got) {
			return fmt.Errorf("%w: %s, argument %d (%s): expected %s, but got %s", ErrArgument, f.Name, i, p.Name, p.Type, got)
		}
	}
	return nil
}

// TypeOf returns the checker type of a runtime value.
func TypeOf(v assembly.Value) typecheck.Type {
	switch v.Kind {
	case assembly.KindBool:
		return typecheck.TBool
	case assembly.KindInt:
		return typecheck.TInt
	case assembly.KindFloat:
		return typecheck.TFloat
	case assembly.KindString:
		return typecheck.TString
	case assembly.KindFunc:
		return typecheck.TFunc
	case assembly.KindObject:
		return typecheck.TObject
	}
	return typecheck.TNone
}

// Origin tells functions who is running the script.
type Origin struct {
	Caller    events.ObjectRef // whoever triggered the script
	Script    string
	Execution string
}

type originKey struct{}

// WithOrigin attaches the origin of an execution to ctx.
func WithOrigin(ctx context.Context, o Origin) context.Context {
	return context.WithValue(ctx, originKey{}, o)
}

// OriginFrom returns the origin attached to ctx, if any.
func OriginFrom(ctx context.Context) Origin {
	o, _ := ctx.Value(originKey{}).(Origin)
	return o
}
