package script

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/crystal-mush/mudscript/pkg/events"
	"github.com/crystal-mush/mudscript/pkg/scripting/assembly"
	"github.com/crystal-mush/mudscript/pkg/scripting/typecheck"
)

func param(name string, t typecheck.Type) typecheck.Param {
	return typecheck.Param{Name: name, Type: t}
}

func registerBuiltins(ns *Namespace) {
	ns.Register(&Function{
		Name:      "print",
		Signature: typecheck.Signature{Params: []typecheck.Param{param("value", typecheck.TAny)}, Returns: typecheck.TNone},
		Help:      "Show a value to whoever runs the script. Variables in braces are replaced.",
		Impl: func(ctx context.Context, args []assembly.Value) (Result, error) {
			text, err := formatArg(ctx, args[0])
			if err != nil {
				return Result{}, err
			}
			o := OriginFrom(ctx)
			ns.emit(events.Event{
				Type:      events.EvPrint,
				Player:    o.Caller,
				Source:    o.Caller,
				Script:    o.Script,
				Execution: o.Execution,
				Text:      text,
			})
			return Result{}, nil
		},
	})

	ns.Register(&Function{
		Name:      "wait",
		Signature: typecheck.Signature{Params: []typecheck.Param{param("seconds", typecheck.TNumber)}, Returns: typecheck.TNone},
		Help:      "Pause the script. wait(0) lets other scripts run first.",
		Impl: func(_ context.Context, args []assembly.Value) (Result, error) {
			secs := args[0].AsFloat()
			if secs < 0 || math.IsNaN(secs) || math.IsInf(secs, 0) {
				return Result{}, fmt.Errorf("%w: cannot wait %s seconds", ErrArgument, args[0])
			}
			return Result{Wait: time.Duration(secs * float64(time.Second)), Yield: true}, nil
		},
	})

	ns.Register(&Function{
		Name:      "len",
		Signature: typecheck.Signature{Params: []typecheck.Param{param("text", typecheck.TString)}, Returns: typecheck.TInt},
		Help:      "Number of characters in a string.",
		Impl: func(_ context.Context, args []assembly.Value) (Result, error) {
			return Result{Value: assembly.Int(int64(utf8.RuneCountInString(args[0].Str)))}, nil
		},
	})

	ns.Register(&Function{
		Name:      "str",
		Signature: typecheck.Signature{Params: []typecheck.Param{param("value", typecheck.TAny)}, Returns: typecheck.TString},
		Help:      "Convert a value to a string.",
		Impl: func(_ context.Context, args []assembly.Value) (Result, error) {
			return Result{Value: assembly.Str(args[0].String())}, nil
		},
	})

	ns.Register(&Function{
		Name:      "int",
		Signature: typecheck.Signature{Params: []typecheck.Param{param("value", typecheck.TAny)}, Returns: typecheck.TInt},
		Help:      "Convert a number or a string to an integer, dropping decimals.",
		Impl: func(_ context.Context, args []assembly.Value) (Result, error) {
			v := args[0]
			switch v.Kind {
			case assembly.KindInt:
				return Result{Value: v}, nil
			case assembly.KindFloat:
				return Result{Value: assembly.Int(int64(v.Float))}, nil
			case assembly.KindBool:
				if v.Bool {
					return Result{Value: assembly.Int(1)}, nil
				}
				return Result{Value: assembly.Int(0)}, nil
			case assembly.KindString:
				s := strings.TrimSpace(v.Str)
				if i, err := strconv.ParseInt(s, 10, 64); err == nil {
					return Result{Value: assembly.Int(i)}, nil
				}
				if f, err := strconv.ParseFloat(s, 64); err == nil {
					return Result{Value: assembly.Int(int64(f))}, nil
				}
			}
			return Result{}, fmt.Errorf("%w: cannot convert %s to an integer", ErrArgument, v.Repr())
		},
	})

	ns.Register(&Function{
		Name: "random",
		Signature: typecheck.Signature{
			Params:  []typecheck.Param{param("low", typecheck.TInt), param("high", typecheck.TInt)},
			Returns: typecheck.TInt,
		},
		Help: "A random integer between low and high, both included.",
		Impl: func(_ context.Context, args []assembly.Value) (Result, error) {
			low, high := args[0].Int, args[1].Int
			if high < low {
				return Result{}, fmt.Errorf("%w: empty range %d..%d", ErrArgument, low, high)
			}
			if high-low < 0 || high-low == math.MaxInt64 {
				return Result{}, errors.New("range too wide")
			}
			return Result{Value: assembly.Int(low + ns.intN(high-low+1))}, nil
		},
	})

	ns.Register(&Function{
		Name:      "format",
		Signature: typecheck.Signature{Params: []typecheck.Param{param("template", typecheck.TString)}, Returns: typecheck.TString},
		Help:      "Replace the variables in braces, as print() does.",
		Impl: func(ctx context.Context, args []assembly.Value) (Result, error) {
			text, err := formatArg(ctx, args[0])
			if err != nil {
				return Result{}, err
			}
			return Result{Value: assembly.Str(text)}, nil
		},
	})
}
