package script

import (
	"fmt"
	"sort"
	"strings"

	"github.com/crystal-mush/mudscript/pkg/scripting/assembly"
	"github.com/crystal-mush/mudscript/pkg/scripting/ast"
	"github.com/crystal-mush/mudscript/pkg/scripting/grammar"
	"github.com/crystal-mush/mudscript/pkg/scripting/lexer"
	"github.com/crystal-mush/mudscript/pkg/scripting/token"
	"github.com/crystal-mush/mudscript/pkg/scripting/typecheck"
)

// Compiler turns source text into scripts.
type Compiler struct {
	Namespace *Namespace

	// CheckTypes runs the type checker before generating the program.
	// Scripts fresh from an author should always be checked.
	CheckTypes bool
}

// Script is a compiled script, ready to be executed any number of times.
type Script struct {
	Name    string
	Event   *Event
	Source  string
	AST     ast.Node
	Program *assembly.Program

	// Vars holds the inferred type of each assigned variable. It is nil
	// when types were not checked.
	Vars map[string]typecheck.Type

	ns *Namespace
}

// Compile compiles a whole script attached to ev, which may be nil.
// Errors are token.ErrNeedMore for unfinished input, *token.ParseError or
// *typecheck.TypeError.
func (c *Compiler) Compile(name, source string, ev *Event) (*Script, error) {
	return c.compile(name, source, ev, grammar.ParseProgram)
}

// CompileInput compiles a line typed interactively: a lone expression
// leaves its value on the stack.
func (c *Compiler) CompileInput(name, source string, ev *Event) (*Script, error) {
	return c.compile(name, source, ev, grammar.Parse)
}

func (c *Compiler) compile(name, source string, ev *Event, parse func([]token.Token) (ast.Node, error)) (*Script, error) {
	tokens, err := lexer.Tokenize(source)
	if err != nil {
		return nil, fmt.Errorf("script %s: %w", name, err)
	}
	root, err := parse(tokens)
	if err != nil {
		return nil, fmt.Errorf("script %s: %w", name, err)
	}
	var checker *typecheck.Checker
	if c.CheckTypes {
		checker = typecheck.New(&env{ns: c.Namespace, ev: ev})
	}
	program, err := ast.Compile(root, checker)
	if err != nil {
		return nil, fmt.Errorf("script %s: %w", name, err)
	}
	s := &Script{Name: name, Event: ev, Source: source, AST: root, Program: program, ns: c.Namespace}
	if checker != nil {
		s.Vars = checker.Vars()
	}
	return s, nil
}

// NewExecution prepares a run of the script with the given variables,
// usually the values of the event variables.
func (s *Script) NewExecution(vars map[string]assembly.Value, opts ...assembly.Option) *assembly.Execution {
	base := []assembly.Option{assembly.WithVars(vars)}
	if s.ns != nil {
		base = append(base, assembly.WithGlobals(s.ns))
	}
	return assembly.NewExecution(s.Program, append(base, opts...)...)
}

// Format lists the program, one instruction per line.
func (s *Script) Format() string { return s.Program.Format(0, true) }

// Pretty returns the source as the parser understood it.
func (s *Script) Pretty() string { return s.AST.String() }

// env is what the type checker knows: the event variables, the
// attributes of object variables and the namespace functions.
type env struct {
	ns *Namespace
	ev *Event
}

func (e *env) representation(v Variable) (*Representation, bool) {
	if v.Object == "" || e.ns == nil {
		return nil, false
	}
	return e.ns.Representation(v.Object)
}

func (e *env) TypeOf(name string) (typecheck.Type, bool) {
	root, attr, dotted := strings.Cut(name, ".")
	v, ok := e.ev.Variable(root)
	if !dotted {
		if ok {
			return v.Type, true
		}
		if e.ns != nil {
			if _, ok := e.ns.Function(name); ok {
				return typecheck.TFunc, true
			}
		}
		return 0, false
	}
	if !ok {
		return 0, false
	}
	r, ok := e.representation(v)
	if !ok {
		return 0, false
	}
	if t, ok := r.Attributes[attr]; ok {
		return t, true
	}
	if _, ok := r.Methods[attr]; ok {
		return typecheck.TFunc, true
	}
	return 0, false
}

func (e *env) SignatureOf(name string) (typecheck.Signature, bool) {
	root, method, dotted := strings.Cut(name, ".")
	if !dotted {
		if e.ns == nil {
			return typecheck.Signature{}, false
		}
		fn, ok := e.ns.Function(name)
		if !ok {
			return typecheck.Signature{}, false
		}
		return fn.Signature, true
	}
	v, ok := e.ev.Variable(root)
	if !ok {
		return typecheck.Signature{}, false
	}
	r, ok := e.representation(v)
	if !ok {
		return typecheck.Signature{}, false
	}
	sig, ok := r.Methods[method]
	return sig, ok
}

func (e *env) Names() []string {
	var names []string
	if e.ns != nil {
		names = append(names, e.ns.Functions()...)
	}
	if e.ev != nil {
		for _, v := range e.ev.Variables {
			names = append(names, v.Name)
			r, ok := e.representation(v)
			if !ok {
				continue
			}
			for attr := range r.Attributes {
				names = append(names, v.Name+"."+attr)
			}
			for method := range r.Methods {
				names = append(names, v.Name+"."+method)
			}
		}
	}
	sort.Strings(names)
	return names
}
