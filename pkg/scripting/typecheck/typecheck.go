// Package typecheck infers and checks the types of a script before it is
// compiled, so that most mistakes are reported to the author with a line
// number instead of failing in the middle of an execution.
package typecheck

import (
	"fmt"
	"sort"
	"strings"

	"github.com/crystal-mush/mudscript/pkg/scripting/token"
	"github.com/lithammer/fuzzysearch/fuzzy"
)

// Type is a set of possible value types.
type Type uint16

const (
	TNone Type = 1 << iota
	TBool
	TInt
	TFloat
	TString
	TObject
	TFunc

	TNumber = TInt | TFloat
	TAny    = TNone | TBool | TInt | TFloat | TString | TObject | TFunc
)

var typeNames = []struct {
	t    Type
	name string
}{
	{TNone, "none"},
	{TBool, "bool"},
	{TInt, "int"},
	{TFloat, "float"},
	{TString, "str"},
	{TObject, "object"},
	{TFunc, "function"},
}

func (t Type) String() string {
	if t == TAny {
		return "any"
	}
	var names []string
	for _, tn := range typeNames {
		if t&tn.t != 0 {
			names = append(names, tn.name)
		}
	}
	if len(names) == 0 {
		return "nothing"
	}
	return strings.Join(names, " or ")
}

// Accepts reports whether a value of type got may fit t.
func (t Type) Accepts(got Type) bool { return t&got != 0 }

// ParseType reads a type name as written in configuration files.
func ParseType(name string) (Type, error) {
	if name == "any" {
		return TAny, nil
	}
	if name == "number" {
		return TNumber, nil
	}
	for _, tn := range typeNames {
		if tn.name == name {
			return tn.t, nil
		}
	}
	return 0, fmt.Errorf("typecheck: unknown type %q", name)
}

// Param is a function parameter.
type Param struct {
	Name     string
	Type     Type
	Optional bool
}

// Signature describes what a function accepts and returns.
type Signature struct {
	Params  []Param
	Returns Type
}

func (s Signature) String() string {
	parts := make([]string, len(s.Params))
	for i, p := range s.Params {
		parts[i] = p.Name + " " + p.Type.String()
		if p.Optional {
			parts[i] = "[" + parts[i] + "]"
		}
	}
	return "(" + strings.Join(parts, ", ") + ") " + s.Returns.String()
}

// Env is what the checker knows before the script runs: the event
// variables and the namespace functions.
type Env interface {
	// TypeOf returns the type of a possibly dotted name.
	TypeOf(name string) (Type, bool)

	// SignatureOf returns the signature of a function or method.
	SignatureOf(name string) (Signature, bool)

	// Names lists the known names, for suggestions.
	Names() []string
}

// TypeError is a type mismatch or an unknown name.
type TypeError struct {
	Pos         token.Pos
	Message     string
	Suggestions []string
}

func (e *TypeError) Error() string {
	msg := fmt.Sprintf("line %d, column %d: %s", e.Pos.Line, e.Pos.Column, e.Message)
	if len(e.Suggestions) > 0 {
		msg += " (did you mean " + strings.Join(e.Suggestions, ", ") + "?)"
	}
	return msg
}

// Checker accumulates variable types while walking a syntax tree.
type Checker struct {
	env  Env
	vars map[string]Type
}

// New returns a checker. env may be nil.
func New(env Env) *Checker {
	return &Checker{env: env, vars: make(map[string]Type)}
}

// Errorf builds a TypeError at pos.
func (c *Checker) Errorf(pos token.Pos, format string, args ...any) *TypeError {
	return &TypeError{Pos: pos, Message: fmt.Sprintf(format, args...)}
}

// Var returns the type of a variable or a dotted attribute.
func (c *Checker) Var(pos token.Pos, name string) (Type, error) {
	if t, ok := c.vars[name]; ok {
		return t, nil
	}
	if c.env != nil {
		if t, ok := c.env.TypeOf(name); ok {
			return t, nil
		}
	}
	err := c.Errorf(pos, "unknown variable %q", name)
	err.Suggestions = c.suggest(name)
	return 0, err
}

// Assign records that name receives a value of type t. A variable
// assigned several times may hold any of the assigned types.
func (c *Checker) Assign(pos token.Pos, name string, t Type) error {
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		owner, err := c.Var(pos, name[:i])
		if err != nil {
			return err
		}
		if !TObject.Accepts(owner) {
			return c.Errorf(pos, "cannot set attribute %q on %s", name[i+1:], owner)
		}
		if c.env != nil {
			if want, ok := c.env.TypeOf(name); ok && !want.Accepts(t) {
				return c.Errorf(pos, "%s expects %s, got %s", name, want, t)
			}
		}
		return nil
	}
	c.vars[name] = c.vars[name] | t
	return nil
}

// Call checks a call to the function or method name with arguments of
// the given types and returns the result type.
func (c *Checker) Call(pos token.Pos, name string, args []Type) (Type, error) {
	var sig Signature
	found := false
	if c.env != nil {
		sig, found = c.env.SignatureOf(name)
	}
	if !found {
		if t, ok := c.vars[name]; ok && TFunc.Accepts(t) {
			return TAny, nil
		}
		err := c.Errorf(pos, "unknown function %q", name)
		err.Suggestions = c.suggest(name)
		return 0, err
	}

	if len(args) > len(sig.Params) {
		return 0, c.Errorf(pos, "function %q takes at most %d argument(s), got %d", name, len(sig.Params), len(args))
	}
	for i, p := range sig.Params {
		if i >= len(args) {
			if !p.Optional {
				return 0, c.Errorf(pos, "function %q, argument %d (%s): no value has been set for this mandatory argument", name, i, p.Name)
			}
			continue
		}
		if !p.Type.Accepts(args[i]) {
			return 0, c.Errorf(pos, "function %q, argument %d (%s): expected %s, but got %s", name, i, p.Name, p.Type, args[i])
		}
	}
	return sig.Returns, nil
}

// Expect fails when got cannot be one of want.
func (c *Checker) Expect(pos token.Pos, got, want Type, what string) error {
	if !want.Accepts(got) {
		return c.Errorf(pos, "%s: expected %s, but got %s", what, want, got)
	}
	return nil
}

// Vars returns the inferred type of every assigned variable.
func (c *Checker) Vars() map[string]Type {
	out := make(map[string]Type, len(c.vars))
	for k, v := range c.vars {
		out[k] = v
	}
	return out
}

const (
	maxSuggestions = 3
	maxDistance    = 2
)

func (c *Checker) suggest(name string) []string {
	var candidates []string
	for k := range c.vars {
		candidates = append(candidates, k)
	}
	if c.env != nil {
		candidates = append(candidates, c.env.Names()...)
	}

	seen := make(map[string]bool)
	var out []string
	add := func(s string) {
		if !seen[s] && s != name && len(out) < maxSuggestions {
			seen[s] = true
			out = append(out, s)
		}
	}

	ranks := fuzzy.RankFindFold(name, candidates)
	sort.Sort(ranks)
	for _, r := range ranks {
		add(r.Target)
	}

	// Typos with swapped or missing letters do not match as subsequences.
	// Only the closest of those are offered.
	sort.Strings(candidates)
	best := maxDistance + 1
	var near []string
	for _, cand := range candidates {
		if cand == name {
			continue
		}
		d := fuzzy.LevenshteinDistance(strings.ToLower(name), strings.ToLower(cand))
		switch {
		case d < best:
			best, near = d, []string{cand}
		case d == best:
			near = append(near, cand)
		}
	}
	if best <= maxDistance {
		for _, cand := range near {
			add(cand)
		}
	}
	return out
}

// MapEnv is an Env backed by maps.
type MapEnv struct {
	Types map[string]Type
	Funcs map[string]Signature
}

func (e MapEnv) TypeOf(name string) (Type, bool) {
	if t, ok := e.Types[name]; ok {
		return t, true
	}
	if _, ok := e.Funcs[name]; ok {
		return TFunc, true
	}
	return 0, false
}

func (e MapEnv) SignatureOf(name string) (Signature, bool) {
	s, ok := e.Funcs[name]
	return s, ok
}

func (e MapEnv) Names() []string {
	names := make([]string, 0, len(e.Types)+len(e.Funcs))
	for k := range e.Types {
		names = append(names, k)
	}
	for k := range e.Funcs {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
