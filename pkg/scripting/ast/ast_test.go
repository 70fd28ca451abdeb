package ast_test

import (
	"context"
	"errors"
	"testing"

	"github.com/crystal-mush/mudscript/pkg/scripting/assembly"
	"github.com/crystal-mush/mudscript/pkg/scripting/ast"
	"github.com/crystal-mush/mudscript/pkg/scripting/grammar"
	"github.com/crystal-mush/mudscript/pkg/scripting/lexer"
	"github.com/crystal-mush/mudscript/pkg/scripting/typecheck"
	"github.com/lithammer/dedent"
	"github.com/sergi/go-diff/diffmatchpatch"
)

func parse(t *testing.T, src string, program bool) ast.Node {
	t.Helper()
	toks, err := lexer.Tokenize(src)
	if err != nil {
		t.Fatalf("Tokenize: %v", err)
	}
	var n ast.Node
	if program {
		n, err = grammar.ParseProgram(toks)
	} else {
		n, err = grammar.Parse(toks)
	}
	if err != nil {
		t.Fatalf("parse %q: %v", src, err)
	}
	return n
}

func compile(t *testing.T, src string, program bool) *assembly.Program {
	t.Helper()
	p, err := ast.Compile(parse(t, src, program), nil)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	return p
}

func execute(t *testing.T, p *assembly.Program, vars map[string]assembly.Value) *assembly.Execution {
	t.Helper()
	x := assembly.NewExecution(p, assembly.WithVars(vars), assembly.WithMaxSteps(10000))
	if _, err := x.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	return x
}

func TestRelopChainListing(t *testing.T) {
	p := compile(t, "a < b <= c", false)
	want := dedent.Dedent(`
		Program, ready to flow
		0* VALUE a
		1 VALUE b
		2 LT
		3 IFFALSE 7 keep
		4 VALUE b
		5 VALUE c
		6 LE`)[1:]
	if got := p.Format(0, true); got != want {
		dmp := diffmatchpatch.New()
		t.Errorf("unexpected listing:\n%s", dmp.DiffPrettyText(dmp.DiffMain(want, got, false)))
	}
}

func TestRelopChainValues(t *testing.T) {
	p := compile(t, "a < b <= c", false)
	tests := []struct {
		a, b, c int64
		want    bool
	}{
		{1, 2, 3, true},
		{1, 2, 2, true},
		{3, 2, 5, false},
		{1, 5, 4, false},
	}
	for _, tt := range tests {
		x := execute(t, p, map[string]assembly.Value{
			"a": assembly.Int(tt.a), "b": assembly.Int(tt.b), "c": assembly.Int(tt.c),
		})
		if x.Stack.Len() != 1 {
			t.Fatalf("%d < %d <= %d: expected one value, got %d", tt.a, tt.b, tt.c, x.Stack.Len())
		}
		v, _ := x.Stack.Peek()
		if v.Kind != assembly.KindBool || v.Bool != tt.want {
			t.Errorf("%d < %d <= %d: expected %v, got %s", tt.a, tt.b, tt.c, tt.want, v.Repr())
		}
	}
}

func TestShortCircuit(t *testing.T) {
	tests := []struct {
		src  string
		want string
	}{
		// missing is never evaluated
		{"0 and missing", "0"},
		{"2 or missing", "2"},
		{"1 and 'b'", `"b"`},
		{"'' or 'b'", `"b"`},
		{"not 0 and 3 > 2", "true"},
	}
	for _, tt := range tests {
		x := execute(t, compile(t, tt.src, false), nil)
		v, err := x.Stack.Peek()
		if err != nil || x.Stack.Len() != 1 {
			t.Fatalf("%s: expected one value, got %v", tt.src, x.Stack.Values())
		}
		if v.Repr() != tt.want {
			t.Errorf("%s: expected %s, got %s", tt.src, tt.want, v.Repr())
		}
	}
}

func TestStatements(t *testing.T) {
	src := dedent.Dedent(`
		x = 0
		total = 0
		while x < 5:
		    x = x + 1
		    if x == 3:
		        total = total + 10
		    else:
		        total = total + x
		    end
		end
	`)
	x := execute(t, compile(t, src, true), nil)
	if got := x.Vars["total"]; got.Kind != assembly.KindInt || got.Int != 22 {
		t.Errorf("expected total 22, got %s", got.Repr())
	}
	if x.Stack.Len() != 0 {
		t.Errorf("statements should leave the stack empty, got %v", x.Stack.Values())
	}
}

func TestIfWithoutElseListing(t *testing.T) {
	p := compile(t, "if ok:\n    print(1)\nend", true)
	want := "Program, ready to flow\n" +
		"0* VALUE ok     1 IFFALSE 6     2 VALUE print   3 CONST 1       4 CALL 1\n" +
		"5 POP"
	if got := p.Format(0, false); got != want {
		dmp := diffmatchpatch.New()
		t.Errorf("unexpected listing:\n%s", dmp.DiffPrettyText(dmp.DiffMain(want, got, false)))
	}
}

func env() typecheck.MapEnv {
	return typecheck.MapEnv{
		Types: map[string]typecheck.Type{
			"character":      typecheck.TObject,
			"character.name": typecheck.TString,
		},
		Funcs: map[string]typecheck.Signature{
			"print": {Params: []typecheck.Param{{Name: "text", Type: typecheck.TAny}}, Returns: typecheck.TNone},
			"len":   {Params: []typecheck.Param{{Name: "value", Type: typecheck.TString}}, Returns: typecheck.TInt},
		},
	}
}

func TestTypeErrors(t *testing.T) {
	tests := []struct {
		src  string
		want string
	}{
		{"prnt(1)", `line 1, column 1: unknown function "prnt" (did you mean print?)`},
		{"n = len(3)", `line 1, column 5: function "len", argument 0 (value): expected str, but got int`},
		{"y = 'a' - 1", "line 1, column 9: operator -, left side: expected int or float, but got str"},
		{"character.name = 3", "line 1, column 1: character.name expects str, got int"},
		{"ok = 'a' < 1", "line 1, column 10: operator <: cannot compare str and int"},
		{"print()", `line 1, column 1: function "print", argument 0 (text): no value has been set for this mandatory argument`},
	}
	for _, tt := range tests {
		_, err := ast.Compile(parse(t, tt.src, true), typecheck.New(env()))
		var terr *typecheck.TypeError
		if !errors.As(err, &terr) {
			t.Errorf("%s: expected a type error, got %v", tt.src, err)
			continue
		}
		if terr.Error() != tt.want {
			t.Errorf("%s:\nexpected %s\n     got %s", tt.src, tt.want, terr.Error())
		}
	}
}

func TestInferredTypes(t *testing.T) {
	c := typecheck.New(env())
	src := "n = len(character.name)\nn = n / 2\nlabel = character.name + '!'"
	if _, err := ast.Compile(parse(t, src, true), c); err != nil {
		t.Fatalf("Compile: %v", err)
	}
	vars := c.Vars()
	if vars["n"] != typecheck.TNumber {
		t.Errorf("expected n to be int or float, got %s", vars["n"])
	}
	if vars["label"] != typecheck.TString {
		t.Errorf("expected label to be str, got %s", vars["label"])
	}
}
