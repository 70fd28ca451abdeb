package typecheck

import (
	"errors"
	"reflect"
	"testing"

	"github.com/crystal-mush/mudscript/pkg/scripting/token"
)

func TestTypeString(t *testing.T) {
	tests := []struct {
		t    Type
		want string
	}{
		{TInt, "int"},
		{TNumber, "int or float"},
		{TString | TNone, "none or str"},
		{TAny, "any"},
		{0, "nothing"},
	}
	for _, tt := range tests {
		if got := tt.t.String(); got != tt.want {
			t.Errorf("expected %s, got %s", tt.want, got)
		}
	}
}

func TestParseType(t *testing.T) {
	for name, want := range map[string]Type{"str": TString, "number": TNumber, "any": TAny, "object": TObject} {
		got, err := ParseType(name)
		if err != nil || got != want {
			t.Errorf("ParseType(%q) = %s, %v", name, got, err)
		}
	}
	if _, err := ParseType("integer"); err == nil {
		t.Error("expected an error for an unknown type")
	}
}

func TestSignatureString(t *testing.T) {
	sig := Signature{
		Params:  []Param{{Name: "text", Type: TString}, {Name: "delay", Type: TNumber, Optional: true}},
		Returns: TNone,
	}
	if got, want := sig.String(), "(text str, [delay int or float]) none"; got != want {
		t.Errorf("expected %s, got %s", want, got)
	}
}

func TestAssignUnion(t *testing.T) {
	c := New(nil)
	pos := token.Pos{Line: 1, Column: 1}
	if err := c.Assign(pos, "x", TInt); err != nil {
		t.Fatal(err)
	}
	if err := c.Assign(pos, "x", TString); err != nil {
		t.Fatal(err)
	}
	got, err := c.Var(pos, "x")
	if err != nil || got != TInt|TString {
		t.Errorf("expected int or str, got %s, %v", got, err)
	}
	if err := c.Assign(pos, "x.colour", TString); err == nil {
		t.Error("setting an attribute on a plain variable should fail")
	}
}

func TestSuggestions(t *testing.T) {
	c := New(MapEnv{
		Types: map[string]Type{"character": TObject, "room": TObject},
		Funcs: map[string]Signature{"print": {}, "wait": {}, "int": {}},
	})
	pos := token.Pos{Line: 3, Column: 2}
	if err := c.Assign(pos, "counter", TInt); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		want []string
	}{
		{"charcter", []string{"character"}},
		{"cuonter", []string{"counter"}},
		{"rom", []string{"room"}},
		{"prnt", []string{"print"}},
		{"zzz", nil},
	}
	for _, tt := range tests {
		_, err := c.Var(pos, tt.name)
		var terr *TypeError
		if !errors.As(err, &terr) {
			t.Fatalf("%s: expected a TypeError, got %v", tt.name, err)
		}
		if !reflect.DeepEqual(terr.Suggestions, tt.want) {
			t.Errorf("%s: expected suggestions %v, got %v", tt.name, tt.want, terr.Suggestions)
		}
		if terr.Pos != pos {
			t.Errorf("%s: unexpected position %+v", tt.name, terr.Pos)
		}
	}
}

func TestCallArguments(t *testing.T) {
	c := New(MapEnv{Funcs: map[string]Signature{
		"wait": {Params: []Param{{Name: "seconds", Type: TNumber}}, Returns: TNone},
	}})
	pos := token.Pos{Line: 1, Column: 1}
	if _, err := c.Call(pos, "wait", []Type{TFloat}); err != nil {
		t.Errorf("wait(float): %v", err)
	}
	if _, err := c.Call(pos, "wait", []Type{TInt, TInt}); err == nil {
		t.Error("expected too many arguments")
	}
	if _, err := c.Call(pos, "wait", []Type{TString}); err == nil {
		t.Error("expected a type mismatch")
	}

	// A variable holding a function can be called with anything.
	c.Assign(pos, "callback", TFunc)
	if got, err := c.Call(pos, "callback", []Type{TString}); err != nil || got != TAny {
		t.Errorf("callback: %s, %v", got, err)
	}
}
