package script

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/crystal-mush/mudscript/pkg/events"
	"github.com/crystal-mush/mudscript/pkg/scripting/assembly"
	"github.com/crystal-mush/mudscript/pkg/scripting/token"
	"github.com/crystal-mush/mudscript/pkg/scripting/typecheck"
	"github.com/lithammer/dedent"
)

type recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recorder) Receive(ev events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) Closed() bool { return false }

func (r *recorder) texts() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, ev := range r.events {
		out = append(out, ev.Type.String()+": "+ev.Text)
	}
	return out
}

type rooms map[events.ObjectRef][]events.ObjectRef

func (r rooms) Contents(room events.ObjectRef) []events.ObjectRef { return r[room] }

type directory map[events.ObjectRef]any

func (d directory) Object(ref events.ObjectRef) (any, bool) {
	obj, ok := d[ref]
	return obj, ok
}

var greet = NewEvent("greet", "A character greets the room.",
	Variable{Name: "character", Type: typecheck.TObject, Object: "character", Help: "who greets"})

func setup(t *testing.T) (*Namespace, *recorder) {
	t.Helper()
	bus := events.NewBus()
	rec := &recorder{}
	bus.SubscribeGlobal(rec)
	return NewNamespace(bus, WithSeed(1)), rec
}

func TestCompileAndRun(t *testing.T) {
	ns, rec := setup(t)
	c := &Compiler{Namespace: ns, CheckTypes: true}
	s, err := c.Compile("greet", dedent.Dedent(`
		count = 2
		character.msg("You see {count} {count:dog/dogs}.")
		if character.name == "Kredh":
		    print("hello {character.name}")
		end
	`), greet)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if s.Vars["count"] != typecheck.TInt {
		t.Errorf("expected count to be an int, got %s", s.Vars["count"])
	}

	kredh := ns.NewCharacter("character:kredh", "Kredh", "room:hall")
	ctx := WithOrigin(context.Background(), Origin{Caller: kredh.Ref, Script: s.Name})
	x := s.NewExecution(map[string]assembly.Value{"character": assembly.Object(kredh)})
	if _, err := x.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	want := []string{"message: You see 2 dogs.", "print: hello Kredh"}
	if got := rec.texts(); strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("expected %q, got %q", want, got)
	}
	if ev := rec.events[0]; ev.Player != kredh.Ref || ev.Script != "greet" {
		t.Errorf("unexpected message event %+v", ev)
	}
}

func TestWaitSuspends(t *testing.T) {
	ns, rec := setup(t)
	c := &Compiler{Namespace: ns, CheckTypes: true}
	s, err := c.Compile("slow", "print('a')\nwait(2)\nprint('b')\n", nil)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	x := s.NewExecution(nil)
	d, err := x.Run(context.Background())
	if err != nil || d != 2*time.Second || x.State != assembly.StateRunning {
		t.Fatalf("expected a 2s suspension, got %v, %v, %s", d, err, x.State)
	}
	if got := rec.texts(); len(got) != 1 {
		t.Fatalf("expected one print before waiting, got %q", got)
	}
	if _, err := x.Run(context.Background()); err != nil {
		t.Fatalf("resume: %v", err)
	}
	if got := rec.texts(); len(got) != 2 || got[1] != "print: b" || x.State != assembly.StateHalted {
		t.Errorf("unexpected end: %q, %s", got, x.State)
	}
}

func TestCompileErrors(t *testing.T) {
	ns, _ := setup(t)
	c := &Compiler{Namespace: ns, CheckTypes: true}

	_, err := c.Compile("greet", `character.mgs("hi")`, greet)
	var terr *typecheck.TypeError
	if !errors.As(err, &terr) {
		t.Fatalf("expected a type error, got %v", err)
	}
	if len(terr.Suggestions) != 1 || terr.Suggestions[0] != "character.msg" {
		t.Errorf("unexpected suggestions %v", terr.Suggestions)
	}
	if !strings.HasPrefix(err.Error(), "script greet: line 1, column 1:") {
		t.Errorf("unexpected message %q", err)
	}

	if _, err := c.Compile("x", "if true:", nil); !errors.Is(err, token.ErrNeedMore) {
		t.Errorf("expected ErrNeedMore, got %v", err)
	}

	var perr *token.ParseError
	if _, err := c.Compile("x", "x = = 2", nil); !errors.As(err, &perr) {
		t.Errorf("expected a parse error, got %v", err)
	}

	if _, err := c.Compile("x", "wait('soon')", nil); !errors.As(err, &terr) {
		t.Errorf("expected a type error, got %v", err)
	}
}

func TestBuiltins(t *testing.T) {
	ns, _ := setup(t)
	c := &Compiler{Namespace: ns, CheckTypes: true}
	tests := []struct {
		src  string
		want string
	}{
		{`len("héllo")`, "5"},
		{`str(3.0) + "!"`, `"3.0!"`},
		{`int("42")`, "42"},
		{`int(" 7.9 ")`, "7"},
		{`int(-2.5)`, "-2"},
		{`random(3, 3)`, "3"},
		{`format("{x} {x:apple/apples}")`, `"1 apple"`},
	}
	for _, tt := range tests {
		s, err := c.CompileInput("repl", tt.src, NewEvent("repl", "", Variable{Name: "x", Type: typecheck.TInt}))
		if err != nil {
			t.Fatalf("%s: %v", tt.src, err)
		}
		x := s.NewExecution(map[string]assembly.Value{"x": assembly.Int(1)})
		if _, err := x.Run(context.Background()); err != nil {
			t.Fatalf("%s: %v", tt.src, err)
		}
		v, err := x.Stack.Peek()
		if err != nil || v.Repr() != tt.want {
			t.Errorf("%s: expected %s, got %s (%v)", tt.src, tt.want, v.Repr(), err)
		}
	}

	s, err := c.CompileInput("repl", "random(1, 6)", nil)
	if err != nil {
		t.Fatal(err)
	}
	for range 50 {
		x := s.NewExecution(nil)
		if _, err := x.Run(context.Background()); err != nil {
			t.Fatal(err)
		}
		if v, _ := x.Stack.Peek(); v.Int < 1 || v.Int > 6 {
			t.Fatalf("random(1, 6) gave %d", v.Int)
		}
	}
}

func TestRuntimeArgumentCheck(t *testing.T) {
	ns, _ := setup(t)
	c := &Compiler{Namespace: ns}
	for _, src := range []string{"len(3)", "random(1)", "int('many')", "wait(-1)"} {
		s, err := c.CompileInput("unchecked", src, nil)
		if err != nil {
			t.Fatalf("%s: %v", src, err)
		}
		x := s.NewExecution(nil)
		_, err = x.Run(context.Background())
		if !errors.Is(err, ErrArgument) || x.State != assembly.StateFailed {
			t.Errorf("%s: expected an argument error, got %v (%s)", src, err, x.State)
		}
	}
}

func TestSay(t *testing.T) {
	bus := events.NewBus()
	world := rooms{"room:hall": {"character:kredh", "character:aneth"}}
	ns := NewNamespace(bus, WithWorld(world))
	heard := &recorder{}
	spoke := &recorder{}
	bus.Subscribe("character:aneth", heard)
	bus.Subscribe("character:kredh", spoke)

	c := &Compiler{Namespace: ns, CheckTypes: true}
	s, err := c.Compile("greet", `character.say("well met")`, greet)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	kredh := ns.NewCharacter("character:kredh", "Kredh", "room:hall")
	x := s.NewExecution(map[string]assembly.Value{"character": assembly.Object(kredh)})
	if _, err := x.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := heard.texts(); len(got) != 1 || got[0] != "say: Kredh says: well met" {
		t.Errorf("unexpected events for the listener: %q", got)
	}
	if got := spoke.texts(); len(got) != 0 {
		t.Errorf("the speaker should not hear itself: %q", got)
	}
}

func TestResolve(t *testing.T) {
	ns := NewNamespace(nil)
	kredh := ns.NewCharacter("character:kredh", "Kredh", "")
	WithDirectory(directory{"character:kredh": kredh})(ns)

	v, err := ns.Resolve(assembly.KindObject, "character:kredh")
	if err != nil || v.Ref != kredh {
		t.Errorf("expected kredh, got %v, %v", v, err)
	}
	if v, err := ns.Resolve(assembly.KindFunc, "print"); err != nil || v.Str != "print" {
		t.Errorf("expected print, got %v, %v", v, err)
	}
	if v, err := ns.Resolve(assembly.KindFunc, "character:kredh.msg"); err != nil || v.Kind != assembly.KindFunc {
		t.Errorf("expected the bound method, got %v, %v", v, err)
	}
	if _, err := ns.Resolve(assembly.KindObject, "character:gone"); err == nil {
		t.Error("expected an error for a missing object")
	}
}

func TestVariablesOf(t *testing.T) {
	ns := NewNamespace(nil)
	vars := VariablesOf(map[string]assembly.Value{
		"who": assembly.Object(ns.NewCharacter("character:kredh", "Kredh", "")),
		"n":   assembly.Int(3),
	})
	if len(vars) != 2 || vars[0].Name != "n" || vars[0].Type != typecheck.TInt {
		t.Fatalf("unexpected variables %+v", vars)
	}
	if vars[1].Object != "character" || vars[1].Type != typecheck.TObject {
		t.Errorf("unexpected object variable %+v", vars[1])
	}
}

func TestEventRegistry(t *testing.T) {
	r := NewEvents()
	if err := r.Register(greet); err != nil {
		t.Fatal(err)
	}
	if err := r.Register(NewEvent("greet", "")); err == nil {
		t.Error("expected a duplicate event error")
	}
	if e, ok := r.Lookup("greet"); !ok || e != greet {
		t.Error("expected to find greet")
	}
	if names := r.Names(); len(names) != 1 || names[0] != "greet" {
		t.Errorf("unexpected names %v", names)
	}
}

func TestPretty(t *testing.T) {
	ns, _ := setup(t)
	c := &Compiler{Namespace: ns}
	s, err := c.Compile("p", "x=1+2*3\nprint( x )", nil)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := s.Pretty(), "x = (1 + (2 * 3))\nprint(x)"; got != want {
		t.Errorf("expected %q, got %q", want, got)
	}
	if !strings.HasPrefix(s.Format(), "Program, ready to flow\n0* CONST 1") {
		t.Errorf("unexpected listing:\n%s", s.Format())
	}
}
