package script

import (
	"context"
	"errors"

	"github.com/crystal-mush/mudscript/pkg/events"
	"github.com/crystal-mush/mudscript/pkg/scripting/assembly"
	"github.com/crystal-mush/mudscript/pkg/scripting/typecheck"
)

var characterRepresentation = &Representation{
	Name: "character",
	Attributes: map[string]typecheck.Type{
		"name": typecheck.TString,
	},
	Methods: map[string]typecheck.Signature{
		"msg": {Params: []typecheck.Param{{Name: "message", Type: typecheck.TString}}, Returns: typecheck.TNone},
		"say": {Params: []typecheck.Param{{Name: "message", Type: typecheck.TString}}, Returns: typecheck.TNone},
	},
}

// Character is the script view of a character: scripts read its name and
// send it messages, nothing else.
type Character struct {
	Ref      events.ObjectRef
	Name     string
	Location events.ObjectRef

	ns *Namespace
}

// NewCharacter returns the representation of a character for scripts run
// in ns.
func (ns *Namespace) NewCharacter(ref events.ObjectRef, name string, location events.ObjectRef) *Character {
	return &Character{Ref: ref, Name: name, Location: location, ns: ns}
}

func (c *Character) Representation() string { return characterRepresentation.Name }

func (c *Character) Reference() string { return string(c.Ref) }

func (c *Character) Attr(name string) (assembly.Value, bool) {
	switch name {
	case "name":
		return assembly.Str(c.Name), true
	case "msg":
		return c.method(name, c.msg), true
	case "say":
		return c.method(name, c.say), true
	}
	return assembly.Value{}, false
}

func (c *Character) method(name string, impl Impl) assembly.Value {
	fn := &Function{
		Name:      "character." + name,
		Signature: characterRepresentation.Methods[name],
		Impl:      impl,
	}
	return assembly.Func(c.Reference()+"."+name, fn)
}

// msg sends a message to the character. Variables of the calling script
// are substituted, see Format.
func (c *Character) msg(ctx context.Context, args []assembly.Value) (Result, error) {
	text, err := formatArg(ctx, args[0])
	if err != nil {
		return Result{}, err
	}
	o := OriginFrom(ctx)
	c.ns.emit(events.Event{
		Type:      events.EvMessage,
		Player:    c.Ref,
		Source:    o.Caller,
		Script:    o.Script,
		Execution: o.Execution,
		Text:      text,
	})
	return Result{}, nil
}

// say is heard by the other characters in the room.
func (c *Character) say(ctx context.Context, args []assembly.Value) (Result, error) {
	if c.ns.World == nil || c.Location == events.Nobody {
		return Result{}, errors.New("nobody can hear this character")
	}
	text, err := formatArg(ctx, args[0])
	if err != nil {
		return Result{}, err
	}
	if c.ns.Bus == nil {
		return Result{}, nil
	}
	o := OriginFrom(ctx)
	c.ns.Bus.EmitToRoomExcept(c.ns.World, c.Location, c.Ref, events.Event{
		Type:      events.EvSay,
		Source:    c.Ref,
		Script:    o.Script,
		Execution: o.Execution,
		Text:      c.Name + " says: " + text,
	})
	return Result{}, nil
}

// formatArg substitutes the variables of the calling execution in a
// string argument.
func formatArg(ctx context.Context, v assembly.Value) (string, error) {
	if v.Kind != assembly.KindString {
		return v.String(), nil
	}
	var lookup LookupFunc
	if x, ok := assembly.ExecutionFrom(ctx); ok {
		lookup = x.Lookup
	}
	return Format(v.Str, lookup)
}
