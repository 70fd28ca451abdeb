package script

import (
	"fmt"
	"sort"
	"sync"

	"github.com/crystal-mush/mudscript/pkg/scripting/assembly"
	"github.com/crystal-mush/mudscript/pkg/scripting/typecheck"
)

// Variable is a value an event hands to its scripts.
type Variable struct {
	Name string
	Type typecheck.Type

	// Object names the representation of an object variable, such as
	// "character".
	Object string
	Help   string
}

// Event is a moment in the game a script can be attached to, such as a
// character entering a room.
type Event struct {
	Name      string
	Variables []Variable
	Help      string
}

// NewEvent describes an event.
func NewEvent(name, help string, vars ...Variable) *Event {
	return &Event{Name: name, Help: help, Variables: vars}
}

// Variable returns a variable of the event.
func (e *Event) Variable(name string) (Variable, bool) {
	if e == nil {
		return Variable{}, false
	}
	for _, v := range e.Variables {
		if v.Name == name {
			return v, true
		}
	}
	return Variable{}, false
}

// Events is the registry of known events.
type Events struct {
	mu     sync.RWMutex
	byName map[string]*Event
}

// NewEvents returns an empty registry.
func NewEvents() *Events {
	return &Events{byName: make(map[string]*Event)}
}

// Register adds an event. Names are unique.
func (r *Events) Register(e *Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byName[e.Name]; ok {
		return fmt.Errorf("script: event %q is already registered", e.Name)
	}
	r.byName[e.Name] = e
	return nil
}

// Lookup returns an event by name.
func (r *Events) Lookup(name string) (*Event, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.byName[name]
	return e, ok
}

// Names lists the registered events, sorted.
func (r *Events) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.byName))
	for name := range r.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// VariablesOf describes the current values of an interactive session, so
// that the next input can be type checked against them.
func VariablesOf(vars map[string]assembly.Value) []Variable {
	out := make([]Variable, 0, len(vars))
	for name, v := range vars {
		variable := Variable{Name: name, Type: TypeOf(v)}
		if r, ok := v.Ref.(Represented); ok && v.Kind == assembly.KindObject {
			variable.Object = r.Representation()
		}
		out = append(out, variable)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
