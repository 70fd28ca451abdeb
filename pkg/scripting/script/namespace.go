package script

import (
	"fmt"
	"math/rand/v2"
	"sort"
	"strings"
	"sync"

	"github.com/crystal-mush/mudscript/pkg/events"
	"github.com/crystal-mush/mudscript/pkg/scripting/assembly"
	"github.com/crystal-mush/mudscript/pkg/scripting/typecheck"
)

// Representation describes what scripts may read and call on one kind of
// host object.
type Representation struct {
	Name       string
	Attributes map[string]typecheck.Type
	Methods    map[string]typecheck.Signature
}

// Represented is implemented by host objects with a representation.
type Represented interface {
	Representation() string
}

// Directory finds host objects by reference, to restore suspended
// executions.
type Directory interface {
	Object(ref events.ObjectRef) (any, bool)
}

// Namespace holds the top-level functions and the object
// representations scripts can use.
type Namespace struct {
	Bus   *events.Bus
	World events.Locator

	mu    sync.RWMutex
	funcs map[string]*Function
	reprs map[string]*Representation
	dir   Directory

	randMu sync.Mutex
	rand   *rand.Rand
}

// Option configures a Namespace.
type Option func(*Namespace)

// WithWorld lets character.say() reach the other characters in a room.
func WithWorld(w events.Locator) Option { return func(ns *Namespace) { ns.World = w } }

// WithDirectory sets where objects are found when restoring executions.
func WithDirectory(d Directory) Option { return func(ns *Namespace) { ns.dir = d } }

// WithSeed makes random() reproducible.
func WithSeed(seed uint64) Option {
	return func(ns *Namespace) { ns.rand = rand.New(rand.NewPCG(seed, seed)) }
}

// NewNamespace returns a namespace with the builtin functions and the
// character representation. Side effects are emitted on bus, which may
// be nil to discard them.
func NewNamespace(bus *events.Bus, opts ...Option) *Namespace {
	ns := &Namespace{
		Bus:   bus,
		funcs: make(map[string]*Function),
		reprs: make(map[string]*Representation),
		rand:  rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
	}
	for _, opt := range opts {
		opt(ns)
	}
	registerBuiltins(ns)
	ns.RegisterRepresentation(characterRepresentation)
	return ns
}

// Register adds or replaces a top-level function.
func (ns *Namespace) Register(fn *Function) {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	ns.funcs[fn.Name] = fn
}

// Alias makes an existing function available under another name.
func (ns *Namespace) Alias(alias, target string) {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	if fn, ok := ns.funcs[target]; ok {
		ns.funcs[alias] = fn
	}
}

// Function returns a top-level function.
func (ns *Namespace) Function(name string) (*Function, bool) {
	ns.mu.RLock()
	defer ns.mu.RUnlock()
	fn, ok := ns.funcs[name]
	return fn, ok
}

// Functions lists the top-level function names, sorted.
func (ns *Namespace) Functions() []string {
	ns.mu.RLock()
	defer ns.mu.RUnlock()
	names := make([]string, 0, len(ns.funcs))
	for name := range ns.funcs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RegisterRepresentation adds an object representation.
func (ns *Namespace) RegisterRepresentation(r *Representation) {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	ns.reprs[r.Name] = r
}

// Representation returns an object representation by name.
func (ns *Namespace) Representation(name string) (*Representation, bool) {
	ns.mu.RLock()
	defer ns.mu.RUnlock()
	r, ok := ns.reprs[name]
	return r, ok
}

// Global implements assembly.Globals: top-level functions are visible
// to every script.
func (ns *Namespace) Global(name string) (assembly.Value, bool) {
	fn, ok := ns.Function(name)
	if !ok {
		return assembly.Value{}, false
	}
	return fn.Value(), true
}

// Resolve implements assembly.Resolver for restored executions.
func (ns *Namespace) Resolve(kind assembly.Kind, ref string) (assembly.Value, error) {
	switch kind {
	case assembly.KindFunc:
		if fn, ok := ns.Function(ref); ok {
			return fn.Value(), nil
		}
		// A bound method: owner reference, then the method name.
		if i := strings.LastIndexByte(ref, '.'); i >= 0 {
			owner, err := ns.Resolve(assembly.KindObject, ref[:i])
			if err == nil {
				if a, ok := owner.Ref.(assembly.Attributer); ok {
					if v, ok := a.Attr(ref[i+1:]); ok && v.Kind == assembly.KindFunc {
						return v, nil
					}
				}
			}
		}
		return assembly.Value{}, fmt.Errorf("script: unknown function %q", ref)
	case assembly.KindObject:
		if ns.dir == nil {
			return assembly.Value{}, fmt.Errorf("script: no directory to find %q", ref)
		}
		obj, ok := ns.dir.Object(events.ObjectRef(ref))
		if !ok {
			return assembly.Value{}, fmt.Errorf("script: object %q is gone", ref)
		}
		return assembly.Object(obj), nil
	}
	return assembly.Value{}, fmt.Errorf("script: cannot resolve a %s", kind)
}

func (ns *Namespace) emit(ev events.Event) {
	if ns.Bus != nil {
		ns.Bus.Emit(ev)
	}
}

func (ns *Namespace) intN(n int64) int64 {
	ns.randMu.Lock()
	defer ns.randMu.Unlock()
	return ns.rand.Int64N(n)
}
