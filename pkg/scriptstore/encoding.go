package scriptstore

import (
	"fmt"
	"time"

	"github.com/crystal-mush/mudscript/pkg/events"
	"github.com/crystal-mush/mudscript/pkg/scheduler"
	"github.com/crystal-mush/mudscript/pkg/scripting/assembly"
	"github.com/crystal-mush/mudscript/pkg/scripting/script"
	"github.com/fxamacker/cbor/v2"
)

// Record is the stored source of a script.
type Record struct {
	Name    string           `cbor:"name"`
	Event   string           `cbor:"event,omitempty"`
	Owner   events.ObjectRef `cbor:"owner,omitempty"`
	Source  string           `cbor:"source"`
	Updated time.Time        `cbor:"updated"`
}

// Snapshot is a suspended execution: the whole program, since loops jump
// back, plus the cursor, stack and variables.
type Snapshot struct {
	ID      string                           `cbor:"id"`
	Script  string                           `cbor:"script"`
	Owner   events.ObjectRef                 `cbor:"owner,omitempty"`
	Program []assembly.EncodedInstruction    `cbor:"program"`
	Cursor  int                              `cbor:"cursor"`
	Steps   int                              `cbor:"steps,omitempty"`
	Stack   []assembly.EncodedValue          `cbor:"stack,omitempty"`
	Vars    map[string]assembly.EncodedValue `cbor:"vars,omitempty"`
	WakeAt  time.Time                        `cbor:"wake_at"`
}

var encMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("scriptstore: failed to create CBOR enc mode: %v", err))
	}
	encMode = em
}

func encodeRecord(r *Record) ([]byte, error) { return encMode.Marshal(r) }

func decodeRecord(data []byte) (*Record, error) {
	var r Record
	if err := cbor.Unmarshal(data, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func encodeSnapshot(s *Snapshot) ([]byte, error) { return encMode.Marshal(s) }

func decodeSnapshot(data []byte) (*Snapshot, error) {
	var s Snapshot
	if err := cbor.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// Capture saves the state of a suspended task. Values that cannot be
// encoded (objects without a reference) make it fail.
func Capture(t *scheduler.Task) (*Snapshot, error) {
	x := t.Exec
	program, err := assembly.Encode(x.Program)
	if err != nil {
		return nil, fmt.Errorf("scriptstore: capture %s: %w", t.ID, err)
	}
	snap := &Snapshot{
		ID:      t.ID,
		Script:  t.Script,
		Owner:   t.Owner,
		Program: program,
		Cursor:  x.Cursor,
		Steps:   x.Steps,
		WakeAt:  t.WakeAt,
	}
	for _, v := range x.Stack.Values() {
		e, err := v.Encode()
		if err != nil {
			return nil, fmt.Errorf("scriptstore: capture %s: stack: %w", t.ID, err)
		}
		snap.Stack = append(snap.Stack, e)
	}
	if len(x.Vars) > 0 {
		snap.Vars = make(map[string]assembly.EncodedValue, len(x.Vars))
	}
	for name, v := range x.Vars {
		e, err := v.Encode()
		if err != nil {
			return nil, fmt.Errorf("scriptstore: capture %s: variable %s: %w", t.ID, name, err)
		}
		snap.Vars[name] = e
	}
	return snap, nil
}

// Restore rebuilds the task. Functions and objects are found again in
// ns; opts are added to the execution options (a step limit, usually).
func (s *Snapshot) Restore(ns *script.Namespace, opts ...assembly.Option) (*scheduler.Task, error) {
	program, err := assembly.Decode(s.Program, ns.Resolve)
	if err != nil {
		return nil, fmt.Errorf("scriptstore: restore %s: %w", s.ID, err)
	}
	stack := make([]assembly.Value, len(s.Stack))
	for i, e := range s.Stack {
		if stack[i], err = e.Decode(ns.Resolve); err != nil {
			return nil, fmt.Errorf("scriptstore: restore %s: stack: %w", s.ID, err)
		}
	}
	vars := make(map[string]assembly.Value, len(s.Vars))
	for name, e := range s.Vars {
		if vars[name], err = e.Decode(ns.Resolve); err != nil {
			return nil, fmt.Errorf("scriptstore: restore %s: variable %s: %w", s.ID, name, err)
		}
	}
	base := []assembly.Option{
		assembly.WithEntry(s.Cursor),
		assembly.WithSteps(s.Steps),
		assembly.WithStack(stack...),
		assembly.WithVars(vars),
		assembly.WithGlobals(ns),
	}
	return &scheduler.Task{
		ID:     s.ID,
		Script: s.Script,
		Owner:  s.Owner,
		Exec:   assembly.NewExecution(program, append(base, opts...)...),
		WakeAt: s.WakeAt,
	}, nil
}
