package assembly

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Instruction is one step of a program. Process reads and writes the
// execution stack and variables and tells the loop where to go next.
type Instruction interface {
	Name() string
	Process(ctx context.Context, x *Execution) Outcome
}

// OutcomeKind tells the execution loop what to do after an instruction.
type OutcomeKind uint8

const (
	OutcomeContinue OutcomeKind = iota // move to the next instruction
	OutcomeJump                        // move to Target
	OutcomeHalt                        // stop, the execution is over
	OutcomeSuspend                     // move to the next instruction, then yield for Wait
	OutcomeFail                        // stop with Err
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeContinue:
		return "continue"
	case OutcomeJump:
		return "jump"
	case OutcomeHalt:
		return "halt"
	case OutcomeSuspend:
		return "suspend"
	case OutcomeFail:
		return "fail"
	default:
		return fmt.Sprintf("OutcomeKind(%d)", uint8(k))
	}
}

// Outcome is the result of processing an instruction.
type Outcome struct {
	Kind   OutcomeKind
	Target int
	Wait   time.Duration
	Err    error
}

func Continue() Outcome         { return Outcome{Kind: OutcomeContinue} }
func JumpTo(target int) Outcome { return Outcome{Kind: OutcomeJump, Target: target} }
func Halt() Outcome             { return Outcome{Kind: OutcomeHalt} }
func Fail(err error) Outcome    { return Outcome{Kind: OutcomeFail, Err: err} }

// Suspend advances past the instruction and returns control to the host,
// which should resume the execution after d.
func Suspend(d time.Duration) Outcome { return Outcome{Kind: OutcomeSuspend, Wait: d} }

// EncodedInstruction is the storable form of an instruction: its opcode and
// whichever operands it has.
type EncodedInstruction struct {
	Op     string        `cbor:"op" json:"op"`
	Value  *EncodedValue `cbor:"v,omitempty" json:"value,omitempty"`
	Name   string        `cbor:"n,omitempty" json:"name,omitempty"`
	Target int           `cbor:"t,omitempty" json:"target,omitempty"`
	Keep   bool          `cbor:"k,omitempty" json:"keep,omitempty"`
	Argc   int           `cbor:"a,omitempty" json:"argc,omitempty"`
}

// encoder is implemented by instructions with operands.
type encoder interface {
	encode() (EncodedInstruction, error)
}

// operander is implemented by instructions with operands to list.
type operander interface {
	Operands() []string
}

// DecodeFunc rebuilds an instruction from its stored form.
type DecodeFunc func(e EncodedInstruction, resolve Resolver) (Instruction, error)

var (
	opcodesMu sync.RWMutex
	opcodes   = make(map[string]DecodeFunc)
)

// Register adds an opcode to the instruction table. Registering the same
// name twice panics; it is meant to be called from init functions.
func Register(name string, decode DecodeFunc) {
	opcodesMu.Lock()
	defer opcodesMu.Unlock()
	if _, dup := opcodes[name]; dup {
		panic("assembly: Register called twice for opcode " + name)
	}
	opcodes[name] = decode
}

// Lookup returns the decoder registered for an opcode.
func Lookup(name string) (DecodeFunc, bool) {
	opcodesMu.RLock()
	defer opcodesMu.RUnlock()
	d, ok := opcodes[name]
	return d, ok
}

// Opcodes returns the registered opcode names, sorted.
func Opcodes() []string {
	opcodesMu.RLock()
	defer opcodesMu.RUnlock()
	names := make([]string, 0, len(opcodes))
	for name := range opcodes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Encode returns the storable form of a program.
func Encode(p *Program) ([]EncodedInstruction, error) {
	out := make([]EncodedInstruction, p.Len())
	for i, instr := range p.instructions {
		e := EncodedInstruction{Op: instr.Name()}
		if enc, ok := instr.(encoder); ok {
			var err error
			if e, err = enc.encode(); err != nil {
				return nil, fmt.Errorf("assembly: encode %d (%s): %w", i, instr.Name(), err)
			}
		}
		out[i] = e
	}
	return out, nil
}

// Decode rebuilds a program from its stored form. resolve is only needed
// when CONST operands hold functions or objects.
func Decode(encoded []EncodedInstruction, resolve Resolver) (*Program, error) {
	instrs := make([]Instruction, len(encoded))
	for i, e := range encoded {
		decode, ok := Lookup(e.Op)
		if !ok {
			return nil, fmt.Errorf("assembly: decode %d: %w: %q", i, ErrUnknownOpcode, e.Op)
		}
		instr, err := decode(e, resolve)
		if err != nil {
			return nil, fmt.Errorf("assembly: decode %d (%s): %w", i, e.Op, err)
		}
		instrs[i] = instr
	}
	return NewProgram(instrs...), nil
}

// Operands lists the operands of instr as they appear in listings.
func Operands(instr Instruction) []string {
	if o, ok := instr.(operander); ok {
		return o.Operands()
	}
	return nil
}
