package assembly

import (
	"fmt"
	"strconv"
	"strings"
)

// Program is an immutable list of instructions.
type Program struct {
	instructions []Instruction
}

// NewProgram builds a program from instructions. The slice is copied.
func NewProgram(instrs ...Instruction) *Program {
	p := &Program{instructions: make([]Instruction, len(instrs))}
	copy(p.instructions, instrs)
	return p
}

// Len returns the number of instructions.
func (p *Program) Len() int { return len(p.instructions) }

// At returns the instruction at index i.
func (p *Program) At(i int) Instruction { return p.instructions[i] }

// Instructions returns a copy of the instruction list.
func (p *Program) Instructions() []Instruction {
	out := make([]Instruction, len(p.instructions))
	copy(out, p.instructions)
	return out
}

// Describe formats one instruction with its operands, such as
// "IFFALSE 7 keep".
func Describe(instr Instruction) string {
	if o, ok := instr.(operander); ok {
		if ops := o.Operands(); len(ops) > 0 {
			return instr.Name() + " " + strings.Join(ops, " ")
		}
	}
	return instr.Name()
}

const (
	columns     = 5
	columnWidth = 16
	lineWidth   = 65
)

// Format lists the program. The instruction under cursor is marked with a
// star. With individualLines every instruction gets its own line,
// otherwise they are packed five per line and long operands are replaced
// by their count.
func (p *Program) Format(cursor int, individualLines bool) string {
	var b strings.Builder
	if cursor == 0 {
		b.WriteString("Program, ready to flow")
	} else {
		fmt.Fprintf(&b, "Program, resuming at instruction %d", cursor)
	}

	width := len(strconv.Itoa(max(len(p.instructions)-1, 0)))
	limit := columnWidth - 1
	if individualLines {
		limit = lineWidth
	}
	var row []string
	flush := func() {
		if len(row) == 0 {
			return
		}
		b.WriteByte('\n')
		if individualLines {
			b.WriteString(row[0])
		} else {
			for i, cell := range row {
				if i < len(row)-1 {
					cell = fmt.Sprintf("%-*s", columnWidth, cell)
				}
				b.WriteString(cell)
			}
		}
		row = row[:0]
	}

	for i, instr := range p.instructions {
		cell := fmt.Sprintf("%*d", width, i)
		if i == cursor {
			cell += "*"
		}
		cell += " " + instr.Name()
		var ops []string
		if o, ok := instr.(operander); ok {
			ops = o.Operands()
		}
		if len(ops) > 0 {
			args := strings.Join(ops, " ")
			if len(cell)+1+len(args) > limit {
				cell += "..." + strconv.Itoa(len(ops))
			} else {
				cell += " " + args
			}
		}
		row = append(row, cell)
		if individualLines || len(row) == columns {
			flush()
		}
	}
	flush()
	return b.String()
}

// Builder assembles a program. Forward jumps are emitted with a
// placeholder target and patched once the target is known.
type Builder struct {
	instrs []Instruction
}

// Emit appends an instruction and returns its index.
func (b *Builder) Emit(instr Instruction) int {
	b.instrs = append(b.instrs, instr)
	return len(b.instrs) - 1
}

// Next returns the index the next Emit will use.
func (b *Builder) Next() int { return len(b.instrs) }

// Patch replaces the instruction at index at.
func (b *Builder) Patch(at int, instr Instruction) {
	b.instrs[at] = instr
}

// Program returns the assembled program. The builder can keep emitting
// without affecting it.
func (b *Builder) Program() *Program { return NewProgram(b.instrs...) }
