// Package ast holds the syntax tree of a script. Each node checks its own
// types and emits its own instructions.
package ast

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/crystal-mush/mudscript/pkg/scripting/assembly"
	"github.com/crystal-mush/mudscript/pkg/scripting/token"
	"github.com/crystal-mush/mudscript/pkg/scripting/typecheck"
)

// Node is an expression or a statement. Statements have type TNone.
type Node interface {
	fmt.Stringer
	CheckTypes(c *typecheck.Checker) (typecheck.Type, error)
	Compile(b *assembly.Builder)
}

// Int is an integer literal.
type Int struct {
	Pos   token.Pos
	Value int64
}

func (n *Int) String() string { return strconv.FormatInt(n.Value, 10) }

func (n *Int) CheckTypes(*typecheck.Checker) (typecheck.Type, error) { return typecheck.TInt, nil }

func (n *Int) Compile(b *assembly.Builder) { b.Emit(assembly.Const{Value: assembly.Int(n.Value)}) }

// Float is a float literal.
type Float struct {
	Pos   token.Pos
	Value float64
}

func (n *Float) String() string { return assembly.Float(n.Value).String() }

func (n *Float) CheckTypes(*typecheck.Checker) (typecheck.Type, error) {
	return typecheck.TFloat, nil
}

func (n *Float) Compile(b *assembly.Builder) {
	b.Emit(assembly.Const{Value: assembly.Float(n.Value)})
}

// String is a string literal.
type String struct {
	Pos   token.Pos
	Value string
}

func (n *String) String() string { return strconv.Quote(n.Value) }

func (n *String) CheckTypes(*typecheck.Checker) (typecheck.Type, error) {
	return typecheck.TString, nil
}

func (n *String) Compile(b *assembly.Builder) {
	b.Emit(assembly.Const{Value: assembly.Str(n.Value)})
}

// Bool is true or false.
type Bool struct {
	Pos   token.Pos
	Value bool
}

func (n *Bool) String() string { return strconv.FormatBool(n.Value) }

func (n *Bool) CheckTypes(*typecheck.Checker) (typecheck.Type, error) { return typecheck.TBool, nil }

func (n *Bool) Compile(b *assembly.Builder) {
	b.Emit(assembly.Const{Value: assembly.Bool(n.Value)})
}

// Ident reads a variable or a dotted attribute.
type Ident struct {
	Pos  token.Pos
	Name string
}

func (n *Ident) String() string { return n.Name }

func (n *Ident) CheckTypes(c *typecheck.Checker) (typecheck.Type, error) {
	return c.Var(n.Pos, n.Name)
}

func (n *Ident) Compile(b *assembly.Builder) { b.Emit(assembly.Load{Var: n.Name}) }

// Neg is the unary minus.
type Neg struct {
	Pos token.Pos
	X   Node
}

func (n *Neg) String() string { return "-" + n.X.String() }

func (n *Neg) CheckTypes(c *typecheck.Checker) (typecheck.Type, error) {
	t, err := n.X.CheckTypes(c)
	if err != nil {
		return 0, err
	}
	if err := c.Expect(n.Pos, t, typecheck.TNumber, "unary -"); err != nil {
		return 0, err
	}
	return t & typecheck.TNumber, nil
}

func (n *Neg) Compile(b *assembly.Builder) {
	n.X.Compile(b)
	b.Emit(assembly.Neg{})
}

// BinOp is an arithmetic operation: + - * /.
type BinOp struct {
	Pos         token.Pos
	Op          string
	Left, Right Node
}

func (n *BinOp) String() string {
	return "(" + n.Left.String() + " " + n.Op + " " + n.Right.String() + ")"
}

func (n *BinOp) CheckTypes(c *typecheck.Checker) (typecheck.Type, error) {
	l, err := n.Left.CheckTypes(c)
	if err != nil {
		return 0, err
	}
	r, err := n.Right.CheckTypes(c)
	if err != nil {
		return 0, err
	}
	switch {
	case n.Op == "+" && (l == typecheck.TString || r == typecheck.TString):
		if !typecheck.TString.Accepts(l) || !typecheck.TString.Accepts(r) {
			return 0, c.Errorf(n.Pos, "operator +: cannot add %s and %s", l, r)
		}
		return typecheck.TString, nil
	case n.Op == "*" && (l == typecheck.TString && typecheck.TInt.Accepts(r) ||
		r == typecheck.TString && typecheck.TInt.Accepts(l)):
		return typecheck.TString, nil
	}
	if err := c.Expect(n.Pos, l, typecheck.TNumber, "operator "+n.Op+", left side"); err != nil {
		return 0, err
	}
	if err := c.Expect(n.Pos, r, typecheck.TNumber, "operator "+n.Op+", right side"); err != nil {
		return 0, err
	}
	switch {
	case n.Op == "/":
		return typecheck.TFloat, nil
	case l == typecheck.TInt && r == typecheck.TInt:
		return typecheck.TInt, nil
	case l == typecheck.TFloat || r == typecheck.TFloat:
		return typecheck.TFloat, nil
	}
	return typecheck.TNumber, nil
}

var binaryOpcodes = map[string]assembly.Instruction{
	"+":  assembly.Add,
	"-":  assembly.Sub,
	"*":  assembly.Mul,
	"/":  assembly.Div,
	"==": assembly.Eq,
	"!=": assembly.Ne,
	"<":  assembly.Lt,
	"<=": assembly.Le,
	">":  assembly.Gt,
	">=": assembly.Ge,
}

func (n *BinOp) Compile(b *assembly.Builder) {
	n.Left.Compile(b)
	n.Right.Compile(b)
	b.Emit(binaryOpcodes[n.Op])
}

// Relop is a comparison, possibly chained: a < b <= c means
// a < b and b <= c.
type Relop struct {
	Pos      token.Pos
	Ops      []string // len(Ops) == len(Operands)-1
	Operands []Node
}

func (n *Relop) String() string {
	var sb strings.Builder
	sb.WriteString("(")
	sb.WriteString(n.Operands[0].String())
	for i, op := range n.Ops {
		sb.WriteString(" " + op + " " + n.Operands[i+1].String())
	}
	sb.WriteString(")")
	return sb.String()
}

func (n *Relop) CheckTypes(c *typecheck.Checker) (typecheck.Type, error) {
	types := make([]typecheck.Type, len(n.Operands))
	for i, o := range n.Operands {
		t, err := o.CheckTypes(c)
		if err != nil {
			return 0, err
		}
		types[i] = t
	}
	for i, op := range n.Ops {
		if op == "==" || op == "!=" {
			continue
		}
		l, r := types[i], types[i+1]
		numbers := typecheck.TNumber.Accepts(l) && typecheck.TNumber.Accepts(r)
		strs := typecheck.TString.Accepts(l) && typecheck.TString.Accepts(r)
		if !numbers && !strs {
			return 0, c.Errorf(n.Pos, "operator %s: cannot compare %s and %s", op, l, r)
		}
	}
	return typecheck.TBool, nil
}

// Compile evaluates each comparison in turn. A false result jumps to the
// end keeping false on the stack; a true one is dropped before the next
// comparison, so the last comparison gives the result.
func (n *Relop) Compile(b *assembly.Builder) {
	var jumps []int
	for i, op := range n.Ops {
		if i > 0 {
			jumps = append(jumps, b.Emit(assembly.IfFalse{}))
		}
		n.Operands[i].Compile(b)
		n.Operands[i+1].Compile(b)
		b.Emit(binaryOpcodes[op])
	}
	end := b.Next()
	for _, j := range jumps {
		b.Patch(j, assembly.IfFalse{Target: end})
	}
}

// And is the short-circuit "and": the left value if it is falsy, the right
// value otherwise.
type And struct {
	Pos         token.Pos
	Left, Right Node
}

func (n *And) String() string { return "(" + n.Left.String() + " and " + n.Right.String() + ")" }

func (n *And) CheckTypes(c *typecheck.Checker) (typecheck.Type, error) {
	return checkBoth(c, n.Left, n.Right)
}

func (n *And) Compile(b *assembly.Builder) {
	n.Left.Compile(b)
	j := b.Emit(assembly.IfFalse{})
	n.Right.Compile(b)
	b.Patch(j, assembly.IfFalse{Target: b.Next()})
}

// Or is the short-circuit "or": the left value if it is truthy, the right
// value otherwise.
type Or struct {
	Pos         token.Pos
	Left, Right Node
}

func (n *Or) String() string { return "(" + n.Left.String() + " or " + n.Right.String() + ")" }

func (n *Or) CheckTypes(c *typecheck.Checker) (typecheck.Type, error) {
	return checkBoth(c, n.Left, n.Right)
}

func (n *Or) Compile(b *assembly.Builder) {
	n.Left.Compile(b)
	j := b.Emit(assembly.IfTrue{})
	n.Right.Compile(b)
	b.Patch(j, assembly.IfTrue{Target: b.Next()})
}

func checkBoth(c *typecheck.Checker, left, right Node) (typecheck.Type, error) {
	l, err := left.CheckTypes(c)
	if err != nil {
		return 0, err
	}
	r, err := right.CheckTypes(c)
	if err != nil {
		return 0, err
	}
	return l | r, nil
}

// Not is the boolean negation.
type Not struct {
	Pos token.Pos
	X   Node
}

func (n *Not) String() string { return "not " + n.X.String() }

func (n *Not) CheckTypes(c *typecheck.Checker) (typecheck.Type, error) {
	if _, err := n.X.CheckTypes(c); err != nil {
		return 0, err
	}
	return typecheck.TBool, nil
}

func (n *Not) Compile(b *assembly.Builder) {
	n.X.Compile(b)
	b.Emit(assembly.Not{})
}

// Call calls a function or a method: print("hi"), character.msg("hi").
type Call struct {
	Pos  token.Pos
	Name string
	Args []Node
}

func (n *Call) String() string {
	args := make([]string, len(n.Args))
	for i, a := range n.Args {
		args[i] = a.String()
	}
	return n.Name + "(" + strings.Join(args, ", ") + ")"
}

func (n *Call) CheckTypes(c *typecheck.Checker) (typecheck.Type, error) {
	types := make([]typecheck.Type, len(n.Args))
	for i, a := range n.Args {
		t, err := a.CheckTypes(c)
		if err != nil {
			return 0, err
		}
		types[i] = t
	}
	return c.Call(n.Pos, n.Name, types)
}

func (n *Call) Compile(b *assembly.Builder) {
	b.Emit(assembly.Load{Var: n.Name})
	for _, a := range n.Args {
		a.Compile(b)
	}
	b.Emit(assembly.Call{Argc: len(n.Args)})
}
