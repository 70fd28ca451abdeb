package ast

import (
	"strings"

	"github.com/crystal-mush/mudscript/pkg/scripting/assembly"
	"github.com/crystal-mush/mudscript/pkg/scripting/token"
	"github.com/crystal-mush/mudscript/pkg/scripting/typecheck"
)

// Assign stores the value of an expression: name = value.
type Assign struct {
	Pos   token.Pos
	Name  string
	Value Node
}

func (n *Assign) String() string { return n.Name + " = " + n.Value.String() }

func (n *Assign) CheckTypes(c *typecheck.Checker) (typecheck.Type, error) {
	t, err := n.Value.CheckTypes(c)
	if err != nil {
		return 0, err
	}
	return typecheck.TNone, c.Assign(n.Pos, n.Name, t)
}

func (n *Assign) Compile(b *assembly.Builder) {
	n.Value.Compile(b)
	b.Emit(assembly.Store{Var: n.Name})
}

// ExprStmt is an expression used as a statement, usually a call. Its
// value is discarded.
type ExprStmt struct {
	X Node
}

func (n *ExprStmt) String() string { return n.X.String() }

func (n *ExprStmt) CheckTypes(c *typecheck.Checker) (typecheck.Type, error) {
	if _, err := n.X.CheckTypes(c); err != nil {
		return 0, err
	}
	return typecheck.TNone, nil
}

func (n *ExprStmt) Compile(b *assembly.Builder) {
	n.X.Compile(b)
	b.Emit(assembly.Pop{})
}

// Block is a list of statements.
type Block struct {
	Stmts []Node
}

func (n *Block) String() string {
	lines := make([]string, len(n.Stmts))
	for i, s := range n.Stmts {
		lines[i] = s.String()
	}
	return strings.Join(lines, "\n")
}

func (n *Block) CheckTypes(c *typecheck.Checker) (typecheck.Type, error) {
	for _, s := range n.Stmts {
		if _, err := s.CheckTypes(c); err != nil {
			return 0, err
		}
	}
	return typecheck.TNone, nil
}

func (n *Block) Compile(b *assembly.Builder) {
	for _, s := range n.Stmts {
		s.Compile(b)
	}
}

// If runs Then when Cond is truthy, Else (which may be nil) otherwise.
type If struct {
	Pos  token.Pos
	Cond Node
	Then Node
	Else Node
}

func (n *If) String() string {
	s := "if " + n.Cond.String() + ":\n" + indent(n.Then)
	if n.Else != nil {
		s += "\nelse:\n" + indent(n.Else)
	}
	return s + "\nend"
}

func (n *If) CheckTypes(c *typecheck.Checker) (typecheck.Type, error) {
	if _, err := n.Cond.CheckTypes(c); err != nil {
		return 0, err
	}
	if _, err := n.Then.CheckTypes(c); err != nil {
		return 0, err
	}
	if n.Else != nil {
		if _, err := n.Else.CheckTypes(c); err != nil {
			return 0, err
		}
	}
	return typecheck.TNone, nil
}

// Compile emits:
//
//	cond
//	IFFALSE else
//	then
//	GOTO end      (only with an else branch)
//	else: ...
//	end:
func (n *If) Compile(b *assembly.Builder) {
	n.Cond.Compile(b)
	skip := b.Emit(assembly.IfFalse{Pop: true})
	n.Then.Compile(b)
	if n.Else == nil {
		b.Patch(skip, assembly.IfFalse{Target: b.Next(), Pop: true})
		return
	}
	exit := b.Emit(assembly.Goto{})
	b.Patch(skip, assembly.IfFalse{Target: b.Next(), Pop: true})
	n.Else.Compile(b)
	b.Patch(exit, assembly.Goto{Target: b.Next()})
}

// While repeats Body as long as Cond is truthy.
type While struct {
	Pos  token.Pos
	Cond Node
	Body Node
}

func (n *While) String() string {
	return "while " + n.Cond.String() + ":\n" + indent(n.Body) + "\nend"
}

func (n *While) CheckTypes(c *typecheck.Checker) (typecheck.Type, error) {
	if _, err := n.Cond.CheckTypes(c); err != nil {
		return 0, err
	}
	if _, err := n.Body.CheckTypes(c); err != nil {
		return 0, err
	}
	return typecheck.TNone, nil
}

// Compile emits:
//
//	before: cond
//	IFFALSE after
//	body
//	GOTO before
//	after:
func (n *While) Compile(b *assembly.Builder) {
	before := b.Next()
	n.Cond.Compile(b)
	exit := b.Emit(assembly.IfFalse{Pop: true})
	n.Body.Compile(b)
	b.Emit(assembly.Goto{Target: before})
	b.Patch(exit, assembly.IfFalse{Target: b.Next(), Pop: true})
}

func indent(n Node) string {
	return "    " + strings.ReplaceAll(n.String(), "\n", "\n    ")
}

// Compile checks the types of root when c is not nil and returns its
// program.
func Compile(root Node, c *typecheck.Checker) (*assembly.Program, error) {
	if c != nil {
		if _, err := root.CheckTypes(c); err != nil {
			return nil, err
		}
	}
	b := &assembly.Builder{}
	root.Compile(b)
	return b.Program(), nil
}
