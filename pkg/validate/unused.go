package validate

import (
	"fmt"
	"sort"
	"strings"

	"github.com/crystal-mush/mudscript/pkg/scripting/ast"
	"github.com/crystal-mush/mudscript/pkg/scripting/grammar"
	"github.com/crystal-mush/mudscript/pkg/scripting/lexer"
	"github.com/crystal-mush/mudscript/pkg/scripting/token"
)

// UnusedChecker flags variables a script assigns and never reads, usually
// a typo in a later use. Scripts that do not parse are skipped.
type UnusedChecker struct{}

func (c *UnusedChecker) Name() string { return "unused" }

func (c *UnusedChecker) Check(corpus *Corpus) []Finding {
	var findings []Finding
	for _, r := range corpus.Records {
		toks, err := lexer.Tokenize(r.Source)
		if err != nil {
			continue
		}
		root, err := grammar.ParseProgram(toks)
		if err != nil {
			continue
		}
		u := &usage{assigned: make(map[string]token.Pos), read: make(map[string]bool)}
		u.walk(root)

		var names []string
		for name := range u.assigned {
			if !u.read[name] {
				names = append(names, name)
			}
		}
		sort.Strings(names)
		for _, name := range names {
			pos := u.assigned[name]
			findings = append(findings, Finding{
				Category:    CatUnused,
				Severity:    SevWarning,
				Script:      r.Name,
				Event:       r.Event,
				Owner:       r.Owner,
				Line:        pos.Line,
				Column:      pos.Column,
				Description: fmt.Sprintf("variable %s is assigned but never used", name),
				Current:     sourceLine(r.Source, pos.Line),
			})
		}
	}
	return findings
}

type usage struct {
	assigned map[string]token.Pos // First assignment
	read     map[string]bool
}

// root of a dotted name: character.msg reads character.
func root(name string) string {
	r, _, _ := strings.Cut(name, ".")
	return r
}

func (u *usage) walk(n ast.Node) {
	switch n := n.(type) {
	case *ast.Block:
		for _, s := range n.Stmts {
			u.walk(s)
		}
	case *ast.Assign:
		u.walk(n.Value)
		if _, ok := u.assigned[n.Name]; !ok && !strings.Contains(n.Name, ".") {
			u.assigned[n.Name] = n.Pos
		}
	case *ast.ExprStmt:
		u.walk(n.X)
	case *ast.If:
		u.walk(n.Cond)
		u.walk(n.Then)
		if n.Else != nil {
			u.walk(n.Else)
		}
	case *ast.While:
		u.walk(n.Cond)
		u.walk(n.Body)
	case *ast.Ident:
		u.read[root(n.Name)] = true
	case *ast.Call:
		u.read[root(n.Name)] = true
		for _, a := range n.Args {
			u.walk(a)
		}
	case *ast.Neg:
		u.walk(n.X)
	case *ast.Not:
		u.walk(n.X)
	case *ast.BinOp:
		u.walk(n.Left)
		u.walk(n.Right)
	case *ast.And:
		u.walk(n.Left)
		u.walk(n.Right)
	case *ast.Or:
		u.walk(n.Left)
		u.walk(n.Right)
	case *ast.Relop:
		for _, o := range n.Operands {
			u.walk(o)
		}
	}
}
