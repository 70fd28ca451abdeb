// Package grammar defines the scripting language with the combinators of
// package parser and turns token lists into syntax trees.
//
//	program    := {NEWLINE} block {NEWLINE}
//	block      := statement {newline statement}
//	statement  := call | assign | if | while
//	assign     := name "=" expression
//	if         := "if" expression ":" newline block
//	              [newline "else" ":" newline block] newline "end"
//	while      := "while" expression ":" newline block newline "end"
//	expression := and {"or" and}
//	and        := not {"and" not}
//	not        := "not" not | comparison
//	comparison := sum {("==" | "!=" | "<" | "<=" | ">" | ">=") sum}
//	sum        := product {("+" | "-") product}
//	product    := unary {("*" | "/") unary}
//	unary      := "-" unary | value
//	value      := call | INT | FLOAT | STR | "true" | "false" | name
//	              | "(" expression ")"
//	call       := name "(" [expression {"," expression}] ")"
//	name       := ID {"." ID}
//
// Input ending inside a block (after "if x:" for instance) fails with
// token.ErrNeedMore rather than a parse error.
package grammar

import (
	"strconv"
	"strings"

	"github.com/crystal-mush/mudscript/pkg/scripting/ast"
	"github.com/crystal-mush/mudscript/pkg/scripting/parser"
	"github.com/crystal-mush/mudscript/pkg/scripting/token"
)

// located is a parse result with the position of its first token.
type located struct {
	pos token.Pos
	v   any
}

type atParser struct {
	p parser.Parser
}

// at records the position of the first token read by p.
func at(p parser.Parser) parser.Parser { return &atParser{p: p} }

func (a *atParser) Parse(s *parser.Stream) (any, error) {
	var pos token.Pos
	if t, ok := s.Peek(); ok {
		pos = t.Pos
	}
	v, err := a.p.Parse(s)
	if err != nil {
		return nil, err
	}
	return located{pos: pos, v: v}, nil
}

func (a *atParser) Repr(seen parser.Seen) string { return a.p.Repr(seen) }

func oneOf(texts ...string) parser.Parser {
	ps := make([]parser.Parser, len(texts))
	for i, t := range texts {
		ps[i] = parser.Symbol(t)
	}
	return parser.Alternate(ps...)
}

// binary folds operands separated by operators into left-leaning nodes.
func binary(operand, ops parser.Parser, build func(pos token.Pos, op string, l, r ast.Node) ast.Node) parser.Parser {
	return parser.Exp(operand, at(ops), func(left, sep, right any) any {
		op := sep.(located)
		return build(op.pos, op.v.(string), left.(ast.Node), right.(ast.Node))
	})
}

func arith(pos token.Pos, op string, l, r ast.Node) ast.Node {
	return &ast.BinOp{Pos: pos, Op: op, Left: l, Right: r}
}

func literal(kind token.Kind, build func(pos token.Pos, text string) (ast.Node, error)) parser.Parser {
	return parser.Process(at(parser.Tag(kind)), func(v any) (any, error) {
		l := v.(located)
		return build(l.pos, l.v.(string))
	})
}

// rules is the compiled grammar.
type rules struct {
	program    *parser.PhraseParser
	expression *parser.PhraseParser
	named      []*parser.NamedParser
}

var grammar = build()

func build() *rules {
	var orExp, unary, notExp, statements parser.Parser

	name := parser.Named("name", parser.Process(
		at(parser.Exp(parser.Tag(token.ID), parser.Symbol("."), func(l, _, r any) any {
			return l.(string) + "." + r.(string)
		})),
		func(v any) (any, error) {
			l := v.(located)
			return &ast.Ident{Pos: l.pos, Name: l.v.(string)}, nil
		}))

	expression := parser.Named("expression", parser.Lazy(func() parser.Parser { return orExp }))

	call := parser.Named("call", parser.Process(
		parser.Concat(name, parser.Symbol("("),
			parser.Opt(parser.Concat(expression, parser.Rep(parser.Concat(parser.Symbol(","), expression)))),
			parser.Symbol(")")),
		func(v any) (any, error) {
			parts := v.([]any)
			id := parts[0].(*ast.Ident)
			n := &ast.Call{Pos: id.Pos, Name: id.Name}
			if parts[2] != nil {
				args := parts[2].([]any)
				n.Args = append(n.Args, args[0].(ast.Node))
				for _, more := range args[1].([]any) {
					n.Args = append(n.Args, more.([]any)[1].(ast.Node))
				}
			}
			return n, nil
		}))

	integer := literal(token.Int, func(pos token.Pos, text string) (ast.Node, error) {
		i, err := strconv.ParseInt(text, 10, 64)
		if err != nil {
			return nil, &token.ParseError{Pos: pos, Message: "integer out of range: " + text}
		}
		return &ast.Int{Pos: pos, Value: i}, nil
	})
	floating := literal(token.Float, func(pos token.Pos, text string) (ast.Node, error) {
		f, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return nil, &token.ParseError{Pos: pos, Message: "invalid number: " + text}
		}
		return &ast.Float{Pos: pos, Value: f}, nil
	})
	str := literal(token.Str, func(pos token.Pos, text string) (ast.Node, error) {
		return &ast.String{Pos: pos, Value: text}, nil
	})
	boolean := parser.Process(at(parser.Alternate(parser.Keyword("true"), parser.Keyword("false"))),
		func(v any) (any, error) {
			l := v.(located)
			return &ast.Bool{Pos: l.pos, Value: l.v == "true"}, nil
		})
	group := parser.Process(parser.Concat(parser.Symbol("("), expression, parser.Symbol(")")),
		func(v any) (any, error) { return v.([]any)[1], nil })

	value := parser.Named("value", parser.Alternate(call, integer, floating, str, boolean, name, group))

	// A minus in front of a literal is folded into it.
	unary = parser.Alternate(
		parser.Process(parser.Concat(at(parser.Symbol("-")), parser.Lazy(func() parser.Parser { return unary })),
			func(v any) (any, error) {
				parts := v.([]any)
				pos := parts[0].(located).pos
				switch x := parts[1].(type) {
				case *ast.Int:
					return &ast.Int{Pos: pos, Value: -x.Value}, nil
				case *ast.Float:
					return &ast.Float{Pos: pos, Value: -x.Value}, nil
				}
				return &ast.Neg{Pos: pos, X: parts[1].(ast.Node)}, nil
			}),
		value,
	)

	product := binary(unary, oneOf("*", "/"), arith)
	sum := binary(product, oneOf("+", "-"), arith)

	comparison := parser.Process(
		parser.Concat(sum, parser.Rep(parser.Concat(at(oneOf("==", "!=", "<=", ">=", "<", ">")), sum))),
		func(v any) (any, error) {
			parts := v.([]any)
			first := parts[0].(ast.Node)
			rest := parts[1].([]any)
			if len(rest) == 0 {
				return first, nil
			}
			n := &ast.Relop{Operands: []ast.Node{first}}
			for i, r := range rest {
				pair := r.([]any)
				op := pair[0].(located)
				if i == 0 {
					n.Pos = op.pos
				}
				n.Ops = append(n.Ops, op.v.(string))
				n.Operands = append(n.Operands, pair[1].(ast.Node))
			}
			return n, nil
		})

	notExp = parser.Alternate(
		parser.Process(parser.Concat(at(parser.Keyword("not")), parser.Lazy(func() parser.Parser { return notExp })),
			func(v any) (any, error) {
				parts := v.([]any)
				return &ast.Not{Pos: parts[0].(located).pos, X: parts[1].(ast.Node)}, nil
			}),
		comparison,
	)
	andExp := binary(notExp, parser.Keyword("and"), func(pos token.Pos, _ string, l, r ast.Node) ast.Node {
		return &ast.And{Pos: pos, Left: l, Right: r}
	})
	orExp = binary(andExp, parser.Keyword("or"), func(pos token.Pos, _ string, l, r ast.Node) ast.Node {
		return &ast.Or{Pos: pos, Left: l, Right: r}
	})

	// Line breaks inside a block: running out of input there means the
	// author has more to type.
	newline := parser.Named("newline", parser.NeedMore(
		parser.Concat(parser.Tag(token.Newline), parser.Rep(parser.Tag(token.Newline)))))
	end := parser.NeedMore(parser.Keyword("end"))

	block := parser.Named("block", parser.Lazy(func() parser.Parser { return statements }))

	assign := parser.Named("assign", parser.Process(
		parser.Concat(name, parser.Symbol("="), expression),
		func(v any) (any, error) {
			parts := v.([]any)
			id := parts[0].(*ast.Ident)
			return &ast.Assign{Pos: id.Pos, Name: id.Name, Value: parts[2].(ast.Node)}, nil
		}))

	callStmt := parser.Process(call, func(v any) (any, error) {
		return &ast.ExprStmt{X: v.(ast.Node)}, nil
	})

	ifStmt := parser.Named("if", parser.Process(
		parser.Concat(
			at(parser.Keyword("if")), expression, parser.Symbol(":"), newline, block,
			parser.Opt(parser.Concat(newline, parser.Keyword("else"), parser.Symbol(":"), newline, block)),
			newline, end,
		),
		func(v any) (any, error) {
			parts := v.([]any)
			n := &ast.If{
				Pos:  parts[0].(located).pos,
				Cond: parts[1].(ast.Node),
				Then: parts[4].(ast.Node),
			}
			if parts[5] != nil {
				n.Else = parts[5].([]any)[4].(ast.Node)
			}
			return n, nil
		}))

	whileStmt := parser.Named("while", parser.Process(
		parser.Concat(
			at(parser.Keyword("while")), expression, parser.Symbol(":"), newline, block,
			newline, end,
		),
		func(v any) (any, error) {
			parts := v.([]any)
			return &ast.While{
				Pos:  parts[0].(located).pos,
				Cond: parts[1].(ast.Node),
				Body: parts[4].(ast.Node),
			}, nil
		}))

	statement := parser.Named("statement", parser.Alternate(callStmt, assign, ifStmt, whileStmt))

	statements = parser.Exp(
		parser.Process(statement, func(v any) (any, error) {
			return &ast.Block{Stmts: []ast.Node{v.(ast.Node)}}, nil
		}),
		newline,
		func(l, _, r any) any {
			b := l.(*ast.Block)
			b.Stmts = append(b.Stmts, r.(*ast.Block).Stmts...)
			return b
		})

	blankLines := parser.Rep(parser.Tag(token.Newline))

	return &rules{
		program: parser.Phrase(parser.Process(
			parser.Concat(blankLines, block, blankLines),
			func(v any) (any, error) { return v.([]any)[1], nil })),
		expression: parser.Phrase(parser.Process(
			parser.Concat(expression, blankLines),
			func(v any) (any, error) { return v.([]any)[0], nil })),
		named: []*parser.NamedParser{statement, assign, ifStmt, whileStmt, call, value, name},
	}
}

// Parse reads tokens typed interactively: a lone expression first, so its
// value can be shown, then a program.
func Parse(tokens []token.Token) (ast.Node, error) {
	if len(tokens) == 0 {
		return &ast.Block{}, nil
	}
	if v, err := grammar.expression.Parse(parser.NewStream(tokens)); err == nil {
		return v.(ast.Node), nil
	}
	return ParseProgram(tokens)
}

// ParseProgram reads a whole script.
func ParseProgram(tokens []token.Token) (ast.Node, error) {
	onlyBlank := true
	for _, t := range tokens {
		if t.Kind != token.Newline {
			onlyBlank = false
			break
		}
	}
	if onlyBlank {
		return &ast.Block{}, nil
	}
	v, err := grammar.program.Parse(parser.NewStream(tokens))
	if err != nil {
		return nil, err
	}
	return v.(ast.Node), nil
}

// Rules describes the main grammar rules, one per line.
func Rules() string {
	lines := make([]string, len(grammar.named))
	for i, r := range grammar.named {
		lines[i] = r.Describe()
	}
	return strings.Join(lines, "\n")
}
