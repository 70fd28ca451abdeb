// Package token defines the lexical tokens of the scripting language and the
// errors shared by the lexer and the parser.
package token

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a token.
type Kind int

const (
	Invalid Kind = iota
	Int          // 42
	Float        // 4.2
	Str          // "text"
	ID           // name
	Keyword      // if, while, and...
	Symbol       // == ( , ...
	Newline      // statement separator
)

// String returns the tag used in grammar descriptions.
func (k Kind) String() string {
	switch k {
	case Int:
		return "INT"
	case Float:
		return "FLOAT"
	case Str:
		return "STR"
	case ID:
		return "ID"
	case Keyword:
		return "KEYWORD"
	case Symbol:
		return "SYMBOL"
	case Newline:
		return "NEWLINE"
	default:
		return "INVALID"
	}
}

// Keywords are the reserved words of the language.
var Keywords = map[string]bool{
	"if":    true,
	"else":  true,
	"end":   true,
	"while": true,
	"and":   true,
	"or":    true,
	"not":   true,
	"true":  true,
	"false": true,
}

// Pos locates a token in the source.
type Pos struct {
	Line   int    // 1-based
	Column int    // 1-based
	Text   string // full text of the line
}

// Token is a single lexical unit.
type Token struct {
	Kind Kind
	Text string
	Pos  Pos
}

func (t Token) String() string {
	if t.Kind == Newline {
		return "<NEWLINE>"
	}
	return fmt.Sprintf("<%s %q>", t.Kind, t.Text)
}

// ErrNeedMore is returned when the input ended inside an open construct
// (an unterminated multi-line string, an if block without end...). More
// lines may complete it.
var ErrNeedMore = errors.New("script: need more input")

// ParseError reports a lexing or parsing failure at a given position.
type ParseError struct {
	Pos     Pos
	Message string

	// Furthest is the deepest failure seen while backtracking, when it
	// differs from this one.
	Furthest *ParseError
}

func (e *ParseError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "line %d, column %d: %s", e.Pos.Line, e.Pos.Column, e.Message)
	if f := e.Furthest; f != nil && f != e {
		fmt.Fprintf(&b, " (furthest failure at line %d, column %d: %s)", f.Pos.Line, f.Pos.Column, f.Message)
	}
	return b.String()
}

// Report formats the error for a script author, with the offending line and
// a caret under the failing column.
func (e *ParseError) Report() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%d]: %s\n", e.Pos.Line, e.Pos.Text)
	if e.Pos.Column > 0 {
		prefix := fmt.Sprintf("[%d]: ", e.Pos.Line)
		b.WriteString(strings.Repeat(" ", len(prefix)+e.Pos.Column-1))
		b.WriteString("^\n")
	}
	b.WriteString("  ")
	b.WriteString(e.Message)
	return b.String()
}
