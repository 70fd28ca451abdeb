// Package parser is a small parser-combinator library working on the tokens
// produced by the lexer.
//
// Every combinator returns an error of type *token.ParseError when its input
// does not match, which lets Alternate and Opt backtrack, or
// token.ErrNeedMore when the input ended in the middle of a construct that
// more lines could complete.
//
// Parsers hold no state between calls and can be shared by goroutines.
package parser

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/crystal-mush/mudscript/pkg/scripting/token"
)

// Parser reads tokens from a stream and returns a result.
type Parser interface {
	Parse(s *Stream) (any, error)

	// Repr describes the grammar the parser accepts. Parsers already in
	// seen print as Name(...) so recursive grammars terminate.
	Repr(seen Seen) string
}

// Seen is the set of parsers already visited by Repr, keyed by identity.
type Seen map[Parser]struct{}

// visit reports whether p was already seen and marks it.
func (seen Seen) visit(p Parser) bool {
	if _, ok := seen[p]; ok {
		return true
	}
	seen[p] = struct{}{}
	return false
}

// String describes p starting from an empty visited set.
func String(p Parser) string {
	return p.Repr(Seen{})
}

func reprSeveral(seen Seen, sep string, parsers ...Parser) string {
	parts := make([]string, len(parsers))
	for i, p := range parsers {
		parts[i] = p.Repr(seen)
	}
	return strings.Join(parts, sep)
}

// isParseError reports whether err is a recoverable mismatch.
func isParseError(err error) bool {
	var perr *token.ParseError
	return errors.As(err, &perr)
}

// TagParser matches one token of a given kind.
type TagParser struct {
	Kind token.Kind
}

// Tag matches one token of kind and returns its text.
func Tag(kind token.Kind) *TagParser { return &TagParser{Kind: kind} }

func (p *TagParser) Parse(s *Stream) (any, error) {
	t, ok := s.Peek()
	if !ok {
		return nil, s.Errorf("expected %s, got end of input", p.Kind)
	}
	if t.Kind != p.Kind {
		return nil, s.Errorf("expected %s, got %s", p.Kind, describe(t))
	}
	s.Next()
	return t.Text, nil
}

func (p *TagParser) Repr(Seen) string { return p.Kind.String() }

// TextParser matches one token of a given kind and text.
type TextParser struct {
	Kind token.Kind
	Text string
}

// Symbol matches the symbol text, such as "==" or "(".
func Symbol(text string) *TextParser {
	return &TextParser{Kind: token.Symbol, Text: text}
}

// Keyword matches the reserved word.
func Keyword(word string) *TextParser {
	return &TextParser{Kind: token.Keyword, Text: word}
}

func (p *TextParser) Parse(s *Stream) (any, error) {
	t, ok := s.Peek()
	if !ok {
		return nil, s.Errorf("expected %q, got end of input", p.Text)
	}
	if t.Kind != p.Kind || t.Text != p.Text {
		return nil, s.Errorf("expected %q, got %s", p.Text, describe(t))
	}
	s.Next()
	return t.Text, nil
}

func (p *TextParser) Repr(Seen) string { return fmt.Sprintf("%q", p.Text) }

func describe(t token.Token) string {
	if t.Kind == token.Newline {
		return "end of line"
	}
	return fmt.Sprintf("%q", t.Text)
}

// ConcatParser matches a sequence.
type ConcatParser struct {
	Parsers []Parser
}

// Concat matches every parser in turn and returns their results as a
// []any of the same length.
func Concat(parsers ...Parser) *ConcatParser { return &ConcatParser{Parsers: parsers} }

func (p *ConcatParser) Parse(s *Stream) (any, error) {
	results := make([]any, 0, len(p.Parsers))
	for _, sub := range p.Parsers {
		r, err := sub.Parse(s)
		if err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, nil
}

func (p *ConcatParser) Repr(seen Seen) string {
	if seen.visit(p) {
		return "Concat(...)"
	}
	return "(" + reprSeveral(seen, " + ", p.Parsers...) + ")"
}

// AlternateParser matches the first of several alternatives.
type AlternateParser struct {
	Parsers []Parser
}

// Alternate tries each parser from the same cursor and returns the result
// of the first that succeeds.
func Alternate(parsers ...Parser) *AlternateParser {
	return &AlternateParser{Parsers: parsers}
}

func (p *AlternateParser) Parse(s *Stream) (any, error) {
	start := s.Cursor()
	needMore := false
	for _, sub := range p.Parsers {
		r, err := sub.Parse(s)
		if err == nil {
			return r, nil
		}
		s.SetCursor(start)
		switch {
		case errors.Is(err, token.ErrNeedMore):
			needMore = true
		case !isParseError(err):
			return nil, err
		}
	}
	if needMore {
		return nil, token.ErrNeedMore
	}
	if furthest, at := s.Furthest(); furthest != nil && at > start {
		return nil, furthest
	}
	names := make([]string, len(p.Parsers))
	for i, sub := range p.Parsers {
		names[i] = String(sub)
	}
	return nil, s.Errorf("expected %s", strings.Join(names, " or "))
}

func (p *AlternateParser) Repr(seen Seen) string {
	if seen.visit(p) {
		return "Alternate(...)"
	}
	return "(" + reprSeveral(seen, " | ", p.Parsers...) + ")"
}

// OptParser matches something or nothing.
type OptParser struct {
	Parser Parser
}

// Opt returns the result of parser, or nil with the cursor unchanged when
// it does not match. ErrNeedMore is passed through.
func Opt(parser Parser) *OptParser { return &OptParser{Parser: parser} }

func (p *OptParser) Parse(s *Stream) (any, error) {
	start := s.Cursor()
	r, err := p.Parser.Parse(s)
	if err != nil {
		if isParseError(err) {
			s.SetCursor(start)
			return nil, nil
		}
		return nil, err
	}
	return r, nil
}

func (p *OptParser) Repr(seen Seen) string {
	if seen.visit(p) {
		return "Opt(...)"
	}
	return "[" + p.Parser.Repr(seen) + "]"
}

// RepParser matches zero or more repetitions.
type RepParser struct {
	Parser Parser
}

// Rep applies parser as long as it matches and returns the results as a
// []any, possibly empty.
func Rep(parser Parser) *RepParser { return &RepParser{Parser: parser} }

func (p *RepParser) Parse(s *Stream) (any, error) {
	results := []any{}
	for {
		start := s.Cursor()
		r, err := p.Parser.Parse(s)
		if err != nil {
			if isParseError(err) {
				s.SetCursor(start)
				return results, nil
			}
			return nil, err
		}
		results = append(results, r)
		if s.Cursor() == start {
			// a repetition that consumed nothing would loop forever
			return results, nil
		}
	}
}

func (p *RepParser) Repr(seen Seen) string {
	if seen.visit(p) {
		return "Rep(...)"
	}
	return "{" + p.Parser.Repr(seen) + "}"
}

// JoinFunc folds one more item into the result of an Exp.
type JoinFunc func(left, sep, right any) any

// ExpParser matches items separated by a separator.
type ExpParser struct {
	Parser    Parser
	Separator Parser
	Join      JoinFunc
}

// Exp matches parser (separator parser)* and folds the results from the
// left with join. The separator result is given to join so that one Exp
// can handle several operators of the same precedence.
//
// The loop stops, with the cursor before the separator, when the separator
// does not match or needs more input, or when the item after it does not
// match. An item needing more input fails the whole Exp with ErrNeedMore.
func Exp(parser, separator Parser, join JoinFunc) *ExpParser {
	return &ExpParser{Parser: parser, Separator: separator, Join: join}
}

func (p *ExpParser) Parse(s *Stream) (any, error) {
	result, err := p.Parser.Parse(s)
	if err != nil {
		return nil, err
	}
	for {
		start := s.Cursor()
		sep, err := p.Separator.Parse(s)
		if err != nil {
			if isParseError(err) || errors.Is(err, token.ErrNeedMore) {
				s.SetCursor(start)
				return result, nil
			}
			return nil, err
		}
		right, err := p.Parser.Parse(s)
		if err != nil {
			if isParseError(err) {
				s.SetCursor(start)
				return result, nil
			}
			return nil, err
		}
		result = p.Join(result, sep, right)
	}
}

func (p *ExpParser) Repr(seen Seen) string {
	if seen.visit(p) {
		return "Exp(...)"
	}
	return "Exp(" + reprSeveral(seen, " AND ", p.Parser, p.Separator) + ")"
}

// LazyParser builds its parser on first use.
type LazyParser struct {
	build  func() Parser
	once   sync.Once
	parser Parser
}

// Lazy defers the construction of a parser, for grammars that refer to
// themselves.
func Lazy(build func() Parser) *LazyParser { return &LazyParser{build: build} }

func (p *LazyParser) resolve() Parser {
	p.once.Do(func() { p.parser = p.build() })
	return p.parser
}

func (p *LazyParser) Parse(s *Stream) (any, error) {
	return p.resolve().Parse(s)
}

func (p *LazyParser) Repr(seen Seen) string {
	if seen.visit(p) {
		return "Lazy(...)"
	}
	return p.resolve().Repr(seen)
}

// ProcessFunc transforms a parse result.
type ProcessFunc func(v any) (any, error)

// ProcessParser maps the result of a parser.
type ProcessParser struct {
	Parser Parser
	Fn     ProcessFunc
}

// Process applies fn to the result of parser. An error from fn is
// returned as is; wrap it in a *token.ParseError (Stream.Errorf) to keep
// it recoverable.
func Process(parser Parser, fn ProcessFunc) *ProcessParser {
	return &ProcessParser{Parser: parser, Fn: fn}
}

func (p *ProcessParser) Parse(s *Stream) (any, error) {
	r, err := p.Parser.Parse(s)
	if err != nil {
		return nil, err
	}
	return p.Fn(r)
}

func (p *ProcessParser) Repr(seen Seen) string { return p.Parser.Repr(seen) }

// NamedParser is a grammar rule with a name.
type NamedParser struct {
	Name   string
	Parser Parser
}

// Named labels parser. Its Repr is the name only, which keeps error
// messages such as "expected statement" readable; Describe gives the
// full rule.
func Named(name string, parser Parser) *NamedParser {
	return &NamedParser{Name: name, Parser: parser}
}

func (p *NamedParser) Parse(s *Stream) (any, error) { return p.Parser.Parse(s) }

func (p *NamedParser) Repr(Seen) string { return p.Name }

// Describe returns "name := rule".
func (p *NamedParser) Describe() string {
	return p.Name + " := " + p.Parser.Repr(Seen{p: {}})
}

// NeedMoreParser asks for more input when the stream is exhausted.
type NeedMoreParser struct {
	Parser Parser
}

// NeedMore returns token.ErrNeedMore if no token is left at the cursor,
// and otherwise runs parser. It marks the places where an interactive
// author is expected to keep typing, such as the body of a block.
func NeedMore(parser Parser) *NeedMoreParser { return &NeedMoreParser{Parser: parser} }

func (p *NeedMoreParser) Parse(s *Stream) (any, error) {
	if s.Empty(true) {
		return nil, token.ErrNeedMore
	}
	return p.Parser.Parse(s)
}

func (p *NeedMoreParser) Repr(seen Seen) string { return p.Parser.Repr(seen) }

// PhraseParser matches the whole input.
type PhraseParser struct {
	Parser Parser
}

// Phrase runs parser and then requires every token to be consumed.
// Leftover tokens fail with "incomplete input"; the deepest failure seen
// during the attempt is attached to the error.
func Phrase(parser Parser) *PhraseParser { return &PhraseParser{Parser: parser} }

func (p *PhraseParser) Parse(s *Stream) (any, error) {
	r, err := p.Parser.Parse(s)
	if err != nil {
		return nil, err
	}
	if s.Empty(true) {
		return r, nil
	}
	furthest, at := s.Furthest()
	perr := s.Errorf("incomplete input")
	if furthest != nil && at > s.Cursor() {
		perr.Furthest = furthest
	}
	return nil, perr
}

func (p *PhraseParser) Repr(seen Seen) string {
	if seen.visit(p) {
		return "Phrase(...)"
	}
	return "phrase" + p.Parser.Repr(seen)
}
