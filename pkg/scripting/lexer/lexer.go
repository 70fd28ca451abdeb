// Package lexer turns script source text into tokens.
package lexer

import (
	"errors"
	"strconv"
	"strings"
	"unicode"

	"github.com/crystal-mush/mudscript/pkg/scripting/token"
	"github.com/lithammer/dedent"
)

// errNoMatch tells Tokenize to restore the stream and try the next matcher.
var errNoMatch = errors.New("no match")

// matcher tries to read one token at the stream cursor. A nil token with a
// nil error means the characters were consumed but produce no token
// (whitespace, comments).
type matcher func(s *CharacterStream) (*token.Token, error)

// matchers are tried in order; the first one that matches wins.
var matchers = []matcher{
	matchBlank,
	matchComment,
	matchNewline,
	matchString,
	matchNumber,
	matchWord,
	matchSymbol,
}

// Tokenize reads every token of src. It returns token.ErrNeedMore when the
// source ends inside a multi-line string.
func Tokenize(src string) ([]token.Token, error) {
	s := NewCharacterStream(src)
	var tokens []token.Token
	for !s.Empty(false) {
		matched := false
		for _, m := range matchers {
			pos := s.position()
			tok, err := m(s)
			if errors.Is(err, errNoMatch) {
				s.Restore()
				continue
			}
			if err != nil {
				return nil, err
			}
			s.Digest()
			matched = true
			if tok != nil {
				tok.Pos = pos
				tokens = append(tokens, *tok)
			}
			break
		}
		if !matched {
			r, _ := s.Peek()
			return nil, s.Errorf("unexpected character: %q", r)
		}
	}
	return tokens, nil
}

func matchBlank(s *CharacterStream) (*token.Token, error) {
	if s.EatWhile(func(r rune) bool { return r == ' ' || r == '\t' || r == '\r' }) == "" {
		return nil, errNoMatch
	}
	return nil, nil
}

func matchComment(s *CharacterStream) (*token.Token, error) {
	if !s.EatPrefix("#") {
		return nil, errNoMatch
	}
	s.EatWhile(func(r rune) bool { return r != '\n' })
	return nil, nil
}

func matchNewline(s *CharacterStream) (*token.Token, error) {
	if !s.EatPrefix("\n") {
		return nil, errNoMatch
	}
	return &token.Token{Kind: token.Newline, Text: "\n"}, nil
}

// stringSyntax describes one way of writing a string literal.
type stringSyntax struct {
	begin, end string
	multiline  bool
	fold       bool // join lines with spaces after dedenting
}

var stringSyntaxes = []stringSyntax{
	{begin: `""|`, end: `|""`, multiline: true},
	{begin: `"">`, end: `<""`, multiline: true, fold: true},
	{begin: `'`, end: `'`},
	{begin: `"`, end: `"`},
}

// matchString reads a string literal:
//
//	"one line" or 'one line'
//	"">
//	    folded paragraph, dedented, line breaks become spaces
//	<""
//	""|
//	    preserved paragraph, dedented, line breaks kept
//	|""
func matchString(s *CharacterStream) (*token.Token, error) {
	for _, syn := range stringSyntaxes {
		if !s.EatPrefix(syn.begin) {
			continue
		}
		var b strings.Builder
		for !s.HasPrefix(syn.end) {
			r, err := s.EatOne()
			if err != nil {
				if syn.multiline {
					return nil, token.ErrNeedMore
				}
				return nil, s.Errorf("unterminated string")
			}
			if r == '\n' && !syn.multiline {
				return nil, s.Errorf("multiline strings are not supported with this syntax")
			}
			b.WriteRune(r)
		}
		s.EatPrefix(syn.end)

		text := b.String()
		if syn.multiline {
			text = dedent.Dedent(strings.TrimRight(strings.TrimLeft(text, "\n"), " \t\r\n"))
		}
		if syn.fold {
			lines := strings.Split(text, "\n")
			for i, line := range lines {
				lines[i] = strings.TrimSpace(line)
			}
			text = strings.Join(lines, " ")
		}
		return &token.Token{Kind: token.Str, Text: text}, nil
	}
	return nil, errNoMatch
}

func matchNumber(s *CharacterStream) (*token.Token, error) {
	digits := s.EatWhile(unicode.IsDigit)
	if digits == "" {
		return nil, errNoMatch
	}
	if s.HasPrefix(".") {
		rest := []rune(s.Rest())
		if len(rest) > 1 && unicode.IsDigit(rest[1]) {
			s.EatOne()
			frac := s.EatWhile(unicode.IsDigit)
			return &token.Token{Kind: token.Float, Text: digits + "." + frac}, nil
		}
	}
	if _, err := strconv.ParseInt(digits, 10, 64); err != nil {
		return nil, s.Errorf("integer out of range: %s", digits)
	}
	return &token.Token{Kind: token.Int, Text: digits}, nil
}

func matchWord(s *CharacterStream) (*token.Token, error) {
	r, ok := s.Peek()
	if !ok || !(unicode.IsLetter(r) || r == '_') {
		return nil, errNoMatch
	}
	word := s.EatWhile(func(r rune) bool {
		return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_'
	})
	if token.Keywords[word] {
		return &token.Token{Kind: token.Keyword, Text: word}, nil
	}
	return &token.Token{Kind: token.ID, Text: word}, nil
}

// symbols are ordered so that two-character operators win.
var symbols = []string{
	"==", "!=", "<=", ">=",
	"<", ">", "=", "+", "-", "*", "/", "(", ")", ":", ",", ".",
}

func matchSymbol(s *CharacterStream) (*token.Token, error) {
	for _, sym := range symbols {
		if s.EatPrefix(sym) {
			return &token.Token{Kind: token.Symbol, Text: sym}, nil
		}
	}
	return nil, errNoMatch
}
