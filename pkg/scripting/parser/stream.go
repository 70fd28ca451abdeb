package parser

import (
	"fmt"
	"unicode/utf8"

	"github.com/crystal-mush/mudscript/pkg/scripting/token"
)

// Stream is a token sequence read by parsers.
//
// Parsers read at the cursor. Backtracking is done by saving Cursor and
// calling SetCursor with the saved value; nothing else moves the cursor
// backward.
type Stream struct {
	tokens []token.Token
	pos    int
	cursor int

	furthest       *token.ParseError
	furthestCursor int
}

// NewStream wraps tokens produced by the lexer.
func NewStream(tokens []token.Token) *Stream {
	return &Stream{tokens: tokens, furthestCursor: -1}
}

// Cursor returns the index of the next token to read.
func (s *Stream) Cursor() int { return s.cursor }

// SetCursor moves the read position, usually back to a saved cursor.
func (s *Stream) SetCursor(cursor int) {
	if cursor < 0 {
		cursor = 0
	}
	if cursor > len(s.tokens) {
		cursor = len(s.tokens)
	}
	s.cursor = cursor
}

// Digest commits every token read so far.
func (s *Stream) Digest() { s.pos = s.cursor }

// Restore moves the cursor back to the last committed position.
func (s *Stream) Restore() { s.cursor = s.pos }

// Empty reports whether all tokens have been read. With checkCursor the
// cursor is tested, otherwise the committed position.
func (s *Stream) Empty(checkCursor bool) bool {
	p := s.pos
	if checkCursor {
		p = s.cursor
	}
	return p >= len(s.tokens)
}

// Peek returns the token under the cursor without reading it.
func (s *Stream) Peek() (token.Token, bool) {
	if s.Empty(true) {
		return token.Token{}, false
	}
	return s.tokens[s.cursor], true
}

// Next reads one token.
func (s *Stream) Next() (token.Token, error) {
	if s.Empty(true) {
		return token.Token{}, s.Errorf("unexpected end of input")
	}
	t := s.tokens[s.cursor]
	s.cursor++
	return t, nil
}

// Errorf builds a parse error located at the token under the cursor, or
// just after the last token when the stream is exhausted. The error is
// remembered as the furthest failure when no deeper one was seen.
func (s *Stream) Errorf(format string, args ...any) *token.ParseError {
	err := &token.ParseError{
		Pos:     s.position(),
		Message: fmt.Sprintf(format, args...),
	}
	if s.cursor >= s.furthestCursor {
		s.furthest = err
		s.furthestCursor = s.cursor
	}
	return err
}

// Furthest returns the deepest failure recorded so far, and the cursor it
// happened at. It returns nil and -1 if nothing failed yet.
func (s *Stream) Furthest() (*token.ParseError, int) {
	return s.furthest, s.furthestCursor
}

func (s *Stream) position() token.Pos {
	if s.cursor < len(s.tokens) {
		return s.tokens[s.cursor].Pos
	}
	if len(s.tokens) == 0 {
		return token.Pos{Line: 1, Column: 1}
	}
	last := s.tokens[len(s.tokens)-1]
	pos := last.Pos
	if last.Kind != token.Newline {
		pos.Column += utf8.RuneCountInString(last.Text)
	}
	return pos
}
