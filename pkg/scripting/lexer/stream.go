package lexer

import (
	"fmt"
	"strings"

	"github.com/crystal-mush/mudscript/pkg/scripting/token"
)

// CharacterStream is the source text being tokenized.
//
// Reading happens at the cursor. A matcher eats characters and either
// succeeds, in which case Digest moves the committed position up to the
// cursor, or fails, in which case Restore gives the characters back so the
// next matcher sees them.
type CharacterStream struct {
	chars  []rune
	pos    int
	cursor int

	// line bookkeeping at the committed position
	line      int
	lineStart int

	// line bookkeeping at the cursor
	curLine      int
	curLineStart int
}

// NewCharacterStream wraps source text.
func NewCharacterStream(src string) *CharacterStream {
	return &CharacterStream{
		chars:   []rune(src),
		line:    1,
		curLine: 1,
	}
}

// Pos returns the committed position.
func (s *CharacterStream) Pos() int { return s.pos }

// Cursor returns the read position.
func (s *CharacterStream) Cursor() int { return s.cursor }

// Empty reports whether every character has been read. With checkCursor the
// cursor is tested, otherwise the committed position.
func (s *CharacterStream) Empty(checkCursor bool) bool {
	p := s.pos
	if checkCursor {
		p = s.cursor
	}
	return p >= len(s.chars)
}

// Digest commits everything read since the last Digest or Restore.
func (s *CharacterStream) Digest() {
	s.pos = s.cursor
	s.line = s.curLine
	s.lineStart = s.curLineStart
}

// Restore rewinds the cursor to the committed position.
func (s *CharacterStream) Restore() {
	s.cursor = s.pos
	s.curLine = s.line
	s.curLineStart = s.lineStart
}

// Rest returns the unread characters from the cursor.
func (s *CharacterStream) Rest() string {
	return string(s.chars[s.cursor:])
}

// HasPrefix reports whether the unread text starts with prefix.
func (s *CharacterStream) HasPrefix(prefix string) bool {
	i := s.cursor
	for _, r := range prefix {
		if i >= len(s.chars) || s.chars[i] != r {
			return false
		}
		i++
	}
	return true
}

// Peek returns the character under the cursor without reading it.
func (s *CharacterStream) Peek() (rune, bool) {
	if s.Empty(true) {
		return 0, false
	}
	return s.chars[s.cursor], true
}

// EatOne reads one character.
func (s *CharacterStream) EatOne() (rune, error) {
	if s.Empty(true) {
		return 0, s.Errorf("cannot read one more character")
	}
	r := s.chars[s.cursor]
	s.cursor++
	if r == '\n' {
		s.curLine++
		s.curLineStart = s.cursor
	}
	return r, nil
}

// EatPrefix reads prefix if the unread text starts with it.
func (s *CharacterStream) EatPrefix(prefix string) bool {
	if !s.HasPrefix(prefix) {
		return false
	}
	for range prefix {
		s.EatOne()
	}
	return true
}

// EatWhile reads characters as long as test accepts them and returns them.
// It never fails, an empty result means nothing matched.
func (s *CharacterStream) EatWhile(test func(rune) bool) string {
	start := s.cursor
	for !s.Empty(true) && test(s.chars[s.cursor]) {
		s.EatOne()
	}
	return string(s.chars[start:s.cursor])
}

// EatUntil reads up to (not including) the first occurrence of delim.
func (s *CharacterStream) EatUntil(delim string) (string, error) {
	start := s.cursor
	for !s.HasPrefix(delim) {
		if _, err := s.EatOne(); err != nil {
			return "", s.Errorf("cannot find %q", delim)
		}
	}
	return string(s.chars[start:s.cursor]), nil
}

// position describes the committed position, where the token being matched
// starts.
func (s *CharacterStream) position() token.Pos {
	return token.Pos{
		Line:   s.line,
		Column: s.pos - s.lineStart + 1,
		Text:   s.lineText(s.lineStart),
	}
}

func (s *CharacterStream) lineText(start int) string {
	end := start
	for end < len(s.chars) && s.chars[end] != '\n' {
		end++
	}
	return strings.TrimRight(string(s.chars[start:end]), "\r")
}

// Errorf builds a parse error at the cursor.
func (s *CharacterStream) Errorf(format string, args ...any) *token.ParseError {
	return &token.ParseError{
		Pos: token.Pos{
			Line:   s.curLine,
			Column: s.cursor - s.curLineStart + 1,
			Text:   s.lineText(s.curLineStart),
		},
		Message: fmt.Sprintf(format, args...),
	}
}
