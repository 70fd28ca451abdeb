package parser

import (
	"errors"
	"strconv"
	"strings"
	"testing"

	"github.com/crystal-mush/mudscript/pkg/scripting/lexer"
	"github.com/crystal-mush/mudscript/pkg/scripting/token"
)

func stream(t *testing.T, src string) *Stream {
	t.Helper()
	tokens, err := lexer.Tokenize(src)
	if err != nil {
		t.Fatalf("Tokenize(%q): %v", src, err)
	}
	return NewStream(tokens)
}

func integer() Parser {
	return Process(Tag(token.Int), func(v any) (any, error) {
		return strconv.Atoi(v.(string))
	})
}

func subtract() Parser {
	return Exp(integer(), Alternate(Symbol("-"), Symbol("+")), func(left, sep, right any) any {
		if sep == "+" {
			return left.(int) + right.(int)
		}
		return left.(int) - right.(int)
	})
}

func TestTagAndText(t *testing.T) {
	s := stream(t, "if name")
	if _, err := Tag(token.ID).Parse(s); err == nil {
		t.Fatal("expected ID parser to reject keyword")
	}
	if s.Cursor() != 0 {
		t.Fatalf("failed match moved cursor to %d", s.Cursor())
	}
	r, err := Keyword("if").Parse(s)
	if err != nil || r != "if" {
		t.Fatalf("Keyword: got %v, %v", r, err)
	}
	r, err = Tag(token.ID).Parse(s)
	if err != nil || r != "name" {
		t.Fatalf("Tag: got %v, %v", r, err)
	}
	if !s.Empty(true) {
		t.Error("expected stream to be consumed")
	}
}

func TestConcat(t *testing.T) {
	s := stream(t, "x = 3")
	r, err := Concat(Tag(token.ID), Symbol("="), integer()).Parse(s)
	if err != nil {
		t.Fatalf("Concat: %v", err)
	}
	got := r.([]any)
	if len(got) != 3 || got[0] != "x" || got[1] != "=" || got[2] != 3 {
		t.Errorf("unexpected result %#v", got)
	}
}

func TestAlternateBacktracks(t *testing.T) {
	p := Alternate(
		Concat(Tag(token.ID), Symbol("(")),
		Concat(Tag(token.ID), Symbol("=")),
	)
	s := stream(t, "x = 1")
	r, err := p.Parse(s)
	if err != nil {
		t.Fatalf("Alternate: %v", err)
	}
	if got := r.([]any); got[1] != "=" {
		t.Errorf("expected second alternative, got %v", got)
	}
	if s.Cursor() != 2 {
		t.Errorf("expected cursor 2, got %d", s.Cursor())
	}
}

func TestAlternateErrors(t *testing.T) {
	_, err := Alternate(Symbol("+"), Symbol("-")).Parse(stream(t, "*"))
	var perr *token.ParseError
	if !errors.As(err, &perr) {
		t.Fatalf("expected ParseError, got %v", err)
	}
	if perr.Message != `expected "+" or "-"` {
		t.Errorf("unexpected message %q", perr.Message)
	}

	// The deepest failure is more useful than a list of alternatives.
	p := Alternate(
		Concat(Tag(token.Int), Symbol("+"), Tag(token.Int)),
		Concat(Tag(token.Int), Symbol("-"), Tag(token.Int)),
	)
	_, err = p.Parse(stream(t, "1 + x"))
	if !errors.As(err, &perr) {
		t.Fatalf("expected ParseError, got %v", err)
	}
	if perr.Message != `expected INT, got "x"` || perr.Pos.Column != 5 {
		t.Errorf("unexpected failure %v", perr)
	}
}

func TestOptAndRep(t *testing.T) {
	s := stream(t, "1 2 3 x")
	r, err := Opt(Tag(token.ID)).Parse(s)
	if err != nil || r != nil || s.Cursor() != 0 {
		t.Fatalf("Opt: got %v, %v at cursor %d", r, err, s.Cursor())
	}
	r, err = Rep(integer()).Parse(s)
	if err != nil {
		t.Fatalf("Rep: %v", err)
	}
	if got := r.([]any); len(got) != 3 || got[2] != 3 {
		t.Errorf("unexpected repetition %v", got)
	}
	if s.Cursor() != 3 {
		t.Errorf("expected cursor 3, got %d", s.Cursor())
	}
	r, err = Rep(integer()).Parse(s)
	if err != nil || len(r.([]any)) != 0 {
		t.Errorf("expected empty repetition, got %v, %v", r, err)
	}
}

func TestExpFoldsLeft(t *testing.T) {
	r, err := subtract().Parse(stream(t, "10 - 3 - 2 + 1"))
	if err != nil {
		t.Fatalf("Exp: %v", err)
	}
	if r != 6 {
		t.Errorf("expected 6, got %v", r)
	}
}

func TestExpStopsBeforeDanglingSeparator(t *testing.T) {
	s := stream(t, "4 - 1 -")
	r, err := subtract().Parse(s)
	if err != nil {
		t.Fatalf("Exp: %v", err)
	}
	if r != 3 {
		t.Errorf("expected 3, got %v", r)
	}
	if s.Cursor() != 3 {
		t.Errorf("expected cursor before the last separator, got %d", s.Cursor())
	}
}

func TestLazyRecursion(t *testing.T) {
	var group Parser
	group = Alternate(
		integer(),
		Process(Concat(Symbol("("), Lazy(func() Parser { return group }), Symbol(")")),
			func(v any) (any, error) { return v.([]any)[1], nil }),
	)
	r, err := Phrase(group).Parse(stream(t, "(((7)))"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if r != 7 {
		t.Errorf("expected 7, got %v", r)
	}

	want := `phrase(INT | ("(" + Alternate(...) + ")"))`
	if got := String(Phrase(group)); got != want {
		t.Errorf("Repr:\n got %s\nwant %s", got, want)
	}
}

func TestPhrase(t *testing.T) {
	p := Phrase(Concat(Tag(token.Int), Symbol("+"), Tag(token.Int)))
	if _, err := p.Parse(stream(t, "1 + 2")); err != nil {
		t.Fatalf("Phrase on complete input: %v", err)
	}

	_, err := p.Parse(stream(t, "1 + 2 3"))
	var perr *token.ParseError
	if !errors.As(err, &perr) {
		t.Fatalf("expected ParseError, got %v", err)
	}
	if perr.Message != "incomplete input" || perr.Pos.Column != 7 {
		t.Errorf("unexpected failure %v", perr)
	}

	p = Phrase(Concat(Tag(token.Int), Opt(Concat(Symbol("+"), Tag(token.Int)))))
	_, err = p.Parse(stream(t, "1 + x"))
	if !errors.As(err, &perr) {
		t.Fatalf("expected ParseError, got %v", err)
	}
	if perr.Furthest == nil || !strings.Contains(err.Error(), "furthest failure at line 1, column 5") {
		t.Errorf("expected furthest failure in %q", err)
	}
}

func TestDeterministicReparse(t *testing.T) {
	s := stream(t, "8 - 5 + 2")
	saved := s.Cursor()
	first, err := subtract().Parse(s)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	end := s.Cursor()
	s.SetCursor(saved)
	second, err := subtract().Parse(s)
	if err != nil {
		t.Fatalf("re-Parse: %v", err)
	}
	if first != second || s.Cursor() != end {
		t.Errorf("re-parse differs: %v at %d, then %v at %d", first, end, second, s.Cursor())
	}
}

func TestNeedMore(t *testing.T) {
	empty := NewStream(nil)
	if _, err := NeedMore(Tag(token.Int)).Parse(empty); !errors.Is(err, token.ErrNeedMore) {
		t.Fatalf("expected ErrNeedMore, got %v", err)
	}

	_, err := Alternate(Keyword("end"), NeedMore(Tag(token.Int))).Parse(NewStream(nil))
	if !errors.Is(err, token.ErrNeedMore) {
		t.Errorf("expected ErrNeedMore from alternation, got %v", err)
	}

	r, err := Alternate(NeedMore(Tag(token.Int)), Opt(Tag(token.ID))).Parse(NewStream(nil))
	if err != nil || r != nil {
		t.Errorf("a successful alternative should win over one needing more, got %v, %v", r, err)
	}

	r, err = Exp(integer(), NeedMore(Symbol("+")), func(l, _, r any) any { return l.(int) + r.(int) }).Parse(stream(t, "5"))
	if err != nil || r != 5 {
		t.Errorf("a separator needing more should end the list, got %v, %v", r, err)
	}
}

func TestNamedDescribe(t *testing.T) {
	assign := Named("assign", Concat(Tag(token.ID), Symbol("="), Tag(token.Int)))
	if got := String(Alternate(assign, Tag(token.Str))); got != "(assign | STR)" {
		t.Errorf("unexpected Repr %q", got)
	}
	if got := assign.Describe(); got != `assign := (ID + "=" + INT)` {
		t.Errorf("unexpected Describe %q", got)
	}
}
