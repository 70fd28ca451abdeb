package script

import (
	"errors"
	"fmt"
	"strings"

	"github.com/crystal-mush/mudscript/pkg/scripting/assembly"
)

// ErrFormat is returned for a malformed message template.
var ErrFormat = errors.New("bad message format")

// LookupFunc resolves a possibly dotted variable name.
type LookupFunc func(name string) (assembly.Value, error)

// Format substitutes the variables of a message:
//
//	{name}            the value of a variable
//	{room.title}      an attribute
//	{n:dog/dogs}      "dog" if n is 1, "dogs" otherwise
//
// Doubled braces stand for themselves.
func Format(text string, lookup LookupFunc) (string, error) {
	var b strings.Builder
	for i := 0; i < len(text); i++ {
		c := text[i]
		switch {
		case c == '{' && strings.HasPrefix(text[i:], "{{"):
			b.WriteByte('{')
			i++
		case c == '}' && strings.HasPrefix(text[i:], "}}"):
			b.WriteByte('}')
			i++
		case c == '}':
			return "", fmt.Errorf("%w: single '}' at offset %d", ErrFormat, i)
		case c == '{':
			end := strings.IndexByte(text[i:], '}')
			if end < 0 {
				return "", fmt.Errorf("%w: unclosed '{' at offset %d", ErrFormat, i)
			}
			s, err := field(text[i+1:i+end], lookup)
			if err != nil {
				return "", err
			}
			b.WriteString(s)
			i += end
		default:
			b.WriteByte(c)
		}
	}
	return b.String(), nil
}

func field(f string, lookup LookupFunc) (string, error) {
	name, spec, hasSpec := strings.Cut(f, ":")
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("%w: empty field", ErrFormat)
	}
	if lookup == nil {
		return "", fmt.Errorf("cannot find the variable name: %q", name)
	}
	v, err := lookup(name)
	if err != nil {
		return "", fmt.Errorf("cannot find the variable name: %q: %w", name, err)
	}
	if !hasSpec {
		return v.String(), nil
	}
	singular, plural, ok := strings.Cut(spec, "/")
	if !ok || singular == "" {
		return "", fmt.Errorf("%w: unknown format %q for %s", ErrFormat, spec, name)
	}
	if v.IsNumber() && v.AsFloat() == 1 {
		return singular, nil
	}
	return plural, nil
}
