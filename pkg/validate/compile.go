package validate

import (
	"errors"
	"strings"

	"github.com/crystal-mush/mudscript/pkg/scripting/token"
	"github.com/crystal-mush/mudscript/pkg/scripting/typecheck"
)

// CompileChecker compiles every script against its event. Scripts of
// unknown events are left to EventChecker.
type CompileChecker struct{}

func (c *CompileChecker) Name() string { return "compile" }

func (c *CompileChecker) Check(corpus *Corpus) []Finding {
	var findings []Finding
	for _, r := range corpus.Records {
		ev, ok := corpus.Events.Lookup(r.Event)
		if r.Event != "" && !ok {
			continue
		}
		_, err := corpus.Compiler.Compile(r.Name, r.Source, ev)
		if err == nil {
			continue
		}
		f := Finding{
			Category: CatCompile,
			Severity: SevError,
			Script:   r.Name,
			Event:    r.Event,
			Owner:    r.Owner,
		}
		var perr *token.ParseError
		var terr *typecheck.TypeError
		switch {
		case errors.Is(err, token.ErrNeedMore):
			lines := strings.Split(strings.TrimRight(r.Source, "\n"), "\n")
			f.Line = len(lines)
			f.Description = "script ends inside a block, an \"end\" is missing"
		case errors.As(err, &perr):
			f.Line, f.Column = perr.Pos.Line, perr.Pos.Column
			f.Description = perr.Message
		case errors.As(err, &terr):
			f.Line, f.Column = terr.Pos.Line, terr.Pos.Column
			f.Description = terr.Message
			if len(terr.Suggestions) > 0 {
				f.Proposed = "did you mean " + strings.Join(terr.Suggestions, ", ") + "?"
			}
		default:
			f.Description = err.Error()
		}
		f.Current = sourceLine(r.Source, f.Line)
		findings = append(findings, f)
	}
	return findings
}
