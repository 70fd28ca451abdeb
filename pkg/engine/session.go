package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/crystal-mush/mudscript/pkg/events"
	"github.com/crystal-mush/mudscript/pkg/scheduler"
	"github.com/crystal-mush/mudscript/pkg/scripting/assembly"
	"github.com/crystal-mush/mudscript/pkg/scripting/script"
	"github.com/crystal-mush/mudscript/pkg/scripting/token"
)

// Reply kinds.
const (
	ReplyMore   = "more"   // The input is not finished
	ReplyResult = "result" // Text is the value of an expression, or empty
	ReplyError  = "error"
)

// Reply is the answer to one line of interactive input.
type Reply struct {
	Kind   string
	Text   string
	Script *script.Script // The compiled input, when it compiled
}

// Session runs lines typed by a script author. Variables persist from
// one input to the next.
type Session struct {
	Owner events.ObjectRef
	Vars  map[string]assembly.Value

	e     *Engine
	buf   []string
	count int
}

// NewSession opens an interactive session for owner. print output goes
// to owner through the bus.
func (e *Engine) NewSession(owner events.ObjectRef) *Session {
	return &Session{Owner: owner, Vars: make(map[string]assembly.Value), e: e}
}

// Pending reports whether earlier lines wait for the end of a block.
func (s *Session) Pending() bool { return len(s.buf) > 0 }

// Reset drops unfinished input.
func (s *Session) Reset() { s.buf = nil }

// Input reads one line. A line that leaves a block open is kept until the
// block ends. An input that waits goes on in the scheduler; its output
// arrives later.
func (s *Session) Input(ctx context.Context, line string) Reply {
	s.buf = append(s.buf, line)
	src := strings.Join(s.buf, "\n")
	if strings.TrimSpace(src) == "" {
		s.buf = nil
		return Reply{Kind: ReplyResult}
	}

	s.count++
	name := fmt.Sprintf("input-%d", s.count)
	ev := &script.Event{Name: "input", Variables: script.VariablesOf(s.Vars)}
	sc, err := s.e.Compiler.CompileInput(name, src, ev)
	if s.e.Metrics != nil && !errors.Is(err, token.ErrNeedMore) {
		s.e.Metrics.Compiled(err)
	}
	if errors.Is(err, token.ErrNeedMore) {
		return Reply{Kind: ReplyMore}
	}
	s.buf = nil
	if err != nil {
		return Reply{Kind: ReplyError, Text: err.Error()}
	}

	x := sc.NewExecution(s.Vars, assembly.WithMaxSteps(s.e.Conf.MaxSteps))
	runCtx := script.WithOrigin(ctx, script.Origin{Caller: s.Owner, Script: name})
	wait, err := x.Run(runCtx)
	if s.e.Metrics != nil {
		s.e.Metrics.Ran(x, x.Steps)
	}
	for k, v := range x.Vars {
		s.Vars[k] = v
	}
	if err != nil {
		return Reply{Kind: ReplyError, Text: err.Error(), Script: sc}
	}

	if !x.Done() {
		t := scheduler.NewTask(sc, s.Owner, x)
		if wait > 0 {
			t.WakeAt = s.e.Sched.Now().Add(wait)
			s.e.Sched.AddWait(t)
		} else if err := s.e.Sched.Add(t); err != nil {
			return Reply{Kind: ReplyError, Text: err.Error(), Script: sc}
		}
		return Reply{Kind: ReplyResult, Script: sc}
	}

	if v, err := x.Stack.Peek(); err == nil && v.Kind != assembly.KindNone {
		return Reply{Kind: ReplyResult, Text: v.Repr(), Script: sc}
	}
	return Reply{Kind: ReplyResult, Script: sc}
}
