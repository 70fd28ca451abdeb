package metrics

import (
	"context"
	"fmt"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/crystal-mush/mudscript/pkg/scripting/assembly"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

type queue struct{ immediate, waiting int }

func (q queue) Stats() (int, int) { return q.immediate, q.waiting }

func TestCounters(t *testing.T) {
	m := New(queue{3, 5}, time.Now())
	m.Compiled(nil)
	m.Compiled(nil)
	m.Compiled(fmt.Errorf("bad"))

	if got := testutil.ToFloat64(m.compilesTotal.WithLabelValues("ok")); got != 2 {
		t.Errorf("expected 2 compilations, got %v", got)
	}
	if got := testutil.ToFloat64(m.compilesTotal.WithLabelValues("error")); got != 1 {
		t.Errorf("expected 1 failed compilation, got %v", got)
	}

	halted := assembly.NewExecution(assembly.NewProgram(assembly.Const{Value: assembly.Int(1)}))
	halted.Run(context.Background())
	m.Ran(halted, halted.Steps)

	failed := assembly.NewExecution(assembly.NewProgram(
		assembly.Const{Value: assembly.Int(1)}, assembly.Const{Value: assembly.Int(0)}, assembly.Div))
	failed.Run(context.Background())
	m.Ran(failed, failed.Steps)

	if got := testutil.ToFloat64(m.instructionsTotal); got != 4 {
		t.Errorf("expected 4 instructions, got %v", got)
	}
	if got := testutil.ToFloat64(m.executionsTotal.WithLabelValues("failed")); got != 1 {
		t.Errorf("expected 1 failed execution, got %v", got)
	}
	if got := testutil.ToFloat64(m.failuresTotal.WithLabelValues("division_by_zero")); got != 1 {
		t.Errorf("expected a division failure, got %v", got)
	}

	m.SessionOpened()
	m.SessionOpened()
	m.SessionClosed()
	if got := testutil.ToFloat64(m.consoleSessions); got != 1 {
		t.Errorf("expected 1 session, got %v", got)
	}
}

func TestHandler(t *testing.T) {
	m := New(queue{3, 5}, time.Now())
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body := rec.Body.String()
	for _, want := range []string{
		`mudscript_queue_depth{queue_type="immediate"} 3`,
		`mudscript_queue_depth{queue_type="waiting"} 5`,
		"mudscript_goroutines",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("expected %q in the metrics output", want)
		}
	}
}

func TestCause(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, "none"},
		{&assembly.RuntimeError{Op: "CALL", Err: assembly.ErrStepLimit}, "step_limit"},
		{fmt.Errorf("x: %w", assembly.ErrUnknownName), "unknown_name"},
		{fmt.Errorf("boom"), "other"},
	}
	for _, tt := range tests {
		if got := Cause(tt.err); got != tt.want {
			t.Errorf("Cause(%v) = %s, want %s", tt.err, got, tt.want)
		}
	}
}
