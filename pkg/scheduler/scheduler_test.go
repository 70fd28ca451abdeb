package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/crystal-mush/mudscript/pkg/events"
	"github.com/crystal-mush/mudscript/pkg/scripting/assembly"
	"github.com/crystal-mush/mudscript/pkg/scripting/script"
)

func task(id string, owner events.ObjectRef, wake time.Time) *Task {
	return &Task{ID: id, Owner: owner, WakeAt: wake}
}

func TestImmediateOrder(t *testing.T) {
	q := New()
	for _, id := range []string{"a", "b", "c"} {
		if err := q.Add(task(id, "character:kredh", time.Time{})); err != nil {
			t.Fatal(err)
		}
	}
	for _, want := range []string{"a", "b", "c"} {
		if got := q.PopImmediate(); got == nil || got.ID != want {
			t.Fatalf("expected %s, got %+v", want, got)
		}
	}
	if q.PopImmediate() != nil {
		t.Error("expected an empty queue")
	}
}

func TestOwnerLimit(t *testing.T) {
	q := New()
	q.MaxPerOwner = 2
	q.Add(task("a", "character:kredh", time.Time{}))
	q.AddWait(task("b", "character:kredh", time.Now().Add(time.Hour)))
	if err := q.Add(task("c", "character:kredh", time.Time{})); !errors.Is(err, ErrOwnerLimit) {
		t.Errorf("expected ErrOwnerLimit, got %v", err)
	}
	if err := q.Add(task("d", "character:aneth", time.Time{})); err != nil {
		t.Errorf("another owner should not be limited: %v", err)
	}
}

func TestPromoteReady(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	now := base
	q := New()
	q.Now = func() time.Time { return now }

	q.AddWait(task("late", "o", base.Add(3*time.Second)))
	q.AddWait(task("early", "o", base.Add(1*time.Second)))
	q.AddWait(task("middle", "o", base.Add(2*time.Second)))

	if n := q.PromoteReady(); n != 0 {
		t.Fatalf("nothing should be ready yet, promoted %d", n)
	}
	now = base.Add(1500 * time.Millisecond)
	if n := q.PromoteReady(); n != 1 {
		t.Fatalf("expected 1 promoted, got %d", n)
	}
	if got := q.PopImmediate(); got.ID != "early" {
		t.Errorf("expected early, got %s", got.ID)
	}
	now = base.Add(5 * time.Second)
	if n := q.PromoteReady(); n != 2 {
		t.Fatalf("expected 2 promoted, got %d", n)
	}
	if a, b := q.PopImmediate(), q.PopImmediate(); a.ID != "middle" || b.ID != "late" {
		t.Errorf("unexpected order %s, %s", a.ID, b.ID)
	}
}

func TestHaltOwner(t *testing.T) {
	q := New()
	q.Add(task("a", "character:kredh", time.Time{}))
	q.Add(task("b", "character:aneth", time.Time{}))
	q.AddWait(task("c", "character:kredh", time.Now().Add(time.Minute)))

	if n := q.HaltOwner("character:kredh"); n != 2 {
		t.Errorf("expected 2 tasks halted, got %d", n)
	}
	if imm, wait := q.Stats(); imm != 1 || wait != 0 {
		t.Errorf("unexpected stats %d ready, %d waiting", imm, wait)
	}
	if n := q.HaltAll(); n != 1 || len(q.Pending()) != 0 {
		t.Errorf("expected everything halted, got %d", n)
	}
}

type collector struct {
	mu    sync.Mutex
	texts []string
	execs []string
}

func (c *collector) Receive(ev events.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.texts = append(c.texts, ev.Text)
	c.execs = append(c.execs, ev.Execution)
}

func (c *collector) Closed() bool { return false }

func compile(t *testing.T, ns *script.Namespace, src string) *script.Script {
	t.Helper()
	c := &script.Compiler{Namespace: ns, CheckTypes: true}
	s, err := c.Compile("test", src, nil)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	return s
}

type finished struct {
	task *Task
	err  error
}

func runScheduler(t *testing.T, q *Scheduler) chan finished {
	t.Helper()
	done := make(chan finished, 10)
	q.IdleTick = 5 * time.Millisecond
	q.FastTick = time.Millisecond
	q.OnFinish = func(task *Task, err error) { done <- finished{task, err} }
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		q.Run(ctx)
		close(stopped)
	}()
	t.Cleanup(func() {
		cancel()
		<-stopped
	})
	return done
}

func wait(t *testing.T, done chan finished) finished {
	t.Helper()
	select {
	case f := <-done:
		return f
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for the task")
	}
	return finished{}
}

func TestRunSuspendsAndResumes(t *testing.T) {
	bus := events.NewBus()
	rec := &collector{}
	bus.SubscribeGlobal(rec)
	ns := script.NewNamespace(bus)

	q := New()
	var suspended atomic.Int32
	q.OnSuspend = func(*Task) { suspended.Add(1) }
	var runs, steps atomic.Int32
	q.OnRun = func(_ *Task, n int) {
		runs.Add(1)
		steps.Add(int32(n))
	}
	done := runScheduler(t, q)

	s := compile(t, ns, "print('start')\nwait(0.02)\nprint('end')\n")
	tk, err := q.Start(s, "character:kredh", nil)
	if err != nil {
		t.Fatal(err)
	}
	f := wait(t, done)
	if f.err != nil || f.task != tk || f.task.Exec.State != assembly.StateHalted {
		t.Fatalf("unexpected finish %+v", f)
	}
	if suspended.Load() != 1 {
		t.Errorf("expected one suspension, got %d", suspended.Load())
	}
	if runs.Load() != 2 || int(steps.Load()) != tk.Exec.Steps {
		t.Errorf("expected 2 runs of %d steps, got %d runs of %d", tk.Exec.Steps, runs.Load(), steps.Load())
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.texts) != 2 || rec.texts[0] != "start" || rec.texts[1] != "end" {
		t.Errorf("unexpected output %q", rec.texts)
	}
	if rec.execs[0] != tk.ID {
		t.Errorf("events should carry the execution id %s, got %s", tk.ID, rec.execs[0])
	}
}

func TestRunYieldAndFailure(t *testing.T) {
	ns := script.NewNamespace(nil)
	q := New()
	done := runScheduler(t, q)

	if _, err := q.Start(compile(t, ns, "wait(0)\nx = 1 / 0"), "character:kredh", nil); err != nil {
		t.Fatal(err)
	}
	f := wait(t, done)
	if !errors.Is(f.err, assembly.ErrDivisionByZero) {
		t.Errorf("expected a division by zero, got %v", f.err)
	}
	var rerr *assembly.RuntimeError
	if !errors.As(f.err, &rerr) || rerr.Op != "DIV" {
		t.Errorf("expected the failing opcode, got %v", f.err)
	}
}
