package engine

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/crystal-mush/mudscript/pkg/config"
	"github.com/crystal-mush/mudscript/pkg/events"
	"github.com/crystal-mush/mudscript/pkg/metrics"
	"github.com/crystal-mush/mudscript/pkg/reports"
	"github.com/crystal-mush/mudscript/pkg/scriptstore"
	"github.com/crystal-mush/mudscript/pkg/scripting/assembly"
	"github.com/crystal-mush/mudscript/pkg/scripting/script"
	"github.com/lithammer/dedent"
)

type recorder struct {
	mu     sync.Mutex
	events []events.Event
	notify chan events.Event
}

func newRecorder() *recorder { return &recorder{notify: make(chan events.Event, 100)} }

func (r *recorder) Receive(ev events.Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
	r.notify <- ev
}

func (r *recorder) Closed() bool { return false }

// waitFor returns the first event of type typ.
func (r *recorder) waitFor(t *testing.T, typ events.EventType) events.Event {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev := <-r.notify:
			if ev.Type == typ {
				return ev
			}
		case <-timeout:
			t.Fatalf("timed out waiting for a %s event", typ)
		}
	}
}

func testConf() *config.Conf {
	c := config.Default()
	c.MaxSteps = 1000
	c.Events = append(c.Events, config.EventConf{Name: "tick", Help: "Every minute."})
	return c
}

func newEngine(t *testing.T, opts ...Option) (*Engine, *recorder) {
	t.Helper()
	bus := events.NewBus()
	rec := newRecorder()
	bus.SubscribeGlobal(rec)
	e, err := New(testConf(), script.NewNamespace(bus), opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	e.Sched.IdleTick = 5 * time.Millisecond
	e.Sched.FastTick = time.Millisecond
	return e, rec
}

func runEngine(t *testing.T, e *Engine) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()
	stop := func() {
		cancel()
		if err := <-done; err != nil {
			t.Errorf("Run: %v", err)
		}
	}
	return sync.OnceFunc(stop)
}

func TestTrigger(t *testing.T) {
	m := metrics.New(nil, time.Now())
	e, rec := newEngine(t, WithMetrics(m))
	err := e.Load(&scriptstore.Record{
		Name:   "wave",
		Event:  "greet",
		Owner:  "character:aneth",
		Source: dedent.Dedent(`
			character.msg("Aneth waves at you.")
			print("waved at {character.name}")
		`),
	})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := e.Scripts(); len(got) != 1 || got[0] != "wave" {
		t.Errorf("unexpected scripts %v", got)
	}

	stop := runEngine(t, e)
	defer stop()

	kredh := e.NS.NewCharacter("character:kredh", "Kredh", "room:hall")
	tasks, err := e.Trigger("greet", kredh.Ref, map[string]assembly.Value{"character": assembly.Object(kredh)})
	if err != nil || len(tasks) != 1 {
		t.Fatalf("Trigger: %d tasks, %v", len(tasks), err)
	}
	if tasks[0].Owner != "character:aneth" {
		t.Errorf("the script should run for its owner, got %s", tasks[0].Owner)
	}
	done := rec.waitFor(t, events.EvScriptDone)
	if done.Execution != tasks[0].ID || done.Player != "character:aneth" {
		t.Errorf("unexpected done event %+v", done)
	}

	rec.mu.Lock()
	var texts []string
	for _, ev := range rec.events {
		if ev.Text != "" {
			texts = append(texts, ev.Type.String()+" "+string(ev.Player)+": "+ev.Text)
		}
	}
	rec.mu.Unlock()
	want := []string{
		"message character:kredh: Aneth waves at you.",
		"print character:aneth: waved at Kredh",
	}
	if strings.Join(texts, "|") != strings.Join(want, "|") {
		t.Errorf("expected %q, got %q", want, texts)
	}

	if _, err := e.Trigger("greet", kredh.Ref, nil); err == nil {
		t.Error("expected an error for a missing variable")
	}
	if _, err := e.Trigger("explode", kredh.Ref, nil); !errors.Is(err, ErrUnknownEvent) {
		t.Errorf("expected ErrUnknownEvent, got %v", err)
	}
}

func TestFailuresAreReported(t *testing.T) {
	rs, err := reports.Open(filepath.Join(t.TempDir(), "reports.db"), 5)
	if err != nil {
		t.Fatal(err)
	}
	defer rs.Close()
	e, rec := newEngine(t, WithReports(rs))

	if err := e.Load(&scriptstore.Record{Name: "typo", Event: "tick", Source: "prnt(1)"}); err == nil {
		t.Fatal("expected a compile error")
	}
	if err := e.Load(&scriptstore.Record{Name: "lost", Event: "nowhere", Source: "print(1)"}); !errors.Is(err, ErrUnknownEvent) {
		t.Fatalf("expected ErrUnknownEvent, got %v", err)
	}
	if err := e.Load(&scriptstore.Record{Name: "divide", Event: "tick", Owner: "character:kredh", Source: "x = 1\ny = x / 0\n"}); err != nil {
		t.Fatal(err)
	}

	stop := runEngine(t, e)
	defer stop()
	if _, err := e.Trigger("tick", events.Nobody, nil); err != nil {
		t.Fatal(err)
	}
	failed := rec.waitFor(t, events.EvScriptError)
	if failed.Player != "character:kredh" || !strings.Contains(failed.Text, "division by zero") {
		t.Errorf("unexpected error event %+v", failed)
	}

	got, err := rs.Recent(context.Background(), "", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 failures, got %+v", got)
	}
	if got[0].Script != "divide" || got[0].Kind != reports.KindRuntime || got[0].Opcode != "DIV" {
		t.Errorf("unexpected runtime failure %+v", got[0])
	}
	if got[2].Script != "typo" || got[2].Kind != reports.KindCompile {
		t.Errorf("unexpected compile failure %+v", got[2])
	}
}

func TestWaitingExecutionsSurviveRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scripts.db")
	store, err := scriptstore.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	e, rec := newEngine(t, WithStore(store))
	if err := e.Load(&scriptstore.Record{Name: "later", Event: "tick", Owner: "character:kredh", Source: "n = 5\nwait(3600)\nprint('{n}')\n"}); err != nil {
		t.Fatal(err)
	}
	stop := runEngine(t, e)
	if _, err := e.Trigger("tick", events.Nobody, nil); err != nil {
		t.Fatal(err)
	}
	rec.waitFor(t, events.EvScriptWait)
	stop()
	store.Close()

	store, err = scriptstore.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	e2, _ := newEngine(t, WithStore(store))
	if n := e2.LoadAll(nil); n != 1 {
		t.Errorf("expected the stored script to load, got %d", n)
	}
	n, err := e2.Restore()
	if err != nil || n != 1 {
		t.Fatalf("Restore: %d, %v", n, err)
	}
	if imm, waiting := e2.Sched.Stats(); imm != 0 || waiting != 1 {
		t.Errorf("expected one waiting execution, got %d ready, %d waiting", imm, waiting)
	}
	if snaps, _ := store.LoadSnapshots(); len(snaps) != 0 {
		t.Errorf("restored snapshots should be cleared, got %d", len(snaps))
	}
}

func TestRemove(t *testing.T) {
	e, _ := newEngine(t)
	e.ScriptChanged(&scriptstore.Record{Name: "a", Event: "tick", Source: "print(1)"})
	if _, ok := e.Script("a"); !ok {
		t.Fatal("expected script a")
	}
	e.ScriptChanged(&scriptstore.Record{Name: "b", Event: "tick", Source: "print(2)"})
	if recs := e.Records(); len(recs) != 2 || recs[0].Name != "a" || recs[1].Name != "b" {
		t.Fatalf("unexpected records %+v", recs)
	}
	e.ScriptRemoved("a")
	if _, ok := e.Script("a"); ok {
		t.Error("script a should be gone")
	}
	if names := e.Scripts(); len(names) != 1 || names[0] != "b" {
		t.Errorf("unexpected scripts %v", names)
	}
}
