package scriptstore

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/crystal-mush/mudscript/pkg/events"
	"github.com/crystal-mush/mudscript/pkg/scheduler"
	"github.com/crystal-mush/mudscript/pkg/scripting/assembly"
	"github.com/crystal-mush/mudscript/pkg/scripting/script"
	"github.com/crystal-mush/mudscript/pkg/scripting/typecheck"
	"github.com/lithammer/dedent"
)

func openTemp(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scripts.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return s, path
}

func TestScripts(t *testing.T) {
	s, path := openTemp(t)
	defer s.Close()

	if s.Path() != path {
		t.Errorf("expected path %s, got %s", path, s.Path())
	}
	if s.HasData() {
		t.Error("a new store should be empty")
	}
	records := []*Record{
		{Name: "greet", Event: "greet", Owner: "character:kredh", Source: "print(1)"},
		{Name: "alarm", Event: "tick", Owner: "character:aneth", Source: "print(2)"},
		{Name: "wave", Event: "greet", Owner: "character:kredh", Source: "print(3)"},
	}
	for _, r := range records {
		if err := s.PutScript(r); err != nil {
			t.Fatalf("PutScript(%s): %v", r.Name, err)
		}
	}
	if !s.HasData() {
		t.Error("expected data after PutScript")
	}

	got, err := s.GetScript("greet")
	if err != nil {
		t.Fatalf("GetScript: %v", err)
	}
	if got.Source != "print(1)" || got.Owner != "character:kredh" || got.Updated.IsZero() {
		t.Errorf("unexpected record %+v", got)
	}

	all, err := s.ListScripts(events.Nobody)
	if err != nil {
		t.Fatalf("ListScripts: %v", err)
	}
	if len(all) != 3 || all[0].Name != "alarm" || all[2].Name != "wave" {
		t.Errorf("expected scripts sorted by name, got %d", len(all))
	}
	mine, _ := s.ListScripts("character:kredh")
	if len(mine) != 2 {
		t.Errorf("expected 2 scripts for kredh, got %d", len(mine))
	}
	greets, _ := s.ScriptsFor("greet")
	if len(greets) != 2 || greets[0].Name != "greet" || greets[1].Name != "wave" {
		t.Errorf("unexpected greet scripts %v", greets)
	}

	if err := s.DeleteScript("greet"); err != nil {
		t.Fatalf("DeleteScript: %v", err)
	}
	if _, err := s.GetScript("greet"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestBackup(t *testing.T) {
	s, _ := openTemp(t)
	defer s.Close()
	if err := s.PutScript(&Record{Name: "greet", Source: "print(1)"}); err != nil {
		t.Fatal(err)
	}
	dest := filepath.Join(t.TempDir(), "backup.db")
	if err := s.Backup(dest); err != nil {
		t.Fatalf("Backup: %v", err)
	}
	b, err := Open(dest)
	if err != nil {
		t.Fatalf("Open backup: %v", err)
	}
	defer b.Close()
	if r, err := b.GetScript("greet"); err != nil || r.Source != "print(1)" {
		t.Errorf("backup is missing the script: %v", err)
	}
}

type recorder struct {
	mu    sync.Mutex
	texts []string
}

func (r *recorder) Receive(ev events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.texts = append(r.texts, ev.Text)
}

func (r *recorder) Closed() bool { return false }

type directory map[events.ObjectRef]any

func (d directory) Object(ref events.ObjectRef) (any, bool) {
	obj, ok := d[ref]
	return obj, ok
}

var greet = script.NewEvent("greet", "A character greets the room.",
	script.Variable{Name: "character", Type: typecheck.TObject, Object: "character"})

const source = `
	n = 3
	while n > 1:
	    n = n - 1
	end
	wait(10)
	character.msg("still {n} here")
`

func TestSnapshotSurvivesRestart(t *testing.T) {
	store, path := openTemp(t)

	// First process: run until the wait.
	ns := script.NewNamespace(events.NewBus())
	kredh := ns.NewCharacter("character:kredh", "Kredh", "room:hall")
	s, err := (&script.Compiler{Namespace: ns, CheckTypes: true}).Compile("greet", dedent.Dedent(source), greet)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	x := s.NewExecution(map[string]assembly.Value{"character": assembly.Object(kredh)})
	wait, err := x.Run(context.Background())
	if err != nil || wait != 10*time.Second {
		t.Fatalf("expected a 10s suspension, got %v, %v", wait, err)
	}
	wake := time.Date(2026, 3, 1, 12, 0, 10, 0, time.UTC)
	snap, err := Capture(&scheduler.Task{ID: "t1", Script: s.Name, Owner: kredh.Ref, Exec: x, WakeAt: wake})
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	if snap.Vars["character"].Str != "character:kredh" {
		t.Errorf("expected the character reference, got %+v", snap.Vars["character"])
	}
	if err := store.PutSnapshots(snap); err != nil {
		t.Fatalf("PutSnapshots: %v", err)
	}
	store.Close()

	// Second process: a fresh namespace, the same world.
	store, err = Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer store.Close()
	snaps, err := store.LoadSnapshots()
	if err != nil || len(snaps) != 1 {
		t.Fatalf("expected one snapshot, got %d, %v", len(snaps), err)
	}
	if !snaps[0].WakeAt.Equal(wake) || snaps[0].Cursor != x.Cursor || snaps[0].Steps != x.Steps {
		t.Errorf("snapshot changed on the way: %+v", snaps[0])
	}

	bus := events.NewBus()
	rec := &recorder{}
	bus.Subscribe("character:kredh", rec)
	dir := directory{}
	ns2 := script.NewNamespace(bus, script.WithDirectory(dir))
	dir["character:kredh"] = ns2.NewCharacter("character:kredh", "Kredh", "room:hall")

	task, err := snaps[0].Restore(ns2, assembly.WithMaxSteps(1000))
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if task.ID != "t1" || task.Owner != "character:kredh" {
		t.Errorf("unexpected task %+v", task)
	}
	if _, err := task.Exec.Run(context.Background()); err != nil {
		t.Fatalf("resumed Run: %v", err)
	}
	if !task.Exec.Done() {
		t.Fatal("expected the execution to finish")
	}
	if len(rec.texts) != 1 || rec.texts[0] != "still 1 here" {
		t.Errorf("unexpected output %q", rec.texts)
	}

	if err := store.ClearSnapshots(); err != nil {
		t.Fatalf("ClearSnapshots: %v", err)
	}
	if snaps, _ := store.LoadSnapshots(); len(snaps) != 0 {
		t.Errorf("expected no snapshots, got %d", len(snaps))
	}
}

func TestRestoreMissingObject(t *testing.T) {
	ns := script.NewNamespace(events.NewBus())
	kredh := ns.NewCharacter("character:kredh", "Kredh", "room:hall")
	s, err := (&script.Compiler{Namespace: ns}).Compile("greet", dedent.Dedent(source), greet)
	if err != nil {
		t.Fatal(err)
	}
	x := s.NewExecution(map[string]assembly.Value{"character": assembly.Object(kredh)})
	x.Run(context.Background())
	snap, err := Capture(&scheduler.Task{ID: "t1", Exec: x})
	if err != nil {
		t.Fatal(err)
	}
	ns2 := script.NewNamespace(events.NewBus(), script.WithDirectory(directory{}))
	if _, err := snap.Restore(ns2); err == nil {
		t.Error("expected an error for a character that is gone")
	}
}
