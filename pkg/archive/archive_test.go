package archive

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/crystal-mush/mudscript/pkg/reports"
	"github.com/crystal-mush/mudscript/pkg/scriptstore"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestArchiveRoundTrip(t *testing.T) {
	src := t.TempDir()

	store, err := scriptstore.Open(filepath.Join(src, "scripts.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	if err := store.PutScript(&scriptstore.Record{Name: "hello", Event: "greet", Owner: "#1", Source: `print("hi")`}); err != nil {
		t.Fatal(err)
	}

	rep, err := reports.Open(filepath.Join(src, "reports.db"), 5)
	if err != nil {
		t.Fatal(err)
	}
	defer rep.Close()
	if _, err := rep.Record(context.Background(), reports.Failure{Kind: reports.KindRuntime, Script: "hello", Message: "boom", Cursor: -1}); err != nil {
		t.Fatal(err)
	}

	writeFile(t, filepath.Join(src, "scripts", "hello.mud"), "# event: greet\nprint(\"hi\")\n")
	writeFile(t, filepath.Join(src, "scripts", "npc", "guard.mud"), "# event: say\n")
	confPath := filepath.Join(src, "mudscript.yaml")
	writeFile(t, confPath, "workers: 2\n")

	path, err := CreateArchive(Params{
		StoreSnapshot:     store.Backup,
		ReportsPath:       rep.Path(),
		ReportsCheckpoint: rep.Checkpoint,
		ScriptDir:         filepath.Join(src, "scripts"),
		ConfPath:          confPath,
		Dir:               filepath.Join(src, "archive"),
		Scripts:           1,
	})
	if err != nil {
		t.Fatalf("CreateArchive: %v", err)
	}

	m, err := ReadManifest(path)
	if err != nil {
		t.Fatalf("ReadManifest: %v", err)
	}
	if m.Program != "mudscript" || m.Scripts != 1 {
		t.Errorf("unexpected manifest %+v", m)
	}
	for name, kind := range map[string]string{
		"data/scripts.db":       "store",
		"data/reports.db":       "reports",
		"scripts/hello.mud":     "script",
		"scripts/npc/guard.mud": "script",
		"conf/mudscript.yaml":   "conf",
	} {
		if got := m.Files[name].Type; got != kind {
			t.Errorf("%s: expected type %q, got %q", name, kind, got)
		}
	}

	list, err := ListArchives(filepath.Join(src, "archive"))
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0].Path != path || list[0].Scripts != 1 {
		t.Fatalf("unexpected list %+v", list)
	}

	dst := t.TempDir()
	writeFile(t, filepath.Join(dst, "mudscript.yaml"), "workers: 8\n")
	var out strings.Builder
	res, err := RestoreArchive(RestoreParams{
		ArchivePath: path,
		StoreDest:   filepath.Join(dst, "data", "scripts.db"),
		ReportsDest: filepath.Join(dst, "data", "reports.db"),
		ScriptDest:  filepath.Join(dst, "scripts"),
		ConfDest:    filepath.Join(dst, "mudscript.yaml"),
		Stdin:       strings.NewReader("d\nu\n"),
		Stdout:      &out,
	})
	if err != nil {
		t.Fatalf("RestoreArchive: %v", err)
	}
	if res.FilesRestored != 5 {
		t.Errorf("expected 5 files restored, got %d (warnings %v)", res.FilesRestored, res.Warnings)
	}
	if !strings.Contains(out.String(), "- workers: 8\n+ workers: 2\n") {
		t.Errorf("expected the config diff in the output:\n%s", out.String())
	}
	if data, _ := os.ReadFile(filepath.Join(dst, "mudscript.yaml")); string(data) != "workers: 2\n" {
		t.Errorf("expected the archived config, got %q", data)
	}
	if _, err := os.Stat(filepath.Join(dst, "scripts", "npc", "guard.mud")); err != nil {
		t.Errorf("expected nested script restored: %v", err)
	}

	restored, err := scriptstore.Open(filepath.Join(dst, "data", "scripts.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer restored.Close()
	r, err := restored.GetScript("hello")
	if err != nil {
		t.Fatalf("GetScript: %v", err)
	}
	if r.Source != `print("hi")` {
		t.Errorf("unexpected source %q", r.Source)
	}
}

func TestRestoreKeepsConfigWithoutPrompt(t *testing.T) {
	src := t.TempDir()
	confPath := filepath.Join(src, "mudscript.toml")
	writeFile(t, confPath, "workers = 2\n")
	path, err := CreateArchive(Params{ConfPath: confPath, Dir: src})
	if err != nil {
		t.Fatal(err)
	}

	dst := t.TempDir()
	dest := filepath.Join(dst, "mudscript.toml")
	writeFile(t, dest, "workers = 3\n")
	res, err := RestoreArchive(RestoreParams{ArchivePath: path, ConfDest: dest})
	if err != nil {
		t.Fatal(err)
	}
	if res.FilesRestored != 0 || len(res.Warnings) != 1 {
		t.Errorf("expected the config kept, got %+v", res)
	}
}

func TestRestoreCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.tar.gz")
	writeFile(t, path, "not an archive")
	if _, err := RestoreArchive(RestoreParams{ArchivePath: path}); err == nil {
		t.Fatal("expected an error")
	}
}

func TestPrune(t *testing.T) {
	dir := t.TempDir()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, name := range []string{"a.tar.gz", "b.tar.gz", "c.tar.gz"} {
		path := filepath.Join(dir, name)
		writeFile(t, path, "x")
		mod := base.Add(time.Duration(i) * time.Hour)
		if err := os.Chtimes(path, mod, mod); err != nil {
			t.Fatal(err)
		}
	}
	n, err := Prune(dir, 1)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("expected 2 removed, got %d", n)
	}
	list, _ := ListArchives(dir)
	if len(list) != 1 || list[0].Filename != "c.tar.gz" {
		t.Errorf("expected the newest archive kept, got %+v", list)
	}
}

func TestLineDiff(t *testing.T) {
	got := LineDiff("a\nb\nc\n", "a\nx\nc\n")
	want := "--- current\n+++ archived\n  a\n- b\n+ x\n  c\n"
	if got != want {
		t.Errorf("unexpected diff:\n%s\nwant:\n%s", got, want)
	}
}
