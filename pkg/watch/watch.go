// Package watch loads script files from a directory and reloads them when
// they change on disk.
//
// A script file is named after the script, with the .mud extension. Leading
// comment lines may attach it to an event and give its owner:
//
//	# event: greet
//	# owner: character:kredh
//	character.msg("Hello!")
package watch

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/crystal-mush/mudscript/pkg/events"
	"github.com/crystal-mush/mudscript/pkg/scriptstore"
	"github.com/fsnotify/fsnotify"
	"github.com/tliron/commonlog"
)

// Ext is the extension of script files.
const Ext = ".mud"

var log = commonlog.GetLogger("mudscript.watch")

// ReadFile reads a script file.
func ReadFile(path string) (*scriptstore.Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	r := &scriptstore.Record{
		Name:    strings.TrimSuffix(filepath.Base(path), Ext),
		Source:  string(data),
		Updated: info.ModTime().UTC(),
	}
	sc := bufio.NewScanner(strings.NewReader(r.Source))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, "#") {
			break
		}
		key, val, ok := strings.Cut(strings.TrimSpace(line[1:]), ":")
		if !ok {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(key)) {
		case "event":
			r.Event = strings.TrimSpace(val)
		case "owner":
			r.Owner = events.ObjectRef(strings.TrimSpace(val))
		}
	}
	return r, nil
}

// SetHeader sets a header line of a script source, replacing the line of
// the same key in the leading comments or adding one on top.
func SetHeader(source, key, value string) string {
	line := "# " + key + ": " + value
	lines := strings.Split(source, "\n")
	for i, l := range lines {
		t := strings.TrimSpace(l)
		if t == "" {
			continue
		}
		if !strings.HasPrefix(t, "#") {
			break
		}
		k, _, ok := strings.Cut(strings.TrimSpace(t[1:]), ":")
		if ok && strings.EqualFold(strings.TrimSpace(k), key) {
			lines[i] = line
			return strings.Join(lines, "\n")
		}
	}
	return line + "\n" + source
}

// WriteFile saves a script into dir, with its event and owner as header
// lines.
func WriteFile(dir string, r *scriptstore.Record) error {
	src := r.Source
	if r.Owner != events.Nobody {
		src = SetHeader(src, "owner", string(r.Owner))
	}
	if r.Event != "" {
		src = SetHeader(src, "event", r.Event)
	}
	r.Source = src
	return os.WriteFile(filepath.Join(dir, r.Name+Ext), []byte(src), 0o644)
}

// LoadDir reads every script file of dir, sorted by name.
func LoadDir(dir string) ([]*scriptstore.Record, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*"+Ext))
	if err != nil {
		return nil, err
	}
	sort.Strings(matches)
	out := make([]*scriptstore.Record, 0, len(matches))
	for _, path := range matches {
		r, err := ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("watch: %s: %w", path, err)
		}
		out = append(out, r)
	}
	return out, nil
}

// Handler receives the changes of the script directory.
type Handler interface {
	ScriptChanged(r *scriptstore.Record)
	ScriptRemoved(name string)
}

// Watcher follows a script directory.
type Watcher struct {
	// Debounce is how long a file must stay quiet before it is reloaded.
	// Editors often write a file in several steps.
	Debounce time.Duration

	dir     string
	handler Handler
	fs      *fsnotify.Watcher
}

// New starts watching dir. Changes are delivered once Run is called.
func New(dir string, h Handler) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watch: could not start watcher: %w", err)
	}
	if err := fw.Add(dir); err != nil {
		fw.Close()
		return nil, fmt.Errorf("watch: could not watch %s: %w", dir, err)
	}
	log.Infof("watching script directory for changes: %s", dir)
	return &Watcher{Debounce: 100 * time.Millisecond, dir: dir, handler: h, fs: fw}, nil
}

// Run delivers changes until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.fs.Close()

	pending := make(map[string]bool) // path -> removed
	timer := time.NewTimer(w.Debounce)
	timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-w.fs.Events:
			if !ok {
				return nil
			}
			if filepath.Ext(ev.Name) != Ext {
				continue
			}
			switch {
			case ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
				pending[ev.Name] = true
			case ev.Op&(fsnotify.Write|fsnotify.Create) != 0:
				pending[ev.Name] = false
			default:
				continue
			}
			timer.Reset(w.Debounce)

		case <-timer.C:
			w.flush(pending)
			clear(pending)

		case err, ok := <-w.fs.Errors:
			if !ok {
				return nil
			}
			log.Warningf("watch: watcher error: %v", err)
		}
	}
}

func (w *Watcher) flush(pending map[string]bool) {
	paths := make([]string, 0, len(pending))
	for p := range pending {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	for _, path := range paths {
		name := strings.TrimSuffix(filepath.Base(path), Ext)
		// A rename often replaces the file: trust the disk.
		if _, err := os.Stat(path); pending[path] && os.IsNotExist(err) {
			log.Infof("watch: script removed: %s", name)
			w.handler.ScriptRemoved(name)
			continue
		}
		r, err := ReadFile(path)
		if err != nil {
			log.Warningf("watch: cannot read %s: %v", path, err)
			continue
		}
		log.Infof("watch: script changed: %s", name)
		w.handler.ScriptChanged(r)
	}
}
