// Package engine ties the script host together: it compiles the scripts of
// the script directory, starts them when their event happens, reports
// their failures and keeps waiting executions across restarts.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/crystal-mush/mudscript/pkg/config"
	"github.com/crystal-mush/mudscript/pkg/events"
	"github.com/crystal-mush/mudscript/pkg/metrics"
	"github.com/crystal-mush/mudscript/pkg/reports"
	"github.com/crystal-mush/mudscript/pkg/scheduler"
	"github.com/crystal-mush/mudscript/pkg/scriptstore"
	"github.com/crystal-mush/mudscript/pkg/scripting/assembly"
	"github.com/crystal-mush/mudscript/pkg/scripting/script"
	"github.com/tliron/commonlog"
)

// ErrUnknownEvent is returned for scripts attached to an undeclared event.
var ErrUnknownEvent = errors.New("engine: unknown event")

// Engine is the script host of a game.
type Engine struct {
	Conf     *config.Conf
	NS       *script.Namespace
	Events   *script.Events
	Compiler *script.Compiler
	Sched    *scheduler.Scheduler

	// Optional services, nil when disabled.
	Store   *scriptstore.Store
	Reports *reports.Store
	Metrics *metrics.Metrics

	mu      sync.RWMutex
	scripts map[string]*loaded
	log     commonlog.Logger
}

type loaded struct {
	script *script.Script
	record *scriptstore.Record
}

// Option configures an Engine.
type Option func(*Engine)

// WithStore persists scripts and waiting executions.
func WithStore(s *scriptstore.Store) Option { return func(e *Engine) { e.Store = s } }

// WithReports records failures for the script authors.
func WithReports(r *reports.Store) Option { return func(e *Engine) { e.Reports = r } }

// WithMetrics counts compilations and executions.
func WithMetrics(m *metrics.Metrics) Option { return func(e *Engine) { e.Metrics = m } }

// New creates an engine for the events declared in conf.
func New(conf *config.Conf, ns *script.Namespace, opts ...Option) (*Engine, error) {
	evs, err := conf.BuildEvents(ns)
	if err != nil {
		return nil, err
	}
	q := scheduler.New()
	q.Workers = conf.Workers
	q.MaxPerOwner = conf.MaxPerOwner
	q.MaxPerTick = conf.MaxPerTick
	if conf.SlowAfter > 0 {
		q.SlowAfter = time.Duration(conf.SlowAfter) * time.Second
	}

	e := &Engine{
		Conf:     conf,
		NS:       ns,
		Events:   evs,
		Compiler: &script.Compiler{Namespace: ns, CheckTypes: conf.CheckTypes},
		Sched:    q,
		scripts:  make(map[string]*loaded),
		log:      commonlog.GetLogger("mudscript.engine"),
	}
	for _, opt := range opts {
		opt(e)
	}
	q.OnRun = e.onRun
	q.OnSuspend = e.onSuspend
	q.OnFinish = e.onFinish
	return e, nil
}

// Load compiles a script and makes it available to its event. A script
// that does not compile replaces nothing: the previous version stays.
func (e *Engine) Load(r *scriptstore.Record) error {
	var ev *script.Event
	if r.Event != "" {
		var ok bool
		if ev, ok = e.Events.Lookup(r.Event); !ok {
			err := fmt.Errorf("%w: %s", ErrUnknownEvent, r.Event)
			e.compiled(r, err)
			return err
		}
	}
	s, err := e.Compiler.Compile(r.Name, r.Source, ev)
	e.compiled(r, err)
	if err != nil {
		return err
	}

	e.mu.Lock()
	e.scripts[r.Name] = &loaded{script: s, record: r}
	e.mu.Unlock()

	if e.Store != nil {
		if err := e.Store.PutScript(r); err != nil {
			e.log.Errorf("engine: cannot save script %s: %v", r.Name, err)
		}
	}
	e.log.Infof("engine: loaded script %s (%d instructions)", r.Name, s.Program.Len())
	return nil
}

func (e *Engine) compiled(r *scriptstore.Record, err error) {
	if e.Metrics != nil {
		e.Metrics.Compiled(err)
	}
	if err == nil {
		return
	}
	e.log.Warningf("engine: script %s does not compile: %v", r.Name, err)
	e.report(reports.NewFailure(r.Name, "", r.Owner, err))
}

func (e *Engine) report(f reports.Failure) {
	if e.Reports == nil {
		return
	}
	if _, err := e.Reports.Record(context.Background(), f); err != nil {
		e.log.Errorf("engine: cannot record failure of %s: %v", f.Script, err)
	}
}

// Remove forgets a script. Running executions of it go on.
func (e *Engine) Remove(name string) error {
	e.mu.Lock()
	delete(e.scripts, name)
	e.mu.Unlock()
	if e.Store != nil {
		return e.Store.DeleteScript(name)
	}
	return nil
}

// ScriptChanged implements watch.Handler.
func (e *Engine) ScriptChanged(r *scriptstore.Record) { e.Load(r) }

// ScriptRemoved implements watch.Handler.
func (e *Engine) ScriptRemoved(name string) {
	if err := e.Remove(name); err != nil {
		e.log.Errorf("engine: cannot remove script %s: %v", name, err)
	}
}

// LoadAll loads the stored scripts, then the given ones, which replace
// stored scripts of the same name. It returns how many compiled.
func (e *Engine) LoadAll(records []*scriptstore.Record) int {
	var all []*scriptstore.Record
	if e.Store != nil {
		stored, err := e.Store.ListScripts(events.Nobody)
		if err != nil {
			e.log.Errorf("engine: %v", err)
		}
		all = append(all, stored...)
	}
	all = append(all, records...)
	count := 0
	for _, r := range all {
		if e.Load(r) == nil {
			count++
		}
	}
	return count
}

// Script returns a loaded script.
func (e *Engine) Script(name string) (*script.Script, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	l, ok := e.scripts[name]
	if !ok {
		return nil, false
	}
	return l.script, true
}

// Scripts lists the loaded scripts, sorted.
func (e *Engine) Scripts() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	names := make([]string, 0, len(e.scripts))
	for name := range e.scripts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Records returns the records of the loaded scripts, sorted by name.
func (e *Engine) Records() []*scriptstore.Record {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*scriptstore.Record, 0, len(e.scripts))
	for _, l := range e.scripts {
		out = append(out, l.record)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Trigger starts every script attached to event, in name order. Scripts
// run for their owner, or for caller when they have none.
func (e *Engine) Trigger(event string, caller events.ObjectRef, vars map[string]assembly.Value) ([]*scheduler.Task, error) {
	ev, ok := e.Events.Lookup(event)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEvent, event)
	}
	for _, v := range ev.Variables {
		if _, ok := vars[v.Name]; !ok {
			return nil, fmt.Errorf("engine: event %s: missing variable %s", event, v.Name)
		}
	}

	e.mu.RLock()
	var targets []*loaded
	for _, l := range e.scripts {
		if l.record.Event == event {
			targets = append(targets, l)
		}
	}
	e.mu.RUnlock()
	sort.Slice(targets, func(i, j int) bool { return targets[i].record.Name < targets[j].record.Name })

	var tasks []*scheduler.Task
	for _, l := range targets {
		owner := l.record.Owner
		if owner == events.Nobody {
			owner = caller
		}
		t, err := e.Sched.Start(l.script, owner, vars, assembly.WithMaxSteps(e.Conf.MaxSteps))
		if err != nil {
			return tasks, err
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}

// Restore queues the executions saved by the last Save.
func (e *Engine) Restore() (int, error) {
	if e.Store == nil {
		return 0, nil
	}
	snaps, err := e.Store.LoadSnapshots()
	if err != nil {
		return 0, err
	}
	count := 0
	for _, snap := range snaps {
		t, err := snap.Restore(e.NS, assembly.WithMaxSteps(e.Conf.MaxSteps))
		if err != nil {
			e.log.Warningf("engine: dropping execution %s of %s: %v", snap.ID, snap.Script, err)
			continue
		}
		if t.WakeAt.IsZero() {
			err = e.Sched.Add(t)
		} else {
			e.Sched.AddWait(t)
		}
		if err != nil {
			e.log.Warningf("engine: dropping execution %s of %s: %v", snap.ID, snap.Script, err)
			continue
		}
		count++
	}
	return count, e.Store.ClearSnapshots()
}

// Save stores the executions still queued, for Restore.
func (e *Engine) Save() (int, error) {
	if e.Store == nil {
		return 0, nil
	}
	var snaps []*scriptstore.Snapshot
	for _, t := range e.Sched.Pending() {
		snap, err := scriptstore.Capture(t)
		if err != nil {
			e.log.Warningf("engine: cannot save execution %s of %s: %v", t.ID, t.Script, err)
			continue
		}
		snaps = append(snaps, snap)
	}
	return len(snaps), e.Store.PutSnapshots(snaps...)
}

// Run restores the saved executions and runs the scheduler until ctx is
// done, then saves the executions still waiting.
func (e *Engine) Run(ctx context.Context) error {
	n, err := e.Restore()
	if err != nil {
		return fmt.Errorf("engine: restore: %w", err)
	}
	if n > 0 {
		e.log.Infof("engine: restored %d waiting executions", n)
	}
	if err := e.Sched.Run(ctx); err != nil {
		return err
	}
	n, err = e.Save()
	if err != nil {
		return fmt.Errorf("engine: save: %w", err)
	}
	if n > 0 {
		e.log.Infof("engine: saved %d waiting executions", n)
	}
	return nil
}

// PurgeReports removes failures older than the configured retention.
func (e *Engine) PurgeReports(ctx context.Context) (int64, error) {
	if e.Reports == nil || e.Conf.ReportsKeep <= 0 {
		return 0, nil
	}
	return e.Reports.Purge(ctx, time.Now().AddDate(0, 0, -e.Conf.ReportsKeep))
}

func (e *Engine) onRun(t *scheduler.Task, steps int) {
	if e.Metrics != nil {
		e.Metrics.Ran(t.Exec, steps)
	}
}

func (e *Engine) onSuspend(t *scheduler.Task) {
	e.emit(t, events.EvScriptWait, "")
}

func (e *Engine) onFinish(t *scheduler.Task, err error) {
	if err == nil {
		e.emit(t, events.EvScriptDone, "")
		return
	}
	e.log.Warningf("engine: script %s failed: %v", t.Script, err)
	e.report(reports.NewFailure(t.Script, t.ID, t.Owner, err))
	e.emit(t, events.EvScriptError, err.Error())
}

func (e *Engine) emit(t *scheduler.Task, typ events.EventType, text string) {
	if e.NS.Bus == nil {
		return
	}
	e.NS.Bus.Emit(events.Event{
		Type:      typ,
		Player:    t.Owner,
		Source:    t.Owner,
		Script:    t.Script,
		Execution: t.ID,
		Text:      text,
	})
}
