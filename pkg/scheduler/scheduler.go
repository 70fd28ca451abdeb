// Package scheduler runs script executions for the game: executions that
// are ready go to a pool of workers, suspended ones wait in a queue sorted
// by wake-up time.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/crystal-mush/mudscript/pkg/events"
	"github.com/crystal-mush/mudscript/pkg/scripting/assembly"
	"github.com/crystal-mush/mudscript/pkg/scripting/script"
	"github.com/google/uuid"
	"github.com/tliron/commonlog"
)

// ErrOwnerLimit is returned when an owner has too many queued tasks.
var ErrOwnerLimit = errors.New("scheduler: per-owner limit reached")

// Task is one execution of a script, waiting for its turn.
type Task struct {
	ID     string
	Script string
	Owner  events.ObjectRef // Object the script runs for
	Exec   *assembly.Execution
	WakeAt time.Time // When to resume (zero = immediate)
}

// Scheduler manages queued executions. Set the exported fields before
// calling Run.
type Scheduler struct {
	// Workers is the number of executions running at the same time.
	Workers int

	// MaxPerOwner limits queued tasks per owner, to stop runaway scripts.
	MaxPerOwner int

	// MaxPerTick is how many tasks are dispatched per tick.
	MaxPerTick int

	// IdleTick is the tick when there is nothing to do, FastTick the tick
	// while work is coming in.
	IdleTick, FastTick time.Duration

	// SlowAfter logs a warning for executions running longer than this.
	SlowAfter time.Duration

	// OnFinish is called when an execution halts or fails. err is nil
	// for a normal halt.
	OnFinish func(t *Task, err error)

	// OnSuspend is called when an execution suspends, before it is
	// queued again.
	OnSuspend func(t *Task)

	// OnRun is called after every turn of an execution with the number of
	// instructions it processed.
	OnRun func(t *Task, steps int)

	// Now is the clock, for tests.
	Now func() time.Time

	mu        sync.Mutex
	immediate []*Task // Execute ASAP
	waitQueue []*Task // Sorted by WakeAt
	log       commonlog.Logger
}

// New creates a scheduler with the default settings.
func New() *Scheduler {
	return &Scheduler{
		Workers:     4,
		MaxPerOwner: 1000,
		MaxPerTick:  100,
		IdleTick:    100 * time.Millisecond,
		FastTick:    10 * time.Millisecond,
		SlowAfter:   5 * time.Second,
		Now:         time.Now,
		log:         commonlog.GetLogger("mudscript.scheduler"),
	}
}

// NewTask wraps an execution of s into a task with a fresh id.
func NewTask(s *script.Script, owner events.ObjectRef, x *assembly.Execution) *Task {
	return &Task{ID: uuid.NewString(), Script: s.Name, Owner: owner, Exec: x}
}

// Start queues a new execution of s for immediate execution.
func (q *Scheduler) Start(s *script.Script, owner events.ObjectRef, vars map[string]assembly.Value, opts ...assembly.Option) (*Task, error) {
	t := NewTask(s, owner, s.NewExecution(vars, opts...))
	if err := q.Add(t); err != nil {
		return nil, err
	}
	return t, nil
}

func (q *Scheduler) countOwner(owner events.ObjectRef) int {
	count := 0
	for _, t := range q.immediate {
		if t.Owner == owner {
			count++
		}
	}
	for _, t := range q.waitQueue {
		if t.Owner == owner {
			count++
		}
	}
	return count
}

// Add queues a task for immediate execution.
func (q *Scheduler) Add(t *Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.MaxPerOwner > 0 && q.countOwner(t.Owner) >= q.MaxPerOwner {
		q.log.Warningf("scheduler: dropping task %s for %s, per-owner limit (%d) reached", t.ID, t.Owner, q.MaxPerOwner)
		return fmt.Errorf("%w: %s", ErrOwnerLimit, t.Owner)
	}
	t.WakeAt = time.Time{}
	q.immediate = append(q.immediate, t)
	return nil
}

// AddWait queues a task to resume at t.WakeAt. Tasks already counted
// against their owner (suspended ones) are never dropped.
func (q *Scheduler) AddWait(t *Task) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.insertWait(t)
}

func (q *Scheduler) insertWait(t *Task) {
	for i, e := range q.waitQueue {
		if t.WakeAt.Before(e.WakeAt) {
			q.waitQueue = append(q.waitQueue[:i+1], q.waitQueue[i:]...)
			q.waitQueue[i] = t
			return
		}
	}
	q.waitQueue = append(q.waitQueue, t)
}

// PromoteReady moves tasks from the wait queue whose time has come.
// Returns the number of tasks promoted.
func (q *Scheduler) PromoteReady() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.Now()
	cutoff := 0
	for i, t := range q.waitQueue {
		if t.WakeAt.After(now) {
			break
		}
		cutoff = i + 1
	}
	if cutoff > 0 {
		q.immediate = append(q.immediate, q.waitQueue[:cutoff]...)
		q.waitQueue = q.waitQueue[cutoff:]
	}
	return cutoff
}

// PopImmediate returns and removes the next ready task, or nil.
func (q *Scheduler) PopImmediate() *Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.immediate) == 0 {
		return nil
	}
	t := q.immediate[0]
	q.immediate = q.immediate[1:]
	return t
}

// HaltOwner removes all queued tasks of an owner. A task already running
// finishes its current turn.
func (q *Scheduler) HaltOwner(owner events.ObjectRef) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	removed := 0
	filter := func(tasks []*Task) []*Task {
		var result []*Task
		for _, t := range tasks {
			if t.Owner == owner {
				removed++
			} else {
				result = append(result, t)
			}
		}
		return result
	}
	q.immediate = filter(q.immediate)
	q.waitQueue = filter(q.waitQueue)
	return removed
}

// HaltAll empties both queues.
func (q *Scheduler) HaltAll() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	removed := len(q.immediate) + len(q.waitQueue)
	q.immediate = nil
	q.waitQueue = nil
	return removed
}

// Stats returns the queue sizes.
func (q *Scheduler) Stats() (immediate, waiting int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.immediate), len(q.waitQueue)
}

// Pending returns every queued task, ready ones first, without removing
// them. The daemon saves them on shutdown.
func (q *Scheduler) Pending() []*Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*Task, 0, len(q.immediate)+len(q.waitQueue))
	out = append(out, q.immediate...)
	return append(out, q.waitQueue...)
}

// Run dispatches tasks to the workers until ctx is done, then waits for
// the running executions to stop. Executions interrupted by the
// cancellation are queued again, so Pending still returns them.
func (q *Scheduler) Run(ctx context.Context) error {
	work := make(chan *Task)
	var wg sync.WaitGroup
	for range max(q.Workers, 1) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for t := range work {
				q.execute(ctx, t)
			}
		}()
	}
	defer func() {
		close(work)
		wg.Wait()
	}()

	ticker := time.NewTicker(q.IdleTick)
	defer ticker.Stop()
	heartbeat := time.NewTicker(60 * time.Second)
	defer heartbeat.Stop()
	idle := true
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			hadWork := q.dispatch(ctx, work)
			if hadWork && idle {
				idle = false
				ticker.Reset(q.FastTick)
			} else if !hadWork && !idle {
				idle = true
				ticker.Reset(q.IdleTick)
			}
		case <-heartbeat.C:
			if imm, wait := q.Stats(); imm > 0 || wait > 0 {
				q.log.Infof("scheduler: heartbeat, %d ready, %d waiting", imm, wait)
			}
		}
	}
}

func (q *Scheduler) dispatch(ctx context.Context, work chan<- *Task) bool {
	promoted := q.PromoteReady()
	dispatched := 0
	for range q.MaxPerTick {
		t := q.PopImmediate()
		if t == nil {
			break
		}
		select {
		case work <- t:
			dispatched++
		case <-ctx.Done():
			q.requeue(t)
			return true
		}
	}
	return dispatched > 0 || promoted > 0
}

// requeue puts a task back in front without checking the owner limit.
func (q *Scheduler) requeue(t *Task) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.immediate = append([]*Task{t}, q.immediate...)
}

// execute runs one turn of a task with panic recovery and a watchdog
// that logs slow executions.
func (q *Scheduler) execute(ctx context.Context, t *Task) {
	defer func() {
		if r := recover(); r != nil {
			q.log.Criticalf("scheduler: panic in task %s (script %s): %v\n%s", t.ID, t.Script, r, debug.Stack())
			q.finish(t, fmt.Errorf("scheduler: panic: %v", r))
		}
	}()

	timer := time.AfterFunc(q.SlowAfter, func() {
		q.log.Warningf("scheduler: slow task %s (script %s, owner %s) >%s", t.ID, t.Script, t.Owner, q.SlowAfter)
	})
	defer timer.Stop()

	runCtx := script.WithOrigin(ctx, script.Origin{Caller: t.Owner, Script: t.Script, Execution: t.ID})
	before := t.Exec.Steps
	wait, err := t.Exec.Run(runCtx)
	if q.OnRun != nil {
		q.OnRun(t, t.Exec.Steps-before)
	}
	switch {
	case err != nil && !t.Exec.Done():
		// Interrupted by the shutdown.
		q.requeue(t)
	case t.Exec.Done():
		q.finish(t, err)
	default:
		if q.OnSuspend != nil {
			q.OnSuspend(t)
		}
		if wait <= 0 {
			// A yielding task goes behind the other ready ones.
			q.mu.Lock()
			q.immediate = append(q.immediate, t)
			q.mu.Unlock()
			return
		}
		t.WakeAt = q.Now().Add(wait)
		q.AddWait(t)
	}
}

func (q *Scheduler) finish(t *Task, err error) {
	if err != nil {
		q.log.Debugf("scheduler: task %s (script %s) failed: %v", t.ID, t.Script, err)
	}
	if q.OnFinish != nil {
		q.OnFinish(t, err)
	}
}
