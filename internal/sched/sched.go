// Package sched wraps golang.org/x/sync's errgroup and semaphore into the
// async/wait_guard/phase_switch primitives of spec.md §5: parallel match
// and execute dispatch bounded by a job count, plus a cooperative
// load/match/execute phase barrier.
package sched

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// Phase is one of the build context's cooperative phases.
type Phase int

const (
	PhaseLoad Phase = iota
	PhaseMatch
	PhaseExecute
)

func (p Phase) String() string {
	switch p {
	case PhaseLoad:
		return "load"
	case PhaseMatch:
		return "match"
	case PhaseExecute:
		return "execute"
	default:
		return "?"
	}
}

// Context is the global scheduling context: a job-count-bounded semaphore
// shared by every async dispatch, plus the current phase.
type Context struct {
	sem *semaphore.Weighted // nil means unlimited

	mu    sync.Mutex
	phase Phase
	// active counts threads currently holding a match/execute in progress;
	// a phase switch must wait for this to drain before advancing, mirroring
	// "no thread may hold a target match in progress across a phase boundary".
	active   int
	quiescent *sync.Cond
}

// New builds a Context. jobs<0 behaves as unlimited (no semaphore); jobs==0
// also means unlimited (mirrors the teacher's Executor jobs==0 convention);
// jobs>0 caps concurrent async tasks at that count.
func New(jobs int) *Context {
	c := &Context{phase: PhaseLoad}
	c.quiescent = sync.NewCond(&c.mu)
	if jobs > 0 {
		c.sem = semaphore.NewWeighted(int64(jobs))
	}
	return c
}

// Group is a wait_guard: an errgroup.Group bound to this Context's job
// semaphore, so every async task it dispatches respects the global cap.
type Group struct {
	ctx *Context
	eg  *errgroup.Group
	gctx context.Context
}

// WaitGuard starts a new async task group (spec.md's "wait-groups that
// block until a group's task count returns to zero").
func (c *Context) WaitGuard(ctx context.Context) *Group {
	eg, gctx := errgroup.WithContext(ctx)
	return &Group{ctx: c, eg: eg, gctx: gctx}
}

// Async dispatches fn as one task in the group, acquiring the shared
// semaphore slot (if any) before running and releasing it after. It
// tracks the Context's active-thread count so PhaseSwitch can detect
// quiescence.
func (g *Group) Async(fn func(ctx context.Context) error) {
	g.eg.Go(func() error {
		if g.ctx.sem != nil {
			if err := g.ctx.sem.Acquire(g.gctx, 1); err != nil {
				return err
			}
			defer g.ctx.sem.Release(1)
		}
		g.ctx.enterActive()
		defer g.ctx.leaveActive()
		return fn(g.gctx)
	})
}

// Wait blocks until every dispatched task completes, returning the first
// error (if any), mirroring wait_guard destruction semantics.
func (g *Group) Wait() error {
	return g.eg.Wait()
}

func (c *Context) enterActive() {
	c.mu.Lock()
	c.active++
	c.mu.Unlock()
}

func (c *Context) leaveActive() {
	c.mu.Lock()
	c.active--
	if c.active == 0 {
		c.quiescent.Broadcast()
	}
	c.mu.Unlock()
}

// Phase returns the context's current phase.
func (c *Context) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// PhaseSwitch is the counter-protected barrier of spec.md §9: it blocks
// until no thread holds an in-progress match/execute, then advances the
// phase. Concurrent PhaseSwitch callers serialize on the Context's mutex so
// only one phase transition happens at a time.
func (c *Context) PhaseSwitch(to Phase) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for c.active > 0 {
		c.quiescent.Wait()
	}
	c.phase = to
}

// DirectExecute runs fn in place, for a target that forces an update of a
// generated header during PhaseMatch. It does not change the context's
// phase and takes no PhaseSwitch barrier; fn runs in the caller's active
// slot.
func (c *Context) DirectExecute(fn func() error) error {
	return fn()
}
