// Package driver wires the target graph, the compile and recipe rules,
// and the scheduler into the match/apply/execute loop spec.md §4.1/§5
// describe abstractly: building a target means building its prerequisites
// concurrently first (bounded by the scheduler's job count), then
// matching and applying a rule and running its recipe, with per-target
// singleflight dedup via the container's construction mutex. This is the
// driver the teacher's Executor (exec.go) implements directly against its
// flat Graph; here it sits above internal/graph + internal/cc +
// internal/recipe instead.
package driver

import (
	"context"
	"fmt"
	"sync"

	"github.com/mbld/bld/internal/bf/eval"
	"github.com/mbld/bld/internal/diag"
	"github.com/mbld/bld/internal/fsutil"
	"github.com/mbld/bld/internal/graph"
	"github.com/mbld/bld/internal/sched"
)

// Driver owns one loaded buildfile tree and executes actions against it.
type Driver struct {
	Result    *eval.Result
	Container *graph.Container
	Rules     []graph.Rule
	Sched     *sched.Context
	Log       *diag.Logger
	FS        fsutil.FS
	DryRun    bool
}

// Build runs the "update" action for key, recursively building its
// prerequisites first. Concurrent calls for the same key block on the
// container's per-key construction mutex rather than racing the rule.
func (d *Driver) Build(ctx context.Context, key graph.Key) error {
	return d.run(ctx, "update", key)
}

// Clean runs the "clean" action for key and every prerequisite in its
// subtree; order does not matter for clean; so prerequisites are cleaned
// concurrently without a build-before-apply ordering requirement.
func (d *Driver) Clean(ctx context.Context, key graph.Key) error {
	return d.run(ctx, "clean", key)
}

func (d *Driver) run(ctx context.Context, action string, key graph.Key) error {
	t, lock := d.Container.InsertLocked(key, graph.Real)
	lock.Lock()
	defer lock.Unlock()

	switch t.State {
	case graph.Changed, graph.Unchanged:
		return nil
	case graph.Failed:
		return fmt.Errorf("%s: previously failed", key)
	}
	t.State = graph.Executing

	prereqs := t.Prereqs()
	group := d.Sched.WaitGuard(ctx)
	var mu sync.Mutex
	var firstErr error
	for _, p := range prereqs {
		p := p
		group.Async(func(ctx context.Context) error {
			err := d.run(ctx, action, p.Key)
			if err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
			}
			return err
		})
	}
	if err := group.Wait(); err != nil {
		t.State = graph.Failed
		return fmt.Errorf("building prerequisite of %s: %w", key, firstErr)
	}

	rule := d.match(action, t)
	if rule == nil {
		if action == "clean" {
			t.State = graph.Unchanged
			return nil
		}
		if fsutil.Exists(d.FS, sourcePath(key)) {
			t.State = graph.Unchanged
			return nil
		}
		t.State = graph.Failed
		return fmt.Errorf("no rule to build %s", key)
	}

	recipe, err := rule.Apply(action, t)
	if err != nil {
		t.State = graph.Failed
		return err
	}
	if d.DryRun && action == "update" {
		t.State = graph.Unchanged
		return nil
	}
	state, err := recipe.Operate(action, t)
	t.State = state
	if err != nil {
		t.State = graph.Failed
		return err
	}
	return nil
}

func sourcePath(key graph.Key) string {
	ext := ""
	if key.Ext != "" {
		ext = "." + key.Ext
	}
	return key.Dir + key.Name + ext
}

func (d *Driver) match(action string, t *graph.Target) graph.Rule {
	for _, r := range d.Rules {
		if r.Match(action, t) {
			return r
		}
	}
	return nil
}

// Why reports human-readable reasons key needs rebuilding, or nil if it is
// up to date, mirroring the teacher's WhyRebuild (graph.go) but against
// mtime comparisons since the generic driver doesn't carry the compile
// rule's dep-db fingerprint machinery.
func (d *Driver) Why(key graph.Key) []string {
	t, ok := d.Container.Find(key)
	if !ok {
		return []string{"target is not declared"}
	}
	out := sourcePath(key)
	if !fsutil.Exists(d.FS, out) {
		return []string{"target does not exist"}
	}
	var reasons []string
	for _, p := range t.Prereqs() {
		ppath := sourcePath(p.Key)
		if fsutil.Exists(d.FS, ppath) && fsutil.Newer(d.FS, ppath, out) {
			reasons = append(reasons, fmt.Sprintf("%s is newer than %s", ppath, out))
		}
	}
	return reasons
}

// Subgraph walks key's prerequisite tree for `graph`-command rendering.
func (d *Driver) Subgraph(key graph.Key, visit func(from, to graph.Key)) {
	visited := map[graph.Key]bool{}
	var walk func(graph.Key)
	walk = func(k graph.Key) {
		if visited[k] {
			return
		}
		visited[k] = true
		t, ok := d.Container.Find(k)
		if !ok {
			return
		}
		for _, p := range t.Prereqs() {
			visit(k, p.Key)
			walk(p.Key)
		}
	}
	walk(key)
}
