// Package exec walks a testscript scope tree (internal/ts/ast) and runs
// it: serial setup, scheduler-dispatched children, serial teardown, per
// spec.md §4.5. Command pipelines go through internal/procutil, the same
// process facade the compile rule uses.
package exec

import (
	"context"
	"fmt"
	"sync"

	"github.com/mbld/bld/internal/procutil"
	"github.com/mbld/bld/internal/sched"
	"github.com/mbld/bld/internal/ts/ast"
)

type State int

const (
	Passed State = iota
	Failed
)

func (s State) String() string {
	if s == Failed {
		return "failed"
	}
	return "passed"
}

// ScopeResult is one scope's outcome, mirroring the tree it ran.
type ScopeResult struct {
	ID       string
	State    State
	Err      error
	Children []*ScopeResult
}

// TestProgram names argument vectors that get rewritten to run through a
// dedicated runner (spec.md §4.5's "test-program runner").
type TestProgram struct {
	Names      map[string]bool
	RunnerPath string
	RunnerArgs []string
}

// Environment is the global execution context shared by every scope:
// special variables, the plain variable pool (mutex-guarded per spec.md
// §5), and the process facade.
type Environment struct {
	Runner      procutil.Runner
	KeepGoing   bool
	WorkDir     string
	Args        []string // $1.. and $*
	TestProgram *TestProgram

	mu   sync.Mutex
	Vars map[string]string
}

// Executor runs a scope tree against an Environment, dispatching child
// scopes through a sched.Context the way the build graph dispatches
// match/execute.
type Executor struct {
	Env   *Environment
	Sched *sched.Context
}

func New(env *Environment, schedCtx *sched.Context) *Executor {
	if env.Vars == nil {
		env.Vars = map[string]string{}
	}
	return &Executor{Env: env, Sched: schedCtx}
}

// Run executes the root scope and returns its result tree.
func (e *Executor) Run(ctx context.Context, root *ast.Scope) *ScopeResult {
	return e.runScope(ctx, root, "")
}

func (e *Executor) runScope(ctx context.Context, s *ast.Scope, parentID string) *ScopeResult {
	id := joinID(parentID, s.ID)
	if s.Kind == ast.Test {
		return e.runTest(ctx, s, id)
	}
	return e.runGroup(ctx, s, id)
}

func joinID(parent, id string) string {
	switch {
	case parent == "":
		return id
	case id == "":
		return parent
	default:
		return parent + "/" + id
	}
}

func (e *Executor) runGroup(ctx context.Context, g *ast.Scope, id string) *ScopeResult {
	res := &ScopeResult{ID: id, State: Passed}

	for _, line := range g.Setup {
		if err := e.runLine(ctx, line, id); err != nil {
			res.State = Failed
			res.Err = fmt.Errorf("%s: setup: %w", id, err)
			return res
		}
	}

	children := e.selectChildren(g)
	childResults := make([]*ScopeResult, len(children))

	group := e.Sched.WaitGuard(ctx)
	var mu sync.Mutex
	failed := false
	for i, c := range children {
		i, c := i, c
		group.Async(func(ctx context.Context) error {
			cr := e.runScope(ctx, c, id)
			mu.Lock()
			childResults[i] = cr
			if cr.State == Failed {
				failed = true
			}
			mu.Unlock()
			return nil
		})
	}
	// No in-flight cancellation primitive exists (spec.md §5): children
	// report failure through childResults, never as a task error, so the
	// group context is not cancelled and Wait lets every dispatched child
	// finish before the group observes failure.
	_ = group.Wait()
	res.Children = childResults

	if failed {
		res.State = Failed
		res.Err = fmt.Errorf("%s: one or more child scopes failed", id)
		if !e.Env.KeepGoing {
			return res
		}
	}

	for _, line := range g.Teardown {
		if err := e.runLine(ctx, line, id); err != nil {
			res.State = Failed
			res.Err = fmt.Errorf("%s: teardown: %w", id, err)
		}
	}
	return res
}

// selectChildren reduces each if-chain in g down to its single selected
// branch, replaying conditions and dropping the rest (spec.md §4.5's
// if-chain selection), while preserving declaration order of plain and
// resolved children.
func (e *Executor) selectChildren(g *ast.Scope) []*ast.Scope {
	memberOf := map[*ast.Scope]*ast.IfChain{}
	for _, chain := range g.IfChains {
		for i := range chain.Branches {
			memberOf[chain.Branches[i].Body] = chain
		}
	}
	resolved := map[*ast.IfChain]*ast.Scope{}
	var out []*ast.Scope
	for _, c := range g.Children {
		chain, isMember := memberOf[c]
		if !isMember {
			out = append(out, c)
			continue
		}
		winner, done := resolved[chain]
		if !done {
			winner = e.selectChainScope(chain, g.ID)
			resolved[chain] = winner
		}
		if c == winner {
			out = append(out, c)
		}
	}
	return out
}

func (e *Executor) selectChainScope(chain *ast.IfChain, idPath string) *ast.Scope {
	for _, b := range chain.Branches {
		if b.Cond == nil {
			return b.Body
		}
		ok := e.evalCond(b.Cond, idPath)
		if b.Kind == ast.CondIfn || b.Kind == ast.CondElifn {
			ok = !ok
		}
		if ok {
			return b.Body
		}
	}
	return nil
}

func (e *Executor) evalCond(line *ast.Line, idPath string) bool {
	expr := parseCommandExpr(e.expandTokens(line.Tokens, idPath))
	code, err := e.execExpr(context.Background(), expr)
	return err == nil && code == 0
}

func (e *Executor) runTest(ctx context.Context, t *ast.Scope, id string) *ScopeResult {
	res := &ScopeResult{ID: id, State: Passed}

	cmds := t.Commands
	if t.CmdChain != nil {
		if branch := e.selectChainScope(t.CmdChain, id); branch != nil {
			cmds = append(append([]ast.Line(nil), branch.Commands...), cmds...)
		}
	}

	for _, line := range cmds {
		if err := e.runLine(ctx, line, id); err != nil {
			res.State = Failed
			res.Err = fmt.Errorf("%s: %w", id, err)
			return res
		}
	}
	return res
}

// runLine expands variables, then either performs a var assignment or
// executes the line as a command expression.
func (e *Executor) runLine(ctx context.Context, line ast.Line, idPath string) error {
	if isAssignment(line.Tokens) {
		if err := e.runAssignment(line.Tokens, idPath); err != nil {
			return fmt.Errorf("line %d: %w", line.LineNo, err)
		}
		return nil
	}

	expr := parseCommandExpr(e.expandTokens(line.Tokens, idPath))
	code, err := e.execExpr(ctx, expr)
	if err != nil {
		return fmt.Errorf("line %d: %w", line.LineNo, err)
	}
	if code != 0 {
		return fmt.Errorf("line %d: exit status %d: %s", line.LineNo, code, line.Raw)
	}
	return nil
}

// execExpr runs a simple single-stage command directly through the
// runner; a pipeline or logical chain is re-rendered and handed to a
// shell, since procutil.Runner.Run spawns one process at a time.
func (e *Executor) execExpr(ctx context.Context, expr *CommandExpr) (int, error) {
	if expr.Simple() {
		argv := e.rewriteTestProgram(expr.Pipeline[0].Args)
		if len(argv) == 0 {
			return 0, nil
		}
		res, err := e.Env.Runner.Run(ctx, e.Env.WorkDir, nil, argv[0], argv[1:]...)
		if err != nil {
			return -1, err
		}
		return res.ExitCode, nil
	}
	res, err := e.Env.Runner.Run(ctx, e.Env.WorkDir, nil, "sh", "-c", render(expr))
	if err != nil {
		return -1, err
	}
	return res.ExitCode, nil
}

func (e *Executor) rewriteTestProgram(argv []string) []string {
	tp := e.Env.TestProgram
	if tp == nil || len(argv) == 0 || !tp.Names[argv[0]] {
		return argv
	}
	out := make([]string, 0, len(tp.RunnerArgs)+len(argv)+1)
	out = append(out, tp.RunnerPath)
	out = append(out, tp.RunnerArgs...)
	out = append(out, argv...)
	return out
}
