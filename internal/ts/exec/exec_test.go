package exec

import (
	"context"
	"strings"
	"testing"

	"github.com/mbld/bld/internal/procutil"
	"github.com/mbld/bld/internal/sched"
	tsparse "github.com/mbld/bld/internal/ts/parse"
)

type scriptedRunner struct {
	calls []string
	exit  map[string]int
}

func (r *scriptedRunner) Run(ctx context.Context, dir string, env []string, name string, args ...string) (procutil.Result, error) {
	argv := append([]string{name}, args...)
	key := strings.Join(argv, " ")
	r.calls = append(r.calls, key)
	return procutil.Result{ExitCode: r.exit[key]}, nil
}

func (r *scriptedRunner) Pipe(ctx context.Context, dir string, env []string, name string, args ...string) (*procutil.PipeProc, error) {
	return nil, nil
}

func TestRunSimpleTestPasses(t *testing.T) {
	root, err := tsparse.Parse(strings.NewReader("t {\ncmd arg\n}\n"))
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	runner := &scriptedRunner{exit: map[string]int{}}
	env := &Environment{Runner: runner, WorkDir: "/work"}
	ex := New(env, sched.New(0))

	res := ex.Run(context.Background(), root)
	if res.State != Passed {
		t.Fatalf("state = %v, want Passed (err=%v)", res.State, res.Err)
	}
	if len(runner.calls) != 1 || runner.calls[0] != "cmd arg" {
		t.Fatalf("calls = %v", runner.calls)
	}
}

func TestRunFailingCommandFailsTest(t *testing.T) {
	root, err := tsparse.Parse(strings.NewReader("t {\ncmd_bad\n}\n"))
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	runner := &scriptedRunner{exit: map[string]int{"cmd_bad": 1}}
	env := &Environment{Runner: runner, WorkDir: "."}
	ex := New(env, sched.New(0))

	res := ex.Run(context.Background(), root)
	if res.State != Failed {
		t.Fatalf("state = %v, want Failed", res.State)
	}
}

func TestRunGroupPropagatesChildFailure(t *testing.T) {
	src := "a {\ncmd_ok\n}\nb {\ncmd_fail\n}\n"
	root, err := tsparse.Parse(strings.NewReader(src))
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	runner := &scriptedRunner{exit: map[string]int{"cmd_fail": 1}}
	env := &Environment{Runner: runner, WorkDir: "."}
	ex := New(env, sched.New(0))

	res := ex.Run(context.Background(), root)
	if res.State != Failed {
		t.Fatalf("root state = %v, want Failed", res.State)
	}
	if len(res.Children) != 2 {
		t.Fatalf("children = %d, want 2 (both dispatched regardless of keep_going)", len(res.Children))
	}
}

func TestRunGroupKeepGoingStillRunsTeardown(t *testing.T) {
	src := "a {\ncmd_fail\n}\nteardown_cmd\n"
	root, err := tsparse.Parse(strings.NewReader(src))
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	runner := &scriptedRunner{exit: map[string]int{"cmd_fail": 1}}
	env := &Environment{Runner: runner, WorkDir: ".", KeepGoing: true}
	ex := New(env, sched.New(0))

	res := ex.Run(context.Background(), root)
	if res.State != Failed {
		t.Fatalf("state = %v, want Failed", res.State)
	}
	found := false
	for _, c := range runner.calls {
		if c == "teardown_cmd" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected teardown_cmd to run, calls=%v", runner.calls)
	}
}

func TestRunGroupNoKeepGoingSkipsTeardown(t *testing.T) {
	src := "a {\ncmd_fail\n}\nteardown_cmd\n"
	root, err := tsparse.Parse(strings.NewReader(src))
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	runner := &scriptedRunner{exit: map[string]int{"cmd_fail": 1}}
	env := &Environment{Runner: runner, WorkDir: ".", KeepGoing: false}
	ex := New(env, sched.New(0))

	res := ex.Run(context.Background(), root)
	if res.State != Failed {
		t.Fatalf("state = %v, want Failed", res.State)
	}
	for _, c := range runner.calls {
		if c == "teardown_cmd" {
			t.Fatalf("teardown_cmd should not run when keep_going is false and a child failed")
		}
	}
}

func TestRunScopeIfSelectsSingleBranch(t *testing.T) {
	src := "if true {{\n" +
		"win {\n" +
		"cmd_win\n" +
		"}\n" +
		"}} else {{\n" +
		"other {\n" +
		"cmd_other\n" +
		"}\n" +
		"}}\n"
	root, err := tsparse.Parse(strings.NewReader(src))
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	runner := &scriptedRunner{exit: map[string]int{}}
	env := &Environment{Runner: runner, WorkDir: "."}
	ex := New(env, sched.New(0))

	res := ex.Run(context.Background(), root)
	if res.State != Passed {
		t.Fatalf("state = %v, want Passed (err=%v)", res.State, res.Err)
	}
	if len(res.Children) != 1 {
		t.Fatalf("children = %d, want 1 (only the selected branch)", len(res.Children))
	}
	sawWin, sawOther := false, false
	for _, c := range runner.calls {
		if c == "cmd_win" {
			sawWin = true
		}
		if c == "cmd_other" {
			sawOther = true
		}
	}
	if !sawWin {
		t.Fatalf("expected cmd_win to run, calls=%v", runner.calls)
	}
	if sawOther {
		t.Fatalf("expected cmd_other to be skipped, calls=%v", runner.calls)
	}
}

func TestRunCommandIfInTestSelectsBranch(t *testing.T) {
	src := "t {\nifn true\ncmd_win\nelse\ncmd_posix\n}\n"
	root, err := tsparse.Parse(strings.NewReader(src))
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	runner := &scriptedRunner{exit: map[string]int{}}
	env := &Environment{Runner: runner, WorkDir: "."}
	ex := New(env, sched.New(0))

	res := ex.Run(context.Background(), root)
	if res.State != Passed {
		t.Fatalf("state = %v, want Passed (err=%v)", res.State, res.Err)
	}
	sawWin, sawPosix := false, false
	for _, c := range runner.calls {
		if c == "cmd_win" {
			sawWin = true
		}
		if c == "cmd_posix" {
			sawPosix = true
		}
	}
	if sawWin || !sawPosix {
		t.Fatalf("ifn true should select else-branch, calls=%v", runner.calls)
	}
}

func TestSpecialVarExpansion(t *testing.T) {
	root, err := tsparse.Parse(strings.NewReader("t {\ncmd $@ $~\n}\n"))
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	runner := &scriptedRunner{exit: map[string]int{}}
	env := &Environment{Runner: runner, WorkDir: "/work/dir"}
	ex := New(env, sched.New(0))

	res := ex.Run(context.Background(), root)
	if res.State != Passed {
		t.Fatalf("state = %v, want Passed", res.State)
	}
	if len(runner.calls) != 1 || runner.calls[0] != "cmd t /work/dir" {
		t.Fatalf("calls = %v, want [\"cmd t /work/dir\"]", runner.calls)
	}
}

func TestAssignmentIsNotExecutedAsCommand(t *testing.T) {
	root, err := tsparse.Parse(strings.NewReader("t {\nx = 1\ncmd $x\n}\n"))
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	runner := &scriptedRunner{exit: map[string]int{}}
	env := &Environment{Runner: runner, WorkDir: "."}
	ex := New(env, sched.New(0))

	res := ex.Run(context.Background(), root)
	if res.State != Passed {
		t.Fatalf("state = %v, want Passed (err=%v)", res.State, res.Err)
	}
	if len(runner.calls) != 1 || runner.calls[0] != "cmd 1" {
		t.Fatalf("calls = %v, want [\"cmd 1\"]", runner.calls)
	}
}

func TestAssignmentToSpecialVarFails(t *testing.T) {
	root, err := tsparse.Parse(strings.NewReader("t {\n@ = bogus\n}\n"))
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	runner := &scriptedRunner{exit: map[string]int{}}
	env := &Environment{Runner: runner, WorkDir: "."}
	ex := New(env, sched.New(0))

	res := ex.Run(context.Background(), root)
	if res.State != Failed {
		t.Fatalf("state = %v, want Failed assigning a special variable", res.State)
	}
}
