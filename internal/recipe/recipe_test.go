package recipe

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mbld/bld/internal/bf/eval"
	"github.com/mbld/bld/internal/bf/names"
	"github.com/mbld/bld/internal/diag"
	"github.com/mbld/bld/internal/fsutil"
	"github.com/mbld/bld/internal/graph"
	"github.com/mbld/bld/internal/procutil"
)

// fakeFileInfo/fakeFS mirror internal/cc's rule_test fake so mtime-ordering
// assertions stay deterministic without touching a real filesystem.
type fakeFileInfo struct {
	name    string
	modTime time.Time
}

func (fi fakeFileInfo) Name() string       { return fi.name }
func (fi fakeFileInfo) Size() int64        { return 0 }
func (fi fakeFileInfo) Mode() os.FileMode  { return 0o644 }
func (fi fakeFileInfo) ModTime() time.Time { return fi.modTime }
func (fi fakeFileInfo) IsDir() bool        { return false }
func (fi fakeFileInfo) Sys() any           { return nil }

type fakeFS struct {
	files map[string][]byte
	mtime map[string]time.Time
	clock time.Time
}

func newFakeFS() *fakeFS {
	return &fakeFS{files: map[string][]byte{}, mtime: map[string]time.Time{}, clock: time.Unix(1000, 0)}
}

func (f *fakeFS) tick() time.Time {
	f.clock = f.clock.Add(time.Second)
	return f.clock
}

func (f *fakeFS) Stat(path string) (os.FileInfo, error) {
	if _, ok := f.files[path]; !ok {
		return nil, os.ErrNotExist
	}
	return fakeFileInfo{name: filepath.Base(path), modTime: f.mtime[path]}, nil
}
func (f *fakeFS) ReadFile(path string) ([]byte, error) {
	data, ok := f.files[path]
	if !ok {
		return nil, os.ErrNotExist
	}
	return data, nil
}
func (f *fakeFS) WriteFile(path string, data []byte, perm os.FileMode) error {
	f.files[path] = append([]byte(nil), data...)
	f.mtime[path] = f.tick()
	return nil
}
func (f *fakeFS) MkdirAll(path string, perm os.FileMode) error { return nil }
func (f *fakeFS) Remove(path string) error {
	delete(f.files, path)
	delete(f.mtime, path)
	return nil
}
func (f *fakeFS) Glob(pattern string) ([]string, error)  { return nil, nil }
func (f *fakeFS) Open(path string) (*os.File, error)     { return nil, os.ErrNotExist }
func (f *fakeFS) Chtimes(path string, atime, mtime time.Time) error {
	f.mtime[path] = mtime
	return nil
}

// fakeRunner records the shell script it was asked to run and simulates
// materializing (or not) the target file, like internal/cc's rule_test.
type fakeRunner struct {
	fs       *fakeFS
	outPath  string
	exitCode int
	stderr   string
	lastCmd  string
}

func (r *fakeRunner) Run(ctx context.Context, dir string, env []string, name string, args ...string) (procutil.Result, error) {
	if len(args) > 0 {
		r.lastCmd = args[len(args)-1]
	}
	if r.exitCode == 0 && r.outPath != "" {
		r.fs.WriteFile(r.outPath, []byte("built"), 0o644)
	}
	return procutil.Result{ExitCode: r.exitCode, Stderr: []byte(r.stderr)}, nil
}

func (r *fakeRunner) Pipe(ctx context.Context, dir string, env []string, name string, args ...string) (*procutil.PipeProc, error) {
	return nil, os.ErrInvalid
}

func newTarget(fs *fakeFS, key graph.Key, kind graph.DeclKind) *graph.Target {
	c := graph.NewContainer()
	t, _ := c.InsertLocked(key, kind)
	t.Vars = names.NewPool()
	return t
}

func TestRecipeRuleMatchesOnlyRecordedTargets(t *testing.T) {
	fs := newFakeFS()
	key := graph.Key{Type: "file", Dir: "out/", Name: "greeting"}
	target := newTarget(fs, key, graph.Real)
	other := newTarget(fs, graph.Key{Type: "file", Dir: "out/", Name: "other"}, graph.Real)

	rule := &Rule{
		FS:      fs,
		Runner:  &fakeRunner{fs: fs},
		Recipes: map[graph.Key]*eval.RecipeSpec{key: {Lang: "sh", Body: "echo hi > $target"}},
		Log:     diag.Discard(),
	}
	if !rule.Match("update", target) {
		t.Fatalf("expected match for recorded target")
	}
	if rule.Match("update", other) {
		t.Fatalf("did not expect match for a target with no recorded recipe")
	}
}

func TestRecipeUpdateRunsScriptAndMaterializesOutput(t *testing.T) {
	fs := newFakeFS()
	key := graph.Key{Type: "file", Dir: "out/", Name: "greeting"}
	target := newTarget(fs, key, graph.Real)
	runner := &fakeRunner{fs: fs, outPath: "out/greeting"}

	rule := &Rule{
		FS:      fs,
		Runner:  runner,
		Recipes: map[graph.Key]*eval.RecipeSpec{key: {Lang: "sh", Body: "echo hi > $target"}},
		Log:     diag.Discard(),
	}
	recipe, err := rule.Apply("update", target)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	state, err := recipe.Operate("update", target)
	if err != nil {
		t.Fatalf("Operate: %v", err)
	}
	if state != graph.Changed {
		t.Fatalf("state = %v, want Changed", state)
	}
	if _, ok := fs.files["out/greeting"]; !ok {
		t.Fatalf("expected output to be written")
	}
	if runner.lastCmd == "" {
		t.Fatalf("expected a shell script to be run")
	}
}

func TestRecipeUpdateSkipsWhenUpToDate(t *testing.T) {
	fs := newFakeFS()
	key := graph.Key{Type: "file", Dir: "out/", Name: "greeting"}
	srcKey := graph.Key{Type: "file", Dir: "src/", Name: "greeting", Ext: "txt"}

	fs.files["src/greeting.txt"] = []byte("hi")
	fs.mtime["src/greeting.txt"] = time.Unix(1000, 0)
	fs.files["out/greeting"] = []byte("built")
	fs.mtime["out/greeting"] = time.Unix(2000, 0)

	c := graph.NewContainer()
	target, _ := c.InsertLocked(key, graph.Real)
	target.Vars = names.NewPool()
	srcTarget, _ := c.InsertLocked(srcKey, graph.Real)
	target.AddPrereq(&graph.Prerequisite{Key: srcKey, Target: srcTarget})

	runner := &fakeRunner{fs: fs, outPath: "out/greeting"}
	rule := &Rule{
		FS:      fs,
		Runner:  runner,
		Recipes: map[graph.Key]*eval.RecipeSpec{key: {Lang: "sh", Body: "echo hi > $target"}},
		Log:     diag.Discard(),
	}
	recipe, err := rule.Apply("update", target)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	state, err := recipe.Operate("update", target)
	if err != nil {
		t.Fatalf("Operate: %v", err)
	}
	if state != graph.Unchanged {
		t.Fatalf("state = %v, want Unchanged (output newer than prerequisite)", state)
	}
	if runner.lastCmd != "" {
		t.Fatalf("recipe should not have run when already up to date")
	}
}

func TestRecipeUpdateRemovesPartialOutputOnFailureUnlessKept(t *testing.T) {
	fs := newFakeFS()
	key := graph.Key{Type: "file", Dir: "out/", Name: "greeting"}
	target := newTarget(fs, key, graph.Real)
	fs.files["out/greeting"] = []byte("partial")

	runner := &fakeRunner{fs: fs, exitCode: 1, stderr: "boom"}
	rule := &Rule{
		FS:      fs,
		Runner:  runner,
		Recipes: map[graph.Key]*eval.RecipeSpec{key: {Lang: "sh", Body: "false"}},
		Log:     diag.Discard(),
	}
	recipe, err := rule.Apply("update", target)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	state, err := recipe.Operate("update", target)
	if err == nil {
		t.Fatalf("expected an error from a failing recipe")
	}
	if state != graph.Failed {
		t.Fatalf("state = %v, want Failed", state)
	}
	if _, ok := fs.files["out/greeting"]; ok {
		t.Fatalf("expected partial output to be removed on failure")
	}
}

func TestRecipeCleanRemovesOutput(t *testing.T) {
	fs := newFakeFS()
	key := graph.Key{Type: "file", Dir: "out/", Name: "greeting"}
	target := newTarget(fs, key, graph.Real)
	fs.files["out/greeting"] = []byte("built")

	rule := &Rule{
		FS:      fs,
		Runner:  &fakeRunner{fs: fs},
		Recipes: map[graph.Key]*eval.RecipeSpec{key: {Lang: "sh", Body: "echo hi"}},
		Log:     diag.Discard(),
	}
	recipe, err := rule.Apply("clean", target)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	state, err := recipe.Operate("clean", target)
	if err != nil {
		t.Fatalf("Operate: %v", err)
	}
	if state != graph.Changed {
		t.Fatalf("state = %v, want Changed", state)
	}
	if _, ok := fs.files["out/greeting"]; ok {
		t.Fatalf("expected output removed by clean")
	}
}

var _ fsutil.FS = (*fakeFS)(nil)
