package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/mbld/bld/internal/fsutil"
	"github.com/mbld/bld/internal/toolchain"
)

func TestDefaultCompilerPath(t *testing.T) {
	p := Default()
	if p.Compiler.Path != "c++" {
		t.Fatalf("Compiler.Path = %q, want c++", p.Compiler.Path)
	}
	info := p.ToolchainInfo()
	if info.Path != "c++" {
		t.Fatalf("ToolchainInfo.Path = %q, want c++", info.Path)
	}
}

func TestLoadParsesProjectFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "project.yaml")
	content := `
compiler:
  flavor: clang
  path: /usr/bin/clang++
  target_cpu: x86_64
  target_os: linux
  supports_mapper: true
  supports_show_includes: false
test:
  keep_going: true
  runner_path: /usr/bin/python3
  runner_args: ["-m", "testrunner"]
  program_names: ["expect_fail"]
  jobs: 4
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	p, err := Load(fsutil.OS{}, path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if p.Compiler.Flavor != "clang" || p.Compiler.Path != "/usr/bin/clang++" {
		t.Fatalf("Compiler = %+v", p.Compiler)
	}
	if !p.Test.KeepGoing || p.Test.Jobs != 4 {
		t.Fatalf("Test = %+v", p.Test)
	}
	if len(p.Test.RunnerArgs) != 2 || p.Test.RunnerArgs[0] != "-m" {
		t.Fatalf("RunnerArgs = %+v", p.Test.RunnerArgs)
	}

	info := p.ToolchainInfo()
	if info.Flavor != toolchain.Clang {
		t.Fatalf("Flavor = %v, want Clang", info.Flavor)
	}
	if !info.SupportsMapper || info.SupportsShowIncludes {
		t.Fatalf("supports flags = %+v", info)
	}
}

func TestLoadFillsPathDefaultWhenOmitted(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "project.yaml")
	if err := os.WriteFile(path, []byte("compiler:\n  flavor: gcc\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	p, err := Load(fsutil.OS{}, path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if p.Compiler.Path != "c++" {
		t.Fatalf("Compiler.Path = %q, want default c++", p.Compiler.Path)
	}
}

func TestLoadMissingFileErrors(t *testing.T) {
	if _, err := Load(fsutil.OS{}, filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected an error for a missing project file")
	}
}
