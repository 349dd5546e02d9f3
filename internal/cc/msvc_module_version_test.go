package cc

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mbld/bld/internal/bf/names"
	"github.com/mbld/bld/internal/diag"
	"github.com/mbld/bld/internal/graph"
	"github.com/mbld/bld/internal/toolchain"
)

// TestBuildRequestDropsModuleRefsOnOldMSVC exercises the MSVC
// version-gated fallback: a cl.exe older than the BMI-stable cutoff must
// never receive /module:reference arguments, since it can't be trusted to
// consume a BMI from a separate invocation of itself.
func TestBuildRequestDropsModuleRefsOnOldMSVC(t *testing.T) {
	fs := newFakeFS()
	env := &Environment{
		Toolchain: toolchain.Info{Flavor: toolchain.MSVC, Path: "cl.exe", Version: "19.29.30133"},
		FS:        fs,
		Runner:    &fakeRunner{fs: fs},
		Log:       diag.Discard(),
	}
	rec := &compileRecipe{
		env:        env,
		target:     &graph.Target{Vars: names.NewPool()},
		sourcePath: "src/foo.cxx",
		tu:         TU{Type: ModuleImpl, Module: "foo"},
		moduleRefs: []string{"build/bar.ifc"},
	}
	req := rec.buildRequest("build/foo.obj")
	require.Empty(t, req.ModuleRefs, "old MSVC must not be handed BMI references")
}

func TestBuildRequestKeepsModuleRefsOnStableMSVC(t *testing.T) {
	fs := newFakeFS()
	env := &Environment{
		Toolchain: toolchain.Info{Flavor: toolchain.MSVC, Path: "cl.exe", Version: "19.38.33135"},
		FS:        fs,
		Runner:    &fakeRunner{fs: fs},
		Log:       diag.Discard(),
	}
	rec := &compileRecipe{
		env:        env,
		target:     &graph.Target{Vars: names.NewPool()},
		sourcePath: "src/foo.cxx",
		tu:         TU{Type: ModuleImpl, Module: "foo"},
		moduleRefs: []string{"build/bar.ifc"},
	}
	req := rec.buildRequest("build/foo.obj")
	require.Equal(t, []string{"build/bar.ifc"}, req.ModuleRefs)
}
