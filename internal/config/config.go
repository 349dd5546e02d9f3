// Package config loads the project file that supplies the fixed
// compiler_info record and testscript runner options spec.md §1 and §6
// leave external (toolchain probing is explicitly out of scope). Grounded
// in jamesonstone-kit's and sunholo-ailang's yaml.v3 config loading.
package config

import (
	"gopkg.in/yaml.v3"

	"github.com/mbld/bld/internal/fsutil"
	"github.com/mbld/bld/internal/toolchain"
)

// Compiler is the on-disk compiler_info record.
type Compiler struct {
	Flavor               string `yaml:"flavor"` // "gcc" | "clang" | "msvc"
	Path                 string `yaml:"path"`
	Version              string `yaml:"version"`
	TargetCPU            string `yaml:"target_cpu"`
	TargetOS             string `yaml:"target_os"`
	SupportsMapper       bool   `yaml:"supports_mapper"`
	SupportsShowIncludes bool   `yaml:"supports_show_includes"`
}

// Test holds the testscript runner options (spec.md §4.5's test-program
// runner and default keep_going).
type Test struct {
	KeepGoing    bool     `yaml:"keep_going"`
	RunnerPath   string   `yaml:"runner_path"`
	RunnerArgs   []string `yaml:"runner_args"`
	ProgramNames []string `yaml:"program_names"`
	Jobs         int      `yaml:"jobs"`
}

// Project is the project file's top-level shape.
type Project struct {
	Compiler Compiler `yaml:"compiler"`
	Test     Test     `yaml:"test"`
}

// Default returns a project with compiler path "c++", its flavor inferred
// from the host (MSVC on Windows, GCC elsewhere), and no test-program
// rewriting, used when no project file is present.
func Default() *Project {
	return &Project{
		Compiler: Compiler{
			Flavor: flavorName(toolchain.HostFlavor()),
			Path:   "c++",
		},
	}
}

func flavorName(f toolchain.Flavor) string {
	switch f {
	case toolchain.Clang:
		return "clang"
	case toolchain.MSVC:
		return "msvc"
	default:
		return "gcc"
	}
}

// Load reads and parses the project file at path, filling in defaults for
// anything the file omits.
func Load(fs fsutil.FS, path string) (*Project, error) {
	data, err := fs.ReadFile(path)
	if err != nil {
		return nil, err
	}
	p := Default()
	if err := yaml.Unmarshal(data, p); err != nil {
		return nil, err
	}
	if p.Compiler.Path == "" {
		p.Compiler.Path = "c++"
	}
	return p, nil
}

// ToolchainInfo converts the on-disk record to toolchain.Info.
func (p *Project) ToolchainInfo() toolchain.Info {
	var flavor toolchain.Flavor
	switch p.Compiler.Flavor {
	case "clang":
		flavor = toolchain.Clang
	case "msvc":
		flavor = toolchain.MSVC
	default:
		flavor = toolchain.GCC
	}
	return toolchain.Info{
		Flavor:               flavor,
		Path:                 p.Compiler.Path,
		Version:              p.Compiler.Version,
		TargetCPU:            p.Compiler.TargetCPU,
		TargetOS:             p.Compiler.TargetOS,
		SupportsMapper:       p.Compiler.SupportsMapper,
		SupportsShowIncludes: p.Compiler.SupportsShowIncludes,
	}
}
