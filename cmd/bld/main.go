package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/mbld/bld/internal/bf/eval"
	"github.com/mbld/bld/internal/cc"
	"github.com/mbld/bld/internal/config"
	"github.com/mbld/bld/internal/diag"
	"github.com/mbld/bld/internal/driver"
	"github.com/mbld/bld/internal/fsutil"
	"github.com/mbld/bld/internal/graph"
	"github.com/mbld/bld/internal/procutil"
	"github.com/mbld/bld/internal/recipe"
	"github.com/mbld/bld/internal/sched"
	tsexec "github.com/mbld/bld/internal/ts/exec"
	tsparse "github.com/mbld/bld/internal/ts/parse"
)

var (
	buildfile   string
	projectFile string
	jobs        int
	verbose     bool
	dryRun      bool
	keepGoing   bool
)

func main() {
	root := &cobra.Command{
		Use:   "bld",
		Short: "a C/C++-aware build and testscript engine",
	}
	root.PersistentFlags().StringVarP(&buildfile, "file", "f", "buildfile", "buildfile to read")
	root.PersistentFlags().StringVar(&projectFile, "project", "project.yaml", "project configuration file")
	root.PersistentFlags().IntVarP(&jobs, "jobs", "j", -1, "parallel jobs (-1=auto, 0=unlimited)")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose diagnostics")

	root.AddCommand(buildCmd(), testCmd(), whyCmd(), graphCmd(), cleanCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "bld: %s\n", err)
		os.Exit(exitCode(err))
	}
}

// exitCode maps an error to spec.md §6's 0/1/2 convention: 2 for
// diagnosed (parse/semantic) failures the user must fix, 1 for everything
// else (process/I/O/protocol failures during a build or test run).
func exitCode(err error) int {
	var derr *diag.Error
	if errors.As(err, &derr) && (derr.Kind == diag.Parse || derr.Kind == diag.Semantic) {
		return 2
	}
	return 1
}

func numJobs() int {
	if jobs < 0 {
		return runtime.NumCPU()
	}
	return jobs
}

func loadProject(fs fsutil.FS) *config.Project {
	if fsutil.Exists(fs, projectFile) {
		p, err := config.Load(fs, projectFile)
		if err == nil {
			return p
		}
	}
	return config.Default()
}

func newDriver(log *diag.Logger) (*driver.Driver, error) {
	sessionID := uuid.NewString()
	log.Session(sessionID).Debugf("loading %s", buildfile)

	fs := fsutil.OS{}
	result, err := eval.Load(fs, log, buildfile)
	if err != nil {
		return nil, err
	}
	proj := loadProject(fs)

	env := &cc.Environment{
		Toolchain: proj.ToolchainInfo(),
		FS:        fs,
		Runner:    procutil.OSRunner{},
		Container: result.Container,
		Log:       log,
	}
	rules := []graph.Rule{
		&cc.CompileRule{Env: env},
		&recipe.Rule{FS: fs, Runner: procutil.OSRunner{}, Recipes: result.Recipes, Log: log},
	}

	d := &driver.Driver{
		Result:    result,
		Container: result.Container,
		Rules:     rules,
		Sched:     sched.New(numJobs()),
		Log:       log,
		FS:        fs,
		DryRun:    dryRun,
	}
	// A header discovered mid-compile may itself be generated by a recipe
	// (spec.md §4.1 scenario 2); routing it back through the driver lets
	// that rule run before the yo-yo loop decides whether to restart.
	env.BuildHeader = func(ctx context.Context, key graph.Key) error {
		return d.Build(ctx, key)
	}
	return d, nil
}

// parseArgs splits trailing `name=value` tokens (variable overrides,
// accepted but not yet threaded into the evaluator's pool — buildfiles
// are evaluated once at load time) from target names, mirroring the
// teacher's main.go argument convention.
func parseArgs(args []string) (targets []string) {
	for _, a := range args {
		if strings.Contains(a, "=") {
			continue
		}
		targets = append(targets, a)
	}
	return targets
}

func resolveKeys(d *driver.Driver, args []string) ([]graph.Key, error) {
	targets := parseArgs(args)
	if len(targets) == 0 {
		if !d.Result.HasDefault() {
			return nil, fmt.Errorf("no targets specified and no default target")
		}
		return []graph.Key{d.Result.Default}, nil
	}
	var keys []graph.Key
	for _, name := range targets {
		key, ok := findByName(d, name)
		if !ok {
			return nil, fmt.Errorf("unknown target %q", name)
		}
		keys = append(keys, key)
	}
	return keys, nil
}

// findByName resolves a bare target string from argv against the
// container's registered keys by matching name(+ext). Keys are visited in
// map order, so which target an ambiguous name resolves to is not defined;
// graph.Key's type/dir/ext tuple is not used to disambiguate.
func findByName(d *driver.Driver, name string) (graph.Key, bool) {
	clean := filepath.Clean(name)
	for _, key := range d.Container.Keys() {
		if sourcePathOf(key) == clean || key.Name+keyExtSuffix(key) == clean {
			return key, true
		}
	}
	return graph.Key{}, false
}

func sourcePathOf(key graph.Key) string {
	return key.Dir + key.Name + keyExtSuffix(key)
}

func keyExtSuffix(key graph.Key) string {
	if key.Ext == "" {
		return ""
	}
	return "." + key.Ext
}

func buildCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "build [targets...]",
		Short: "build one or more targets",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := diag.NewLogger(verbose)
			d, err := newDriver(log)
			if err != nil {
				return err
			}
			d.DryRun = dryRun
			keys, err := resolveKeys(d, args)
			if err != nil {
				return err
			}
			ctx := context.Background()
			for _, k := range keys {
				if err := d.Build(ctx, k); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&dryRun, "dry-run", "n", false, "print what would be built without running recipes")
	return cmd
}

func cleanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clean [targets...]",
		Short: "remove built outputs",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := diag.NewLogger(verbose)
			d, err := newDriver(log)
			if err != nil {
				return err
			}
			keys, err := resolveKeys(d, args)
			if err != nil {
				return err
			}
			ctx := context.Background()
			for _, k := range keys {
				if err := d.Clean(ctx, k); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

func whyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "why [targets...]",
		Short: "explain why targets need rebuilding",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := diag.NewLogger(verbose)
			d, err := newDriver(log)
			if err != nil {
				return err
			}
			keys, err := resolveKeys(d, args)
			if err != nil {
				return err
			}
			for _, k := range keys {
				reasons := d.Why(k)
				if len(reasons) == 0 {
					fmt.Printf("%s is up to date\n", k)
					continue
				}
				fmt.Printf("%s needs rebuilding:\n", k)
				for _, r := range reasons {
					fmt.Printf("  - %s\n", r)
				}
			}
			return nil
		},
	}
}

func graphCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "graph [targets...]",
		Short: "print the dependency subgraph rooted at targets, as DOT",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := diag.NewLogger(verbose)
			d, err := newDriver(log)
			if err != nil {
				return err
			}
			keys, err := resolveKeys(d, args)
			if err != nil {
				return err
			}
			fmt.Println("digraph bld {")
			fmt.Println("  rankdir=LR;")
			for _, k := range keys {
				d.Subgraph(k, func(from, to graph.Key) {
					fmt.Printf("  %q -> %q;\n", from.String(), to.String())
				})
			}
			fmt.Println("}")
			return nil
		},
	}
}

func testCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "test",
		Short: "run a testscript file",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := diag.NewLogger(verbose)
			fs := fsutil.OS{}
			proj := loadProject(fs)

			f, err := os.Open(file)
			if err != nil {
				return fmt.Errorf("cannot open %s: %w", file, err)
			}
			defer f.Close()
			root, err := tsparse.Parse(f)
			if err != nil {
				return err
			}

			var tp *tsexec.TestProgram
			if len(proj.Test.ProgramNames) > 0 {
				names := make(map[string]bool, len(proj.Test.ProgramNames))
				for _, n := range proj.Test.ProgramNames {
					names[n] = true
				}
				tp = &tsexec.TestProgram{Names: names, RunnerPath: proj.Test.RunnerPath, RunnerArgs: proj.Test.RunnerArgs}
			}

			wd, _ := os.Getwd()
			env := &tsexec.Environment{
				Runner:      procutil.OSRunner{},
				KeepGoing:   keepGoing || proj.Test.KeepGoing,
				WorkDir:     wd,
				Args:        args,
				TestProgram: tp,
			}
			schedJobs := proj.Test.Jobs
			if schedJobs == 0 {
				schedJobs = numJobs()
			}
			ex := tsexec.New(env, sched.New(schedJobs))
			res := ex.Run(context.Background(), root)
			printResult(res, 0)
			if res.State == tsexec.Failed {
				return fmt.Errorf("test failures")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&file, "testscript", "testscript", "testscript file to run")
	cmd.Flags().BoolVar(&keepGoing, "keep-going", false, "keep running sibling scopes after a failure")
	return cmd
}

func printResult(res *tsexec.ScopeResult, depth int) {
	if res.ID != "" {
		indent := strings.Repeat("  ", depth)
		fmt.Printf("%s%s: %s\n", indent, res.ID, res.State)
	}
	for _, c := range res.Children {
		printResult(c, depth+1)
	}
}
