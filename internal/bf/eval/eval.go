// Package eval interprets a parsed buildfile (internal/bf/ast) against a
// graph.Scope: it expands variable assignments into the scope's pool,
// registers targets (real files and ad hoc tasks) with their prerequisite
// lists, records each rule's recipe body for the generic shell recipe
// rule, and follows `using`/include directives into child scopes. This is
// the buildfile evaluator the teacher's graph.go folds directly into
// BuildGraph; here it is a separate package since SPEC_FULL.md's parser
// (internal/bf/parse) is already a standalone stage.
package eval

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/mbld/bld/internal/bf/ast"
	"github.com/mbld/bld/internal/bf/names"
	"github.com/mbld/bld/internal/bf/parse"
	"github.com/mbld/bld/internal/diag"
	"github.com/mbld/bld/internal/fsutil"
	"github.com/mbld/bld/internal/graph"
)

// RecipeSpec is one target's ad hoc recipe body, kept alongside the graph
// so the generic recipe rule (internal/recipe) can expand and run it
// without the graph package needing to know about buildfile syntax.
type RecipeSpec struct {
	Lang        string
	Body        string
	Keep        bool
	Fingerprint string
}

// Result collects everything a driver needs after evaluating a buildfile
// tree: the root scope/container pair graph.Rule implementations match
// against, which targets are tasks (not real files), each real target's
// recipe (if it has one distinct from the compile rule), and the first
// declared non-task target (spec.md's "default target").
type Result struct {
	Root      *graph.Scope
	Container *graph.Container
	Recipes   map[graph.Key]*RecipeSpec
	Tasks     map[graph.Key]bool
	Default   graph.Key
	hasDefault bool
}

// HasDefault reports whether any non-task target was declared.
func (r *Result) HasDefault() bool { return r.hasDefault }

type evaluator struct {
	fs        fsutil.FS
	log       *diag.Logger
	container *graph.Container
	result    *Result
	seen      map[string]bool // include-cycle guard, keyed by cleaned path
}

// Load parses entryPath and every buildfile it transitively includes,
// returning the merged target graph.
func Load(fs fsutil.FS, log *diag.Logger, entryPath string) (*Result, error) {
	ev := &evaluator{
		fs:        fs,
		log:       log,
		container: graph.NewContainer(),
		result: &Result{
			Recipes: make(map[graph.Key]*RecipeSpec),
			Tasks:   make(map[graph.Key]bool),
		},
		seen: make(map[string]bool),
	}
	root := graph.NewScope(filepath.Dir(entryPath), nil)
	ev.result.Root = root
	ev.result.Container = ev.container
	if err := ev.loadFile(root, entryPath); err != nil {
		return nil, err
	}
	return ev.result, nil
}

func (ev *evaluator) loadFile(scope *graph.Scope, path string) error {
	clean := filepath.Clean(path)
	if ev.seen[clean] {
		return fmt.Errorf("buildfile include cycle at %q", path)
	}
	ev.seen[clean] = true

	f, err := ev.fs.Open(path)
	if err != nil {
		return diag.New(diag.IO, path, 0, 0, err)
	}
	defer f.Close()

	astScope, err := parse.Parse(f)
	if err != nil {
		return diag.New(diag.Parse, path, 0, 0, err)
	}
	astScope.Path = path
	return ev.evalBody(scope, filepath.Dir(path), astScope.Body)
}

func (ev *evaluator) evalBody(scope *graph.Scope, dir string, body []ast.Node) error {
	for _, n := range body {
		if err := ev.evalNode(scope, dir, n); err != nil {
			return err
		}
	}
	return nil
}

func (ev *evaluator) evalNode(scope *graph.Scope, dir string, n ast.Node) error {
	switch node := n.(type) {
	case *ast.VarAssign:
		return ev.evalAssign(scope, node)
	case *ast.Rule:
		return ev.evalRule(scope, dir, node)
	case *ast.Include:
		return ev.evalInclude(scope, dir, node)
	case *ast.Conditional:
		return ev.evalConditional(scope, dir, node)
	case *ast.Switch:
		return ev.evalSwitch(scope, dir, node)
	case *ast.Loop:
		return ev.evalLoop(scope, dir, node)
	case *ast.FuncDef:
		ev.registerFunc(scope, node)
		return nil
	case *ast.ConfigDef:
		// Config bodies are not evaluated: the node is skipped, so a
		// config's vars never reach the scope and no requires/excludes
		// gating takes place.
		return nil
	case *ast.Directive:
		return ev.evalDirective(scope, node)
	case *ast.AdhocGroup:
		return ev.evalAdhocGroup(scope, dir, node)
	case *ast.RecipeBlock:
		return nil // only meaningful attached to a Rule; a bare block is a no-op
	default:
		return fmt.Errorf("eval: unhandled node type %T at line %d", n, n.Src())
	}
}

func (ev *evaluator) evalAssign(scope *graph.Scope, node *ast.VarAssign) error {
	expander := names.NewExpander(scope.Pool)
	var words []string
	for _, w := range node.Value {
		words = append(words, expander.Expand(w))
	}
	value := names.Simple(words...)

	v, exists := scope.Pool.Find(node.Name)
	if !exists {
		v = scope.Pool.Insert(node.Name, names.VisScope)
	}
	if node.Lazy {
		v.SetLazy(strings.Join(node.Value, " "))
		return nil
	}
	switch node.Op {
	case ast.OpSet:
		v.Set(value)
	case ast.OpAppend:
		v.Set(append(append(names.List{}, v.Get()...), value...))
	case ast.OpPrepend:
		v.Set(append(append(names.List{}, value...), v.Get()...))
	case ast.OpCondSet:
		if !v.IsSet() {
			v.Set(value)
		}
	}
	return nil
}

func (ev *evaluator) registerFunc(scope *graph.Scope, node *ast.FuncDef) {
	// Function definitions are accepted by the parser but nothing is
	// registered here, so no `define`d function is callable; the
	// evaluator has no statement-returning-value concept (see DESIGN.md).
	_ = scope
	_ = node
}

func (ev *evaluator) evalDirective(scope *graph.Scope, node *ast.Directive) error {
	expander := names.NewExpander(scope.Pool)
	var args []string
	for _, a := range node.Args {
		args = append(args, expander.Expand(a))
	}
	msg := strings.Join(args, " ")
	switch node.Kind {
	case "print", "info", "text":
		if ev.log != nil {
			ev.log.Phase("eval").Info(msg)
		}
	case "warn":
		if ev.log != nil {
			ev.log.Phase("eval").Warn(msg)
		}
	case "fail":
		return fmt.Errorf("buildfile: %s", msg)
	case "assert":
		if msg == "" || msg == "false" {
			if node.Bang {
				return fmt.Errorf("assertion failed at line %d", node.Src())
			}
			if ev.log != nil {
				ev.log.Phase("eval").Warnf("assertion failed at line %d", node.Src())
			}
		}
	case "dump":
		if ev.log != nil {
			for _, name := range scope.Pool.Names() {
				v, _ := scope.Pool.Find(name)
				ev.log.Phase("eval").Infof("%s = %s", name, v.Get().Join(" "))
			}
		}
	case "export":
		// export makes a variable visible to recipe environments; the
		// generic recipe rule reads the whole pool, so export is a no-op
		// marker here.
	}
	return nil
}

func (ev *evaluator) evalConditional(scope *graph.Scope, dir string, node *ast.Conditional) error {
	expander := names.NewExpander(scope.Pool)
	for _, b := range node.Branches {
		ok := false
		switch b.Op {
		case ast.CondElse:
			ok = true
		case ast.CondIf:
			ok = expander.Expand(b.Left) != ""
		case ast.CondElifCompare:
			ok = compareGuard(expander.Expand(b.Left), b.Cmp, expander.Expand(b.Right))
		}
		if ok {
			return ev.evalBody(scope, dir, b.Body)
		}
	}
	return nil
}

func compareGuard(left, cmp, right string) bool {
	switch cmp {
	case "==", "":
		return left == right
	case "!=":
		return left != right
	default:
		return left == right
	}
}

func (ev *evaluator) evalSwitch(scope *graph.Scope, dir string, node *ast.Switch) error {
	expander := names.NewExpander(scope.Pool)
	value := expander.Expand(node.Value)
	var fallback []ast.Node
	for _, c := range node.Cases {
		if len(c.Patterns) == 0 {
			fallback = c.Body
			continue
		}
		for _, pat := range c.Patterns {
			if names.PatsubstMatch(expander.Expand(pat), value) {
				return ev.evalBody(scope, dir, c.Body)
			}
		}
	}
	if fallback != nil {
		return ev.evalBody(scope, dir, fallback)
	}
	return nil
}

func (ev *evaluator) evalLoop(scope *graph.Scope, dir string, node *ast.Loop) error {
	expander := names.NewExpander(scope.Pool)
	items := strings.Fields(expander.Expand(node.List))
	for _, item := range items {
		v, exists := scope.Pool.Find(node.Var)
		if !exists {
			v = scope.Pool.Insert(node.Var, names.VisScope)
		}
		v.Set(names.Simple(item))
		if err := ev.evalBody(scope, dir, node.Body); err != nil {
			return err
		}
	}
	return nil
}

func (ev *evaluator) evalInclude(scope *graph.Scope, dir string, node *ast.Include) error {
	path := names.NewExpander(scope.Pool).Expand(node.Path)
	if !filepath.IsAbs(path) {
		path = filepath.Join(dir, path)
	}
	if !fsutil.Exists(ev.fs, path) {
		if node.Optional {
			return nil
		}
		return diag.Newf(diag.IO, path, node.Src(), 0, "included buildfile not found")
	}
	child := scope
	if filepath.Dir(path) != dir {
		child = graph.NewScope(filepath.Dir(path), scope)
		scope.AddChild(child)
	}
	return ev.loadFile(child, path)
}

func (ev *evaluator) evalAdhocGroup(scope *graph.Scope, dir string, node *ast.AdhocGroup) error {
	groupKey, err := ev.targetKey(dir, node.Members[0])
	if err != nil {
		return err
	}
	groupTarget, _ := ev.container.InsertLocked(groupKey, graph.Real)
	for _, m := range node.Members[1:] {
		key, err := ev.targetKey(dir, m)
		if err != nil {
			return err
		}
		member, _ := ev.container.InsertLocked(key, graph.Real)
		graph.AdhocAppend(groupTarget, member)
	}
	rule := node.Rule
	rule.Targets = node.Members
	return ev.evalRule(scope, dir, &rule)
}

// evalRule registers every target of a Rule node, wiring up prerequisites
// (including pattern-expanded ones) and, if the rule carries a recipe
// block, recording it for the generic recipe rule.
func (ev *evaluator) evalRule(scope *graph.Scope, dir string, node *ast.Rule) error {
	expander := names.NewExpander(scope.Pool)

	var prereqKeys []graph.Key
	for _, raw := range node.Prereqs {
		for _, p := range expandPatternWord(expander, dir, raw) {
			key, err := ev.targetKey(dir, p)
			if err != nil {
				return err
			}
			prereqKeys = append(prereqKeys, key)
		}
	}
	var orderOnlyKeys []graph.Key
	for _, raw := range node.OrderOnlyPrereqs {
		for _, p := range expandPatternWord(expander, dir, raw) {
			key, err := ev.targetKey(dir, p)
			if err != nil {
				return err
			}
			orderOnlyKeys = append(orderOnlyKeys, key)
		}
	}

	allPatterns := true
	for _, raw := range node.Targets {
		if names.Detect(expander.Expand(raw)) == names.NotAPattern {
			allPatterns = false
			break
		}
	}
	if allPatterns && len(node.Targets) > 0 {
		scope.RegisterPatternRule(graph.PatternRule{
			Pattern: names.Detect(expander.Expand(node.Targets[0])),
			Raw:     node.Targets[0],
			Node:    node,
		})
		return nil
	}

	for _, raw := range node.Targets {
		word := expander.Expand(raw)
		key, err := ev.targetKey(dir, word)
		if err != nil {
			return err
		}
		kind := graph.Real
		if node.IsTask {
			ev.result.Tasks[key] = true
		}
		target, _ := ev.container.InsertLocked(key, kind)
		for _, pk := range prereqKeys {
			pt, _ := ev.container.InsertLocked(pk, graph.Implied)
			target.AddPrereq(&graph.Prerequisite{Key: pk, Target: pt, Vars: scope.Pool})
		}
		for _, pk := range orderOnlyKeys {
			pt, _ := ev.container.InsertLocked(pk, graph.Implied)
			target.AddPrereq(&graph.Prerequisite{Key: pk, Target: pt, Vars: scope.Pool})
		}
		target.Vars = scope.Pool
		if len(node.Attrs) > 0 {
			target.Vars = overlayAttrs(scope.Pool, node.Attrs)
		}
		scope.Rules[key] = target

		if !ev.result.hasDefault && !node.IsTask {
			ev.result.Default = key
			ev.result.hasDefault = true
		}

		if node.Recipe != nil {
			ev.result.Recipes[key] = &RecipeSpec{
				Lang:        node.Recipe.Lang,
				Body:        node.Recipe.Body,
				Keep:        node.Keep,
				Fingerprint: node.Fingerprint,
			}
		}
	}
	return nil
}

// overlayAttrs clones a scope's variable pool and applies a rule's
// `[key=value]` attribute list on top, so a target-specific override
// (e.g. `[cxx.std=20]`) doesn't leak into sibling targets sharing the same
// buildfile scope. The clone holds new Variables carrying copies of the
// base values at clone time; later changes to the base pool are not seen
// through it.
func overlayAttrs(base *names.Pool, attrs []ast.Attribute) *names.Pool {
	clone := names.NewPool()
	for _, n := range base.Names() {
		v, _ := base.Find(n)
		cv := clone.Insert(n, v.Visibility)
		cv.Set(v.Get())
	}
	for _, a := range attrs {
		v := clone.Insert(a.Key, names.VisTarget)
		v.Set(names.Simple(strings.Fields(a.Value)...))
	}
	return clone
}

// expandPatternWord resolves a prerequisite word that may be a filesystem
// glob pattern (spec.md §4.3's name-expansion patterns) into concrete
// paths relative to dir; a pattern that matches nothing yields no words,
// and a non-pattern word passes through unchanged.
func expandPatternWord(expander *names.Expander, dir, raw string) []string {
	word := expander.Expand(raw)
	if names.Detect(word) == names.NotAPattern {
		return []string{word}
	}
	matches, err := names.ExpandPath(dir, word, nil, nil)
	if err != nil {
		return []string{word}
	}
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		if rel, err := filepath.Rel(dir, m); err == nil {
			m = rel
		}
		out = append(out, m)
	}
	return out
}

// targetKey maps a buildfile target word into a graph.Key. Two forms are
// recognized: `type{name}` (explicit type tag, build2-style) and a plain
// path/filename, whose extension selects the type when one of the known
// source/object extensions matches and otherwise defaults to "file".
func (ev *evaluator) targetKey(dir, word string) (graph.Key, error) {
	if lb := strings.IndexByte(word, '{'); lb >= 0 && strings.HasSuffix(word, "}") {
		typ := word[:lb]
		name := word[lb+1 : len(word)-1]
		ext := filepath.Ext(name)
		base := strings.TrimSuffix(name, ext)
		return graph.Key{Type: typ, Dir: joinDir(dir, filepath.Dir(name)), Name: base, Ext: strings.TrimPrefix(ext, ".")}, nil
	}
	ext := strings.TrimPrefix(filepath.Ext(word), ".")
	base := strings.TrimSuffix(word, filepath.Ext(word))
	typ := typeForExt(ext)
	return graph.Key{Type: typ, Dir: joinDir(dir, filepath.Dir(base)), Name: filepath.Base(base), Ext: ext}, nil
}

func joinDir(base, rel string) string {
	if rel == "." || rel == "" {
		if base == "" {
			return ""
		}
		return base + string(filepath.Separator)
	}
	return filepath.Join(base, rel) + string(filepath.Separator)
}

var extType = map[string]string{
	"cxx": "cxx", "cc": "cxx", "cpp": "cxx", "c": "c",
	"mxx": "mxx", "hxx": "hxx", "h": "h", "hpp": "hxx",
	"o": "obj", "obj": "obj", "gcm": "bmi", "ifc": "bmi", "pcm": "bmi",
	"exe": "exe", "": "file",
}

func typeForExt(ext string) string {
	if t, ok := extType[ext]; ok {
		return t
	}
	return "file"
}
