package parse

import (
	"strings"
	"testing"

	"github.com/mbld/bld/internal/bf/ast"
)

func mustParse(t *testing.T, src string) *ast.Scope {
	t.Helper()
	scope, err := Parse(strings.NewReader(src))
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	return scope
}

func TestParseSimpleAssign(t *testing.T) {
	scope := mustParse(t, "cxx.std = 20\n")
	if len(scope.Body) != 1 {
		t.Fatalf("expected 1 node, got %d", len(scope.Body))
	}
	va, ok := scope.Body[0].(*ast.VarAssign)
	if !ok {
		t.Fatalf("expected VarAssign, got %T", scope.Body[0])
	}
	if va.Name != "cxx.std" || va.Op != ast.OpSet || len(va.Value) != 1 || va.Value[0] != "20" {
		t.Fatalf("got %+v", va)
	}
}

func TestParseAppendAssign(t *testing.T) {
	scope := mustParse(t, "cxx.poptions += -DDEBUG\n")
	va := scope.Body[0].(*ast.VarAssign)
	if va.Op != ast.OpAppend {
		t.Fatalf("expected append op, got %v", va.Op)
	}
}

func TestParseRuleWithRecipe(t *testing.T) {
	src := "exe{hello}: cxx{hello}\n{{\n  echo building\n}}\n"
	scope := mustParse(t, src)
	if len(scope.Body) != 1 {
		t.Fatalf("expected 1 node, got %d: %+v", len(scope.Body), scope.Body)
	}
	r, ok := scope.Body[0].(*ast.Rule)
	if !ok {
		t.Fatalf("expected Rule, got %T", scope.Body[0])
	}
	if len(r.Targets) != 1 || r.Targets[0] != "exe{hello}" {
		t.Fatalf("targets = %v", r.Targets)
	}
	if r.Recipe == nil {
		t.Fatal("expected recipe block")
	}
	if r.Recipe.Lang != "sh" {
		t.Fatalf("expected default sh lang, got %q", r.Recipe.Lang)
	}
	if strings.TrimSpace(r.Recipe.Body) != "echo building" {
		t.Fatalf("recipe body = %q", r.Recipe.Body)
	}
}

func TestParseConditional(t *testing.T) {
	src := "if cxx.target == linux\n  cxx.poptions += -DLINUX\nelse\n  cxx.poptions += -DOTHER\n"
	scope := mustParse(t, src)
	cond, ok := scope.Body[0].(*ast.Conditional)
	if !ok {
		t.Fatalf("expected Conditional, got %T", scope.Body[0])
	}
	if len(cond.Branches) != 2 {
		t.Fatalf("expected 2 branches, got %d", len(cond.Branches))
	}
	if cond.Branches[0].Cmp != "==" || cond.Branches[0].Right != "linux" {
		t.Fatalf("got %+v", cond.Branches[0])
	}
}

func TestParseSwitch(t *testing.T) {
	src := "switch cxx.target\n  case linux\n    x = 1\n  case darwin windows\n    x = 2\n"
	scope := mustParse(t, src)
	sw, ok := scope.Body[0].(*ast.Switch)
	if !ok {
		t.Fatalf("expected Switch, got %T", scope.Body[0])
	}
	if len(sw.Cases) != 2 {
		t.Fatalf("expected 2 cases, got %d", len(sw.Cases))
	}
	if len(sw.Cases[1].Patterns) != 2 {
		t.Fatalf("expected 2 patterns in second case, got %v", sw.Cases[1].Patterns)
	}
}

func TestParseLoop(t *testing.T) {
	src := "for x: a b c\n  print $x\n"
	scope := mustParse(t, src)
	loop, ok := scope.Body[0].(*ast.Loop)
	if !ok {
		t.Fatalf("expected Loop, got %T", scope.Body[0])
	}
	if loop.Var != "x" || loop.List != "a b c" {
		t.Fatalf("got %+v", loop)
	}
}

func TestParseAdhocGroup(t *testing.T) {
	src := "<hxx{*} ixx{*}>: cxx{*}\n"
	scope := mustParse(t, src)
	g, ok := scope.Body[0].(*ast.AdhocGroup)
	if !ok {
		t.Fatalf("expected AdhocGroup, got %T", scope.Body[0])
	}
	if len(g.Members) != 2 {
		t.Fatalf("members = %v", g.Members)
	}
}

func TestParseDirectives(t *testing.T) {
	scope := mustParse(t, "print hello world\nfail something broke\n")
	if len(scope.Body) != 2 {
		t.Fatalf("expected 2 directives, got %d", len(scope.Body))
	}
	d0 := scope.Body[0].(*ast.Directive)
	if d0.Kind != "print" || len(d0.Args) != 2 {
		t.Fatalf("got %+v", d0)
	}
}

func TestBackslashContinuation(t *testing.T) {
	lines, err := readLogicalLines(strings.NewReader("a = 1 \\\n  2 \\\n  3\n"))
	if err != nil {
		t.Fatal(err)
	}
	if len(lines) != 1 {
		t.Fatalf("expected 1 joined logical line, got %v", lines)
	}
}
