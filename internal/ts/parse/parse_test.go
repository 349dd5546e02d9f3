package parse

import (
	"strings"
	"testing"

	"github.com/mbld/bld/internal/ts/ast"
)

func mustParse(t *testing.T, src string) *ast.Scope {
	t.Helper()
	root, err := Parse(strings.NewReader(src))
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	return root
}

func TestParseFlatTestSyntax2(t *testing.T) {
	src := "testscript.syntax = 2\n" +
		": hello\n" +
		"hello_test {\n" +
		"cmd arg1 arg2\n" +
		"}\n"
	root := mustParse(t, src)
	if len(root.Children) != 1 {
		t.Fatalf("children = %d, want 1", len(root.Children))
	}
	test := root.Children[0]
	if test.Kind != ast.Test {
		t.Fatalf("kind = %v, want Test", test.Kind)
	}
	if test.ID != "hello_test" {
		t.Fatalf("id = %q, want hello_test", test.ID)
	}
	if test.Desc.ID != "hello" {
		t.Fatalf("desc.id = %q, want hello", test.Desc.ID)
	}
	if len(test.Commands) != 1 || test.Commands[0].Tokens[0] != "cmd" {
		t.Fatalf("commands = %+v", test.Commands)
	}
}

func TestParseNestedGroup(t *testing.T) {
	src := "outer {{\n" +
		"setup_cmd\n" +
		"one {\n" +
		"cmd1\n" +
		"}\n" +
		"two {\n" +
		"cmd2\n" +
		"}\n" +
		"}}\n"
	root := mustParse(t, src)
	if len(root.Children) != 1 {
		t.Fatalf("root children = %d, want 1", len(root.Children))
	}
	outer := root.Children[0]
	if outer.Kind != ast.Group || outer.ID != "outer" {
		t.Fatalf("outer = %+v", outer)
	}
	if len(outer.Setup) != 1 || outer.Setup[0].Tokens[0] != "setup_cmd" {
		t.Fatalf("setup = %+v", outer.Setup)
	}
	if len(outer.Children) != 2 {
		t.Fatalf("outer children = %d, want 2", len(outer.Children))
	}
	if outer.Children[0].ID != "one" || outer.Children[1].ID != "two" {
		t.Fatalf("child ids = %q, %q", outer.Children[0].ID, outer.Children[1].ID)
	}
}

func TestParseSyntax1LeafBlockIsTest(t *testing.T) {
	src := "testscript.syntax = 1\n" +
		"wrapper {\n" +
		"x = 1\n" +
		"cmd $x\n" +
		"}\n"
	root := mustParse(t, src)
	var wrapper *ast.Scope
	for _, c := range root.Children {
		if c.ID == "wrapper" {
			wrapper = c
		}
	}
	if wrapper == nil {
		t.Fatalf("wrapper child not found among %+v", root.Children)
	}
	if wrapper.Kind != ast.Test {
		t.Fatalf("kind = %v, want Test (leaf block with no nested braces)", wrapper.Kind)
	}
	if len(wrapper.Commands) != 2 || wrapper.Commands[0].Raw != "x = 1" || wrapper.Commands[1].Raw != "cmd $x" {
		t.Fatalf("commands = %+v", wrapper.Commands)
	}
}

func TestParseSyntax1DemotesSingleNestedTest(t *testing.T) {
	src := "testscript.syntax = 1\n" +
		"wrapper {\n" +
		"x = 1\n" +
		"{\n" +
		"cmd $x\n" +
		"}\n" +
		"}\n"
	root := mustParse(t, src)
	var wrapper *ast.Scope
	for _, c := range root.Children {
		if c.ID == "wrapper" {
			wrapper = c
		}
	}
	if wrapper == nil {
		t.Fatalf("wrapper child not found among %+v", root.Children)
	}
	if wrapper.Kind != ast.Test {
		t.Fatalf("kind = %v, want demoted Test", wrapper.Kind)
	}
	if len(wrapper.Setup) != 1 || wrapper.Setup[0].Raw != "x = 1" {
		t.Fatalf("setup = %+v", wrapper.Setup)
	}
	if len(wrapper.Commands) != 1 || wrapper.Commands[0].Raw != "cmd $x" {
		t.Fatalf("commands = %+v", wrapper.Commands)
	}
}

func TestParseSyntax1NoDemotionWithTwoTests(t *testing.T) {
	src := "testscript.syntax = 1\n" +
		"wrapper {\n" +
		"a {\n" +
		"cmd1\n" +
		"}\n" +
		"b {\n" +
		"cmd2\n" +
		"}\n" +
		"}\n"
	root := mustParse(t, src)
	var wrapper *ast.Scope
	for _, c := range root.Children {
		if c.ID == "wrapper" {
			wrapper = c
		}
	}
	if wrapper == nil {
		t.Fatalf("wrapper child not found among %+v", root.Children)
	}
	if wrapper.Kind != ast.Group {
		t.Fatalf("kind = %v, want Group (no demotion with two tests)", wrapper.Kind)
	}
	if len(wrapper.Children) != 2 {
		t.Fatalf("children = %d, want 2", len(wrapper.Children))
	}
}

func TestParseScopeIfChain(t *testing.T) {
	src := "if $windows {{\n" +
		"win_only {\n" +
		"cmd1\n" +
		"}\n" +
		"}} elif $linux {{\n" +
		"linux_only {\n" +
		"cmd2\n" +
		"}\n" +
		"}} else {{\n" +
		"other {\n" +
		"cmd3\n" +
		"}\n" +
		"}}\n"
	root := mustParse(t, src)
	if len(root.IfChains) != 1 {
		t.Fatalf("if chains = %d, want 1", len(root.IfChains))
	}
	chain := root.IfChains[0]
	if len(chain.Branches) != 3 {
		t.Fatalf("branches = %d, want 3", len(chain.Branches))
	}
	if chain.Branches[0].Kind != ast.CondIf || chain.Branches[0].Cond.Raw != "$windows" {
		t.Fatalf("branch0 = %+v", chain.Branches[0])
	}
	if chain.Branches[1].Kind != ast.CondElif || chain.Branches[1].Cond.Raw != "$linux" {
		t.Fatalf("branch1 = %+v", chain.Branches[1])
	}
	if chain.Branches[2].Kind != ast.CondElse || chain.Branches[2].Cond != nil {
		t.Fatalf("branch2 = %+v", chain.Branches[2])
	}
	if len(root.Children) != 3 {
		t.Fatalf("root children = %d, want 3 (one per branch)", len(root.Children))
	}
}

func TestParseCommandIfInTest(t *testing.T) {
	src := "t {\n" +
		"if $windows\n" +
		"cmd_win\n" +
		"else\n" +
		"cmd_posix\n" +
		"}\n"
	root := mustParse(t, src)
	test := root.Children[0]
	if test.CmdChain == nil {
		t.Fatalf("expected CmdChain on test")
	}
	if len(test.CmdChain.Branches) != 2 {
		t.Fatalf("branches = %d, want 2", len(test.CmdChain.Branches))
	}
	if test.CmdChain.Branches[0].Body.Commands[0].Raw != "cmd_win" {
		t.Fatalf("branch0 body = %+v", test.CmdChain.Branches[0].Body)
	}
	if test.CmdChain.Branches[1].Body.Commands[0].Raw != "cmd_posix" {
		t.Fatalf("branch1 body = %+v", test.CmdChain.Branches[1].Body)
	}
}

func TestParseTrailingOneLiner(t *testing.T) {
	src := "t {\n" +
		"cmd arg : does the thing\n" +
		"}\n"
	root := mustParse(t, src)
	test := root.Children[0]
	if test.Desc.OneLiner != "does the thing" {
		t.Fatalf("one-liner = %q", test.Desc.OneLiner)
	}
	if test.Commands[0].Raw != "cmd arg" {
		t.Fatalf("command = %q", test.Commands[0].Raw)
	}
}

func TestParseIncludeOnce(t *testing.T) {
	src := ".include --once common.testscript\n" +
		".include --once common.testscript\n" +
		".include other.testscript\n" +
		"t {\n" +
		"cmd\n" +
		"}\n"
	root := mustParse(t, src)
	if len(root.Includes) != 2 {
		t.Fatalf("includes = %d, want 2 (duplicate --once dropped)", len(root.Includes))
	}
}

func TestSyntheticIDsDontCollide(t *testing.T) {
	src := "{\ncmd1\n}\n{\ncmd2\n}\n"
	root := mustParse(t, src)
	if len(root.Children) != 2 {
		t.Fatalf("children = %d, want 2", len(root.Children))
	}
	if root.Children[0].ID == root.Children[1].ID {
		t.Fatalf("expected distinct synthetic ids, got %q twice", root.Children[0].ID)
	}
}

func TestTokenizeQuoting(t *testing.T) {
	toks := tokenize(`cmd "a b" 'c d' e\ f`)
	want := []string{"cmd", `"a b"`, `'c d'`, `e\ f`}
	if len(toks) != len(want) {
		t.Fatalf("tokens = %v, want %v", toks, want)
	}
	for i := range want {
		if toks[i] != want[i] {
			t.Fatalf("token %d = %q, want %q", i, toks[i], want[i])
		}
	}
}
