// Package ast is the testscript scope tree: groups and tests, their
// setup/teardown/command lines, descriptions, and if/elif/else chains,
// per spec.md §4.4.
package ast

// Kind distinguishes a group scope (owns setup, teardown, and children)
// from a test scope (owns a flat command list).
type Kind int

const (
	Group Kind = iota
	Test
)

func (k Kind) String() string {
	if k == Test {
		return "test"
	}
	return "group"
}

// Description is a scope's parsed leading/trailing description
// (spec.md §4.4: "`: id`/`: summary`/`: details` ... trailing `:one-liner`").
type Description struct {
	ID       string
	Summary  string
	Details  []string
	OneLiner string
}

// HasContent reports whether any description field was actually set.
func (d Description) HasContent() bool {
	return d.ID != "" || d.Summary != "" || len(d.Details) > 0 || d.OneLiner != ""
}

// Line is one pre-parsed logical line: its raw tokens, ready for replay
// at execute time, plus the line number for diagnostics.
type Line struct {
	Tokens []string
	Raw    string
	LineNo int
}

// CondKind distinguishes the five conditional forms: if, ifn, elif, elifn
// and else.
type CondKind int

const (
	CondIf CondKind = iota
	CondIfn
	CondElif
	CondElifn
	CondElse
)

// Branch is one link in an if/elif/else chain: its guarding condition
// (nil for a trailing plain else), whether it negates (ifn/elifn), and
// the scope it guards.
type Branch struct {
	Kind CondKind
	Cond *Line // nil for CondElse
	Body *Scope
}

// IfChain is a full if/elif*/else? chain. Scope-if chains attach to a
// parent group's Children; command-if chains attach to a test's Commands
// in place of a single Line (spec.md §4.4's "position (first in test),
// presence of `{` vs `{{`" disambiguation).
type IfChain struct {
	Branches []Branch
	LineNo   int
}

// Include records one `.include [--once] <path>...` directive
// encountered while pre-parsing a group, in encounter order relative to
// its surrounding setup/teardown/children.
type Include struct {
	Paths  []string
	Once   bool
	LineNo int
}

// Scope is one node in the testscript scope tree.
type Scope struct {
	Kind Kind
	ID   string // explicit id from a leading description, else synthetic
	Desc Description

	// Group-only fields.
	Setup    []Line
	Teardown []Line
	Children []*Scope
	Includes []Include
	IfChains []*IfChain // scope-if chains whose branches are among Children

	// Test-only fields.
	Commands []Line
	CmdChain *IfChain // a command-if chain replacing a single command line, if any

	// IfCond is non-nil when this scope is itself one branch of a
	// parent's scope-if chain (set by the parser for convenience; the
	// authoritative structure is the parent's IfChains entry).
	IfCond *Line

	StartLine int
	EndLine   int
}

// Syntax is the testscript.syntax dialect selector (spec.md §6): 1 or 2,
// settable only on line 1.
type Syntax int

const (
	DefaultSyntax Syntax = 2
	Syntax1       Syntax = 1
	Syntax2       Syntax = 2
)
