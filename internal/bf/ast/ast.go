// Package ast defines the buildfile abstract syntax: the teacher's flat
// VarAssign/Rule/Include/Conditional/FuncDef/ConfigDef/Loop node set,
// generalized to names.List-typed values and extended with Switch,
// AdhocGroup, Attribute and RecipeBlock per SPEC_FULL.md §4.3.
package ast

import "github.com/mbld/bld/internal/bf/names"

// Node is any buildfile statement.
type Node interface {
	node()
	Src() int // source line, 1-based
}

type Base struct{ Line int }

func (Base) node()      {}
func (b Base) Src() int { return b.Line }

// AssignOp is a VarAssign's operator: set, append, prepend or conditional set.
type AssignOp int

const (
	OpSet AssignOp = iota
	OpAppend
	OpPrepend
	OpCondSet
)

// VarAssign is `name = value`, `name += value`, `name =+ value` or
// `name ?= value`, optionally typed (`name [string] = value`) and
// optionally lazy (expanded on first read instead of at assignment; the
// expanded value is then kept).
type VarAssign struct {
	Base
	Name  string
	Type  string
	Op    AssignOp
	Value []string // raw, unexpanded words; expanded via bf/names.Expander
	Lazy  bool
}

// Attribute is one entry of a `[name=value, ...]` block preceding a
// statement. The parser keeps attributes only for a Rule that follows on the
// same line; on any other statement they are dropped.
type Attribute struct {
	Key, Value string
}

// Rule is a target: prereqs rule, generalizing the teacher's Rule with
// ad hoc group membership and attribute annotations.
type Rule struct {
	Base
	Targets          []string
	Prereqs          []string
	OrderOnlyPrereqs []string
	Attrs            []Attribute
	Recipe           *RecipeBlock
	IsTask           bool
	Keep             bool
	Fingerprint      string
}

// RecipeBlock is a `{{ ... }}` fenced recipe body with an optional
// language tag (`{{sh ... }}`, the default; `{{cxx ...}}` for an ad hoc
// C++ recipe per spec.md §4.3's "foreign-language recipe bodies").
type RecipeBlock struct {
	Lang string
	Body string
	Line int
}

// AdhocGroup is `<m1 m2 m3>{...}`: an anonymous group of targets sharing
// one rule body, expanded into per-member synthetic names.
type AdhocGroup struct {
	Base
	Members []string
	Rule    Rule
}

// Include is `using`/`source`/`.include`-equivalent directive.
type Include struct {
	Base
	Path     string
	Alias    string
	Optional bool // "?" prefix: missing file is not an error
}

// CondOp mirrors the supported comparison/boolean operators in a
// conditional branch guard.
type CondOp int

const (
	CondIf CondOp = iota
	CondElifCompare
	CondElse
)

type CondBranch struct {
	Op    CondOp
	Left  string
	Cmp   string
	Right string
	Body  []Node
}

type Conditional struct {
	Base
	Branches []CondBranch
}

// SwitchCase is one `case` arm of a Switch.
type SwitchCase struct {
	Patterns []string // pattern expressions matched against the switch value; empty = default
	Body     []Node
}

// Switch is buildfile's `switch`/`case` construct, matching a value
// against a sequence of pattern arms (spec.md §4.3 "case_patterns" mode).
type Switch struct {
	Base
	Value string
	Cases []SwitchCase
}

type FuncDef struct {
	Base
	Name   string
	Params []string
	Body   []Node
}

type ConfigDef struct {
	Base
	Name     string
	Excludes []string
	Requires []string
	Vars     []VarAssign
}

type Loop struct {
	Base
	Var  string
	List string // raw expression, expanded then iterated
	Body []Node
}

// Directive covers the small single-line forms that don't need their own
// struct: print/fail/warn/info/text/assert/dump/export/run/import.
type Directive struct {
	Base
	Kind string // "print" | "fail" | "warn" | "info" | "text" | "assert" | "dump" | "export" | "run" | "import"
	Args []string
	Bang bool // "!" suffix on assert/import: required vs. best-effort
}

// Scope is a parsed buildfile's top-level sequence of statements, plus the
// per-scope locked variable pool they were expanded against.
type Scope struct {
	Path  string
	Body  []Node
	Pool  *names.Pool
}
