// Package names implements the buildfile value model: the `names`-sequence
// type (project?, dir, type, value, pattern?), pair flags, typed variables,
// and the pooled variable table of spec.md §3/§4.3/§5.
package names

import (
	"sort"
	"strings"
	"sync"
)

// Name is one element of a names-sequence: an optionally project- and
// dir-qualified, optionally typed value, optionally paired with the
// element that follows it (via Pair: "@", ":", or "/").
type Name struct {
	Project string // qualifying project ("proj%name"), empty if none
	Dir     string // directory qualification ("dir/type{value}")
	Type    string // type qualification, empty for untyped
	Value   string
	Pattern bool   // true if Value still contains an unexpanded pattern
	Pair    string // "@", ":", "/" if paired with the next Name, else ""
}

// List is a names-sequence — the fundamental buildfile value type.
type List []Name

// Strings renders a List back into plain words, ignoring qualification —
// used wherever a plain shell-visible value is needed (recipe expansion,
// environment variables).
func (l List) Strings() []string {
	out := make([]string, len(l))
	for i, n := range l {
		out[i] = n.Value
	}
	return out
}

func (l List) Join(sep string) string {
	return strings.Join(l.Strings(), sep)
}

// Simple builds an untyped, unqualified List from plain words.
func Simple(words ...string) List {
	l := make(List, len(words))
	for i, w := range words {
		l[i] = Name{Value: w}
	}
	return l
}

// Subscript implements `$x[i]`: uint64 index, NULL (ok=false) for
// out-of-range per spec.md §4.3/§8. Pair-aware: two names joined by a pair
// flag count as a single logical element for indexing purposes when idx
// addresses the first of the pair.
func (l List) Subscript(idx uint64) (Name, bool) {
	// Group paired elements into logical units.
	units := l.units()
	if idx >= uint64(len(units)) {
		return Name{}, false
	}
	return units[idx][0], true
}

// units groups the list into pair-runs: a name with a non-empty Pair is
// glued to the following name(s) until one has an empty Pair.
func (l List) units() [][]Name {
	var units [][]Name
	var cur []Name
	for _, n := range l {
		cur = append(cur, n)
		if n.Pair == "" {
			units = append(units, cur)
			cur = nil
		}
	}
	if len(cur) > 0 {
		units = append(units, cur)
	}
	return units
}

// Visibility is a variable's declared visibility scope.
type Visibility int

const (
	VisGlobal Visibility = iota
	VisProject
	VisScope
	VisTarget
	VisPrereq
)

// Variable is a pooled, type-erased value cell. Once inserted into a Pool,
// its pointer never moves (spec.md §3, §5 "inserted variable pointers are
// stable forever"), so that an Expand that captured a *Variable can keep
// reading through structural churn elsewhere in the pool.
type Variable struct {
	Name           string
	Visibility     Visibility
	Overridable    bool
	Type           string // optional declared type, "" if untyped
	mu             sync.RWMutex
	value          List
	lazy           string // unevaluated expression, "" if not lazy
	set            bool
}

func (v *Variable) Get() List {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.value
}

func (v *Variable) Set(l List) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.value = l
	v.lazy = ""
	v.set = true
}

func (v *Variable) SetLazy(expr string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.lazy = expr
	v.set = false
}

func (v *Variable) IsLazy() (string, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if v.lazy != "" {
		return v.lazy, true
	}
	return "", false
}

func (v *Variable) IsSet() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.set
}

// Pool is the shared, lock-guarded variable table of spec.md §5: insertion
// takes a write lock, lookup a read lock; a Variable's value is changed
// under that Variable's own lock, not the pool lock.
type Pool struct {
	mu    sync.RWMutex
	byKey map[string]*Variable
}

func NewPool() *Pool {
	return &Pool{byKey: make(map[string]*Variable)}
}

// Find returns the variable for name if present, without creating one.
func (p *Pool) Find(name string) (*Variable, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	v, ok := p.byKey[name]
	return v, ok
}

// Insert returns the variable for name, creating it (with the given
// default visibility) if absent. The returned pointer is stable for the
// pool's lifetime.
func (p *Pool) Insert(name string, vis Visibility) *Variable {
	p.mu.RLock()
	if v, ok := p.byKey[name]; ok {
		p.mu.RUnlock()
		return v
	}
	p.mu.RUnlock()

	p.mu.Lock()
	defer p.mu.Unlock()
	if v, ok := p.byKey[name]; ok {
		return v
	}
	v := &Variable{Name: name, Visibility: vis, Overridable: true}
	p.byKey[name] = v
	return v
}

// Names returns all variable names currently in the pool, sorted, for
// deterministic dumps (`dump` directive, `--state`-style introspection).
func (p *Pool) Names() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]string, 0, len(p.byKey))
	for k := range p.byKey {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
