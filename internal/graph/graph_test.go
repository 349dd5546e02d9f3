package graph

import "testing"

func TestInsertLockedStableIdentity(t *testing.T) {
	c := NewContainer()
	k := Key{Type: "obj", Name: "hello", Ext: "o"}
	t1, lock1 := c.InsertLocked(k, Real)
	t2, lock2 := c.InsertLocked(k, Real)
	if t1 != t2 {
		t.Fatal("InsertLocked must return the same pointer for the same key")
	}
	if lock1 != lock2 {
		t.Fatal("InsertLocked must return the same construction mutex for the same key")
	}
}

func TestFindDoesNotCreate(t *testing.T) {
	c := NewContainer()
	if _, ok := c.Find(Key{Name: "nope"}); ok {
		t.Fatal("Find must not create a target")
	}
	if c.Len() != 0 {
		t.Fatalf("expected 0 targets, got %d", c.Len())
	}
}

func TestAdhocAppendChain(t *testing.T) {
	group := &Target{Key: Key{Name: "g"}}
	m1 := &Target{Key: Key{Name: "m1"}}
	m2 := &Target{Key: Key{Name: "m2"}}
	AdhocAppend(group, m1)
	AdhocAppend(group, m2)
	if group.AdhocNext != m1 || m1.AdhocNext != m2 {
		t.Fatalf("chain broken: group.Next=%v m1.Next=%v", group.AdhocNext, m1.AdhocNext)
	}
	if m2.AdhocPrev != m1 || m1.AdhocGroup != group || m2.AdhocGroup != group {
		t.Fatalf("backlinks/group pointer wrong")
	}
}

func TestScopeRootWalk(t *testing.T) {
	root := NewScope("/out", nil)
	child := NewScope("/out/sub", root)
	root.AddChild(child)
	if child.Root() != root {
		t.Fatal("Root() must walk up to the top-level scope")
	}
	if !root.IsRoot || child.IsRoot {
		t.Fatalf("IsRoot flags wrong: root=%v child=%v", root.IsRoot, child.IsRoot)
	}
}

func TestPatternRulesWalksAncestors(t *testing.T) {
	root := NewScope("/out", nil)
	child := NewScope("/out/sub", root)
	root.AddChild(child)
	root.RegisterPatternRule(PatternRule{Raw: "*.txt"})
	child.RegisterPatternRule(PatternRule{Raw: "*.h"})
	got := child.PatternRules()
	if len(got) != 2 {
		t.Fatalf("expected 2 visible pattern rules, got %d", len(got))
	}
}
