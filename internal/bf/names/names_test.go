package names

import "testing"

func TestSubscriptOutOfRangeIsNull(t *testing.T) {
	l := Simple("a", "b", "c")
	if v, ok := l.Subscript(2); !ok || v.Value != "c" {
		t.Fatalf("Subscript(2) = %+v, %v; want c, true", v, ok)
	}
	if _, ok := l.Subscript(3); ok {
		t.Fatal("Subscript(3) should be out of range")
	}
}

func TestSubscriptOnEmptyIsNull(t *testing.T) {
	var empty List
	if _, ok := empty.Subscript(0); ok {
		t.Fatal("subscript on empty list must be NULL")
	}
}

func TestDetectPatternKinds(t *testing.T) {
	cases := []struct {
		in   string
		want PatternKind
	}{
		{"*.cxx", PathPattern},
		{"src/**/*.h", PathPattern},
		{"~/foo.*\\.h/i", RegexPattern},
		{"^/foo/bar/", RegexSubstPattern},
		{"plain.txt", NotAPattern},
	}
	for _, c := range cases {
		if got := Detect(c.in); got != c.want {
			t.Errorf("Detect(%q) = %v, want %v", c.in, got, c.want)
		}
	}
}

func TestExpandEmptyPatternIsNotAnError(t *testing.T) {
	matches, err := ExpandPath(t.TempDir(), "*.nonexistent-ext", nil, nil)
	if err != nil {
		t.Fatalf("empty pattern expansion must not error: %v", err)
	}
	if len(matches) != 0 {
		t.Fatalf("expected zero matches, got %v", matches)
	}
}

func TestGroupCrossProduct(t *testing.T) {
	got := Group([]string{"a", "b"}, []string{"x", "y"})
	want := []string{"ax", "ay", "bx", "by"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestPoolStablePointer(t *testing.T) {
	p := NewPool()
	v1 := p.Insert("x", VisScope)
	v1.Set(Simple("1"))
	v2, ok := p.Find("x")
	if !ok || v2 != v1 {
		t.Fatal("Find after Insert must return the same pointer")
	}
}

func TestExpanderBasic(t *testing.T) {
	p := NewPool()
	p.Insert("name", VisScope).Set(Simple("foo"))
	e := NewExpander(p)
	if got := e.Expand("hello $name!"); got != "hello foo!" {
		t.Fatalf("got %q", got)
	}
	if got := e.Expand("$[sort c b a]"); got != "a b c" {
		t.Fatalf("sort: got %q", got)
	}
}

func TestPatsubstWord(t *testing.T) {
	if got := PatsubstWord("%.c", "%.o", "foo.c"); got != "foo.o" {
		t.Fatalf("got %q", got)
	}
	if got := PatsubstWord("%.c", "%.o", "foo.h"); got != "foo.h" {
		t.Fatalf("non-matching word must pass through unchanged, got %q", got)
	}
}
