package lex

import "testing"

func TestWordsAndPunct(t *testing.T) {
	l := New("exe{hello}: cxx{hello}\n")
	var got []string
	for {
		tok := l.Next()
		if tok.Kind == TEOF {
			break
		}
		got = append(got, tok.Text)
	}
	want := []string{"exe", "{", "hello", "}", ":", "cxx", "{", "hello", "}", "\n"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("token %d: got %q want %q (all: %v)", i, got[i], want[i], got)
		}
	}
}

func TestQuoteTypeTracking(t *testing.T) {
	l := New(`"a b" c`)
	tok := l.Next()
	if tok.Quote != DoubleQuoted || tok.Text != "a b" {
		t.Fatalf("got %+v", tok)
	}
	tok2 := l.Next()
	if tok2.Quote != Unquoted || tok2.Text != "c" {
		t.Fatalf("got %+v", tok2)
	}
}

func TestForeignModeBraceCounting(t *testing.T) {
	l := New("{{\n  echo hi\n}}\nrest")
	// Simulate the parser consuming the opening {{ in Normal mode then
	// switching to Foreign for the body.
	tok1 := l.Next() // "{"
	if tok1.Text != "{" {
		t.Fatalf("got %+v", tok1)
	}
	tok2 := l.Next() // "{"
	if tok2.Text != "{" {
		t.Fatalf("got %+v", tok2)
	}
	l.PushForeign(2)
	body := l.Next()
	if body.Text != "\n  echo hi\n" {
		t.Fatalf("foreign body = %q", body.Text)
	}
	if l.Mode() != Normal {
		t.Fatalf("mode should have popped back to normal, got %v", l.Mode())
	}
	rest := l.Next()
	if rest.Kind != TNewline {
		t.Fatalf("expected newline after }}, got %+v", rest)
	}
}

func TestModeStackPushPop(t *testing.T) {
	l := New("x")
	l.PushMode(Eval)
	if l.Mode() != Eval {
		t.Fatalf("expected Eval, got %v", l.Mode())
	}
	l.PopMode()
	if l.Mode() != Normal {
		t.Fatalf("expected Normal after pop, got %v", l.Mode())
	}
	l.PopMode() // popping the root mode must be a no-op
	if l.Mode() != Normal {
		t.Fatalf("popping root mode must not underflow, got %v", l.Mode())
	}
}
