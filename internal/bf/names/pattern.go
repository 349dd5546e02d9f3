package names

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// PatternKind distinguishes the three pattern flavors of spec.md §4.3.
type PatternKind int

const (
	NotAPattern PatternKind = iota
	PathPattern             // wildcards
	RegexPattern            // ~/re/flags
	RegexSubstPattern       // ^/sub/flags
)

// Detect classifies a raw token as one of the three pattern flavors, or
// NotAPattern. Path patterns are recognized by the presence of glob
// metacharacters (*, ?, [, **); a leading '+' inside curly braces is not
// recognized as a pattern. The other two are recognized by their sigil.
func Detect(raw string) PatternKind {
	switch {
	case strings.HasPrefix(raw, "~/") && strings.Count(raw, "/") >= 2:
		return RegexPattern
	case strings.HasPrefix(raw, "^/") && strings.Count(raw, "/") >= 2:
		return RegexSubstPattern
	case strings.ContainsAny(raw, "*?["):
		return PathPattern
	default:
		return NotAPattern
	}
}

// ExpandPath expands a path pattern against pbase (the pattern base
// directory), honoring `+{...}` inclusions and `-{...}` exclusions,
// `.buildignore` directory markers, and dot-file visibility (a match with
// any dot-prefixed path segment is excluded unless the pattern's last
// segment itself starts with a dot).
//
// An empty expansion is not an error: the caller's enclosing dependency
// simply contributes zero prerequisites (spec.md §8 boundary behavior).
func ExpandPath(pbase, pattern string, includes, excludes []string) ([]string, error) {
	full := pattern
	if pbase != "" && !filepath.IsAbs(pattern) {
		full = filepath.Join(pbase, pattern)
	}

	matches, err := doublestar.FilepathGlob(full)
	if err != nil {
		return nil, err
	}

	var out []string
	for _, m := range matches {
		rel := m
		if pbase != "" {
			if r, err := filepath.Rel(pbase, m); err == nil {
				rel = r
			}
		}
		if isDotfile(rel) && !strings.HasPrefix(filepath.Base(pattern), ".") {
			continue
		}
		if underBuildignore(m) {
			continue
		}
		if matchesAny(excludes, rel) {
			continue
		}
		if len(includes) > 0 && !matchesAny(includes, rel) {
			continue
		}
		out = append(out, m)
	}
	sort.Strings(out)
	return out, nil
}

func isDotfile(rel string) bool {
	for _, seg := range strings.Split(filepath.ToSlash(rel), "/") {
		if strings.HasPrefix(seg, ".") && seg != "." && seg != ".." {
			return true
		}
	}
	return false
}

// underBuildignore reports whether any ancestor directory of path contains
// a `.buildignore` marker file, which excludes the whole subtree from
// pattern expansion.
func underBuildignore(path string) bool {
	dir := filepath.Dir(path)
	for {
		if _, err := os.Stat(filepath.Join(dir, ".buildignore")); err == nil {
			return true
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return false
		}
		dir = parent
	}
}

func matchesAny(patterns []string, rel string) bool {
	for _, p := range patterns {
		if ok, _ := doublestar.Match(p, filepath.ToSlash(rel)); ok {
			return true
		}
	}
	return false
}

// RegexPatternSpec is a parsed `~/re/flags` pattern: apply re to each
// candidate under pbase and keep matches (optionally case-insensitive with
// the 'i' flag).
type RegexPatternSpec struct {
	Re    *regexp.Regexp
	Flags string
}

// ParseRegexPattern parses `~/re/flags`.
func ParseRegexPattern(raw string) (RegexPatternSpec, error) {
	body := strings.TrimPrefix(raw, "~/")
	parts := splitDelimited(body)
	if len(parts) < 2 {
		return RegexPatternSpec{}, errf("malformed regex pattern %q", raw)
	}
	expr, flags := parts[0], parts[1]
	if strings.Contains(flags, "i") {
		expr = "(?i)" + expr
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return RegexPatternSpec{}, err
	}
	return RegexPatternSpec{Re: re, Flags: flags}, nil
}

// RegexSubstSpec is a parsed `^/sub/repl/flags` substitution pattern.
type RegexSubstSpec struct {
	Re    *regexp.Regexp
	Repl  string
	Flags string
}

// ParseRegexSubst parses `^/re/repl/flags`.
func ParseRegexSubst(raw string) (RegexSubstSpec, error) {
	body := strings.TrimPrefix(raw, "^/")
	parts := splitDelimited(body)
	if len(parts) < 3 {
		return RegexSubstSpec{}, errf("malformed regex substitution %q", raw)
	}
	expr, repl, flags := parts[0], parts[1], parts[2]
	if strings.Contains(flags, "i") {
		expr = "(?i)" + expr
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return RegexSubstSpec{}, err
	}
	return RegexSubstSpec{Re: re, Repl: repl, Flags: flags}, nil
}

// Apply runs the substitution over s, honoring the 'g' (global) flag; by
// default only the first match is replaced.
func (s RegexSubstSpec) Apply(in string) string {
	if strings.Contains(s.Flags, "g") {
		return s.Re.ReplaceAllString(in, s.Repl)
	}
	loc := s.Re.FindStringSubmatchIndex(in)
	if loc == nil {
		return in
	}
	var out []byte
	out = s.Re.ExpandString(out, s.Repl, in, loc)
	return in[:loc[0]] + string(out) + in[loc[1]:]
}

// splitDelimited splits a /-delimited body like "re/flags" respecting
// backslash-escaped slashes.
func splitDelimited(body string) []string {
	var parts []string
	var cur strings.Builder
	escaped := false
	for i := 0; i < len(body); i++ {
		c := body[i]
		switch {
		case escaped:
			if c != '/' {
				cur.WriteByte('\\')
			}
			cur.WriteByte(c)
			escaped = false
		case c == '\\':
			escaped = true
		case c == '/':
			parts = append(parts, cur.String())
			cur.Reset()
		default:
			cur.WriteByte(c)
		}
	}
	parts = append(parts, cur.String())
	return parts
}

// Group expands a curly-brace group `{a b c}` into one List per
// alternative, and computes the Cartesian product when two groups are
// juxtaposed (`{a b}{x y}` = ["ax","ay","bx","by"] after promotion, i.e.
// concatenation of corresponding literal prefixes/suffixes with each
// alternative combination).
func Group(alternatives ...[]string) []string {
	if len(alternatives) == 0 {
		return nil
	}
	result := alternatives[0]
	for _, alt := range alternatives[1:] {
		var next []string
		for _, a := range result {
			for _, b := range alt {
				next = append(next, a+b)
			}
		}
		result = next
	}
	return result
}

func errf(format string, args ...any) error {
	return fmt.Errorf(format, args...)
}
