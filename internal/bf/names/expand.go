package names

import (
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// Expander expands variable and function references against a Pool,
// generalizing the teacher's Vars.Expand (vars.go) to the typed-value and
// subscript rules of spec.md §4.3.
type Expander struct {
	Pool *Pool
	// Funcs holds user-defined functions, keyed by name.
	Funcs map[string]UserFunc
	// parent is consulted for names a function-call child doesn't bind.
	parent *Expander
}

// UserFunc is a user-defined function body plus its formal parameters.
type UserFunc struct {
	Params []string
	Body   string
}

func NewExpander(pool *Pool) *Expander {
	return &Expander{Pool: pool, Funcs: make(map[string]UserFunc)}
}

// Expand expands $name, ${name}, $[func args], $name.prop, $name:old=new,
// and $x[i] subscripts (subscripts are only recognized inside an eval
// context, i.e. when the whole expression is bracketed, to avoid
// colliding with path-pattern wildcard classes "[...]" in ordinary text).
func (e *Expander) Expand(s string) string {
	return e.expand(s, false)
}

// ExpandEval expands s as an eval-context expression: `$x[i]` subscripts
// are recognized here, unlike in plain text.
func (e *Expander) ExpandEval(s string) string {
	return e.expand(s, true)
}

func (e *Expander) expand(s string, evalCtx bool) string {
	var b strings.Builder
	i := 0
	for i < len(s) {
		if s[i] != '$' {
			b.WriteByte(s[i])
			i++
			continue
		}
		i++
		if i >= len(s) {
			b.WriteByte('$')
			break
		}
		switch {
		case s[i] == '$':
			b.WriteByte('$')
			i++
		case s[i] == '{':
			end := strings.IndexByte(s[i:], '}')
			if end < 0 {
				b.WriteString("${")
				i++
				continue
			}
			name := s[i+1 : i+end]
			b.WriteString(e.get(name))
			i += end + 1
		case s[i] == '[':
			end := findMatchingBracket(s[i:])
			if end < 0 {
				b.WriteString("$[")
				i++
				continue
			}
			inner := s[i+1 : i+end]
			b.WriteString(e.evalFunc(inner))
			i += end + 1
		case isIdentStart(s[i]):
			start := i
			for i < len(s) && isIdentCont(s[i]) {
				i++
			}
			name := s[start:i]
			val := e.get(name)

			if i < len(s) && s[i] == '.' {
				propStart := i + 1
				j := i
				for j+1 < len(s) && isIdentCont(s[j+1]) {
					j++
				}
				member := s[propStart : j+1]
				i = j + 1
				scoped := name + "." + member
				if sv := e.get(scoped); sv != "" {
					val = sv
				} else {
					val = varProperty(val, member)
				}
				b.WriteString(val)
				continue
			}

			if evalCtx && i < len(s) && s[i] == '[' {
				end := findMatchingBracket(s[i:])
				if end >= 0 {
					idxStr := strings.TrimSpace(e.ExpandEval(s[i+1 : i+end]))
					i += end + 1
					n, err := strconv.ParseUint(idxStr, 10, 64)
					words := strings.Fields(val)
					if err == nil && n < uint64(len(words)) {
						b.WriteString(words[n])
					}
					continue
				}
			}

			if i < len(s) && s[i] == ':' {
				rest := s[i+1:]
				if eqIdx := strings.IndexByte(rest, '='); eqIdx >= 0 {
					endIdx := strings.IndexByte(rest[eqIdx+1:], ' ')
					var old, repl string
					if endIdx < 0 {
						old = rest[:eqIdx]
						repl = rest[eqIdx+1:]
						i = len(s)
					} else {
						old = rest[:eqIdx]
						repl = rest[eqIdx+1 : eqIdx+1+endIdx]
						i += 1 + eqIdx + 1 + endIdx
					}
					oldPat, replPat := "%"+old, "%"+repl
					words := strings.Fields(val)
					for j, w := range words {
						words[j] = PatsubstWord(oldPat, replPat, w)
					}
					val = strings.Join(words, " ")
				}
			}
			b.WriteString(val)
		default:
			b.WriteByte('$')
		}
	}
	return b.String()
}

func (e *Expander) get(name string) string {
	v, ok := e.Pool.Find(name)
	if !ok {
		if e.parent != nil {
			return e.parent.get(name)
		}
		return ""
	}
	if expr, lazy := v.IsLazy(); lazy {
		val := e.Expand(expr)
		v.Set(Simple(strings.Fields(val)...))
		return val
	}
	return v.Get().Join(" ")
}

func varProperty(val, prop string) string {
	switch prop {
	case "dir":
		return filepath.Dir(val)
	case "file", "leaf":
		return filepath.Base(val)
	case "ext":
		ext := filepath.Ext(val)
		return strings.TrimPrefix(ext, ".")
	default:
		return ""
	}
}

func findMatchingBracket(s string) int {
	depth := 0
	for i, c := range s {
		switch c {
		case '[':
			depth++
		case ']':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

func isIdentStart(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c == '_'
}

func isIdentCont(c byte) bool {
	return isIdentStart(c) || c >= '0' && c <= '9'
}

// evalFunc dispatches `$[name args]` to a builtin or user-defined function.
func (e *Expander) evalFunc(inner string) string {
	name, args, _ := strings.Cut(inner, " ")
	switch name {
	case "wildcard":
		return e.funcWildcard(strings.TrimSpace(args))
	case "shell":
		return e.funcShell(strings.TrimSpace(args))
	case "patsubst":
		return e.applyCSV3(args, func(pat, repl, text string) string {
			var out []string
			for _, w := range strings.Fields(text) {
				out = append(out, PatsubstWord(pat, repl, w))
			}
			return strings.Join(out, " ")
		})
	case "subst":
		return e.applyCSV3(args, func(from, to, text string) string {
			return strings.ReplaceAll(text, from, to)
		})
	case "filter":
		return e.applyCSV2(args, func(pat, text string) string {
			var out []string
			for _, w := range strings.Fields(text) {
				if PatsubstMatch(pat, w) {
					out = append(out, w)
				}
			}
			return strings.Join(out, " ")
		})
	case "filter-out":
		return e.applyCSV2(args, func(pat, text string) string {
			var out []string
			for _, w := range strings.Fields(text) {
				if !PatsubstMatch(pat, w) {
					out = append(out, w)
				}
			}
			return strings.Join(out, " ")
		})
	case "dir":
		return e.mapWords(args, func(w string) string {
			d := filepath.Dir(w)
			if d == "." {
				return "./"
			}
			return d + "/"
		})
	case "notdir":
		return e.mapWords(args, filepath.Base)
	case "basename":
		return e.mapWords(args, func(w string) string {
			ext := filepath.Ext(w)
			return strings.TrimSuffix(w, ext)
		})
	case "suffix":
		var out []string
		for _, w := range strings.Fields(e.Expand(args)) {
			if ext := filepath.Ext(w); ext != "" {
				out = append(out, ext)
			}
		}
		return strings.Join(out, " ")
	case "addprefix":
		return e.applyCSV2(args, func(prefix, text string) string {
			var out []string
			for _, w := range strings.Fields(text) {
				out = append(out, prefix+w)
			}
			return strings.Join(out, " ")
		})
	case "addsuffix":
		return e.applyCSV2(args, func(suffix, text string) string {
			var out []string
			for _, w := range strings.Fields(text) {
				out = append(out, w+suffix)
			}
			return strings.Join(out, " ")
		})
	case "sort":
		words := strings.Fields(e.Expand(args))
		sort.Strings(words)
		var out []string
		for i, w := range words {
			if i == 0 || w != words[i-1] {
				out = append(out, w)
			}
		}
		return strings.Join(out, " ")
	case "word":
		return e.applyCSV2(args, func(nStr, text string) string {
			n, err := strconv.Atoi(strings.TrimSpace(nStr))
			words := strings.Fields(text)
			if err != nil || n < 1 || n > len(words) {
				return ""
			}
			return words[n-1]
		})
	case "words":
		return strconv.Itoa(len(strings.Fields(e.Expand(args))))
	case "strip":
		return strings.Join(strings.Fields(e.Expand(args)), " ")
	case "findstring":
		return e.applyCSV2(args, func(find, text string) string {
			if strings.Contains(text, find) {
				return find
			}
			return ""
		})
	case "if":
		parts := strings.SplitN(args, ",", 3)
		if len(parts) < 2 {
			return ""
		}
		cond := strings.TrimSpace(e.Expand(parts[0]))
		if cond != "" {
			return strings.TrimSpace(e.Expand(parts[1]))
		}
		if len(parts) == 3 {
			return strings.TrimSpace(e.Expand(parts[2]))
		}
		return ""
	case "concat":
		// builtin.concat: typed concatenation hook (spec.md §4.3). With no
		// declared types in this simplified model, concatenation is plain
		// string joining; a forced-untyped concatenation is always legal.
		parts := strings.SplitN(args, ",", 2)
		if len(parts) != 2 {
			return ""
		}
		return e.Expand(parts[0]) + e.Expand(parts[1])
	default:
		if fn, ok := e.Funcs[name]; ok {
			return e.callUserFunc(fn, strings.TrimSpace(args))
		}
		return ""
	}
}

func (e *Expander) mapWords(args string, f func(string) string) string {
	var out []string
	for _, w := range strings.Fields(e.Expand(args)) {
		out = append(out, f(w))
	}
	return strings.Join(out, " ")
}

func (e *Expander) applyCSV2(args string, f func(a, b string) string) string {
	parts := strings.SplitN(args, ",", 2)
	if len(parts) != 2 {
		return ""
	}
	a := strings.TrimSpace(parts[0])
	b := strings.TrimSpace(e.Expand(parts[1]))
	return f(a, b)
}

func (e *Expander) applyCSV3(args string, f func(a, b, c string) string) string {
	parts := strings.SplitN(args, ",", 3)
	if len(parts) != 3 {
		return ""
	}
	a := strings.TrimSpace(parts[0])
	b := strings.TrimSpace(parts[1])
	c := strings.TrimSpace(e.Expand(parts[2]))
	return f(a, b, c)
}

func (e *Expander) callUserFunc(fn UserFunc, args string) string {
	expanded := e.Expand(args)
	words := strings.Fields(expanded)

	child := &Expander{Pool: NewPool(), Funcs: e.Funcs}
	for i, param := range fn.Params {
		if i < len(words) {
			child.Pool.Insert(param, VisScope).Set(Simple(words[i]))
		} else {
			child.Pool.Insert(param, VisScope).Set(Simple())
		}
	}
	if len(fn.Params) > 0 && len(words) > len(fn.Params) {
		last := len(fn.Params) - 1
		child.Pool.Insert(fn.Params[last], VisScope).Set(Simple(strings.Join(words[last:], " ")))
	}
	// Fall back to the parent pool for any name the child doesn't bind.
	child.parent = e
	return child.Expand(fn.Body)
}

func (e *Expander) funcWildcard(args string) string {
	pattern := e.Expand(args)
	var all []string
	for _, p := range strings.Fields(pattern) {
		matches, err := filepath.Glob(p)
		if err == nil {
			all = append(all, matches...)
		}
	}
	return strings.Join(all, " ")
}

func (e *Expander) funcShell(args string) string {
	cmd := e.Expand(args)
	out, err := exec.Command("sh", "-c", cmd).Output()
	if err != nil {
		return ""
	}
	return strings.Join(strings.Fields(string(out)), " ")
}

// PatsubstWord applies a single %-pattern substitution to one word.
func PatsubstWord(pattern, replacement, word string) string {
	if !strings.Contains(pattern, "%") {
		if word == pattern {
			return replacement
		}
		return word
	}
	prefix, suffix, _ := strings.Cut(pattern, "%")
	if strings.HasPrefix(word, prefix) && strings.HasSuffix(word, suffix) {
		stem := word[len(prefix) : len(word)-len(suffix)]
		return strings.ReplaceAll(replacement, "%", stem)
	}
	return word
}

// PatsubstMatch tests whether a word matches a %-pattern.
func PatsubstMatch(pattern, word string) bool {
	if !strings.Contains(pattern, "%") {
		return word == pattern
	}
	prefix, suffix, _ := strings.Cut(pattern, "%")
	return strings.HasPrefix(word, prefix) && strings.HasSuffix(word, suffix)
}
