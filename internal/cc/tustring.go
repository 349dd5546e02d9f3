package cc

import (
	"fmt"
	"strings"
)

// EncodeTUString renders the dep-db's TU module-info string grammar:
//
//	tu       := [unit] [imports]
//	unit     := name marker       ; marker ∈ {'!','+'}; header-unit name quoted
//	imports  := (SP import)*
//	import   := name ['*']        ; '*' = exported; header-unit names quoted
//	name     := WORD | '"' PATH '"'
//
// Per spec.md §9's Open Questions decision (DESIGN.md records the choice):
// imported header units are omitted from the string entirely, matching the
// documented source behavior rather than the alternative of emitting them.
func EncodeTUString(tu TU) string {
	var b strings.Builder
	if tu.Type != NonModular {
		marker := "!"
		if tu.Type == ModuleImpl || tu.Type == ModuleImplPart {
			marker = "+"
		}
		b.WriteString(quoteIfNeeded(tu.Module))
		b.WriteString(marker)
	}
	for _, imp := range tu.Imports {
		if imp.Kind == ImportModuleHeader {
			continue // omitted, per the Open Question decision above
		}
		b.WriteByte(' ')
		b.WriteString(quoteIfNeeded(imp.Name))
		if imp.Exported {
			b.WriteByte('*')
		}
	}
	return b.String()
}

func quoteIfNeeded(name string) string {
	if name == "" {
		return `""`
	}
	needsQuote := strings.ContainsAny(name, " \t\"")
	if !needsQuote {
		return name
	}
	return `"` + strings.ReplaceAll(name, `"`, `\"`) + `"`
}

// DecodeTUString parses a TU module-info string back into unit type
// (ModuleIntf for '!' or ModuleImpl for '+', or ModuleIntfPart /
// ModuleImplPart when the module name contains ':', NonModular if no unit
// token is present), module name, and the non-header-unit imports.
//
// This round-trips EncodeTUString output modulo header-unit import
// dropping: decoding never recovers header-unit imports, since the
// encoder never wrote them (spec.md §8's round-trip law explicitly
// qualifies this case).
func DecodeTUString(s string) (TU, error) {
	var tu TU
	fields, err := tokenizeTUString(s)
	if err != nil {
		return tu, err
	}
	if len(fields) == 0 {
		tu.Type = NonModular
		return tu, nil
	}

	first := fields[0]
	if strings.HasSuffix(first, "!") || strings.HasSuffix(first, "+") {
		marker := first[len(first)-1]
		name := first[:len(first)-1]
		tu.Module = unquote(name)
		if marker == '+' {
			if strings.Contains(tu.Module, ":") {
				tu.Type = ModuleImplPart
			} else {
				tu.Type = ModuleImpl
			}
		} else {
			if strings.Contains(tu.Module, ":") {
				tu.Type = ModuleIntfPart
			} else {
				tu.Type = ModuleIntf
			}
		}
		fields = fields[1:]
	} else {
		tu.Type = NonModular
	}

	for _, f := range fields {
		exported := strings.HasSuffix(f, "*")
		name := strings.TrimSuffix(f, "*")
		name = unquote(name)
		kind := ImportModuleIntf
		if strings.HasPrefix(name, ":") {
			kind = ImportModulePart
		}
		tu.Imports = append(tu.Imports, Import{Kind: kind, Name: name, Exported: exported})
	}
	return tu, nil
}

func unquote(s string) string {
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return strings.ReplaceAll(s[1:len(s)-1], `\"`, `"`)
	}
	return s
}

// tokenizeTUString splits on unquoted spaces, respecting `"..."` quoting
// with backslash-escaped quotes inside.
func tokenizeTUString(s string) ([]string, error) {
	var fields []string
	var cur strings.Builder
	inQuote := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '"':
			inQuote = !inQuote
			cur.WriteByte(c)
		case c == '\\' && inQuote && i+1 < len(s):
			cur.WriteByte(c)
			i++
			cur.WriteByte(s[i])
		case c == ' ' && !inQuote:
			if cur.Len() > 0 {
				fields = append(fields, cur.String())
				cur.Reset()
			}
		default:
			cur.WriteByte(c)
		}
	}
	if inQuote {
		return nil, fmt.Errorf("unterminated quote in TU string %q", s)
	}
	if cur.Len() > 0 {
		fields = append(fields, cur.String())
	}
	return fields, nil
}
