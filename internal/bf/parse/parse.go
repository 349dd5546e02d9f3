// Package parse turns buildfile text into an internal/bf/ast.Scope. It
// generalizes the teacher's line-buffered recursive-descent parser
// (peek/trim/prefix-match over whole logical lines) to the richer
// SPEC_FULL.md §4.3 grammar, reaching into internal/bf/lex for the
// constructs that need real tokenization: recipe blocks, attribute lists,
// ad hoc groups and pattern/group values.
package parse

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/mbld/bld/internal/bf/ast"
	"github.com/mbld/bld/internal/bf/lex"
	"github.com/mbld/bld/internal/bf/names"
)

// Parser holds the logical-line buffer (backslash-continued lines joined
// into one) and the current read position, mirroring the teacher's
// parser{lines,pos} shape.
type Parser struct {
	lines []string
	pos   int
}

// Parse reads a whole buildfile and returns its top-level Scope.
func Parse(r io.Reader) (*ast.Scope, error) {
	lines, err := readLogicalLines(r)
	if err != nil {
		return nil, err
	}
	p := &Parser{lines: lines}
	body, err := p.parseBlock(0)
	if err != nil {
		return nil, err
	}
	return &ast.Scope{Body: body, Pool: names.NewPool()}, nil
}

// readLogicalLines joins backslash-continued physical lines and strips
// trailing `\r`, preserving the 1-based physical line number that started
// each logical line would require — we keep line numbers approximate
// (first physical line of the join), matching the teacher's behavior.
func readLogicalLines(r io.Reader) ([]string, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	var out []string
	var cur strings.Builder
	joining := false
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		if strings.HasSuffix(line, `\`) {
			cur.WriteString(strings.TrimSuffix(line, `\`))
			cur.WriteByte(' ')
			joining = true
			continue
		}
		if joining {
			cur.WriteString(line)
			out = append(out, cur.String())
			cur.Reset()
			joining = false
		} else {
			out = append(out, line)
		}
	}
	if joining {
		out = append(out, cur.String())
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (p *Parser) peek() (string, bool) {
	if p.pos >= len(p.lines) {
		return "", false
	}
	return p.lines[p.pos], true
}

func (p *Parser) indentOf(line string) int {
	n := 0
	for _, c := range line {
		if c == ' ' {
			n++
		} else if c == '\t' {
			n += 8
		} else {
			break
		}
	}
	return n
}

// parseBlock consumes statements at indent >= minIndent, returning when a
// shallower line or EOF is hit.
func (p *Parser) parseBlock(minIndent int) ([]ast.Node, error) {
	var out []ast.Node
	for {
		raw, ok := p.peek()
		if !ok {
			return out, nil
		}
		trimmed := strings.TrimSpace(raw)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			p.pos++
			continue
		}
		if p.indentOf(raw) < minIndent {
			return out, nil
		}
		node, err := p.parseStatement()
		if err != nil {
			return nil, err
		}
		if node != nil {
			out = append(out, node)
		}
	}
}

func (p *Parser) parseStatement() (ast.Node, error) {
	lineNo := p.pos + 1
	raw, _ := p.peek()
	trimmed := strings.TrimSpace(raw)
	indent := p.indentOf(raw)

	switch {
	case strings.HasPrefix(trimmed, "using ") || strings.HasPrefix(trimmed, "using?"):
		return p.parseUsingOrInclude(lineNo)
	case strings.HasPrefix(trimmed, "source "):
		p.pos++
		return &ast.Include{Base: ast.Base{Line: lineNo}, Path: strings.TrimSpace(strings.TrimPrefix(trimmed, "source "))}, nil
	case strings.HasPrefix(trimmed, "if "), strings.HasPrefix(trimmed, "if("):
		return p.parseConditional(indent)
	case strings.HasPrefix(trimmed, "switch "), strings.HasPrefix(trimmed, "switch("):
		return p.parseSwitch(indent)
	case strings.HasPrefix(trimmed, "for "), strings.HasPrefix(trimmed, "for("):
		return p.parseLoop(indent)
	case strings.HasPrefix(trimmed, "define "):
		return p.parseFuncDef(indent)
	case strings.HasPrefix(trimmed, "config "):
		return p.parseConfigDef(indent)
	case isDirectiveKeyword(trimmed):
		p.pos++
		return parseDirective(trimmed, lineNo), nil
	case strings.HasPrefix(trimmed, "["):
		return p.parseAttributedStatement(lineNo)
	case strings.HasPrefix(trimmed, "<"):
		return p.parseAdhocGroup(lineNo)
	case looksLikeRuleHeader(trimmed):
		return p.parseRule(nil, lineNo)
	default:
		return p.parseAssignLike(trimmed, lineNo)
	}
}

func isDirectiveKeyword(s string) bool {
	for _, kw := range []string{"print ", "fail ", "fail!", "warn ", "info ", "text ", "assert ", "assert!", "dump", "export ", "run ", "import ", "import?", "import!"} {
		if s == strings.TrimRight(kw, " ") || strings.HasPrefix(s, kw) {
			return true
		}
	}
	return false
}

func parseDirective(trimmed string, line int) *ast.Directive {
	kind := trimmed
	bang := false
	args := ""
	if i := strings.IndexAny(trimmed, " "); i >= 0 {
		kind, args = trimmed[:i], strings.TrimSpace(trimmed[i+1:])
	}
	if strings.HasSuffix(kind, "!") {
		bang = true
		kind = strings.TrimSuffix(kind, "!")
	}
	var fields []string
	if args != "" {
		fields = strings.Fields(args)
	}
	return &ast.Directive{Base: ast.Base{Line: line}, Kind: kind, Args: fields, Bang: bang}
}

// parseUsingOrInclude handles `using mod`, `using? mod` module imports,
// which behave like Include but target a module rather than a file.
func (p *Parser) parseUsingOrInclude(lineNo int) (ast.Node, error) {
	trimmed := strings.TrimSpace(p.lines[p.pos])
	p.pos++
	optional := strings.HasPrefix(trimmed, "using?")
	rest := strings.TrimSpace(strings.TrimPrefix(strings.TrimPrefix(trimmed, "using?"), "using"))
	return &ast.Include{Base: ast.Base{Line: lineNo}, Path: rest, Optional: optional}, nil
}

func looksLikeRuleHeader(trimmed string) bool {
	colon := strings.Index(trimmed, ":")
	if colon < 0 {
		return false
	}
	// Reject if it's actually `name: = value` style (handled elsewhere) by
	// requiring the colon not be immediately followed by '='; any other
	// line with a colon is taken as a rule header.
	after := strings.TrimSpace(trimmed[colon+1:])
	if strings.HasPrefix(after, "=") {
		return false
	}
	return true
}

// parseAttributedStatement parses a leading `[k=v, ...]` attribute block
// and applies it to the Rule that follows on the same line; for any other
// statement the attributes are dropped.
func (p *Parser) parseAttributedStatement(lineNo int) (ast.Node, error) {
	raw := p.lines[p.pos]
	lx := lex.New(raw)
	lx.PushMode(lex.Attributes)
	attrs, end := parseAttrList(lx)
	p.lines[p.pos] = strings.TrimSpace(lx.SaveRegion(end, len(raw)))
	node, err := p.parseStatement()
	if err != nil {
		return nil, err
	}
	if r, ok := node.(*ast.Rule); ok {
		r.Attrs = attrs
	}
	return node, nil
}

// parseAttrList consumes a `[k=v, ...]` block and returns the parsed
// attributes together with the lexer's byte offset just past the closing
// ']', so the caller can re-slice the remainder of the physical line.
func parseAttrList(lx *lex.Lexer) ([]ast.Attribute, int) {
	var attrs []ast.Attribute
	tok := lx.Next()
	if tok.Text != "[" {
		return nil, lx.Pos()
	}
	var cur ast.Attribute
	for {
		t := lx.Next()
		switch {
		case t.Kind == lex.TEOF, t.Text == "]":
			if cur.Key != "" {
				attrs = append(attrs, cur)
			}
			return attrs, lx.Pos()
		case t.Text == "=":
			// value follows
		case t.Text == ",":
			attrs = append(attrs, cur)
			cur = ast.Attribute{}
		case t.Kind == lex.TWord:
			if cur.Key == "" {
				cur.Key = t.Text
			} else {
				cur.Value = t.Text
			}
		}
	}
}

func (p *Parser) parseAdhocGroup(lineNo int) (ast.Node, error) {
	raw := strings.TrimSpace(p.lines[p.pos])
	closeIdx := strings.Index(raw, ">")
	if closeIdx < 0 {
		p.pos++
		return nil, fmt.Errorf("line %d: unterminated ad hoc group", lineNo)
	}
	members := strings.Fields(raw[1:closeIdx])
	rest := strings.TrimSpace(raw[closeIdx+1:])
	rule, err := p.parseRuleFromHeader(rest, lineNo)
	if err != nil {
		return nil, err
	}
	return &ast.AdhocGroup{Base: ast.Base{Line: lineNo}, Members: members, Rule: *rule}, nil
}

func (p *Parser) parseRule(attrs []ast.Attribute, lineNo int) (ast.Node, error) {
	raw := strings.TrimSpace(p.lines[p.pos])
	rule, err := p.parseRuleFromHeader(raw, lineNo)
	if err != nil {
		return nil, err
	}
	rule.Attrs = attrs
	return rule, nil
}

// parseRuleFromHeader parses `target(s): prereq(s) | order-only` plus an
// optional trailing `{{ ... }}` recipe, consuming subsequent lines for a
// multi-line recipe body via the lex.Lexer's Foreign mode.
func (p *Parser) parseRuleFromHeader(raw string, lineNo int) (*ast.Rule, error) {
	isTask := strings.HasPrefix(raw, "!")
	if isTask {
		raw = strings.TrimPrefix(raw, "!")
	}
	colon := strings.Index(raw, ":")
	if colon < 0 {
		return nil, fmt.Errorf("line %d: malformed rule header", lineNo)
	}
	targets := strings.Fields(raw[:colon])
	rest := strings.TrimSpace(raw[colon+1:])

	keep := false
	fingerprint := ""
	for strings.HasPrefix(rest, "[") {
		end := strings.Index(rest, "]")
		if end < 0 {
			break
		}
		tag := rest[1:end]
		switch {
		case tag == "keep":
			keep = true
		case strings.HasPrefix(tag, "fingerprint:"):
			fingerprint = strings.TrimPrefix(tag, "fingerprint:")
		}
		rest = strings.TrimSpace(rest[end+1:])
	}

	var prereqs, orderOnly []string
	var recipeInline string
	if idx := strings.Index(rest, "{{"); idx >= 0 {
		depsPart := strings.TrimSpace(rest[:idx])
		prereqs, orderOnly = splitOrderOnly(depsPart)
		recipeInline = rest[idx:]
	} else {
		prereqs, orderOnly = splitOrderOnly(rest)
	}

	p.pos++
	rule := &ast.Rule{
		Base: ast.Base{Line: lineNo}, Targets: targets, Prereqs: prereqs,
		OrderOnlyPrereqs: orderOnly, IsTask: isTask, Keep: keep, Fingerprint: fingerprint,
	}

	if recipeInline != "" {
		rb, err := p.consumeRecipe(recipeInline, lineNo)
		if err != nil {
			return nil, err
		}
		rule.Recipe = rb
	} else if next, ok := p.peek(); ok && strings.HasPrefix(strings.TrimSpace(next), "{{") {
		firstRecipeLine := strings.TrimSpace(next)
		p.pos++
		rb, err := p.consumeRecipe(firstRecipeLine, lineNo)
		if err != nil {
			return nil, err
		}
		rule.Recipe = rb
	}
	return rule, nil
}

func splitOrderOnly(s string) (prereqs, orderOnly []string) {
	if i := strings.Index(s, "|"); i >= 0 {
		return strings.Fields(s[:i]), strings.Fields(s[i+1:])
	}
	return strings.Fields(s), nil
}

// consumeRecipe tokenizes a `{{lang ... }}` block which may span
// subsequent physical lines; it appends joined lines until the lexer's
// Foreign mode reports closure.
func (p *Parser) consumeRecipe(firstLine string, lineNo int) (*ast.RecipeBlock, error) {
	var buf strings.Builder
	buf.WriteString(firstLine)
	for !hasForeignClose(buf.String()) {
		next, ok := p.peek()
		if !ok {
			return nil, fmt.Errorf("line %d: unterminated recipe block", lineNo)
		}
		buf.WriteByte('\n')
		buf.WriteString(next)
		p.pos++
	}
	full := buf.String()
	lx := lex.New(full)
	lang := "sh"
	// Consume "{{" then optional lang tag then the rest as foreign body.
	t1 := lx.Next()
	t2 := lx.Next()
	if t1.Text != "{" || t2.Text != "{" {
		return nil, fmt.Errorf("line %d: malformed recipe open", lineNo)
	}
	lx.PushForeign(2)
	body := lx.Next()
	text := body.Text
	if nl := strings.IndexByte(text, '\n'); nl < 0 {
		trimmed := strings.TrimSpace(text)
		if isIdent(trimmed) {
			lang = trimmed
			text = ""
		}
	} else {
		firstLn := strings.TrimSpace(text[:nl])
		if isIdent(firstLn) && firstLn != "" {
			lang = firstLn
			text = text[nl+1:]
		}
	}
	return &ast.RecipeBlock{Lang: lang, Body: dedent(text), Line: lineNo}, nil
}

func isIdent(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if !(c == '_' || c == '-' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')) {
			return false
		}
	}
	return true
}

func hasForeignClose(s string) bool {
	depth := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '{' {
			depth++
		}
	}
	return strings.Contains(s, "}}") && depth >= 2
}

// dedent strips the minimum common leading whitespace from every non-blank
// line, mirroring the teacher's parseRecipe indent-stripping.
func dedent(s string) string {
	lines := strings.Split(s, "\n")
	min := -1
	for _, l := range lines {
		if strings.TrimSpace(l) == "" {
			continue
		}
		n := 0
		for _, c := range l {
			if c == ' ' {
				n++
			} else {
				break
			}
		}
		if min == -1 || n < min {
			min = n
		}
	}
	if min <= 0 {
		return strings.Trim(s, "\n")
	}
	for i, l := range lines {
		if len(l) >= min {
			lines[i] = l[min:]
		}
	}
	return strings.Trim(strings.Join(lines, "\n"), "\n")
}

func (p *Parser) parseAssignLike(trimmed string, lineNo int) (ast.Node, error) {
	p.pos++
	lazy := false
	if strings.HasPrefix(trimmed, "lazy ") {
		lazy = true
		trimmed = strings.TrimPrefix(trimmed, "lazy ")
	}
	op := ast.OpSet
	var sep string
	switch {
	case strings.Contains(trimmed, "+="):
		op, sep = ast.OpAppend, "+="
	case strings.Contains(trimmed, "=+"):
		op, sep = ast.OpPrepend, "=+"
	case strings.Contains(trimmed, "?="):
		op, sep = ast.OpCondSet, "?="
	case strings.Contains(trimmed, "="):
		op, sep = ast.OpSet, "="
	default:
		return nil, fmt.Errorf("line %d: expected assignment, rule, or directive: %q", lineNo, trimmed)
	}
	idx := strings.Index(trimmed, sep)
	lhs := strings.TrimSpace(trimmed[:idx])
	rhs := strings.TrimSpace(trimmed[idx+len(sep):])

	name, typ := lhs, ""
	if b := strings.Index(lhs, "["); b >= 0 && strings.HasSuffix(lhs, "]") {
		name = strings.TrimSpace(lhs[:b])
		typ = strings.TrimSpace(lhs[b+1 : len(lhs)-1])
	}
	return &ast.VarAssign{
		Base: ast.Base{Line: lineNo}, Name: name, Type: typ, Op: op,
		Value: strings.Fields(rhs), Lazy: lazy,
	}, nil
}

func (p *Parser) parseConditional(indent int) (ast.Node, error) {
	lineNo := p.pos + 1
	var branches []ast.CondBranch
	for {
		raw, ok := p.peek()
		if !ok {
			break
		}
		trimmed := strings.TrimSpace(raw)
		var op ast.CondOp
		var guard string
		switch {
		case strings.HasPrefix(trimmed, "if "):
			op, guard = ast.CondIf, strings.TrimPrefix(trimmed, "if ")
		case strings.HasPrefix(trimmed, "elif "):
			op, guard = ast.CondElifCompare, strings.TrimPrefix(trimmed, "elif ")
		case trimmed == "else":
			op, guard = ast.CondElse, ""
		default:
			goto end
		}
		p.pos++
		left, cmp, right := splitGuard(guard)
		body, err := p.parseBlock(indent + 1)
		if err != nil {
			return nil, err
		}
		branches = append(branches, ast.CondBranch{Op: op, Left: left, Cmp: cmp, Right: right, Body: body})
		if op == ast.CondElse {
			break
		}
	}
end:
	return &ast.Conditional{Base: ast.Base{Line: lineNo}, Branches: branches}, nil
}

func splitGuard(guard string) (left, cmp, right string) {
	for _, c := range []string{"==", "!=", ">=", "<=", ">", "<"} {
		if i := strings.Index(guard, c); i >= 0 {
			return strings.TrimSpace(guard[:i]), c, strings.TrimSpace(guard[i+len(c):])
		}
	}
	return strings.TrimSpace(guard), "", ""
}

func (p *Parser) parseSwitch(indent int) (ast.Node, error) {
	lineNo := p.pos + 1
	header := strings.TrimSpace(p.lines[p.pos])
	value := strings.TrimSpace(strings.TrimPrefix(header, "switch"))
	p.pos++
	var cases []ast.SwitchCase
	for {
		raw, ok := p.peek()
		if !ok || p.indentOf(raw) <= indent {
			break
		}
		caseIndent := p.indentOf(raw)
		trimmed := strings.TrimSpace(raw)
		if !strings.HasPrefix(trimmed, "case ") && trimmed != "default" && trimmed != "case" {
			break
		}
		var patterns []string
		if strings.HasPrefix(trimmed, "case ") {
			patterns = strings.Fields(strings.TrimPrefix(trimmed, "case "))
		}
		p.pos++
		body, err := p.parseBlock(caseIndent + 1)
		if err != nil {
			return nil, err
		}
		cases = append(cases, ast.SwitchCase{Patterns: patterns, Body: body})
	}
	return &ast.Switch{Base: ast.Base{Line: lineNo}, Value: value, Cases: cases}, nil
}

func (p *Parser) parseLoop(indent int) (ast.Node, error) {
	lineNo := p.pos + 1
	header := strings.TrimSpace(p.lines[p.pos])
	header = strings.TrimPrefix(header, "for ")
	parts := strings.SplitN(header, ":", 2)
	if len(parts) != 2 {
		return nil, fmt.Errorf("line %d: malformed for header", lineNo)
	}
	loopVar := strings.TrimSpace(parts[0])
	list := strings.TrimSpace(parts[1])
	p.pos++
	body, err := p.parseBlock(indent + 1)
	if err != nil {
		return nil, err
	}
	return &ast.Loop{Base: ast.Base{Line: lineNo}, Var: loopVar, List: list, Body: body}, nil
}

func (p *Parser) parseFuncDef(indent int) (ast.Node, error) {
	lineNo := p.pos + 1
	header := strings.TrimSpace(p.lines[p.pos])
	header = strings.TrimPrefix(header, "define ")
	name := header
	var params []string
	if o := strings.Index(header, "("); o >= 0 && strings.HasSuffix(header, ")") {
		name = strings.TrimSpace(header[:o])
		params = splitCommaFields(header[o+1 : len(header)-1])
	}
	p.pos++
	body, err := p.parseBlock(indent + 1)
	if err != nil {
		return nil, err
	}
	return &ast.FuncDef{Base: ast.Base{Line: lineNo}, Name: name, Params: params, Body: body}, nil
}

func splitCommaFields(s string) []string {
	var out []string
	for _, f := range strings.Split(s, ",") {
		f = strings.TrimSpace(f)
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}

func (p *Parser) parseConfigDef(indent int) (ast.Node, error) {
	lineNo := p.pos + 1
	header := strings.TrimSpace(p.lines[p.pos])
	header = strings.TrimPrefix(header, "config ")
	name := header
	var excludes, requires []string
	if i := strings.Index(header, "excludes"); i >= 0 {
		name = strings.TrimSpace(header[:i])
		excludes = strings.Fields(strings.TrimSpace(header[i+len("excludes"):]))
	}
	p.pos++
	body, err := p.parseBlock(indent + 1)
	if err != nil {
		return nil, err
	}
	var vars []ast.VarAssign
	for _, n := range body {
		if va, ok := n.(*ast.VarAssign); ok {
			vars = append(vars, *va)
		}
	}
	return &ast.ConfigDef{Base: ast.Base{Line: lineNo}, Name: name, Excludes: excludes, Requires: requires, Vars: vars}, nil
}
