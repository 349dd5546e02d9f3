// Package parse builds a testscript scope tree (internal/ts/ast) from raw
// testscript source, per spec.md §4.4. It pre-parses every logical line
// without executing anything: descriptions, includes, var/command lines,
// and group/test nesting driven by `{{ ... }}`/`{ ... }` delimiters rather
// than the buildfile's indentation, applied in the teacher's block-parsing
// style (parse.go's parseBlock/parseConditional/parseLoop).
package parse

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/mbld/bld/internal/ts/ast"
)

// Parse reads a full testscript file and returns its root group scope.
func Parse(r io.Reader) (*ast.Scope, error) {
	var lines []string
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	p := &parser{lines: lines, syntax: ast.DefaultSyntax}
	if len(lines) > 0 {
		if syn, ok := syntaxDirective(lines[0]); ok {
			p.syntax = syn
		}
	}
	for i := 1; i < len(lines); i++ {
		if strings.HasPrefix(strings.TrimSpace(lines[i]), "testscript.syntax") {
			return nil, fmt.Errorf("testscript: line %d: testscript.syntax is assignable only on line 1", i+1)
		}
	}

	root := &ast.Scope{Kind: ast.Group}
	if err := p.parseGroupBody(root, ""); err != nil {
		return nil, err
	}
	return root, nil
}

type parser struct {
	lines  []string
	pos    int
	syntax ast.Syntax
}

// syntaxDirective recognizes `testscript.syntax = N` on line 1; Parse
// rejects a testscript.syntax line at any other position.
func syntaxDirective(line string) (ast.Syntax, bool) {
	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, "testscript.syntax") {
		return 0, false
	}
	_, rhs, ok := strings.Cut(trimmed, "=")
	if !ok {
		return 0, false
	}
	switch strings.TrimSpace(rhs) {
	case "1":
		return ast.Syntax1, true
	case "2":
		return ast.Syntax2, true
	default:
		return 0, false
	}
}

// parseGroupBody consumes lines belonging to a group scope until closeTok
// is seen as a standalone line (or, for the root scope, until EOF when
// closeTok is empty).
func (p *parser) parseGroupBody(g *ast.Scope, closeTok string) error {
	idSeen := map[string]bool{}
	onceSeen := map[string]bool{}
	var desc ast.Description
	descLines := 0
	sawChild := false

	resetDesc := func() {
		desc = ast.Description{}
		descLines = 0
		g.Desc = ast.Description{}
	}
	attachChild := func(c *ast.Scope, lineNo int) {
		if desc.HasContent() {
			oneLiner := c.Desc.OneLiner
			c.Desc = desc
			if c.Desc.OneLiner == "" {
				c.Desc.OneLiner = oneLiner
			}
		}
		if c.ID == "" {
			c.ID = syntheticID(idSeen, lineNo)
		} else {
			idSeen[c.ID] = true
		}
		g.Children = append(g.Children, c)
		resetDesc()
		sawChild = true
	}

	for {
		if p.pos >= len(p.lines) {
			if closeTok != "" {
				return fmt.Errorf("testscript: unexpected EOF, expected closing %q", closeTok)
			}
			return nil
		}
		raw := p.lines[p.pos]
		trimmed := strings.TrimSpace(raw)
		lineNo := p.pos + 1

		if closeTok != "" && strings.HasPrefix(trimmed, closeTok) {
			rest := strings.TrimSpace(trimmed[len(closeTok):])
			if rest == "" {
				p.pos++
			} else {
				// A continuation (e.g. "}} elif cond {{") follows the
				// closing token on the same line; leave it for the
				// caller (the enclosing if-chain) to reprocess.
				p.lines[p.pos] = rest
			}
			return nil
		}
		if trimmed == "" {
			p.pos++
			continue
		}

		switch {
		case strings.HasPrefix(trimmed, ":"):
			mergeDescription(&desc, trimmed, descLines)
			descLines++
			g.Desc = desc
			p.pos++

		case strings.HasPrefix(trimmed, ".include"):
			inc := parseInclude(trimmed, lineNo)
			if inc.Once {
				key := strings.Join(inc.Paths, "\x00")
				if onceSeen[key] {
					p.pos++
					continue
				}
				onceSeen[key] = true
			}
			g.Includes = append(g.Includes, inc)
			p.pos++

		case isCondStart(trimmed):
			chain, err := p.parseIfChain(lineNo)
			if err != nil {
				return err
			}
			for i := range chain.Branches {
				attachChild(chain.Branches[i].Body, lineNo)
			}
			g.IfChains = append(g.IfChains, chain)

		case strings.HasSuffix(trimmed, "{{"):
			child, err := p.parseGroup(lineNo, false)
			if err != nil {
				return err
			}
			attachChild(child, lineNo)

		case strings.HasSuffix(trimmed, "{"):
			child, err := p.parseBraceBlock(lineNo, false)
			if err != nil {
				return err
			}
			attachChild(child, lineNo)

		default:
			line := ast.Line{Tokens: tokenize(trimmed), Raw: trimmed, LineNo: lineNo}
			p.pos++
			if !sawChild {
				g.Setup = append(g.Setup, line)
			} else {
				g.Teardown = append(g.Teardown, line)
			}
		}
	}
}

// parseGroup consumes a `{{ ... }}` block as a nested group scope.
func (p *parser) parseGroup(lineNo int, branch bool) (*ast.Scope, error) {
	raw := strings.TrimSpace(p.lines[p.pos])
	header := strings.TrimSpace(strings.TrimSuffix(raw, "{{"))
	p.pos++

	g := &ast.Scope{Kind: ast.Group, StartLine: lineNo}
	if !branch && header != "" {
		g.ID = header
	}
	if err := p.parseGroupBody(g, "}}"); err != nil {
		return nil, err
	}
	g.EndLine = p.pos
	return g, nil
}

// parseBraceBlock consumes a `{ ... }` block. Under syntax 2 it is always
// an explicit test scope. Under syntax 1 it is parsed with the full group
// grammar and then demoted to a plain test scope when it contains exactly
// one test child with no non-var setup, no teardown, no description, and
// no if-condition of its own (spec.md §4.4).
func (p *parser) parseBraceBlock(lineNo int, branch bool) (*ast.Scope, error) {
	raw := strings.TrimSpace(p.lines[p.pos])
	header := strings.TrimSpace(strings.TrimSuffix(raw, "{"))

	if p.syntax == ast.Syntax2 {
		p.pos++
		t, err := p.parseTestBody(lineNo)
		if err != nil {
			return nil, err
		}
		if !branch && header != "" {
			t.ID = header
		}
		return t, nil
	}

	p.pos++
	g := &ast.Scope{Kind: ast.Group, StartLine: lineNo}
	if !branch && header != "" {
		g.ID = header
	}
	if err := p.parseGroupBody(g, "}"); err != nil {
		return nil, err
	}
	g.EndLine = p.pos

	// Under syntax 1, whether a `{ ... }` block is a test or a group is
	// determined by its content rather than a keyword: a block with no
	// nested blocks is a leaf test whose lines are all commands.
	if len(g.Children) == 0 && len(g.IfChains) == 0 {
		t := &ast.Scope{
			Kind: ast.Test, ID: g.ID, Desc: g.Desc,
			Commands: g.Setup, StartLine: g.StartLine, EndLine: g.EndLine,
		}
		extractTrailingOneLiner(t)
		return t, nil
	}
	return demoteIfEligible(g), nil
}

// demoteIfEligible applies the syntax-1 group-to-test demotion rule.
func demoteIfEligible(g *ast.Scope) *ast.Scope {
	if len(g.Children) != 1 || len(g.Teardown) != 0 || len(g.IfChains) != 0 {
		return g
	}
	only := g.Children[0]
	if only.Kind != ast.Test || only.Desc.HasContent() || only.IfCond != nil {
		return g
	}
	for _, l := range g.Setup {
		if !isVarLine(l) {
			return g
		}
	}
	only.Setup = append(append([]ast.Line(nil), g.Setup...), only.Setup...)
	only.StartLine = g.StartLine
	only.EndLine = g.EndLine
	if g.ID != "" {
		only.ID = g.ID
	}
	return only
}

// parseTestBody consumes a flat test scope's body: description lines,
// then var/command lines, up to a standalone closing `}`. Test bodies do
// not nest further scopes; a leading command-if is recorded as CmdChain.
func (p *parser) parseTestBody(lineNo int) (*ast.Scope, error) {
	t := &ast.Scope{Kind: ast.Test, StartLine: lineNo}
	descLines := 0

	for {
		if p.pos >= len(p.lines) {
			return nil, fmt.Errorf("testscript: unexpected EOF in test body starting line %d", lineNo)
		}
		raw := p.lines[p.pos]
		trimmed := strings.TrimSpace(raw)
		ln := p.pos + 1

		if strings.HasPrefix(trimmed, "}") {
			rest := strings.TrimSpace(trimmed[1:])
			if rest == "" {
				p.pos++
			} else {
				p.lines[p.pos] = rest
			}
			break
		}
		if trimmed == "" {
			p.pos++
			continue
		}
		if strings.HasPrefix(trimmed, ":") {
			mergeDescription(&t.Desc, trimmed, descLines)
			descLines++
			p.pos++
			continue
		}
		if len(t.Commands) == 0 && t.CmdChain == nil && isCondStart(trimmed) {
			chain, err := p.parseCommandIfChain(ln)
			if err != nil {
				return nil, err
			}
			t.CmdChain = chain
			continue
		}
		t.Commands = append(t.Commands, ast.Line{Tokens: tokenize(trimmed), Raw: trimmed, LineNo: ln})
		p.pos++
	}

	t.EndLine = p.pos
	extractTrailingOneLiner(t)
	return t, nil
}

// parseCommandIfChain parses a command-if chain inside a test body: each
// branch is a single command line rather than a nested scope (spec.md
// §4.4's scope-if vs command-if disambiguation by position and the
// absence of a `{`/`{{` block).
func (p *parser) parseCommandIfChain(lineNo int) (*ast.IfChain, error) {
	chain := &ast.IfChain{LineNo: lineNo}
	for {
		raw := strings.TrimSpace(p.lines[p.pos])
		kind, condText, isElse := classifyCondLine(raw)
		ln := p.pos + 1
		p.pos++

		var cond *ast.Line
		if !isElse {
			cond = &ast.Line{Tokens: tokenize(condText), Raw: condText, LineNo: ln}
		}
		if p.pos >= len(p.lines) {
			return nil, fmt.Errorf("testscript: command-if at line %d has no body", ln)
		}
		bodyRaw := strings.TrimSpace(p.lines[p.pos])
		body := &ast.Scope{Kind: ast.Test, StartLine: p.pos + 1}
		if bodyRaw != "" && !strings.HasPrefix(bodyRaw, "elif") && !strings.HasPrefix(bodyRaw, "elifn") && bodyRaw != "else" {
			body.Commands = append(body.Commands, ast.Line{Tokens: tokenize(bodyRaw), Raw: bodyRaw, LineNo: p.pos + 1})
			p.pos++
		}
		chain.Branches = append(chain.Branches, ast.Branch{Kind: kind, Cond: cond, Body: body})

		if p.pos < len(p.lines) {
			next := strings.TrimSpace(p.lines[p.pos])
			if strings.HasPrefix(next, "elif") || strings.HasPrefix(next, "elifn") || next == "else" || strings.HasPrefix(next, "else ") || strings.HasPrefix(next, "else{") {
				continue
			}
		}
		return chain, nil
	}
}

// parseIfChain parses a scope-if chain at group level: each branch opens
// a `{{` or `{` block.
func (p *parser) parseIfChain(lineNo int) (*ast.IfChain, error) {
	chain := &ast.IfChain{LineNo: lineNo}
	for {
		raw := strings.TrimSpace(p.lines[p.pos])
		kind, condText, isElse := classifyCondLine(raw)
		ln := p.pos + 1

		var cond *ast.Line
		if !isElse {
			cond = &ast.Line{Tokens: tokenize(condText), Raw: condText, LineNo: ln}
		}

		body, err := p.parseBranchBody(ln)
		if err != nil {
			return nil, err
		}
		body.IfCond = cond
		chain.Branches = append(chain.Branches, ast.Branch{Kind: kind, Cond: cond, Body: body})

		if p.pos < len(p.lines) {
			next := strings.TrimSpace(p.lines[p.pos])
			if strings.HasPrefix(next, "elif") || strings.HasPrefix(next, "elifn") || next == "else" || strings.HasPrefix(next, "else ") || strings.HasPrefix(next, "else{") {
				continue
			}
		}
		return chain, nil
	}
}

// parseBranchBody parses the block opened by the current if/elif/else
// line, which still needs its own trailing brace stripped.
func (p *parser) parseBranchBody(lineNo int) (*ast.Scope, error) {
	raw := strings.TrimSpace(p.lines[p.pos])
	switch {
	case strings.HasSuffix(raw, "{{"):
		return p.parseGroup(lineNo, true)
	case strings.HasSuffix(raw, "{"):
		return p.parseBraceBlock(lineNo, true)
	default:
		return nil, fmt.Errorf("testscript: line %d: if/elif/else must open a block", lineNo)
	}
}

func isCondStart(trimmed string) bool {
	return hasWord(trimmed, "if") || hasWord(trimmed, "ifn")
}

func hasWord(s, w string) bool {
	return s == w || strings.HasPrefix(s, w+" ")
}

// classifyCondLine splits a conditional line into its kind and condition
// text (with any trailing block-opening brace stripped).
func classifyCondLine(raw string) (ast.CondKind, string, bool) {
	switch {
	case strings.HasPrefix(raw, "elifn "):
		return ast.CondElifn, stripBrace(raw[len("elifn "):]), false
	case strings.HasPrefix(raw, "elif "):
		return ast.CondElif, stripBrace(raw[len("elif "):]), false
	case strings.HasPrefix(raw, "ifn "):
		return ast.CondIfn, stripBrace(raw[len("ifn "):]), false
	case strings.HasPrefix(raw, "if "):
		return ast.CondIf, stripBrace(raw[len("if "):]), false
	default:
		return ast.CondElse, "", true
	}
}

func stripBrace(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "{{")
	s = strings.TrimSuffix(s, "{")
	return strings.TrimSpace(s)
}

// mergeDescription folds one leading `:` line into a pending description:
// the first is the id, the second the one-line summary, the rest details.
func mergeDescription(d *ast.Description, trimmed string, seen int) {
	rest := strings.TrimSpace(strings.TrimPrefix(trimmed, ":"))
	switch seen {
	case 0:
		d.ID = rest
	case 1:
		d.Summary = rest
	default:
		d.Details = append(d.Details, rest)
	}
}

// extractTrailingOneLiner pulls a trailing `: one-liner` description off a
// single-command test (spec.md's "trailing :one-liner" form).
func extractTrailingOneLiner(t *ast.Scope) {
	if len(t.Commands) != 1 || t.Desc.OneLiner != "" {
		return
	}
	raw := t.Commands[0].Raw
	idx := strings.LastIndex(raw, " : ")
	if idx < 0 {
		return
	}
	cmdPart := strings.TrimSpace(raw[:idx])
	oneLiner := strings.TrimSpace(raw[idx+3:])
	if cmdPart == "" || oneLiner == "" {
		return
	}
	t.Commands[0] = ast.Line{Tokens: tokenize(cmdPart), Raw: cmdPart, LineNo: t.Commands[0].LineNo}
	t.Desc.OneLiner = oneLiner
}

func parseInclude(trimmed string, lineNo int) ast.Include {
	fields := strings.Fields(trimmed)
	inc := ast.Include{LineNo: lineNo}
	for _, f := range fields[1:] {
		if f == "--once" {
			inc.Once = true
			continue
		}
		inc.Paths = append(inc.Paths, f)
	}
	return inc
}

var varOps = map[string]bool{"=": true, "+=": true, "=+": true, "?=": true}

func isVarLine(l ast.Line) bool {
	return len(l.Tokens) >= 2 && varOps[l.Tokens[1]]
}

// syntheticID mints ids from the scope's line number, disambiguating on
// collision. No include prefix is applied: .include directives are
// recorded but not expanded, so every scope comes from the one file.
func syntheticID(seen map[string]bool, lineNo int) string {
	id := fmt.Sprintf("%d", lineNo)
	base, n := id, 1
	for seen[id] {
		id = fmt.Sprintf("%s-%d", base, n)
		n++
	}
	seen[id] = true
	return id
}

// tokenize splits one logical line into shell-like words, honoring single
// and double quotes and backslash escapes.
func tokenize(s string) []string {
	var tokens []string
	var cur strings.Builder
	inSingle, inDouble := false, false

	flush := func() {
		if cur.Len() > 0 {
			tokens = append(tokens, cur.String())
			cur.Reset()
		}
	}

	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '\'' && !inDouble:
			inSingle = !inSingle
			cur.WriteByte(c)
		case c == '"' && !inSingle:
			inDouble = !inDouble
			cur.WriteByte(c)
		case c == '\\' && !inSingle && i+1 < len(s):
			cur.WriteByte(c)
			i++
			cur.WriteByte(s[i])
		case (c == ' ' || c == '\t') && !inSingle && !inDouble:
			flush()
		default:
			cur.WriteByte(c)
		}
	}
	flush()
	return tokens
}
