package exec

import "strings"

// Argv is one pipeline stage's argument vector.
type Argv struct {
	Args []string
}

// ChainedExpr links a CommandExpr to the expression that follows its
// `&&`/`||` connective.
type ChainedExpr struct {
	Op   string
	Expr *CommandExpr
}

// CommandExpr is parse_command_line's result: a pipeline of argv stages,
// optionally chained to a following expression (spec.md §4.5).
type CommandExpr struct {
	Pipeline []Argv
	Next     *ChainedExpr
}

// Simple reports whether the expression is a single bare command with no
// pipe or logical connective, the common case that can run directly
// through procutil without a shell.
func (e *CommandExpr) Simple() bool {
	return e.Next == nil && len(e.Pipeline) == 1
}

// parseCommandExpr builds a CommandExpr from a line's saved tokens.
// && / || bind left-to-right at the lowest precedence; | splits pipeline
// stages within each side.
func parseCommandExpr(tokens []string) *CommandExpr {
	for i, tok := range tokens {
		if tok == "&&" || tok == "||" {
			return &CommandExpr{
				Pipeline: parsePipeline(tokens[:i]),
				Next:     &ChainedExpr{Op: tok, Expr: parseCommandExpr(tokens[i+1:])},
			}
		}
	}
	return &CommandExpr{Pipeline: parsePipeline(tokens)}
}

func parsePipeline(tokens []string) []Argv {
	var stages []Argv
	var cur []string
	for _, tok := range tokens {
		if tok == "|" {
			stages = append(stages, Argv{Args: cur})
			cur = nil
			continue
		}
		cur = append(cur, tok)
	}
	stages = append(stages, Argv{Args: cur})
	return stages
}

// render reconstructs a shell command line from the expression, used to
// fall back to a shell for pipelines and logical chains that procutil's
// single-process Run cannot express directly.
func render(expr *CommandExpr) string {
	var b strings.Builder
	for i, stage := range expr.Pipeline {
		if i > 0 {
			b.WriteString(" | ")
		}
		b.WriteString(strings.Join(stage.Args, " "))
	}
	if expr.Next != nil {
		b.WriteString(" ")
		b.WriteString(expr.Next.Op)
		b.WriteString(" ")
		b.WriteString(render(expr.Next.Expr))
	}
	return b.String()
}
