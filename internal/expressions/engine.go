package expressions

import "context"

// Engine evaluates expressions against a set of named values.
// Three implementations: Expr (node expressions and templates), CEL
// (breakpoint guards), GoJQ (output predicates).
type Engine interface {
	Name() string
	Evaluate(ctx context.Context, expression string, data map[string]any) (any, error)
}
