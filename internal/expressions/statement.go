package expressions

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/rendis/flowlab/pkg/schema"
)

// Statement is a single assignment-like loop clause ("i = 0", "i++",
// "i += 2") or a bare expression when Target is empty.
type Statement struct {
	Target string
	Op     string
	Expr   string
}

var (
	postfixStmt = regexp.MustCompile(`^(?:(?:let|var|const|int|float|double|string|bool)\s+)?([A-Za-z_]\w*)\s*(\+\+|--|\+=|-=|\*=|/=|%=|=)(.*)$`)
	prefixStmt  = regexp.MustCompile(`^(\+\+|--)\s*([A-Za-z_]\w*)$`)
)

// ParseStatement splits a clause into its target, operator and right-hand
// side. Anything that is not an assignment form is returned as a bare
// expression.
func ParseStatement(src string) (Statement, error) {
	s := Rewrite(src)
	if s == "" {
		return Statement{}, schema.NewError(schema.ErrCodeValidation, "empty statement")
	}
	if m := prefixStmt.FindStringSubmatch(s); m != nil {
		return Statement{Target: m[2], Op: m[1]}, nil
	}
	m := postfixStmt.FindStringSubmatch(s)
	if m == nil {
		return Statement{Expr: s}, nil
	}
	target, op, rest := m[1], m[2], strings.TrimSpace(m[3])
	switch op {
	case "++", "--":
		if rest != "" {
			return Statement{Expr: s}, nil
		}
		return Statement{Target: target, Op: op}, nil
	case "=":
		// "i == 3" is a comparison, not an assignment.
		if strings.HasPrefix(rest, "=") {
			return Statement{Expr: s}, nil
		}
	}
	if rest == "" {
		return Statement{}, schema.NewErrorf(schema.ErrCodeValidation, "statement %q has no right-hand side", src)
	}
	return Statement{Target: target, Op: op, Expr: rest}, nil
}

// IsAssignment reports whether the statement binds a variable.
func (s Statement) IsAssignment() bool {
	return s.Target != ""
}

// Source returns the expression computing the new value of Target, or the
// bare expression itself.
func (s Statement) Source() string {
	switch s.Op {
	case "", "=":
		return s.Expr
	case "++":
		return s.Target + " + 1"
	case "--":
		return s.Target + " - 1"
	}
	return fmt.Sprintf("%s %s (%s)", s.Target, strings.TrimSuffix(s.Op, "="), s.Expr)
}

// Exec evaluates the statement with eng against data and returns the value
// to bind to Target (or the expression value for a bare expression).
func (s Statement) Exec(ctx context.Context, eng Engine, data map[string]any) (any, error) {
	if s.Op != "" && s.Op != "=" {
		if _, ok := data[s.Target]; !ok {
			return nil, schema.NewErrorf(schema.ErrCodeHandler, "variable %s is not declared", s.Target)
		}
	}
	return eng.Evaluate(ctx, s.Source(), data)
}
