package expressions

import (
	"context"
	"strings"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/rendis/flowlab/pkg/schema"
)

// ExprEngine implements the Engine interface using expr-lang/expr. It is the
// evaluator for the expressions students type into nodes: arithmetic,
// comparison, boolean logic, string concatenation, and the builtin helpers
// (len, abs, upper, ...). Programs are compiled without a typed environment so
// a cached program stays valid when a variable changes type between runs.
// Thread-safe: compiled *vm.Program objects are cached and reused.
type ExprEngine struct {
	mu    sync.RWMutex
	cache map[string]*vm.Program
}

// NewExprEngine creates a new Expr expression engine.
func NewExprEngine() *ExprEngine {
	return &ExprEngine{
		cache: make(map[string]*vm.Program),
	}
}

// Name returns the engine identifier.
func (e *ExprEngine) Name() string {
	return "expr"
}

// Evaluate compiles (or retrieves from cache) an expression and evaluates it
// with data as its environment. The result is normalized (integral floats
// become int).
func (e *ExprEngine) Evaluate(ctx context.Context, expression string, data map[string]any) (any, error) {
	src := Rewrite(expression)
	if src == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "empty expression")
	}

	prg, err := e.getOrCompile(src)
	if err != nil {
		return nil, err
	}

	env := data
	if env == nil {
		env = map[string]any{}
	}

	out, err := vm.Run(prg, env)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeHandler,
			"evaluation of %q failed: %s", expression, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"expression": expression})
	}

	return Normalize(out), nil
}

// Resolves reports whether the expression compiles when only the given names
// are defined. It is used to tell a literal text from an expression.
func (e *ExprEngine) Resolves(expression string, names map[string]any) bool {
	src := Rewrite(expression)
	if src == "" {
		return false
	}
	env := names
	if env == nil {
		env = map[string]any{}
	}
	_, err := expr.Compile(src, expr.Env(env))
	return err == nil
}

// Check compiles expression without running it.
func (e *ExprEngine) Check(expression string) error {
	src := Rewrite(expression)
	if src == "" {
		return schema.NewError(schema.ErrCodeValidation, "empty expression")
	}
	_, err := e.getOrCompile(src)
	return err
}

func (e *ExprEngine) getOrCompile(src string) (*vm.Program, error) {
	e.mu.RLock()
	if prg, ok := e.cache[src]; ok {
		e.mu.RUnlock()
		return prg, nil
	}
	e.mu.RUnlock()

	e.mu.Lock()
	defer e.mu.Unlock()

	// Double-check after acquiring write lock.
	if prg, ok := e.cache[src]; ok {
		return prg, nil
	}

	prg, err := expr.Compile(src, expr.AllowUndefinedVariables())
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"cannot compile %q: %s", src, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"expression": src})
	}

	e.cache[src] = prg
	return prg, nil
}

var jsOperators = strings.NewReplacer("===", "==", "!==", "!=")

// Rewrite maps the loose operators students copy from other languages onto
// the evaluator grammar and trims surrounding whitespace and semicolons.
func Rewrite(expression string) string {
	s := strings.TrimSpace(expression)
	s = strings.TrimRight(s, "; ")
	return jsOperators.Replace(s)
}

var _ Engine = (*ExprEngine)(nil)
