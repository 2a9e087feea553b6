package engine

import (
	"context"
	"log/slog"

	"github.com/rendis/flowlab/internal/actions"
	"github.com/rendis/flowlab/internal/expressions"
	"github.com/rendis/flowlab/internal/graph"
	"github.com/rendis/flowlab/pkg/schema"
)

// Runtime is what a handler may read and change while running one node.
type Runtime struct {
	Vars    *Context
	Graph   *graph.Flowchart
	Exprs   *expressions.ExprEngine
	Input   InputProvider
	Actions actions.ActionRegistry
	Limits  graph.Limits
	Logger  *slog.Logger
}

// Outcome tells the executor which edge to follow. Branching nodes report a
// Condition, loop nodes an EdgeID; other nodes report nothing.
type Outcome struct {
	Condition graph.Condition
	EdgeID    string
}

// Handler implements the semantics of one node kind.
type Handler func(ctx context.Context, rt *Runtime, n *graph.Node) (Outcome, error)

var handlers = map[graph.NodeKind]Handler{
	graph.KindStart:      noop,
	graph.KindEnd:        noop,
	graph.KindBreakpoint: noop,
	graph.KindDeclare:    handleDeclare,
	graph.KindAssign:     handleAssign,
	graph.KindIf:         handleIf,
	graph.KindFor:        handleFor,
	graph.KindWhile:      handleWhile,
	graph.KindInput:      handleInput,
	graph.KindOutput:     handleOutput,
	graph.KindDo:         handleDo,
}

func noop(context.Context, *Runtime, *graph.Node) (Outcome, error) {
	return Outcome{}, nil
}

// value resolves a payload value. Strings holding a ${{ }} template are
// rendered, strings that compile against the bound variables are evaluated,
// any other string is literal text.
func (rt *Runtime) value(ctx context.Context, raw any) (any, error) {
	s, ok := raw.(string)
	if !ok {
		return expressions.Normalize(raw), nil
	}
	if expressions.HasTemplate(s) {
		return expressions.Render(ctx, rt.Exprs, s, rt.Vars.Values())
	}
	env := rt.Vars.Values()
	if rt.Exprs.Resolves(s, env) {
		return rt.Exprs.Evaluate(ctx, s, env)
	}
	return s, nil
}

func (rt *Runtime) eval(ctx context.Context, src string) (any, error) {
	return rt.Exprs.Evaluate(ctx, src, rt.Vars.Values())
}

// expression is value without the literal fallback: a string that does not
// compile is an error.
func (rt *Runtime) expression(ctx context.Context, raw any) (any, error) {
	s, ok := raw.(string)
	if !ok {
		return expressions.Normalize(raw), nil
	}
	if expressions.HasTemplate(s) {
		return expressions.Render(ctx, rt.Exprs, s, rt.Vars.Values())
	}
	return rt.eval(ctx, s)
}

func handleDeclare(ctx context.Context, rt *Runtime, n *graph.Node) (Outcome, error) {
	name := n.Str("name")
	typ := n.Str("type")

	var v any
	if raw, ok := n.Data["value"]; ok && raw != nil && raw != "" {
		var err error
		if v, err = rt.value(ctx, raw); err != nil {
			return Outcome{}, err
		}
	} else {
		v = ZeroValue(typ)
	}
	v, err := Coerce(v, typ)
	if err != nil {
		return Outcome{}, err
	}
	rt.Vars.Declare(name, v, typ)
	return Outcome{}, nil
}

func handleAssign(ctx context.Context, rt *Runtime, n *graph.Node) (Outcome, error) {
	target := n.Str("variable")
	raw := n.Data["value"]

	// A payload such as {variable: "i++"} carries the whole statement.
	if raw == nil || raw == "" {
		stmt, err := expressions.ParseStatement(target)
		if err != nil {
			return Outcome{}, err
		}
		if !stmt.IsAssignment() {
			return Outcome{}, schema.NewErrorf(schema.ErrCodeHandler, "assign to %q has no value", target)
		}
		v, err := stmt.Exec(ctx, rt.Exprs, rt.Vars.Values())
		if err != nil {
			return Outcome{}, err
		}
		rt.Vars.Set(stmt.Target, v)
		return Outcome{}, nil
	}

	v, err := rt.expression(ctx, raw)
	if err != nil {
		return Outcome{}, err
	}
	rt.Vars.Set(target, v)
	return Outcome{}, nil
}

func handleIf(ctx context.Context, rt *Runtime, n *graph.Node) (Outcome, error) {
	v, err := rt.eval(ctx, n.Str("condition"))
	if err != nil {
		return Outcome{}, err
	}
	if expressions.Truthy(v) {
		return Outcome{Condition: graph.CondTrue}, nil
	}
	return Outcome{Condition: graph.CondFalse}, nil
}

func handleFor(ctx context.Context, rt *Runtime, n *graph.Node) (Outcome, error) {
	st := loopState(n)
	if !st.Initialized {
		if err := forInit(ctx, rt, n, st); err != nil {
			return Outcome{}, err
		}
	} else if err := advanceLoop(ctx, rt, n); err != nil {
		return Outcome{}, err
	}
	return loopDecision(ctx, rt, n, st)
}

func handleWhile(ctx context.Context, rt *Runtime, n *graph.Node) (Outcome, error) {
	st := loopState(n)
	if !st.Initialized {
		st.Initialized = true
		st.LoopCount = 0
		st.Phase = "check"
	} else if n.Has("increment") {
		if err := advanceLoop(ctx, rt, n); err != nil {
			return Outcome{}, err
		}
	}
	return loopDecision(ctx, rt, n, st)
}

func loopState(n *graph.Node) *graph.LoopRuntimeState {
	if n.Loop == nil {
		n.Loop = &graph.LoopRuntimeState{}
	}
	return n.Loop
}

// forInit runs the init clause and binds the loop variable, declaring it
// for the duration of the loop when it did not exist.
func forInit(ctx context.Context, rt *Runtime, n *graph.Node, st *graph.LoopRuntimeState) error {
	st.LoopCount = 0
	st.ScopePushed = false
	st.InitValue = nil

	if n.Has("init") {
		stmt, err := expressions.ParseStatement(n.Str("init"))
		if err != nil {
			return err
		}
		v, err := stmt.Exec(ctx, rt.Exprs, rt.Vars.Values())
		if err != nil {
			return err
		}
		name := stmt.Target
		if name == "" {
			name = n.Str("loopVariable")
		}
		if name != "" {
			if !rt.Vars.Has(name) {
				st.ScopePushed = true
			}
			rt.Vars.Set(name, v)
		}
		st.InitValue = v
	}

	st.Initialized = true
	st.Phase = "check"
	return nil
}

// advanceLoop applies the increment clause. A For loop without one increments its
// loop variable by one.
func advanceLoop(ctx context.Context, rt *Runtime, n *graph.Node) error {
	src := n.Str("increment")
	if src == "" {
		lv := n.Str("loopVariable")
		if lv == "" {
			return nil
		}
		src = lv + "++"
	}
	stmt, err := expressions.ParseStatement(src)
	if err != nil {
		return err
	}
	v, err := stmt.Exec(ctx, rt.Exprs, rt.Vars.Values())
	if err != nil {
		return err
	}
	if stmt.IsAssignment() {
		rt.Vars.Set(stmt.Target, v)
	}
	return nil
}

// loopDecision evaluates the loop condition and reports the loop edge or the
// exit edge. Leaving the loop resets it for a later re-entry and drops the
// variable its init clause introduced; the iteration count is kept.
func loopDecision(ctx context.Context, rt *Runtime, n *graph.Node, st *graph.LoopRuntimeState) (Outcome, error) {
	v, err := rt.eval(ctx, n.Str("condition"))
	if err != nil {
		return Outcome{}, err
	}

	if expressions.Truthy(v) {
		st.LoopCount++
		st.Phase = "body"
		if limit := rt.Limits.MaxLoopIterationsPerNode; limit > 0 && st.LoopCount > limit {
			return Outcome{}, schema.NewErrorf(schema.ErrCodeLimitExceeded,
				"loop %s exceeded %d iterations", n.ID, limit).
				WithDetails(map[string]any{"limit": "maxLoopIterationsPerNode", "value": limit})
		}
		return Outcome{EdgeID: n.LoopEdge}, nil
	}

	st.Initialized = false
	st.Phase = "exit"
	if st.ScopePushed {
		if name := scopedName(n); name != "" {
			rt.Vars.Delete(name)
		}
		st.ScopePushed = false
	}
	return Outcome{EdgeID: n.LoopExitEdge}, nil
}

func scopedName(n *graph.Node) string {
	if n.Has("init") {
		if stmt, err := expressions.ParseStatement(n.Str("init")); err == nil && stmt.Target != "" {
			return stmt.Target
		}
	}
	return n.Str("loopVariable")
}

func handleInput(ctx context.Context, rt *Runtime, n *graph.Node) (Outcome, error) {
	req := InputRequest{
		NodeID:   n.ID,
		Variable: n.Str("variable"),
		Prompt:   n.Str("prompt"),
		Type:     n.Str("type"),
	}
	v, err := rt.Input.Next(ctx, req)
	if err != nil {
		return Outcome{}, err
	}
	v, err = Coerce(v, req.Type)
	if err != nil {
		return Outcome{}, err
	}
	rt.Vars.Declare(req.Variable, v, req.Type)
	return Outcome{}, nil
}

func handleOutput(ctx context.Context, rt *Runtime, n *graph.Node) (Outcome, error) {
	var (
		v   any
		err error
	)
	if n.Has("message") {
		v, err = rt.value(ctx, n.Data["message"])
	} else {
		v, err = rt.eval(ctx, n.Str("expression"))
	}
	if err != nil {
		return Outcome{}, err
	}
	rt.Vars.Print(expressions.Format(v))
	return Outcome{}, nil
}

// handleDo runs a registered action. Unknown actions are logged and skipped.
func handleDo(ctx context.Context, rt *Runtime, n *graph.Node) (Outcome, error) {
	name, arg := actions.ParseInvocation(n.Str("action"))
	if name == "" || rt.Actions == nil {
		return Outcome{}, nil
	}
	act, err := rt.Actions.Get(name)
	if err != nil {
		rt.Logger.WarnContext(ctx, "do: unknown action ignored", "action", name, "node_id", n.ID)
		return Outcome{}, nil
	}

	params := make(map[string]any, len(n.Data)+1)
	for k, v := range n.Data {
		if k != "action" {
			params[k] = v
		}
	}
	if arg != "" {
		params["arg"] = arg
	}
	if err := act.Validate(params); err != nil {
		return Outcome{}, schema.AsFlowError(err, schema.ErrCodeHandler)
	}

	out, err := act.Execute(ctx, actions.ActionInput{Params: params, Vars: rt.Vars.Values()})
	if err != nil {
		return Outcome{}, err
	}
	if out == nil {
		return Outcome{}, nil
	}
	for _, line := range out.Output {
		rt.Vars.Print(line)
	}
	for name, v := range out.Assign {
		rt.Vars.Set(name, v)
	}
	return Outcome{}, nil
}
