package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/flowlab/internal/actions"
	"github.com/rendis/flowlab/internal/expressions"
	"github.com/rendis/flowlab/internal/graph"
	"github.com/rendis/flowlab/internal/streaming"
	"github.com/rendis/flowlab/pkg/schema"
)

// --- graph building helpers ---

func seqIDs() graph.Option {
	n := 0
	return graph.WithEdgeIDGenerator(func() string {
		n++
		return fmt.Sprintf("e%d", n)
	})
}

func mk(t *testing.T, id string, kind graph.NodeKind, data map[string]any) *graph.Node {
	t.Helper()
	n, err := graph.NewNode(id, kind, "", data)
	require.NoError(t, err)
	return n
}

// exitOf returns the edge by which control leaves id towards End.
func exitOf(t *testing.T, g *graph.Flowchart, id string) string {
	t.Helper()
	n, ok := g.Node(id)
	require.True(t, ok)
	switch {
	case n.Kind.IsLoop():
		return n.LoopExitEdge
	case n.Kind == graph.KindIf:
		return g.OutgoingEdges(graph.BreakpointIDFor(id))[0].ID
	}
	return g.OutgoingEdges(id)[0].ID
}

// chain builds Start -> nodes... -> End.
func chain(t *testing.T, nodes ...*graph.Node) *graph.Flowchart {
	t.Helper()
	g := graph.New(seqIDs())
	edge := graph.StartEndEdgeID
	for _, n := range nodes {
		require.NoError(t, g.InsertNodeAtEdge(edge, n, ""))
		edge = exitOf(t, g, n.ID)
	}
	return g
}

// body inserts nodes, in order, inside the loop body of loopID.
func body(t *testing.T, g *graph.Flowchart, loopID string, nodes ...*graph.Node) {
	t.Helper()
	loop, _ := g.Node(loopID)
	edge := loop.LoopEdge
	for _, n := range nodes {
		require.NoError(t, g.InsertNodeAtEdge(edge, n, ""))
		edge = exitOf(t, g, n.ID)
	}
}

// branch inserts n on the If edge carrying cond.
func branch(t *testing.T, g *graph.Flowchart, ifID string, cond graph.Condition, n *graph.Node) {
	t.Helper()
	for _, e := range g.OutgoingEdges(ifID) {
		if e.Condition == cond {
			require.NoError(t, g.InsertNodeAtEdge(e.ID, n, ""))
			return
		}
	}
	t.Fatalf("no %s edge on %s", cond, ifID)
}

func incrementGraph(t *testing.T) *graph.Flowchart {
	return chain(t,
		mk(t, "d1", graph.KindDeclare, map[string]any{"name": "x", "value": 1}),
		mk(t, "a1", graph.KindAssign, map[string]any{"variable": "x", "value": "x + 1"}),
		mk(t, "o1", graph.KindOutput, map[string]any{"message": "x"}),
	)
}

func countingLoopGraph(t *testing.T) *graph.Flowchart {
	g := chain(t, mk(t, "f1", graph.KindFor, map[string]any{
		"init": "i = 0", "condition": "i < 3", "increment": "i++", "loopVariable": "i",
	}))
	body(t, g, "f1", mk(t, "o1", graph.KindOutput, map[string]any{"message": "i"}))
	return g
}

func run(t *testing.T, ex *Executor, ignoreBreakpoints bool) *StepResult {
	t.Helper()
	res, err := ex.RunToCompletion(context.Background(), ignoreBreakpoints)
	require.NoError(t, err)
	return res
}

// --- End-to-end runs ---

func TestExecutor_DeclareAssignOutput(t *testing.T) {
	ex := NewExecutor(incrementGraph(t))
	run(t, ex, false)

	assert.Equal(t, schema.ExecutionStatusFinished, ex.Status())
	assert.True(t, ex.Done())
	assert.Equal(t, []string{"2"}, ex.Context().Output())
	assert.Equal(t, []Variable{{Name: "x", Value: 2, Type: TypeInt}}, ex.Context().Variables())
	assert.Equal(t, 4, ex.StepCount())
	assert.Equal(t, graph.EndID, ex.CurrentNodeID())
}

func TestExecutor_ForLoopOutputsEachIteration(t *testing.T) {
	g := countingLoopGraph(t)
	ex := NewExecutor(g)
	run(t, ex, true)

	assert.Equal(t, []string{"0", "1", "2"}, ex.Context().Output())
	loop, _ := g.Node("f1")
	require.NotNil(t, loop.Loop)
	assert.Equal(t, 3, loop.Loop.LoopCount)
	assert.False(t, loop.Loop.Initialized)
	assert.False(t, ex.Context().Has("i"), "loop variable introduced by init is dropped at exit")
}

func TestExecutor_ForKeepsPreexistingLoopVariable(t *testing.T) {
	g := chain(t,
		mk(t, "d1", graph.KindDeclare, map[string]any{"name": "i", "value": 10}),
		mk(t, "f1", graph.KindFor, map[string]any{"init": "i = 0", "condition": "i < 2", "increment": "i += 1"}),
	)
	ex := NewExecutor(g)
	run(t, ex, true)

	v, ok := ex.Context().Get("i")
	require.True(t, ok)
	assert.Equal(t, 2, v)
}

func TestExecutor_ForWithoutIncrementStepsLoopVariable(t *testing.T) {
	g := chain(t, mk(t, "f1", graph.KindFor, map[string]any{
		"init": "let k = 1", "condition": "k <= 3", "loopVariable": "k",
	}))
	body(t, g, "f1", mk(t, "o1", graph.KindOutput, map[string]any{"expression": "k * 10"}))
	ex := NewExecutor(g)
	run(t, ex, true)

	assert.Equal(t, []string{"10", "20", "30"}, ex.Context().Output())
}

func TestExecutor_NestedLoopResetsInnerCount(t *testing.T) {
	g := chain(t, mk(t, "outer", graph.KindFor, map[string]any{"init": "i = 0", "condition": "i < 2", "increment": "i++"}))
	body(t, g, "outer", mk(t, "inner", graph.KindFor, map[string]any{"init": "j = 0", "condition": "j < 3", "increment": "j++"}))
	body(t, g, "inner", mk(t, "o1", graph.KindOutput, map[string]any{"message": "${{ i }}${{ j }}"}))

	ex := NewExecutor(g)
	run(t, ex, true)

	assert.Equal(t, []string{"00", "01", "02", "10", "11", "12"}, ex.Context().Output())
	inner, _ := g.Node("inner")
	assert.Equal(t, 3, inner.Loop.LoopCount)
	outer, _ := g.Node("outer")
	assert.Equal(t, 2, outer.Loop.LoopCount)
}

func TestExecutor_WhileLoop(t *testing.T) {
	g := chain(t,
		mk(t, "d1", graph.KindDeclare, map[string]any{"name": "n", "value": 3}),
		mk(t, "w1", graph.KindWhile, map[string]any{"condition": "n > 0"}),
	)
	body(t, g, "w1",
		mk(t, "o1", graph.KindOutput, map[string]any{"message": "n"}),
		mk(t, "a1", graph.KindAssign, map[string]any{"variable": "n", "value": "n - 1"}),
	)
	ex := NewExecutor(g)
	run(t, ex, true)

	assert.Equal(t, []string{"3", "2", "1"}, ex.Context().Output())
	w, _ := g.Node("w1")
	assert.Equal(t, 3, w.Loop.LoopCount)
}

func TestExecutor_IfBranches(t *testing.T) {
	build := func(x int) *graph.Flowchart {
		g := chain(t,
			mk(t, "d1", graph.KindDeclare, map[string]any{"name": "x", "value": x}),
			mk(t, "c1", graph.KindIf, map[string]any{"condition": "x > 3"}),
		)
		branch(t, g, "c1", graph.CondTrue, mk(t, "big", graph.KindOutput, map[string]any{"message": "big"}))
		branch(t, g, "c1", graph.CondFalse, mk(t, "small", graph.KindOutput, map[string]any{"message": "small"}))
		return g
	}

	ex := NewExecutor(build(5))
	run(t, ex, true)
	assert.Equal(t, []string{"big"}, ex.Context().Output())

	ex = NewExecutor(build(1))
	run(t, ex, true)
	assert.Equal(t, []string{"small"}, ex.Context().Output())
}

func TestExecutor_IfFallsBackToAutoEdge(t *testing.T) {
	doc := []byte(`{
		"nodes": [
			{"id": "n_start", "type": "ST"},
			{"id": "c1", "type": "IF", "data": {"condition": "false"}},
			{"id": "n_end", "type": "EN"}
		],
		"edges": [
			{"id": "e1", "source": "n_start", "target": "c1"},
			{"id": "e2", "source": "c1", "target": "n_end", "condition": "true"},
			{"id": "e3", "source": "c1", "target": "n_end", "condition": "auto"}
		]
	}`)
	g, err := graph.Parse(doc)
	require.NoError(t, err)

	ex := NewExecutor(g)
	res := run(t, ex, true)
	assert.Equal(t, "e3", res.EdgeID)
	assert.Equal(t, schema.ExecutionStatusFinished, ex.Status())
}

// --- Breakpoints ---

func breakpointChain(t *testing.T, bpData map[string]any) *graph.Flowchart {
	return chain(t,
		mk(t, "d1", graph.KindDeclare, map[string]any{"name": "x", "value": 1}),
		mk(t, "o1", graph.KindOutput, map[string]any{"message": "a"}),
		mk(t, "bp1", graph.KindBreakpoint, bpData),
		mk(t, "o2", graph.KindOutput, map[string]any{"message": "b"}),
	)
}

func TestExecutor_BreakpointPausesAndResumes(t *testing.T) {
	ex := NewExecutor(breakpointChain(t, map[string]any{"note": "check a"}))

	res := run(t, ex, false)
	assert.True(t, ex.Paused())
	assert.Equal(t, "bp1", res.Executed.ID)
	assert.Equal(t, "bp1", ex.CurrentNodeID())
	assert.Equal(t, "o2", ex.NextNodeID())
	assert.NotEmpty(t, ex.PendingEdgeID())
	assert.Equal(t, []string{"a"}, ex.Context().Output())
	assert.Equal(t, 4, ex.StepCount())

	res, err := ex.Step(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, "o2", res.Executed.ID)
	assert.Equal(t, schema.ExecutionStatusFinished, ex.Status())
	assert.Equal(t, []string{"a", "b"}, ex.Context().Output())
	assert.Equal(t, 5, ex.StepCount(), "resuming does not count as a step")
	assert.Empty(t, ex.PendingEdgeID())
}

func TestExecutor_ForceAdvanceSkipsPause(t *testing.T) {
	ex := NewExecutor(breakpointChain(t, nil))
	run(t, ex, true)
	assert.Equal(t, []string{"a", "b"}, ex.Context().Output())
}

func TestExecutor_BreakpointGuard(t *testing.T) {
	ex := NewExecutor(breakpointChain(t, map[string]any{"when": "vars.x > 1"}))
	run(t, ex, false)
	assert.Equal(t, schema.ExecutionStatusFinished, ex.Status(), "guard false does not pause")

	ex = NewExecutor(breakpointChain(t, map[string]any{"when": "size(output) == 1 && exec.node_id == 'bp1'"}))
	run(t, ex, false)
	assert.True(t, ex.Paused())

	ex = NewExecutor(breakpointChain(t, map[string]any{"when": "vars.x +"}))
	_, err := ex.RunToCompletion(context.Background(), false)
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeHandler))
}

func TestExecutor_ResumeOntoEnd(t *testing.T) {
	ex := NewExecutor(chain(t, mk(t, "bp1", graph.KindBreakpoint, nil)))
	run(t, ex, false)
	require.True(t, ex.Paused())

	res, err := ex.Step(context.Background(), false)
	require.NoError(t, err)
	assert.Nil(t, res.Executed)
	assert.Equal(t, schema.ExecutionStatusFinished, res.Status)
}

// --- Errors and limits ---

func TestExecutor_HandlerErrorFails(t *testing.T) {
	ex := NewExecutor(chain(t, mk(t, "a1", graph.KindAssign, map[string]any{"variable": "x", "value": "1 +"})))
	_, err := ex.RunToCompletion(context.Background(), true)

	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeHandler))
	assert.Equal(t, schema.ExecutionStatusFailed, ex.Status())
	assert.Equal(t, "a1", ex.Err().NodeID)

	// A failed executor stays failed.
	_, err = ex.Step(context.Background(), false)
	assert.Equal(t, ex.Err(), err)
}

func TestExecutor_InputMissing(t *testing.T) {
	ex := NewExecutor(chain(t, mk(t, "in1", graph.KindInput, map[string]any{"variable": "x"})))
	_, err := ex.RunToCompletion(context.Background(), true)

	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeInputMissing))
	assert.True(t, ex.Err().IsHandlerError())
}

func TestExecutor_InputIsCoercedToDeclaredType(t *testing.T) {
	g := chain(t,
		mk(t, "in1", graph.KindInput, map[string]any{"variable": "x", "type": "float"}),
		mk(t, "in2", graph.KindInput, map[string]any{"variable": "y"}),
		mk(t, "o1", graph.KindOutput, map[string]any{"expression": "x + y"}),
	)
	ex := NewExecutor(g, WithInput(NewNormalizingQueue([]any{"2.5", "3"})))
	run(t, ex, true)

	assert.Equal(t, []string{"5.5"}, ex.Context().Output())
	vars := ex.Context().Variables()
	assert.Equal(t, TypeFloat, vars[0].Type)
	assert.Equal(t, TypeInt, vars[1].Type)
}

func TestExecutor_StepLimit(t *testing.T) {
	g := chain(t, mk(t, "w1", graph.KindWhile, map[string]any{"condition": "true"}))
	body(t, g, "w1", mk(t, "o1", graph.KindOutput, map[string]any{"message": "tick"}))
	g.Limits.MaxSteps = 10

	ex := NewExecutor(g)
	_, err := ex.RunToCompletion(context.Background(), true)
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeLimitExceeded))
	assert.Equal(t, "maxSteps", ex.Err().Details["limit"])
	assert.Equal(t, 10, ex.StepCount())
}

func TestExecutor_LoopIterationLimit(t *testing.T) {
	g := chain(t, mk(t, "w1", graph.KindWhile, map[string]any{"condition": "true"}))
	g.Limits.MaxLoopIterationsPerNode = 5

	ex := NewExecutor(g)
	_, err := ex.RunToCompletion(context.Background(), true)
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeLimitExceeded))
	assert.Equal(t, "w1", ex.Err().NodeID)
}

func TestExecutor_TimeBudgetCountsActiveTimeOnly(t *testing.T) {
	g := chain(t, mk(t, "w1", graph.KindWhile, map[string]any{"condition": "true"}))
	g.Limits.MaxTimeMs = 50

	now := time.Unix(0, 0)
	clock := func() time.Time {
		now = now.Add(5 * time.Millisecond)
		return now
	}
	ex := NewExecutor(g, WithClock(clock))
	_, err := ex.Step(context.Background(), true)
	require.NoError(t, err)

	// Idle time between steps is not charged.
	now = now.Add(time.Hour)
	_, err = ex.Step(context.Background(), true)
	require.NoError(t, err)

	_, err = ex.RunToCompletion(context.Background(), true)
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeLimitExceeded))
	assert.Equal(t, "maxTimeMs", ex.Err().Details["limit"])
}

// tickingContext advances the test clock every time the run loop polls it.
type tickingContext struct {
	context.Context
	tick func()
}

func (c tickingContext) Err() error {
	c.tick()
	return c.Context.Err()
}

func TestExecutor_TimeBudgetChargesWallClockDuringRun(t *testing.T) {
	g := chain(t, mk(t, "w1", graph.KindWhile, map[string]any{"condition": "true"}))
	g.Limits.MaxTimeMs = 50

	now := time.Unix(0, 0)
	ex := NewExecutor(g, WithClock(func() time.Time { return now }))
	ctx := tickingContext{Context: context.Background(), tick: func() { now = now.Add(20 * time.Millisecond) }}

	_, err := ex.RunToCompletion(ctx, true)
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeLimitExceeded))
	assert.Equal(t, "maxTimeMs", ex.Err().Details["limit"])
	assert.Less(t, ex.StepCount(), 10)
	assert.Greater(t, ex.Snapshot().ElapsedMs, int64(50))
}

func TestExecutor_NoNextEdgeFails(t *testing.T) {
	doc := []byte(`{
		"nodes": [
			{"id": "n_start", "type": "start"},
			{"id": "c1", "type": "if", "data": {"condition": "false"}},
			{"id": "n_end", "type": "end"}
		],
		"edges": [
			{"id": "e1", "source": "n_start", "target": "c1"},
			{"id": "e2", "source": "c1", "target": "n_end", "condition": "true"}
		]
	}`)
	g, err := graph.Parse(doc)
	require.NoError(t, err)

	ex := NewExecutor(g)
	_, err = ex.RunToCompletion(context.Background(), true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no next edge")
}

// --- Do actions ---

func TestExecutor_DoRunsRegisteredActions(t *testing.T) {
	reg := actions.NewRegistry()
	require.NoError(t, actions.RegisterBuiltins(reg, expressions.NewExprEngine(), nil))

	g := chain(t,
		mk(t, "d1", graph.KindDeclare, map[string]any{"name": "x", "value": 4}),
		mk(t, "do1", graph.KindDo, map[string]any{"action": "eval x *= 2"}),
		mk(t, "do2", graph.KindDo, map[string]any{"action": "print x is ${{ x }}"}),
		mk(t, "do3", graph.KindDo, map[string]any{"action": "teleport home"}),
	)
	ex := NewExecutor(g, WithActions(reg))
	run(t, ex, true)

	assert.Equal(t, schema.ExecutionStatusFinished, ex.Status(), "unknown actions are ignored")
	assert.Equal(t, []string{"x is 8"}, ex.Context().Output())
}

func TestExecutor_DoAssertFailure(t *testing.T) {
	reg := actions.NewRegistry()
	require.NoError(t, actions.RegisterBuiltins(reg, expressions.NewExprEngine(), nil))

	g := chain(t, mk(t, "do1", graph.KindDo, map[string]any{"action": "assert", "condition": "1 > 2"}))
	ex := NewExecutor(g, WithActions(reg))
	_, err := ex.RunToCompletion(context.Background(), true)
	assert.True(t, schema.IsCode(err, schema.ErrCodeHandler))
}

// --- Reset, snapshot, restore ---

func TestExecutor_ResetIsIdempotent(t *testing.T) {
	g := countingLoopGraph(t)
	ex := NewExecutor(g)
	run(t, ex, true)
	first := ex.Context().Snapshot()

	for i := 0; i < 3; i++ {
		require.NoError(t, ex.Reset(context.Background()))
		assert.Equal(t, schema.ExecutionStatusRunning, ex.Status())
		assert.Equal(t, 0, ex.StepCount())
		assert.Empty(t, ex.Context().Output())
		assert.Empty(t, ex.History())

		run(t, ex, true)
		assert.Equal(t, first, ex.Context().Snapshot())
	}
}

func TestExecutor_ResetRewindsInput(t *testing.T) {
	g := chain(t,
		mk(t, "in1", graph.KindInput, map[string]any{"variable": "x"}),
		mk(t, "o1", graph.KindOutput, map[string]any{"message": "x"}),
	)
	ex := NewExecutor(g, WithInput(NewQueueInput([]any{7})))
	run(t, ex, true)
	require.NoError(t, ex.Reset(context.Background()))
	run(t, ex, true)
	assert.Equal(t, []string{"7"}, ex.Context().Output())
}

func TestExecutor_SnapshotRestoreIsDeterministic(t *testing.T) {
	build := func() *graph.Flowchart {
		g := chain(t,
			mk(t, "in1", graph.KindInput, map[string]any{"variable": "n"}),
			mk(t, "f1", graph.KindFor, map[string]any{"init": "i = 0", "condition": "i < n", "increment": "i++"}),
			mk(t, "in2", graph.KindInput, map[string]any{"variable": "tail"}),
			mk(t, "o2", graph.KindOutput, map[string]any{"message": "tail"}),
		)
		body(t, g, "f1",
			mk(t, "o1", graph.KindOutput, map[string]any{"expression": "i * n"}),
			mk(t, "bp1", graph.KindBreakpoint, nil),
		)
		return g
	}
	inputs := []any{3, "done"}

	// Reference: one executor paused and resumed throughout.
	ref := NewExecutor(build(), WithInput(NewQueueInput(inputs)))
	for !ref.Done() {
		run(t, ref, false)
	}
	require.Equal(t, schema.ExecutionStatusFinished, ref.Status())

	// Suspend after every pause and continue in a brand new executor.
	var state json.RawMessage
	g := build()
	ex := NewExecutor(g, WithInput(NewQueueInput(inputs)))
	for !ex.Done() {
		run(t, ex, false)
		var err error
		state, err = ex.MarshalState()
		require.NoError(t, err)

		g = build()
		ex = NewExecutor(g, WithInput(NewQueueInput(inputs)))
		require.NoError(t, ex.RestoreJSON(state))
	}

	assert.Equal(t, ref.Context().Snapshot(), ex.Context().Snapshot())
	assert.Equal(t, ref.StepCount(), ex.StepCount())
	assert.Equal(t, []string{"0", "3", "6", "done"}, ex.Context().Output())
	loop, _ := g.Node("f1")
	assert.Equal(t, 3, loop.Loop.LoopCount)
}

func TestExecutor_RestoreRejectsForeignState(t *testing.T) {
	ex := NewExecutor(incrementGraph(t))

	assert.Error(t, ex.Restore(&ExecutorState{CurrentNodeID: "ghost"}))
	assert.Error(t, ex.Restore(&ExecutorState{CurrentNodeID: "d1", PendingEdgeID: "ghost"}))
	assert.Error(t, ex.Restore(&ExecutorState{CurrentNodeID: "d1", Loops: map[string]graph.LoopRuntimeState{"d1": {}}}))
	assert.Error(t, ex.Restore(&ExecutorState{CurrentNodeID: "d1", Status: schema.ExecutionStatusPaused}))
	assert.Error(t, ex.RestoreJSON(json.RawMessage(`{"currentNodeId":`)))
}

func TestExecutor_HistoryIsBounded(t *testing.T) {
	ex := NewExecutor(countingLoopGraph(t), WithHistoryLimit(3))
	run(t, ex, true)

	h := ex.History()
	require.Len(t, h, 3)
	assert.Equal(t, "f1", h[2].NodeID)
	assert.Equal(t, []string{"0", "1", "2"}, h[2].Context.Output)
}

// --- Trace and response ---

func TestExecutor_PublishesTrace(t *testing.T) {
	hub := streaming.NewMemoryHub()
	ch, cancel, err := hub.Subscribe(context.Background(), streaming.EventFilter{SessionID: "s1"})
	require.NoError(t, err)
	defer cancel()

	ex := NewExecutor(incrementGraph(t), WithHub(hub), WithSessionID("s1"))
	run(t, ex, false)

	assert.Equal(t, []string{
		schema.EventExecutionStarted,
		schema.EventNodeExecuted,
		schema.EventNodeExecuted,
		schema.EventNodeExecuted,
		schema.EventNodeExecuted,
		schema.EventExecutionFinished,
	}, eventTypes(drain(ch)))
}

func TestExecutor_Response(t *testing.T) {
	ex := NewExecutor(breakpointChain(t, nil), WithSessionID("s1"))
	res := run(t, ex, false)

	resp, err := ex.Response(res)
	require.NoError(t, err)
	assert.Equal(t, "s1", resp.SessionID)
	assert.Equal(t, "bp1", resp.ExecutedNode.ID)
	assert.Equal(t, "o2", resp.NextNodeID)
	assert.Equal(t, string(graph.KindOutput), resp.NextNodeKind)
	assert.True(t, resp.Paused)
	assert.False(t, resp.Done)
	assert.Equal(t, []string{"a"}, resp.Context.Output)

	var st ExecutorState
	require.NoError(t, json.Unmarshal(resp.State, &st))
	assert.Equal(t, "bp1", st.CurrentNodeID)
	assert.True(t, st.Paused)
}

func TestExecutor_SetVariables(t *testing.T) {
	g := chain(t, mk(t, "o1", graph.KindOutput, map[string]any{"expression": "a + b"}))
	ex := NewExecutor(g)
	ex.SetVariables(map[string]any{"b": 2.0, "a": 1})
	run(t, ex, true)

	assert.Equal(t, []string{"3"}, ex.Context().Output())
	assert.Equal(t, "a", ex.Context().Variables()[0].Name)
}
