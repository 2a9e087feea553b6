package service

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/flowlab/internal/graph"
	"github.com/rendis/flowlab/internal/store"
	"github.com/rendis/flowlab/internal/streaming"
	"github.com/rendis/flowlab/pkg/schema"
)

type fixture struct {
	svc   *Service
	store *store.MemoryStore
	hub   *streaming.MemoryHub
}

func newFixture(t *testing.T, quota graph.ShapeQuota) *fixture {
	t.Helper()
	st := store.NewMemoryStore()
	hub := streaming.NewMemoryHub()
	svc, err := New(Deps{Store: st, Hub: hub, Quota: quota})
	require.NoError(t, err)
	return &fixture{svc: svc, store: st, hub: hub}
}

func seqIDs() graph.Option {
	n := 0
	return graph.WithEdgeIDGenerator(func() string {
		n++
		return fmt.Sprintf("e%d", n)
	})
}

// chainDoc builds Start -> nodes... -> End.
func chainDoc(t *testing.T, nodes ...*graph.Node) *schema.GraphDocument {
	t.Helper()
	g := graph.New(seqIDs())
	edge := graph.StartEndEdgeID
	for _, n := range nodes {
		require.NoError(t, g.InsertNodeAtEdge(edge, n, ""))
		out := g.OutgoingEdges(n.ID)
		require.NotEmpty(t, out)
		edge = out[len(out)-1].ID
	}
	return g.ToDocument()
}

func node(t *testing.T, id string, kind graph.NodeKind, data map[string]any) *graph.Node {
	t.Helper()
	n, err := graph.NewNode(id, kind, "", data)
	require.NoError(t, err)
	return n
}

// pauseDoc: Input x -> Breakpoint -> Output x * 2.
func pauseDoc(t *testing.T) *schema.GraphDocument {
	return chainDoc(t,
		node(t, "in_x", graph.KindInput, map[string]any{"variable": "x"}),
		node(t, "bp", graph.KindBreakpoint, nil),
		node(t, "out", graph.KindOutput, map[string]any{"expression": "x * 2"}),
	)
}

// sumDoc: Input a -> Input b -> Output a + b.
func sumDoc(t *testing.T) *schema.GraphDocument {
	return chainDoc(t,
		node(t, "in_a", graph.KindInput, map[string]any{"variable": "a"}),
		node(t, "in_b", graph.KindInput, map[string]any{"variable": "b"}),
		node(t, "out", graph.KindOutput, map[string]any{"expression": "a + b"}),
	)
}

// --- Flowcharts ---

func TestSaveFlowchart(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	res, err := f.svc.SaveFlowchart(ctx, "", "pause lab", pauseDoc(t))
	require.NoError(t, err)
	assert.NotEmpty(t, res.ID)
	assert.Equal(t, 1, res.Usage["breakpoint"])

	rec, err := f.svc.GetFlowchart(ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, "pause lab", rec.Name)
	assert.Len(t, rec.Document.Nodes, 5)
}

func TestSaveFlowchart_Invalid(t *testing.T) {
	f := newFixture(t, nil)
	doc := &schema.GraphDocument{
		Nodes: []schema.NodeDocument{{ID: "n_start", Type: "ST"}, {ID: "n_end", Type: "EN"}},
		Edges: []schema.EdgeDocument{},
	}
	_, err := f.svc.SaveFlowchart(context.Background(), "fc", "", doc)
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeGraphInvalid, schema.CodeOf(err))

	_, err = f.store.GetFlowchart(context.Background(), "fc")
	assert.True(t, schema.IsCode(err, schema.ErrCodeNotFound))
}

func TestSaveFlowchart_OverQuota(t *testing.T) {
	f := newFixture(t, graph.ShapeQuota{graph.KindInput: 1})
	_, err := f.svc.SaveFlowchart(context.Background(), "fc", "", sumDoc(t))
	assert.True(t, schema.IsCode(err, schema.ErrCodeLimitExceeded))
}

// --- Execute ---

func TestExecute_RunInline(t *testing.T) {
	f := newFixture(t, nil)
	resp, err := f.svc.Execute(context.Background(), &schema.ExecuteRequest{
		Flowchart: sumDoc(t),
		Action:    schema.ActionRun,
		Inputs:    []any{2, 3},
	})
	require.NoError(t, err)
	assert.True(t, resp.Done)
	assert.Equal(t, schema.ExecutionStatusFinished, resp.Status)
	assert.Equal(t, []string{"5"}, resp.Context.Output)
	assert.NotEmpty(t, resp.SessionID)
	assert.NotEmpty(t, resp.State)

	snap, err := f.store.GetSnapshot(context.Background(), resp.SessionID)
	require.NoError(t, err)
	assert.Equal(t, schema.ExecutionStatusFinished, snap.Status)
}

func TestExecute_PauseAndResumeFromStoredSnapshot(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	saved, err := f.svc.SaveFlowchart(ctx, "pause", "", pauseDoc(t))
	require.NoError(t, err)

	first, err := f.svc.Execute(ctx, &schema.ExecuteRequest{
		SessionID:   "sess-1",
		FlowchartID: saved.ID,
		Action:      schema.ActionRun,
		Inputs:      []any{4},
	})
	require.NoError(t, err)
	require.True(t, first.Paused)
	assert.Equal(t, "out", first.NextNodeID)
	assert.Equal(t, "output", first.NextNodeKind)
	assert.Empty(t, first.Context.Output)

	second, err := f.svc.Execute(ctx, &schema.ExecuteRequest{
		SessionID:   "sess-1",
		FlowchartID: saved.ID,
		Action:      schema.ActionResume,
		Inputs:      []any{4},
	})
	require.NoError(t, err)
	assert.True(t, second.Done)
	assert.Equal(t, []string{"8"}, second.Context.Output)

	_, err = f.svc.Execute(ctx, &schema.ExecuteRequest{
		SessionID:   "sess-1",
		FlowchartID: saved.ID,
		Action:      schema.ActionResume,
	})
	assert.True(t, schema.IsCode(err, schema.ErrCodeInvalidTransition))
}

func TestExecute_ForceAdvanceBreakpoint(t *testing.T) {
	f := newFixture(t, nil)
	resp, err := f.svc.Execute(context.Background(), &schema.ExecuteRequest{
		Flowchart:      pauseDoc(t),
		Action:         schema.ActionRun,
		Inputs:         []any{1},
		ForceAdvanceBP: true,
	})
	require.NoError(t, err)
	assert.True(t, resp.Done)
	assert.Equal(t, []string{"2"}, resp.Context.Output)
}

func TestExecute_StepWithRestoreState(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	doc := sumDoc(t)
	inputs := []any{10, 20}

	var state json.RawMessage
	var executed []string
	for i := 0; i < 10; i++ {
		resp, err := f.svc.Execute(ctx, &schema.ExecuteRequest{
			Flowchart:    doc,
			Action:       schema.ActionStep,
			Inputs:       inputs,
			RestoreState: state,
		})
		require.NoError(t, err)
		if resp.ExecutedNode != nil {
			executed = append(executed, resp.ExecutedNode.ID)
		}
		state = resp.State
		if resp.Done {
			assert.Equal(t, []string{"30"}, resp.Context.Output)
			break
		}
	}
	assert.Equal(t, []string{"n_start", "in_a", "in_b", "out"}, executed)
}

func TestExecute_Reset(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	_, err := f.svc.SaveFlowchart(ctx, "sum", "", sumDoc(t))
	require.NoError(t, err)

	req := &schema.ExecuteRequest{SessionID: "s", FlowchartID: "sum", Action: schema.ActionRun, Inputs: []any{1, 2}}
	done, err := f.svc.Execute(ctx, req)
	require.NoError(t, err)
	require.True(t, done.Done)

	reset, err := f.svc.Execute(ctx, &schema.ExecuteRequest{
		SessionID: "s", FlowchartID: "sum", Action: schema.ActionReset,
		Variables: map[string]any{"seed": 7},
	})
	require.NoError(t, err)
	assert.False(t, reset.Done)
	assert.Equal(t, schema.ExecutionStatusRunning, reset.Status)
	assert.Equal(t, 0, reset.StepCount)
	assert.Equal(t, graph.StartID, reset.NextNodeID)
	assert.Empty(t, reset.Context.Output)
	require.Len(t, reset.Context.Variables, 1)
	assert.Equal(t, "seed", reset.Context.Variables[0].Name)

	again, err := f.svc.Execute(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, done.Context.Output, again.Context.Output)
}

func TestExecute_FailureIsInResponse(t *testing.T) {
	f := newFixture(t, nil)
	resp, err := f.svc.Execute(context.Background(), &schema.ExecuteRequest{
		Flowchart: sumDoc(t),
		Action:    schema.ActionRun,
		Inputs:    []any{1},
	})
	require.NoError(t, err)
	require.NotNil(t, resp.Error)
	assert.Equal(t, schema.ErrCodeInputMissing, resp.Error.Code)
	assert.Equal(t, schema.ExecutionStatusFailed, resp.Status)
	assert.True(t, resp.Done)
}

func TestExecute_RequestErrors(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.svc.Execute(ctx, &schema.ExecuteRequest{Action: schema.ActionRun})
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation), "no flowchart")

	_, err = f.svc.Execute(ctx, &schema.ExecuteRequest{Flowchart: sumDoc(t), Action: "jump"})
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))

	_, err = f.svc.Execute(ctx, &schema.ExecuteRequest{FlowchartID: "missing", Action: schema.ActionRun})
	assert.True(t, schema.IsCode(err, schema.ErrCodeNotFound))

	_, err = f.svc.Execute(ctx, &schema.ExecuteRequest{Flowchart: sumDoc(t), RestoreState: json.RawMessage(`{"currentNodeId":"ghost"}`)})
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))

	_, err = f.svc.Execute(ctx, nil)
	assert.Error(t, err)
}

func TestExecute_SessionBelongsToFlowchart(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	for _, id := range []string{"a", "b"} {
		_, err := f.svc.SaveFlowchart(ctx, id, "", sumDoc(t))
		require.NoError(t, err)
	}
	_, err := f.svc.Execute(ctx, &schema.ExecuteRequest{SessionID: "s", FlowchartID: "a", Action: schema.ActionStep})
	require.NoError(t, err)
	_, err = f.svc.Execute(ctx, &schema.ExecuteRequest{SessionID: "s", FlowchartID: "b", Action: schema.ActionStep})
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))
}

func TestEndSession(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	resp, err := f.svc.Execute(ctx, &schema.ExecuteRequest{Flowchart: sumDoc(t), Action: schema.ActionStep})
	require.NoError(t, err)
	require.NoError(t, f.svc.EndSession(ctx, resp.SessionID))
	assert.NoError(t, f.svc.EndSession(ctx, resp.SessionID), "ending twice is fine")
}

// --- Grade ---

func TestGrade_LabTestcases(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	_, err := f.svc.SaveFlowchart(ctx, "sum", "", sumDoc(t))
	require.NoError(t, err)

	_, err = f.svc.DefineTestcases(ctx, "lab-1", []schema.Testcase{
		{ID: "pass", Inputs: json.RawMessage(`[2, 3]`), ExpectedOutputs: json.RawMessage(`["5"]`), Score: 3},
		{ID: "missing", Inputs: json.RawMessage(`"[1]"`), ExpectedOutputs: json.RawMessage(`["1"]`), Score: 2},
	})
	require.NoError(t, err)

	session, err := f.svc.Grade(ctx, &schema.GradeRequest{FlowchartID: "sum", LabID: "lab-1"})
	require.NoError(t, err)
	require.Len(t, session.Results, 2)
	assert.Equal(t, schema.TestStatusPass, session.Results[0].Status)
	assert.Equal(t, schema.TestStatusInputMissing, session.Results[1].Status)
	assert.Equal(t, 3.0, session.TotalScore)
	assert.Equal(t, 5.0, session.MaxScore)
	assert.Equal(t, "lab-1", session.LabID)

	stored, err := f.svc.TestSession(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, session.TotalScore, stored.TotalScore)

	list, err := f.svc.TestSessions(ctx, store.SessionFilter{LabID: "lab-1"})
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestGrade_InlineAndErrors(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	session, err := f.svc.Grade(ctx, &schema.GradeRequest{
		Flowchart: sumDoc(t),
		Testcases: []schema.Testcase{{ID: "t", Inputs: json.RawMessage(`[1, 1]`), ExpectedOutputs: json.RawMessage(`["3"]`), Score: 1}},
	})
	require.NoError(t, err)
	assert.Equal(t, schema.TestStatusFail, session.Results[0].Status)

	_, err = f.svc.Grade(ctx, &schema.GradeRequest{Flowchart: sumDoc(t)})
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))

	_, err = f.svc.Grade(ctx, &schema.GradeRequest{Flowchart: sumDoc(t), LabID: "nope"})
	assert.True(t, schema.IsCode(err, schema.ErrCodeNotFound))
}

func TestDefineTestcases_Invalid(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	res, err := f.svc.DefineTestcases(ctx, "lab", []schema.Testcase{{ID: "a", Comparator: "fuzzy", Score: 1}})
	require.Error(t, err)
	require.NotNil(t, res)
	assert.False(t, res.Valid())

	_, err = f.store.ListTestcases(ctx, "lab")
	assert.True(t, schema.IsCode(err, schema.ErrCodeNotFound), "nothing stored")

	_, err = f.svc.DefineTestcases(ctx, "", []schema.Testcase{{ID: "a", Score: 1}})
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))
	_, err = f.svc.DefineTestcases(ctx, "lab", nil)
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))
}

// --- Mutations ---

func TestInsertNode_SavesAndPublishes(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	_, err := f.svc.SaveFlowchart(ctx, "fc", "", chainDoc(t))
	require.NoError(t, err)

	ch, cancel, err := f.hub.Subscribe(ctx, streaming.EventFilter{EventTypes: []string{schema.EventGraphMutated}})
	require.NoError(t, err)
	defer cancel()

	res, err := f.svc.InsertNode(ctx, InsertRequest{
		FlowchartID: "fc",
		EdgeID:      graph.StartEndEdgeID,
		Kind:        "IF",
		Data:        map[string]any{"condition": "true"},
	})
	require.NoError(t, err)
	assert.Regexp(t, `^if_[0-9a-f]{8}$`, res.NodeID)
	assert.Equal(t, 1, res.Usage["if"])
	assert.Equal(t, 1, res.Usage["breakpoint"], "if brings its paired breakpoint")

	select {
	case ev := <-ch:
		assert.Equal(t, "fc", ev.SessionID)
		assert.Equal(t, res.NodeID, ev.NodeID)
	case <-time.After(time.Second):
		t.Fatal("no graph_mutated event")
	}

	stored, err := f.store.GetFlowchart(ctx, "fc")
	require.NoError(t, err)
	assert.Len(t, stored.Document.Nodes, 4)

	removed, err := f.svc.RemoveNode(ctx, "fc", res.NodeID)
	require.NoError(t, err)
	assert.Len(t, removed.Document.Nodes, 2)
	stored, err = f.store.GetFlowchart(ctx, "fc")
	require.NoError(t, err)
	assert.Len(t, stored.Document.Nodes, 2)
}

func TestInsertNode_FailureLeavesStoredGraph(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	_, err := f.svc.SaveFlowchart(ctx, "fc", "", sumDoc(t))
	require.NoError(t, err)
	before, err := f.store.GetFlowchart(ctx, "fc")
	require.NoError(t, err)

	_, err = f.svc.InsertNode(ctx, InsertRequest{FlowchartID: "fc", EdgeID: "no-such-edge", Kind: "OU", Data: map[string]any{"message": "x"}})
	assert.True(t, schema.IsCode(err, schema.ErrCodeMutationFailed))

	_, err = f.svc.InsertNode(ctx, InsertRequest{FlowchartID: "fc", EdgeID: graph.StartEndEdgeID, NodeID: "in_a", Kind: "OU", Data: map[string]any{"message": "x"}})
	assert.True(t, schema.IsCode(err, schema.ErrCodeMutationFailed), "duplicate id")

	_, err = f.svc.InsertNode(ctx, InsertRequest{FlowchartID: "fc", EdgeID: graph.StartEndEdgeID, Kind: "IF"})
	assert.True(t, schema.IsCode(err, schema.ErrCodeNodeValidation), "missing condition")

	_, err = f.svc.InsertNode(ctx, InsertRequest{FlowchartID: "fc", EdgeID: graph.StartEndEdgeID, Kind: "start"})
	assert.True(t, schema.IsCode(err, schema.ErrCodeMutationFailed))

	_, err = f.svc.RemoveNode(ctx, "fc", "ghost")
	assert.True(t, schema.IsCode(err, schema.ErrCodeNotFound))

	after, err := f.store.GetFlowchart(ctx, "fc")
	require.NoError(t, err)
	assert.Equal(t, before.Document, after.Document)
}

func TestInsertNode_Quota(t *testing.T) {
	f := newFixture(t, graph.ShapeQuota{graph.KindOutput: 1, graph.KindInput: graph.Unlimited})
	ctx := context.Background()
	_, err := f.svc.SaveFlowchart(ctx, "fc", "", sumDoc(t))
	require.NoError(t, err)

	_, err = f.svc.InsertNode(ctx, InsertRequest{FlowchartID: "fc", EdgeID: graph.StartEndEdgeID, Kind: "OU", Data: map[string]any{"message": "again"}})
	assert.True(t, schema.IsCode(err, schema.ErrCodeLimitExceeded))

	_, err = f.svc.InsertNode(ctx, InsertRequest{FlowchartID: "fc", EdgeID: graph.StartEndEdgeID, Kind: "IN", Data: map[string]any{"variable": "c"}})
	assert.NoError(t, err)

	report, err := f.svc.Usage(ctx, "fc")
	require.NoError(t, err)
	assert.Equal(t, 3, report.Counts["input"])
	assert.Equal(t, 1, report.Limits["output"])
	assert.Equal(t, 0, report.Remaining["output"])
	_, capped := report.Limits["input"]
	assert.False(t, capped)
}

func TestInsertNode_IfCountsPairedBreakpoint(t *testing.T) {
	f := newFixture(t, graph.ShapeQuota{graph.KindBreakpoint: 1})
	ctx := context.Background()
	_, err := f.svc.SaveFlowchart(ctx, "full", "", chainDoc(t, node(t, "bp1", graph.KindBreakpoint, nil)))
	require.NoError(t, err)
	_, err = f.svc.SaveFlowchart(ctx, "empty", "", chainDoc(t))
	require.NoError(t, err)

	before, err := f.store.GetFlowchart(ctx, "full")
	require.NoError(t, err)
	_, err = f.svc.InsertNode(ctx, InsertRequest{FlowchartID: "full", EdgeID: graph.StartEndEdgeID, Kind: "IF", Data: map[string]any{"condition": "x > 1"}})
	assert.True(t, schema.IsCode(err, schema.ErrCodeLimitExceeded))
	after, err := f.store.GetFlowchart(ctx, "full")
	require.NoError(t, err)
	assert.Equal(t, before.Document, after.Document)

	res, err := f.svc.InsertNode(ctx, InsertRequest{FlowchartID: "empty", EdgeID: graph.StartEndEdgeID, Kind: "IF", Data: map[string]any{"condition": "x > 1"}})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Usage["breakpoint"])
}

func TestActions_ListsBuiltins(t *testing.T) {
	f := newFixture(t, nil)
	var names []string
	for _, a := range f.svc.Actions() {
		names = append(names, a.Name)
	}
	assert.Contains(t, names, "print")
	assert.Contains(t, names, "noop")
}
