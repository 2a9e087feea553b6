package engine

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/rendis/flowlab/internal/actions"
	"github.com/rendis/flowlab/internal/expressions"
	"github.com/rendis/flowlab/internal/graph"
	"github.com/rendis/flowlab/internal/logging"
	"github.com/rendis/flowlab/internal/streaming"
	"github.com/rendis/flowlab/pkg/schema"
)

// DefaultHistoryLimit bounds the number of history entries kept.
const DefaultHistoryLimit = 100

// StepResult describes what one Step call did.
type StepResult struct {
	// Executed is the node whose handler ran, nil when the call only resumed
	// onto End or did nothing.
	Executed *schema.NodeRef
	// EdgeID is the edge followed, or the pending edge after a pause.
	EdgeID string
	Status schema.ExecutionStatus
}

// Executor interprets one flowchart a node at a time. It owns the runtime
// fields of the graph it is given (loop state) and must not be shared
// between goroutines.
type Executor struct {
	graph  *graph.Flowchart
	rt     *Runtime
	fsm    *StatusFSM
	hub    streaming.EventHub
	guards *expressions.CELEngine
	logger *slog.Logger
	now    func() time.Time

	sessionID    string
	historyLimit int

	status  schema.ExecutionStatus
	current string
	pending string
	steps   int
	elapsed time.Duration
	err     *schema.FlowError
	history []HistoryEntry

	// Set while RunToCompletion drives the executor.
	wallStart time.Time
	wallBase  time.Duration
}

// Option configures an Executor.
type Option func(*Executor)

// WithInput sets the provider Input nodes pull from.
func WithInput(p InputProvider) Option {
	return func(e *Executor) { e.rt.Input = p }
}

// WithActions sets the registry Do nodes resolve actions from.
func WithActions(reg actions.ActionRegistry) Option {
	return func(e *Executor) { e.rt.Actions = reg }
}

// WithExprEngine shares a compiled-expression cache between executors.
func WithExprEngine(eng *expressions.ExprEngine) Option {
	return func(e *Executor) { e.rt.Exprs = eng }
}

// WithGuards sets the CEL engine evaluating breakpoint "when" guards.
func WithGuards(eng *expressions.CELEngine) Option {
	return func(e *Executor) { e.guards = eng }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Executor) { e.logger = l }
}

// WithHub publishes the live trace on hub.
func WithHub(hub streaming.EventHub) Option {
	return func(e *Executor) { e.hub = hub }
}

// WithSessionID tags published events and log records.
func WithSessionID(id string) Option {
	return func(e *Executor) { e.sessionID = id }
}

// WithHistoryLimit bounds the history; n <= 0 keeps DefaultHistoryLimit.
func WithHistoryLimit(n int) Option {
	return func(e *Executor) {
		if n > 0 {
			e.historyLimit = n
		}
	}
}

// WithClock replaces time.Now for the time budget.
func WithClock(now func() time.Time) Option {
	return func(e *Executor) { e.now = now }
}

// NewExecutor creates an executor positioned on the Start node of g.
func NewExecutor(g *graph.Flowchart, opts ...Option) *Executor {
	e := &Executor{
		graph: g,
		rt: &Runtime{
			Vars:   NewContext(),
			Graph:  g,
			Input:  noInput{},
			Limits: g.Limits,
		},
		hub:          streaming.Nop{},
		now:          time.Now,
		historyLimit: DefaultHistoryLimit,
		status:       schema.ExecutionStatusRunning,
		current:      g.StartID(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.rt.Exprs == nil {
		e.rt.Exprs = expressions.NewExprEngine()
	}
	if e.rt.Input == nil {
		e.rt.Input = noInput{}
	}
	if e.hub == nil {
		e.hub = streaming.Nop{}
	}
	e.logger = logging.OrDefault(e.logger)
	e.rt.Logger = e.logger
	e.fsm = NewStatusFSM(e.hub)
	return e
}

// --- accessors ---

// Status returns the current execution status.
func (e *Executor) Status() schema.ExecutionStatus { return e.status }

// Done reports whether the execution reached a terminal status.
func (e *Executor) Done() bool { return e.status.Terminal() }

// Paused reports whether the executor waits at a breakpoint.
func (e *Executor) Paused() bool { return e.status == schema.ExecutionStatusPaused }

// Err returns the error that failed the execution, if any.
func (e *Executor) Err() *schema.FlowError { return e.err }

// Context returns the live execution context.
func (e *Executor) Context() *Context { return e.rt.Vars }

// Graph returns the flowchart being executed.
func (e *Executor) Graph() *graph.Flowchart { return e.graph }

// CurrentNodeID returns the node the next step starts from.
func (e *Executor) CurrentNodeID() string { return e.current }

// PendingEdgeID returns the edge a resume will follow.
func (e *Executor) PendingEdgeID() string { return e.pending }

// StepCount returns the number of handler dispatches so far.
func (e *Executor) StepCount() int { return e.steps }

// History returns a copy of the recorded history.
func (e *Executor) History() []HistoryEntry {
	return append([]HistoryEntry(nil), e.history...)
}

// FSM exposes the status machine so callers can hook transitions.
func (e *Executor) FSM() *StatusFSM { return e.fsm }

// NextNodeID is the node the next step will run: the target of the pending
// edge while paused, the current node otherwise.
func (e *Executor) NextNodeID() string {
	if e.status == schema.ExecutionStatusPaused {
		if edge, ok := e.graph.Edge(e.pending); ok {
			return edge.Target
		}
	}
	return e.current
}

// SetVariables binds initial variables in key order.
func (e *Executor) SetVariables(vars map[string]any) {
	names := make([]string, 0, len(vars))
	for name := range vars {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		e.rt.Vars.Set(name, vars[name])
	}
}

// --- state machine ---

// Step executes at most one node. A paused executor first follows its
// pending edge and runs the node it lands on in the same call. With
// forceAdvance a Breakpoint does not pause. The returned error is the
// failure that ended the execution, if any.
func (e *Executor) Step(ctx context.Context, forceAdvance bool) (*StepResult, error) {
	if e.status.Terminal() {
		return e.result(nil, ""), e.failure()
	}

	ctx = logging.WithSessionID(ctx, e.sessionID)
	started := e.now()
	defer func() { e.elapsed += e.now().Sub(started) }()

	if err := e.checkLimits(); err != nil {
		return e.fail(ctx, nil, err)
	}

	if e.status == schema.ExecutionStatusPaused {
		edge, ok := e.graph.Edge(e.pending)
		if !ok {
			return e.fail(ctx, nil, schema.NewErrorf(schema.ErrCodeHandler,
				"pending edge %s no longer exists", e.pending).WithNode(e.current))
		}
		if err := e.transition(ctx, schema.ExecutionStatusRunning, nil); err != nil {
			return nil, err
		}
		e.pending = ""
		e.current = edge.Target
		if e.current == e.graph.EndID() {
			return e.finish(ctx, nil, edge.ID)
		}
	}

	node, ok := e.graph.Node(e.current)
	if !ok {
		return e.fail(ctx, nil, schema.NewErrorf(schema.ErrCodeHandler, "node %s does not exist", e.current))
	}
	if node.Kind == graph.KindEnd {
		return e.finish(ctx, nil, "")
	}
	ctx = logging.WithNodeID(ctx, node.ID)

	h, ok := handlers[node.Kind]
	if !ok {
		return e.fail(ctx, node, schema.NewErrorf(schema.ErrCodeHandler,
			"no handler for %s node", node.Kind).WithNode(node.ID))
	}

	if e.steps == 0 {
		e.publish(ctx, node.ID, schema.EventExecutionStarted, nil)
	}
	e.steps++
	e.logger.DebugContext(ctx, "step", "kind", string(node.Kind), "step", e.steps)

	outcome, err := h(ctx, e.rt, node)
	if err != nil {
		return e.fail(ctx, node, handlerFailure(err, node.ID))
	}
	e.record(node)

	edge := e.resolveEdge(node, outcome)
	edgeID := ""
	if edge != nil {
		edgeID = edge.ID
	}
	e.publish(ctx, node.ID, schema.EventNodeExecuted, map[string]any{
		"kind": string(node.Kind), "step": e.steps, "edge_id": edgeID,
	})

	if node.Kind == graph.KindBreakpoint && !forceAdvance && edge != nil {
		hit, err := e.guard(ctx, node)
		if err != nil {
			return e.fail(ctx, node, handlerFailure(err, node.ID))
		}
		if hit {
			e.pending = edge.ID
			if err := e.transition(ctx, schema.ExecutionStatusPaused, map[string]any{"pending_edge_id": edge.ID}); err != nil {
				return nil, err
			}
			return e.result(node, edge.ID), nil
		}
	}

	if edge == nil {
		return e.fail(ctx, node, schema.NewError(schema.ErrCodeHandler, "no next edge").WithNode(node.ID))
	}
	e.current = edge.Target
	if e.current == e.graph.EndID() {
		return e.finish(ctx, node, edge.ID)
	}
	return e.result(node, edge.ID), nil
}

// RunToCompletion steps until the execution ends or, unless breakpoints are
// ignored, pauses. It returns the result of the last step.
func (e *Executor) RunToCompletion(ctx context.Context, ignoreBreakpoints bool) (*StepResult, error) {
	e.wallStart, e.wallBase = e.now(), e.elapsed
	defer func() {
		e.elapsed = e.spent()
		e.wallStart = time.Time{}
	}()

	last := e.result(nil, "")
	for {
		if err := ctx.Err(); err != nil {
			return last, err
		}
		res, err := e.Step(ctx, ignoreBreakpoints)
		if err != nil {
			return res, err
		}
		last = res
		if e.status.Terminal() || (e.status == schema.ExecutionStatusPaused && !ignoreBreakpoints) {
			return last, nil
		}
	}
}

// Reset returns the executor to the Start node with an empty context and
// cleared counters, flags, history and loop state.
func (e *Executor) Reset(ctx context.Context) error {
	if e.status != schema.ExecutionStatusRunning {
		err := e.fsm.TransitionAs(ctx, e.sessionID, e.current, e.status, schema.ExecutionStatusRunning,
			schema.EventExecutionReset, nil)
		if err != nil {
			return err
		}
		e.status = schema.ExecutionStatusRunning
	} else {
		e.publish(ctx, e.current, schema.EventExecutionReset, nil)
	}
	e.rt.Vars = NewContext()
	e.current = e.graph.StartID()
	e.pending = ""
	e.steps = 0
	e.elapsed = 0
	e.err = nil
	e.history = nil
	e.graph.ResetLoops()
	if s, ok := e.rt.Input.(Seeker); ok {
		s.Seek(0)
	}
	return nil
}

// spent is the time charged against the budget: active step time, or the
// wall clock since RunToCompletion began when that is larger.
func (e *Executor) spent() time.Duration {
	if e.wallStart.IsZero() {
		return e.elapsed
	}
	if wall := e.wallBase + e.now().Sub(e.wallStart); wall > e.elapsed {
		return wall
	}
	return e.elapsed
}

func (e *Executor) checkLimits() *schema.FlowError {
	lim := e.graph.Limits
	if lim.MaxTimeMs > 0 && e.spent().Milliseconds() > lim.MaxTimeMs {
		return schema.NewErrorf(schema.ErrCodeLimitExceeded, "time budget of %dms exceeded", lim.MaxTimeMs).
			WithDetails(map[string]any{"limit": "maxTimeMs", "value": lim.MaxTimeMs})
	}
	if lim.MaxSteps > 0 && e.steps >= lim.MaxSteps {
		return schema.NewErrorf(schema.ErrCodeLimitExceeded, "step budget of %d exceeded", lim.MaxSteps).
			WithDetails(map[string]any{"limit": "maxSteps", "value": lim.MaxSteps})
	}
	return nil
}

// resolveEdge picks the outgoing edge to follow after node ran.
func (e *Executor) resolveEdge(node *graph.Node, out Outcome) *graph.Edge {
	edges := e.graph.OutgoingEdges(node.ID)

	switch {
	case node.Kind.IsLoop():
		if out.EdgeID == "" {
			return nil
		}
		edge, _ := e.graph.Edge(out.EdgeID)
		return edge
	case node.Kind == graph.KindIf:
		for _, edge := range edges {
			if edge.Condition == out.Condition {
				return edge
			}
		}
		for _, edge := range edges {
			if edge.Condition == graph.CondAuto {
				return edge
			}
		}
		return nil
	}

	for _, edge := range edges {
		if edge.Condition == graph.CondAuto {
			return edge
		}
	}
	if len(edges) > 0 {
		return edges[0]
	}
	return nil
}

// guard evaluates the optional CEL "when" guard of a breakpoint.
func (e *Executor) guard(ctx context.Context, node *graph.Node) (bool, error) {
	when := node.Str("when")
	if when == "" {
		return true, nil
	}
	if e.guards == nil {
		eng, err := expressions.NewCELEngine()
		if err != nil {
			return false, err
		}
		e.guards = eng
	}
	out := e.rt.Vars.Output()
	lines := make([]any, len(out))
	for i, l := range out {
		lines[i] = l
	}
	return e.guards.EvaluateBool(ctx, when, map[string]any{
		"vars": e.rt.Vars.Values(),
		"exec": map[string]any{
			"step_count":   e.steps,
			"node_id":      node.ID,
			"output_count": len(out),
		},
		"output": lines,
	})
}

func (e *Executor) record(node *graph.Node) {
	e.history = append(e.history, HistoryEntry{NodeID: node.ID, Context: e.rt.Vars.Snapshot()})
	if over := len(e.history) - e.historyLimit; over > 0 {
		e.history = append(e.history[:0:0], e.history[over:]...)
	}
}

func (e *Executor) finish(ctx context.Context, node *graph.Node, edgeID string) (*StepResult, error) {
	e.current = e.graph.EndID()
	if err := e.transition(ctx, schema.ExecutionStatusFinished, map[string]any{"step_count": e.steps}); err != nil {
		return nil, err
	}
	e.logger.DebugContext(ctx, "execution finished", "steps", e.steps)
	return e.result(node, edgeID), nil
}

func (e *Executor) fail(ctx context.Context, node *graph.Node, fe *schema.FlowError) (*StepResult, error) {
	if fe.NodeID == "" && node != nil {
		fe.NodeID = node.ID
	}
	e.err = fe
	if err := e.transition(ctx, schema.ExecutionStatusFailed, fe); err != nil {
		return nil, err
	}
	e.logger.DebugContext(ctx, "execution failed", "code", fe.Code, "error", fe.Message)
	return e.result(node, ""), fe
}

func (e *Executor) transition(ctx context.Context, to schema.ExecutionStatus, payload any) error {
	if err := e.fsm.Transition(ctx, e.sessionID, e.current, e.status, to, payload); err != nil {
		return err
	}
	e.status = to
	return nil
}

func (e *Executor) publish(ctx context.Context, nodeID, eventType string, payload any) {
	_ = e.hub.Publish(ctx, streaming.StreamEvent{
		SessionID: e.sessionID,
		NodeID:    nodeID,
		EventType: eventType,
		Payload:   payload,
	})
}

func (e *Executor) result(node *graph.Node, edgeID string) *StepResult {
	res := &StepResult{EdgeID: edgeID, Status: e.status}
	if node != nil {
		res.Executed = node.Ref()
	}
	return res
}

func (e *Executor) failure() error {
	if e.err == nil {
		return nil
	}
	return e.err
}

// handlerFailure keeps the codes that callers tell apart and files every
// other handler error under HANDLER_ERROR.
func handlerFailure(err error, nodeID string) *schema.FlowError {
	fe := schema.AsFlowError(err, schema.ErrCodeHandler)
	switch fe.Code {
	case schema.ErrCodeHandler, schema.ErrCodeInputMissing, schema.ErrCodeLimitExceeded:
	default:
		fe = schema.NewError(schema.ErrCodeHandler, fe.Message).WithCause(err).WithDetails(fe.Details)
	}
	if fe.NodeID == "" {
		fe.NodeID = nodeID
	}
	return fe
}

// Response builds the wire response for a step result, embedding the
// serialized state.
func (e *Executor) Response(res *StepResult) (*schema.ExecuteResponse, error) {
	state, err := e.MarshalState()
	if err != nil {
		return nil, err
	}
	resp := &schema.ExecuteResponse{
		SessionID:  e.sessionID,
		NextNodeID: e.NextNodeID(),
		Context:    e.rt.Vars.Snapshot(),
		Status:     e.status,
		Paused:     e.Paused(),
		Done:       e.Done(),
		StepCount:  e.steps,
		Error:      e.err,
		State:      state,
	}
	if res != nil {
		resp.ExecutedNode = res.Executed
	}
	if n, ok := e.graph.Node(resp.NextNodeID); ok {
		resp.NextNodeKind = string(n.Kind)
	}
	return resp, nil
}
