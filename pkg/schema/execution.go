package schema

import "encoding/json"

// ExecuteAction selects what an interactive execute request does.
type ExecuteAction string

const (
	ActionRun    ExecuteAction = "run"
	ActionStep   ExecuteAction = "step"
	ActionReset  ExecuteAction = "reset"
	ActionResume ExecuteAction = "resume"
)

// ExecuteRequest is one interactive execution request. Sessions are stateless
// between requests: the caller either passes RestoreState or a SessionID whose
// snapshot was persisted by a previous request.
type ExecuteRequest struct {
	SessionID      string          `json:"sessionId,omitempty"`
	FlowchartID    string          `json:"flowchartId,omitempty"`
	Flowchart      *GraphDocument  `json:"flowchart,omitempty"`
	Action         ExecuteAction   `json:"action"`
	Variables      map[string]any  `json:"variables,omitempty"`
	Inputs         []any           `json:"inputs,omitempty"`
	Options        *ExecuteOptions `json:"options,omitempty"`
	RestoreState   json.RawMessage `json:"restoreState,omitempty"`
	ForceAdvanceBP bool            `json:"forceAdvanceBP,omitempty"`
}

// ExecuteOptions tunes a single execute request.
type ExecuteOptions struct {
	IgnoreBreakpoints bool `json:"ignoreBreakpoints,omitempty"`
	HistoryLimit      int  `json:"historyLimit,omitempty"`
}

// NodeRef identifies a node in responses.
type NodeRef struct {
	ID    string `json:"id"`
	Kind  string `json:"kind"`
	Label string `json:"label,omitempty"`
}

// VariableSnapshot is one bound variable.
type VariableSnapshot struct {
	Name  string `json:"name"`
	Value any    `json:"value"`
	Type  string `json:"type"`
}

// ContextSnapshot is a point-in-time copy of an execution context.
type ContextSnapshot struct {
	Variables []VariableSnapshot `json:"variables"`
	Output    []string           `json:"output"`
}

// ExecuteResponse reports the outcome of an execute request.
type ExecuteResponse struct {
	SessionID    string          `json:"sessionId,omitempty"`
	ExecutedNode *NodeRef        `json:"executedNode,omitempty"`
	NextNodeID   string          `json:"nextNodeId,omitempty"`
	NextNodeKind string          `json:"nextNodeKind,omitempty"`
	Context      ContextSnapshot `json:"context"`
	Status       ExecutionStatus `json:"status"`
	Paused       bool            `json:"paused"`
	Done         bool            `json:"done"`
	StepCount    int             `json:"stepCount"`
	Error        *FlowError      `json:"error,omitempty"`
	State        json.RawMessage `json:"state,omitempty"`
}
