package engine

import (
	"encoding/json"
	"time"

	"github.com/rendis/flowlab/internal/graph"
	"github.com/rendis/flowlab/pkg/schema"
)

// stateVersion is bumped whenever ExecutorState changes incompatibly.
const stateVersion = 1

// HistoryEntry records the context right after a node ran.
type HistoryEntry struct {
	NodeID  string                 `json:"nodeId"`
	Context schema.ContextSnapshot `json:"context"`
}

// ExecutorState is the complete serializable state of an Executor. Restoring
// it into a fresh Executor over the same graph reproduces the same
// subsequent behavior.
type ExecutorState struct {
	Version       int                               `json:"version"`
	CurrentNodeID string                            `json:"currentNodeId"`
	Status        schema.ExecutionStatus            `json:"status"`
	Finished      bool                              `json:"finished"`
	Paused        bool                              `json:"paused"`
	PendingEdgeID string                            `json:"pendingEdgeId,omitempty"`
	StepCount     int                               `json:"stepCount"`
	ElapsedMs     int64                             `json:"elapsedMs"`
	Error         *schema.FlowError                 `json:"error,omitempty"`
	History       []HistoryEntry                    `json:"history,omitempty"`
	Loops         map[string]graph.LoopRuntimeState `json:"loops,omitempty"`
	Context       *Context                          `json:"context"`
	InputPosition int                               `json:"inputPosition,omitempty"`
}

// Snapshot captures the executor state. The result shares nothing with the
// executor.
func (e *Executor) Snapshot() *ExecutorState {
	st := &ExecutorState{
		Version:       stateVersion,
		CurrentNodeID: e.current,
		Status:        e.status,
		Finished:      e.status.Terminal(),
		Paused:        e.status == schema.ExecutionStatusPaused,
		PendingEdgeID: e.pending,
		StepCount:     e.steps,
		ElapsedMs:     e.elapsed.Milliseconds(),
		History:       append([]HistoryEntry(nil), e.history...),
		Context:       e.rt.Vars.Clone(),
	}
	if e.err != nil {
		fe := *e.err
		fe.Cause = nil
		st.Error = &fe
	}
	for _, n := range e.graph.Nodes() {
		if n.Loop == nil {
			continue
		}
		if st.Loops == nil {
			st.Loops = make(map[string]graph.LoopRuntimeState)
		}
		st.Loops[n.ID] = *n.Loop.Clone()
	}
	if s, ok := e.rt.Input.(Seeker); ok {
		st.InputPosition = s.Position()
	}
	return st
}

// Restore replaces the executor state with st. The graph must be the one the
// state was taken from: every referenced node and edge has to exist.
func (e *Executor) Restore(st *ExecutorState) error {
	if st == nil {
		return schema.NewError(schema.ErrCodeValidation, "state is nil")
	}
	if st.Version > stateVersion {
		return schema.NewErrorf(schema.ErrCodeValidation, "unsupported state version %d", st.Version)
	}
	if _, ok := e.graph.Node(st.CurrentNodeID); !ok {
		return schema.NewErrorf(schema.ErrCodeValidation,
			"state refers to unknown node %q", st.CurrentNodeID)
	}
	if st.PendingEdgeID != "" {
		if _, ok := e.graph.Edge(st.PendingEdgeID); !ok {
			return schema.NewErrorf(schema.ErrCodeValidation,
				"state refers to unknown edge %q", st.PendingEdgeID)
		}
	}
	for id := range st.Loops {
		if n, ok := e.graph.Node(id); !ok || !n.Kind.IsLoop() {
			return schema.NewErrorf(schema.ErrCodeValidation,
				"state carries loop state for non-loop node %q", id)
		}
	}

	status := st.Status
	if status == "" {
		switch {
		case st.Error != nil:
			status = schema.ExecutionStatusFailed
		case st.Finished:
			status = schema.ExecutionStatusFinished
		case st.Paused:
			status = schema.ExecutionStatusPaused
		default:
			status = schema.ExecutionStatusRunning
		}
	}
	if status == schema.ExecutionStatusPaused && st.PendingEdgeID == "" {
		return schema.NewError(schema.ErrCodeValidation, "paused state without pending edge")
	}

	e.status = status
	e.current = st.CurrentNodeID
	e.pending = st.PendingEdgeID
	e.steps = st.StepCount
	e.elapsed = time.Duration(st.ElapsedMs) * time.Millisecond
	e.err = st.Error
	e.history = append([]HistoryEntry(nil), st.History...)

	e.rt.Vars = NewContext()
	if st.Context != nil {
		e.rt.Vars = st.Context.Clone()
	}

	e.graph.ResetLoops()
	for id, ls := range st.Loops {
		n, _ := e.graph.Node(id)
		n.Loop = ls.Clone()
	}

	if s, ok := e.rt.Input.(Seeker); ok {
		s.Seek(st.InputPosition)
	}
	return nil
}

// MarshalState serializes the current state.
func (e *Executor) MarshalState() (json.RawMessage, error) {
	b, err := json.Marshal(e.Snapshot())
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "marshal state: %s", err.Error()).WithCause(err)
	}
	return b, nil
}

// RestoreJSON restores a state produced by MarshalState.
func (e *Executor) RestoreJSON(raw json.RawMessage) error {
	var st ExecutorState
	if err := json.Unmarshal(raw, &st); err != nil {
		return schema.NewErrorf(schema.ErrCodeValidation, "invalid state: %s", err.Error()).WithCause(err)
	}
	return e.Restore(&st)
}
