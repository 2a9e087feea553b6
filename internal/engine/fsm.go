package engine

import (
	"context"
	"sync"

	"github.com/rendis/flowlab/internal/streaming"
	"github.com/rendis/flowlab/pkg/schema"
)

// TransitionHook is called before or after a status transition.
type TransitionHook func(from, to schema.ExecutionStatus) error

type statusHookKey struct {
	from, to schema.ExecutionStatus
}

// StatusFSM validates executor status transitions against
// ValidStatusTransitions and publishes the matching trace event.
type StatusFSM struct {
	mu     sync.Mutex
	hub    streaming.EventHub
	before map[statusHookKey][]TransitionHook
	after  map[statusHookKey][]TransitionHook
}

// NewStatusFSM creates a StatusFSM publishing on hub. A nil hub drops events.
func NewStatusFSM(hub streaming.EventHub) *StatusFSM {
	if hub == nil {
		hub = streaming.Nop{}
	}
	return &StatusFSM{
		hub:    hub,
		before: make(map[statusHookKey][]TransitionHook),
		after:  make(map[statusHookKey][]TransitionHook),
	}
}

// OnBefore registers a hook called before a transition. A hook error aborts
// the transition.
func (f *StatusFSM) OnBefore(from, to schema.ExecutionStatus, hook TransitionHook) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := statusHookKey{from, to}
	f.before[key] = append(f.before[key], hook)
}

// OnAfter registers a hook called after a transition.
func (f *StatusFSM) OnAfter(from, to schema.ExecutionStatus, hook TransitionHook) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := statusHookKey{from, to}
	f.after[key] = append(f.after[key], hook)
}

// Transition validates from -> to, runs the hooks and publishes the event.
// payload is attached to the published event.
func (f *StatusFSM) Transition(ctx context.Context, sessionID, nodeID string, from, to schema.ExecutionStatus, payload any) error {
	return f.TransitionAs(ctx, sessionID, nodeID, from, to, statusEventType(from, to), payload)
}

// TransitionAs is Transition publishing eventType instead of the event the
// table derives, as a reset does when it leaves a paused or terminal status.
func (f *StatusFSM) TransitionAs(ctx context.Context, sessionID, nodeID string, from, to schema.ExecutionStatus, eventType string, payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !IsValidTransition(from, to) {
		return schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"invalid execution transition: %s -> %s", from, to).
			WithNode(nodeID).
			WithDetails(map[string]any{"session_id": sessionID, "from": string(from), "to": string(to)})
	}

	key := statusHookKey{from, to}
	for _, hook := range f.before[key] {
		if err := hook(from, to); err != nil {
			return err
		}
	}

	if eventType != "" {
		// Trace delivery is best effort; a closed subscriber never fails a step.
		_ = f.hub.Publish(ctx, streaming.StreamEvent{
			SessionID: sessionID,
			NodeID:    nodeID,
			EventType: eventType,
			Payload:   payload,
		})
	}

	for _, hook := range f.after[key] {
		if err := hook(from, to); err != nil {
			return err
		}
	}
	return nil
}

// IsValidTransition reports whether the table allows from -> to.
func IsValidTransition(from, to schema.ExecutionStatus) bool {
	for _, a := range ValidStatusTransitions[from] {
		if a == to {
			return true
		}
	}
	return false
}

func statusEventType(from, to schema.ExecutionStatus) string {
	switch to {
	case schema.ExecutionStatusRunning:
		if from == schema.ExecutionStatusPaused {
			return schema.EventExecutionResumed
		}
		return schema.EventExecutionReset
	case schema.ExecutionStatusPaused:
		return schema.EventExecutionPaused
	case schema.ExecutionStatusFinished:
		return schema.EventExecutionFinished
	case schema.ExecutionStatusFailed:
		return schema.EventExecutionFailed
	}
	return ""
}

// ValidStatusTransitions defines the allowed executor status transitions.
// Leaving a terminal status is only possible through a reset.
var ValidStatusTransitions = map[schema.ExecutionStatus][]schema.ExecutionStatus{
	schema.ExecutionStatusRunning:  {schema.ExecutionStatusPaused, schema.ExecutionStatusFinished, schema.ExecutionStatusFailed},
	schema.ExecutionStatusPaused:   {schema.ExecutionStatusRunning, schema.ExecutionStatusFailed},
	schema.ExecutionStatusFinished: {schema.ExecutionStatusRunning},
	schema.ExecutionStatusFailed:   {schema.ExecutionStatusRunning},
}
