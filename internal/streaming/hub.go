package streaming

import "context"

// StreamEvent is a live trace event emitted while executing or grading a
// flowchart.
type StreamEvent struct {
	SessionID  string `json:"session_id"`
	NodeID     string `json:"node_id,omitempty"`
	TestcaseID string `json:"testcase_id,omitempty"`
	EventType  string `json:"event_type"`
	Payload    any    `json:"payload,omitempty"`
}

// EventFilter specifies which events a subscriber wants to receive.
type EventFilter struct {
	SessionID  string   `json:"session_id,omitempty"`
	EventTypes []string `json:"event_types,omitempty"`
}

// EventHub provides pub/sub for live execution and grading events.
type EventHub interface {
	Publish(ctx context.Context, event StreamEvent) error
	Subscribe(ctx context.Context, filter EventFilter) (<-chan StreamEvent, func(), error)
}

// Nop is an EventHub that drops every event.
type Nop struct{}

func (Nop) Publish(ctx context.Context, _ StreamEvent) error { return ctx.Err() }

func (Nop) Subscribe(ctx context.Context, _ EventFilter) (<-chan StreamEvent, func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	ch := make(chan StreamEvent)
	return ch, func() {}, nil
}
