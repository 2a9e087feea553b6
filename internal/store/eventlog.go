package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/rendis/flowlab/internal/streaming"
	"github.com/rendis/flowlab/pkg/schema"
)

// EventAppender is the part of a Store the event log writes through.
type EventAppender interface {
	AppendEvent(ctx context.Context, event *Event) error
	GetEvents(ctx context.Context, sessionID string, since int64) ([]*Event, error)
}

// EventLog persists live trace events and rebuilds session traces from them.
type EventLog struct {
	store  EventAppender
	logger *slog.Logger
	now    func() time.Time
}

// NewEventLog wraps a store to provide event persistence and replay.
func NewEventLog(s EventAppender, logger *slog.Logger) *EventLog {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventLog{store: s, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

// Append persists a stream event. Payloads are stored as JSON.
func (el *EventLog) Append(ctx context.Context, ev streaming.StreamEvent) (*Event, error) {
	if ev.SessionID == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "event has no session id")
	}
	e := &Event{
		SessionID:  ev.SessionID,
		NodeID:     ev.NodeID,
		TestcaseID: ev.TestcaseID,
		Type:       ev.EventType,
		Timestamp:  el.now(),
	}
	if ev.Payload != nil {
		raw, err := json.Marshal(ev.Payload)
		if err != nil {
			return nil, fmt.Errorf("marshal event payload: %w", err)
		}
		e.Payload = raw
	}
	if err := el.store.AppendEvent(ctx, e); err != nil {
		return nil, err
	}
	return e, nil
}

// Record subscribes to hub and persists every matching event until ctx is
// cancelled. Write failures are logged and do not stop the recorder.
func (el *EventLog) Record(ctx context.Context, hub streaming.EventHub, filter streaming.EventFilter) error {
	ch, cancel, err := hub.Subscribe(ctx, filter)
	if err != nil {
		return err
	}
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			// The subscription context is cancelled on shutdown; the write is not.
			if _, err := el.Append(context.WithoutCancel(ctx), ev); err != nil {
				el.logger.WarnContext(ctx, "event not recorded",
					"session_id", ev.SessionID, "event_type", ev.EventType, "error", err)
			}
		}
	}
}

// Events returns persisted events for a session with sequence > since.
func (el *EventLog) Events(ctx context.Context, sessionID string, since int64) ([]*Event, error) {
	return el.store.GetEvents(ctx, sessionID, since)
}

// SessionTrace is the state of a session rebuilt from its event log.
type SessionTrace struct {
	SessionID string                       `json:"session_id"`
	Status    schema.ExecutionStatus       `json:"status,omitempty"`
	Visited   []string                     `json:"visited,omitempty"`
	Testcases map[string]schema.TestStatus `json:"testcases,omitempty"`
	Completed bool                         `json:"completed"`
	LastSeq   int64                        `json:"last_sequence"`
}

// Replay rebuilds the trace of a session. A gap in the sequence is reported
// as STORE_ERROR.
func (el *EventLog) Replay(ctx context.Context, sessionID string) (*SessionTrace, error) {
	events, err := el.store.GetEvents(ctx, sessionID, 0)
	if err != nil {
		return nil, fmt.Errorf("get events for replay: %w", err)
	}

	trace := &SessionTrace{SessionID: sessionID, Testcases: make(map[string]schema.TestStatus)}
	for i, e := range events {
		if expected := int64(i + 1); e.Sequence != expected {
			return nil, schema.NewErrorf(schema.ErrCodeStore,
				"sequence gap in session %s: expected %d, got %d", sessionID, expected, e.Sequence)
		}
		trace.LastSeq = e.Sequence

		switch e.Type {
		case schema.EventExecutionStarted, schema.EventExecutionResumed:
			trace.Status = schema.ExecutionStatusRunning
		case schema.EventNodeExecuted:
			trace.Visited = append(trace.Visited, e.NodeID)
		case schema.EventExecutionPaused:
			trace.Status = schema.ExecutionStatusPaused
		case schema.EventExecutionFinished:
			trace.Status = schema.ExecutionStatusFinished
		case schema.EventExecutionFailed:
			trace.Status = schema.ExecutionStatusFailed
		case schema.EventExecutionReset:
			trace.Status = ""
			trace.Visited = nil
		case schema.EventTestcaseStarted:
			trace.Testcases[e.TestcaseID] = ""
		case schema.EventTestcaseCompleted:
			var p struct {
				Status string `json:"status"`
			}
			_ = json.Unmarshal(e.Payload, &p)
			trace.Testcases[e.TestcaseID] = schema.TestStatus(p.Status)
		case schema.EventSessionCompleted:
			trace.Completed = true
		}
	}
	return trace, nil
}
