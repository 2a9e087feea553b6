package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/flowlab/internal/streaming"
	"github.com/rendis/flowlab/pkg/schema"
)

func TestEventLog_AppendMonotonicSequence(t *testing.T) {
	backends(t, func(t *testing.T, s Store) {
		el := NewEventLog(s, nil)
		ctx := context.Background()

		for i := 0; i < 5; i++ {
			e, err := el.Append(ctx, streaming.StreamEvent{SessionID: "sess", NodeID: "n", EventType: schema.EventNodeExecuted})
			require.NoError(t, err)
			assert.Equal(t, int64(i+1), e.Sequence)
		}
		e, err := el.Append(ctx, streaming.StreamEvent{SessionID: "other", EventType: schema.EventExecutionStarted})
		require.NoError(t, err)
		assert.Equal(t, int64(1), e.Sequence, "sequences are per session")

		events, err := el.Events(ctx, "sess", 3)
		require.NoError(t, err)
		require.Len(t, events, 2)
		assert.Equal(t, int64(4), events[0].Sequence)
	})
}

func TestEventLog_PayloadIsJSON(t *testing.T) {
	backends(t, func(t *testing.T, s Store) {
		el := NewEventLog(s, nil)
		ctx := context.Background()
		_, err := el.Append(ctx, streaming.StreamEvent{
			SessionID:  "g1",
			TestcaseID: "tc",
			EventType:  schema.EventTestcaseCompleted,
			Payload:    map[string]any{"status": "PASS", "score_awarded": 2.5},
		})
		require.NoError(t, err)

		events, err := el.Events(ctx, "g1", 0)
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Equal(t, "tc", events[0].TestcaseID)
		assert.JSONEq(t, `{"status":"PASS","score_awarded":2.5}`, string(events[0].Payload))
	})
}

func TestEventLog_AppendRequiresSession(t *testing.T) {
	el := NewEventLog(NewMemoryStore(), nil)
	_, err := el.Append(context.Background(), streaming.StreamEvent{EventType: schema.EventNodeExecuted})
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))
}

func TestEventLog_ReplayExecution(t *testing.T) {
	backends(t, func(t *testing.T, s Store) {
		el := NewEventLog(s, nil)
		ctx := context.Background()
		for _, ev := range []streaming.StreamEvent{
			{EventType: schema.EventExecutionStarted, NodeID: "n_start"},
			{EventType: schema.EventNodeExecuted, NodeID: "n_start"},
			{EventType: schema.EventNodeExecuted, NodeID: "c1"},
			{EventType: schema.EventExecutionPaused, NodeID: "bp_c1"},
			{EventType: schema.EventExecutionResumed, NodeID: "bp_c1"},
			{EventType: schema.EventNodeExecuted, NodeID: "bp_c1"},
			{EventType: schema.EventExecutionFinished, NodeID: "n_end"},
		} {
			ev.SessionID = "run-1"
			_, err := el.Append(ctx, ev)
			require.NoError(t, err)
		}

		trace, err := el.Replay(ctx, "run-1")
		require.NoError(t, err)
		assert.Equal(t, schema.ExecutionStatusFinished, trace.Status)
		assert.Equal(t, []string{"n_start", "c1", "bp_c1"}, trace.Visited)
		assert.Equal(t, int64(7), trace.LastSeq)
		assert.False(t, trace.Completed)
	})
}

func TestEventLog_ReplayResetClearsVisited(t *testing.T) {
	el := NewEventLog(NewMemoryStore(), nil)
	ctx := context.Background()
	for _, typ := range []string{schema.EventExecutionStarted, schema.EventNodeExecuted, schema.EventExecutionReset} {
		_, err := el.Append(ctx, streaming.StreamEvent{SessionID: "r", NodeID: "n_start", EventType: typ})
		require.NoError(t, err)
	}
	trace, err := el.Replay(ctx, "r")
	require.NoError(t, err)
	assert.Empty(t, trace.Visited)
	assert.Equal(t, schema.ExecutionStatus(""), trace.Status)
}

func TestEventLog_ReplayGrading(t *testing.T) {
	el := NewEventLog(NewMemoryStore(), nil)
	ctx := context.Background()
	events := []streaming.StreamEvent{
		{TestcaseID: "a", EventType: schema.EventTestcaseStarted},
		{TestcaseID: "b", EventType: schema.EventTestcaseStarted},
		{TestcaseID: "a", EventType: schema.EventTestcaseCompleted, Payload: map[string]any{"status": "PASS"}},
		{EventType: schema.EventSessionCompleted},
	}
	for _, ev := range events {
		ev.SessionID = "grade-1"
		_, err := el.Append(ctx, ev)
		require.NoError(t, err)
	}

	trace, err := el.Replay(ctx, "grade-1")
	require.NoError(t, err)
	assert.True(t, trace.Completed)
	assert.Equal(t, schema.TestStatusPass, trace.Testcases["a"])
	assert.Equal(t, schema.TestStatus(""), trace.Testcases["b"], "started but never completed")
}

// gappyStore returns events with a missing sequence number.
type gappyStore struct{ *MemoryStore }

func (g gappyStore) GetEvents(ctx context.Context, sessionID string, since int64) ([]*Event, error) {
	return []*Event{{SessionID: sessionID, Sequence: 1}, {SessionID: sessionID, Sequence: 3}}, nil
}

func TestEventLog_ReplaySequenceGap(t *testing.T) {
	el := NewEventLog(gappyStore{NewMemoryStore()}, nil)
	_, err := el.Replay(context.Background(), "s")
	assert.True(t, schema.IsCode(err, schema.ErrCodeStore))
}

func TestEventLog_RecordFromHub(t *testing.T) {
	hub := streaming.NewMemoryHub()
	s := NewMemoryStore()
	el := NewEventLog(s, nil)

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = el.Record(ctx, hub, streaming.EventFilter{})
	}()
	require.Eventually(t, func() bool { return hub.Subscribers() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, hub.Publish(ctx, streaming.StreamEvent{SessionID: "live", EventType: schema.EventExecutionStarted}))
	require.NoError(t, hub.Publish(ctx, streaming.StreamEvent{SessionID: "live", NodeID: "o1", EventType: schema.EventNodeExecuted}))

	require.Eventually(t, func() bool {
		events, err := s.GetEvents(context.Background(), "live", 0)
		return err == nil && len(events) == 2
	}, time.Second, 5*time.Millisecond)

	cancel()
	wg.Wait()
	assert.Equal(t, 0, hub.Subscribers())
}
