package streaming

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/flowlab/pkg/schema"
)

func receive(t *testing.T, ch <-chan StreamEvent) StreamEvent {
	t.Helper()
	select {
	case got := <-ch:
		return got
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
	return StreamEvent{}
}

func requireEmpty(t *testing.T, ch <-chan StreamEvent) {
	t.Helper()
	select {
	case evt := <-ch:
		t.Fatalf("unexpected event: %+v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPublishSubscribe(t *testing.T) {
	hub := NewMemoryHub()
	ctx := context.Background()

	ch, cancel, err := hub.Subscribe(ctx, EventFilter{})
	require.NoError(t, err)
	defer cancel()

	event := StreamEvent{
		SessionID: "s-1",
		NodeID:    "d1",
		EventType: schema.EventNodeExecuted,
		Payload:   map[string]any{"step": 1},
	}
	require.NoError(t, hub.Publish(ctx, event))

	got := receive(t, ch)
	assert.Equal(t, event.SessionID, got.SessionID)
	assert.Equal(t, event.NodeID, got.NodeID)
	assert.Equal(t, event.EventType, got.EventType)
}

func TestFilterBySessionAndType(t *testing.T) {
	hub := NewMemoryHub()
	ctx := context.Background()

	ch, cancel, err := hub.Subscribe(ctx, EventFilter{
		SessionID:  "s-1",
		EventTypes: []string{schema.EventExecutionPaused, schema.EventExecutionFinished},
	})
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, hub.Publish(ctx, StreamEvent{SessionID: "s-2", EventType: schema.EventExecutionPaused}))
	require.NoError(t, hub.Publish(ctx, StreamEvent{SessionID: "s-1", EventType: schema.EventNodeExecuted}))
	require.NoError(t, hub.Publish(ctx, StreamEvent{SessionID: "s-1", EventType: schema.EventExecutionPaused}))
	require.NoError(t, hub.Publish(ctx, StreamEvent{SessionID: "s-1", EventType: schema.EventExecutionFinished}))

	assert.Equal(t, schema.EventExecutionPaused, receive(t, ch).EventType)
	assert.Equal(t, schema.EventExecutionFinished, receive(t, ch).EventType)
	requireEmpty(t, ch)
}

func TestCancelSubscription(t *testing.T) {
	hub := NewMemoryHub()
	ctx := context.Background()

	ch, cancel, err := hub.Subscribe(ctx, EventFilter{})
	require.NoError(t, err)
	assert.Equal(t, 1, hub.Subscribers())

	cancel()
	cancel()
	assert.Equal(t, 0, hub.Subscribers())

	require.NoError(t, hub.Publish(ctx, StreamEvent{SessionID: "s-1", EventType: "tick"}))
	requireEmpty(t, ch)
}

func TestBackpressureDropsAndCounts(t *testing.T) {
	hub := NewMemoryHub(4)
	ctx := context.Background()

	ch, cancel, err := hub.Subscribe(ctx, EventFilter{})
	require.NoError(t, err)
	defer cancel()

	for i := 0; i < 10; i++ {
		require.NoError(t, hub.Publish(ctx, StreamEvent{SessionID: "s-1", EventType: "tick"}))
	}
	assert.Len(t, ch, 4)
	assert.Equal(t, uint64(6), hub.Dropped())
}

func TestConcurrentAccess(t *testing.T) {
	hub := NewMemoryHub()
	ctx := context.Background()
	const goroutines = 20

	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_ = hub.Publish(ctx, StreamEvent{SessionID: "s-concurrent", EventType: "tick"})
			}
		}()
		go func() {
			defer wg.Done()
			ch, cancel, err := hub.Subscribe(ctx, EventFilter{})
			if err != nil {
				return
			}
			for range 5 {
				select {
				case <-ch:
				case <-time.After(10 * time.Millisecond):
				}
			}
			cancel()
		}()
	}
	wg.Wait()
	assert.Equal(t, 0, hub.Subscribers())
}

func TestCancelledContext(t *testing.T) {
	hub := NewMemoryHub()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, hub.Publish(ctx, StreamEvent{SessionID: "s-1"}), context.Canceled)
	_, _, err := hub.Subscribe(ctx, EventFilter{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, Nop{}.Publish(ctx, StreamEvent{}), context.Canceled)
}
