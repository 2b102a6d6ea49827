package events

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestBus_PostAndSubscribe(t *testing.T) {
	bus := NewBus(zaptest.NewLogger(t), 10)
	defer bus.Shutdown()

	ch, unsubscribe := bus.Subscribe(ActionStarted, ActionCompleted)
	defer unsubscribe()

	ctx := context.Background()
	require.NoError(t, bus.Post(ctx, Event{Type: ActionStarted, Iteration: 1}))
	require.NoError(t, bus.Post(ctx, Event{Type: Thinking}), "unsubscribed types are accepted and dropped")
	require.NoError(t, bus.Post(ctx, Event{Type: ActionCompleted, Iteration: 1}))

	first := <-ch
	assert.Equal(t, ActionStarted, first.Type)
	assert.NotEmpty(t, first.ID, "ID is filled in")
	assert.False(t, first.Timestamp.IsZero(), "Timestamp is filled in")

	second := <-ch
	assert.Equal(t, ActionCompleted, second.Type)

	select {
	case ev := <-ch:
		t.Fatalf("unexpected event %s", ev.Type)
	default:
	}
}

func TestBus_SubscribeAll(t *testing.T) {
	bus := NewBus(zaptest.NewLogger(t), len(AllTypes))
	defer bus.Shutdown()

	ch, unsubscribe := bus.Subscribe()
	defer unsubscribe()

	for _, typ := range AllTypes {
		require.NoError(t, bus.Post(context.Background(), Event{Type: typ}))
	}
	for _, typ := range AllTypes {
		assert.Equal(t, typ, (<-ch).Type)
	}
}

func TestBus_RejectsUnknownType(t *testing.T) {
	bus := NewBus(zaptest.NewLogger(t), 1)
	defer bus.Shutdown()

	err := bus.Post(context.Background(), Event{Type: "iteration_begun"})
	assert.ErrorContains(t, err, "unknown event type")
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := NewBus(zaptest.NewLogger(t), 1)
	defer bus.Shutdown()

	ch, unsubscribe := bus.Subscribe(TaskCompleted)
	unsubscribe()
	unsubscribe() // Idempotent.

	_, open := <-ch
	assert.False(t, open, "channel is closed after unsubscribe")
	assert.NoError(t, bus.Post(context.Background(), Event{Type: TaskCompleted}))
}

func TestBus_BackpressureRespectsContext(t *testing.T) {
	bus := NewBus(zaptest.NewLogger(t), 1)
	defer bus.Shutdown()

	_, unsubscribe := bus.Subscribe(Thinking)
	defer unsubscribe()

	require.NoError(t, bus.Post(context.Background(), Event{Type: Thinking}))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := bus.Post(ctx, Event{Type: Thinking})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestBus_ShutdownUnblocksPosters(t *testing.T) {
	bus := NewBus(zaptest.NewLogger(t), 1)
	_, _ = bus.Subscribe(Thinking)

	require.NoError(t, bus.Post(context.Background(), Event{Type: Thinking}))

	var wg sync.WaitGroup
	wg.Add(1)
	var postErr error
	go func() {
		defer wg.Done()
		postErr = bus.Post(context.Background(), Event{Type: Thinking})
	}()

	// Give the poster time to block on the full buffer.
	time.Sleep(20 * time.Millisecond)
	bus.Shutdown()
	wg.Wait()

	assert.Error(t, postErr)
	assert.ErrorContains(t, bus.Post(context.Background(), Event{Type: Thinking}), "shut down")
}

func TestBus_EmitNeverFails(t *testing.T) {
	bus := NewBus(zaptest.NewLogger(t), 1)
	bus.Shutdown()

	assert.NotPanics(t, func() {
		bus.Emit(context.Background(), Event{Type: TaskFailed})
	})
}
