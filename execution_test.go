package thenvoi

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingHandler collects processed message IDs in arrival order.
type recordingHandler struct {
	mu  sync.Mutex
	ids []string
}

func (h *recordingHandler) handle(ctx context.Context, in *AgentInput) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ids = append(h.ids, in.Message.ID)
	return nil
}

func (h *recordingHandler) snapshot() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, len(h.ids))
	copy(out, h.ids)
	return out
}

func newTestExecution(roomID string, rest RestAPI, handler ExecutionHandler, opts ...RuntimeOption) *ExecutionContext {
	base := []RuntimeOption{WithContextHydration(false), WithLogger(testLogger())}
	return NewExecutionContext(roomID, newTestLink(rest), handler, append(base, opts...)...)
}

func TestExecutionProcessesInOrder(t *testing.T) {
	handler := &recordingHandler{}
	ec := newTestExecution("room-1", &stubRest{}, handler.handle)

	ids := []string{"m1", "m2", "m3", "m4", "m5"}
	for _, id := range ids {
		ec.Enqueue(liveMessage("room-1", id, "user-9", "hello "+id))
	}

	require.NoError(t, ec.Start(context.Background()))
	defer ec.Stop(context.Background())

	require.Eventually(t, func() bool {
		return len(handler.snapshot()) == len(ids)
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, ids, handler.snapshot())
}

func TestExecutionRoomIsolation(t *testing.T) {
	release := make(chan struct{})
	blocked := func(ctx context.Context, in *AgentInput) error {
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil
	}
	handler := &recordingHandler{}

	slow := newTestExecution("room-a", &stubRest{}, blocked)
	fast := newTestExecution("room-b", &stubRest{}, handler.handle)

	require.NoError(t, slow.Start(context.Background()))
	require.NoError(t, fast.Start(context.Background()))
	defer func() {
		close(release)
		slow.Stop(context.Background())
		fast.Stop(context.Background())
	}()

	slow.Enqueue(liveMessage("room-a", "a1", "user-9", "stall"))
	fast.Enqueue(liveMessage("room-b", "b1", "user-9", "go"))
	fast.Enqueue(liveMessage("room-b", "b2", "user-9", "go"))

	// The stalled room must not hold up the other room's worker.
	require.Eventually(t, func() bool {
		return len(handler.snapshot()) == 2
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"b1", "b2"}, handler.snapshot())
}

func TestExecutionSkipsOwnMessages(t *testing.T) {
	var processing atomic.Int32
	rest := &stubRest{
		MarkProcessingFunc: func(ctx context.Context, roomID, messageID string) error {
			processing.Add(1)
			return nil
		},
	}
	handler := &recordingHandler{}
	ec := newTestExecution("room-1", rest, handler.handle)

	own := liveMessage("room-1", "m1", "agent-1", "my own echo")
	ec.Enqueue(own)
	ec.Enqueue(liveMessage("room-1", "m2", "user-9", "real one"))

	require.NoError(t, ec.Start(context.Background()))
	defer ec.Stop(context.Background())

	require.Eventually(t, func() bool {
		return len(handler.snapshot()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"m2"}, handler.snapshot())
	assert.Equal(t, int32(1), processing.Load(), "own message must not be marked processing")
}

func TestExecutionSkipsDuplicates(t *testing.T) {
	var processed atomic.Int32
	rest := &stubRest{
		MarkProcessedFunc: func(ctx context.Context, roomID, messageID string) error {
			processed.Add(1)
			return nil
		},
	}
	handler := &recordingHandler{}
	ec := newTestExecution("room-1", rest, handler.handle)

	ec.Enqueue(liveMessage("room-1", "m1", "user-9", "once"))
	ec.Enqueue(liveMessage("room-1", "m1", "user-9", "once"))
	ec.Enqueue(liveMessage("room-1", "m2", "user-9", "twice"))

	require.NoError(t, ec.Start(context.Background()))
	defer ec.Stop(context.Background())

	require.Eventually(t, func() bool {
		return len(handler.snapshot()) == 2
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"m1", "m2"}, handler.snapshot())
	assert.Equal(t, int32(2), processed.Load())
}

func TestExecutionRetryExhaustion(t *testing.T) {
	var failed atomic.Int32
	rest := &stubRest{
		MarkFailedFunc: func(ctx context.Context, roomID, messageID, errMsg string) error {
			failed.Add(1)
			return nil
		},
	}
	var calls atomic.Int32
	failing := func(ctx context.Context, in *AgentInput) error {
		calls.Add(1)
		return errors.New("model unavailable")
	}
	ec := newTestExecution("room-1", rest, failing, WithMaxRetries(2))

	for range 3 {
		ec.Enqueue(liveMessage("room-1", "m1", "user-9", "doomed"))
	}

	require.NoError(t, ec.Start(context.Background()))
	defer ec.Stop(context.Background())

	require.Eventually(t, func() bool {
		return ec.Retries().IsPermanentlyFailed("m1")
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, int32(2), failed.Load())

	// Further deliveries of the failed message are dropped outright.
	ec.Enqueue(liveMessage("room-1", "m1", "user-9", "doomed"))
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(2), calls.Load())
}

func TestExecutionHandlerPanicMarksFailed(t *testing.T) {
	failedReason := make(chan string, 1)
	rest := &stubRest{
		MarkFailedFunc: func(ctx context.Context, roomID, messageID, errMsg string) error {
			failedReason <- errMsg
			return nil
		},
	}
	panicking := func(ctx context.Context, in *AgentInput) error {
		panic("boom")
	}
	ec := newTestExecution("room-1", rest, panicking, WithMaxRetries(1))

	ec.Enqueue(liveMessage("room-1", "m1", "user-9", "trigger"))
	require.NoError(t, ec.Start(context.Background()))
	defer ec.Stop(context.Background())

	select {
	case reason := <-failedReason:
		assert.Contains(t, reason, "handler panic")
		assert.Contains(t, reason, "boom")
	case <-time.After(2 * time.Second):
		t.Fatal("panic was not reported as a failure")
	}
	assert.True(t, ec.IsRunning(), "worker must survive a handler panic")
}

func TestExecutionBacklogSynchronization(t *testing.T) {
	backlog := []*PlatformMessage{
		{
			ID: "m1", RoomID: "room-1", Content: "missed one",
			SenderID: "user-9", SenderType: SenderUser, SenderName: "Alice",
			Metadata: MessageMetadata{Mentions: []Mention{{ID: "agent-1", Username: "Test Agent"}}},
		},
		{
			ID: "m2", RoomID: "room-1", Content: "missed two",
			SenderID: "user-9", SenderType: SenderUser, SenderName: "Alice",
			Metadata: MessageMetadata{Mentions: []Mention{{ID: "agent-1", Username: "Test Agent"}}},
		},
		{
			ID: "m3", RoomID: "room-1", Content: "also live",
			SenderID: "user-9", SenderType: SenderUser, SenderName: "Alice",
			Metadata: MessageMetadata{Mentions: []Mention{{ID: "agent-1", Username: "Test Agent"}}},
		},
	}
	var next atomic.Int32
	rest := &stubRest{
		NextMessageFunc: func(ctx context.Context, roomID string) (*PlatformMessage, error) {
			i := int(next.Add(1)) - 1
			if i < len(backlog) {
				return backlog[i], nil
			}
			return nil, nil
		},
	}
	handler := &recordingHandler{}
	ec := newTestExecution("room-1", rest, handler.handle)

	// m3 arrives live before the worker starts, marking the sync point.
	// The backlog also contains it, so it must be processed exactly once.
	ec.Enqueue(liveMessage("room-1", "m3", "user-9", "also live"))
	ec.Enqueue(liveMessage("room-1", "m4", "user-9", "purely live"))

	require.NoError(t, ec.Start(context.Background()))
	defer ec.Stop(context.Background())

	require.Eventually(t, func() bool {
		return len(handler.snapshot()) == 4
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"m1", "m2", "m3", "m4"}, handler.snapshot())
	assert.Equal(t, int32(3), next.Load(), "polling must stop at the sync point")
}

func TestExecutionBacklogEmpty(t *testing.T) {
	var polls atomic.Int32
	rest := &stubRest{
		NextMessageFunc: func(ctx context.Context, roomID string) (*PlatformMessage, error) {
			polls.Add(1)
			return nil, nil
		},
	}
	ec := newTestExecution("room-1", rest, (&recordingHandler{}).handle)

	require.NoError(t, ec.Start(context.Background()))
	defer ec.Stop(context.Background())

	require.Eventually(t, func() bool {
		return ec.State() == StateIdle
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, int32(1), polls.Load())
}

func TestExecutionStartStop(t *testing.T) {
	ec := newTestExecution("room-1", &stubRest{}, (&recordingHandler{}).handle)

	require.NoError(t, ec.Start(context.Background()))
	assert.ErrorIs(t, ec.Start(context.Background()), ErrAlreadyRunning)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, ec.Stop(ctx))
	assert.False(t, ec.IsRunning())

	// Stopping an idle context is a no-op.
	require.NoError(t, ec.Stop(ctx))
}

func TestExecutionStopDrainsInFlightHandler(t *testing.T) {
	started := make(chan struct{})
	var finished, cancelled atomic.Bool
	slow := func(ctx context.Context, in *AgentInput) error {
		close(started)
		select {
		case <-time.After(300 * time.Millisecond):
			finished.Store(true)
		case <-ctx.Done():
			cancelled.Store(true)
		}
		return nil
	}
	ec := newTestExecution("room-1", &stubRest{}, slow)

	require.NoError(t, ec.Start(context.Background()))
	ec.Enqueue(liveMessage("room-1", "m1", "user-9", "take your time"))
	<-started

	stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, ec.Stop(stopCtx))
	assert.True(t, finished.Load(), "the in-flight handler must run to completion")
	assert.False(t, cancelled.Load(), "stop within the budget must not cancel the handler")
}

func TestExecutionStopForceCancelsAfterBudget(t *testing.T) {
	started := make(chan struct{})
	var cancelled atomic.Bool
	stuck := func(ctx context.Context, in *AgentInput) error {
		close(started)
		<-ctx.Done()
		cancelled.Store(true)
		return ctx.Err()
	}
	ec := newTestExecution("room-1", &stubRest{}, stuck)

	require.NoError(t, ec.Start(context.Background()))
	ec.Enqueue(liveMessage("room-1", "m1", "user-9", "never returns"))
	<-started

	stopCtx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := ec.Stop(stopCtx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Eventually(t, func() bool {
		return cancelled.Load()
	}, 2*time.Second, 10*time.Millisecond, "an exhausted budget must cancel the handler")
}

func TestExecutionQueueOverflowDrops(t *testing.T) {
	ec := newTestExecution("room-1", &stubRest{}, (&recordingHandler{}).handle, WithQueueSize(2))

	// Worker not started: the queue fills and further events are dropped
	// without blocking the caller.
	done := make(chan struct{})
	go func() {
		for range 10 {
			ec.Enqueue(liveMessage("room-1", GenerateID(PrefixMessage), "user-9", "n"))
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Enqueue blocked on a full queue")
	}
}
