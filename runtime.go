package thenvoi

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// Runtime manages an agent's presence across rooms and the per-room
// execution contexts behind it. Events for one room are serialized;
// rooms run independently, so a failure in one never stalls another.
type Runtime struct {
	link    *Link
	handler ExecutionHandler
	opts    runtimeOptions
	logger  *slog.Logger

	mu         sync.Mutex
	profile    *AgentProfile
	executions map[string]*ExecutionContext
	running    bool
	baseCtx    context.Context
	baseCancel context.CancelFunc
}

// NewRuntime builds a runtime around a Link and an execution handler.
func NewRuntime(link *Link, handler ExecutionHandler, opts ...RuntimeOption) *Runtime {
	o := resolveRuntimeOptions(opts)
	return &Runtime{
		link:       link,
		handler:    handler,
		opts:       o,
		logger:     o.logger,
		executions: make(map[string]*ExecutionContext),
	}
}

// Profile returns the agent's platform identity, available after Start.
func (r *Runtime) Profile() *AgentProfile {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.profile
}

// Execution returns the live execution context for a room, if any.
func (r *Runtime) Execution(roomID string) (*ExecutionContext, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ec, ok := r.executions[roomID]
	return ec, ok
}

// ActiveRooms returns the rooms with a live execution context.
func (r *Runtime) ActiveRooms() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.executions))
	for id := range r.executions {
		out = append(out, id)
	}
	return out
}

// Start brings the runtime up: it verifies the agent's identity,
// connects the link, subscribes to the lifecycle topic, and joins any
// rooms the agent is already in. An agent without a name or
// description on the platform cannot start.
func (r *Runtime) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return ErrAlreadyRunning
	}
	r.running = true
	r.baseCtx, r.baseCancel = context.WithCancel(context.WithoutCancel(ctx))
	r.mu.Unlock()

	profile, err := r.link.Rest().Me(ctx)
	if err != nil {
		r.markStopped()
		if IsAuth(err) {
			return err
		}
		return configError("fetch agent metadata", "cannot fetch agent profile: %v", err)
	}
	if err := profile.validate(r.link.AgentID()); err != nil {
		r.markStopped()
		return err
	}
	r.mu.Lock()
	r.profile = profile
	r.mu.Unlock()
	r.logger.Info("agent identity verified", "agent_id", r.link.AgentID(), "name", profile.Name)

	r.link.OnEvent(r.dispatch)
	if err := r.link.Connect(ctx); err != nil {
		r.markStopped()
		return err
	}
	if err := r.link.SubscribeAgentRooms(ctx); err != nil {
		r.markStopped()
		return err
	}
	if r.opts.autoSubscribe {
		r.subscribeExistingRooms(ctx)
	}
	r.logger.Info("runtime started")
	return nil
}

func (r *Runtime) markStopped() {
	r.mu.Lock()
	r.running = false
	if r.baseCancel != nil {
		r.baseCancel()
	}
	r.mu.Unlock()
}

// Run starts the runtime and blocks processing events until the
// context is cancelled or the connection fails, then stops.
func (r *Runtime) Run(ctx context.Context) error {
	if err := r.Start(ctx); err != nil {
		return err
	}
	err := r.link.Listen(ctx)
	if stopErr := r.Stop(context.WithoutCancel(ctx)); stopErr != nil {
		r.logger.Warn("stop error", "error", stopErr)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}

// Stop tears down every execution context, then disconnects the link.
// Each room's worker gets the configured shutdown timeout to finish
// its current message.
func (r *Runtime) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	r.running = false
	cancel := r.baseCancel
	rooms := make([]string, 0, len(r.executions))
	for id := range r.executions {
		rooms = append(rooms, id)
	}
	r.mu.Unlock()

	r.logger.Info("stopping runtime", "active_rooms", len(rooms))
	for _, roomID := range rooms {
		r.destroyExecution(ctx, roomID)
	}
	cancel()
	return r.link.Disconnect()
}

// subscribeExistingRooms joins rooms the agent is already a member of.
// Failures are logged per room; one bad room does not block the rest.
func (r *Runtime) subscribeExistingRooms(ctx context.Context) {
	rooms, err := r.link.Rest().ListChats(ctx)
	if err != nil {
		r.logger.Warn("failed to list existing rooms", "error", err)
		return
	}
	joined := 0
	for i := range rooms {
		room := &rooms[i]
		if r.opts.roomFilter != nil && !r.opts.roomFilter(room) {
			continue
		}
		if err := r.link.SubscribeRoom(ctx, room.ID); err != nil {
			r.logger.Warn("failed to subscribe existing room", "room_id", room.ID, "error", err)
			continue
		}
		r.ensureExecution(ctx, room.ID)
		joined++
	}
	r.logger.Info("subscribed to existing rooms", "count", joined)
}

// dispatch routes a decoded event. Runs on the link's read goroutine,
// so per-room work is handed to the room's queue immediately.
func (r *Runtime) dispatch(ev Event) {
	r.mu.Lock()
	ctx := r.baseCtx
	running := r.running
	r.mu.Unlock()
	if !running {
		return
	}

	switch e := ev.(type) {
	case *RoomAddedEvent:
		r.handleRoomAdded(ctx, e)
	case *RoomRemovedEvent:
		r.handleRoomRemoved(ctx, e)
	default:
		roomID := ev.Room()
		if roomID == "" {
			return
		}
		ec := r.ensureExecution(ctx, roomID)
		ec.Enqueue(ev)
	}
}

func (r *Runtime) handleRoomAdded(ctx context.Context, e *RoomAddedEvent) {
	if e.RoomID == "" {
		r.logger.Warn("room_added event without room id")
		return
	}
	if r.opts.roomFilter != nil && !r.opts.roomFilter(&e.Payload) {
		r.logger.Debug("room filtered out", "room_id", e.RoomID, "title", e.Payload.Title)
		return
	}
	if err := r.link.SubscribeRoom(ctx, e.RoomID); err != nil {
		r.logger.Error("failed to subscribe room", "room_id", e.RoomID, "error", err)
		return
	}
	r.ensureExecution(ctx, e.RoomID)
	r.logger.Info("joined room", "room_id", e.RoomID, "title", e.Payload.Title)
}

// handleRoomRemoved unsubscribes before tearing down, so late events
// for the dead room cannot race the teardown. The drain itself runs on
// its own goroutine: it can take up to the shutdown timeout, and the
// link's read goroutine must stay free to dispatch other rooms.
func (r *Runtime) handleRoomRemoved(ctx context.Context, e *RoomRemovedEvent) {
	if e.RoomID == "" {
		return
	}
	if err := r.link.UnsubscribeRoom(ctx, e.RoomID); err != nil {
		r.logger.Warn("failed to unsubscribe room", "room_id", e.RoomID, "error", err)
	}
	ec := r.detachExecution(e.RoomID)
	if ec == nil {
		return
	}
	go func() {
		r.teardownExecution(ctx, ec)
		r.logger.Info("left room", "room_id", e.RoomID)
	}()
}

// ensureExecution returns the room's execution context, creating and
// starting one when missing. A room the agent rejoins after teardown
// gets a fresh context with clean state.
func (r *Runtime) ensureExecution(ctx context.Context, roomID string) *ExecutionContext {
	r.mu.Lock()
	if ec, ok := r.executions[roomID]; ok {
		r.mu.Unlock()
		return ec
	}
	ec := newExecutionContext(roomID, r.link, r.handler, &r.opts)
	r.executions[roomID] = ec
	r.mu.Unlock()

	if err := ec.Start(ctx); err != nil {
		r.logger.Error("failed to start execution", "room_id", roomID, "error", err)
	}
	return ec
}

// destroyExecution stops a room's worker and runs the cleanup callback
// exactly once. Events arriving for the room afterwards create a fresh
// context.
func (r *Runtime) destroyExecution(ctx context.Context, roomID string) {
	ec := r.detachExecution(roomID)
	if ec == nil {
		return
	}
	r.teardownExecution(ctx, ec)
}

// detachExecution removes a room's context from the active map, so new
// events for the room create a fresh one while the old context drains.
func (r *Runtime) detachExecution(roomID string) *ExecutionContext {
	r.mu.Lock()
	defer r.mu.Unlock()
	ec, ok := r.executions[roomID]
	if !ok {
		return nil
	}
	delete(r.executions, roomID)
	return ec
}

func (r *Runtime) teardownExecution(ctx context.Context, ec *ExecutionContext) {
	roomID := ec.RoomID()
	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.opts.shutdownTimeout)
	defer cancel()
	if err := ec.Stop(stopCtx); err != nil {
		r.logger.Warn("execution did not stop cleanly", "room_id", roomID, "error", err)
	}
	if r.opts.cleanup != nil {
		if err := r.opts.cleanup(stopCtx, roomID); err != nil {
			r.logger.Warn("cleanup callback failed", "room_id", roomID, "error", err)
		}
	}
	r.logger.Debug("destroyed execution", "room_id", roomID)
}
