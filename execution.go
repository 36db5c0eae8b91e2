package thenvoi

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ExecutionState describes what a room's worker is doing.
type ExecutionState string

const (
	StateStarting   ExecutionState = "starting"
	StateIdle       ExecutionState = "idle"
	StateProcessing ExecutionState = "processing"
)

// ExecutionHandler is the agent's entry point. The runtime calls it
// once per processed message, on the room's worker goroutine, with the
// preprocessed input. Returning an error counts as a failed attempt
// for the message.
type ExecutionHandler func(ctx context.Context, in *AgentInput) error

// CleanupFunc runs once when a room's execution is torn down.
type CleanupFunc func(ctx context.Context, roomID string) error

// ExecutionContext is the per-room unit of work: a queue, a worker
// goroutine, and the room-scoped state (participants, retry bookkeeping,
// hydrated history). Events for one room are processed strictly in
// order; separate rooms run concurrently.
//
// Crash recovery: on start the worker first drains the server-side
// backlog via the next-message endpoint. The first live WebSocket
// message marks the sync point; when the backlog reaches that message
// the worker switches to the live queue.
type ExecutionContext struct {
	roomID  string
	agentID string
	link    *Link
	handler ExecutionHandler
	pre     Preprocessor
	logger  *slog.Logger

	hydrationEnabled bool
	mentionPolicy    MentionPolicy

	queue   chan Event
	retries *RetryTracker
	tracker *ParticipantTracker

	mu             sync.Mutex
	state          ExecutionState
	running        bool
	llmInitialized bool
	hydrated       bool
	contextCache   []ContextMessage
	firstWSMsgID   string
	processedIDs   []string
	processedSet   map[string]bool

	cancel   context.CancelFunc
	stop     chan struct{}
	stopping bool
	done     chan struct{}
}

// NewExecutionContext builds a worker for one room. It does not start
// processing; call Start.
func NewExecutionContext(roomID string, link *Link, handler ExecutionHandler, opts ...RuntimeOption) *ExecutionContext {
	o := resolveRuntimeOptions(opts)
	return newExecutionContext(roomID, link, handler, &o)
}

func newExecutionContext(roomID string, link *Link, handler ExecutionHandler, o *runtimeOptions) *ExecutionContext {
	pre := o.preprocessor
	if pre == nil {
		pre = &defaultPreprocessor{}
	}
	logger := o.logger.With("room_id", roomID)
	return &ExecutionContext{
		roomID:           roomID,
		agentID:          link.AgentID(),
		link:             link,
		handler:          handler,
		pre:              pre,
		logger:           logger,
		hydrationEnabled: o.hydration,
		mentionPolicy:    o.mentionPolicy,
		queue:            make(chan Event, o.queueSize),
		retries:          NewRetryTracker(o.maxRetries, roomID, logger),
		tracker:          NewParticipantTracker(roomID, logger),
		state:            StateStarting,
		processedSet:     make(map[string]bool),
	}
}

// RoomID returns the room this context manages.
func (e *ExecutionContext) RoomID() string { return e.roomID }

// Link exposes the platform connection, for tool facades built on this
// context.
func (e *ExecutionContext) Link() *Link { return e.link }

// State returns the worker's current state.
func (e *ExecutionContext) State() ExecutionState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// IsRunning reports whether the worker goroutine is alive.
func (e *ExecutionContext) IsRunning() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// IsLLMInitialized reports whether the agent has already primed its
// model for this room.
func (e *ExecutionContext) IsLLMInitialized() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.llmInitialized
}

// MarkLLMInitialized records that the system prompt has been sent.
func (e *ExecutionContext) MarkLLMInitialized() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.llmInitialized = true
}

// Retries exposes the room's retry bookkeeping.
func (e *ExecutionContext) Retries() *RetryTracker { return e.retries }

// ParticipantTracker exposes the room's participant state.
func (e *ExecutionContext) ParticipantTracker() *ParticipantTracker { return e.tracker }

// Participants returns the current participant list.
func (e *ExecutionContext) Participants() []Participant { return e.tracker.Participants() }

// Start launches the worker goroutine.
func (e *ExecutionContext) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return ErrAlreadyRunning
	}
	e.running = true
	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	e.cancel = cancel
	e.stop = make(chan struct{})
	e.stopping = false
	e.done = make(chan struct{})
	e.mu.Unlock()

	e.logger.Info("starting execution")
	go e.run(loopCtx)
	return nil
}

// Stop asks the worker to finish its current event and exit, waiting
// up to ctx. An in-flight handler runs to completion; its context is
// cancelled only once the drain budget expires.
func (e *ExecutionContext) Stop(ctx context.Context) error {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return nil
	}
	if !e.stopping {
		e.stopping = true
		close(e.stop)
	}
	cancel := e.cancel
	done := e.done
	e.mu.Unlock()

	e.logger.Info("stopping execution")
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		e.logger.Warn("drain budget exhausted, cancelling in-flight work")
		cancel()
		return ctx.Err()
	}
}

// Enqueue adds an event to the room's queue. The first message event
// seen becomes the crash-recovery sync point. A full queue drops the
// event with a warning rather than blocking the link's read goroutine.
func (e *ExecutionContext) Enqueue(ev Event) {
	if msg, ok := ev.(*MessageCreatedEvent); ok {
		e.mu.Lock()
		if e.firstWSMsgID == "" && msg.Payload.ID != "" {
			e.firstWSMsgID = msg.Payload.ID
			e.logger.Debug("sync point marker set", "message_id", msg.Payload.ID)
		}
		e.mu.Unlock()
	}
	select {
	case e.queue <- ev:
	default:
		e.logger.Warn("event queue full, dropping event", "event", ev.Type())
	}
}

func (e *ExecutionContext) run(ctx context.Context) {
	defer func() {
		e.mu.Lock()
		e.running = false
		e.mu.Unlock()
		close(e.done)
		e.logger.Debug("execution loop exited")
	}()

	e.synchronizeBacklog(ctx)
	e.setState(StateIdle)
	e.logger.Info("synchronized, switching to live events")

	for {
		// Check stop first so a pending event cannot win the race
		// against a drain request.
		select {
		case <-ctx.Done():
			return
		case <-e.stop:
			return
		default:
		}
		select {
		case <-ctx.Done():
			return
		case <-e.stop:
			return
		case ev := <-e.queue:
			e.processEvent(ctx, ev)
		}
	}
}

func (e *ExecutionContext) setState(s ExecutionState) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
}

// synchronizeBacklog drains unprocessed messages left over from a
// previous run. It polls the next-message endpoint until the backlog
// is empty or reaches the first live message.
func (e *ExecutionContext) synchronizeBacklog(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		select {
		case <-e.stop:
			return
		default:
		}
		msg, err := e.link.NextMessage(ctx, e.roomID)
		if err != nil {
			e.logger.Error("backlog sync error", "error", err)
			return
		}
		if msg == nil {
			e.logger.Debug("backlog empty, synced")
			return
		}
		if e.retries.IsPermanentlyFailed(msg.ID) {
			e.logger.Warn("backlog stuck on permanently failed message", "message_id", msg.ID)
			return
		}

		e.mu.Lock()
		syncPoint := e.firstWSMsgID
		e.mu.Unlock()

		if msg.ID == syncPoint {
			e.logger.Info("sync point reached", "message_id", msg.ID)
			e.processEvent(ctx, backlogEvent(e.roomID, msg))
			e.dropDuplicateHead(msg.ID)
			e.mu.Lock()
			e.firstWSMsgID = ""
			e.processedIDs = nil
			e.processedSet = make(map[string]bool)
			e.mu.Unlock()
			return
		}

		e.logger.Debug("processing backlog message", "message_id", msg.ID)
		e.processEvent(ctx, backlogEvent(e.roomID, msg))

		if e.retries.IsPermanentlyFailed(msg.ID) {
			e.logger.Warn("backlog message permanently failed", "message_id", msg.ID)
			return
		}
	}
}

// backlogEvent rebuilds a live-shaped event from a backlog message,
// normalizing mention usernames and defaulting the status field.
func backlogEvent(roomID string, msg *PlatformMessage) *MessageCreatedEvent {
	meta := msg.Metadata
	mentions := make([]Mention, 0, len(meta.Mentions))
	for _, m := range meta.Mentions {
		if m.Username == "" {
			m.Username = m.ID
		}
		mentions = append(mentions, m)
	}
	meta.Mentions = mentions
	if meta.Status == "" {
		meta.Status = "sent"
	}
	ts := msg.CreatedAt
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	stamp := ts.Format(time.RFC3339Nano)
	return &MessageCreatedEvent{
		RoomID: roomID,
		Payload: MessagePayload{
			ID:          msg.ID,
			Content:     msg.Content,
			MessageType: msg.MessageType,
			Metadata:    meta,
			SenderID:    msg.SenderID,
			SenderType:  msg.SenderType,
			SenderName:  msg.SenderName,
			ChatRoomID:  roomID,
			InsertedAt:  stamp,
			UpdatedAt:   stamp,
		},
	}
}

// dropDuplicateHead removes the queue head if it duplicates the sync
// point message, which arrives both via backlog and live push.
func (e *ExecutionContext) dropDuplicateHead(msgID string) {
	select {
	case head := <-e.queue:
		if msg, ok := head.(*MessageCreatedEvent); ok && msg.Payload.ID == msgID {
			e.logger.Debug("removed duplicate from queue", "message_id", msgID)
			return
		}
		// Not the duplicate: keep it.
		select {
		case e.queue <- head:
		default:
			e.logger.Warn("queue full while restoring head event")
		}
	default:
	}
}

// processEvent runs one event through the full lifecycle: dedupe and
// retry checks, server-side processing marks, preprocessing, the
// handler, and the success or failure mark.
func (e *ExecutionContext) processEvent(ctx context.Context, ev Event) {
	var msgID string
	if msg, ok := ev.(*MessageCreatedEvent); ok {
		msgID = msg.Payload.ID
		if isOwnMessage(e.agentID, &msg.Payload) {
			e.logger.Debug("skipping own message", "message_id", msgID)
			return
		}
		if e.retries.IsPermanentlyFailed(msgID) {
			e.logger.Debug("skipping permanently failed message", "message_id", msgID)
			return
		}
		if e.wasProcessed(msgID) {
			e.logger.Debug("skipping duplicate message", "message_id", msgID)
			return
		}
		attempts, exceeded := e.retries.RecordAttempt(msgID)
		if exceeded {
			e.logger.Warn("message exceeded max retries", "message_id", msgID, "attempts", attempts)
			return
		}
	}

	e.setState(StateProcessing)
	defer e.setState(StateIdle)

	if msgID != "" {
		e.link.MarkProcessing(ctx, e.roomID, msgID)
	}

	if e.hydrationEnabled && !e.isHydrated() {
		if err := e.Hydrate(ctx); err != nil {
			e.logger.Warn("hydration failed", "error", err)
		}
	}

	switch pe := ev.(type) {
	case *ParticipantAddedEvent:
		e.tracker.Add(pe.Participant)
	case *ParticipantRemovedEvent:
		e.tracker.Remove(pe.ParticipantID)
	}

	if err := e.invokeHandler(ctx, ev); err != nil {
		e.logger.Error("event processing failed", "event", ev.Type(), "message_id", msgID, "error", err)
		if msgID != "" {
			e.link.MarkFailed(ctx, e.roomID, msgID, err.Error())
		}
		return
	}

	if msgID != "" {
		e.link.MarkProcessed(ctx, e.roomID, msgID)
		e.retries.MarkSuccess(msgID)
		e.recordProcessed(msgID)
	}
	e.logger.Debug("event processed", "event", ev.Type())
}

func (e *ExecutionContext) invokeHandler(ctx context.Context, ev Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	in, err := e.pre.Process(ctx, e, ev)
	if err != nil {
		return err
	}
	if in == nil {
		return nil
	}
	return e.handler(ctx, in)
}

// wasProcessed checks the dedupe cache and refreshes recency on a hit.
func (e *ExecutionContext) wasProcessed(msgID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.processedSet[msgID] {
		return false
	}
	for i, id := range e.processedIDs {
		if id == msgID {
			e.processedIDs = append(append(e.processedIDs[:i], e.processedIDs[i+1:]...), msgID)
			break
		}
	}
	return true
}

func (e *ExecutionContext) recordProcessed(msgID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.processedSet[msgID] {
		return
	}
	e.processedSet[msgID] = true
	e.processedIDs = append(e.processedIDs, msgID)
	if len(e.processedIDs) > defaultProcessedCacheSize {
		evicted := e.processedIDs[0]
		e.processedIDs = e.processedIDs[1:]
		delete(e.processedSet, evicted)
	}
}

// Hydrate loads room history and participants from the REST API. It
// runs at most once; failures leave an empty cached context so the
// agent still gets the live message.
func (e *ExecutionContext) Hydrate(ctx context.Context) error {
	e.mu.Lock()
	if e.hydrated {
		e.mu.Unlock()
		return nil
	}
	e.mu.Unlock()

	if !e.hydrationEnabled {
		e.mu.Lock()
		e.hydrated = true
		e.mu.Unlock()
		return nil
	}

	e.loadParticipants(ctx)

	messages, err := e.link.Rest().ChatContext(ctx, e.roomID)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.hydrated = true
	if err != nil {
		e.contextCache = nil
		return err
	}
	e.contextCache = messages
	e.logger.Debug("context hydrated", "messages", len(messages))
	return nil
}

// loadParticipants fetches the room roster once. Failures are logged
// and the tracker is marked loaded so we do not retry on every event.
func (e *ExecutionContext) loadParticipants(ctx context.Context) {
	if e.tracker.Loaded() {
		return
	}
	participants, err := e.link.Rest().ListChatParticipants(ctx, e.roomID)
	if err != nil {
		e.logger.Warn("failed to load participants", "error", err)
		e.tracker.SetLoaded(nil)
		return
	}
	e.tracker.SetLoaded(participants)
}

func (e *ExecutionContext) isHydrated() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.hydrated
}

// History returns the hydrated room history in the neutral adapter
// shape, excluding the given message ID. Empty before hydration or
// when hydration is disabled.
func (e *ExecutionContext) History(excludeID string) []HistoryEntry {
	e.mu.Lock()
	cache := e.contextCache
	e.mu.Unlock()
	if !e.hydrationEnabled || cache == nil {
		return nil
	}
	return FormatHistory(e.roomID, cache, excludeID)
}

// RawHistory returns the hydrated wire-shape history, for adapters
// that do their own formatting.
func (e *ExecutionContext) RawHistory() []ContextMessage {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]ContextMessage, len(e.contextCache))
	copy(out, e.contextCache)
	return out
}

// ParticipantsMessage renders the current roster as a system message.
func (e *ExecutionContext) ParticipantsMessage() string {
	return BuildParticipantsMessage(e.tracker.Participants())
}
