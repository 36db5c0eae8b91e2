package thenvoi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/thenvoi/thenvoi-go/internal/phoenix"
)

// EventHandler receives decoded platform events. Handlers run on the
// link's read goroutine and must not block.
type EventHandler func(ev Event)

// Link is the agent's connection to the platform: a WebSocket leg for
// real-time events and a REST leg for commands and queries. A Link is
// safe for concurrent use.
type Link struct {
	agentID string
	apiKey  string
	wsURL   string
	rest    RestAPI
	logger  *slog.Logger

	mu         sync.Mutex
	client     *phoenix.Client
	handler    EventHandler
	rooms      map[string]bool
	agentRooms bool
}

// NewLink builds a Link for the given agent credentials. It does not
// connect; call Connect.
func NewLink(agentID, apiKey string, opts ...LinkOption) *Link {
	o := resolveLinkOptions(opts)
	return &Link{
		agentID: agentID,
		apiKey:  apiKey,
		wsURL:   o.wsURL,
		rest:    NewRestClient(o.restURL, apiKey, o.httpClient, o.logger),
		logger:  o.logger,
		rooms:   make(map[string]bool),
	}
}

// Rest exposes the REST leg of the link.
func (l *Link) Rest() RestAPI { return l.rest }

// AgentID returns the agent this link authenticates as.
func (l *Link) AgentID() string { return l.agentID }

// OnEvent registers the handler for decoded events. It must be set
// before Connect.
func (l *Link) OnEvent(h EventHandler) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.handler = h
}

// Connect dials the WebSocket endpoint. Room subscriptions from a
// previous connection are rejoined.
func (l *Link) Connect(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.client != nil {
		return nil
	}
	q := url.Values{}
	q.Set("api_key", l.apiKey)
	q.Set("agent_id", l.agentID)
	client, err := phoenix.Dial(ctx, l.wsURL+"?"+q.Encode(), l.logger)
	if err != nil {
		return transportError("connect", err)
	}
	l.client = client
	if l.agentRooms {
		if err := l.joinAgentRoomsTopic(ctx); err != nil {
			l.logger.Warn("rejoin failed", "topic", topicAgentRooms+l.agentID, "error", err)
		}
	}
	for roomID := range l.rooms {
		if err := l.joinRoomTopics(ctx, roomID); err != nil {
			l.logger.Warn("rejoin failed", "room_id", roomID, "error", err)
		}
	}
	l.logger.Info("connected", "agent_id", l.agentID)
	return nil
}

// Disconnect closes the WebSocket connection. The room subscription
// set is kept so a later Connect rejoins.
func (l *Link) Disconnect() error {
	l.mu.Lock()
	client := l.client
	l.client = nil
	l.mu.Unlock()
	if client == nil {
		return nil
	}
	return client.Close()
}

// Listen blocks processing incoming events until the context is
// cancelled or Disconnect is called. When the connection drops it
// redials with exponential backoff and rejoins all topics; events
// resume transparently, so callers never see a transport failure.
func (l *Link) Listen(ctx context.Context) error {
	l.mu.Lock()
	client := l.client
	l.mu.Unlock()
	if client == nil {
		return ErrNotConnected
	}

	delay := initialReconnectDelay
	for {
		err := client.Listen(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		l.mu.Lock()
		stopped := l.client == nil
		if l.client == client {
			l.client = nil
			_ = client.Close()
		}
		l.mu.Unlock()
		if stopped {
			return nil
		}

		l.logger.Warn("connection lost, reconnecting", "error", err, "delay", delay)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		if delay *= 2; delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}

		if err := l.Connect(ctx); err != nil {
			l.logger.Warn("reconnect failed", "error", err)
			continue
		}
		l.mu.Lock()
		client = l.client
		l.mu.Unlock()
		delay = initialReconnectDelay
	}
}

// SubscribeAgentRooms joins the agent's lifecycle topic, which carries
// room_added and room_removed events.
func (l *Link) SubscribeAgentRooms(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.client == nil {
		return ErrNotConnected
	}
	if err := l.joinAgentRoomsTopic(ctx); err != nil {
		return err
	}
	l.agentRooms = true
	return nil
}

func (l *Link) joinAgentRoomsTopic(ctx context.Context) error {
	topic := topicAgentRooms + l.agentID
	return l.client.Join(ctx, topic, func(event string, payload json.RawMessage) {
		l.decodeRoomLifecycle(event, payload)
	})
}

// SubscribeRoom joins a room's message and participant topics.
// Subscribing an already-subscribed room is a no-op.
func (l *Link) SubscribeRoom(ctx context.Context, roomID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.client == nil {
		return ErrNotConnected
	}
	if l.rooms[roomID] {
		return nil
	}
	if err := l.joinRoomTopics(ctx, roomID); err != nil {
		return err
	}
	l.rooms[roomID] = true
	return nil
}

func (l *Link) joinRoomTopics(ctx context.Context, roomID string) error {
	err := l.client.Join(ctx, topicChatRoom+roomID, func(event string, payload json.RawMessage) {
		l.decodeRoomEvent(roomID, event, payload)
	})
	if err != nil {
		return transportError("subscribe_room", err)
	}
	err = l.client.Join(ctx, topicRoomParticipants+roomID, func(event string, payload json.RawMessage) {
		l.decodeParticipantEvent(roomID, event, payload)
	})
	if err != nil {
		return transportError("subscribe_room", err)
	}
	return nil
}

// UnsubscribeRoom leaves a room's topics. Unsubscribing an unknown
// room is a no-op.
func (l *Link) UnsubscribeRoom(ctx context.Context, roomID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.rooms[roomID] {
		return nil
	}
	delete(l.rooms, roomID)
	if l.client == nil {
		return nil
	}
	if err := l.client.Leave(ctx, topicChatRoom+roomID); err != nil {
		return transportError("unsubscribe_room", err)
	}
	if err := l.client.Leave(ctx, topicRoomParticipants+roomID); err != nil {
		return transportError("unsubscribe_room", err)
	}
	return nil
}

// SubscribedRooms returns the IDs of rooms the link is subscribed to.
func (l *Link) SubscribedRooms() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, 0, len(l.rooms))
	for id := range l.rooms {
		out = append(out, id)
	}
	return out
}

func (l *Link) emit(ev Event) {
	l.mu.Lock()
	h := l.handler
	l.mu.Unlock()
	if h != nil {
		h(ev)
	}
}

func (l *Link) decodeRoomLifecycle(event string, payload json.RawMessage) {
	switch event {
	case "room_added":
		var room RoomPayload
		if err := json.Unmarshal(payload, &room); err != nil {
			l.logger.Warn("malformed room_added payload", "error", err)
			return
		}
		l.emit(&RoomAddedEvent{RoomID: room.ID, Payload: room})
	case "room_removed":
		var room RoomPayload
		if err := json.Unmarshal(payload, &room); err != nil {
			l.logger.Warn("malformed room_removed payload", "error", err)
			return
		}
		l.emit(&RoomRemovedEvent{RoomID: room.ID, Payload: room})
	default:
		l.logger.Debug("unhandled lifecycle event", "event", event)
	}
}

func (l *Link) decodeRoomEvent(roomID, event string, payload json.RawMessage) {
	switch event {
	case "message_created":
		var msg MessagePayload
		if err := json.Unmarshal(payload, &msg); err != nil {
			l.logger.Warn("malformed message_created payload", "room_id", roomID, "error", err)
			return
		}
		l.emit(&MessageCreatedEvent{RoomID: roomID, Payload: msg})
	default:
		l.logger.Debug("unhandled room event", "room_id", roomID, "event", event)
	}
}

func (l *Link) decodeParticipantEvent(roomID, event string, payload json.RawMessage) {
	switch event {
	case "participant_added":
		var p Participant
		if err := json.Unmarshal(payload, &p); err != nil {
			l.logger.Warn("malformed participant_added payload", "room_id", roomID, "error", err)
			return
		}
		l.emit(&ParticipantAddedEvent{RoomID: roomID, Participant: p})
	case "participant_removed":
		var p struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(payload, &p); err != nil {
			l.logger.Warn("malformed participant_removed payload", "room_id", roomID, "error", err)
			return
		}
		l.emit(&ParticipantRemovedEvent{RoomID: roomID, ParticipantID: p.ID})
	default:
		l.logger.Debug("unhandled participant event", "room_id", roomID, "event", event)
	}
}

// MarkProcessing flags a message as being worked on. Failures are
// logged, not returned: marks are advisory.
func (l *Link) MarkProcessing(ctx context.Context, roomID, messageID string) {
	if err := l.rest.MarkProcessing(ctx, roomID, messageID); err != nil {
		l.logger.Warn("mark processing failed", "room_id", roomID, "message_id", messageID, "error", err)
	}
}

// MarkProcessed flags a message as handled.
func (l *Link) MarkProcessed(ctx context.Context, roomID, messageID string) {
	if err := l.rest.MarkProcessed(ctx, roomID, messageID); err != nil {
		l.logger.Warn("mark processed failed", "room_id", roomID, "message_id", messageID, "error", err)
	}
}

// MarkFailed flags a message as permanently failed, with the error
// text recorded server-side.
func (l *Link) MarkFailed(ctx context.Context, roomID, messageID, reason string) {
	if err := l.rest.MarkFailed(ctx, roomID, messageID, reason); err != nil {
		l.logger.Warn("mark failed failed", "room_id", roomID, "message_id", messageID, "error", err)
	}
}

// NextMessage fetches the next unprocessed backlog message for a room,
// or nil when the backlog is drained.
func (l *Link) NextMessage(ctx context.Context, roomID string) (*PlatformMessage, error) {
	return l.rest.NextMessage(ctx, roomID)
}
