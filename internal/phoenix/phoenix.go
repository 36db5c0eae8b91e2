// Package phoenix implements the small subset of the Phoenix channels
// protocol (serializer v2) the platform speaks: joining and leaving
// topics, heartbeats, and receiving pushed events.
package phoenix

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// Handler receives events pushed to a joined topic.
type Handler func(event string, payload json.RawMessage)

// Reserved protocol events. Everything else is dispatched to the
// topic's Handler.
const (
	eventJoin      = "phx_join"
	eventLeave     = "phx_leave"
	eventReply     = "phx_reply"
	eventError     = "phx_error"
	eventClose     = "phx_close"
	eventHeartbeat = "heartbeat"
	topicPhoenix   = "phoenix"
)

// heartbeatInterval keeps the platform from reaping idle sockets.
const heartbeatInterval = 30 * time.Second

// Client is a Phoenix channels client over a single WebSocket
// connection. It does not reconnect; the owner redials and rejoins.
type Client struct {
	conn   *websocket.Conn
	logger *slog.Logger

	mu       sync.Mutex
	nextRef  int64
	handlers map[string]Handler
	joinRefs map[string]string
	closed   bool
}

// Dial connects to the given WebSocket URL. The URL carries any
// authentication query parameters; Dial appends the protocol version.
func Dial(ctx context.Context, rawURL string, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	sep := "?"
	for _, r := range rawURL {
		if r == '?' {
			sep = "&"
			break
		}
	}
	conn, _, err := websocket.Dial(ctx, rawURL+sep+"vsn=2.0.0", nil)
	if err != nil {
		return nil, fmt.Errorf("phoenix: dial: %w", err)
	}
	return &Client{
		conn:     conn,
		logger:   logger,
		handlers: make(map[string]Handler),
		joinRefs: make(map[string]string),
	}, nil
}

// frame is the v2 serializer wire shape:
// [join_ref, ref, topic, event, payload].
type frame struct {
	JoinRef string
	Ref     string
	Topic   string
	Event   string
	Payload json.RawMessage
}

func (f *frame) MarshalJSON() ([]byte, error) {
	var joinRef, ref any
	if f.JoinRef != "" {
		joinRef = f.JoinRef
	}
	if f.Ref != "" {
		ref = f.Ref
	}
	payload := f.Payload
	if payload == nil {
		payload = json.RawMessage("{}")
	}
	return json.Marshal([]any{joinRef, ref, f.Topic, f.Event, payload})
}

func parseFrame(data []byte) (*frame, error) {
	var parts []json.RawMessage
	if err := json.Unmarshal(data, &parts); err != nil {
		return nil, err
	}
	if len(parts) != 5 {
		return nil, fmt.Errorf("phoenix: frame has %d elements, want 5", len(parts))
	}
	f := &frame{Payload: parts[4]}
	// join_ref and ref may be JSON null.
	_ = json.Unmarshal(parts[0], &f.JoinRef)
	_ = json.Unmarshal(parts[1], &f.Ref)
	if err := json.Unmarshal(parts[2], &f.Topic); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(parts[3], &f.Event); err != nil {
		return nil, err
	}
	return f, nil
}

func (c *Client) ref() string {
	c.nextRef++
	return strconv.FormatInt(c.nextRef, 10)
}

func (c *Client) send(ctx context.Context, f *frame) error {
	data, err := f.MarshalJSON()
	if err != nil {
		return err
	}
	return c.conn.Write(ctx, websocket.MessageText, data)
}

// Join subscribes to a topic. Events pushed to the topic are delivered
// to h from the Listen goroutine. Joining an already-joined topic
// replaces its handler without a second join frame.
func (c *Client) Join(ctx context.Context, topic string, h Handler) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, joined := c.joinRefs[topic]; joined {
		c.handlers[topic] = h
		return nil
	}
	ref := c.ref()
	c.joinRefs[topic] = ref
	c.handlers[topic] = h
	if err := c.send(ctx, &frame{JoinRef: ref, Ref: ref, Topic: topic, Event: eventJoin}); err != nil {
		delete(c.joinRefs, topic)
		delete(c.handlers, topic)
		return fmt.Errorf("phoenix: join %s: %w", topic, err)
	}
	c.logger.Debug("joined topic", "topic", topic)
	return nil
}

// Leave unsubscribes from a topic. Leaving an unjoined topic is a no-op.
func (c *Client) Leave(ctx context.Context, topic string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	joinRef, joined := c.joinRefs[topic]
	if !joined {
		return nil
	}
	delete(c.joinRefs, topic)
	delete(c.handlers, topic)
	if err := c.send(ctx, &frame{JoinRef: joinRef, Ref: c.ref(), Topic: topic, Event: eventLeave}); err != nil {
		return fmt.Errorf("phoenix: leave %s: %w", topic, err)
	}
	c.logger.Debug("left topic", "topic", topic)
	return nil
}

// Topics returns the currently joined topics.
func (c *Client) Topics() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.joinRefs))
	for topic := range c.joinRefs {
		out = append(out, topic)
	}
	return out
}

// Listen reads frames and dispatches them to topic handlers until the
// context is cancelled or the connection fails. It also drives the
// heartbeat. Handlers run on the Listen goroutine: they must hand work
// off rather than block.
func (c *Client) Listen(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go c.heartbeatLoop(ctx)

	for {
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("phoenix: read: %w", err)
		}
		f, err := parseFrame(data)
		if err != nil {
			c.logger.Warn("dropping malformed frame", "error", err)
			continue
		}
		c.dispatch(f)
	}
}

func (c *Client) dispatch(f *frame) {
	switch f.Event {
	case eventReply, eventClose:
		return
	case eventError:
		c.logger.Warn("channel error", "topic", f.Topic)
		return
	}
	c.mu.Lock()
	h := c.handlers[f.Topic]
	c.mu.Unlock()
	if h == nil {
		c.logger.Debug("event for unjoined topic", "topic", f.Topic, "event", f.Event)
		return
	}
	h(f.Event, f.Payload)
}

func (c *Client) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.mu.Lock()
			err := c.send(ctx, &frame{Ref: c.ref(), Topic: topicPhoenix, Event: eventHeartbeat})
			c.mu.Unlock()
			if err != nil {
				c.logger.Warn("heartbeat failed", "error", err)
				return
			}
		}
	}
}

// Close tears down the WebSocket connection.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()
	return c.conn.Close(websocket.StatusNormalClosure, "client closing")
}
