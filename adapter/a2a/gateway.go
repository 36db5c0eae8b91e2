// Package a2a exposes platform peers to A2A clients: an HTTP gateway
// serves per-peer agent cards and accepts message/send calls, relaying
// them into platform chat rooms and returning the peer's reply.
package a2a

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	thenvoi "github.com/thenvoi/thenvoi-go"
	"github.com/thenvoi/thenvoi-go/adapter"
)

// DefaultReplyTimeout bounds how long a message/send call waits for
// the peer to answer in the room.
const DefaultReplyTimeout = 120 * time.Second

var slugPattern = regexp.MustCompile(`[^a-z0-9]+`)

// Slugify converts a peer name to its URL-safe form.
func Slugify(name string) string {
	s := strings.ToLower(name)
	s = slugPattern.ReplaceAllString(s, "-")
	return strings.Trim(s, "-")
}

// Gateway bridges A2A clients and the platform. It doubles as the
// runtime adapter: peer replies arrive as room messages and complete
// the pending A2A task for that room.
type Gateway struct {
	rest         thenvoi.RestAPI
	agentName    string
	baseURL      string
	replyTimeout time.Duration
	logger       *slog.Logger

	mu            sync.Mutex
	peersBySlug   map[string]thenvoi.Peer
	peersByID     map[string]thenvoi.Peer
	contextToRoom map[string]string
	pending       map[string]chan string
}

var (
	_ adapter.Adapter        = (*Gateway)(nil)
	_ adapter.CleanupAdapter = (*Gateway)(nil)
)

// Option configures a Gateway.
type Option func(*Gateway)

// WithReplyTimeout sets how long message/send waits for a peer reply.
func WithReplyTimeout(d time.Duration) Option {
	return func(g *Gateway) { g.replyTimeout = d }
}

// WithLogger sets the gateway's logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *Gateway) { g.logger = l }
}

// NewGateway builds a gateway over a platform REST client. baseURL is
// the externally visible URL used in agent cards.
func NewGateway(rest thenvoi.RestAPI, agentName, baseURL string, opts ...Option) *Gateway {
	g := &Gateway{
		rest:          rest,
		agentName:     agentName,
		baseURL:       strings.TrimRight(baseURL, "/"),
		replyTimeout:  DefaultReplyTimeout,
		logger:        slog.Default(),
		peersBySlug:   make(map[string]thenvoi.Peer),
		peersByID:     make(map[string]thenvoi.Peer),
		contextToRoom: make(map[string]string),
		pending:       make(map[string]chan string),
	}
	for _, fn := range opts {
		fn(g)
	}
	return g
}

// DiscoverPeers loads the platform peer directory and builds the
// slug and ID lookup tables the HTTP routes resolve against.
func (g *Gateway) DiscoverPeers(ctx context.Context) error {
	bySlug := make(map[string]thenvoi.Peer)
	byID := make(map[string]thenvoi.Peer)
	page := 1
	for {
		result, err := g.rest.ListPeers(ctx, page, 100, "")
		if err != nil {
			return fmt.Errorf("a2a: discover peers: %w", err)
		}
		for _, peer := range result.Peers {
			bySlug[Slugify(peer.Name)] = peer
			byID[peer.ID] = peer
		}
		if page >= result.TotalPages || result.TotalPages == 0 {
			break
		}
		page++
	}
	g.mu.Lock()
	g.peersBySlug = bySlug
	g.peersByID = byID
	g.mu.Unlock()
	g.logger.Info("discovered peers", "count", len(bySlug))
	return nil
}

// Router returns the gateway's HTTP routes.
func (g *Gateway) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/peers", g.handleListPeers)
	r.Get("/agents/{peerID}/.well-known/agent.json", g.handleAgentCard)
	r.Get("/agents/{peerID}/.well-known/agent-card.json", g.handleAgentCard)
	r.Post("/agents/{peerID}", g.handleRPC)
	return r
}

// resolvePeer looks a peer up by slug, falling back to platform ID.
func (g *Gateway) resolvePeer(peerID string) (string, *thenvoi.Peer) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if peer, ok := g.peersBySlug[peerID]; ok {
		return peerID, &peer
	}
	if peer, ok := g.peersByID[peerID]; ok {
		return Slugify(peer.Name), &peer
	}
	return "", nil
}

func (g *Gateway) handleListPeers(w http.ResponseWriter, r *http.Request) {
	g.mu.Lock()
	type entry struct {
		Slug        string `json:"slug"`
		ID          string `json:"id"`
		Name        string `json:"name"`
		Description string `json:"description"`
	}
	peers := make([]entry, 0, len(g.peersBySlug))
	for slug, peer := range g.peersBySlug {
		peers = append(peers, entry{Slug: slug, ID: peer.ID, Name: peer.Name, Description: peer.Description})
	}
	g.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{"peers": peers, "count": len(peers)})
}

func (g *Gateway) handleAgentCard(w http.ResponseWriter, r *http.Request) {
	slug, peer := g.resolvePeer(chi.URLParam(r, "peerID"))
	if peer == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Not found"})
		return
	}
	card := AgentCard{
		Name:         peer.Name,
		Description:  peer.Description,
		URL:          fmt.Sprintf("%s/agents/%s", g.baseURL, slug),
		Version:      "1.0.0",
		Capabilities: AgentCapabilities{Streaming: false},
		Skills: []AgentSkill{{
			ID:          "default",
			Name:        peer.Name,
			Description: peer.Description,
			Tags:        []string{"thenvoi", "gateway"},
		}},
		DefaultInputModes:  []string{"text/plain"},
		DefaultOutputModes: []string{"text/plain"},
	}
	writeJSON(w, http.StatusOK, card)
}

func (g *Gateway) handleRPC(w http.ResponseWriter, r *http.Request) {
	slug, peer := g.resolvePeer(chi.URLParam(r, "peerID"))
	if peer == nil {
		writeJSON(w, http.StatusNotFound, rpcResponse{
			JSONRPC: "2.0",
			Error:   &rpcError{Code: codePeerNotFound, Message: "Peer not found"},
		})
		return
	}

	var req rpcRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, rpcResponse{
			JSONRPC: "2.0",
			Error:   &rpcError{Code: codeInternal, Message: "malformed request body"},
		})
		return
	}

	if req.Method != "message/send" {
		writeJSON(w, http.StatusBadRequest, rpcResponse{
			JSONRPC: "2.0", ID: req.ID,
			Error: &rpcError{Code: codeMethodNotFound, Message: "Method not found: " + req.Method},
		})
		return
	}

	var msg Message
	if raw, err := json.Marshal(req.Params["message"]); err == nil {
		_ = json.Unmarshal(raw, &msg)
	}

	task, err := g.relayMessage(r.Context(), slug, peer, &msg)
	if err != nil {
		g.logger.Error("message relay failed", "peer", slug, "error", err)
		writeJSON(w, http.StatusInternalServerError, rpcResponse{
			JSONRPC: "2.0", ID: req.ID,
			Error: &rpcError{Code: codeInternal, Message: err.Error()},
		})
		return
	}
	writeJSON(w, http.StatusOK, rpcResponse{JSONRPC: "2.0", ID: req.ID, Result: task})
}

// relayMessage posts an A2A message into the peer's room and waits for
// the peer to respond there.
func (g *Gateway) relayMessage(ctx context.Context, slug string, peer *thenvoi.Peer, msg *Message) (*Task, error) {
	roomID, contextID, err := g.roomForContext(ctx, msg.ContextID, peer)
	if err != nil {
		return nil, err
	}

	reply := make(chan string, 1)
	g.mu.Lock()
	g.pending[roomID] = reply
	g.mu.Unlock()
	defer func() {
		g.mu.Lock()
		delete(g.pending, roomID)
		g.mu.Unlock()
	}()

	mentions := []thenvoi.Mention{{ID: peer.ID, Username: peer.Name}}
	if _, err := g.rest.CreateChatMessage(ctx, roomID, msg.Text(), mentions); err != nil {
		return nil, fmt.Errorf("a2a: send to room: %w", err)
	}
	g.logger.Debug("relayed message", "peer", slug, "room_id", roomID, "context_id", contextID)

	taskID := thenvoi.GenerateID(thenvoi.PrefixTask)
	select {
	case text := <-reply:
		return &Task{
			ID:        taskID,
			ContextID: contextID,
			Status: TaskStatus{
				State: TaskCompleted,
				Message: &Message{
					MessageID: thenvoi.GenerateID(thenvoi.PrefixMessage),
					Role:      "agent",
					ContextID: contextID,
					Parts:     []Part{{Kind: "text", Text: text}},
				},
			},
		}, nil
	case <-time.After(g.replyTimeout):
		return &Task{ID: taskID, ContextID: contextID, Status: TaskStatus{State: TaskFailed}},
			fmt.Errorf("a2a: timed out waiting for %s", peer.Name)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// roomForContext reuses the room bound to an A2A context, or creates a
// fresh room with the target peer in it.
func (g *Gateway) roomForContext(ctx context.Context, contextID string, peer *thenvoi.Peer) (string, string, error) {
	g.mu.Lock()
	if contextID != "" {
		if roomID, ok := g.contextToRoom[contextID]; ok {
			g.mu.Unlock()
			return roomID, contextID, nil
		}
	}
	g.mu.Unlock()

	room, err := g.rest.CreateChat(ctx, fmt.Sprintf("%s via %s", peer.Name, g.agentName), "")
	if err != nil {
		return "", "", fmt.Errorf("a2a: create room: %w", err)
	}
	if err := g.rest.AddChatParticipant(ctx, room.ID, peer.ID, "member"); err != nil {
		return "", "", fmt.Errorf("a2a: add peer to room: %w", err)
	}
	if contextID == "" {
		contextID = thenvoi.GenerateID(thenvoi.PrefixRoom)
	}
	g.mu.Lock()
	g.contextToRoom[contextID] = room.ID
	g.mu.Unlock()
	return room.ID, contextID, nil
}

// HandleMessage receives peer replies from the runtime and completes
// the pending A2A task for the room, if any.
func (g *Gateway) HandleMessage(_ context.Context, in *thenvoi.AgentInput) error {
	g.mu.Lock()
	reply, ok := g.pending[in.RoomID]
	g.mu.Unlock()
	if !ok {
		g.logger.Debug("no pending task for room", "room_id", in.RoomID)
		return nil
	}
	select {
	case reply <- in.Message.Content:
	default:
	}
	return nil
}

// CleanupRoom drops gateway state for a torn-down room.
func (g *Gateway) CleanupRoom(_ context.Context, roomID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.pending, roomID)
	for ctxID, room := range g.contextToRoom {
		if room == roomID {
			delete(g.contextToRoom, ctxID)
		}
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
