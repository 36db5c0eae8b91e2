package thenvoi

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/thenvoi/thenvoi-go/internal/schema"
)

// Tools is the platform surface handed to agent handlers. Every method
// is scoped to one room. Implementations must be safe to call from the
// room's worker goroutine.
type Tools interface {
	RoomID() string
	SendMessage(ctx context.Context, content string, mentions []string) (*MessagePayload, error)
	SendEvent(ctx context.Context, content, messageType string, metadata map[string]any) (*MessagePayload, error)
	AddParticipant(ctx context.Context, name, role string) (*Participant, error)
	RemoveParticipant(ctx context.Context, name string) (*Participant, error)
	GetParticipants(ctx context.Context) ([]Participant, error)
	LookupPeers(ctx context.Context, page, pageSize int) (*PeerPage, error)
	CreateChatroom(ctx context.Context, name string) (*RoomPayload, error)
}

// AgentTools is the default Tools implementation, bound to a room's
// REST client and participant cache.
type AgentTools struct {
	roomID  string
	rest    RestAPI
	tracker *ParticipantTracker
	policy  MentionPolicy
	logger  *slog.Logger
}

var _ Tools = (*AgentTools)(nil)

// NewAgentTools binds a tools facade to an execution context. The
// facade shares the context's participant cache, so additions and
// removals are visible to mention resolution immediately.
func NewAgentTools(ec *ExecutionContext) *AgentTools {
	return &AgentTools{
		roomID:  ec.roomID,
		rest:    ec.link.Rest(),
		tracker: ec.tracker,
		policy:  ec.mentionPolicy,
		logger:  ec.logger,
	}
}

// NewRoomTools builds a standalone facade for a room, seeded with a
// participant list. Useful outside a runtime, e.g. in scripts.
func NewRoomTools(roomID string, rest RestAPI, participants []Participant) *AgentTools {
	logger := slog.Default().With("room_id", roomID)
	tracker := NewParticipantTracker(roomID, logger)
	tracker.SetLoaded(participants)
	return &AgentTools{
		roomID:  roomID,
		rest:    rest,
		tracker: tracker,
		logger:  logger,
	}
}

// RoomID returns the room this facade is bound to.
func (t *AgentTools) RoomID() string { return t.roomID }

// SendMessage posts a chat message. Mentions are participant names,
// resolved to IDs against the cached roster before the request goes
// out; an unknown name fails without touching the network.
func (t *AgentTools) SendMessage(ctx context.Context, content string, mentions []string) (*MessagePayload, error) {
	if t.policy == MentionsRequired && len(mentions) == 0 {
		return nil, validationError("send_message", "at least one mention is required")
	}
	resolved, err := t.resolveMentions(mentions)
	if err != nil {
		return nil, err
	}
	t.logger.Debug("sending message", "mentions", len(resolved))
	return t.rest.CreateChatMessage(ctx, t.roomID, content, resolved)
}

// SendEvent posts an event message. Events carry no mentions; use them
// for thoughts, errors, and task updates.
func (t *AgentTools) SendEvent(ctx context.Context, content, messageType string, metadata map[string]any) (*MessagePayload, error) {
	switch messageType {
	case MessageThought, MessageError, MessageTask, MessageToolCall, MessageToolResult:
	default:
		return nil, validationError("send_event", "invalid message_type %q", messageType)
	}
	t.logger.Debug("sending event", "message_type", messageType)
	return t.rest.CreateChatEvent(ctx, t.roomID, content, messageType, metadata)
}

// AddParticipant adds a peer to the room by name. The name is resolved
// against the platform peer directory, paginating as needed. The local
// roster cache is updated immediately so the new participant can be
// mentioned before the WebSocket event lands.
func (t *AgentTools) AddParticipant(ctx context.Context, name, role string) (*Participant, error) {
	switch role {
	case "":
		role = "member"
	case "owner", "admin", "member":
	default:
		return nil, validationError("add_participant", "invalid role %q", role)
	}
	peer, err := t.lookupPeerByName(ctx, name)
	if err != nil {
		return nil, err
	}
	if peer == nil {
		return nil, validationError("add_participant", "participant %q not found, use lookup_peers to find available peers", name)
	}
	if err := t.rest.AddChatParticipant(ctx, t.roomID, peer.ID, role); err != nil {
		return nil, err
	}
	added := Participant{ID: peer.ID, Name: peer.Name, Type: peer.Type}
	t.tracker.Add(added)
	t.logger.Debug("participant added", "name", peer.Name, "role", role)
	return &added, nil
}

// RemoveParticipant removes a room participant by name. Resolution is
// case-insensitive against the room roster.
func (t *AgentTools) RemoveParticipant(ctx context.Context, name string) (*Participant, error) {
	participants, err := t.GetParticipants(ctx)
	if err != nil {
		return nil, err
	}
	var target *Participant
	for i := range participants {
		if strings.EqualFold(participants[i].Name, name) {
			target = &participants[i]
			break
		}
	}
	if target == nil {
		return nil, validationError("remove_participant", "participant %q not found in this room", name)
	}
	if err := t.rest.RemoveChatParticipant(ctx, t.roomID, target.ID); err != nil {
		return nil, err
	}
	t.tracker.Remove(target.ID)
	t.logger.Debug("participant removed", "name", target.Name)
	return target, nil
}

// GetParticipants fetches the room roster from the platform.
func (t *AgentTools) GetParticipants(ctx context.Context) ([]Participant, error) {
	return t.rest.ListChatParticipants(ctx, t.roomID)
}

// LookupPeers lists platform peers not already in this room.
func (t *AgentTools) LookupPeers(ctx context.Context, page, pageSize int) (*PeerPage, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 50
	}
	if pageSize > 100 {
		pageSize = 100
	}
	return t.rest.ListPeers(ctx, page, pageSize, t.roomID)
}

// CreateChatroom creates a new room owned by the agent.
func (t *AgentTools) CreateChatroom(ctx context.Context, name string) (*RoomPayload, error) {
	if name == "" {
		return nil, validationError("create_chatroom", "name is required")
	}
	return t.rest.CreateChat(ctx, name, "")
}

func (t *AgentTools) resolveMentions(names []string) ([]Mention, error) {
	if len(names) == 0 {
		return nil, nil
	}
	participants := t.tracker.Participants()
	byName := make(map[string]string, len(participants))
	available := make([]string, 0, len(participants))
	for _, p := range participants {
		byName[p.Name] = p.ID
		available = append(available, p.Name)
	}
	resolved := make([]Mention, 0, len(names))
	for _, name := range names {
		id, ok := byName[name]
		if !ok {
			return nil, validationError("send_message", "unknown participant %q, available: %v", name, available)
		}
		resolved = append(resolved, Mention{ID: id, Username: name})
	}
	return resolved, nil
}

func (t *AgentTools) lookupPeerByName(ctx context.Context, name string) (*Peer, error) {
	page := 1
	for {
		result, err := t.LookupPeers(ctx, page, 100)
		if err != nil {
			return nil, err
		}
		for i := range result.Peers {
			if strings.EqualFold(result.Peers[i].Name, name) {
				return &result.Peers[i], nil
			}
		}
		if page >= result.TotalPages || result.TotalPages == 0 {
			return nil, nil
		}
		page++
	}
}

// --- Tool schemas and programmatic dispatch ---

// Input shapes for LLM tool calls. Struct tags are the single source
// of truth for the generated schemas.

type SendMessageInput struct {
	Content  string   `json:"content" jsonschema:"required,description=The message content to send"`
	Mentions []string `json:"mentions" jsonschema:"required,description=List of participant names to @mention. At least one required."`
}

type SendEventInput struct {
	Content     string         `json:"content" jsonschema:"required,description=Human-readable event content"`
	MessageType string         `json:"message_type" jsonschema:"required,enum=thought,enum=error,enum=task,description=Type of event"`
	Metadata    map[string]any `json:"metadata,omitempty" jsonschema:"description=Optional structured data for the event"`
}

type AddParticipantInput struct {
	Name string `json:"name" jsonschema:"required,description=Name of participant to add (must match a name from lookup_peers)"`
	Role string `json:"role,omitempty" jsonschema:"enum=owner,enum=admin,enum=member,default=member,description=Role for the participant in this room"`
}

type RemoveParticipantInput struct {
	Name string `json:"name" jsonschema:"required,description=Name of the participant to remove"`
}

type LookupPeersInput struct {
	Page     int `json:"page,omitempty" jsonschema:"default=1,description=Page number"`
	PageSize int `json:"page_size,omitempty" jsonschema:"default=50,description=Items per page (max 100)"`
}

type GetParticipantsInput struct{}

type CreateChatroomInput struct {
	Name string `json:"name" jsonschema:"required,description=Name for the new chat room"`
}

// ToolDefinition is a provider-neutral tool description.
type ToolDefinition struct {
	Name        string
	Description string
	InputSchema map[string]any
}

type toolSpec struct {
	name        string
	description string
	neutral     func() map[string]any
	anthropic   func() anthropic.ToolInputSchemaParam
}

// toolSpecs is ordered; schema output order follows it.
var toolSpecs = []toolSpec{
	{
		name:        "send_message",
		description: "Send a message to the chat room. Use this to respond to users or other agents.",
		neutral:     schema.GenerateMap[SendMessageInput],
		anthropic:   schema.Generate[SendMessageInput],
	},
	{
		name:        "send_event",
		description: "Send an event to the chat room. Use for thoughts, errors, or task updates.",
		neutral:     schema.GenerateMap[SendEventInput],
		anthropic:   schema.Generate[SendEventInput],
	},
	{
		name:        "add_participant",
		description: "Add a participant (agent or user) to the chat room.",
		neutral:     schema.GenerateMap[AddParticipantInput],
		anthropic:   schema.Generate[AddParticipantInput],
	},
	{
		name:        "remove_participant",
		description: "Remove a participant from the chat room by name.",
		neutral:     schema.GenerateMap[RemoveParticipantInput],
		anthropic:   schema.Generate[RemoveParticipantInput],
	},
	{
		name:        "lookup_peers",
		description: "List available peers (agents and users) that can be added to this room.",
		neutral:     schema.GenerateMap[LookupPeersInput],
		anthropic:   schema.Generate[LookupPeersInput],
	},
	{
		name:        "get_participants",
		description: "Get a list of all participants in the current chat room.",
		neutral:     schema.GenerateMap[GetParticipantsInput],
		anthropic:   schema.Generate[GetParticipantsInput],
	},
	{
		name:        "create_chatroom",
		description: "Create a new chat room for a specific task or conversation.",
		neutral:     schema.GenerateMap[CreateChatroomInput],
		anthropic:   schema.Generate[CreateChatroomInput],
	},
}

// ToolDefinitions returns every platform tool in the neutral format,
// for adapters targeting frameworks without a native schema type.
func ToolDefinitions() []ToolDefinition {
	out := make([]ToolDefinition, 0, len(toolSpecs))
	for _, s := range toolSpecs {
		out = append(out, ToolDefinition{
			Name:        s.name,
			Description: s.description,
			InputSchema: s.neutral(),
		})
	}
	return out
}

// AnthropicToolSchemas returns every platform tool as Anthropic tool
// params, ready to pass to the Messages API.
func AnthropicToolSchemas() []anthropic.ToolParam {
	out := make([]anthropic.ToolParam, 0, len(toolSpecs))
	for _, s := range toolSpecs {
		out = append(out, anthropic.ToolParam{
			Name:        s.name,
			Description: anthropic.String(s.description),
			InputSchema: s.anthropic(),
		})
	}
	return out
}

// ExecuteToolCall dispatches a named tool call against a Tools facade.
// The result (or error) is rendered as a string so the LLM can see it
// and retry; the bool reports whether the call failed.
func ExecuteToolCall(ctx context.Context, t Tools, name string, args json.RawMessage) (string, bool) {
	if len(args) == 0 {
		args = json.RawMessage("{}")
	}
	result, err := dispatchToolCall(ctx, t, name, args)
	if err != nil {
		return fmt.Sprintf("Error executing %s: %v", name, err), true
	}
	return result, false
}

func dispatchToolCall(ctx context.Context, t Tools, name string, args json.RawMessage) (string, error) {
	switch name {
	case "send_message":
		var in SendMessageInput
		if err := json.Unmarshal(args, &in); err != nil {
			return "", err
		}
		msg, err := t.SendMessage(ctx, in.Content, in.Mentions)
		if err != nil {
			return "", err
		}
		return toolResult(msg)
	case "send_event":
		var in SendEventInput
		if err := json.Unmarshal(args, &in); err != nil {
			return "", err
		}
		msg, err := t.SendEvent(ctx, in.Content, in.MessageType, in.Metadata)
		if err != nil {
			return "", err
		}
		return toolResult(msg)
	case "add_participant":
		var in AddParticipantInput
		if err := json.Unmarshal(args, &in); err != nil {
			return "", err
		}
		p, err := t.AddParticipant(ctx, in.Name, in.Role)
		if err != nil {
			return "", err
		}
		return toolResult(p)
	case "remove_participant":
		var in RemoveParticipantInput
		if err := json.Unmarshal(args, &in); err != nil {
			return "", err
		}
		p, err := t.RemoveParticipant(ctx, in.Name)
		if err != nil {
			return "", err
		}
		return toolResult(p)
	case "lookup_peers":
		var in LookupPeersInput
		if err := json.Unmarshal(args, &in); err != nil {
			return "", err
		}
		page, err := t.LookupPeers(ctx, in.Page, in.PageSize)
		if err != nil {
			return "", err
		}
		return toolResult(page)
	case "get_participants":
		participants, err := t.GetParticipants(ctx)
		if err != nil {
			return "", err
		}
		return toolResult(participants)
	case "create_chatroom":
		var in CreateChatroomInput
		if err := json.Unmarshal(args, &in); err != nil {
			return "", err
		}
		room, err := t.CreateChatroom(ctx, in.Name)
		if err != nil {
			return "", err
		}
		return toolResult(room)
	default:
		return "", fmt.Errorf("unknown tool: %s", name)
	}
}

func toolResult(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
