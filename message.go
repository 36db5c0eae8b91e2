package thenvoi

import (
	"fmt"
	"strings"
	"time"
)

// Sender kinds reported by the platform.
const (
	SenderUser   = "User"
	SenderAgent  = "Agent"
	SenderSystem = "System"
)

// Message kinds carried by messages and events.
const (
	MessageText       = "text"
	MessageToolCall   = "tool_call"
	MessageToolResult = "tool_result"
	MessageThought    = "thought"
	MessageError      = "error"
	MessageTask       = "task"
)

// PlatformMessage is a single chat message normalized for adapters.
// Immutable once constructed.
type PlatformMessage struct {
	ID          string
	RoomID      string
	Content     string
	SenderID    string
	SenderType  string
	SenderName  string
	MessageType string
	Metadata    MessageMetadata
	CreatedAt   time.Time
}

// FormatForLLM renders the message with a sender prefix:
// "[SENDER_NAME]: content".
func (m *PlatformMessage) FormatForLLM() string {
	sender := m.SenderName
	if sender == "" {
		sender = m.SenderType
	}
	return fmt.Sprintf("[%s]: %s", sender, m.Content)
}

// Participant is a user or agent identity that can appear in a room.
// Unique by ID within a room; replaced, never mutated in place.
type Participant struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Type string `json:"type"`
}

// HistoryEntry is one prior message in the neutral history shape handed
// to framework adapters.
type HistoryEntry struct {
	Role        string         `json:"role"` // "user" or "assistant"
	Content     string         `json:"content"`
	SenderName  string         `json:"sender_name"`
	SenderType  string         `json:"sender_type"`
	SenderID    string         `json:"sender_id"`
	MessageType string         `json:"message_type"`
	RoomID      string         `json:"room_id"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// ContextMessage is the wire shape of one hydrated history item.
type ContextMessage struct {
	ID          string         `json:"id"`
	Content     string         `json:"content"`
	SenderID    string         `json:"sender_id"`
	SenderType  string         `json:"sender_type"`
	SenderName  string         `json:"sender_name"`
	MessageType string         `json:"message_type"`
	InsertedAt  string         `json:"inserted_at"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// messageFromPayload converts a wire payload into a PlatformMessage.
func messageFromPayload(roomID string, p *MessagePayload) *PlatformMessage {
	room := p.ChatRoomID
	if room == "" {
		room = roomID
	}
	return &PlatformMessage{
		ID:          p.ID,
		RoomID:      room,
		Content:     p.Content,
		SenderID:    p.SenderID,
		SenderType:  p.SenderType,
		SenderName:  p.SenderName,
		MessageType: p.MessageType,
		Metadata:    p.Metadata,
		CreatedAt:   parseTimestamp(p.InsertedAt),
	}
}

// parseTimestamp accepts RFC 3339 timestamps (trailing Z meaning UTC)
// and the zone-less form the platform emits for inserted_at. Unparseable
// input yields the current time rather than an error: timestamps are
// informational, never load-bearing.
func parseTimestamp(s string) time.Time {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t
	}
	if t, err := time.Parse("2006-01-02T15:04:05.999999", s); err == nil {
		return t.UTC()
	}
	return time.Now().UTC()
}

// formatHistoryEntry maps one hydrated message to the neutral shape.
// Agent messages become "assistant" turns, everything else "user".
func formatHistoryEntry(roomID string, m ContextMessage) HistoryEntry {
	role := "user"
	if m.SenderType == SenderAgent {
		role = "assistant"
	}
	name := m.SenderName
	if name == "" {
		name = m.SenderType
	}
	return HistoryEntry{
		Role:        role,
		Content:     m.Content,
		SenderName:  name,
		SenderType:  m.SenderType,
		SenderID:    m.SenderID,
		MessageType: m.MessageType,
		RoomID:      roomID,
		Metadata:    m.Metadata,
	}
}

// FormatHistory maps hydrated room history into the neutral adapter
// shape, excluding the message with excludeID (usually the one being
// processed right now).
func FormatHistory(roomID string, messages []ContextMessage, excludeID string) []HistoryEntry {
	out := make([]HistoryEntry, 0, len(messages))
	for _, m := range messages {
		if excludeID != "" && m.ID == excludeID {
			continue
		}
		out = append(out, formatHistoryEntry(roomID, m))
	}
	return out
}

// BuildParticipantsMessage renders the current participant list as a
// system message for LLM context.
func BuildParticipantsMessage(participants []Participant) string {
	if len(participants) == 0 {
		return "## Current Participants\nNo other participants in this room."
	}

	var b strings.Builder
	b.WriteString("## Current Participants\n")
	for _, p := range participants {
		typ := p.Type
		if typ == "" {
			typ = "Unknown"
		}
		name := p.Name
		if name == "" {
			name = "Unknown"
		}
		fmt.Fprintf(&b, "- %s (%s)\n", name, typ)
	}
	b.WriteString("\nTo mention a participant in send_message, use their EXACT name (e.g., 'Weather Agent', not an ID).")
	return b.String()
}
