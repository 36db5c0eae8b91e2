package thenvoi

import (
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Topic prefixes for the platform's channel namespaces.
const (
	topicAgentRooms       = "agent_rooms:"
	topicChatRoom         = "chat_room:"
	topicRoomParticipants = "room_participants:"
)

// RoomFilter decides whether the runtime should join a room it has
// been added to. Returning false leaves the room unjoined; the agent
// can still be added again later.
type RoomFilter func(room *RoomPayload) bool

// RoomTitlePattern returns a RoomFilter that joins only rooms whose
// title matches the given glob pattern. Matching is case-insensitive
// and supports doublestar globs ("support-*", "**/triage").
func RoomTitlePattern(pattern string) RoomFilter {
	pattern = strings.ToLower(pattern)
	return func(room *RoomPayload) bool {
		if room == nil {
			return false
		}
		ok, err := doublestar.Match(pattern, strings.ToLower(room.Title))
		if err != nil {
			return false
		}
		return ok
	}
}

// IsMessageForAgent reports whether a message is addressed to the
// agent: it must come from another sender and carry the agent's ID in
// its mention metadata. Messages with missing or malformed metadata
// are never for the agent.
func IsMessageForAgent(agentID string, msg *MessagePayload) bool {
	if msg == nil || agentID == "" {
		return false
	}
	if msg.SenderID == agentID {
		return false
	}
	for _, m := range msg.Metadata.Mentions {
		if m.ID == agentID {
			return true
		}
	}
	return false
}

// isOwnMessage reports whether the agent sent the message itself.
func isOwnMessage(agentID string, msg *MessagePayload) bool {
	return msg != nil && msg.SenderID == agentID
}
