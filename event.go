package thenvoi

// EventType identifies the kind of raw event delivered by the platform.
type EventType string

const (
	EventMessageCreated     EventType = "message_created"
	EventRoomAdded          EventType = "room_added"
	EventRoomRemoved        EventType = "room_removed"
	EventParticipantAdded   EventType = "participant_added"
	EventParticipantRemoved EventType = "participant_removed"
)

// Event is the interface implemented by all platform events.
type Event interface {
	Type() EventType
	Room() string
}

// Mention is a structured reference to a participant attached to a
// message's metadata. Agents only react to messages that mention them.
type Mention struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

// MessageMetadata is the metadata map carried by message payloads.
type MessageMetadata struct {
	Mentions []Mention      `json:"mentions"`
	Status   string         `json:"status,omitempty"`
	Extra    map[string]any `json:"-"`
}

// MessagePayload is the wire shape of a message_created event.
type MessagePayload struct {
	ID          string          `json:"id"`
	Content     string          `json:"content"`
	MessageType string          `json:"message_type"`
	Metadata    MessageMetadata `json:"metadata"`
	SenderID    string          `json:"sender_id"`
	SenderType  string          `json:"sender_type"`
	SenderName  string          `json:"sender_name,omitempty"`
	ChatRoomID  string          `json:"chat_room_id"`
	ThreadID    string          `json:"thread_id,omitempty"`
	InsertedAt  string          `json:"inserted_at"`
	UpdatedAt   string          `json:"updated_at"`
}

// RoomPayload is the wire shape of room_added/room_removed events and of
// room entries returned by the REST API.
type RoomPayload struct {
	ID              string       `json:"id"`
	Title           string       `json:"title"`
	Status          string       `json:"status"`
	RoomType        string       `json:"type"`
	Owner           *Participant `json:"owner,omitempty"`
	ParticipantRole string       `json:"participant_role,omitempty"`
	CreatedAt       string       `json:"created_at,omitempty"`
	RemovedAt       string       `json:"removed_at,omitempty"`
}

// MessageCreatedEvent carries a new chat message for a room.
type MessageCreatedEvent struct {
	RoomID  string
	Payload MessagePayload
}

func (e *MessageCreatedEvent) Type() EventType { return EventMessageCreated }
func (e *MessageCreatedEvent) Room() string    { return e.RoomID }

// RoomAddedEvent signals that the agent was added to a room.
type RoomAddedEvent struct {
	RoomID  string
	Payload RoomPayload
}

func (e *RoomAddedEvent) Type() EventType { return EventRoomAdded }
func (e *RoomAddedEvent) Room() string    { return e.RoomID }

// RoomRemovedEvent signals that the agent was removed from a room.
type RoomRemovedEvent struct {
	RoomID  string
	Payload RoomPayload
}

func (e *RoomRemovedEvent) Type() EventType { return EventRoomRemoved }
func (e *RoomRemovedEvent) Room() string    { return e.RoomID }

// ParticipantAddedEvent signals that a participant joined a room.
type ParticipantAddedEvent struct {
	RoomID      string
	Participant Participant
}

func (e *ParticipantAddedEvent) Type() EventType { return EventParticipantAdded }
func (e *ParticipantAddedEvent) Room() string    { return e.RoomID }

// ParticipantRemovedEvent signals that a participant left a room.
type ParticipantRemovedEvent struct {
	RoomID        string
	ParticipantID string
}

func (e *ParticipantRemovedEvent) Type() EventType { return EventParticipantRemoved }
func (e *ParticipantRemovedEvent) Room() string    { return e.RoomID }
