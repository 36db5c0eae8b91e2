package thenvoi

import (
	"context"
	"io"
	"log/slog"
)

// stubRest is a function-field RestAPI fake. Unset fields succeed with
// zero values so tests only wire the calls they care about.
type stubRest struct {
	MeFunc                   func(ctx context.Context) (*AgentProfile, error)
	ListChatsFunc            func(ctx context.Context) ([]RoomPayload, error)
	CreateChatFunc           func(ctx context.Context, name, taskID string) (*RoomPayload, error)
	ChatContextFunc          func(ctx context.Context, roomID string) ([]ContextMessage, error)
	ListChatParticipantsFunc func(ctx context.Context, roomID string) ([]Participant, error)
	AddChatParticipantFunc   func(ctx context.Context, roomID, participantID, role string) error
	RemoveParticipantFunc    func(ctx context.Context, roomID, participantID string) error
	CreateChatMessageFunc    func(ctx context.Context, roomID, content string, mentions []Mention) (*MessagePayload, error)
	CreateChatEventFunc      func(ctx context.Context, roomID, content, messageType string, metadata map[string]any) (*MessagePayload, error)
	ListPeersFunc            func(ctx context.Context, page, pageSize int, notInChat string) (*PeerPage, error)
	NextMessageFunc          func(ctx context.Context, roomID string) (*PlatformMessage, error)
	MarkProcessingFunc       func(ctx context.Context, roomID, messageID string) error
	MarkProcessedFunc        func(ctx context.Context, roomID, messageID string) error
	MarkFailedFunc           func(ctx context.Context, roomID, messageID, errMsg string) error
}

var _ RestAPI = (*stubRest)(nil)

func (s *stubRest) Me(ctx context.Context) (*AgentProfile, error) {
	if s.MeFunc != nil {
		return s.MeFunc(ctx)
	}
	return &AgentProfile{ID: "agent-1", Name: "Test Agent", Description: "test"}, nil
}

func (s *stubRest) ListChats(ctx context.Context) ([]RoomPayload, error) {
	if s.ListChatsFunc != nil {
		return s.ListChatsFunc(ctx)
	}
	return nil, nil
}

func (s *stubRest) CreateChat(ctx context.Context, name, taskID string) (*RoomPayload, error) {
	if s.CreateChatFunc != nil {
		return s.CreateChatFunc(ctx, name, taskID)
	}
	return &RoomPayload{ID: "room-new", Title: name}, nil
}

func (s *stubRest) ChatContext(ctx context.Context, roomID string) ([]ContextMessage, error) {
	if s.ChatContextFunc != nil {
		return s.ChatContextFunc(ctx, roomID)
	}
	return nil, nil
}

func (s *stubRest) ListChatParticipants(ctx context.Context, roomID string) ([]Participant, error) {
	if s.ListChatParticipantsFunc != nil {
		return s.ListChatParticipantsFunc(ctx, roomID)
	}
	return nil, nil
}

func (s *stubRest) AddChatParticipant(ctx context.Context, roomID, participantID, role string) error {
	if s.AddChatParticipantFunc != nil {
		return s.AddChatParticipantFunc(ctx, roomID, participantID, role)
	}
	return nil
}

func (s *stubRest) RemoveChatParticipant(ctx context.Context, roomID, participantID string) error {
	if s.RemoveParticipantFunc != nil {
		return s.RemoveParticipantFunc(ctx, roomID, participantID)
	}
	return nil
}

func (s *stubRest) CreateChatMessage(ctx context.Context, roomID, content string, mentions []Mention) (*MessagePayload, error) {
	if s.CreateChatMessageFunc != nil {
		return s.CreateChatMessageFunc(ctx, roomID, content, mentions)
	}
	return &MessagePayload{ID: "msg-sent", Content: content, ChatRoomID: roomID}, nil
}

func (s *stubRest) CreateChatEvent(ctx context.Context, roomID, content, messageType string, metadata map[string]any) (*MessagePayload, error) {
	if s.CreateChatEventFunc != nil {
		return s.CreateChatEventFunc(ctx, roomID, content, messageType, metadata)
	}
	return &MessagePayload{ID: "evt-sent", Content: content, MessageType: messageType, ChatRoomID: roomID}, nil
}

func (s *stubRest) ListPeers(ctx context.Context, page, pageSize int, notInChat string) (*PeerPage, error) {
	if s.ListPeersFunc != nil {
		return s.ListPeersFunc(ctx, page, pageSize, notInChat)
	}
	return &PeerPage{Page: page, PageSize: pageSize, TotalPages: 1}, nil
}

func (s *stubRest) NextMessage(ctx context.Context, roomID string) (*PlatformMessage, error) {
	if s.NextMessageFunc != nil {
		return s.NextMessageFunc(ctx, roomID)
	}
	return nil, nil
}

func (s *stubRest) MarkProcessing(ctx context.Context, roomID, messageID string) error {
	if s.MarkProcessingFunc != nil {
		return s.MarkProcessingFunc(ctx, roomID, messageID)
	}
	return nil
}

func (s *stubRest) MarkProcessed(ctx context.Context, roomID, messageID string) error {
	if s.MarkProcessedFunc != nil {
		return s.MarkProcessedFunc(ctx, roomID, messageID)
	}
	return nil
}

func (s *stubRest) MarkFailed(ctx context.Context, roomID, messageID, errMsg string) error {
	if s.MarkFailedFunc != nil {
		return s.MarkFailedFunc(ctx, roomID, messageID, errMsg)
	}
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestLink builds a Link whose REST leg is the given fake. The
// WebSocket leg is never dialed.
func newTestLink(rest RestAPI) *Link {
	l := NewLink("agent-1", "test-key", WithLinkLogger(testLogger()))
	l.rest = rest
	return l
}

// liveMessage builds a message_created event addressed to agent-1.
func liveMessage(roomID, msgID, senderID, content string) *MessageCreatedEvent {
	return &MessageCreatedEvent{
		RoomID: roomID,
		Payload: MessagePayload{
			ID:         msgID,
			Content:    content,
			SenderID:   senderID,
			SenderType: SenderUser,
			SenderName: "Alice",
			ChatRoomID: roomID,
			Metadata: MessageMetadata{
				Mentions: []Mention{{ID: "agent-1", Username: "Test Agent"}},
				Status:   "sent",
			},
		},
	}
}
