// Package thenvoitest provides fakes for testing agent handlers and
// adapters without a platform connection.
package thenvoitest

import (
	"context"
	"fmt"
	"sync"

	thenvoi "github.com/thenvoi/thenvoi-go"
)

// SentMessage records one SendMessage call.
type SentMessage struct {
	Content  string
	Mentions []string
}

// SentEvent records one SendEvent call.
type SentEvent struct {
	Content     string
	MessageType string
	Metadata    map[string]any
}

// FakeTools is an in-memory Tools implementation. It records every
// call and can be primed with participants, peers, and errors.
type FakeTools struct {
	Room string

	mu           sync.Mutex
	participants []thenvoi.Participant
	peers        []thenvoi.Peer
	messages     []SentMessage
	events       []SentEvent
	created      []string

	// Err, when set, is returned from every mutating call.
	Err error
}

var _ thenvoi.Tools = (*FakeTools)(nil)

// NewFakeTools builds a fake bound to roomID with the given roster.
func NewFakeTools(roomID string, participants ...thenvoi.Participant) *FakeTools {
	return &FakeTools{Room: roomID, participants: participants}
}

// AddPeer seeds the peer directory used by LookupPeers and
// AddParticipant.
func (f *FakeTools) AddPeer(p thenvoi.Peer) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.peers = append(f.peers, p)
}

// Messages returns every message sent so far.
func (f *FakeTools) Messages() []SentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]SentMessage, len(f.messages))
	copy(out, f.messages)
	return out
}

// Events returns every event sent so far.
func (f *FakeTools) Events() []SentEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]SentEvent, len(f.events))
	copy(out, f.events)
	return out
}

// CreatedRooms returns the names passed to CreateChatroom.
func (f *FakeTools) CreatedRooms() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.created))
	copy(out, f.created)
	return out
}

func (f *FakeTools) RoomID() string { return f.Room }

func (f *FakeTools) SendMessage(_ context.Context, content string, mentions []string) (*thenvoi.MessagePayload, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	resolved := make([]thenvoi.Mention, 0, len(mentions))
	for _, name := range mentions {
		found := false
		for _, p := range f.participants {
			if p.Name == name {
				resolved = append(resolved, thenvoi.Mention{ID: p.ID, Username: name})
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("unknown participant %q", name)
		}
	}
	f.messages = append(f.messages, SentMessage{Content: content, Mentions: mentions})
	return &thenvoi.MessagePayload{
		ID:          thenvoi.GenerateID(thenvoi.PrefixMessage),
		Content:     content,
		MessageType: thenvoi.MessageText,
		ChatRoomID:  f.Room,
		Metadata:    thenvoi.MessageMetadata{Mentions: resolved},
	}, nil
}

func (f *FakeTools) SendEvent(_ context.Context, content, messageType string, metadata map[string]any) (*thenvoi.MessagePayload, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	f.events = append(f.events, SentEvent{Content: content, MessageType: messageType, Metadata: metadata})
	return &thenvoi.MessagePayload{
		ID:          thenvoi.GenerateID(thenvoi.PrefixMessage),
		Content:     content,
		MessageType: messageType,
		ChatRoomID:  f.Room,
	}, nil
}

func (f *FakeTools) AddParticipant(_ context.Context, name, role string) (*thenvoi.Participant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	for _, peer := range f.peers {
		if peer.Name == name {
			p := thenvoi.Participant{ID: peer.ID, Name: peer.Name, Type: peer.Type}
			f.participants = append(f.participants, p)
			return &p, nil
		}
	}
	return nil, fmt.Errorf("participant %q not found", name)
}

func (f *FakeTools) RemoveParticipant(_ context.Context, name string) (*thenvoi.Participant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	for i, p := range f.participants {
		if p.Name == name {
			f.participants = append(f.participants[:i], f.participants[i+1:]...)
			return &p, nil
		}
	}
	return nil, fmt.Errorf("participant %q not found in this room", name)
}

func (f *FakeTools) GetParticipants(context.Context) ([]thenvoi.Participant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	out := make([]thenvoi.Participant, len(f.participants))
	copy(out, f.participants)
	return out, nil
}

func (f *FakeTools) LookupPeers(_ context.Context, page, pageSize int) (*thenvoi.PeerPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	out := make([]thenvoi.Peer, len(f.peers))
	copy(out, f.peers)
	return &thenvoi.PeerPage{
		Peers:      out,
		Page:       page,
		PageSize:   pageSize,
		TotalCount: len(out),
		TotalPages: 1,
	}, nil
}

func (f *FakeTools) CreateChatroom(_ context.Context, name string) (*thenvoi.RoomPayload, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	f.created = append(f.created, name)
	return &thenvoi.RoomPayload{
		ID:    thenvoi.GenerateID(thenvoi.PrefixRoom),
		Title: name,
	}, nil
}
