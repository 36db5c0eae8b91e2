package thenvoi

import (
	"context"
)

// AgentInput is everything a handler needs to act on one message:
// the message itself, a tools facade bound to the room, bootstrap
// history, and a participants notice when the roster changed.
type AgentInput struct {
	Message *PlatformMessage
	Tools   Tools

	// History holds prior room messages, populated only on session
	// bootstrap when hydration is enabled.
	History []HistoryEntry

	// ParticipantsMessage is non-empty when the roster changed since
	// the last handler invocation. Inject it as a system message.
	ParticipantsMessage string

	// IsSessionBootstrap is true for the first message the handler
	// sees in this room's execution.
	IsSessionBootstrap bool

	RoomID string
}

// Preprocessor turns a raw platform event into handler input.
// Returning (nil, nil) skips the event without failing it.
type Preprocessor interface {
	Process(ctx context.Context, ec *ExecutionContext, ev Event) (*AgentInput, error)
}

// defaultPreprocessor implements the standard pipeline: messages only,
// mention gating via IsMessageForAgent, bootstrap detection with
// history loading, and participant change notices.
type defaultPreprocessor struct{}

func (p *defaultPreprocessor) Process(ctx context.Context, ec *ExecutionContext, ev Event) (*AgentInput, error) {
	msgEvent, ok := ev.(*MessageCreatedEvent)
	if !ok {
		return nil, nil
	}
	payload := &msgEvent.Payload
	if payload.ID == "" {
		return nil, nil
	}
	if !IsMessageForAgent(ec.agentID, payload) {
		return nil, nil
	}

	roomID := msgEvent.RoomID
	if roomID == "" {
		roomID = payload.ChatRoomID
	}
	msg := messageFromPayload(roomID, payload)

	isBootstrap := !ec.IsLLMInitialized()

	var history []HistoryEntry
	if isBootstrap {
		if ec.hydrationEnabled {
			if err := ec.Hydrate(ctx); err != nil {
				ec.logger.Warn("history load failed", "error", err)
			}
			history = ec.History(msg.ID)
		}
		ec.MarkLLMInitialized()
	}

	var participantsMsg string
	if ec.tracker.Changed() {
		participantsMsg = ec.ParticipantsMessage()
		ec.tracker.MarkSent()
	}

	return &AgentInput{
		Message:             msg,
		Tools:               NewAgentTools(ec),
		History:             history,
		ParticipantsMessage: participantsMsg,
		IsSessionBootstrap:  isBootstrap,
		RoomID:              roomID,
	}, nil
}
