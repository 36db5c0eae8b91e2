// Package adapter defines the contract between the platform runtime
// and LLM framework integrations, plus shared prompt rendering.
package adapter

import (
	"context"
	"fmt"
	"strings"

	thenvoi "github.com/thenvoi/thenvoi-go"
)

// Adapter handles preprocessed platform messages with a specific LLM
// framework. One adapter instance serves every room; per-room state is
// keyed by AgentInput.RoomID.
type Adapter interface {
	HandleMessage(ctx context.Context, in *thenvoi.AgentInput) error
}

// CleanupAdapter is implemented by adapters that keep per-room state
// needing teardown when the agent leaves a room.
type CleanupAdapter interface {
	Adapter
	CleanupRoom(ctx context.Context, roomID string) error
}

// Handler converts an Adapter into the runtime's handler signature.
func Handler(a Adapter) thenvoi.ExecutionHandler {
	return a.HandleMessage
}

// Options returns the runtime options an adapter needs wired in,
// including its cleanup hook when it has one.
func Options(a Adapter) []thenvoi.RuntimeOption {
	var opts []thenvoi.RuntimeOption
	if c, ok := a.(CleanupAdapter); ok {
		opts = append(opts, thenvoi.WithCleanup(c.CleanupRoom))
	}
	return opts
}

// baseInstructions teaches the model the chat environment: how
// messages are framed, that replies go through send_message, and that
// reasoning is shared via thought events.
const baseInstructions = `## Environment

Multi-participant chat. Messages show sender: [Name]: content.
Use ` + "`send_message(content, mentions)`" + ` to respond. Plain text output is not delivered.

## CRITICAL: Always Relay Information Back to the Requester

When someone asks you to get information from another agent:
1. Ask the other agent for the information
2. When you receive the response, IMMEDIATELY relay it back to the ORIGINAL REQUESTER
3. Do NOT just thank the helper agent - the requester is waiting for their answer!

## IMPORTANT: Always Share Your Thinking

You MUST call ` + "`send_event(content, message_type=\"thought\")`" + ` BEFORE every action.
This is required so users can see your reasoning process.`

// RenderSystemPrompt combines the agent's platform identity, an
// optional custom section, and the base environment instructions.
func RenderSystemPrompt(agentName, agentDescription, customSection string) string {
	if agentName == "" {
		agentName = "Agent"
	}
	if agentDescription == "" {
		agentDescription = "An AI assistant"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "You are %s, %s.\n", agentName, agentDescription)
	if customSection != "" {
		b.WriteString("\n")
		b.WriteString(customSection)
		b.WriteString("\n")
	}
	b.WriteString("\n")
	b.WriteString(baseInstructions)
	return b.String()
}
