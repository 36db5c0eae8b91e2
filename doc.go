// Package thenvoi provides a Go SDK for building agents on the Thenvoi
// multi-party chat platform.
//
// An agent connects to the platform over a persistent WebSocket for
// inbound events and a REST API for outbound actions. The SDK manages
// one independent conversation context per chat room: events for the
// same room are processed strictly in order, rooms run concurrently,
// and a failure in one room never blocks another.
//
//   - [Link] owns the WebSocket and REST connections.
//   - [Runtime] schedules events onto per-room workers and invokes the
//     user's execution handler with a normalized [AgentInput].
//   - [Tools] is the capability surface a handler (or an LLM driving
//     one) uses to act on the platform.
//
// # Quick Start
//
//	link := thenvoi.NewLink(agentID, apiKey)
//	rt := thenvoi.NewRuntime(link, func(ctx context.Context, in *thenvoi.AgentInput) error {
//	    _, err := in.Tools.SendMessage(ctx, "Hello!", []string{in.Message.SenderName})
//	    return err
//	})
//	if err := rt.Run(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
// # Sub-packages
//
//   - adapter defines the framework adapter interface.
//   - adapter/anthropic runs the handler loop on the Anthropic API.
//   - adapter/a2a exposes the agent through an Agent-to-Agent gateway.
//   - thenvoitest provides an in-memory Tools fake for tests.
package thenvoi
