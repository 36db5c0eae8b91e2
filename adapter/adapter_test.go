package adapter

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	thenvoi "github.com/thenvoi/thenvoi-go"
)

func TestRenderSystemPrompt(t *testing.T) {
	prompt := RenderSystemPrompt("Weather Agent", "provides forecasts", "## Style\nBe brief.")

	assert.Contains(t, prompt, "You are Weather Agent, provides forecasts.")
	assert.Contains(t, prompt, "## Style\nBe brief.")
	assert.Contains(t, prompt, "send_message")
	assert.Contains(t, prompt, "thought")
}

func TestRenderSystemPromptDefaults(t *testing.T) {
	prompt := RenderSystemPrompt("", "", "")

	assert.Contains(t, prompt, "You are Agent, An AI assistant.")
	assert.Contains(t, prompt, "## Environment")
}

type plainAdapter struct{ called bool }

func (a *plainAdapter) HandleMessage(ctx context.Context, in *thenvoi.AgentInput) error {
	a.called = true
	return nil
}

type cleanupAdapter struct {
	plainAdapter
	cleaned []string
}

func (a *cleanupAdapter) CleanupRoom(ctx context.Context, roomID string) error {
	a.cleaned = append(a.cleaned, roomID)
	return nil
}

func TestHandler(t *testing.T) {
	a := &plainAdapter{}
	h := Handler(a)
	require.NoError(t, h(context.Background(), &thenvoi.AgentInput{RoomID: "room-1"}))
	assert.True(t, a.called)
}

func TestOptions(t *testing.T) {
	assert.Empty(t, Options(&plainAdapter{}), "plain adapters need no extra options")
	assert.Len(t, Options(&cleanupAdapter{}), 1, "cleanup adapters wire their teardown hook")
}
