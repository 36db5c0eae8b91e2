// Package anthropic adapts the platform runtime to the Anthropic
// Messages API: per-room conversation history, a bounded tool loop,
// and spend tracking.
package anthropic

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/shopspring/decimal"

	thenvoi "github.com/thenvoi/thenvoi-go"
	"github.com/thenvoi/thenvoi-go/adapter"
	"github.com/thenvoi/thenvoi-go/internal/budget"
)

const (
	defaultModel        = sdk.ModelClaudeSonnet4_5
	defaultMaxTokens    = 4096
	defaultMaxToolTurns = 10
)

// messageCreator abstracts the Messages API so the tool loop can be
// tested with a mock.
type messageCreator interface {
	New(ctx context.Context, params sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
}

// Agent is an Anthropic-backed platform adapter. The model never
// replies in free text: every visible response goes through the
// send_message tool.
type Agent struct {
	msgs         messageCreator
	model        sdk.Model
	maxTokens    int64
	maxToolTurns int
	systemPrompt string
	custom       string
	reporting    bool
	spend        *budget.BudgetTracker
	logger       *slog.Logger

	mu        sync.Mutex
	name      string
	desc      string
	histories map[string][]sdk.MessageParam
}

var (
	_ adapter.Adapter        = (*Agent)(nil)
	_ adapter.CleanupAdapter = (*Agent)(nil)
)

// Option configures an Agent.
type Option func(*Agent)

// WithModel sets the Claude model.
func WithModel(m sdk.Model) Option {
	return func(a *Agent) { a.model = m }
}

// WithMaxTokens caps response length per API call.
func WithMaxTokens(n int64) Option {
	return func(a *Agent) { a.maxTokens = n }
}

// WithMaxToolTurns bounds the tool loop per message.
func WithMaxToolTurns(n int) Option {
	return func(a *Agent) { a.maxToolTurns = n }
}

// WithSystemPrompt replaces the rendered default prompt entirely.
func WithSystemPrompt(prompt string) Option {
	return func(a *Agent) { a.systemPrompt = prompt }
}

// WithCustomSection appends custom instructions to the default prompt.
func WithCustomSection(section string) Option {
	return func(a *Agent) { a.custom = section }
}

// WithExecutionReporting posts tool_call and tool_result events to the
// room as the model works, so users can follow along.
func WithExecutionReporting(enabled bool) Option {
	return func(a *Agent) { a.reporting = enabled }
}

// WithMaxSpend caps cumulative API spend in USD; zero means unlimited.
// When the cap is reached the agent stops calling the API and reports
// an error event instead.
func WithMaxSpend(max decimal.Decimal) Option {
	return func(a *Agent) { a.spend = budget.NewBudgetTracker(max, budget.DefaultPricing) }
}

// WithLogger sets the adapter's logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Agent) { a.logger = l }
}

// New builds an Anthropic adapter. The Anthropic API key comes from
// the ANTHROPIC_API_KEY environment variable unless apiKey is set.
func New(apiKey string, opts ...Option) *Agent {
	var clientOpts []option.RequestOption
	if apiKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(apiKey))
	}
	client := sdk.NewClient(clientOpts...)
	a := &Agent{
		msgs:         &client.Messages,
		model:        defaultModel,
		maxTokens:    defaultMaxTokens,
		maxToolTurns: defaultMaxToolTurns,
		spend:        budget.NewBudgetTracker(decimal.Zero, budget.DefaultPricing),
		logger:       slog.Default(),
		histories:    make(map[string][]sdk.MessageParam),
	}
	for _, fn := range opts {
		fn(a)
	}
	return a
}

// SetIdentity records the agent's platform name and description, used
// to render the system prompt. Call it after the runtime starts, with
// the verified profile.
func (a *Agent) SetIdentity(name, description string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.name = name
	a.desc = description
}

// TotalSpend returns cumulative API cost in USD.
func (a *Agent) TotalSpend() decimal.Decimal {
	return a.spend.TotalCost()
}

// CleanupRoom drops the room's conversation history. Wired into the
// runtime via adapter.Options.
func (a *Agent) CleanupRoom(_ context.Context, roomID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.histories, roomID)
	return nil
}

// HandleMessage runs one platform message through the model, executing
// tool calls until the model stops asking for them.
func (a *Agent) HandleMessage(ctx context.Context, in *thenvoi.AgentInput) error {
	roomID := in.RoomID

	a.mu.Lock()
	if in.IsSessionBootstrap {
		a.histories[roomID] = convertHistory(in.History)
		a.logger.Info("session bootstrap", "room_id", roomID, "history", len(in.History))
	} else if _, ok := a.histories[roomID]; !ok {
		a.histories[roomID] = nil
	}
	if in.ParticipantsMessage != "" {
		a.histories[roomID] = append(a.histories[roomID],
			sdk.NewUserMessage(sdk.NewTextBlock("[System]: "+in.ParticipantsMessage)))
	}
	a.histories[roomID] = append(a.histories[roomID],
		sdk.NewUserMessage(sdk.NewTextBlock(in.Message.FormatForLLM())))
	system := a.renderPromptLocked()
	a.mu.Unlock()

	tools := toolUnionParams()

	for turn := 0; turn < a.maxToolTurns; turn++ {
		if a.spend.Exhausted() {
			a.reportError(ctx, in.Tools, "spend budget exhausted")
			return fmt.Errorf("anthropic: spend budget exhausted")
		}

		a.mu.Lock()
		messages := a.histories[roomID]
		a.mu.Unlock()

		resp, err := a.msgs.New(ctx, sdk.MessageNewParams{
			Model:     a.model,
			MaxTokens: a.maxTokens,
			System:    []sdk.TextBlockParam{{Text: system}},
			Messages:  messages,
			Tools:     tools,
		})
		if err != nil {
			a.reportError(ctx, in.Tools, err.Error())
			return fmt.Errorf("anthropic: %w", err)
		}

		a.spend.RecordUsage(a.model, budget.Usage{
			InputTokens:              int(resp.Usage.InputTokens),
			OutputTokens:             int(resp.Usage.OutputTokens),
			CacheReadInputTokens:     int(resp.Usage.CacheReadInputTokens),
			CacheCreationInputTokens: int(resp.Usage.CacheCreationInputTokens),
		})

		a.mu.Lock()
		a.histories[roomID] = append(a.histories[roomID], resp.ToParam())
		a.mu.Unlock()

		if resp.StopReason != sdk.StopReasonToolUse {
			a.logger.Debug("turn complete", "room_id", roomID, "stop_reason", resp.StopReason)
			return nil
		}

		results := a.executeToolCalls(ctx, in.Tools, resp.Content)
		a.mu.Lock()
		a.histories[roomID] = append(a.histories[roomID], sdk.NewUserMessage(results...))
		a.mu.Unlock()
	}

	a.logger.Warn("hit max tool turns", "room_id", roomID, "max", a.maxToolTurns)
	return nil
}

func (a *Agent) renderPromptLocked() string {
	if a.systemPrompt != "" {
		return a.systemPrompt
	}
	return adapter.RenderSystemPrompt(a.name, a.desc, a.custom)
}

func (a *Agent) executeToolCalls(ctx context.Context, tools thenvoi.Tools, content []sdk.ContentBlockUnion) []sdk.ContentBlockParamUnion {
	var results []sdk.ContentBlockParamUnion
	for _, block := range content {
		if block.Type != "tool_use" {
			continue
		}
		a.logger.Debug("executing tool", "tool", block.Name)

		if a.reporting {
			a.reportEvent(ctx, tools, "Calling "+block.Name, thenvoi.MessageToolCall,
				map[string]any{"tool": block.Name, "input": json.RawMessage(block.Input)})
		}

		result, isError := thenvoi.ExecuteToolCall(ctx, tools, block.Name, json.RawMessage(block.Input))

		if a.reporting {
			a.reportEvent(ctx, tools, truncate("Result: "+result, 200), thenvoi.MessageToolResult,
				map[string]any{"tool": block.Name, "is_error": isError})
		}

		results = append(results, sdk.NewToolResultBlock(block.ID, result, isError))
	}
	return results
}

func (a *Agent) reportError(ctx context.Context, tools thenvoi.Tools, msg string) {
	a.reportEvent(ctx, tools, msg, thenvoi.MessageError, nil)
}

func (a *Agent) reportEvent(ctx context.Context, tools thenvoi.Tools, content, messageType string, metadata map[string]any) {
	if _, err := tools.SendEvent(ctx, content, messageType, metadata); err != nil {
		a.logger.Warn("failed to send event", "message_type", messageType, "error", err)
	}
}

// convertHistory maps platform history into Anthropic message params.
// Non-assistant turns keep the sender prefix so the model can tell
// participants apart.
func convertHistory(history []thenvoi.HistoryEntry) []sdk.MessageParam {
	out := make([]sdk.MessageParam, 0, len(history))
	for _, h := range history {
		if h.Content == "" {
			continue
		}
		if h.Role == "assistant" {
			out = append(out, sdk.NewAssistantMessage(sdk.NewTextBlock(h.Content)))
			continue
		}
		out = append(out, sdk.NewUserMessage(sdk.NewTextBlock(fmt.Sprintf("[%s]: %s", h.SenderName, h.Content))))
	}
	return out
}

func toolUnionParams() []sdk.ToolUnionParam {
	schemas := thenvoi.AnthropicToolSchemas()
	out := make([]sdk.ToolUnionParam, 0, len(schemas))
	for i := range schemas {
		out = append(out, sdk.ToolUnionParam{OfTool: &schemas[i]})
	}
	return out
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
