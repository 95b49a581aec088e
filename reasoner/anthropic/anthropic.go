// Package anthropic adapts the Anthropic Messages API to the agent.Reasoner
// contract.
package anthropic

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/shared/constant"

	"github.com/seafield/agentrelay/agent"
	"github.com/seafield/agentrelay/core"
	"github.com/seafield/agentrelay/tool"
)

// Options configure the adapter (model id, temperature, max tokens, API key).
type Options struct {
	Model       anthropic.Model
	Temperature float64
	MaxTokens   int64
	APIKey      string
}

// Reasoner wraps the Anthropic Messages API behind agent.Reasoner.
type Reasoner struct {
	client *anthropic.Client
	opts   Options
}

// New creates a Reasoner using the official client.
func New(optFns ...func(o *Options)) *Reasoner {
	opts := defaults()
	for _, fn := range optFns {
		fn(&opts)
	}
	var clientOpts []option.RequestOption
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}
	client := anthropic.NewClient(clientOpts...)
	return &Reasoner{client: &client, opts: opts}
}

// NewFromClient creates a Reasoner from an existing client.
func NewFromClient(client *anthropic.Client, optFns ...func(o *Options)) *Reasoner {
	opts := defaults()
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Reasoner{client: client, opts: opts}
}

func defaults() Options {
	return Options{
		Model:       anthropic.ModelClaude3_5Sonnet20241022,
		Temperature: 0.7,
		MaxTokens:   4096,
	}
}

// Reason implements agent.Reasoner. The adapter is currently non-streaming:
// the settled step is derived from the complete response and no partial
// fragments are emitted.
// TODO: stream via Messages.NewStreaming and forward text deltas to emit.
func (r *Reasoner) Reason(ctx context.Context, req agent.Request, _ func(string)) (agent.Step, error) {
	params := anthropic.MessageNewParams{
		Model:       r.opts.Model,
		Messages:    buildMessages(req.Messages),
		MaxTokens:   r.opts.MaxTokens,
		Temperature: anthropic.Float(r.opts.Temperature),
	}
	if req.Instructions != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.Instructions}}
	}
	defs := req.Tools
	if len(req.Handoffs) > 0 {
		defs = append(append([]tool.Definition{}, defs...), agent.TransferToolDefinition(req.Handoffs))
	}
	if len(defs) > 0 {
		params.Tools = buildTools(defs)
	}

	resp, err := r.client.Messages.New(ctx, params)
	if err != nil {
		return agent.Step{}, fmt.Errorf("anthropic api error: %w", err)
	}

	var text string
	step := agent.Step{}
	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			text += block.AsText().Text
		case "tool_use":
			toolBlock := block.AsToolUse()
			args := map[string]any{}
			if toolBlock.Input != nil {
				if b, err := json.Marshal(toolBlock.Input); err == nil {
					_ = json.Unmarshal(b, &args)
				}
			}
			if toolBlock.Name == agent.TransferToolName {
				if target, ok := args["agent"].(string); ok && step.Handoff == "" {
					step.Handoff = target
				}
				continue
			}
			step.Calls = append(step.Calls, core.ToolCall{ID: toolBlock.ID, Name: toolBlock.Name, Arguments: args})
		}
	}
	if step.Handoff == "" && len(step.Calls) == 0 {
		return agent.FinalStep(text), nil
	}
	return step, nil
}

// buildMessages converts engine messages to the Anthropic message format,
// embedding tool results as tool_result blocks in user messages.
func buildMessages(history []core.Message) []anthropic.MessageParam {
	var messages []anthropic.MessageParam
	for _, m := range history {
		switch m.Role {
		case "user":
			messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Text)))
		case "assistant":
			var content []anthropic.ContentBlockParamUnion
			if m.Text != "" {
				content = append(content, anthropic.NewTextBlock(m.Text))
			}
			for _, call := range m.Calls {
				content = append(content, anthropic.NewToolUseBlock(call.ID, call.Arguments, call.Name))
			}
			if len(content) > 0 {
				messages = append(messages, anthropic.NewAssistantMessage(content...))
			}
		case "tool":
			if m.Result == nil {
				continue
			}
			messages = append(messages, anthropic.NewUserMessage(
				anthropic.NewToolResultBlock(m.Result.CallID, resultText(*m.Result), m.Result.Failed()),
			))
		}
	}
	return messages
}

func resultText(result core.ToolResult) string {
	if result.Failed() {
		return result.Error
	}
	if s, ok := result.Value.(string); ok {
		return s
	}
	b, err := json.Marshal(result.Value)
	if err != nil {
		return fmt.Sprintf("%v", result.Value)
	}
	return string(b)
}

func buildTools(defs []tool.Definition) []anthropic.ToolUnionParam {
	tools := make([]anthropic.ToolUnionParam, len(defs))
	for i, def := range defs {
		inputSchema := anthropic.ToolInputSchemaParam{Type: constant.Object("object")}
		if def.Parameters != nil {
			if properties, ok := def.Parameters["properties"]; ok {
				inputSchema.Properties = properties
			}
			if required, ok := def.Parameters["required"]; ok {
				switch req := required.(type) {
				case []string:
					inputSchema.Required = req
				case []any:
					for _, r := range req {
						if s, ok := r.(string); ok {
							inputSchema.Required = append(inputSchema.Required, s)
						}
					}
				}
			}
		}
		tools[i] = anthropic.ToolUnionParamOfTool(inputSchema, def.Name)
	}
	return tools
}
