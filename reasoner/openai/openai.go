// Package openai adapts the OpenAI Chat Completions API (streaming +
// function/tool calling) to the agent.Reasoner contract.
package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/openai/openai-go"

	"github.com/seafield/agentrelay/agent"
	"github.com/seafield/agentrelay/core"
	"github.com/seafield/agentrelay/tool"
)

// aggCall aggregates partial tool call streaming deltas (id, name, arguments)
// so complete calls can be reconstructed at finish.
type aggCall struct{ id, name, args string }

// Options configure the adapter. Fields mirror a minimal subset of Chat
// Completion parameters.
type Options struct {
	Model               string
	Temperature         float64
	MaxCompletionTokens int64
}

// Reasoner wraps the OpenAI client behind agent.Reasoner.
type Reasoner struct {
	client *openai.Client
	opts   Options
}

// New creates a Reasoner using the default client (API key from environment).
func New(optFns ...func(o *Options)) *Reasoner {
	client := openai.NewClient()
	return NewFromClient(&client, optFns...)
}

// NewFromClient creates a Reasoner from an existing client.
func NewFromClient(client *openai.Client, optFns ...func(o *Options)) *Reasoner {
	opts := Options{
		Model:               openai.ChatModelGPT4oMini,
		Temperature:         0.7,
		MaxCompletionTokens: 4096,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Reasoner{client: client, opts: opts}
}

// Reason implements agent.Reasoner via a streaming chat completion. Text
// deltas flow through emit; the settled step is derived from the finished
// message: tool calls win over text, and a call to the transfer tool becomes
// a handoff request.
func (r *Reasoner) Reason(ctx context.Context, req agent.Request, emit func(string)) (agent.Step, error) {
	params := r.buildParams(req)
	stream := r.client.Chat.Completions.NewStreaming(ctx, params)

	var textBuilder strings.Builder
	agg := map[int64]*aggCall{}
	for stream.Next() {
		chunk := stream.Current()
		for _, choice := range chunk.Choices {
			if choice.Delta.Content != "" {
				textBuilder.WriteString(choice.Delta.Content)
				emit(choice.Delta.Content)
			}
			for _, tc := range choice.Delta.ToolCalls {
				ac, ok := agg[tc.Index]
				if !ok {
					ac = &aggCall{}
					agg[tc.Index] = ac
				}
				if tc.ID != "" {
					ac.id = tc.ID
				}
				if tc.Function.Name != "" {
					ac.name = tc.Function.Name
				}
				if tc.Function.Arguments != "" {
					ac.args += tc.Function.Arguments
				}
			}
		}
	}
	if err := stream.Err(); err != nil {
		return agent.Step{}, fmt.Errorf("openai streaming error: %w", err)
	}

	return settleStep(textBuilder.String(), orderedCalls(agg))
}

func orderedCalls(agg map[int64]*aggCall) []aggCall {
	max := int64(-1)
	for idx := range agg {
		if idx > max {
			max = idx
		}
	}
	out := make([]aggCall, 0, len(agg))
	for i := int64(0); i <= max; i++ {
		if ac, ok := agg[i]; ok {
			out = append(out, *ac)
		}
	}
	return out
}

// settleStep folds the finished assistant message into a Step. Transfer tool
// calls take precedence and become a handoff.
func settleStep(text string, calls []aggCall) (agent.Step, error) {
	if len(calls) == 0 {
		return agent.FinalStep(text), nil
	}
	step := agent.Step{}
	for _, ac := range calls {
		args := map[string]any{}
		if ac.args != "" {
			// A malformed argument payload is left empty; schema validation
			// reports it back to the agent as a recoverable tool failure.
			_ = json.Unmarshal([]byte(ac.args), &args)
		}
		if ac.name == agent.TransferToolName {
			if target, ok := args["agent"].(string); ok && step.Handoff == "" {
				step.Handoff = target
			}
			continue
		}
		step.Calls = append(step.Calls, core.ToolCall{ID: ac.id, Name: ac.name, Arguments: args})
	}
	if step.Handoff == "" && len(step.Calls) == 0 {
		return agent.FinalStep(text), nil
	}
	return step, nil
}

func (r *Reasoner) buildParams(req agent.Request) openai.ChatCompletionNewParams {
	params := openai.ChatCompletionNewParams{
		Messages:            buildMessages(req),
		Model:               r.opts.Model,
		Temperature:         openai.Float(r.opts.Temperature),
		MaxCompletionTokens: openai.Int(r.opts.MaxCompletionTokens),
	}
	defs := req.Tools
	if len(req.Handoffs) > 0 {
		defs = append(append([]tool.Definition{}, defs...), agent.TransferToolDefinition(req.Handoffs))
	}
	if len(defs) == 0 {
		return params
	}
	tools := make([]openai.ChatCompletionToolParam, len(defs))
	for i, def := range defs {
		tools[i] = openai.ChatCompletionToolParam{
			Type: "function",
			Function: openai.FunctionDefinitionParam{
				Name:        def.Name,
				Description: openai.String(def.Description),
				Parameters:  def.Parameters,
			},
		}
	}
	params.Tools = tools
	return params
}

// buildMessages converts engine messages into OpenAI chat messages.
func buildMessages(req agent.Request) []openai.ChatCompletionMessageParamUnion {
	var messages []openai.ChatCompletionMessageParamUnion
	if req.Instructions != "" {
		messages = append(messages, openai.SystemMessage(req.Instructions))
	}
	for _, m := range req.Messages {
		switch m.Role {
		case "user":
			messages = append(messages, openai.UserMessage(m.Text))
		case "assistant":
			if len(m.Calls) == 0 {
				messages = append(messages, openai.AssistantMessage(m.Text))
				continue
			}
			toolCalls := make([]openai.ChatCompletionMessageToolCallParam, len(m.Calls))
			for i, call := range m.Calls {
				toolCalls[i] = openai.ChatCompletionMessageToolCallParam{
					ID:   call.ID,
					Type: "function",
					Function: openai.ChatCompletionMessageToolCallFunctionParam{
						Name:      call.Name,
						Arguments: marshalArgs(call.Arguments),
					},
				}
			}
			messages = append(messages, openai.ChatCompletionMessageParamUnion{
				OfAssistant: &openai.ChatCompletionAssistantMessageParam{
					Role:      "assistant",
					ToolCalls: toolCalls,
				},
			})
		case "tool":
			if m.Result == nil {
				continue
			}
			messages = append(messages, openai.ToolMessage(resultText(*m.Result), m.Result.CallID))
		}
	}
	return messages
}

func marshalArgs(args map[string]any) string {
	if len(args) == 0 {
		return "{}"
	}
	b, err := json.Marshal(args)
	if err != nil {
		return "{}"
	}
	return string(b)
}

func resultText(result core.ToolResult) string {
	if result.Failed() {
		return fmt.Sprintf("error: %s", result.Error)
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
