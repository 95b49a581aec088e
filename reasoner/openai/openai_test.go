package openai

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seafield/agentrelay/agent"
	"github.com/seafield/agentrelay/core"
	"github.com/seafield/agentrelay/tool"
)

func TestSettleStep_FinalAnswer(t *testing.T) {
	step, err := settleStep("the answer is 4", nil)
	require.NoError(t, err)
	require.NotNil(t, step.Final)
	assert.Equal(t, "the answer is 4", *step.Final)
	assert.Empty(t, step.Handoff)
	assert.Empty(t, step.Calls)
}

func TestSettleStep_ToolCalls(t *testing.T) {
	step, err := settleStep("", []aggCall{
		{id: "c1", name: "calculator", args: `{"expression":"2+2"}`},
		{id: "c2", name: "get_weather", args: ""},
	})
	require.NoError(t, err)
	assert.Nil(t, step.Final)
	require.Len(t, step.Calls, 2)
	assert.Equal(t, core.ToolCall{ID: "c1", Name: "calculator", Arguments: map[string]any{"expression": "2+2"}}, step.Calls[0])
	assert.Equal(t, map[string]any{}, step.Calls[1].Arguments)
}

func TestSettleStep_TransferBecomesHandoff(t *testing.T) {
	step, err := settleStep("", []aggCall{
		{id: "c1", name: agent.TransferToolName, args: `{"agent":"math"}`},
	})
	require.NoError(t, err)
	assert.Equal(t, "math", step.Handoff)
	assert.Empty(t, step.Calls)

	// A second transfer call does not override the first.
	step, err = settleStep("", []aggCall{
		{name: agent.TransferToolName, args: `{"agent":"math"}`},
		{name: agent.TransferToolName, args: `{"agent":"history"}`},
	})
	require.NoError(t, err)
	assert.Equal(t, "math", step.Handoff)
}

func TestSettleStep_HandoffAlongsideCalls(t *testing.T) {
	step, err := settleStep("", []aggCall{
		{id: "c1", name: "calculator", args: `{"expression":"1+1"}`},
		{id: "c2", name: agent.TransferToolName, args: `{"agent":"math"}`},
	})
	require.NoError(t, err)
	assert.Equal(t, "math", step.Handoff)
	require.Len(t, step.Calls, 1)
	assert.Equal(t, "calculator", step.Calls[0].Name)
}

func TestSettleStep_MalformedTransferFallsBackToText(t *testing.T) {
	// A transfer call without a usable target settles as a final answer.
	step, err := settleStep("partial text", []aggCall{
		{name: agent.TransferToolName, args: `{"agent":42}`},
	})
	require.NoError(t, err)
	require.NotNil(t, step.Final)
	assert.Equal(t, "partial text", *step.Final)
}

func TestSettleStep_MalformedArgsLeftEmpty(t *testing.T) {
	step, err := settleStep("", []aggCall{
		{id: "c1", name: "calculator", args: `{broken`},
	})
	require.NoError(t, err)
	require.Len(t, step.Calls, 1)
	assert.Empty(t, step.Calls[0].Arguments)
}

func TestOrderedCalls(t *testing.T) {
	calls := orderedCalls(map[int64]*aggCall{
		2: {id: "c"},
		0: {id: "a"},
		1: {id: "b"},
	})
	require.Len(t, calls, 3)
	assert.Equal(t, "a", calls[0].id)
	assert.Equal(t, "b", calls[1].id)
	assert.Equal(t, "c", calls[2].id)

	assert.Empty(t, orderedCalls(nil))
}

func TestBuildMessages(t *testing.T) {
	req := agent.Request{
		Instructions: "be helpful",
		Messages: []core.Message{
			core.NewUserMessage("2+2?"),
			core.NewToolCallMessage([]core.ToolCall{{ID: "c1", Name: "calculator", Arguments: map[string]any{"expression": "2+2"}}}),
			core.NewToolResultMessage(core.ToolResult{CallID: "c1", Name: "calculator", Value: float64(4)}),
			core.NewAssistantMessage("it is 4"),
		},
	}
	messages := buildMessages(req)
	require.Len(t, messages, 5)
	assert.NotNil(t, messages[0].OfSystem)
	assert.NotNil(t, messages[1].OfUser)
	require.NotNil(t, messages[2].OfAssistant)
	require.Len(t, messages[2].OfAssistant.ToolCalls, 1)
	assert.Equal(t, "c1", messages[2].OfAssistant.ToolCalls[0].ID)
	assert.Equal(t, `{"expression":"2+2"}`, messages[2].OfAssistant.ToolCalls[0].Function.Arguments)
	assert.NotNil(t, messages[3].OfTool)
	assert.NotNil(t, messages[4].OfAssistant)
}

func TestMarshalArgs(t *testing.T) {
	assert.Equal(t, "{}", marshalArgs(nil))
	assert.Equal(t, "{}", marshalArgs(map[string]any{}))
	assert.Equal(t, `{"x":1}`, marshalArgs(map[string]any{"x": 1}))
}

func TestResultText(t *testing.T) {
	assert.Equal(t, "plain", resultText(core.ToolResult{Value: "plain"}))
	assert.Equal(t, "4", resultText(core.ToolResult{Value: float64(4)}))
	assert.Equal(t, "error: boom", resultText(core.ToolResult{Error: "boom"}))
}

func TestBuildParams_AppendsTransferTool(t *testing.T) {
	r := New()
	params := r.buildParams(agent.Request{
		Tools:    []tool.Definition{{Name: "calculator"}},
		Handoffs: []string{"math"},
	})
	require.Len(t, params.Tools, 2)
	assert.Equal(t, "calculator", params.Tools[0].Function.Name)
	assert.Equal(t, agent.TransferToolName, params.Tools[1].Function.Name)

	// Without tools or handoffs no tool list is sent.
	params = r.buildParams(agent.Request{})
	assert.Empty(t, params.Tools)
}
