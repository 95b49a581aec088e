package core

// Message is one unit of conversational context fed to an agent's reasoning
// capability: a user utterance, an assistant reply (possibly carrying tool
// calls), or a tool result. Persistence stores the same shape.
type Message struct {
	Role   string      `json:"role"` // "user", "assistant" or "tool"
	Text   string      `json:"text,omitempty"`
	Calls  []ToolCall  `json:"calls,omitempty"`
	Result *ToolResult `json:"result,omitempty"`
}

// NewUserMessage wraps a user utterance.
func NewUserMessage(text string) Message {
	return Message{Role: "user", Text: text}
}

// NewAssistantMessage wraps an assistant text reply.
func NewAssistantMessage(text string) Message {
	return Message{Role: "assistant", Text: text}
}

// NewToolCallMessage records an assistant step that requested tool calls.
func NewToolCallMessage(calls []ToolCall) Message {
	return Message{Role: "assistant", Calls: calls}
}

// NewToolResultMessage wraps a resolved tool call outcome for the agent's
// next reasoning step.
func NewToolResultMessage(result ToolResult) Message {
	r := result
	return Message{Role: "tool", Result: &r}
}
