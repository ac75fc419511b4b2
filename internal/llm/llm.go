// Package llm abstracts the chat model behind a streaming provider
// interface. Tool-calling follows the two-phase protocol: the first call may
// answer directly or request tool invocations; after the tools run, a second
// call produces the final text.
package llm

import (
	"context"
	"encoding/json"
	"errors"
)

// Chat roles on the provider wire.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// ErrModel wraps failures of the model call itself, after retries.
var ErrModel = errors.New("model call failed")

// Message is one chat message on the provider wire.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
	// ToolCallID links a tool-role message to the call it answers.
	ToolCallID string `json:"tool_call_id,omitempty"`
	// ToolCalls echoes requested calls on the assistant message that made them.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}

// ToolCall is a model-requested tool invocation. Arguments is the raw JSON
// object the model produced.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string
}

// MarshalJSON emits the wire shape expected when echoing tool calls back on
// an assistant message.
func (t ToolCall) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		ID       string `json:"id"`
		Type     string `json:"type"`
		Function struct {
			Name      string `json:"name"`
			Arguments string `json:"arguments"`
		} `json:"function"`
	}{
		ID:   t.ID,
		Type: "function",
		Function: struct {
			Name      string `json:"name"`
			Arguments string `json:"arguments"`
		}{Name: t.Name, Arguments: t.Arguments},
	})
}

// ToolSchema describes one callable tool to the model.
type ToolSchema struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// Request is one chat completion call.
type Request struct {
	Model       string
	Messages    []Message
	Tools       []ToolSchema
	Temperature float64
	MaxTokens   int
}

// Completion is the accumulated result of one call: the full text and any
// tool calls the model requested. A completion with tool calls has no
// meaningful content.
type Completion struct {
	Content   string
	ToolCalls []ToolCall
}

// Provider executes chat completions. Stream forwards content deltas to
// chunks as they arrive (when chunks is non-nil) and returns the accumulated
// completion; tool-call deltas are collected, never streamed.
type Provider interface {
	Stream(ctx context.Context, req Request, chunks chan<- string) (*Completion, error)
}
