// Package invoker abstracts the chat model call the run processor makes
// each turn.
//
// The processor builds a provider-neutral request (messages, tool
// specifications, model name) and receives either assistant text or a
// set of tool call requests. AnthropicInvoker and OpenAIInvoker are the
// production implementations.
package invoker

import (
	"context"
	"errors"
)

// Roles for chat messages.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	// RoleTool carries a tool result back to the model, paired to the
	// assistant tool call by ToolCallID.
	RoleTool = "tool"
)

// ErrEmptyReply is returned when the model produces neither text nor
// tool calls.
var ErrEmptyReply = errors.New("invoker: model returned an empty reply")

// ChatMessage is one provider-neutral conversation message.
type ChatMessage struct {
	Role    string
	Content string

	// ToolCalls echoes the tool calls an assistant message requested.
	ToolCalls []CallRequest

	// ToolCallID pairs a RoleTool message with the call it answers.
	ToolCallID string

	// Name is the tool name on RoleTool messages.
	Name string
}

// ToolSpec describes one tool exposed to the model. Built-in tools are
// exposed function-shaped; the processor classifies requests back by
// name.
type ToolSpec struct {
	Name        string
	Description string
	// Parameters is a JSON Schema object. Nil means no arguments.
	Parameters map[string]any
}

// CallRequest is one tool invocation requested by the model.
type CallRequest struct {
	// ID is the provider's call id, carried through to the tool result.
	ID string
	// Name is the tool name.
	Name string
	// Arguments is the raw JSON argument payload.
	Arguments string
}

// InvokeParams is the per-turn model request.
type InvokeParams struct {
	Model    string
	Messages []ChatMessage
	Tools    []ToolSpec
	// MaxTokens caps the reply length. Zero uses the invoker's default.
	MaxTokens int
}

// Reply is the model's answer for one turn: text, tool calls, or both.
// An empty reply is an invocation error.
type Reply struct {
	Text      string
	ToolCalls []CallRequest
}

// ModelInvoker performs one chat model call.
type ModelInvoker interface {
	Invoke(ctx context.Context, params InvokeParams) (*Reply, error)
}
