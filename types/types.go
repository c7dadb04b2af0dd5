// Package types defines the persistent entities shared by the run
// processor, the storage layer, and the job queue.
package types

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/youssefsiam38/assistantpg/runstate"
)

// NewID returns a new prefixed identifier, e.g. "run_6f1c…".
func NewID(prefix string) string {
	return prefix + "_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// ToolType discriminates the variants of AssistantTool and ToolCall.
type ToolType string

const (
	// ToolTypeFunction is an external tool resolved by the API caller
	// through the submit-tool-outputs contract.
	ToolTypeFunction ToolType = "function"

	// ToolTypeRetrieval is the built-in knowledge retrieval tool.
	ToolTypeRetrieval ToolType = "retrieval"

	// ToolTypeCodeInterpreter is the built-in code interpreter tool.
	ToolTypeCodeInterpreter ToolType = "code_interpreter"
)

// IsValid returns true if the tool type is a known value.
func (t ToolType) IsValid() bool {
	switch t {
	case ToolTypeFunction, ToolTypeRetrieval, ToolTypeCodeInterpreter:
		return true
	default:
		return false
	}
}

// IsBuiltin returns true if tool calls of this type are executed by this
// system rather than by the API caller.
func (t ToolType) IsBuiltin() bool {
	return t == ToolTypeRetrieval || t == ToolTypeCodeInterpreter
}

// ClassifyToolName maps a tool name requested by the model to a tool
// type. The built-in tools are exposed to the model as function-shaped
// tools with fixed names; every other name is an external function.
func ClassifyToolName(name string) ToolType {
	switch name {
	case string(ToolTypeRetrieval):
		return ToolTypeRetrieval
	case string(ToolTypeCodeInterpreter):
		return ToolTypeCodeInterpreter
	default:
		return ToolTypeFunction
	}
}

// FunctionDefinition describes an external function tool on an assistant.
type FunctionDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// AssistantTool is one entry in an assistant's tool catalog.
// Function is populated only when Type is "function".
type AssistantTool struct {
	Type     ToolType            `json:"type"`
	Function *FunctionDefinition `json:"function,omitempty"`
}

// Assistant couples a model with instructions and a tool catalog.
type Assistant struct {
	ID           string          `json:"id"`
	Name         string          `json:"name,omitempty"`
	Description  string          `json:"description,omitempty"`
	Model        string          `json:"model"`
	Instructions string          `json:"instructions,omitempty"`
	Tools        []AssistantTool `json:"tools,omitempty"`
	FileIDs      []string        `json:"file_ids,omitempty"`
	Metadata     map[string]any  `json:"metadata,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

// Thread is an ordered conversation that runs execute against.
type Thread struct {
	ID        string         `json:"id"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// MessageRole is the role of a stored message.
type MessageRole string

const (
	MessageRoleUser      MessageRole = "user"
	MessageRoleAssistant MessageRole = "assistant"
	MessageRoleSystem    MessageRole = "system"
)

// ContentBlock is one typed block of message content. Only text blocks
// are produced by this system.
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// Message is a single entry in a thread's history. RunID is set when the
// message was produced by a run.
type Message struct {
	ID          string         `json:"id"`
	ThreadID    string         `json:"thread_id"`
	RunID       *string        `json:"run_id,omitempty"`
	AssistantID *string        `json:"assistant_id,omitempty"`
	Role        MessageRole    `json:"role"`
	Content     []ContentBlock `json:"content"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`

	// Sequence is the store's insert order, shared with run steps. Chat
	// context assembly uses it to break created_at ties.
	Sequence int64 `json:"-"`
}

// FirstText returns the text of the first text content block, or "".
func (m *Message) FirstText() string {
	for _, block := range m.Content {
		if block.Type == "text" {
			return block.Text
		}
	}
	return ""
}

// FunctionCall is the payload of a function-type tool call. Output is
// nil until the API caller submits it.
type FunctionCall struct {
	Name      string  `json:"name"`
	Arguments string  `json:"arguments"`
	Output    *string `json:"output,omitempty"`
}

// RetrievalCall is the payload of a retrieval-type tool call. Output is
// nil until the built-in tool resolves it.
type RetrievalCall struct {
	Query  string  `json:"query,omitempty"`
	Output *string `json:"output,omitempty"`
}

// CodeInterpreterOutput is one output entry of a code interpreter call.
type CodeInterpreterOutput struct {
	Type string `json:"type"`
	Logs string `json:"logs,omitempty"`
}

// CodeInterpreterCall is the payload of a code-interpreter-type tool
// call. Outputs is empty until the built-in tool resolves it.
type CodeInterpreterCall struct {
	Input   string                  `json:"input"`
	Outputs []CodeInterpreterOutput `json:"outputs,omitempty"`
}

// ToolCall is one tool invocation requested by the model within a
// tool_calls run step. Exactly one variant payload is populated,
// matching Type.
type ToolCall struct {
	ID              string               `json:"id"`
	Type            ToolType             `json:"type"`
	Function        *FunctionCall        `json:"function,omitempty"`
	Retrieval       *RetrievalCall       `json:"retrieval,omitempty"`
	CodeInterpreter *CodeInterpreterCall `json:"code_interpreter,omitempty"`
}

// Resolved returns true once the call's output side is populated.
func (c *ToolCall) Resolved() bool {
	switch c.Type {
	case ToolTypeFunction:
		return c.Function != nil && c.Function.Output != nil
	case ToolTypeRetrieval:
		return c.Retrieval != nil && c.Retrieval.Output != nil
	case ToolTypeCodeInterpreter:
		return c.CodeInterpreter != nil && len(c.CodeInterpreter.Outputs) > 0
	default:
		return false
	}
}

// OutputText returns the resolved output of the call as text, or ""
// while pending.
func (c *ToolCall) OutputText() string {
	switch c.Type {
	case ToolTypeFunction:
		if c.Function != nil && c.Function.Output != nil {
			return *c.Function.Output
		}
	case ToolTypeRetrieval:
		if c.Retrieval != nil && c.Retrieval.Output != nil {
			return *c.Retrieval.Output
		}
	case ToolTypeCodeInterpreter:
		if c.CodeInterpreter != nil {
			var parts []string
			for _, out := range c.CodeInterpreter.Outputs {
				parts = append(parts, out.Logs)
			}
			return strings.Join(parts, "\n")
		}
	}
	return ""
}

// SubmitToolOutputsAction lists the external calls the caller must
// resolve for a run in requires_action.
type SubmitToolOutputsAction struct {
	ToolCalls []ToolCall `json:"tool_calls"`
}

// RequiredActionTypeSubmitToolOutputs is the only required-action type.
const RequiredActionTypeSubmitToolOutputs = "submit_tool_outputs"

// RequiredAction is the tagged payload on a run in requires_action.
type RequiredAction struct {
	Type              string                   `json:"type"`
	SubmitToolOutputs *SubmitToolOutputsAction `json:"submit_tool_outputs,omitempty"`
}

// Run is one execution of an assistant against a thread.
type Run struct {
	ID             string          `json:"id"`
	ThreadID       string          `json:"thread_id"`
	AssistantID    string          `json:"assistant_id"`
	Status         runstate.Status `json:"status"`
	RequiredAction *RequiredAction `json:"required_action,omitempty"`
	LastError      *string         `json:"last_error,omitempty"`
	StartedAt      *time.Time      `json:"started_at,omitempty"`
	CompletedAt    *time.Time      `json:"completed_at,omitempty"`
	CancelledAt    *time.Time      `json:"cancelled_at,omitempty"`
	FailedAt       *time.Time      `json:"failed_at,omitempty"`
	ExpiresAt      *time.Time      `json:"expires_at,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

// Expired returns true if the run's expiry has passed at the given time.
func (r *Run) Expired(now time.Time) bool {
	return r.ExpiresAt != nil && now.After(*r.ExpiresAt)
}

// MessageCreationDetails records the message produced by a
// message_creation step.
type MessageCreationDetails struct {
	MessageID string `json:"message_id"`
}

// StepDetails is the tagged payload of a run step: message_creation
// steps carry the produced message id, tool_calls steps carry the turn's
// tool calls.
type StepDetails struct {
	Type            runstate.StepType       `json:"type"`
	MessageCreation *MessageCreationDetails `json:"message_creation,omitempty"`
	ToolCalls       []ToolCall              `json:"tool_calls,omitempty"`
}

// RunStep is one atomic turn within a run.
type RunStep struct {
	ID          string              `json:"id"`
	RunID       string              `json:"run_id"`
	ThreadID    string              `json:"thread_id"`
	AssistantID string              `json:"assistant_id"`
	Type        runstate.StepType   `json:"type"`
	Status      runstate.StepStatus `json:"status"`
	StepDetails StepDetails         `json:"step_details"`
	CompletedAt *time.Time          `json:"completed_at,omitempty"`
	CancelledAt *time.Time          `json:"cancelled_at,omitempty"`
	FailedAt    *time.Time          `json:"failed_at,omitempty"`
	ExpiredAt   *time.Time          `json:"expired_at,omitempty"`
	CreatedAt   time.Time           `json:"created_at"`

	// Sequence is the store's insert order, shared with messages.
	Sequence int64 `json:"-"`
}

// ToolOutput is one entry of the submit-tool-outputs contract.
type ToolOutput struct {
	ToolCallID string `json:"tool_call_id"`
	Output     string `json:"output"`
}

// Helper functions for working with pointers

// Ptr returns a pointer to the given value.
func Ptr[T any](v T) *T {
	return &v
}

// Deref returns the value pointed to by p, or the zero value if p is nil.
func Deref[T any](p *T) T {
	if p == nil {
		var zero T
		return zero
	}
	return *p
}

// CloneToolCalls deep-copies a tool call slice so callers can mutate the
// copy without aliasing persisted state.
func CloneToolCalls(calls []ToolCall) []ToolCall {
	if calls == nil {
		return nil
	}
	cloned := make([]ToolCall, len(calls))
	for i, call := range calls {
		cloned[i] = call
		if call.Function != nil {
			fn := *call.Function
			if call.Function.Output != nil {
				fn.Output = Ptr(*call.Function.Output)
			}
			cloned[i].Function = &fn
		}
		if call.Retrieval != nil {
			rt := *call.Retrieval
			if call.Retrieval.Output != nil {
				rt.Output = Ptr(*call.Retrieval.Output)
			}
			cloned[i].Retrieval = &rt
		}
		if call.CodeInterpreter != nil {
			ci := *call.CodeInterpreter
			ci.Outputs = append([]CodeInterpreterOutput(nil), call.CodeInterpreter.Outputs...)
			cloned[i].CodeInterpreter = &ci
		}
	}
	return cloned
}
