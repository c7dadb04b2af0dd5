package invoker

import (
	"testing"

	openai "github.com/sashabaranov/go-openai"
)

func TestToOpenAIMessages(t *testing.T) {
	messages := []ChatMessage{
		{Role: RoleSystem, Content: "You are helpful."},
		{Role: RoleUser, Content: "What is the weather in Paris?"},
		{Role: RoleAssistant, ToolCalls: []CallRequest{
			{ID: "call_1", Name: "get_weather", Arguments: `{"location":"Paris"}`},
		}},
		{Role: RoleTool, ToolCallID: "call_1", Name: "get_weather", Content: `{"temp":18}`},
	}

	out := toOpenAIMessages(messages)
	if len(out) != 4 {
		t.Fatalf("expected 4 messages, got %d", len(out))
	}
	if out[0].Role != "system" || out[1].Role != "user" {
		t.Errorf("unexpected roles: %s, %s", out[0].Role, out[1].Role)
	}
	if len(out[2].ToolCalls) != 1 {
		t.Fatalf("expected 1 tool call, got %d", len(out[2].ToolCalls))
	}
	if out[2].ToolCalls[0].Function.Name != "get_weather" {
		t.Errorf("unexpected tool call name %q", out[2].ToolCalls[0].Function.Name)
	}
	if out[3].ToolCallID != "call_1" {
		t.Errorf("expected tool message paired to call_1, got %q", out[3].ToolCallID)
	}
}

func TestToOpenAIToolsDefaultSchema(t *testing.T) {
	tools := toOpenAITools([]ToolSpec{{Name: "retrieval", Description: "Search files"}})
	if len(tools) != 1 {
		t.Fatalf("expected 1 tool, got %d", len(tools))
	}
	params, ok := tools[0].Function.Parameters.(map[string]any)
	if !ok {
		t.Fatal("expected parameters to default to an object schema")
	}
	if params["type"] != "object" {
		t.Errorf("expected object schema, got %v", params["type"])
	}
}

func TestFromOpenAIMessage(t *testing.T) {
	reply, err := fromOpenAIMessage(openai.ChatCompletionMessage{
		ToolCalls: []openai.ToolCall{
			{
				ID:       "call_1",
				Type:     openai.ToolTypeFunction,
				Function: openai.FunctionCall{Name: "get_weather", Arguments: `{"location":"Paris"}`},
			},
		},
	})
	if err != nil {
		t.Fatalf("fromOpenAIMessage failed: %v", err)
	}
	if len(reply.ToolCalls) != 1 || reply.ToolCalls[0].Name != "get_weather" {
		t.Errorf("unexpected tool calls: %+v", reply.ToolCalls)
	}

	if _, err := fromOpenAIMessage(openai.ChatCompletionMessage{}); err != ErrEmptyReply {
		t.Errorf("expected ErrEmptyReply, got %v", err)
	}
}

func TestToAnthropicMessages(t *testing.T) {
	messages := []ChatMessage{
		{Role: RoleSystem, Content: "You are helpful."},
		{Role: RoleUser, Content: "What is the weather in Paris?"},
		{Role: RoleAssistant, Content: "Checking.", ToolCalls: []CallRequest{
			{ID: "toolu_1", Name: "get_weather", Arguments: `{"location":"Paris"}`},
		}},
		{Role: RoleTool, ToolCallID: "toolu_1", Content: `{"temp":18}`},
	}

	system, params := toAnthropicMessages(messages)
	if system != "You are helpful." {
		t.Errorf("unexpected system prompt %q", system)
	}
	// System messages are lifted out of the conversation.
	if len(params) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(params))
	}
	if params[1].Role != "assistant" {
		t.Errorf("expected assistant role, got %s", params[1].Role)
	}
	if len(params[1].Content) != 2 {
		t.Errorf("expected text + tool_use blocks, got %d", len(params[1].Content))
	}
	// Tool results ride on user messages.
	if params[2].Role != "user" {
		t.Errorf("expected tool result on user role, got %s", params[2].Role)
	}
}

func TestToAnthropicTools(t *testing.T) {
	tools := toAnthropicTools([]ToolSpec{{
		Name:        "get_weather",
		Description: "Look up weather",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"location": map[string]any{"type": "string"},
			},
			"required": []string{"location"},
		},
	}})
	if len(tools) != 1 {
		t.Fatalf("expected 1 tool, got %d", len(tools))
	}
	tool := tools[0].OfTool
	if tool == nil {
		t.Fatal("expected OfTool variant")
	}
	if tool.Name != "get_weather" {
		t.Errorf("unexpected name %q", tool.Name)
	}
	props, ok := tool.InputSchema.Properties.(map[string]any)
	if !ok {
		t.Fatalf("expected properties map, got %T", tool.InputSchema.Properties)
	}
	if _, ok := props["location"]; !ok {
		t.Error("expected location property in input schema")
	}
	if len(tool.InputSchema.Required) != 1 {
		t.Errorf("expected required list, got %v", tool.InputSchema.Required)
	}
}
