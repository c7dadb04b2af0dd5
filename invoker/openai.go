package invoker

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIInvoker calls the OpenAI chat completions API.
type OpenAIInvoker struct {
	client *openai.Client
}

// NewOpenAIInvoker creates an invoker on an existing client.
func NewOpenAIInvoker(client *openai.Client) *OpenAIInvoker {
	return &OpenAIInvoker{client: client}
}

// NewOpenAIInvokerFromKey creates an invoker from an API key.
func NewOpenAIInvokerFromKey(apiKey string) *OpenAIInvoker {
	return &OpenAIInvoker{client: openai.NewClient(apiKey)}
}

func (o *OpenAIInvoker) Invoke(ctx context.Context, params InvokeParams) (*Reply, error) {
	req := openai.ChatCompletionRequest{
		Model:    params.Model,
		Messages: toOpenAIMessages(params.Messages),
		Tools:    toOpenAITools(params.Tools),
	}
	if params.MaxTokens > 0 {
		req.MaxTokens = params.MaxTokens
	}

	resp, err := o.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, ErrEmptyReply
	}

	return fromOpenAIMessage(resp.Choices[0].Message)
}

func toOpenAIMessages(messages []ChatMessage) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, msg := range messages {
		oaiMsg := openai.ChatCompletionMessage{
			Role:    msg.Role,
			Content: msg.Content,
		}
		if msg.Role == RoleTool {
			oaiMsg.ToolCallID = msg.ToolCallID
			oaiMsg.Name = msg.Name
		}
		for _, tc := range msg.ToolCalls {
			oaiMsg.ToolCalls = append(oaiMsg.ToolCalls, openai.ToolCall{
				ID:   tc.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      tc.Name,
					Arguments: tc.Arguments,
				},
			})
		}
		out = append(out, oaiMsg)
	}
	return out
}

func toOpenAITools(tools []ToolSpec) []openai.Tool {
	if len(tools) == 0 {
		return nil
	}
	out := make([]openai.Tool, len(tools))
	for i, spec := range tools {
		params := spec.Parameters
		if params == nil {
			params = map[string]any{
				"type":       "object",
				"properties": map[string]any{},
			}
		}
		out[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        spec.Name,
				Description: spec.Description,
				Parameters:  params,
			},
		}
	}
	return out
}

func fromOpenAIMessage(msg openai.ChatCompletionMessage) (*Reply, error) {
	reply := &Reply{Text: msg.Content}
	for _, tc := range msg.ToolCalls {
		if tc.Type != openai.ToolTypeFunction {
			continue
		}
		reply.ToolCalls = append(reply.ToolCalls, CallRequest{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	if reply.Text == "" && len(reply.ToolCalls) == 0 {
		return nil, ErrEmptyReply
	}
	return reply, nil
}

var _ ModelInvoker = (*OpenAIInvoker)(nil)
