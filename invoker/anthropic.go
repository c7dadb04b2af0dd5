package invoker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const defaultMaxTokens = 4096

// AnthropicInvoker calls the Anthropic Messages API.
type AnthropicInvoker struct {
	client anthropic.Client
}

// NewAnthropicInvoker creates an invoker on an existing client.
func NewAnthropicInvoker(client anthropic.Client) *AnthropicInvoker {
	return &AnthropicInvoker{client: client}
}

// NewAnthropicInvokerFromKey creates an invoker from an API key.
func NewAnthropicInvokerFromKey(apiKey string) *AnthropicInvoker {
	return &AnthropicInvoker{client: anthropic.NewClient(option.WithAPIKey(apiKey))}
}

func (a *AnthropicInvoker) Invoke(ctx context.Context, params InvokeParams) (*Reply, error) {
	maxTokens := params.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	system, messages := toAnthropicMessages(params.Messages)
	req := anthropic.MessageNewParams{
		Model:     anthropic.Model(params.Model),
		MaxTokens: int64(maxTokens),
		Messages:  messages,
		Tools:     toAnthropicTools(params.Tools),
	}
	if system != "" {
		req.System = []anthropic.TextBlockParam{{Type: "text", Text: system}}
	}

	resp, err := a.client.Messages.New(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("message creation failed: %w", err)
	}

	return fromAnthropicMessage(resp)
}

// toAnthropicMessages splits out the system prompt and converts the
// rest. Tool results become tool_result blocks on user messages, per the
// Messages API shape.
func toAnthropicMessages(messages []ChatMessage) (string, []anthropic.MessageParam) {
	var system string
	params := make([]anthropic.MessageParam, 0, len(messages))

	for _, msg := range messages {
		switch msg.Role {
		case RoleSystem:
			if system != "" {
				system += "\n\n"
			}
			system += msg.Content

		case RoleTool:
			params = append(params, anthropic.MessageParam{
				Role: anthropic.MessageParamRoleUser,
				Content: []anthropic.ContentBlockParamUnion{
					anthropic.NewToolResultBlock(msg.ToolCallID, msg.Content, false),
				},
			})

		case RoleAssistant:
			blocks := make([]anthropic.ContentBlockParamUnion, 0, len(msg.ToolCalls)+1)
			if msg.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(msg.Content))
			}
			for _, tc := range msg.ToolCalls {
				var input any
				if err := json.Unmarshal([]byte(tc.Arguments), &input); err != nil || input == nil {
					// The API requires a dictionary, not null
					input = map[string]any{}
				}
				blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, input, tc.Name))
			}
			params = append(params, anthropic.MessageParam{
				Role:    anthropic.MessageParamRoleAssistant,
				Content: blocks,
			})

		default:
			params = append(params, anthropic.MessageParam{
				Role: anthropic.MessageParamRoleUser,
				Content: []anthropic.ContentBlockParamUnion{
					anthropic.NewTextBlock(msg.Content),
				},
			})
		}
	}

	return system, params
}

func toAnthropicTools(tools []ToolSpec) []anthropic.ToolUnionParam {
	if len(tools) == 0 {
		return nil
	}
	out := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, spec := range tools {
		inputSchema := anthropic.ToolInputSchemaParam{Type: "object"}
		if props, ok := spec.Parameters["properties"].(map[string]any); ok {
			inputSchema.Properties = props
		}
		if required, ok := spec.Parameters["required"].([]string); ok {
			inputSchema.Required = required
		}

		toolParam := anthropic.ToolParam{
			Name:        spec.Name,
			Description: anthropic.String(spec.Description),
			InputSchema: inputSchema,
		}
		out = append(out, anthropic.ToolUnionParam{OfTool: &toolParam})
	}
	return out
}

func fromAnthropicMessage(resp *anthropic.Message) (*Reply, error) {
	reply := &Reply{}
	for _, block := range resp.Content {
		switch b := block.AsAny().(type) {
		case anthropic.TextBlock:
			reply.Text += b.Text
		case anthropic.ToolUseBlock:
			reply.ToolCalls = append(reply.ToolCalls, CallRequest{
				ID:        b.ID,
				Name:      b.Name,
				Arguments: string(b.Input),
			})
		}
	}
	if reply.Text == "" && len(reply.ToolCalls) == 0 {
		return nil, ErrEmptyReply
	}
	return reply, nil
}

var _ ModelInvoker = (*AnthropicInvoker)(nil)
