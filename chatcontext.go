package assistantpg

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/youssefsiam38/assistantpg/invoker"
	"github.com/youssefsiam38/assistantpg/types"
)

// buildChatContext assembles the model conversation for one turn: the
// assistant's instructions as a system message, the thread's messages by
// role, and the run's completed tool_calls steps replayed as assistant
// tool-call messages followed by their results. Messages and steps are
// interleaved in creation order so multi-turn runs read back correctly.
func buildChatContext(assistant *types.Assistant, messages []*types.Message, steps []*types.RunStep) []invoker.ChatMessage {
	type item struct {
		at      time.Time
		seq     int64
		message *types.Message
		step    *types.RunStep
	}

	items := make([]item, 0, len(messages)+len(steps))
	for _, msg := range messages {
		items = append(items, item{at: msg.CreatedAt, seq: msg.Sequence, message: msg})
	}
	for _, step := range steps {
		items = append(items, item{at: step.CreatedAt, seq: step.Sequence, step: step})
	}
	// The store's shared insert sequence breaks created_at ties, so a
	// step never replays ahead of a message written before it.
	sort.SliceStable(items, func(i, j int) bool {
		if !items[i].at.Equal(items[j].at) {
			return items[i].at.Before(items[j].at)
		}
		return items[i].seq < items[j].seq
	})

	out := make([]invoker.ChatMessage, 0, len(items)+1)
	if assistant.Instructions != "" {
		out = append(out, invoker.ChatMessage{
			Role:    invoker.RoleSystem,
			Content: assistant.Instructions,
		})
	}

	for _, it := range items {
		if it.message != nil {
			out = append(out, invoker.ChatMessage{
				Role:    string(it.message.Role),
				Content: it.message.FirstText(),
			})
			continue
		}
		out = append(out, replayToolCallsStep(it.step)...)
	}
	return out
}

// replayToolCallsStep converts a completed tool_calls step into the
// assistant message that requested the calls plus one tool-result
// message per call, in call order.
func replayToolCallsStep(step *types.RunStep) []invoker.ChatMessage {
	calls := step.StepDetails.ToolCalls

	assistantMsg := invoker.ChatMessage{Role: invoker.RoleAssistant}
	results := make([]invoker.ChatMessage, 0, len(calls))
	for _, call := range calls {
		req := toCallRequest(call)
		assistantMsg.ToolCalls = append(assistantMsg.ToolCalls, req)
		results = append(results, invoker.ChatMessage{
			Role:       invoker.RoleTool,
			ToolCallID: call.ID,
			Name:       req.Name,
			Content:    call.OutputText(),
		})
	}

	return append([]invoker.ChatMessage{assistantMsg}, results...)
}

// toCallRequest reconstructs the wire-shaped call the model originally
// made, including the argument payloads of built-in calls.
func toCallRequest(call types.ToolCall) invoker.CallRequest {
	switch call.Type {
	case types.ToolTypeRetrieval:
		query := ""
		if call.Retrieval != nil {
			query = call.Retrieval.Query
		}
		args, _ := json.Marshal(map[string]string{"query": query})
		return invoker.CallRequest{ID: call.ID, Name: string(types.ToolTypeRetrieval), Arguments: string(args)}

	case types.ToolTypeCodeInterpreter:
		input := ""
		if call.CodeInterpreter != nil {
			input = call.CodeInterpreter.Input
		}
		args, _ := json.Marshal(map[string]string{"input": input})
		return invoker.CallRequest{ID: call.ID, Name: string(types.ToolTypeCodeInterpreter), Arguments: string(args)}

	default:
		req := invoker.CallRequest{ID: call.ID}
		if call.Function != nil {
			req.Name = call.Function.Name
			req.Arguments = call.Function.Arguments
		}
		return req
	}
}

// buildToolSpecs converts the assistant's tool catalog to the wire
// shapes the invoker exposes to the model. Built-ins get fixed names and
// argument schemas; the processor classifies requests back by name.
func buildToolSpecs(assistant *types.Assistant) []invoker.ToolSpec {
	specs := make([]invoker.ToolSpec, 0, len(assistant.Tools))
	for _, t := range assistant.Tools {
		switch t.Type {
		case types.ToolTypeFunction:
			if t.Function == nil {
				continue
			}
			specs = append(specs, invoker.ToolSpec{
				Name:        t.Function.Name,
				Description: t.Function.Description,
				Parameters:  t.Function.Parameters,
			})

		case types.ToolTypeRetrieval:
			specs = append(specs, invoker.ToolSpec{
				Name:        string(types.ToolTypeRetrieval),
				Description: "Search the files attached to this assistant and return matching passages.",
				Parameters: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"query": map[string]any{
							"type":        "string",
							"description": "The search query",
						},
					},
					"required": []string{"query"},
				},
			})

		case types.ToolTypeCodeInterpreter:
			specs = append(specs, invoker.ToolSpec{
				Name:        string(types.ToolTypeCodeInterpreter),
				Description: "Run code and return its output.",
				Parameters: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"input": map[string]any{
							"type":        "string",
							"description": "The code to run",
						},
					},
					"required": []string{"input"},
				},
			})
		}
	}
	return specs
}
