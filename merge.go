package assistantpg

import (
	"fmt"

	"github.com/youssefsiam38/assistantpg/tool"
	"github.com/youssefsiam38/assistantpg/types"
)

// mergeBuiltinResults merges freshly computed built-in outputs into the
// persisted tool calls of a step, element-wise by call id. Function
// calls keep their persisted fields untouched; built-in calls take the
// fresh output. Results for ids the step does not contain are dropped.
//
// The merge is idempotent: re-applying the same results after a
// duplicate delivery produces the same calls.
func mergeBuiltinResults(current []types.ToolCall, results []tool.Result) []types.ToolCall {
	byID := make(map[string]tool.Result, len(results))
	for _, res := range results {
		byID[res.ToolCallID] = res
	}

	merged := types.CloneToolCalls(current)
	for i := range merged {
		res, ok := byID[merged[i].ID]
		if !ok {
			continue
		}
		switch merged[i].Type {
		case types.ToolTypeRetrieval:
			if merged[i].Retrieval == nil {
				merged[i].Retrieval = &types.RetrievalCall{}
			}
			merged[i].Retrieval.Output = types.Ptr(res.Output)
		case types.ToolTypeCodeInterpreter:
			if merged[i].CodeInterpreter == nil {
				merged[i].CodeInterpreter = &types.CodeInterpreterCall{}
			}
			merged[i].CodeInterpreter.Outputs = []types.CodeInterpreterOutput{
				{Type: "logs", Logs: res.Output},
			}
		}
	}
	return merged
}

// applyToolOutputs writes submitted function outputs into the persisted
// tool calls, element-wise by call id. Unknown ids and built-in targets
// are rejected. A function call whose output is already persisted keeps
// it; the earlier submission wins.
func applyToolOutputs(current []types.ToolCall, outputs []types.ToolOutput) ([]types.ToolCall, error) {
	index := make(map[string]int, len(current))
	for i, call := range current {
		index[call.ID] = i
	}

	merged := types.CloneToolCalls(current)
	for _, out := range outputs {
		i, ok := index[out.ToolCallID]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownToolCall, out.ToolCallID)
		}
		if merged[i].Type != types.ToolTypeFunction {
			return nil, fmt.Errorf("%w: %s", ErrNotFunctionCall, out.ToolCallID)
		}
		if merged[i].Function == nil {
			merged[i].Function = &types.FunctionCall{}
		}
		if merged[i].Function.Output != nil {
			continue
		}
		merged[i].Function.Output = types.Ptr(out.Output)
	}
	return merged, nil
}

// toolCallsComplete reports whether no function call lacks an output.
// Built-in calls do not hold a step open; their resolution is the
// processor's own work and a crashed resolution is redone on redelivery.
func toolCallsComplete(calls []types.ToolCall) bool {
	for _, call := range calls {
		if call.Type == types.ToolTypeFunction {
			if call.Function == nil || call.Function.Output == nil {
				return false
			}
		}
	}
	return true
}
