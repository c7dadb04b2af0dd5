package assistantpg

import (
	"errors"
	"reflect"
	"testing"

	"github.com/youssefsiam38/assistantpg/tool"
	"github.com/youssefsiam38/assistantpg/types"
)

func functionCall(id, name string, output *string) types.ToolCall {
	return types.ToolCall{
		ID:       id,
		Type:     types.ToolTypeFunction,
		Function: &types.FunctionCall{Name: name, Arguments: "{}", Output: output},
	}
}

func TestMergeBuiltinResults(t *testing.T) {
	current := []types.ToolCall{
		functionCall("call_1", "get_weather", nil),
		{
			ID:        "call_2",
			Type:      types.ToolTypeRetrieval,
			Retrieval: &types.RetrievalCall{Query: "refund policy"},
		},
	}

	merged := mergeBuiltinResults(current, []tool.Result{
		{ToolCallID: "call_2", Output: `{"results":[]}`},
		{ToolCallID: "call_9", Output: "dropped"},
	})

	if merged[0].Function.Output != nil {
		t.Error("expected function call untouched by builtin merge")
	}
	if merged[1].Retrieval.Output == nil || *merged[1].Retrieval.Output != `{"results":[]}` {
		t.Errorf("expected retrieval output set, got %+v", merged[1].Retrieval)
	}

	// The persisted slice must not be mutated.
	if current[1].Retrieval.Output != nil {
		t.Error("expected merge to work on a copy")
	}

	// Idempotence under duplicate delivery.
	again := mergeBuiltinResults(merged, []tool.Result{
		{ToolCallID: "call_2", Output: `{"results":[]}`},
	})
	if !reflect.DeepEqual(merged, again) {
		t.Error("expected merge to be idempotent")
	}
}

func TestApplyToolOutputs(t *testing.T) {
	current := []types.ToolCall{
		functionCall("call_1", "get_weather", nil),
		{
			ID:        "call_2",
			Type:      types.ToolTypeRetrieval,
			Retrieval: &types.RetrievalCall{Query: "q", Output: types.Ptr("out")},
		},
	}

	merged, err := applyToolOutputs(current, []types.ToolOutput{
		{ToolCallID: "call_1", Output: `{"temp":18}`},
	})
	if err != nil {
		t.Fatalf("applyToolOutputs failed: %v", err)
	}
	if merged[0].Function.Output == nil || *merged[0].Function.Output != `{"temp":18}` {
		t.Errorf("expected output applied, got %+v", merged[0].Function)
	}

	// Persisted outputs win over re-submissions.
	again, err := applyToolOutputs(merged, []types.ToolOutput{
		{ToolCallID: "call_1", Output: "different"},
	})
	if err != nil {
		t.Fatalf("applyToolOutputs failed: %v", err)
	}
	if *again[0].Function.Output != `{"temp":18}` {
		t.Errorf("expected persisted output kept, got %q", *again[0].Function.Output)
	}
}

func TestApplyToolOutputsRejections(t *testing.T) {
	current := []types.ToolCall{
		functionCall("call_1", "get_weather", nil),
		{
			ID:        "call_2",
			Type:      types.ToolTypeRetrieval,
			Retrieval: &types.RetrievalCall{Query: "q"},
		},
	}

	_, err := applyToolOutputs(current, []types.ToolOutput{{ToolCallID: "call_404", Output: "x"}})
	if !errors.Is(err, ErrUnknownToolCall) {
		t.Errorf("expected ErrUnknownToolCall, got %v", err)
	}

	_, err = applyToolOutputs(current, []types.ToolOutput{{ToolCallID: "call_2", Output: "x"}})
	if !errors.Is(err, ErrNotFunctionCall) {
		t.Errorf("expected ErrNotFunctionCall, got %v", err)
	}
}

func TestToolCallsComplete(t *testing.T) {
	pendingRetrieval := types.ToolCall{
		ID:        "call_2",
		Type:      types.ToolTypeRetrieval,
		Retrieval: &types.RetrievalCall{Query: "q"},
	}

	tests := []struct {
		name  string
		calls []types.ToolCall
		want  bool
	}{
		{"no calls", nil, true},
		{"pending function", []types.ToolCall{functionCall("c1", "f", nil)}, false},
		{"resolved function", []types.ToolCall{functionCall("c1", "f", types.Ptr("out"))}, true},
		{"unresolved builtin does not block", []types.ToolCall{pendingRetrieval}, true},
		{
			"mixed with pending function",
			[]types.ToolCall{pendingRetrieval, functionCall("c1", "f", nil)},
			false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := toolCallsComplete(tt.calls); got != tt.want {
				t.Errorf("toolCallsComplete() = %v, want %v", got, tt.want)
			}
		})
	}
}
