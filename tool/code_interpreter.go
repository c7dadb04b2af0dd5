package tool

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/youssefsiam38/assistantpg/types"
)

// CodeInterpreter implements the code_interpreter built-in. Sandboxed
// execution is not available; every call resolves with a logs payload
// saying so, which keeps runs moving instead of suspending on a tool
// that can never produce output.
type CodeInterpreter struct{}

// NewCodeInterpreter creates the code_interpreter tool.
func NewCodeInterpreter() *CodeInterpreter {
	return &CodeInterpreter{}
}

func (c *CodeInterpreter) Type() types.ToolType {
	return types.ToolTypeCodeInterpreter
}

func (c *CodeInterpreter) Execute(ctx context.Context, call types.ToolCall) (string, error) {
	if call.CodeInterpreter == nil {
		return "", fmt.Errorf("code_interpreter call %s has no input", call.ID)
	}

	outputs := []types.CodeInterpreterOutput{
		{Type: "logs", Logs: "Code execution is not supported in this deployment."},
	}
	payload, err := json.Marshal(map[string]any{"outputs": outputs})
	if err != nil {
		return "", fmt.Errorf("failed to marshal code_interpreter outputs: %w", err)
	}
	return string(payload), nil
}

var _ Tool = (*CodeInterpreter)(nil)
