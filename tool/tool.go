// Package tool executes the built-in tools a run can use.
//
// Built-in tool calls (retrieval, code_interpreter) are resolved by the
// run processor itself; function tool calls are never executed here, they
// suspend the run until the caller submits outputs. The Executor fans a
// turn's built-in calls out with bounded concurrency, and a failing tool
// records its error as the call's output instead of failing the run.
package tool

import (
	"context"

	"github.com/youssefsiam38/assistantpg/types"
)

// Tool is one built-in tool implementation.
type Tool interface {
	// Type identifies which tool calls this implementation serves.
	Type() types.ToolType

	// Execute resolves a single call and returns its output text.
	Execute(ctx context.Context, call types.ToolCall) (string, error)
}
