package tool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/youssefsiam38/assistantpg/types"
)

// Executor resolves built-in tool calls with bounded concurrency.
type Executor struct {
	registry    *Registry
	concurrency int
	timeout     time.Duration
}

// NewExecutor creates an executor. Concurrency below 1 defaults to 8;
// the per-call timeout defaults to 30 seconds.
func NewExecutor(registry *Registry, concurrency int) *Executor {
	if concurrency < 1 {
		concurrency = 8
	}
	return &Executor{
		registry:    registry,
		concurrency: concurrency,
		timeout:     30 * time.Second,
	}
}

// SetTimeout sets the per-call execution timeout.
func (e *Executor) SetTimeout(timeout time.Duration) {
	e.timeout = timeout
}

// Result is the outcome of one built-in call. Output is always set:
// execution errors are rendered into it so a single bad call cannot
// fail the whole run.
type Result struct {
	ToolCallID string
	Output     string
	Err        error
}

// execute resolves one call, mapping every failure mode onto output text.
func (e *Executor) execute(ctx context.Context, call types.ToolCall) Result {
	result := Result{ToolCallID: call.ID}

	impl, ok := e.registry.Get(call.Type)
	if !ok {
		result.Err = fmt.Errorf("no implementation registered for tool type %s", call.Type)
		result.Output = "Error: " + result.Err.Error()
		return result
	}

	execCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	output, err := impl.Execute(execCtx, call)
	if err != nil {
		if execCtx.Err() == context.DeadlineExceeded {
			err = fmt.Errorf("tool execution timed out after %v", e.timeout)
		}
		result.Err = err
		result.Output = "Error: " + err.Error()
		return result
	}

	result.Output = output
	return result
}

// ExecuteAll resolves the given built-in calls, at most the executor's
// concurrency at a time. Results are returned in call order.
func (e *Executor) ExecuteAll(ctx context.Context, calls []types.ToolCall) []Result {
	if len(calls) == 0 {
		return nil
	}

	results := make([]Result, len(calls))
	sem := make(chan struct{}, e.concurrency)
	var wg sync.WaitGroup

	wg.Add(len(calls))
	for i, call := range calls {
		go func(idx int, c types.ToolCall) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			results[idx] = e.execute(ctx, c)
		}(i, call)
	}

	wg.Wait()
	return results
}
