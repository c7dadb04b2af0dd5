package assistantpg

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/youssefsiam38/assistantpg/invoker"
	"github.com/youssefsiam38/assistantpg/jobqueue"
	"github.com/youssefsiam38/assistantpg/notifier"
	"github.com/youssefsiam38/assistantpg/runstate"
	"github.com/youssefsiam38/assistantpg/storage"
	"github.com/youssefsiam38/assistantpg/tool"
	"github.com/youssefsiam38/assistantpg/types"
)

// turnOutcome tells the job handler what to do after a turn.
type turnOutcome int

const (
	// turnContinue loops into another model invocation.
	turnContinue turnOutcome = iota
	// turnSuspend leaves the run waiting (requires_action); the job is
	// done, resumption comes through a new job.
	turnSuspend
	// turnTerminate means the run reached a terminal status.
	turnTerminate
)

// processJob advances one run until it suspends or terminates. Errors
// fail the run and propagate to the queue's failure accounting.
func (c *Client) processJob(ctx context.Context, job *jobqueue.Job) error {
	log := c.log().With("run_id", job.RunID, "job_id", job.ID)

	for turn := 0; ; turn++ {
		if turn >= c.config.MaxTurns {
			log.Warn("run exceeded turn cap", "max_turns", c.config.MaxTurns)
			c.failRun(ctx, job.RunID, "maximum run turns exceeded")
			return fmt.Errorf("maximum run turns exceeded")
		}

		outcome, err := c.runTurn(ctx, job.RunID)
		if err != nil {
			log.Error("run turn failed", "error", err)
			c.failRun(ctx, job.RunID, err.Error())
			return err
		}
		if outcome != turnContinue {
			return nil
		}
	}
}

// runTurn executes one turn of the run loop: guard, invoke the model,
// persist the outcome.
func (c *Client) runTurn(ctx context.Context, runID string) (turnOutcome, error) {
	now := time.Now()
	log := c.log().With("run_id", runID)

	run, err := c.store.GetRun(ctx, runID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return turnTerminate, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
		}
		return turnTerminate, fmt.Errorf("failed to load run: %w", err)
	}

	// Guard: duplicate deliveries and raced cancellations become no-ops
	// here, expiry is checked against the wall clock.
	switch {
	case run.Status == runstate.StatusCancelling:
		c.finalizeRun(ctx, runID, runstate.StatusCancelled, storage.RunUpdate{}, runstate.StepStatusCancelled)
		return turnTerminate, nil
	case run.Status.IsTerminal():
		return turnTerminate, nil
	case run.Expired(now):
		c.expireRun(ctx, runID)
		return turnTerminate, nil
	case run.Status == runstate.StatusRequiresAction:
		// Stale delivery; the run is waiting on submitted outputs.
		return turnSuspend, nil
	}

	thread, err := c.store.GetThread(ctx, run.ThreadID)
	if err != nil {
		return turnTerminate, fmt.Errorf("failed to load thread %s: %w", run.ThreadID, err)
	}
	assistant, err := c.store.GetAssistant(ctx, run.AssistantID)
	if err != nil {
		return turnTerminate, fmt.Errorf("failed to load assistant %s: %w", run.AssistantID, err)
	}
	messages, err := c.store.GetThreadMessages(ctx, thread.ID)
	if err != nil {
		return turnTerminate, fmt.Errorf("failed to load messages: %w", err)
	}
	steps, err := c.store.GetCompletedToolCallsSteps(ctx, run.ID)
	if err != nil {
		return turnTerminate, fmt.Errorf("failed to load run steps: %w", err)
	}

	update := storage.RunUpdate{}
	if run.StartedAt == nil {
		update.StartedAt = types.Ptr(now)
	}
	if _, err := c.store.UpdateRunStatus(ctx, run.ID, runstate.StatusInProgress, update); err != nil {
		return turnTerminate, fmt.Errorf("failed to mark run in progress: %w", err)
	}

	reply, err := c.invoker.Invoke(ctx, invoker.InvokeParams{
		Model:    assistant.Model,
		Messages: buildChatContext(assistant, messages, steps),
		Tools:    buildToolSpecs(assistant),
	})
	if err != nil {
		return turnTerminate, fmt.Errorf("model invocation failed: %w", err)
	}

	// Re-guard after the model call: cancellation or expiry may have
	// landed while it was in flight.
	if outcome, intercepted, err := c.reguard(ctx, run.ID); err != nil {
		return turnTerminate, err
	} else if intercepted {
		return outcome, nil
	}

	if len(reply.ToolCalls) == 0 {
		return c.completeWithMessage(ctx, run, reply.Text)
	}
	return c.handleToolCalls(ctx, log, run, reply.ToolCalls)
}

// reguard re-reads only the status and expiry columns and intercepts the
// turn when the run can no longer proceed.
func (c *Client) reguard(ctx context.Context, runID string) (turnOutcome, bool, error) {
	info, err := c.store.GetRunStatus(ctx, runID)
	if err != nil {
		return turnTerminate, true, fmt.Errorf("failed to re-check run status: %w", err)
	}
	switch {
	case info.Status == runstate.StatusCancelling:
		c.finalizeRun(ctx, runID, runstate.StatusCancelled, storage.RunUpdate{}, runstate.StepStatusCancelled)
		return turnTerminate, true, nil
	case info.Status.IsTerminal():
		return turnTerminate, true, nil
	case info.ExpiresAt != nil && time.Now().After(*info.ExpiresAt):
		c.expireRun(ctx, runID)
		return turnTerminate, true, nil
	}
	return turnContinue, false, nil
}

// completeWithMessage persists a text reply: the assistant message, its
// message_creation step, and the run's completion.
func (c *Client) completeWithMessage(ctx context.Context, run *types.Run, text string) (turnOutcome, error) {
	msg, err := c.store.CreateMessage(ctx, storage.CreateMessageParams{
		ThreadID:    run.ThreadID,
		RunID:       types.Ptr(run.ID),
		AssistantID: types.Ptr(run.AssistantID),
		Role:        types.MessageRoleAssistant,
		Content:     []types.ContentBlock{{Type: "text", Text: text}},
	})
	if err != nil {
		return turnTerminate, fmt.Errorf("failed to create assistant message: %w", err)
	}

	if _, err := c.store.CreateRunStep(ctx, storage.CreateRunStepParams{
		RunID:       run.ID,
		ThreadID:    run.ThreadID,
		AssistantID: run.AssistantID,
		Type:        runstate.StepTypeMessageCreation,
		Status:      runstate.StepStatusCompleted,
		StepDetails: types.StepDetails{
			Type:            runstate.StepTypeMessageCreation,
			MessageCreation: &types.MessageCreationDetails{MessageID: msg.ID},
		},
	}); err != nil {
		return turnTerminate, fmt.Errorf("failed to create message step: %w", err)
	}

	if _, err := c.store.UpdateRunStatus(ctx, run.ID, runstate.StatusCompleted, storage.RunUpdate{
		CompletedAt: types.Ptr(time.Now()),
	}); err != nil {
		return turnTerminate, fmt.Errorf("failed to complete run: %w", err)
	}

	c.notify(ctx, notifier.EventRunStateChanged, run.ID)
	return turnTerminate, nil
}

// handleToolCalls persists the turn's tool_calls step, suspends the run
// when external function calls need the caller, and resolves built-ins.
func (c *Client) handleToolCalls(ctx context.Context, log *slog.Logger, run *types.Run, requests []invoker.CallRequest) (turnOutcome, error) {
	calls := classifyCallRequests(requests)

	step, err := c.store.CreateRunStep(ctx, storage.CreateRunStepParams{
		RunID:       run.ID,
		ThreadID:    run.ThreadID,
		AssistantID: run.AssistantID,
		Type:        runstate.StepTypeToolCalls,
		Status:      runstate.StepStatusInProgress,
		StepDetails: types.StepDetails{
			Type:      runstate.StepTypeToolCalls,
			ToolCalls: calls,
		},
	})
	if err != nil {
		return turnTerminate, fmt.Errorf("failed to create tool_calls step: %w", err)
	}

	var functionCalls, builtinCalls []types.ToolCall
	for _, call := range calls {
		if call.Type == types.ToolTypeFunction {
			functionCalls = append(functionCalls, call)
		} else {
			builtinCalls = append(builtinCalls, call)
		}
	}

	if len(functionCalls) > 0 {
		_, err := c.store.UpdateRunStatus(ctx, run.ID, runstate.StatusRequiresAction, storage.RunUpdate{
			RequiredAction: &types.RequiredAction{
				Type:              types.RequiredActionTypeSubmitToolOutputs,
				SubmitToolOutputs: &types.SubmitToolOutputsAction{ToolCalls: functionCalls},
			},
		})
		if err != nil {
			return turnTerminate, fmt.Errorf("failed to set requires_action: %w", err)
		}
		log.Info("run waiting for tool outputs",
			"step_id", step.ID,
			"function_calls", len(functionCalls),
		)
		c.notify(ctx, notifier.EventRunStateChanged, run.ID)
	}

	var results []tool.Result
	if len(builtinCalls) > 0 {
		results = c.executor.ExecuteAll(ctx, builtinCalls)
	}

	if outcome, intercepted, err := c.reguard(ctx, run.ID); err != nil {
		return turnTerminate, err
	} else if intercepted {
		return outcome, nil
	}

	_, err = c.store.UpdateRunStepToolCalls(ctx, step.ID, func(current []types.ToolCall) (storage.ToolCallsUpdate, error) {
		merged := mergeBuiltinResults(current, results)
		upd := storage.ToolCallsUpdate{ToolCalls: merged}
		if toolCallsComplete(merged) {
			upd.Status = types.Ptr(runstate.StepStatusCompleted)
		}
		return upd, nil
	})
	if err != nil {
		if errors.Is(err, storage.ErrStepImmutable) {
			// The step was finalized underneath us (cancellation path).
			return turnTerminate, nil
		}
		return turnTerminate, fmt.Errorf("failed to merge tool outputs: %w", err)
	}

	if len(functionCalls) > 0 {
		return turnSuspend, nil
	}
	return turnContinue, nil
}

// classifyCallRequests converts model call requests into typed tool
// calls: fixed built-in names map to built-in variants, everything else
// is an external function.
func classifyCallRequests(requests []invoker.CallRequest) []types.ToolCall {
	calls := make([]types.ToolCall, 0, len(requests))
	for _, req := range requests {
		id := req.ID
		if id == "" {
			id = types.NewID("call")
		}

		call := types.ToolCall{ID: id, Type: types.ClassifyToolName(req.Name)}
		switch call.Type {
		case types.ToolTypeRetrieval:
			var args struct {
				Query string `json:"query"`
			}
			_ = json.Unmarshal([]byte(req.Arguments), &args)
			call.Retrieval = &types.RetrievalCall{Query: args.Query}

		case types.ToolTypeCodeInterpreter:
			var args struct {
				Input string `json:"input"`
			}
			_ = json.Unmarshal([]byte(req.Arguments), &args)
			call.CodeInterpreter = &types.CodeInterpreterCall{Input: args.Input}

		default:
			call.Function = &types.FunctionCall{Name: req.Name, Arguments: req.Arguments}
		}
		calls = append(calls, call)
	}
	return calls
}

// failRun persists a run failure and finalizes its latest open step.
func (c *Client) failRun(ctx context.Context, runID string, reason string) {
	c.finalizeRun(ctx, runID, runstate.StatusFailed, storage.RunUpdate{
		LastError: types.Ptr(reason),
		FailedAt:  types.Ptr(time.Now()),
	}, runstate.StepStatusFailed)
}

// expireRun persists run expiry and finalizes its latest open step.
func (c *Client) expireRun(ctx context.Context, runID string) {
	c.finalizeRun(ctx, runID, runstate.StatusExpired, storage.RunUpdate{
		LastError: types.Ptr("run expired"),
	}, runstate.StepStatusExpired)
}

// finalizeRun moves a run to a terminal status and closes its latest
// in_progress tool_calls step with the matching step status. Failures
// here are logged, not returned; the guard re-handles the run on the
// next delivery.
func (c *Client) finalizeRun(ctx context.Context, runID string, status runstate.Status, update storage.RunUpdate, stepStatus runstate.StepStatus) {
	log := c.log().With("run_id", runID)

	if _, err := c.store.UpdateRunStatus(ctx, runID, status, update); err != nil {
		log.Error("failed to finalize run", "status", status, "error", err)
		c.reportError(err)
		return
	}

	step, err := c.store.GetLatestToolCallsStep(ctx, runID)
	if err == nil && step.Status == runstate.StepStatusInProgress {
		if _, err := c.store.UpdateRunStepStatus(ctx, step.ID, stepStatus); err != nil {
			log.Error("failed to finalize run step", "step_id", step.ID, "error", err)
		}
	}

	log.Info("run finalized", "status", status)
	c.notify(ctx, notifier.EventRunStateChanged, runID)
}
