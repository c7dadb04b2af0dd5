package assistantpg

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/youssefsiam38/assistantpg/jobqueue"
	"github.com/youssefsiam38/assistantpg/notifier"
	"github.com/youssefsiam38/assistantpg/runstate"
	"github.com/youssefsiam38/assistantpg/storage"
	"github.com/youssefsiam38/assistantpg/types"
)

// CreateAssistant persists an assistant.
func (c *Client) CreateAssistant(ctx context.Context, assistant *types.Assistant) (*types.Assistant, error) {
	if assistant.Model == "" {
		return nil, fmt.Errorf("%w: assistant model is required", ErrInvalidConfig)
	}
	return c.store.CreateAssistant(ctx, assistant)
}

// CreateThread persists a new thread.
func (c *Client) CreateThread(ctx context.Context, metadata map[string]any) (*types.Thread, error) {
	return c.store.CreateThread(ctx, &types.Thread{Metadata: metadata})
}

// AddMessage appends a user message to a thread.
func (c *Client) AddMessage(ctx context.Context, threadID string, text string) (*types.Message, error) {
	if _, err := c.store.GetThread(ctx, threadID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrThreadNotFound, threadID)
		}
		return nil, err
	}
	return c.store.CreateMessage(ctx, storage.CreateMessageParams{
		ThreadID: threadID,
		Role:     types.MessageRoleUser,
		Content:  []types.ContentBlock{{Type: "text", Text: text}},
	})
}

// GetMessages lists a thread's messages in creation order.
func (c *Client) GetMessages(ctx context.Context, threadID string) ([]*types.Message, error) {
	if _, err := c.store.GetThread(ctx, threadID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrThreadNotFound, threadID)
		}
		return nil, err
	}
	return c.store.GetThreadMessages(ctx, threadID)
}

// CreateRun creates a queued run for a thread and schedules its job.
// The run expires Config.RunExpiry after creation.
func (c *Client) CreateRun(ctx context.Context, threadID, assistantID string) (*types.Run, error) {
	if _, err := c.store.GetThread(ctx, threadID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrThreadNotFound, threadID)
		}
		return nil, err
	}
	if _, err := c.store.GetAssistant(ctx, assistantID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrAssistantNotFound, assistantID)
		}
		return nil, err
	}

	run, err := c.store.CreateRun(ctx, storage.CreateRunParams{
		ThreadID:    threadID,
		AssistantID: assistantID,
		ExpiresAt:   types.Ptr(time.Now().Add(c.config.RunExpiry)),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create run: %w", err)
	}

	if _, err := c.queue.Enqueue(ctx, jobqueue.EnqueueParams{RunID: run.ID}); err != nil {
		return nil, NewRunError("CreateRun", run.ID, err)
	}

	c.notify(ctx, notifier.EventJobAvailable, run.ID)
	c.worker.trigger()
	c.log().Info("run created", "run_id", run.ID, "thread_id", threadID, "assistant_id", assistantID)
	return run, nil
}

// GetRun loads a run scoped to its thread.
func (c *Client) GetRun(ctx context.Context, threadID, runID string) (*types.Run, error) {
	run, err := c.store.GetRun(ctx, runID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
		}
		return nil, err
	}
	if run.ThreadID != threadID {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return run, nil
}

// GetRunSteps lists a run's steps in creation order.
func (c *Client) GetRunSteps(ctx context.Context, threadID, runID string) ([]*types.RunStep, error) {
	if _, err := c.GetRun(ctx, threadID, runID); err != nil {
		return nil, err
	}
	return c.store.GetRunSteps(ctx, runID)
}

// SubmitToolOutputs resolves the external function calls of a run in
// requires_action. When every function call has an output the step
// completes, the run re-enters the queue, and processing resumes.
func (c *Client) SubmitToolOutputs(ctx context.Context, threadID, runID string, outputs []types.ToolOutput) (*types.Run, error) {
	run, err := c.GetRun(ctx, threadID, runID)
	if err != nil {
		return nil, err
	}
	if run.Status != runstate.StatusRequiresAction {
		return nil, NewRunError("SubmitToolOutputs", runID, ErrNotRequiresAction)
	}

	step, err := c.store.GetLatestToolCallsStep(ctx, runID)
	if err != nil {
		return nil, NewRunError("SubmitToolOutputs", runID, err)
	}

	step, err = c.store.UpdateRunStepToolCalls(ctx, step.ID, func(current []types.ToolCall) (storage.ToolCallsUpdate, error) {
		merged, err := applyToolOutputs(current, outputs)
		if err != nil {
			return storage.ToolCallsUpdate{}, err
		}
		upd := storage.ToolCallsUpdate{ToolCalls: merged}
		if toolCallsComplete(merged) {
			upd.Status = types.Ptr(runstate.StepStatusCompleted)
		}
		return upd, nil
	})
	if err != nil {
		return nil, NewRunError("SubmitToolOutputs", runID, err)
	}

	run, err = c.store.UpdateRunStatus(ctx, runID, runstate.StatusQueued, storage.RunUpdate{
		ClearRequiredAction: true,
	})
	if err != nil {
		return nil, NewRunError("SubmitToolOutputs", runID, err)
	}

	// Key the resume job to the step so duplicate submissions collapse
	// while the run's original job key stays burned.
	if _, err := c.queue.Enqueue(ctx, jobqueue.EnqueueParams{
		RunID: runID,
		Key:   jobqueue.JobKey(runID, step.ID),
	}); err != nil {
		return nil, NewRunError("SubmitToolOutputs", runID, err)
	}

	c.notify(ctx, notifier.EventJobAvailable, runID)
	c.worker.trigger()
	c.log().Info("tool outputs submitted", "run_id", runID, "step_id", step.ID, "outputs", len(outputs))
	return run, nil
}

// CancelRun requests cancellation of a run. If the run's job is still
// queued the cancellation takes effect immediately; otherwise the run
// moves to cancelling and the processor finalizes it at its next guard.
func (c *Client) CancelRun(ctx context.Context, threadID, runID string) (*types.Run, error) {
	run, err := c.GetRun(ctx, threadID, runID)
	if err != nil {
		return nil, err
	}
	if run.Status.IsTerminal() {
		return nil, NewRunError("CancelRun", runID, ErrRunAlreadyFinalized)
	}
	if run.Status == runstate.StatusCancelling {
		return run, nil
	}
	wasSuspended := run.Status == runstate.StatusRequiresAction

	run, err = c.store.UpdateRunStatus(ctx, runID, runstate.StatusCancelling, storage.RunUpdate{
		CancelledAt: types.Ptr(time.Now()),
	})
	if err != nil {
		return nil, NewRunError("CancelRun", runID, err)
	}

	// Best-effort removal of jobs no worker claimed yet. When it
	// succeeds nothing will process the run, so finalize immediately.
	removed, err := c.queue.Remove(ctx, runID)
	if err != nil {
		c.log().Warn("failed to remove queued job", "run_id", runID, "error", err)
	}
	if step, stepErr := c.store.GetLatestToolCallsStep(ctx, runID); stepErr == nil {
		stepRemoved, removeErr := c.queue.Remove(ctx, jobqueue.JobKey(runID, step.ID))
		if removeErr != nil {
			c.log().Warn("failed to remove resume job", "run_id", runID, "error", removeErr)
		}
		removed = removed || stepRemoved
	}

	// A suspended run has no worker processing it; nothing would ever
	// observe the cancelling status, so finalize it here too.
	if removed || wasSuspended {
		c.finalizeRun(ctx, runID, runstate.StatusCancelled, storage.RunUpdate{}, runstate.StepStatusCancelled)
		return c.GetRun(ctx, threadID, runID)
	}

	c.notify(ctx, notifier.EventRunCancelling, runID)
	c.log().Info("run cancellation requested", "run_id", runID)
	return run, nil
}
