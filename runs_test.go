package assistantpg

import (
	"context"
	"errors"
	"testing"

	"github.com/youssefsiam38/assistantpg/internal/testutil"
	"github.com/youssefsiam38/assistantpg/invoker"
	"github.com/youssefsiam38/assistantpg/runstate"
	"github.com/youssefsiam38/assistantpg/types"
)

func TestCreateRunValidation(t *testing.T) {
	h := newTestHarness(t, nil, nil)
	ctx := context.Background()

	if _, err := h.client.CreateRun(ctx, "thread_missing", h.assistantID); !errors.Is(err, ErrThreadNotFound) {
		t.Errorf("expected ErrThreadNotFound, got %v", err)
	}
	if _, err := h.client.CreateRun(ctx, h.threadID, "asst_missing"); !errors.Is(err, ErrAssistantNotFound) {
		t.Errorf("expected ErrAssistantNotFound, got %v", err)
	}
}

func TestCreateRunIsIdempotentPerRun(t *testing.T) {
	h := newTestHarness(t, nil, []testutil.ScriptedResponse{
		{Reply: &invoker.Reply{Text: "a"}},
		{Reply: &invoker.Reply{Text: "b"}},
	})

	// Two runs on the same thread get independent jobs.
	run1 := h.run(t)
	run2 := h.run(t)
	h.drain(t)

	if got := h.getRun(t, run1.ID); got.Status != runstate.StatusCompleted {
		t.Errorf("expected run1 completed, got %s", got.Status)
	}
	if got := h.getRun(t, run2.ID); got.Status != runstate.StatusCompleted {
		t.Errorf("expected run2 completed, got %s", got.Status)
	}
}

func TestGetRunScopedToThread(t *testing.T) {
	h := newTestHarness(t, nil, nil)
	run := h.run(t)

	other, err := h.client.CreateThread(context.Background(), nil)
	if err != nil {
		t.Fatalf("CreateThread failed: %v", err)
	}
	if _, err := h.client.GetRun(context.Background(), other.ID, run.ID); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("expected ErrRunNotFound for wrong thread, got %v", err)
	}
}

func TestSubmitToolOutputsRejections(t *testing.T) {
	h := newTestHarness(t, []types.AssistantTool{weatherTool()}, []testutil.ScriptedResponse{
		{Reply: &invoker.Reply{ToolCalls: []invoker.CallRequest{
			{ID: "call_1", Name: "get_weather", Arguments: `{}`},
		}}},
	})
	run := h.run(t)
	ctx := context.Background()

	// Before the run reaches requires_action.
	_, err := h.client.SubmitToolOutputs(ctx, h.threadID, run.ID, []types.ToolOutput{
		{ToolCallID: "call_1", Output: "x"},
	})
	if !errors.Is(err, ErrNotRequiresAction) {
		t.Errorf("expected ErrNotRequiresAction, got %v", err)
	}

	h.drain(t)

	// Unknown call id.
	_, err = h.client.SubmitToolOutputs(ctx, h.threadID, run.ID, []types.ToolOutput{
		{ToolCallID: "call_404", Output: "x"},
	})
	if !errors.Is(err, ErrUnknownToolCall) {
		t.Errorf("expected ErrUnknownToolCall, got %v", err)
	}

	// The rejection must not advance the run.
	if got := h.getRun(t, run.ID); got.Status != runstate.StatusRequiresAction {
		t.Errorf("expected run still requires_action, got %s", got.Status)
	}
}

func TestSubmitToolOutputsDuplicateResume(t *testing.T) {
	h := newTestHarness(t, []types.AssistantTool{weatherTool()}, []testutil.ScriptedResponse{
		{Reply: &invoker.Reply{ToolCalls: []invoker.CallRequest{
			{ID: "call_1", Name: "get_weather", Arguments: `{}`},
		}}},
		{Reply: &invoker.Reply{Text: "Done."}},
	})
	run := h.run(t)
	h.drain(t)

	ctx := context.Background()
	outputs := []types.ToolOutput{{ToolCallID: "call_1", Output: "sunny"}}
	if _, err := h.client.SubmitToolOutputs(ctx, h.threadID, run.ID, outputs); err != nil {
		t.Fatalf("SubmitToolOutputs failed: %v", err)
	}

	// A second submission before the resume job runs is rejected: the
	// run is queued, not requires_action.
	if _, err := h.client.SubmitToolOutputs(ctx, h.threadID, run.ID, outputs); !errors.Is(err, ErrNotRequiresAction) {
		t.Errorf("expected ErrNotRequiresAction on duplicate submit, got %v", err)
	}

	h.drain(t)
	if got := h.getRun(t, run.ID); got.Status != runstate.StatusCompleted {
		t.Errorf("expected completed, got %s", got.Status)
	}
	if h.scripted.Calls() != 2 {
		t.Errorf("expected 2 model calls, got %d", h.scripted.Calls())
	}
}

func TestCancelQueuedRun(t *testing.T) {
	h := newTestHarness(t, nil, []testutil.ScriptedResponse{
		{Reply: &invoker.Reply{Text: "never used"}},
	})
	run := h.run(t)

	// Cancel before any worker claims the job: finalizes immediately.
	got, err := h.client.CancelRun(context.Background(), h.threadID, run.ID)
	if err != nil {
		t.Fatalf("CancelRun failed: %v", err)
	}
	if got.Status != runstate.StatusCancelled {
		t.Fatalf("expected cancelled, got %s", got.Status)
	}
	if got.CancelledAt == nil {
		t.Error("expected cancelled_at set")
	}

	h.drain(t)
	if h.scripted.Calls() != 0 {
		t.Error("expected no model calls for a cancelled run")
	}
}

func TestCancelSuspendedRun(t *testing.T) {
	h := newTestHarness(t, []types.AssistantTool{weatherTool()}, []testutil.ScriptedResponse{
		{Reply: &invoker.Reply{ToolCalls: []invoker.CallRequest{
			{ID: "call_1", Name: "get_weather", Arguments: `{}`},
		}}},
	})
	run := h.run(t)
	h.drain(t)

	got, err := h.client.CancelRun(context.Background(), h.threadID, run.ID)
	if err != nil {
		t.Fatalf("CancelRun failed: %v", err)
	}
	if got.Status != runstate.StatusCancelled {
		t.Fatalf("expected cancelled, got %s", got.Status)
	}

	// The open tool_calls step is closed with the run.
	steps := h.steps(t, run.ID)
	if len(steps) != 1 || steps[0].Status != runstate.StepStatusCancelled {
		t.Errorf("expected cancelled step, got %+v", steps[0])
	}

	// Submitting outputs after cancellation is rejected.
	_, err = h.client.SubmitToolOutputs(context.Background(), h.threadID, run.ID, []types.ToolOutput{
		{ToolCallID: "call_1", Output: "x"},
	})
	if !errors.Is(err, ErrNotRequiresAction) {
		t.Errorf("expected ErrNotRequiresAction, got %v", err)
	}
}

func TestCancelFinalizedRunRejected(t *testing.T) {
	h := newTestHarness(t, nil, []testutil.ScriptedResponse{
		{Reply: &invoker.Reply{Text: "Done."}},
	})
	run := h.run(t)
	h.drain(t)

	_, err := h.client.CancelRun(context.Background(), h.threadID, run.ID)
	if !errors.Is(err, ErrRunAlreadyFinalized) {
		t.Errorf("expected ErrRunAlreadyFinalized, got %v", err)
	}
}

func TestCancellingRunObservedMidFlight(t *testing.T) {
	h := newTestHarness(t, nil, []testutil.ScriptedResponse{
		{Reply: &invoker.Reply{Text: "never persisted"}},
	})
	run := h.run(t)

	// Simulate a cancellation landing while the job is claimed: the
	// removal misses, the run sits in cancelling, and the processor's
	// guard finalizes it.
	ctx := context.Background()
	if _, err := h.queue.Claim(ctx, "other-worker", 10); err != nil {
		t.Fatalf("Claim failed: %v", err)
	}
	if _, err := h.client.CancelRun(ctx, h.threadID, run.ID); err != nil {
		t.Fatalf("CancelRun failed: %v", err)
	}
	if got := h.getRun(t, run.ID); got.Status != runstate.StatusCancelling {
		t.Fatalf("expected cancelling, got %s", got.Status)
	}

	outcome, err := h.client.runTurn(ctx, run.ID)
	if err != nil {
		t.Fatalf("runTurn failed: %v", err)
	}
	if outcome != turnTerminate {
		t.Errorf("expected turnTerminate, got %d", outcome)
	}
	if got := h.getRun(t, run.ID); got.Status != runstate.StatusCancelled {
		t.Errorf("expected cancelled, got %s", got.Status)
	}
	if h.scripted.Calls() != 0 {
		t.Error("expected no model call after cancellation")
	}
}

func TestNewClientValidation(t *testing.T) {
	h := newTestHarness(t, nil, nil)

	if _, err := NewClient(nil, h.queue, h.scripted); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig for nil store, got %v", err)
	}
	if _, err := NewClient(h.store, nil, h.scripted); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig for nil queue, got %v", err)
	}
	if _, err := NewClient(h.store, h.queue, nil); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig for nil invoker, got %v", err)
	}
	if _, err := NewClient(h.store, h.queue, h.scripted, WithConcurrency(-1)); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig for negative concurrency, got %v", err)
	}
}
