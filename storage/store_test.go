package storage_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/youssefsiam38/assistantpg/internal/testutil"
	"github.com/youssefsiam38/assistantpg/runstate"
	"github.com/youssefsiam38/assistantpg/storage"
	"github.com/youssefsiam38/assistantpg/types"
)

// runStoreSuite exercises the Store contract against a backend.
func runStoreSuite(t *testing.T, store storage.Store) {
	t.Run("AssistantRoundTrip", func(t *testing.T) { testAssistantRoundTrip(t, store) })
	t.Run("ThreadAndMessages", func(t *testing.T) { testThreadAndMessages(t, store) })
	t.Run("RunLifecycle", func(t *testing.T) { testRunLifecycle(t, store) })
	t.Run("RunStatusProjection", func(t *testing.T) { testRunStatusProjection(t, store) })
	t.Run("InvalidTransition", func(t *testing.T) { testInvalidTransition(t, store) })
	t.Run("RunSteps", func(t *testing.T) { testRunSteps(t, store) })
	t.Run("ToolCallsUpdate", func(t *testing.T) { testToolCallsUpdate(t, store) })
	t.Run("NotFound", func(t *testing.T) { testNotFound(t, store) })
}

func TestMemoryStore(t *testing.T) {
	runStoreSuite(t, storage.NewMemoryStore())
}

func TestPostgresStore(t *testing.T) {
	db := testutil.NewTestDB(t)
	defer db.Close()

	ctx := context.Background()
	store := storage.NewPostgresStore(db.Pool)
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("Migrate failed: %v", err)
	}
	if err := db.CleanTables(ctx); err != nil {
		t.Fatalf("CleanTables failed: %v", err)
	}

	runStoreSuite(t, store)
}

// seedRun creates an assistant, a thread, and a queued run.
func seedRun(t *testing.T, store storage.Store) *types.Run {
	t.Helper()
	ctx := context.Background()

	assistant, err := store.CreateAssistant(ctx, &types.Assistant{Model: "gpt-4o"})
	if err != nil {
		t.Fatalf("CreateAssistant failed: %v", err)
	}
	thread, err := store.CreateThread(ctx, &types.Thread{})
	if err != nil {
		t.Fatalf("CreateThread failed: %v", err)
	}
	run, err := store.CreateRun(ctx, storage.CreateRunParams{
		ThreadID:    thread.ID,
		AssistantID: assistant.ID,
		ExpiresAt:   types.Ptr(time.Now().Add(10 * time.Minute)),
	})
	if err != nil {
		t.Fatalf("CreateRun failed: %v", err)
	}
	return run
}

func testAssistantRoundTrip(t *testing.T, store storage.Store) {
	ctx := context.Background()

	created, err := store.CreateAssistant(ctx, &types.Assistant{
		Name:         "Support",
		Model:        "gpt-4o",
		Instructions: "Be concise.",
		Tools: []types.AssistantTool{
			{Type: types.ToolTypeRetrieval},
			{Type: types.ToolTypeFunction, Function: &types.FunctionDefinition{Name: "get_weather"}},
		},
		Metadata: map[string]any{"team": "support"},
	})
	if err != nil {
		t.Fatalf("CreateAssistant failed: %v", err)
	}
	if created.ID == "" {
		t.Fatal("expected generated id")
	}

	got, err := store.GetAssistant(ctx, created.ID)
	if err != nil {
		t.Fatalf("GetAssistant failed: %v", err)
	}
	if got.Model != "gpt-4o" || got.Instructions != "Be concise." {
		t.Errorf("unexpected assistant %+v", got)
	}
	if len(got.Tools) != 2 || got.Tools[1].Function.Name != "get_weather" {
		t.Errorf("tools not round-tripped: %+v", got.Tools)
	}
}

func testThreadAndMessages(t *testing.T, store storage.Store) {
	ctx := context.Background()

	thread, err := store.CreateThread(ctx, &types.Thread{Metadata: map[string]any{"user": "u1"}})
	if err != nil {
		t.Fatalf("CreateThread failed: %v", err)
	}

	for _, text := range []string{"first", "second"} {
		if _, err := store.CreateMessage(ctx, storage.CreateMessageParams{
			ThreadID: thread.ID,
			Role:     types.MessageRoleUser,
			Content:  []types.ContentBlock{{Type: "text", Text: text}},
		}); err != nil {
			t.Fatalf("CreateMessage failed: %v", err)
		}
	}

	messages, err := store.GetThreadMessages(ctx, thread.ID)
	if err != nil {
		t.Fatalf("GetThreadMessages failed: %v", err)
	}
	if len(messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(messages))
	}
	if messages[0].FirstText() != "first" || messages[1].FirstText() != "second" {
		t.Errorf("messages out of order: %q, %q", messages[0].FirstText(), messages[1].FirstText())
	}
}

func testRunLifecycle(t *testing.T, store storage.Store) {
	ctx := context.Background()
	run := seedRun(t, store)

	if run.Status != runstate.StatusQueued {
		t.Fatalf("expected new run queued, got %s", run.Status)
	}

	run, err := store.UpdateRunStatus(ctx, run.ID, runstate.StatusInProgress, storage.RunUpdate{
		StartedAt: types.Ptr(time.Now()),
	})
	if err != nil {
		t.Fatalf("UpdateRunStatus failed: %v", err)
	}
	if run.StartedAt == nil {
		t.Error("expected started_at set")
	}

	// Re-asserting the current status is a no-op transition.
	if _, err := store.UpdateRunStatus(ctx, run.ID, runstate.StatusInProgress, storage.RunUpdate{}); err != nil {
		t.Fatalf("self-transition rejected: %v", err)
	}

	run, err = store.UpdateRunStatus(ctx, run.ID, runstate.StatusRequiresAction, storage.RunUpdate{
		RequiredAction: &types.RequiredAction{
			Type: types.RequiredActionTypeSubmitToolOutputs,
			SubmitToolOutputs: &types.SubmitToolOutputsAction{
				ToolCalls: []types.ToolCall{{
					ID:       "call_1",
					Type:     types.ToolTypeFunction,
					Function: &types.FunctionCall{Name: "get_weather", Arguments: "{}"},
				}},
			},
		},
	})
	if err != nil {
		t.Fatalf("UpdateRunStatus failed: %v", err)
	}
	if run.RequiredAction == nil || len(run.RequiredAction.SubmitToolOutputs.ToolCalls) != 1 {
		t.Fatalf("required_action not persisted: %+v", run.RequiredAction)
	}

	run, err = store.UpdateRunStatus(ctx, run.ID, runstate.StatusQueued, storage.RunUpdate{
		ClearRequiredAction: true,
	})
	if err != nil {
		t.Fatalf("UpdateRunStatus failed: %v", err)
	}
	if run.RequiredAction != nil {
		t.Error("expected required_action cleared")
	}
}

func testRunStatusProjection(t *testing.T, store storage.Store) {
	ctx := context.Background()
	run := seedRun(t, store)

	info, err := store.GetRunStatus(ctx, run.ID)
	if err != nil {
		t.Fatalf("GetRunStatus failed: %v", err)
	}
	if info.Status != runstate.StatusQueued {
		t.Errorf("expected queued, got %s", info.Status)
	}
	if info.ExpiresAt == nil {
		t.Error("expected expires_at in projection")
	}
}

func testInvalidTransition(t *testing.T, store storage.Store) {
	ctx := context.Background()
	run := seedRun(t, store)

	_, err := store.UpdateRunStatus(ctx, run.ID, runstate.StatusCompleted, storage.RunUpdate{})
	if !errors.Is(err, storage.ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition for queued->completed, got %v", err)
	}
}

func testRunSteps(t *testing.T, store storage.Store) {
	ctx := context.Background()
	run := seedRun(t, store)

	first, err := store.CreateRunStep(ctx, storage.CreateRunStepParams{
		RunID:       run.ID,
		ThreadID:    run.ThreadID,
		AssistantID: run.AssistantID,
		Type:        runstate.StepTypeToolCalls,
		Status:      runstate.StepStatusCompleted,
		StepDetails: types.StepDetails{
			Type: runstate.StepTypeToolCalls,
			ToolCalls: []types.ToolCall{{
				ID:        "call_1",
				Type:      types.ToolTypeRetrieval,
				Retrieval: &types.RetrievalCall{Query: "q", Output: types.Ptr("out")},
			}},
		},
	})
	if err != nil {
		t.Fatalf("CreateRunStep failed: %v", err)
	}
	second, err := store.CreateRunStep(ctx, storage.CreateRunStepParams{
		RunID:       run.ID,
		ThreadID:    run.ThreadID,
		AssistantID: run.AssistantID,
		Type:        runstate.StepTypeToolCalls,
		Status:      runstate.StepStatusInProgress,
		StepDetails: types.StepDetails{
			Type: runstate.StepTypeToolCalls,
			ToolCalls: []types.ToolCall{{
				ID:       "call_2",
				Type:     types.ToolTypeFunction,
				Function: &types.FunctionCall{Name: "get_weather", Arguments: "{}"},
			}},
		},
	})
	if err != nil {
		t.Fatalf("CreateRunStep failed: %v", err)
	}

	steps, err := store.GetRunSteps(ctx, run.ID)
	if err != nil {
		t.Fatalf("GetRunSteps failed: %v", err)
	}
	if len(steps) != 2 || steps[0].ID != first.ID || steps[1].ID != second.ID {
		t.Fatalf("steps out of order: %+v", steps)
	}

	latest, err := store.GetLatestToolCallsStep(ctx, run.ID)
	if err != nil {
		t.Fatalf("GetLatestToolCallsStep failed: %v", err)
	}
	if latest.ID != second.ID {
		t.Errorf("expected latest step %s, got %s", second.ID, latest.ID)
	}

	completed, err := store.GetCompletedToolCallsSteps(ctx, run.ID)
	if err != nil {
		t.Fatalf("GetCompletedToolCallsSteps failed: %v", err)
	}
	if len(completed) != 1 || completed[0].ID != first.ID {
		t.Errorf("expected only the completed step, got %+v", completed)
	}
}

func testToolCallsUpdate(t *testing.T, store storage.Store) {
	ctx := context.Background()
	run := seedRun(t, store)

	step, err := store.CreateRunStep(ctx, storage.CreateRunStepParams{
		RunID:       run.ID,
		ThreadID:    run.ThreadID,
		AssistantID: run.AssistantID,
		Type:        runstate.StepTypeToolCalls,
		Status:      runstate.StepStatusInProgress,
		StepDetails: types.StepDetails{
			Type: runstate.StepTypeToolCalls,
			ToolCalls: []types.ToolCall{
				{
					ID:       "call_1",
					Type:     types.ToolTypeFunction,
					Function: &types.FunctionCall{Name: "get_weather", Arguments: "{}"},
				},
				{
					ID:        "call_2",
					Type:      types.ToolTypeRetrieval,
					Retrieval: &types.RetrievalCall{Query: "refunds"},
				},
			},
		},
	})
	if err != nil {
		t.Fatalf("CreateRunStep failed: %v", err)
	}

	// A failing update function leaves the step untouched.
	wantErr := errors.New("merge rejected")
	if _, err := store.UpdateRunStepToolCalls(ctx, step.ID, func([]types.ToolCall) (storage.ToolCallsUpdate, error) {
		return storage.ToolCallsUpdate{}, wantErr
	}); !errors.Is(err, wantErr) {
		t.Fatalf("expected update error surfaced, got %v", err)
	}
	got, err := store.GetRunStep(ctx, step.ID)
	if err != nil {
		t.Fatalf("GetRunStep failed: %v", err)
	}
	if got.StepDetails.ToolCalls[0].Function.Output != nil {
		t.Error("expected step unchanged after failed update")
	}

	step, err = store.UpdateRunStepToolCalls(ctx, step.ID, func(current []types.ToolCall) (storage.ToolCallsUpdate, error) {
		current[0].Function.Output = types.Ptr(`{"temp":18}`)
		return storage.ToolCallsUpdate{
			ToolCalls: current,
			Status:    types.Ptr(runstate.StepStatusCompleted),
		}, nil
	})
	if err != nil {
		t.Fatalf("UpdateRunStepToolCalls failed: %v", err)
	}
	if step.Status != runstate.StepStatusCompleted || step.CompletedAt == nil {
		t.Errorf("expected completed step with timestamp, got %+v", step)
	}
	if *step.StepDetails.ToolCalls[0].Function.Output != `{"temp":18}` {
		t.Errorf("output not persisted: %+v", step.StepDetails.ToolCalls[0].Function)
	}
	completedAt := step.CompletedAt

	// Completed steps still accept merges: a built-in fan-out may land
	// its outputs after submit-tool-outputs completed the step.
	step, err = store.UpdateRunStepToolCalls(ctx, step.ID, func(current []types.ToolCall) (storage.ToolCallsUpdate, error) {
		current[1].Retrieval.Output = types.Ptr(`{"results":[]}`)
		return storage.ToolCallsUpdate{
			ToolCalls: current,
			Status:    types.Ptr(runstate.StepStatusCompleted),
		}, nil
	})
	if err != nil {
		t.Fatalf("merge into completed step failed: %v", err)
	}
	if step.StepDetails.ToolCalls[1].Retrieval.Output == nil {
		t.Error("built-in output not persisted into completed step")
	}
	if !step.CompletedAt.Equal(*completedAt) {
		t.Errorf("completed_at moved by late merge: %v -> %v", completedAt, step.CompletedAt)
	}

	// Cancelled steps are immutable.
	if _, err := store.UpdateRunStepStatus(ctx, step.ID, runstate.StepStatusCancelled); err != nil {
		t.Fatalf("UpdateRunStepStatus failed: %v", err)
	}
	if _, err := store.UpdateRunStepToolCalls(ctx, step.ID, func(current []types.ToolCall) (storage.ToolCallsUpdate, error) {
		return storage.ToolCallsUpdate{ToolCalls: current}, nil
	}); !errors.Is(err, storage.ErrStepImmutable) {
		t.Errorf("expected ErrStepImmutable, got %v", err)
	}
}

func testNotFound(t *testing.T, store storage.Store) {
	ctx := context.Background()

	if _, err := store.GetRun(ctx, "run_missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if _, err := store.GetAssistant(ctx, "asst_missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if _, err := store.GetLatestToolCallsStep(ctx, "run_missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
