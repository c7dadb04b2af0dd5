// Package storage provides persistence for assistants, threads,
// messages, runs, and run steps.
//
// PostgresStore is the production implementation (pgx/v5, raw SQL).
// MemoryStore backs unit tests and examples.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/youssefsiam38/assistantpg/runstate"
	"github.com/youssefsiam38/assistantpg/types"
)

// Common storage errors.
var (
	// ErrNotFound is returned when an entity does not exist.
	ErrNotFound = errors.New("storage: not found")

	// ErrInvalidTransition is returned when a run status update does not
	// follow the state machine.
	ErrInvalidTransition = errors.New("storage: invalid status transition")

	// ErrStepImmutable is returned when updating the tool calls of a run
	// step that was cancelled, failed, or expired. Completed steps still
	// accept merges: submit-tool-outputs can complete a step while the
	// same turn's built-in fan-out is in flight, and those outputs must
	// still land.
	ErrStepImmutable = errors.New("storage: run step is immutable")
)

// RunStatusInfo is the minimal projection read at guard checkpoints:
// only what cancellation and expiry checks need.
type RunStatusInfo struct {
	Status    runstate.Status
	ExpiresAt *time.Time
}

// RunUpdate lists the optional run fields set alongside a status change.
// Nil fields are left untouched.
type RunUpdate struct {
	RequiredAction      *types.RequiredAction
	ClearRequiredAction bool
	LastError           *string
	StartedAt           *time.Time
	CompletedAt         *time.Time
	CancelledAt         *time.Time
	FailedAt            *time.Time
}

// ToolCallsUpdate is the result of a read-modify-write on a tool_calls
// run step. Status, when non-nil, also moves the step's status.
type ToolCallsUpdate struct {
	ToolCalls []types.ToolCall
	Status    *runstate.StepStatus
}

// CreateRunParams are the inputs for creating a run.
type CreateRunParams struct {
	ThreadID    string
	AssistantID string
	ExpiresAt   *time.Time
}

// CreateMessageParams are the inputs for creating a message.
type CreateMessageParams struct {
	ThreadID    string
	RunID       *string
	AssistantID *string
	Role        types.MessageRole
	Content     []types.ContentBlock
	Metadata    map[string]any
}

// CreateRunStepParams are the inputs for creating a run step.
type CreateRunStepParams struct {
	RunID       string
	ThreadID    string
	AssistantID string
	Type        runstate.StepType
	Status      runstate.StepStatus
	StepDetails types.StepDetails
}

// Store is the persistence contract consumed by the run processor and
// the API-layer operations.
type Store interface {
	// Assistant operations
	CreateAssistant(ctx context.Context, assistant *types.Assistant) (*types.Assistant, error)
	GetAssistant(ctx context.Context, assistantID string) (*types.Assistant, error)

	// Thread operations
	CreateThread(ctx context.Context, thread *types.Thread) (*types.Thread, error)
	GetThread(ctx context.Context, threadID string) (*types.Thread, error)

	// Message operations
	CreateMessage(ctx context.Context, params CreateMessageParams) (*types.Message, error)
	// GetThreadMessages returns the thread's messages ordered by creation time.
	GetThreadMessages(ctx context.Context, threadID string) ([]*types.Message, error)

	// Run operations
	CreateRun(ctx context.Context, params CreateRunParams) (*types.Run, error)
	GetRun(ctx context.Context, runID string) (*types.Run, error)
	// GetRunStatus reads only the status and expiry columns. Guard
	// checkpoints use it instead of a full reload.
	GetRunStatus(ctx context.Context, runID string) (*RunStatusInfo, error)
	// UpdateRunStatus moves the run to the given status and applies the
	// update's fields. Re-asserting the current status is an allowed
	// no-op transition; any other edge missing from the state machine
	// returns ErrInvalidTransition.
	UpdateRunStatus(ctx context.Context, runID string, status runstate.Status, update RunUpdate) (*types.Run, error)

	// Run step operations
	CreateRunStep(ctx context.Context, params CreateRunStepParams) (*types.RunStep, error)
	GetRunStep(ctx context.Context, stepID string) (*types.RunStep, error)
	// GetRunSteps returns the run's steps ordered by creation time.
	GetRunSteps(ctx context.Context, runID string) ([]*types.RunStep, error)
	// GetLatestToolCallsStep returns the most recent tool_calls step of
	// the run, or ErrNotFound.
	GetLatestToolCallsStep(ctx context.Context, runID string) (*types.RunStep, error)
	// GetCompletedToolCallsSteps returns the run's completed tool_calls
	// steps ordered by creation time, for chat context reconstruction.
	GetCompletedToolCallsSteps(ctx context.Context, runID string) ([]*types.RunStep, error)
	// UpdateRunStepToolCalls applies a read-modify-write to the step's
	// tool_calls payload. The update function receives the currently
	// persisted calls and runs while the row is locked, so concurrent
	// writers (the processor's built-in resolution and the
	// submit-tool-outputs contract) serialize instead of clobbering each
	// other. Completed steps stay writable so neither writer's outputs
	// are lost to the other finishing first; cancelled, failed, and
	// expired steps return ErrStepImmutable.
	UpdateRunStepToolCalls(ctx context.Context, stepID string, update func(current []types.ToolCall) (ToolCallsUpdate, error)) (*types.RunStep, error)
	// UpdateRunStepStatus finalizes a step (cancelled, failed, expired,
	// or completed for message_creation steps).
	UpdateRunStepStatus(ctx context.Context, stepID string, status runstate.StepStatus) (*types.RunStep, error)
}

// applyStepTimestamp sets the terminal timestamp matching the status.
func applyStepTimestamp(step *types.RunStep, status runstate.StepStatus, now time.Time) {
	switch status {
	case runstate.StepStatusCompleted:
		step.CompletedAt = &now
	case runstate.StepStatusCancelled:
		step.CancelledAt = &now
	case runstate.StepStatusFailed:
		step.FailedAt = &now
	case runstate.StepStatusExpired:
		step.ExpiredAt = &now
	}
}

// stepImmutable reports whether a step can no longer accept tool-call
// merges. Completed is not immutable here; see ErrStepImmutable.
func stepImmutable(status runstate.StepStatus) bool {
	return status.IsTerminal() && status != runstate.StepStatusCompleted
}

// validateRunTransition applies the state machine to a requested status
// change. Re-asserting the same status is allowed so that re-entrant
// turns can keep a run in_progress.
func validateRunTransition(from, to runstate.Status) error {
	if from == to {
		return nil
	}
	if !from.CanTransitionTo(to) {
		return ErrInvalidTransition
	}
	return nil
}
