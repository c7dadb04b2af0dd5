package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/youssefsiam38/assistantpg/runstate"
	"github.com/youssefsiam38/assistantpg/types"
)

// MemoryStore is a simple in-memory Store for unit tests and local
// development. The mutex stands in for the row locks the Postgres
// implementation takes, so UpdateRunStepToolCalls gives the same
// serialization guarantee.
type MemoryStore struct {
	mu         sync.Mutex
	assistants map[string]*types.Assistant
	threads    map[string]*types.Thread
	messages   map[string]*types.Message
	runs       map[string]*types.Run
	steps      map[string]*types.RunStep

	// seq orders entities created within the same wall-clock tick.
	seq    int64
	orders map[string]int64
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		assistants: map[string]*types.Assistant{},
		threads:    map[string]*types.Thread{},
		messages:   map[string]*types.Message{},
		runs:       map[string]*types.Run{},
		steps:      map[string]*types.RunStep{},
		orders:     map[string]int64{},
	}
}

func (s *MemoryStore) nextSeq(id string) {
	s.seq++
	s.orders[id] = s.seq
}

func cloneRun(run *types.Run) *types.Run {
	cloned := *run
	if run.RequiredAction != nil {
		action := *run.RequiredAction
		if run.RequiredAction.SubmitToolOutputs != nil {
			action.SubmitToolOutputs = &types.SubmitToolOutputsAction{
				ToolCalls: types.CloneToolCalls(run.RequiredAction.SubmitToolOutputs.ToolCalls),
			}
		}
		cloned.RequiredAction = &action
	}
	return &cloned
}

func cloneRunStep(step *types.RunStep) *types.RunStep {
	cloned := *step
	cloned.StepDetails.ToolCalls = types.CloneToolCalls(step.StepDetails.ToolCalls)
	if step.StepDetails.MessageCreation != nil {
		mc := *step.StepDetails.MessageCreation
		cloned.StepDetails.MessageCreation = &mc
	}
	return &cloned
}

func cloneMessage(msg *types.Message) *types.Message {
	cloned := *msg
	cloned.Content = append([]types.ContentBlock(nil), msg.Content...)
	return &cloned
}

// CreateAssistant persists a new assistant.
func (s *MemoryStore) CreateAssistant(_ context.Context, assistant *types.Assistant) (*types.Assistant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	created := *assistant
	if created.ID == "" {
		created.ID = types.NewID("asst")
	}
	created.CreatedAt = time.Now()
	s.assistants[created.ID] = &created
	return &created, nil
}

// GetAssistant retrieves an assistant by ID.
func (s *MemoryStore) GetAssistant(_ context.Context, assistantID string) (*types.Assistant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	assistant, ok := s.assistants[assistantID]
	if !ok {
		return nil, fmt.Errorf("assistant %q: %w", assistantID, ErrNotFound)
	}
	cloned := *assistant
	return &cloned, nil
}

// CreateThread persists a new thread.
func (s *MemoryStore) CreateThread(_ context.Context, thread *types.Thread) (*types.Thread, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	created := *thread
	if created.ID == "" {
		created.ID = types.NewID("thread")
	}
	created.CreatedAt = time.Now()
	s.threads[created.ID] = &created
	return &created, nil
}

// GetThread retrieves a thread by ID.
func (s *MemoryStore) GetThread(_ context.Context, threadID string) (*types.Thread, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	thread, ok := s.threads[threadID]
	if !ok {
		return nil, fmt.Errorf("thread %q: %w", threadID, ErrNotFound)
	}
	cloned := *thread
	return &cloned, nil
}

// CreateMessage persists a new message.
func (s *MemoryStore) CreateMessage(_ context.Context, params CreateMessageParams) (*types.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg := &types.Message{
		ID:          types.NewID("msg"),
		ThreadID:    params.ThreadID,
		RunID:       params.RunID,
		AssistantID: params.AssistantID,
		Role:        params.Role,
		Content:     append([]types.ContentBlock(nil), params.Content...),
		Metadata:    params.Metadata,
		CreatedAt:   time.Now(),
	}
	s.messages[msg.ID] = msg
	s.nextSeq(msg.ID)
	msg.Sequence = s.seq
	return cloneMessage(msg), nil
}

// GetThreadMessages returns the thread's messages in creation order.
func (s *MemoryStore) GetThreadMessages(_ context.Context, threadID string) ([]*types.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var messages []*types.Message
	for _, msg := range s.messages {
		if msg.ThreadID == threadID {
			messages = append(messages, cloneMessage(msg))
		}
	}
	sort.Slice(messages, func(i, j int) bool {
		return s.orders[messages[i].ID] < s.orders[messages[j].ID]
	})
	return messages, nil
}

// CreateRun persists a new run in status queued.
func (s *MemoryStore) CreateRun(_ context.Context, params CreateRunParams) (*types.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	run := &types.Run{
		ID:          types.NewID("run"),
		ThreadID:    params.ThreadID,
		AssistantID: params.AssistantID,
		Status:      runstate.StatusQueued,
		ExpiresAt:   params.ExpiresAt,
		CreatedAt:   time.Now(),
	}
	s.runs[run.ID] = run
	s.nextSeq(run.ID)
	return cloneRun(run), nil
}

// GetRun retrieves a run by ID.
func (s *MemoryStore) GetRun(_ context.Context, runID string) (*types.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[runID]
	if !ok {
		return nil, fmt.Errorf("run %q: %w", runID, ErrNotFound)
	}
	return cloneRun(run), nil
}

// GetRunStatus reads only the status and expiry fields.
func (s *MemoryStore) GetRunStatus(_ context.Context, runID string) (*RunStatusInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[runID]
	if !ok {
		return nil, fmt.Errorf("run %q: %w", runID, ErrNotFound)
	}
	return &RunStatusInfo{Status: run.Status, ExpiresAt: run.ExpiresAt}, nil
}

// UpdateRunStatus moves the run to the given status, validating the
// transition against the state machine.
func (s *MemoryStore) UpdateRunStatus(_ context.Context, runID string, status runstate.Status, update RunUpdate) (*types.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[runID]
	if !ok {
		return nil, fmt.Errorf("run %q: %w", runID, ErrNotFound)
	}

	if err := validateRunTransition(run.Status, status); err != nil {
		return nil, fmt.Errorf("run %q: %s -> %s: %w", runID, run.Status, status, err)
	}

	run.Status = status
	if update.RequiredAction != nil {
		run.RequiredAction = update.RequiredAction
	} else if update.ClearRequiredAction {
		run.RequiredAction = nil
	}
	if update.LastError != nil {
		run.LastError = update.LastError
	}
	if update.StartedAt != nil {
		run.StartedAt = update.StartedAt
	}
	if update.CompletedAt != nil {
		run.CompletedAt = update.CompletedAt
	}
	if update.CancelledAt != nil {
		run.CancelledAt = update.CancelledAt
	}
	if update.FailedAt != nil {
		run.FailedAt = update.FailedAt
	}

	return cloneRun(run), nil
}

// CreateRunStep persists a new run step.
func (s *MemoryStore) CreateRunStep(_ context.Context, params CreateRunStepParams) (*types.RunStep, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	step := &types.RunStep{
		ID:          types.NewID("step"),
		RunID:       params.RunID,
		ThreadID:    params.ThreadID,
		AssistantID: params.AssistantID,
		Type:        params.Type,
		Status:      params.Status,
		StepDetails: params.StepDetails,
		CreatedAt:   time.Now(),
	}
	if step.Status == runstate.StepStatusCompleted {
		now := step.CreatedAt
		step.CompletedAt = &now
	}
	s.steps[step.ID] = step
	s.nextSeq(step.ID)
	step.Sequence = s.seq
	return cloneRunStep(step), nil
}

// GetRunStep retrieves a run step by ID.
func (s *MemoryStore) GetRunStep(_ context.Context, stepID string) (*types.RunStep, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	step, ok := s.steps[stepID]
	if !ok {
		return nil, fmt.Errorf("run step %q: %w", stepID, ErrNotFound)
	}
	return cloneRunStep(step), nil
}

func (s *MemoryStore) runStepsLocked(runID string, filter func(*types.RunStep) bool) []*types.RunStep {
	var steps []*types.RunStep
	for _, step := range s.steps {
		if step.RunID == runID && (filter == nil || filter(step)) {
			steps = append(steps, cloneRunStep(step))
		}
	}
	sort.Slice(steps, func(i, j int) bool {
		return s.orders[steps[i].ID] < s.orders[steps[j].ID]
	})
	return steps
}

// GetRunSteps returns the run's steps in creation order.
func (s *MemoryStore) GetRunSteps(_ context.Context, runID string) ([]*types.RunStep, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runStepsLocked(runID, nil), nil
}

// GetLatestToolCallsStep returns the most recent tool_calls step.
func (s *MemoryStore) GetLatestToolCallsStep(_ context.Context, runID string) (*types.RunStep, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	steps := s.runStepsLocked(runID, func(step *types.RunStep) bool {
		return step.Type == runstate.StepTypeToolCalls
	})
	if len(steps) == 0 {
		return nil, fmt.Errorf("tool_calls step for run %q: %w", runID, ErrNotFound)
	}
	return steps[len(steps)-1], nil
}

// GetCompletedToolCallsSteps returns completed tool_calls steps in
// creation order.
func (s *MemoryStore) GetCompletedToolCallsSteps(_ context.Context, runID string) ([]*types.RunStep, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.runStepsLocked(runID, func(step *types.RunStep) bool {
		return step.Type == runstate.StepTypeToolCalls && step.Status == runstate.StepStatusCompleted
	}), nil
}

// UpdateRunStepToolCalls applies a read-modify-write to the step's tool
// calls while the store lock is held.
func (s *MemoryStore) UpdateRunStepToolCalls(_ context.Context, stepID string, update func(current []types.ToolCall) (ToolCallsUpdate, error)) (*types.RunStep, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	step, ok := s.steps[stepID]
	if !ok {
		return nil, fmt.Errorf("run step %q: %w", stepID, ErrNotFound)
	}
	if stepImmutable(step.Status) {
		return nil, fmt.Errorf("run step %q: %w", stepID, ErrStepImmutable)
	}

	result, err := update(types.CloneToolCalls(step.StepDetails.ToolCalls))
	if err != nil {
		return nil, err
	}

	step.StepDetails.ToolCalls = result.ToolCalls
	if result.Status != nil && *result.Status != step.Status {
		step.Status = *result.Status
		applyStepTimestamp(step, *result.Status, time.Now())
	}

	return cloneRunStep(step), nil
}

// UpdateRunStepStatus finalizes a step's status.
func (s *MemoryStore) UpdateRunStepStatus(_ context.Context, stepID string, status runstate.StepStatus) (*types.RunStep, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	step, ok := s.steps[stepID]
	if !ok {
		return nil, fmt.Errorf("run step %q: %w", stepID, ErrNotFound)
	}

	step.Status = status
	applyStepTimestamp(step, status, time.Now())
	return cloneRunStep(step), nil
}

var _ Store = (*MemoryStore)(nil)
