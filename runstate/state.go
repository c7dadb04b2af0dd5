// Package runstate provides the state machine definitions for assistant
// runs and their steps.
//
// A run advances through the state machine below until it reaches a
// terminal state or suspends waiting for external tool outputs:
//
//	queued -> in_progress               (worker claims the job)
//	in_progress -> completed            (model replied with text)
//	in_progress -> requires_action      (model requested external tool calls)
//	requires_action -> queued           (tool outputs submitted, run resumes)
//	queued|in_progress|requires_action -> cancelling (cancel requested)
//	cancelling -> cancelled             (observed at the next guard)
//	* -> failed                         (error during processing)
//	* -> expired                        (expires_at passed)
//
// Terminal states (completed, failed, cancelled, expired) cannot
// transition further.
package runstate

import (
	"database/sql/driver"
	"fmt"
)

// Status represents the current status of an assistant run.
type Status string

const (
	// StatusQueued indicates the run is created (or resumed) and waiting
	// for a worker to claim its job.
	StatusQueued Status = "queued"

	// StatusInProgress indicates a worker is advancing the run.
	StatusInProgress Status = "in_progress"

	// StatusRequiresAction indicates the run is suspended waiting for the
	// caller to submit outputs for external tool calls.
	StatusRequiresAction Status = "requires_action"

	// StatusCancelling indicates cancellation was requested but the
	// running job has not observed it yet.
	StatusCancelling Status = "cancelling"

	// StatusCancelled indicates the run was cancelled.
	StatusCancelled Status = "cancelled"

	// StatusFailed indicates the run failed. last_error is populated.
	StatusFailed Status = "failed"

	// StatusCompleted indicates the run finished with a text reply.
	StatusCompleted Status = "completed"

	// StatusExpired indicates expires_at passed before the run finished.
	StatusExpired Status = "expired"
)

// AllStatuses returns all possible run statuses.
func AllStatuses() []Status {
	return []Status{
		StatusQueued,
		StatusInProgress,
		StatusRequiresAction,
		StatusCancelling,
		StatusCancelled,
		StatusFailed,
		StatusCompleted,
		StatusExpired,
	}
}

// TerminalStatuses returns all terminal (final) statuses.
func TerminalStatuses() []Status {
	return []Status{
		StatusCompleted,
		StatusFailed,
		StatusCancelled,
		StatusExpired,
	}
}

// IsValid returns true if the status is a known Status value.
func (s Status) IsValid() bool {
	switch s {
	case StatusQueued, StatusInProgress, StatusRequiresAction, StatusCancelling,
		StatusCancelled, StatusFailed, StatusCompleted, StatusExpired:
		return true
	default:
		return false
	}
}

// IsTerminal returns true if the status is terminal. Terminal statuses
// cannot transition to any other status.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusExpired:
		return true
	default:
		return false
	}
}

// IsProcessable returns true if a job delivery for a run in this status
// should advance the run rather than return its status unchanged.
func (s Status) IsProcessable() bool {
	switch s {
	case StatusQueued, StatusRequiresAction:
		return true
	default:
		return false
	}
}

// CanTransitionTo returns true if a transition from this status to the
// target status is valid.
//
// Every non-terminal status may move to failed, expired, or cancelling;
// the remaining edges are:
//
//   - queued -> in_progress
//   - in_progress -> completed | requires_action
//   - requires_action -> queued | in_progress
//   - cancelling -> cancelled
func (s Status) CanTransitionTo(target Status) bool {
	if s.IsTerminal() {
		return false
	}
	if s == target {
		return false
	}

	// cancelling only resolves to a terminal status.
	if s == StatusCancelling {
		return target == StatusCancelled || target == StatusFailed || target == StatusExpired
	}

	if target == StatusFailed || target == StatusExpired || target == StatusCancelling {
		return true
	}

	switch s {
	case StatusQueued:
		return target == StatusInProgress || target == StatusCancelled
	case StatusInProgress:
		return target == StatusCompleted || target == StatusRequiresAction || target == StatusCancelled
	case StatusRequiresAction:
		return target == StatusQueued || target == StatusInProgress || target == StatusCancelled
	}

	return false
}

// String returns the string representation of the status.
func (s Status) String() string {
	return string(s)
}

// Value implements driver.Valuer for database serialization.
func (s Status) Value() (driver.Value, error) {
	return string(s), nil
}

// Scan implements sql.Scanner for database deserialization.
func (s *Status) Scan(src any) error {
	switch v := src.(type) {
	case string:
		status := Status(v)
		if !status.IsValid() {
			return fmt.Errorf("runstate: invalid status %q", v)
		}
		*s = status
		return nil
	case []byte:
		status := Status(v)
		if !status.IsValid() {
			return fmt.Errorf("runstate: invalid status %q", v)
		}
		*s = status
		return nil
	default:
		return fmt.Errorf("runstate: cannot scan type %T into Status", src)
	}
}

// Transition represents a run status transition with validation.
type Transition struct {
	From Status
	To   Status
}

// Validate returns an error if the transition is invalid.
func (t Transition) Validate() error {
	if !t.From.IsValid() {
		return fmt.Errorf("runstate: invalid source status %q", t.From)
	}
	if !t.To.IsValid() {
		return fmt.Errorf("runstate: invalid target status %q", t.To)
	}
	if !t.From.CanTransitionTo(t.To) {
		return fmt.Errorf("runstate: invalid transition from %q to %q", t.From, t.To)
	}
	return nil
}

// ValidTransitions returns all valid run status transitions.
func ValidTransitions() []Transition {
	return []Transition{
		// From queued
		{From: StatusQueued, To: StatusInProgress},
		{From: StatusQueued, To: StatusCancelling},
		{From: StatusQueued, To: StatusCancelled},
		{From: StatusQueued, To: StatusFailed},
		{From: StatusQueued, To: StatusExpired},
		// From in_progress
		{From: StatusInProgress, To: StatusCompleted},
		{From: StatusInProgress, To: StatusRequiresAction},
		{From: StatusInProgress, To: StatusCancelling},
		{From: StatusInProgress, To: StatusCancelled},
		{From: StatusInProgress, To: StatusFailed},
		{From: StatusInProgress, To: StatusExpired},
		// From requires_action
		{From: StatusRequiresAction, To: StatusQueued},
		{From: StatusRequiresAction, To: StatusInProgress},
		{From: StatusRequiresAction, To: StatusCancelling},
		{From: StatusRequiresAction, To: StatusCancelled},
		{From: StatusRequiresAction, To: StatusFailed},
		{From: StatusRequiresAction, To: StatusExpired},
		// From cancelling
		{From: StatusCancelling, To: StatusCancelled},
		{From: StatusCancelling, To: StatusFailed},
		{From: StatusCancelling, To: StatusExpired},
	}
}

// StepStatus represents the status of a single run step.
type StepStatus string

const (
	// StepStatusInProgress indicates the step's tool calls are still being
	// resolved, or its message is being produced.
	StepStatusInProgress StepStatus = "in_progress"

	// StepStatusCompleted indicates the step finished.
	StepStatusCompleted StepStatus = "completed"

	// StepStatusCancelled indicates the owning run was cancelled.
	StepStatusCancelled StepStatus = "cancelled"

	// StepStatusFailed indicates the owning run failed during this step.
	StepStatusFailed StepStatus = "failed"

	// StepStatusExpired indicates the owning run expired during this step.
	StepStatusExpired StepStatus = "expired"
)

// IsValid returns true if the step status is a known value.
func (s StepStatus) IsValid() bool {
	switch s {
	case StepStatusInProgress, StepStatusCompleted, StepStatusCancelled,
		StepStatusFailed, StepStatusExpired:
		return true
	default:
		return false
	}
}

// IsTerminal returns true if the step status is terminal. A terminal step
// is immutable except that no mutation at all is allowed once completed;
// in_progress tool_calls payloads may still be merged in place.
func (s StepStatus) IsTerminal() bool {
	return s != StepStatusInProgress
}

// String returns the string representation of the step status.
func (s StepStatus) String() string {
	return string(s)
}

// Value implements driver.Valuer for database serialization.
func (s StepStatus) Value() (driver.Value, error) {
	return string(s), nil
}

// Scan implements sql.Scanner for database deserialization.
func (s *StepStatus) Scan(src any) error {
	switch v := src.(type) {
	case string:
		status := StepStatus(v)
		if !status.IsValid() {
			return fmt.Errorf("runstate: invalid step status %q", v)
		}
		*s = status
		return nil
	case []byte:
		status := StepStatus(v)
		if !status.IsValid() {
			return fmt.Errorf("runstate: invalid step status %q", v)
		}
		*s = status
		return nil
	default:
		return fmt.Errorf("runstate: cannot scan type %T into StepStatus", src)
	}
}

// StepType represents the type of a run step.
type StepType string

const (
	// StepTypeMessageCreation records a model turn that produced a text
	// reply as a new assistant message.
	StepTypeMessageCreation StepType = "message_creation"

	// StepTypeToolCalls records a model turn that requested tool calls.
	StepTypeToolCalls StepType = "tool_calls"
)

// IsValid returns true if the step type is a known value.
func (t StepType) IsValid() bool {
	return t == StepTypeMessageCreation || t == StepTypeToolCalls
}

// String returns the string representation of the step type.
func (t StepType) String() string {
	return string(t)
}
