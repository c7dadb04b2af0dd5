package assistantpg

import (
	"errors"
	"fmt"
)

// Common errors
var (
	// ErrInvalidConfig is returned when the client configuration is invalid
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrThreadNotFound is returned when a thread does not exist
	ErrThreadNotFound = errors.New("thread not found")

	// ErrAssistantNotFound is returned when an assistant does not exist
	ErrAssistantNotFound = errors.New("assistant not found")

	// ErrRunNotFound is returned when a run does not exist
	ErrRunNotFound = errors.New("run not found")

	// ErrRunAlreadyFinalized is returned when modifying a terminal run
	ErrRunAlreadyFinalized = errors.New("run already finalized")

	// ErrNotRequiresAction is returned when submitting tool outputs to a
	// run that is not waiting for them
	ErrNotRequiresAction = errors.New("run is not waiting for tool outputs")

	// ErrUnknownToolCall is returned when a submitted output references a
	// tool call the current step does not contain
	ErrUnknownToolCall = errors.New("unknown tool call id")

	// ErrNotFunctionCall is returned when a submitted output targets a
	// built-in tool call
	ErrNotFunctionCall = errors.New("tool call is not a function call")

	// ErrClientNotStarted is returned when calling methods before Start()
	ErrClientNotStarted = errors.New("client not started")

	// ErrClientAlreadyStarted is returned when Start() is called twice
	ErrClientAlreadyStarted = errors.New("client already started")
)

// RunError represents an error with run context
type RunError struct {
	Op    string // Operation that failed
	RunID string // Run ID if applicable
	Err   error  // Underlying error
}

// Error implements the error interface
func (e *RunError) Error() string {
	if e.RunID != "" {
		return fmt.Sprintf("%s (run=%s): %v", e.Op, e.RunID, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error
func (e *RunError) Unwrap() error {
	return e.Err
}

// NewRunError creates a new RunError
func NewRunError(op string, runID string, err error) *RunError {
	return &RunError{Op: op, RunID: runID, Err: err}
}
