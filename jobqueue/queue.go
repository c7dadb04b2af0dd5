// Package jobqueue provides at-least-once delivery of run jobs.
//
// A job carries the id of the run to advance and an idempotency key.
// The key is the run id, optionally suffixed with the run step id the
// run resumed from, so that resuming after submit-tool-outputs enqueues
// a distinguishable job from the original while duplicate submissions
// collapse onto one job.
//
// PostgresQueue is the default backend. RedisQueue (Redis Streams) fits
// deployments that already run a Redis-backed queue. MemoryQueue backs
// unit tests.
package jobqueue

import (
	"context"
	"errors"
	"time"
)

// Job states.
const (
	StateAvailable = "available"
	StateClaimed   = "claimed"
	StateCompleted = "completed"
	StateFailed    = "failed"
)

// ErrQueueClosed is returned by operations on a closed queue.
var ErrQueueClosed = errors.New("jobqueue: queue closed")

// Job is one unit of run-processing work.
type Job struct {
	ID        string     `json:"id"`
	Key       string     `json:"key"`
	RunID     string     `json:"run_id"`
	State     string     `json:"state"`
	Attempt   int        `json:"attempt"`
	LastError *string    `json:"last_error,omitempty"`
	ClaimedBy *string    `json:"claimed_by,omitempty"`
	ClaimedAt *time.Time `json:"claimed_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// EnqueueParams are the inputs for enqueuing a job.
type EnqueueParams struct {
	RunID string
	// Key is the idempotency key. Enqueuing a key that was ever seen
	// before is a no-op.
	Key string
}

// RescueResult reports the outcome of a stalled-job sweep.
type RescueResult struct {
	// Rescued jobs were returned to the available state for redelivery.
	Rescued []*Job
	// Abandoned jobs exceeded the attempt budget and were marked failed.
	Abandoned []*Job
}

// Queue is the scheduling contract consumed by the worker pool and the
// run contracts. Delivery is at-least-once; consumers must tolerate
// duplicate delivery.
type Queue interface {
	// Enqueue adds a job unless its idempotency key was already seen.
	// Returns false when the key suppressed the enqueue.
	Enqueue(ctx context.Context, params EnqueueParams) (bool, error)

	// Claim atomically claims up to limit available jobs for a worker.
	Claim(ctx context.Context, workerID string, limit int) ([]*Job, error)

	// Complete acknowledges a claimed job.
	Complete(ctx context.Context, jobID string) error

	// Fail records a claimed job as errored. The job is not retried by
	// the queue; application-level recovery is creating a new run.
	Fail(ctx context.Context, jobID string, reason string) error

	// Remove deletes a still-available job by idempotency key. Returns
	// true if a job was removed before any worker claimed it.
	Remove(ctx context.Context, key string) (bool, error)

	// RescueStalled returns claimed jobs older than olderThan to the
	// available state, marking jobs past maxAttempts as failed instead.
	RescueStalled(ctx context.Context, olderThan time.Duration, maxAttempts int) (*RescueResult, error)
}

// JobKey builds a job idempotency key from a run id and, for resumed
// runs, the run step the resume is keyed to.
func JobKey(runID string, stepID string) string {
	if stepID == "" {
		return runID
	}
	return runID + ":" + stepID
}
