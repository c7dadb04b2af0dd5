package jobqueue

import (
	"context"
	"sync"
	"time"

	"github.com/youssefsiam38/assistantpg/types"
)

// MemoryQueue is an in-memory Queue for unit tests and examples. It
// mirrors PostgresQueue semantics, including permanent idempotency keys:
// a key stays burned even after its job completes.
type MemoryQueue struct {
	mu     sync.Mutex
	closed bool
	jobs   map[string]*Job // by job id
	byKey  map[string]*Job // by idempotency key
	order  []string        // job ids in enqueue order
}

// NewMemoryQueue creates an empty in-memory queue.
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{
		jobs:  make(map[string]*Job),
		byKey: make(map[string]*Job),
	}
}

// Close marks the queue closed. Subsequent operations return
// ErrQueueClosed.
func (q *MemoryQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
}

func cloneJob(job *Job) *Job {
	c := *job
	return &c
}

func (q *MemoryQueue) Enqueue(ctx context.Context, params EnqueueParams) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false, ErrQueueClosed
	}

	key := params.Key
	if key == "" {
		key = params.RunID
	}
	if _, ok := q.byKey[key]; ok {
		return false, nil
	}

	job := &Job{
		ID:        types.NewID("job"),
		Key:       key,
		RunID:     params.RunID,
		State:     StateAvailable,
		CreatedAt: time.Now(),
	}
	q.jobs[job.ID] = job
	q.byKey[key] = job
	q.order = append(q.order, job.ID)
	return true, nil
}

func (q *MemoryQueue) Claim(ctx context.Context, workerID string, limit int) ([]*Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil, ErrQueueClosed
	}

	var claimed []*Job
	now := time.Now()
	for _, id := range q.order {
		if len(claimed) >= limit {
			break
		}
		job := q.jobs[id]
		if job == nil || job.State != StateAvailable {
			continue
		}
		job.State = StateClaimed
		job.ClaimedBy = &workerID
		job.ClaimedAt = types.Ptr(now)
		job.Attempt++
		claimed = append(claimed, cloneJob(job))
	}
	return claimed, nil
}

func (q *MemoryQueue) Complete(ctx context.Context, jobID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrQueueClosed
	}
	if job, ok := q.jobs[jobID]; ok {
		job.State = StateCompleted
	}
	return nil
}

func (q *MemoryQueue) Fail(ctx context.Context, jobID string, reason string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrQueueClosed
	}
	if job, ok := q.jobs[jobID]; ok {
		job.State = StateFailed
		job.LastError = &reason
	}
	return nil
}

func (q *MemoryQueue) Remove(ctx context.Context, key string) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false, ErrQueueClosed
	}
	job, ok := q.byKey[key]
	if !ok || job.State != StateAvailable {
		return false, nil
	}
	delete(q.jobs, job.ID)
	delete(q.byKey, key)
	for i, id := range q.order {
		if id == job.ID {
			q.order = append(q.order[:i], q.order[i+1:]...)
			break
		}
	}
	return true, nil
}

func (q *MemoryQueue) RescueStalled(ctx context.Context, olderThan time.Duration, maxAttempts int) (*RescueResult, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil, ErrQueueClosed
	}

	cutoff := time.Now().Add(-olderThan)
	result := &RescueResult{}
	for _, id := range q.order {
		job := q.jobs[id]
		if job == nil || job.State != StateClaimed {
			continue
		}
		if job.ClaimedAt == nil || !job.ClaimedAt.Before(cutoff) {
			continue
		}
		if job.Attempt >= maxAttempts {
			job.State = StateFailed
			job.LastError = types.Ptr("job stalled: maximum attempts exceeded")
			result.Abandoned = append(result.Abandoned, cloneJob(job))
			continue
		}
		job.State = StateAvailable
		job.ClaimedBy = nil
		job.ClaimedAt = nil
		result.Rescued = append(result.Rescued, cloneJob(job))
	}
	return result, nil
}

var _ Queue = (*MemoryQueue)(nil)
