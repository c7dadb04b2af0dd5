package jobqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisQueue implements Queue on a Redis Stream with a consumer group.
// It fits deployments that already run Redis-backed workers; PostgresQueue
// stays the default because it shares the store's transaction domain.
//
// Idempotency keys are burned with SET NX and never expire, matching the
// Postgres backend's unique key column. Jobs removed before claim are
// tombstoned and skipped at delivery, since a stream entry cannot be
// deleted out from under its consumer group safely.
type RedisQueue struct {
	client *redis.Client
	prefix string
	group  string
	block  time.Duration

	stream     string
	deadStream string
	keySet     string
	removedSet string
}

// RedisOption configures a RedisQueue.
type RedisOption func(*RedisQueue)

// WithRedisKeyPrefix overrides the key prefix (default "assistantpg").
func WithRedisKeyPrefix(prefix string) RedisOption {
	return func(q *RedisQueue) { q.prefix = prefix }
}

// WithRedisGroup overrides the consumer group name (default "workers").
func WithRedisGroup(group string) RedisOption {
	return func(q *RedisQueue) { q.group = group }
}

// WithRedisBlock sets how long Claim blocks waiting for a delivery when
// the stream is empty. Zero means return immediately.
func WithRedisBlock(d time.Duration) RedisOption {
	return func(q *RedisQueue) { q.block = d }
}

// NewRedisQueue creates a Redis Streams queue and ensures its consumer
// group exists.
func NewRedisQueue(ctx context.Context, client *redis.Client, opts ...RedisOption) (*RedisQueue, error) {
	q := &RedisQueue{
		client: client,
		prefix: "assistantpg",
		group:  "workers",
	}
	for _, opt := range opts {
		opt(q)
	}
	q.stream = q.prefix + ":jobs"
	q.deadStream = q.prefix + ":jobs:dead"
	q.keySet = q.prefix + ":jobs:keys"
	q.removedSet = q.prefix + ":jobs:removed"

	err := client.XGroupCreateMkStream(ctx, q.stream, q.group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return nil, fmt.Errorf("failed to ensure consumer group: %w", err)
	}
	return q, nil
}

// redisJob is the stream entry payload.
type redisJob struct {
	Key     string `json:"key"`
	RunID   string `json:"run_id"`
	Attempt int    `json:"attempt"`
}

func (q *RedisQueue) Enqueue(ctx context.Context, params EnqueueParams) (bool, error) {
	key := params.Key
	if key == "" {
		key = params.RunID
	}

	added, err := q.client.SAdd(ctx, q.keySet, key).Result()
	if err != nil {
		return false, fmt.Errorf("failed to burn idempotency key: %w", err)
	}
	if added == 0 {
		return false, nil
	}

	if err := q.addJob(ctx, redisJob{Key: key, RunID: params.RunID}); err != nil {
		return false, err
	}
	return true, nil
}

func (q *RedisQueue) addJob(ctx context.Context, job redisJob) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}
	err = q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: q.stream,
		Values: map[string]any{"payload": string(payload)},
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to enqueue job: %w", err)
	}
	return nil
}

func (q *RedisQueue) Claim(ctx context.Context, workerID string, limit int) ([]*Job, error) {
	res, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    q.group,
		Consumer: workerID,
		Streams:  []string{q.stream, ">"},
		Count:    int64(limit),
		Block:    q.block,
	}).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to claim jobs: %w", err)
	}

	now := time.Now()
	var jobs []*Job
	for _, stream := range res {
		for _, msg := range stream.Messages {
			payload, ok := msg.Values["payload"].(string)
			if !ok {
				_ = q.ack(ctx, msg.ID)
				continue
			}
			var rj redisJob
			if err := json.Unmarshal([]byte(payload), &rj); err != nil {
				_ = q.ack(ctx, msg.ID)
				continue
			}
			removed, err := q.client.SIsMember(ctx, q.removedSet, rj.Key).Result()
			if err != nil {
				return jobs, fmt.Errorf("failed to check removed jobs: %w", err)
			}
			if removed {
				_ = q.ack(ctx, msg.ID)
				_ = q.client.SRem(ctx, q.removedSet, rj.Key).Err()
				continue
			}
			jobs = append(jobs, &Job{
				ID:        msg.ID,
				Key:       rj.Key,
				RunID:     rj.RunID,
				State:     StateClaimed,
				Attempt:   rj.Attempt + 1,
				ClaimedBy: &workerID,
				ClaimedAt: &now,
			})
		}
	}
	return jobs, nil
}

func (q *RedisQueue) ack(ctx context.Context, msgID string) error {
	if err := q.client.XAck(ctx, q.stream, q.group, msgID).Err(); err != nil {
		return fmt.Errorf("failed to ack job: %w", err)
	}
	_ = q.client.XDel(ctx, q.stream, msgID).Err()
	return nil
}

// Complete acknowledges a claimed job. jobID is the stream entry id.
func (q *RedisQueue) Complete(ctx context.Context, jobID string) error {
	return q.ack(ctx, jobID)
}

// Fail acknowledges a claimed job and records it on the dead stream.
func (q *RedisQueue) Fail(ctx context.Context, jobID string, reason string) error {
	err := q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: q.deadStream,
		Values: map[string]any{"source_id": jobID, "reason": reason},
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to record failed job: %w", err)
	}
	return q.ack(ctx, jobID)
}

// Remove tombstones a still-unclaimed job by idempotency key. The entry
// is dropped when a worker next reads it. Returns true if the key had a
// live entry to tombstone.
func (q *RedisQueue) Remove(ctx context.Context, key string) (bool, error) {
	exists, err := q.client.SIsMember(ctx, q.keySet, key).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check idempotency key: %w", err)
	}
	if !exists {
		return false, nil
	}
	added, err := q.client.SAdd(ctx, q.removedSet, key).Result()
	if err != nil {
		return false, fmt.Errorf("failed to tombstone job: %w", err)
	}
	return added > 0, nil
}

// RescueStalled re-adds pending entries idle longer than olderThan so
// live workers can claim them, and dead-letters entries past the attempt
// budget.
func (q *RedisQueue) RescueStalled(ctx context.Context, olderThan time.Duration, maxAttempts int) (*RescueResult, error) {
	msgs, _, err := q.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   q.stream,
		Group:    q.group,
		Consumer: "rescuer",
		MinIdle:  olderThan,
		Start:    "0-0",
		Count:    100,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to autoclaim stalled jobs: %w", err)
	}

	result := &RescueResult{}
	for _, msg := range msgs {
		payload, ok := msg.Values["payload"].(string)
		if !ok {
			_ = q.ack(ctx, msg.ID)
			continue
		}
		var rj redisJob
		if err := json.Unmarshal([]byte(payload), &rj); err != nil {
			_ = q.ack(ctx, msg.ID)
			continue
		}

		job := &Job{ID: msg.ID, Key: rj.Key, RunID: rj.RunID, Attempt: rj.Attempt + 1}
		if job.Attempt >= maxAttempts {
			if err := q.Fail(ctx, msg.ID, "job stalled: maximum attempts exceeded"); err != nil {
				return result, err
			}
			job.State = StateFailed
			result.Abandoned = append(result.Abandoned, job)
			continue
		}

		rj.Attempt = job.Attempt
		if err := q.addJob(ctx, rj); err != nil {
			return result, err
		}
		if err := q.ack(ctx, msg.ID); err != nil {
			return result, err
		}
		job.State = StateAvailable
		result.Rescued = append(result.Rescued, job)
	}
	return result, nil
}

var _ Queue = (*RedisQueue)(nil)
