package jobqueue

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/youssefsiam38/assistantpg/types"
)

// Schema contains the DDL for the jobs table. Applied by Migrate; safe
// to re-run.
const Schema = `
CREATE TABLE IF NOT EXISTS assistantpg_jobs (
	id         TEXT PRIMARY KEY,
	key        TEXT NOT NULL UNIQUE,
	run_id     TEXT NOT NULL,
	state      TEXT NOT NULL DEFAULT 'available',
	attempt    INT NOT NULL DEFAULT 0,
	last_error TEXT,
	claimed_by TEXT,
	claimed_at TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_assistantpg_jobs_available
	ON assistantpg_jobs(created_at) WHERE state = 'available';
CREATE INDEX IF NOT EXISTS idx_assistantpg_jobs_claimed
	ON assistantpg_jobs(claimed_at) WHERE state = 'claimed';
`

// PostgresQueue implements Queue on a Postgres table. Claims use
// FOR UPDATE SKIP LOCKED so concurrent workers never double-claim, and
// the unique key column enforces idempotent enqueues. Connectivity
// failures surface immediately; nothing is buffered offline.
type PostgresQueue struct {
	pool *pgxpool.Pool
}

// NewPostgresQueue creates a Postgres-backed queue.
func NewPostgresQueue(pool *pgxpool.Pool) *PostgresQueue {
	return &PostgresQueue{pool: pool}
}

// Migrate applies the queue's schema.
func (q *PostgresQueue) Migrate(ctx context.Context) error {
	if _, err := q.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("failed to apply job queue schema: %w", err)
	}
	return nil
}

// Enqueue adds a job unless its idempotency key was already seen.
func (q *PostgresQueue) Enqueue(ctx context.Context, params EnqueueParams) (bool, error) {
	key := params.Key
	if key == "" {
		key = params.RunID
	}

	tag, err := q.pool.Exec(ctx, `
		INSERT INTO assistantpg_jobs (id, key, run_id, state, created_at)
		VALUES ($1, $2, $3, 'available', NOW())
		ON CONFLICT (key) DO NOTHING
	`, types.NewID("job"), key, params.RunID)
	if err != nil {
		return false, fmt.Errorf("failed to enqueue job: %w", err)
	}

	return tag.RowsAffected() > 0, nil
}

const jobColumns = `id, key, run_id, state, attempt, last_error, claimed_by, claimed_at, created_at`

func scanJob(row pgx.Row) (*Job, error) {
	var job Job
	err := row.Scan(&job.ID, &job.Key, &job.RunID, &job.State, &job.Attempt,
		&job.LastError, &job.ClaimedBy, &job.ClaimedAt, &job.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// Claim atomically claims up to limit available jobs for a worker.
func (q *PostgresQueue) Claim(ctx context.Context, workerID string, limit int) ([]*Job, error) {
	rows, err := q.pool.Query(ctx, `
		UPDATE assistantpg_jobs
		SET state = 'claimed', claimed_by = $1, claimed_at = NOW(), attempt = attempt + 1
		WHERE id IN (
			SELECT id FROM assistantpg_jobs
			WHERE state = 'available'
			ORDER BY created_at ASC
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+jobColumns,
		workerID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to claim jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, job)
	}

	return jobs, rows.Err()
}

// Complete acknowledges a claimed job.
func (q *PostgresQueue) Complete(ctx context.Context, jobID string) error {
	if _, err := q.pool.Exec(ctx, `
		UPDATE assistantpg_jobs SET state = 'completed' WHERE id = $1
	`, jobID); err != nil {
		return fmt.Errorf("failed to complete job: %w", err)
	}
	return nil
}

// Fail records a claimed job as errored.
func (q *PostgresQueue) Fail(ctx context.Context, jobID string, reason string) error {
	if _, err := q.pool.Exec(ctx, `
		UPDATE assistantpg_jobs SET state = 'failed', last_error = $2 WHERE id = $1
	`, jobID, reason); err != nil {
		return fmt.Errorf("failed to fail job: %w", err)
	}
	return nil
}

// Remove deletes a still-available job by idempotency key.
func (q *PostgresQueue) Remove(ctx context.Context, key string) (bool, error) {
	tag, err := q.pool.Exec(ctx, `
		DELETE FROM assistantpg_jobs WHERE key = $1 AND state = 'available'
	`, key)
	if err != nil {
		return false, fmt.Errorf("failed to remove job: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// RescueStalled returns stalled claimed jobs to the available state and
// marks jobs past the attempt budget as failed.
func (q *PostgresQueue) RescueStalled(ctx context.Context, olderThan time.Duration, maxAttempts int) (*RescueResult, error) {
	cutoff := time.Now().Add(-olderThan)
	result := &RescueResult{}

	tx, err := q.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin rescue transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `
		UPDATE assistantpg_jobs
		SET state = 'failed', last_error = 'job stalled: maximum attempts exceeded'
		WHERE state = 'claimed' AND claimed_at < $1 AND attempt >= $2
		RETURNING `+jobColumns,
		cutoff, maxAttempts)
	if err != nil {
		return nil, fmt.Errorf("failed to abandon stalled jobs: %w", err)
	}
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan abandoned job: %w", err)
		}
		result.Abandoned = append(result.Abandoned, job)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = tx.Query(ctx, `
		UPDATE assistantpg_jobs
		SET state = 'available', claimed_by = NULL, claimed_at = NULL
		WHERE state = 'claimed' AND claimed_at < $1 AND attempt < $2
		RETURNING `+jobColumns,
		cutoff, maxAttempts)
	if err != nil {
		return nil, fmt.Errorf("failed to rescue stalled jobs: %w", err)
	}
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan rescued job: %w", err)
		}
		result.Rescued = append(result.Rescued, job)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit rescue: %w", err)
	}

	return result, nil
}

var _ Queue = (*PostgresQueue)(nil)
