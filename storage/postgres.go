package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/youssefsiam38/assistantpg/runstate"
	"github.com/youssefsiam38/assistantpg/types"
)

// txContextKey is the context key for storing pgx.Tx
type txContextKey struct{}

// WithTx returns a new context with the given transaction. Store calls
// made with the returned context run inside that transaction.
func WithTx(ctx context.Context, tx pgx.Tx) context.Context {
	return context.WithValue(ctx, txContextKey{}, tx)
}

// TxFromContext retrieves the transaction from context, or nil if not present
func TxFromContext(ctx context.Context) pgx.Tx {
	if tx, ok := ctx.Value(txContextKey{}).(pgx.Tx); ok {
		return tx
	}
	return nil
}

// querier is a common interface for pgxpool.Pool and pgx.Tx
type querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Schema contains the DDL for the store's tables. Applied by Migrate;
// safe to re-run.
const Schema = `
CREATE SEQUENCE IF NOT EXISTS assistantpg_seq;

CREATE TABLE IF NOT EXISTS assistantpg_assistants (
	id           TEXT PRIMARY KEY,
	name         TEXT NOT NULL DEFAULT '',
	description  TEXT NOT NULL DEFAULT '',
	model        TEXT NOT NULL,
	instructions TEXT NOT NULL DEFAULT '',
	tools        JSONB NOT NULL DEFAULT '[]',
	file_ids     JSONB NOT NULL DEFAULT '[]',
	metadata     JSONB NOT NULL DEFAULT '{}',
	created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS assistantpg_threads (
	id         TEXT PRIMARY KEY,
	metadata   JSONB NOT NULL DEFAULT '{}',
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS assistantpg_messages (
	id           TEXT PRIMARY KEY,
	thread_id    TEXT NOT NULL REFERENCES assistantpg_threads(id) ON DELETE CASCADE,
	run_id       TEXT,
	assistant_id TEXT,
	role         TEXT NOT NULL,
	content      JSONB NOT NULL DEFAULT '[]',
	metadata     JSONB NOT NULL DEFAULT '{}',
	created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	seq          BIGINT NOT NULL DEFAULT nextval('assistantpg_seq')
);
CREATE INDEX IF NOT EXISTS idx_assistantpg_messages_thread
	ON assistantpg_messages(thread_id, seq);

CREATE TABLE IF NOT EXISTS assistantpg_runs (
	id              TEXT PRIMARY KEY,
	thread_id       TEXT NOT NULL REFERENCES assistantpg_threads(id) ON DELETE CASCADE,
	assistant_id    TEXT NOT NULL,
	status          TEXT NOT NULL,
	required_action JSONB,
	last_error      TEXT,
	started_at      TIMESTAMPTZ,
	completed_at    TIMESTAMPTZ,
	cancelled_at    TIMESTAMPTZ,
	failed_at       TIMESTAMPTZ,
	expires_at      TIMESTAMPTZ,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_assistantpg_runs_thread
	ON assistantpg_runs(thread_id, created_at);

CREATE TABLE IF NOT EXISTS assistantpg_run_steps (
	id           TEXT PRIMARY KEY,
	run_id       TEXT NOT NULL REFERENCES assistantpg_runs(id) ON DELETE CASCADE,
	thread_id    TEXT NOT NULL,
	assistant_id TEXT NOT NULL,
	type         TEXT NOT NULL,
	status       TEXT NOT NULL,
	step_details JSONB NOT NULL,
	completed_at TIMESTAMPTZ,
	cancelled_at TIMESTAMPTZ,
	failed_at    TIMESTAMPTZ,
	expired_at   TIMESTAMPTZ,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	seq          BIGINT NOT NULL DEFAULT nextval('assistantpg_seq')
);
CREATE INDEX IF NOT EXISTS idx_assistantpg_run_steps_run
	ON assistantpg_run_steps(run_id, seq);
`

// PostgresStore implements Store using PostgreSQL with pgx.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Migrate applies the store's schema.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// getQuerier returns the transaction from context if present, otherwise the pool
func (s *PostgresStore) getQuerier(ctx context.Context) querier {
	if tx := TxFromContext(ctx); tx != nil {
		return tx
	}
	return s.pool
}

// CreateAssistant persists a new assistant. A zero ID is generated.
func (s *PostgresStore) CreateAssistant(ctx context.Context, assistant *types.Assistant) (*types.Assistant, error) {
	created := *assistant
	if created.ID == "" {
		created.ID = types.NewID("asst")
	}
	created.CreatedAt = time.Now()

	toolsJSON, err := json.Marshal(created.Tools)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal tools: %w", err)
	}
	fileIDsJSON, err := json.Marshal(created.FileIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal file_ids: %w", err)
	}
	metadataJSON, err := json.Marshal(created.Metadata)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal metadata: %w", err)
	}

	query := `
		INSERT INTO assistantpg_assistants (id, name, description, model, instructions, tools, file_ids, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	if _, err := s.getQuerier(ctx).Exec(ctx, query,
		created.ID, created.Name, created.Description, created.Model,
		created.Instructions, toolsJSON, fileIDsJSON, metadataJSON, created.CreatedAt,
	); err != nil {
		return nil, fmt.Errorf("failed to create assistant: %w", err)
	}

	return &created, nil
}

// GetAssistant retrieves an assistant by ID.
func (s *PostgresStore) GetAssistant(ctx context.Context, assistantID string) (*types.Assistant, error) {
	query := `
		SELECT id, name, description, model, instructions, tools, file_ids, metadata, created_at
		FROM assistantpg_assistants
		WHERE id = $1
	`

	var assistant types.Assistant
	var toolsJSON, fileIDsJSON, metadataJSON []byte

	err := s.getQuerier(ctx).QueryRow(ctx, query, assistantID).Scan(
		&assistant.ID, &assistant.Name, &assistant.Description, &assistant.Model,
		&assistant.Instructions, &toolsJSON, &fileIDsJSON, &metadataJSON, &assistant.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("assistant %q: %w", assistantID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get assistant: %w", err)
	}

	if err := json.Unmarshal(toolsJSON, &assistant.Tools); err != nil {
		return nil, fmt.Errorf("failed to unmarshal tools: %w", err)
	}
	if err := json.Unmarshal(fileIDsJSON, &assistant.FileIDs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal file_ids: %w", err)
	}
	if err := json.Unmarshal(metadataJSON, &assistant.Metadata); err != nil {
		return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
	}

	return &assistant, nil
}

// CreateThread persists a new thread. A zero ID is generated.
func (s *PostgresStore) CreateThread(ctx context.Context, thread *types.Thread) (*types.Thread, error) {
	created := *thread
	if created.ID == "" {
		created.ID = types.NewID("thread")
	}
	created.CreatedAt = time.Now()

	metadataJSON, err := json.Marshal(created.Metadata)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal metadata: %w", err)
	}

	query := `INSERT INTO assistantpg_threads (id, metadata, created_at) VALUES ($1, $2, $3)`
	if _, err := s.getQuerier(ctx).Exec(ctx, query, created.ID, metadataJSON, created.CreatedAt); err != nil {
		return nil, fmt.Errorf("failed to create thread: %w", err)
	}

	return &created, nil
}

// GetThread retrieves a thread by ID.
func (s *PostgresStore) GetThread(ctx context.Context, threadID string) (*types.Thread, error) {
	query := `SELECT id, metadata, created_at FROM assistantpg_threads WHERE id = $1`

	var thread types.Thread
	var metadataJSON []byte

	err := s.getQuerier(ctx).QueryRow(ctx, query, threadID).Scan(&thread.ID, &metadataJSON, &thread.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("thread %q: %w", threadID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get thread: %w", err)
	}

	if err := json.Unmarshal(metadataJSON, &thread.Metadata); err != nil {
		return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
	}

	return &thread, nil
}

// CreateMessage persists a new message in a thread.
func (s *PostgresStore) CreateMessage(ctx context.Context, params CreateMessageParams) (*types.Message, error) {
	msg := &types.Message{
		ID:          types.NewID("msg"),
		ThreadID:    params.ThreadID,
		RunID:       params.RunID,
		AssistantID: params.AssistantID,
		Role:        params.Role,
		Content:     params.Content,
		Metadata:    params.Metadata,
		CreatedAt:   time.Now(),
	}

	contentJSON, err := json.Marshal(msg.Content)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal content: %w", err)
	}
	metadataJSON, err := json.Marshal(msg.Metadata)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal metadata: %w", err)
	}

	query := `
		INSERT INTO assistantpg_messages (id, thread_id, run_id, assistant_id, role, content, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING seq
	`
	if err := s.getQuerier(ctx).QueryRow(ctx, query,
		msg.ID, msg.ThreadID, msg.RunID, msg.AssistantID, string(msg.Role), contentJSON, metadataJSON, msg.CreatedAt,
	).Scan(&msg.Sequence); err != nil {
		return nil, fmt.Errorf("failed to create message: %w", err)
	}

	return msg, nil
}

// GetThreadMessages returns the thread's messages ordered by creation time.
func (s *PostgresStore) GetThreadMessages(ctx context.Context, threadID string) ([]*types.Message, error) {
	query := `
		SELECT id, thread_id, run_id, assistant_id, role, content, metadata, created_at, seq
		FROM assistantpg_messages
		WHERE thread_id = $1
		ORDER BY seq ASC
	`

	rows, err := s.getQuerier(ctx).Query(ctx, query, threadID)
	if err != nil {
		return nil, fmt.Errorf("failed to get messages: %w", err)
	}
	defer rows.Close()

	var messages []*types.Message
	for rows.Next() {
		var msg types.Message
		var role string
		var contentJSON, metadataJSON []byte
		if err := rows.Scan(&msg.ID, &msg.ThreadID, &msg.RunID, &msg.AssistantID, &role, &contentJSON, &metadataJSON, &msg.CreatedAt, &msg.Sequence); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		msg.Role = types.MessageRole(role)
		if err := json.Unmarshal(contentJSON, &msg.Content); err != nil {
			return nil, fmt.Errorf("failed to unmarshal content: %w", err)
		}
		if err := json.Unmarshal(metadataJSON, &msg.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
		messages = append(messages, &msg)
	}

	return messages, rows.Err()
}

// CreateRun persists a new run in status queued.
func (s *PostgresStore) CreateRun(ctx context.Context, params CreateRunParams) (*types.Run, error) {
	run := &types.Run{
		ID:          types.NewID("run"),
		ThreadID:    params.ThreadID,
		AssistantID: params.AssistantID,
		Status:      runstate.StatusQueued,
		ExpiresAt:   params.ExpiresAt,
		CreatedAt:   time.Now(),
	}

	query := `
		INSERT INTO assistantpg_runs (id, thread_id, assistant_id, status, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	if _, err := s.getQuerier(ctx).Exec(ctx, query,
		run.ID, run.ThreadID, run.AssistantID, run.Status, run.ExpiresAt, run.CreatedAt,
	); err != nil {
		return nil, fmt.Errorf("failed to create run: %w", err)
	}

	return run, nil
}

const runColumns = `id, thread_id, assistant_id, status, required_action, last_error,
	started_at, completed_at, cancelled_at, failed_at, expires_at, created_at`

func scanRun(row pgx.Row) (*types.Run, error) {
	var run types.Run
	var requiredActionJSON []byte

	err := row.Scan(
		&run.ID, &run.ThreadID, &run.AssistantID, &run.Status, &requiredActionJSON, &run.LastError,
		&run.StartedAt, &run.CompletedAt, &run.CancelledAt, &run.FailedAt, &run.ExpiresAt, &run.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(requiredActionJSON) > 0 {
		run.RequiredAction = &types.RequiredAction{}
		if err := json.Unmarshal(requiredActionJSON, run.RequiredAction); err != nil {
			return nil, fmt.Errorf("failed to unmarshal required_action: %w", err)
		}
	}

	return &run, nil
}

// GetRun retrieves a run by ID.
func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*types.Run, error) {
	query := `SELECT ` + runColumns + ` FROM assistantpg_runs WHERE id = $1`

	run, err := scanRun(s.getQuerier(ctx).QueryRow(ctx, query, runID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("run %q: %w", runID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

// GetRunStatus reads only the status and expiry columns.
func (s *PostgresStore) GetRunStatus(ctx context.Context, runID string) (*RunStatusInfo, error) {
	query := `SELECT status, expires_at FROM assistantpg_runs WHERE id = $1`

	var info RunStatusInfo
	err := s.getQuerier(ctx).QueryRow(ctx, query, runID).Scan(&info.Status, &info.ExpiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("run %q: %w", runID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get run status: %w", err)
	}
	return &info, nil
}

// beginOrJoin starts a transaction, or joins the one already carried by
// the context. commit is a no-op for a joined transaction; the caller
// that opened it owns the commit.
func (s *PostgresStore) beginOrJoin(ctx context.Context) (tx pgx.Tx, commit func(context.Context) error, rollback func(context.Context), err error) {
	if existing := TxFromContext(ctx); existing != nil {
		return existing, func(context.Context) error { return nil }, func(context.Context) {}, nil
	}
	opened, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return opened, opened.Commit, func(ctx context.Context) { _ = opened.Rollback(ctx) }, nil
}

// UpdateRunStatus moves the run to the given status under a row lock,
// validating the transition against the state machine.
func (s *PostgresStore) UpdateRunStatus(ctx context.Context, runID string, status runstate.Status, update RunUpdate) (*types.Run, error) {
	tx, commit, rollback, err := s.beginOrJoin(ctx)
	if err != nil {
		return nil, err
	}
	defer rollback(ctx)

	var current runstate.Status
	err = tx.QueryRow(ctx, `SELECT status FROM assistantpg_runs WHERE id = $1 FOR UPDATE`, runID).Scan(&current)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("run %q: %w", runID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to lock run: %w", err)
	}

	if err := validateRunTransition(current, status); err != nil {
		return nil, fmt.Errorf("run %q: %s -> %s: %w", runID, current, status, err)
	}

	set := "status = $2"
	args := []any{runID, status}
	addArg := func(column string, value any) {
		args = append(args, value)
		set += fmt.Sprintf(", %s = $%d", column, len(args))
	}

	if update.RequiredAction != nil {
		actionJSON, err := json.Marshal(update.RequiredAction)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal required_action: %w", err)
		}
		addArg("required_action", actionJSON)
	} else if update.ClearRequiredAction {
		addArg("required_action", nil)
	}
	if update.LastError != nil {
		addArg("last_error", *update.LastError)
	}
	if update.StartedAt != nil {
		addArg("started_at", *update.StartedAt)
	}
	if update.CompletedAt != nil {
		addArg("completed_at", *update.CompletedAt)
	}
	if update.CancelledAt != nil {
		addArg("cancelled_at", *update.CancelledAt)
	}
	if update.FailedAt != nil {
		addArg("failed_at", *update.FailedAt)
	}

	query := `UPDATE assistantpg_runs SET ` + set + ` WHERE id = $1 RETURNING ` + runColumns
	run, err := scanRun(tx.QueryRow(ctx, query, args...))
	if err != nil {
		return nil, fmt.Errorf("failed to update run: %w", err)
	}

	if err := commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit run update: %w", err)
	}

	return run, nil
}

// CreateRunStep persists a new run step.
func (s *PostgresStore) CreateRunStep(ctx context.Context, params CreateRunStepParams) (*types.RunStep, error) {
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

	detailsJSON, err := json.Marshal(step.StepDetails)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal step_details: %w", err)
	}

	query := `
		INSERT INTO assistantpg_run_steps (id, run_id, thread_id, assistant_id, type, status, step_details, completed_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING seq
	`
	if err := s.getQuerier(ctx).QueryRow(ctx, query,
		step.ID, step.RunID, step.ThreadID, step.AssistantID,
		string(step.Type), step.Status, detailsJSON, step.CompletedAt, step.CreatedAt,
	).Scan(&step.Sequence); err != nil {
		return nil, fmt.Errorf("failed to create run step: %w", err)
	}

	return step, nil
}

const stepColumns = `id, run_id, thread_id, assistant_id, type, status, step_details,
	completed_at, cancelled_at, failed_at, expired_at, created_at, seq`

func scanRunStep(row pgx.Row) (*types.RunStep, error) {
	var step types.RunStep
	var stepType string
	var detailsJSON []byte

	err := row.Scan(
		&step.ID, &step.RunID, &step.ThreadID, &step.AssistantID, &stepType, &step.Status, &detailsJSON,
		&step.CompletedAt, &step.CancelledAt, &step.FailedAt, &step.ExpiredAt, &step.CreatedAt, &step.Sequence,
	)
	if err != nil {
		return nil, err
	}

	step.Type = runstate.StepType(stepType)
	if err := json.Unmarshal(detailsJSON, &step.StepDetails); err != nil {
		return nil, fmt.Errorf("failed to unmarshal step_details: %w", err)
	}

	return &step, nil
}

// GetRunStep retrieves a run step by ID.
func (s *PostgresStore) GetRunStep(ctx context.Context, stepID string) (*types.RunStep, error) {
	query := `SELECT ` + stepColumns + ` FROM assistantpg_run_steps WHERE id = $1`

	step, err := scanRunStep(s.getQuerier(ctx).QueryRow(ctx, query, stepID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("run step %q: %w", stepID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get run step: %w", err)
	}
	return step, nil
}

func (s *PostgresStore) queryRunSteps(ctx context.Context, query string, args ...any) ([]*types.RunStep, error) {
	rows, err := s.getQuerier(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get run steps: %w", err)
	}
	defer rows.Close()

	var steps []*types.RunStep
	for rows.Next() {
		step, err := scanRunStep(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run step: %w", err)
		}
		steps = append(steps, step)
	}

	return steps, rows.Err()
}

// GetRunSteps returns the run's steps ordered by creation time.
func (s *PostgresStore) GetRunSteps(ctx context.Context, runID string) ([]*types.RunStep, error) {
	query := `SELECT ` + stepColumns + ` FROM assistantpg_run_steps WHERE run_id = $1 ORDER BY seq ASC`
	return s.queryRunSteps(ctx, query, runID)
}

// GetLatestToolCallsStep returns the most recent tool_calls step.
func (s *PostgresStore) GetLatestToolCallsStep(ctx context.Context, runID string) (*types.RunStep, error) {
	query := `
		SELECT ` + stepColumns + `
		FROM assistantpg_run_steps
		WHERE run_id = $1 AND type = 'tool_calls'
		ORDER BY seq DESC
		LIMIT 1
	`

	step, err := scanRunStep(s.getQuerier(ctx).QueryRow(ctx, query, runID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("tool_calls step for run %q: %w", runID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get latest tool_calls step: %w", err)
	}
	return step, nil
}

// GetCompletedToolCallsSteps returns the run's completed tool_calls
// steps ordered by creation time.
func (s *PostgresStore) GetCompletedToolCallsSteps(ctx context.Context, runID string) ([]*types.RunStep, error) {
	query := `
		SELECT ` + stepColumns + `
		FROM assistantpg_run_steps
		WHERE run_id = $1 AND type = 'tool_calls' AND status = 'completed'
		ORDER BY seq ASC
	`
	return s.queryRunSteps(ctx, query, runID)
}

// UpdateRunStepToolCalls applies a read-modify-write to the step's
// tool_calls payload while the row is locked.
func (s *PostgresStore) UpdateRunStepToolCalls(ctx context.Context, stepID string, update func(current []types.ToolCall) (ToolCallsUpdate, error)) (*types.RunStep, error) {
	tx, commit, rollback, err := s.beginOrJoin(ctx)
	if err != nil {
		return nil, err
	}
	defer rollback(ctx)

	query := `SELECT ` + stepColumns + ` FROM assistantpg_run_steps WHERE id = $1 FOR UPDATE`
	step, err := scanRunStep(tx.QueryRow(ctx, query, stepID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("run step %q: %w", stepID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to lock run step: %w", err)
	}

	if stepImmutable(step.Status) {
		return nil, fmt.Errorf("run step %q: %w", stepID, ErrStepImmutable)
	}

	result, err := update(step.StepDetails.ToolCalls)
	if err != nil {
		return nil, err
	}

	step.StepDetails.ToolCalls = result.ToolCalls
	if result.Status != nil && *result.Status != step.Status {
		step.Status = *result.Status
		applyStepTimestamp(step, *result.Status, time.Now())
	}

	detailsJSON, err := json.Marshal(step.StepDetails)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal step_details: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		UPDATE assistantpg_run_steps
		SET step_details = $2, status = $3, completed_at = $4, cancelled_at = $5, failed_at = $6, expired_at = $7
		WHERE id = $1
	`, step.ID, detailsJSON, step.Status, step.CompletedAt, step.CancelledAt, step.FailedAt, step.ExpiredAt); err != nil {
		return nil, fmt.Errorf("failed to update run step: %w", err)
	}

	if err := commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit run step update: %w", err)
	}

	return step, nil
}

// UpdateRunStepStatus finalizes a step's status.
func (s *PostgresStore) UpdateRunStepStatus(ctx context.Context, stepID string, status runstate.StepStatus) (*types.RunStep, error) {
	step, err := s.GetRunStep(ctx, stepID)
	if err != nil {
		return nil, err
	}

	step.Status = status
	applyStepTimestamp(step, status, time.Now())

	if _, err := s.getQuerier(ctx).Exec(ctx, `
		UPDATE assistantpg_run_steps
		SET status = $2, completed_at = $3, cancelled_at = $4, failed_at = $5, expired_at = $6
		WHERE id = $1
	`, step.ID, step.Status, step.CompletedAt, step.CancelledAt, step.FailedAt, step.ExpiredAt); err != nil {
		return nil, fmt.Errorf("failed to update run step status: %w", err)
	}

	return step, nil
}

var _ Store = (*PostgresStore)(nil)
