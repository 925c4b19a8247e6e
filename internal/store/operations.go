package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/oleg79/tasks-queue-go/internal/task"
)

// Insert persists a new pending task and returns the row Postgres assigned.
func (s *PostgresStore) Insert(ctx context.Context, topic string, payload task.Payload) (task.Task, error) {
	start := time.Now()
	defer observe("insert", start)

	body, err := json.Marshal(payload)
	if err != nil {
		return task.Task{}, fmt.Errorf("marshal payload: %w", err)
	}

	row := s.pool.QueryRow(ctx, `
		INSERT INTO tasks (topic, payload)
		VALUES ($1, $2)
		RETURNING id, topic, payload, status, created_at, updated_at
	`, topic, body)

	t, err := scanTask(row)
	if err != nil {
		return task.Task{}, fmt.Errorf("%w: insert task: %s", ErrTransientIO, err)
	}

	s.log.Debug().Str("task_id", t.ID.String()).Str("topic", t.Topic).Msg("task inserted")
	return t, nil
}

// leaseBatchQuery claims up to $1 pending rows, skipping any row another
// session already holds the advisory lock on, and flips them to
// processing in the same statement. pg_try_advisory_lock is session-scoped
// and intentionally never released here: the lock is held for the
// lifetime of the connection that claimed it, which is sufficient to keep
// two consumer processes from double-claiming the same row — it is not
// meant to be unlocked on completion.
const leaseBatchQuery = `
	WITH pooled AS (
		UPDATE tasks t
		SET status = 'processing',
		    updated_at = now()
		WHERE id IN (
			SELECT id
			FROM tasks
			WHERE status = 'pending' AND pg_try_advisory_lock(hashtext(id::text))
			ORDER BY id
			LIMIT $1
		)
		RETURNING t.id, t.topic, t.payload, t.status, t.created_at, t.updated_at
	)
	SELECT * FROM pooled
`

// LeaseBatch atomically claims up to limit pending tasks. It never blocks:
// rows locked by a concurrent caller are excluded from the candidate set,
// not waited on, so a slow consumer never stalls the others.
func (s *PostgresStore) LeaseBatch(ctx context.Context, limit int) ([]task.Task, error) {
	start := time.Now()
	defer observe("lease_batch", start)

	rows, err := s.pool.Query(ctx, leaseBatchQuery, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: lease batch: %s", ErrTransientIO, err)
	}
	defer rows.Close()

	tasks, err := scanTasks(rows)
	if err != nil {
		return nil, fmt.Errorf("lease batch scan: %w", err)
	}

	return tasks, nil
}

// Mark transitions every task in ids to status in one round trip. Passing
// an empty ids is a no-op, not an error — callers routinely compute an
// empty completed or failed set.
func (s *PostgresStore) Mark(ctx context.Context, ids []uuid.UUID, status task.Status) error {
	if len(ids) == 0 {
		return nil
	}

	start := time.Now()
	defer observe("mark", start)

	_, err := s.pool.Exec(ctx, `
		UPDATE tasks
		SET status = $1, updated_at = now()
		WHERE id = ANY($2)
	`, status.String(), ids)
	if err != nil {
		return fmt.Errorf("%w: mark %d tasks as %s: %s", ErrTransientIO, len(ids), status, err)
	}

	return nil
}

// FailedIDs returns the IDs of every task currently in the failed state.
func (s *PostgresStore) FailedIDs(ctx context.Context) ([]uuid.UUID, error) {
	start := time.Now()
	defer observe("failed_ids", start)

	rows, err := s.pool.Query(ctx, `SELECT id FROM tasks WHERE status = $1`, task.StatusFailed.String())
	if err != nil {
		return nil, fmt.Errorf("%w: query failed ids: %s", ErrTransientIO, err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan failed id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: failed ids: %s", ErrTransientIO, err)
	}

	return ids, nil
}

// CountWithStatus returns how many tasks currently sit in status.
func (s *PostgresStore) CountWithStatus(ctx context.Context, status task.Status) (int64, error) {
	start := time.Now()
	defer observe("count_with_status", start)

	var count int64
	err := s.pool.QueryRow(ctx, `SELECT count(*) FROM tasks WHERE status = $1`, status.String()).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("%w: count tasks with status %s: %s", ErrTransientIO, status, err)
	}

	return count, nil
}

// rowScanner is satisfied by both pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (task.Task, error) {
	var (
		t         task.Task
		statusStr string
		body      []byte
	)

	if err := row.Scan(&t.ID, &t.Topic, &body, &statusStr, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return task.Task{}, err
	}

	status, err := task.ParseStatus(statusStr)
	if err != nil {
		return task.Task{}, err
	}
	t.Status = status

	if err := json.Unmarshal(body, &t.Payload); err != nil {
		return task.Task{}, fmt.Errorf("unmarshal payload: %w", err)
	}

	return t, nil
}

func scanTasks(rows pgx.Rows) ([]task.Task, error) {
	var tasks []task.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}
