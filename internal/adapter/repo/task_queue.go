package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"reelforge/internal/domain"
)

// TaskQueuePG implements a durable, at-least-once task queue on PostgreSQL.
// Claiming uses FOR UPDATE SKIP LOCKED so concurrent workers never hand the
// same task to two invocations at once; a crashed worker's task becomes
// claimable again once its visibility window lapses.
type TaskQueuePG struct {
	pool *pgxpool.Pool

	// visibility bounds how long a claimed task stays invisible before it is
	// considered abandoned and redelivered.
	visibility time.Duration
}

// NewTaskQueue creates a queue backed by PostgreSQL.
func NewTaskQueue(pool *pgxpool.Pool) *TaskQueuePG {
	return &TaskQueuePG{pool: pool, visibility: 10 * time.Minute}
}

// Enqueue inserts a task scheduled to run no earlier than task.NotBefore.
func (q *TaskQueuePG) Enqueue(ctx context.Context, task domain.Task) error {
	query := `
INSERT INTO tasks (id, job_id, task_type, attempt, not_before, payload, status)
VALUES ($1, $2, $3, $4, $5, COALESCE($6, '{}'::jsonb), 'queued');
`
	_, err := q.pool.Exec(ctx, query,
		task.ID,
		task.JobID,
		task.Type,
		task.Attempt,
		task.NotBefore,
		nullableBytes(task.Payload),
	)
	if err != nil {
		return fmt.Errorf("enqueue %s task: %w", task.Type, err)
	}
	return nil
}

// Claim returns the oldest due task and marks it running. It returns
// domain.ErrNoTaskAvailable when nothing is due.
func (q *TaskQueuePG) Claim(ctx context.Context) (*domain.Task, error) {
	query := `
WITH next_task AS (
    SELECT id
    FROM tasks
    WHERE (status = 'queued' AND not_before <= NOW())
       OR (status = 'running' AND updated_at < NOW() - $1::interval)
    ORDER BY not_before ASC, created_at ASC
    FOR UPDATE SKIP LOCKED
    LIMIT 1
),
claimed AS (
    UPDATE tasks
    SET status = 'running', updated_at = NOW()
    WHERE id IN (SELECT id FROM next_task)
    RETURNING id, job_id, task_type, attempt, not_before, payload, created_at
)
SELECT * FROM claimed;
`
	row := q.pool.QueryRow(ctx, query, q.visibility)
	var task domain.Task
	if err := row.Scan(
		&task.ID,
		&task.JobID,
		&task.Type,
		&task.Attempt,
		&task.NotBefore,
		&task.Payload,
		&task.CreatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNoTaskAvailable
		}
		return nil, fmt.Errorf("claim task: %w", err)
	}
	// Detach payload bytes from the driver's buffer.
	task.Payload = append(task.Payload[:0:0], task.Payload...)
	return &task, nil
}

// Complete removes a finished task from the queue.
func (q *TaskQueuePG) Complete(ctx context.Context, taskID string) error {
	_, err := q.pool.Exec(ctx, `DELETE FROM tasks WHERE id = $1;`, taskID)
	if err != nil {
		return fmt.Errorf("complete task: %w", err)
	}
	return nil
}

// Release returns a claimed task to the queue with an incremented attempt
// counter, due again after delay. Used when a worker hits an infrastructure
// error it could not convert into a job-level outcome.
func (q *TaskQueuePG) Release(ctx context.Context, taskID string, delay time.Duration) error {
	query := `
UPDATE tasks
SET status = 'queued', attempt = attempt + 1, not_before = NOW() + $2::interval, updated_at = NOW()
WHERE id = $1;
`
	_, err := q.pool.Exec(ctx, query, taskID, delay)
	if err != nil {
		return fmt.Errorf("release task: %w", err)
	}
	return nil
}
