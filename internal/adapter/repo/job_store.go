package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"reelforge/internal/domain"
)

// JobStorePG implements domain.JobStore on PostgreSQL. Transition holds a row
// lock for the duration of the mutation so duplicate or late task deliveries
// serialize against each other instead of overwriting progress.
type JobStorePG struct {
	pool *pgxpool.Pool
}

// NewJobStore creates a new job store backed by PostgreSQL.
func NewJobStore(pool *pgxpool.Pool) *JobStorePG {
	return &JobStorePG{pool: pool}
}

const jobColumns = `id, owner_id, kind, stage, params, artifacts, failure_reason,
provider_job_handle, polling_started_at, poll_attempt,
image_credit_debited, video_credit_debited, diagnostics, created_at, updated_at`

// Create inserts a new job record.
func (s *JobStorePG) Create(ctx context.Context, job *domain.Job) error {
	params, err := json.Marshal(job.Params)
	if err != nil {
		return fmt.Errorf("encode params: %w", err)
	}
	artifacts, err := json.Marshal(job.Artifacts)
	if err != nil {
		return fmt.Errorf("encode artifacts: %w", err)
	}
	query := `
INSERT INTO jobs (id, owner_id, kind, stage, params, artifacts, provider_job_handle,
                  poll_attempt, image_credit_debited, video_credit_debited, diagnostics)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, '{}'::jsonb);
`
	_, err = s.pool.Exec(ctx, query,
		job.ID,
		job.OwnerID,
		job.Kind,
		job.Stage,
		params,
		artifacts,
		job.ProviderJobHandle,
		job.PollAttempt,
		job.ImageCreditDebited,
		job.VideoCreditDebited,
	)
	return err
}

// Get fetches a job by its identifier.
func (s *JobStorePG) Get(ctx context.Context, id string) (*domain.Job, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1;`, id)
	return scanJob(row)
}

// Transition loads the job under a row lock, applies fn and persists the
// result in the same transaction. This is the only mutation path workers use.
func (s *JobStorePG) Transition(ctx context.Context, id string, fn func(*domain.Job) error) (*domain.Job, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transition: %w", err)
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1 FOR UPDATE;`, id)
	job, err := scanJob(row)
	if err != nil {
		return nil, err
	}

	if err := fn(job); err != nil {
		return nil, err
	}

	params, err := json.Marshal(job.Params)
	if err != nil {
		return nil, fmt.Errorf("encode params: %w", err)
	}
	artifacts, err := json.Marshal(job.Artifacts)
	if err != nil {
		return nil, fmt.Errorf("encode artifacts: %w", err)
	}
	var failure []byte
	if job.FailureReason != nil {
		if failure, err = json.Marshal(job.FailureReason); err != nil {
			return nil, fmt.Errorf("encode failure reason: %w", err)
		}
	}
	diagnostics, err := json.Marshal(job.Diagnostics)
	if err != nil {
		return nil, fmt.Errorf("encode diagnostics: %w", err)
	}

	query := `
UPDATE jobs
SET stage = $2,
    params = $3,
    artifacts = $4,
    failure_reason = $5,
    provider_job_handle = $6,
    polling_started_at = $7,
    poll_attempt = $8,
    image_credit_debited = $9,
    video_credit_debited = $10,
    diagnostics = COALESCE($11, '{}'::jsonb),
    updated_at = NOW()
WHERE id = $1;
`
	if _, err := tx.Exec(ctx, query,
		job.ID,
		job.Stage,
		params,
		artifacts,
		nullableBytes(failure),
		job.ProviderJobHandle,
		job.PollingStartedAt,
		job.PollAttempt,
		job.ImageCreditDebited,
		job.VideoCreditDebited,
		nullableBytes(diagnostics),
	); err != nil {
		return nil, fmt.Errorf("persist transition: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit transition: %w", err)
	}
	return job, nil
}

func scanJob(row pgx.Row) (*domain.Job, error) {
	var (
		job         domain.Job
		params      []byte
		artifacts   []byte
		failure     []byte
		diagnostics []byte
	)
	if err := row.Scan(
		&job.ID,
		&job.OwnerID,
		&job.Kind,
		&job.Stage,
		&params,
		&artifacts,
		&failure,
		&job.ProviderJobHandle,
		&job.PollingStartedAt,
		&job.PollAttempt,
		&job.ImageCreditDebited,
		&job.VideoCreditDebited,
		&diagnostics,
		&job.CreatedAt,
		&job.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}

	if err := json.Unmarshal(params, &job.Params); err != nil {
		return nil, fmt.Errorf("decode params: %w", err)
	}
	job.Artifacts = domain.Artifacts{}
	if len(artifacts) > 0 {
		if err := json.Unmarshal(artifacts, &job.Artifacts); err != nil {
			return nil, fmt.Errorf("decode artifacts: %w", err)
		}
	}
	if len(failure) > 0 {
		job.FailureReason = &domain.FailureReason{}
		if err := json.Unmarshal(failure, job.FailureReason); err != nil {
			return nil, fmt.Errorf("decode failure reason: %w", err)
		}
	}
	if len(diagnostics) > 0 {
		if err := json.Unmarshal(diagnostics, &job.Diagnostics); err != nil {
			return nil, fmt.Errorf("decode diagnostics: %w", err)
		}
	}
	return &job, nil
}

func nullableBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	return b
}
