package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"mailbrain.app/agent/internal/model"
)

type jobStore struct {
	q Querier
}

func newJobStore(q Querier) JobStore {
	return &jobStore{q: q}
}

const jobColumns = `id, kind, status, payload, result, error, created_at, started_at, completed_at`

func (s *jobStore) GetByID(ctx context.Context, id int64) (*model.Job, error) {
	row := s.q.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)
	return scanJob(row)
}

func (s *jobStore) Create(ctx context.Context, job *model.Job) error {
	job.Status = model.JobStatusQueued
	job.CreatedAt = time.Now().UTC()

	_, err := s.q.Exec(ctx, `
		INSERT INTO jobs (id, kind, status, payload, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		job.ID, job.Kind, job.Status, job.Payload, job.CreatedAt)
	if err != nil {
		return fmt.Errorf("creating job: %w", err)
	}
	return nil
}

// Status guards in the WHERE clauses keep transitions monotonic even if two
// workers race on the same job id.

func (s *jobStore) MarkRunning(ctx context.Context, id int64) error {
	tag, err := s.q.Exec(ctx, `
		UPDATE jobs SET status = $1, started_at = $2 WHERE id = $3 AND status = $4`,
		model.JobStatusRunning, time.Now().UTC(), id, model.JobStatusQueued)
	if err != nil {
		return fmt.Errorf("marking job running: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *jobStore) MarkCompleted(ctx context.Context, id int64, result json.RawMessage) error {
	tag, err := s.q.Exec(ctx, `
		UPDATE jobs SET status = $1, result = $2, completed_at = $3
		WHERE id = $4 AND status = $5`,
		model.JobStatusCompleted, result, time.Now().UTC(), id, model.JobStatusRunning)
	if err != nil {
		return fmt.Errorf("marking job completed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *jobStore) MarkFailed(ctx context.Context, id int64, reason string) error {
	tag, err := s.q.Exec(ctx, `
		UPDATE jobs SET status = $1, error = $2, completed_at = $3
		WHERE id = $4 AND status IN ($5, $6)`,
		model.JobStatusFailed, reason, time.Now().UTC(), id,
		model.JobStatusQueued, model.JobStatusRunning)
	if err != nil {
		return fmt.Errorf("marking job failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanJob(row pgx.Row) (*model.Job, error) {
	var job model.Job
	err := row.Scan(&job.ID, &job.Kind, &job.Status, &job.Payload,
		&job.Result, &job.Error, &job.CreatedAt, &job.StartedAt, &job.CompletedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &job, nil
}
