// Package scheduler owns the job lifecycle: durable Job rows in postgres,
// dispatch over the redis stream, polled status. Job status transitions are
// monotonic; a job is never left running past its timeout.
package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"

	"mailbrain.app/agent/common/id"
	"mailbrain.app/agent/common/logger"
	"mailbrain.app/agent/internal/model"
	"mailbrain.app/agent/internal/queue"
	"mailbrain.app/agent/internal/store"
)

type Scheduler struct {
	jobs       store.JobStore
	producer   queue.Producer
	jobTimeout time.Duration
}

func New(jobs store.JobStore, producer queue.Producer, jobTimeout time.Duration) *Scheduler {
	if jobTimeout <= 0 {
		jobTimeout = 5 * time.Minute
	}
	return &Scheduler{jobs: jobs, producer: producer, jobTimeout: jobTimeout}
}

// Enqueue persists a queued Job row and dispatches it to the worker,
// returning immediately. The caller polls Status with the returned id.
func (s *Scheduler) Enqueue(ctx context.Context, kind model.JobKind, payload any) (*model.Job, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding job payload: %w", err)
	}

	job := &model.Job{
		ID:        id.New(),
		Kind:      kind,
		Status:    model.JobStatusQueued,
		Payload:   raw,
		CreatedAt: time.Now(),
	}
	if err := s.jobs.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("creating job row: %w", err)
	}

	msg := queue.JobMessage{JobID: job.ID, Kind: kind}
	if span := trace.SpanContextFromContext(ctx); span.HasTraceID() {
		msg.TraceID = span.TraceID().String()
	}

	if err := s.producer.Enqueue(ctx, msg); err != nil {
		// The row exists but the worker will never see it; fail it so the
		// caller is not left polling a stuck queued job.
		reason := "dispatch failed: " + err.Error()
		if ferr := s.jobs.MarkFailed(ctx, job.ID, reason); ferr != nil {
			slog.ErrorContext(ctx, "failing undispatched job failed",
				"job_id", job.ID,
				"error", ferr)
		}
		return nil, fmt.Errorf("dispatching job %d: %w", job.ID, err)
	}

	slog.InfoContext(ctx, "job scheduled", "job_id", job.ID, "kind", kind)
	return job, nil
}

// Status is a pure read of the job row.
func (s *Scheduler) Status(ctx context.Context, jobID int64) (*model.Job, error) {
	return s.jobs.GetByID(ctx, jobID)
}

// RunRecorded executes fn synchronously while recording it as a Job, so
// synchronous operations (evolve, batch execute) show up in job history and
// remain queryable by id. The job timeout applies the same as on the worker.
func (s *Scheduler) RunRecorded(ctx context.Context, kind model.JobKind, payload any, fn func(ctx context.Context) (any, error)) (*model.Job, any, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, nil, fmt.Errorf("encoding job payload: %w", err)
	}

	job := &model.Job{
		ID:        id.New(),
		Kind:      kind,
		Status:    model.JobStatusQueued,
		Payload:   raw,
		CreatedAt: time.Now(),
	}
	if err := s.jobs.Create(ctx, job); err != nil {
		return nil, nil, fmt.Errorf("creating job row: %w", err)
	}

	ctx = logger.WithLogFields(ctx, logger.LogFields{
		JobID:   logger.Ptr(job.ID),
		JobKind: logger.Ptr(string(kind)),
	})

	if err := s.jobs.MarkRunning(ctx, job.ID); err != nil {
		return nil, nil, fmt.Errorf("starting job %d: %w", job.ID, err)
	}

	runCtx, cancel := context.WithTimeout(ctx, s.jobTimeout)
	defer cancel()

	result, runErr := fn(runCtx)
	if runErr != nil {
		reason := runErr.Error()
		if runCtx.Err() == context.DeadlineExceeded {
			reason = fmt.Sprintf("job timeout after %s: %s", s.jobTimeout, reason)
		}
		if ferr := s.jobs.MarkFailed(ctx, job.ID, reason); ferr != nil {
			slog.ErrorContext(ctx, "failing job failed", "error", ferr)
		}
		job.Status = model.JobStatusFailed
		job.Error = &reason
		return job, nil, runErr
	}

	encoded, err := json.Marshal(result)
	if err != nil {
		encoded = nil
		slog.WarnContext(ctx, "encoding job result failed", "error", err)
	}
	if cerr := s.jobs.MarkCompleted(ctx, job.ID, encoded); cerr != nil {
		slog.ErrorContext(ctx, "completing job failed", "error", cerr)
	}
	job.Status = model.JobStatusCompleted
	job.Result = encoded

	return job, result, nil
}
