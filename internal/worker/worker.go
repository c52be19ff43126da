// Package worker consumes the job stream and runs learning, evolution and
// batch execution jobs against their durable Job rows.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"mailbrain.app/agent/common/logger"
	"mailbrain.app/agent/internal/agent"
	"mailbrain.app/agent/internal/model"
	"mailbrain.app/agent/internal/queue"
	"mailbrain.app/agent/internal/store"
)

type Config struct {
	MaxAttempts      int
	JobTimeout       time.Duration
	BatchConcurrency int
}

// Consumer is the slice of the queue consumer the worker needs.
type Consumer interface {
	Read(ctx context.Context) ([]queue.Message, error)
	Ack(ctx context.Context, msg queue.Message) error
	Requeue(ctx context.Context, msg queue.Message, errMsg string) error
	SendDLQ(ctx context.Context, msg queue.Message, errMsg string) error
}

// The job runners are interfaces so the dispatch logic is testable without
// the model client; the agent components satisfy them directly.
type LearnRunner interface {
	Run(ctx context.Context, params agent.LearnParams) (*agent.LearnSummary, error)
}

type EvolveRunner interface {
	Run(ctx context.Context, params agent.EvolveParams) (*agent.EvolveSummary, error)
}

type BatchRunner interface {
	ExecuteBatch(ctx context.Context, emails []model.Email, opts agent.ExecuteOptions, concurrency int) []agent.BatchItem
}

type Worker struct {
	consumer  Consumer
	jobs      store.JobStore
	learning  LearnRunner
	evolution EvolveRunner
	execution BatchRunner
	cfg       Config

	stopCh    chan struct{}
	stoppedCh chan struct{}
}

func New(consumer Consumer, jobs store.JobStore, learning LearnRunner, evolution EvolveRunner, execution BatchRunner, cfg Config) *Worker {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 5 * time.Minute
	}
	return &Worker{
		consumer:  consumer,
		jobs:      jobs,
		learning:  learning,
		evolution: evolution,
		execution: execution,
		cfg:       cfg,
		stopCh:    make(chan struct{}),
		stoppedCh: make(chan struct{}),
	}
}

func (w *Worker) Run(ctx context.Context) error {
	defer close(w.stoppedCh)

	slog.InfoContext(ctx, "worker started")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.stopCh:
			slog.InfoContext(ctx, "worker stopping")
			return nil
		default:
			if err := w.processOneBatch(ctx); err != nil {
				slog.ErrorContext(ctx, "batch processing error", "error", err)
				// Brief backoff on error
				time.Sleep(time.Second)
			}
		}
	}
}

func (w *Worker) Stop() {
	close(w.stopCh)
	<-w.stoppedCh
}

func (w *Worker) processOneBatch(ctx context.Context) error {
	messages, err := w.consumer.Read(ctx)
	if err != nil {
		return fmt.Errorf("reading from stream: %w", err)
	}

	for _, msg := range messages {
		if err := w.ProcessMessage(ctx, msg); err != nil {
			slog.ErrorContext(ctx, "message processing failed",
				"error", err,
				"message_id", msg.ID,
				"job_id", msg.JobID)
			w.handleFailedMessage(ctx, msg, err)
		}
	}

	return nil
}

// ProcessMessage claims the job row, runs it under the job timeout, and
// records the terminal status. A returned error means the message itself
// could not be handled and should be requeued; job-body failures are
// terminal on the job row and ack normally, matching the no-auto-retry
// contract for jobs.
func (w *Worker) ProcessMessage(ctx context.Context, msg queue.Message) error {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		JobID:     logger.Ptr(msg.JobID),
		JobKind:   logger.Ptr(string(msg.Kind)),
		Component: "worker",
	})

	slog.InfoContext(ctx, "processing job message",
		"message_id", msg.ID,
		"attempt", msg.Attempt)

	job, err := w.jobs.GetByID(ctx, msg.JobID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			slog.WarnContext(ctx, "job row missing, dropping message")
			return w.consumer.Ack(ctx, msg)
		}
		return fmt.Errorf("loading job %d: %w", msg.JobID, err)
	}

	if !job.CanTransition(model.JobStatusRunning) {
		// Redelivery of an already-claimed job. ACK and move on.
		slog.InfoContext(ctx, "job not claimable, skipping", "status", job.Status)
		return w.consumer.Ack(ctx, msg)
	}

	if err := w.jobs.MarkRunning(ctx, job.ID); err != nil {
		return fmt.Errorf("claiming job %d: %w", job.ID, err)
	}

	result, runErr := w.runSafe(ctx, job)
	if runErr != nil {
		reason := runErr.Error()
		if errors.Is(runErr, context.DeadlineExceeded) {
			reason = fmt.Sprintf("job timeout after %s", w.cfg.JobTimeout)
		}
		if ferr := w.jobs.MarkFailed(ctx, job.ID, reason); ferr != nil {
			slog.ErrorContext(ctx, "failing job failed", "error", ferr)
		}
		slog.WarnContext(ctx, "job failed", "reason", reason)
		return w.consumer.Ack(ctx, msg)
	}

	encoded, err := json.Marshal(result)
	if err != nil {
		encoded = nil
		slog.WarnContext(ctx, "encoding job result failed", "error", err)
	}
	if err := w.jobs.MarkCompleted(ctx, job.ID, encoded); err != nil {
		slog.ErrorContext(ctx, "completing job failed", "error", err)
	}

	slog.InfoContext(ctx, "job completed")
	return w.consumer.Ack(ctx, msg)
}

func (w *Worker) runSafe(ctx context.Context, job *model.Job) (result any, err error) {
	runCtx, cancel := context.WithTimeout(ctx, w.cfg.JobTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "panic recovered in job", "panic", r)
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	switch job.Kind {
	case model.JobKindLearn:
		var params agent.LearnParams
		if err := decodePayload(job.Payload, &params); err != nil {
			return nil, err
		}
		return w.learning.Run(runCtx, params)

	case model.JobKindEvolve:
		var params agent.EvolveParams
		if err := decodePayload(job.Payload, &params); err != nil {
			return nil, err
		}
		return w.evolution.Run(runCtx, params)

	case model.JobKindBatchExecute:
		var params agent.BatchParams
		if err := decodePayload(job.Payload, &params); err != nil {
			return nil, err
		}
		concurrency := params.Concurrency
		if concurrency <= 0 {
			concurrency = w.cfg.BatchConcurrency
		}
		items := w.execution.ExecuteBatch(runCtx, params.Emails, params.Options, concurrency)
		if runCtx.Err() != nil {
			return nil, runCtx.Err()
		}
		return map[string]any{"results": items}, nil

	default:
		return nil, fmt.Errorf("unknown job kind %q", job.Kind)
	}
}

func decodePayload(raw json.RawMessage, into any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, into); err != nil {
		return fmt.Errorf("decoding job payload: %w", err)
	}
	return nil
}

func (w *Worker) handleFailedMessage(ctx context.Context, msg queue.Message, err error) {
	if msg.Attempt >= w.cfg.MaxAttempts {
		slog.ErrorContext(ctx, "max attempts reached, sending to DLQ",
			"message_id", msg.ID,
			"job_id", msg.JobID,
			"attempts", msg.Attempt)
		if dlqErr := w.consumer.SendDLQ(ctx, msg, err.Error()); dlqErr != nil {
			slog.ErrorContext(ctx, "failed to send to DLQ", "error", dlqErr)
		}
		return
	}

	slog.WarnContext(ctx, "requeuing failed message",
		"message_id", msg.ID,
		"job_id", msg.JobID,
		"attempt", msg.Attempt)
	if requeueErr := w.consumer.Requeue(ctx, msg, err.Error()); requeueErr != nil {
		slog.ErrorContext(ctx, "failed to requeue message", "error", requeueErr)
	}
}
