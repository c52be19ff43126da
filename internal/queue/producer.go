// Package queue carries background job dispatches between the API server and
// the worker over a redis stream. The durable job record lives in postgres;
// the stream only tells the worker that a job exists.
package queue

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"mailbrain.app/agent/internal/model"
)

// JobMessage is the stream payload: enough to locate the job row, nothing
// more.
type JobMessage struct {
	JobID   int64
	Kind    model.JobKind
	Attempt int
	TraceID string
}

type Producer interface {
	Enqueue(ctx context.Context, msg JobMessage) error
	Close() error
}

type redisProducer struct {
	client *redis.Client
	stream string
}

func NewRedisProducer(client *redis.Client, stream string) Producer {
	return &redisProducer{client: client, stream: stream}
}

func (p *redisProducer) Enqueue(ctx context.Context, msg JobMessage) error {
	attempt := msg.Attempt
	if attempt <= 0 {
		attempt = 1
	}

	fields := map[string]any{
		"job_id":  msg.JobID,
		"kind":    string(msg.Kind),
		"attempt": attempt,
	}
	if msg.TraceID != "" {
		fields["trace_id"] = msg.TraceID
	}

	if err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		Values: fields,
	}).Err(); err != nil {
		return fmt.Errorf("enqueue job: %w", err)
	}

	slog.InfoContext(ctx, "job enqueued",
		"job_id", msg.JobID,
		"kind", msg.Kind,
		"attempt", attempt)
	return nil
}

func (p *redisProducer) Close() error {
	return p.client.Close()
}
