package model

import (
	"encoding/json"
	"time"
)

type JobKind string

const (
	JobKindLearn        JobKind = "learn"
	JobKindEvolve       JobKind = "evolve"
	JobKindBatchExecute JobKind = "batch_execute"
)

type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// Job is an asynchronous unit of work with polled status. Transitions are
// monotonic: queued → running → {completed | failed}; a status never
// regresses. There is no cancellation; the state machine leaves room for a
// future terminal state.
type Job struct {
	ID          int64           `json:"id"`
	Kind        JobKind         `json:"kind"`
	Status      JobStatus       `json:"status"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Result      json.RawMessage `json:"result,omitempty"`
	Error       *string         `json:"error,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}

// CanTransition reports whether moving to next respects monotonicity.
func (j *Job) CanTransition(next JobStatus) bool {
	switch j.Status {
	case JobStatusQueued:
		return next == JobStatusRunning || next == JobStatusFailed
	case JobStatusRunning:
		return next == JobStatusCompleted || next == JobStatusFailed
	default:
		return false
	}
}
