package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"mailbrain.app/agent/internal/model"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrVersionConflict is returned by versioned skill updates when the stored
// version no longer matches the version the writer read.
var ErrVersionConflict = errors.New("skill version conflict")

// ErrNoChange is returned by a mutation fn to abort the cycle without
// committing; the skill is left untouched at its current version.
var ErrNoChange = errors.New("no change")

// SkillStore defines the contract for skill data access. It is the only
// shared mutable resource in the pipeline; every mutation goes through
// UpdateVersioned so concurrent learning and evolution serialize per skill.
type SkillStore interface {
	GetByID(ctx context.Context, id int64) (*model.Skill, error)
	GetByNameEN(ctx context.Context, nameEN string) (*model.Skill, error)
	List(ctx context.Context, activeOnly bool) ([]model.Skill, error)
	Create(ctx context.Context, skill *model.Skill) error
	// UpdateVersioned commits the skill only if the stored version equals
	// expectedVersion, bumping the version by one. ErrVersionConflict
	// otherwise; the caller re-reads and retries.
	UpdateVersioned(ctx context.Context, skill *model.Skill, expectedVersion int64) error
	Categories(ctx context.Context) ([]string, error)
	Stats(ctx context.Context) (*SkillLibraryStats, error)
}

// EmailStore defines the contract for email data access.
type EmailStore interface {
	GetByID(ctx context.Context, id int64) (*model.Email, error)
	Create(ctx context.Context, email *model.Email) error
	// ListCustomerService returns the most recent customer-service emails,
	// newest first, capped at limit.
	ListCustomerService(ctx context.Context, limit int) ([]model.Email, error)
	SetClassification(ctx context.Context, id int64, isCustomerService bool, category *string) error
	MarkProcessed(ctx context.Context, id int64) error
}

// ReplyStore defines the contract for reply data access.
type ReplyStore interface {
	GetByID(ctx context.Context, id int64) (*model.Reply, error)
	Create(ctx context.Context, reply *model.Reply) error
	// SetHumanEdit records the edited draft on a pending reply.
	SetHumanEdit(ctx context.Context, id int64, edited string) error
	// MarkSent finalizes the reply. Sent replies are immutable.
	MarkSent(ctx context.Context, id int64, sentAt time.Time) error
	Stats(ctx context.Context) (*ReplyStats, error)
}

// JobStore defines the contract for background job rows. Status transitions
// are enforced monotonic at this layer.
type JobStore interface {
	GetByID(ctx context.Context, id int64) (*model.Job, error)
	Create(ctx context.Context, job *model.Job) error
	MarkRunning(ctx context.Context, id int64) error
	MarkCompleted(ctx context.Context, id int64, result json.RawMessage) error
	MarkFailed(ctx context.Context, id int64, reason string) error
}

// ProvenanceStore records which emails a skill was learned or refined from.
// Append-only; Record is an upsert keyed by (skill, email, contribution type)
// so re-running learning never duplicates edges.
type ProvenanceStore interface {
	Record(ctx context.Context, edge *model.SkillSourceEmail) (created bool, err error)
	ListBySkill(ctx context.Context, skillID int64) ([]model.SkillSourceEmail, error)
}

// ChangeLogStore is the append-only skill audit log.
type ChangeLogStore interface {
	Append(ctx context.Context, entry *model.SkillChangeLog) error
	ListBySkill(ctx context.Context, skillID int64) ([]model.SkillChangeLog, error)
}

// SkillLibraryStats summarizes the library for the status endpoint.
type SkillLibraryStats struct {
	TotalSkills  int        `json:"total_skills"`
	ActiveSkills int        `json:"active_skills"`
	TotalRules   int        `json:"total_rules"`
	Categories   int        `json:"categories"`
	LastUpdated  *time.Time `json:"last_updated,omitempty"`
}

// ReplyStats summarizes execution outcomes for the status endpoint.
type ReplyStats struct {
	TotalReplies   int     `json:"total_replies"`
	WithSkillMatch int     `json:"with_skill_match"`
	HighCount      int     `json:"high_count"`
	MediumCount    int     `json:"medium_count"`
	LowCount       int     `json:"low_count"`
	SkillCoverage  float64 `json:"skill_coverage"`
	AvgConfidence  float64 `json:"avg_confidence"`
	EscalationRate float64 `json:"escalation_rate"`
}
