package model

import "time"

type ContributionType string

const (
	ContributionInitialLearning ContributionType = "initial_learning"
	ContributionEvolution       ContributionType = "evolution"
)

// SkillSourceEmail is the append-only provenance edge linking a Skill to an
// email that produced or refined it. One edge per (skill, email,
// contribution type).
type SkillSourceEmail struct {
	ID               int64            `json:"id"`
	SkillID          int64            `json:"skill_id"`
	EmailID          int64            `json:"email_id"`
	ContributionType ContributionType `json:"contribution_type"`
	Detail           string           `json:"detail,omitempty"`
	CreatedAt        time.Time        `json:"created_at"`
}

type ChangeType string

const (
	ChangeKeywordAddition    ChangeType = "keyword_addition"
	ChangeRuleRefinement     ChangeType = "rule_refinement"
	ChangeTemplateAdjustment ChangeType = "template_adjustment"
	ChangeRuleAdded          ChangeType = "rule_added"
)

// SkillChangeLog is an append-only audit entry for a skill mutation.
// Entries are never updated or deleted.
type SkillChangeLog struct {
	ID          int64      `json:"id"`
	SkillID     int64      `json:"skill_id"`
	ChangeType  ChangeType `json:"change_type"`
	Description string     `json:"description"`
	RuleID      *int64     `json:"rule_id,omitempty"`
	ReplyID     *int64     `json:"reply_id,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}
