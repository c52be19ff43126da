package model

import "time"

type ReplyStatus string

const (
	ReplyStatusPendingReview ReplyStatus = "pending_review"
	ReplyStatusSent          ReplyStatus = "sent"
)

type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// Reply is created by execution with an AI draft, optionally edited by a
// human, and immutable once sent.
type Reply struct {
	ID              int64       `json:"id"`
	EmailID         int64       `json:"email_id"`
	AIDraft         string      `json:"ai_draft"`
	HumanEdited     *string     `json:"human_edited,omitempty"`
	MatchedSkillIDs []int64     `json:"matched_skill_ids"`
	MatchedRuleIDs  []int64     `json:"matched_rule_ids"`
	Confidence      Confidence  `json:"confidence"`
	Status          ReplyStatus `json:"status"`
	CreatedAt       time.Time   `json:"created_at"`
	SentAt          *time.Time  `json:"sent_at,omitempty"`
}
