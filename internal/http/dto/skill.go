package dto

import (
	"time"

	"mailbrain.app/agent/internal/model"
)

// SkillSummary is the list-view shape; rule bodies stay out of it.
type SkillSummary struct {
	ID              int64     `json:"id"`
	Name            string    `json:"name"`
	NameEN          string    `json:"name_en"`
	Category        string    `json:"category"`
	Description     string    `json:"description,omitempty"`
	TriggerKeywords []string  `json:"trigger_keywords"`
	RuleCount       int       `json:"rule_count"`
	UsageCount      int       `json:"usage_count"`
	SuccessCount    int       `json:"success_count"`
	IsActive        bool      `json:"is_active"`
	Version         int64     `json:"version"`
	UpdatedAt       time.Time `json:"updated_at"`
}

func ToSkillSummary(s *model.Skill) SkillSummary {
	return SkillSummary{
		ID:              s.ID,
		Name:            s.Name,
		NameEN:          s.NameEN,
		Category:        s.Category,
		Description:     s.Description,
		TriggerKeywords: s.TriggerKeywords,
		RuleCount:       len(s.Rules),
		UsageCount:      s.UsageCount,
		SuccessCount:    s.SuccessCount,
		IsActive:        s.IsActive,
		Version:         s.Version,
		UpdatedAt:       s.UpdatedAt,
	}
}

func ToSkillSummaries(skills []model.Skill) []SkillSummary {
	out := make([]SkillSummary, len(skills))
	for i := range skills {
		out[i] = ToSkillSummary(&skills[i])
	}
	return out
}
