// Package match scores skill rules against an email. The engine is a pure
// function of its inputs: no store access, no model calls, deterministic
// output for identical input. Everything the pipeline later reports about a
// decision (which rule, what score, which keywords) originates here.
package match

import (
	"sort"
	"strings"

	"mailbrain.app/agent/internal/model"
)

// RuleMatch is one scored rule. Score is the fraction of the rule's trigger
// keywords found in the email, always in [0,1].
type RuleMatch struct {
	SkillID         int64    `json:"skill_id"`
	SkillName       string   `json:"skill_name"`
	SkillNameEN     string   `json:"skill_name_en"`
	Category        string   `json:"category"`
	RuleID          int64    `json:"rule_id"`
	RuleName        string   `json:"rule_name"`
	Score           float64  `json:"score"`
	Priority        int      `json:"priority"`
	MatchedKeywords []string `json:"matched_keywords"`
}

// Match ranks every rule of every candidate skill against the email.
//
// Candidate skills are the active ones whose category equals the classified
// category; when the category is unknown, any active skill whose trigger
// keywords intersect the email text is a candidate. Results are ordered by
// (score desc, priority desc, rule creation order); rule IDs are
// time-ordered, so ascending ID is creation order and the sort is stable.
func Match(email *model.Email, category *string, skills []model.Skill) []RuleMatch {
	lowerText := strings.ToLower(email.Content())
	tokens := tokenSet(Tokenize(email.Content()))

	var matches []RuleMatch
	for i := range skills {
		skill := &skills[i]
		if !skill.IsActive {
			continue
		}
		if !isCandidate(skill, category, tokens, lowerText) {
			continue
		}

		for j := range skill.Rules {
			rule := &skill.Rules[j]
			if len(rule.TriggerKeywords) == 0 {
				continue
			}

			var matched []string
			for _, kw := range rule.TriggerKeywords {
				if keywordMatches(tokens, lowerText, kw) {
					matched = append(matched, kw)
				}
			}
			if len(matched) == 0 {
				continue
			}

			matches = append(matches, RuleMatch{
				SkillID:         skill.ID,
				SkillName:       skill.Name,
				SkillNameEN:     skill.NameEN,
				Category:        skill.Category,
				RuleID:          rule.ID,
				RuleName:        rule.Name,
				Score:           float64(len(matched)) / float64(len(rule.TriggerKeywords)),
				Priority:        rule.Priority,
				MatchedKeywords: matched,
			})
		}
	}

	sort.SliceStable(matches, func(a, b int) bool {
		if matches[a].Score != matches[b].Score {
			return matches[a].Score > matches[b].Score
		}
		if matches[a].Priority != matches[b].Priority {
			return matches[a].Priority > matches[b].Priority
		}
		return matches[a].RuleID < matches[b].RuleID
	})

	return matches
}

func isCandidate(skill *model.Skill, category *string, tokens map[string]struct{}, lowerText string) bool {
	if category != nil && *category != "" {
		return skill.Category == *category
	}
	for _, kw := range skill.TriggerKeywords {
		if keywordMatches(tokens, lowerText, kw) {
			return true
		}
	}
	return false
}

// SkillIDs returns the distinct skill IDs of the matches, best first.
func SkillIDs(matches []RuleMatch) []int64 {
	seen := make(map[int64]struct{}, len(matches))
	ids := make([]int64, 0, len(matches))
	for _, m := range matches {
		if _, ok := seen[m.SkillID]; ok {
			continue
		}
		seen[m.SkillID] = struct{}{}
		ids = append(ids, m.SkillID)
	}
	return ids
}

// RuleIDs returns the rule IDs of the matches in ranked order.
func RuleIDs(matches []RuleMatch) []int64 {
	ids := make([]int64, len(matches))
	for i, m := range matches {
		ids[i] = m.RuleID
	}
	return ids
}
