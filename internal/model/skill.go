package model

import "time"

// Skill is a named, versioned bundle of Rules addressing one problem
// category. Skills are owned by the skill store and mutated only through its
// optimistic-version mutation path; Version strictly increases on every
// commit and doubles as the concurrency token.
type Skill struct {
	ID              int64     `json:"id"`
	Name            string    `json:"name"`
	NameEN          string    `json:"name_en"`
	Category        string    `json:"category"`
	Description     string    `json:"description,omitempty"`
	TriggerKeywords []string  `json:"trigger_keywords"`
	Rules           []Rule    `json:"rules"`
	UsageCount      int       `json:"usage_count"`
	SuccessCount    int       `json:"success_count"`
	IsActive        bool      `json:"is_active"`
	Version         int64     `json:"version"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Rule is a prioritized trigger-keyword/condition set producing action steps
// and a response template. Rules belong to exactly one Skill and are tried in
// descending priority, keyword-overlap score breaking ties.
type Rule struct {
	ID               int64    `json:"id"`
	Name             string   `json:"name"`
	TriggerKeywords  []string `json:"trigger_keywords"`
	Conditions       []string `json:"conditions"`
	ActionSteps      []string `json:"action_steps"`
	ResponseTemplate string   `json:"response_template"`
	Priority         int      `json:"priority"`
	UsageCount       int      `json:"usage_count"`
	SuccessCount     int      `json:"success_count"`
}

// SyncKeywords re-unions the skill's trigger keywords with its rules'
// keywords. Invariant after any mutation: every rule keyword appears in the
// skill-level set. Existing order is preserved, additions keep rule order.
func (s *Skill) SyncKeywords() {
	seen := make(map[string]struct{}, len(s.TriggerKeywords))
	for _, kw := range s.TriggerKeywords {
		seen[normalizeKeyword(kw)] = struct{}{}
	}
	for _, r := range s.Rules {
		for _, kw := range r.TriggerKeywords {
			if _, ok := seen[normalizeKeyword(kw)]; !ok {
				seen[normalizeKeyword(kw)] = struct{}{}
				s.TriggerKeywords = append(s.TriggerKeywords, kw)
			}
		}
	}
}

// HasRuleNamed reports whether a rule with the given name exists,
// case-insensitively. Learning dedupes appended rules by name.
func (s *Skill) HasRuleNamed(name string) bool {
	return s.RuleByName(name) != nil
}

// RuleByName returns the first rule with the given name, case-insensitively.
func (s *Skill) RuleByName(name string) *Rule {
	for i := range s.Rules {
		if equalFold(s.Rules[i].Name, name) {
			return &s.Rules[i]
		}
	}
	return nil
}
