package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"mailbrain.app/agent/common/id"
	"mailbrain.app/agent/common/llm"
	"mailbrain.app/agent/common/logger"
	"mailbrain.app/agent/internal/model"
	"mailbrain.app/agent/internal/store"
)

// EvolveParams identifies the reply and the draft pair to learn from.
// AIDraft and HumanEdited default to what the reply record carries.
type EvolveParams struct {
	ReplyID     int64  `json:"reply_id"`
	AIDraft     string `json:"ai_draft,omitempty"`
	HumanEdited string `json:"human_edited,omitempty"`
	Feedback    string `json:"feedback,omitempty"`
}

// AppliedChange is one refinement evolution committed to a skill.
type AppliedChange struct {
	Type        model.ChangeType `json:"type"`
	Description string           `json:"description"`
	RuleID      *int64           `json:"rule_id,omitempty"`
}

// EvolveSummary reports what one evolution run changed. SkippedReason is
// set when the run was a deliberate no-op.
type EvolveSummary struct {
	SkillUpdated  bool            `json:"skill_updated"`
	SkillID       *int64          `json:"skill_id,omitempty"`
	Changes       []AppliedChange `json:"changes"`
	SkippedReason string          `json:"skipped_reason,omitempty"`
}

type evolutionAnalysis struct {
	Changes []proposedChange `json:"changes" jsonschema_description:"One entry per meaningful difference between the drafts"`
}

type proposedChange struct {
	Type        string   `json:"type" jsonschema:"enum=keyword_addition,enum=rule_refinement,enum=template_adjustment,enum=no_signal" jsonschema_description:"What kind of skill refinement this difference suggests"`
	Keywords    []string `json:"keywords" jsonschema_description:"For keyword_addition: trigger keywords to add"`
	ActionSteps []string `json:"action_steps" jsonschema_description:"For rule_refinement: corrected action steps"`
	Template    string   `json:"template" jsonschema_description:"For template_adjustment: the corrected response template"`
	Description string   `json:"description" jsonschema_description:"One sentence describing the refinement"`
}

var evolveSchema = llm.GenerateSchema[evolutionAnalysis]()

const evolveSystemPrompt = `You analyze how a human edited an AI-drafted
customer service reply. For each structural difference, decide what it
teaches the drafting skill: new trigger keywords, corrected action steps, an
adjusted reply template, or nothing (stylistic noise). Answer in the
requested JSON shape only.`

// Evolution refines skills from human edits. A run diffs the AI draft
// against the human edit, asks the model to characterize the deltas, and
// applies the non-noise changes to the reply's matched skill.
type Evolution struct {
	replies    store.ReplyStore
	skills     store.SkillStore
	provenance store.ProvenanceStore
	changelog  store.ChangeLogStore
	mutator    *store.SkillMutator
	llm        llm.Client
	timeout    time.Duration
	retries    int
	minEdit    int
}

func NewEvolution(
	replies store.ReplyStore,
	skills store.SkillStore,
	provenance store.ProvenanceStore,
	changelog store.ChangeLogStore,
	mutator *store.SkillMutator,
	client llm.Client,
	timeout time.Duration,
	retries int,
	minEdit int,
) *Evolution {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if minEdit <= 0 {
		minEdit = 20
	}
	return &Evolution{
		replies:    replies,
		skills:     skills,
		provenance: provenance,
		changelog:  changelog,
		mutator:    mutator,
		llm:        client,
		timeout:    timeout,
		retries:    retries,
		minEdit:    minEdit,
	}
}

// Run executes one evolution pass. No-op outcomes (no edit, edit too small,
// escalation-path reply with no matched skill) return a summary with the
// reason instead of an error.
func (ev *Evolution) Run(ctx context.Context, params EvolveParams) (*EvolveSummary, error) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		ReplyID:   logger.Ptr(params.ReplyID),
		Component: "agent.evolution",
	})

	reply, err := ev.replies.GetByID(ctx, params.ReplyID)
	if err != nil {
		return nil, fmt.Errorf("loading reply %d: %w", params.ReplyID, err)
	}

	aiDraft := params.AIDraft
	if aiDraft == "" {
		aiDraft = reply.AIDraft
	}
	humanEdited := params.HumanEdited
	if humanEdited == "" && reply.HumanEdited != nil {
		humanEdited = *reply.HumanEdited
	}

	if reason := ev.guard(ctx, reply, aiDraft, humanEdited); reason != "" {
		slog.InfoContext(ctx, "evolution skipped", "reason", reason)
		return &EvolveSummary{SkippedReason: reason}, nil
	}

	delta := StructuralDiff(aiDraft, humanEdited)
	if delta.Empty() {
		slog.InfoContext(ctx, "evolution skipped", "reason", "drafts are structurally identical")
		return &EvolveSummary{SkippedReason: "drafts are structurally identical"}, nil
	}

	analysis, err := ev.analyze(ctx, reply, aiDraft, humanEdited, delta, params.Feedback)
	if err != nil {
		return nil, err
	}

	skillID := reply.MatchedSkillIDs[0]
	ctx = logger.WithLogFields(ctx, logger.LogFields{SkillID: logger.Ptr(skillID)})

	applied, err := ev.apply(ctx, skillID, reply, analysis)
	if err != nil {
		return nil, err
	}

	summary := &EvolveSummary{
		SkillUpdated: len(applied) > 0,
		SkillID:      &skillID,
		Changes:      applied,
	}
	if len(applied) == 0 {
		summary.SkippedReason = "no actionable signal in the edit"
		return summary, nil
	}

	for _, chg := range applied {
		entry := &model.SkillChangeLog{
			ID:          id.New(),
			SkillID:     skillID,
			ChangeType:  chg.Type,
			Description: chg.Description,
			RuleID:      chg.RuleID,
			ReplyID:     logger.Ptr(reply.ID),
			CreatedAt:   time.Now(),
		}
		if cerr := ev.changelog.Append(ctx, entry); cerr != nil {
			slog.WarnContext(ctx, "appending change log failed", "error", cerr)
		}
	}

	if _, perr := ev.provenance.Record(ctx, &model.SkillSourceEmail{
		ID:               id.New(),
		SkillID:          skillID,
		EmailID:          reply.EmailID,
		ContributionType: model.ContributionEvolution,
		CreatedAt:        time.Now(),
	}); perr != nil {
		slog.WarnContext(ctx, "recording provenance failed", "error", perr)
	}

	slog.InfoContext(ctx, "skill evolved",
		"changes_applied", len(applied))

	return summary, nil
}

func (ev *Evolution) guard(ctx context.Context, reply *model.Reply, aiDraft, humanEdited string) string {
	if strings.TrimSpace(humanEdited) == "" {
		return "reply has no human edit"
	}
	if len(reply.MatchedSkillIDs) == 0 {
		return "reply has no matched skill"
	}
	if d := EditDistance(aiDraft, humanEdited); d < ev.minEdit {
		slog.DebugContext(ctx, "edit below threshold", "distance", d, "min", ev.minEdit)
		return "edit distance below threshold"
	}
	return ""
}

func (ev *Evolution) analyze(ctx context.Context, reply *model.Reply, aiDraft, humanEdited string, delta Delta, feedback string) (*evolutionAnalysis, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "AI draft:\n%s\n\nHuman edit:\n%s\n", logger.Truncate(aiDraft, 2000), logger.Truncate(humanEdited, 2000))
	if len(delta.Added) > 0 {
		fmt.Fprintf(&b, "\nAdded by the human:\n- %s\n", strings.Join(delta.Added, "\n- "))
	}
	if len(delta.Removed) > 0 {
		fmt.Fprintf(&b, "\nRemoved by the human:\n- %s\n", strings.Join(delta.Removed, "\n- "))
	}
	if feedback != "" {
		fmt.Fprintf(&b, "\nReviewer feedback: %s\n", feedback)
	}

	var analysis evolutionAnalysis
	var err error
	for attempt := 0; attempt <= ev.retries; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, ev.timeout)
		_, err = ev.llm.Chat(callCtx, llm.Request{
			SystemPrompt: evolveSystemPrompt,
			UserPrompt:   b.String(),
			SchemaName:   "evolution_analysis",
			Schema:       evolveSchema,
			MaxTokens:    1500,
			Temperature:  llm.Temp(0.1),
		}, &analysis)
		cancel()

		if err == nil {
			return &analysis, nil
		}
		if !llm.IsRetryable(ctx, err) {
			return nil, fmt.Errorf("evolution analysis for reply %d: %w", reply.ID, err)
		}
		slog.WarnContext(ctx, "evolution analysis retry",
			"attempt", attempt+1,
			"error", err)
		if attempt < ev.retries {
			time.Sleep(time.Duration(1<<attempt) * time.Second)
		}
	}
	return nil, fmt.Errorf("evolution analysis for reply %d after %d attempts: %w", reply.ID, ev.retries+1, err)
}

// apply commits the non-noise changes to the skill in one mutation cycle.
// The target rule is the reply's best matched rule when it still exists.
func (ev *Evolution) apply(ctx context.Context, skillID int64, reply *model.Reply, analysis *evolutionAnalysis) ([]AppliedChange, error) {
	var applied []AppliedChange

	_, err := ev.mutator.Mutate(ctx, skillID, func(skill *model.Skill) error {
		applied = applied[:0]
		rule := targetRule(skill, reply.MatchedRuleIDs)

		for _, chg := range analysis.Changes {
			switch chg.Type {
			case string(model.ChangeKeywordAddition):
				if rule == nil || len(chg.Keywords) == 0 {
					continue
				}
				added := appendKeywords(rule, chg.Keywords)
				if added == 0 {
					continue
				}
				applied = append(applied, AppliedChange{
					Type:        model.ChangeKeywordAddition,
					Description: describe(chg, fmt.Sprintf("added %d trigger keywords", added)),
					RuleID:      &rule.ID,
				})

			case string(model.ChangeRuleRefinement):
				if rule == nil || len(chg.ActionSteps) == 0 {
					continue
				}
				rule.ActionSteps = chg.ActionSteps
				applied = append(applied, AppliedChange{
					Type:        model.ChangeRuleRefinement,
					Description: describe(chg, "action steps refined from human edit"),
					RuleID:      &rule.ID,
				})

			case string(model.ChangeTemplateAdjustment):
				if rule == nil || strings.TrimSpace(chg.Template) == "" {
					continue
				}
				rule.ResponseTemplate = chg.Template
				applied = append(applied, AppliedChange{
					Type:        model.ChangeTemplateAdjustment,
					Description: describe(chg, "response template adjusted from human edit"),
					RuleID:      &rule.ID,
				})
			}
		}

		if len(applied) == 0 {
			return store.ErrNoChange
		}
		skill.SuccessCount++
		skill.UpdatedAt = time.Now()
		return nil
	})
	if errors.Is(err, store.ErrNoChange) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("applying evolution to skill %d: %w", skillID, err)
	}

	return applied, nil
}

func targetRule(skill *model.Skill, matchedRuleIDs []int64) *model.Rule {
	for _, ruleID := range matchedRuleIDs {
		for i := range skill.Rules {
			if skill.Rules[i].ID == ruleID {
				return &skill.Rules[i]
			}
		}
	}
	if len(skill.Rules) > 0 {
		return &skill.Rules[0]
	}
	return nil
}

func appendKeywords(rule *model.Rule, keywords []string) int {
	existing := make(map[string]struct{}, len(rule.TriggerKeywords))
	for _, kw := range rule.TriggerKeywords {
		existing[strings.ToLower(strings.TrimSpace(kw))] = struct{}{}
	}

	added := 0
	for _, kw := range keywords {
		kw = strings.TrimSpace(kw)
		if kw == "" {
			continue
		}
		if _, ok := existing[strings.ToLower(kw)]; ok {
			continue
		}
		existing[strings.ToLower(kw)] = struct{}{}
		rule.TriggerKeywords = append(rule.TriggerKeywords, kw)
		added++
	}
	return added
}

func describe(chg proposedChange, fallback string) string {
	if strings.TrimSpace(chg.Description) != "" {
		return chg.Description
	}
	return fallback
}
