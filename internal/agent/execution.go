package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"mailbrain.app/agent/common/id"
	"mailbrain.app/agent/common/logger"
	"mailbrain.app/agent/internal/match"
	"mailbrain.app/agent/internal/model"
	"mailbrain.app/agent/internal/store"
)

// ExecuteOptions control what happens to a finished draft. AutoSend only
// applies to high-confidence drafts and is overridden by RequireReview.
type ExecuteOptions struct {
	AutoSend      bool `json:"auto_send"`
	RequireReview bool `json:"require_review"`
}

// ExecuteResult is the full outcome of running one email through the
// pipeline: the decision, the draft and the evidence behind it.
type ExecuteResult struct {
	EmailID          int64            `json:"email_id"`
	ReplyID          int64            `json:"reply_id"`
	Status           string           `json:"status"`
	MatchedSkillIDs  []int64          `json:"matched_skill_ids"`
	MatchedSkills    []string         `json:"matched_skills"`
	MatchedRuleIDs   []int64          `json:"matched_rule_ids"`
	MatchedRules     []string         `json:"matched_rules"`
	Response         string           `json:"response"`
	Confidence       model.Confidence `json:"confidence"`
	RequiresReview   bool             `json:"requires_review"`
	EscalationReason *string          `json:"escalation_reason,omitempty"`
}

// BatchParams is the payload of a batch execution job.
type BatchParams struct {
	Emails      []model.Email  `json:"emails"`
	Options     ExecuteOptions `json:"options"`
	Concurrency int            `json:"concurrency,omitempty"`
}

// BatchItem is one email's outcome inside a batch. Err is set when the
// pipeline failed for this email; it never aborts the rest of the batch.
type BatchItem struct {
	EmailID int64          `json:"email_id"`
	Result  *ExecuteResult `json:"result,omitempty"`
	Error   *string        `json:"error,omitempty"`
}

// Execution runs classify, match, escalate, draft and persist for one email.
// It never returns a bare error for a well-formed email: model failures turn
// into escalations with a reason the caller can show a human.
type Execution struct {
	skills     store.SkillStore
	emails     store.EmailStore
	replies    store.ReplyStore
	mutator    *store.SkillMutator
	classifier *Classifier
	generator  *ReplyGenerator
	policy     EscalationPolicy
}

func NewExecution(
	skills store.SkillStore,
	emails store.EmailStore,
	replies store.ReplyStore,
	mutator *store.SkillMutator,
	classifier *Classifier,
	generator *ReplyGenerator,
	policy EscalationPolicy,
) *Execution {
	return &Execution{
		skills:     skills,
		emails:     emails,
		replies:    replies,
		mutator:    mutator,
		classifier: classifier,
		generator:  generator,
		policy:     policy,
	}
}

// Execute runs the pipeline for one email.
func (e *Execution) Execute(ctx context.Context, email *model.Email, opts ExecuteOptions) (*ExecuteResult, error) {
	if strings.TrimSpace(email.Body) == "" {
		return nil, ErrEmptyEmail
	}

	ctx = logger.WithLogFields(ctx, logger.LogFields{
		EmailID:   logger.Ptr(email.ID),
		Component: "agent.execution",
	})

	classification, err := e.classifier.Classify(ctx, email)
	decision, category := e.decide(ctx, email, classification, err)
	if category != nil {
		ctx = logger.WithLogFields(ctx, logger.LogFields{Category: category})
	}

	if err == nil {
		if serr := e.emails.SetClassification(ctx, email.ID, classification.IsCustomerService, category); serr != nil {
			slog.WarnContext(ctx, "caching classification failed", "error", serr)
		}
		email.Category = category
		email.IsCustomerService = classification.IsCustomerService
	}

	draft := e.draft(ctx, email, category, &decision)

	reply := &model.Reply{
		ID:              id.New(),
		EmailID:         email.ID,
		AIDraft:         draft,
		MatchedSkillIDs: match.SkillIDs(decision.Matches),
		MatchedRuleIDs:  match.RuleIDs(decision.Matches),
		Confidence:      decision.Confidence,
		Status:          model.ReplyStatusPendingReview,
		CreatedAt:       time.Now(),
	}
	if err := e.replies.Create(ctx, reply); err != nil {
		return nil, fmt.Errorf("saving reply: %w", err)
	}

	if err := e.emails.MarkProcessed(ctx, email.ID); err != nil {
		slog.WarnContext(ctx, "marking email processed failed", "error", err)
	}

	requiresReview := true
	if decision.Status == StatusDraftReady &&
		decision.Confidence == model.ConfidenceHigh &&
		opts.AutoSend && !opts.RequireReview {
		if err := e.replies.MarkSent(ctx, reply.ID, time.Now()); err != nil {
			slog.WarnContext(ctx, "auto-send failed, leaving reply pending", "error", err)
		} else {
			requiresReview = false
		}
	}

	if top := decision.Top(); top != nil {
		e.recordUsage(ctx, top)
	}

	result := &ExecuteResult{
		EmailID:         email.ID,
		ReplyID:         reply.ID,
		Status:          decision.Status,
		MatchedSkillIDs: reply.MatchedSkillIDs,
		MatchedRuleIDs:  reply.MatchedRuleIDs,
		Response:        draft,
		Confidence:      decision.Confidence,
		RequiresReview:  requiresReview,
	}
	for _, m := range decision.Matches {
		result.MatchedRules = append(result.MatchedRules, m.RuleName)
	}
	seen := make(map[int64]struct{}, len(decision.Matches))
	for _, m := range decision.Matches {
		if _, ok := seen[m.SkillID]; ok {
			continue
		}
		seen[m.SkillID] = struct{}{}
		result.MatchedSkills = append(result.MatchedSkills, m.SkillName)
	}
	if decision.Reason != "" {
		result.EscalationReason = &decision.Reason
	}

	slog.InfoContext(ctx, "email executed",
		"status", result.Status,
		"confidence", result.Confidence,
		"matched_rules", len(result.MatchedRuleIDs),
		"requires_review", result.RequiresReview)

	return result, nil
}

// decide turns the classification outcome into an escalation decision and
// the category to match against. Classification failures and
// non-customer-service mail both escalate with a reason instead of erroring.
func (e *Execution) decide(ctx context.Context, email *model.Email, classification Classification, classifyErr error) (Decision, *string) {
	if classifyErr != nil {
		slog.WarnContext(ctx, "classification failed, escalating", "error", classifyErr)
		return Decision{
			Status:     StatusEscalate,
			Confidence: model.ConfidenceLow,
			Reason:     "classification failed: " + classifyErr.Error(),
		}, nil
	}

	if !classification.IsCustomerService {
		return Decision{
			Status:     StatusEscalate,
			Confidence: model.ConfidenceLow,
			Reason:     "not a customer service email",
		}, nil
	}

	skills, err := e.skills.List(ctx, true)
	if err != nil {
		slog.ErrorContext(ctx, "loading skills failed, escalating", "error", err)
		return Decision{
			Status:     StatusEscalate,
			Confidence: model.ConfidenceLow,
			Reason:     "skill library unavailable",
		}, classification.Category
	}

	matches := match.Match(email, classification.Category, skills)
	return e.policy.Decide(matches), classification.Category
}

// draft renders the top rule's template, falling back to the model path when
// no rule matched or the template fails to render. The fallback path forces
// confidence low.
func (e *Execution) draft(ctx context.Context, email *model.Email, category *string, decision *Decision) string {
	top := decision.Top()
	if top == nil {
		return e.generator.GenerateFallback(ctx, email, category)
	}

	rule, err := e.lookupRule(ctx, top)
	if err == nil {
		draft, rerr := e.generator.RenderTemplate(email, rule)
		if rerr == nil {
			return draft
		}
		err = rerr
	}

	slog.WarnContext(ctx, "template path failed, using model draft",
		"rule_id", top.RuleID,
		"error", err)
	decision.Confidence = model.ConfidenceLow
	return e.generator.GenerateFallback(ctx, email, category)
}

func (e *Execution) lookupRule(ctx context.Context, top *match.RuleMatch) (*model.Rule, error) {
	skill, err := e.skills.GetByID(ctx, top.SkillID)
	if err != nil {
		return nil, fmt.Errorf("loading skill %d: %w", top.SkillID, err)
	}
	for i := range skill.Rules {
		if skill.Rules[i].ID == top.RuleID {
			return &skill.Rules[i], nil
		}
	}
	return nil, fmt.Errorf("rule %d not found on skill %d", top.RuleID, top.SkillID)
}

// recordUsage bumps the usage counters of the applied skill and rule.
// Counter drift on conflict exhaustion is acceptable, so failures only log.
func (e *Execution) recordUsage(ctx context.Context, top *match.RuleMatch) {
	_, err := e.mutator.Mutate(ctx, top.SkillID, func(skill *model.Skill) error {
		skill.UsageCount++
		for i := range skill.Rules {
			if skill.Rules[i].ID == top.RuleID {
				skill.Rules[i].UsageCount++
				break
			}
		}
		return nil
	})
	if err != nil {
		slog.WarnContext(ctx, "recording skill usage failed",
			"skill_id", top.SkillID,
			"error", err)
	}
}

// ExecuteBatch runs emails through the pipeline with a bounded pool.
// Outcomes keep input order; one email's failure never aborts the rest.
func (e *Execution) ExecuteBatch(ctx context.Context, emails []model.Email, opts ExecuteOptions, concurrency int) []BatchItem {
	if concurrency <= 0 {
		concurrency = 4
	}

	items := make([]BatchItem, len(emails))
	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup

	for i := range emails {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			email := &emails[i]
			items[i].EmailID = email.ID

			defer func() {
				if r := recover(); r != nil {
					msg := fmt.Sprintf("panic: %v", r)
					items[i].Error = &msg
					slog.ErrorContext(ctx, "batch item panicked",
						"email_id", email.ID,
						"panic", r)
				}
			}()

			result, err := e.Execute(ctx, email, opts)
			if err != nil {
				msg := err.Error()
				items[i].Error = &msg
				return
			}
			items[i].Result = result
		}(i)
	}
	wg.Wait()

	return items
}
