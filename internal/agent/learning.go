package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"mailbrain.app/agent/common/id"
	"mailbrain.app/agent/common/llm"
	"mailbrain.app/agent/common/logger"
	"mailbrain.app/agent/internal/model"
	"mailbrain.app/agent/internal/store"
)

// LearnParams selects the emails a learning run reads. When Emails is empty
// the run pulls recent customer-service history from the store. The date
// bounds, when set, trim the candidate set by ReceivedAt.
type LearnParams struct {
	Emails         []model.Email `json:"emails,omitempty"`
	CategoryFilter *string       `json:"category,omitempty"`
	StartDate      *time.Time    `json:"start_date,omitempty"`
	EndDate        *time.Time    `json:"end_date,omitempty"`
	Limit          int           `json:"limit,omitempty"`
}

func (p LearnParams) inRange(e *model.Email) bool {
	if p.StartDate != nil && e.ReceivedAt.Before(*p.StartDate) {
		return false
	}
	if p.EndDate != nil && e.ReceivedAt.After(*p.EndDate) {
		return false
	}
	return true
}

// LearnSummary reports what one learning run produced.
type LearnSummary struct {
	EmailsProcessed     int `json:"emails_processed"`
	CategoriesProcessed int `json:"categories_processed"`
	SkillsCreated       int `json:"skills_created"`
	SkillsUpdated       int `json:"skills_updated"`
	RulesExtracted      int `json:"rules_extracted"`
}

type skillProposal struct {
	Name        string         `json:"name" jsonschema_description:"Skill display name, in the emails' language"`
	NameEN      string         `json:"name_en" jsonschema_description:"Stable english identifier, kebab-case"`
	Description string         `json:"description" jsonschema_description:"One sentence describing the skill"`
	Rules       []ruleProposal `json:"rules" jsonschema_description:"2-5 rules covering the group's recurring problems"`
}

type ruleProposal struct {
	Name             string   `json:"name" jsonschema_description:"Short unique rule name"`
	TriggerKeywords  []string `json:"trigger_keywords" jsonschema_description:"Keywords in the customers' language that signal this rule"`
	Conditions       []string `json:"conditions" jsonschema_description:"Conditions under which the rule applies"`
	ActionSteps      []string `json:"action_steps" jsonschema_description:"Ordered steps the handler should take"`
	ResponseTemplate string   `json:"response_template" jsonschema_description:"Reply template, may use {{customer_name}} and {{company_name}}"`
	Priority         int      `json:"priority" jsonschema_description:"1-10, higher is tried first"`
}

var learnSchema = llm.GenerateSchema[skillProposal]()

const learnSystemPrompt = `You distill customer service skills from email history.
Given a group of emails about one problem category, propose one skill with
2-5 rules: trigger keywords, applicability conditions, concrete action steps
and a reply template. Keywords must be words that actually appear in such
emails. Answer in the requested JSON shape only.`

// Learning extracts skills from historical emails: group by category, one
// model call per group, merge into the skill store. Re-running on unchanged
// input creates nothing new.
type Learning struct {
	skills     store.SkillStore
	emails     store.EmailStore
	provenance store.ProvenanceStore
	changelog  store.ChangeLogStore
	mutator    *store.SkillMutator
	llm        llm.Client
	timeout    time.Duration
	retries    int
	limit      int
	sample     int
}

func NewLearning(
	skills store.SkillStore,
	emails store.EmailStore,
	provenance store.ProvenanceStore,
	changelog store.ChangeLogStore,
	mutator *store.SkillMutator,
	client llm.Client,
	timeout time.Duration,
	retries int,
	limit int,
	sample int,
) *Learning {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if limit <= 0 {
		limit = 100
	}
	if sample <= 0 {
		sample = 20
	}
	return &Learning{
		skills:     skills,
		emails:     emails,
		provenance: provenance,
		changelog:  changelog,
		mutator:    mutator,
		llm:        client,
		timeout:    timeout,
		retries:    retries,
		limit:      limit,
		sample:     sample,
	}
}

// Run executes one learning pass. Group failures are isolated: a model
// failure on one category logs and skips that group, the rest still merge.
func (l *Learning) Run(ctx context.Context, params LearnParams) (*LearnSummary, error) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{Component: "agent.learning"})

	emails := params.Emails
	if len(emails) == 0 {
		limit := params.Limit
		if limit <= 0 || limit > l.limit {
			limit = l.limit
		}
		var err error
		emails, err = l.emails.ListCustomerService(ctx, limit)
		if err != nil {
			return nil, fmt.Errorf("loading email history: %w", err)
		}
	}

	if params.StartDate != nil || params.EndDate != nil {
		filtered := emails[:0:0]
		for _, e := range emails {
			if params.inRange(&e) {
				filtered = append(filtered, e)
			}
		}
		emails = filtered
	}

	groups := groupByCategory(emails, params.CategoryFilter)
	summary := &LearnSummary{CategoriesProcessed: len(groups)}
	for _, g := range groups {
		summary.EmailsProcessed += len(g.emails)
	}

	for _, g := range groups {
		gctx := logger.WithLogFields(ctx, logger.LogFields{Category: logger.Ptr(g.category)})
		if err := l.learnGroup(gctx, g, summary); err != nil {
			slog.ErrorContext(gctx, "learning group failed, skipping",
				"category", g.category,
				"email_count", len(g.emails),
				"error", err)
		}
	}

	slog.InfoContext(ctx, "learning run finished",
		"emails_processed", summary.EmailsProcessed,
		"categories", summary.CategoriesProcessed,
		"skills_created", summary.SkillsCreated,
		"skills_updated", summary.SkillsUpdated,
		"rules_extracted", summary.RulesExtracted)

	return summary, nil
}

type emailGroup struct {
	category string
	emails   []model.Email
}

// groupByCategory buckets customer-service emails by category, uncategorized
// ones under "other". Group order is deterministic.
func groupByCategory(emails []model.Email, filter *string) []emailGroup {
	byCategory := make(map[string][]model.Email)
	for _, e := range emails {
		if !e.IsCustomerService {
			continue
		}
		category := model.CategoryOther
		if e.Category != nil && *e.Category != "" {
			category = *e.Category
		}
		if filter != nil && *filter != "" && category != *filter {
			continue
		}
		byCategory[category] = append(byCategory[category], e)
	}

	categories := make([]string, 0, len(byCategory))
	for c := range byCategory {
		categories = append(categories, c)
	}
	sort.Strings(categories)

	groups := make([]emailGroup, 0, len(categories))
	for _, c := range categories {
		groups = append(groups, emailGroup{category: c, emails: byCategory[c]})
	}
	return groups
}

func (l *Learning) learnGroup(ctx context.Context, g emailGroup, summary *LearnSummary) error {
	proposal, err := l.propose(ctx, g)
	if err != nil {
		return err
	}
	if proposal.NameEN == "" || len(proposal.Rules) == 0 {
		slog.WarnContext(ctx, "model proposed no usable skill", "category", g.category)
		return nil
	}

	skill, err := l.skills.GetByNameEN(ctx, proposal.NameEN)
	switch {
	case errors.Is(err, store.ErrNotFound):
		skill, err = l.createSkill(ctx, g.category, proposal)
		if err != nil {
			return err
		}
		summary.SkillsCreated++
		summary.RulesExtracted += len(skill.Rules)
	case err != nil:
		return fmt.Errorf("looking up skill %q: %w", proposal.NameEN, err)
	default:
		appended, merr := l.mergeSkill(ctx, skill.ID, proposal)
		if merr != nil {
			return merr
		}
		if appended > 0 {
			summary.SkillsUpdated++
			summary.RulesExtracted += appended
		}
	}

	for _, e := range g.emails {
		created, perr := l.provenance.Record(ctx, &model.SkillSourceEmail{
			ID:               id.New(),
			SkillID:          skill.ID,
			EmailID:          e.ID,
			ContributionType: model.ContributionInitialLearning,
			CreatedAt:        time.Now(),
		})
		if perr != nil {
			slog.WarnContext(ctx, "recording provenance failed",
				"skill_id", skill.ID,
				"email_id", e.ID,
				"error", perr)
			continue
		}
		_ = created
	}

	return nil
}

func (l *Learning) propose(ctx context.Context, g emailGroup) (*skillProposal, error) {
	sample := g.emails
	if len(sample) > l.sample {
		sample = sample[:l.sample]
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Category: %s\nEmails (%d):\n", g.category, len(sample))
	for i, e := range sample {
		fmt.Fprintf(&b, "\n--- Email %d ---\nSubject: %s\n%s\n",
			i+1, e.Subject, logger.Truncate(e.Body, 1500))
	}

	var proposal skillProposal
	var err error
	for attempt := 0; attempt <= l.retries; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, l.timeout)
		_, err = l.llm.Chat(callCtx, llm.Request{
			SystemPrompt: learnSystemPrompt,
			UserPrompt:   b.String(),
			SchemaName:   "skill_proposal",
			Schema:       learnSchema,
			MaxTokens:    2000,
			Temperature:  llm.Temp(0.2),
		}, &proposal)
		cancel()

		if err == nil {
			return &proposal, nil
		}
		if !llm.IsRetryable(ctx, err) {
			return nil, fmt.Errorf("skill proposal for %s: %w", g.category, err)
		}
		slog.WarnContext(ctx, "skill proposal retry",
			"category", g.category,
			"attempt", attempt+1,
			"error", err)
		if attempt < l.retries {
			time.Sleep(time.Duration(1<<attempt) * time.Second)
		}
	}
	return nil, fmt.Errorf("skill proposal for %s after %d attempts: %w", g.category, l.retries+1, err)
}

func (l *Learning) createSkill(ctx context.Context, category string, proposal *skillProposal) (*model.Skill, error) {
	now := time.Now()
	skill := &model.Skill{
		ID:          id.New(),
		Name:        proposal.Name,
		NameEN:      strings.ToLower(strings.TrimSpace(proposal.NameEN)),
		Category:    category,
		Description: proposal.Description,
		Rules:       dedupeRules(nil, proposal.Rules),
		IsActive:    true,
		Version:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	skill.SyncKeywords()

	if err := l.skills.Create(ctx, skill); err != nil {
		return nil, fmt.Errorf("creating skill %q: %w", skill.NameEN, err)
	}

	slog.InfoContext(ctx, "skill created",
		"skill_id", skill.ID,
		"name_en", skill.NameEN,
		"rules", len(skill.Rules))

	return skill, nil
}

// mergeSkill appends the proposal's rules that the skill does not already
// have, deduplicated by rule name. Returns how many were appended; zero
// means the commit is skipped entirely, keeping re-runs idempotent.
func (l *Learning) mergeSkill(ctx context.Context, skillID int64, proposal *skillProposal) (int, error) {
	appended := 0
	_, err := l.mutator.Mutate(ctx, skillID, func(skill *model.Skill) error {
		fresh := dedupeRules(skill, proposal.Rules)
		appended = len(fresh)
		if appended == 0 {
			return store.ErrNoChange
		}
		skill.Rules = append(skill.Rules, fresh...)
		skill.UpdatedAt = time.Now()
		return nil
	})
	if errors.Is(err, store.ErrNoChange) {
		slog.DebugContext(ctx, "skill already covers proposed rules", "skill_id", skillID)
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("merging rules into skill %d: %w", skillID, err)
	}

	for i := 0; i < appended; i++ {
		entry := &model.SkillChangeLog{
			ID:          id.New(),
			SkillID:     skillID,
			ChangeType:  model.ChangeRuleAdded,
			Description: "rule appended by learning run",
			CreatedAt:   time.Now(),
		}
		if cerr := l.changelog.Append(ctx, entry); cerr != nil {
			slog.WarnContext(ctx, "appending change log failed", "skill_id", skillID, "error", cerr)
		}
	}

	slog.InfoContext(ctx, "skill updated",
		"skill_id", skillID,
		"rules_appended", appended)

	return appended, nil
}

// dedupeRules materializes proposed rules, dropping those whose name the
// skill (or an earlier proposal entry) already carries, case-insensitively.
func dedupeRules(skill *model.Skill, proposals []ruleProposal) []model.Rule {
	var rules []model.Rule
	seen := make(map[string]struct{}, len(proposals))
	for _, p := range proposals {
		name := strings.ToLower(strings.TrimSpace(p.Name))
		if name == "" || len(p.TriggerKeywords) == 0 {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		if skill != nil && skill.HasRuleNamed(p.Name) {
			continue
		}
		seen[name] = struct{}{}

		priority := p.Priority
		if priority <= 0 {
			priority = 1
		}
		rules = append(rules, model.Rule{
			ID:               id.New(),
			Name:             strings.TrimSpace(p.Name),
			TriggerKeywords:  p.TriggerKeywords,
			Conditions:       p.Conditions,
			ActionSteps:      p.ActionSteps,
			ResponseTemplate: p.ResponseTemplate,
			Priority:         priority,
		})
	}
	return rules
}
