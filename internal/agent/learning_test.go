package agent_test

import (
	"context"
	"encoding/json"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"mailbrain.app/agent/common/llm"
	"mailbrain.app/agent/internal/agent"
	"mailbrain.app/agent/internal/model"
	"mailbrain.app/agent/internal/store"
)

var _ = Describe("Learning", func() {
	var (
		ctx        context.Context
		mockLLM    *mockLLMClient
		skills     *memSkillStore
		emails     *memEmailStore
		provenance *memProvenanceStore
		changelog  *memChangeLogStore
		learning   *agent.Learning
	)

	refundProposal := map[string]any{
		"name":        "退款处理",
		"name_en":     "refund-handling",
		"description": "Handles refund and cancellation requests",
		"rules": []map[string]any{
			{
				"name":              "标准退款",
				"trigger_keywords":  []string{"退款", "refund"},
				"conditions":        []string{"order exists"},
				"action_steps":      []string{"verify order", "issue refund"},
				"response_template": "Dear {{customer_name}}, your refund is being processed.",
				"priority":          8,
			},
			{
				"name":              "取消订单",
				"trigger_keywords":  []string{"取消", "cancel"},
				"conditions":        []string{"order not shipped"},
				"action_steps":      []string{"cancel order"},
				"response_template": "Dear {{customer_name}}, your order has been cancelled.",
				"priority":          5,
			},
		},
	}

	historyEmails := []model.Email{
		{ID: 1, Sender: "a@b.com", Subject: "退款", Body: "我要退款", Category: stringPtr(model.CategoryRefundCancellation), IsCustomerService: true},
		{ID: 2, Sender: "c@d.com", Subject: "cancel", Body: "please cancel my order", Category: stringPtr(model.CategoryRefundCancellation), IsCustomerService: true},
		{ID: 3, Sender: "e@f.com", Subject: "newsletter", Body: "weekly digest", IsCustomerService: false},
	}

	BeforeEach(func() {
		ctx = context.Background()
		mockLLM = &mockLLMClient{}
		skills = newMemSkillStore()
		emails = newMemEmailStore(historyEmails...)
		provenance = newMemProvenanceStore()
		changelog = newMemChangeLogStore()

		mutator := store.NewSkillMutator(skills, 3)
		learning = agent.NewLearning(skills, emails, provenance, changelog, mutator, mockLLM, 0, 0, 100, 20)

		mockLLM.chatFn = func(_ context.Context, _ llm.Request, result any) (*llm.Response, error) {
			data, _ := json.Marshal(refundProposal)
			return &llm.Response{}, json.Unmarshal(data, result)
		}
	})

	It("creates a skill from a category group", func() {
		summary, err := learning.Run(ctx, agent.LearnParams{})

		Expect(err).NotTo(HaveOccurred())
		Expect(summary.EmailsProcessed).To(Equal(2))
		Expect(summary.CategoriesProcessed).To(Equal(1))
		Expect(summary.SkillsCreated).To(Equal(1))
		Expect(summary.SkillsUpdated).To(BeZero())
		Expect(summary.RulesExtracted).To(Equal(2))

		skill, err := skills.GetByNameEN(ctx, "refund-handling")
		Expect(err).NotTo(HaveOccurred())
		Expect(skill.Category).To(Equal(model.CategoryRefundCancellation))
		Expect(skill.Rules).To(HaveLen(2))
		Expect(skill.IsActive).To(BeTrue())
		Expect(skill.Version).To(Equal(int64(1)))
		Expect(skill.TriggerKeywords).To(ContainElements("退款", "refund", "取消", "cancel"))

		edges, err := provenance.ListBySkill(ctx, skill.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(edges).To(HaveLen(2))
		for _, e := range edges {
			Expect(e.ContributionType).To(Equal(model.ContributionInitialLearning))
		}
	})

	It("is idempotent on an unchanged email set and skill state", func() {
		_, err := learning.Run(ctx, agent.LearnParams{})
		Expect(err).NotTo(HaveOccurred())
		edgesBefore := provenance.count()

		summary, err := learning.Run(ctx, agent.LearnParams{})

		Expect(err).NotTo(HaveOccurred())
		Expect(summary.SkillsCreated).To(BeZero())
		Expect(summary.SkillsUpdated).To(BeZero())
		Expect(summary.RulesExtracted).To(BeZero())
		Expect(provenance.count()).To(Equal(edgesBefore))

		skill, err := skills.GetByNameEN(ctx, "refund-handling")
		Expect(err).NotTo(HaveOccurred())
		Expect(skill.Rules).To(HaveLen(2))
		Expect(skill.Version).To(Equal(int64(1)))
	})

	It("appends only unseen rules to an existing skill", func() {
		existing := model.Skill{
			ID:       500,
			Name:     "退款处理",
			NameEN:   "refund-handling",
			Category: model.CategoryRefundCancellation,
			IsActive: true,
			Version:  1,
			Rules: []model.Rule{
				{ID: 5001, Name: "标准退款", TriggerKeywords: []string{"退款"}, Priority: 8},
			},
		}
		Expect(skills.Create(ctx, &existing)).To(Succeed())

		summary, err := learning.Run(ctx, agent.LearnParams{})

		Expect(err).NotTo(HaveOccurred())
		Expect(summary.SkillsCreated).To(BeZero())
		Expect(summary.SkillsUpdated).To(Equal(1))
		Expect(summary.RulesExtracted).To(Equal(1))

		skill, err := skills.GetByID(ctx, 500)
		Expect(err).NotTo(HaveOccurred())
		Expect(skill.Rules).To(HaveLen(2))
		Expect(skill.Version).To(Equal(int64(2)))
		Expect(skill.HasRuleNamed("取消订单")).To(BeTrue())

		entries, err := changelog.ListBySkill(ctx, 500)
		Expect(err).NotTo(HaveOccurred())
		Expect(entries).To(HaveLen(1))
		Expect(entries[0].ChangeType).To(Equal(model.ChangeRuleAdded))
	})

	It("honours the category filter", func() {
		summary, err := learning.Run(ctx, agent.LearnParams{CategoryFilter: stringPtr(model.CategoryPriceInquiry)})

		Expect(err).NotTo(HaveOccurred())
		Expect(summary.CategoriesProcessed).To(BeZero())
		Expect(summary.SkillsCreated).To(BeZero())
		Expect(mockLLM.callCount).To(BeZero())
	})

	It("learns from explicitly supplied emails without touching the store", func() {
		supplied := []model.Email{
			{ID: 9, Subject: "退款", Body: "退款", Category: stringPtr(model.CategoryRefundCancellation), IsCustomerService: true},
		}

		summary, err := learning.Run(ctx, agent.LearnParams{Emails: supplied})

		Expect(err).NotTo(HaveOccurred())
		Expect(summary.EmailsProcessed).To(Equal(1))
		Expect(summary.SkillsCreated).To(Equal(1))
	})

	It("isolates a model failure to its group", func() {
		mockLLM.chatFn = func(_ context.Context, _ llm.Request, _ any) (*llm.Response, error) {
			return nil, &json.SyntaxError{}
		}

		summary, err := learning.Run(ctx, agent.LearnParams{})

		Expect(err).NotTo(HaveOccurred())
		Expect(summary.SkillsCreated).To(BeZero())
		Expect(summary.EmailsProcessed).To(Equal(2))
	})

	It("gives model calls a live deadline when no timeout is configured", func() {
		mockLLM.chatFn = func(callCtx context.Context, _ llm.Request, result any) (*llm.Response, error) {
			if err := callCtx.Err(); err != nil {
				return nil, err
			}
			data, _ := json.Marshal(refundProposal)
			return &llm.Response{}, json.Unmarshal(data, result)
		}

		summary, err := learning.Run(ctx, agent.LearnParams{})

		Expect(err).NotTo(HaveOccurred())
		Expect(summary.SkillsCreated).To(Equal(1))
	})
})
