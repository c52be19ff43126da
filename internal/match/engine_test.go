package match_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"mailbrain.app/agent/internal/match"
	"mailbrain.app/agent/internal/model"
)

func strPtr(s string) *string { return &s }

func skillFixture() model.Skill {
	return model.Skill{
		ID:              100,
		Name:            "设备故障处理",
		NameEN:          "equipment-fault",
		Category:        "equipment-fault",
		TriggerKeywords: []string{"红灯", "报警", "故障"},
		IsActive:        true,
		Rules: []model.Rule{
			{
				ID:              1001,
				Name:            "温度计红灯",
				TriggerKeywords: []string{"红灯", "报警"},
				ResponseTemplate: "Dear {{customer_name}}, please power-cycle the unit.",
				Priority:        10,
			},
			{
				ID:              1002,
				Name:            "通用故障",
				TriggerKeywords: []string{"故障"},
				ResponseTemplate: "Dear {{customer_name}}, our technician will follow up.",
				Priority:        5,
			},
		},
	}
}

var _ = Describe("Match", func() {
	var skills []model.Skill

	BeforeEach(func() {
		skills = []model.Skill{skillFixture()}
	})

	It("scores a full keyword hit at 1.0", func() {
		email := &model.Email{Subject: "设备问题", Body: "设备显示红灯报警"}

		matches := match.Match(email, strPtr("equipment-fault"), skills)

		Expect(matches).NotTo(BeEmpty())
		Expect(matches[0].RuleName).To(Equal("温度计红灯"))
		Expect(matches[0].Score).To(Equal(1.0))
		Expect(matches[0].MatchedKeywords).To(ConsistOf("红灯", "报警"))
	})

	It("keeps scores within [0,1]", func() {
		email := &model.Email{Subject: "red light", Body: "设备显示红灯但是没有别的"}

		matches := match.Match(email, strPtr("equipment-fault"), skills)

		for _, m := range matches {
			Expect(m.Score).To(BeNumerically(">=", 0))
			Expect(m.Score).To(BeNumerically("<=", 1))
		}
	})

	It("scores partial keyword hits proportionally", func() {
		email := &model.Email{Body: "面板红灯亮了"}

		matches := match.Match(email, strPtr("equipment-fault"), skills)

		Expect(matches).To(HaveLen(1))
		Expect(matches[0].RuleName).To(Equal("温度计红灯"))
		Expect(matches[0].Score).To(Equal(0.5))
	})

	It("is monotone in matched keywords", func() {
		one := match.Match(&model.Email{Body: "红灯"}, strPtr("equipment-fault"), skills)
		two := match.Match(&model.Email{Body: "红灯 报警"}, strPtr("equipment-fault"), skills)

		Expect(one).NotTo(BeEmpty())
		Expect(two).NotTo(BeEmpty())
		Expect(two[0].Score).To(BeNumerically(">=", one[0].Score))
	})

	It("is deterministic for identical inputs", func() {
		email := &model.Email{Body: "设备红灯报警故障"}

		first := match.Match(email, strPtr("equipment-fault"), skills)
		for i := 0; i < 10; i++ {
			Expect(match.Match(email, strPtr("equipment-fault"), skills)).To(Equal(first))
		}
	})

	It("breaks score ties by priority, then creation order", func() {
		skills[0].Rules = []model.Rule{
			{ID: 2003, Name: "late-low", TriggerKeywords: []string{"refund"}, Priority: 1},
			{ID: 2001, Name: "early-high", TriggerKeywords: []string{"refund"}, Priority: 9},
			{ID: 2002, Name: "early-low", TriggerKeywords: []string{"refund"}, Priority: 1},
		}
		email := &model.Email{Body: "please refund my order"}

		matches := match.Match(email, strPtr("equipment-fault"), skills)

		Expect(matches).To(HaveLen(3))
		Expect(matches[0].RuleName).To(Equal("early-high"))
		Expect(matches[1].RuleName).To(Equal("early-low"))
		Expect(matches[2].RuleName).To(Equal("late-low"))
	})

	It("skips inactive skills", func() {
		skills[0].IsActive = false
		email := &model.Email{Body: "红灯报警"}

		Expect(match.Match(email, strPtr("equipment-fault"), skills)).To(BeEmpty())
	})

	It("filters candidates by category when one is known", func() {
		email := &model.Email{Body: "红灯报警"}

		Expect(match.Match(email, strPtr("logistics-issue"), skills)).To(BeEmpty())
	})

	It("falls back to keyword intersection when category is unknown", func() {
		email := &model.Email{Body: "设备显示红灯报警"}

		matches := match.Match(email, nil, skills)

		Expect(matches).NotTo(BeEmpty())
		Expect(matches[0].SkillNameEN).To(Equal("equipment-fault"))
	})

	It("returns nothing when no keyword overlaps", func() {
		email := &model.Email{Body: "completely unrelated note about lunch"}

		Expect(match.Match(email, nil, skills)).To(BeEmpty())
	})

	It("matches latin keywords as whole tokens, case-insensitively", func() {
		skills[0].Rules = []model.Rule{
			{ID: 3001, Name: "refund", TriggerKeywords: []string{"Refund", "ORDER"}, Priority: 1},
		}
		email := &model.Email{Body: "I would like a refund for my order #123."}

		matches := match.Match(email, strPtr("equipment-fault"), skills)

		Expect(matches).To(HaveLen(1))
		Expect(matches[0].Score).To(Equal(1.0))
	})

	It("does not match a latin keyword inside a longer word", func() {
		skills[0].Rules = []model.Rule{
			{ID: 3002, Name: "pets", TriggerKeywords: []string{"cat"}, Priority: 1},
		}
		email := &model.Email{Body: "please send me your product catalog"}

		Expect(match.Match(email, strPtr("equipment-fault"), skills)).To(BeEmpty())
	})

	It("matches multi-word latin phrases as substrings", func() {
		skills[0].Rules = []model.Rule{
			{ID: 3003, Name: "tracking", TriggerKeywords: []string{"tracking number"}, Priority: 1},
		}
		email := &model.Email{Body: "where is my tracking number?"}

		matches := match.Match(email, strPtr("equipment-fault"), skills)

		Expect(matches).To(HaveLen(1))
	})
})

var _ = Describe("Tokenize", func() {
	It("splits on non-alphanumeric boundaries and lowercases", func() {
		Expect(match.Tokenize("Refund my Order #123, please!")).To(
			Equal([]string{"refund", "my", "order", "123", "please"}))
	})

	It("keeps CJK runs as single tokens", func() {
		Expect(match.Tokenize("设备显示红灯报警")).To(Equal([]string{"设备显示红灯报警"}))
	})

	It("returns nothing for punctuation-only input", func() {
		Expect(match.Tokenize("!!! --- ...")).To(BeEmpty())
	})
})

var _ = Describe("SkillIDs and RuleIDs", func() {
	It("deduplicates skills and preserves ranked rule order", func() {
		matches := []match.RuleMatch{
			{SkillID: 1, RuleID: 11},
			{SkillID: 1, RuleID: 12},
			{SkillID: 2, RuleID: 21},
		}

		Expect(match.SkillIDs(matches)).To(Equal([]int64{1, 2}))
		Expect(match.RuleIDs(matches)).To(Equal([]int64{11, 12, 21}))
	})
})
