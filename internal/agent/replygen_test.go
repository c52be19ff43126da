package agent_test

import (
	"context"
	"encoding/json"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"mailbrain.app/agent/common/llm"
	"mailbrain.app/agent/internal/agent"
	"mailbrain.app/agent/internal/model"
)

var _ = Describe("ReplyGenerator", func() {
	var (
		mockLLM   *mockLLMClient
		generator *agent.ReplyGenerator
		ctx       context.Context
	)

	BeforeEach(func() {
		ctx = context.Background()
		mockLLM = &mockLLMClient{}
		generator = agent.NewReplyGenerator(mockLLM, 0, 0, "Acme Support")
	})

	Describe("RenderTemplate", func() {
		It("substitutes customer and company placeholders", func() {
			email := &model.Email{Sender: "li.wei@example.com", SenderName: stringPtr("Li Wei")}
			rule := &model.Rule{
				Name:             "greeting",
				ResponseTemplate: "Dear {{customer_name}}, thank you for contacting {{company_name}}.",
			}

			draft, err := generator.RenderTemplate(email, rule)

			Expect(err).NotTo(HaveOccurred())
			Expect(draft).To(Equal("Dear Li Wei, thank you for contacting Acme Support."))
		})

		It("accepts single-brace placeholders", func() {
			email := &model.Email{Sender: "li.wei@example.com"}
			rule := &model.Rule{ResponseTemplate: "Hi {customer_name}, regards {company_name}."}

			draft, err := generator.RenderTemplate(email, rule)

			Expect(err).NotTo(HaveOccurred())
			Expect(draft).To(Equal("Hi li.wei, regards Acme Support."))
		})

		It("fails on an unresolved placeholder instead of leaking it", func() {
			email := &model.Email{Sender: "a@b.com"}
			rule := &model.Rule{Name: "broken", ResponseTemplate: "Your order {{order_number}} shipped."}

			_, err := generator.RenderTemplate(email, rule)

			Expect(err).To(MatchError(agent.ErrTemplateRender))
			Expect(err.Error()).To(ContainSubstring("order_number"))
		})

		It("falls back to the address local part without a sender name", func() {
			email := &model.Email{Sender: "zhang.san@example.com"}
			rule := &model.Rule{ResponseTemplate: "Dear {{customer_name}}."}

			draft, err := generator.RenderTemplate(email, rule)

			Expect(err).NotTo(HaveOccurred())
			Expect(draft).To(Equal("Dear zhang.san."))
		})
	})

	Describe("GenerateFallback", func() {
		It("drafts with the model", func() {
			mockLLM.chatFn = func(_ context.Context, _ llm.Request, result any) (*llm.Response, error) {
				data, _ := json.Marshal(map[string]any{"reply": "We are looking into the alarm."})
				Expect(json.Unmarshal(data, result)).To(Succeed())
				return &llm.Response{}, nil
			}
			email := &model.Email{ID: 1, Sender: "a@b.com", Body: "红灯报警"}

			draft := generator.GenerateFallback(ctx, email, stringPtr(model.CategoryEquipmentFault))

			Expect(draft).To(Equal("We are looking into the alarm."))
		})

		It("degrades to the courtesy reply when the model fails", func() {
			mockLLM.chatFn = func(_ context.Context, _ llm.Request, _ any) (*llm.Response, error) {
				return nil, &json.SyntaxError{}
			}
			email := &model.Email{ID: 2, Sender: "li.wei@example.com", Body: "help"}

			draft := generator.GenerateFallback(ctx, email, nil)

			Expect(draft).To(ContainSubstring("Dear li.wei"))
			Expect(draft).To(ContainSubstring("Acme Support"))
		})
	})
})
