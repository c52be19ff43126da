package agent_test

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"mailbrain.app/agent/common/llm"
	"mailbrain.app/agent/internal/agent"
	"mailbrain.app/agent/internal/model"
)

func chatAnswer(payload map[string]any) func(context.Context, llm.Request, any) (*llm.Response, error) {
	return func(_ context.Context, _ llm.Request, result any) (*llm.Response, error) {
		data, _ := json.Marshal(payload)
		if err := json.Unmarshal(data, result); err != nil {
			return nil, err
		}
		return &llm.Response{PromptTokens: 50, CompletionTokens: 20}, nil
	}
}

var _ = Describe("Classifier", func() {
	var (
		mockLLM    *mockLLMClient
		classifier *agent.Classifier
		ctx        context.Context
	)

	BeforeEach(func() {
		ctx = context.Background()
		mockLLM = &mockLLMClient{}
		classifier = agent.NewClassifier(mockLLM, 0, 2)
	})

	It("passes through an already classified email without a model call", func() {
		email := &model.Email{ID: 1, Category: stringPtr(model.CategoryPriceInquiry)}

		c, err := classifier.Classify(ctx, email)

		Expect(err).NotTo(HaveOccurred())
		Expect(mockLLM.callCount).To(BeZero())
		Expect(c.IsCustomerService).To(BeTrue())
		Expect(*c.Category).To(Equal(model.CategoryPriceInquiry))
	})

	It("classifies a new email into a category", func() {
		mockLLM.chatFn = chatAnswer(map[string]any{
			"is_customer_service": true,
			"category":            "equipment-fault",
			"confidence":          0.92,
			"reasoning":           "customer reports a device alarm",
		})
		email := &model.Email{ID: 2, Sender: "a@b.com", Subject: "设备问题", Body: "设备显示红灯报警"}

		c, err := classifier.Classify(ctx, email)

		Expect(err).NotTo(HaveOccurred())
		Expect(mockLLM.callCount).To(Equal(1))
		Expect(c.IsCustomerService).To(BeTrue())
		Expect(*c.Category).To(Equal(model.CategoryEquipmentFault))
		Expect(c.Confidence).To(BeNumerically("~", 0.92, 0.001))
	})

	It("maps non-customer-service mail to a nil category", func() {
		mockLLM.chatFn = chatAnswer(map[string]any{
			"is_customer_service": false,
			"category":            "non-customer-service",
			"confidence":          0.99,
			"reasoning":           "newsletter",
		})
		email := &model.Email{ID: 3, Body: "weekly digest"}

		c, err := classifier.Classify(ctx, email)

		Expect(err).NotTo(HaveOccurred())
		Expect(c.IsCustomerService).To(BeFalse())
		Expect(c.Category).To(BeNil())
	})

	It("does not retry a malformed response", func() {
		mockLLM.chatFn = func(_ context.Context, _ llm.Request, _ any) (*llm.Response, error) {
			return nil, &json.SyntaxError{}
		}
		email := &model.Email{ID: 4, Body: "broken"}

		_, err := classifier.Classify(ctx, email)

		Expect(err).To(MatchError(agent.ErrClassification))
		Expect(mockLLM.callCount).To(Equal(1))
	})

	It("does not retry on context cancellation", func() {
		cancelled, cancel := context.WithCancel(ctx)
		cancel()
		mockLLM.chatFn = func(callCtx context.Context, _ llm.Request, _ any) (*llm.Response, error) {
			return nil, callCtx.Err()
		}
		email := &model.Email{ID: 5, Body: "slow"}

		_, err := classifier.Classify(cancelled, email)

		Expect(err).To(MatchError(agent.ErrClassification))
		Expect(mockLLM.callCount).To(Equal(1))
	})

	It("does not back off once the retry budget is spent", func() {
		classifier = agent.NewClassifier(mockLLM, 0, 0)
		mockLLM.chatFn = func(context.Context, llm.Request, any) (*llm.Response, error) {
			return nil, errors.New("connection reset")
		}
		email := &model.Email{ID: 6, Body: "flaky network"}

		start := time.Now()
		_, err := classifier.Classify(ctx, email)

		Expect(err).To(MatchError(agent.ErrClassification))
		Expect(mockLLM.callCount).To(Equal(1))
		Expect(time.Since(start)).To(BeNumerically("<", 500*time.Millisecond))
	})
})
