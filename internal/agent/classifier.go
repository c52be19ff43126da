// Package agent implements the three-phase pipeline: learning extracts
// skills from historical emails, execution classifies and drafts replies,
// evolution refines skills from human edits. Components are stateless and
// receive their stores and the model client as explicit dependencies.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"mailbrain.app/agent/common/llm"
	"mailbrain.app/agent/common/logger"
	"mailbrain.app/agent/internal/model"
)

// Classification is the classifier's verdict on one email. Category is nil
// for non-customer-service mail.
type Classification struct {
	IsCustomerService bool
	Category          *string
	Confidence        float64
	Reasoning         string
}

type classifyResponse struct {
	IsCustomerService bool    `json:"is_customer_service" jsonschema_description:"Whether this email is a customer service request"`
	Category          string  `json:"category" jsonschema:"enum=equipment-fault,enum=refund-cancellation,enum=price-inquiry,enum=technical-support,enum=logistics-issue,enum=complaint-suggestion,enum=other,enum=non-customer-service" jsonschema_description:"Problem category, or non-customer-service"`
	Confidence        float64 `json:"confidence" jsonschema_description:"Classification confidence 0.0-1.0"`
	Reasoning         string  `json:"reasoning" jsonschema_description:"One sentence explaining the decision"`
}

var classifySchema = llm.GenerateSchema[classifyResponse]()

const classifySystemPrompt = `You are an email triage assistant for a customer service team.
Classify the email into exactly one category. Use "non-customer-service" for
newsletters, spam, internal mail and anything that is not a customer asking
for help. Answer in the requested JSON shape only.`

// Classifier maps an email to a category label with one model call. The
// result is cached on the email record by the caller; an email that already
// carries a category is passed through without a model call.
type Classifier struct {
	llm     llm.Client
	timeout time.Duration
	retries int
}

func NewClassifier(client llm.Client, timeout time.Duration, retries int) *Classifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if retries < 0 {
		retries = 0
	}
	return &Classifier{llm: client, timeout: timeout, retries: retries}
}

// Classify returns the email's category. Transient model failures (rate
// limits, 5xx, network) are retried with exponential backoff up to the
// configured budget; malformed responses are not. After exhaustion the error
// wraps ErrClassification and the caller escalates.
func (c *Classifier) Classify(ctx context.Context, email *model.Email) (Classification, error) {
	if email.Category != nil && *email.Category != "" {
		slog.DebugContext(ctx, "email already classified, skipping model call",
			"email_id", email.ID,
			"category", *email.Category)
		return Classification{
			IsCustomerService: true,
			Category:          email.Category,
			Confidence:        1.0,
			Reasoning:         "previously classified",
		}, nil
	}

	ctx = logger.WithLogFields(ctx, logger.LogFields{Component: "agent.classifier"})

	var response classifyResponse
	var err error
	for attempt := 0; attempt <= c.retries; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, c.timeout)
		_, err = c.llm.Chat(callCtx, llm.Request{
			SystemPrompt: classifySystemPrompt,
			UserPrompt:   c.buildPrompt(email),
			SchemaName:   "classify_response",
			Schema:       classifySchema,
			Temperature:  llm.Temp(0.1), // Low temp for consistent labels
		}, &response)
		cancel()

		if err == nil {
			break
		}
		if !llm.IsRetryable(ctx, err) {
			return Classification{}, fmt.Errorf("%w: %w", ErrClassification, err)
		}
		slog.WarnContext(ctx, "classification retry",
			"email_id", email.ID,
			"attempt", attempt+1,
			"error", err)
		if attempt < c.retries {
			time.Sleep(time.Duration(1<<attempt) * time.Second)
		}
	}
	if err != nil {
		return Classification{}, fmt.Errorf("%w after %d attempts: %w", ErrClassification, c.retries+1, err)
	}

	result := Classification{
		IsCustomerService: response.IsCustomerService,
		Confidence:        response.Confidence,
		Reasoning:         response.Reasoning,
	}
	if response.Category != "non-customer-service" && response.IsCustomerService {
		category := response.Category
		result.Category = &category
	} else {
		result.IsCustomerService = false
	}

	slog.InfoContext(ctx, "email classified",
		"email_id", email.ID,
		"is_customer_service", result.IsCustomerService,
		"category", response.Category,
		"confidence", response.Confidence)

	return result, nil
}

func (c *Classifier) buildPrompt(email *model.Email) string {
	return fmt.Sprintf("From: %s\nSubject: %s\n\n%s",
		email.Sender, email.Subject, logger.Truncate(email.Body, 4000))
}
