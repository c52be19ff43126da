package agent

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"mailbrain.app/agent/common/llm"
	"mailbrain.app/agent/common/logger"
	"mailbrain.app/agent/internal/model"
)

type draftResponse struct {
	Reply string `json:"reply" jsonschema_description:"The full reply text, ready to send"`
}

var draftSchema = llm.GenerateSchema[draftResponse]()

const draftSystemPrompt = `You draft customer service email replies. Write a
short, polite, concrete reply in the same language as the customer's email.
Do not invent order numbers, prices or commitments the context does not
support. Answer in the requested JSON shape only.`

// placeholderPattern matches {{name}} and {name} template placeholders.
var placeholderPattern = regexp.MustCompile(`\{\{\s*([a-zA-Z_]+)\s*\}\}|\{([a-zA-Z_]+)\}`)

// ReplyGenerator renders drafts. The template path is deterministic; the
// model path covers escalations and templates that fail to render, and its
// drafts are always low confidence and never auto-sent.
type ReplyGenerator struct {
	llm         llm.Client
	timeout     time.Duration
	retries     int
	companyName string
}

func NewReplyGenerator(client llm.Client, timeout time.Duration, retries int, companyName string) *ReplyGenerator {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if companyName == "" {
		companyName = "our team"
	}
	return &ReplyGenerator{llm: client, timeout: timeout, retries: retries, companyName: companyName}
}

// RenderTemplate substitutes the rule's response template for the email.
// A placeholder with no known substitution fails with ErrTemplateRender
// instead of leaking raw braces into the draft.
func (g *ReplyGenerator) RenderTemplate(email *model.Email, rule *model.Rule) (string, error) {
	values := map[string]string{
		"customer_name": customerName(email),
		"company_name":  g.companyName,
	}

	var unresolved string
	draft := placeholderPattern.ReplaceAllStringFunc(rule.ResponseTemplate, func(m string) string {
		groups := placeholderPattern.FindStringSubmatch(m)
		name := groups[1]
		if name == "" {
			name = groups[2]
		}
		if v, ok := values[name]; ok {
			return v
		}
		if unresolved == "" {
			unresolved = name
		}
		return m
	})
	if unresolved != "" {
		return "", fmt.Errorf("%w: unresolved placeholder %q in rule %q", ErrTemplateRender, unresolved, rule.Name)
	}

	return draft, nil
}

// GenerateFallback drafts a best-effort reply with the model, for
// escalations and failed template renders. When the model itself fails the
// draft degrades to a deterministic courtesy reply so execution always has
// something to show a human.
func (g *ReplyGenerator) GenerateFallback(ctx context.Context, email *model.Email, category *string) string {
	ctx = logger.WithLogFields(ctx, logger.LogFields{Component: "agent.replygen"})

	var response draftResponse
	var err error
	for attempt := 0; attempt <= g.retries; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, g.timeout)
		_, err = g.llm.Chat(callCtx, llm.Request{
			SystemPrompt: draftSystemPrompt,
			UserPrompt:   g.buildPrompt(email, category),
			SchemaName:   "draft_response",
			Schema:       draftSchema,
			MaxTokens:    600,
		}, &response)
		cancel()

		if err == nil && strings.TrimSpace(response.Reply) != "" {
			return response.Reply
		}
		if err != nil && !llm.IsRetryable(ctx, err) {
			break
		}
		slog.WarnContext(ctx, "fallback draft retry",
			"email_id", email.ID,
			"attempt", attempt+1,
			"error", err)
		if attempt < g.retries {
			time.Sleep(time.Duration(1<<attempt) * time.Second)
		}
	}

	slog.WarnContext(ctx, "fallback draft degraded to courtesy reply",
		"email_id", email.ID,
		"error", err)
	return g.courtesyReply(email)
}

func (g *ReplyGenerator) buildPrompt(email *model.Email, category *string) string {
	var b strings.Builder
	if category != nil && *category != "" {
		fmt.Fprintf(&b, "Category: %s\n", *category)
	}
	fmt.Fprintf(&b, "From: %s\nSubject: %s\n\n%s",
		email.Sender, email.Subject, logger.Truncate(email.Body, 4000))
	return b.String()
}

func (g *ReplyGenerator) courtesyReply(email *model.Email) string {
	return fmt.Sprintf(
		"Dear %s,\n\nThank you for contacting %s. We have received your message and a member of our team will get back to you shortly.\n\nBest regards,\n%s",
		customerName(email), g.companyName, g.companyName)
}

// customerName is the sender's display name, falling back to the local part
// of the address.
func customerName(email *model.Email) string {
	if email.SenderName != nil && strings.TrimSpace(*email.SenderName) != "" {
		return strings.TrimSpace(*email.SenderName)
	}
	if at := strings.IndexByte(email.Sender, '@'); at > 0 {
		return email.Sender[:at]
	}
	return "customer"
}
