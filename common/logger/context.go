package logger

import "context"

type contextKey string

const logFieldsKey contextKey = "log_fields"

// LogFields contains structured fields automatically added to all logs within
// a context. Pipeline stages enrich the context once and every log statement
// below them carries the email/skill/job identifiers without repeating them.
type LogFields struct {
	EmailID   *int64  // Email being classified/matched/drafted
	SkillID   *int64  // Skill being read or mutated
	ReplyID   *int64  // Reply under execution or evolution
	JobID     *int64  // Background job ID
	JobKind   *string // "learn", "evolve", "batch_execute"
	Category  *string // Classified email category
	Component string  // Component name (e.g., "agent.execution", "queue.consumer")
}

// WithLogFields enriches context with structured log fields.
// Multiple calls merge fields, with newer non-nil/non-empty values taking
// precedence. Context timeouts and cancellation are preserved.
func WithLogFields(ctx context.Context, fields LogFields) context.Context {
	merged := mergeFields(GetLogFields(ctx), fields)
	return context.WithValue(ctx, logFieldsKey, merged)
}

// GetLogFields retrieves log fields from context.
// Returns empty LogFields if none are set.
func GetLogFields(ctx context.Context) LogFields {
	if fields, ok := ctx.Value(logFieldsKey).(LogFields); ok {
		return fields
	}
	return LogFields{}
}

func mergeFields(existing, next LogFields) LogFields {
	result := existing

	if next.EmailID != nil {
		result.EmailID = next.EmailID
	}
	if next.SkillID != nil {
		result.SkillID = next.SkillID
	}
	if next.ReplyID != nil {
		result.ReplyID = next.ReplyID
	}
	if next.JobID != nil {
		result.JobID = next.JobID
	}
	if next.JobKind != nil {
		result.JobKind = next.JobKind
	}
	if next.Category != nil {
		result.Category = next.Category
	}
	if next.Component != "" {
		result.Component = next.Component
	}

	return result
}

// Ptr is a helper to create a pointer from a value, for setting LogFields
// inline: logger.WithLogFields(ctx, logger.LogFields{EmailID: logger.Ptr(id)})
func Ptr[T any](v T) *T {
	return &v
}

// Truncate truncates a string to maxLen characters, appending "..." if
// truncated. Useful for logging email bodies and templates.
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
