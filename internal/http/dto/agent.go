package dto

import (
	"time"

	"mailbrain.app/agent/common/id"
	"mailbrain.app/agent/internal/agent"
	"mailbrain.app/agent/internal/model"
)

// EmailPayload is an inbound email on the wire. ID is optional; a fresh one
// is minted for emails the system has not seen.
type EmailPayload struct {
	ID         int64   `json:"id,omitempty"`
	Sender     string  `json:"sender" binding:"required"`
	SenderName *string `json:"sender_name,omitempty"`
	Recipient  string  `json:"recipient,omitempty"`
	Subject    string  `json:"subject,omitempty"`
	Body       string  `json:"body" binding:"required"`
	ReceivedAt *string `json:"received_at,omitempty"`
	Category   *string `json:"category,omitempty"`

	// IsCustomerService overrides the category heuristic when set.
	IsCustomerService *bool `json:"is_customer_service,omitempty"`
}

func (p EmailPayload) ToModel() model.Email {
	emailID := p.ID
	if emailID == 0 {
		emailID = id.New()
	}
	receivedAt := time.Now()
	if p.ReceivedAt != nil {
		if t, err := time.Parse(time.RFC3339, *p.ReceivedAt); err == nil {
			receivedAt = t
		}
	}
	isCS := p.Category != nil
	if p.IsCustomerService != nil {
		isCS = *p.IsCustomerService
	}
	return model.Email{
		ID:                emailID,
		Sender:            p.Sender,
		SenderName:        p.SenderName,
		Recipient:         p.Recipient,
		Subject:           p.Subject,
		Body:              p.Body,
		ReceivedAt:        receivedAt,
		Category:          p.Category,
		IsCustomerService: isCS,
	}
}

type LearnRequest struct {
	Source string    `json:"source,omitempty"`
	Data   LearnData `json:"data"`
}

type LearnData struct {
	Emails    []EmailPayload `json:"emails,omitempty"`
	StartDate *string        `json:"start_date,omitempty"`
	EndDate   *string        `json:"end_date,omitempty"`
	Category  *string        `json:"category,omitempty"`
	Limit     int            `json:"limit,omitempty"`
}

type ExecuteRequest struct {
	Email   EmailPayload         `json:"email" binding:"required"`
	Options agent.ExecuteOptions `json:"options"`
}

type BatchExecuteRequest struct {
	Emails      []EmailPayload       `json:"emails" binding:"required,min=1"`
	Options     agent.ExecuteOptions `json:"options"`
	Concurrency int                  `json:"concurrency,omitempty"`
}

type EvolveRequest struct {
	ReplyID     int64  `json:"reply_id" binding:"required"`
	AIDraft     string `json:"ai_draft,omitempty"`
	HumanEdited string `json:"human_edited" binding:"required"`
	Feedback    string `json:"feedback,omitempty"`
}

type JobEnqueuedResponse struct {
	JobID  int64  `json:"job_id"`
	Status string `json:"status"`
}

type JobStatusResponse struct {
	JobID       int64      `json:"job_id"`
	Kind        string     `json:"kind"`
	Status      string     `json:"status"`
	Result      any        `json:"result,omitempty"`
	Error       *string    `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

type BatchExecuteResponse struct {
	JobID   int64             `json:"job_id"`
	Results []agent.BatchItem `json:"results"`
}

type EvolveResponse struct {
	JobID         int64                 `json:"job_id"`
	Status        string                `json:"status"`
	SkillUpdated  bool                  `json:"skill_updated"`
	Changes       []agent.AppliedChange `json:"changes"`
	SkippedReason string                `json:"skipped_reason,omitempty"`
}

type SystemStatusResponse struct {
	SystemStatus string            `json:"system_status"`
	Agents       map[string]string `json:"agents"`
	SkillLibrary any               `json:"skill_library"`
	Performance  PerformanceStats  `json:"performance"`
}

type PerformanceStats struct {
	SkillCoverage  float64 `json:"skill_coverage"`
	AvgConfidence  float64 `json:"avg_confidence"`
	EscalationRate float64 `json:"escalation_rate"`
}
