package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"mailbrain.app/agent/internal/agent"
	"mailbrain.app/agent/internal/http/dto"
	"mailbrain.app/agent/internal/model"
	"mailbrain.app/agent/internal/store"
)

// JobScheduler is the slice of the scheduler the HTTP surface uses.
type JobScheduler interface {
	Enqueue(ctx context.Context, kind model.JobKind, payload any) (*model.Job, error)
	Status(ctx context.Context, jobID int64) (*model.Job, error)
	RunRecorded(ctx context.Context, kind model.JobKind, payload any, fn func(ctx context.Context) (any, error)) (*model.Job, any, error)
}

// Executor runs emails through the reply pipeline.
type Executor interface {
	Execute(ctx context.Context, email *model.Email, opts agent.ExecuteOptions) (*agent.ExecuteResult, error)
	ExecuteBatch(ctx context.Context, emails []model.Email, opts agent.ExecuteOptions, concurrency int) []agent.BatchItem
}

// Evolver runs the skill evolution cycle.
type Evolver interface {
	Run(ctx context.Context, params agent.EvolveParams) (*agent.EvolveSummary, error)
}

type AgentHandler struct {
	scheduler JobScheduler
	execution Executor
	evolution Evolver
	emails    store.EmailStore
	skills    store.SkillStore
	replies   store.ReplyStore
}

func NewAgentHandler(
	sched JobScheduler,
	execution Executor,
	evolution Evolver,
	emails store.EmailStore,
	skills store.SkillStore,
	replies store.ReplyStore,
) *AgentHandler {
	return &AgentHandler{
		scheduler: sched,
		execution: execution,
		evolution: evolution,
		emails:    emails,
		skills:    skills,
		replies:   replies,
	}
}

// Learn enqueues a learning run and returns immediately with the job id.
func (h *AgentHandler) Learn(c *gin.Context) {
	ctx := c.Request.Context()

	var req dto.LearnRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		slog.WarnContext(ctx, "invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	params := agent.LearnParams{
		CategoryFilter: req.Data.Category,
		StartDate:      parseDate(req.Data.StartDate),
		EndDate:        parseDate(req.Data.EndDate),
		Limit:          req.Data.Limit,
	}
	for _, p := range req.Data.Emails {
		email := p.ToModel()
		// History posted for learning is customer service unless flagged.
		if p.Category == nil && p.IsCustomerService == nil {
			email.IsCustomerService = true
		}
		if err := h.emails.Create(ctx, &email); err != nil {
			slog.WarnContext(ctx, "failed to persist learning email", "email_id", email.ID, "error", err)
		}
		params.Emails = append(params.Emails, email)
	}

	job, err := h.scheduler.Enqueue(ctx, model.JobKindLearn, params)
	if err != nil {
		slog.ErrorContext(ctx, "failed to enqueue learning job", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to enqueue learning job"})
		return
	}

	c.JSON(http.StatusAccepted, dto.JobEnqueuedResponse{JobID: job.ID, Status: string(job.Status)})
}

// LearnStatus reports the state of a learning job.
func (h *AgentHandler) LearnStatus(c *gin.Context) {
	h.JobStatus(c)
}

// JobStatus reports the state of any background job.
func (h *AgentHandler) JobStatus(c *gin.Context) {
	ctx := c.Request.Context()

	jobID, err := strconv.ParseInt(c.Param("job_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid job id"})
		return
	}

	job, err := h.scheduler.Status(ctx, jobID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load job"})
		return
	}

	c.JSON(http.StatusOK, toJobStatusResponse(job))
}

// Execute runs one email through the pipeline synchronously.
func (h *AgentHandler) Execute(c *gin.Context) {
	ctx := c.Request.Context()

	var req dto.ExecuteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		slog.WarnContext(ctx, "invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	email := req.Email.ToModel()
	if err := h.emails.Create(ctx, &email); err != nil {
		slog.ErrorContext(ctx, "failed to persist email", "email_id", email.ID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to persist email"})
		return
	}

	result, err := h.execution.Execute(ctx, &email, req.Options)
	if err != nil {
		if errors.Is(err, agent.ErrEmptyEmail) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "email body is empty"})
			return
		}
		slog.ErrorContext(ctx, "execution failed", "email_id", email.ID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "execution failed"})
		return
	}

	c.JSON(http.StatusOK, result)
}

// BatchExecute runs a batch synchronously while recording it as a job, so
// the outcome stays queryable after the response is consumed.
func (h *AgentHandler) BatchExecute(c *gin.Context) {
	ctx := c.Request.Context()

	var req dto.BatchExecuteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		slog.WarnContext(ctx, "invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	params := agent.BatchParams{Options: req.Options, Concurrency: req.Concurrency}
	for _, p := range req.Emails {
		email := p.ToModel()
		if err := h.emails.Create(ctx, &email); err != nil {
			slog.WarnContext(ctx, "failed to persist batch email", "email_id", email.ID, "error", err)
		}
		params.Emails = append(params.Emails, email)
	}

	job, result, err := h.scheduler.RunRecorded(ctx, model.JobKindBatchExecute, params,
		func(ctx context.Context) (any, error) {
			return h.execution.ExecuteBatch(ctx, params.Emails, params.Options, params.Concurrency), nil
		})
	if err != nil {
		slog.ErrorContext(ctx, "batch execution failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "batch execution failed"})
		return
	}

	items, _ := result.([]agent.BatchItem)
	c.JSON(http.StatusOK, dto.BatchExecuteResponse{JobID: job.ID, Results: items})
}

// Evolve runs the evolution cycle synchronously while recording it as a job.
func (h *AgentHandler) Evolve(c *gin.Context) {
	ctx := c.Request.Context()

	var req dto.EvolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		slog.WarnContext(ctx, "invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	params := agent.EvolveParams{
		ReplyID:     req.ReplyID,
		AIDraft:     req.AIDraft,
		HumanEdited: req.HumanEdited,
		Feedback:    req.Feedback,
	}

	job, result, err := h.scheduler.RunRecorded(ctx, model.JobKindEvolve, params,
		func(ctx context.Context) (any, error) {
			return h.evolution.Run(ctx, params)
		})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "reply not found"})
			return
		}
		slog.ErrorContext(ctx, "evolution failed", "reply_id", req.ReplyID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "evolution failed"})
		return
	}

	summary, _ := result.(*agent.EvolveSummary)
	resp := dto.EvolveResponse{JobID: job.ID, Status: string(job.Status)}
	if summary != nil {
		resp.SkillUpdated = summary.SkillUpdated
		resp.Changes = summary.Changes
		resp.SkippedReason = summary.SkippedReason
	}
	c.JSON(http.StatusOK, resp)
}

// Status reports system health, the skill library and aggregate pipeline
// performance.
func (h *AgentHandler) Status(c *gin.Context) {
	ctx := c.Request.Context()

	skillStats, err := h.skills.Stats(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to load skill stats", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load system status"})
		return
	}

	replyStats, err := h.replies.Stats(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to load reply stats", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load system status"})
		return
	}

	c.JSON(http.StatusOK, dto.SystemStatusResponse{
		SystemStatus: "operational",
		Agents: map[string]string{
			"learning":  "ready",
			"execution": "ready",
			"evolution": "ready",
		},
		SkillLibrary: skillStats,
		Performance: dto.PerformanceStats{
			SkillCoverage:  replyStats.SkillCoverage,
			AvgConfidence:  replyStats.AvgConfidence,
			EscalationRate: replyStats.EscalationRate,
		},
	})
}

func toJobStatusResponse(job *model.Job) dto.JobStatusResponse {
	resp := dto.JobStatusResponse{
		JobID:       job.ID,
		Kind:        string(job.Kind),
		Status:      string(job.Status),
		Error:       job.Error,
		CreatedAt:   job.CreatedAt,
		StartedAt:   job.StartedAt,
		CompletedAt: job.CompletedAt,
	}
	if len(job.Result) > 0 {
		var result any
		if err := json.Unmarshal(job.Result, &result); err == nil {
			resp.Result = result
		}
	}
	return resp
}

// parseDate accepts RFC 3339 timestamps and bare dates.
func parseDate(s *string) *time.Time {
	if s == nil || *s == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, *s); err == nil {
			return &t
		}
	}
	return nil
}
