package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"mailbrain.app/agent/internal/http/dto"
	"mailbrain.app/agent/internal/skillio"
	"mailbrain.app/agent/internal/store"
)

type SkillHandler struct {
	skills     store.SkillStore
	provenance store.ProvenanceStore
	changelogs store.ChangeLogStore
	porter     *skillio.Porter
}

func NewSkillHandler(skills store.SkillStore, provenance store.ProvenanceStore, changelogs store.ChangeLogStore, porter *skillio.Porter) *SkillHandler {
	return &SkillHandler{skills: skills, provenance: provenance, changelogs: changelogs, porter: porter}
}

// List returns skill summaries without rule bodies. Pass ?active=true to
// restrict to active skills.
func (h *SkillHandler) List(c *gin.Context) {
	ctx := c.Request.Context()

	activeOnly := c.Query("active") == "true"
	skills, err := h.skills.List(ctx, activeOnly)
	if err != nil {
		slog.ErrorContext(ctx, "failed to list skills", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list skills"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"skills": dto.ToSkillSummaries(skills), "total": len(skills)})
}

// GetByID returns one skill with its full rule set.
func (h *SkillHandler) GetByID(c *gin.Context) {
	ctx := c.Request.Context()

	skillID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid skill id"})
		return
	}

	skill, err := h.skills.GetByID(ctx, skillID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "skill not found"})
			return
		}
		slog.ErrorContext(ctx, "failed to load skill", "skill_id", skillID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load skill"})
		return
	}

	c.JSON(http.StatusOK, skill)
}

// SourceEmails returns the provenance edges for one skill: every email that
// produced or refined it.
func (h *SkillHandler) SourceEmails(c *gin.Context) {
	ctx := c.Request.Context()

	skillID, ok := h.skillID(c)
	if !ok {
		return
	}

	edges, err := h.provenance.ListBySkill(ctx, skillID)
	if err != nil {
		slog.ErrorContext(ctx, "failed to list source emails", "skill_id", skillID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list source emails"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"skill_id": skillID, "source_emails": edges, "total": len(edges)})
}

// ChangeLog returns the audit trail for one skill, newest first.
func (h *SkillHandler) ChangeLog(c *gin.Context) {
	ctx := c.Request.Context()

	skillID, ok := h.skillID(c)
	if !ok {
		return
	}

	entries, err := h.changelogs.ListBySkill(ctx, skillID)
	if err != nil {
		slog.ErrorContext(ctx, "failed to list change log", "skill_id", skillID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list change log"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"skill_id": skillID, "changes": entries, "total": len(entries)})
}

// skillID parses the :id param and verifies the skill exists, writing the
// error response itself when it does not.
func (h *SkillHandler) skillID(c *gin.Context) (int64, bool) {
	ctx := c.Request.Context()

	skillID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid skill id"})
		return 0, false
	}

	if _, err := h.skills.GetByID(ctx, skillID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "skill not found"})
			return 0, false
		}
		slog.ErrorContext(ctx, "failed to load skill", "skill_id", skillID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load skill"})
		return 0, false
	}

	return skillID, true
}

// Categories returns the distinct categories the library covers.
func (h *SkillHandler) Categories(c *gin.Context) {
	ctx := c.Request.Context()

	categories, err := h.skills.Categories(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to list categories", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list categories"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"categories": categories, "total": len(categories)})
}

// Export serializes the whole library, inactive skills included.
func (h *SkillHandler) Export(c *gin.Context) {
	ctx := c.Request.Context()

	lib, err := h.porter.Export(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to export skill library", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to export skill library"})
		return
	}

	data, err := skillio.Marshal(lib)
	if err != nil {
		slog.ErrorContext(ctx, "failed to serialize skill library", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to export skill library"})
		return
	}

	c.Header("Content-Disposition", `attachment; filename="skill-library.json"`)
	c.Data(http.StatusOK, "application/json", data)
}

// Import loads an exported library. Existing skills are skipped, never
// overwritten.
func (h *SkillHandler) Import(c *gin.Context) {
	ctx := c.Request.Context()

	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read request body"})
		return
	}

	lib, err := skillio.Unmarshal(body)
	if err != nil {
		slog.WarnContext(ctx, "invalid skill library payload", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	summary, err := h.porter.Import(ctx, lib)
	if err != nil {
		slog.ErrorContext(ctx, "failed to import skill library", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to import skill library"})
		return
	}

	c.JSON(http.StatusOK, summary)
}
