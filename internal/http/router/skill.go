package router

import (
	"github.com/gin-gonic/gin"
	"mailbrain.app/agent/internal/http/handler"
)

func SkillRouter(rg *gin.RouterGroup, h *handler.SkillHandler) {
	rg.GET("", h.List)
	rg.GET("/categories", h.Categories)
	rg.GET("/export", h.Export)
	rg.POST("/import", h.Import)
	rg.GET("/:id", h.GetByID)
	rg.GET("/:id/source-emails", h.SourceEmails)
	rg.GET("/:id/changelog", h.ChangeLog)
}
