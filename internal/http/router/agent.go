package router

import (
	"github.com/gin-gonic/gin"
	"mailbrain.app/agent/internal/http/handler"
)

func AgentRouter(rg *gin.RouterGroup, h *handler.AgentHandler) {
	rg.POST("/learn", h.Learn)
	rg.GET("/learn/status/:job_id", h.LearnStatus)
	rg.POST("/execute", h.Execute)
	rg.POST("/batch-execute", h.BatchExecute)
	rg.POST("/evolve", h.Evolve)
	rg.GET("/status", h.Status)
	rg.GET("/jobs/:job_id", h.JobStatus)
}
