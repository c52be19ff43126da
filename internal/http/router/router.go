package router

import (
	"github.com/gin-gonic/gin"
	"mailbrain.app/agent/internal/agent"
	"mailbrain.app/agent/internal/http/handler"
	"mailbrain.app/agent/internal/scheduler"
	"mailbrain.app/agent/internal/skillio"
	"mailbrain.app/agent/internal/store"
)

// Dependencies carries everything the HTTP surface needs.
type Dependencies struct {
	Scheduler *scheduler.Scheduler
	Execution *agent.Execution
	Evolution *agent.Evolution
	Stores    *store.Stores
	Porter    *skillio.Porter
}

func SetupRoutes(router *gin.Engine, deps Dependencies) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	v1 := router.Group("/api/v1")
	{
		agentHandler := handler.NewAgentHandler(
			deps.Scheduler,
			deps.Execution,
			deps.Evolution,
			deps.Stores.Emails(),
			deps.Stores.Skills(),
			deps.Stores.Replies(),
		)
		AgentRouter(v1.Group("/agents"), agentHandler)

		skillHandler := handler.NewSkillHandler(deps.Stores.Skills(), deps.Stores.Provenance(), deps.Stores.ChangeLogs(), deps.Porter)
		SkillRouter(v1.Group("/skills"), skillHandler)
	}
}
