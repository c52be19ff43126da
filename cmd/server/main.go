package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"mailbrain.app/agent/common/id"
	"mailbrain.app/agent/common/llm"
	"mailbrain.app/agent/common/logger"
	"mailbrain.app/agent/common/otel"
	"mailbrain.app/agent/core/config"
	"mailbrain.app/agent/core/db"
	"mailbrain.app/agent/internal/agent"
	"mailbrain.app/agent/internal/http/middleware"
	httprouter "mailbrain.app/agent/internal/http/router"
	"mailbrain.app/agent/internal/queue"
	"mailbrain.app/agent/internal/scheduler"
	"mailbrain.app/agent/internal/skillio"
	"mailbrain.app/agent/internal/store"
)

func main() {
	fmt.Printf("%s\n", banner)
	ctx := context.Background()

	cfg, err := config.Load(config.ServiceTypeServer)
	if err != nil {
		slog.ErrorContext(ctx, "failed to load config", "error", err)
		os.Exit(1)
	}

	// OTel must init before logger (logger uses OTel provider in production)
	telemetry, err := otel.Setup(ctx, cfg.OTel)
	if err != nil {
		os.Stderr.WriteString("failed to initialize otel: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger.Setup(cfg)

	if telemetry != nil {
		slog.InfoContext(ctx, "otel initialized", "endpoint", cfg.OTel.Endpoint)
	} else {
		slog.InfoContext(ctx, "otel disabled (no endpoint configured)")
	}

	slog.InfoContext(ctx, "mailbrain server starting", "env", cfg.Env, "service", cfg.OTel.ServiceName)
	if err := id.Init(1); err != nil {
		slog.ErrorContext(ctx, "failed to initialize snowflake id generator", "error", err)
		os.Exit(1)
	}

	database, err := db.New(ctx, cfg.DB)
	if err != nil {
		slog.ErrorContext(ctx, "failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer database.Close()
	slog.InfoContext(ctx, "database connected")

	redisOpts, err := redis.ParseURL(cfg.Pipeline.RedisURL)
	if err != nil {
		slog.ErrorContext(ctx, "failed to parse redis url", "error", err)
		os.Exit(1)
	}

	redisClient := redis.NewClient(redisOpts)
	if err := redisClient.Ping(ctx).Err(); err != nil {
		slog.ErrorContext(ctx, "failed to connect to redis", "error", err)
		os.Exit(1)
	}
	slog.InfoContext(ctx, "redis connected", "stream", cfg.Pipeline.RedisStream)

	jobProducer := queue.NewRedisProducer(redisClient, cfg.Pipeline.RedisStream)
	defer jobProducer.Close()

	llmClient, err := llm.New(llm.Config{
		APIKey:  cfg.LLM.APIKey,
		BaseURL: cfg.LLM.BaseURL,
		Model:   cfg.LLM.Model,
	})
	if err != nil {
		slog.ErrorContext(ctx, "failed to create llm client", "error", err)
		os.Exit(1)
	}

	stores := store.NewStores(database.Pool())
	mutator := store.NewSkillMutator(stores.Skills(), cfg.Agent.MutationRetries)

	classifier := agent.NewClassifier(llmClient, cfg.Agent.ModelTimeout, cfg.Agent.ModelRetries)
	generator := agent.NewReplyGenerator(llmClient, cfg.Agent.ModelTimeout, cfg.Agent.ModelRetries, cfg.Agent.CompanyName)
	execution := agent.NewExecution(
		stores.Skills(), stores.Emails(), stores.Replies(), mutator,
		classifier, generator,
		agent.EscalationPolicy{MatchThreshold: cfg.Agent.MatchThreshold, HighConfidence: cfg.Agent.HighConfidence},
	)
	evolution := agent.NewEvolution(
		stores.Replies(), stores.Skills(), stores.Provenance(), stores.ChangeLogs(), mutator,
		llmClient, cfg.Agent.ModelTimeout, cfg.Agent.ModelRetries, cfg.Agent.MinEditDistance,
	)

	sched := scheduler.New(stores.Jobs(), jobProducer, cfg.Agent.JobTimeout)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := setupRouter(cfg, httprouter.Dependencies{
		Scheduler: sched,
		Execution: execution,
		Evolution: evolution,
		Stores:    stores,
		Porter:    skillio.NewPorter(stores.Skills()),
	})
	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      120 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		slog.InfoContext(ctx, "http server starting", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.ErrorContext(ctx, "http server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.InfoContext(ctx, "shutting down...")

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.ErrorContext(shutdownCtx, "http server shutdown error", "error", err)
	}

	if telemetry != nil {
		if err := telemetry.Shutdown(shutdownCtx); err != nil {
			slog.ErrorContext(shutdownCtx, "otel shutdown error", "error", err)
		}
	}

	slog.InfoContext(shutdownCtx, "shutdown complete")
}

func setupRouter(cfg config.Config, deps httprouter.Dependencies) *gin.Engine {
	router := gin.New()

	// Order matters: OTel creates span → Recovery catches panics → Logger logs with trace context
	if cfg.OTel.Enabled() {
		router.Use(otelgin.Middleware(cfg.OTel.ServiceName))
	}
	router.Use(middleware.Recovery())
	router.Use(middleware.Logger())

	httprouter.SetupRoutes(router, deps)

	return router
}

const banner = `
███╗   ███╗ █████╗ ██╗██╗     ██████╗ ██████╗  █████╗ ██╗███╗   ██╗
████╗ ████║██╔══██╗██║██║     ██╔══██╗██╔══██╗██╔══██╗██║████╗  ██║
██╔████╔██║███████║██║██║     ██████╔╝██████╔╝███████║██║██╔██╗ ██║
██║╚██╔╝██║██╔══██║██║██║     ██╔══██╗██╔══██╗██╔══██║██║██║╚██╗██║
██║ ╚═╝ ██║██║  ██║██║███████╗██████╔╝██║  ██║██║  ██║██║██║ ╚████║
╚═╝     ╚═╝╚═╝  ╚═╝╚═╝╚══════╝╚═════╝ ╚═╝  ╚═╝╚═╝  ╚═╝╚═╝╚═╝  ╚═══╝
`
