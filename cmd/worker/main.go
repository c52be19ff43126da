package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"mailbrain.app/agent/common/id"
	"mailbrain.app/agent/common/llm"
	"mailbrain.app/agent/common/logger"
	"mailbrain.app/agent/common/otel"
	"mailbrain.app/agent/core/config"
	"mailbrain.app/agent/core/db"
	"mailbrain.app/agent/internal/agent"
	"mailbrain.app/agent/internal/queue"
	"mailbrain.app/agent/internal/store"
	"mailbrain.app/agent/internal/worker"
)

func main() {
	fmt.Printf("%s\n", banner)
	ctx := context.Background()

	cfg, err := config.Load(config.ServiceTypeWorker)
	if err != nil {
		slog.ErrorContext(ctx, "failed to load config", "error", err)
		os.Exit(1)
	}

	telemetry, err := otel.Setup(ctx, cfg.OTel)
	if err != nil {
		os.Stderr.WriteString("failed to initialize otel: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger.Setup(cfg)

	slog.InfoContext(ctx, "mailbrain worker starting",
		"env", cfg.Env,
		"consumer_group", cfg.Pipeline.RedisGroup,
		"consumer_name", cfg.Pipeline.RedisConsumer)

	// Different node ID than the server so snowflake IDs never collide
	if err := id.Init(2); err != nil {
		slog.ErrorContext(ctx, "failed to initialize id generator", "error", err)
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
	defer redisClient.Close()
	slog.InfoContext(ctx, "redis connected", "stream", cfg.Pipeline.RedisStream)

	consumer, err := queue.NewRedisConsumer(redisClient, queue.ConsumerConfig{
		Stream:       cfg.Pipeline.RedisStream,
		Group:        cfg.Pipeline.RedisGroup,
		Consumer:     cfg.Pipeline.RedisConsumer,
		DLQStream:    cfg.Pipeline.RedisDLQStream,
		BatchSize:    1, // one job at a time; jobs fan out internally
		Block:        5 * time.Second,
		MaxAttempts:  3,
		RequeueDelay: time.Second,
	})
	if err != nil {
		slog.ErrorContext(ctx, "failed to create consumer", "error", err)
		os.Exit(1)
	}

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
	learning := agent.NewLearning(
		stores.Skills(), stores.Emails(), stores.Provenance(), stores.ChangeLogs(), mutator,
		llmClient, cfg.Agent.ModelTimeout, cfg.Agent.ModelRetries,
		cfg.Agent.LearnEmailLimit, cfg.Agent.LearnGroupSample,
	)
	evolution := agent.NewEvolution(
		stores.Replies(), stores.Skills(), stores.Provenance(), stores.ChangeLogs(), mutator,
		llmClient, cfg.Agent.ModelTimeout, cfg.Agent.ModelRetries, cfg.Agent.MinEditDistance,
	)

	w := worker.New(consumer, stores.Jobs(), learning, evolution, execution, worker.Config{
		MaxAttempts:      3,
		JobTimeout:       cfg.Agent.JobTimeout,
		BatchConcurrency: cfg.Agent.BatchConcurrency,
	})

	reclaimer := worker.NewReclaimer(redisClient, worker.ReclaimerConfig{
		Stream:    cfg.Pipeline.RedisStream,
		Group:     cfg.Pipeline.RedisGroup,
		Consumer:  cfg.Pipeline.RedisConsumer + "-reclaimer",
		MinIdle:   5 * time.Minute,
		Interval:  1 * time.Minute,
		BatchSize: 10,
	}, w.ProcessMessage)

	errCh := make(chan error, 2)
	go func() {
		errCh <- w.Run(ctx)
	}()
	go func() {
		reclaimer.Run(ctx)
		errCh <- nil
	}()

	slog.InfoContext(ctx, "worker initialized and running")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.InfoContext(ctx, "shutting down worker...")

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	// Reclaimer first, it stops quickly; the worker may be mid-job
	reclaimer.Stop()
	w.Stop()

	select {
	case <-shutdownCtx.Done():
		slog.WarnContext(ctx, "shutdown timeout exceeded")
	case err := <-errCh:
		if err != nil {
			slog.ErrorContext(ctx, "worker error during shutdown", "error", err)
		}
	}

	if telemetry != nil {
		if err := telemetry.Shutdown(shutdownCtx); err != nil {
			slog.ErrorContext(shutdownCtx, "otel shutdown error", "error", err)
		}
	}

	slog.InfoContext(shutdownCtx, "worker shutdown complete")
}

const banner = `
███╗   ███╗ █████╗ ██╗██╗     ██████╗ ██████╗  █████╗ ██╗███╗   ██╗
████╗ ████║██╔══██╗██║██║     ██╔══██╗██╔══██╗██╔══██╗██║████╗  ██║
██╔████╔██║███████║██║██║     ██████╔╝██████╔╝███████║██║██╔██╗ ██║
██║╚██╔╝██║██╔══██║██║██║     ██╔══██╗██╔══██╗██╔══██║██║██║╚██╗██║
██║ ╚═╝ ██║██║  ██║██║███████╗██████╔╝██║  ██║██║  ██║██║██║ ╚████║
╚═╝     ╚═╝╚═╝  ╚═╝╚═╝╚══════╝╚═════╝ ╚═╝  ╚═╝╚═╝  ╚═╝╚═╝╚═╝  ╚═══╝
                                        worker
`
