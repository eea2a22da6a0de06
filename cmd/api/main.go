package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/outletmedia/sales-ai-platform/internal/api/router"
	appconfig "github.com/outletmedia/sales-ai-platform/internal/config"
	"github.com/outletmedia/sales-ai-platform/internal/conversation"
	"github.com/outletmedia/sales-ai-platform/internal/crm"
	"github.com/outletmedia/sales-ai-platform/internal/funnel"
	"github.com/outletmedia/sales-ai-platform/internal/llm"
	"github.com/outletmedia/sales-ai-platform/internal/observability/metrics"
	"github.com/outletmedia/sales-ai-platform/internal/orchestrator"
	"github.com/outletmedia/sales-ai-platform/internal/webhook"
	"github.com/outletmedia/sales-ai-platform/pkg/logging"
)

var version = "dev"

func main() {
	_ = godotenv.Load()

	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting sales-ai-platform API server",
		"env", cfg.Env,
		"port", cfg.Port,
		"version", version,
	)

	ctx := context.Background()

	// CRM gateway with breaker and retry policy.
	gatewayMetrics := metrics.NewGatewayMetrics(nil)
	breaker := crm.NewBreaker(cfg.BreakerFailureThreshold, cfg.BreakerResetTimeout, cfg.BreakerHalfOpenMaxProbes)
	gateway := crm.NewClient(cfg.CRMBaseURL, cfg.CRMAPIKey, cfg.CRMLocationID, cfg.CRMAPIVersion, logger,
		crm.WithBreaker(breaker),
		crm.WithRetryPolicy(cfg.RetryMaxAttempts, cfg.RetryBaseDelay),
		crm.WithHTTPClient(&http.Client{Timeout: cfg.CRMTimeout}),
		crm.WithMetrics(gatewayMetrics),
	)

	// Fire-and-forget retry queue: Postgres-backed when a database is
	// configured, in-memory otherwise.
	var queue crm.RetryQueue
	if cfg.DatabaseURL != "" {
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Error("failed to connect to postgres", "error", err)
			os.Exit(1)
		}
		defer pool.Close()
		queue = crm.NewPostgresQueue(pool)
		logger.Info("using postgres retry queue")
	} else {
		queue = crm.NewMemoryQueue(0)
	}
	outbox := crm.NewOutbox(gateway, queue, logger,
		crm.WithSweepInterval(cfg.QueueSweepInterval),
		crm.WithMaxAttempts(cfg.QueueMaxAttempts),
		crm.WithSweepBatchSize(cfg.QueueSweepBatch),
		crm.WithQueueMetrics(gatewayMetrics),
	)
	outbox.Start()

	// Conversation cache: shared via Redis when configured.
	var cache conversation.Cache
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Error("failed to connect to redis", "error", err)
			os.Exit(1)
		}
		cache = conversation.NewRedisCache(rdb, cfg.CacheTTL)
		logger.Info("using redis conversation cache")
	} else {
		cache = conversation.NewMemoryCache(cfg.CacheTTL)
	}

	// Language model: Gemini primary, Bedrock Converse fallback.
	llmClient, llmModel := buildLLM(ctx, cfg, logger)

	synthOpts := []conversation.Option{
		conversation.WithWindowSize(cfg.ConversationWindowSize),
		conversation.WithPageLimit(cfg.MessagePageLimit),
		conversation.WithMinBudget(cfg.MinQualifyingBudget),
	}
	machineOpts := []funnel.MachineOption{
		funnel.WithDeduper(funnel.NewDeduper(cfg.DedupWindow)),
		funnel.WithMinBudget(cfg.MinQualifyingBudget),
		funnel.WithMaxExtractionAttempts(cfg.MaxExtractionAttempts),
	}
	if llmClient != nil {
		assist := orchestrator.NewLLMAssist(llmClient, llmModel)
		synthOpts = append(synthOpts, conversation.WithSummarizer(assist))
		machineOpts = append(machineOpts, funnel.WithExtractor(assist))
	}

	synth := conversation.NewSynthesizer(gateway, cache, logger, synthOpts...)
	machine := funnel.NewMachine(logger, machineOpts...)

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		logger.Warn("invalid timezone, using UTC", "timezone", cfg.Timezone)
		loc = time.UTC
	}

	webhookMetrics := metrics.NewWebhookMetrics(nil)
	pipeline := orchestrator.New(synth, machine, gateway, outbox, cfg.DefaultCalendarID, logger,
		orchestrator.WithMetrics(webhookMetrics),
		orchestrator.WithLocation(loc),
	)

	handler := webhook.NewHandler(pipeline, logger,
		webhook.WithGatewayHealth(gateway),
		webhook.WithQueueHealth(outbox),
		webhook.WithMetrics(webhookMetrics),
		webhook.WithVersion(version),
		webhook.WithLLMConfigured(llmClient != nil),
	)

	r := router.New(&router.Config{
		Logger:         logger,
		WebhookHandler: handler,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", "error", err)
	}
	if err := outbox.Shutdown(shutdownCtx); err != nil {
		logger.Error("outbox shutdown failed", "error", err)
	}
	logger.Info("stopped")
}

// buildLLM assembles the model chain from whatever credentials are
// present. Running without a model is allowed: extraction degrades to
// pattern matching and summaries are skipped.
func buildLLM(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) (llm.Client, string) {
	var primary llm.Client
	model := cfg.GeminiModelID

	if cfg.GeminiAPIKey != "" {
		gemini, err := llm.NewGeminiClient(ctx, cfg.GeminiAPIKey, cfg.GeminiModelID)
		if err != nil {
			logger.Error("gemini init failed", "error", err)
		} else {
			primary = gemini
		}
	}

	var secondary llm.Client
	if cfg.BedrockModelID != "" {
		brClient, err := newBedrockRuntime(ctx, cfg)
		if err != nil {
			logger.Error("bedrock init failed", "error", err)
		} else {
			secondary = llm.NewBedrockClient(brClient, cfg.BedrockModelID)
			if primary == nil {
				primary = secondary
				secondary = nil
				model = cfg.BedrockModelID
			}
		}
	}

	if primary == nil {
		logger.Warn("no language model configured, falling back to pattern extraction only")
		return nil, ""
	}
	if secondary != nil {
		logger.Info("llm chain configured", "primary", model, "fallback", cfg.BedrockModelID)
		return llm.NewFallbackClient(primary, secondary, logger), model
	}
	return primary, model
}
