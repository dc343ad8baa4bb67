package main

import (
	"chatbot/config"
	"chatbot/controllers"
	"chatbot/logger"
	"chatbot/middlewares"
	"chatbot/routes"
	"chatbot/services"
	"context"
	"fmt"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.LogMode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger error: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	gin.SetMode(cfg.GinMode)
	ctx := context.Background()

	prompts, err := config.LoadPrompts(cfg.PromptVersion)
	if err != nil {
		log.Fatal("failed to load prompt templates", "error", err)
	}

	// 回答用と言い換え用でモデル・温度を分ける
	chatModel, err := services.NewOpenAIService(services.OpenAIOptions{
		APIKey:      cfg.OpenAIKey,
		BaseURL:     cfg.OpenAIBaseURL,
		Model:       cfg.ChatModel,
		Temperature: cfg.ChatTemperature,
	}, log)
	if err != nil {
		log.Fatal("failed to create chat model", "error", err)
	}
	condenseModel, err := services.NewOpenAIService(services.OpenAIOptions{
		APIKey:      cfg.OpenAIKey,
		BaseURL:     cfg.OpenAIBaseURL,
		Model:       cfg.CondenseModel,
		Temperature: cfg.CondenseTemperature,
	}, log)
	if err != nil {
		log.Fatal("failed to create condense model", "error", err)
	}

	store, closeStore, err := services.OpenDocumentStore(cfg, chatModel)
	if err != nil {
		log.Fatal("failed to open vector store", "backend", cfg.VectorBackend, "error", err)
	}
	defer closeStore()

	sites := services.OpenSiteStore(cfg, chatModel)
	if sites == nil {
		log.Warn("no site record store configured, tenant check disabled")
	}

	conversations, err := services.OpenConversationStore(ctx, cfg, log)
	if err != nil {
		log.Fatal("failed to open conversation store", "backend", cfg.ConversationBackend, "error", err)
	}

	var limiter middlewares.Limiter
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()
		limiter = middlewares.NewRedisLimiter(rdb, cfg.RateLimitPerMinute, time.Minute)
	}

	condenser, err := services.NewCondenser(condenseModel, prompts, cfg.CondenseTimeout)
	if err != nil {
		log.Fatal("failed to create condenser", "error", err)
	}
	assembler, err := services.NewPromptAssembler(prompts, cfg.PromptMaxChars)
	if err != nil {
		log.Fatal("failed to create prompt assembler", "error", err)
	}
	orchestrator := services.NewOrchestrator(
		condenser,
		services.NewRetriever(store, cfg.RetrievalMinScore, log),
		assembler,
		services.NewGenerator(chatModel, cfg.GenerationTimeout),
		cfg.RetrievalTopK,
		log,
	)

	router := routes.SetupRouter(routes.RouterConfig{
		ChatController: controllers.NewChatController(orchestrator, sites, conversations, cfg.HistoryLimit, log),
		Limiter:        limiter,
		CORSOrigins:    cfg.CORSOrigins,
		Log:            log,
	})

	port := ":" + cfg.Port
	log.Info("server starting",
		"port", port,
		"vector_backend", cfg.VectorBackend,
		"conversation_backend", cfg.ConversationBackend,
		"prompt_version", prompts.Version,
	)
	if err := router.Run(port); err != nil {
		log.Fatal("server failed to start", "error", err)
	}
}
