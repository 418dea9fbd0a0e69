package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fabfab/ragsentry/internal/auth"
	"github.com/fabfab/ragsentry/internal/chatstore"
	"github.com/fabfab/ragsentry/internal/config"
	"github.com/fabfab/ragsentry/internal/embedding"
	"github.com/fabfab/ragsentry/internal/filestore"
	"github.com/fabfab/ragsentry/internal/guardian"
	"github.com/fabfab/ragsentry/internal/httpapi"
	"github.com/fabfab/ragsentry/internal/indexing"
	"github.com/fabfab/ragsentry/internal/llmclient"
	"github.com/fabfab/ragsentry/internal/metrics"
	"github.com/fabfab/ragsentry/internal/orchestrator"
	"github.com/fabfab/ragsentry/internal/pdfextract"
	"github.com/fabfab/ragsentry/internal/promptcache"
	"github.com/fabfab/ragsentry/internal/ratelimit"
	"github.com/fabfab/ragsentry/internal/vectorstore"
	"github.com/fabfab/ragsentry/internal/websearch"
)

const indexWorkerCount = 2

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	var showVersion bool
	flag.BoolVar(&showVersion, "version", false, "print version information and exit")
	flag.Parse()

	if showVersion {
		fmt.Println("ragsentry dev build")
		return
	}

	cfg, err := config.FromEnv()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	files, err := filestore.New(cfg.DataDir)
	if err != nil {
		log.Fatalf("failed to set up filestore: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	chatStore, err := chatstore.NewPostgresStore(ctx, cfg.Database.URL, cfg.Database.MaxConnections)
	if err != nil {
		log.Fatalf("failed to connect chat store: %v", err)
	}
	defer chatStore.Close()

	vectorStore, err := vectorstore.NewPostgresStore(ctx, cfg.Database.URL, cfg.Database.MaxConnections, cfg.Embed.Dimension)
	if err != nil {
		log.Fatalf("failed to connect vector store: %v", err)
	}
	defer vectorStore.Close()

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, DB: cfg.Redis.DB})
	defer redisClient.Close()

	embedder := embedding.New(cfg.Embed.Host, cfg.Embed.Model, cfg.Embed.Dimension, cfg.Embed.Timeout, cfg.Embed.MaxInFlightBatches)
	primaryLLM := llmclient.NewPrimaryClient(cfg.LLM.PrimaryHost, cfg.LLM.PrimaryModel)
	fallbackLLM := llmclient.NewFallbackClient(cfg.LLM.FallbackHost, cfg.LLM.FallbackModel, cfg.LLM.FallbackKey)

	guardianEval := guardian.New(redisClient, cfg.Guardian.Enabled, cfg.Guardian.RemoteHost, cfg.Guardian.RemoteKey, cfg.Guardian.RemoteRateLimitPerMin, cfg.Guardian.CacheTTL)
	searchTool := websearch.New(redisClient, cfg.WebSearch.Endpoint, cfg.WebSearch.APIKey, cfg.WebSearch.AllowedDomains, cfg.WebSearch.CacheTTL, cfg.WebSearch.RateLimitPerMin)
	promptCache := promptcache.New()
	recorder := metrics.New(cfg.MetricsWindow)

	orchCfg := orchestrator.Config{
		RAGTopK:             cfg.RAG.TopK,
		RAGCtxChars:         cfg.RAG.CtxChars,
		MaxHistoryMessages:  cfg.RAG.MaxHistoryMessages,
		PrimaryTokenBudget:  cfg.LLM.PrimaryContextTokenBudget,
		MaxOutputTokens:     cfg.LLM.MaxOutputTokens,
		Temperature:         cfg.LLM.Temperature,
		WebSearchEnabled:    cfg.WebSearch.Enabled,
		WebSearchMaxResults: 3,
		TurnDeadline:        cfg.TurnDeadline,
	}
	chatService := orchestrator.New(chatStore, vectorStore, embedder, primaryLLM, fallbackLLM, guardianEval, searchTool, promptCache, recorder, orchCfg)

	tokenIssuer := auth.NewTokenIssuer(cfg.Auth.JWTSecret, cfg.Auth.JWTExpireMinutes)
	limiter := ratelimit.New(redisClient)

	indexQueue := indexing.NewRedisQueue(redisClient, "")
	extractor := pdfextract.New()
	pipeline := indexing.NewPipeline(chatStore, vectorStore, embedder, extractor, cfg.Embed.ChunkSize, cfg.Embed.ChunkOverlap, cfg.Embed.BatchSize)

	workerCtx, stopWorkers := context.WithCancel(context.Background())
	go indexing.StartWorkers(workerCtx, indexQueue, pipeline.Handle, indexWorkerCount)

	limits := httpapi.RateLimits{
		RegisterPerHour: cfg.RateLimit.RegisterPerHour,
		LoginPerMinute:  cfg.RateLimit.LoginPerMinute,
		ChatPerMinute:   cfg.RateLimit.ChatPerMinute,
		IndexPerMinute:  cfg.RateLimit.IndexPerMinute,
	}
	srv := httpapi.New(chatService, chatStore, vectorStore, files, indexQueue, tokenIssuer, limiter, recorder, limits, cfg.CORS.AllowedOrigins)

	httpServer := &http.Server{
		Addr:    cfg.Address,
		Handler: srv,
	}

	log.Printf("starting server on %s (data dir: %s, primary model: %s)", cfg.Address, cfg.DataDir, cfg.LLM.PrimaryModel)

	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("http server error: %v", err)
		}
	}()

	waitForShutdown(httpServer, stopWorkers)
}

func waitForShutdown(srv *http.Server, stopWorkers context.CancelFunc) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	stopWorkers()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
		if err := srv.Close(); err != nil {
			log.Printf("forced close failed: %v", err)
		}
	}

	log.Println("server stopped")
}
