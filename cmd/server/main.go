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

	"github.com/joho/godotenv"

	"github.com/longyee25564126/QuizCraft/internal/api"
	"github.com/longyee25564126/QuizCraft/internal/config"
	"github.com/longyee25564126/QuizCraft/internal/embedcache"
	"github.com/longyee25564126/QuizCraft/internal/llm"
	"github.com/longyee25564126/QuizCraft/internal/pipeline"
)

func main() {
	// A missing .env is fine; real environments set variables directly.
	_ = godotenv.Load()

	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stats := llm.NewStats(time.Hour)

	client, err := newLLMClient(ctx, cfg, stats)
	if err != nil {
		log.Error("llm client init failed", "error", err)
		os.Exit(1)
	}

	cache, closeCache, err := newCacheStore(ctx, cfg)
	if err != nil {
		log.Error("embed cache init failed", "error", err)
		os.Exit(1)
	}

	orch := pipeline.NewOrchestrator(cfg, client, cache, log)
	orch.Start(ctx)

	srv := api.NewServer(orch, stats, log, cfg)

	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      srv,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info("shutting down...")

		// Stop accepting requests before draining the pipeline so no
		// submission can race the queue closing.
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		httpServer.Shutdown(shutdownCtx)

		orch.Stop()

		client.Close()
		closeCache()
	}()

	log.Info("starting quizcraft", "port", cfg.Port, "provider", cfg.Provider)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error("server error", "error", err)
		os.Exit(1)
	}
}

func newLLMClient(ctx context.Context, cfg config.Config, stats *llm.Stats) (llm.Client, error) {
	switch cfg.Provider {
	case "ollama":
		client := llm.NewOllamaClient(cfg.OllamaBaseURL, cfg.ChatModel, cfg.EmbedModel, stats)
		healthCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.CheckHealth(healthCtx); err != nil {
			return nil, err
		}
		return client, nil
	case "gemini":
		return llm.NewGeminiClient(ctx, cfg.GeminiAPIKey, cfg.ChatModel, cfg.EmbedModel, stats)
	default:
		return nil, fmt.Errorf("unknown LLM provider: %s", cfg.Provider)
	}
}

func newCacheStore(ctx context.Context, cfg config.Config) (embedcache.Store, func(), error) {
	switch cfg.EmbedCache {
	case "memory":
		return embedcache.NewMemoryStore(), func() {}, nil
	case "redis":
		store := embedcache.NewRedisStore(cfg.RedisAddr, cfg.RedisDB, cfg.CacheTTL)
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := store.Ping(pingCtx); err != nil {
			return nil, nil, fmt.Errorf("redis unreachable at %s: %w", cfg.RedisAddr, err)
		}
		return store, func() { store.Close() }, nil
	case "off":
		return nil, func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown embed cache backend: %s", cfg.EmbedCache)
	}
}
