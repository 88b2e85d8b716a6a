package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Port string

	// Auth
	APIKey string

	// LLM provider
	Provider      string // "ollama" or "gemini"
	OllamaBaseURL string
	GeminiAPIKey  string
	ChatModel     string
	EmbedModel    string

	// Chunking
	ChunkTokens    int
	OverlapTokens  int
	MinChunkTokens int

	// Selection
	TopKChunks            int
	MaxChunks             int
	LongDocThresholdPages int
	MinSimilarity         float64

	// Generation budgets
	SummaryBudgetTokens  int
	EvidenceBudgetTokens int
	OverviewMinChars     int
	OverviewMaxChars     int

	// Quiz
	QuestionCount  int
	QuestionTypes  []string
	RewriteRetries int

	// Timeouts
	ChatTimeout   time.Duration
	ReduceTimeout time.Duration

	// Embedding cache: "memory", "redis", or "off"
	EmbedCache string
	RedisAddr  string
	RedisDB    int
	CacheTTL   time.Duration

	// Worker pool
	WorkerCount  int
	MaxQueueSize int

	// Upload limits
	MaxUploadBytes int64

	// Job state
	JobTTL time.Duration
}

func Load() Config {
	cfg := Config{
		Port: envOr("PORT", "8090"),

		APIKey: os.Getenv("QUIZCRAFT_API_KEY"),

		Provider:      envOr("LLM_PROVIDER", "ollama"),
		OllamaBaseURL: envOr("OLLAMA_BASE_URL", "http://localhost:11434"),
		GeminiAPIKey:  os.Getenv("GEMINI_API_KEY"),
		ChatModel:     envOr("CHAT_MODEL", "llama3.1:8b-instruct-q8_0"),
		EmbedModel:    envOr("EMBED_MODEL", "nomic-embed-text:v1.5"),

		ChunkTokens:    envInt("CHUNK_TOKENS", 400),
		OverlapTokens:  envInt("OVERLAP_TOKENS", 60),
		MinChunkTokens: envInt("MIN_CHUNK_TOKENS", 40),

		TopKChunks:            envInt("TOP_K_CHUNKS", 60),
		MaxChunks:             envInt("MAX_CHUNKS", 120),
		LongDocThresholdPages: envInt("LONG_DOC_THRESHOLD_PAGES", 30),
		MinSimilarity:         envFloat("MIN_SIMILARITY", 0.1),

		SummaryBudgetTokens:  envInt("SUMMARY_BUDGET_TOKENS", 3000),
		EvidenceBudgetTokens: envInt("EVIDENCE_BUDGET_TOKENS", 1600),
		OverviewMinChars:     envInt("OVERVIEW_MIN_CHARS", 100),
		OverviewMaxChars:     envInt("OVERVIEW_MAX_CHARS", 300),

		QuestionCount:  envInt("QUESTION_COUNT", 5),
		QuestionTypes:  envList("QUESTION_TYPES", []string{"true_false", "multiple_choice"}),
		RewriteRetries: envInt("REWRITE_RETRIES", 2),

		ChatTimeout:   envDuration("CHAT_TIMEOUT", 60*time.Second),
		ReduceTimeout: envDuration("REDUCE_TIMEOUT", 180*time.Second),

		EmbedCache: envOr("EMBED_CACHE", "memory"),
		RedisAddr:  envOr("REDIS_ADDR", "localhost:6379"),
		RedisDB:    envInt("REDIS_DB", 0),
		CacheTTL:   envDuration("EMBED_CACHE_TTL", 7*24*time.Hour),

		WorkerCount:  envInt("WORKER_COUNT", 2),
		MaxQueueSize: envInt("MAX_QUEUE_SIZE", 50),

		MaxUploadBytes: envInt64("MAX_UPLOAD_BYTES", 52428800), // 50MB

		JobTTL: envDuration("JOB_TTL", 1*time.Hour),
	}

	if cfg.ChunkTokens <= 0 {
		cfg.ChunkTokens = 400
	}
	if cfg.OverlapTokens < 0 || cfg.OverlapTokens >= cfg.ChunkTokens {
		cfg.OverlapTokens = cfg.ChunkTokens / 8
	}
	if cfg.MinChunkTokens <= 0 {
		cfg.MinChunkTokens = 40
	}
	if cfg.TopKChunks <= 0 {
		cfg.TopKChunks = 60
	}
	if cfg.MaxChunks < cfg.TopKChunks {
		cfg.MaxChunks = cfg.TopKChunks
	}
	if cfg.LongDocThresholdPages <= 0 {
		cfg.LongDocThresholdPages = 30
	}
	if cfg.SummaryBudgetTokens <= 0 {
		cfg.SummaryBudgetTokens = 3000
	}
	if cfg.EvidenceBudgetTokens <= 0 {
		cfg.EvidenceBudgetTokens = 1600
	}
	if cfg.OverviewMinChars <= 0 {
		cfg.OverviewMinChars = 100
	}
	if cfg.OverviewMaxChars <= cfg.OverviewMinChars {
		cfg.OverviewMaxChars = cfg.OverviewMinChars + 200
	}
	if cfg.QuestionCount <= 0 {
		cfg.QuestionCount = 5
	}
	if cfg.RewriteRetries < 0 {
		cfg.RewriteRetries = 2
	}
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 2
	}
	if cfg.MaxQueueSize <= 0 {
		cfg.MaxQueueSize = 50
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 52428800
	}
	if cfg.JobTTL <= 0 {
		cfg.JobTTL = 1 * time.Hour
	}

	return cfg
}

func (c Config) Validate() error {
	if c.APIKey == "" {
		return fmt.Errorf("QUIZCRAFT_API_KEY is required")
	}
	switch c.Provider {
	case "ollama":
		if c.OllamaBaseURL == "" {
			return fmt.Errorf("OLLAMA_BASE_URL is required for the ollama provider")
		}
	case "gemini":
		if c.GeminiAPIKey == "" {
			return fmt.Errorf("GEMINI_API_KEY is required for the gemini provider")
		}
	default:
		return fmt.Errorf("unknown LLM_PROVIDER %q (want ollama or gemini)", c.Provider)
	}
	switch c.EmbedCache {
	case "memory", "redis", "off":
	default:
		return fmt.Errorf("unknown EMBED_CACHE %q (want memory, redis or off)", c.EmbedCache)
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envInt64(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	var out []string
	for _, p := range strings.Split(v, ",") {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
