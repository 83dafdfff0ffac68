// Package config loads process configuration from the environment, with
// optional .env support for local runs.
package config

import (
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port          string
	AllowedOrigin string

	// OpenAI-compatible endpoint; points at Ollama's /v1 surface locally.
	APIKey     string
	BaseURL    string
	Model      string
	EmbedModel string

	PromptFile string
	ArchiveDir string

	Threshold       float64
	CacheRadius     float64
	GenerateTimeout time.Duration
	HistoryWindow   int

	// IdleTimeout > 0 enables the idle-session eviction sweep.
	IdleTimeout time.Duration
}

func Load() Config {
	_ = godotenv.Load()
	cfg := Config{
		Port:            getEnvDefault("PORT", "8080"),
		AllowedOrigin:   getEnvDefault("ALLOWED_ORIGIN", "*"),
		APIKey:          getEnvDefault("OPENAI_API_KEY", "ollama"),
		BaseURL:         getEnvDefault("OPENAI_BASE_URL", "http://localhost:11434/v1"),
		Model:           getEnvDefault("INTAKE_MODEL", "gemma3:4b"),
		EmbedModel:      getEnvDefault("INTAKE_EMBED_MODEL", "snowflake-arctic-embed"),
		PromptFile:      os.Getenv("INTAKE_PROMPT_FILE"),
		ArchiveDir:      getEnvDefault("INTAKE_ARCHIVE_DIR", "data/collected_info"),
		Threshold:       getEnvFloatDefault("INTAKE_CONFIDENCE_THRESHOLD", 0.7),
		CacheRadius:     getEnvFloatDefault("INTAKE_CACHE_RADIUS", 0.5),
		GenerateTimeout: getEnvDurationDefault("INTAKE_GENERATE_TIMEOUT", 30*time.Second),
		HistoryWindow:   getEnvIntDefault("INTAKE_HISTORY_WINDOW", 20),
		IdleTimeout:     getEnvDurationDefault("INTAKE_IDLE_TIMEOUT", 0),
	}
	if cfg.APIKey == "" {
		slog.Warn("OPENAI_API_KEY is not set; model calls will fail until provided")
	}
	return cfg
}

func getEnvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvFloatDefault(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
		slog.Warn("invalid float env value ignored", "key", key, "value", v)
	}
	return def
}

func getEnvIntDefault(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
		slog.Warn("invalid int env value ignored", "key", key, "value", v)
	}
	return def
}

func getEnvDurationDefault(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		slog.Warn("invalid duration env value ignored", "key", key, "value", v)
	}
	return def
}
