package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config contains all runtime settings for the movie assistant.
type Config struct {
	BindAddr                 string
	ShutdownTimeout          time.Duration
	SessionInactivityTimeout time.Duration
	MetricsNamespace         string

	AllowAnyOrigin bool

	LogLevel  string
	LogFormat string

	TMDBAPIKey    string
	TMDBBaseURL   string
	TMDBRateLimit float64
	TMDBCacheDir  string
	TMDBCacheTTL  time.Duration
	SimilarLimit  int

	RedditBaseURL   string
	RedditUserAgent string
	RedditRateLimit float64
	CommentaryLimit int
	ReviewLimit     int

	LLMMode             string
	LLMBaseURL          string
	LLMAPIKey           string
	LLMModel            string
	LLMHTTPURL          string
	LLMTemperature      float64
	LLMStrictSchema     bool
	LLMFallback         bool
	AnalysisTemperature float64

	EmbeddingMode    string
	EmbeddingBaseURL string
	EmbeddingAPIKey  string
	EmbeddingModel   string
	EmbeddingDim     int

	KnowledgeDir    string
	DatabaseURL     string
	UpstreamTimeout time.Duration
}

// LoadDotEnv loads KEY=VALUE files into the process environment without
// overriding variables that are already set. Missing files are skipped;
// earlier files win over later ones.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env.local", ".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:         envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace: envOrDefault("APP_METRICS_NAMESPACE", "cinemate"),
		AllowAnyOrigin:   false,
		LogLevel:         envOrDefault("LOG_LEVEL", "info"),
		LogFormat:        envOrDefault("LOG_FORMAT", "json"),
		TMDBAPIKey:       stringsTrimSpace("TMDB_API_KEY"),
		TMDBBaseURL:      envOrDefault("TMDB_BASE_URL", "https://api.themoviedb.org/3"),
		TMDBRateLimit:    20,
		TMDBCacheDir:     stringsTrimSpace("TMDB_CACHE_DIR"),
		TMDBCacheTTL:     6 * time.Hour,
		SimilarLimit:     5,
		RedditBaseURL:    envOrDefault("REDDIT_BASE_URL", "https://www.reddit.com"),
		RedditUserAgent:  envOrDefault("REDDIT_USER_AGENT", "cinemate/0.1 (movie recommendation assistant)"),
		RedditRateLimit:  1,
		CommentaryLimit:  10,
		ReviewLimit:      3,
		LLMMode:          envOrDefault("LLM_MODE", "auto"),
		LLMBaseURL:       envOrDefault("LLM_BASE_URL", "https://api.groq.com/openai/v1"),
		// GROQ_API_KEY is accepted for compatibility with existing .env files.
		LLMAPIKey:           firstNonEmpty(stringsTrimSpace("LLM_API_KEY"), stringsTrimSpace("GROQ_API_KEY")),
		LLMModel:            envOrDefault("LLM_MODEL", "llama-3.3-70b-versatile"),
		LLMHTTPURL:          stringsTrimSpace("LLM_HTTP_URL"),
		LLMTemperature:      0.7,
		LLMFallback:         true,
		AnalysisTemperature: 0.2,
		EmbeddingMode:       envOrDefault("EMBEDDING_MODE", "auto"),
		EmbeddingBaseURL:    stringsTrimSpace("EMBEDDING_BASE_URL"),
		EmbeddingAPIKey:     stringsTrimSpace("EMBEDDING_API_KEY"),
		EmbeddingModel:      envOrDefault("EMBEDDING_MODEL", "text-embedding-3-small"),
		EmbeddingDim:        384,
		KnowledgeDir:        envOrDefault("KNOWLEDGE_DIR", "data/knowledge"),
		DatabaseURL:         stringsTrimSpace("DATABASE_URL"),
		ShutdownTimeout:     15 * time.Second,
		// Chat sessions idle far longer than voice turns.
		SessionInactivityTimeout: 30 * time.Minute,
		UpstreamTimeout:          20 * time.Second,
	}
	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.SessionInactivityTimeout, err = durationFromEnv("APP_SESSION_INACTIVITY_TIMEOUT", cfg.SessionInactivityTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}
	cfg.TMDBRateLimit, err = floatFromEnv("TMDB_RATE_LIMIT", cfg.TMDBRateLimit)
	if err != nil {
		return Config{}, err
	}
	cfg.TMDBCacheTTL, err = durationFromEnv("TMDB_CACHE_TTL", cfg.TMDBCacheTTL)
	if err != nil {
		return Config{}, err
	}
	cfg.SimilarLimit, err = intFromEnv("CATALOG_SIMILAR_LIMIT", cfg.SimilarLimit)
	if err != nil {
		return Config{}, err
	}
	cfg.RedditRateLimit, err = floatFromEnv("REDDIT_RATE_LIMIT", cfg.RedditRateLimit)
	if err != nil {
		return Config{}, err
	}
	cfg.CommentaryLimit, err = intFromEnv("COMMENTARY_LIMIT", cfg.CommentaryLimit)
	if err != nil {
		return Config{}, err
	}
	cfg.ReviewLimit, err = intFromEnv("REVIEW_LIMIT", cfg.ReviewLimit)
	if err != nil {
		return Config{}, err
	}
	cfg.LLMTemperature, err = floatFromEnv("LLM_TEMPERATURE", cfg.LLMTemperature)
	if err != nil {
		return Config{}, err
	}
	cfg.LLMStrictSchema, err = boolFromEnv("LLM_STRICT_SCHEMA", cfg.LLMStrictSchema)
	if err != nil {
		return Config{}, err
	}
	cfg.LLMFallback, err = boolFromEnv("LLM_FALLBACK", cfg.LLMFallback)
	if err != nil {
		return Config{}, err
	}
	cfg.AnalysisTemperature, err = floatFromEnv("ANALYSIS_TEMPERATURE", cfg.AnalysisTemperature)
	if err != nil {
		return Config{}, err
	}
	cfg.EmbeddingDim, err = intFromEnv("EMBEDDING_DIM", cfg.EmbeddingDim)
	if err != nil {
		return Config{}, err
	}
	cfg.UpstreamTimeout, err = durationFromEnv("UPSTREAM_TIMEOUT", cfg.UpstreamTimeout)
	if err != nil {
		return Config{}, err
	}

	if cfg.SessionInactivityTimeout < 5*time.Second {
		return Config{}, fmt.Errorf("APP_SESSION_INACTIVITY_TIMEOUT must be at least 5s")
	}
	if cfg.EmbeddingDim <= 0 {
		return Config{}, fmt.Errorf("EMBEDDING_DIM must be positive")
	}
	if cfg.SimilarLimit <= 0 {
		return Config{}, fmt.Errorf("CATALOG_SIMILAR_LIMIT must be positive")
	}
	if cfg.CommentaryLimit <= 0 {
		return Config{}, fmt.Errorf("COMMENTARY_LIMIT must be positive")
	}
	if cfg.LLMTemperature <= 0 || cfg.LLMTemperature > 2 {
		return Config{}, fmt.Errorf("LLM_TEMPERATURE must be in (0, 2]")
	}
	if cfg.AnalysisTemperature < 0 || cfg.AnalysisTemperature > 2 {
		return Config{}, fmt.Errorf("ANALYSIS_TEMPERATURE must be in [0, 2]")
	}
	if cfg.UpstreamTimeout <= 0 {
		return Config{}, fmt.Errorf("UPSTREAM_TIMEOUT must be positive")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func floatFromEnv(key string, fallback float64) (float64, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return f, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
