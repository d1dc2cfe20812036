package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	defaultPort              = "8080"
	defaultTemporalHostPort  = "localhost:7233"
	defaultTemporalNamespace = "default"
	defaultTaskQueue         = "deep-research"
	defaultBraveBaseURL      = "https://api.search.brave.com/res/v1"
	defaultOpenRouterBaseURL = "https://openrouter.ai/api/v1"
	defaultTogetherBaseURL   = "https://api.together.xyz/v1"
	defaultRunTTLHours       = 24
	defaultBudget            = 2
	defaultMaxQueries        = 2
	defaultResultsPerQuery   = 5
)

const (
	defaultPlanningModel    = "qwen/qwen-2.5-72b-instruct"
	defaultJSONModel        = "meta-llama/llama-3.1-70b-instruct"
	defaultSummaryModel     = "meta-llama/llama-3.3-70b-instruct"
	defaultLongPageModel    = "meta-llama/llama-4-scout"
	defaultAnswerModel      = "deepseek/deepseek-chat-v3"
	defaultImageModel       = "black-forest-labs/FLUX.1-dev"
	defaultImagePromptModel = "meta-llama/llama-3.3-70b-instruct"
)

type Config struct {
	Port            string
	Environment     string
	AllowedOrigins  []string
	DatabaseURL     string
	DatabaseToken   string
	TemporalAddress string
	TemporalNS      string
	TaskQueue       string

	BraveAPIKey       string
	BraveBaseURL      string
	OpenRouterAPIKey  string
	OpenRouterBaseURL string
	TogetherAPIKey    string
	TogetherBaseURL   string
	CoverBucket       string

	PlanningModel    string
	JSONModel        string
	SummaryModel     string
	LongPageModel    string
	AnswerModel      string
	ImageModel       string
	ImagePromptModel string

	Budget          int
	MaxQueries      int
	ResultsPerQuery int
	RunTTL          time.Duration
}

func (c Config) ListenAddress() string {
	return fmt.Sprintf(":%s", c.Port)
}

func Load() (Config, error) {
	cfg := Config{
		Port:            envOrDefault("PORT", defaultPort),
		Environment:     envOrDefault("APP_ENV", "development"),
		DatabaseURL:     strings.TrimSpace(os.Getenv("DATABASE_URL")),
		DatabaseToken:   strings.TrimSpace(os.Getenv("DATABASE_AUTH_TOKEN")),
		TemporalAddress: envOrDefault("TEMPORAL_ADDRESS", defaultTemporalHostPort),
		TemporalNS:      envOrDefault("TEMPORAL_NAMESPACE", defaultTemporalNamespace),
		TaskQueue:       envOrDefault("TEMPORAL_TASK_QUEUE", defaultTaskQueue),

		BraveAPIKey:       strings.TrimSpace(os.Getenv("BRAVE_API_KEY")),
		BraveBaseURL:      envOrDefault("BRAVE_BASE_URL", defaultBraveBaseURL),
		OpenRouterAPIKey:  strings.TrimSpace(os.Getenv("OPENROUTER_API_KEY")),
		OpenRouterBaseURL: envOrDefault("OPENROUTER_BASE_URL", defaultOpenRouterBaseURL),
		TogetherAPIKey:    strings.TrimSpace(os.Getenv("TOGETHER_API_KEY")),
		TogetherBaseURL:   envOrDefault("TOGETHER_BASE_URL", defaultTogetherBaseURL),
		CoverBucket:       strings.TrimSpace(os.Getenv("COVER_IMAGE_BUCKET")),

		PlanningModel:    envOrDefault("MODEL_PLANNING", defaultPlanningModel),
		JSONModel:        envOrDefault("MODEL_JSON", defaultJSONModel),
		SummaryModel:     envOrDefault("MODEL_SUMMARY", defaultSummaryModel),
		LongPageModel:    envOrDefault("MODEL_LONG_PAGE", defaultLongPageModel),
		AnswerModel:      envOrDefault("MODEL_ANSWER", defaultAnswerModel),
		ImageModel:       envOrDefault("MODEL_IMAGE", defaultImageModel),
		ImagePromptModel: envOrDefault("MODEL_IMAGE_PROMPT", defaultImagePromptModel),

		Budget:          intOrDefault("RESEARCH_BUDGET", defaultBudget),
		MaxQueries:      intOrDefault("RESEARCH_MAX_QUERIES", defaultMaxQueries),
		ResultsPerQuery: intOrDefault("RESEARCH_MAX_SOURCES", defaultResultsPerQuery),
	}

	ttlHours := intOrDefault("RUN_TTL_HOURS", defaultRunTTLHours)
	if ttlHours <= 0 {
		return Config{}, errors.New("RUN_TTL_HOURS must be > 0")
	}
	cfg.RunTTL = time.Duration(ttlHours) * time.Hour

	origins := parseList(envOrDefault("CORS_ALLOWED_ORIGINS", "http://localhost:5173,http://localhost:4173"))
	if len(origins) == 0 {
		return Config{}, errors.New("CORS_ALLOWED_ORIGINS must include at least one origin")
	}
	cfg.AllowedOrigins = origins

	if cfg.DatabaseURL == "" {
		return Config{}, errors.New("DATABASE_URL is required")
	}
	if strings.HasPrefix(cfg.DatabaseURL, "libsql://") && cfg.DatabaseToken == "" {
		return Config{}, errors.New("DATABASE_AUTH_TOKEN is required for libsql:// URLs")
	}
	if cfg.Budget < 1 {
		return Config{}, errors.New("RESEARCH_BUDGET must be >= 1")
	}
	if cfg.MaxQueries < 1 {
		return Config{}, errors.New("RESEARCH_MAX_QUERIES must be >= 1")
	}
	if cfg.ResultsPerQuery < 1 {
		return Config{}, errors.New("RESEARCH_MAX_SOURCES must be >= 1")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func intOrDefault(key string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return parsed
}

func parseList(raw string) []string {
	items := strings.Split(raw, ",")
	out := make([]string, 0, len(items))
	for _, item := range items {
		trimmed := strings.TrimSpace(item)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
