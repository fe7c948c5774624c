package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Environment string `envconfig:"ENVIRONMENT" default:"local"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	DatabaseURL string `envconfig:"DATABASE_URL" required:"true"`
	DBMinConns  int32  `envconfig:"NW_DB_MIN_CONNS" default:"1"`
	DBMaxConns  int32  `envconfig:"NW_DB_MAX_CONNS" default:"8"`

	MaxArticleAgeHours  int           `envconfig:"MAX_ARTICLE_AGE_HOURS" default:"24"`
	AnalysisBatchSize   int           `envconfig:"ANALYSIS_BATCH_SIZE" default:"20"`
	AnalysisMaxArticles int           `envconfig:"ANALYSIS_MAX_ARTICLES" default:"100"`
	AnalysisBudget      time.Duration `envconfig:"ANALYSIS_BUDGET" default:"50s"`
	MaxAnalysisRetries  int           `envconfig:"MAX_ANALYSIS_RETRIES" default:"3"`
	KeywordCacheTTL     time.Duration `envconfig:"KEYWORD_CACHE_TTL" default:"5m"`
	ClusterMinArticles  int           `envconfig:"CLUSTER_MIN_ARTICLES" default:"4"`
	ClusterConcurrency  int           `envconfig:"CLUSTER_CONCURRENCY" default:"4"`

	LLMEndpoint          string        `envconfig:"LLM_ENDPOINT" default:"https://api.openai.com/v1"`
	LLMAPIKey            string        `envconfig:"LLM_API_KEY" default:""`
	LLMModel             string        `envconfig:"LLM_MODEL" default:"gpt-4o-mini"`
	LLMClusterModel      string        `envconfig:"LLM_CLUSTER_MODEL" default:""`
	LLMTimeout           time.Duration `envconfig:"LLM_TIMEOUT" default:"120s"`
	LLMRequestsPerMinute int           `envconfig:"LLM_REQUESTS_PER_MINUTE" default:"30"`

	SourcesFile string `envconfig:"SOURCES_FILE" default:"sources.yaml"`
	GNewsAPIKey string `envconfig:"GNEWS_API_KEY" default:""`

	EnrichEnabled   bool `envconfig:"ENRICH_ENABLED" default:"true"`
	EnrichMaxPerRun int  `envconfig:"ENRICH_MAX_PER_RUN" default:"20"`

	DigestTopStories         int  `envconfig:"DIGEST_TOP_STORIES" default:"30"`
	CategorySummariesEnabled bool `envconfig:"CATEGORY_SUMMARIES_ENABLED" default:"false"`

	TriggerSecretHash string `envconfig:"TRIGGER_SECRET_HASH" default:""`
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.DatabaseURL) == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.DBMinConns < 0 {
		return fmt.Errorf("NW_DB_MIN_CONNS must be >= 0")
	}
	if c.DBMaxConns < 1 {
		return fmt.Errorf("NW_DB_MAX_CONNS must be >= 1")
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("NW_DB_MIN_CONNS (%d) cannot exceed NW_DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	if c.MaxArticleAgeHours < 1 {
		return fmt.Errorf("MAX_ARTICLE_AGE_HOURS must be >= 1")
	}
	if c.AnalysisBatchSize < 1 {
		return fmt.Errorf("ANALYSIS_BATCH_SIZE must be >= 1")
	}
	if c.AnalysisMaxArticles < c.AnalysisBatchSize {
		return fmt.Errorf("ANALYSIS_MAX_ARTICLES (%d) must be >= ANALYSIS_BATCH_SIZE (%d)", c.AnalysisMaxArticles, c.AnalysisBatchSize)
	}
	if c.AnalysisBudget <= 0 {
		return fmt.Errorf("ANALYSIS_BUDGET must be positive")
	}
	if c.MaxAnalysisRetries < 1 {
		return fmt.Errorf("MAX_ANALYSIS_RETRIES must be >= 1")
	}
	if c.KeywordCacheTTL <= 0 {
		return fmt.Errorf("KEYWORD_CACHE_TTL must be positive")
	}
	if c.ClusterMinArticles < 2 {
		return fmt.Errorf("CLUSTER_MIN_ARTICLES must be >= 2")
	}
	if c.ClusterConcurrency < 1 {
		return fmt.Errorf("CLUSTER_CONCURRENCY must be >= 1")
	}
	if strings.TrimSpace(c.LLMEndpoint) == "" {
		return fmt.Errorf("LLM_ENDPOINT is required")
	}
	if strings.TrimSpace(c.LLMModel) == "" {
		return fmt.Errorf("LLM_MODEL is required")
	}
	if c.LLMTimeout <= 0 {
		return fmt.Errorf("LLM_TIMEOUT must be positive")
	}
	if c.LLMRequestsPerMinute < 1 {
		return fmt.Errorf("LLM_REQUESTS_PER_MINUTE must be >= 1")
	}
	if c.EnrichMaxPerRun < 0 {
		return fmt.Errorf("ENRICH_MAX_PER_RUN must be >= 0")
	}
	if c.DigestTopStories < 1 {
		return fmt.Errorf("DIGEST_TOP_STORIES must be >= 1")
	}
	return nil
}

// RecencyWindow is the span of articles considered by dedup, filtering and classification.
func (c *Config) RecencyWindow() time.Duration {
	if c == nil || c.MaxArticleAgeHours <= 0 {
		return 24 * time.Hour
	}
	return time.Duration(c.MaxArticleAgeHours) * time.Hour
}

// ClusterModelName falls back to the classification model when no dedicated one is set.
func (c *Config) ClusterModelName() string {
	if c == nil {
		return ""
	}
	if model := strings.TrimSpace(c.LLMClusterModel); model != "" {
		return model
	}
	return strings.TrimSpace(c.LLMModel)
}
