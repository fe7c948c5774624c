package app

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"horse.fit/newswatch/internal/classify"
	"horse.fit/newswatch/internal/cli"
	"horse.fit/newswatch/internal/cluster"
	"horse.fit/newswatch/internal/config"
	"horse.fit/newswatch/internal/db"
	"horse.fit/newswatch/internal/dedup"
	"horse.fit/newswatch/internal/digest"
	"horse.fit/newswatch/internal/enrich"
	"horse.fit/newswatch/internal/ingest"
	"horse.fit/newswatch/internal/keywords"
	"horse.fit/newswatch/internal/langdetect"
	"horse.fit/newswatch/internal/llm"
	"horse.fit/newswatch/internal/logging"
	"horse.fit/newswatch/internal/pipeline"
	"horse.fit/newswatch/internal/source"
)

// runtime is what every database-backed command needs.
type runtime struct {
	cfg    *config.Config
	logger zerolog.Logger
	pool   *db.Pool
}

func (r *runtime) Close() {
	if r != nil && r.pool != nil {
		_ = r.pool.Close()
	}
}

// bootstrap loads the env file and config, builds the logger and connects to the database.
// connectTimeout bounds only the connection; the returned runtime has no deadline of its own.
func bootstrap(envLoader *cli.EnvLoader, connectTimeout time.Duration) (*runtime, error) {
	if envLoader != nil {
		if _, err := envLoader.Load(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		}
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := logging.New(cfg.Environment, cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	if connectTimeout <= 0 {
		connectTimeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	pool, err := db.NewPool(ctx, cfg)
	if err != nil {
		logger.Error().Err(err).Msg("failed to connect to database")
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return &runtime{cfg: cfg, logger: logger, pool: pool}, nil
}

// components holds every stage wired against the pool and the configured LLM.
type components struct {
	rules    *keywords.Filter
	llm      *llm.Client
	ingest   *ingest.Service
	enrich   *enrich.Enricher
	dedup    *dedup.Stage
	classify *classify.Orchestrator
	cluster  *cluster.Engine
	backfill *cluster.Engine
	digest   *digest.Builder
	pipeline *pipeline.Orchestrator

	sourcesFromDefaults bool
}

func (r *runtime) components() (*components, error) {
	cfg := r.cfg
	window := cfg.RecencyWindow()

	sources, usedDefaults, err := source.LoadFile(cfg.SourcesFile)
	if err != nil {
		return nil, err
	}
	if usedDefaults {
		r.logger.Info().Str("path", cfg.SourcesFile).Msg("sources file not found, using built-in sources")
	}

	client := llm.NewClient(llm.Options{
		Endpoint:          cfg.LLMEndpoint,
		APIKey:            cfg.LLMAPIKey,
		Model:             cfg.LLMModel,
		ClusterModel:      cfg.ClusterModelName(),
		Timeout:           cfg.LLMTimeout,
		RequestsPerMinute: cfg.LLMRequestsPerMinute,
	}, logging.Component(r.logger, "llm"))

	cache := keywords.NewCache(r.pool, cfg.KeywordCacheTTL, nil, logging.Component(r.logger, "keywords"))
	filter := keywords.NewFilter(cache)

	c := &components{
		rules: filter,
		llm:   client,
		ingest: ingest.NewService(r.pool, sources.Build(cfg.GNewsAPIKey, window, r.logger), logging.Component(r.logger, "ingest"), ingest.Options{
			Window:         window,
			DetectLanguage: langdetect.Tag,
		}),
		dedup: dedup.NewStage(r.pool, logging.Component(r.logger, "dedup")),
		classify: classify.NewOrchestrator(r.pool, filter, client, logging.Component(r.logger, "classify"), classify.Options{
			Window:      window,
			BatchSize:   cfg.AnalysisBatchSize,
			MaxArticles: cfg.AnalysisMaxArticles,
			Budget:      cfg.AnalysisBudget,
		}),
		cluster: cluster.NewEngine(r.pool, client, logging.Component(r.logger, "cluster"), cluster.Options{
			MinArticles: cfg.ClusterMinArticles,
			Concurrency: cfg.ClusterConcurrency,
		}),
		backfill: cluster.NewEngine(r.pool, client, logging.Component(r.logger, "cluster"), cluster.Options{
			Concurrency: cfg.ClusterConcurrency,
		}),
		sourcesFromDefaults: usedDefaults,
	}

	// The pipeline only summarizes when CATEGORY_SUMMARIES_ENABLED is set; the digest command asks explicitly.
	c.digest = digest.NewBuilder(r.pool, client, logging.Component(r.logger, "digest"), digest.Options{
		TopStories: cfg.DigestTopStories,
	})

	stages := pipeline.Stages{
		Ingest:   c.ingest,
		Dedup:    c.dedup,
		Classify: c.classify,
		Cluster:  c.cluster,
		Digest:   c.digest,
		Runs:     r.pool,
	}
	if cfg.EnrichEnabled && cfg.EnrichMaxPerRun > 0 {
		c.enrich = enrich.NewEnricher(r.pool, logging.Component(r.logger, "enrich"), enrich.Options{
			MaxPerRun: cfg.EnrichMaxPerRun,
		})
		stages.Enrich = c.enrich
	}

	c.pipeline = pipeline.NewOrchestrator(stages, logging.Component(r.logger, "pipeline"), pipeline.Options{
		Window:            window,
		MaxAttempts:       cfg.MaxAnalysisRetries,
		CategorySummaries: cfg.CategorySummariesEnabled,
	})
	return c, nil
}
