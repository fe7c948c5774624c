// Package pipeline runs ingestion, deduplication, classification, clustering and digest assembly
// as one recorded run.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"horse.fit/newswatch/internal/classify"
	"horse.fit/newswatch/internal/cluster"
	"horse.fit/newswatch/internal/db"
	"horse.fit/newswatch/internal/dedup"
	"horse.fit/newswatch/internal/digest"
	"horse.fit/newswatch/internal/enrich"
	"horse.fit/newswatch/internal/globaltime"
	"horse.fit/newswatch/internal/ingest"
	"horse.fit/newswatch/internal/metrics"
)

// ErrRunInProgress is returned when Run is called while another run is still going.
var ErrRunInProgress = errors.New("a pipeline run is already in progress")

type Ingester interface {
	Run(ctx context.Context) (ingest.Result, error)
}

type Enricher interface {
	Run(ctx context.Context) (enrich.Result, error)
}

type Deduper interface {
	Backfill(ctx context.Context, since time.Time) (dedup.Result, error)
}

type Classifier interface {
	RunUntilDrained(ctx context.Context, maxAttempts int) (classify.DrainResult, error)
}

type Clusterer interface {
	Run(ctx context.Context, since time.Time) (cluster.Result, error)
}

type DigestBuilder interface {
	Build(ctx context.Context, since time.Time, categoryFilter string) (digest.Digest, error)
	Summarize(ctx context.Context, d *digest.Digest) digest.SummaryResult
}

type RunStore interface {
	AppendRunStats(ctx context.Context, run *db.PipelineRun) error
}

// Stages wires the collaborators. Enricher is optional.
type Stages struct {
	Ingest   Ingester
	Enrich   Enricher
	Dedup    Deduper
	Classify Classifier
	Cluster  Clusterer
	Digest   DigestBuilder
	Runs     RunStore
}

type Options struct {
	Window            time.Duration
	MaxAttempts       int
	CategorySummaries bool
	Clock             globaltime.Clock
}

// Stats is the outcome of one run, mirroring the stored pipeline_runs row.
type Stats struct {
	RunUUID                string    `json:"run_uuid"`
	RunDate                string    `json:"run_date"`
	Status                 string    `json:"status"`
	StartedAt              time.Time `json:"started_at"`
	FinishedAt             time.Time `json:"finished_at"`
	ArticlesIngested       int       `json:"articles_ingested"`
	ArticlesFromRSS        int       `json:"articles_from_rss"`
	ArticlesFromGNews      int       `json:"articles_from_gnews"`
	ArticlesEnriched       int       `json:"articles_enriched"`
	DuplicatesMarked       int       `json:"duplicates_marked"`
	ArticlesKeywordPassed  int       `json:"articles_keyword_passed"`
	ArticlesKeywordSkipped int       `json:"articles_keyword_skipped"`
	ArticlesAnalyzed       int       `json:"articles_analyzed"`
	ArticlesRelevant       int       `json:"articles_relevant"`
	RemainingUnanalyzed    int       `json:"remaining_unanalyzed"`
	AnalysisAttempts       int       `json:"analysis_attempts"`
	ClustersFormed         int       `json:"clusters_formed"`
	ClusteringSkipped      bool      `json:"clustering_skipped"`
	ClusteringError        string    `json:"clustering_error,omitempty"`
	DigestItems            int       `json:"digest_items"`
	CategorySummaries      int       `json:"category_summaries"`
	DurationMs             int64     `json:"total_duration_ms"`
	Warnings               []string  `json:"warnings,omitempty"`
	Error                  string    `json:"error,omitempty"`
}

// Row converts the stats into the stored run row.
func (s Stats) Row() db.PipelineRun {
	finished := s.FinishedAt
	row := db.PipelineRun{
		RunUUID:                s.RunUUID,
		RunDate:                s.RunDate,
		Status:                 s.Status,
		StartedAt:              s.StartedAt,
		FinishedAt:             &finished,
		ArticlesIngested:       s.ArticlesIngested,
		ArticlesFromRSS:        s.ArticlesFromRSS,
		ArticlesFromGNews:      s.ArticlesFromGNews,
		DuplicatesMarked:       s.DuplicatesMarked,
		ArticlesKeywordPassed:  s.ArticlesKeywordPassed,
		ArticlesKeywordSkipped: s.ArticlesKeywordSkipped,
		ArticlesAnalyzed:       s.ArticlesAnalyzed,
		ArticlesRelevant:       s.ArticlesRelevant,
		RemainingUnanalyzed:    s.RemainingUnanalyzed,
		AnalysisAttempts:       s.AnalysisAttempts,
		ClustersFormed:         s.ClustersFormed,
		ClusteringSkipped:      s.ClusteringSkipped,
		DigestItems:            s.DigestItems,
		TotalDurationMs:        s.DurationMs,
	}
	if s.ClusteringError != "" {
		msg := s.ClusteringError
		row.ClusteringError = &msg
	}
	if s.Error != "" {
		msg := s.Error
		row.ErrorMessage = &msg
	}
	return row
}

type Orchestrator struct {
	stages Stages
	logger zerolog.Logger
	opts   Options
	mu     sync.Mutex
}

func NewOrchestrator(stages Stages, logger zerolog.Logger, opts Options) *Orchestrator {
	if opts.Window <= 0 {
		opts.Window = 24 * time.Hour
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = classify.DefaultMaxAttempts
	}
	opts.Clock = globaltime.OrDefault(opts.Clock)
	return &Orchestrator{stages: stages, logger: logger, opts: opts}
}

// Run executes every stage once and records the run. Ingestion failing outright or classification
// failing after all attempts aborts the run: a failed row with zero counters is stored and the
// error returned. Other stage failures are recorded as warnings and the run continues.
func (o *Orchestrator) Run(ctx context.Context) (Stats, error) {
	if !o.mu.TryLock() {
		return Stats{}, ErrRunInProgress
	}
	defer o.mu.Unlock()

	started := o.opts.Clock()
	stats := Stats{
		RunUUID:   uuid.NewString(),
		RunDate:   globaltime.RunDate(started),
		StartedAt: started,
	}
	log := o.logger.With().Str("run_uuid", stats.RunUUID).Logger()
	log.Info().Msg("pipeline run started")

	if err := o.execute(ctx, &stats, log); err != nil {
		failed := Stats{
			RunUUID:   stats.RunUUID,
			RunDate:   stats.RunDate,
			Status:    db.RunStatusFailed,
			StartedAt: started,
			Error:     err.Error(),
		}
		o.finish(ctx, &failed, log)
		log.Error().Err(err).Msg("pipeline run failed")
		return failed, err
	}

	stats.Status = db.RunStatusCompleted
	o.finish(ctx, &stats, log)
	log.Info().
		Int("ingested", stats.ArticlesIngested).
		Int("duplicates", stats.DuplicatesMarked).
		Int("analyzed", stats.ArticlesAnalyzed).
		Int("relevant", stats.ArticlesRelevant).
		Int("remaining", stats.RemainingUnanalyzed).
		Int("clusters", stats.ClustersFormed).
		Int("digest_items", stats.DigestItems).
		Int64("duration_ms", stats.DurationMs).
		Msg("pipeline run completed")
	return stats, nil
}

func (o *Orchestrator) execute(ctx context.Context, stats *Stats, log zerolog.Logger) error {
	since := stats.StartedAt.Add(-o.opts.Window)

	ingested, err := timed("ingest", func() (ingest.Result, error) { return o.stages.Ingest.Run(ctx) })
	if err != nil {
		return fmt.Errorf("ingest: %w", err)
	}
	stats.ArticlesIngested = ingested.Inserted
	stats.ArticlesFromRSS = ingested.FromRSS
	stats.ArticlesFromGNews = ingested.FromGNews
	stats.DuplicatesMarked = ingested.Duplicates
	for _, msg := range ingested.Errors {
		stats.Warnings = append(stats.Warnings, "ingest: "+msg)
	}
	metrics.AddArticles("ingested", ingested.Inserted)

	if o.stages.Enrich != nil {
		enriched, err := timed("enrich", func() (enrich.Result, error) { return o.stages.Enrich.Run(ctx) })
		if err != nil {
			o.warn(stats, log, "enrich", err)
		}
		stats.ArticlesEnriched = enriched.Enriched
		metrics.AddArticles("enriched", enriched.Enriched)
	}

	deduped, err := timed("dedup", func() (dedup.Result, error) { return o.stages.Dedup.Backfill(ctx, since) })
	if err != nil {
		o.warn(stats, log, "dedup", err)
	}
	stats.DuplicatesMarked += len(deduped.Links)
	metrics.AddArticles("duplicate", stats.DuplicatesMarked)

	classified, err := timed("classify", func() (classify.DrainResult, error) {
		return o.stages.Classify.RunUntilDrained(ctx, o.opts.MaxAttempts)
	})
	if err != nil {
		return fmt.Errorf("classify: %w", err)
	}
	stats.ArticlesKeywordPassed = classified.KeywordPassed
	stats.ArticlesKeywordSkipped = classified.KeywordSkipped
	stats.ArticlesAnalyzed = classified.Analyzed
	stats.ArticlesRelevant = classified.Relevant
	stats.RemainingUnanalyzed = classified.RemainingUnanalyzed
	stats.AnalysisAttempts = classified.Attempts
	for _, msg := range classified.BatchErrors {
		stats.Warnings = append(stats.Warnings, "classify: "+msg)
	}
	metrics.AddArticles("keyword_skipped", classified.KeywordSkipped)
	metrics.AddArticles("analyzed", classified.Analyzed)
	metrics.AddArticles("relevant", classified.Relevant)

	clustered, err := timed("cluster", func() (cluster.Result, error) { return o.stages.Cluster.Run(ctx, since) })
	switch {
	case err != nil:
		stats.ClusteringSkipped = true
		stats.ClusteringError = err.Error()
		log.Warn().Err(err).Msg("clustering failed, continuing")
	case clustered.SkippedReason != "":
		stats.ClusteringSkipped = true
	default:
		// Partition failures are recorded; the run only counts as skipped when every partition failed.
		if partErr := clustered.Err(); partErr != nil {
			failed := len(clustered.Failed())
			stats.ClusteringSkipped = failed == len(clustered.Outcomes)
			stats.ClusteringError = partErr.Error()
			log.Warn().Err(partErr).
				Int("failed_partitions", failed).
				Int("partitions", len(clustered.Outcomes)).
				Msg("some clustering partitions failed, continuing")
		}
	}
	stats.ClustersFormed = clustered.ClustersFormed

	if err := ctx.Err(); err != nil {
		return err
	}

	built, err := timed("digest", func() (digest.Digest, error) { return o.stages.Digest.Build(ctx, since, "") })
	if err != nil {
		o.warn(stats, log, "digest", err)
		return nil
	}
	stats.DigestItems = built.Items
	if o.opts.CategorySummaries && built.Items > 0 {
		summaries := o.stages.Digest.Summarize(ctx, &built)
		stats.CategorySummaries = summaries.Written
		if summaries.Failed > 0 {
			stats.Warnings = append(stats.Warnings, fmt.Sprintf("digest: %d category summaries failed", summaries.Failed))
		}
	}
	return nil
}

func (o *Orchestrator) warn(stats *Stats, log zerolog.Logger, stage string, err error) {
	stats.Warnings = append(stats.Warnings, fmt.Sprintf("%s: %v", stage, err))
	log.Warn().Err(err).Str("stage", stage).Msg("pipeline stage failed, continuing")
}

// finish stamps timing and appends the run row. A failed write is logged; it never changes the
// outcome of the run itself.
func (o *Orchestrator) finish(ctx context.Context, stats *Stats, log zerolog.Logger) {
	stats.FinishedAt = o.opts.Clock()
	stats.DurationMs = stats.FinishedAt.Sub(stats.StartedAt).Milliseconds()

	row := stats.Row()
	writeCtx := context.WithoutCancel(ctx)
	if err := o.stages.Runs.AppendRunStats(writeCtx, &row); err != nil {
		stats.Warnings = append(stats.Warnings, "record run: "+err.Error())
		log.Error().Err(err).Msg("pipeline run stats were not recorded")
	}
	metrics.RecordRun(stats.Status, stats.RemainingUnanalyzed, stats.FinishedAt)
}

func timed[T any](stage string, fn func() (T, error)) (T, error) {
	start := globaltime.Now()
	out, err := fn()
	metrics.ObserveStage(stage, globaltime.Since(start), err)
	return out, err
}
