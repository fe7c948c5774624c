// Package enrich replaces short feed excerpts with the article's full text before classification.
package enrich

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"horse.fit/newswatch/internal/db"
	"horse.fit/newswatch/internal/globaltime"
)

const (
	DefaultLookback    = 2 * time.Hour
	DefaultMinChars    = 300
	DefaultMaxChars    = 5000
	DefaultMaxPerRun   = 20
	DefaultConcurrency = 5

	// minUsefulChars is the shortest extraction worth storing.
	minUsefulChars    = 100
	minParagraphChars = 40
)

type Store interface {
	ListEnrichmentCandidates(ctx context.Context, since time.Time, minChars, limit int) ([]db.Article, error)
	UpdateRawContent(ctx context.Context, articleID int64, text string) (bool, error)
}

// TextFetcher extracts readable text from a page.
type TextFetcher func(ctx context.Context, pageURL string) (string, error)

type Options struct {
	Lookback    time.Duration
	MinChars    int
	MaxChars    int
	MaxPerRun   int
	Concurrency int
	Fetch       TextFetcher
	Clock       globaltime.Clock
}

type Result struct {
	Attempted int
	Enriched  int
	Failed    int
}

type Enricher struct {
	store  Store
	logger zerolog.Logger
	opts   Options
}

func NewEnricher(store Store, logger zerolog.Logger, opts Options) *Enricher {
	if opts.Lookback <= 0 {
		opts.Lookback = DefaultLookback
	}
	if opts.MinChars <= 0 {
		opts.MinChars = DefaultMinChars
	}
	if opts.MaxChars <= 0 {
		opts.MaxChars = DefaultMaxChars
	}
	if opts.MaxPerRun <= 0 {
		opts.MaxPerRun = DefaultMaxPerRun
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	if opts.Fetch == nil {
		opts.Fetch = func(ctx context.Context, pageURL string) (string, error) {
			return FetchText(ctx, pageURL, FetchOptions{})
		}
	}
	opts.Clock = globaltime.OrDefault(opts.Clock)
	return &Enricher{store: store, logger: logger, opts: opts}
}

// Run fetches full text for recent unanalyzed articles with short excerpts. Individual fetch
// failures are counted, never returned; only listing candidates can fail the run.
func (e *Enricher) Run(ctx context.Context) (Result, error) {
	since := e.opts.Clock().Add(-e.opts.Lookback)
	candidates, err := e.store.ListEnrichmentCandidates(ctx, since, e.opts.MinChars, e.opts.MaxPerRun)
	if err != nil {
		return Result{}, err
	}
	if len(candidates) == 0 {
		return Result{}, nil
	}

	var enriched, failed atomic.Int64
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(e.opts.Concurrency)
	for _, article := range candidates {
		group.Go(func() error {
			ok, err := e.enrichOne(groupCtx, article)
			switch {
			case err != nil:
				failed.Add(1)
				e.logger.Debug().Err(err).Int64("article_id", article.ArticleID).Str("url", article.URL).Msg("enrichment failed")
			case ok:
				enriched.Add(1)
			}
			return nil
		})
	}
	_ = group.Wait()

	result := Result{
		Attempted: len(candidates),
		Enriched:  int(enriched.Load()),
		Failed:    int(failed.Load()),
	}
	e.logger.Info().
		Int("attempted", result.Attempted).
		Int("enriched", result.Enriched).
		Int("failed", result.Failed).
		Msg("content enrichment finished")
	return result, ctx.Err()
}

func (e *Enricher) enrichOne(ctx context.Context, article db.Article) (bool, error) {
	text, err := e.opts.Fetch(ctx, article.URL)
	if err != nil {
		return false, err
	}
	text = Clip(text, e.opts.MaxChars)
	if len([]rune(text)) <= minUsefulChars || len([]rune(text)) <= len([]rune(article.Content())) {
		return false, nil
	}
	return e.store.UpdateRawContent(ctx, article.ArticleID, text)
}
