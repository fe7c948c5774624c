package digest

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"horse.fit/newswatch/internal/db"
	"horse.fit/newswatch/internal/globaltime"
	"horse.fit/newswatch/internal/llm"
)

// maxSummaryInputs caps how many items of one category are sent for summarizing.
const maxSummaryInputs = 20

type Store interface {
	ListDigestRows(ctx context.Context, filter db.DigestFilter) ([]db.DigestRow, error)
	UpsertCategorySummary(ctx context.Context, runDate, category string, bullets []string, articleCount int) error
}

// Summarizer writes bullet summaries for one category.
type Summarizer interface {
	SummarizeCategory(ctx context.Context, categoryName string, items []llm.SummaryInput) ([]string, error)
}

type Options struct {
	TopStories int
	Clock      globaltime.Clock
}

type Builder struct {
	store      Store
	summarizer Summarizer
	logger     zerolog.Logger
	opts       Options
}

// NewBuilder returns a digest builder. summarizer may be nil, which disables category summaries.
func NewBuilder(store Store, summarizer Summarizer, logger zerolog.Logger, opts Options) *Builder {
	if opts.TopStories <= 0 {
		opts.TopStories = DefaultTopStories
	}
	opts.Clock = globaltime.OrDefault(opts.Clock)
	return &Builder{store: store, summarizer: summarizer, logger: logger, opts: opts}
}

// Build assembles the digest of everything classified relevant since the cutoff.
func (b *Builder) Build(ctx context.Context, since time.Time, categoryFilter string) (Digest, error) {
	rows, err := b.store.ListDigestRows(ctx, db.DigestFilter{Since: since, Category: categoryFilter})
	if err != nil {
		return Digest{}, fmt.Errorf("load digest rows: %w", err)
	}
	return Assemble(rows, b.opts.TopStories, b.opts.Clock()), nil
}

// SummaryResult counts category summary outcomes.
type SummaryResult struct {
	Written int
	Failed  int
}

// Summarize generates and stores bullet summaries for every category in d, filling d.Summaries.
// A failed category is logged and skipped.
func (b *Builder) Summarize(ctx context.Context, d *Digest) SummaryResult {
	var result SummaryResult
	if b.summarizer == nil || d == nil {
		return result
	}
	if d.Summaries == nil {
		d.Summaries = make(map[string][]string)
	}

	for _, section := range d.Sections() {
		if err := ctx.Err(); err != nil {
			return result
		}

		inputs := make([]llm.SummaryInput, 0, min(len(section.Items), maxSummaryInputs))
		for _, item := range section.Items {
			if len(inputs) == maxSummaryInputs {
				break
			}
			inputs = append(inputs, llm.SummaryInput{Title: item.Title, Source: item.Source, Summary: item.Summary})
		}

		log := b.logger.With().Str("category", section.Category).Int("items", len(section.Items)).Logger()
		bullets, err := b.summarizer.SummarizeCategory(ctx, section.Category, inputs)
		if err != nil {
			result.Failed++
			log.Warn().Err(err).Msg("category summary failed")
			continue
		}
		if err := b.store.UpsertCategorySummary(ctx, d.Date, section.Category, bullets, len(section.Items)); err != nil {
			result.Failed++
			log.Warn().Err(err).Msg("category summary write failed")
			continue
		}
		d.Summaries[section.Category] = bullets
		result.Written++
	}
	return result
}
