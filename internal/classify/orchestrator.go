// Package classify admits articles through the keyword filter and sends the survivors to the
// relevance classifier in time-boxed batches.
package classify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"horse.fit/newswatch/internal/category"
	"horse.fit/newswatch/internal/db"
	"horse.fit/newswatch/internal/globaltime"
	"horse.fit/newswatch/internal/keywords"
	"horse.fit/newswatch/internal/llm"
)

const (
	// FilterModel marks classifications decided by the keyword filter alone.
	FilterModel = "keyword-filter"

	DefaultBatchSize   = 20
	DefaultMaxArticles = 100
	DefaultBudget      = 50 * time.Second
	DefaultMaxAttempts = 3
)

type Store interface {
	FindRecentUnanalyzed(ctx context.Context, since time.Time, limit int) ([]db.Article, error)
	CountRecentUnanalyzed(ctx context.Context, since time.Time) (int, error)
	SaveKeywordMatches(ctx context.Context, matches map[int64]db.KeywordMatch) error
	// InsertClassifications stores rows only for articles still unanalyzed and returns those rows.
	InsertClassifications(ctx context.Context, rows []db.Classification) ([]db.Classification, error)
}

// Admitter decides whether an article reaches the classifier.
type Admitter interface {
	Evaluate(ctx context.Context, title, body string) keywords.Result
}

// Classifier judges a batch of articles in one call.
type Classifier interface {
	ClassifyBatch(ctx context.Context, articles []llm.ArticleInput) ([]llm.Judgment, error)
	ModelName() string
}

type Options struct {
	Window      time.Duration
	BatchSize   int
	MaxArticles int
	Budget      time.Duration
	Clock       globaltime.Clock
}

type Orchestrator struct {
	store      Store
	admitter   Admitter
	classifier Classifier
	logger     zerolog.Logger
	opts       Options
}

// Result describes one invocation. RemainingUnanalyzed > 0 means the caller may invoke again.
type Result struct {
	Considered          int
	KeywordPassed       int
	KeywordSkipped      int
	Batches             int
	Analyzed            int
	Relevant            int
	DataErrors          []string
	BatchErrors         []string
	BudgetExhausted     bool
	RemainingUnanalyzed int
}

func NewOrchestrator(store Store, admitter Admitter, classifier Classifier, logger zerolog.Logger, opts Options) *Orchestrator {
	if opts.Window <= 0 {
		opts.Window = 24 * time.Hour
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.MaxArticles <= 0 {
		opts.MaxArticles = DefaultMaxArticles
	}
	if opts.Budget <= 0 {
		opts.Budget = DefaultBudget
	}
	opts.Clock = globaltime.OrDefault(opts.Clock)

	return &Orchestrator{
		store:      store,
		admitter:   admitter,
		classifier: classifier,
		logger:     logger,
		opts:       opts,
	}
}

// Run performs one admission pass followed by as many classification batches as the budget allows.
// Only articles still flagged unanalyzed are loaded, so repeated calls pick up where the last one stopped.
func (o *Orchestrator) Run(ctx context.Context) (Result, error) {
	started := o.opts.Clock()
	since := started.Add(-o.opts.Window)

	articles, err := o.store.FindRecentUnanalyzed(ctx, since, o.opts.MaxArticles)
	if err != nil {
		return Result{}, fmt.Errorf("load unanalyzed articles: %w", err)
	}

	result := Result{Considered: len(articles)}
	queue, err := o.admit(ctx, articles, &result)
	if err != nil {
		return result, err
	}

	for start := 0; start < len(queue); start += o.opts.BatchSize {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if elapsed := o.opts.Clock().Sub(started); start > 0 && elapsed >= o.opts.Budget {
			result.BudgetExhausted = true
			o.logger.Warn().
				Dur("elapsed", elapsed).
				Int("unsent", len(queue)-start).
				Msg("classification budget exhausted, stopping before next batch")
			break
		}

		end := min(start+o.opts.BatchSize, len(queue))
		result.Batches++
		if err := o.classifyBatch(ctx, queue[start:end], &result); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return result, err
			}
			result.BatchErrors = append(result.BatchErrors, fmt.Sprintf("batch %d: %v", result.Batches, err))
			o.logger.Error().
				Err(err).
				Int("batch", result.Batches).
				Int("size", end-start).
				Bool("malformed", llm.IsParseError(err)).
				Msg("classification batch failed")
		}
	}

	remaining, err := o.store.CountRecentUnanalyzed(ctx, since)
	if err != nil {
		return result, fmt.Errorf("count remaining unanalyzed articles: %w", err)
	}
	result.RemainingUnanalyzed = remaining

	o.logger.Info().
		Int("considered", result.Considered).
		Int("keyword_passed", result.KeywordPassed).
		Int("keyword_skipped", result.KeywordSkipped).
		Int("analyzed", result.Analyzed).
		Int("relevant", result.Relevant).
		Int("batch_errors", len(result.BatchErrors)).
		Int("data_errors", len(result.DataErrors)).
		Int("remaining", result.RemainingUnanalyzed).
		Msg("classification pass finished")
	return result, nil
}

// admit runs the keyword filter, records its decision on each article and stores filter-only
// classifications for the articles it rejects.
func (o *Orchestrator) admit(ctx context.Context, articles []db.Article, result *Result) ([]db.Article, error) {
	if len(articles) == 0 {
		return nil, nil
	}

	now := o.opts.Clock()
	matches := make(map[int64]db.KeywordMatch, len(articles))
	skipped := make([]db.Classification, 0, len(articles))
	queue := make([]db.Article, 0, len(articles))

	for _, article := range articles {
		decision := o.admitter.Evaluate(ctx, article.Title, article.Content())
		if len(article.KeywordMatch) == 0 {
			matches[article.ArticleID] = decision.Match()
		}
		if decision.Pass {
			queue = append(queue, article)
			continue
		}
		skipped = append(skipped, db.Classification{
			ArticleID:  article.ArticleID,
			IsRelevant: false,
			ModelUsed:  FilterModel,
			AnalyzedAt: now,
		})
	}

	if err := o.store.SaveKeywordMatches(ctx, matches); err != nil {
		return nil, fmt.Errorf("save keyword matches: %w", err)
	}
	stored, err := o.store.InsertClassifications(ctx, skipped)
	if err != nil {
		return nil, fmt.Errorf("store filter classifications: %w", err)
	}
	o.reportClaimedElsewhere(len(skipped), len(stored))

	result.KeywordPassed = len(queue)
	result.KeywordSkipped = len(stored)
	result.Analyzed += len(stored)
	return queue, nil
}

func (o *Orchestrator) classifyBatch(ctx context.Context, batch []db.Article, result *Result) error {
	inputs := make([]llm.ArticleInput, len(batch))
	for i, article := range batch {
		inputs[i] = llm.ArticleInput{
			Index:   i,
			Title:   article.Title,
			Source:  article.SourceName,
			Content: article.Content(),
		}
	}

	judgments, err := o.classifier.ClassifyBatch(ctx, inputs)
	if err != nil {
		return err
	}

	rows, dataErrors := o.matchJudgments(batch, judgments)
	for _, msg := range dataErrors {
		o.logger.Warn().Str("detail", msg).Msg("classifier judgment rejected")
	}
	result.DataErrors = append(result.DataErrors, dataErrors...)

	stored, err := o.store.InsertClassifications(ctx, rows)
	if err != nil {
		return fmt.Errorf("store classifications: %w", err)
	}
	o.reportClaimedElsewhere(len(rows), len(stored))

	result.Analyzed += len(stored)
	for _, row := range stored {
		if row.IsRelevant {
			result.Relevant++
		}
	}
	return nil
}

func (o *Orchestrator) reportClaimedElsewhere(attempted, stored int) {
	if stored < attempted {
		o.logger.Warn().
			Int("attempted", attempted).
			Int("stored", stored).
			Msg("articles already analyzed by another pass, judgments discarded")
	}
}

// matchJudgments pairs judgments with batch articles by index. Out-of-range and repeated indices
// are reported and dropped; articles left without a judgment stay unanalyzed.
func (o *Orchestrator) matchJudgments(batch []db.Article, judgments []llm.Judgment) ([]db.Classification, []string) {
	now := o.opts.Clock()
	model := o.classifier.ModelName()
	seen := make(map[int]struct{}, len(judgments))
	rows := make([]db.Classification, 0, len(judgments))
	var dataErrors []string

	for _, j := range judgments {
		if j.Index < 0 || j.Index >= len(batch) {
			dataErrors = append(dataErrors, fmt.Sprintf("judgment index %d outside batch of %d", j.Index, len(batch)))
			continue
		}
		if _, dup := seen[j.Index]; dup {
			dataErrors = append(dataErrors, fmt.Sprintf("judgment index %d repeated", j.Index))
			continue
		}
		seen[j.Index] = struct{}{}

		row := db.Classification{
			ArticleID:  batch[j.Index].ArticleID,
			IsRelevant: j.IsRelevant,
			ModelUsed:  model,
			AnalyzedAt: now,
		}
		if j.IsRelevant {
			row.Summary = trimmedOrNil(j.Summary)
			name := category.OrDefault(j.Category)
			row.Category = &name
		}
		rows = append(rows, row)
	}

	if missing := len(batch) - len(seen); missing > 0 {
		dataErrors = append(dataErrors, fmt.Sprintf("%d of %d articles received no judgment", missing, len(batch)))
	}
	return rows, dataErrors
}

func trimmedOrNil(value *string) *string {
	if value == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

// DrainResult aggregates the passes made by RunUntilDrained.
type DrainResult struct {
	Result
	Attempts int
}

// RunUntilDrained calls Run until nothing in the window is left unanalyzed or maxAttempts is reached.
// Store errors are retried on the next attempt; the last one is returned if every attempt failed it.
func (o *Orchestrator) RunUntilDrained(ctx context.Context, maxAttempts int) (DrainResult, error) {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}

	var (
		total   DrainResult
		lastErr error
	)
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		total.Attempts = attempt

		pass, err := o.Run(ctx)
		total.merge(pass)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return total, err
			}
			lastErr = err
			o.logger.Warn().Err(err).Int("attempt", attempt).Int("max_attempts", maxAttempts).Msg("classification attempt failed")
			continue
		}

		lastErr = nil
		total.RemainingUnanalyzed = pass.RemainingUnanalyzed
		if pass.RemainingUnanalyzed == 0 {
			break
		}
	}

	if lastErr != nil {
		return total, fmt.Errorf("classification failed after %d attempts: %w", total.Attempts, lastErr)
	}
	return total, nil
}

func (d *DrainResult) merge(pass Result) {
	d.Considered += pass.Considered
	d.KeywordPassed += pass.KeywordPassed
	d.KeywordSkipped += pass.KeywordSkipped
	d.Batches += pass.Batches
	d.Analyzed += pass.Analyzed
	d.Relevant += pass.Relevant
	d.DataErrors = append(d.DataErrors, pass.DataErrors...)
	d.BatchErrors = append(d.BatchErrors, pass.BatchErrors...)
	d.BudgetExhausted = d.BudgetExhausted || pass.BudgetExhausted
}
