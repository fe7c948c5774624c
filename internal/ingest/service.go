// Package ingest stores fresh source items as articles, skipping known URLs and flagging
// near-duplicate titles on the way in.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"horse.fit/newswatch/internal/db"
	"horse.fit/newswatch/internal/dedup"
	"horse.fit/newswatch/internal/globaltime"
	"horse.fit/newswatch/internal/source"
)

// ErrAllSourcesFailed means no feed could be read at all.
var ErrAllSourcesFailed = errors.New("every source feed failed")

type Store interface {
	FindByURL(ctx context.Context, url string) (int64, bool, error)
	ListWindowForDedup(ctx context.Context, since time.Time) ([]db.Article, error)
	InsertArticle(ctx context.Context, article *db.Article) (bool, error)
	InsertIngestLogs(ctx context.Context, logs []db.IngestLog) error
}

// LanguageDetector returns an ISO 639-1 code or nil.
type LanguageDetector func(title, body string) *string

type Options struct {
	Window         time.Duration
	DetectLanguage LanguageDetector
	Clock          globaltime.Clock
}

type Result struct {
	Feeds       int
	FeedsFailed int
	Found       int
	Known       int
	Inserted    int
	FromRSS     int
	FromGNews   int
	Duplicates  int
	Skipped     []string
	Errors      []string
}

type Service struct {
	store   Store
	sources []source.Source
	logger  zerolog.Logger
	opts    Options
}

func NewService(store Store, sources []source.Source, logger zerolog.Logger, opts Options) *Service {
	if opts.Window <= 0 {
		opts.Window = 24 * time.Hour
	}
	if opts.DetectLanguage == nil {
		opts.DetectLanguage = func(string, string) *string { return nil }
	}
	opts.Clock = globaltime.OrDefault(opts.Clock)
	return &Service{store: store, sources: sources, logger: logger, opts: opts}
}

// Run fetches all sources and stores what is new. Item-level store errors are collected and the
// run continues; the run fails only when the dedup window cannot be loaded or no feed answered.
func (s *Service) Run(ctx context.Context) (Result, error) {
	since := s.opts.Clock().Add(-s.opts.Window)
	window, err := s.store.ListWindowForDedup(ctx, since)
	if err != nil {
		return Result{}, fmt.Errorf("load dedup window: %w", err)
	}

	var result Result
	batches := source.Collect(ctx, s.sources, s.logger)
	logs := make([]db.IngestLog, 0, 16)

	for _, batch := range batches {
		if batch.Skipped != "" {
			result.Skipped = append(result.Skipped, batch.Skipped)
		}
		for _, feed := range batch.Feeds {
			result.Feeds++
			result.Found += len(feed.Items)
			if feed.Err != nil {
				result.FeedsFailed++
				result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", feed.SourceName, feed.Err))
			}

			inserted := 0
			for _, item := range feed.Items {
				if err := ctx.Err(); err != nil {
					return result, err
				}
				stored, err := s.storeItem(ctx, item, &window, &result)
				if err != nil {
					result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", item.URL, err))
					s.logger.Warn().Err(err).Str("url", item.URL).Msg("article insert failed")
					continue
				}
				if stored {
					inserted++
				}
			}
			logs = append(logs, feed.IngestLog(inserted))
		}
	}

	if err := s.store.InsertIngestLogs(ctx, logs); err != nil {
		s.logger.Warn().Err(err).Int("logs", len(logs)).Msg("ingest log write failed")
		result.Errors = append(result.Errors, err.Error())
	}

	s.logger.Info().
		Int("feeds", result.Feeds).
		Int("feeds_failed", result.FeedsFailed).
		Int("found", result.Found).
		Int("known", result.Known).
		Int("inserted", result.Inserted).
		Int("duplicates", result.Duplicates).
		Int("from_rss", result.FromRSS).
		Int("from_gnews", result.FromGNews).
		Msg("ingestion finished")

	if result.Feeds > 0 && result.FeedsFailed == result.Feeds {
		return result, ErrAllSourcesFailed
	}
	return result, nil
}

// storeItem inserts one item and reports whether a new non-duplicate article was created.
func (s *Service) storeItem(ctx context.Context, item source.Item, window *[]db.Article, result *Result) (bool, error) {
	if _, known, err := s.store.FindByURL(ctx, item.URL); err != nil {
		return false, err
	} else if known {
		result.Known++
		return false, nil
	}

	now := s.opts.Clock()
	published := item.PublishedAt
	if published == nil {
		published = &now
	}
	article := &db.Article{
		URL:         item.URL,
		Title:       item.Title,
		SourceName:  item.SourceName,
		SourceKind:  item.Kind,
		Author:      item.Author,
		PublishedAt: published,
		FetchedAt:   now,
		RawContent:  item.BodyExcerpt,
	}

	body := ""
	if item.BodyExcerpt != nil {
		body = *item.BodyExcerpt
	}
	article.Language = s.opts.DetectLanguage(item.Title, body)

	if originalID, ok := dedup.FindOriginal(item.Title, *window); ok {
		article.DuplicateOf = &originalID
		article.Analyzed = true
	}

	inserted, err := s.store.InsertArticle(ctx, article)
	if err != nil {
		return false, err
	}
	if !inserted {
		result.Known++
		return false, nil
	}

	*window = append(*window, *article)
	if article.DuplicateOf != nil {
		result.Duplicates++
		return false, nil
	}

	result.Inserted++
	switch item.Kind {
	case db.SourceKindGNews:
		result.FromGNews++
	default:
		result.FromRSS++
	}
	return true, nil
}
