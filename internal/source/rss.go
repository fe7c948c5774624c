package source

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"horse.fit/newswatch/internal/db"
	"horse.fit/newswatch/internal/globaltime"
)

const (
	defaultFeedTimeout = 10 * time.Second
	untitled           = "Untitled"
	userAgent          = "newswatch/1.0 (+https://horse.fit/newswatch)"
)

type RSSOptions struct {
	Feeds []Feed
	// MaxAge drops items published before now-MaxAge. Items without a date are dropped too.
	MaxAge     time.Duration
	Timeout    time.Duration
	HTTPClient *http.Client
	Clock      globaltime.Clock
}

// RSS reads a fixed list of feeds.
type RSS struct {
	opts   RSSOptions
	client *http.Client
	logger zerolog.Logger
}

func NewRSS(opts RSSOptions, logger zerolog.Logger) *RSS {
	if opts.MaxAge <= 0 {
		opts.MaxAge = 24 * time.Hour
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultFeedTimeout
	}
	opts.Clock = globaltime.OrDefault(opts.Clock)

	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: opts.Timeout}
	}
	return &RSS{opts: opts, client: client, logger: logger}
}

func (r *RSS) Name() string { return db.SourceKindRSS }

// Fetch reads every feed concurrently. Feed failures are reported per feed and never fail the batch.
func (r *RSS) Fetch(ctx context.Context) (Batch, error) {
	cutoff := r.opts.Clock().Add(-r.opts.MaxAge)
	results := make([]FeedResult, len(r.opts.Feeds))

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(defaultFanOut)
	for i, feed := range r.opts.Feeds {
		group.Go(func() error {
			results[i] = r.fetchFeed(groupCtx, feed, cutoff)
			return nil
		})
	}
	_ = group.Wait()

	if err := ctx.Err(); err != nil {
		return Batch{}, err
	}
	return Batch{Feeds: results}, nil
}

func (r *RSS) fetchFeed(ctx context.Context, feed Feed, cutoff time.Time) FeedResult {
	result := FeedResult{Kind: db.SourceKindRSS, SourceName: feed.Name, FeedURL: feed.URL}

	fetchCtx, cancel := context.WithTimeout(ctx, r.opts.Timeout)
	defer cancel()

	parser := gofeed.NewParser()
	parser.Client = r.client
	parser.UserAgent = userAgent

	parsed, err := parser.ParseURLWithContext(feed.URL, fetchCtx)
	if err != nil {
		result.Err = fmt.Errorf("parse feed: %w", err)
		r.logger.Warn().Err(err).Str("feed", feed.Name).Str("url", feed.URL).Msg("feed fetch failed")
		return result
	}

	result.Items = itemsFromFeed(feed.Name, parsed, cutoff)
	r.logger.Debug().
		Str("feed", feed.Name).
		Int("items", len(parsed.Items)).
		Int("recent", len(result.Items)).
		Msg("feed parsed")
	return result
}

func itemsFromFeed(sourceName string, parsed *gofeed.Feed, cutoff time.Time) []Item {
	items := make([]Item, 0, len(parsed.Items))
	for _, entry := range parsed.Items {
		if entry == nil {
			continue
		}
		link := strings.TrimSpace(entry.Link)
		if link == "" && len(entry.Links) > 0 {
			link = strings.TrimSpace(entry.Links[0])
		}
		if link == "" {
			continue
		}

		published := entry.PublishedParsed
		if published == nil {
			published = entry.UpdatedParsed
		}
		if published == nil || !published.After(cutoff) {
			continue
		}
		at := published.UTC()

		title := collapseSpace(entry.Title)
		if title == "" {
			title = untitled
		}

		body := PlainText(entry.Description)
		if body == "" {
			body = PlainText(entry.Content)
		}

		items = append(items, Item{
			URL:         link,
			Title:       title,
			Author:      authorOf(entry),
			PublishedAt: &at,
			BodyExcerpt: optional(body),
			SourceName:  sourceName,
			Kind:        db.SourceKindRSS,
		})
	}
	return items
}

func authorOf(entry *gofeed.Item) *string {
	if entry.Author != nil && strings.TrimSpace(entry.Author.Name) != "" {
		return optional(entry.Author.Name)
	}
	for _, person := range entry.Authors {
		if person != nil && strings.TrimSpace(person.Name) != "" {
			return optional(person.Name)
		}
	}
	if entry.DublinCoreExt != nil && len(entry.DublinCoreExt.Creator) > 0 {
		return optional(entry.DublinCoreExt.Creator[0])
	}
	return nil
}
