// Package source fetches candidate articles from RSS feeds and the GNews search API.
package source

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"horse.fit/newswatch/internal/db"
)

const defaultFanOut = 4

// Item is one article offered by a feed, before it is stored.
type Item struct {
	URL         string
	Title       string
	Author      *string
	PublishedAt *time.Time
	BodyExcerpt *string
	SourceName  string
	Kind        string
}

// FeedResult is the outcome of reading one feed or one search query.
type FeedResult struct {
	Kind       string
	SourceName string
	FeedURL    string
	Items      []Item
	Err        error
}

// Batch collects the feeds read by one source.
type Batch struct {
	Feeds []FeedResult
	// Skipped explains why a source produced nothing without failing, e.g. a missing API key.
	Skipped string
}

func (b Batch) ItemCount() int {
	total := 0
	for _, feed := range b.Feeds {
		total += len(feed.Items)
	}
	return total
}

// Failed reports whether every feed in the batch errored.
func (b Batch) Failed() bool {
	if len(b.Feeds) == 0 {
		return false
	}
	for _, feed := range b.Feeds {
		if feed.Err == nil {
			return false
		}
	}
	return true
}

type Source interface {
	Name() string
	Fetch(ctx context.Context) (Batch, error)
}

// Collect fetches every source concurrently. A source error is reported as a failed feed
// result so one broken source never hides the others.
func Collect(ctx context.Context, sources []Source, logger zerolog.Logger) []Batch {
	batches := make([]Batch, len(sources))
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(defaultFanOut)

	for i, src := range sources {
		group.Go(func() error {
			batch, err := src.Fetch(groupCtx)
			if err != nil {
				logger.Error().Err(err).Str("source", src.Name()).Msg("source fetch failed")
				batch.Feeds = append(batch.Feeds, FeedResult{
					Kind:       src.Name(),
					SourceName: src.Name(),
					FeedURL:    src.Name(),
					Err:        err,
				})
			}
			batches[i] = batch
			return nil
		})
	}
	_ = group.Wait()
	return batches
}

// IngestLog converts a feed result into its audit row.
func (f FeedResult) IngestLog(newCount int) db.IngestLog {
	entry := db.IngestLog{
		SourceKind:    f.Kind,
		SourceName:    f.SourceName,
		FeedURL:       f.FeedURL,
		ArticlesFound: len(f.Items),
		ArticlesNew:   newCount,
	}
	if f.Err != nil {
		msg := truncate(f.Err.Error(), 500)
		entry.ErrorMessage = &msg
	}
	return entry
}

func truncate(value string, limit int) string {
	value = strings.TrimSpace(value)
	runes := []rune(value)
	if len(runes) <= limit {
		return value
	}
	return string(runes[:limit])
}

func optional(value string) *string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return &value
}

func statusError(service string, status int, body []byte) error {
	return fmt.Errorf("%s status %d: %s", service, status, truncate(string(body), 200))
}
