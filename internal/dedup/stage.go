// Package dedup links near-identical headlines to the earliest article that carried them.
// Duplicates are never deleted; duplicate_of keeps their provenance for digest attribution.
package dedup

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"horse.fit/newswatch/internal/db"
	"horse.fit/newswatch/internal/similarity"
)

// ErrUnsorted is returned when the input is not in ascending fetch order.
var ErrUnsorted = errors.New("dedup input must be sorted by fetched_at ascending")

type Store interface {
	ListWindowForDedup(ctx context.Context, since time.Time) ([]db.Article, error)
	MarkDuplicate(ctx context.Context, articleID, originalID int64) (bool, error)
}

// Link records that Duplicate repeats the headline of Original.
type Link struct {
	Duplicate int64
	Original  int64
	Score     float64
}

type Result struct {
	Scanned int
	Links   []Link
}

type Stage struct {
	store  Store
	logger zerolog.Logger
}

func NewStage(store Store, logger zerolog.Logger) *Stage {
	return &Stage{store: store, logger: logger}
}

// Backfill scans every article fetched since the cutoff and links duplicates.
func (s *Stage) Backfill(ctx context.Context, since time.Time) (Result, error) {
	window, err := s.store.ListWindowForDedup(ctx, since)
	if err != nil {
		return Result{}, fmt.Errorf("load dedup window: %w", err)
	}
	return s.MarkDuplicates(ctx, window)
}

// MarkDuplicates links each candidate to the first earlier, non-duplicate article whose headline
// similarity exceeds the threshold. Articles must be in ascending fetch order; later decisions
// depend on links made earlier in the same pass.
func (s *Stage) MarkDuplicates(ctx context.Context, articles []db.Article) (Result, error) {
	if err := checkOrder(articles); err != nil {
		return Result{}, err
	}

	links := Plan(articles)
	result := Result{Scanned: len(articles), Links: make([]Link, 0, len(links))}
	for _, link := range links {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		applied, err := s.store.MarkDuplicate(ctx, link.Duplicate, link.Original)
		if err != nil {
			return result, err
		}
		if !applied {
			continue
		}
		result.Links = append(result.Links, link)
		s.logger.Debug().
			Int64("article_id", link.Duplicate).
			Int64("duplicate_of", link.Original).
			Float64("score", link.Score).
			Msg("linked duplicate article")
	}

	if len(result.Links) > 0 {
		s.logger.Info().
			Int("scanned", result.Scanned).
			Int("linked", len(result.Links)).
			Msg("dedup pass complete")
	}
	return result, nil
}

// Plan computes the links for an ascending window without touching storage.
func Plan(articles []db.Article) []Link {
	marked := make([]bool, len(articles))
	eligible := make([]bool, len(articles))
	titles := make([]map[string]struct{}, len(articles))
	for i, article := range articles {
		marked[i] = article.DuplicateOf != nil
		eligible[i] = similarity.IsCandidate(article.Title)
		titles[i] = similarity.TokenSet(article.Title)
	}

	var links []Link
	for i := range articles {
		if marked[i] || !eligible[i] {
			continue
		}
		for j := 0; j < i; j++ {
			if marked[j] {
				continue
			}
			score := similarity.Jaccard(titles[i], titles[j])
			if score > similarity.DuplicateThreshold {
				marked[i] = true
				links = append(links, Link{
					Duplicate: articles[i].ArticleID,
					Original:  articles[j].ArticleID,
					Score:     score,
				})
				break
			}
		}
	}
	return links
}

// FindOriginal applies the same first-match rule to a single incoming headline against an
// ascending window of stored articles.
func FindOriginal(title string, window []db.Article) (int64, bool) {
	if !similarity.IsCandidate(title) {
		return 0, false
	}
	candidate := similarity.TokenSet(title)
	for _, existing := range window {
		if existing.DuplicateOf != nil {
			continue
		}
		if similarity.Jaccard(candidate, similarity.TokenSet(existing.Title)) > similarity.DuplicateThreshold {
			return existing.ArticleID, true
		}
	}
	return 0, false
}

func checkOrder(articles []db.Article) error {
	for i := 1; i < len(articles); i++ {
		if articles[i].FetchedAt.Before(articles[i-1].FetchedAt) {
			return fmt.Errorf("%w: article %d fetched before article %d", ErrUnsorted, articles[i].ArticleID, articles[i-1].ArticleID)
		}
	}
	return nil
}
