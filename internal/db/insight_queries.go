package db

import (
	"context"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
)

type CountByLabel struct {
	Label string `json:"label"`
	Count int64  `json:"count"`
}

// Insights summarises relevant coverage and pipeline activity over a trailing window.
type Insights struct {
	Since            time.Time      `json:"since"`
	ArticlesIngested int64          `json:"articles_ingested"`
	ArticlesRelevant int64          `json:"articles_relevant"`
	DuplicatesMarked int64          `json:"duplicates_marked"`
	ClustersFormed   int64          `json:"clusters_formed"`
	Categories       []CountByLabel `json:"categories"`
	Sources          []CountByLabel `json:"sources"`
	FeedbackRelevant int64          `json:"feedback_relevant"`
	FeedbackRejected int64          `json:"feedback_not_relevant"`
	Runs             []PipelineRun  `json:"runs"`
}

func (p *Pool) QueryInsights(ctx context.Context, since time.Time, sourceLimit int) (*Insights, error) {
	out := &Insights{Since: since}

	scalars := []struct {
		dest  *int64
		query sq.SelectBuilder
	}{
		{&out.ArticlesIngested, psql.Select("COUNT(*)").From("watch.articles").Where(sq.GtOrEq{"fetched_at": since})},
		{&out.DuplicatesMarked, psql.Select("COUNT(*)").From("watch.articles").Where(sq.GtOrEq{"fetched_at": since}).Where(sq.NotEq{"duplicate_of": nil})},
		{&out.ArticlesRelevant, psql.Select("COUNT(*)").From("watch.classifications").Where(sq.GtOrEq{"analyzed_at": since}).Where(sq.Eq{"is_relevant": true})},
		{&out.ClustersFormed, psql.Select("COUNT(*)").From("watch.story_clusters").Where(sq.GtOrEq{"created_at": since})},
		{&out.FeedbackRelevant, psql.Select("COUNT(*)").From("watch.feedback").Where(sq.GtOrEq{"updated_at": since}).Where(sq.Eq{"rating": FeedbackRelevant})},
		{&out.FeedbackRejected, psql.Select("COUNT(*)").From("watch.feedback").Where(sq.GtOrEq{"updated_at": since}).Where(sq.Eq{"rating": FeedbackNotRelevant})},
	}
	for _, scalar := range scalars {
		sqlText, args, err := scalar.query.ToSql()
		if err != nil {
			return nil, fmt.Errorf("build insight query: %w", err)
		}
		if err := p.QueryRow(ctx, sqlText, args...).Scan(scalar.dest); err != nil {
			return nil, fmt.Errorf("query insight scalar: %w", err)
		}
	}

	categories, err := p.countByLabel(ctx, psql.
		Select("COALESCE(category, 'Other')", "COUNT(*)").
		From("watch.classifications").
		Where(sq.Eq{"is_relevant": true}).
		Where(sq.GtOrEq{"analyzed_at": since}).
		GroupBy("COALESCE(category, 'Other')").
		OrderBy("COUNT(*) DESC"))
	if err != nil {
		return nil, fmt.Errorf("category breakdown: %w", err)
	}
	out.Categories = categories

	sourceQuery := psql.
		Select("a.source_name", "COUNT(*)").
		From("watch.classifications c").
		Join("watch.articles a ON a.article_id = c.article_id").
		Where(sq.Eq{"c.is_relevant": true}).
		Where(sq.GtOrEq{"c.analyzed_at": since}).
		GroupBy("a.source_name").
		OrderBy("COUNT(*) DESC", "a.source_name ASC")
	if sourceLimit > 0 {
		sourceQuery = sourceQuery.Limit(uint64(sourceLimit))
	}
	sources, err := p.countByLabel(ctx, sourceQuery)
	if err != nil {
		return nil, fmt.Errorf("source breakdown: %w", err)
	}
	out.Sources = sources

	runs, err := p.ListRecentRuns(ctx, since, 0)
	if err != nil {
		return nil, err
	}
	out.Runs = runs

	return out, nil
}

func (p *Pool) countByLabel(ctx context.Context, query sq.SelectBuilder) ([]CountByLabel, error) {
	sqlText, args, err := query.ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := p.Query(ctx, sqlText, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]CountByLabel, 0, 16)
	for rows.Next() {
		var item CountByLabel
		if err := rows.Scan(&item.Label, &item.Count); err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, rows.Err()
}
