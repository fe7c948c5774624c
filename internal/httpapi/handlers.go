package httpapi

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"horse.fit/newswatch/internal/category"
	"horse.fit/newswatch/internal/db"
	"horse.fit/newswatch/internal/digest"
)

func (s *Server) handleRuns(c echo.Context) error {
	days, err := parsePositiveInt(c.QueryParam("days"), defaultWindowDays, 1, maxWindowDays)
	if err != nil {
		return failValidation(c, map[string]string{"days": err.Error()})
	}
	limit, err := parsePositiveInt(c.QueryParam("limit"), defaultRunsLimit, 1, maxRunsLimit)
	if err != nil {
		return failValidation(c, map[string]string{"limit": err.Error()})
	}

	runs, err := s.deps.Store.ListRecentRuns(c.Request().Context(), s.window(days), limit)
	if err != nil {
		s.logger.Error().Err(err).Msg("list pipeline runs failed")
		return internalError(c, "Failed to load pipeline runs")
	}
	if runs == nil {
		runs = []db.PipelineRun{}
	}
	return success(c, map[string]any{
		"items": runs,
		"days":  days,
		"limit": limit,
	})
}

func (s *Server) handleDigest(c echo.Context) error {
	format := strings.ToLower(strings.TrimSpace(c.QueryParam("format")))
	if format == "" {
		format = "json"
	}
	if format != "json" && format != "text" {
		return failValidation(c, map[string]string{"format": "must be json or text"})
	}

	categoryFilter := ""
	if raw := strings.TrimSpace(c.QueryParam("category")); raw != "" {
		name, ok := category.Lookup(raw)
		if !ok {
			return failValidation(c, map[string]string{"category": "unknown category"})
		}
		categoryFilter = name
	}

	if s.deps.Digest == nil {
		return errorWithStatus(c, http.StatusServiceUnavailable, "Digest is not configured")
	}
	since := s.opts.Clock().UTC().Add(-s.opts.DigestWindow)
	d, err := s.deps.Digest.Build(c.Request().Context(), since, categoryFilter)
	if err != nil {
		s.logger.Error().Err(err).Str("category", categoryFilter).Msg("build digest failed")
		return internalError(c, "Failed to build digest")
	}

	if format == "text" {
		c.Response().Header().Set(echo.HeaderContentType, echo.MIMETextPlainCharsetUTF8)
		c.Response().WriteHeader(http.StatusOK)
		return digest.WriteText(c.Response(), d)
	}
	return success(c, d)
}

func (s *Server) handleInsights(c echo.Context) error {
	days, err := parsePositiveInt(c.QueryParam("days"), defaultWindowDays, 1, maxWindowDays)
	if err != nil {
		return failValidation(c, map[string]string{"days": err.Error()})
	}

	insights, err := s.deps.Store.QueryInsights(c.Request().Context(), s.window(days), insightSourceLimit)
	if err != nil {
		s.logger.Error().Err(err).Int("days", days).Msg("query insights failed")
		return internalError(c, "Failed to load insights")
	}
	return success(c, map[string]any{
		"days":     days,
		"insights": insights,
	})
}

func (s *Server) handleKeywords(c echo.Context) error {
	if s.deps.Keywords == nil {
		return errorWithStatus(c, http.StatusServiceUnavailable, "Keyword filter is not configured")
	}
	rules := s.deps.Keywords.RuleSet(c.Request().Context())
	return success(c, map[string]any{
		"tiers":    rules.Tiers,
		"fallback": rules.Fallback,
		"total":    rules.Tiers.Len(),
	})
}

type feedbackRequest struct {
	Rating string `json:"rating"`
}

func (s *Server) handleFeedback(c echo.Context) error {
	articleID, err := strconv.ParseInt(strings.TrimSpace(c.Param("id")), 10, 64)
	if err != nil || articleID <= 0 {
		return failValidation(c, map[string]string{"id": "must be a positive integer"})
	}

	var req feedbackRequest
	if err := c.Bind(&req); err != nil {
		return failValidation(c, map[string]string{"body": "must be a JSON object"})
	}
	rating := strings.ToLower(strings.TrimSpace(req.Rating))
	if rating != db.FeedbackRelevant && rating != db.FeedbackNotRelevant {
		return failValidation(c, map[string]string{"rating": "must be relevant or not_relevant"})
	}

	ctx := c.Request().Context()
	exists, err := s.deps.Store.ArticleExists(ctx, articleID)
	if err != nil {
		s.logger.Error().Err(err).Int64("article_id", articleID).Msg("article lookup failed")
		return internalError(c, "Failed to record feedback")
	}
	if !exists {
		return failNotFound(c, "Article not found")
	}

	if err := s.deps.Store.UpsertFeedback(ctx, articleID, rating); err != nil {
		s.logger.Error().Err(err).Int64("article_id", articleID).Msg("upsert feedback failed")
		return internalError(c, "Failed to record feedback")
	}
	return success(c, map[string]any{
		"article_id": articleID,
		"rating":     rating,
	})
}
