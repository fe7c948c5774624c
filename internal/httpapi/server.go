// Package httpapi serves the pipeline trigger and the read endpoints over the stored results.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"horse.fit/newswatch/internal/db"
	"horse.fit/newswatch/internal/digest"
	"horse.fit/newswatch/internal/globaltime"
	"horse.fit/newswatch/internal/keywords"
	"horse.fit/newswatch/internal/metrics"
	"horse.fit/newswatch/internal/pipeline"
)

const (
	defaultRunsLimit   = 20
	maxRunsLimit       = 200
	defaultWindowDays  = 7
	maxWindowDays      = 90
	insightSourceLimit = 15
)

type Store interface {
	Ping(ctx context.Context) error
	ListRecentRuns(ctx context.Context, since time.Time, limit int) ([]db.PipelineRun, error)
	QueryInsights(ctx context.Context, since time.Time, sourceLimit int) (*db.Insights, error)
	ArticleExists(ctx context.Context, articleID int64) (bool, error)
	UpsertFeedback(ctx context.Context, articleID int64, rating string) error
}

type PipelineRunner interface {
	Run(ctx context.Context) (pipeline.Stats, error)
}

type DigestBuilder interface {
	Build(ctx context.Context, since time.Time, categoryFilter string) (digest.Digest, error)
}

// RuleSetSource exposes the keyword tiers currently in effect.
type RuleSetSource interface {
	RuleSet(ctx context.Context) *keywords.RuleSet
}

type Deps struct {
	Store    Store
	Pipeline PipelineRunner
	Digest   DigestBuilder
	Keywords RuleSetSource
}

type Options struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration

	// TriggerSecretHash is the bcrypt hash of the bearer secret for the pipeline trigger.
	// An empty hash disables the trigger.
	TriggerSecretHash string
	// DigestWindow is the lookback of GET /api/v1/digest.
	DigestWindow time.Duration
	Clock        globaltime.Clock
}

type Server struct {
	deps   Deps
	logger zerolog.Logger
	opts   Options
}

func NewServer(deps Deps, logger zerolog.Logger, opts Options) *Server {
	host := strings.TrimSpace(opts.Host)
	if host == "" {
		host = "0.0.0.0"
	}
	port := opts.Port
	if port <= 0 {
		port = 8090
	}
	readTimeout := opts.ReadTimeout
	if readTimeout <= 0 {
		readTimeout = 10 * time.Second
	}
	// A pipeline run answers synchronously, so the write timeout has to cover a whole run.
	writeTimeout := opts.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 5 * time.Minute
	}
	shutdownTimeout := opts.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	digestWindow := opts.DigestWindow
	if digestWindow <= 0 {
		digestWindow = 24 * time.Hour
	}

	return &Server{
		deps:   deps,
		logger: logger,
		opts: Options{
			Host:              host,
			Port:              port,
			ReadTimeout:       readTimeout,
			WriteTimeout:      writeTimeout,
			ShutdownTimeout:   shutdownTimeout,
			TriggerSecretHash: strings.TrimSpace(opts.TriggerSecretHash),
			DigestWindow:      digestWindow,
			Clock:             globaltime.OrDefault(opts.Clock),
		},
	}
}

// Handler builds the echo instance with every route registered.
func (s *Server) Handler() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = s.httpErrorHandler

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:    true,
		LogURI:       true,
		LogMethod:    true,
		LogLatency:   true,
		LogRemoteIP:  true,
		LogRequestID: true,
		LogError:     true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			event := s.logger.Info()
			msg := "http request"
			if v.Error != nil {
				event = s.logger.Error().Err(v.Error)
				msg = "http request failed"
			}
			event.
				Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Str("remote_ip", v.RemoteIP).
				Str("request_id", v.RequestID).
				Msg(msg)
			return nil
		},
	}))

	e.GET("/healthz", s.handleHealth)
	e.GET("/metrics", echo.WrapHandler(metrics.Handler()))

	api := e.Group("/api/v1")
	api.GET("/health", s.handleHealth)
	api.POST("/pipeline/run", s.handleRunPipeline, s.requireTriggerSecret())
	api.GET("/runs", s.handleRuns)
	api.GET("/digest", s.handleDigest)
	api.GET("/insights", s.handleInsights)
	api.GET("/keywords", s.handleKeywords)
	api.POST("/articles/:id/feedback", s.handleFeedback)
	return e
}

func (s *Server) Start(ctx context.Context) error {
	if s == nil || s.deps.Store == nil {
		return fmt.Errorf("server is not initialized")
	}

	e := s.Handler()
	addr := fmt.Sprintf("%s:%d", s.opts.Host, s.opts.Port)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      e,
		ReadTimeout:  s.opts.ReadTimeout,
		WriteTimeout: s.opts.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
		defer cancel()
		if shutdownErr := e.Shutdown(shutdownCtx); shutdownErr != nil {
			s.logger.Error().Err(shutdownErr).Msg("server shutdown failed")
		}
	}()

	s.logger.Info().Str("addr", addr).Bool("trigger_enabled", s.opts.TriggerSecretHash != "").Msg("newswatch api started")

	if err := e.StartServer(httpServer); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("start server: %w", err)
	}
	s.logger.Info().Msg("newswatch api stopped")
	return nil
}

func (s *Server) httpErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	status := http.StatusInternalServerError
	message := "Internal server error"
	var he *echo.HTTPError
	if errors.As(err, &he) {
		status = he.Code
		if v, ok := he.Message.(string); ok && strings.TrimSpace(v) != "" {
			message = v
		} else if text := http.StatusText(status); text != "" {
			message = text
		}
	}

	if status >= 500 {
		_ = internalError(c, "Internal server error")
		return
	}
	_ = fail(c, status, message, nil)
}

func (s *Server) handleHealth(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	if err := s.deps.Store.Ping(ctx); err != nil {
		s.logger.Error().Err(err).Msg("health check failed")
		return errorWithStatus(c, http.StatusServiceUnavailable, "Database unavailable")
	}
	return success(c, map[string]any{
		"service": "newswatch",
		"time":    s.opts.Clock().UTC(),
	})
}

func (s *Server) window(days int) time.Time {
	return s.opts.Clock().UTC().Add(-time.Duration(days) * 24 * time.Hour)
}

func parsePositiveInt(raw string, defaultValue, minValue, maxValue int) (int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return defaultValue, nil
	}

	value, err := strconv.Atoi(trimmed)
	if err != nil {
		return 0, fmt.Errorf("must be an integer")
	}
	if value < minValue || value > maxValue {
		return 0, fmt.Errorf("must be between %d and %d", minValue, maxValue)
	}
	return value, nil
}
