package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"golang.org/x/crypto/bcrypt"

	"horse.fit/newswatch/internal/pipeline"
)

// requireTriggerSecret accepts "Authorization: Bearer <secret>" when the secret matches the
// configured bcrypt hash.
func (s *Server) requireTriggerSecret() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if s.opts.TriggerSecretHash == "" {
				return errorWithStatus(c, http.StatusServiceUnavailable, "Pipeline trigger is not configured")
			}

			secret, ok := bearerToken(c.Request().Header.Get(echo.HeaderAuthorization))
			if !ok {
				return fail(c, http.StatusUnauthorized, "Unauthorized", nil)
			}
			err := bcrypt.CompareHashAndPassword([]byte(s.opts.TriggerSecretHash), []byte(secret))
			if err != nil {
				if !errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
					s.logger.Error().Err(err).Msg("trigger secret hash is unusable")
				}
				return fail(c, http.StatusUnauthorized, "Unauthorized", nil)
			}
			return next(c)
		}
	}
}

func bearerToken(header string) (string, bool) {
	scheme, token, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// handleRunPipeline runs the pipeline synchronously and answers with its stats. The run is
// detached from the request so a dropped connection does not abandon it halfway.
func (s *Server) handleRunPipeline(c echo.Context) error {
	if s.deps.Pipeline == nil {
		return errorWithStatus(c, http.StatusServiceUnavailable, "Pipeline is not configured")
	}

	stats, err := s.deps.Pipeline.Run(context.WithoutCancel(c.Request().Context()))
	switch {
	case errors.Is(err, pipeline.ErrRunInProgress):
		return fail(c, http.StatusConflict, "A pipeline run is already in progress", nil)
	case err != nil:
		s.logger.Error().Err(err).Str("run_uuid", stats.RunUUID).Msg("triggered pipeline run failed")
		return internalError(c, err.Error())
	}
	return success(c, stats)
}
