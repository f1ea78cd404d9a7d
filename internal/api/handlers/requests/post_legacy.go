package requests

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"github/clearid/wallet-engine/internal/api"
	"github/clearid/wallet-engine/internal/util"
)

type legacyPayload struct {
	URL string `json:"url"`
}

func PostLegacyRoute(s *api.Server) *echo.Route {
	return s.Router.APIV1Requests.POST("/legacy", postLegacyHandler(s))
}

// postLegacyHandler accepts the URL wire variant and funnels it through the
// same resolution and pipeline path as the canonical payload.
func postLegacyHandler(s *api.Server) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()

		var payload legacyPayload
		if err := c.Bind(&payload); err != nil || payload.URL == "" {
			return echo.NewHTTPError(http.StatusBadRequest, "url is required")
		}

		req := s.Resolver.ResolveLegacy(ctx, payload.URL)
		if req.Error != "" {
			s.Metrics.ResolutionError()
			if err := s.Store.CreateRequest(ctx, req); err != nil {
				util.LogFromContext(ctx).Warn().Err(err).Msg("Failed to persist rejected request")
			}
			return c.JSON(http.StatusUnprocessableEntity, req)
		}
		s.Metrics.Resolved()

		// snapshot before handing off: the pipeline mutates req while the
		// response is being written
		accepted := *req
		go func() {
			runCtx := util.WithLogger(context.Background(), log.Logger)
			if _, err := s.Pipeline.Run(runCtx, req); err != nil {
				log.Error().Err(err).Str("request_id", req.ID).Msg("Pipeline run failed")
			}
		}()

		return c.JSON(http.StatusAccepted, &accepted)
	}
}
