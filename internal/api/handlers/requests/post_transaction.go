package requests

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"github/clearid/wallet-engine/internal/api"
	"github/clearid/wallet-engine/internal/util"
	"github/clearid/wallet-engine/internal/wallet/request"
)

func PostTransactionRoute(s *api.Server) *echo.Route {
	return s.Router.APIV1Requests.POST("/transaction", postTransactionHandler(s))
}

// postTransactionHandler resolves the payload and, when resolution succeeds,
// hands the request to the pipeline in the background. The response carries
// the request id for later activity polling; resolution failures come back
// as 422 with the error recorded on the request.
func postTransactionHandler(s *api.Server) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()

		var payload request.Payload
		if err := c.Bind(&payload); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "malformed payload")
		}

		req := s.Resolver.Resolve(ctx, &payload)
		if req.Error != "" {
			s.Metrics.ResolutionError()
			// persist the failed resolution so callers can inspect it
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
