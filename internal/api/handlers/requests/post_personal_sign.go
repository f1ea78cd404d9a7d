package requests

import (
	"encoding/hex"
	"net/http"

	"github.com/labstack/echo/v4"

	"github/clearid/wallet-engine/internal/api"
	"github/clearid/wallet-engine/internal/wallet"
	"github/clearid/wallet-engine/internal/wallet/request"
)

type personalSignResponse struct {
	ID        string `json:"id"`
	Signature string `json:"signature"`
}

func PostPersonalSignRoute(s *api.Server) *echo.Route {
	return s.Router.APIV1Requests.POST("/personal-sign", postPersonalSignHandler(s))
}

// Message signing has no broadcast phase, so it completes synchronously.
func postPersonalSignHandler(s *api.Server) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()

		var payload request.PersonalSignPayload
		if err := c.Bind(&payload); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "malformed payload")
		}

		req := s.Resolver.ResolvePersonalSign(ctx, &payload)
		if req.Error != "" {
			s.Metrics.ResolutionError()
			return c.JSON(http.StatusUnprocessableEntity, req)
		}
		s.Metrics.Resolved()

		signature, err := s.Pipeline.SignPersonal(ctx, req)
		if err != nil {
			if err.Error() == wallet.ErrTagAccessDenied {
				return c.JSON(http.StatusForbidden, req)
			}
			return c.JSON(http.StatusInternalServerError, req)
		}

		return c.JSON(http.StatusOK, personalSignResponse{
			ID:        req.ID,
			Signature: "0x" + hex.EncodeToString(signature),
		})
	}
}
