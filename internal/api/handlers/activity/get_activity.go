package activity

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github/clearid/wallet-engine/internal/api"
	walletactivity "github/clearid/wallet-engine/internal/wallet/activity"
)

func GetActivityRoute(s *api.Server) *echo.Route {
	return s.Router.APIV1Activity.GET("/:id", getActivityHandler(s))
}

func getActivityHandler(s *api.Server) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()

		req, err := s.Store.Request(ctx, c.Param("id"))
		if errors.Is(err, walletactivity.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "unknown request")
		}
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, req)
	}
}
