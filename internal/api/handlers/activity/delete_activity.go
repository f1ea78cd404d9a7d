package activity

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github/clearid/wallet-engine/internal/api"
	walletactivity "github/clearid/wallet-engine/internal/wallet/activity"
)

func DeleteActivityRoute(s *api.Server) *echo.Route {
	return s.Router.APIV1Activity.DELETE("/:id", deleteActivityHandler(s))
}

// Cancellation only works before broadcast; requests with a recorded hash
// come back as a conflict.
func deleteActivityHandler(s *api.Server) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()

		err := s.Pipeline.Cancel(ctx, c.Param("id"))
		if errors.Is(err, walletactivity.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "unknown request")
		}
		if errors.Is(err, walletactivity.ErrTerminal) {
			return echo.NewHTTPError(http.StatusConflict, "request already terminal")
		}
		if err != nil {
			return err
		}
		return c.NoContent(http.StatusNoContent)
	}
}
