package common

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github/clearid/wallet-engine/internal/api"
	"github/clearid/wallet-engine/internal/util"
)

func GetReadyRoute(s *api.Server) *echo.Route {
	return s.Router.Root.GET("/readyz", getReadyHandler(s))
}

// Readiness requires full wiring and a reachable RPC endpoint.
func getReadyHandler(s *api.Server) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		if !s.Ready() {
			return c.String(http.StatusServiceUnavailable, "not ready")
		}
		if s.RPC != nil && !s.RPC.Connected(ctx) {
			util.LogFromContext(ctx).Debug().Msg("Readiness probe failed: RPC unreachable")
			return c.String(http.StatusServiceUnavailable, "rpc unreachable")
		}
		return c.String(http.StatusOK, "ready")
	}
}
