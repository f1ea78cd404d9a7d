package common

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github/clearid/wallet-engine/internal/api"
)

func GetHealthyRoute(s *api.Server) *echo.Route {
	return s.Router.Root.GET("/healthz", getHealthyHandler(s))
}

func getHealthyHandler(_ *api.Server) echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	}
}
