// Package router wires the echo instance, middleware and route groups onto
// the server.
package router

import (
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github/clearid/wallet-engine/internal/api"
	"github/clearid/wallet-engine/internal/api/handlers"
	"github/clearid/wallet-engine/internal/util"
)

func Init(s *api.Server) {
	s.Echo = echo.New()
	s.Echo.HideBanner = true
	s.Echo.HidePort = true

	s.Echo.Use(middleware.Recover())
	s.Echo.Use(middleware.RequestID())
	s.Echo.Use(loggerMiddleware())

	s.Router = &api.Router{
		Root:          s.Echo.Group(""),
		Management:    s.Echo.Group("/-"),
		APIV1Requests: s.Echo.Group("/api/v1/requests"),
		APIV1Activity: s.Echo.Group("/api/v1/activity"),
	}

	s.Router.Root.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	s.Router.Routes = handlers.AttachAllRoutes(s)
}

// loggerMiddleware injects a request-scoped logger carrying the request id.
func loggerMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			requestID := c.Response().Header().Get(echo.HeaderXRequestID)
			l := log.With().Str("req_id", requestID).Logger()

			req := c.Request()
			c.SetRequest(req.WithContext(util.WithLogger(req.Context(), l)))
			return next(c)
		}
	}
}
