// Package handlers registers all HTTP routes.
package handlers

import (
	"github.com/labstack/echo/v4"

	"github/clearid/wallet-engine/internal/api"
	"github/clearid/wallet-engine/internal/api/handlers/activity"
	"github/clearid/wallet-engine/internal/api/handlers/common"
	"github/clearid/wallet-engine/internal/api/handlers/requests"
)

func AttachAllRoutes(s *api.Server) []*echo.Route {
	return []*echo.Route{
		common.GetHealthyRoute(s),
		common.GetReadyRoute(s),
		common.GetVersionRoute(s),
		requests.PostTransactionRoute(s),
		requests.PostLegacyRoute(s),
		requests.PostPersonalSignRoute(s),
		activity.GetActivityRoute(s),
		activity.DeleteActivityRoute(s),
	}
}
