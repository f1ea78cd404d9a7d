package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"github/clearid/wallet-engine/internal/config"
	"github/clearid/wallet-engine/internal/metrics"
	"github/clearid/wallet-engine/internal/wallet/accounts"
	"github/clearid/wallet-engine/internal/wallet/activity"
	"github/clearid/wallet-engine/internal/wallet/confirm"
	"github/clearid/wallet-engine/internal/wallet/ethrpc"
	"github/clearid/wallet-engine/internal/wallet/hdkey"
	"github/clearid/wallet-engine/internal/wallet/pipeline"
	"github/clearid/wallet-engine/internal/wallet/request"
)

type Router struct {
	Routes        []*echo.Route
	Root          *echo.Group
	Management    *echo.Group
	APIV1Requests *echo.Group
	APIV1Activity *echo.Group
}

// Server is the central struct keeping all the dependencies. Components are
// initialized by the server command's wiring before Start is called.
type Server struct {
	Echo   *echo.Echo
	Router *Router

	Config   config.Server
	Store    *activity.Store
	Accounts *accounts.Registry
	Keys     *hdkey.Service
	RPC      *ethrpc.Client
	Resolver *request.Resolver
	Pipeline *pipeline.Pipeline
	Tracker  *confirm.Tracker
	Metrics  *metrics.Service
}

func NewServer(cfg config.Server) *Server {
	return &Server{Config: cfg}
}

func (s *Server) Ready() bool {
	if s.Echo == nil || s.Router == nil || s.Store == nil || s.Resolver == nil || s.Pipeline == nil {
		log.Debug().Msg("Server is not fully initialized")
		return false
	}
	return true
}

func (s *Server) Start() error {
	if !s.Ready() {
		return errors.New("server is not ready")
	}

	if err := s.Echo.Start(s.Config.Echo.ListenAddress); err != nil {
		return fmt.Errorf("failed to start echo server: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) []error {
	log.Warn().Msg("Shutting down server")

	var errs []error

	if s.Echo != nil {
		log.Debug().Msg("Shutting down echo server")
		if err := s.Echo.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("Failed to shutdown echo server")
			errs = append(errs, err)
		}
	}

	if s.RPC != nil {
		s.RPC.Close()
	}

	if s.Store != nil {
		log.Debug().Msg("Closing activity store")
		if err := s.Store.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close activity store")
			errs = append(errs, err)
		}
	}

	return errs
}
