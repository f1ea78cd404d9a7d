package server

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github/clearid/wallet-engine/internal/api"
	"github/clearid/wallet-engine/internal/api/router"
	"github/clearid/wallet-engine/internal/config"
	"github/clearid/wallet-engine/internal/util/command"
)

const backlogSweepInterval = 5 * time.Minute

func New() *cobra.Command {
	return &cobra.Command{
		Use:   "server",
		Short: "Starts the wallet engine server",
		Run: func(_ *cobra.Command, _ []string) {
			if err := runServer(); err != nil {
				log.Fatal().Err(err).Msg("Server terminated")
			}
		},
	}
}

func runServer() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := config.DefaultServiceConfigFromEnv()

	return command.WithServer(ctx, cfg, func(ctx context.Context, s *api.Server) error {
		router.Init(s)

		go s.RunBacklogSweep(ctx, backlogSweepInterval)

		errs := make(chan error, 1)
		go func() {
			errs <- s.Start()
		}()

		select {
		case err := <-errs:
			return err
		case <-ctx.Done():
			log.Info().Msg("Received shutdown signal")
			return nil
		}
	})
}
