// Package command holds shared helpers for the cobra command tree.
package command

import (
	"context"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github/clearid/wallet-engine/internal/api"
	"github/clearid/wallet-engine/internal/config"
)

// NewSubcommandGroup returns a command that only exists to group its
// subcommands; invoking it bare prints usage.
func NewSubcommandGroup(use string, subcommands ...*cobra.Command) *cobra.Command {
	cmd := &cobra.Command{
		Use:   use,
		Short: "Subcommands for " + use,
		Run: func(cmd *cobra.Command, _ []string) {
			_ = cmd.Help()
		},
	}
	cmd.AddCommand(subcommands...)
	return cmd
}

// ApplyLoggerConfig configures the global logger from the service config.
func ApplyLoggerConfig(cfg config.Logger) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.PrettyPrintConsole {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
}

// WithServer wires a fully initialized engine (without the HTTP layer), runs
// fn against it and shuts everything down afterwards.
func WithServer(ctx context.Context, cfg config.Server, fn func(ctx context.Context, s *api.Server) error) error {
	ApplyLoggerConfig(cfg.Logger)

	s := api.NewServer(cfg)
	if err := api.InitEngine(ctx, s); err != nil {
		return err
	}
	defer func() {
		for _, err := range s.Shutdown(context.Background()) {
			log.Error().Err(err).Msg("Error during shutdown")
		}
	}()

	return fn(ctx, s)
}
