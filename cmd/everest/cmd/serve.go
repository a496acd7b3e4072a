package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/alanyoungcy/everest/internal/app"
	"github.com/alanyoungcy/everest/internal/config"
)

func newServeCmd(rc *RootConfig) *cobra.Command {
	var mode string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the API server, the settlement worker, or both",
		Long: `Serve runs the long-lived process in one of three modes:

  serve   HTTP API and WebSocket feed
  worker  settlement scheduler and order archive
  full    both (default)`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := rc.load(os.Stdout, func(cfg *config.Config) {
				if mode != "" {
					cfg.Mode = mode
				}
			})
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a := app.New(cfg, logger)
			defer a.Close()

			err = a.Run(ctx)
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("application exited with error", slog.String("error", err.Error()))
				return fmt.Errorf("serve: %w", err)
			}
			logger.Info("everest stopped")
			return nil
		},
	}

	cmd.Flags().StringVarP(&mode, "mode", "m", "", "serve, worker or full (overrides config)")
	return cmd
}
