package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/alanyoungcy/everest/internal/app"
	"github.com/alanyoungcy/everest/internal/config"
)

// RootConfig carries the persistent flags shared by every subcommand.
type RootConfig struct {
	ConfigPath string
	LogLevel   string
}

// Execute builds the command tree and runs it against os.Args.
func Execute() error {
	return NewRootCmd().Execute()
}

// NewRootCmd returns a fresh command tree.
func NewRootCmd() *cobra.Command {
	rc := &RootConfig{}

	cmd := &cobra.Command{
		Use:   "everest",
		Short: "Portfolio order execution engine",
		Long: `Everest books buy and sell orders against customer portfolios and
settles them on their liquidation date.

It provides:
  - an HTTP and WebSocket API (serve)
  - a settlement worker that executes due orders and archives settled ones
  - one-shot commands for operators and scripts`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVarP(&rc.ConfigPath, "config", "c", os.Getenv("EVEREST_CONFIG"), "path to a TOML or YAML config file (defaults only when empty)")
	cmd.PersistentFlags().StringVar(&rc.LogLevel, "log-level", "", "override log_level from the config")

	cmd.AddCommand(
		newServeCmd(rc),
		newExecuteDueCmd(rc),
		newExecuteCmd(rc),
		newMigrateCmd(rc),
		newArchiveCmd(rc),
		newInvestCmd(rc),
		newDivestCmd(rc),
		newTransferCmd(rc, "deposit"),
		newTransferCmd(rc, "withdraw"),
		newBalanceCmd(rc),
		newCustomerCmd(rc),
		newPortfolioCmd(rc),
		newProductCmd(rc),
		newAuditCmd(rc),
		newVersionCmd(),
	)
	return cmd
}

// load reads the configuration, applies flag overrides, validates it and
// builds the JSON logger.
func (rc *RootConfig) load(logOut io.Writer, overrides ...func(*config.Config)) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(rc.ConfigPath)
	if err != nil {
		return nil, nil, err
	}
	if rc.LogLevel != "" {
		cfg.LogLevel = rc.LogLevel
	}
	for _, o := range overrides {
		o(cfg)
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(logOut, &slog.HandlerOptions{
		Level: parseLevel(cfg.LogLevel),
	}))
	return cfg, logger, nil
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// session is one wired App for the lifetime of a command.
type session struct {
	cfg  *config.Config
	app  *app.App
	deps *app.Dependencies
}

// withSession wires the application, runs fn and tears everything down.
// Logs go to stderr so stdout stays clean for command output.
func (rc *RootConfig) withSession(cmd *cobra.Command, fn func(ctx context.Context, s *session) error, overrides ...func(*config.Config)) error {
	cfg, logger, err := rc.load(cmd.ErrOrStderr(), overrides...)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a := app.New(cfg, logger)
	defer a.Close()

	deps, err := a.Wire(ctx)
	if err != nil {
		return err
	}
	return fn(ctx, &session{cfg: cfg, app: a, deps: deps})
}
