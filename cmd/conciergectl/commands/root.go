// Package commands implements the conciergectl subcommands with cobra.
package commands

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"

	"guest-concierge/internal/app"
	"guest-concierge/internal/config"

	"github.com/spf13/cobra"
)

// NewRootCmd builds the root command with every subcommand registered.
func NewRootCmd(version string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "conciergectl",
		Short: "Guest concierge operations",
		Long: `conciergectl manages the guest concierge database and delivery queue.
It reads the same .env / environment settings as the server.

Examples:
  conciergectl migrate
  conciergectl seed knowledge.yaml
  conciergectl copy-data --from ./concierge.db
  conciergectl sweep
  conciergectl retry-failed --booking bk-123
  conciergectl stats`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		newMigrateCmd(),
		newCopyDataCmd(),
		newSeedCmd(),
		newSweepCmd(),
		newRetryFailedCmd(),
		newStatsCmd(),
	)

	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "enable debug logs")
	return rootCmd
}

// setup loads configuration and the logger for a command.
func setup(cmd *cobra.Command) (*config.Config, *slog.Logger, func() error) {
	cfg := config.LoadConfig()
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		cfg.LogLevel = slog.LevelDebug
	}
	logger, closeLog := config.SetupLogger(cfg.LogFile, cfg.LogLevel)
	slog.SetDefault(logger)
	return cfg, logger, closeLog
}

// withApp runs fn against a fully wired App.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app.App) error) error {
	cfg, logger, closeLog := setup(cmd)
	defer closeLog()

	ctx := contextOf(cmd)
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
