// Package main is the entry point for the lumenctl CLI, which runs probes,
// federated searches and deduplication passes without the HTTP server.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/helixir/lumen-search/internal/app"
	"github.com/helixir/lumen-search/internal/config"
	"github.com/helixir/lumen-search/internal/observability"
)

// components is built before every subcommand runs and released after.
var components *app.App

var rootCmd = &cobra.Command{
	Use:   "lumenctl",
	Short: "Federated scholarly search from the command line",
	Long: `lumenctl drives the search engine directly: probe a query for its
signal strength, run a federated search from an intent file, or deduplicate
a corpus of documents.

Configuration is read from config.yaml, LUMEN_* environment variables and an
optional .env file, exactly as the server reads it. Logs go to stderr; results
go to stdout or the file given with --out.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		cfgFile, _ := cmd.Flags().GetString("config")
		cfg, err := config.LoadFile(cfgFile)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		if level, _ := cmd.Flags().GetString("log-level"); level != "" {
			cfg.Logging.Level = level
		}
		logger := observability.NewLogger(observability.LoggingConfig{
			Level:      cfg.Logging.Level,
			Format:     "console",
			Output:     "stderr",
			TimeFormat: cfg.Logging.TimeFormat,
		})

		components, err = app.New(cfg, logger.With().Str("component", "lumenctl").Logger(), nil)
		if err != nil {
			return fmt.Errorf("build components: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(*cobra.Command, []string) {
		if components != nil {
			components.Close()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "config file (default: config.yaml in ., ./config or /etc/lumen-search)")
	rootCmd.PersistentFlags().String("log-level", zerolog.WarnLevel.String(), "log level (trace, debug, info, warn, error)")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}
