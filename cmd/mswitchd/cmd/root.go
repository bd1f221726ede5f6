// Package cmd implements the CLI commands for mswitchd.
package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/mswitch/internal/config"
	"github.com/jmylchreest/mswitch/internal/observability"
	"github.com/jmylchreest/mswitch/internal/version"
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:     "mswitchd",
	Short:   "Multi-source switching demuxer",
	Version: version.Short(),
	Long: `mswitchd reads N media sources concurrently into bounded per-source
packet queues, selects which queue feeds a single downstream consumer, and
switches between sources only at decoder-safe boundaries (keyframes).

The last source in the list is the reserved black-filler source, used by
automatic failover when the active source stops delivering packets.

Configuration is via config file, environment variables prefixed with
MSWITCH_, or flags on "serve". Flags take precedence.`,
}

// Execute adds all child commands to the root command and runs it.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		return fmt.Errorf("executing root command: %w", err)
	}
	return nil
}

func init() {
	rootCmd.PersistentPreRunE = func(_ *cobra.Command, _ []string) error {
		return initLogging()
	}

	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "", "log format (json, text)")
	rootCmd.PersistentFlags().String("config", "", "path to config file")
}

// initLogging builds the process-wide slog logger from CLI flags, falling
// back to config defaults when a flag was not explicitly set.
func initLogging() error {
	level, _ := rootCmd.PersistentFlags().GetString("log-level")
	format, _ := rootCmd.PersistentFlags().GetString("log-format")

	if level == "" {
		level = "info"
	}
	if format == "" {
		format = "json"
	}
	level = strings.ToLower(level)
	if level == "warning" {
		level = "warn"
	}

	logger := observability.NewLogger(config.LoggingConfig{
		Level:  level,
		Format: strings.ToLower(format),
	})
	observability.SetDefault(logger)

	return nil
}
