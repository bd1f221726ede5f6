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

	"github.com/jmylchreest/mswitch/internal/config"
	"github.com/jmylchreest/mswitch/internal/control"
	"github.com/jmylchreest/mswitch/internal/mswitch"
	"github.com/jmylchreest/mswitch/internal/mswitchdemux"
	"github.com/jmylchreest/mswitch/internal/mswitchurl"
	"github.com/jmylchreest/mswitch/internal/version"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the switcher daemon",
	Long: `Start mswitchd: dial every configured source, run the switch
arbiter and health monitor, and expose the HTTP control plane.

Sources may come from a config file (see --config) or MSWITCH_ environment,
or directly from a mswitchdirect:// open URL via --url.

Examples:
  mswitchd serve --sources a.ts,b.ts,black.ts
  mswitchd serve --url "mswitchdirect://localhost?msw_sources=a.ts,b.ts,black.ts"`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("sources", "", "comma-separated source URLs, last entry is the black filler")
	serveCmd.Flags().String("url", "", "mswitchdirect:// open URL (overrides --sources and other flags)")
	serveCmd.Flags().Int("port", 0, "control plane TCP port (0 = use config default)")
	serveCmd.Flags().Bool("no-auto-failover", false, "disable automatic two-stage failover")
	serveCmd.Flags().Bool("console", false, "enable key-driven console (0-9 switch, m status)")
	serveCmd.Flags().String("output", "-", `where to write the switched elementary stream ("-" for stdout, or a file path)`)
}

func runServe(cmd *cobra.Command, _ []string) error {
	logger := slog.Default()
	info := version.GetInfo()
	logger.Info("mswitchd starting",
		slog.String("version", info.Version),
		slog.String("commit", info.CommitSHA),
		slog.String("go", info.GoVersion),
	)

	cfg, err := resolveConfig(cmd)
	if err != nil {
		return fmt.Errorf("resolving configuration: %w", err)
	}

	out, closeOut, err := openOutput(cmd)
	if err != nil {
		return fmt.Errorf("opening output: %w", err)
	}
	defer closeOut()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	dialer := func(dialCtx context.Context, url string) (mswitch.Demuxer, error) {
		return mswitchdemux.Open(dialCtx, url, mswitchdemux.Config{
			Logger:      logger,
			DialTimeout: cfg.Switcher.SourceDialTimeout,
		})
	}

	sw, err := mswitch.Open(ctx, cfg.Switcher.Sources, dialer, mswitch.Config{
		QueueCapacity:           cfg.Switcher.QueueCapacity,
		AutoFailoverEnabled:     cfg.Switcher.AutoFailoverEnabled,
		HealthCheckInterval:     cfg.Switcher.HealthCheckInterval,
		SourceTimeout:           cfg.Switcher.SourceTimeout,
		StartupGracePeriod:      cfg.Switcher.StartupGracePeriod,
		ManualSwitchGrace:       cfg.Switcher.ManualSwitchGrace,
		SwitchTimeout:           cfg.Switcher.SwitchTimeout,
		TimestampDriftThreshold: cfg.Switcher.TimestampDriftThreshold,
	}, logger)
	if err != nil {
		return fmt.Errorf("opening switcher: %w", err)
	}
	defer sw.Close()

	addr := fmt.Sprintf(":%d", cfg.Switcher.ControlPort)
	ctrl := control.NewServer(addr, sw, logger)
	go func() {
		if err := ctrl.ListenAndServe(); err != nil {
			logger.Error("control plane stopped", slog.String("error", err.Error()))
		}
	}()
	defer ctrl.Close()

	if cfg.Switcher.EnableConsole {
		console := control.NewConsole(sw, logger)
		go func() {
			if err := console.Run(ctx); err != nil {
				logger.Warn("console stopped", slog.String("error", err.Error()))
			}
		}()
	}

	return pump(ctx, sw, out, logger)
}

// pump drains the switcher's output and writes packet payloads downstream
// until the context is cancelled or every source is exhausted.
func pump(ctx context.Context, sw *mswitch.Switcher, out io.Writer, logger *slog.Logger) error {
	for {
		pkt, err := sw.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				logger.Info("shutdown requested")
				return nil
			}
			logger.Info("stream ended", slog.String("reason", err.Error()))
			return nil
		}
		if _, err := out.Write(pkt.Payload); err != nil {
			return fmt.Errorf("writing output: %w", err)
		}
	}
}

func resolveConfig(cmd *cobra.Command) (*config.Config, error) {
	if rawURL, _ := cmd.Flags().GetString("url"); rawURL != "" {
		switcherCfg, err := mswitchurl.Parse(rawURL)
		if err != nil {
			return nil, err
		}
		return &config.Config{
			Switcher: switcherCfg,
			Logging:  config.LoggingConfig{Level: "info", Format: "json"},
		}, nil
	}

	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	if sources, _ := cmd.Flags().GetString("sources"); sources != "" {
		cfg.Switcher.Sources = strings.Split(sources, ",")
	}
	if port, _ := cmd.Flags().GetInt("port"); port != 0 {
		cfg.Switcher.ControlPort = port
	}
	if noFailover, _ := cmd.Flags().GetBool("no-auto-failover"); noFailover {
		cfg.Switcher.AutoFailoverEnabled = false
	}
	if console, _ := cmd.Flags().GetBool("console"); console {
		cfg.Switcher.EnableConsole = true
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func openOutput(cmd *cobra.Command) (io.Writer, func(), error) {
	path, _ := cmd.Flags().GetString("output")
	if path == "" || path == "-" {
		return os.Stdout, func() {}, nil
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, nil, err
	}
	return f, func() { _ = f.Close() }, nil
}
