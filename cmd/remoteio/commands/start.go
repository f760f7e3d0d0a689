package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/marmos91/remoteio/cmd/remoteio/cmdutil"
	"github.com/marmos91/remoteio/internal/logger"
	"github.com/marmos91/remoteio/internal/protocol/handshake"
	"github.com/marmos91/remoteio/internal/telemetry"
	"github.com/marmos91/remoteio/pkg/adapter/remoteio"
	"github.com/marmos91/remoteio/pkg/config"
	"github.com/marmos91/remoteio/pkg/metrics"
	"github.com/marmos91/remoteio/pkg/metrics/prometheus"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the RemoteIO server",
	Long: `Start the RemoteIO server in the foreground.

The server runs until SIGINT or SIGTERM, then stops accepting connections and
waits up to shutdown_timeout for open sessions to finish.

While running, changes to logging.level and logging.format in the
configuration file are applied without a restart.

Examples:
  # Start with default config location
  remoteio start

  # Start with custom config file
  remoteio start --config /etc/remoteio/config.yaml

  # Start with environment variable overrides
  REMOTEIO_LOGGING_LEVEL=DEBUG remoteio start`,
	RunE: runStart,
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := config.MustLoad(cmdutil.ConfigFile)
	if err != nil {
		return err
	}
	if err := cfg.Server.RequireCredentials(); err != nil {
		return err
	}

	if err := cmdutil.InitLogger(cfg, cfg.Logging.Output); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	telemetryShutdown, err := telemetry.Init(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    "remoteio",
		ServiceVersion: Version,
		Endpoint:       cfg.Telemetry.Endpoint,
		Insecure:       cfg.Telemetry.Insecure,
		SampleRate:     cfg.Telemetry.SampleRate,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		// ctx is already cancelled here; flushing needs its own deadline.
		flushCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := telemetryShutdown(flushCtx); err != nil {
			logger.Error("Telemetry shutdown error", logger.Err(err))
		}
	}()

	profilingShutdown, err := telemetry.InitProfiling(telemetry.ProfilingConfig{
		Enabled:        cfg.Telemetry.Profiling.Enabled,
		ServiceName:    "remoteio",
		ServiceVersion: Version,
		Endpoint:       cfg.Telemetry.Profiling.Endpoint,
		ProfileTypes:   cfg.Telemetry.Profiling.ProfileTypes,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize profiling: %w", err)
	}
	defer func() {
		if err := profilingShutdown(); err != nil {
			logger.Error("Profiling shutdown error", logger.Err(err))
		}
	}()

	configSource := cmdutil.ConfigSource()
	_, _ = fmt.Fprintln(cmd.OutOrStdout(), "RemoteIO - remote file access over an encrypted channel")
	logger.Info("Log level", "level", cfg.Logging.Level, "format", cfg.Logging.Format)
	logger.Info("Configuration loaded", "source", configSource)
	if telemetry.IsEnabled() {
		logger.Info("Telemetry enabled", "endpoint", cfg.Telemetry.Endpoint, "sample_rate", cfg.Telemetry.SampleRate)
	}
	if telemetry.IsProfilingEnabled() {
		logger.Info("Profiling enabled", "endpoint", cfg.Telemetry.Profiling.Endpoint)
	}

	var metricsServer *metrics.Server
	if cfg.Metrics.Enabled {
		metrics.InitRegistry()
		metricsServer = metrics.NewServer(metrics.ServerConfig{
			BindAddress: cfg.Server.BindAddress,
			Port:        cfg.Metrics.Port,
		})
	}

	server, err := remoteio.New(serverConfig(cfg), prometheus.NewRemoteIOMetrics())
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Serve(gctx)
	})
	if metricsServer != nil {
		g.Go(func() error {
			return metricsServer.Start(gctx)
		})
	}
	if configSource != cmdutil.DefaultsSource {
		g.Go(func() error {
			if err := config.Watch(gctx, configSource, applyReload); err != nil {
				logger.Warn("Configuration reload disabled", logger.Err(err))
			}
			return nil
		})
	}

	logger.Info("Server is running. Press Ctrl+C to stop.")

	if err := g.Wait(); err != nil {
		logger.Error("Server error", logger.Err(err))
		return err
	}
	logger.Info("Server stopped gracefully")
	return nil
}

func serverConfig(cfg *config.Config) remoteio.Config {
	return remoteio.Config{
		Identity: handshake.Identity{
			Username: cfg.Server.Username,
			Password: cfg.Server.Password,
		},
		KeySizeBits:        cfg.Server.KeySize,
		WorkerCount:        cfg.Server.Workers,
		Port:               cfg.Server.Port,
		BindAddress:        cfg.Server.BindAddress,
		AuthTimeout:        cfg.Server.AuthTimeout,
		MaxFrameSize:       cfg.Server.MaxFrameSize,
		ShutdownTimeout:    cfg.ShutdownTimeout,
		MetricsLogInterval: cfg.Server.MetricsLogInterval,
		Root:               cfg.Server.Root,
	}
}

// applyReload applies the settings that can change while running. Everything
// else needs a restart.
func applyReload(cfg *config.Config) {
	logger.SetLevel(cfg.Logging.Level)
	logger.SetFormat(cfg.Logging.Format)
}
