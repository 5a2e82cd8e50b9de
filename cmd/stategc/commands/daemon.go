package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/marmos91/stategc/internal/logger"
	"github.com/marmos91/stategc/internal/telemetry"
	"github.com/marmos91/stategc/pkg/config"
	"github.com/marmos91/stategc/pkg/gc"
	"github.com/marmos91/stategc/pkg/metrics"
	"github.com/marmos91/stategc/pkg/store/badger"
)

var daemonYes bool

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run periodic pruning in the foreground",
	Long: `Run the pruning scheduler until interrupted.

On start the daemon runs one boot cleanup cycle unless prune.boot_cleanup_done
is set or a previous boot cleanup was recorded. It then runs the collection
cycle every prune.interval_s seconds and the incremental sweep every
prune.incremental_interval_s seconds. Prometheus metrics are served on
metrics.port when metrics.enabled is set.

The daemon cannot prompt: the first destructive run needs gc.skip_confirm
or --yes.

Examples:
  stategc daemon --config /etc/stategc/config.yaml --yes

  # Override any setting through the environment
  STATEGC_LOGGING_LEVEL=DEBUG stategc daemon`,
	RunE: runDaemon,
}

func init() {
	daemonCmd.Flags().BoolVarP(&daemonYes, "yes", "y", false, "Skip the first-run confirmation")
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	shutdownTelemetry, err := initTelemetry(ctx, cfg)
	if err != nil {
		return err
	}
	defer shutdownTelemetry()

	kv, err := openStore(ctx, cfg.Storage)
	if err != nil {
		return err
	}
	defer closeStore(kv)

	var (
		reg        *prometheus.Registry
		registerer prometheus.Registerer
	)
	if cfg.Metrics.Enabled {
		reg = metrics.NewRegistry()
		registerer = reg
		if b, ok := kv.(*badger.Store); ok {
			reg.MustRegister(metrics.NewBadgerCollector(b.DB()))
		}
	}

	gcCfg := cfg.EffectiveGC()
	if daemonYes {
		gcCfg.SkipConfirm = true
	}
	collector, err := gc.NewGarbageCollector(ctx, kv, gcCfg, gc.WithMetrics(gc.NewMetrics(registerer)))
	if err != nil {
		return err
	}

	logger.Info("Configuration loaded",
		"source", configSource(GetConfigFile()),
		"engine", cfg.Storage.Engine,
		logger.Path(cfg.Storage.Path),
		logger.DryRun(gcCfg.DryRun),
		"protected_roots", gcCfg.ProtectedRootsCount,
		"window_days", gcCfg.WindowDays)

	serverDone := make(chan error, 1)
	if reg != nil {
		srv := metrics.NewServer(cfg.Metrics.Port, reg)
		go func() { serverDone <- srv.Start(ctx) }()
	} else {
		logger.Info("Metrics disabled")
	}

	scheduler := gc.NewScheduler(collector, cfg.Prune)
	if err := scheduler.Start(ctx); err != nil {
		return err
	}

	logger.Info("Daemon is running. Press Ctrl+C to stop.")

	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received, stopping scheduler")
	case err := <-serverDone:
		if err != nil {
			logger.Error("Metrics server error", logger.Err(err))
			stopScheduler(scheduler, cfg.ShutdownTimeout)
			return err
		}
	}

	cancel()
	stopScheduler(scheduler, cfg.ShutdownTimeout)
	return nil
}

// stopScheduler waits up to timeout for the running pass to return. A pass
// still running afterwards resumes from its persisted phase next time.
func stopScheduler(s *gc.Scheduler, timeout time.Duration) {
	done := make(chan struct{})
	go func() {
		s.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(timeout):
		logger.Warn("Scheduler did not stop in time", "timeout", timeout.String())
	}
}

// initTelemetry starts tracing and profiling as configured and returns a
// function stopping both.
func initTelemetry(ctx context.Context, cfg *config.Config) (func(), error) {
	tracingShutdown, err := telemetry.Init(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    "stategc",
		ServiceVersion: Version,
		Endpoint:       cfg.Telemetry.Endpoint,
		Insecure:       cfg.Telemetry.Insecure,
		SampleRate:     cfg.Telemetry.SampleRate,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	profilingShutdown, err := telemetry.InitProfiling(telemetry.ProfilingConfig{
		Enabled:        cfg.Telemetry.Profiling.Enabled,
		ServiceName:    "stategc",
		ServiceVersion: Version,
		Endpoint:       cfg.Telemetry.Profiling.Endpoint,
		ProfileTypes:   cfg.Telemetry.Profiling.ProfileTypes,
	})
	if err != nil {
		_ = tracingShutdown(ctx)
		return nil, fmt.Errorf("failed to initialize profiling: %w", err)
	}

	if telemetry.IsEnabled() {
		logger.Info("Telemetry enabled", "endpoint", cfg.Telemetry.Endpoint, "sample_rate", cfg.Telemetry.SampleRate)
	}
	if telemetry.IsProfilingEnabled() {
		logger.Info("Profiling enabled", "endpoint", cfg.Telemetry.Profiling.Endpoint)
	}

	return func() {
		// ctx may already be cancelled; flush on a fresh deadline
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracingShutdown(flushCtx); err != nil {
			logger.Error("telemetry shutdown error", logger.Err(err))
		}
		if err := profilingShutdown(); err != nil {
			logger.Error("profiling shutdown error", logger.Err(err))
		}
	}, nil
}

func configSource(path string) string {
	if path != "" {
		return path
	}
	if config.DefaultConfigExists() {
		return config.GetDefaultConfigPath()
	}
	return "defaults"
}
