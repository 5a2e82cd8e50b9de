package config

import (
	"strings"
	"time"

	"github.com/marmos91/stategc/internal/telemetry"
	"github.com/marmos91/stategc/pkg/gc"
)

// Default values for the non-GC sections.
const (
	DefaultStoragePath     = "/var/lib/stategc"
	DefaultMetricsPort     = 9090
	DefaultShutdownTimeout = 30 * time.Second
)

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// Default Strategy:
//   - Zero values (0, "", nil) are replaced with defaults
//   - Explicit values are preserved
//   - GC fields where zero is meaningful (window_days,
//     protected_roots_count, marker overrides) are left alone
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyTelemetryDefaults(&cfg.Telemetry)
	applyMetricsDefaults(&cfg.Metrics)
	applyStorageDefaults(&cfg.Storage)
	applyGCDefaults(&cfg.GC)
	applyPruneDefaults(&cfg.Prune)

	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = DefaultShutdownTimeout
	}
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

// applyTelemetryDefaults sets OpenTelemetry and Pyroscope defaults.
func applyTelemetryDefaults(cfg *TelemetryConfig) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "localhost:4317"
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 1.0
	}

	if cfg.Profiling.Endpoint == "" {
		cfg.Profiling.Endpoint = "http://localhost:4040"
	}
	if len(cfg.Profiling.ProfileTypes) == 0 {
		cfg.Profiling.ProfileTypes = append([]string(nil), telemetry.DefaultProfileTypes...)
	}
}

// applyMetricsDefaults sets the metrics port when metrics are enabled.
func applyMetricsDefaults(cfg *MetricsConfig) {
	if cfg.Enabled && cfg.Port == 0 {
		cfg.Port = DefaultMetricsPort
	}
}

func applyStorageDefaults(cfg *StorageConfig) {
	if cfg.Engine == "" {
		cfg.Engine = EngineBadger
	}
	if cfg.Engine == EngineBadger && cfg.Path == "" {
		cfg.Path = DefaultStoragePath
	}
	if cfg.ValueLogGCRatio == 0 {
		cfg.ValueLogGCRatio = 0.5
	}
}

// applyGCDefaults fills sizing fields that must be positive.
func applyGCDefaults(cfg *gc.GCConfig) {
	def := gc.DefaultGCConfig()
	if cfg.Workers == 0 {
		cfg.Workers = def.Workers
	}
	if cfg.ScanBatch == 0 {
		cfg.ScanBatch = def.ScanBatch
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.BloomBits == 0 {
		cfg.BloomBits = def.BloomBits
	}
	if cfg.RecycleBin.MaxEntries == 0 {
		cfg.RecycleBin.MaxEntries = def.RecycleBin.MaxEntries
	}
	if cfg.RecycleBin.MaxBytes == 0 {
		cfg.RecycleBin.MaxBytes = def.RecycleBin.MaxBytes
	}
}

func applyPruneDefaults(cfg *gc.PruneConfig) {
	def := gc.DefaultPruneConfig()
	if cfg.ScanBatch == 0 {
		cfg.ScanBatch = def.ScanBatch
	}
	if cfg.DeleteBatch == 0 {
		cfg.DeleteBatch = def.DeleteBatch
	}
	if cfg.IntervalS == 0 {
		cfg.IntervalS = def.IntervalS
	}
	if cfg.IncrementalIntervalS == 0 {
		cfg.IncrementalIntervalS = def.IncrementalIntervalS
	}
}

// GetDefaultConfig returns a Config with all default values applied.
// Used by "config init" and when no configuration file is found.
func GetDefaultConfig() *Config {
	cfg := &Config{
		GC:    gc.DefaultGCConfig(),
		Prune: gc.DefaultPruneConfig(),
	}
	ApplyDefaults(cfg)
	return cfg
}
