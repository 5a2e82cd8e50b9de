package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/marmos91/stategc/internal/bytesize"
	"github.com/marmos91/stategc/pkg/gc"
)

// EnvPrefix prefixes every environment variable override.
const EnvPrefix = "STATEGC"

// Storage engines.
const (
	EngineBadger = "badger"
	EngineMemory = "memory"
)

// Config represents the stategc configuration.
//
// Configuration sources (in order of precedence):
//  1. CLI flags (highest priority)
//  2. Environment variables (STATEGC_*)
//  3. Configuration file (YAML)
//  4. Default values (lowest priority)
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Telemetry controls OpenTelemetry tracing and Pyroscope profiling
	Telemetry TelemetryConfig `mapstructure:"telemetry" yaml:"telemetry"`

	// Metrics contains Prometheus metrics server configuration
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`

	// Storage selects and configures the state store
	Storage StorageConfig `mapstructure:"storage" yaml:"storage"`

	// GC configures the garbage collector
	GC gc.GCConfig `mapstructure:"gc" yaml:"gc"`

	// Prune configures periodic pruning in daemon mode. Its non-zero
	// overrides are applied on top of GC.
	Prune gc.PruneConfig `mapstructure:"prune" yaml:"prune"`

	// ShutdownTimeout bounds how long the daemon waits for a running pass
	// after a stop signal
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0" yaml:"shutdown_timeout"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive, normalized to uppercase)
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error" yaml:"level"`

	// Format specifies the log output format
	// Valid values: text, json
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`

	// Output specifies where logs are written
	// Valid values: stdout, stderr, or a file path
	Output string `mapstructure:"output" validate:"required" yaml:"output"`
}

// TelemetryConfig controls OpenTelemetry distributed tracing.
type TelemetryConfig struct {
	// Enabled controls whether distributed tracing is enabled
	// Default: false (opt-in for telemetry)
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Endpoint is the OTLP collector endpoint (host:port)
	// Default: "localhost:4317" (standard OTLP gRPC port)
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`

	// Insecure disables TLS for the OTLP connection
	Insecure bool `mapstructure:"insecure" yaml:"insecure"`

	// SampleRate is the trace sampling rate (0.0 to 1.0)
	SampleRate float64 `mapstructure:"sample_rate" validate:"gte=0,lte=1" yaml:"sample_rate"`

	// Profiling controls Pyroscope continuous profiling
	Profiling ProfilingConfig `mapstructure:"profiling" yaml:"profiling"`
}

// ProfilingConfig controls Pyroscope continuous profiling.
type ProfilingConfig struct {
	// Enabled controls whether profiling is enabled
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Endpoint is the Pyroscope server URL
	// Default: "http://localhost:4040"
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`

	// ProfileTypes lists the profiles to collect
	ProfileTypes []string `mapstructure:"profile_types" yaml:"profile_types"`
}

// MetricsConfig configures the Prometheus endpoint served in daemon mode.
type MetricsConfig struct {
	// Enabled controls whether the /metrics endpoint is served
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Port is the HTTP port for /metrics
	// Default: 9090
	Port int `mapstructure:"port" validate:"omitempty,min=1,max=65535" yaml:"port"`
}

// StorageConfig selects the state store engine.
type StorageConfig struct {
	// Engine is "badger" (persistent) or "memory" (volatile, for trials)
	Engine string `mapstructure:"engine" validate:"required,oneof=badger memory" yaml:"engine"`

	// Path is the badger database directory
	Path string `mapstructure:"path" validate:"required_if=Engine badger" yaml:"path"`

	// SyncWrites fsyncs every commit
	SyncWrites bool `mapstructure:"sync_writes" yaml:"sync_writes"`

	// ValueLogGCRatio is the discard ratio used when compacting
	// Default: 0.5
	ValueLogGCRatio float64 `mapstructure:"value_log_gc_ratio" validate:"gte=0,lt=1" yaml:"value_log_gc_ratio"`
}

// EffectiveGC returns the collector configuration with the pruning
// overrides applied.
func (c *Config) EffectiveGC() gc.GCConfig {
	return c.Prune.Apply(c.GC)
}

// Load loads configuration from file, environment variables, and defaults.
//
// Parameters:
//   - configPath: Optional path to config file. If empty, uses default location.
//
// The gc and prune sections are decoded over their defaults, so keys the
// file omits keep their default value while explicit zeroes (e.g.
// protected_roots_count: 0) are preserved. Other sections are completed
// by ApplyDefaults.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setupViper(v, configPath)

	configFileFound, err := readConfigFile(v)
	if err != nil {
		return nil, err
	}

	if !configFileFound {
		return GetDefaultConfig(), nil
	}

	cfg := &Config{
		GC:    gc.DefaultGCConfig(),
		Prune: gc.DefaultPruneConfig(),
	}
	if err := v.Unmarshal(cfg, viper.DecodeHook(configDecodeHooks())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// MustLoad loads configuration with helpful error messages.
// It checks if the config file exists and provides user-friendly instructions if not.
func MustLoad(configPath string) (*Config, error) {
	if configPath == "" {
		if !DefaultConfigExists() {
			return nil, fmt.Errorf("no configuration file found at default location: %s\n\n"+
				"Please initialize a configuration file first:\n"+
				"  stategc config init\n\n"+
				"Or specify a custom config file:\n"+
				"  stategc <command> --config /path/to/config.yaml",
				GetDefaultConfigPath())
		}
		configPath = GetDefaultConfigPath()
	} else if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("configuration file not found: %s\n\n"+
			"Please create the configuration file:\n"+
			"  stategc config init --config %s",
			configPath, configPath)
	}

	cfg, err := Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to the specified file path in YAML.
func SaveConfig(cfg *Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// The storage path may point at production state; keep it owner-only.
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// setupViper configures viper with environment variables and config file settings.
func setupViper(v *viper.Viper, configPath string) {
	// Example: STATEGC_GC_DRY_RUN=true
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// readConfigFile reads the configuration file if it exists.
// Returns (fileFound, error) where fileFound indicates if a config file was found.
func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return false, nil
		}
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read config file: %w", err)
	}

	return true, nil
}

// configDecodeHooks returns a combined decode hook for all custom types.
func configDecodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		byteSizeDecodeHook(),
		durationDecodeHook(),
	)
}

// byteSizeDecodeHook converts strings and numbers to bytesize.ByteSize, so
// recycle bin limits can be written as "1Gi", "500Mi" or plain numbers.
func byteSizeDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(bytesize.ByteSize(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			return bytesize.ParseByteSize(v)
		case int:
			return bytesize.ByteSize(v), nil
		case int64:
			return bytesize.ByteSize(v), nil
		case uint64:
			return bytesize.ByteSize(v), nil
		case float64:
			// YAML often deserializes numbers as float64
			return bytesize.ByteSize(v), nil
		default:
			return data, nil
		}
	}
}

// durationDecodeHook converts strings like "30s" or "5m" to time.Duration.
func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			return time.ParseDuration(v)
		case int:
			// Raw integers are nanoseconds
			return time.Duration(v), nil
		case int64:
			return time.Duration(v), nil
		case float64:
			return time.Duration(v), nil
		default:
			return data, nil
		}
	}
}

// getConfigDir returns $XDG_CONFIG_HOME/stategc, ~/.config/stategc, or "."
// when the home directory cannot be determined.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "stategc")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}

	return filepath.Join(home, ".config", "stategc")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// DefaultConfigExists checks if a config file exists at the default location.
func DefaultConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}

// GetConfigDir returns the configuration directory path.
func GetConfigDir() string {
	return getConfigDir()
}
