package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/stategc/internal/bytesize"
	"github.com/marmos91/stategc/pkg/gc"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, GetDefaultConfig(), cfg)
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
logging:
  level: debug
  format: json
storage:
  engine: badger
  path: /data/state
gc:
  dry_run: true
  workers: 4
  use_recycle_bin: true
  recycle_bin:
    max_entries: 500
    max_bytes: 256Mi
  protected_roots_count: 3
  window_days: 0
prune:
  interval_s: 600
  window_days: 14
shutdown_timeout: 1m
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "DEBUG", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, "/data/state", cfg.Storage.Path)
	assert.Equal(t, time.Minute, cfg.ShutdownTimeout)

	assert.True(t, cfg.GC.DryRun)
	assert.Equal(t, 4, cfg.GC.Workers)
	assert.Equal(t, uint64(500), cfg.GC.RecycleBin.MaxEntries)
	assert.Equal(t, 256*bytesize.MiB, cfg.GC.RecycleBin.MaxBytes)
	assert.Equal(t, 3, cfg.GC.ProtectedRootsCount)
	assert.Zero(t, cfg.GC.WindowDays, "explicit zero kept")
	assert.Equal(t, gc.DefaultScanBatch, cfg.GC.ScanBatch, "omitted key keeps default")

	assert.True(t, cfg.Prune.Enable)
	assert.Equal(t, 600, cfg.Prune.IntervalS)
	assert.Equal(t, 14, cfg.EffectiveGC().WindowDays)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"bad log level", "logging:\n  level: loud\n"},
		{"bad engine", "storage:\n  engine: sqlite\n"},
		{"bloom bits not power of two", "gc:\n  bloom_bits: 1000\n"},
		{"nothing protected", "gc:\n  protected_roots_count: 0\n  window_days: 0\n"},
		{"bad byte size", "gc:\n  recycle_bin:\n    max_bytes: lots\n"},
		{"bad duration", "shutdown_timeout: soon\n"},
		{"malformed yaml", "gc: [\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			assert.Error(t, err)
		})
	}
}

func TestMustLoad_MissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "absent.yaml")
	_, err := MustLoad(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stategc config init")
}

func TestMustLoad_DefaultLocation(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	_, err := MustLoad("")
	require.Error(t, err)
	assert.False(t, DefaultConfigExists())

	require.NoError(t, SaveConfig(GetDefaultConfig(), GetDefaultConfigPath()))
	assert.True(t, DefaultConfigExists())

	cfg, err := MustLoad("")
	require.NoError(t, err)
	assert.Equal(t, GetDefaultConfig(), cfg)
}

func TestSaveConfig_RoundTrip(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.GC.UseRecycleBin = true
	cfg.GC.RecycleBin.MaxBytes = 3 * bytesize.GiB
	cfg.GC.WindowDays = 0
	cfg.Prune.BootCleanupDone = true
	cfg.ShutdownTimeout = 45 * time.Second

	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	require.NoError(t, SaveConfig(cfg, path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestGetConfigDir(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)

	assert.Equal(t, filepath.Join(dir, "stategc"), GetConfigDir())
	assert.Equal(t, filepath.Join(dir, "stategc", "config.yaml"), GetDefaultConfigPath())
}
