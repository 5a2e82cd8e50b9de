package gc

import (
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/marmos91/stategc/internal/bytesize"
	"github.com/marmos91/stategc/pkg/bloom"
)

// Default values for GCConfig and PruneConfig.
const (
	DefaultScanBatch             = 10_000
	DefaultBatchSize             = 1_000
	DefaultBloomBits      uint64 = 1 << 28 // 32 MiB
	DefaultProtectedRoots        = 1
	DefaultWindowDays            = 7

	DefaultRecycleMaxEntries uint64 = 100_000
	DefaultRecycleMaxBytes          = bytesize.GiB

	DefaultIntervalS            = 3600
	DefaultIncrementalIntervalS = 60
)

// ============================================================================
// GCConfig
// ============================================================================

// RecycleBinConfig bounds the recycle bin.
type RecycleBinConfig struct {
	// MaxEntries is the maximum number of staged records.
	MaxEntries uint64 `mapstructure:"max_entries" yaml:"max_entries"`

	// MaxBytes is the maximum total size of staged node bytes (e.g. "1Gi").
	MaxBytes bytesize.ByteSize `mapstructure:"max_bytes" yaml:"max_bytes"`
}

// GCConfig configures a GarbageCollector.
type GCConfig struct {
	// DryRun traverses and counts without deleting, recycling or writing meta.
	DryRun bool `mapstructure:"dry_run" yaml:"dry_run"`

	// Workers bounds the goroutines fetching nodes during BuildReach.
	Workers int `mapstructure:"workers" validate:"gte=1" yaml:"workers"`

	// UseRecycleBin stages deleted node bytes for recovery.
	UseRecycleBin bool             `mapstructure:"use_recycle_bin" yaml:"use_recycle_bin"`
	RecycleBin    RecycleBinConfig `mapstructure:"recycle_bin" yaml:"recycle_bin"`

	// ForceCompaction compacts the engine after every successful sweep pass.
	ForceCompaction bool `mapstructure:"force_compaction" yaml:"force_compaction"`

	// SkipConfirm bypasses the confirmation before the first destructive run.
	SkipConfirm bool `mapstructure:"skip_confirm" yaml:"skip_confirm"`

	// ScanBatch is the traversal chunk and the SweepExpired candidate page.
	ScanBatch int `mapstructure:"scan_batch" validate:"gt=0" yaml:"scan_batch"`

	// BatchSize is the number of deletes committed per transaction.
	BatchSize int `mapstructure:"batch_size" validate:"gt=0" yaml:"batch_size"`

	// BloomBits is the marker size when neither MarkerBloomBits nor
	// MarkerTargetFPRate is set. Must be a power of two.
	BloomBits uint64 `mapstructure:"bloom_bits" validate:"pow2,gte=8" yaml:"bloom_bits"`

	// ProtectedRootsCount is the number of newest roots always retained.
	ProtectedRootsCount int `mapstructure:"protected_roots_count" validate:"gte=0" yaml:"protected_roots_count"`

	// MarkerBloomBits fixes the marker size. Zero derives it.
	MarkerBloomBits uint64 `mapstructure:"marker_bloom_bits" validate:"omitempty,pow2,gte=8" yaml:"marker_bloom_bits"`

	// MarkerBloomHashFns fixes the marker hash count. Zero derives it.
	MarkerBloomHashFns uint8 `mapstructure:"marker_bloom_hash_fns" validate:"lte=16" yaml:"marker_bloom_hash_fns"`

	// MarkerTargetFPRate sizes the marker from the node count when
	// MarkerBloomBits is zero. Zero disables dynamic sizing.
	MarkerTargetFPRate float64 `mapstructure:"marker_target_fp_rate" validate:"gte=0,lte=1" yaml:"marker_target_fp_rate"`

	// WindowDays protects roots committed, and nodes born, in the last
	// WindowDays days.
	WindowDays int `mapstructure:"window_days" validate:"gte=0" yaml:"window_days"`

	// ReachSeen tracks visited nodes in an exact persisted set during
	// BuildReach instead of relying on Bloom membership.
	ReachSeen bool `mapstructure:"reach_seen" yaml:"reach_seen"`
}

// DefaultGCConfig returns the default configuration.
func DefaultGCConfig() GCConfig {
	return GCConfig{
		Workers: runtime.NumCPU(),
		RecycleBin: RecycleBinConfig{
			MaxEntries: DefaultRecycleMaxEntries,
			MaxBytes:   DefaultRecycleMaxBytes,
		},
		ScanBatch:           DefaultScanBatch,
		BatchSize:           DefaultBatchSize,
		BloomBits:           DefaultBloomBits,
		ProtectedRootsCount: DefaultProtectedRoots,
		WindowDays:          DefaultWindowDays,
	}
}

// Validate checks c. Invalid values are reported, never replaced.
func (c GCConfig) Validate() error {
	if err := Validator().Struct(c); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if c.ProtectedRootsCount == 0 && c.WindowDays == 0 {
		return fmt.Errorf("%w: protected_roots_count and window_days are both zero", ErrInvalidConfig)
	}
	if c.UseRecycleBin && (c.RecycleBin.MaxEntries == 0 || c.RecycleBin.MaxBytes == 0) {
		return fmt.Errorf("%w: recycle_bin limits must be positive when use_recycle_bin is set", ErrInvalidConfig)
	}
	return nil
}

// NeedsNodeCount reports whether MarkerSize depends on the node count.
func (c GCConfig) NeedsNodeCount() bool {
	return c.MarkerBloomBits == 0 && c.MarkerTargetFPRate > 0
}

// MarkerSize returns the Bloom size and hash count for a marking pass over
// about nodes nodes. In order of precedence: MarkerBloomBits, sizing for
// MarkerTargetFPRate, BloomBits. MarkerBloomHashFns overrides the hash
// count when set.
func (c GCConfig) MarkerSize(nodes uint64) (uint64, uint8) {
	var (
		bits uint64
		k    uint8 = bloom.MaxOptimalK
	)
	switch {
	case c.MarkerBloomBits > 0:
		bits = c.MarkerBloomBits
	case c.MarkerTargetFPRate > 0:
		bits, k = bloom.OptimalSize(nodes, c.MarkerTargetFPRate)
	default:
		bits = c.BloomBits
	}
	if c.MarkerBloomHashFns > 0 {
		k = c.MarkerBloomHashFns
	}
	return bits, k
}

// ============================================================================
// PruneConfig
// ============================================================================

// PruneConfig is the periodic pruning configuration driven by Scheduler.
type PruneConfig struct {
	// Enable starts the scheduler.
	Enable bool `mapstructure:"enable" yaml:"enable"`

	// BootCleanupDone skips the cycle run at startup.
	BootCleanupDone bool `mapstructure:"boot_cleanup_done" yaml:"boot_cleanup_done"`

	ScanBatch   int `mapstructure:"scan_batch" validate:"gt=0" yaml:"scan_batch"`
	DeleteBatch int `mapstructure:"delete_batch" validate:"gt=0" yaml:"delete_batch"`

	// IntervalS is the BuildReach/SweepExpired cycle period in seconds.
	IntervalS int `mapstructure:"interval_s" validate:"gt=0" yaml:"interval_s"`

	// BloomBits overrides GCConfig.BloomBits when non-zero.
	BloomBits uint64 `mapstructure:"bloom_bits" validate:"omitempty,pow2,gte=8" yaml:"bloom_bits"`

	// EnableReachSeenCF enables the exact visited set during BuildReach.
	EnableReachSeenCF bool `mapstructure:"enable_reach_seen_cf" yaml:"enable_reach_seen_cf"`

	// WindowDays overrides GCConfig.WindowDays when non-zero.
	WindowDays int `mapstructure:"window_days" validate:"gte=0" yaml:"window_days"`

	// IncrementalIntervalS is the IncrementalSweep period in seconds.
	IncrementalIntervalS int `mapstructure:"incremental_interval_s" validate:"gt=0" yaml:"incremental_interval_s"`
}

// DefaultPruneConfig returns the default pruning configuration.
func DefaultPruneConfig() PruneConfig {
	return PruneConfig{
		Enable:               true,
		ScanBatch:            DefaultScanBatch,
		DeleteBatch:          DefaultBatchSize,
		IntervalS:            DefaultIntervalS,
		BloomBits:            DefaultBloomBits,
		WindowDays:           DefaultWindowDays,
		IncrementalIntervalS: DefaultIncrementalIntervalS,
	}
}

// Validate checks p.
func (p PruneConfig) Validate() error {
	if err := Validator().Struct(p); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

// Apply returns c with the pruning overrides applied. Zero fields in p
// leave c unchanged.
func (p PruneConfig) Apply(c GCConfig) GCConfig {
	if p.ScanBatch > 0 {
		c.ScanBatch = p.ScanBatch
	}
	if p.DeleteBatch > 0 {
		c.BatchSize = p.DeleteBatch
	}
	if p.BloomBits > 0 {
		c.BloomBits = p.BloomBits
	}
	if p.WindowDays > 0 {
		c.WindowDays = p.WindowDays
	}
	if p.EnableReachSeenCF {
		c.ReachSeen = true
	}
	return c
}

// Interval returns the cycle period.
func (p PruneConfig) Interval() time.Duration {
	return time.Duration(p.IntervalS) * time.Second
}

// IncrementalInterval returns the IncrementalSweep period.
func (p PruneConfig) IncrementalInterval() time.Duration {
	return time.Duration(p.IncrementalIntervalS) * time.Second
}

// ============================================================================
// Validation
// ============================================================================

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

// Validator returns the shared validator with the GC tags registered.
func Validator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		if err := RegisterValidations(validate); err != nil {
			panic(err)
		}
	})
	return validate
}

// RegisterValidations registers the custom tags used by GC config structs
// on v:
//
//	pow2: unsigned integer that is a power of two
func RegisterValidations(v *validator.Validate) error {
	return v.RegisterValidation("pow2", func(fl validator.FieldLevel) bool {
		return bloom.IsPowerOfTwo(fl.Field().Uint())
	})
}
