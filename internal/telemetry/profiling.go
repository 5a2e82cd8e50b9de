package telemetry

import (
	"fmt"
	"runtime"
	"slices"
	"strings"
	"sync/atomic"

	"github.com/grafana/pyroscope-go"
)

// ProfilingConfig configures Pyroscope continuous profiling.
type ProfilingConfig struct {
	Enabled        bool
	ServiceName    string
	ServiceVersion string

	// Endpoint is the Pyroscope server URL (e.g. "http://localhost:4040")
	Endpoint string

	// ProfileTypes names the profiles to push; see profileTypes for the
	// accepted names.
	ProfileTypes []string
}

// DefaultProfileTypes are collected when no profile types are configured.
// The marker pass is allocation heavy, so heap profiles come first.
var DefaultProfileTypes = []string{"cpu", "alloc_space", "inuse_space", "goroutines"}

var profileTypes = map[string]pyroscope.ProfileType{
	"cpu":            pyroscope.ProfileCPU,
	"alloc_objects":  pyroscope.ProfileAllocObjects,
	"alloc_space":    pyroscope.ProfileAllocSpace,
	"inuse_objects":  pyroscope.ProfileInuseObjects,
	"inuse_space":    pyroscope.ProfileInuseSpace,
	"goroutines":     pyroscope.ProfileGoroutines,
	"mutex_count":    pyroscope.ProfileMutexCount,
	"mutex_duration": pyroscope.ProfileMutexDuration,
	"block_count":    pyroscope.ProfileBlockCount,
	"block_duration": pyroscope.ProfileBlockDuration,
}

var profiling atomic.Bool

// ParseProfileTypes maps profile names to Pyroscope types, dropping
// duplicates.
func ParseProfileTypes(names []string) ([]pyroscope.ProfileType, error) {
	out := make([]pyroscope.ProfileType, 0, len(names))
	for _, name := range names {
		pt, ok := profileTypes[name]
		if !ok {
			valid := make([]string, 0, len(profileTypes))
			for k := range profileTypes {
				valid = append(valid, k)
			}
			slices.Sort(valid)
			return nil, fmt.Errorf("unknown profile type %q (valid: %s)", name, strings.Join(valid, ", "))
		}
		if !slices.Contains(out, pt) {
			out = append(out, pt)
		}
	}
	return out, nil
}

// InitProfiling starts pushing profiles to Pyroscope. The returned function
// stops the profiler.
func InitProfiling(cfg ProfilingConfig) (shutdown func() error, err error) {
	if !cfg.Enabled {
		profiling.Store(false)
		return func() error { return nil }, nil
	}

	names := cfg.ProfileTypes
	if len(names) == 0 {
		names = DefaultProfileTypes
	}
	types, err := ParseProfileTypes(names)
	if err != nil {
		return nil, err
	}

	// Mutex and block profiles are off in the runtime unless sampled.
	for _, pt := range types {
		switch pt {
		case pyroscope.ProfileMutexCount, pyroscope.ProfileMutexDuration:
			runtime.SetMutexProfileFraction(5)
		case pyroscope.ProfileBlockCount, pyroscope.ProfileBlockDuration:
			runtime.SetBlockProfileRate(5)
		}
	}

	profiler, err := pyroscope.Start(pyroscope.Config{
		ApplicationName: cfg.ServiceName,
		ServerAddress:   cfg.Endpoint,
		Tags:            map[string]string{"version": cfg.ServiceVersion},
		ProfileTypes:    types,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start Pyroscope profiler: %w", err)
	}
	profiling.Store(true)

	return func() error {
		profiling.Store(false)
		return profiler.Stop()
	}, nil
}

// IsProfilingEnabled reports whether a profiler is running.
func IsProfilingEnabled() bool {
	return profiling.Load()
}
