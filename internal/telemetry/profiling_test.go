package telemetry

import (
	"testing"

	"github.com/grafana/pyroscope-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitProfilingDisabled(t *testing.T) {
	shutdown, err := InitProfiling(ProfilingConfig{Enabled: false})
	require.NoError(t, err)
	require.NotNil(t, shutdown)
	assert.NoError(t, shutdown())
	assert.False(t, IsProfilingEnabled())
}

func TestInitProfilingRejectsUnknownType(t *testing.T) {
	_, err := InitProfiling(ProfilingConfig{
		Enabled:      true,
		ServiceName:  "stategc",
		Endpoint:     "http://localhost:4040",
		ProfileTypes: []string{"cpu", "bogus"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"bogus"`)
	assert.Contains(t, err.Error(), "alloc_space")
	assert.False(t, IsProfilingEnabled())
}

func TestParseProfileTypes(t *testing.T) {
	tests := []struct {
		name    string
		in      []string
		want    []pyroscope.ProfileType
		wantErr bool
	}{
		{
			name: "all",
			in: []string{"cpu", "alloc_objects", "alloc_space", "inuse_objects", "inuse_space",
				"goroutines", "mutex_count", "mutex_duration", "block_count", "block_duration"},
			want: []pyroscope.ProfileType{
				pyroscope.ProfileCPU, pyroscope.ProfileAllocObjects, pyroscope.ProfileAllocSpace,
				pyroscope.ProfileInuseObjects, pyroscope.ProfileInuseSpace, pyroscope.ProfileGoroutines,
				pyroscope.ProfileMutexCount, pyroscope.ProfileMutexDuration,
				pyroscope.ProfileBlockCount, pyroscope.ProfileBlockDuration,
			},
		},
		{
			name: "duplicates dropped",
			in:   []string{"cpu", "cpu", "goroutines"},
			want: []pyroscope.ProfileType{pyroscope.ProfileCPU, pyroscope.ProfileGoroutines},
		},
		{name: "empty", in: nil, want: []pyroscope.ProfileType{}},
		{name: "unknown", in: []string{"heap"}, wantErr: true},
		{name: "case sensitive", in: []string{"CPU"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseProfileTypes(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDefaultProfileTypesParse(t *testing.T) {
	types, err := ParseProfileTypes(DefaultProfileTypes)
	require.NoError(t, err)
	assert.Len(t, types, len(DefaultProfileTypes))
}
