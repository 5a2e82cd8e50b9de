package bytesize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestParseByteSize(t *testing.T) {
	tests := []struct {
		input   string
		want    ByteSize
		wantErr bool
	}{
		{"0", 0, false},
		{"1024", 1024, false},
		{"1024B", 1024, false},
		{"1Ki", KiB, false},
		{"100MiB", 100 * MiB, false},
		{"1gi", GiB, false},
		{"1GI", GiB, false},
		{"2TiB", 2 * TiB, false},
		{"1K", KB, false},
		{"100MB", 100 * MB, false},
		{"1T", TB, false},
		{"  1Gi  ", GiB, false},
		{"1 Gi", GiB, false},
		{"1.5Gi", GiB + GiB/2, false},
		{"0.5KiB", 512, false},

		{"", 0, true},
		{"   ", 0, true},
		{"Gi", 0, true},
		{"-1Gi", 0, true},
		{"1Xi", 0, true},
		{"1.2.3Gi", 0, true},
		{"99999999999999999999", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseByteSize(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestByteSize_MarshalText(t *testing.T) {
	tests := []struct {
		in   ByteSize
		want string
	}{
		{0, "0"},
		{1000, "1000"},
		{KiB, "1Ki"},
		{1536, "1536"},
		{256 * MiB, "256Mi"},
		{3 * GiB, "3Gi"},
		{GiB + 1, "1073741825"},
		{4 * TiB, "4Ti"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			text, err := tt.in.MarshalText()
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(text))

			var back ByteSize
			require.NoError(t, back.UnmarshalText(text))
			assert.Equal(t, tt.in, back)
		})
	}
}

func TestByteSize_YAML(t *testing.T) {
	type limits struct {
		Max ByteSize `yaml:"max"`
	}

	out, err := yaml.Marshal(limits{Max: 512 * MiB})
	require.NoError(t, err)
	assert.Equal(t, "max: 512Mi\n", string(out))

	var in limits
	require.NoError(t, yaml.Unmarshal([]byte("max: 2Gi\n"), &in))
	assert.Equal(t, 2*GiB, in.Max)

	assert.Error(t, yaml.Unmarshal([]byte("max: lots\n"), &in))
}

func TestByteSize_String(t *testing.T) {
	assert.Equal(t, "512B", ByteSize(512).String())
	assert.Equal(t, "1.50KiB", ByteSize(1536).String())
	assert.Equal(t, "1.00GiB", GiB.String())
	assert.Equal(t, "2.00TiB", (2 * TiB).String())
}

func TestByteSize_JSONSchema(t *testing.T) {
	s := ByteSize(0).JSONSchema()
	require.Len(t, s.OneOf, 2)
	assert.Equal(t, "integer", s.OneOf[0].Type)
	assert.Equal(t, "string", s.OneOf[1].Type)
}

func TestByteSize_Conversions(t *testing.T) {
	assert.Equal(t, uint64(1024), KiB.Uint64())
	assert.Equal(t, int64(1024), KiB.Int64())
}
