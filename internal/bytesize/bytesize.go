// Package bytesize parses and formats human-readable sizes used by the
// recycle bin limits and in log output.
package bytesize

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/invopop/jsonschema"
)

// ByteSize is a size in bytes that can be decoded from strings like "1Gi",
// "500Mi", "100MB" or plain numbers.
//
// Supported suffixes (case-insensitive):
//   - Binary (×1024): Ki/KiB, Mi/MiB, Gi/GiB, Ti/TiB
//   - Decimal (×1000): K/KB, M/MB, G/GB, T/TB
//   - Bytes: B or none
type ByteSize uint64

const (
	B  ByteSize = 1
	KB ByteSize = 1000
	MB ByteSize = 1000 * KB
	GB ByteSize = 1000 * MB
	TB ByteSize = 1000 * GB

	KiB ByteSize = 1024
	MiB ByteSize = 1024 * KiB
	GiB ByteSize = 1024 * MiB
	TiB ByteSize = 1024 * GiB
)

// pattern matches a number followed by an optional unit suffix.
const pattern = `^\s*(\d+(?:\.\d+)?)\s*([a-zA-Z]*)\s*$`

var byteSizePattern = regexp.MustCompile(pattern)

var unitMultipliers = map[string]ByteSize{
	"":    B,
	"b":   B,
	"k":   KB,
	"kb":  KB,
	"m":   MB,
	"mb":  MB,
	"g":   GB,
	"gb":  GB,
	"t":   TB,
	"tb":  TB,
	"ki":  KiB,
	"kib": KiB,
	"mi":  MiB,
	"mib": MiB,
	"gi":  GiB,
	"gib": GiB,
	"ti":  TiB,
	"tib": TiB,
}

// binaryUnits is ordered largest first for MarshalText.
var binaryUnits = []struct {
	size   ByteSize
	suffix string
}{
	{TiB, "Ti"},
	{GiB, "Gi"},
	{MiB, "Mi"},
	{KiB, "Ki"},
}

// ParseByteSize parses a human-readable byte size string.
func ParseByteSize(s string) (ByteSize, error) {
	if strings.TrimSpace(s) == "" {
		return 0, fmt.Errorf("empty byte size string")
	}

	m := byteSizePattern.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("invalid byte size format: %q", s)
	}

	multiplier, ok := unitMultipliers[strings.ToLower(m[2])]
	if !ok {
		return 0, fmt.Errorf("unknown byte size unit: %q", m[2])
	}

	if strings.Contains(m[1], ".") {
		num, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			return 0, fmt.Errorf("invalid number in byte size: %q", m[1])
		}
		return ByteSize(num * float64(multiplier)), nil
	}

	num, err := strconv.ParseUint(m[1], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid number in byte size: %q", m[1])
	}
	return ByteSize(num) * multiplier, nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (b *ByteSize) UnmarshalText(text []byte) error {
	size, err := ParseByteSize(string(text))
	if err != nil {
		return err
	}
	*b = size
	return nil
}

// MarshalText implements encoding.TextMarshaler. It emits the largest
// binary unit dividing b exactly, so the value parses back unchanged.
func (b ByteSize) MarshalText() ([]byte, error) {
	for _, u := range binaryUnits {
		if b >= u.size && b%u.size == 0 {
			return []byte(strconv.FormatUint(uint64(b/u.size), 10) + u.suffix), nil
		}
	}
	return []byte(strconv.FormatUint(uint64(b), 10)), nil
}

// String returns a rounded human-readable representation for logs.
func (b ByteSize) String() string {
	switch {
	case b >= TiB:
		return fmt.Sprintf("%.2fTiB", float64(b)/float64(TiB))
	case b >= GiB:
		return fmt.Sprintf("%.2fGiB", float64(b)/float64(GiB))
	case b >= MiB:
		return fmt.Sprintf("%.2fMiB", float64(b)/float64(MiB))
	case b >= KiB:
		return fmt.Sprintf("%.2fKiB", float64(b)/float64(KiB))
	default:
		return fmt.Sprintf("%dB", b)
	}
}

// JSONSchema describes ByteSize as either a byte count or a sized string.
func (ByteSize) JSONSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		OneOf: []*jsonschema.Schema{
			{Type: "integer"},
			{Type: "string", Pattern: pattern},
		},
		Description: `size in bytes, e.g. 1073741824, "1Gi" or "500MB"`,
	}
}

// Uint64 returns the ByteSize as a uint64.
func (b ByteSize) Uint64() uint64 {
	return uint64(b)
}

// Int64 returns the ByteSize as an int64. Values above MaxInt64 overflow.
func (b ByteSize) Int64() int64 {
	return int64(b)
}
