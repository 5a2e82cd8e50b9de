package bloom

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/stategc/pkg/trie"
)

func randomHash(t testing.TB) trie.Hash {
	t.Helper()
	var h trie.Hash
	_, err := rand.Read(h[:])
	require.NoError(t, err)
	return h
}

func randomHashes(t testing.TB, n int) []trie.Hash {
	t.Helper()
	out := make([]trie.Hash, n)
	for i := range out {
		out[i] = randomHash(t)
	}
	return out
}

// ============================================================================
// Construction
// ============================================================================

func TestNew_RejectsNonPowerOfTwo(t *testing.T) {
	for _, size := range []uint64{0, 3, 4, 100, 1000, 4097} {
		t.Run(fmt.Sprintf("bits=%d", size), func(t *testing.T) {
			assert.Panics(t, func() { New(size, 4) })
		})
	}
}

func TestNew_SmallSizes(t *testing.T) {
	hashes := randomHashes(t, 4)
	for _, size := range []uint64{8, 16, 32, 64} {
		t.Run(fmt.Sprintf("bits=%d", size), func(t *testing.T) {
			f := New(size, 2)
			assert.Equal(t, size, f.Bits())
			assert.Len(t, f.Bytes(), int(size/8))

			for _, h := range hashes {
				f.Insert(h)
			}
			for _, h := range hashes {
				assert.True(t, f.Contains(h))
			}
			assert.LessOrEqual(t, f.SetBits(), size)

			restored, err := FromBytes(f.Bytes(), 2)
			require.NoError(t, err)
			assert.Equal(t, f.Bits(), restored.Bits())
			assert.Equal(t, f.Bytes(), restored.Bytes())
		})
	}
}

func TestNew_RejectsZeroK(t *testing.T) {
	assert.Panics(t, func() { New(1024, 0) })
}

func TestNew_Sizes(t *testing.T) {
	f := New(1<<12, 4)
	assert.Equal(t, uint64(4096), f.Bits())
	assert.Equal(t, uint8(4), f.K())
	assert.Len(t, f.Bytes(), 4096/8)
	assert.Zero(t, f.SetBits())
}

// ============================================================================
// Membership
// ============================================================================

func TestFilter_NoFalseNegatives(t *testing.T) {
	configs := []struct {
		bits uint64
		k    uint8
	}{
		{64, 1}, {64, 4}, {1024, 1}, {1024, 3}, {1 << 14, 4}, {1 << 14, 7}, {1 << 16, 2},
	}

	for _, cfg := range configs {
		t.Run(fmt.Sprintf("bits=%d/k=%d", cfg.bits, cfg.k), func(t *testing.T) {
			f := New(cfg.bits, cfg.k)
			inserted := randomHashes(t, 2000)
			for _, h := range inserted {
				f.Insert(h)
			}
			for _, h := range inserted {
				require.True(t, f.Contains(h), "inserted hash %s reported absent", h)
			}
		})
	}
}

func TestFilter_EmptyContainsNothing(t *testing.T) {
	f := New(1024, 4)
	for _, h := range randomHashes(t, 100) {
		assert.False(t, f.Contains(h))
	}
}

func TestFilter_IndexingUsesHashWords(t *testing.T) {
	f := New(64, 2)

	var h trie.Hash
	binary.BigEndian.PutUint64(h[0:8], 3)   // word 0 -> bit 3
	binary.BigEndian.PutUint64(h[8:16], 65) // word 1 -> bit 65 & 63 = 1
	f.Insert(h)

	b := f.Bytes()
	assert.Equal(t, byte(1<<3|1<<1), b[0])
	assert.Equal(t, uint64(2), f.SetBits())
}

func TestFilter_TestAndInsert(t *testing.T) {
	f := New(1<<16, 4)
	h := randomHash(t)

	assert.False(t, f.TestAndInsert(h))
	assert.True(t, f.TestAndInsert(h))
	assert.True(t, f.Contains(h))
}

// At bits ~= 4n and k = 4 the theoretical rate is (1-e^-1)^4 ~= 16%; at
// bits ~= 8n it is ~2.4%. Both must stay within an order of magnitude of
// the ~2% design target.
func TestFilter_FalsePositiveRate(t *testing.T) {
	tests := []struct {
		name    string
		n       int
		bits    uint64
		maxRate float64
	}{
		{name: "4 bits per element", n: 1024, bits: 4096, maxRate: 0.20},
		{name: "8 bits per element", n: 2048, bits: 1 << 14, maxRate: 0.05},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := New(tt.bits, 4)
			for _, h := range randomHashes(t, tt.n) {
				f.Insert(h)
			}

			const probes = 20000
			fp := 0
			for _, h := range randomHashes(t, probes) {
				if f.Contains(h) {
					fp++
				}
			}
			rate := float64(fp) / probes
			t.Logf("empirical false-positive rate %.4f (theoretical %.4f)",
				rate, EstimatedFPRate(tt.bits, 4, uint64(tt.n)))
			assert.Less(t, rate, tt.maxRate)
		})
	}
}

func TestFilter_ConcurrentInsert(t *testing.T) {
	f := New(1<<16, 4)
	hashes := randomHashes(t, 4000)

	done := make(chan struct{})
	for w := 0; w < 4; w++ {
		go func(part []trie.Hash) {
			defer func() { done <- struct{}{} }()
			for _, h := range part {
				f.Insert(h)
			}
		}(hashes[w*1000 : (w+1)*1000])
	}
	for w := 0; w < 4; w++ {
		<-done
	}

	for _, h := range hashes {
		require.True(t, f.Contains(h))
	}
}

// ============================================================================
// Serialization
// ============================================================================

func TestFilter_BytesRoundTrip(t *testing.T) {
	f := New(1<<12, 3)
	hashes := randomHashes(t, 300)
	for _, h := range hashes {
		f.Insert(h)
	}

	restored, err := FromBytes(f.Bytes(), 3)
	require.NoError(t, err)
	assert.Equal(t, f.Bits(), restored.Bits())
	assert.Equal(t, f.Bytes(), restored.Bytes())
	for _, h := range hashes {
		assert.True(t, restored.Contains(h))
	}
}

func TestFromBytes_Errors(t *testing.T) {
	_, err := FromBytes(make([]byte, 128), 0)
	assert.ErrorIs(t, err, ErrBadK)

	_, err = FromBytes(make([]byte, 100), 4)
	assert.ErrorIs(t, err, ErrBadSize)

	_, err = FromBytes(make([]byte, 3), 4)
	assert.ErrorIs(t, err, ErrBadSize)

	_, err = FromBytes(nil, 4)
	assert.ErrorIs(t, err, ErrBadSize)
}

func TestFilter_Reset(t *testing.T) {
	f := New(1024, 4)
	f.Insert(randomHash(t))
	require.NotZero(t, f.SetBits())

	f.Reset()
	assert.Zero(t, f.SetBits())
	assert.Zero(t, f.FillRatio())
}
