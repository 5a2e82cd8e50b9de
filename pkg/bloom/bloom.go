package bloom

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/bits"
	"sync/atomic"

	"github.com/marmos91/stategc/pkg/trie"
)

// MinBits is the smallest filter size accepted by New: one serialized byte.
const MinBits = 8

var (
	// ErrBadSize is returned by FromBytes when the byte length cannot hold a
	// power-of-two bit vector.
	ErrBadSize = errors.New("bloom: bit vector size is not a power of two")

	// ErrBadK is returned by FromBytes when k is zero.
	ErrBadK = errors.New("bloom: k must be at least 1")
)

// Filter is a fixed-size Bloom filter over trie hashes.
//
// Insert and Contains are safe for concurrent use: bits are set with atomic
// OR on 64-bit words, so parallel markers never lose an insert.
type Filter struct {
	words []uint64
	mask  uint64
	k     uint8
}

// New returns a zeroed filter of the given size. It panics if bits is not a
// power of two of at least MinBits, or if k is zero: both are programming
// errors and must never be silently rounded.
func New(nbits uint64, k uint8) *Filter {
	if !IsPowerOfTwo(nbits) || nbits < MinBits {
		panic(fmt.Sprintf("bloom: size %d is not a power of two >= %d", nbits, MinBits))
	}
	if k == 0 {
		panic("bloom: k must be at least 1")
	}
	return &Filter{
		words: make([]uint64, wordsFor(nbits)),
		mask:  nbits - 1,
		k:     k,
	}
}

// wordsFor returns the number of 64-bit words holding nbits. Filters below
// 64 bits use the low bits of a single word.
func wordsFor(nbits uint64) uint64 {
	return (nbits + 63) / 64
}

// FromBytes rebuilds a filter from the output of Bytes. k is not part of the
// serialized form and must be supplied again.
func FromBytes(b []byte, k uint8) (*Filter, error) {
	if k == 0 {
		return nil, ErrBadK
	}
	nbits := uint64(len(b)) * 8
	if !IsPowerOfTwo(nbits) || nbits < MinBits {
		return nil, fmt.Errorf("%w: %d bytes", ErrBadSize, len(b))
	}

	f := &Filter{
		words: make([]uint64, wordsFor(nbits)),
		mask:  nbits - 1,
		k:     k,
	}
	buf := make([]byte, len(f.words)*8)
	copy(buf, b)
	for i := range f.words {
		f.words[i] = binary.LittleEndian.Uint64(buf[i*8:])
	}
	return f, nil
}

// Bytes serializes the bit vector. Bit j is bit j%8 of byte j/8.
func (f *Filter) Bytes() []byte {
	out := make([]byte, len(f.words)*8)
	for i := range f.words {
		binary.LittleEndian.PutUint64(out[i*8:], atomic.LoadUint64(&f.words[i]))
	}
	return out[:f.Bits()/8]
}

// Bits returns the filter size in bits.
func (f *Filter) Bits() uint64 {
	return f.mask + 1
}

// K returns the number of hash functions.
func (f *Filter) K() uint8 {
	return f.k
}

// Insert adds h to the filter.
func (f *Filter) Insert(h trie.Hash) {
	for i := 0; i < int(f.k); i++ {
		f.setBit(h.Word(i%4) & f.mask)
	}
}

// Contains reports whether h may be in the filter. A false result is exact.
func (f *Filter) Contains(h trie.Hash) bool {
	for i := 0; i < int(f.k); i++ {
		if !f.testBit(h.Word(i%4) & f.mask) {
			return false
		}
	}
	return true
}

// TestAndInsert inserts h and reports whether every bit was already set,
// i.e. whether h was (possibly) present before the call.
func (f *Filter) TestAndInsert(h trie.Hash) bool {
	present := true
	for i := 0; i < int(f.k); i++ {
		if !f.setBit(h.Word(i%4) & f.mask) {
			present = false
		}
	}
	return present
}

// SetBits returns the number of bits currently set.
func (f *Filter) SetBits() uint64 {
	var n uint64
	for i := range f.words {
		n += uint64(bits.OnesCount64(atomic.LoadUint64(&f.words[i])))
	}
	return n
}

// FillRatio returns the fraction of bits set.
func (f *Filter) FillRatio() float64 {
	return float64(f.SetBits()) / float64(f.Bits())
}

// Reset clears every bit.
func (f *Filter) Reset() {
	for i := range f.words {
		atomic.StoreUint64(&f.words[i], 0)
	}
}

// setBit sets bit j and reports whether it was already set.
func (f *Filter) setBit(j uint64) bool {
	bit := uint64(1) << (j & 63)
	old := atomic.OrUint64(&f.words[j>>6], bit)
	return old&bit != 0
}

func (f *Filter) testBit(j uint64) bool {
	return atomic.LoadUint64(&f.words[j>>6])&(uint64(1)<<(j&63)) != 0
}
