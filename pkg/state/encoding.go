package state

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/marmos91/stategc/pkg/trie"
)

// ============================================================================
// Key Encoding
// ============================================================================
//
// Column prefixes are added by store.Column.Key; the helpers here build the
// column-relative part.
//
//	stale          root(32) || node(32)
//	root-orders    order(8, BE) || root(32)
//	recycle-order  seq(8, BE)
//	meta           "gc/phase", "gc/bloom/%06d", "recycle/counters", "gc/boot"
//
// Integers are big-endian so byte order equals numeric order.

const staleKeySize = 2 * trie.HashSize

const (
	metaKeyPhase           = "gc/phase"
	metaKeyBloomChunk      = "gc/bloom/%06d"
	metaKeyRecycleCounters = "recycle/counters"
)

func encodeUint64(v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return b[:]
}

func decodeUint64(b []byte) (uint64, error) {
	if len(b) != 8 {
		return 0, fmt.Errorf("%w: want 8 bytes, got %d", ErrCorruptValue, len(b))
	}
	return binary.BigEndian.Uint64(b), nil
}

func encodeUnixTime(t time.Time) []byte {
	return encodeUint64(uint64(t.Unix()))
}

func decodeUnixTime(b []byte) (time.Time, error) {
	v, err := decodeUint64(b)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(int64(v), 0), nil
}

func staleKey(root, node trie.Hash) []byte {
	k := make([]byte, staleKeySize)
	copy(k, root[:])
	copy(k[trie.HashSize:], node[:])
	return k
}

func parseStaleKey(k []byte) (StaleIndex, error) {
	if len(k) != staleKeySize {
		return StaleIndex{}, fmt.Errorf("%w: stale key of %d bytes", ErrCorruptValue, len(k))
	}
	var idx StaleIndex
	copy(idx.Root[:], k[:trie.HashSize])
	copy(idx.Node[:], k[trie.HashSize:])
	return idx, nil
}

func rootOrderKey(order uint64, root trie.Hash) []byte {
	k := make([]byte, 8+trie.HashSize)
	binary.BigEndian.PutUint64(k, order)
	copy(k[8:], root[:])
	return k
}

func parseRootOrderKey(k []byte) (uint64, trie.Hash, error) {
	if len(k) != 8+trie.HashSize {
		return 0, trie.Hash{}, fmt.Errorf("%w: root order key of %d bytes", ErrCorruptValue, len(k))
	}
	var h trie.Hash
	copy(h[:], k[8:])
	return binary.BigEndian.Uint64(k), h, nil
}

func bloomChunkKey(n int) []byte {
	return []byte(fmt.Sprintf(metaKeyBloomChunk, n))
}

func hashKey(h trie.Hash) []byte {
	return h[:]
}
