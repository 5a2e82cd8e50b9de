// Package trie holds the node-level primitives the garbage collector needs
// from the state trie: the content hash, the node encoding and a way to list
// the children of an internal node.
//
// The trie's own insert, update and proof algorithms live elsewhere; the
// collector only ever walks nodes and deletes them.
package trie

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"strings"

	"golang.org/x/crypto/sha3"
)

// HashSize is the size of a node hash (Keccak-256 = 32 bytes).
const HashSize = 32

// ErrInvalidHash is returned when parsing a hash of the wrong length.
var ErrInvalidHash = errors.New("invalid hash")

// Hash identifies a node by the Keccak-256 digest of its serialized bytes.
// Identical subtrees across versions collapse to one Hash.
type Hash [HashSize]byte

// MaxHash is the largest possible hash. Used as an "everything" cutoff.
var MaxHash = Hash{
	0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff,
	0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff,
	0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff,
	0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff,
}

// HashBytes returns the Keccak-256 hash of data.
func HashBytes(data []byte) Hash {
	var h Hash
	d := sha3.NewLegacyKeccak256()
	d.Write(data)
	d.Sum(h[:0])
	return h
}

// BytesToHash copies b into a Hash. b must be exactly HashSize bytes.
func BytesToHash(b []byte) (Hash, error) {
	var h Hash
	if len(b) != HashSize {
		return h, ErrInvalidHash
	}
	copy(h[:], b)
	return h, nil
}

// ParseHash parses a hex-encoded hash, with or without a 0x prefix.
func ParseHash(s string) (Hash, error) {
	b, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return Hash{}, err
	}
	return BytesToHash(b)
}

// String returns the hex-encoded hash.
func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// Short returns the first 8 hex characters, for log lines.
func (h Hash) Short() string {
	return hex.EncodeToString(h[:4])
}

// IsZero returns true if the hash is all zeros.
func (h Hash) IsZero() bool {
	return h == Hash{}
}

// Bytes returns the hash as a byte slice.
func (h Hash) Bytes() []byte {
	return h[:]
}

// Word returns the i-th big-endian 64-bit word of the hash, i in [0, 4).
func (h Hash) Word(i int) uint64 {
	return binary.BigEndian.Uint64(h[i*8 : i*8+8])
}

// MarshalText implements encoding.TextMarshaler so hashes render as hex in
// JSON and YAML.
func (h Hash) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (h *Hash) UnmarshalText(text []byte) error {
	parsed, err := ParseHash(string(text))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}
